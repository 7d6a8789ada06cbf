package dbclient

import (
	"context"
	"fmt"
	"path"
	"regexp"
	"sort"
	"strings"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"modprogress/internal/domain"
	"modprogress/internal/etl"
)

// Connector loads tables into an external database.
type Connector interface {
	// TestConnection verifies connectivity.
	TestConnection(ctx context.Context) error

	// WriteTable stores t under name. Replace mode discards existing rows;
	// append mode adds missing columns and keeps existing rows.
	WriteTable(ctx context.Context, name string, t *etl.Table, mode etl.SyncMode) (int, error)

	// Close closes the connection.
	Close() error
}

// NewConnector creates a Connector for the given warehouse connection.
// The password must be provided separately (from the secret store).
func NewConnector(conn *domain.DatabaseConnection, password string, logger *zap.Logger) (Connector, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch conn.Driver {
	case domain.DatabaseDriverSQLite:
		return newSQLiteConnector(conn)
	case domain.DatabaseDriverMySQL:
		return newSQLConnector("mysql", buildMySQLDSN(conn, password), mysqlDialect)
	case domain.DatabaseDriverPostgres:
		return newSQLConnector("postgres", buildPostgresDSN(conn, password), postgresDialect)
	case domain.DatabaseDriverMongoDB:
		return newMongoConnector(conn, password, logger)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", conn.Driver)
	}
}

// ── DSNs ───────────────────────────────────────────────────

// buildPostgresDSN builds a keyword/value connection string. Options are
// appended as extra keywords, e.g. connect_timeout or application_name.
func buildPostgresDSN(conn *domain.DatabaseConnection, password string) string {
	port := conn.Port
	if port == 0 {
		port = 5432
	}
	sslMode := conn.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		conn.Host, port, conn.Username, password, conn.Database, sslMode,
	)
	if opts := optionPairs(conn.Options); len(opts) > 0 {
		dsn += " " + strings.Join(opts, " ")
	}
	return dsn
}

// buildMySQLDSN builds user:password@tcp(host:port)/dbname?params.
// Options become query parameters after charset.
func buildMySQLDSN(conn *domain.DatabaseConnection, password string) string {
	port := conn.Port
	if port == 0 {
		port = 3306
	}
	params := []string{"charset=utf8mb4"}
	if conn.SSLMode == "require" {
		params = append(params, "tls=true")
	}
	params = append(params, optionPairs(conn.Options)...)
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?%s",
		conn.Username, password, conn.Host, port, conn.Database, strings.Join(params, "&"),
	)
}

// optionPairs renders options as key=value, sorted by key.
func optionPairs(opts map[string]string) []string {
	if len(opts) == 0 {
		return nil
	}
	keys := make([]string, 0, len(opts))
	for k := range opts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+opts[k])
	}
	return pairs
}

// ── Destination adapter ────────────────────────────────────

// TableDestination adapts a Connector to etl.Destination.
// The target's last path element names the table.
type TableDestination struct {
	Conn Connector
	Mode etl.SyncMode
}

func (d *TableDestination) Write(ctx context.Context, target string, t *etl.Table) (int, error) {
	mode := d.Mode
	if mode == "" {
		mode = etl.SyncReplace
	}
	return d.Conn.WriteTable(ctx, TableName(target), t, mode)
}

var unsafeIdent = regexp.MustCompile(`[^A-Za-z0-9_]+`)

// TableName turns a destination target into a table identifier:
// "Tableau/module_data" becomes "module_data".
func TableName(target string) string {
	base := strings.TrimSuffix(path.Base(target), ".csv")
	name := strings.Trim(unsafeIdent.ReplaceAllString(base, "_"), "_")
	if name == "" {
		return "export"
	}
	return name
}
