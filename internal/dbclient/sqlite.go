package dbclient

import (
	"fmt"

	"modprogress/internal/domain"

	_ "modernc.org/sqlite"
)

// newSQLiteConnector creates a connector for a SQLite warehouse file.
// Opens in WAL mode with busy timeout for concurrent access.
func newSQLiteConnector(conn *domain.DatabaseConnection) (*sqlConnector, error) {
	if conn.Host == "" {
		return nil, fmt.Errorf("sqlite warehouse needs a file path in host")
	}
	dsn := conn.Host + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	return newSQLConnector("sqlite", dsn, sqliteDialect)
}
