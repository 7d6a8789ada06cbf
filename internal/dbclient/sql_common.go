package dbclient

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"modprogress/internal/etl"
)

// dialect captures the identifier quoting and placeholder style of a SQL engine.
type dialect struct {
	quote       func(string) string
	placeholder func(n int) string
}

var (
	ansiQuote = func(s string) string { return `"` + strings.ReplaceAll(s, `"`, `""`) + `"` }

	postgresDialect = dialect{
		quote:       ansiQuote,
		placeholder: func(n int) string { return fmt.Sprintf("$%d", n) },
	}
	mysqlDialect = dialect{
		quote:       func(s string) string { return "`" + strings.ReplaceAll(s, "`", "``") + "`" },
		placeholder: func(int) string { return "?" },
	}
	sqliteDialect = dialect{
		quote:       ansiQuote,
		placeholder: func(int) string { return "?" },
	}
)

// sqlConnector is the shared implementation for MySQL, Postgres, and SQLite.
type sqlConnector struct {
	driverName string
	db         *sql.DB
	dialect    dialect
}

// newSQLConnector creates a generic SQL connector.
func newSQLConnector(driverName, dsn string, d dialect) (*sqlConnector, error) {
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driverName, err)
	}
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(10 * time.Minute)

	return &sqlConnector{driverName: driverName, db: db, dialect: d}, nil
}

func (c *sqlConnector) TestConnection(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return c.db.PingContext(ctx)
}

// WriteTable stores every cell as TEXT inside a single transaction.
func (c *sqlConnector) WriteTable(ctx context.Context, name string, t *etl.Table, mode etl.SyncMode) (written int, err error) {
	if len(t.Columns) == 0 {
		return 0, nil
	}
	q := c.dialect.quote
	table := q(name)

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if mode == etl.SyncReplace {
		if _, err = tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+table); err != nil {
			return 0, fmt.Errorf("drop %s: %w", name, err)
		}
	}

	defs := make([]string, len(t.Columns))
	for i, col := range t.Columns {
		defs[i] = q(col) + " TEXT"
	}
	if _, err = tx.ExecContext(ctx, fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", table, strings.Join(defs, ", "))); err != nil {
		return 0, fmt.Errorf("create %s: %w", name, err)
	}

	if mode == etl.SyncAppend {
		if err = c.ensureColumns(ctx, tx, name, t.Columns); err != nil {
			return 0, err
		}
	}

	cols := make([]string, len(t.Columns))
	marks := make([]string, len(t.Columns))
	for i, col := range t.Columns {
		cols[i] = q(col)
		marks[i] = c.dialect.placeholder(i + 1)
	}
	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		table, strings.Join(cols, ", "), strings.Join(marks, ", ")))
	if err != nil {
		return 0, fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	args := make([]any, len(t.Columns))
	for i, row := range t.Rows {
		for j, col := range t.Columns {
			args[j] = sqlValue(row[col])
		}
		if _, err = stmt.ExecContext(ctx, args...); err != nil {
			return written, fmt.Errorf("insert row %d: %w", i, err)
		}
		written++
	}

	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return written, nil
}

// ensureColumns adds any of columns the existing table lacks.
func (c *sqlConnector) ensureColumns(ctx context.Context, tx *sql.Tx, name string, columns []string) error {
	rows, err := tx.QueryContext(ctx, "SELECT * FROM "+c.dialect.quote(name)+" WHERE 1=0")
	if err != nil {
		return fmt.Errorf("inspect %s: %w", name, err)
	}
	existing, err := rows.Columns()
	rows.Close()
	if err != nil {
		return fmt.Errorf("inspect %s: %w", name, err)
	}

	have := make(map[string]bool, len(existing))
	for _, col := range existing {
		have[col] = true
	}
	for _, col := range columns {
		if have[col] {
			continue
		}
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s TEXT",
			c.dialect.quote(name), c.dialect.quote(col))); err != nil {
			return fmt.Errorf("add column %s: %w", col, err)
		}
	}
	return nil
}

// sqlValue keeps NULLs and renders every other cell as text.
func sqlValue(v any) any {
	if v == nil {
		return nil
	}
	return etl.FormatValue(v)
}

func (c *sqlConnector) Close() error {
	return c.db.Close()
}
