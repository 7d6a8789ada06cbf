package dbclient_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"

	"modprogress/internal/dbclient"
	"modprogress/internal/domain"
	"modprogress/internal/etl"
)

func openWarehouse(t *testing.T) (dbclient.Connector, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "warehouse.db")
	conn, err := dbclient.NewConnector(&domain.DatabaseConnection{Driver: domain.DatabaseDriverSQLite, Host: path}, "", nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, conn.TestConnection(context.Background()))
	return conn, path
}

func countRows(t *testing.T, path, table string) int {
	t.Helper()
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()
	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM "`+table+`"`).Scan(&n))
	return n
}

func TestSQLite_WriteTableReplaceAndAppend(t *testing.T) {
	conn, path := openWarehouse(t)
	ctx := context.Background()

	tbl := etl.NewTable("Course Id", "completed_at")
	tbl.Append("101", "2020-08-02 12:00:00")
	tbl.Append("101", nil)

	n, err := conn.WriteTable(ctx, "module_data", tbl, etl.SyncReplace)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = conn.WriteTable(ctx, "module_data", tbl, etl.SyncReplace)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, countRows(t, path, "module_data"), "replace discards earlier rows")

	wider := etl.NewTable("Course Id", "extra")
	wider.Append("102", "x")
	_, err = conn.WriteTable(ctx, "module_data", wider, etl.SyncAppend)
	require.NoError(t, err)
	assert.Equal(t, 3, countRows(t, path, "module_data"))
}

func TestSQLite_NullsStayNull(t *testing.T) {
	conn, path := openWarehouse(t)
	tbl := etl.NewTable("a")
	tbl.Append(nil)
	_, err := conn.WriteTable(context.Background(), "t", tbl, etl.SyncReplace)
	require.NoError(t, err)

	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()
	var v sql.NullString
	require.NoError(t, db.QueryRow(`SELECT a FROM t`).Scan(&v))
	assert.False(t, v.Valid)
}

func TestTableDestination_UsesTargetBaseName(t *testing.T) {
	conn, path := openWarehouse(t)
	dest := &dbclient.TableDestination{Conn: conn}

	tbl := etl.NewTable("x")
	tbl.Append(1)
	_, err := dest.Write(context.Background(), "Tableau/module_data", tbl)
	require.NoError(t, err)
	assert.Equal(t, 1, countRows(t, path, "module_data"))
}

func TestTableName(t *testing.T) {
	assert.Equal(t, "module_data", dbclient.TableName("Tableau/module_data"))
	assert.Equal(t, "course_entitlements", dbclient.TableName("Tableau/course_entitlements.csv"))
	assert.Equal(t, "2020_08_02_12_00_00", dbclient.TableName("status_log/2020-08-02--12-00-00"))
	assert.Equal(t, "export", dbclient.TableName("--"))
}

func TestNewConnector_UnsupportedDriver(t *testing.T) {
	_, err := dbclient.NewConnector(&domain.DatabaseConnection{Driver: "oracle"}, "", nil)
	assert.Error(t, err)

	_, err = dbclient.NewConnector(&domain.DatabaseConnection{Driver: domain.DatabaseDriverSQLite}, "", nil)
	assert.Error(t, err, "sqlite needs a path")
}

func TestTableDocuments_KeepColumnOrderAndTypes(t *testing.T) {
	tbl := etl.NewTable("id", "req", "tags")
	tbl.Append(
		json.Number("12"),
		etl.RecordOf("type", "must_view", "score", json.Number("1.5")),
		[]any{"a"},
	)

	docs := dbclient.TableDocuments(tbl)
	require.Len(t, docs, 1)
	doc := docs[0].(bson.D)
	assert.Equal(t, "id", doc[0].Key)
	assert.Equal(t, int64(12), doc[0].Value)
	assert.Equal(t, bson.D{{Key: "type", Value: "must_view"}, {Key: "score", Value: 1.5}}, doc[1].Value)
	assert.Equal(t, bson.A{"a"}, doc[2].Value)
}
