package dbclient

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.uber.org/zap"

	"modprogress/internal/domain"
	"modprogress/internal/etl"
)

const mongoBatchSize = 1000

// mongoConnector implements Connector for MongoDB; each table is a collection.
type mongoConnector struct {
	client *mongo.Client
	dbName string
}

func newMongoConnector(conn *domain.DatabaseConnection, password string, logger *zap.Logger) (*mongoConnector, error) {
	uri := buildMongoURI(conn, password)
	dbName := conn.Database
	if dbName == "" {
		dbName = mongoDatabaseFromURI(uri)
	}

	logURI := uri
	if password != "" {
		logURI = strings.ReplaceAll(logURI, password, "***")
	}
	logger.Debug("connecting to mongodb", zap.String("uri", logURI), zap.String("database", dbName))

	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	return &mongoConnector{client: client, dbName: dbName}, nil
}

// buildMongoURI uses Host verbatim when it is already a connection string,
// otherwise builds one from host, port and credentials.
func buildMongoURI(conn *domain.DatabaseConnection, password string) string {
	if strings.HasPrefix(conn.Host, "mongodb+srv://") || strings.HasPrefix(conn.Host, "mongodb://") {
		uri := conn.Host
		if password != "" {
			uri = strings.ReplaceAll(uri, "<password>", password)
			uri = strings.ReplaceAll(uri, "<db_password>", password)
		}
		return uri
	}

	port := conn.Port
	if port == 0 {
		port = 27017
	}
	var uri string
	if conn.Username != "" {
		uri = fmt.Sprintf("mongodb://%s:%s@%s:%d", conn.Username, password, conn.Host, port)
	} else {
		uri = fmt.Sprintf("mongodb://%s:%d", conn.Host, port)
	}
	if params := optionPairs(conn.Options); len(params) > 0 {
		uri += "/?" + strings.Join(params, "&")
	}
	return uri
}

// mongoDatabaseFromURI extracts the path database of a URI, defaulting to "modprogress".
func mongoDatabaseFromURI(uri string) string {
	rest := uri
	for _, prefix := range []string{"mongodb+srv://", "mongodb://"} {
		rest = strings.TrimPrefix(rest, prefix)
	}
	if at := strings.LastIndex(rest, "@"); at != -1 {
		rest = rest[at+1:]
	}
	if slash := strings.Index(rest, "/"); slash != -1 {
		p := rest[slash+1:]
		if q := strings.Index(p, "?"); q != -1 {
			p = p[:q]
		}
		if p != "" {
			return p
		}
	}
	return "modprogress"
}

func (c *mongoConnector) TestConnection(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return c.client.Ping(ctx, nil)
}

// WriteTable inserts one document per row, fields in column order.
func (c *mongoConnector) WriteTable(ctx context.Context, name string, t *etl.Table, mode etl.SyncMode) (int, error) {
	coll := c.client.Database(c.dbName).Collection(name)
	if mode == etl.SyncReplace {
		if err := coll.Drop(ctx); err != nil {
			return 0, fmt.Errorf("drop %s: %w", name, err)
		}
	}

	docs := TableDocuments(t)
	written := 0
	for start := 0; start < len(docs); start += mongoBatchSize {
		end := min(start+mongoBatchSize, len(docs))
		res, err := coll.InsertMany(ctx, docs[start:end])
		if err != nil {
			return written, fmt.Errorf("insert into %s: %w", name, err)
		}
		written += len(res.InsertedIDs)
	}
	return written, nil
}

func (c *mongoConnector) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return c.client.Disconnect(ctx)
}

// TableDocuments converts rows into ordered BSON documents.
func TableDocuments(t *etl.Table) []any {
	docs := make([]any, 0, len(t.Rows))
	for _, row := range t.Rows {
		doc := make(bson.D, 0, len(t.Columns))
		for _, col := range t.Columns {
			doc = append(doc, bson.E{Key: col, Value: bsonValue(row[col])})
		}
		docs = append(docs, doc)
	}
	return docs
}

// bsonValue maps cell values onto types the BSON encoder understands.
func bsonValue(v any) any {
	switch x := v.(type) {
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i
		}
		if f, err := x.Float64(); err == nil {
			return f
		}
		return x.String()
	case etl.Record:
		doc := make(bson.D, 0, x.Len())
		for _, k := range x.Keys() {
			doc = append(doc, bson.E{Key: k, Value: bsonValue(x.Get(k))})
		}
		return doc
	case []any:
		arr := make(bson.A, len(x))
		for i, e := range x {
			arr[i] = bsonValue(e)
		}
		return arr
	default:
		return v
	}
}
