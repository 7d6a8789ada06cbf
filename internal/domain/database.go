package domain

// DatabaseDriver represents the type of warehouse engine.
type DatabaseDriver string

const (
	DatabaseDriverMySQL    DatabaseDriver = "mysql"
	DatabaseDriverPostgres DatabaseDriver = "postgres"
	DatabaseDriverMongoDB  DatabaseDriver = "mongodb"
	DatabaseDriverSQLite   DatabaseDriver = "sqlite"
)

// DatabaseConnection holds the metadata for connecting to a warehouse.
// The password is resolved separately through the secret store.
type DatabaseConnection struct {
	Driver   DatabaseDriver    `json:"driver" yaml:"driver"`
	Host     string            `json:"host" yaml:"host"`         // hostname, file path (sqlite) or mongodb URI
	Port     int               `json:"port" yaml:"port"`         // 0 selects the driver default
	Database string            `json:"database" yaml:"database"` // db name, empty for sqlite
	Username string            `json:"username" yaml:"username"`
	SSLMode  string            `json:"sslMode" yaml:"ssl_mode"`
	Options  map[string]string `json:"options,omitempty" yaml:"options"` // driver-specific URI parameters
}
