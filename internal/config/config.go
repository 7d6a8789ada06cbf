package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"modprogress/internal/domain"
	"modprogress/internal/etl"
)

// DefaultConfigPath is used when --config is not given.
const DefaultConfigPath = "modprogress.yaml"

// Config holds all modprogress configuration.
type Config struct {
	Canvas       CanvasConfig       `yaml:"canvas"`
	Source       SourceConfig       `yaml:"source"`
	Entitlements EntitlementsConfig `yaml:"entitlements"`
	Output       OutputConfig       `yaml:"output"`
	Storage      StorageConfig      `yaml:"storage"`
	Warehouse    WarehouseConfig    `yaml:"warehouse"`
	Schedule     ScheduleConfig     `yaml:"schedule"`
	Logging      LoggingConfig      `yaml:"logging"`
}

// CanvasConfig configures the Canvas REST source.
type CanvasConfig struct {
	BaseURL string `yaml:"base_url"`
	// Token is usually left empty; see CANVAS_API_TOKEN and `modprogress token set`.
	Token   string `yaml:"token"`
	PerPage int    `yaml:"per_page"`
	Timeout string `yaml:"timeout"`
}

// SourceConfig selects the LMS source.
type SourceConfig struct {
	Type string `yaml:"type"` // canvas, json_file
	Dir  string `yaml:"dir"`  // fixture root for json_file
}

// EntitlementsConfig points at the course list.
type EntitlementsConfig struct {
	Path  string `yaml:"path"`
	Watch bool   `yaml:"watch"` // re-export when the file changes (serve)
}

// OutputConfig configures the CSV export tree.
type OutputConfig struct {
	Dir   string `yaml:"dir"`
	Clear bool   `yaml:"clear"` // empty Dir before each run, keeping Tableau/

	// Expansion policy for item lists and requirement objects.
	KeepEmpty    bool `yaml:"keep_empty"`    // keep modules without items as a null row
	Strict       bool `yaml:"strict"`        // fail a course on unparseable cells
	StringValues bool `yaml:"string_values"` // write expanded values as text
}

// ExpandOptions converts the expansion policy into etl options.
func (o OutputConfig) ExpandOptions() []etl.ExpandOption {
	var opts []etl.ExpandOption
	if o.KeepEmpty {
		opts = append(opts, etl.KeepEmpty())
	}
	if o.Strict {
		opts = append(opts, etl.Strict())
	}
	if o.StringValues {
		opts = append(opts, etl.StringValues())
	}
	return opts
}

// StorageConfig configures the run history database.
type StorageConfig struct {
	DatabasePath string `yaml:"database_path"`
}

// WarehouseConfig optionally loads module_data into a database.
type WarehouseConfig struct {
	Enabled    bool                      `yaml:"enabled"`
	Connection domain.DatabaseConnection `yaml:"connection"`
	// Password is usually resolved through the secret store.
	Password string `yaml:"password"`
	Table    string `yaml:"table"`
	Mode     string `yaml:"mode"` // replace, append
}

// ScheduleConfig configures `serve`.
type ScheduleConfig struct {
	Cron    string `yaml:"cron"`
	Timeout string `yaml:"timeout"` // per-run limit, empty for none
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // console, json
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Canvas: CanvasConfig{
			BaseURL: "https://canvas.instructure.com",
			PerPage: 50,
			Timeout: "30s",
		},
		Source: SourceConfig{
			Type: "canvas",
		},
		Entitlements: EntitlementsConfig{
			Path: "course_entitlements.csv",
		},
		Output: OutputConfig{
			Dir:   "data",
			Clear: true,
		},
		Storage: StorageConfig{
			DatabasePath: "modprogress.db",
		},
		Warehouse: WarehouseConfig{
			Table: "module_data",
			Mode:  string(etl.SyncReplace),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load loads configuration from a YAML file. A missing file yields the
// defaults; environment overrides apply either way.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
		cfg.resolvePaths(filepath.Dir(path))
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// resolvePaths makes relative file paths relative to the config file.
func (c *Config) resolvePaths(base string) {
	if base == "" || base == "." {
		return
	}
	for _, p := range []*string{&c.Entitlements.Path, &c.Output.Dir, &c.Storage.DatabasePath, &c.Source.Dir} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(base, *p)
		}
	}
}

func (c *Config) applyEnvOverrides() {
	if tok := os.Getenv("CANVAS_API_TOKEN"); tok != "" {
		c.Canvas.Token = tok
	}
	if url := os.Getenv("CANVAS_BASE_URL"); url != "" {
		c.Canvas.BaseURL = url
	}
	if lvl := os.Getenv("MODPROGRESS_LOG_LEVEL"); lvl != "" {
		c.Logging.Level = lvl
	}
	if dir := os.Getenv("MODPROGRESS_OUTPUT_DIR"); dir != "" {
		c.Output.Dir = dir
	}
}

// ValidLevels lists the accepted log levels.
var ValidLevels = []string{"debug", "info", "warn", "error"}

// Validate checks the configuration. The Canvas token is not required here
// because it may come from the secret store.
func (c *Config) Validate() error {
	switch c.Source.Type {
	case "canvas":
		if c.Canvas.BaseURL == "" {
			return fmt.Errorf("canvas.base_url is required")
		}
		if c.Canvas.PerPage < 0 {
			return fmt.Errorf("canvas.per_page must be positive, got %d", c.Canvas.PerPage)
		}
	case "json_file":
		if c.Source.Dir == "" {
			return fmt.Errorf("source.dir is required for the json_file source")
		}
	case "":
		return fmt.Errorf("source.type is required")
	}
	if c.Output.Dir == "" {
		return fmt.Errorf("output.dir is required")
	}
	if c.Storage.DatabasePath == "" {
		return fmt.Errorf("storage.database_path is required")
	}
	for _, d := range []struct{ name, value string }{
		{"canvas.timeout", c.Canvas.Timeout},
		{"schedule.timeout", c.Schedule.Timeout},
	} {
		if d.value == "" {
			continue
		}
		if _, err := time.ParseDuration(d.value); err != nil {
			return fmt.Errorf("invalid %s %q: %w", d.name, d.value, err)
		}
	}
	if c.Warehouse.Enabled {
		switch c.Warehouse.Connection.Driver {
		case domain.DatabaseDriverPostgres, domain.DatabaseDriverMySQL,
			domain.DatabaseDriverSQLite, domain.DatabaseDriverMongoDB:
		default:
			return fmt.Errorf("unsupported warehouse driver %q", c.Warehouse.Connection.Driver)
		}
		switch etl.SyncMode(c.Warehouse.Mode) {
		case etl.SyncReplace, etl.SyncAppend, "":
		default:
			return fmt.Errorf("invalid warehouse.mode %q (valid: replace, append)", c.Warehouse.Mode)
		}
	}
	level := strings.ToLower(c.Logging.Level)
	valid := level == ""
	for _, l := range ValidLevels {
		if level == l {
			valid = true
			break
		}
	}
	if !valid {
		return fmt.Errorf("invalid logging.level: %s (valid: %v)", c.Logging.Level, ValidLevels)
	}
	return nil
}

// ScheduleTimeout returns the per-run limit, zero when unset.
func (c *Config) ScheduleTimeout() time.Duration {
	d, _ := time.ParseDuration(c.Schedule.Timeout)
	return d
}

// SourceSettings renders the source section as the registry's config map.
func (c *Config) SourceSettings() etl.SourceConfig {
	switch c.Source.Type {
	case "json_file":
		return etl.SourceConfig{"dir": c.Source.Dir}
	default:
		return etl.SourceConfig{
			"baseUrl": c.Canvas.BaseURL,
			"token":   c.Canvas.Token,
			"perPage": c.Canvas.PerPage,
			"timeout": c.Canvas.Timeout,
		}
	}
}
