package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"modprogress/internal/domain"
	"modprogress/internal/etl"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"CANVAS_API_TOKEN", "CANVAS_BASE_URL", "MODPROGRESS_LOG_LEVEL", "MODPROGRESS_OUTPUT_DIR"} {
		t.Setenv(k, "")
	}
}

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "canvas", cfg.Source.Type)
	assert.Equal(t, 50, cfg.Canvas.PerPage)
	assert.Equal(t, "data", cfg.Output.Dir)
}

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoad_ParsesAndResolvesPaths(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "modprogress.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
canvas:
  base_url: https://school.instructure.com
  per_page: 100
entitlements:
  path: lists/entitlements.csv
  watch: true
output:
  dir: /abs/out
warehouse:
  enabled: true
  table: progress
  connection:
    driver: postgres
    host: db.internal
    port: 5433
    database: bi
    username: loader
schedule:
  cron: "0 6 * * *"
  timeout: 20m
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "https://school.instructure.com", cfg.Canvas.BaseURL)
	assert.Equal(t, 100, cfg.Canvas.PerPage)
	assert.Equal(t, "30s", cfg.Canvas.Timeout, "unset keys keep defaults")
	assert.Equal(t, filepath.Join(dir, "lists/entitlements.csv"), cfg.Entitlements.Path)
	assert.Equal(t, "/abs/out", cfg.Output.Dir)
	assert.Equal(t, filepath.Join(dir, "modprogress.db"), cfg.Storage.DatabasePath)
	assert.True(t, cfg.Entitlements.Watch)
	assert.Equal(t, domain.DatabaseDriverPostgres, cfg.Warehouse.Connection.Driver)
	assert.Equal(t, 5433, cfg.Warehouse.Connection.Port)
	assert.Equal(t, "progress", cfg.Warehouse.Table)
	assert.Equal(t, 20*time.Minute, cfg.ScheduleTimeout())
}

func TestLoad_ExpandPolicy(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "modprogress.yaml")
	require.NoError(t, os.WriteFile(path, []byte("output:\n  keep_empty: true\n  string_values: true\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.True(t, cfg.Output.KeepEmpty)
	assert.False(t, cfg.Output.Strict)
	assert.Len(t, cfg.Output.ExpandOptions(), 2)
	assert.Empty(t, DefaultConfig().Output.ExpandOptions())

	tbl := etl.NewTable("id", "items")
	tbl.Append(1, []any{})
	out, err := etl.ExplodeRows(tbl, "items", cfg.Output.ExpandOptions()...)
	require.NoError(t, err)
	assert.Equal(t, 1, out.Len())
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("canvas: [unclosed"), 0o644))
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config")
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("CANVAS_API_TOKEN", "tok")
	t.Setenv("CANVAS_BASE_URL", "https://env.example")
	t.Setenv("MODPROGRESS_LOG_LEVEL", "debug")
	t.Setenv("MODPROGRESS_OUTPUT_DIR", "/tmp/out")

	cfg := DefaultConfig()
	cfg.applyEnvOverrides()

	assert.Equal(t, "tok", cfg.Canvas.Token)
	assert.Equal(t, "https://env.example", cfg.Canvas.BaseURL)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "/tmp/out", cfg.Output.Dir)
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"json source needs dir", func(c *Config) { c.Source.Type = "json_file" }, "source.dir"},
		{"empty source", func(c *Config) { c.Source.Type = "" }, "source.type"},
		{"bad timeout", func(c *Config) { c.Canvas.Timeout = "soon" }, "canvas.timeout"},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
		{"no output", func(c *Config) { c.Output.Dir = "" }, "output.dir"},
		{"bad driver", func(c *Config) {
			c.Warehouse.Enabled = true
			c.Warehouse.Connection.Driver = "oracle"
		}, "unsupported warehouse driver"},
		{"bad mode", func(c *Config) {
			c.Warehouse.Enabled = true
			c.Warehouse.Connection.Driver = domain.DatabaseDriverSQLite
			c.Warehouse.Mode = "merge"
		}, "warehouse.mode"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.errMsg)
		})
	}
}

func TestSourceSettings(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Canvas.Token = "abc"
	s := cfg.SourceSettings()
	assert.Equal(t, "abc", s["token"])
	assert.Equal(t, 50, s["perPage"])

	cfg.Source = SourceConfig{Type: "json_file", Dir: "fixtures"}
	assert.Equal(t, "fixtures", cfg.SourceSettings()["dir"])
}

func TestSaveRoundTrip(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "conf", "modprogress.yaml")
	cfg := DefaultConfig()
	cfg.Schedule.Cron = "@hourly"
	require.NoError(t, cfg.Save(path))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "@hourly", got.Schedule.Cron)
}
