package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"modprogress/internal/config"
	"modprogress/internal/dbclient"
	"modprogress/internal/etl"
	"modprogress/internal/etl/sources"
	"modprogress/internal/progress"
	"modprogress/internal/secret"
	"modprogress/internal/service"
	"modprogress/internal/storage"
)

// ErrMissingToken is returned when no Canvas token can be resolved.
var ErrMissingToken = errors.New("no Canvas access token: set canvas.token, CANVAS_API_TOKEN or run `modprogress token set`")

// App wires storage, the LMS source, destinations and the export service
// from a loaded configuration.
type App struct {
	cfg     *config.Config
	logger  *zap.Logger
	secrets secret.SecretStore

	db      *storage.DB
	runs    *storage.RunStore
	exports *service.ExportService

	// engine is built on first use so read-only commands need no credentials.
	mu        sync.Mutex
	engine    *progress.Engine
	warehouse dbclient.Connector
}

// New opens the run history database and builds the export service.
func New(cfg *config.Config, logger *zap.Logger, secrets secret.SecretStore) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if secrets == nil {
		secrets = secret.Chain{secret.NewEnvStore(), secret.NewKeychainStore()}
	}

	db, err := storage.New(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("open run history: %w", err)
	}

	a := &App{
		cfg:     cfg,
		logger:  logger,
		secrets: secrets,
		db:      db,
		runs:    storage.NewRunStore(db),
	}

	watch := ""
	if cfg.Entitlements.Watch {
		watch = cfg.Entitlements.Path
	}
	a.exports = service.NewExportService(
		a.runs,
		runnerFunc(a.run),
		a.courseIDs,
		service.LogEmitter{Logger: logger.Named("events")},
		logger.Named("export"),
		service.ExportConfig{
			Source:    cfg.Source.Type,
			Cron:      cfg.Schedule.Cron,
			WatchPath: watch,
			Timeout:   cfg.ScheduleTimeout(),
		},
	)
	return a, nil
}

// Exports returns the export service.
func (a *App) Exports() *service.ExportService { return a.exports }

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Close releases the warehouse connection and the history database.
func (a *App) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	var errs []error
	if a.warehouse != nil {
		errs = append(errs, a.warehouse.Close())
		a.warehouse = nil
	}
	if a.db != nil {
		errs = append(errs, a.db.Close())
		a.db = nil
	}
	return errors.Join(errs...)
}

// ── Engine wiring ──────────────────────────────────────────

type runnerFunc func(ctx context.Context, runID string, courseIDs []string) (*progress.RunResult, error)

func (f runnerFunc) Run(ctx context.Context, runID string, courseIDs []string) (*progress.RunResult, error) {
	return f(ctx, runID, courseIDs)
}

func (a *App) run(ctx context.Context, runID string, courseIDs []string) (*progress.RunResult, error) {
	engine, err := a.Engine(ctx)
	if err != nil {
		return nil, err
	}
	return engine.Run(ctx, runID, courseIDs)
}

func (a *App) courseIDs(context.Context) ([]string, error) {
	return sources.ReadCourseIDs(a.cfg.Entitlements.Path)
}

// Engine connects the source and the optional warehouse. A successful
// build is cached; a failed one is retried on the next call.
func (a *App) Engine(ctx context.Context) (*progress.Engine, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.engine != nil {
		return a.engine, nil
	}

	client, err := a.connectSource(ctx)
	if err != nil {
		return nil, err
	}

	engine := &progress.Engine{
		Client: client,
		Dest:   &etl.CSVWriter{Root: a.cfg.Output.Dir},
		Logger: a.logger.Named("engine"),
		Options: progress.Options{
			EntitlementsPath: a.cfg.Entitlements.Path,
			WarehouseTable:   a.cfg.Warehouse.Table,
			Expand:           a.cfg.Output.ExpandOptions(),
		},
	}
	if a.cfg.Output.Clear {
		engine.Options.ClearDir = a.cfg.Output.Dir
	}

	if a.cfg.Warehouse.Enabled {
		conn, err := a.connectWarehouse(ctx)
		if err != nil {
			return nil, err
		}
		a.warehouse = conn
		engine.Warehouse = &dbclient.TableDestination{Conn: conn, Mode: etl.SyncMode(a.cfg.Warehouse.Mode)}
	}

	a.engine = engine
	return engine, nil
}

func (a *App) connectSource(ctx context.Context) (etl.Client, error) {
	src, err := etl.GetSource(a.cfg.Source.Type)
	if err != nil {
		return nil, err
	}
	settings := a.cfg.SourceSettings()
	if a.cfg.Source.Type == "canvas" {
		token, err := a.resolveSecret(a.cfg.Canvas.Token, secret.KeyCanvasToken)
		if err != nil {
			return nil, err
		}
		if token == "" {
			return nil, ErrMissingToken
		}
		settings["token"] = token
	}
	client, err := src.Connect(ctx, settings)
	if err != nil {
		return nil, fmt.Errorf("connect %s source: %w", a.cfg.Source.Type, err)
	}
	return client, nil
}

func (a *App) connectWarehouse(ctx context.Context) (dbclient.Connector, error) {
	wc := a.cfg.Warehouse
	password, err := a.resolveSecret(wc.Password, secret.KeyWarehousePassword)
	if err != nil {
		return nil, err
	}
	conn, err := dbclient.NewConnector(&wc.Connection, password, a.logger.Named("warehouse"))
	if err != nil {
		return nil, fmt.Errorf("open warehouse: %w", err)
	}
	if err := conn.TestConnection(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("warehouse unreachable: %w", err)
	}
	return conn, nil
}

// resolveSecret prefers an explicit config value over the secret store.
func (a *App) resolveSecret(configured, key string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	v, err := a.secrets.Get(key)
	if err != nil {
		return "", fmt.Errorf("read secret %s: %w", key, err)
	}
	return string(v), nil
}
