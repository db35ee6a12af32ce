// Package app wires the delivery engine from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/felixgeelhaar/proctor/internal/adaptive"
	"github.com/felixgeelhaar/proctor/internal/config"
	"github.com/felixgeelhaar/proctor/internal/domain"
	"github.com/felixgeelhaar/proctor/internal/guard"
	"github.com/felixgeelhaar/proctor/internal/navigation"
	"github.com/felixgeelhaar/proctor/internal/queue"
	"github.com/felixgeelhaar/proctor/internal/restoration"
	"github.com/felixgeelhaar/proctor/internal/session"
	"github.com/felixgeelhaar/proctor/internal/storage/local"
	"github.com/felixgeelhaar/proctor/internal/storage/postgres"
	"github.com/felixgeelhaar/proctor/internal/storage/sqlite"
	"github.com/felixgeelhaar/proctor/internal/testmap"
)

// BackupStore keeps state backups: written on every save, read back and
// deleted by restoration.
type BackupStore interface {
	session.BackupWriter
	restoration.BackupStore
	// Keys lists the storage keys backed up for a user.
	Keys(ctx context.Context, userID string) ([]string, error)
}

// App holds all application dependencies
type App struct {
	Config     *config.LocalConfig
	Maps       *testmap.DirProvider
	Executions session.ExecutionStore
	States     restoration.StateStore
	Backups    BackupStore
	Tasks      restoration.TaskQueue
	Service    *session.Service

	// Cleanup deletes the backup a cleanup task names.
	Cleanup queue.TaskHandler
	// Conn is the broker connection when the queue driver is rabbitmq.
	Conn *queue.Connection

	local   *queue.LocalQueue
	closers []func() error
	logger  *slog.Logger
}

// New creates an application with all dependencies wired. Close releases
// the stores and connections it opened.
func New(ctx context.Context, cfg *config.LocalConfig, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{
		Config: cfg,
		Maps:   testmap.NewDirProvider(cfg.TestsDir),
		logger: logger,
	}

	if err := a.openStorage(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.openQueue(); err != nil {
		a.Close()
		return nil, err
	}

	selector, err := a.selector()
	if err != nil {
		a.Close()
		return nil, err
	}

	nav := navigation.New(navigation.Options{
		Guard:    guard.New(cfg.Navigation),
		Selector: selector,
		Logger:   logger,
	})

	a.Cleanup = queue.NewCleanupHandler(a.Backups)
	a.Service = session.NewService(session.Options{
		Executions: a.Executions,
		States:     a.States,
		Backups:    a.Backups,
		Maps:       a.Maps,
		Navigator:  nav,
		Restorer:   restoration.NewService(a.Backups, a.States, a.Tasks, cfg.Restoration, logger),
		Logger:     logger,
	})

	logger.Info("proctor initialized",
		"storage", cfg.Storage.Driver,
		"backups", backupDriver(cfg),
		"queue", cfg.Queue.Driver,
		"adaptive", cfg.Adaptive.Algorithm,
		"tests_dir", cfg.TestsDir)
	return a, nil
}

// openStorage opens the execution, state and backup stores
func (a *App) openStorage(ctx context.Context) error {
	cfg := a.Config.Storage

	switch cfg.Driver {
	case config.DriverSQLite:
		path := sqlitePath(cfg.Path)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return fmt.Errorf("create data dir: %w", err)
		}
		db, err := sqlite.OpenMigrated(ctx, path)
		if err != nil {
			return fmt.Errorf("open sqlite: %w", err)
		}
		a.closers = append(a.closers, db.Close)
		a.Executions = sqlite.NewExecutionStore(db)
		a.States = sqlite.NewStateStore(db)
		a.Backups = sqlite.NewBackupStore(db)

	default:
		store, err := local.NewStore(cfg.Path)
		if err != nil {
			return fmt.Errorf("open local store: %w", err)
		}
		a.Executions = session.NewStore(store)
		a.States = local.NewStateStore(store)
		a.Backups = local.NewBackupStore(store)
	}

	if cfg.BackupDriver == config.DriverPostgres {
		pg, err := postgres.Connect(ctx, cfg.PostgresURL)
		if err != nil {
			return fmt.Errorf("connect backup database: %w", err)
		}
		a.closers = append(a.closers, func() error {
			pg.Close()
			return nil
		})
		a.Backups = pg
	}
	return nil
}

// openQueue selects where cleanup tasks go
func (a *App) openQueue() error {
	cfg := a.Config.Queue

	if cfg.Driver == config.DriverRabbitMQ {
		conn, err := queue.NewConnection(cfg.URL)
		if err != nil {
			return err
		}
		a.Conn = conn
		a.closers = append(a.closers, conn.Close)
		a.Tasks = queue.NewProducer(conn)
		return nil
	}

	a.local = queue.NewLocalQueue(cfg.Buffer)
	a.Tasks = a.local
	return nil
}

// selector builds the adaptive selector from the configured algorithm
func (a *App) selector() (*adaptive.Selector, error) {
	cfg := a.Config.Adaptive

	var algorithm adaptive.Algorithm
	switch cfg.Algorithm {
	case "difficulty":
		var cals map[string]adaptive.Calibration
		if cfg.Calibrations != "" {
			var err error
			if cals, err = adaptive.LoadCalibrations(cfg.Calibrations); err != nil {
				return nil, err
			}
		}
		algorithm = adaptive.DifficultyAlgorithm{
			Calibrations: cals,
			MaxItems:     cfg.MaxItems,
			// The service is wired after the navigator it feeds.
			Outcomes: adaptive.OutcomeFunc(func(ctx context.Context, executionID string) (map[string]float64, error) {
				return a.Service.Outcomes(ctx, executionID)
			}),
		}
	default:
		algorithm = adaptive.SequentialAlgorithm{MaxItems: cfg.MaxItems}
	}

	resilient := adaptive.NewResilientAlgorithm(algorithm, adaptive.ResilientConfig{
		MaxAttempts: cfg.MaxAttempts,
		OpenTimeout: cfg.OpenTimeout,
		IsPermanent: permanent,
		Logger:      a.logger,
	})
	return adaptive.NewSelector(resilient), nil
}

// permanent reports errors that retrying a selection cannot fix
func permanent(err error) bool {
	return errors.Is(err, domain.ErrNotFound) ||
		errors.Is(err, domain.ErrTestMapNotFound) ||
		errors.Is(err, session.ErrStateMissing)
}

// RunLocalCleanup processes cleanup tasks in-process until ctx is done. It
// returns immediately when a broker carries the tasks.
func (a *App) RunLocalCleanup(ctx context.Context) {
	if a.local == nil {
		return
	}
	a.local.Run(ctx, a.Cleanup)
}

// DrainLocalCleanup stops accepting in-process cleanup tasks and runs the
// buffered ones. Later restorations still succeed; their tasks are dropped.
func (a *App) DrainLocalCleanup(ctx context.Context) {
	if a.local == nil {
		return
	}
	a.local.Close()
	a.local.Run(ctx, a.Cleanup)
}

// Close cleans up application resources
func (a *App) Close() error {
	if a.local != nil {
		a.local.Close()
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// sqlitePath resolves the database file; a directory gets proctor.db
func sqlitePath(path string) string {
	if filepath.Ext(path) == "" {
		return filepath.Join(path, "proctor.db")
	}
	return path
}

func backupDriver(cfg *config.LocalConfig) string {
	if cfg.Storage.BackupDriver != "" {
		return cfg.Storage.BackupDriver
	}
	return cfg.Storage.Driver
}
