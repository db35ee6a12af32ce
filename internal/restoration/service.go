package restoration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/felixgeelhaar/fortify/retry"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/felixgeelhaar/proctor/internal/domain"
)

// Config holds restoration settings.
type Config struct {
	// Concurrency bounds the parallel sub-restores (default: 4).
	Concurrency int `yaml:"concurrency"`
	// MaxAttempts per backup read (default: 3).
	MaxAttempts int `yaml:"max_attempts"`
	// InitialDelay before the first read retry (default: 100ms).
	InitialDelay time.Duration `yaml:"initial_delay"`
}

// DefaultConfig returns the default restoration settings.
func DefaultConfig() Config {
	return Config{
		Concurrency:  4,
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
	}
}

// Report lists what a restoration did, by storage key.
type Report struct {
	ExecutionID     string   `json:"execution_id"`
	AlreadyRestored bool     `json:"already_restored,omitempty"`
	Restored        []string `json:"restored,omitempty"`
	Missing         []string `json:"missing,omitempty"`
	Failed          []string `json:"failed,omitempty"`
}

type ledgerEntry struct {
	RestoredAt time.Time `json:"restored_at"`
}

// Service is the session state restoration service.
type Service struct {
	backups BackupStore
	states  StateStore
	tasks   TaskQueue
	retrier retry.Retry[[]byte]
	cfg     Config
	now     func() time.Time
	logger  *slog.Logger
}

// NewService creates a restoration service.
func NewService(backups BackupStore, states StateStore, tasks TaskQueue, cfg Config, logger *slog.Logger) *Service {
	def := DefaultConfig()
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = def.InitialDelay
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Service{
		backups: backups,
		states:  states,
		tasks:   tasks,
		cfg:     cfg,
		now:     time.Now,
		logger:  logger,
		retrier: retry.New[[]byte](retry.Config{
			MaxAttempts:   cfg.MaxAttempts,
			InitialDelay:  cfg.InitialDelay,
			MaxDelay:      2 * time.Second,
			Multiplier:    2.0,
			BackoffPolicy: retry.BackoffExponential,
			Jitter:        true,
			IsRetryable: func(err error) bool {
				return !errors.Is(err, domain.ErrBackupNotFound) &&
					!errors.Is(err, context.Canceled) &&
					!errors.Is(err, context.DeadlineExceeded)
			},
		}),
	}
}

type target struct {
	key   string
	label string
}

// Restore rebuilds the execution's state from its backups. Without a core
// session backup the restoration is impossible, unless the backup is absent
// because a previous run already completed it, in which case Restore does
// nothing. An unreadable core backup is always fatal. Every other
// backup is optional: a missing or unreadable one is logged and the state
// starts fresh. A cleanup task is enqueued for each backup once it has been
// restored.
func (s *Service) Restore(ctx context.Context, exec DeliveryExecution, m *domain.TestMap) (Report, error) {
	report := Report{ExecutionID: exec.ID}
	log := s.logger.With("execution_id", exec.ID, "user_id", exec.UserID)

	core := CoreKey(exec.ID)
	blob, err := s.read(ctx, exec.UserID, core)
	if err != nil {
		if errors.Is(err, domain.ErrBackupNotFound) && s.alreadyRestored(ctx, exec) {
			log.Info("execution already restored, nothing to do")
			report.AlreadyRestored = true
			return report, nil
		}
		log.Error("core session backup unavailable", "error", err)
		return report, fmt.Errorf("%w: execution %s: %w", domain.ErrRestorationImpossible, exec.ID, err)
	}
	if err := s.states.Put(ctx, exec.UserID, core, blob); err != nil {
		log.Error("failed to write core session state", "error", err)
		return report, fmt.Errorf("%w: execution %s: %w", domain.ErrRestorationImpossible, exec.ID, err)
	}
	if err := s.markRestored(ctx, exec); err != nil {
		log.Warn("failed to record restoration", "error", err)
	}
	s.cleanup(ctx, log, exec, target{key: core, label: LabelTestSession})
	report.Restored = append(report.Restored, core)

	targets := []target{
		{key: ExtendedKey(exec.ID), label: LabelExtended},
		{key: TimelineKey(exec.ID), label: LabelTimeline},
	}
	if m != nil {
		_ = m.Walk(func(loc domain.Location) error {
			targets = append(targets, target{key: ItemKey(exec.ID, loc.Item.ID), label: LabelTestItem})
			return nil
		})
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for _, t := range targets {
		g.Go(func() error {
			outcome := s.restoreOne(gctx, log, exec, t)
			mu.Lock()
			defer mu.Unlock()
			switch outcome {
			case outcomeRestored:
				report.Restored = append(report.Restored, t.key)
			case outcomeMissing:
				report.Missing = append(report.Missing, t.key)
			default:
				report.Failed = append(report.Failed, t.key)
			}
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return report, err
	}

	log.Info("execution restored",
		"restored", len(report.Restored),
		"missing", len(report.Missing),
		"failed", len(report.Failed))
	return report, nil
}

type outcome int

const (
	outcomeRestored outcome = iota
	outcomeMissing
	outcomeFailed
)

func (s *Service) restoreOne(ctx context.Context, log *slog.Logger, exec DeliveryExecution, t target) outcome {
	blob, err := s.read(ctx, exec.UserID, t.key)
	if err != nil {
		if errors.Is(err, domain.ErrBackupNotFound) {
			log.Debug("no backup to restore", "storage_key", t.key, "state_label", t.label)
			return outcomeMissing
		}
		log.Warn("failed to read backup, state starts fresh",
			"storage_key", t.key,
			"state_label", t.label,
			"error", err)
		return outcomeFailed
	}

	if err := s.states.Put(ctx, exec.UserID, t.key, blob); err != nil {
		log.Warn("failed to write restored state",
			"storage_key", t.key,
			"state_label", t.label,
			"error", err)
		return outcomeFailed
	}

	s.cleanup(ctx, log, exec, t)
	return outcomeRestored
}

func (s *Service) read(ctx context.Context, userID, key string) ([]byte, error) {
	return s.retrier.Do(ctx, func(ctx context.Context) ([]byte, error) {
		return s.backups.Restore(ctx, userID, key)
	})
}

// cleanup enqueues the deletion of a restored backup. A failed enqueue
// leaves the backup in place, which a later restoration consumes again.
func (s *Service) cleanup(ctx context.Context, log *slog.Logger, exec DeliveryExecution, t target) {
	task := CleanupTask{
		ID:         uuid.NewString(),
		UserID:     exec.UserID,
		StorageKey: t.key,
		StateLabel: t.label,
		CreatedAt:  s.now(),
	}
	if err := s.tasks.Enqueue(ctx, task); err != nil {
		log.Warn("failed to enqueue backup cleanup",
			"storage_key", t.key,
			"state_label", t.label,
			"error", err)
		return
	}
	log.Debug("backup cleanup enqueued", "task_id", task.ID, "storage_key", t.key, "state_label", t.label)
}

func (s *Service) alreadyRestored(ctx context.Context, exec DeliveryExecution) bool {
	_, err := s.states.Get(ctx, exec.UserID, LedgerKey(exec.ID))
	return err == nil
}

func (s *Service) markRestored(ctx context.Context, exec DeliveryExecution) error {
	blob, err := json.Marshal(ledgerEntry{RestoredAt: s.now()})
	if err != nil {
		return err
	}
	return s.states.Put(ctx, exec.UserID, LedgerKey(exec.ID), blob)
}
