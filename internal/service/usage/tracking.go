package usage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/coder/quartz"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"synxronusage/internal/lock"
	"synxronusage/internal/metrics"
	"synxronusage/internal/repository"
	"synxronusage/internal/txn"
)

const (
	LockCollapse  = "usage/user/collapse"
	LockCalculate = "usage/user/calculate"
	LockClear     = "usage/user/clear"

	DefaultBatchSize = 50
	DefaultLockTTL   = time.Minute
)

type TrackingConfig struct {
	Enabled   bool
	BatchSize int
	LockTTL   time.Duration
}

// Tracking folds pending deltas into user baselines and recomputes or
// clears baselines when tracking is switched on or off. Each operation runs
// under its own lease lock and is skipped when another process holds it.
type Tracking struct {
	cfg     TrackingConfig
	txm     *txn.Manager
	usage   *Service
	content *ContentUsage
	locks   lock.Service
	clock   quartz.Clock
	metrics *metrics.Metrics
	logger  *zap.Logger
}

func NewTracking(
	cfg TrackingConfig,
	txm *txn.Manager,
	usage *Service,
	content *ContentUsage,
	locks lock.Service,
	clock quartz.Clock,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Tracking {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = DefaultLockTTL
	}
	return &Tracking{
		cfg:     cfg,
		txm:     txm,
		usage:   usage,
		content: content,
		locks:   locks,
		clock:   clock,
		metrics: m,
		logger:  logger.Named("usage.tracking"),
	}
}

// Bootstrap calculates missing baselines when tracking is enabled and
// clears all baselines when it is disabled.
func (t *Tracking) Bootstrap(ctx context.Context) error {
	if t.cfg.Enabled {
		return t.CalculateMissingUsages(ctx)
	}
	return t.ClearAllUsages(ctx)
}

// Execute is the scheduled entry point.
func (t *Tracking) Execute(ctx context.Context) error {
	if !t.cfg.Enabled {
		return nil
	}
	return t.Collapse(ctx)
}

// Collapse folds pending deltas into baselines. It refuses to run while
// tracking is disabled since the clear job may be resetting baselines.
func (t *Tracking) Collapse(ctx context.Context) error {
	if !t.cfg.Enabled {
		return ErrTrackingDisabled
	}
	return t.withLock(ctx, "collapse", LockCollapse, t.collapse)
}

func (t *Tracking) CalculateMissingUsages(ctx context.Context) error {
	return t.withLock(ctx, "calculate", LockCalculate, t.calculateMissing)
}

func (t *Tracking) ClearAllUsages(ctx context.Context) error {
	return t.withLock(ctx, "clear", LockClear, t.clearAll)
}

func (t *Tracking) withLock(ctx context.Context, job, key string, fn func(context.Context, *lock.Lease) error) error {
	lease, err := lock.Hold(ctx, t.locks, t.clock, t.logger, key, t.cfg.LockTTL)
	if errors.Is(err, lock.ErrUnavailable) {
		t.logger.Debug("unable to acquire lock for usage job, skipping", zap.String("job", job))
		t.metrics.JobSkipped.WithLabelValues(job).Inc()
		return nil
	}
	if err != nil {
		t.metrics.JobRuns.WithLabelValues(job, "error").Inc()
		return fmt.Errorf("failed to acquire %s lock: %w", job, err)
	}
	defer func() {
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			t.logger.Warn("failed to release usage job lock", zap.String("job", job), zap.Error(err))
		}
	}()

	start := t.clock.Now()
	err = fn(ctx, lease)
	result := "success"
	if err != nil {
		result = "error"
	}
	t.metrics.JobRuns.WithLabelValues(job, result).Inc()
	t.logger.Debug("usage job finished",
		zap.String("job", job),
		zap.Duration("elapsed", t.clock.Since(start)),
		zap.Error(err))
	return err
}

func checkLease(ctx context.Context, lease *lock.Lease, done int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if lease.Lost() {
		return fmt.Errorf("stopped after %d items: %w", done, lock.ErrLockLost)
	}
	return nil
}

func (t *Tracking) collapse(ctx context.Context, lease *lock.Lease) error {
	var owners []uuid.UUID
	err := t.txm.InTx(ctx, func(ctx context.Context, tx *txn.Tx) error {
		var err error
		owners, err = t.usage.GetUsageDeltaOwners(ctx, tx)
		return err
	}, txn.ReadOnly())
	if err != nil {
		return err
	}

	collapsed := 0
	for i, personID := range owners {
		if err := checkLease(ctx, lease, i); err != nil {
			return fmt.Errorf("collapse usages: %w", err)
		}
		var ok bool
		err := t.txm.InTx(ctx, func(ctx context.Context, tx *txn.Tx) error {
			var err error
			ok, err = t.collapseOwner(ctx, tx, personID)
			return err
		}, txn.IgnoreWriteVeto(), txn.Serializable())
		if err != nil {
			return fmt.Errorf("failed to collapse usage of %s: %w", personID, err)
		}
		if ok {
			collapsed++
			t.metrics.CollapsedOwners.Inc()
		}
	}

	if collapsed > 0 {
		t.logger.Info("collapsed usage deltas", zap.Int("owners", collapsed))
	}
	return nil
}

func (t *Tracking) collapseOwner(ctx context.Context, tx *txn.Tx, personID uuid.UUID) (bool, error) {
	person, err := tx.LockPersonByID(ctx, personID)
	if errors.Is(err, repository.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	// Owners without a baseline are left for the calculate job.
	current, err := t.content.UserUsage(ctx, tx, person, true)
	if err != nil {
		return false, err
	}
	if current == -1 {
		return false, nil
	}
	if err := tx.UpdatePersonUsage(ctx, person.ID, &current); err != nil {
		return false, fmt.Errorf("failed to store usage baseline: %w", err)
	}
	return true, nil
}

func (t *Tracking) calculateMissing(ctx context.Context, lease *lock.Lease) error {
	return t.batches(ctx, lease, "calculate", func(ctx context.Context, tx *txn.Tx) (int, error) {
		people, err := tx.ListPeopleWithoutUsage(ctx, t.cfg.BatchSize)
		if err != nil {
			return 0, err
		}
		for _, p := range people {
			// Serializable isolation makes a concurrent upload either land
			// before the sum or conflict and retry the batch.
			size, err := tx.SumContentSizeByOwner(ctx, t.content.Stores(), p.UserName)
			if err != nil {
				return 0, err
			}
			if err := tx.UpdatePersonUsage(ctx, p.ID, &size); err != nil {
				return 0, fmt.Errorf("failed to store usage baseline: %w", err)
			}
			if _, err := t.usage.DeleteDeltas(ctx, tx, p.ID); err != nil {
				return 0, err
			}
			t.logger.Debug("calculated user usage", zap.String("user", p.UserName), zap.Int64("usage", size))
		}
		return len(people), nil
	})
}

func (t *Tracking) clearAll(ctx context.Context, lease *lock.Lease) error {
	return t.batches(ctx, lease, "clear", func(ctx context.Context, tx *txn.Tx) (int, error) {
		people, err := tx.ListPeopleWithUsage(ctx, t.cfg.BatchSize)
		if err != nil {
			return 0, err
		}
		for _, p := range people {
			if err := tx.UpdatePersonUsage(ctx, p.ID, nil); err != nil {
				return 0, fmt.Errorf("failed to clear usage baseline: %w", err)
			}
			if _, err := t.usage.DeleteDeltas(ctx, tx, p.ID); err != nil {
				return 0, err
			}
		}
		return len(people), nil
	})
}

// batches runs fn in consecutive transactions until it handles fewer people
// than the batch size.
func (t *Tracking) batches(ctx context.Context, lease *lock.Lease, job string, fn func(context.Context, *txn.Tx) (int, error)) error {
	total := 0
	for {
		if err := checkLease(ctx, lease, total); err != nil {
			return fmt.Errorf("%s usages: %w", job, err)
		}
		var n int
		err := t.txm.InTx(ctx, func(ctx context.Context, tx *txn.Tx) error {
			var err error
			n, err = fn(ctx, tx)
			return err
		}, txn.IgnoreWriteVeto(), txn.Serializable())
		if err != nil {
			return fmt.Errorf("failed to %s usage batch: %w", job, err)
		}
		total += n
		if n < t.cfg.BatchSize {
			break
		}
	}

	if total > 0 {
		t.logger.Info("usage batch job complete", zap.String("job", job), zap.Int("people", total))
	}
	return nil
}
