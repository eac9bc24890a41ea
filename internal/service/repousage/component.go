// Package repousage tracks repository-wide user and document counts and
// evaluates them against license restrictions.
package repousage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/coder/quartz"
	"go.uber.org/zap"

	"synxronusage/internal/domain"
	"synxronusage/internal/lock"
	"synxronusage/internal/metrics"
	"synxronusage/internal/repository"
	"synxronusage/internal/txn"
)

const (
	LockUsers     = "repo/usage/users"
	LockDocuments = "repo/usage/documents"

	DefaultLockTTL = time.Minute
)

// Observer is notified synchronously after every restrictions change.
type Observer interface {
	OnRestrictionsChange(restrictions domain.RepoUsage)
}

type ObserverFunc func(restrictions domain.RepoUsage)

func (f ObserverFunc) OnRestrictionsChange(restrictions domain.RepoUsage) {
	f(restrictions)
}

// WriteState reports whether the repository currently accepts writes.
type WriteState interface {
	AllowWrite() bool
}

type Config struct {
	Stores        []string
	ExcludedUsers []string
	LockTTL       time.Duration
}

type Component struct {
	cfg     Config
	writes  WriteState
	locks   lock.Service
	clock   quartz.Clock
	metrics *metrics.Metrics
	logger  *zap.Logger

	mu           sync.RWMutex
	restrictions domain.RepoUsage

	observersMu sync.Mutex
	observers   []Observer
}

func NewComponent(cfg Config, writes WriteState, locks lock.Service, clock quartz.Clock, m *metrics.Metrics, logger *zap.Logger) *Component {
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = DefaultLockTTL
	}
	return &Component{
		cfg:     cfg,
		writes:  writes,
		locks:   locks,
		clock:   clock,
		metrics: m,
		logger:  logger.Named("repousage"),
		restrictions: domain.RepoUsage{
			LicenseMode: domain.LicenseModeUnknown,
		},
	}
}

func (c *Component) Observe(o Observer) {
	c.observersMu.Lock()
	defer c.observersMu.Unlock()
	c.observers = append(c.observers, o)
}

// SetRestrictions replaces the cached restrictions and notifies every
// observer before returning. It must not run inside a transaction. The
// ReadOnly flag of the input is ignored.
func (c *Component) SetRestrictions(ctx context.Context, restrictions domain.RepoUsage) error {
	if err := txn.RequireNone(ctx); err != nil {
		return err
	}
	restrictions.ReadOnly = false
	if restrictions.LicenseMode == "" {
		restrictions.LicenseMode = domain.LicenseModeUnknown
	}

	c.mu.Lock()
	c.restrictions = restrictions
	c.mu.Unlock()

	c.logger.Info("repository restrictions changed",
		zap.Any("users", restrictions.Users),
		zap.Any("documents", restrictions.Documents),
		zap.String("license_mode", string(restrictions.LicenseMode)))

	c.observersMu.Lock()
	observers := append([]Observer(nil), c.observers...)
	c.observersMu.Unlock()
	for _, o := range observers {
		o.OnRestrictionsChange(restrictions)
	}
	return nil
}

func (c *Component) GetRestrictions() domain.RepoUsage {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.restrictions
}

// UpdateUsage recounts the requested usage types inside tx. It returns false
// when any requested count could not take or keep its lock.
func (c *Component) UpdateUsage(ctx context.Context, tx *txn.Tx, usageType domain.UsageType) (bool, error) {
	if err := txn.RequireReadWrite(tx); err != nil {
		return false, err
	}

	switch usageType {
	case domain.UsageUsers:
		return c.updateUsers(ctx, tx)
	case domain.UsageDocuments:
		return c.updateDocuments(ctx, tx)
	case domain.UsageAll:
		users, err := c.updateUsers(ctx, tx)
		if err != nil {
			return false, err
		}
		documents, err := c.updateDocuments(ctx, tx)
		if err != nil {
			return false, err
		}
		return users && documents, nil
	default:
		return false, fmt.Errorf("unknown usage type %q", usageType)
	}
}

func (c *Component) updateUsers(ctx context.Context, tx *txn.Tx) (bool, error) {
	return c.updateCount(ctx, tx, LockUsers, domain.UsageUsers, func() (int64, error) {
		return tx.CountPeople(ctx, c.cfg.ExcludedUsers)
	})
}

func (c *Component) updateDocuments(ctx context.Context, tx *txn.Tx) (bool, error) {
	return c.updateCount(ctx, tx, LockDocuments, domain.UsageDocuments, func() (int64, error) {
		return tx.CountContent(ctx, c.cfg.Stores)
	})
}

func (c *Component) updateCount(ctx context.Context, tx *txn.Tx, key string, usageType domain.UsageType, count func() (int64, error)) (bool, error) {
	token, err := c.locks.Acquire(ctx, key, c.cfg.LockTTL)
	if errors.Is(err, lock.ErrUnavailable) {
		c.logger.Debug("unable to acquire repository usage lock, skipping", zap.String("type", string(usageType)))
		return false, nil
	}
	if err != nil {
		return false, err
	}
	defer func() {
		if err := c.locks.Release(context.WithoutCancel(ctx), token, key); err != nil {
			c.logger.Debug("failed to release repository usage lock", zap.String("type", string(usageType)), zap.Error(err))
		}
	}()

	n, err := count()
	if err != nil {
		return false, fmt.Errorf("failed to count %s: %w", usageType, err)
	}

	// Persist only while the lock is still held.
	if err := c.locks.Refresh(ctx, token, key, c.cfg.LockTTL); err != nil {
		c.logger.Warn("lost repository usage lock before storing count", zap.String("type", string(usageType)), zap.Error(err))
		return false, nil
	}

	if err := tx.UpsertRepoUsageCount(ctx, domain.RepoUsageCount{
		UsageType: usageType,
		Count:     n,
		UpdatedAt: c.clock.Now(),
	}); err != nil {
		return false, err
	}
	c.metrics.RepoUsageCounts.WithLabelValues(string(usageType)).Set(float64(n))
	return true, nil
}

// GetUsage returns the last persisted counts together with the cached
// license data. It requires an active transaction.
func (c *Component) GetUsage(ctx context.Context, tx *txn.Tx) (domain.RepoUsage, error) {
	if err := txn.RequireReadOnly(tx); err != nil {
		return domain.RepoUsage{}, err
	}
	restrictions := c.GetRestrictions()
	usage := domain.RepoUsage{
		LicenseMode:       restrictions.LicenseMode,
		LicenseExpiryDate: restrictions.LicenseExpiryDate,
		ReadOnly:          !c.writes.AllowWrite(),
	}

	for _, usageType := range []domain.UsageType{domain.UsageUsers, domain.UsageDocuments} {
		count, err := tx.GetRepoUsageCount(ctx, usageType)
		if errors.Is(err, repository.ErrNotFound) {
			continue
		}
		if err != nil {
			return domain.RepoUsage{}, err
		}

		n := count.Count
		if usageType == domain.UsageUsers {
			usage.Users = &n
		} else {
			usage.Documents = &n
		}
		if usage.LastUpdate == nil || count.UpdatedAt.After(*usage.LastUpdate) {
			updated := count.UpdatedAt
			usage.LastUpdate = &updated
		}
	}
	return usage, nil
}

func (c *Component) GetUsageStatus(ctx context.Context, tx *txn.Tx) (domain.RepoUsageStatus, error) {
	usage, err := c.GetUsage(ctx, tx)
	if err != nil {
		return domain.RepoUsageStatus{}, err
	}
	return EvaluateStatus(usage, c.GetRestrictions(), c.clock.Now()), nil
}
