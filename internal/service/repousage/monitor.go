package repousage

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"synxronusage/internal/domain"
	"synxronusage/internal/metrics"
	"synxronusage/internal/txn"
)

// VetoName is the write veto the monitor holds while usage is locked down.
const VetoName = "repo-usage"

type StatusListener interface {
	OnUsageStatus(status domain.RepoUsageStatus)
}

// Monitor periodically refreshes repository counts and puts the
// repository into read-only mode while the usage level is LOCKED_DOWN.
type Monitor struct {
	component *Component
	txm       *txn.Manager
	metrics   *metrics.Metrics
	logger    *zap.Logger

	mu        sync.Mutex
	listeners []StatusListener
	last      *domain.RepoUsageStatus
}

func NewMonitor(component *Component, txm *txn.Manager, m *metrics.Metrics, logger *zap.Logger) *Monitor {
	mon := &Monitor{
		component: component,
		txm:       txm,
		metrics:   m,
		logger:    logger.Named("repousage.monitor"),
	}
	component.Observe(mon)
	return mon
}

func (m *Monitor) AddListener(l StatusListener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, l)
}

// Check recounts all usage types and applies the resulting status.
func (m *Monitor) Check(ctx context.Context) error {
	var status domain.RepoUsageStatus
	err := m.txm.InTx(ctx, func(ctx context.Context, tx *txn.Tx) error {
		updated, err := m.component.UpdateUsage(ctx, tx, domain.UsageAll)
		if err != nil {
			return err
		}
		if !updated {
			m.logger.Debug("repository usage counts not fully refreshed, using last stored values")
		}
		status, err = m.component.GetUsageStatus(ctx, tx)
		return err
	}, txn.IgnoreWriteVeto())
	if err != nil {
		return err
	}
	m.apply(status)
	return nil
}

// OnRestrictionsChange re-evaluates the stored counts against new
// restrictions without recounting.
func (m *Monitor) OnRestrictionsChange(domain.RepoUsage) {
	ctx := context.Background()
	var status domain.RepoUsageStatus
	err := m.txm.InTx(ctx, func(ctx context.Context, tx *txn.Tx) error {
		var err error
		status, err = m.component.GetUsageStatus(ctx, tx)
		return err
	}, txn.ReadOnly())
	if err != nil {
		m.logger.Error("failed to evaluate repository usage after restrictions change", zap.Error(err))
		return
	}
	m.apply(status)
}

// Status returns the last applied status, or nil before the first check.
func (m *Monitor) Status() *domain.RepoUsageStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.last == nil {
		return nil
	}
	s := *m.last
	return &s
}

func (m *Monitor) apply(status domain.RepoUsageStatus) {
	lockedDown := status.Level == domain.UsageLevelLockedDown
	m.txm.SetAllowWrite(!lockedDown, VetoName)
	m.metrics.RepoUsageLevel.Set(float64(status.Level))

	for _, e := range status.Errors {
		m.logger.Error("repository usage", zap.String("error", e))
	}
	for _, w := range status.Warnings {
		m.logger.Warn("repository usage", zap.String("warning", w))
	}

	m.mu.Lock()
	m.last = &status
	listeners := append([]StatusListener(nil), m.listeners...)
	m.mu.Unlock()

	for _, l := range listeners {
		l.OnUsageStatus(status)
	}
}
