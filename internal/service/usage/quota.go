package usage

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"synxronusage/internal/domain"
	"synxronusage/internal/metrics"
	"synxronusage/internal/txn"
)

type PrivilegeChecker interface {
	IsPrivileged(user string) bool
	IsSystem(user string) bool
}

// QuotaGuard rejects usage growth past a person's quota and changes to
// usage properties by unprivileged actors.
type QuotaGuard struct {
	usage     *Service
	authority PrivilegeChecker
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

func NewQuotaGuard(usage *Service, authority PrivilegeChecker, m *metrics.Metrics, logger *zap.Logger) *QuotaGuard {
	return &QuotaGuard{
		usage:     usage,
		authority: authority,
		metrics:   m,
		logger:    logger.Named("usage.quota"),
	}
}

// Check validates that adding delta bytes keeps person within quota.
// Decrements always pass. A person without a baseline is projected from zero.
func (g *QuotaGuard) Check(ctx context.Context, tx *txn.Tx, person *domain.Person, delta int64) error {
	if delta <= 0 {
		return nil
	}
	quota := person.Quota()
	if quota < 0 {
		return nil
	}

	var current int64
	if person.SizeCurrent != nil {
		deltas, err := g.usage.GetTotalDeltaSize(ctx, tx, person.ID)
		if err != nil {
			return err
		}
		current = max(*person.SizeCurrent+deltas, 0)
	}

	if current+delta > quota {
		g.metrics.QuotaRejections.Inc()
		g.logger.Info("quota exceeded",
			zap.String("user", person.UserName),
			zap.Int64("current", current),
			zap.Int64("delta", delta),
			zap.Int64("quota", quota))
		return fmt.Errorf("%w: user %s would use %d of %d bytes", ErrQuotaExceeded, person.UserName, current+delta, quota)
	}
	return nil
}

// CheckPersonUpdate rejects changes to the usage baseline or quota unless
// actor is an administrator or the system user.
func (g *QuotaGuard) CheckPersonUpdate(actor string, before, after *domain.Person) error {
	if before == nil || after == nil {
		return nil
	}
	if equalInt64(before.SizeCurrent, after.SizeCurrent) && equalInt64(before.SizeQuota, after.SizeQuota) {
		return nil
	}
	if g.authority.IsPrivileged(actor) {
		return nil
	}
	return fmt.Errorf("%w: user %s changed by %s", ErrProtectedProperty, after.UserName, actor)
}

func equalInt64(a, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
