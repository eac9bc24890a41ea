package usage

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"synxronusage/internal/domain"
	"synxronusage/internal/events"
	"synxronusage/internal/repository"
	"synxronusage/internal/txn"
)

const (
	createdNodesSet = "usage.created-nodes"
	deletedNodesSet = "usage.deleted-nodes"
)

// ContentUsage turns content lifecycle events into usage deltas and answers
// per-user usage queries.
type ContentUsage struct {
	usage     *Service
	quota     *QuotaGuard
	authority PrivilegeChecker
	stores    []string
	enabled   bool
	logger    *zap.Logger
}

func NewContentUsage(usage *Service, quota *QuotaGuard, authority PrivilegeChecker, stores []string, enabled bool, logger *zap.Logger) *ContentUsage {
	return &ContentUsage{
		usage:     usage,
		quota:     quota,
		authority: authority,
		stores:    stores,
		enabled:   enabled,
		logger:    logger.Named("usage.content"),
	}
}

func (c *ContentUsage) Enabled() bool {
	return c.enabled
}

func (c *ContentUsage) Stores() []string {
	return c.stores
}

// Register binds the lifecycle handlers. Tracking handlers are bound only
// when usage tracking is enabled; the person guard is always bound.
func (c *ContentUsage) Register(d *events.Dispatcher) {
	d.On(events.KindPersonUpdated, events.EntityPerson, func(_ context.Context, _ *txn.Tx, e events.Event) error {
		ev := e.(events.PersonUpdated)
		return c.quota.CheckPersonUpdate(ev.Actor, ev.Before, ev.After)
	})
	if !c.enabled {
		return
	}
	d.On(events.KindCreated, events.EntityContent, func(ctx context.Context, tx *txn.Tx, e events.Event) error {
		return c.OnCreate(ctx, tx, e.(events.Created).Content)
	})
	d.On(events.KindPropertiesUpdated, events.EntityContent, func(ctx context.Context, tx *txn.Tx, e events.Event) error {
		ev := e.(events.PropertiesUpdated)
		return c.OnUpdateProperties(ctx, tx, ev.Before, ev.After)
	})
	d.On(events.KindBeforeDelete, events.EntityContent, func(ctx context.Context, tx *txn.Tx, e events.Event) error {
		return c.OnDelete(ctx, tx, e.(events.BeforeDelete).Content)
	})
}

func (c *ContentUsage) tracked(node *domain.Content) bool {
	return node != nil && slices.Contains(c.stores, node.StoreID)
}

// resolveOwner returns the owner property, falling back to the creator.
func resolveOwner(node *domain.Content) string {
	if node.Owner != domain.NoOwner {
		return node.Owner
	}
	return node.Creator
}

func (c *ContentUsage) OnCreate(ctx context.Context, tx *txn.Tx, node *domain.Content) error {
	if !c.tracked(node) {
		return nil
	}
	created := tx.IDSet(createdNodesSet)
	if created.Has(node.ID) {
		return nil
	}
	tx.IDSet(deletedNodesSet).Remove(node.ID)

	size := node.ContentSize()
	if size == 0 {
		return nil
	}
	created.Add(node.ID)
	return c.increment(ctx, tx, resolveOwner(node), size, node.ID)
}

func (c *ContentUsage) OnUpdateProperties(ctx context.Context, tx *txn.Tx, before, after *domain.Content) error {
	if before == nil || after == nil || !c.tracked(after) {
		return nil
	}
	ownerBefore := resolveOwner(before)
	ownerAfter := resolveOwner(after)

	switch {
	case before.Size == nil && after.Size == nil:
		return nil

	case before.Size == nil:
		tx.IDSet(createdNodesSet).Add(after.ID)
		return c.increment(ctx, tx, ownerAfter, *after.Size, after.ID)

	case after.Size == nil:
		return c.decrement(ctx, tx, ownerBefore, *before.Size, after.ID)

	case *before.Size == *after.Size:
		if ownerBefore == ownerAfter {
			return nil
		}
		if err := c.decrement(ctx, tx, ownerBefore, *before.Size, after.ID); err != nil {
			return err
		}
		return c.increment(ctx, tx, ownerAfter, *after.Size, after.ID)

	default:
		if err := c.decrement(ctx, tx, ownerBefore, *before.Size, after.ID); err != nil {
			return err
		}
		return c.increment(ctx, tx, ownerAfter, *after.Size, after.ID)
	}
}

func (c *ContentUsage) OnDelete(ctx context.Context, tx *txn.Tx, node *domain.Content) error {
	if !c.tracked(node) {
		return nil
	}
	deleted := tx.IDSet(deletedNodesSet)
	if deleted.Has(node.ID) {
		return nil
	}
	deleted.Add(node.ID)
	tx.IDSet(createdNodesSet).Remove(node.ID)

	size := node.ContentSize()
	if size == 0 {
		return nil
	}
	owner := node.ArchivedOriginalOwner
	if owner == domain.NoOwner {
		owner = resolveOwner(node)
	}
	return c.decrement(ctx, tx, owner, size, node.ID)
}

// person resolves userName, returning nil when the delta should be skipped.
func (c *ContentUsage) person(ctx context.Context, tx *txn.Tx, userName string, nodeID uuid.UUID) (*domain.Person, error) {
	if userName == domain.NoOwner {
		c.logger.Debug("no owner for content, usage not tracked", zap.Stringer("node_id", nodeID))
		return nil, nil
	}
	if c.authority.IsSystem(userName) {
		return nil, nil
	}
	person, err := tx.GetPersonByUserName(ctx, userName)
	if errors.Is(err, repository.ErrNotFound) {
		c.logger.Debug("owner has no person record, usage not tracked",
			zap.String("user", userName),
			zap.Stringer("node_id", nodeID))
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve owner %s: %w", userName, err)
	}
	return person, nil
}

func (c *ContentUsage) increment(ctx context.Context, tx *txn.Tx, userName string, size int64, nodeID uuid.UUID) error {
	if size == 0 {
		return nil
	}
	person, err := c.person(ctx, tx, userName, nodeID)
	if err != nil || person == nil {
		return err
	}
	if err := c.quota.Check(ctx, tx, person, size); err != nil {
		return err
	}
	return c.usage.InsertDelta(ctx, tx, person.ID, size)
}

func (c *ContentUsage) decrement(ctx context.Context, tx *txn.Tx, userName string, size int64, nodeID uuid.UUID) error {
	if size == 0 {
		return nil
	}
	person, err := c.person(ctx, tx, userName, nodeID)
	if err != nil || person == nil {
		return err
	}
	return c.usage.InsertDelta(ctx, tx, person.ID, -size)
}

// GetUserUsage returns baseline plus pending deltas, clamped at zero, or -1
// when the baseline has never been calculated.
func (c *ContentUsage) GetUserUsage(ctx context.Context, tx *txn.Tx, userName string) (int64, error) {
	person, err := tx.GetPersonByUserName(ctx, userName)
	if err != nil {
		return 0, fmt.Errorf("failed to get person: %w", err)
	}
	return c.UserUsage(ctx, tx, person, false)
}

// UserUsage returns the unclamped effective usage of person, or -1 without
// a baseline. With removeDeltas the pending deltas are consumed.
func (c *ContentUsage) UserUsage(ctx context.Context, tx *txn.Tx, person *domain.Person, removeDeltas bool) (int64, error) {
	if person.SizeCurrent == nil {
		return -1, nil
	}

	var (
		deltas int64
		err    error
	)
	if removeDeltas {
		deltas, err = c.usage.GetAndRemoveTotalDeltaSize(ctx, tx, person.ID)
	} else {
		deltas, err = c.usage.GetTotalDeltaSize(ctx, tx, person.ID)
	}
	if err != nil {
		return 0, err
	}

	current := *person.SizeCurrent + deltas
	if !removeDeltas && current < 0 {
		return 0, nil
	}
	return current, nil
}

func (c *ContentUsage) GetUserQuota(ctx context.Context, tx *txn.Tx, userName string) (int64, error) {
	person, err := tx.GetPersonByUserName(ctx, userName)
	if err != nil {
		return 0, fmt.Errorf("failed to get person: %w", err)
	}
	return person.Quota(), nil
}

func (c *ContentUsage) SetUserQuota(ctx context.Context, tx *txn.Tx, actor, userName string, quota int64) error {
	if err := txn.RequireReadWrite(tx); err != nil {
		return err
	}
	if quota < domain.UnlimitedQuota {
		return ErrInvalidQuota
	}
	if !c.authority.IsPrivileged(actor) {
		return fmt.Errorf("%w: quota of %s changed by %s", ErrProtectedProperty, userName, actor)
	}

	person, err := tx.GetPersonByUserName(ctx, userName)
	if err != nil {
		return fmt.Errorf("failed to get person: %w", err)
	}
	if err := tx.UpdatePersonQuota(ctx, person.ID, &quota); err != nil {
		return err
	}
	c.logger.Info("user quota updated",
		zap.String("user", userName),
		zap.String("actor", actor),
		zap.Int64("quota", quota))
	return nil
}

func (c *ContentUsage) GetUserUsageInfo(ctx context.Context, tx *txn.Tx, userName string) (*domain.UserUsageInfo, error) {
	current, err := c.GetUserUsage(ctx, tx, userName)
	if err != nil {
		return nil, err
	}
	quota, err := c.GetUserQuota(ctx, tx, userName)
	if err != nil {
		return nil, err
	}

	info := &domain.UserUsageInfo{
		UserName: userName,
		Usage:    current,
		Quota:    quota,
	}
	if quota > 0 && current > 0 {
		info.UsagePercent = float64(current) / float64(quota) * 100
	}
	return info, nil
}
