package usage_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/coder/quartz"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"synxronusage/internal/auth"
	"synxronusage/internal/domain"
	"synxronusage/internal/events"
	"synxronusage/internal/lock"
	"synxronusage/internal/metrics"
	"synxronusage/internal/repository/memstore"
	"synxronusage/internal/service/usage"
	"synxronusage/internal/txn"
)

type env struct {
	store      *memstore.Store
	txm        *txn.Manager
	dispatcher *events.Dispatcher
	usage      *usage.Service
	content    *usage.ContentUsage
	tracking   *usage.Tracking
	metrics    *metrics.Metrics
	locks      *lock.RedisService
	redis      *miniredis.Miniredis
	clock      *quartz.Mock
}

func newEnv(t *testing.T, enabled bool) *env {
	t.Helper()
	logger := zap.NewNop()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := memstore.New()
	m := metrics.New(false)
	authority := auth.NewAuthority("System", []string{"admin"})
	txm := txn.NewManager(store, 0, logger)
	svc := usage.NewService(m, logger)
	guard := usage.NewQuotaGuard(svc, authority, m, logger)
	content := usage.NewContentUsage(svc, guard, authority, []string{domain.WorkspaceStore}, enabled, logger)
	locks := lock.NewRedisService(client, "usage-test:")
	clock := quartz.NewMock(t)
	tracking := usage.NewTracking(usage.TrackingConfig{
		Enabled:   enabled,
		BatchSize: 2,
		LockTTL:   time.Minute,
	}, txm, svc, content, locks, clock, m, logger)

	d := events.NewDispatcher()
	content.Register(d)

	return &env{
		store:      store,
		txm:        txm,
		dispatcher: d,
		usage:      svc,
		content:    content,
		tracking:   tracking,
		metrics:    m,
		locks:      locks,
		redis:      mr,
		clock:      clock,
	}
}

func (e *env) addPerson(t *testing.T, userName string, baseline *int64) *domain.Person {
	t.Helper()
	p := &domain.Person{ID: uuid.New(), UserName: userName, SizeCurrent: baseline}
	require.NoError(t, e.store.InsertPerson(context.Background(), p))
	return p
}

func (e *env) fire(evs ...events.Event) error {
	return e.txm.InTx(context.Background(), func(ctx context.Context, tx *txn.Tx) error {
		for _, ev := range evs {
			if err := e.dispatcher.Fire(ctx, tx, ev); err != nil {
				return err
			}
		}
		return nil
	})
}

func (e *env) userUsage(t *testing.T, userName string) int64 {
	t.Helper()
	var current int64
	err := e.txm.InTx(context.Background(), func(ctx context.Context, tx *txn.Tx) error {
		var err error
		current, err = e.content.GetUserUsage(ctx, tx, userName)
		return err
	}, txn.ReadOnly())
	require.NoError(t, err)
	return current
}

func (e *env) baseline(t *testing.T, userName string) *int64 {
	t.Helper()
	p, err := e.store.GetPersonByUserName(context.Background(), userName)
	require.NoError(t, err)
	return p.SizeCurrent
}

func node(owner string, size int64) *domain.Content {
	return &domain.Content{
		ID:      uuid.New(),
		StoreID: domain.WorkspaceStore,
		Type:    domain.NodeTypeContent,
		Name:    uuid.NewString() + ".txt",
		Size:    domain.Int64Ptr(size),
		Owner:   owner,
		Creator: owner,
	}
}

func withSize(c *domain.Content, size *int64) *domain.Content {
	cp := *c
	cp.Size = size
	return &cp
}

func withOwner(c *domain.Content, owner string) *domain.Content {
	cp := *c
	cp.Owner = owner
	return &cp
}

func zero() *int64 {
	return domain.Int64Ptr(0)
}
