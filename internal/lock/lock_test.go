package lock_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/coder/quartz"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"synxronusage/internal/lock"
)

func newService(t *testing.T) (*lock.RedisService, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return lock.NewRedisService(client, "test:"), mr
}

func TestAcquireIsExclusive(t *testing.T) {
	t.Parallel()
	svc, mr := newService(t)
	ctx := context.Background()

	token, err := svc.Acquire(ctx, "collapse", time.Minute)
	require.NoError(t, err)
	require.NotEmpty(t, token)
	require.True(t, mr.Exists("test:collapse"))

	_, err = svc.Acquire(ctx, "collapse", time.Minute)
	require.ErrorIs(t, err, lock.ErrUnavailable)

	// Independent keys do not contend.
	_, err = svc.Acquire(ctx, "documents", time.Minute)
	require.NoError(t, err)

	require.NoError(t, svc.Release(ctx, token, "collapse"))
	require.False(t, mr.Exists("test:collapse"))

	_, err = svc.Acquire(ctx, "collapse", time.Minute)
	require.NoError(t, err)
}

func TestLeaseExpires(t *testing.T) {
	t.Parallel()
	svc, mr := newService(t)
	ctx := context.Background()

	token, err := svc.Acquire(ctx, "users", time.Second)
	require.NoError(t, err)

	mr.FastForward(2 * time.Second)

	require.ErrorIs(t, svc.Refresh(ctx, token, "users", time.Second), lock.ErrLockLost)
	_, err = svc.Acquire(ctx, "users", time.Second)
	require.NoError(t, err)
}

func TestRefreshRequiresOwnership(t *testing.T) {
	t.Parallel()
	svc, mr := newService(t)
	ctx := context.Background()

	token, err := svc.Acquire(ctx, "users", time.Second)
	require.NoError(t, err)

	require.NoError(t, svc.Refresh(ctx, token, "users", time.Minute))
	require.Equal(t, time.Minute, mr.TTL("test:users"))

	require.ErrorIs(t, svc.Refresh(ctx, lock.Token("other"), "users", time.Minute), lock.ErrLockLost)
	require.ErrorIs(t, svc.Release(ctx, lock.Token("other"), "users"), lock.ErrLockLost)
	require.True(t, mr.Exists("test:users"))
}

func TestLeaseKeepsLockAlive(t *testing.T) {
	t.Parallel()
	svc, mr := newService(t)
	clock := quartz.NewMock(t)
	ctx := context.Background()

	lease, err := lock.Hold(ctx, svc, clock, zap.NewNop(), "collapse", 10*time.Second)
	require.NoError(t, err)
	require.True(t, lease.IsActive())

	mr.FastForward(6 * time.Second)
	clock.Advance(5 * time.Second).MustWait(ctx)
	require.False(t, lease.Lost())
	require.Equal(t, 10*time.Second, mr.TTL("test:collapse"))

	require.NoError(t, lease.Release(ctx))
	require.False(t, lease.IsActive())
	require.False(t, mr.Exists("test:collapse"))
	require.NoError(t, lease.Release(ctx))
}

func TestLeaseDetectsLoss(t *testing.T) {
	t.Parallel()
	svc, mr := newService(t)
	clock := quartz.NewMock(t)
	ctx := context.Background()

	lease, err := lock.Hold(ctx, svc, clock, zap.NewNop(), "collapse", 10*time.Second)
	require.NoError(t, err)

	mr.Del("test:collapse")
	clock.Advance(5 * time.Second).MustWait(ctx)

	require.True(t, lease.Lost())
	require.False(t, lease.IsActive())
	require.NoError(t, lease.Release(ctx))
}
