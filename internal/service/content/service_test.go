package content_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/coder/quartz"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"synxronusage/internal/auth"
	"synxronusage/internal/blob"
	"synxronusage/internal/domain"
	"synxronusage/internal/events"
	"synxronusage/internal/lock"
	"synxronusage/internal/metrics"
	"synxronusage/internal/repository/memstore"
	"synxronusage/internal/service/content"
	"synxronusage/internal/service/usage"
	"synxronusage/internal/txn"
)

const (
	pangram1 = "The quick brown fox jumps over the lazy dog"
	pangram2 = "Amazingly few discotheques provide jukeboxes"
	pangram3 = "All questions asked by five watch experts amazed the judge"

	rewrite1 = "Few black taxis drive up major roads on quiet hazy nights"
	rewrite2 = "The five boxing wizards jump quickly"
	rewrite3 = "Heavy boxes perform quick waltzes and jigs"
)

type env struct {
	store    *memstore.Store
	txm      *txn.Manager
	blobs    *blob.Memory
	clock    *quartz.Mock
	metrics  *metrics.Metrics
	usage    *usage.ContentUsage
	tracking *usage.Tracking
	svc      *content.Service
}

func newEnv(t *testing.T) *env {
	t.Helper()
	logger := zap.NewNop()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	clock := quartz.NewMock(t)
	clock.Set(time.Date(2030, 1, 10, 9, 0, 0, 0, time.UTC))

	store := memstore.New()
	m := metrics.New(false)
	authority := auth.NewAuthority("System", []string{"admin"})
	txm := txn.NewManager(store, 0, logger)
	svc := usage.NewService(m, logger)
	guard := usage.NewQuotaGuard(svc, authority, m, logger)
	cu := usage.NewContentUsage(svc, guard, authority, []string{domain.WorkspaceStore}, true, logger)
	tracking := usage.NewTracking(usage.TrackingConfig{Enabled: true}, txm, svc, cu,
		lock.NewRedisService(client, "content-test:"), clock, m, logger)

	d := events.NewDispatcher()
	cu.Register(d)

	blobs := blob.NewMemory()
	return &env{
		store:    store,
		txm:      txm,
		blobs:    blobs,
		clock:    clock,
		metrics:  m,
		usage:    cu,
		tracking: tracking,
		svc:      content.NewService(txm, d, blobs, clock, true, m, logger),
	}
}

func (e *env) person(t *testing.T, userName string, quota *int64) {
	t.Helper()
	_, err := e.svc.CreatePerson(context.Background(), userName, quota)
	require.NoError(t, err)
}

func (e *env) usageOf(t *testing.T, ctx context.Context, userName string) int64 {
	t.Helper()
	var current int64
	err := e.txm.InTx(ctx, func(ctx context.Context, tx *txn.Tx) error {
		var err error
		current, err = e.usage.GetUserUsage(ctx, tx, userName)
		return err
	}, txn.ReadOnly())
	require.NoError(t, err)
	return current
}

func (e *env) folder(t *testing.T, ctx context.Context, actor string, parent *uuid.UUID) *uuid.UUID {
	t.Helper()
	f, err := e.svc.CreateFolder(ctx, actor, parent, "folder-"+uuid.NewString())
	require.NoError(t, err)
	return &f.ID
}

func (e *env) text(t *testing.T, ctx context.Context, actor string, parent *uuid.UUID, text string) uuid.UUID {
	t.Helper()
	n, err := e.svc.CreateContent(ctx, actor, parent, uuid.NewString()+".txt", []byte(text))
	require.NoError(t, err)
	return n.ID
}

// lifecycle creates, rewrites and deletes three texts, running each step
// through step so callers choose the transaction boundaries.
func lifecycle(t *testing.T, e *env, step func(func(ctx context.Context))) {
	var (
		folder     *uuid.UUID
		c1, c2, c3 uuid.UUID
	)
	check := func(ctx context.Context, want int64) {
		assert.Equal(t, want, e.usageOf(t, ctx, "alice"))
	}

	step(func(ctx context.Context) {
		check(ctx, 0)
		folder = e.folder(t, ctx, "alice", nil)
		check(ctx, 0)
	})
	step(func(ctx context.Context) { c1 = e.text(t, ctx, "alice", folder, pangram1); check(ctx, 43) })
	step(func(ctx context.Context) { c2 = e.text(t, ctx, "alice", folder, pangram2); check(ctx, 87) })
	step(func(ctx context.Context) { c3 = e.text(t, ctx, "alice", folder, pangram3); check(ctx, 145) })

	write := func(ctx context.Context, id uuid.UUID, text string, want int64) {
		_, err := e.svc.WriteContent(ctx, "alice", id, []byte(text))
		require.NoError(t, err)
		check(ctx, want)
	}
	step(func(ctx context.Context) { write(ctx, c1, rewrite1, 159) })
	step(func(ctx context.Context) { write(ctx, c3, rewrite3, 143) })
	step(func(ctx context.Context) { write(ctx, c2, rewrite2, 135) })

	del := func(ctx context.Context, id uuid.UUID, want int64) {
		require.NoError(t, e.svc.Delete(ctx, "alice", id))
		check(ctx, want)
	}
	step(func(ctx context.Context) { del(ctx, c2, 99) })
	step(func(ctx context.Context) { del(ctx, c3, 57) })
	step(func(ctx context.Context) { del(ctx, c1, 0) })
	step(func(ctx context.Context) { del(ctx, *folder, 0) })
}

func TestCreateUpdateDeleteInTx(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	e.person(t, "alice", nil)

	err := e.txm.InTx(context.Background(), func(ctx context.Context, _ *txn.Tx) error {
		lifecycle(t, e, func(fn func(context.Context)) { fn(ctx) })
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, int64(0), e.usageOf(t, context.Background(), "alice"))
}

func TestCreateUpdateDeleteAcrossTx(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	e.person(t, "alice", nil)

	lifecycle(t, e, func(fn func(context.Context)) { fn(context.Background()) })

	require.NoError(t, e.tracking.Collapse(context.Background()))
	p, err := e.svc.GetPerson(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(0), *p.SizeCurrent)
	assert.Zero(t, e.store.DeltaCount())
}

func TestCollapseAfterUpdateAndDelete(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	e.person(t, "alice", nil)
	ctx := context.Background()

	c1 := e.text(t, ctx, "alice", nil, pangram1)
	c2 := e.text(t, ctx, "alice", nil, pangram2)
	e.text(t, ctx, "alice", nil, pangram3)
	require.Equal(t, int64(145), e.usageOf(t, ctx, "alice"))

	_, err := e.svc.WriteContent(ctx, "alice", c1, []byte(rewrite1))
	require.NoError(t, err)
	require.Equal(t, int64(159), e.usageOf(t, ctx, "alice"))

	require.NoError(t, e.svc.Delete(ctx, "alice", c2))
	require.Equal(t, int64(115), e.usageOf(t, ctx, "alice"))

	require.NoError(t, e.tracking.Collapse(ctx))
	p, err := e.svc.GetPerson(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, int64(115), *p.SizeCurrent)
	require.Zero(t, e.store.DeltaCount())
	require.Equal(t, int64(115), e.usageOf(t, ctx, "alice"))
}

func TestDeleteRestore(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("AcrossTx", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t)
		e.person(t, "alice", nil)
		folder := e.folder(t, ctx, "alice", nil)
		id := e.text(t, ctx, "alice", folder, pangram1)
		e.text(t, ctx, "alice", folder, pangram2)

		require.NoError(t, e.svc.Delete(ctx, "alice", id))
		require.Equal(t, int64(44), e.usageOf(t, ctx, "alice"))

		node, err := e.svc.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, domain.ArchiveStore, node.StoreID)
		assert.Equal(t, "alice", node.ArchivedOriginalOwner)

		require.NoError(t, e.svc.Restore(ctx, "alice", id))
		require.Equal(t, int64(87), e.usageOf(t, ctx, "alice"))

		require.NoError(t, e.svc.Delete(ctx, "alice", *folder))
		require.Equal(t, int64(0), e.usageOf(t, ctx, "alice"))
		require.NoError(t, e.svc.Restore(ctx, "alice", *folder))
		require.Equal(t, int64(87), e.usageOf(t, ctx, "alice"))
	})

	t.Run("InTx", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t)
		e.person(t, "alice", nil)

		err := e.txm.InTx(ctx, func(ctx context.Context, _ *txn.Tx) error {
			id := e.text(t, ctx, "alice", nil, pangram3)
			require.Equal(t, int64(58), e.usageOf(t, ctx, "alice"))
			require.NoError(t, e.svc.Delete(ctx, "alice", id))
			require.Equal(t, int64(0), e.usageOf(t, ctx, "alice"))
			require.NoError(t, e.svc.Restore(ctx, "alice", id))
			require.Equal(t, int64(58), e.usageOf(t, ctx, "alice"))
			return nil
		})
		require.NoError(t, err)
		require.Equal(t, int64(58), e.usageOf(t, ctx, "alice"))
	})

	t.Run("ArchivedByOtherUser", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t)
		e.person(t, "alice", nil)
		e.person(t, "admin", nil)
		id := e.text(t, ctx, "alice", nil, pangram1)

		require.NoError(t, e.svc.Delete(ctx, "admin", id))
		assert.Equal(t, int64(0), e.usageOf(t, ctx, "alice"))
		assert.Equal(t, int64(0), e.usageOf(t, ctx, "admin"))

		require.NoError(t, e.svc.Restore(ctx, "admin", id))
		assert.Equal(t, int64(43), e.usageOf(t, ctx, "alice"))
		assert.Equal(t, int64(0), e.usageOf(t, ctx, "admin"))
	})

	t.Run("Errors", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t)
		e.person(t, "alice", nil)
		id := e.text(t, ctx, "alice", nil, pangram1)

		require.ErrorIs(t, e.svc.Restore(ctx, "alice", id), content.ErrNotArchived)
		require.NoError(t, e.svc.Delete(ctx, "alice", id))
		require.ErrorIs(t, e.svc.Delete(ctx, "alice", id), content.ErrArchived)
		_, err := e.svc.WriteContent(ctx, "alice", id, []byte("x"))
		require.ErrorIs(t, err, content.ErrArchived)
	})
}

func TestCopy(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("Content", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t)
		e.person(t, "alice", nil)
		folder := e.folder(t, ctx, "alice", nil)
		id := e.text(t, ctx, "alice", folder, pangram1)

		c2, err := e.svc.Copy(ctx, "alice", id, folder)
		require.NoError(t, err)
		require.Equal(t, int64(86), e.usageOf(t, ctx, "alice"))
		c3, err := e.svc.Copy(ctx, "alice", id, folder)
		require.NoError(t, err)
		require.Equal(t, int64(129), e.usageOf(t, ctx, "alice"))

		data, err := e.svc.ReadContent(ctx, c3.ID)
		require.NoError(t, err)
		require.Equal(t, pangram1, string(data))

		require.NoError(t, e.svc.Delete(ctx, "alice", c2.ID))
		require.NoError(t, e.svc.Delete(ctx, "alice", c3.ID))
		require.NoError(t, e.svc.Delete(ctx, "alice", id))
		require.Equal(t, int64(0), e.usageOf(t, ctx, "alice"))
	})

	t.Run("FolderIntoItself", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t)
		e.person(t, "alice", nil)
		folder := e.folder(t, ctx, "alice", nil)
		e.text(t, ctx, "alice", folder, pangram1)
		e.text(t, ctx, "alice", folder, pangram2)
		e.text(t, ctx, "alice", folder, pangram3)
		require.Equal(t, int64(145), e.usageOf(t, ctx, "alice"))

		copied, err := e.svc.Copy(ctx, "alice", *folder, folder)
		require.NoError(t, err)
		require.Equal(t, int64(290), e.usageOf(t, ctx, "alice"))

		children, err := e.svc.ListChildren(ctx, copied.ID)
		require.NoError(t, err)
		require.Len(t, children, 3)
		require.Equal(t, 6, e.blobs.Len())

		require.NoError(t, e.svc.Delete(ctx, "alice", copied.ID))
		require.Equal(t, int64(145), e.usageOf(t, ctx, "alice"))
		require.NoError(t, e.svc.Delete(ctx, "alice", *folder))
		require.Equal(t, int64(0), e.usageOf(t, ctx, "alice"))
	})

	t.Run("ByOtherUser", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t)
		e.person(t, "alice", nil)
		e.person(t, "bob", nil)
		id := e.text(t, ctx, "alice", nil, pangram1)

		copied, err := e.svc.Copy(ctx, "bob", id, nil)
		require.NoError(t, err)
		assert.Equal(t, "bob", copied.Creator)
		assert.Equal(t, int64(43), e.usageOf(t, ctx, "alice"))
		assert.Equal(t, int64(43), e.usageOf(t, ctx, "bob"))
	})
}

func TestTakeOwnership(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	for _, inTx := range []bool{true, false} {
		name := "AcrossTx"
		if inTx {
			name = "InTx"
		}
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			e := newEnv(t)
			e.person(t, "alice", nil)
			e.person(t, "bob", nil)

			run := func(fn func(ctx context.Context)) {
				if !inTx {
					fn(ctx)
					return
				}
				require.NoError(t, e.txm.InTx(ctx, func(ctx context.Context, _ *txn.Tx) error {
					fn(ctx)
					return nil
				}))
			}

			run(func(ctx context.Context) {
				id := e.text(t, ctx, "alice", nil, pangram1)
				e.text(t, ctx, "alice", nil, pangram2)
				require.Equal(t, int64(87), e.usageOf(t, ctx, "alice"))

				_, err := e.svc.TakeOwnership(ctx, "bob", id)
				require.NoError(t, err)
				assert.Equal(t, int64(44), e.usageOf(t, ctx, "alice"))
				assert.Equal(t, int64(43), e.usageOf(t, ctx, "bob"))

				_, err = e.svc.SetOwner(ctx, "admin", id, "alice")
				require.NoError(t, err)
				assert.Equal(t, int64(87), e.usageOf(t, ctx, "alice"))
				assert.Equal(t, int64(0), e.usageOf(t, ctx, "bob"))
			})
		})
	}
}

func TestRemoveContent(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	e.person(t, "alice", nil)
	ctx := context.Background()

	id := e.text(t, ctx, "alice", nil, pangram1)
	node, err := e.svc.WriteContent(ctx, "alice", id, nil)
	require.NoError(t, err)
	assert.False(t, node.HasContent())
	assert.Equal(t, int64(0), e.usageOf(t, ctx, "alice"))
	assert.Zero(t, e.blobs.Len())

	_, err = e.svc.WriteContent(ctx, "alice", id, []byte(pangram2))
	require.NoError(t, err)
	assert.Equal(t, int64(44), e.usageOf(t, ctx, "alice"))
	assert.Equal(t, 1, e.blobs.Len())
}

func TestCreateContentErrors(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	e.person(t, "alice", nil)
	ctx := context.Background()

	file := e.text(t, ctx, "alice", nil, pangram1)
	_, err := e.svc.CreateContent(ctx, "alice", &file, "child.txt", []byte("x"))
	require.ErrorIs(t, err, content.ErrNotFolder)

	folder := e.folder(t, ctx, "alice", nil)
	_, err = e.svc.WriteContent(ctx, "alice", *folder, []byte("x"))
	require.ErrorIs(t, err, content.ErrNotContent)

	// Only the first text keeps its object.
	assert.Equal(t, 1, e.blobs.Len())
}

func TestQuotaRollback(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	e.person(t, "alice", domain.Int64Ptr(100))
	ctx := context.Background()

	e.text(t, ctx, "alice", nil, pangram1)
	_, err := e.svc.CreateContent(ctx, "alice", nil, "big.txt", []byte(pangram3))
	require.ErrorIs(t, err, usage.ErrQuotaExceeded)

	assert.Equal(t, int64(43), e.usageOf(t, ctx, "alice"))
	assert.Equal(t, 1, e.blobs.Len())
	assert.Equal(t, float64(1), testutil.ToFloat64(e.metrics.QuotaRejections))

	// Shrinking content is always allowed.
	id := e.text(t, ctx, "alice", nil, pangram2)
	_, err = e.svc.WriteContent(ctx, "alice", id, []byte(strings.Repeat("x", 10)))
	require.NoError(t, err)
	assert.Equal(t, int64(53), e.usageOf(t, ctx, "alice"))
}

func TestReadOnlyRepository(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	e.person(t, "alice", nil)
	ctx := context.Background()
	id := e.text(t, ctx, "alice", nil, pangram1)

	e.txm.SetAllowWrite(false, "maintenance")
	_, err := e.svc.CreateContent(ctx, "alice", nil, "new.txt", []byte(pangram2))
	require.ErrorIs(t, err, txn.ErrReadOnly)
	require.ErrorIs(t, e.svc.Delete(ctx, "alice", id), txn.ErrReadOnly)
	assert.Equal(t, 1, e.blobs.Len())

	data, err := e.svc.ReadContent(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, pangram1, string(data))

	e.txm.SetAllowWrite(true, "maintenance")
	_, err = e.svc.CreateContent(ctx, "alice", nil, "new.txt", []byte(pangram2))
	require.NoError(t, err)
}

func TestUpdatePerson(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	e.person(t, "alice", nil)
	ctx := context.Background()

	_, err := e.svc.UpdatePerson(ctx, "alice", "alice", content.PersonUpdate{SizeQuota: domain.Int64Ptr(1 << 30)})
	require.ErrorIs(t, err, usage.ErrProtectedProperty)
	_, err = e.svc.UpdatePerson(ctx, "alice", "alice", content.PersonUpdate{SizeCurrent: domain.Int64Ptr(5)})
	require.ErrorIs(t, err, usage.ErrProtectedProperty)

	p, err := e.svc.UpdatePerson(ctx, "admin", "alice", content.PersonUpdate{SizeQuota: domain.Int64Ptr(500)})
	require.NoError(t, err)
	assert.Equal(t, int64(500), p.Quota())

	p, err = e.svc.GetPerson(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(500), p.Quota())
	assert.Equal(t, int64(0), *p.SizeCurrent)
}

func TestPurgeArchived(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	e.person(t, "alice", nil)
	ctx := context.Background()

	folder := e.folder(t, ctx, "alice", nil)
	e.text(t, ctx, "alice", folder, pangram1)
	e.text(t, ctx, "alice", folder, pangram2)
	kept := e.text(t, ctx, "alice", nil, pangram3)
	require.NoError(t, e.svc.Delete(ctx, "alice", *folder))

	n, err := e.svc.PurgeArchived(ctx, 24*time.Hour)
	require.NoError(t, err)
	require.Zero(t, n)

	e.clock.Set(e.clock.Now().Add(48 * time.Hour))
	require.NoError(t, e.svc.Delete(ctx, "alice", kept))

	n, err = e.svc.PurgeArchived(ctx, 24*time.Hour)
	require.NoError(t, err)
	require.Equal(t, 3, n)
	assert.Equal(t, 1, e.blobs.Len())
	assert.Equal(t, float64(3), testutil.ToFloat64(e.metrics.ArchivePurged))

	_, err = e.svc.Get(ctx, *folder)
	require.Error(t, err)
	node, err := e.svc.Get(ctx, kept)
	require.NoError(t, err)
	assert.Equal(t, domain.ArchiveStore, node.StoreID)
}
