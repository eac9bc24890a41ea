package blob_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"synxronusage/internal/blob"
)

func TestMemory(t *testing.T) {
	t.Parallel()
	m := blob.NewMemory()
	ctx := context.Background()

	require.Error(t, m.Put(ctx, "", []byte("x")))
	require.NoError(t, m.Put(ctx, "a", []byte("hello")))
	require.NoError(t, m.Copy(ctx, "a", "b"))

	data, err := m.Get(ctx, "b")
	require.NoError(t, err)
	require.Equal(t, "hello", string(data))
	require.Equal(t, 2, m.Len())

	require.NoError(t, m.Delete(ctx, "a"))
	require.NoError(t, m.Delete(ctx, "a"))
	_, err = m.Get(ctx, "a")
	require.ErrorIs(t, err, blob.ErrNotFound)
	require.ErrorIs(t, m.Copy(ctx, "a", "c"), blob.ErrNotFound)
}
