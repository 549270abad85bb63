package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/offerscout/offerscout/internal/storage"
)

func TestBlobStore_RoundTrip(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	ctx := context.Background()

	uri, err := store.PutObject(ctx, "runs/exec-1/results.json", "application/json", []byte(`[]`))
	require.NoError(t, err)
	require.Equal(t, "memory://runs/exec-1/results.json", uri)

	data, err := store.GetObject(ctx, "runs/exec-1/results.json")
	require.NoError(t, err)
	require.Equal(t, []byte(`[]`), data)

	require.NoError(t, store.DeleteObject(ctx, "runs/exec-1/results.json"))
	_, err = store.GetObject(ctx, "runs/exec-1/results.json")
	require.ErrorIs(t, err, storage.ErrObjectNotFound)
}

func TestBlobStore_EmptyPathRejected(t *testing.T) {
	t.Parallel()

	_, err := NewBlobStore().PutObject(context.Background(), "", "", []byte("x"))
	require.Error(t, err)
}

func TestBlobStore_ReturnsCopies(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	ctx := context.Background()

	original := []byte("abc")
	_, err := store.PutObject(ctx, "k", "", original)
	require.NoError(t, err)
	original[0] = 'z'

	data, err := store.GetObject(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, []byte("abc"), data)

	data[0] = 'q'
	again, err := store.GetObject(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, []byte("abc"), again)
}
