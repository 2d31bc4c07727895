package core

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBlobStorePutGetHas(t *testing.T) {
	store := NewBlobStore()
	c, err := store.Put([]byte("artifact-bytes"))
	require.NoError(t, err)
	require.True(t, store.Has(c))

	got, err := store.Get(c)
	require.NoError(t, err)
	require.Equal(t, []byte("artifact-bytes"), got)
}

func TestBlobStoreGetMissing(t *testing.T) {
	store := NewBlobStore()
	fake, err := cidFor([]byte("never-stored"))
	require.NoError(t, err)
	_, err = store.Get(fake)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestBlobStorePinProtectsFromGC(t *testing.T) {
	store := NewBlobStore()
	pinned, err := store.Put([]byte("keep-me"))
	require.NoError(t, err)
	unpinned, err := store.Put([]byte("drop-me"))
	require.NoError(t, err)

	require.NoError(t, store.Pin(pinned))
	removed := store.GC()
	require.Equal(t, 1, removed)
	require.True(t, store.Has(pinned))
	require.False(t, store.Has(unpinned))
}
