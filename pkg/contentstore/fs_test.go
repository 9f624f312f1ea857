package contentstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feichai0017/content-pipeline/pkg/logger"
)

func newTestStore(t *testing.T) *FSStore {
	t.Helper()
	store, err := NewFSStore(t.TempDir(), "/files", logger.NewTestLogger())
	require.NoError(t, err)
	return store
}

func TestStoreOriginalDedup(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	data := []byte("the same bytes")

	hash1, err := store.StoreOriginal(ctx, data, "first.txt")
	require.NoError(t, err)

	hash2, err := store.StoreOriginal(ctx, data, "second.txt")
	require.NoError(t, err)

	assert.Equal(t, hash1, hash2)
	assert.Equal(t, HashBytes(data), hash1)

	exists, err := store.OriginalExists(ctx, hash1)
	require.NoError(t, err)
	assert.True(t, exists)

	got, err := store.GetOriginal(ctx, hash1)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestGetOriginalNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetOriginal(context.Background(), HashBytes([]byte("never stored")))
	assert.ErrorIs(t, err, ErrNotFound)

	exists, err := store.OriginalExists(context.Background(), HashBytes([]byte("never stored")))
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestCacheRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	hash := HashBytes([]byte("source"))

	exists, err := store.CacheExists(ctx, hash, "thumbnail")
	require.NoError(t, err)
	assert.False(t, exists)

	_, err = store.GetCache(ctx, hash, "thumbnail")
	assert.ErrorIs(t, err, ErrNotFound)

	artifact := []byte("derived bytes")
	require.NoError(t, store.SaveCache(ctx, hash, "thumbnail", artifact, "image/png"))

	exists, err = store.CacheExists(ctx, hash, "thumbnail")
	require.NoError(t, err)
	assert.True(t, exists)

	// Repeated reads return byte-identical output.
	for i := 0; i < 3; i++ {
		got, err := store.GetCache(ctx, hash, "thumbnail")
		require.NoError(t, err)
		assert.Equal(t, artifact, got)
	}
}

func TestCacheKindsAreIndependent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	hash := HashBytes([]byte("source"))

	require.NoError(t, store.SaveCache(ctx, hash, "text", []byte("text artifact"), "text/plain"))
	require.NoError(t, store.SaveCache(ctx, hash, "ocr", []byte("ocr artifact"), "text/plain"))

	text, err := store.GetCache(ctx, hash, "text")
	require.NoError(t, err)
	assert.Equal(t, []byte("text artifact"), text)

	ocr, err := store.GetCache(ctx, hash, "ocr")
	require.NoError(t, err)
	assert.Equal(t, []byte("ocr artifact"), ocr)
}

func TestCacheURL(t *testing.T) {
	store := newTestStore(t)
	hash := HashBytes([]byte("source"))

	url, err := store.CacheURL(context.Background(), hash, "ai-chat")
	require.NoError(t, err)
	assert.Equal(t, "/files/cache/"+hash+"/ai-chat", url)
}

func TestCleanupOldCache(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	hash := HashBytes([]byte("source"))

	_, err := store.StoreOriginal(ctx, []byte("source"), "source.bin")
	require.NoError(t, err)
	require.NoError(t, store.SaveCache(ctx, hash, "thumbnail", []byte("old artifact"), "image/png"))

	// Nothing is old enough yet.
	removed, err := store.CleanupOldCache(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 0, removed)

	// With a zero threshold everything cached is stale.
	removed, err = store.CleanupOldCache(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	exists, err := store.CacheExists(ctx, hash, "thumbnail")
	require.NoError(t, err)
	assert.False(t, exists)

	// Originals survive every sweep.
	exists, err = store.OriginalExists(ctx, hash)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestCleanupOldCacheSweepsAllEntries(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	// Entries across several hashes and kinds, each with its metadata
	// sidecar. Removing an artifact mid-walk must not abort the sweep.
	hashes := []string{
		HashBytes([]byte("first source")),
		HashBytes([]byte("second source")),
		HashBytes([]byte("third source")),
	}
	for _, hash := range hashes {
		require.NoError(t, store.SaveCache(ctx, hash, "thumbnail", []byte("artifact"), "image/png"))
		require.NoError(t, store.SaveCache(ctx, hash, "text", []byte("text artifact"), "text/plain"))
	}

	removed, err := store.CleanupOldCache(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 6, removed)

	for _, hash := range hashes {
		for _, kind := range []string{"thumbnail", "text"} {
			exists, err := store.CacheExists(ctx, hash, kind)
			require.NoError(t, err)
			assert.False(t, exists)
		}
	}

	// A repeat sweep over the emptied tree is a clean no-op.
	removed, err = store.CleanupOldCache(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, removed)
}

func TestConcurrentStoreOriginal(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	data := []byte("concurrently stored bytes")

	done := make(chan string, 8)
	for i := 0; i < 8; i++ {
		go func() {
			hash, err := store.StoreOriginal(ctx, data, "racy.bin")
			assert.NoError(t, err)
			done <- hash
		}()
	}

	want := HashBytes(data)
	for i := 0; i < 8; i++ {
		assert.Equal(t, want, <-done)
	}

	got, err := store.GetOriginal(ctx, want)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}
