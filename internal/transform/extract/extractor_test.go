package extract

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feichai0017/content-pipeline/pkg/contentstore"
	"github.com/feichai0017/content-pipeline/pkg/logger"
	"github.com/feichai0017/content-pipeline/pkg/queue"
)

// countingStore counts original reads so tests can prove the extraction
// cache short-circuits repeat work.
type countingStore struct {
	contentstore.Store
	originalReads atomic.Int32
}

func (s *countingStore) GetOriginal(ctx context.Context, contentHash string) ([]byte, error) {
	s.originalReads.Add(1)
	return s.Store.GetOriginal(ctx, contentHash)
}

func newFixture(t *testing.T) (*Extractor, *countingStore) {
	t.Helper()
	log := logger.NewTestLogger()
	fs, err := contentstore.NewFSStore(t.TempDir(), "/files", log)
	require.NoError(t, err)
	store := &countingStore{Store: fs}
	return NewExtractor(store, log), store
}

func storeBytes(t *testing.T, store contentstore.Store, data []byte) string {
	t.Helper()
	hash, err := store.StoreOriginal(context.Background(), data, "input")
	require.NoError(t, err)
	return hash
}

func TestExtractPlainText(t *testing.T) {
	e, store := newFixture(t)
	hash := storeBytes(t, store, []byte("line one\nline two\n"))

	result, err := e.Extract(context.Background(), &Payload{ContentHash: hash, MimeType: "text/plain"})
	require.NoError(t, err)

	assert.Equal(t, "line one\nline two", result.Text)
	assert.Equal(t, len("line one\nline two"), result.TextLength)
	assert.False(t, result.Unsupported)
	assert.Equal(t, 2, result.Metadata["lines"])
}

func TestExtractMarkdownVerbatim(t *testing.T) {
	e, store := newFixture(t)
	content := "# Title\n\nSome *emphasis* here."
	hash := storeBytes(t, store, []byte(content))

	result, err := e.Extract(context.Background(), &Payload{ContentHash: hash, MimeType: "text/markdown"})
	require.NoError(t, err)

	// Markup is kept as-is; markdown is already readable text.
	assert.Equal(t, content, result.Text)
}

func TestExtractJSONIndents(t *testing.T) {
	e, store := newFixture(t)
	hash := storeBytes(t, store, []byte(`{"title":"report","count":2}`))

	result, err := e.Extract(context.Background(), &Payload{ContentHash: hash, MimeType: "application/json"})
	require.NoError(t, err)

	assert.Contains(t, result.Text, "\"title\": \"report\"")
	assert.Contains(t, result.Text, "\"count\": 2")

	// Deterministic output: a second pass yields identical text.
	again, err := e.Extract(context.Background(), &Payload{ContentHash: hash, MimeType: "application/json"})
	require.NoError(t, err)
	assert.Equal(t, result.Text, again.Text)
}

func TestExtractInvalidJSONFails(t *testing.T) {
	e, store := newFixture(t)
	hash := storeBytes(t, store, []byte(`{"broken":`))

	_, err := e.Extract(context.Background(), &Payload{ContentHash: hash, MimeType: "application/json"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, queue.SkipRetry)
}

func TestExtractLegacyWordUnsupported(t *testing.T) {
	e, store := newFixture(t)
	hash := storeBytes(t, store, []byte("\xd0\xcf\x11\xe0 legacy bytes"))

	result, err := e.Extract(context.Background(), &Payload{ContentHash: hash, MimeType: "application/msword"})
	require.NoError(t, err)

	assert.True(t, result.Unsupported)
	assert.Empty(t, result.Text)
}

func TestExtractUnknownMimeUnsupported(t *testing.T) {
	e, store := newFixture(t)
	hash := storeBytes(t, store, []byte("binary blob"))

	result, err := e.Extract(context.Background(), &Payload{ContentHash: hash, MimeType: "application/zip"})
	require.NoError(t, err)
	assert.True(t, result.Unsupported)
}

func TestExtractCachesResult(t *testing.T) {
	e, store := newFixture(t)
	hash := storeBytes(t, store, []byte("cache me"))
	p := &Payload{ContentHash: hash, MimeType: "text/plain"}

	first, err := e.Extract(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, int32(1), store.originalReads.Load())

	second, err := e.Extract(context.Background(), p)
	require.NoError(t, err)

	// The second pass is served from cache without touching the original.
	assert.Equal(t, int32(1), store.originalReads.Load())
	assert.Equal(t, first.Text, second.Text)
	assert.Equal(t, first.Metadata["mimeType"], second.Metadata["mimeType"])
}

func TestExtractUnsupportedIsNotCached(t *testing.T) {
	e, store := newFixture(t)
	hash := storeBytes(t, store, []byte("opaque"))
	p := &Payload{ContentHash: hash, MimeType: "application/zip"}

	_, err := e.Extract(context.Background(), p)
	require.NoError(t, err)

	exists, err := store.CacheExists(context.Background(), hash, contentstore.KindText)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestExtractMissingContentHash(t *testing.T) {
	e, _ := newFixture(t)

	_, err := e.Extract(context.Background(), &Payload{MimeType: "text/plain"})
	require.Error(t, err)
	assert.ErrorIs(t, err, queue.SkipRetry)
}

func TestExtractMissingOriginal(t *testing.T) {
	e, _ := newFixture(t)

	_, err := e.Extract(context.Background(), &Payload{
		ContentHash: contentstore.HashBytes([]byte("missing")),
		MimeType:    "text/plain",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, queue.SkipRetry)
}

func TestExtractMimeParameterStripped(t *testing.T) {
	e, store := newFixture(t)
	hash := storeBytes(t, store, []byte("charset tagged"))

	result, err := e.Extract(context.Background(), &Payload{ContentHash: hash, MimeType: "text/plain; charset=utf-8"})
	require.NoError(t, err)
	assert.Equal(t, "charset tagged", result.Text)
	assert.False(t, result.Unsupported)
}

func TestHandlerRoundTrip(t *testing.T) {
	e, store := newFixture(t)
	hash := storeBytes(t, store, []byte("handler text"))

	payload, err := json.Marshal(Payload{ContentHash: hash, MimeType: "text/plain"})
	require.NoError(t, err)

	data, err := e.Handler(context.Background(), payload)
	require.NoError(t, err)

	var result Result
	require.NoError(t, json.Unmarshal(data, &result))
	assert.Equal(t, "handler text", result.Text)

	_, err = e.Handler(context.Background(), []byte("not json"))
	assert.ErrorIs(t, err, queue.SkipRetry)
}
