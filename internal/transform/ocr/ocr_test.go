package ocr

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feichai0017/content-pipeline/pkg/contentstore"
	"github.com/feichai0017/content-pipeline/pkg/logger"
	"github.com/feichai0017/content-pipeline/pkg/queue"
)

type fakeEngine struct {
	calls    atomic.Int32
	text     string
	err      error
	language string
}

func (e *fakeEngine) Recognize(ctx context.Context, image []byte, language string) (string, error) {
	e.calls.Add(1)
	e.language = language
	if e.err != nil {
		return "", e.err
	}
	return e.text, nil
}

func newFixture(t *testing.T) (*Processor, contentstore.Store, *fakeEngine) {
	t.Helper()
	log := logger.NewTestLogger()
	store, err := contentstore.NewFSStore(t.TempDir(), "/files", log)
	require.NoError(t, err)

	engine := &fakeEngine{text: "recognized text"}
	p := NewProcessor(store, "local", "eng", log)
	p.RegisterEngine("local", engine)
	return p, store, engine
}

func storeImage(t *testing.T, store contentstore.Store) string {
	t.Helper()
	hash, err := store.StoreOriginal(context.Background(), []byte("image bytes"), "scan.png")
	require.NoError(t, err)
	return hash
}

func TestProcessRecognizesAndCaches(t *testing.T) {
	p, store, engine := newFixture(t)
	hash := storeImage(t, store)

	result, err := p.Process(context.Background(), &Payload{ContentHash: hash})
	require.NoError(t, err)

	assert.Equal(t, "recognized text", result.Text)
	assert.Equal(t, len("recognized text"), result.TextLength)
	assert.False(t, result.CacheHit)
	assert.Equal(t, "local", result.Provider)
	assert.Equal(t, "eng", engine.language)

	cached, err := store.GetCache(context.Background(), hash, contentstore.KindOCR)
	require.NoError(t, err)
	assert.Equal(t, "recognized text", string(cached))
}

func TestProcessSecondRunIsCacheHit(t *testing.T) {
	p, store, engine := newFixture(t)
	hash := storeImage(t, store)

	_, err := p.Process(context.Background(), &Payload{ContentHash: hash})
	require.NoError(t, err)

	result, err := p.Process(context.Background(), &Payload{ContentHash: hash})
	require.NoError(t, err)

	assert.True(t, result.CacheHit)
	assert.Equal(t, "recognized text", result.Text)
	// The engine ran exactly once.
	assert.Equal(t, int32(1), engine.calls.Load())
}

func TestProcessPayloadOverridesDefaults(t *testing.T) {
	p, store, _ := newFixture(t)
	hash := storeImage(t, store)

	other := &fakeEngine{text: "other provider text"}
	p.RegisterEngine("remote", other)

	result, err := p.Process(context.Background(), &Payload{
		ContentHash: hash,
		Provider:    "remote",
		Language:    "deu",
	})
	require.NoError(t, err)

	assert.Equal(t, "remote", result.Provider)
	assert.Equal(t, "other provider text", result.Text)
	assert.Equal(t, "deu", other.language)
}

func TestProcessUnknownProviderIsConfigError(t *testing.T) {
	p, store, engine := newFixture(t)
	hash := storeImage(t, store)

	_, err := p.Process(context.Background(), &Payload{ContentHash: hash, Provider: "cloud-x"})
	require.Error(t, err)
	assert.ErrorIs(t, err, queue.SkipRetry)
	// No silent fallback to the default engine.
	assert.Equal(t, int32(0), engine.calls.Load())
}

func TestProcessMissingOriginalSkipsRetry(t *testing.T) {
	p, _, _ := newFixture(t)

	_, err := p.Process(context.Background(), &Payload{
		ContentHash: contentstore.HashBytes([]byte("missing")),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, queue.SkipRetry)
}

func TestProcessEngineFailureIsRetryable(t *testing.T) {
	p, store, engine := newFixture(t)
	hash := storeImage(t, store)
	engine.err = fmt.Errorf("engine temporarily unavailable")

	_, err := p.Process(context.Background(), &Payload{ContentHash: hash})
	require.Error(t, err)
	assert.NotErrorIs(t, err, queue.SkipRetry)

	// A failed recognition leaves no cache entry behind.
	exists, checkErr := store.CacheExists(context.Background(), hash, contentstore.KindOCR)
	require.NoError(t, checkErr)
	assert.False(t, exists)
}

func TestProcessMissingContentHash(t *testing.T) {
	p, _, _ := newFixture(t)

	_, err := p.Process(context.Background(), &Payload{})
	require.Error(t, err)
	assert.ErrorIs(t, err, queue.SkipRetry)
}

func TestHandlerRejectsMalformedPayload(t *testing.T) {
	p, _, _ := newFixture(t)

	_, err := p.Handler(context.Background(), []byte("not json"))
	require.Error(t, err)
	assert.ErrorIs(t, err, queue.SkipRetry)
}
