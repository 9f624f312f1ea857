package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feichai0017/content-pipeline/internal/docstate"
	"github.com/feichai0017/content-pipeline/internal/transform/extract"
	"github.com/feichai0017/content-pipeline/internal/transform/optimize"
	"github.com/feichai0017/content-pipeline/pkg/contentstore"
	"github.com/feichai0017/content-pipeline/pkg/logger"
	"github.com/feichai0017/content-pipeline/pkg/queue"
)

// recordingQueue captures fan-out without running any handlers.
type recordingQueue struct {
	mu   sync.Mutex
	jobs []recordedJob
}

type recordedJob struct {
	lane    queue.Lane
	payload []byte
}

func (q *recordingQueue) AddJob(ctx context.Context, lane queue.Lane, payload []byte, opts ...queue.EnqueueOption) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, recordedJob{lane: lane, payload: payload})
	return fmt.Sprintf("job-%d", len(q.jobs)), nil
}

func (q *recordingQueue) GetJob(ctx context.Context, jobID string) (*queue.JobInfo, error) {
	return nil, queue.ErrJobNotFound
}

func (q *recordingQueue) Status(ctx context.Context) (map[queue.Lane]queue.LaneCounts, error) {
	return map[queue.Lane]queue.LaneCounts{}, nil
}

func (q *recordingQueue) Register(lane queue.Lane, handler queue.Handler) {}
func (q *recordingQueue) Start(ctx context.Context) error                { return nil }
func (q *recordingQueue) Shutdown(ctx context.Context) error             { return nil }

func (q *recordingQueue) byLane(lane queue.Lane) []recordedJob {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []recordedJob
	for _, j := range q.jobs {
		if j.lane == lane {
			out = append(out, j)
		}
	}
	return out
}

type fixture struct {
	service   *Service
	queue     *recordingQueue
	store     contentstore.Store
	documents *docstate.MemoryStore
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	log := logger.NewTestLogger()
	store, err := contentstore.NewFSStore(t.TempDir(), "/files", log)
	require.NoError(t, err)

	q := &recordingQueue{}
	documents := docstate.NewMemoryStore()
	service := NewService(q, store, documents, extract.NewExtractor(store, log), opts, log)

	return &fixture{service: service, queue: q, store: store, documents: documents}
}

func (f *fixture) storeBytes(t *testing.T, data []byte, name string) string {
	t.Helper()
	hash, err := f.store.StoreOriginal(context.Background(), data, name)
	require.NoError(t, err)
	return hash
}

func (f *fixture) run(t *testing.T, p Payload) (*Outcome, error) {
	t.Helper()
	payload, err := json.Marshal(p)
	require.NoError(t, err)

	result, err := f.service.Handler(context.Background(), payload)
	if err != nil {
		return nil, err
	}
	var outcome Outcome
	require.NoError(t, json.Unmarshal(result, &outcome))
	return &outcome, nil
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for x := 0; x < 4; x++ {
		for y := 0; y < 4; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 60), G: uint8(y * 60), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// pdfBytes assembles a minimal single-page PDF, computing the xref
// offsets while writing. Empty text produces an empty content stream,
// the shape of a scanned page.
func pdfBytes(t *testing.T, text string) []byte {
	t.Helper()
	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")

	offsets := make([]int, 6)
	writeObj := func(num int, body string) {
		offsets[num] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", num, body)
	}

	content := ""
	if text != "" {
		content = "BT /F1 12 Tf 72 712 Td (" + text + ") Tj ET"
	}

	writeObj(1, "<< /Type /Catalog /Pages 2 0 R >>")
	writeObj(2, "<< /Type /Pages /Kids [3 0 R] /Count 1 >>")
	writeObj(3, "<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Contents 4 0 R /Resources << /Font << /F1 5 0 R >> >> >>")
	writeObj(4, fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(content), content))
	writeObj(5, "<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>")

	xrefPos := buf.Len()
	buf.WriteString("xref\n0 6\n0000000000 65535 f \n")
	for i := 1; i <= 5; i++ {
		fmt.Fprintf(&buf, "%010d 00000 n \n", offsets[i])
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size 6 /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", xrefPos)
	return buf.Bytes()
}

func TestHandlerImageFanOut(t *testing.T) {
	f := newFixture(t, Options{})
	hash := f.storeBytes(t, pngBytes(t), "photo.png")

	outcome, err := f.run(t, Payload{ContentHash: hash, DocumentID: "doc-1", MimeType: "image/png"})
	require.NoError(t, err)

	assert.Equal(t, "image", outcome.Category)
	assert.Equal(t, docstate.StatusVisual, outcome.Status)

	doc, err := f.documents.Get(context.Background(), "doc-1")
	require.NoError(t, err)
	assert.Equal(t, docstate.StatusVisual, doc.Status)
	assert.Equal(t, []docstate.Status{docstate.StatusProcessing, docstate.StatusVisual}, f.documents.Transitions("doc-1"))

	optimizeJobs := f.queue.byLane(queue.LaneImageOptimize)
	require.Len(t, optimizeJobs, 2)

	var presets []string
	for _, j := range optimizeJobs {
		var p optimize.Payload
		require.NoError(t, json.Unmarshal(j.payload, &p))
		assert.Equal(t, hash, p.ContentHash)
		assert.Equal(t, "doc-1", p.DocumentID)
		presets = append(presets, p.Preset)
	}
	assert.ElementsMatch(t, []string{optimize.PresetAIChat, optimize.PresetThumbnail}, presets)

	// OCR is disabled by default.
	assert.Empty(t, f.queue.byLane(queue.LaneOCRProcess))
}

func TestHandlerImageWithOCREnabled(t *testing.T) {
	f := newFixture(t, Options{EnableOCR: true, OCRProvider: "local"})
	hash := f.storeBytes(t, pngBytes(t), "scan.png")

	_, err := f.run(t, Payload{ContentHash: hash, DocumentID: "doc-2", MimeType: "image/png"})
	require.NoError(t, err)

	ocrJobs := f.queue.byLane(queue.LaneOCRProcess)
	require.Len(t, ocrJobs, 1)
	assert.Contains(t, string(ocrJobs[0].payload), hash)
	assert.Contains(t, string(ocrJobs[0].payload), "local")
}

func TestHandlerPlainTextCompletes(t *testing.T) {
	f := newFixture(t, Options{})
	hash := f.storeBytes(t, []byte("Hello, pipeline."), "note.txt")

	outcome, err := f.run(t, Payload{ContentHash: hash, DocumentID: "doc-3", MimeType: "text/plain"})
	require.NoError(t, err)

	assert.Equal(t, "text-extractable", outcome.Category)
	assert.Equal(t, docstate.StatusCompleted, outcome.Status)
	assert.Equal(t, len("Hello, pipeline."), outcome.TextLength)

	doc, err := f.documents.Get(context.Background(), "doc-3")
	require.NoError(t, err)
	assert.Equal(t, docstate.StatusCompleted, doc.Status)
	assert.Equal(t, "Hello, pipeline.", doc.Text)
	assert.Equal(t, "text", doc.Method)

	// Nothing to fan out for text documents.
	assert.Empty(t, f.queue.jobs)
}

func TestHandlerJSONCompletesWithIndentedText(t *testing.T) {
	f := newFixture(t, Options{})
	hash := f.storeBytes(t, []byte(`{"name":"report","pages":3}`), "data.json")

	_, err := f.run(t, Payload{ContentHash: hash, DocumentID: "doc-4", MimeType: "application/json"})
	require.NoError(t, err)

	doc, err := f.documents.Get(context.Background(), "doc-4")
	require.NoError(t, err)
	assert.Equal(t, docstate.StatusCompleted, doc.Status)
	assert.Contains(t, doc.Text, "\"name\": \"report\"")
}

func TestHandlerPDFCompletes(t *testing.T) {
	f := newFixture(t, Options{})
	hash := f.storeBytes(t, pdfBytes(t, "Hello world"), "report.pdf")

	outcome, err := f.run(t, Payload{ContentHash: hash, DocumentID: "doc-pdf", MimeType: "application/pdf"})
	require.NoError(t, err)

	assert.Equal(t, "text-extractable", outcome.Category)
	assert.Equal(t, docstate.StatusCompleted, outcome.Status)

	doc, err := f.documents.Get(context.Background(), "doc-pdf")
	require.NoError(t, err)
	assert.Equal(t, docstate.StatusCompleted, doc.Status)
	assert.Equal(t, "Hello world", doc.Text)
	assert.Equal(t, "text", doc.Method)
	assert.Equal(t, 1, doc.Metadata["pages"])
}

func TestHandlerTextlessPDFFallsBackToVisual(t *testing.T) {
	f := newFixture(t, Options{EnableOCR: true, OCRProvider: "local"})
	hash := f.storeBytes(t, pdfBytes(t, ""), "scan.pdf")

	outcome, err := f.run(t, Payload{ContentHash: hash, DocumentID: "doc-scan", MimeType: "application/pdf"})
	require.NoError(t, err)

	// A scanned PDF has no embedded text; it stays viewable and gets the
	// OCR fallback instead of failing.
	assert.Equal(t, docstate.StatusVisual, outcome.Status)

	doc, err := f.documents.Get(context.Background(), "doc-scan")
	require.NoError(t, err)
	assert.Equal(t, docstate.StatusVisual, doc.Status)
	assert.Len(t, f.queue.byLane(queue.LaneOCRProcess), 1)
}

func TestHandlerEmptyTextFallsBackToVisual(t *testing.T) {
	f := newFixture(t, Options{EnableOCR: true, OCRProvider: "local"})
	hash := f.storeBytes(t, []byte("   \n  "), "blank.txt")

	outcome, err := f.run(t, Payload{ContentHash: hash, DocumentID: "doc-5", MimeType: "text/plain"})
	require.NoError(t, err)

	// No embedded text is not a failure; the document stays viewable and
	// OCR gets a chance at it.
	assert.Equal(t, docstate.StatusVisual, outcome.Status)
	doc, err := f.documents.Get(context.Background(), "doc-5")
	require.NoError(t, err)
	assert.Equal(t, docstate.StatusVisual, doc.Status)
	assert.Len(t, f.queue.byLane(queue.LaneOCRProcess), 1)
}

func TestHandlerLegacyWordFallsBackToVisual(t *testing.T) {
	f := newFixture(t, Options{})
	hash := f.storeBytes(t, []byte("\xd0\xcf\x11\xe0 legacy word bytes"), "old.doc")

	outcome, err := f.run(t, Payload{ContentHash: hash, DocumentID: "doc-6", MimeType: "application/msword"})
	require.NoError(t, err)

	assert.Equal(t, docstate.StatusVisual, outcome.Status)
}

func TestHandlerUnsupportedMimeGoesVisual(t *testing.T) {
	f := newFixture(t, Options{})
	hash := f.storeBytes(t, []byte("PK\x03\x04 archive bytes"), "bundle.zip")

	outcome, err := f.run(t, Payload{ContentHash: hash, DocumentID: "doc-7", MimeType: "application/zip"})
	require.NoError(t, err)

	assert.Equal(t, "unsupported", outcome.Category)
	assert.Equal(t, docstate.StatusVisual, outcome.Status)
	assert.Empty(t, f.queue.jobs)
}

func TestHandlerSniffsMissingMimeType(t *testing.T) {
	f := newFixture(t, Options{})
	hash := f.storeBytes(t, pngBytes(t), "unnamed")

	outcome, err := f.run(t, Payload{ContentHash: hash, DocumentID: "doc-8"})
	require.NoError(t, err)

	// The stored bytes are a PNG, so sniffing routes to the image path.
	assert.Equal(t, "image", outcome.Category)
	assert.Len(t, f.queue.byLane(queue.LaneImageOptimize), 2)
}

func TestHandlerSniffsOctetStream(t *testing.T) {
	f := newFixture(t, Options{})
	hash := f.storeBytes(t, []byte("just plain words"), "blob")

	_, err := f.run(t, Payload{ContentHash: hash, DocumentID: "doc-9", MimeType: "application/octet-stream"})
	require.NoError(t, err)

	doc, err := f.documents.Get(context.Background(), "doc-9")
	require.NoError(t, err)
	assert.Equal(t, docstate.StatusCompleted, doc.Status)
	assert.Equal(t, "just plain words", doc.Text)
}

func TestHandlerRejectsIncompletePayload(t *testing.T) {
	f := newFixture(t, Options{})

	_, err := f.service.Handler(context.Background(), []byte(`{"mimeType":"text/plain"}`))
	require.Error(t, err)
	assert.ErrorIs(t, err, queue.SkipRetry)

	// Validation failures happen before any state transition.
	_, err = f.documents.Get(context.Background(), "")
	assert.ErrorIs(t, err, docstate.ErrNotFound)
}

func TestHandlerRejectsMalformedPayload(t *testing.T) {
	f := newFixture(t, Options{})

	_, err := f.service.Handler(context.Background(), []byte("not json"))
	require.Error(t, err)
	assert.ErrorIs(t, err, queue.SkipRetry)
}

func TestHandlerExtractionErrorMarksFailed(t *testing.T) {
	f := newFixture(t, Options{})
	hash := f.storeBytes(t, []byte(`{"broken":`), "bad.json")

	_, err := f.run(t, Payload{ContentHash: hash, DocumentID: "doc-10", MimeType: "application/json"})
	require.Error(t, err)

	doc, getErr := f.documents.Get(context.Background(), "doc-10")
	require.NoError(t, getErr)
	assert.Equal(t, docstate.StatusFailed, doc.Status)
	assert.NotEmpty(t, doc.Error)
	assert.Equal(t, []docstate.Status{docstate.StatusProcessing, docstate.StatusFailed}, f.documents.Transitions("doc-10"))
}

func TestHandlerMissingOriginalFailsTerminally(t *testing.T) {
	f := newFixture(t, Options{})
	hash := contentstore.HashBytes([]byte("never stored"))

	_, err := f.run(t, Payload{ContentHash: hash, DocumentID: "doc-11", MimeType: "text/plain"})
	require.Error(t, err)
	assert.ErrorIs(t, err, queue.SkipRetry)

	doc, getErr := f.documents.Get(context.Background(), "doc-11")
	require.NoError(t, getErr)
	assert.Equal(t, docstate.StatusFailed, doc.Status)
}

func TestHandlerAlwaysReachesTerminalState(t *testing.T) {
	tests := []struct {
		name     string
		mimeType string
		data     []byte
		want     docstate.Status
	}{
		{"png image", "image/png", nil, docstate.StatusVisual},
		{"plain text", "text/plain", []byte("words"), docstate.StatusCompleted},
		{"markdown", "text/markdown", []byte("# title"), docstate.StatusCompleted},
		{"csv", "text/csv", []byte("a,b\n1,2"), docstate.StatusCompleted},
		{"json", "application/json", []byte(`{"k":1}`), docstate.StatusCompleted},
		{"legacy word", "application/msword", []byte("legacy"), docstate.StatusVisual},
		{"archive", "application/zip", []byte("PK"), docstate.StatusVisual},
		{"video", "video/mp4", []byte("mp4 bytes"), docstate.StatusVisual},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, Options{})
			data := tt.data
			if data == nil {
				data = pngBytes(t)
			}
			hash := f.storeBytes(t, data, tt.name)
			docID := fmt.Sprintf("doc-term-%d", i)

			_, err := f.run(t, Payload{ContentHash: hash, DocumentID: docID, MimeType: tt.mimeType})
			require.NoError(t, err)

			doc, err := f.documents.Get(context.Background(), docID)
			require.NoError(t, err)
			assert.Equal(t, tt.want, doc.Status)
			assert.NotEqual(t, docstate.StatusProcessing, doc.Status)
		})
	}
}

func TestHandlerRerunIsIdempotent(t *testing.T) {
	f := newFixture(t, Options{})
	hash := f.storeBytes(t, []byte("stable text"), "note.txt")
	p := Payload{ContentHash: hash, DocumentID: "doc-12", MimeType: "text/plain"}

	first, err := f.run(t, p)
	require.NoError(t, err)
	second, err := f.run(t, p)
	require.NoError(t, err)

	assert.Equal(t, first.Status, second.Status)
	assert.Equal(t, first.TextLength, second.TextLength)

	doc, err := f.documents.Get(context.Background(), "doc-12")
	require.NoError(t, err)
	assert.Equal(t, "stable text", doc.Text)
}
