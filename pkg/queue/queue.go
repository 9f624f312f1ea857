package queue

import (
	"context"
	"errors"
	"time"
)

// Lane is a named work queue with its own priority, concurrency bound
// and retry policy. Lanes are independent: there is no ordering
// relationship across lanes.
type Lane string

const (
	LaneIngestFile    Lane = "ingest-file"
	LaneImageOptimize Lane = "image-optimize"
	LaneTextExtract   Lane = "text-extract"
	LaneOCRProcess    Lane = "ocr-process"
)

var (
	// ErrLaneUnknown is returned when a job targets an unregistered lane.
	ErrLaneUnknown = errors.New("unknown lane")
	// ErrJobNotFound is returned when a job id has no record, either
	// because it never existed or its retention window has passed.
	ErrJobNotFound = errors.New("job not found")
	// SkipRetry marks a handler error as non-retryable. A handler that
	// returns an error wrapping SkipRetry fails the job terminally
	// without consuming further retry budget.
	SkipRetry = errors.New("skip retry")
)

// LaneConfig holds per-lane scheduling parameters.
type LaneConfig struct {
	// Priority is the lane's default enqueue priority. Higher values are
	// dequeued first within a lane's backlog.
	Priority int
	// Concurrency bounds simultaneously active jobs in the lane.
	Concurrency int
	// RetryLimit is the number of re-deliveries after the first attempt.
	RetryLimit int
	// RetryDelay is the fixed wait between attempts.
	RetryDelay time.Duration
}

// DefaultLanes returns the lane table for the pipeline. Ingestion and
// image optimization tolerate higher concurrency, text extraction is
// moderate, and OCR is serialized because it fronts a rate-limited
// engine.
func DefaultLanes() map[Lane]LaneConfig {
	return map[Lane]LaneConfig{
		LaneIngestFile:    {Priority: 5, Concurrency: 5, RetryLimit: 3, RetryDelay: 30 * time.Second},
		LaneImageOptimize: {Priority: 3, Concurrency: 5, RetryLimit: 3, RetryDelay: 30 * time.Second},
		LaneTextExtract:   {Priority: 3, Concurrency: 3, RetryLimit: 3, RetryDelay: 30 * time.Second},
		LaneOCRProcess:    {Priority: 1, Concurrency: 1, RetryLimit: 3, RetryDelay: 30 * time.Second},
	}
}

// State is the public job state vocabulary. Internal retry bookkeeping
// (a job waiting on its retry delay) maps onto StatePending.
type State string

const (
	StatePending    State = "pending"
	StateProcessing State = "processing"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
)

// JobInfo is the queryable record of a job.
type JobInfo struct {
	ID          string     `json:"id"`
	Lane        Lane       `json:"lane"`
	State       State      `json:"state"`
	Priority    int        `json:"priority"`
	RetryCount  int        `json:"retryCount"`
	Result      []byte     `json:"result,omitempty"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// LaneCounts reports per-lane job counts for operational visibility.
type LaneCounts struct {
	Pending   int `json:"pending"`
	Active    int `json:"active"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// Handler processes one job delivery. The payload is the exact bytes
// passed to AddJob; retries re-deliver the same payload. The returned
// bytes are retained as the job result.
type Handler func(ctx context.Context, payload []byte) ([]byte, error)

// EnqueueOption adjusts a single enqueue call.
type EnqueueOption func(*EnqueueOptions)

type EnqueueOptions struct {
	Priority *int
}

// WithPriority overrides the lane's default priority for one job.
func WithPriority(p int) EnqueueOption {
	return func(o *EnqueueOptions) { o.Priority = &p }
}

// Queue delivers jobs to registered lane handlers with at-least-once
// semantics, per-lane concurrency bounds and a fixed retry policy.
type Queue interface {
	// AddJob enqueues a payload on a lane and returns the job id
	// immediately; it never blocks on processing.
	AddJob(ctx context.Context, lane Lane, payload []byte, opts ...EnqueueOption) (string, error)
	// GetJob reports a job's public state, result or error.
	GetJob(ctx context.Context, jobID string) (*JobInfo, error)
	// Status reports per-lane counts.
	Status(ctx context.Context) (map[Lane]LaneCounts, error)
	// Register binds a handler to a lane. Must be called before Start.
	Register(lane Lane, handler Handler)
	// Start begins delivering jobs.
	Start(ctx context.Context) error
	// Shutdown stops accepting deliveries and drains in-flight work.
	Shutdown(ctx context.Context) error
}
