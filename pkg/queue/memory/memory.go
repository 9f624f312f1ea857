// Package memory provides an in-process Queue implementation. It keeps
// the whole lane/priority/retry state machine in one service object so
// tests and single-node deployments run without Redis.
package memory

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/feichai0017/content-pipeline/pkg/logger"
	"github.com/feichai0017/content-pipeline/pkg/queue"
)

type job struct {
	info       queue.JobInfo
	payload    []byte
	retryLimit int
	retryDelay time.Duration
	seq        uint64
}

// backlog orders jobs by priority (higher first), then by enqueue
// order for equal priorities.
type backlog []*job

func (b backlog) Len() int { return len(b) }
func (b backlog) Less(i, j int) bool {
	if b[i].info.Priority != b[j].info.Priority {
		return b[i].info.Priority > b[j].info.Priority
	}
	return b[i].seq < b[j].seq
}
func (b backlog) Swap(i, j int)      { b[i], b[j] = b[j], b[i] }
func (b *backlog) Push(x interface{}) { *b = append(*b, x.(*job)) }
func (b *backlog) Pop() interface{} {
	old := *b
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*b = old[:n-1]
	return item
}

type laneState struct {
	cfg     queue.LaneConfig
	handler queue.Handler
	ready   backlog
	counts  queue.LaneCounts
}

// Queue is the in-memory queue service. All mutable state is owned by
// this object and guarded by one mutex; workers coordinate through the
// condition variable.
type Queue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	lanes  map[queue.Lane]*laneState
	jobs   map[string]*job
	logger logger.Logger

	retention time.Duration
	seq       uint64
	started   bool
	closed    bool

	runCtx    context.Context
	runCancel context.CancelFunc
	wg        sync.WaitGroup
}

// Option adjusts queue construction.
type Option func(*Queue)

// WithRetention sets how long finished jobs stay queryable.
func WithRetention(d time.Duration) Option {
	return func(q *Queue) { q.retention = d }
}

// New creates a queue with the given lane table.
func New(lanes map[queue.Lane]queue.LaneConfig, log logger.Logger, opts ...Option) *Queue {
	q := &Queue{
		lanes:     make(map[queue.Lane]*laneState, len(lanes)),
		jobs:      make(map[string]*job),
		logger:    log,
		retention: 24 * time.Hour,
	}
	q.cond = sync.NewCond(&q.mu)
	for lane, cfg := range lanes {
		q.lanes[lane] = &laneState{cfg: cfg}
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Register implements Queue.Register.
func (q *Queue) Register(lane queue.Lane, handler queue.Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if ls, ok := q.lanes[lane]; ok {
		ls.handler = handler
	}
}

// AddJob implements Queue.AddJob.
func (q *Queue) AddJob(ctx context.Context, lane queue.Lane, payload []byte, opts ...queue.EnqueueOption) (string, error) {
	var options queue.EnqueueOptions
	for _, opt := range opts {
		opt(&options)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	ls, ok := q.lanes[lane]
	if !ok {
		return "", fmt.Errorf("lane %q: %w", lane, queue.ErrLaneUnknown)
	}
	if q.closed {
		return "", fmt.Errorf("queue is shut down")
	}

	priority := ls.cfg.Priority
	if options.Priority != nil {
		priority = *options.Priority
	}

	// Payload bytes are copied so the caller can't mutate a queued job.
	buf := make([]byte, len(payload))
	copy(buf, payload)

	q.seq++
	j := &job{
		info: queue.JobInfo{
			ID:        uuid.New().String(),
			Lane:      lane,
			State:     queue.StatePending,
			Priority:  priority,
			CreatedAt: time.Now(),
		},
		payload:    buf,
		retryLimit: ls.cfg.RetryLimit,
		retryDelay: ls.cfg.RetryDelay,
		seq:        q.seq,
	}

	q.jobs[j.info.ID] = j
	heap.Push(&ls.ready, j)
	ls.counts.Pending++
	q.cond.Broadcast()

	return j.info.ID, nil
}

// GetJob implements Queue.GetJob.
func (q *Queue) GetJob(ctx context.Context, jobID string) (*queue.JobInfo, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	j, ok := q.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("job %q: %w", jobID, queue.ErrJobNotFound)
	}
	info := j.info
	if info.Result != nil {
		info.Result = append([]byte(nil), j.info.Result...)
	}
	return &info, nil
}

// Status implements Queue.Status.
func (q *Queue) Status(ctx context.Context) (map[queue.Lane]queue.LaneCounts, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make(map[queue.Lane]queue.LaneCounts, len(q.lanes))
	for lane, ls := range q.lanes {
		out[lane] = ls.counts
	}
	return out, nil
}

// Start implements Queue.Start: one worker goroutine per concurrency
// slot per lane.
func (q *Queue) Start(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.started {
		return fmt.Errorf("queue already started")
	}
	q.started = true
	q.runCtx, q.runCancel = context.WithCancel(ctx)

	for lane, ls := range q.lanes {
		for i := 0; i < ls.cfg.Concurrency; i++ {
			q.wg.Add(1)
			go q.worker(lane)
		}
	}
	return nil
}

func (q *Queue) worker(lane queue.Lane) {
	defer q.wg.Done()

	for {
		q.mu.Lock()
		ls := q.lanes[lane]
		for ls.ready.Len() == 0 && !q.closed {
			q.cond.Wait()
		}
		if q.closed {
			q.mu.Unlock()
			return
		}

		j := heap.Pop(&ls.ready).(*job)
		j.info.State = queue.StateProcessing
		ls.counts.Pending--
		ls.counts.Active++
		handler := ls.handler
		q.mu.Unlock()

		result, err := q.deliver(handler, j)
		q.finish(lane, j, result, err)
	}
}

// deliver runs the handler, converting panics into errors so a broken
// handler consumes retry budget instead of killing the worker.
func (q *Queue) deliver(handler queue.Handler, j *job) (result []byte, err error) {
	if handler == nil {
		return nil, fmt.Errorf("no handler registered for lane %q", j.info.Lane)
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler(q.runCtx, j.payload)
}

func (q *Queue) finish(lane queue.Lane, j *job, result []byte, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	ls := q.lanes[lane]
	ls.counts.Active--

	if err == nil {
		now := time.Now()
		j.info.State = queue.StateCompleted
		j.info.Result = result
		j.info.CompletedAt = &now
		ls.counts.Completed++
		q.expireLater(j.info.ID)
		return
	}

	j.info.Error = err.Error()

	retryable := !isSkipRetry(err)
	if retryable && j.info.RetryCount < j.retryLimit {
		j.info.RetryCount++
		j.info.State = queue.StatePending
		ls.counts.Pending++
		q.logger.Warn("Job failed, scheduling retry",
			logger.String("jobId", j.info.ID),
			logger.String("lane", string(lane)),
			logger.Int("attempt", j.info.RetryCount),
			logger.Error(err),
		)
		// Re-delivery after the fixed lane delay; the payload is the
		// original, untouched.
		time.AfterFunc(j.retryDelay, func() {
			q.mu.Lock()
			defer q.mu.Unlock()
			if q.closed {
				return
			}
			heap.Push(&ls.ready, j)
			q.cond.Broadcast()
		})
		return
	}

	now := time.Now()
	j.info.State = queue.StateFailed
	j.info.CompletedAt = &now
	ls.counts.Failed++
	q.logger.Error("Job failed terminally",
		logger.String("jobId", j.info.ID),
		logger.String("lane", string(lane)),
		logger.Int("retryCount", j.info.RetryCount),
		logger.Error(err),
	)
	q.expireLater(j.info.ID)
}

func isSkipRetry(err error) bool {
	return errors.Is(err, queue.SkipRetry)
}

// expireLater purges a finished job after the retention window.
func (q *Queue) expireLater(jobID string) {
	time.AfterFunc(q.retention, func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		delete(q.jobs, jobID)
	})
}

// Shutdown implements Queue.Shutdown. New deliveries stop immediately;
// in-flight handlers finish unless ctx expires first.
func (q *Queue) Shutdown(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	q.cond.Broadcast()
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		if q.runCancel != nil {
			q.runCancel()
		}
		return ctx.Err()
	}

	if q.runCancel != nil {
		q.runCancel()
	}
	return nil
}
