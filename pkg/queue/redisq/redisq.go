// Package redisq provides the asynq/Redis-backed Queue implementation
// for multi-process deployments. Each lane runs its own asynq server so
// the lane's concurrency bound holds regardless of what other lanes are
// doing; the OCR lane's server runs with concurrency 1.
package redisq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/feichai0017/content-pipeline/pkg/logger"
	"github.com/feichai0017/content-pipeline/pkg/queue"
)

// Config holds the Redis connection settings.
type Config struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	// Retention is how long finished jobs stay queryable.
	Retention time.Duration
}

// jobRecord is the per-job metadata persisted to Redis so GetJob can
// answer after asynq drops the task.
type jobRecord struct {
	ID          string      `json:"id"`
	Lane        queue.Lane  `json:"lane"`
	Queue       string      `json:"queue"`
	State       queue.State `json:"state"`
	Priority    int         `json:"priority"`
	RetryCount  int         `json:"retryCount"`
	Result      []byte      `json:"result,omitempty"`
	Error       string      `json:"error,omitempty"`
	CreatedAt   time.Time   `json:"createdAt"`
	CompletedAt *time.Time  `json:"completedAt,omitempty"`
}

type laneRuntime struct {
	cfg    queue.LaneConfig
	server *asynq.Server
	mux    *asynq.ServeMux
}

// Queue is the asynq-backed implementation of queue.Queue.
type Queue struct {
	client    *asynq.Client
	inspector *asynq.Inspector
	redis     *redis.Client
	lanes     map[queue.Lane]*laneRuntime
	logger    logger.Logger
	retention time.Duration
	started   bool
}

// New creates the distributed queue with the given lane table.
func New(cfg *Config, lanes map[queue.Lane]queue.LaneConfig, log logger.Logger) (*Queue, error) {
	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}

	retention := cfg.Retention
	if retention == 0 {
		retention = 24 * time.Hour
	}

	q := &Queue{
		client:    asynq.NewClient(redisOpt),
		inspector: asynq.NewInspector(redisOpt),
		redis: redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}),
		lanes:     make(map[queue.Lane]*laneRuntime, len(lanes)),
		logger:    log,
		retention: retention,
	}

	for lane, laneCfg := range lanes {
		laneCfg := laneCfg
		serverCfg := asynq.Config{
			Concurrency: laneCfg.Concurrency,
			Queues: map[string]int{
				highQueue(lane):   3,
				normalQueue(lane): 1,
			},
			RetryDelayFunc: func(n int, err error, task *asynq.Task) time.Duration {
				return laneCfg.RetryDelay
			},
		}
		q.lanes[lane] = &laneRuntime{
			cfg:    laneCfg,
			server: asynq.NewServer(redisOpt, serverCfg),
			mux:    asynq.NewServeMux(),
		}
	}

	return q, nil
}

func normalQueue(lane queue.Lane) string { return string(lane) }
func highQueue(lane queue.Lane) string   { return string(lane) + ":high" }

func jobKey(jobID string) string { return "pipeline:job:" + jobID }

// AddJob implements Queue.AddJob.
func (q *Queue) AddJob(ctx context.Context, lane queue.Lane, payload []byte, opts ...queue.EnqueueOption) (string, error) {
	var options queue.EnqueueOptions
	for _, opt := range opts {
		opt(&options)
	}

	rt, ok := q.lanes[lane]
	if !ok {
		return "", fmt.Errorf("lane %q: %w", lane, queue.ErrLaneUnknown)
	}

	priority := rt.cfg.Priority
	if options.Priority != nil {
		priority = *options.Priority
	}

	// A priority above the lane default lands on the weighted high
	// sub-queue; everything else on the normal one.
	queueName := normalQueue(lane)
	if priority > rt.cfg.Priority {
		queueName = highQueue(lane)
	}

	jobID := uuid.New().String()
	task := asynq.NewTask(string(lane), payload,
		asynq.TaskID(jobID),
		asynq.Queue(queueName),
		asynq.MaxRetry(rt.cfg.RetryLimit),
		asynq.Retention(q.retention),
	)

	record := &jobRecord{
		ID:        jobID,
		Lane:      lane,
		Queue:     queueName,
		State:     queue.StatePending,
		Priority:  priority,
		CreatedAt: time.Now(),
	}
	if err := q.saveRecord(ctx, record); err != nil {
		return "", err
	}

	if _, err := q.client.EnqueueContext(ctx, task); err != nil {
		return "", fmt.Errorf("failed to enqueue job: %w", err)
	}

	return jobID, nil
}

func (q *Queue) saveRecord(ctx context.Context, record *jobRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal job record: %w", err)
	}
	if err := q.redis.Set(ctx, jobKey(record.ID), data, q.retention).Err(); err != nil {
		return fmt.Errorf("failed to save job record: %w", err)
	}
	return nil
}

func (q *Queue) loadRecord(ctx context.Context, jobID string) (*jobRecord, error) {
	data, err := q.redis.Get(ctx, jobKey(jobID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("job %q: %w", jobID, queue.ErrJobNotFound)
		}
		return nil, fmt.Errorf("failed to load job record: %w", err)
	}
	var record jobRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job record: %w", err)
	}
	return &record, nil
}

// GetJob implements Queue.GetJob. Live state comes from the asynq
// inspector; once the task ages out, the persisted terminal record
// answers instead.
func (q *Queue) GetJob(ctx context.Context, jobID string) (*queue.JobInfo, error) {
	record, err := q.loadRecord(ctx, jobID)
	if err != nil {
		return nil, err
	}

	info := &queue.JobInfo{
		ID:          record.ID,
		Lane:        record.Lane,
		State:       record.State,
		Priority:    record.Priority,
		RetryCount:  record.RetryCount,
		Result:      record.Result,
		Error:       record.Error,
		CreatedAt:   record.CreatedAt,
		CompletedAt: record.CompletedAt,
	}

	if record.State == queue.StateCompleted || record.State == queue.StateFailed {
		return info, nil
	}

	taskInfo, err := q.inspector.GetTaskInfo(record.Queue, jobID)
	if err != nil {
		// Task no longer visible to asynq; the record is authoritative.
		return info, nil
	}

	info.RetryCount = taskInfo.Retried
	switch taskInfo.State {
	case asynq.TaskStateActive:
		info.State = queue.StateProcessing
	case asynq.TaskStateCompleted:
		info.State = queue.StateCompleted
		info.Result = taskInfo.Result
	case asynq.TaskStateArchived:
		info.State = queue.StateFailed
		info.Error = taskInfo.LastErr
	default:
		// pending, scheduled, retry and aggregating all present as
		// pending to callers.
		info.State = queue.StatePending
		if taskInfo.LastErr != "" {
			info.Error = taskInfo.LastErr
		}
	}
	return info, nil
}

// Status implements Queue.Status using the asynq inspector, summing a
// lane's normal and high sub-queues.
func (q *Queue) Status(ctx context.Context) (map[queue.Lane]queue.LaneCounts, error) {
	out := make(map[queue.Lane]queue.LaneCounts, len(q.lanes))
	for lane := range q.lanes {
		var counts queue.LaneCounts
		for _, name := range []string{normalQueue(lane), highQueue(lane)} {
			qi, err := q.inspector.GetQueueInfo(name)
			if err != nil {
				// A queue that has never seen a task does not exist yet.
				continue
			}
			counts.Pending += qi.Pending + qi.Scheduled + qi.Retry
			counts.Active += qi.Active
			counts.Completed += qi.Completed
			counts.Failed += qi.Archived
		}
		out[lane] = counts
	}
	return out, nil
}

// Register implements Queue.Register, wrapping the handler with retry
// classification and terminal-status persistence.
func (q *Queue) Register(lane queue.Lane, handler queue.Handler) {
	rt, ok := q.lanes[lane]
	if !ok {
		return
	}

	rt.mux.HandleFunc(string(lane), func(ctx context.Context, t *asynq.Task) error {
		jobID, _ := asynq.GetTaskID(ctx)
		retried, _ := asynq.GetRetryCount(ctx)
		maxRetry, _ := asynq.GetMaxRetry(ctx)

		result, err := handler(ctx, t.Payload())
		if err == nil {
			q.finalize(ctx, jobID, queue.StateCompleted, result, "", retried)
			return nil
		}

		if errors.Is(err, queue.SkipRetry) {
			q.finalize(ctx, jobID, queue.StateFailed, nil, err.Error(), retried)
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		if retried >= maxRetry {
			q.finalize(ctx, jobID, queue.StateFailed, nil, err.Error(), retried)
		}
		return err
	})
}

// finalize persists a terminal job state, mirroring the live asynq view
// so status queries survive task retention.
func (q *Queue) finalize(ctx context.Context, jobID string, state queue.State, result []byte, errMsg string, retried int) {
	record, err := q.loadRecord(ctx, jobID)
	if err != nil {
		q.logger.Warn("Failed to load job record for finalize",
			logger.String("jobId", jobID),
			logger.Error(err),
		)
		return
	}

	now := time.Now()
	record.State = state
	record.Result = result
	record.Error = errMsg
	record.RetryCount = retried
	record.CompletedAt = &now

	if err := q.saveRecord(ctx, record); err != nil {
		q.logger.Warn("Failed to save final job status",
			logger.String("jobId", jobID),
			logger.Error(err),
		)
	}
}

// Start implements Queue.Start, running one server per lane.
func (q *Queue) Start(ctx context.Context) error {
	if q.started {
		return fmt.Errorf("queue already started")
	}
	q.started = true

	for lane, rt := range q.lanes {
		if err := rt.server.Start(rt.mux); err != nil {
			return fmt.Errorf("failed to start lane %q: %w", lane, err)
		}
		q.logger.Info("Lane started",
			logger.String("lane", string(lane)),
			logger.Int("concurrency", rt.cfg.Concurrency),
		)
	}
	return nil
}

// Shutdown implements Queue.Shutdown. asynq's Shutdown waits for
// in-flight tasks to finish.
func (q *Queue) Shutdown(ctx context.Context) error {
	for _, rt := range q.lanes {
		rt.server.Shutdown()
	}
	if err := q.client.Close(); err != nil {
		return fmt.Errorf("failed to close queue client: %w", err)
	}
	return q.redis.Close()
}
