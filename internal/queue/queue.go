package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/characterhub/api/internal/model"
)

var (
	// ErrUnavailable is returned when the broker cannot be reached.
	ErrUnavailable = errors.New("queue unavailable")
	// ErrAlreadyTerminal is returned when cancelling a task that already
	// finished on the broker side.
	ErrAlreadyTerminal = errors.New("task already finished")
)

// Task type names registered on the worker mux.
const (
	TaskTypeCharacterCreation = "character:create"
	TaskTypeImageGeneration   = "media:image"
	TaskTypeVideoGeneration   = "media:video"
)

// DefaultPriority is assigned when the caller does not ask for one. Lower
// values are served first.
const DefaultPriority = 5

// Options tunes broker-level task behavior.
type Options struct {
	MaxRetry    int
	TaskTimeout time.Duration
	Retention   time.Duration
	BackoffBase time.Duration
	BackoffCap  time.Duration
}

// EnqueueOptions are per-task overrides.
type EnqueueOptions struct {
	// Priority: lower value served first. Priorities above DefaultPriority
	// land on the kind's low-priority queue, which the server drains with a
	// smaller weight.
	Priority int
	// Timeout overrides the configured per-attempt ceiling when positive.
	Timeout time.Duration
}

// TaskType returns the mux type name for a job kind.
func TaskType(kind model.JobKind) string {
	switch kind {
	case model.KindCharacterCreation:
		return TaskTypeCharacterCreation
	case model.KindImageGeneration:
		return TaskTypeImageGeneration
	case model.KindVideoGeneration:
		return TaskTypeVideoGeneration
	}
	return string(kind)
}

// QueueName returns the asynq queue a task of this kind and priority lands on.
func QueueName(kind model.JobKind, priority int) string {
	if priority > DefaultPriority {
		return string(kind) + ":low"
	}
	return string(kind)
}

// queueTiers lists the queues a kind's tasks may occupy.
func queueTiers(kind model.JobKind) []string {
	return []string{string(kind), string(kind) + ":low"}
}

// ServerQueues maps every queue to its drain weight, for asynq.Config.Queues.
func ServerQueues() map[string]int {
	queues := make(map[string]int)
	for _, kind := range []model.JobKind{
		model.KindCharacterCreation,
		model.KindImageGeneration,
		model.KindVideoGeneration,
	} {
		queues[string(kind)] = 3
		queues[string(kind)+":low"] = 1
	}
	return queues
}

// TaskQueue is the enqueue/cancel/introspect facade over asynq, decoupled
// from the job store. The job ID doubles as the broker task ID, making
// enqueue idempotent: a second enqueue of a live job is a no-op.
type TaskQueue struct {
	client    *asynq.Client
	inspector *asynq.Inspector
	opts      Options
}

func New(redisOpt asynq.RedisClientOpt, opts Options) *TaskQueue {
	if opts.MaxRetry <= 0 {
		opts.MaxRetry = 3
	}
	if opts.TaskTimeout <= 0 {
		opts.TaskTimeout = 5 * time.Minute
	}
	if opts.Retention <= 0 {
		opts.Retention = 24 * time.Hour
	}
	return &TaskQueue{
		client:    asynq.NewClient(redisOpt),
		inspector: asynq.NewInspector(redisOpt),
		opts:      opts,
	}
}

func (q *TaskQueue) Close() error {
	if err := q.client.Close(); err != nil {
		return err
	}
	return q.inspector.Close()
}

// Enqueue submits a task for the given job. Payload is marshalled as JSON and
// carried verbatim to the worker.
func (q *TaskQueue) Enqueue(ctx context.Context, kind model.JobKind, jobID string, payload interface{}, opts EnqueueOptions) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal task payload: %w", err)
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = q.opts.TaskTimeout
	}
	priority := opts.Priority
	if priority <= 0 {
		priority = DefaultPriority
	}

	task := asynq.NewTask(TaskType(kind), data)
	_, err = q.client.EnqueueContext(ctx, task,
		asynq.TaskID(jobID),
		asynq.Queue(QueueName(kind, priority)),
		asynq.MaxRetry(q.opts.MaxRetry),
		asynq.Timeout(timeout),
		asynq.Retention(q.opts.Retention),
	)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			// Same job already live on the broker; idempotent.
			return nil
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Cancel removes a queued task or signals cooperative cancellation to the
// worker processing it. A task that already finished returns
// ErrAlreadyTerminal.
func (q *TaskQueue) Cancel(ctx context.Context, kind model.JobKind, jobID string) error {
	for _, queueName := range queueTiers(kind) {
		info, err := q.inspector.GetTaskInfo(queueName, jobID)
		if err != nil {
			if errors.Is(err, asynq.ErrTaskNotFound) || errors.Is(err, asynq.ErrQueueNotFound) {
				continue
			}
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		switch info.State {
		case asynq.TaskStateActive:
			// Cooperative: cancels the handler context; the worker stops at
			// the next step boundary.
			if err := q.inspector.CancelProcessing(jobID); err != nil {
				return fmt.Errorf("%w: %v", ErrUnavailable, err)
			}
			return nil
		case asynq.TaskStateCompleted, asynq.TaskStateArchived:
			return ErrAlreadyTerminal
		default:
			if err := q.inspector.DeleteTask(queueName, jobID); err != nil {
				return fmt.Errorf("%w: %v", ErrUnavailable, err)
			}
			return nil
		}
	}
	// Not on the broker (already pruned or never enqueued); nothing to undo.
	return nil
}

// Snapshot returns the live broker view of a job's task, or nil when the task
// is not on the broker.
func (q *TaskQueue) Snapshot(kind model.JobKind, jobID string) (*model.QueueInfo, error) {
	for _, queueName := range queueTiers(kind) {
		info, err := q.inspector.GetTaskInfo(queueName, jobID)
		if err != nil {
			if errors.Is(err, asynq.ErrTaskNotFound) || errors.Is(err, asynq.ErrQueueNotFound) {
				continue
			}
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		snap := &model.QueueInfo{
			State:     info.State.String(),
			Retried:   info.Retried,
			MaxRetry:  info.MaxRetry,
			LastError: info.LastErr,
		}
		if !info.NextProcessAt.IsZero() {
			next := info.NextProcessAt
			snap.NextProcessAt = &next
		}
		return snap, nil
	}
	return nil, nil
}

// Stats aggregates broker counters across a kind's queue tiers.
type Stats struct {
	Kind      model.JobKind `json:"kind"`
	Pending   int           `json:"pending"`
	Active    int           `json:"active"`
	Scheduled int           `json:"scheduled"`
	Retry     int           `json:"retry"`
	Completed int           `json:"completed"`
	Failed    int           `json:"failed"`
	Processed int           `json:"processed"`
}

func (q *TaskQueue) Stats(kind model.JobKind) (*Stats, error) {
	stats := &Stats{Kind: kind}
	for _, queueName := range queueTiers(kind) {
		info, err := q.inspector.GetQueueInfo(queueName)
		if err != nil {
			if errors.Is(err, asynq.ErrQueueNotFound) {
				continue
			}
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		stats.Pending += info.Pending
		stats.Active += info.Active
		stats.Scheduled += info.Scheduled
		stats.Retry += info.Retry
		stats.Completed += info.Completed
		stats.Failed += info.Failed
		stats.Processed += info.Processed
	}
	return stats, nil
}

// RetryDelay implements the backoff policy: rate-limited starts come back
// quickly, real failures back off exponentially from BackoffBase up to
// BackoffCap.
func (o Options) RetryDelay(n int, err error, _ *asynq.Task) time.Duration {
	var rle *RateLimitError
	if errors.As(err, &rle) {
		return rle.RetryIn
	}
	base := o.BackoffBase
	if base <= 0 {
		base = 2 * time.Second
	}
	cap := o.BackoffCap
	if cap <= 0 {
		cap = 5 * time.Minute
	}
	delay := base
	for i := 0; i < n; i++ {
		delay *= 2
		if delay >= cap {
			return cap
		}
	}
	return delay
}

// IsFailure tells the server which handler errors count against the retry
// ceiling. Rate-limited pushbacks do not.
func IsFailure(err error) bool {
	var rle *RateLimitError
	return !errors.As(err, &rle)
}
