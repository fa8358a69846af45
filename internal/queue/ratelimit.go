package queue

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/characterhub/api/internal/model"
)

// RateLimitError tells the server a task start was deferred, not failed.
type RateLimitError struct {
	Kind    model.JobKind
	RetryIn time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("task starts for %s over budget, retry in %v", e.Kind, e.RetryIn)
}

// StartLimiter caps task starts per second per job kind, independent of
// worker concurrency, so enqueue bursts are smoothed instead of stampeding
// the downstream generation APIs. Counting uses a per-second redis window;
// when redis itself is unreachable the start is allowed, since the broker is
// on the same redis and the system is degrading anyway.
type StartLimiter struct {
	rdb    *redis.Client
	limits map[model.JobKind]int
}

func NewStartLimiter(rdb *redis.Client, limits map[model.JobKind]int) *StartLimiter {
	return &StartLimiter{rdb: rdb, limits: limits}
}

// Middleware wraps the worker mux. Over-budget starts are pushed back with a
// short randomized delay and do not count as attempts.
func (l *StartLimiter) Middleware(next asynq.Handler) asynq.Handler {
	return asynq.HandlerFunc(func(ctx context.Context, t *asynq.Task) error {
		queueName, ok := asynq.GetQueueName(ctx)
		if !ok {
			return next.ProcessTask(ctx, t)
		}
		kind := model.JobKind(strings.TrimSuffix(queueName, ":low"))
		limit, ok := l.limits[kind]
		if !ok || limit <= 0 {
			return next.ProcessTask(ctx, t)
		}
		if !l.allow(ctx, kind, limit) {
			return &RateLimitError{
				Kind:    kind,
				RetryIn: time.Duration(500+rand.Intn(1000)) * time.Millisecond,
			}
		}
		return next.ProcessTask(ctx, t)
	})
}

func (l *StartLimiter) allow(ctx context.Context, kind model.JobKind, limit int) bool {
	key := fmt.Sprintf("queue:starts:%s:%d", kind, time.Now().Unix())
	count, err := l.rdb.Incr(ctx, key).Result()
	if err != nil {
		return true
	}
	if count == 1 {
		l.rdb.Expire(ctx, key, 2*time.Second)
	}
	return count <= int64(limit)
}
