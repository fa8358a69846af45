package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/characterhub/api/internal/model"
	"github.com/characterhub/api/internal/sse"
	"github.com/characterhub/api/internal/store"
)

// lifecycle bundles the store transitions and the event fan-out every pipeline
// shares. Each transition that changes the persisted record also publishes a
// job_update to the job's watchers and to the owner's aggregate stream.
type lifecycle struct {
	jobs store.JobStore
	hub  *sse.Hub
	log  zerolog.Logger
}

func (l *lifecycle) publish(job *model.Job) {
	ev := model.JobUpdateEvent(job)
	l.hub.PublishJob(job.JobID, ev)
	l.hub.PublishOwner(job.OwnerID, ev)
}

// begin marks the record active for this delivery. The store resets progress
// and increments the attempt counter; the resulting snapshot drives the
// pipeline's in-memory view of the job.
func (l *lifecycle) begin(ctx context.Context, jobID string) (*model.Job, error) {
	job, err := l.jobs.MarkActive(ctx, jobID)
	if err != nil {
		return nil, err
	}
	l.publish(job)
	return job, nil
}

// progress advances the job. Store errors are logged and swallowed: losing a
// progress tick must not fail the job.
func (l *lifecycle) progress(ctx context.Context, job *model.Job, pct int) {
	if pct <= job.Progress {
		return
	}
	job.Progress = pct
	if err := l.jobs.SetProgress(ctx, job.JobID, pct); err != nil {
		l.log.Warn().Err(err).Str("job_id", job.JobID).Int("progress", pct).Msg("failed to persist progress")
		return
	}
	l.publish(job)
}

func (l *lifecycle) complete(ctx context.Context, job *model.Job, result *model.JobResult) error {
	updated, err := l.jobs.Complete(ctx, job.JobID, result)
	if err != nil {
		return fmt.Errorf("failed to complete job %s: %w", job.JobID, err)
	}
	l.publish(updated)
	l.log.Info().Str("job_id", job.JobID).Str("kind", string(job.Kind)).Msg("job completed")
	return nil
}

// finish settles a pipeline error against the retry budget. Permanent errors
// and the last allowed attempt fail the record; otherwise it stays active and
// the returned error hands the task back to the queue for redelivery.
func (l *lifecycle) finish(ctx context.Context, job *model.Job, err error) error {
	retried, _ := asynq.GetRetryCount(ctx)
	maxRetry, _ := asynq.GetMaxRetry(ctx)
	if !IsNonRetryable(err) && retried < maxRetry {
		l.log.Warn().Err(err).Str("job_id", job.JobID).
			Int("retried", retried).Int("max_retry", maxRetry).
			Msg("job attempt failed, leaving for retry")
		return err
	}

	failed, failErr := l.jobs.Fail(ctx, job.JobID, err.Error())
	if failErr != nil {
		l.log.Error().Err(failErr).Str("job_id", job.JobID).Msg("failed to mark job as failed")
		return err
	}
	l.publish(failed)
	l.log.Error().Err(err).Str("job_id", job.JobID).Str("kind", string(job.Kind)).Msg("job failed")
	return err
}

// errCancelled aborts a pipeline whose record was cancelled through the API.
// settle translates it to a nil task result so the queue drops the task
// instead of retrying it.
var errCancelled = errors.New("job cancelled")

func settle(err error) error {
	if errors.Is(err, errCancelled) {
		return nil
	}
	return err
}

// interrupted resolves a done context at a step boundary. A record the API
// already cancelled is finished business; anything else (lease timeout,
// shutdown) propagates for redelivery.
func (l *lifecycle) interrupted(jobID string, cause error) error {
	job, err := l.jobs.Get(context.Background(), jobID)
	if err == nil && job.Status == model.JobStatusCancelled {
		l.log.Info().Str("job_id", jobID).Msg("job cancelled, dropping task")
		return errCancelled
	}
	return cause
}

// checkpoint is called between pipeline steps. Cancellation is cooperative:
// a running step finishes before the interruption is observed.
func (l *lifecycle) checkpoint(ctx context.Context, jobID string) error {
	select {
	case <-ctx.Done():
		return l.interrupted(jobID, ctx.Err())
	default:
		return nil
	}
}

// failBefore records a failure for a task whose payload never produced a
// usable job snapshot.
func (l *lifecycle) failBefore(ctx context.Context, jobID, reason string) {
	if jobID == "" {
		return
	}
	failed, err := l.jobs.Fail(ctx, jobID, reason)
	if err != nil {
		l.log.Error().Err(err).Str("job_id", jobID).Msg("failed to mark job as failed")
		return
	}
	l.publish(failed)
}

// taskEnvelope is the wire shape of every queued task.
type taskEnvelope struct {
	JobID   string          `json:"jobId"`
	Payload json.RawMessage `json:"payload"`
}

func decodeTask(t *asynq.Task) (*taskEnvelope, error) {
	var env taskEnvelope
	if err := json.Unmarshal(t.Payload(), &env); err != nil {
		return nil, fmt.Errorf("failed to unmarshal task envelope: %w", err)
	}
	if env.JobID == "" {
		return nil, fmt.Errorf("task envelope has no job id")
	}
	return &env, nil
}
