package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/characterhub/api/internal/model"
	"github.com/characterhub/api/internal/queue"
	"github.com/characterhub/api/internal/sse"
	"github.com/characterhub/api/internal/store"
)

var (
	// ErrForbidden is returned when a caller touches a job owned by someone
	// else. Handlers translate it to 403.
	ErrForbidden = errors.New("job does not belong to caller")
)

// TaskQueue is the broker surface the service needs. *queue.TaskQueue
// satisfies it.
type TaskQueue interface {
	Enqueue(ctx context.Context, kind model.JobKind, jobID string, payload interface{}, opts queue.EnqueueOptions) error
	Cancel(ctx context.Context, kind model.JobKind, jobID string) error
	Snapshot(kind model.JobKind, jobID string) (*model.QueueInfo, error)
}

// JobService is the facade in front of the job store, the broker and the event
// hub. Handlers talk only to this.
type JobService struct {
	jobs       store.JobStore
	characters store.CharacterStore
	media      store.MediaStore
	q          TaskQueue
	hub        *sse.Hub
	log        zerolog.Logger
}

func NewJobService(jobs store.JobStore, characters store.CharacterStore, media store.MediaStore, q TaskQueue, hub *sse.Hub, log zerolog.Logger) *JobService {
	return &JobService{
		jobs:       jobs,
		characters: characters,
		media:      media,
		q:          q,
		hub:        hub,
		log:        log.With().Str("service", "jobs").Logger(),
	}
}

// EnqueueOptions are the caller-facing knobs of a submission.
type EnqueueOptions struct {
	Priority int
}

// EnqueueCharacterCreation accepts a character-creation job. The record is
// persisted before the broker sees the task, so a status poll immediately
// after the 202 always finds the job.
func (s *JobService) EnqueueCharacterCreation(ctx context.Context, ownerID string, in *model.CharacterInput, opts EnqueueOptions) (*model.EnqueueResponse, error) {
	payload := &model.CharacterCreationPayload{OwnerID: ownerID, Character: *in}
	return s.enqueue(ctx, ownerID, model.KindCharacterCreation, "", payload, opts)
}

// EnqueueImageGeneration accepts an image-generation job for an existing
// character. The character reference is checked up front so a dangling ID
// fails the request instead of the eventual task.
func (s *JobService) EnqueueImageGeneration(ctx context.Context, ownerID string, in *model.ImageGenerationPayload, opts EnqueueOptions) (*model.EnqueueResponse, error) {
	if err := s.checkCharacter(ctx, ownerID, in.CharacterID); err != nil {
		return nil, err
	}
	in.OwnerID = ownerID
	return s.enqueue(ctx, ownerID, model.KindImageGeneration, model.MediaTypeImage, in, opts)
}

// EnqueueVideoGeneration accepts a video-generation job animating an existing
// image.
func (s *JobService) EnqueueVideoGeneration(ctx context.Context, ownerID string, in *model.VideoGenerationPayload, opts EnqueueOptions) (*model.EnqueueResponse, error) {
	if err := s.checkCharacter(ctx, ownerID, in.CharacterID); err != nil {
		return nil, err
	}
	if _, err := s.media.GetMedia(ctx, in.MediaID); err != nil {
		return nil, fmt.Errorf("media %s: %w", in.MediaID, err)
	}
	in.OwnerID = ownerID
	return s.enqueue(ctx, ownerID, model.KindVideoGeneration, model.MediaTypeVideo, in, opts)
}

func (s *JobService) checkCharacter(ctx context.Context, ownerID, characterID string) error {
	ch, err := s.characters.GetCharacter(ctx, characterID)
	if err != nil {
		return fmt.Errorf("character %s: %w", characterID, err)
	}
	if ch.OwnerID != ownerID {
		return ErrForbidden
	}
	return nil
}

func (s *JobService) enqueue(ctx context.Context, ownerID string, kind model.JobKind, mediaType model.MediaType, payload interface{}, opts EnqueueOptions) (*model.EnqueueResponse, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	jobID := uuid.New().String()
	job := &model.Job{
		JobID:     jobID,
		OwnerID:   ownerID,
		Kind:      kind,
		MediaType: mediaType,
		Status:    model.JobStatusPending,
		Input:     payloadBytes,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.jobs.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to save job: %w", err)
	}

	envelope := struct {
		JobID   string          `json:"jobId"`
		Payload json.RawMessage `json:"payload"`
	}{JobID: jobID, Payload: payloadBytes}

	if err := s.q.Enqueue(ctx, kind, jobID, envelope, queue.EnqueueOptions{Priority: opts.Priority}); err != nil {
		// The record must not stay pending forever when the broker rejected
		// the task. Terminal races here just mean someone else settled it.
		if _, failErr := s.jobs.Fail(ctx, jobID, "failed to enqueue task"); failErr != nil && !errors.Is(failErr, store.ErrTerminal) {
			s.log.Error().Err(failErr).Str("job_id", jobID).Msg("failed to roll back unenqueued job")
		}
		return nil, fmt.Errorf("failed to enqueue job: %w", err)
	}

	s.log.Info().Str("job_id", jobID).Str("kind", string(kind)).Str("owner_id", ownerID).Msg("job accepted")
	return &model.EnqueueResponse{
		JobID:     jobID,
		Status:    model.JobStatusPending,
		StatusURL: statusURL(kind, jobID),
	}, nil
}

func statusURL(kind model.JobKind, jobID string) string {
	if kind == model.KindCharacterCreation {
		return "/api/v1/jobs/character-creation/" + jobID
	}
	return "/api/v1/jobs/media-generation/" + jobID
}

// GetStatus returns the merged store and broker view of a job. The broker
// snapshot is supplementary: when the broker is unreachable the store view is
// served alone.
func (s *JobService) GetStatus(ctx context.Context, ownerID, jobID string, kinds ...model.JobKind) (*model.JobStatusResponse, error) {
	job, err := s.authorize(ctx, ownerID, jobID, kinds)
	if err != nil {
		return nil, err
	}

	resp := statusResponse(job)
	if qi, err := s.q.Snapshot(job.Kind, job.JobID); err == nil {
		resp.QueueInfo = qi
	} else {
		s.log.Warn().Err(err).Str("job_id", jobID).Msg("broker snapshot unavailable")
	}
	return resp, nil
}

// Cancel cancels a pending or active job. The store transition is the
// authority; the broker side is best-effort since a missing broker task only
// means the worker will notice the cancelled record on its own.
func (s *JobService) Cancel(ctx context.Context, ownerID, jobID string, kinds ...model.JobKind) (*model.JobStatusResponse, error) {
	job, err := s.authorize(ctx, ownerID, jobID, kinds)
	if err != nil {
		return nil, err
	}

	cancelled, err := s.jobs.Cancel(ctx, jobID)
	if err != nil {
		return nil, err
	}

	if err := s.q.Cancel(ctx, job.Kind, jobID); err != nil && !errors.Is(err, queue.ErrAlreadyTerminal) {
		s.log.Warn().Err(err).Str("job_id", jobID).Msg("broker-side cancel failed")
	}

	ev := model.JobUpdateEvent(cancelled)
	s.hub.PublishJob(jobID, ev)
	s.hub.PublishOwner(ownerID, ev)

	s.log.Info().Str("job_id", jobID).Msg("job cancelled")
	return statusResponse(cancelled), nil
}

// List returns the caller's jobs, newest first.
func (s *JobService) List(ctx context.Context, ownerID string, f store.JobFilter) (*model.JobListResponse, error) {
	if f.Limit <= 0 || f.Limit > 100 {
		f.Limit = 20
	}
	if f.Skip < 0 {
		f.Skip = 0
	}

	jobs, total, err := s.jobs.ListByOwner(ctx, ownerID, f)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	data := make([]model.JobStatusResponse, 0, len(jobs))
	for i := range jobs {
		data = append(data, *statusResponse(&jobs[i]))
	}
	return &model.JobListResponse{
		Data: data,
		Pagination: model.Pagination{
			Total:   total,
			Limit:   f.Limit,
			Skip:    f.Skip,
			HasMore: int64(f.Skip+len(jobs)) < total,
		},
	}, nil
}

// Snapshot exposes the store record for the event endpoints, with the same
// ownership rules as GetStatus.
func (s *JobService) Snapshot(ctx context.Context, ownerID, jobID string) (*model.Job, error) {
	return s.authorize(ctx, ownerID, jobID, nil)
}

func (s *JobService) authorize(ctx context.Context, ownerID, jobID string, kinds []model.JobKind) (*model.Job, error) {
	job, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.OwnerID != ownerID {
		return nil, ErrForbidden
	}
	if len(kinds) > 0 {
		found := false
		for _, k := range kinds {
			if job.Kind == k {
				found = true
				break
			}
		}
		// A job of another family is invisible on this route.
		if !found {
			return nil, store.ErrNotFound
		}
	}
	return job, nil
}

func statusResponse(job *model.Job) *model.JobStatusResponse {
	return &model.JobStatusResponse{
		JobID:        job.JobID,
		Kind:         job.Kind,
		MediaType:    job.MediaType,
		Status:       job.Status,
		Progress:     job.Progress,
		Result:       job.Result,
		FailedReason: job.FailedReason,
		AttemptsMade: job.AttemptsMade,
		CreatedAt:    job.CreatedAt,
		StartedAt:    job.StartedAt,
		CompletedAt:  job.CompletedAt,
	}
}
