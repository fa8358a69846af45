package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/characterhub/api/internal/client"
	"github.com/characterhub/api/internal/model"
	"github.com/characterhub/api/internal/sse"
	"github.com/characterhub/api/internal/store"
)

// ImageWorker generates a standalone image for an existing character. Unlike
// character creation, the backend call here is the point of the job, so an
// unconfigured backend fails it.
type ImageWorker struct {
	lifecycle
	characters store.CharacterStore
	media      store.MediaStore
	image      client.ImageGenerator
}

func NewImageWorker(
	jobs store.JobStore,
	characters store.CharacterStore,
	media store.MediaStore,
	hub *sse.Hub,
	image client.ImageGenerator,
	log zerolog.Logger,
) *ImageWorker {
	return &ImageWorker{
		lifecycle: lifecycle{
			jobs: jobs,
			hub:  hub,
			log:  log.With().Str("worker", "image-generation").Logger(),
		},
		characters: characters,
		media:      media,
		image:      image,
	}
}

func (w *ImageWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	return settle(w.run(ctx, t))
}

func (w *ImageWorker) run(ctx context.Context, t *asynq.Task) error {
	env, err := decodeTask(t)
	if err != nil {
		return NonRetryable(err)
	}

	var payload model.ImageGenerationPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		w.failBefore(ctx, env.JobID, "invalid job payload")
		return NonRetryable(fmt.Errorf("failed to unmarshal image payload: %w", err))
	}

	job, err := w.begin(ctx, env.JobID)
	if err != nil {
		if err == store.ErrTerminal {
			return nil
		}
		return fmt.Errorf("failed to activate job %s: %w", env.JobID, err)
	}
	w.log.Info().Str("job_id", job.JobID).Str("character_id", payload.CharacterID).
		Int("attempt", job.AttemptsMade).Msg("starting image generation")

	// Loading the character
	w.progress(ctx, job, 20)
	ch, err := w.characters.GetCharacter(ctx, payload.CharacterID)
	if err != nil {
		if err == store.ErrNotFound {
			return w.finish(ctx, job, NonRetryable(fmt.Errorf("character %s not found", payload.CharacterID)))
		}
		return w.finish(ctx, job, fmt.Errorf("failed to load character: %w", err))
	}
	if ch.OwnerID != payload.OwnerID {
		return w.finish(ctx, job, NonRetryable(fmt.Errorf("character %s not owned by requester", payload.CharacterID)))
	}
	if err := w.checkpoint(ctx, job.JobID); err != nil {
		return err
	}

	// Building the request
	w.progress(ctx, job, 40)
	if w.image == nil || !w.image.IsConfigured() {
		return w.finish(ctx, job, NonRetryable(fmt.Errorf("image backend is not configured")))
	}
	profile, err := w.characters.GetProfile(ctx, payload.CharacterID)
	if err != nil {
		w.log.Warn().Err(err).Str("character_id", payload.CharacterID).Msg("failed to load profile, generating without it")
		profile = nil
	}
	req := client.BuildImageRequest(ch, profile)
	if payload.PoseID != "" {
		req.PoseName = payload.PoseID
	}
	if err := w.checkpoint(ctx, job.JobID); err != nil {
		return err
	}

	// Generating
	w.progress(ctx, job, 60)
	result, err := w.image.GenerateCharacterImage(ctx, req)
	if err != nil {
		return w.finish(ctx, job, fmt.Errorf("image generation failed: %w", err))
	}
	if err := w.checkpoint(ctx, job.JobID); err != nil {
		return err
	}

	// Persisting the media record
	w.progress(ctx, job, 80)
	m := &model.Media{
		ID:          uuid.New().String(),
		CharacterID: ch.ID,
		OwnerID:     payload.OwnerID,
		MediaType:   model.MediaTypeImage,
		URL:         result.ImageURL,
		Prompt:      result.PromptUsed,
		Params: map[string]string{
			"pose":       result.Pose,
			"resolution": result.Resolution,
		},
		CreatedAt: time.Now().UTC(),
	}
	if err := w.media.CreateMedia(ctx, m); err != nil {
		return w.finish(ctx, job, fmt.Errorf("failed to record media: %w", err))
	}

	// Attaching as a display image is a nicety, not a requirement.
	w.progress(ctx, job, 90)
	if err := w.characters.AttachDisplayImage(ctx, ch.ID, result.ImageURL); err != nil {
		w.log.Warn().Err(err).Str("character_id", ch.ID).Msg("failed to attach display image")
	}

	if err := w.complete(ctx, job, &model.JobResult{
		CharacterID: ch.ID,
		MediaID:     m.ID,
		URL:         m.URL,
	}); err != nil {
		return w.finish(ctx, job, err)
	}
	return nil
}
