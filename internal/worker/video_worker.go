package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/characterhub/api/internal/client"
	"github.com/characterhub/api/internal/model"
	"github.com/characterhub/api/internal/sse"
	"github.com/characterhub/api/internal/store"
)

// Poll progress maps onto this window of the job's progress bar.
const (
	videoPollFloor = 50
	videoPollCeil  = 80
)

// VideoWorker animates an existing character image into a short video. The
// provider works asynchronously, so most of the job is spent polling; poll
// progress is mapped onto the 50-80 window of the job's progress bar.
type VideoWorker struct {
	lifecycle
	characters store.CharacterStore
	media      store.MediaStore
	video      client.VideoGenerator
	prompter   client.MotionPrompter
}

func NewVideoWorker(
	jobs store.JobStore,
	characters store.CharacterStore,
	media store.MediaStore,
	hub *sse.Hub,
	video client.VideoGenerator,
	prompter client.MotionPrompter,
	log zerolog.Logger,
) *VideoWorker {
	return &VideoWorker{
		lifecycle: lifecycle{
			jobs: jobs,
			hub:  hub,
			log:  log.With().Str("worker", "video-generation").Logger(),
		},
		characters: characters,
		media:      media,
		video:      video,
		prompter:   prompter,
	}
}

func (w *VideoWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	return settle(w.run(ctx, t))
}

func (w *VideoWorker) run(ctx context.Context, t *asynq.Task) error {
	env, err := decodeTask(t)
	if err != nil {
		return NonRetryable(err)
	}

	var payload model.VideoGenerationPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		w.failBefore(ctx, env.JobID, "invalid job payload")
		return NonRetryable(fmt.Errorf("failed to unmarshal video payload: %w", err))
	}

	job, err := w.begin(ctx, env.JobID)
	if err != nil {
		if err == store.ErrTerminal {
			return nil
		}
		return fmt.Errorf("failed to activate job %s: %w", env.JobID, err)
	}
	w.log.Info().Str("job_id", job.JobID).Str("media_id", payload.MediaID).
		Int("attempt", job.AttemptsMade).Msg("starting video generation")

	if w.video == nil || !w.video.IsConfigured() {
		return w.finish(ctx, job, NonRetryable(fmt.Errorf("video backend is not configured")))
	}

	// Loading the character and the source image
	w.progress(ctx, job, 10)
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
	source, err := w.media.GetMedia(ctx, payload.MediaID)
	if err != nil {
		if err == store.ErrNotFound {
			return w.finish(ctx, job, NonRetryable(fmt.Errorf("source media %s not found", payload.MediaID)))
		}
		return w.finish(ctx, job, fmt.Errorf("failed to load source media: %w", err))
	}
	if source.MediaType != model.MediaTypeImage {
		return w.finish(ctx, job, NonRetryable(fmt.Errorf("source media %s is not an image", payload.MediaID)))
	}
	if err := w.checkpoint(ctx, job.JobID); err != nil {
		return err
	}

	// Motion prompt, best-effort with a static fallback
	w.progress(ctx, job, 20)
	motionPrompt := w.motionPrompt(ctx, ch)
	if err := w.checkpoint(ctx, job.JobID); err != nil {
		return err
	}

	// Uploading the source image to the provider
	w.progress(ctx, job, 30)
	uploadedURL, err := w.video.UploadImage(ctx, source.URL)
	if err != nil {
		return w.finish(ctx, job, fmt.Errorf("source upload failed: %w", err))
	}
	if err := w.checkpoint(ctx, job.JobID); err != nil {
		return err
	}

	// Submitting the generation task
	w.progress(ctx, job, 40)
	requestID, err := w.video.SubmitTask(ctx, uploadedURL, motionPrompt, client.VideoOptions{
		DurationSec: payload.Duration,
		Resolution:  payload.Resolution,
	})
	if err != nil {
		return w.finish(ctx, job, fmt.Errorf("video submission failed: %w", err))
	}

	// Polling until the provider finishes
	w.progress(ctx, job, videoPollFloor)
	videoURL, err := w.video.PollResult(ctx, requestID, func(fraction float64) {
		pct := videoPollFloor + int(fraction*float64(videoPollCeil-videoPollFloor))
		if pct > videoPollCeil {
			pct = videoPollCeil
		}
		w.progress(ctx, job, pct)
	})
	if err != nil {
		if ctx.Err() != nil {
			return w.interrupted(job.JobID, ctx.Err())
		}
		return w.finish(ctx, job, fmt.Errorf("video generation failed: %w", err))
	}

	// Provider output retrieved
	w.progress(ctx, job, 85)
	m := &model.Media{
		ID:          uuid.New().String(),
		CharacterID: ch.ID,
		OwnerID:     payload.OwnerID,
		MediaType:   model.MediaTypeVideo,
		URL:         videoURL,
		Prompt:      motionPrompt,
		DurationSec: payload.Duration,
		Params: map[string]string{
			"sourceMediaId": source.ID,
			"resolution":    payload.Resolution,
			"duration":      strconv.Itoa(payload.Duration),
		},
		CreatedAt: time.Now().UTC(),
	}

	// Persisting the media record
	w.progress(ctx, job, 95)
	if err := w.media.CreateMedia(ctx, m); err != nil {
		return w.finish(ctx, job, fmt.Errorf("failed to record media: %w", err))
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

func (w *VideoWorker) motionPrompt(ctx context.Context, ch *model.Character) string {
	fallback := fmt.Sprintf("%s breathes softly and blinks, hair swaying in a gentle breeze", ch.Name)
	if w.prompter == nil || !w.prompter.IsConfigured() {
		return fallback
	}
	subject := ch.Description
	if subject == "" {
		subject = fmt.Sprintf("%s, a %d year old %s", ch.Name, ch.Age, ch.Gender)
	}
	prompt, err := w.prompter.GenerateMotionPrompt(ctx, subject)
	if err != nil || prompt == "" {
		w.log.Warn().Err(err).Str("character_id", ch.ID).Msg("motion prompt generation failed, using fallback")
		return fallback
	}
	return prompt
}
