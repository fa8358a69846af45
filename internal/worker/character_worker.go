package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/characterhub/api/internal/client"
	"github.com/characterhub/api/internal/model"
	"github.com/characterhub/api/internal/sse"
	"github.com/characterhub/api/internal/store"
)

// CharacterWorker runs the character-creation pipeline. The record-creation
// steps are required; personality details and the initial display image are
// best-effort and degrade the result instead of failing the job.
type CharacterWorker struct {
	lifecycle
	characters store.CharacterStore
	media      store.MediaStore

	personality client.PersonalityGenerator
	image       client.ImageGenerator

	// imageryEnabled gates the display-image step independently of whether
	// the image backend is configured.
	imageryEnabled bool

	validate *validator.Validate
}

func NewCharacterWorker(
	jobs store.JobStore,
	characters store.CharacterStore,
	media store.MediaStore,
	hub *sse.Hub,
	personality client.PersonalityGenerator,
	image client.ImageGenerator,
	imageryEnabled bool,
	log zerolog.Logger,
) *CharacterWorker {
	return &CharacterWorker{
		lifecycle: lifecycle{
			jobs: jobs,
			hub:  hub,
			log:  log.With().Str("worker", "character-creation").Logger(),
		},
		characters:     characters,
		media:          media,
		personality:    personality,
		image:          image,
		imageryEnabled: imageryEnabled,
		validate:       validator.New(),
	}
}

// ProcessTask handles one character-creation delivery.
func (w *CharacterWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	return settle(w.run(ctx, t))
}

func (w *CharacterWorker) run(ctx context.Context, t *asynq.Task) error {
	env, err := decodeTask(t)
	if err != nil {
		return NonRetryable(err)
	}

	var payload model.CharacterCreationPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		w.failBefore(ctx, env.JobID, "invalid job payload")
		return NonRetryable(fmt.Errorf("failed to unmarshal character payload: %w", err))
	}

	job, err := w.begin(ctx, env.JobID)
	if err != nil {
		if err == store.ErrTerminal {
			// Redelivered after the record settled; nothing to do.
			return nil
		}
		return fmt.Errorf("failed to activate job %s: %w", env.JobID, err)
	}
	w.log.Info().Str("job_id", job.JobID).Int("attempt", job.AttemptsMade).Msg("starting character creation")

	// Validating input
	w.progress(ctx, job, 10)
	if err := w.validate.Struct(&payload.Character); err != nil {
		return w.finish(ctx, job, NonRetryable(fmt.Errorf("invalid character input: %w", err)))
	}
	if err := w.checkpoint(ctx, job.JobID); err != nil {
		return err
	}

	// Creating the core record
	w.progress(ctx, job, 30)
	ch := &model.Character{
		ID:               uuid.New().String(),
		OwnerID:          payload.OwnerID,
		Name:             payload.Character.Name,
		Age:              payload.Character.Age,
		Gender:           payload.Character.Gender,
		Description:      payload.Character.Description,
		ShortDescription: payload.Character.ShortDescription,
		AudioPack:        payload.Character.AudioPack,
		ExtraDetails:     payload.Character.ExtraDetails,
		DisplayImageURLs: []string{},
		CreatedAt:        time.Now().UTC(),
	}
	if err := w.characters.CreateCharacter(ctx, ch); err != nil {
		if err == store.ErrDuplicate {
			return w.finish(ctx, job, NonRetryable(fmt.Errorf("character already exists: %w", err)))
		}
		return w.finish(ctx, job, fmt.Errorf("failed to create character: %w", err))
	}
	if err := w.checkpoint(ctx, job.JobID); err != nil {
		return err
	}

	// Linked profile and stats records
	w.progress(ctx, job, 40)
	if err := w.characters.CreateLinkedRecords(ctx, ch.ID, &payload.Character); err != nil {
		return w.finish(ctx, job, fmt.Errorf("failed to create linked records: %w", err))
	}
	if err := w.checkpoint(ctx, job.JobID); err != nil {
		return err
	}

	// Personality details, best-effort
	w.progress(ctx, job, 60)
	w.generatePersonality(ctx, ch.ID, payload.Character.Personality)
	if err := w.checkpoint(ctx, job.JobID); err != nil {
		return err
	}

	// Initial display image, best-effort and config-gated
	w.progress(ctx, job, 80)
	w.generateDisplayImage(ctx, ch)
	if err := w.checkpoint(ctx, job.JobID); err != nil {
		return err
	}

	// Finalizing
	w.progress(ctx, job, 95)
	result := &model.JobResult{
		CharacterID: ch.ID,
		DisplayID:   ch.DisplayID,
		Name:        ch.Name,
	}
	if result.DisplayID == "" {
		if created, err := w.characters.GetCharacter(ctx, ch.ID); err == nil {
			result.DisplayID = created.DisplayID
		}
	}
	if err := w.complete(ctx, job, result); err != nil {
		return w.finish(ctx, job, err)
	}
	return nil
}

func (w *CharacterWorker) generatePersonality(ctx context.Context, characterID string, traits *model.PersonalityInput) {
	if w.personality == nil || !w.personality.IsConfigured() {
		return
	}
	details, err := w.personality.GeneratePersonalityDetails(ctx, traits)
	if err != nil {
		w.log.Warn().Err(err).Str("character_id", characterID).Msg("personality generation failed, continuing")
		return
	}
	if err := w.characters.SavePersonalityDetails(ctx, characterID, details); err != nil {
		w.log.Warn().Err(err).Str("character_id", characterID).Msg("failed to save personality details")
	}
}

func (w *CharacterWorker) generateDisplayImage(ctx context.Context, ch *model.Character) {
	if !w.imageryEnabled || w.image == nil || !w.image.IsConfigured() {
		return
	}
	profile, err := w.characters.GetProfile(ctx, ch.ID)
	if err != nil {
		w.log.Warn().Err(err).Str("character_id", ch.ID).Msg("failed to load profile for imagery")
		profile = nil
	}
	result, err := w.image.GenerateCharacterImage(ctx, client.BuildImageRequest(ch, profile))
	if err != nil {
		w.log.Warn().Err(err).Str("character_id", ch.ID).Msg("display image generation failed, continuing")
		return
	}
	if err := w.characters.AttachDisplayImage(ctx, ch.ID, result.ImageURL); err != nil {
		w.log.Warn().Err(err).Str("character_id", ch.ID).Msg("failed to attach display image")
		return
	}
	m := &model.Media{
		ID:          uuid.New().String(),
		CharacterID: ch.ID,
		OwnerID:     ch.OwnerID,
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
		w.log.Warn().Err(err).Str("character_id", ch.ID).Msg("failed to record display image media")
	}
}
