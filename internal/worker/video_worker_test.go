package worker

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/characterhub/api/internal/model"
	"github.com/characterhub/api/internal/sse"
	"github.com/characterhub/api/internal/store"
)

func seedSourceImage(t *testing.T, mem *store.Memory, ch *model.Character) *model.Media {
	t.Helper()
	rec := &model.Media{
		CharacterID: ch.ID,
		OwnerID:     ch.OwnerID,
		MediaType:   model.MediaTypeImage,
		URL:         "https://cdn.example.com/source.png",
	}
	if err := mem.CreateMedia(context.Background(), rec); err != nil {
		t.Fatalf("failed to seed media: %v", err)
	}
	return rec
}

func newVideoWorker(mem *store.Memory, video *stubVideo, prompter *stubPersonality) *VideoWorker {
	return NewVideoWorker(mem, mem, mem, sse.NewHub(zerolog.Nop()), video, prompter, zerolog.Nop())
}

func TestVideoGeneration_Success(t *testing.T) {
	mem := store.NewMemory()
	video := &stubVideo{
		configured: true,
		uploadURL:  "https://provider/uploads/1.png",
		requestID:  "req-1",
		videoURL:   "https://provider/outputs/1.mp4",
	}
	w := newVideoWorker(mem, video, &stubPersonality{})
	ctx := context.Background()

	ch := seedCharacter(t, mem, "user-1")
	source := seedSourceImage(t, mem, ch)
	seedJob(t, mem, "job-1", "user-1", model.KindVideoGeneration)
	task := makeTask(t, model.KindVideoGeneration, "job-1", &model.VideoGenerationPayload{
		OwnerID:     "user-1",
		CharacterID: ch.ID,
		MediaID:     source.ID,
		Duration:    5,
		Resolution:  "720p",
	})

	if err := w.ProcessTask(ctx, task); err != nil {
		t.Fatalf("process failed: %v", err)
	}

	job, _ := mem.Get(ctx, "job-1")
	if job.Status != model.JobStatusCompleted || job.Progress != 100 {
		t.Fatalf("unexpected job state: %s %d", job.Status, job.Progress)
	}
	if job.Result == nil || job.Result.URL != "https://provider/outputs/1.mp4" {
		t.Fatalf("incomplete result: %+v", job.Result)
	}

	rec, err := mem.GetMedia(ctx, job.Result.MediaID)
	if err != nil {
		t.Fatalf("media not recorded: %v", err)
	}
	if rec.MediaType != model.MediaTypeVideo || rec.DurationSec != 5 {
		t.Errorf("unexpected media record: %+v", rec)
	}
	if rec.Params["sourceMediaId"] != source.ID {
		t.Errorf("source not linked: %v", rec.Params)
	}
	// Prompter was unconfigured, so the static fallback names the character.
	if !strings.Contains(rec.Prompt, ch.Name) {
		t.Errorf("unexpected motion prompt: %q", rec.Prompt)
	}
}

func TestVideoGeneration_UsesGeneratedMotionPrompt(t *testing.T) {
	mem := store.NewMemory()
	video := &stubVideo{configured: true, uploadURL: "u", requestID: "r", videoURL: "v"}
	prompter := &stubPersonality{configured: true, details: "She tilts her head and smiles softly."}
	w := newVideoWorker(mem, video, prompter)
	ctx := context.Background()

	ch := seedCharacter(t, mem, "user-1")
	source := seedSourceImage(t, mem, ch)
	seedJob(t, mem, "job-1", "user-1", model.KindVideoGeneration)
	task := makeTask(t, model.KindVideoGeneration, "job-1", &model.VideoGenerationPayload{
		OwnerID:     "user-1",
		CharacterID: ch.ID,
		MediaID:     source.ID,
		Duration:    8,
	})

	if err := w.ProcessTask(ctx, task); err != nil {
		t.Fatalf("process failed: %v", err)
	}

	job, _ := mem.Get(ctx, "job-1")
	rec, _ := mem.GetMedia(ctx, job.Result.MediaID)
	if rec.Prompt != "She tilts her head and smiles softly." {
		t.Errorf("generated prompt not used: %q", rec.Prompt)
	}
	if prompter.calls != 1 {
		t.Errorf("expected 1 prompter call, got %d", prompter.calls)
	}
}

func TestVideoGeneration_NonImageSourceFailsPermanently(t *testing.T) {
	mem := store.NewMemory()
	w := newVideoWorker(mem, &stubVideo{configured: true}, &stubPersonality{})
	ctx := context.Background()

	ch := seedCharacter(t, mem, "user-1")
	source := &model.Media{CharacterID: ch.ID, OwnerID: "user-1", MediaType: model.MediaTypeVideo, URL: "https://x/v.mp4"}
	mem.CreateMedia(ctx, source)

	seedJob(t, mem, "job-1", "user-1", model.KindVideoGeneration)
	task := makeTask(t, model.KindVideoGeneration, "job-1", &model.VideoGenerationPayload{
		OwnerID:     "user-1",
		CharacterID: ch.ID,
		MediaID:     source.ID,
	})

	err := w.ProcessTask(ctx, task)
	if err == nil || !IsNonRetryable(err) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	job, _ := mem.Get(ctx, "job-1")
	if !strings.Contains(job.FailedReason, "not an image") {
		t.Errorf("unexpected reason: %q", job.FailedReason)
	}
}

func TestVideoGeneration_ProviderFailureFailsJob(t *testing.T) {
	mem := store.NewMemory()
	video := &stubVideo{configured: true, uploadURL: "u", requestID: "r", pollErr: errors.New("generation failed: safety")}
	w := newVideoWorker(mem, video, &stubPersonality{})
	ctx := context.Background()

	ch := seedCharacter(t, mem, "user-1")
	source := seedSourceImage(t, mem, ch)
	seedJob(t, mem, "job-1", "user-1", model.KindVideoGeneration)
	task := makeTask(t, model.KindVideoGeneration, "job-1", &model.VideoGenerationPayload{
		OwnerID:     "user-1",
		CharacterID: ch.ID,
		MediaID:     source.ID,
	})

	// No broker retry metadata in a bare context, so the attempt settles as
	// the final one and the record fails.
	if err := w.ProcessTask(ctx, task); err == nil {
		t.Fatal("expected error from provider failure")
	}
	job, _ := mem.Get(ctx, "job-1")
	if job.Status != model.JobStatusFailed {
		t.Errorf("expected failed, got %s", job.Status)
	}
}

func TestVideoGeneration_UnconfiguredBackendFails(t *testing.T) {
	mem := store.NewMemory()
	w := newVideoWorker(mem, &stubVideo{configured: false}, &stubPersonality{})
	ctx := context.Background()

	ch := seedCharacter(t, mem, "user-1")
	source := seedSourceImage(t, mem, ch)
	seedJob(t, mem, "job-1", "user-1", model.KindVideoGeneration)
	task := makeTask(t, model.KindVideoGeneration, "job-1", &model.VideoGenerationPayload{
		OwnerID:     "user-1",
		CharacterID: ch.ID,
		MediaID:     source.ID,
	})

	if err := w.ProcessTask(ctx, task); err == nil || !IsNonRetryable(err) {
		t.Fatalf("expected permanent error, got %v", err)
	}
}
