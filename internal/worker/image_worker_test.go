package worker

import (
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/characterhub/api/internal/client"
	"github.com/characterhub/api/internal/model"
	"github.com/characterhub/api/internal/sse"
	"github.com/characterhub/api/internal/store"
)

func seedCharacter(t *testing.T, mem *store.Memory, owner string) *model.Character {
	t.Helper()
	ch := &model.Character{Name: "Luna Vale", OwnerID: owner, Age: 24, Gender: "Female"}
	if err := mem.CreateCharacter(context.Background(), ch); err != nil {
		t.Fatalf("failed to seed character: %v", err)
	}
	if err := mem.CreateLinkedRecords(context.Background(), ch.ID, &model.CharacterInput{
		Name: ch.Name, Age: ch.Age, Gender: ch.Gender,
	}); err != nil {
		t.Fatalf("failed to seed profile: %v", err)
	}
	return ch
}

func newImageWorker(mem *store.Memory, image *stubImage) *ImageWorker {
	return NewImageWorker(mem, mem, mem, sse.NewHub(zerolog.Nop()), image, zerolog.Nop())
}

func TestImageGeneration_Success(t *testing.T) {
	mem := store.NewMemory()
	image := &stubImage{configured: true, result: &client.GenerateImageResult{
		ImageURL:   "https://cdn.example.com/pose.png",
		PromptUsed: "a pose",
		Pose:       "sitting",
		Resolution: "1024x1024",
	}}
	w := newImageWorker(mem, image)
	ctx := context.Background()

	ch := seedCharacter(t, mem, "user-1")
	seedJob(t, mem, "job-1", "user-1", model.KindImageGeneration)
	task := makeTask(t, model.KindImageGeneration, "job-1", &model.ImageGenerationPayload{
		OwnerID:     "user-1",
		CharacterID: ch.ID,
		PoseID:      "sitting",
	})

	if err := w.ProcessTask(ctx, task); err != nil {
		t.Fatalf("process failed: %v", err)
	}

	job, _ := mem.Get(ctx, "job-1")
	if job.Status != model.JobStatusCompleted || job.Progress != 100 {
		t.Fatalf("unexpected job state: %s %d", job.Status, job.Progress)
	}
	if job.Result == nil || job.Result.MediaID == "" || job.Result.URL != "https://cdn.example.com/pose.png" {
		t.Fatalf("incomplete result: %+v", job.Result)
	}

	rec, err := mem.GetMedia(ctx, job.Result.MediaID)
	if err != nil {
		t.Fatalf("media not recorded: %v", err)
	}
	if rec.MediaType != model.MediaTypeImage || rec.CharacterID != ch.ID {
		t.Errorf("unexpected media record: %+v", rec)
	}
}

func TestImageGeneration_MissingCharacterFailsPermanently(t *testing.T) {
	mem := store.NewMemory()
	w := newImageWorker(mem, &stubImage{configured: true})
	ctx := context.Background()

	seedJob(t, mem, "job-1", "user-1", model.KindImageGeneration)
	task := makeTask(t, model.KindImageGeneration, "job-1", &model.ImageGenerationPayload{
		OwnerID:     "user-1",
		CharacterID: "missing",
	})

	err := w.ProcessTask(ctx, task)
	if err == nil || !IsNonRetryable(err) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	job, _ := mem.Get(ctx, "job-1")
	if job.Status != model.JobStatusFailed || !strings.Contains(job.FailedReason, "not found") {
		t.Errorf("unexpected record: %s %q", job.Status, job.FailedReason)
	}
}

func TestImageGeneration_ForeignCharacterFailsPermanently(t *testing.T) {
	mem := store.NewMemory()
	w := newImageWorker(mem, &stubImage{configured: true})
	ctx := context.Background()

	ch := seedCharacter(t, mem, "user-2")
	seedJob(t, mem, "job-1", "user-1", model.KindImageGeneration)
	task := makeTask(t, model.KindImageGeneration, "job-1", &model.ImageGenerationPayload{
		OwnerID:     "user-1",
		CharacterID: ch.ID,
	})

	if err := w.ProcessTask(ctx, task); err == nil || !IsNonRetryable(err) {
		t.Fatalf("expected permanent error, got %v", err)
	}
}

func TestImageGeneration_UnconfiguredBackendFails(t *testing.T) {
	mem := store.NewMemory()
	w := newImageWorker(mem, &stubImage{configured: false})
	ctx := context.Background()

	ch := seedCharacter(t, mem, "user-1")
	seedJob(t, mem, "job-1", "user-1", model.KindImageGeneration)
	task := makeTask(t, model.KindImageGeneration, "job-1", &model.ImageGenerationPayload{
		OwnerID:     "user-1",
		CharacterID: ch.ID,
	})

	if err := w.ProcessTask(ctx, task); err == nil || !IsNonRetryable(err) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	job, _ := mem.Get(ctx, "job-1")
	if !strings.Contains(job.FailedReason, "not configured") {
		t.Errorf("unexpected reason: %q", job.FailedReason)
	}
}

func TestImageGeneration_CancelObservedAtCheckpoint(t *testing.T) {
	mem := store.NewMemory()
	ctx, cancel := context.WithCancel(context.Background())

	ch := seedCharacter(t, mem, "user-1")
	seedJob(t, mem, "job-1", "user-1", model.KindImageGeneration)

	// The API cancels the record and the broker cancels the context while the
	// generation step is in flight.
	image := &stubImage{
		configured: true,
		result:     &client.GenerateImageResult{ImageURL: "https://x/y.png"},
		onGenerate: func() {
			mem.Cancel(context.Background(), "job-1")
			cancel()
		},
	}
	w := newImageWorker(mem, image)

	task := makeTask(t, model.KindImageGeneration, "job-1", &model.ImageGenerationPayload{
		OwnerID:     "user-1",
		CharacterID: ch.ID,
	})

	if err := w.ProcessTask(ctx, task); err != nil {
		t.Fatalf("cancelled pipelines must settle quietly: %v", err)
	}
	job, _ := mem.Get(context.Background(), "job-1")
	if job.Status != model.JobStatusCancelled {
		t.Errorf("cancelled record was overwritten to %s", job.Status)
	}
}
