package store

import (
	"context"
	"testing"

	"github.com/characterhub/api/internal/model"
)

func newJob(id, owner string) *model.Job {
	return &model.Job{
		JobID:   id,
		OwnerID: owner,
		Kind:    model.KindCharacterCreation,
		Status:  model.JobStatusPending,
	}
}

func TestCreate_Duplicate(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	if err := m.Create(ctx, newJob("job-1", "user-1")); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := m.Create(ctx, newJob("job-1", "user-1")); err != ErrDuplicate {
		t.Errorf("expected ErrDuplicate, got %v", err)
	}
}

func TestGet_NotFound(t *testing.T) {
	m := NewMemory()
	if _, err := m.Get(context.Background(), "missing"); err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMarkActive_IncrementsAttemptsAndResetsProgress(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	m.Create(ctx, newJob("job-1", "user-1"))

	job, err := m.MarkActive(ctx, "job-1")
	if err != nil {
		t.Fatalf("first pickup failed: %v", err)
	}
	if job.Status != model.JobStatusActive {
		t.Errorf("expected active, got %s", job.Status)
	}
	if job.AttemptsMade != 1 {
		t.Errorf("expected attemptsMade 1, got %d", job.AttemptsMade)
	}
	if job.StartedAt == nil {
		t.Error("expected startedAt to be stamped")
	}
	started := *job.StartedAt

	if err := m.SetProgress(ctx, "job-1", 60); err != nil {
		t.Fatalf("set progress failed: %v", err)
	}

	// Redelivery resets progress and counts another attempt.
	job, err = m.MarkActive(ctx, "job-1")
	if err != nil {
		t.Fatalf("redelivery failed: %v", err)
	}
	if job.AttemptsMade != 2 {
		t.Errorf("expected attemptsMade 2, got %d", job.AttemptsMade)
	}
	if job.Progress != 0 {
		t.Errorf("expected progress reset, got %d", job.Progress)
	}
	if !job.StartedAt.Equal(started) {
		t.Error("startedAt should not change on redelivery")
	}
}

func TestSetProgress_MonotoneWithinAttempt(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	m.Create(ctx, newJob("job-1", "user-1"))
	m.MarkActive(ctx, "job-1")

	m.SetProgress(ctx, "job-1", 40)
	m.SetProgress(ctx, "job-1", 20) // stale, ignored
	m.SetProgress(ctx, "job-1", 60)

	job, _ := m.Get(ctx, "job-1")
	if job.Progress != 60 {
		t.Errorf("expected progress 60, got %d", job.Progress)
	}
}

func TestSetProgress_IgnoredWhenNotActive(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	m.Create(ctx, newJob("job-1", "user-1"))

	m.SetProgress(ctx, "job-1", 50)
	job, _ := m.Get(ctx, "job-1")
	if job.Progress != 0 {
		t.Errorf("pending job progress changed to %d", job.Progress)
	}
}

func TestComplete_SetsResultAndIsTerminal(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	m.Create(ctx, newJob("job-1", "user-1"))
	m.MarkActive(ctx, "job-1")

	job, err := m.Complete(ctx, "job-1", &model.JobResult{CharacterID: "char-1"})
	if err != nil {
		t.Fatalf("complete failed: %v", err)
	}
	if job.Status != model.JobStatusCompleted || job.Progress != 100 {
		t.Errorf("unexpected completed state: %s %d", job.Status, job.Progress)
	}
	if job.Result == nil || job.Result.CharacterID != "char-1" {
		t.Error("result not stored")
	}
	if job.CompletedAt == nil {
		t.Error("completedAt not stamped")
	}

	// No transition leaves a terminal state.
	if _, err := m.Cancel(ctx, "job-1"); err != ErrTerminal {
		t.Errorf("expected ErrTerminal on cancel, got %v", err)
	}
	if _, err := m.MarkActive(ctx, "job-1"); err != ErrTerminal {
		t.Errorf("expected ErrTerminal on reactivate, got %v", err)
	}
	if _, err := m.Fail(ctx, "job-1", "late failure"); err != ErrTerminal {
		t.Errorf("expected ErrTerminal on fail, got %v", err)
	}
}

func TestComplete_RequiresActive(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	m.Create(ctx, newJob("job-1", "user-1"))

	if _, err := m.Complete(ctx, "job-1", &model.JobResult{}); err != ErrTerminal {
		t.Errorf("expected ErrTerminal completing a pending job, got %v", err)
	}
}

func TestFail_FromPending(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	m.Create(ctx, newJob("job-1", "user-1"))

	job, err := m.Fail(ctx, "job-1", "poison payload")
	if err != nil {
		t.Fatalf("fail failed: %v", err)
	}
	if job.Status != model.JobStatusFailed {
		t.Errorf("expected failed, got %s", job.Status)
	}
	if job.FailedReason != "poison payload" || job.Result == nil || job.Result.Error != "poison payload" {
		t.Error("failure reason not recorded")
	}
}

func TestCancel_PendingAndActive(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	m.Create(ctx, newJob("job-1", "user-1"))
	if job, err := m.Cancel(ctx, "job-1"); err != nil || job.Status != model.JobStatusCancelled {
		t.Fatalf("cancel pending: status=%v err=%v", job, err)
	}

	m.Create(ctx, newJob("job-2", "user-1"))
	m.MarkActive(ctx, "job-2")
	if job, err := m.Cancel(ctx, "job-2"); err != nil || job.Status != model.JobStatusCancelled {
		t.Fatalf("cancel active: status=%v err=%v", job, err)
	}
}

func TestCancel_TerminalWins(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	m.Create(ctx, newJob("job-1", "user-1"))
	m.MarkActive(ctx, "job-1")
	m.Cancel(ctx, "job-1")

	// A worker racing the cancel cannot overwrite it.
	if _, err := m.Complete(ctx, "job-1", &model.JobResult{}); err != ErrTerminal {
		t.Errorf("expected ErrTerminal, got %v", err)
	}
	job, _ := m.Get(ctx, "job-1")
	if job.Status != model.JobStatusCancelled {
		t.Errorf("cancelled job was overwritten to %s", job.Status)
	}
}

func TestListByOwner_FiltersAndPaginates(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		job := newJob("job-"+string(rune('a'+i)), "user-1")
		if i >= 3 {
			job.Kind = model.KindImageGeneration
			job.MediaType = model.MediaTypeImage
		}
		m.Create(ctx, job)
	}
	m.Create(ctx, newJob("other", "user-2"))

	jobs, total, err := m.ListByOwner(ctx, "user-1", JobFilter{})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if total != 5 || len(jobs) != 5 {
		t.Errorf("expected 5 jobs, got total=%d len=%d", total, len(jobs))
	}

	jobs, total, _ = m.ListByOwner(ctx, "user-1", JobFilter{Kind: model.KindImageGeneration})
	if total != 2 || len(jobs) != 2 {
		t.Errorf("kind filter: expected 2, got total=%d len=%d", total, len(jobs))
	}

	jobs, total, _ = m.ListByOwner(ctx, "user-1", JobFilter{Limit: 2, Skip: 4})
	if total != 5 || len(jobs) != 1 {
		t.Errorf("pagination: expected total=5 len=1, got total=%d len=%d", total, len(jobs))
	}
}

func TestCharacterStore_Lifecycle(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	ch := &model.Character{Name: "Luna Vale", OwnerID: "user-1", Age: 24, Gender: "Female"}
	if err := m.CreateCharacter(ctx, ch); err != nil {
		t.Fatalf("create character failed: %v", err)
	}
	if ch.DisplayID == "" {
		t.Error("displayId not generated")
	}

	in := &model.CharacterInput{
		Name:        "Luna Vale",
		Age:         24,
		Gender:      "Female",
		Personality: &model.PersonalityInput{Personality: "playful"},
	}
	if err := m.CreateLinkedRecords(ctx, ch.ID, in); err != nil {
		t.Fatalf("linked records failed: %v", err)
	}
	if err := m.SavePersonalityDetails(ctx, ch.ID, "You are playful and warm."); err != nil {
		t.Fatalf("save details failed: %v", err)
	}
	profile, err := m.GetProfile(ctx, ch.ID)
	if err != nil {
		t.Fatalf("get profile failed: %v", err)
	}
	if profile.PersonalityDetails == "" || profile.Personality.Personality != "playful" {
		t.Error("profile data incomplete")
	}

	if err := m.AttachDisplayImage(ctx, ch.ID, "https://cdn.example.com/a.png"); err != nil {
		t.Fatalf("attach image failed: %v", err)
	}
	m.AttachDisplayImage(ctx, ch.ID, "https://cdn.example.com/a.png") // dedup
	got, _ := m.GetCharacter(ctx, ch.ID)
	if len(got.DisplayImageURLs) != 1 {
		t.Errorf("expected 1 display image, got %d", len(got.DisplayImageURLs))
	}
}
