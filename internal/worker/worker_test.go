package worker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/hibiken/asynq"

	"github.com/characterhub/api/internal/client"
	"github.com/characterhub/api/internal/model"
	"github.com/characterhub/api/internal/queue"
	"github.com/characterhub/api/internal/store"
)

var errUnavailableBackend = errors.New("backend unavailable")

// makeRawTask builds a task whose payload is not a valid envelope.
func makeRawTask(payload string) *asynq.Task {
	return asynq.NewTask(queue.TaskTypeCharacterCreation, []byte(payload))
}

// makeTask wraps a payload in the envelope the service enqueues.
func makeTask(t *testing.T, kind model.JobKind, jobID string, payload interface{}) *asynq.Task {
	t.Helper()
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("failed to marshal payload: %v", err)
	}
	env := struct {
		JobID   string          `json:"jobId"`
		Payload json.RawMessage `json:"payload"`
	}{JobID: jobID, Payload: payloadBytes}
	data, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("failed to marshal envelope: %v", err)
	}
	return asynq.NewTask(queue.TaskType(kind), data)
}

func seedJob(t *testing.T, mem *store.Memory, jobID, ownerID string, kind model.JobKind) {
	t.Helper()
	err := mem.Create(context.Background(), &model.Job{
		JobID:   jobID,
		OwnerID: ownerID,
		Kind:    kind,
		Status:  model.JobStatusPending,
	})
	if err != nil {
		t.Fatalf("failed to seed job: %v", err)
	}
}

// --- collaborator stubs ---

type stubPersonality struct {
	configured bool
	details    string
	err        error
	calls      int
}

func (s *stubPersonality) GeneratePersonalityDetails(context.Context, *model.PersonalityInput) (string, error) {
	s.calls++
	return s.details, s.err
}

func (s *stubPersonality) GenerateMotionPrompt(context.Context, string) (string, error) {
	s.calls++
	return s.details, s.err
}

func (s *stubPersonality) IsConfigured() bool { return s.configured }

type stubImage struct {
	configured bool
	result     *client.GenerateImageResult
	err        error
	calls      int
	onGenerate func()
}

func (s *stubImage) GenerateCharacterImage(context.Context, *client.GenerateImageRequest) (*client.GenerateImageResult, error) {
	s.calls++
	if s.onGenerate != nil {
		s.onGenerate()
	}
	return s.result, s.err
}

func (s *stubImage) IsConfigured() bool { return s.configured }

type stubVideo struct {
	configured bool
	uploadURL  string
	requestID  string
	videoURL   string
	pollErr    error
}

func (s *stubVideo) UploadImage(context.Context, string) (string, error) {
	if !s.configured {
		return "", errors.New("unconfigured")
	}
	return s.uploadURL, nil
}

func (s *stubVideo) SubmitTask(context.Context, string, string, client.VideoOptions) (string, error) {
	return s.requestID, nil
}

func (s *stubVideo) PollResult(_ context.Context, _ string, onProgress func(float64)) (string, error) {
	if s.pollErr != nil {
		return "", s.pollErr
	}
	if onProgress != nil {
		onProgress(0.5)
		onProgress(1)
	}
	return s.videoURL, nil
}

func (s *stubVideo) IsConfigured() bool { return s.configured }

func TestNonRetryable_UnwrapsToSkipRetry(t *testing.T) {
	base := errors.New("bad payload")
	err := NonRetryable(base)

	if !errors.Is(err, asynq.SkipRetry) {
		t.Error("permanent error must unwrap to SkipRetry")
	}
	if !errors.Is(err, base) {
		t.Error("permanent error must keep the cause")
	}
	if err.Error() != "bad payload" {
		t.Errorf("message polluted: %q", err.Error())
	}
	if !IsNonRetryable(err) {
		t.Error("IsNonRetryable should detect the wrapper")
	}
	if IsNonRetryable(base) {
		t.Error("plain errors are retryable")
	}
	if NonRetryable(nil) != nil {
		t.Error("NonRetryable(nil) must stay nil")
	}
}

func TestSettle_DropsCancelledOnly(t *testing.T) {
	if settle(errCancelled) != nil {
		t.Error("cancelled pipelines must settle to nil")
	}
	boom := errors.New("boom")
	if !errors.Is(settle(boom), boom) {
		t.Error("other errors must pass through")
	}
	if settle(nil) != nil {
		t.Error("nil must stay nil")
	}
}
