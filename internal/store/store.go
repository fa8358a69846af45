package store

import (
	"context"
	"errors"

	"github.com/characterhub/api/internal/model"
)

var (
	// ErrNotFound is returned when no record matches the given identifier.
	ErrNotFound = errors.New("record not found")
	// ErrTerminal is returned when a transition is requested on a job that
	// already reached completed, failed or cancelled.
	ErrTerminal = errors.New("job is in a terminal state")
	// ErrDuplicate is returned when a unique key is violated on insert.
	ErrDuplicate = errors.New("record already exists")
)

// JobFilter narrows owner listings.
type JobFilter struct {
	Kind      model.JobKind
	Kinds     []model.JobKind // route-family scoping, ignored when Kind is set
	MediaType model.MediaType
	Status    model.JobStatus
	Limit     int
	Skip      int
}

// JobStore is the durable record of job status, the source of truth queried
// by clients. Transitions are conditional on the current status so that the
// cancellation path and a completing worker can race safely: exactly one wins.
type JobStore interface {
	Create(ctx context.Context, job *model.Job) error
	Get(ctx context.Context, jobID string) (*model.Job, error)
	ListByOwner(ctx context.Context, ownerID string, f JobFilter) ([]model.Job, int64, error)

	// MarkActive transitions pending|active -> active, increments
	// AttemptsMade, resets Progress to 0 and stamps StartedAt on the first
	// pickup. Called once per queue delivery.
	MarkActive(ctx context.Context, jobID string) (*model.Job, error)

	// SetProgress advances progress while the job is active. Progress never
	// decreases within an attempt; a stale lower value is a no-op.
	SetProgress(ctx context.Context, jobID string, progress int) error

	// Complete transitions active -> completed and stores the result.
	Complete(ctx context.Context, jobID string, result *model.JobResult) (*model.Job, error)

	// Fail transitions pending|active -> failed with the given reason.
	// Pending is allowed so poison payloads can be failed before pickup.
	Fail(ctx context.Context, jobID string, reason string) (*model.Job, error)

	// Cancel transitions pending|active -> cancelled. Terminal jobs return
	// ErrTerminal and are left unchanged.
	Cancel(ctx context.Context, jobID string) (*model.Job, error)
}

// CharacterStore is the primary-datastore collaborator the character-creation
// pipeline writes to.
type CharacterStore interface {
	CreateCharacter(ctx context.Context, ch *model.Character) error
	GetCharacter(ctx context.Context, id string) (*model.Character, error)
	CreateLinkedRecords(ctx context.Context, characterID string, in *model.CharacterInput) error
	GetProfile(ctx context.Context, characterID string) (*model.CharacterProfile, error)
	SavePersonalityDetails(ctx context.Context, characterID, details string) error
	AttachDisplayImage(ctx context.Context, characterID, url string) error
}

// MediaStore persists produced media records.
type MediaStore interface {
	CreateMedia(ctx context.Context, m *model.Media) error
	GetMedia(ctx context.Context, id string) (*model.Media, error)
}
