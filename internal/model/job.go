package model

import (
	"encoding/json"
	"time"
)

// JobKind identifies the queue category a job belongs to.
type JobKind string

const (
	KindCharacterCreation JobKind = "character-creation"
	KindImageGeneration   JobKind = "image-generation"
	KindVideoGeneration   JobKind = "video-generation"
)

// JobStatus is the persisted lifecycle state of a job.
//
// pending -> active -> completed | failed | cancelled. A retried delivery
// moves active -> active with AttemptsMade incremented and Progress reset.
// Terminal states never transition again.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusActive    JobStatus = "active"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// IsTerminal reports whether no further transitions may leave s.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// MediaType discriminates media-generation jobs.
type MediaType string

const (
	MediaTypeImage MediaType = "image"
	MediaTypeVideo MediaType = "video"
)

// Job is the durable record tracked in the job store. The queue keeps its own
// retry bookkeeping; AttemptsMade here is incremented once per delivery when
// the worker marks the record active, which keeps the two ledgers in lockstep.
type Job struct {
	JobID        string          `json:"jobId" bson:"jobId"`
	OwnerID      string          `json:"ownerId" bson:"ownerId"`
	Kind         JobKind         `json:"kind" bson:"kind"`
	MediaType    MediaType       `json:"type,omitempty" bson:"type,omitempty"`
	Status       JobStatus       `json:"status" bson:"status"`
	Progress     int             `json:"progress" bson:"progress"`
	Input        json.RawMessage `json:"-" bson:"input"`
	Result       *JobResult      `json:"result,omitempty" bson:"result,omitempty"`
	AttemptsMade int             `json:"attemptsMade" bson:"attemptsMade"`
	FailedReason string          `json:"failedReason,omitempty" bson:"failedReason,omitempty"`
	CreatedAt    time.Time       `json:"createdAt" bson:"createdAt"`
	StartedAt    *time.Time      `json:"startedAt,omitempty" bson:"startedAt,omitempty"`
	CompletedAt  *time.Time      `json:"completedAt,omitempty" bson:"completedAt,omitempty"`
}

// JobResult is the terminal payload of a job. Exactly one of the success
// fields or Error is populated, and only in a terminal state.
type JobResult struct {
	CharacterID string `json:"characterId,omitempty" bson:"characterId,omitempty"`
	DisplayID   string `json:"displayId,omitempty" bson:"displayId,omitempty"`
	Name        string `json:"name,omitempty" bson:"name,omitempty"`
	MediaID     string `json:"mediaId,omitempty" bson:"mediaId,omitempty"`
	URL         string `json:"url,omitempty" bson:"url,omitempty"`
	Error       string `json:"error,omitempty" bson:"error,omitempty"`
}

// CharacterCreationPayload is the input of a character-creation job.
type CharacterCreationPayload struct {
	OwnerID   string         `json:"ownerId"`
	Character CharacterInput `json:"character"`
}

// ImageGenerationPayload is the input of an image-generation job.
type ImageGenerationPayload struct {
	OwnerID     string `json:"ownerId"`
	CharacterID string `json:"characterId"`
	PoseID      string `json:"poseId,omitempty"`
}

// VideoGenerationPayload is the input of a video-generation job.
type VideoGenerationPayload struct {
	OwnerID     string `json:"ownerId"`
	CharacterID string `json:"characterId"`
	MediaID     string `json:"mediaId"`
	Duration    int    `json:"duration"`
	Resolution  string `json:"resolution"`
	PoseID      string `json:"poseId,omitempty"`
}

// QueueInfo is the live broker-side view of a task, merged into status
// responses when the broker is reachable. It is supplementary: the job store
// remains the source of truth when the broker is down.
type QueueInfo struct {
	State         string     `json:"state"`
	Retried       int        `json:"retried"`
	MaxRetry      int        `json:"maxRetry"`
	LastError     string     `json:"lastError,omitempty"`
	NextProcessAt *time.Time `json:"nextProcessAt,omitempty"`
}

// JobStatusResponse is the merged store + queue snapshot served by the API.
type JobStatusResponse struct {
	JobID        string     `json:"jobId"`
	Kind         JobKind    `json:"kind"`
	MediaType    MediaType  `json:"type,omitempty"`
	Status       JobStatus  `json:"status"`
	Progress     int        `json:"progress"`
	Result       *JobResult `json:"result,omitempty"`
	FailedReason string     `json:"failedReason,omitempty"`
	AttemptsMade int        `json:"attemptsMade"`
	CreatedAt    time.Time  `json:"createdAt"`
	StartedAt    *time.Time `json:"startedAt,omitempty"`
	CompletedAt  *time.Time `json:"completedAt,omitempty"`
	QueueInfo    *QueueInfo `json:"queueInfo,omitempty"`
}

// EnqueueResponse is the 202 body returned when a job is accepted.
type EnqueueResponse struct {
	JobID     string    `json:"jobId"`
	Status    JobStatus `json:"status"`
	StatusURL string    `json:"statusUrl"`
}

// JobListResponse is a paginated job listing for one owner.
type JobListResponse struct {
	Data       []JobStatusResponse `json:"data"`
	Pagination Pagination          `json:"pagination"`
}

// Pagination describes a skip/limit window over a total.
type Pagination struct {
	Total   int64 `json:"total"`
	Limit   int   `json:"limit"`
	Skip    int   `json:"skip"`
	HasMore bool  `json:"hasMore"`
}
