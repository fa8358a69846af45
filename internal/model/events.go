package model

import "time"

// Stream event types pushed over SSE.
const (
	EventConnected     = "connected"
	EventInitialStatus = "initial_status"
	EventJobUpdate     = "job_update"
)

// StreamEvent is one SSE frame's JSON payload. The hub delivers only to
// connections live at publish time; there is no replay, so a late subscriber
// relies on the initial_status snapshot taken from the job store.
type StreamEvent struct {
	Type         string     `json:"type"`
	JobID        string     `json:"jobId,omitempty"`
	Kind         JobKind    `json:"kind,omitempty"`
	Status       JobStatus  `json:"status,omitempty"`
	Progress     int        `json:"progress,omitempty"`
	Result       *JobResult `json:"result,omitempty"`
	FailedReason string     `json:"failedReason,omitempty"`
	Message      string     `json:"message,omitempty"`
	Timestamp    time.Time  `json:"timestamp,omitempty"`
}

// JobUpdateEvent builds the job_update frame published on each transition.
func JobUpdateEvent(job *Job) StreamEvent {
	return StreamEvent{
		Type:         EventJobUpdate,
		JobID:        job.JobID,
		Kind:         job.Kind,
		Status:       job.Status,
		Progress:     job.Progress,
		Result:       job.Result,
		FailedReason: job.FailedReason,
		Timestamp:    time.Now().UTC(),
	}
}

// InitialStatusEvent builds the snapshot frame sent right after subscribing.
func InitialStatusEvent(job *Job) StreamEvent {
	ev := JobUpdateEvent(job)
	ev.Type = EventInitialStatus
	return ev
}
