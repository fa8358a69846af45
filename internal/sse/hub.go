package sse

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/characterhub/api/internal/model"
)

const subscriptionBuffer = 64

// Subscription is one live SSE connection's view of the hub. It exists only
// while the connection is open and is never persisted.
type Subscription struct {
	jobID   string
	ownerID string

	// mu makes send and close mutually exclusive. Publishers deliver outside
	// the hub lock, so without it a send could race the channel close and
	// panic; a select with a default arm does not protect against that.
	mu     sync.Mutex
	closed bool
	events chan model.StreamEvent
}

// Events delivers hub publishes to the connection writer. The channel closes
// when the subscription is removed from the hub.
func (s *Subscription) Events() <-chan model.StreamEvent {
	return s.events
}

func (s *Subscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.events)
}

// send queues the event without blocking. A full buffer reports false so the
// hub can drop the subscriber; a closed subscription swallows the event.
func (s *Subscription) send(ev model.StreamEvent) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return true
	}
	select {
	case s.events <- ev:
		return true
	default:
		return false
	}
}

// Hub fans job-lifecycle events out to the connections watching a job or an
// owner's aggregate stream. The registries are the one shared mutable
// structure in the orchestration core: workers publish and handlers
// subscribe concurrently, so every access takes the mutex. Delivery is
// best-effort at publish time; the job store carries durability, so there is
// no buffering or replay.
type Hub struct {
	mu     sync.RWMutex
	byJob  map[string]map[*Subscription]struct{}
	byUser map[string]map[*Subscription]struct{}
	log    zerolog.Logger
}

func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		byJob:  make(map[string]map[*Subscription]struct{}),
		byUser: make(map[string]map[*Subscription]struct{}),
		log:    log.With().Str("component", "sse-hub").Logger(),
	}
}

// Subscribe registers a connection under jobID and, when ownerID is set,
// under the owner's aggregate stream as well. A synthetic connected event is
// queued immediately.
func (h *Hub) Subscribe(jobID, ownerID string) *Subscription {
	sub := &Subscription{
		jobID:   jobID,
		ownerID: ownerID,
		events:  make(chan model.StreamEvent, subscriptionBuffer),
	}

	// Queued before registration so the handshake is always the first frame,
	// ahead of anything published once the registries expose the sub.
	sub.events <- model.StreamEvent{
		Type:    model.EventConnected,
		JobID:   jobID,
		Message: "Connected to job status stream",
	}

	h.mu.Lock()
	if jobID != "" {
		if h.byJob[jobID] == nil {
			h.byJob[jobID] = make(map[*Subscription]struct{})
		}
		h.byJob[jobID][sub] = struct{}{}
	}
	if ownerID != "" {
		if h.byUser[ownerID] == nil {
			h.byUser[ownerID] = make(map[*Subscription]struct{})
		}
		h.byUser[ownerID][sub] = struct{}{}
	}
	h.mu.Unlock()

	h.log.Debug().Str("job_id", jobID).Str("owner_id", ownerID).Msg("subscriber registered")
	return sub
}

// SubscribeOwner registers a connection on the owner's aggregate stream only.
func (h *Hub) SubscribeOwner(ownerID string) *Subscription {
	return h.Subscribe("", ownerID)
}

// Unsubscribe removes the connection from every registry it joined and closes
// its event channel.
func (h *Hub) Unsubscribe(sub *Subscription) {
	h.mu.Lock()
	h.remove(sub)
	h.mu.Unlock()
	sub.close()
}

// remove must be called with the write lock held.
func (h *Hub) remove(sub *Subscription) {
	if subs, ok := h.byJob[sub.jobID]; ok {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(h.byJob, sub.jobID)
		}
	}
	if subs, ok := h.byUser[sub.ownerID]; ok {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(h.byUser, sub.ownerID)
		}
	}
}

// PublishJob delivers an event to every live subscriber of jobID. With no
// subscribers it is a silent no-op. Subscribers that cannot keep up are
// dropped (lazy cleanup): a slow reader misses pushes, never blocks a worker.
func (h *Hub) PublishJob(jobID string, ev model.StreamEvent) {
	h.publish(h.snapshotJob(jobID), ev)
}

// PublishOwner delivers an event to the owner's aggregate subscribers.
func (h *Hub) PublishOwner(ownerID string, ev model.StreamEvent) {
	h.publish(h.snapshotOwner(ownerID), ev)
}

func (h *Hub) snapshotJob(jobID string) []*Subscription {
	h.mu.RLock()
	defer h.mu.RUnlock()
	subs := make([]*Subscription, 0, len(h.byJob[jobID]))
	for sub := range h.byJob[jobID] {
		subs = append(subs, sub)
	}
	return subs
}

func (h *Hub) snapshotOwner(ownerID string) []*Subscription {
	h.mu.RLock()
	defer h.mu.RUnlock()
	subs := make([]*Subscription, 0, len(h.byUser[ownerID]))
	for sub := range h.byUser[ownerID] {
		subs = append(subs, sub)
	}
	return subs
}

func (h *Hub) publish(subs []*Subscription, ev model.StreamEvent) {
	var stale []*Subscription
	for _, sub := range subs {
		if !sub.send(ev) {
			stale = append(stale, sub)
		}
	}
	if len(stale) == 0 {
		return
	}
	h.mu.Lock()
	for _, sub := range stale {
		h.remove(sub)
	}
	h.mu.Unlock()
	for _, sub := range stale {
		sub.close()
		h.log.Warn().Str("job_id", sub.jobID).Msg("dropped slow subscriber")
	}
}

// HubStats summarizes the live registries.
type HubStats struct {
	Jobs        int            `json:"jobs"`
	Owners      int            `json:"owners"`
	Connections int            `json:"connections"`
	PerJob      map[string]int `json:"perJob"`
}

func (h *Hub) Stats() HubStats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	stats := HubStats{
		Jobs:   len(h.byJob),
		Owners: len(h.byUser),
		PerJob: make(map[string]int, len(h.byJob)),
	}
	seen := make(map[*Subscription]struct{})
	for jobID, subs := range h.byJob {
		stats.PerJob[jobID] = len(subs)
		for sub := range subs {
			seen[sub] = struct{}{}
		}
	}
	for _, subs := range h.byUser {
		for sub := range subs {
			seen[sub] = struct{}{}
		}
	}
	stats.Connections = len(seen)
	return stats
}
