package handler

import (
	"bufio"
	"encoding/json"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/valyala/fasthttp"

	"github.com/characterhub/api/internal/middleware"
	"github.com/characterhub/api/internal/model"
	"github.com/characterhub/api/internal/service"
	"github.com/characterhub/api/internal/sse"
)

// EventsHandler serves the SSE endpoints. Each connection gets a connected
// frame, a per-job stream additionally gets an initial_status snapshot, then
// job_update frames as transitions happen. There is no replay.
type EventsHandler struct {
	service   *service.JobService
	hub       *sse.Hub
	keepalive time.Duration
}

func NewEventsHandler(svc *service.JobService, hub *sse.Hub, keepalive time.Duration) *EventsHandler {
	if keepalive <= 0 {
		keepalive = 30 * time.Second
	}
	return &EventsHandler{
		service:   svc,
		hub:       hub,
		keepalive: keepalive,
	}
}

// JobEvents handles GET /api/v1/events/jobs/:jobId
func (h *EventsHandler) JobEvents(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	ownerID := middleware.GetUserID(c)

	// Subscribe before reading the snapshot. The hub never replays, so the
	// reverse order loses anything published in between; a job settling in
	// that gap would leave the stream open on a stale status forever.
	sub := h.hub.Subscribe(jobID, ownerID)
	job, err := h.service.Snapshot(c.Context(), ownerID, jobID)
	if err != nil {
		h.hub.Unsubscribe(sub)
		return serviceError(c, err)
	}

	initial := model.InitialStatusEvent(job)
	terminal := job.Status.IsTerminal()

	setStreamHeaders(c)
	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		defer h.hub.Unsubscribe(sub)

		// The connected frame was queued at subscribe time; flush it before
		// the snapshot so the client sees the handshake first.
		select {
		case ev, ok := <-sub.Events():
			if ok && writeEvent(w, ev) != nil {
				return
			}
		default:
		}
		if writeEvent(w, initial) != nil {
			return
		}
		if terminal {
			// Nothing further will ever be published for this job.
			return
		}

		h.stream(w, sub, true)
	}))
	return nil
}

// MyEvents handles GET /api/v1/events/jobs/mine, the owner's aggregate stream
// covering every job they submit while connected.
func (h *EventsHandler) MyEvents(c *fiber.Ctx) error {
	ownerID := middleware.GetUserID(c)
	sub := h.hub.SubscribeOwner(ownerID)

	setStreamHeaders(c)
	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		defer h.hub.Unsubscribe(sub)
		h.stream(w, sub, false)
	}))
	return nil
}

// stream pumps hub events to the wire until the subscription closes, a write
// fails, or (for per-job streams) the job reaches a terminal state.
func (h *EventsHandler) stream(w *bufio.Writer, sub *sse.Subscription, closeOnTerminal bool) {
	ticker := time.NewTicker(h.keepalive)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			if writeEvent(w, ev) != nil {
				return
			}
			if closeOnTerminal && ev.Type == model.EventJobUpdate && ev.Status.IsTerminal() {
				return
			}
		case <-ticker.C:
			if writeKeepalive(w) != nil {
				return
			}
		}
	}
}

func setStreamHeaders(c *fiber.Ctx) {
	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")
	// Disables buffering in nginx-style proxies.
	c.Set("X-Accel-Buffering", "no")
}

func writeEvent(w *bufio.Writer, ev model.StreamEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if _, err := w.WriteString("data: " + string(data) + "\n\n"); err != nil {
		return err
	}
	return w.Flush()
}

func writeKeepalive(w *bufio.Writer) error {
	if _, err := w.WriteString(": keepalive\n\n"); err != nil {
		return err
	}
	return w.Flush()
}
