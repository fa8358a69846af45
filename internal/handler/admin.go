package handler

import (
	"github.com/gofiber/fiber/v2"

	"github.com/characterhub/api/internal/model"
	"github.com/characterhub/api/internal/queue"
	"github.com/characterhub/api/internal/sse"
	"github.com/characterhub/api/pkg/response"
)

// QueueInspector is the broker introspection surface the admin endpoints use.
type QueueInspector interface {
	Stats(kind model.JobKind) (*queue.Stats, error)
}

type AdminHandler struct {
	q   QueueInspector
	hub *sse.Hub
}

func NewAdminHandler(q QueueInspector, hub *sse.Hub) *AdminHandler {
	return &AdminHandler{q: q, hub: hub}
}

// QueueStats handles GET /api/v1/admin/queues
func (h *AdminHandler) QueueStats(c *fiber.Ctx) error {
	kinds := []model.JobKind{
		model.KindCharacterCreation,
		model.KindImageGeneration,
		model.KindVideoGeneration,
	}
	stats := make([]queue.Stats, 0, len(kinds))
	for _, kind := range kinds {
		s, err := h.q.Stats(kind)
		if err != nil {
			return response.ServiceUnavailable(c, "Queue unavailable")
		}
		stats = append(stats, *s)
	}
	return response.OK(c, fiber.Map{"queues": stats})
}

// EventStats handles GET /api/v1/admin/events
func (h *AdminHandler) EventStats(c *fiber.Ctx) error {
	return response.OK(c, h.hub.Stats())
}
