package handler

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/characterhub/api/internal/middleware"
	"github.com/characterhub/api/internal/model"
	"github.com/characterhub/api/internal/service"
	"github.com/characterhub/api/internal/store"
	"github.com/characterhub/api/pkg/response"
)

type createMediaRequest struct {
	Type        string `json:"type" validate:"required,oneof=image video"`
	CharacterID string `json:"characterId" validate:"required"`
	MediaID     string `json:"mediaId,omitempty"`
	PoseID      string `json:"poseId,omitempty"`
	Duration    int    `json:"duration,omitempty"`
	Resolution  string `json:"resolution,omitempty" validate:"omitempty,oneof=480p 720p 1080p"`
	Priority    int    `json:"priority,omitempty" validate:"omitempty,min=1,max=10"`
}

// CreateMedia handles POST /api/v1/jobs/media-generation. The type field
// selects the pipeline; video jobs additionally need a source image and a
// supported clip duration.
func (h *JobHandler) CreateMedia(c *fiber.Ctx) error {
	var req createMediaRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	ownerID := middleware.GetUserID(c)
	opts := service.EnqueueOptions{Priority: req.Priority}

	var result *model.EnqueueResponse
	var err error
	switch req.Type {
	case "image":
		result, err = h.service.EnqueueImageGeneration(c.Context(), ownerID, &model.ImageGenerationPayload{
			CharacterID: req.CharacterID,
			PoseID:      req.PoseID,
		}, opts)
	case "video":
		if req.MediaID == "" {
			return response.ValidationError(c, "Validation failed", map[string]string{"mediaId": "required"})
		}
		if req.Duration == 0 {
			req.Duration = 5
		}
		if req.Duration != 5 && req.Duration != 8 {
			return response.ValidationError(c, "Validation failed", map[string]string{"duration": "oneof=5 8"})
		}
		result, err = h.service.EnqueueVideoGeneration(c.Context(), ownerID, &model.VideoGenerationPayload{
			CharacterID: req.CharacterID,
			MediaID:     req.MediaID,
			Duration:    req.Duration,
			Resolution:  req.Resolution,
			PoseID:      req.PoseID,
		}, opts)
	}
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return response.NotFound(c, "Referenced character or media not found")
		}
		return serviceError(c, err)
	}

	return response.Accepted(c, result)
}

// ListMedia handles GET /api/v1/jobs/media-generation
func (h *JobHandler) ListMedia(c *fiber.Ctx) error {
	f := store.JobFilter{
		Kinds:     []model.JobKind{model.KindImageGeneration, model.KindVideoGeneration},
		MediaType: model.MediaType(c.Query("type")),
		Status:    model.JobStatus(c.Query("status")),
		Limit:     c.QueryInt("limit", 20),
		Skip:      c.QueryInt("skip", 0),
	}

	result, err := h.service.List(c.Context(), middleware.GetUserID(c), f)
	if err != nil {
		return serviceError(c, err)
	}

	return response.OK(c, result)
}

// MediaStatus handles GET /api/v1/jobs/media-generation/:jobId
func (h *JobHandler) MediaStatus(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	if jobID == "" {
		return response.ValidationError(c, "Job ID is required", nil)
	}

	result, err := h.service.GetStatus(c.Context(), middleware.GetUserID(c), jobID,
		model.KindImageGeneration, model.KindVideoGeneration)
	if err != nil {
		return serviceError(c, err)
	}

	return response.OK(c, result)
}

// CancelMedia handles DELETE /api/v1/jobs/media-generation/:jobId
func (h *JobHandler) CancelMedia(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	if jobID == "" {
		return response.ValidationError(c, "Job ID is required", nil)
	}

	result, err := h.service.Cancel(c.Context(), middleware.GetUserID(c), jobID,
		model.KindImageGeneration, model.KindVideoGeneration)
	if err != nil {
		return serviceError(c, err)
	}

	return response.OK(c, result)
}
