package handler

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/characterhub/api/internal/middleware"
	"github.com/characterhub/api/internal/model"
	"github.com/characterhub/api/internal/queue"
	"github.com/characterhub/api/internal/service"
	"github.com/characterhub/api/internal/store"
	"github.com/characterhub/api/pkg/response"
)

type JobHandler struct {
	service   *service.JobService
	validator *validator.Validate
}

func NewJobHandler(svc *service.JobService, v *validator.Validate) *JobHandler {
	return &JobHandler{
		service:   svc,
		validator: v,
	}
}

type createCharacterRequest struct {
	model.CharacterInput
	Priority int `json:"priority,omitempty" validate:"omitempty,min=1,max=10"`
}

// CreateCharacter handles POST /api/v1/jobs/character-creation
func (h *JobHandler) CreateCharacter(c *fiber.Ctx) error {
	var req createCharacterRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	result, err := h.service.EnqueueCharacterCreation(c.Context(), middleware.GetUserID(c), &req.CharacterInput,
		service.EnqueueOptions{Priority: req.Priority})
	if err != nil {
		return serviceError(c, err)
	}

	return response.Accepted(c, result)
}

// CharacterStatus handles GET /api/v1/jobs/character-creation/:jobId
func (h *JobHandler) CharacterStatus(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	if jobID == "" {
		return response.ValidationError(c, "Job ID is required", nil)
	}

	result, err := h.service.GetStatus(c.Context(), middleware.GetUserID(c), jobID, model.KindCharacterCreation)
	if err != nil {
		return serviceError(c, err)
	}

	return response.OK(c, result)
}

// ListCharacters handles GET /api/v1/jobs/character-creation
func (h *JobHandler) ListCharacters(c *fiber.Ctx) error {
	f := store.JobFilter{
		Kind:   model.KindCharacterCreation,
		Status: model.JobStatus(c.Query("status")),
		Limit:  c.QueryInt("limit", 20),
		Skip:   c.QueryInt("skip", 0),
	}

	result, err := h.service.List(c.Context(), middleware.GetUserID(c), f)
	if err != nil {
		return serviceError(c, err)
	}

	return response.OK(c, result)
}

// CancelCharacter handles DELETE /api/v1/jobs/character-creation/:jobId
func (h *JobHandler) CancelCharacter(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	if jobID == "" {
		return response.ValidationError(c, "Job ID is required", nil)
	}

	result, err := h.service.Cancel(c.Context(), middleware.GetUserID(c), jobID, model.KindCharacterCreation)
	if err != nil {
		return serviceError(c, err)
	}

	return response.OK(c, result)
}

// List handles GET /api/v1/jobs
func (h *JobHandler) List(c *fiber.Ctx) error {
	f := store.JobFilter{
		Kind:      model.JobKind(c.Query("kind")),
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

// serviceError translates service and store errors to HTTP responses.
func serviceError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return response.NotFound(c, "Job not found")
	case errors.Is(err, service.ErrForbidden):
		return response.Forbidden(c, "Job belongs to another user")
	case errors.Is(err, store.ErrTerminal):
		return response.ValidationError(c, "Job already finished", nil)
	case errors.Is(err, queue.ErrUnavailable):
		return response.ServiceUnavailable(c, "Queue unavailable, try again later")
	}
	return response.ServiceError(c, err.Error())
}

// formatValidationErrors formats validator errors for response
func formatValidationErrors(err error) interface{} {
	if validationErrors, ok := err.(validator.ValidationErrors); ok {
		errors := make(map[string]string)
		for _, e := range validationErrors {
			errors[e.Field()] = e.Tag()
		}
		return errors
	}
	return nil
}
