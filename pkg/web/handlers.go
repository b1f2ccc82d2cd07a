// Package web provides the embedded operations API: health, manual sweep
// runs, enrollment management, and the unsubscribe endpoint.
package web

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"

	"github.com/dripline/dripline/pkg/engine"
	"github.com/dripline/dripline/pkg/persistence"
)

type Handlers struct {
	engine      *engine.Engine
	persistence persistence.Persistence
	validator   *validator.Validate
	logger      *slog.Logger
}

func NewHandlers(
	engine *engine.Engine,
	persistence persistence.Persistence,
	validator *validator.Validate,
	logger *slog.Logger,
) *Handlers {
	return &Handlers{
		engine:      engine,
		persistence: persistence,
		validator:   validator,
		logger:      logger.With("module", "web"),
	}
}

func (h *Handlers) HealthCheck(c fiber.Ctx) error {
	status := "healthy"
	message := "Dripline engine is healthy"
	httpStatus := http.StatusOK

	if err := h.persistence.HealthCheck(c.Context()); err != nil {
		status = "unhealthy"
		message = err.Error()
		httpStatus = http.StatusInternalServerError
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":    status,
		"message":   message,
		"timestamp": time.Now().UTC(),
	})
}

func (h *Handlers) GetWorkflow(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "workflow ID is required")
	}

	workflow, err := h.persistence.WorkflowByID(c.Context(), id)
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(workflow)
}

func (h *Handlers) GetWorkflowEnrollments(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "workflow ID is required")
	}

	if _, err := h.persistence.WorkflowByID(c.Context(), id); err != nil {
		return handleEngineError(c, err)
	}

	enrollments, err := h.persistence.ActiveEnrollments(c.Context(), id)
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(fiber.Map{
		"enrollments": enrollments,
		"count":       len(enrollments),
	})
}

type EnrollRequest struct {
	WorkflowID string `json:"workflow_id" validate:"required"`
	ContactID  string `json:"contact_id"  validate:"required"`
}

func (h *Handlers) CreateEnrollment(c fiber.Ctx) error {
	var req EnrollRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "invalid JSON body")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	enrollment, err := h.engine.Enroll(c.Context(), req.WorkflowID, req.ContactID, "api")
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(enrollment)
}

func (h *Handlers) GetEnrollment(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "enrollment ID is required")
	}

	enrollment, err := h.persistence.EnrollmentByID(c.Context(), id)
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(enrollment)
}

func (h *Handlers) ResumeWorkflow(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "workflow ID is required")
	}

	resumed, err := h.engine.ResumeEnrollments(c.Context(), id)
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(fiber.Map{"resumed": resumed})
}

// Unsubscribe handles the link rendered into every outgoing email. It is a
// GET because mail clients follow plain links.
func (h *Handlers) Unsubscribe(c fiber.Ctx) error {
	contactID := c.Query("contact")
	if contactID == "" {
		return badRequest(c, "contact query parameter is required")
	}

	contact, err := h.persistence.ContactByID(c.Context(), contactID)
	if err != nil {
		return handleEngineError(c, err)
	}

	if !contact.Unsubscribed {
		contact.Unsubscribed = true
		if err := h.persistence.SaveContact(c.Context(), contact); err != nil {
			return internalError(c, err)
		}

		h.logger.InfoContext(c.Context(), "Contact unsubscribed", "contact_id", contactID)
	}

	return c.SendString("You have been unsubscribed.")
}

// runSweep runs one of the engine's periodic sweeps synchronously so
// operators can trigger them outside their schedule.
func (h *Handlers) runSweep(c fiber.Ctx, name string, sweep func() error) error {
	started := time.Now().UTC()

	if err := sweep(); err != nil {
		h.logger.ErrorContext(c.Context(), "Manual sweep failed", "sweep", name, "error", err)

		return internalError(c, err)
	}

	return c.JSON(fiber.Map{
		"sweep":    name,
		"duration": time.Since(started).String(),
	})
}

func (h *Handlers) RunQueue(c fiber.Ctx) error {
	return h.runSweep(c, "queue", func() error {
		return h.engine.ProcessQueue(c.Context())
	})
}

func (h *Handlers) RunDateTriggers(c fiber.Ctx) error {
	return h.runSweep(c, "date-triggers", func() error {
		return h.engine.ProcessDateTriggers(c.Context())
	})
}

func (h *Handlers) RunInactivityTriggers(c fiber.Ctx) error {
	return h.runSweep(c, "inactivity-triggers", func() error {
		return h.engine.ProcessInactivityTriggers(c.Context())
	})
}

func (h *Handlers) RunRetention(c fiber.Ctx) error {
	return h.runSweep(c, "retention", func() error {
		return h.engine.CleanupOldData(c.Context())
	})
}
