package web

import (
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"

	"github.com/dripline/dripline/pkg/engine"
	"github.com/dripline/dripline/pkg/persistence"
)

func badRequest(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(400).
		WithInstance(c.Path()).
		WithType("validation_error").
		WithDetail(detail)

	return c.Status(fiber.StatusBadRequest).JSON(problem)
}

func notFound(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(404).
		WithInstance(c.Path()).
		WithType("not_found").
		WithDetail(detail)

	return c.Status(fiber.StatusNotFound).JSON(problem)
}

func internalError(c fiber.Ctx, err error) error {
	problem := problems.NewStatusProblem(500).
		WithInstance(c.Path()).
		WithType("internal_error").
		WithError(err)

	return c.Status(fiber.StatusInternalServerError).JSON(problem)
}

// handleEngineError maps engine and persistence errors to RFC-7807 responses.
func handleEngineError(c fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, engine.ErrAlreadyEnrolled):
		problem := problems.NewStatusProblem(409).
			WithInstance(c.Path()).
			WithType("already_enrolled").
			WithDetail("contact already has an active enrollment in this workflow")

		return c.Status(fiber.StatusConflict).JSON(problem)

	case errors.Is(err, engine.ErrContactUnsubscribed):
		problem := problems.NewStatusProblem(409).
			WithInstance(c.Path()).
			WithType("contact_unsubscribed").
			WithDetail("contact has unsubscribed from email")

		return c.Status(fiber.StatusConflict).JSON(problem)

	case persistence.IsWorkflowNotFound(err):
		return notFound(c, "workflow not found")

	case persistence.IsContactNotFound(err):
		return notFound(c, "contact not found")

	case persistence.IsEnrollmentNotFound(err):
		return notFound(c, "enrollment not found")

	default:
		return internalError(c, err)
	}
}
