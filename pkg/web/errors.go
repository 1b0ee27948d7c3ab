package web

import (
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"

	"github.com/engageline/series/pkg/persistence"
	"github.com/engageline/series/pkg/readiness"
	"github.com/engageline/series/pkg/services"
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

// readinessProblem extends the RFC 7807 body with the validator's issue
// arrays so clients can render each blocker.
type readinessProblem struct {
	problems.Problem

	Blockers []readiness.Issue `json:"blockers"`
	Warnings []readiness.Issue `json:"warnings"`
}

func readinessBlocked(c fiber.Ctx, blocked *services.ReadinessBlockedError) error {
	problem := readinessProblem{
		Problem: *problems.NewStatusProblem(409).
			WithInstance(c.Path()).
			WithType("readiness_blocked").
			WithDetail(blocked.Error()),
		Blockers: blocked.Report.Blockers,
		Warnings: blocked.Report.Warnings,
	}

	return c.Status(fiber.StatusConflict).JSON(problem)
}

// handleServiceError provides typed error handling for service layer errors.
func handleServiceError(c fiber.Ctx, err error) error {
	if blocked, ok := services.IsReadinessBlocked(err); ok {
		return readinessBlocked(c, blocked)
	}

	switch {
	case errors.Is(err, services.ErrOrchestrationDisabledByGuard):
		// Distinct from the generic conflicts so clients can tell the
		// kill switch apart from a state-machine rejection.
		problem := problems.NewStatusProblem(409).
			WithInstance(c.Path()).
			WithType("orchestration_disabled").
			WithDetail(err.Error())

		return c.Status(fiber.StatusConflict).JSON(problem)

	case services.IsValidationError(err):
		problem := problems.NewStatusProblem(400).
			WithInstance(c.Path()).
			WithType("validation_error").
			WithDetail(err.Error())

		return c.Status(fiber.StatusBadRequest).JSON(problem)

	case services.IsConflictError(err):
		problem := problems.NewStatusProblem(409).
			WithInstance(c.Path()).
			WithType("conflict").
			WithDetail(err.Error())

		return c.Status(fiber.StatusConflict).JSON(problem)

	case persistence.IsSeriesNotFound(err):
		return notFound(c, "series not found")

	case persistence.IsBlockNotFound(err):
		return notFound(c, "block not found")

	case persistence.IsConnectionNotFound(err):
		return notFound(c, "connection not found")

	case persistence.IsProgressNotFound(err):
		return notFound(c, "progress not found")

	case persistence.IsVisitorNotFound(err):
		return notFound(c, "visitor not found")

	default:
		return internalError(c, err)
	}
}
