package web

import (
	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"

	"github.com/sentinel-flow/sentinel/pkg/alerting"
	"github.com/sentinel-flow/sentinel/pkg/catalog"
	"github.com/sentinel-flow/sentinel/pkg/ingestion"
	"github.com/sentinel-flow/sentinel/pkg/services"
	"github.com/sentinel-flow/sentinel/pkg/tracker"
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

func conflict(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(409).
		WithInstance(c.Path()).
		WithType("conflict").
		WithDetail(detail)

	return c.Status(fiber.StatusConflict).JSON(problem)
}

func tooManyRequests(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(429).
		WithInstance(c.Path()).
		WithType("rate_limited").
		WithDetail(detail)

	return c.Status(fiber.StatusTooManyRequests).JSON(problem)
}

func internalError(c fiber.Ctx, err error) error {
	problem := problems.NewStatusProblem(500).
		WithInstance(c.Path()).
		WithType("internal_error").
		WithError(err)

	return c.Status(fiber.StatusInternalServerError).JSON(problem)
}

// handleError maps domain errors onto problem responses. Unknown errors stay
// opaque 500s.
func handleError(c fiber.Ctx, err error) error {
	switch {
	case ingestion.IsInvalidEvent(err), catalog.IsInvalidGraph(err):
		return badRequest(c, err.Error())
	case ingestion.IsRateLimited(err):
		return tooManyRequests(c, err.Error())
	case catalog.IsDuplicateKey(err):
		return conflict(c, err.Error())
	case catalog.IsWorkflowNotFound(err),
		catalog.IsVersionNotFound(err),
		alerting.IsAlertNotFound(err),
		tracker.IsUnknownCorrelation(err),
		services.IsItemNotFound(err):
		return notFound(c, err.Error())
	default:
		return internalError(c, err)
	}
}
