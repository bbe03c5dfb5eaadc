package web

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"

	"github.com/sentinel-flow/sentinel/pkg/aggregate"
	"github.com/sentinel-flow/sentinel/pkg/alerting"
	"github.com/sentinel-flow/sentinel/pkg/archive"
	"github.com/sentinel-flow/sentinel/pkg/catalog"
	"github.com/sentinel-flow/sentinel/pkg/eventbus"
	"github.com/sentinel-flow/sentinel/pkg/events"
	"github.com/sentinel-flow/sentinel/pkg/ingestion"
	"github.com/sentinel-flow/sentinel/pkg/models"
	"github.com/sentinel-flow/sentinel/pkg/services"
	"github.com/sentinel-flow/sentinel/pkg/tracker"
)

type APIHandlers struct {
	pipeline   *ingestion.Pipeline
	catalog    *catalog.Catalog
	aggregator *aggregate.Aggregator
	alerts     *alerting.Engine
	wallboard  *services.WallboardService
	timeline   *services.TimelineService
	archive    archive.EventArchive
	bus        eventbus.EventBus
	validate   *validator.Validate
}

func NewAPIHandlers(
	pipeline *ingestion.Pipeline,
	cat *catalog.Catalog,
	aggregator *aggregate.Aggregator,
	alerts *alerting.Engine,
	wallboard *services.WallboardService,
	timeline *services.TimelineService,
	eventArchive archive.EventArchive,
	bus eventbus.EventBus,
) *APIHandlers {
	return &APIHandlers{
		pipeline:   pipeline,
		catalog:    cat,
		aggregator: aggregator,
		alerts:     alerts,
		wallboard:  wallboard,
		timeline:   timeline,
		archive:    eventArchive,
		bus:        bus,
		validate:   validator.New(validator.WithRequiredStructEnabled()),
	}
}

// IngestEvent accepts one producer event. 202 means accepted for
// evaluation, not evaluated.
func (h *APIHandlers) IngestEvent(c fiber.Ctx) error {
	var raw models.RawEvent
	if err := c.Bind().JSON(&raw); err != nil {
		return badRequest(c, "Invalid request body: "+err.Error())
	}

	result, err := h.pipeline.Accept(c.Context(), raw)
	if err != nil {
		return handleError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(result)
}

// RecentEvents returns the newest archived events for debugging producers.
func (h *APIHandlers) RecentEvents(c fiber.Ctx) error {
	limit, err := queryInt(c, "limit", 100)
	if err != nil {
		return badRequest(c, "Invalid limit: "+err.Error())
	}

	events, err := h.archive.Recent(c.Context(), limit)
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(fiber.Map{"events": events})
}

func (h *APIHandlers) GetWorkflows(c fiber.Ctx) error {
	return c.JSON(fiber.Map{"workflows": h.catalog.Workflows()})
}

func (h *APIHandlers) GetWorkflow(c fiber.Ctx) error {
	workflow, err := h.catalog.Workflow(c.Params("id"))
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(fiber.Map{
		"workflow": workflow,
		"versions": h.catalog.VersionsFor(workflow.ID),
	})
}

func (h *APIHandlers) CreateWorkflow(c fiber.Ctx) error {
	var req CreateWorkflowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid request body: "+err.Error())
	}

	if err := h.validate.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	workflow, version, err := h.catalog.Create(&models.Workflow{
		Key:   req.Key,
		Name:  req.Name,
		Owner: req.Owner,
	}, req.Graph)
	if err != nil {
		return handleError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"workflow": workflow,
		"version":  version,
	})
}

func (h *APIHandlers) PublishVersion(c fiber.Ctx) error {
	var req PublishVersionRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid request body: "+err.Error())
	}

	if err := h.validate.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	version, err := h.catalog.PublishVersion(c.Params("id"), req.Graph, req.CreatedBy)
	if err != nil {
		return handleError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(version)
}

func (h *APIHandlers) RetireWorkflow(c fiber.Ctx) error {
	if err := h.catalog.Retire(c.Params("id")); err != nil {
		return handleError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) GetWallboard(c fiber.Ctx) error {
	view, err := h.wallboard.Wallboard(c.Params("id"))
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(view)
}

// GetAggregates returns the stage counter rows of the active version,
// optionally filtered to one group hash.
func (h *APIHandlers) GetAggregates(c fiber.Ctx) error {
	version, err := h.catalog.ActiveVersion(c.Params("id"))
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(fiber.Map{
		"workflow_version_id": version.ID,
		"rows":                h.aggregator.Rows(version.ID, c.Query("group")),
	})
}

func (h *APIHandlers) GetItems(c fiber.Ctx) error {
	limit, err := queryInt(c, "limit", 100)
	if err != nil {
		return badRequest(c, "Invalid limit: "+err.Error())
	}

	offset, err := queryInt(c, "offset", 0)
	if err != nil {
		return badRequest(c, "Invalid offset: "+err.Error())
	}

	items, err := h.timeline.Items(c.Params("id"), tracker.ListFilter{
		Status:    models.Severity(c.Query("status")),
		GroupHash: c.Query("group"),
		Limit:     limit,
		Offset:    offset,
	})
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(fiber.Map{"items": items})
}

func (h *APIHandlers) GetItem(c fiber.Ctx) error {
	view, err := h.timeline.Timeline(c.Query("workflow_id"), c.Params("correlationKey"))
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(view)
}

func (h *APIHandlers) GetAlerts(c fiber.Ctx) error {
	limit, err := queryInt(c, "limit", 0)
	if err != nil {
		return badRequest(c, "Invalid limit: "+err.Error())
	}

	return c.JSON(fiber.Map{
		"alerts": h.alerts.List(models.AlertState(c.Query("state")), limit),
	})
}

func (h *APIHandlers) GetAlert(c fiber.Ctx) error {
	alert, err := h.alerts.Get(c.Params("id"))
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(alert)
}

func (h *APIHandlers) AckAlert(c fiber.Ctx) error {
	req, err := bindAlertAction(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	previous, err := h.alerts.Get(c.Params("id"))
	if err != nil {
		return handleError(c, err)
	}

	if err := h.alerts.Ack(c.Params("id"), req.Actor, req.Reason); err != nil {
		return handleError(c, err)
	}

	return h.alertChanged(c, previous.State, req.Actor)
}

func (h *APIHandlers) SuppressAlert(c fiber.Ctx) error {
	req, err := bindAlertAction(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	var until time.Time
	if req.Until != nil {
		until = *req.Until
	}

	previous, err := h.alerts.Get(c.Params("id"))
	if err != nil {
		return handleError(c, err)
	}

	if err := h.alerts.Suppress(c.Params("id"), until, req.Actor, req.Reason); err != nil {
		return handleError(c, err)
	}

	return h.alertChanged(c, previous.State, req.Actor)
}

func (h *APIHandlers) ResolveAlert(c fiber.Ctx) error {
	req, err := bindAlertAction(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	previous, err := h.alerts.Get(c.Params("id"))
	if err != nil {
		return handleError(c, err)
	}

	if err := h.alerts.Resolve(c.Params("id"), req.Actor, req.Reason); err != nil {
		return handleError(c, err)
	}

	return h.alertChanged(c, previous.State, req.Actor)
}

// alertChanged publishes the operator transition for bus consumers and
// returns the updated alert. The state change is already committed, so a
// publish failure does not fail the request.
func (h *APIHandlers) alertChanged(c fiber.Ctx, previous models.AlertState, actor string) error {
	alert, err := h.alerts.Get(c.Params("id"))
	if err != nil {
		return handleError(c, err)
	}

	changed := events.AlertStateChanged{
		BaseEvent: events.BaseEvent{
			ID:        h.bus.GenerateID(),
			Type:      events.AlertStateChangedEvent,
			Timestamp: alert.LastTriggeredAt,
		},
		Alert:    *alert,
		Actor:    actor,
		Previous: string(previous),
	}

	_ = h.bus.Publish(c.Context(), alert.CorrelationKey, changed)

	return c.JSON(alert)
}

func (h *APIHandlers) GetAuditTrail(c fiber.Ctx) error {
	return c.JSON(fiber.Map{"entries": h.alerts.AuditTrail()})
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	status := "healthy"
	httpStatus := http.StatusOK

	archiveStatus := "ok"
	if err := h.archive.HealthCheck(c.Context()); err != nil {
		status = "unhealthy"
		httpStatus = http.StatusInternalServerError
		archiveStatus = err.Error()
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status": status,
		"checks": fiber.Map{
			"archive": archiveStatus,
		},
	})
}

func bindAlertAction(c fiber.Ctx) (AlertActionRequest, error) {
	var req AlertActionRequest

	if len(c.Body()) == 0 {
		return req, nil
	}

	if err := c.Bind().JSON(&req); err != nil {
		return req, err
	}

	return req, nil
}

func queryInt(c fiber.Ctx, name string, fallback int) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return fallback, nil
	}

	return strconv.Atoi(raw)
}
