// Package main provides the Sentinel API server implementation.
package main

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"go.opentelemetry.io/otel/trace"

	"github.com/sentinel-flow/sentinel/pkg/aggregate"
	"github.com/sentinel-flow/sentinel/pkg/alerting"
	"github.com/sentinel-flow/sentinel/pkg/archive"
	"github.com/sentinel-flow/sentinel/pkg/catalog"
	"github.com/sentinel-flow/sentinel/pkg/eventbus"
	"github.com/sentinel-flow/sentinel/pkg/ingestion"
	"github.com/sentinel-flow/sentinel/pkg/scheduler"
	"github.com/sentinel-flow/sentinel/pkg/services"
	"github.com/sentinel-flow/sentinel/pkg/tracker"
	"github.com/sentinel-flow/sentinel/pkg/web"
)

const schedulerWorkers = 4

type API struct {
	logger    *slog.Logger
	scheduler *scheduler.Scheduler
	pipeline  *ingestion.Pipeline
	handlers  *web.APIHandlers
}

func NewAPI(
	logger *slog.Logger,
	eventBus eventbus.EventBus,
	eventArchive archive.EventArchive,
	limiter ingestion.RateLimiter,
	tracer trace.Tracer,
) *API {
	clock := scheduler.RealClock()
	sched := scheduler.New(clock, schedulerWorkers, logger)

	cat := catalog.NewCatalog(logger)
	trk := tracker.NewTracker(sched, clock, logger)
	alerts := alerting.NewEngine(clock, logger)
	aggregator := aggregate.NewAggregator(logger)

	pipeline := ingestion.NewPipeline(ingestion.Dependencies{
		Catalog:    cat,
		Tracker:    trk,
		Aggregator: aggregator,
		Alerts:     alerts,
		Archive:    eventArchive,
		Bus:        eventBus,
		Limiter:    limiter,
		Tracer:     tracer,
		Clock:      clock,
		Logger:     logger,
	})

	wallboard := services.NewWallboardService(cat, trk, alerts, clock, logger)
	timeline := services.NewTimelineService(cat, trk, alerts, logger)

	return &API{
		logger:    logger,
		scheduler: sched,
		pipeline:  pipeline,
		handlers:  web.NewAPIHandlers(pipeline, cat, aggregator, alerts, wallboard, timeline, eventArchive, eventBus),
	}
}

func (a *API) App() *fiber.App {
	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Sentinel API")
	})

	app.Post("/events", a.handlers.IngestEvent)
	app.Get("/events/recent", a.handlers.RecentEvents)

	w := app.Group("/workflows")
	w.Get("/", a.handlers.GetWorkflows)
	w.Post("/", a.handlers.CreateWorkflow)
	w.Get("/:id", a.handlers.GetWorkflow)
	w.Post("/:id/versions", a.handlers.PublishVersion)
	w.Delete("/:id", a.handlers.RetireWorkflow)
	w.Get("/:id/wallboard", a.handlers.GetWallboard)
	w.Get("/:id/aggregates", a.handlers.GetAggregates)
	w.Get("/:id/items", a.handlers.GetItems)

	app.Get("/items/:correlationKey", a.handlers.GetItem)

	al := app.Group("/alerts")
	al.Get("/", a.handlers.GetAlerts)
	al.Get("/audit", a.handlers.GetAuditTrail)
	al.Get("/:id", a.handlers.GetAlert)
	al.Post("/:id/ack", a.handlers.AckAlert)
	al.Post("/:id/suppress", a.handlers.SuppressAlert)
	al.Post("/:id/resolve", a.handlers.ResolveAlert)

	app.Get("/health", a.handlers.HealthCheck)

	return app
}

func (a *API) Start(ctx context.Context, port int) error {
	go a.scheduler.Run(ctx)

	if err := a.pipeline.Start(ctx); err != nil {
		return err
	}

	return a.App().Listen(":" + strconv.Itoa(port))
}
