// Package main provides the headless evaluation engine: it consumes the
// event topic, tracks deadlines and publishes transition and alert records.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel/trace"

	"github.com/sentinel-flow/sentinel/pkg/aggregate"
	"github.com/sentinel-flow/sentinel/pkg/alerting"
	"github.com/sentinel-flow/sentinel/pkg/archive"
	"github.com/sentinel-flow/sentinel/pkg/catalog"
	"github.com/sentinel-flow/sentinel/pkg/eventbus"
	"github.com/sentinel-flow/sentinel/pkg/ingestion"
	"github.com/sentinel-flow/sentinel/pkg/models"
	"github.com/sentinel-flow/sentinel/pkg/scheduler"
	"github.com/sentinel-flow/sentinel/pkg/tracker"
)

const schedulerWorkers = 4

// workflowDefinition is the on-disk startup format: one workflow with its
// initial graph per JSON file.
type workflowDefinition struct {
	Key   string         `json:"key"`
	Name  string         `json:"name"`
	Owner string         `json:"owner"`
	Graph map[string]any `json:"graph"`
}

type EngineManager struct {
	id       string
	logger   *slog.Logger
	catalog  *catalog.Catalog
	tracker  *tracker.Tracker
	sched    *scheduler.Scheduler
	clock    scheduler.Clock
	pipeline *ingestion.Pipeline
	cron     *cron.Cron
	schedule string
}

func NewEngineManager(
	id string,
	eventBus eventbus.EventBus,
	eventArchive archive.EventArchive,
	tracer trace.Tracer,
	logger *slog.Logger,
	reconcileSchedule string,
) *EngineManager {
	logger = logger.With("module", "sentinel-engine", "engine_id", id)

	clock := scheduler.RealClock()
	sched := scheduler.New(clock, schedulerWorkers, logger)
	cat := catalog.NewCatalog(logger)
	trk := tracker.NewTracker(sched, clock, logger)

	pipeline := ingestion.NewPipeline(ingestion.Dependencies{
		Catalog:    cat,
		Tracker:    trk,
		Aggregator: aggregate.NewAggregator(logger),
		Alerts:     alerting.NewEngine(clock, logger),
		Archive:    eventArchive,
		Bus:        eventBus,
		Tracer:     tracer,
		Clock:      clock,
		Logger:     logger,
	})

	return &EngineManager{
		id:       id,
		logger:   logger,
		catalog:  cat,
		tracker:  trk,
		sched:    sched,
		clock:    clock,
		pipeline: pipeline,
		cron:     cron.New(),
		schedule: reconcileSchedule,
	}
}

// LoadWorkflows registers every JSON definition under dir. A missing
// directory is not an error so the engine can start before any workflow is
// defined.
func (e *EngineManager) LoadWorkflows(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			e.logger.Warn("Workflow definitions directory does not exist", "path", dir)

			return nil
		}

		return err
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		path := filepath.Join(dir, entry.Name())

		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}

		var def workflowDefinition
		if err := json.Unmarshal(data, &def); err != nil {
			return err
		}

		workflow, version, err := e.catalog.Create(&models.Workflow{
			Key:   def.Key,
			Name:  def.Name,
			Owner: def.Owner,
		}, def.Graph)
		if err != nil {
			return err
		}

		e.logger.Info("Loaded workflow definition",
			"path", path,
			"workflow_id", workflow.ID,
			"workflow_key", workflow.Key,
			"version_id", version.ID,
		)
	}

	return nil
}

func (e *EngineManager) Start(ctx context.Context) error {
	e.logger.InfoContext(ctx, "Starting evaluation engine")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go e.sched.Run(ctx)

	if err := e.pipeline.Start(ctx); err != nil {
		e.logger.ErrorContext(ctx, "Failed to subscribe to event bus", "error", err)

		return err
	}

	// Timers cover the common case; the sweep re-fires deadlines lost to
	// scheduler churn. HandleMissed drops anything no longer pending, so
	// double firing is harmless.
	if _, err := e.cron.AddFunc(e.schedule, func() {
		if n := e.tracker.Sweep(e.clock.Now()); n > 0 {
			e.logger.Info("Reconciliation sweep re-fired overdue expectations", "count", n)
		}
	}); err != nil {
		return err
	}

	e.cron.Start()

	e.logger.InfoContext(ctx, "Engine started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	<-sigChan
	e.logger.InfoContext(ctx, "Shutting down engine...")

	cancel()
	<-e.cron.Stop().Done()
	e.pipeline.Wait()

	return nil
}
