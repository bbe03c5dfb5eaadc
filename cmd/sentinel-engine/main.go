package main

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"

	"github.com/sentinel-flow/sentinel/pkg/cmd"
	"github.com/sentinel-flow/sentinel/pkg/log"
	"github.com/sentinel-flow/sentinel/pkg/otelhelper"
)

func main() {
	command := &cli.Command{
		Name:                  "sentinel-engine",
		Usage:                 "Start the deadline evaluation engine",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "engine-id",
				Aliases: []string{"id"},
				Usage:   "Custom engine ID (auto-generated if not provided)",
				Value:   "",
				Sources: cli.EnvVars("ENGINE_ID"),
			},
			&cli.StringFlag{
				Name:    "database-url",
				Usage:   "Event archive URL (postgres://... or memory://)",
				Value:   "memory://",
				Sources: cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:     "event-bus",
				Usage:    "Event bus type (kafka, memory)",
				Required: true,
				Sources:  cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "workflows-path",
				Usage:   "Directory of workflow definition files loaded at startup",
				Value:   "./workflows",
				Sources: cli.EnvVars("WORKFLOWS_PATH"),
			},
			&cli.StringFlag{
				Name:    "reconcile-schedule",
				Usage:   "Cron schedule for the overdue-expectation sweep",
				Value:   "@every 1m",
				Sources: cli.EnvVars("RECONCILE_SCHEDULE"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			engineID := command.String("engine-id")
			if engineID == "" {
				engineID = fmt.Sprintf("engine-%s", uuid.New().String()[:8])
			}

			logger := log.WithModule("sentinel-engine").With("engine_id", engineID)

			logger.Info("Initializing Sentinel Engine")

			tracer, err := otelhelper.NewTracer(ctx, "sentinel-engine")
			if err != nil {
				return fmt.Errorf("failed to initialize tracer: %w", err)
			}

			eventBus := cmd.NewEventBus(command.String("event-bus"), engineID, logger)
			defer func() {
				if err := eventBus.Close(); err != nil {
					logger.Error("Failed to close event bus", "error", err)
				}
			}()

			eventArchive := cmd.NewArchive(ctx, logger, command.String("database-url"))
			defer func() {
				if err := eventArchive.Close(ctx); err != nil {
					logger.Error("Failed to close event archive", "error", err)
				}
			}()

			engine := NewEngineManager(
				engineID,
				eventBus,
				eventArchive,
				tracer,
				logger,
				command.String("reconcile-schedule"),
			)

			if err := engine.LoadWorkflows(command.String("workflows-path")); err != nil {
				return fmt.Errorf("failed to load workflow definitions: %w", err)
			}

			return engine.Start(ctx)
		},
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		panic(err)
	}
}
