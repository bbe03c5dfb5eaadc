package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"

	"github.com/sentinel-flow/sentinel/pkg/cmd"
	"github.com/sentinel-flow/sentinel/pkg/ingestion"
	"github.com/sentinel-flow/sentinel/pkg/log"
	"github.com/sentinel-flow/sentinel/pkg/otelhelper"
)

const defaultPort = 9091

func main() {
	logger := log.WithModule("api")

	command := &cli.Command{
		Name:                  "sentinel-api",
		Usage:                 "Ingest events, manage workflows and operate alerts",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
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
				Name:    "redis-url",
				Usage:   "Redis URL for the ingest rate limiter (empty disables limiting)",
				Sources: cli.EnvVars("REDIS_URL"),
			},
			&cli.IntFlag{
				Name:    "rate-limit",
				Usage:   "Events allowed per source system per window",
				Value:   1000,
				Sources: cli.EnvVars("RATE_LIMIT"),
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

			serviceID := "api-" + uuid.New().String()[:8]
			logger := logger.With("service_id", serviceID)

			logger.InfoContext(ctx, "Initializing Sentinel API")

			tracer, err := otelhelper.NewTracer(ctx, "sentinel-api")
			if err != nil {
				return fmt.Errorf("failed to initialize tracer: %w", err)
			}

			eventBus := cmd.NewEventBus(command.String("event-bus"), serviceID, logger)
			defer func() {
				if err := eventBus.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			eventArchive := cmd.NewArchive(ctx, logger, command.String("database-url"))
			defer func() {
				if err := eventArchive.Close(ctx); err != nil {
					logger.ErrorContext(ctx, "Failed to close event archive", "error", err)
				}
			}()

			var limiter ingestion.RateLimiter
			if redisURL := command.String("redis-url"); redisURL != "" {
				limiter, err = ingestion.NewRedisLimiter(redisURL, command.Int("rate-limit"), time.Minute)
				if err != nil {
					return fmt.Errorf("failed to connect rate limiter: %w", err)
				}
			}

			api := NewAPI(logger, eventBus, eventArchive, limiter, tracer)
			if err := api.Start(ctx, command.Int("port")); err != nil {
				logger.ErrorContext(ctx, "API server stopped", "error", err)
			}

			return nil
		},
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		panic(err)
	}
}
