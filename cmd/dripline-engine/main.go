// Package main provides the Dripline engine service: the durable task
// worker, trigger and retention sweeps, enrollment queue consumer, and
// the embedded operations API.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"

	"github.com/dripline/dripline/pkg/cmd"
	"github.com/dripline/dripline/pkg/engine"
	"github.com/dripline/dripline/pkg/log"
	"github.com/dripline/dripline/pkg/otelhelper"
)

const defaultPort = 9090

func main() {
	command := &cli.Command{
		Name:                  "dripline-engine",
		Usage:                 "Run the marketing automation engine",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "worker-id",
				Aliases: []string{"id"},
				Usage:   "Custom worker ID (auto-generated if not provided)",
				Value:   "",
				Sources: cli.EnvVars("WORKER_ID"),
			},
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus type (kafka, gochannel, or empty for none)",
				Value:   "",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "redis-url",
				Usage:   "Redis URL for the enrollment queue (disabled when empty)",
				Value:   "",
				Sources: cli.EnvVars("REDIS_URL"),
			},
			&cli.StringFlag{
				Name:    "enrollment-queue",
				Usage:   "Redis list key for enrollment requests",
				Value:   "",
				Sources: cli.EnvVars("ENROLLMENT_QUEUE"),
			},
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port for the operations API",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
			},
			&cli.DurationFlag{
				Name:    "tick-interval",
				Usage:   "Worker loop tick interval",
				Value:   engine.DefaultTickInterval,
				Sources: cli.EnvVars("TICK_INTERVAL"),
			},
			&cli.IntFlag{
				Name:    "batch-size",
				Usage:   "Maximum tasks claimed per tick",
				Value:   engine.DefaultBatchSize,
				Sources: cli.EnvVars("BATCH_SIZE"),
			},
			&cli.StringFlag{
				Name:    "unsubscribe-base-url",
				Usage:   "Base URL rendered into unsubscribe links",
				Value:   "http://localhost:9090",
				Sources: cli.EnvVars("UNSUBSCRIBE_BASE_URL"),
			},
			&cli.BoolFlag{
				Name:    "tracing",
				Usage:   "Enable OpenTelemetry tracing",
				Value:   false,
				Sources: cli.EnvVars("OTEL_ENABLED"),
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

			workerID := command.String("worker-id")
			if workerID == "" {
				workerID = fmt.Sprintf("worker-%s", uuid.New().String()[:8])
			}

			logger := log.WithModule("dripline-engine").With("worker_id", workerID)

			logger.InfoContext(ctx, "Initializing Dripline engine")

			persistence, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			if err != nil {
				return fmt.Errorf("failed to initialize persistence: %w", err)
			}

			defer func() {
				if err := persistence.Close(ctx); err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			eventBus, err := cmd.NewEventBus(command.String("event-bus"), logger)
			if err != nil {
				return fmt.Errorf("failed to initialize event bus: %w", err)
			}

			if eventBus != nil {
				defer func() {
					if err := eventBus.Close(ctx); err != nil {
						logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
					}
				}()
			}

			config := engine.Config{
				TickInterval:       command.Duration("tick-interval"),
				BatchSize:          int(command.Int("batch-size")),
				UnsubscribeBaseURL: command.String("unsubscribe-base-url"),
			}

			runner, err := NewRunner(ctx, RunnerOptions{
				WorkerID:    workerID,
				Config:      config,
				Persistence: persistence,
				EventBus:    eventBus,
				RedisURL:    command.String("redis-url"),
				Queue:       command.String("enrollment-queue"),
				Port:        int(command.Int("port")),
				Logger:      logger,
			})
			if err != nil {
				return err
			}

			if command.Bool("tracing") {
				tracer, err := otelhelper.NewTracer(ctx, "dripline-engine")
				if err != nil {
					return fmt.Errorf("failed to initialize tracer: %w", err)
				}

				runner.engine.WithTracer(tracer)
			}

			return runner.Start(ctx)
		},
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		panic(err)
	}
}
