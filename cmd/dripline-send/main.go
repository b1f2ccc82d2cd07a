// Package main provides the Dripline send CLI: it pushes enrollment
// requests onto the Redis queue consumed by the engine service.
package main

import (
	"context"
	"fmt"
	"os"

	cli "github.com/urfave/cli/v3"

	"github.com/dripline/dripline/pkg/enrollqueue"
	"github.com/dripline/dripline/pkg/log"
)

func main() {
	command := &cli.Command{
		Name:                  "dripline-send",
		Usage:                 "Enqueue an enrollment request for the engine",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "redis-url",
				Usage:    "Redis URL for the enrollment queue",
				Required: true,
				Sources:  cli.EnvVars("REDIS_URL"),
			},
			&cli.StringFlag{
				Name:    "enrollment-queue",
				Usage:   "Redis list key for enrollment requests",
				Value:   "",
				Sources: cli.EnvVars("ENROLLMENT_QUEUE"),
			},
			&cli.StringFlag{
				Name:     "workflow-id",
				Aliases:  []string{"w"},
				Usage:    "Workflow to enroll the contact into",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "contact-id",
				Aliases:  []string{"c"},
				Usage:    "Contact to enroll",
				Required: true,
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

			logger := log.WithModule("dripline-send")

			consumer, err := enrollqueue.NewConsumer(
				ctx,
				command.String("redis-url"),
				command.String("enrollment-queue"),
				logger,
			)
			if err != nil {
				return fmt.Errorf("failed to connect to enrollment queue: %w", err)
			}

			req := enrollqueue.Request{
				WorkflowID: command.String("workflow-id"),
				ContactID:  command.String("contact-id"),
			}

			if err := consumer.Push(ctx, req); err != nil {
				return fmt.Errorf("failed to enqueue enrollment request: %w", err)
			}

			logger.InfoContext(ctx, "Enrollment request enqueued",
				"workflow_id", req.WorkflowID, "contact_id", req.ContactID)

			return consumer.Stop(ctx)
		},
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		panic(err)
	}
}
