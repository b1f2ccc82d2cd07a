package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/dripline/dripline/pkg/engine"
	"github.com/dripline/dripline/pkg/enrollqueue"
	"github.com/dripline/dripline/pkg/eventbus"
	"github.com/dripline/dripline/pkg/persistence"
	"github.com/dripline/dripline/pkg/providers/email"
	"github.com/dripline/dripline/pkg/providers/webhook"
	"github.com/dripline/dripline/pkg/web"
)

type RunnerOptions struct {
	WorkerID    string
	Config      engine.Config
	Persistence persistence.Persistence
	EventBus    eventbus.EventBus
	RedisURL    string
	Queue       string
	Port        int
	Logger      *slog.Logger
}

// Runner owns the engine, the optional enrollment queue consumer, and the
// operations API, and shuts them down together on SIGINT/SIGTERM.
type Runner struct {
	engine   *engine.Engine
	consumer *enrollqueue.Consumer
	api      *web.API
	port     int
	logger   *slog.Logger
}

func NewRunner(ctx context.Context, opts RunnerOptions) (*Runner, error) {
	eng, err := engine.NewEngine(
		opts.WorkerID,
		opts.Config,
		opts.Persistence,
		opts.EventBus,
		email.NewLogSender(opts.Logger),
		webhook.NewCaller(opts.Logger),
		opts.Logger,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build engine: %w", err)
	}

	var consumer *enrollqueue.Consumer
	if opts.RedisURL != "" {
		consumer, err = enrollqueue.NewConsumer(ctx, opts.RedisURL, opts.Queue, opts.Logger)
		if err != nil {
			return nil, fmt.Errorf("failed to build enrollment queue consumer: %w", err)
		}
	}

	return &Runner{
		engine:   eng,
		consumer: consumer,
		api:      web.NewAPI(opts.Logger, eng, opts.Persistence),
		port:     opts.Port,
		logger:   opts.Logger,
	}, nil
}

// Start runs all components and blocks serving the operations API.
func (r *Runner) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := r.engine.Start(ctx); err != nil {
		return fmt.Errorf("failed to start engine: %w", err)
	}

	if r.consumer != nil {
		err := r.consumer.Start(ctx, func(ctx context.Context, req enrollqueue.Request) error {
			_, err := r.engine.Enroll(ctx, req.WorkflowID, req.ContactID, "queue")

			return err
		})
		if err != nil {
			return fmt.Errorf("failed to start enrollment queue consumer: %w", err)
		}
	}

	r.handleSignals(ctx, cancel)

	return r.api.Start(r.port)
}

func (r *Runner) handleSignals(ctx context.Context, cancel context.CancelFunc) {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-signals
		r.logger.Info("Received signal, shutting down gracefully", "signal", sig)

		r.stop(ctx, cancel)
		os.Exit(0)
	}()
}

func (r *Runner) stop(ctx context.Context, cancel context.CancelFunc) {
	if r.consumer != nil {
		if err := r.consumer.Stop(ctx); err != nil {
			r.logger.Error("Failed to stop enrollment queue consumer", "error", err)
		}
	}

	if err := r.engine.Stop(ctx); err != nil {
		r.logger.Error("Failed to stop engine", "error", err)
	}

	cancel()
}
