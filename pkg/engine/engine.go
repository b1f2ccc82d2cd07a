// Package engine implements the marketing-automation core: the durable task
// queue worker loop, the step executor, trigger sweeps, and retention.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/dripline/dripline/pkg/eventbus"
	"github.com/dripline/dripline/pkg/events"
	"github.com/dripline/dripline/pkg/models"
	"github.com/dripline/dripline/pkg/persistence"
	"github.com/dripline/dripline/pkg/protocol"
)

// Engine runs the automation core as an embedded background process. Start
// launches the worker loop and daily sweeps; Stop drains them. The manual
// entry points (ProcessQueue, ProcessDateTriggers, ProcessInactivityTriggers,
// CleanupOldData) are safe to call synchronously from ops tooling and tests.
type Engine struct {
	id          string
	config      Config
	persistence persistence.Persistence
	eventBus    eventbus.EventBus
	executor    *Executor
	tracer      trace.Tracer
	logger      *slog.Logger

	cron   *cron.Cron
	stopCh chan struct{}
	wg     sync.WaitGroup

	// ticking is the worker loop's re-entrancy try-lock: a tick that finds
	// it held skips instead of piling up behind a slow batch.
	ticking atomic.Bool
}

func NewEngine(
	id string,
	config Config,
	p persistence.Persistence,
	bus eventbus.EventBus,
	sender protocol.EmailSender,
	webhooks protocol.WebhookCaller,
	logger *slog.Logger,
) (*Engine, error) {
	config.ApplyDefaults()

	if err := config.Validate(); err != nil {
		return nil, err
	}

	engine := &Engine{
		id:          id,
		config:      config,
		persistence: p,
		eventBus:    bus,
		tracer:      noop.NewTracerProvider().Tracer("dripline"),
		logger:      logger.With("module", "engine", "engine_id", id),
		stopCh:      make(chan struct{}),
	}

	var publisher eventPublisher
	if bus != nil {
		publisher = bus.Publish
	}

	engine.executor = NewExecutor(p, sender, webhooks, publisher, config.UnsubscribeBaseURL, logger)

	return engine, nil
}

// WithTracer replaces the default no-op tracer.
func (e *Engine) WithTracer(tracer trace.Tracer) *Engine {
	e.tracer = tracer

	return e
}

// Start launches the worker loop ticker, the daily sweep jobs, and the
// engagement event subscription. It returns once everything is running.
func (e *Engine) Start(ctx context.Context) error {
	e.logger.InfoContext(ctx, "Starting engine",
		"tick_interval", e.config.TickInterval,
		"batch_size", e.config.BatchSize)

	if e.eventBus != nil {
		if err := e.registerEngagementHandlers(ctx); err != nil {
			return fmt.Errorf("failed to register engagement handlers: %w", err)
		}

		if err := e.eventBus.Subscribe(ctx); err != nil {
			return fmt.Errorf("failed to subscribe to event bus: %w", err)
		}
	}

	e.cron = cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.DefaultLogger),
		cron.Recover(cron.DefaultLogger),
	))

	_, err := e.cron.AddFunc(e.config.TriggerSchedule, func() {
		if err := e.ProcessDateTriggers(ctx); err != nil {
			e.logger.ErrorContext(ctx, "Date trigger sweep failed", "error", err)
		}

		if err := e.ProcessInactivityTriggers(ctx); err != nil {
			e.logger.ErrorContext(ctx, "Inactivity trigger sweep failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule trigger sweeps: %w", err)
	}

	_, err = e.cron.AddFunc(e.config.RetentionSchedule, func() {
		if err := e.CleanupOldData(ctx); err != nil {
			e.logger.ErrorContext(ctx, "Retention sweep failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule retention sweep: %w", err)
	}

	e.cron.Start()

	e.wg.Add(1)

	go e.run(ctx)

	return nil
}

// run is the worker loop: a fixed-interval ticker where overlapping ticks
// are skipped, never queued.
func (e *Engine) run(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.config.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.tick(ctx)
		}
	}
}

func (e *Engine) tick(ctx context.Context) {
	if !e.ticking.CompareAndSwap(false, true) {
		e.logger.DebugContext(ctx, "Previous tick still draining, skipping")

		return
	}

	defer e.ticking.Store(false)

	if err := e.ProcessQueue(ctx); err != nil {
		e.logger.ErrorContext(ctx, "Queue processing failed", "error", err)
	}
}

// Stop halts the ticker and sweep jobs and waits for in-flight work.
func (e *Engine) Stop(ctx context.Context) error {
	e.logger.InfoContext(ctx, "Stopping engine")

	close(e.stopCh)
	e.wg.Wait()

	if e.cron != nil {
		<-e.cron.Stop().Done()
	}

	return nil
}

// Enroll creates an active enrollment plus its first task, due immediately.
// At most one active enrollment may exist per (workflow, contact) pair.
func (e *Engine) Enroll(ctx context.Context, workflowID, contactID, source string) (*models.Enrollment, error) {
	workflow, err := e.persistence.WorkflowByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	if !workflow.IsActive() {
		return nil, fmt.Errorf("workflow %s is not active", workflowID)
	}

	entry := workflow.EntryStep()
	if entry == nil {
		return nil, fmt.Errorf("workflow %s has no steps", workflowID)
	}

	contact, err := e.persistence.ContactByID(ctx, contactID)
	if err != nil {
		return nil, err
	}

	if contact.Unsubscribed {
		return nil, ErrContactUnsubscribed
	}

	existing, err := e.persistence.EnrollmentsByContact(ctx, workflowID, contactID)
	if err != nil {
		return nil, err
	}

	for _, enrollment := range existing {
		if enrollment.IsActive() {
			return nil, fmt.Errorf("contact %s in workflow %s: %w", contactID, workflowID, ErrAlreadyEnrolled)
		}
	}

	enrollment := &models.Enrollment{
		WorkflowID:    workflowID,
		ContactID:     contactID,
		CurrentStepID: entry.ID,
		Status:        models.EnrollmentStatusActive,
	}

	if err := e.persistence.SaveEnrollment(ctx, enrollment); err != nil {
		return nil, err
	}

	task := &models.Task{
		WorkflowID:   workflowID,
		EnrollmentID: enrollment.ID,
		StepID:       entry.ID,
		Status:       models.TaskStatusPending,
		ScheduledFor: time.Now().UTC(),
		MaxAttempts:  e.config.MaxAttempts,
	}

	if err := e.persistence.SaveTask(ctx, task); err != nil {
		return nil, err
	}

	if err := e.persistence.IncrementStats(ctx, workflowID, models.WorkflowStats{ActiveEnrollments: 1}); err != nil {
		e.logger.ErrorContext(ctx, "Failed to increment enrollment counter",
			"workflow_id", workflowID, "error", err)
	}

	e.publish(ctx, workflowID, events.EnrollmentStarted{
		BaseEvent:    e.baseEvent(events.EnrollmentStartedEvent, workflowID),
		EnrollmentID: enrollment.ID,
		ContactID:    contactID,
		Source:       source,
	})

	e.logger.InfoContext(ctx, "Contact enrolled",
		"workflow_id", workflowID, "contact_id", contactID,
		"enrollment_id", enrollment.ID, "source", source)

	return enrollment, nil
}

// ResumeEnrollments reschedules tasks for active enrollments of a workflow
// that lost their open task to a pause. Returns how many were rescheduled.
func (e *Engine) ResumeEnrollments(ctx context.Context, workflowID string) (int, error) {
	workflow, err := e.persistence.WorkflowByID(ctx, workflowID)
	if err != nil {
		return 0, err
	}

	if !workflow.IsActive() {
		return 0, fmt.Errorf("workflow %s is not active", workflowID)
	}

	enrollments, err := e.persistence.ActiveEnrollments(ctx, workflowID)
	if err != nil {
		return 0, err
	}

	resumed := 0

	for _, enrollment := range enrollments {
		open, err := e.persistence.OpenTaskForEnrollment(ctx, enrollment.ID)
		if err != nil {
			e.logger.ErrorContext(ctx, "Failed to check open task",
				"enrollment_id", enrollment.ID, "error", err)

			continue
		}

		if open != nil || enrollment.CurrentStepID == "" {
			continue
		}

		if workflow.FindStep(enrollment.CurrentStepID) == nil {
			e.logger.WarnContext(ctx, "Enrollment points at unknown step, skipping resume",
				"enrollment_id", enrollment.ID, "step_id", enrollment.CurrentStepID)

			continue
		}

		task := &models.Task{
			WorkflowID:   workflowID,
			EnrollmentID: enrollment.ID,
			StepID:       enrollment.CurrentStepID,
			Status:       models.TaskStatusPending,
			ScheduledFor: time.Now().UTC(),
			MaxAttempts:  e.config.MaxAttempts,
		}

		if err := e.persistence.SaveTask(ctx, task); err != nil {
			e.logger.ErrorContext(ctx, "Failed to reschedule task",
				"enrollment_id", enrollment.ID, "error", err)

			continue
		}

		resumed++
	}

	e.logger.InfoContext(ctx, "Resumed enrollments", "workflow_id", workflowID, "count", resumed)

	return resumed, nil
}

func (e *Engine) baseEvent(eventType events.EventType, workflowID string) events.BaseEvent {
	base := events.NewBaseEvent(eventType, workflowID)
	base.WorkerID = e.id

	return base
}

func (e *Engine) publish(ctx context.Context, key string, event eventbus.Event) {
	if e.eventBus == nil {
		return
	}

	if err := e.eventBus.Publish(ctx, key, event); err != nil {
		e.logger.ErrorContext(ctx, "Failed to publish event",
			"event_type", event.GetType(), "error", err)
	}
}
