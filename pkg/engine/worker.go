package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/dripline/dripline/pkg/events"
	"github.com/dripline/dripline/pkg/models"
	"github.com/dripline/dripline/pkg/otelhelper"
	"github.com/dripline/dripline/pkg/persistence"
)

// ProcessQueue drains one batch of due tasks: oldest due first, processed in
// fixed-size concurrency groups. Groups run sequentially; tasks within a
// group run concurrently. Independent enrollments never contend because at
// most one open task exists per enrollment.
func (e *Engine) ProcessQueue(ctx context.Context) error {
	now := time.Now().UTC()

	tasks, err := e.persistence.DueTasks(ctx, now, e.config.BatchSize)
	if err != nil {
		return err
	}

	if len(tasks) == 0 {
		return nil
	}

	e.logger.InfoContext(ctx, "Processing due tasks", "count", len(tasks))

	for start := 0; start < len(tasks); start += e.config.ConcurrencyLimit {
		end := start + e.config.ConcurrencyLimit
		if end > len(tasks) {
			end = len(tasks)
		}

		var wg sync.WaitGroup

		for _, task := range tasks[start:end] {
			wg.Add(1)

			go func(task *models.Task) {
				defer wg.Done()

				e.processTask(ctx, task)
			}(task)
		}

		wg.Wait()
	}

	return nil
}

// processTask executes one claimed task to a terminal outcome. Claiming uses
// a compare-and-set so a second worker instance can never double-process.
func (e *Engine) processTask(ctx context.Context, task *models.Task) {
	logger := e.logger.With(
		"task_id", task.ID,
		"workflow_id", task.WorkflowID,
		"enrollment_id", task.EnrollmentID,
		"step_id", task.StepID,
	)

	claimed, err := e.persistence.ClaimTask(ctx, task.ID)
	if err != nil {
		if persistence.IsTaskNotClaimable(err) || persistence.IsTaskNotFound(err) {
			logger.DebugContext(ctx, "Task no longer claimable, skipping")

			return
		}

		logger.ErrorContext(ctx, "Failed to claim task", "error", err)

		return
	}

	task = claimed

	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "engine.process_task",
		attribute.String(otelhelper.TaskIDKey, task.ID),
		attribute.String(otelhelper.WorkflowIDKey, task.WorkflowID),
		attribute.String(otelhelper.EnrollmentIDKey, task.EnrollmentID),
		attribute.String(otelhelper.StepIDKey, task.StepID),
		attribute.String(otelhelper.WorkerIDKey, e.id),
	)
	defer span.End()

	workflow, enrollment, ok := e.resolveTaskOwners(ctx, logger, task)
	if !ok {
		return
	}

	step := workflow.FindStep(task.StepID)
	if step == nil {
		// Dangling step reference is a data-integrity error, never retried.
		e.failTask(ctx, logger, task, enrollment, workflow, "step not found")

		return
	}

	contact, err := e.persistence.ContactByID(ctx, enrollment.ContactID)
	if err != nil {
		e.handleTransientFailure(ctx, logger, task, enrollment, workflow, err)
		otelhelper.SetError(span, err)

		return
	}

	result, err := e.executor.ExecuteStep(ctx, workflow, enrollment, contact, step, task)

	switch {
	case err == nil:
		e.completeTask(ctx, logger, task, enrollment, workflow, result)
	case isPolicyCancellation(err):
		e.cancelEnrollment(ctx, logger, task, enrollment, workflow, err.Error())
	default:
		e.handleTransientFailure(ctx, logger, task, enrollment, workflow, err)
		otelhelper.SetError(span, err)
	}
}

// resolveTaskOwners loads the workflow and enrollment, applying policy
// cancellation when either is missing or inactive.
func (e *Engine) resolveTaskOwners(
	ctx context.Context,
	logger *slog.Logger,
	task *models.Task,
) (*models.Workflow, *models.Enrollment, bool) {
	workflow, err := e.persistence.WorkflowByID(ctx, task.WorkflowID)
	if err != nil {
		if persistence.IsWorkflowNotFound(err) {
			e.cancelTask(ctx, logger, task, "workflow not found")
		} else {
			logger.ErrorContext(ctx, "Failed to load workflow", "error", err)
			e.releaseTask(ctx, logger, task)
		}

		return nil, nil, false
	}

	enrollment, err := e.persistence.EnrollmentByID(ctx, task.EnrollmentID)
	if err != nil {
		if persistence.IsEnrollmentNotFound(err) {
			e.cancelTask(ctx, logger, task, "enrollment not found")
		} else {
			logger.ErrorContext(ctx, "Failed to load enrollment", "error", err)
			e.releaseTask(ctx, logger, task)
		}

		return nil, nil, false
	}

	if !workflow.IsActive() || !enrollment.IsActive() {
		// Pause and cancellation are observed lazily at pickup. The
		// enrollment keeps its own status: a paused workflow leaves it
		// active for a later resume.
		e.cancelTask(ctx, logger, task, "owner not active")

		return nil, nil, false
	}

	return workflow, enrollment, true
}

// completeTask persists the journey before scheduling the follow-on task, so
// a crash between the two is recoverable without losing the outcome.
func (e *Engine) completeTask(
	ctx context.Context,
	logger *slog.Logger,
	task *models.Task,
	enrollment *models.Enrollment,
	workflow *models.Workflow,
	result StepResult,
) {
	now := time.Now().UTC()

	// Completion recording is idempotent per task.
	if enrollment.JourneyEntryForTask(task.ID) == nil {
		enrollment.AppendJourney(models.JourneyEntry{
			StepID: task.StepID,
			TaskID: task.ID,
			Action: models.JourneyActionStepCompleted,
			Data:   result.Output,
		})
	}

	if result.NextStepID != "" {
		enrollment.CurrentStepID = result.NextStepID
	} else {
		enrollment.Status = models.EnrollmentStatusCompleted
		enrollment.CompletedAt = &now
	}

	if err := e.persistence.SaveEnrollment(ctx, enrollment); err != nil {
		logger.ErrorContext(ctx, "Failed to save enrollment, releasing task", "error", err)
		e.releaseTask(ctx, logger, task)

		return
	}

	task.Status = models.TaskStatusCompleted
	if err := e.persistence.SaveTask(ctx, task); err != nil {
		logger.ErrorContext(ctx, "Failed to mark task completed", "error", err)

		return
	}

	if result.NextStepID != "" {
		followOn := &models.Task{
			WorkflowID:   workflow.ID,
			EnrollmentID: enrollment.ID,
			StepID:       result.NextStepID,
			Status:       models.TaskStatusPending,
			ScheduledFor: now.Add(result.Delay),
			MaxAttempts:  e.config.MaxAttempts,
		}

		if err := e.persistence.SaveTask(ctx, followOn); err != nil {
			logger.ErrorContext(ctx, "Failed to schedule follow-on task",
				"next_step_id", result.NextStepID, "error", err)

			return
		}

		logger.InfoContext(ctx, "Step completed",
			"next_step_id", result.NextStepID, "scheduled_for", followOn.ScheduledFor)

		return
	}

	err := e.persistence.IncrementStats(ctx, workflow.ID, models.WorkflowStats{
		ActiveEnrollments:    -1,
		CompletedEnrollments: 1,
	})
	if err != nil {
		logger.ErrorContext(ctx, "Failed to update workflow counters", "error", err)
	}

	e.publish(ctx, workflow.ID, events.EnrollmentCompleted{
		BaseEvent:    e.baseEvent(events.EnrollmentCompletedEvent, workflow.ID),
		EnrollmentID: enrollment.ID,
		ContactID:    enrollment.ContactID,
		DurationMs:   now.Sub(enrollment.CreatedAt).Milliseconds(),
	})

	logger.InfoContext(ctx, "Enrollment completed")
}

// handleTransientFailure reschedules with exponential backoff, or fails the
// task and its enrollment once the retry budget is spent.
func (e *Engine) handleTransientFailure(
	ctx context.Context,
	logger *slog.Logger,
	task *models.Task,
	enrollment *models.Enrollment,
	workflow *models.Workflow,
	cause error,
) {
	task.Attempts++
	task.LastError = cause.Error()

	if !task.ExhaustedAttempts() {
		task.Status = models.TaskStatusPending
		task.ScheduledFor = time.Now().UTC().Add(task.RetryDelay())

		if err := e.persistence.SaveTask(ctx, task); err != nil {
			logger.ErrorContext(ctx, "Failed to reschedule task", "error", err)

			return
		}

		logger.WarnContext(ctx, "Step failed, retrying",
			"attempts", task.Attempts, "retry_at", task.ScheduledFor, "error", cause)

		return
	}

	e.failTask(ctx, logger, task, enrollment, workflow, cause.Error())
}

// failTask marks the task and its enrollment failed. Data-integrity errors
// and exhausted retries both land here.
func (e *Engine) failTask(
	ctx context.Context,
	logger *slog.Logger,
	task *models.Task,
	enrollment *models.Enrollment,
	workflow *models.Workflow,
	reason string,
) {
	task.Status = models.TaskStatusFailed
	task.LastError = reason

	if err := e.persistence.SaveTask(ctx, task); err != nil {
		logger.ErrorContext(ctx, "Failed to mark task failed", "error", err)
	}

	enrollment.Status = models.EnrollmentStatusFailed
	enrollment.Reason = reason
	enrollment.AppendJourney(models.JourneyEntry{
		StepID: task.StepID,
		TaskID: task.ID,
		Action: models.JourneyActionFailed,
		Data:   map[string]any{"reason": reason},
	})

	if err := e.persistence.SaveEnrollment(ctx, enrollment); err != nil {
		logger.ErrorContext(ctx, "Failed to mark enrollment failed", "error", err)
	}

	err := e.persistence.IncrementStats(ctx, workflow.ID, models.WorkflowStats{ActiveEnrollments: -1})
	if err != nil {
		logger.ErrorContext(ctx, "Failed to update workflow counters", "error", err)
	}

	e.publish(ctx, workflow.ID, events.EnrollmentFailed{
		BaseEvent:    e.baseEvent(events.EnrollmentFailedEvent, workflow.ID),
		EnrollmentID: enrollment.ID,
		ContactID:    enrollment.ContactID,
		StepID:       task.StepID,
		Error:        reason,
	})

	logger.ErrorContext(ctx, "Enrollment failed", "reason", reason)
}

// cancelEnrollment handles policy cancellations raised during execution,
// like an unsubscribed contact: the task and enrollment are cancelled, never
// retried, and nothing is counted as a failure.
func (e *Engine) cancelEnrollment(
	ctx context.Context,
	logger *slog.Logger,
	task *models.Task,
	enrollment *models.Enrollment,
	workflow *models.Workflow,
	reason string,
) {
	task.Status = models.TaskStatusCancelled
	task.LastError = reason

	if err := e.persistence.SaveTask(ctx, task); err != nil {
		logger.ErrorContext(ctx, "Failed to mark task cancelled", "error", err)
	}

	enrollment.Status = models.EnrollmentStatusCancelled
	enrollment.Reason = reason
	enrollment.AppendJourney(models.JourneyEntry{
		StepID: task.StepID,
		TaskID: task.ID,
		Action: models.JourneyActionCancelled,
		Data:   map[string]any{"reason": reason},
	})

	if err := e.persistence.SaveEnrollment(ctx, enrollment); err != nil {
		logger.ErrorContext(ctx, "Failed to mark enrollment cancelled", "error", err)
	}

	err := e.persistence.IncrementStats(ctx, workflow.ID, models.WorkflowStats{ActiveEnrollments: -1})
	if err != nil {
		logger.ErrorContext(ctx, "Failed to update workflow counters", "error", err)
	}

	e.publish(ctx, workflow.ID, events.EnrollmentCancelled{
		BaseEvent:    e.baseEvent(events.EnrollmentCancelledEvent, workflow.ID),
		EnrollmentID: enrollment.ID,
		ContactID:    enrollment.ContactID,
		Reason:       reason,
	})

	logger.InfoContext(ctx, "Enrollment cancelled", "reason", reason)
}

// cancelTask terminates just the task. Used for policy cancellations where
// the enrollment must keep its own status (paused workflow, missing owner).
func (e *Engine) cancelTask(ctx context.Context, logger *slog.Logger, task *models.Task, reason string) {
	task.Status = models.TaskStatusCancelled
	task.LastError = reason

	if err := e.persistence.SaveTask(ctx, task); err != nil {
		logger.ErrorContext(ctx, "Failed to cancel task", "error", err)

		return
	}

	logger.InfoContext(ctx, "Task cancelled", "reason", reason)
}

// releaseTask puts a claimed task back to pending without consuming an
// attempt. Used when infrastructure errors prevented execution entirely.
func (e *Engine) releaseTask(ctx context.Context, logger *slog.Logger, task *models.Task) {
	task.Status = models.TaskStatusPending

	if err := e.persistence.SaveTask(ctx, task); err != nil {
		logger.ErrorContext(ctx, "Failed to release task", "error", err)
	}
}

func isPolicyCancellation(err error) bool {
	return errors.Is(err, ErrContactUnsubscribed)
}
