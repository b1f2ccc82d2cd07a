package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/dripline/dripline/pkg/eventbus"
	"github.com/dripline/dripline/pkg/events"
	"github.com/dripline/dripline/pkg/models"
	"github.com/dripline/dripline/pkg/persistence"
	"github.com/dripline/dripline/pkg/protocol"
	"github.com/dripline/dripline/pkg/template"
)

// ErrContactUnsubscribed signals a policy cancellation: the contact opted out
// and the enrollment must be cancelled instead of sending.
var ErrContactUnsubscribed = errors.New("contact unsubscribed")

// ErrAlreadyEnrolled rejects a second active enrollment for the same
// (workflow, contact) pair.
var ErrAlreadyEnrolled = errors.New("contact already enrolled")

// StepResult is the outcome of a successfully executed step. An empty
// NextStepID ends the enrollment. Delay defers the follow-on task; only wait
// steps set it.
type StepResult struct {
	NextStepID string
	Delay      time.Duration
	Output     map[string]any
}

// Executor dispatches on the closed step set. Handlers mutate the in-memory
// enrollment (journey entries) and leave persisting it to the worker loop;
// contact mutations are saved immediately since the contact store is shared.
type Executor struct {
	persistence        persistence.Persistence
	sender             protocol.EmailSender
	webhooks           protocol.WebhookCaller
	publisher          eventPublisher
	unsubscribeBaseURL string
	logger             *slog.Logger

	// randFloat is swappable for deterministic split tests.
	randFloat func() float64
}

// eventPublisher decouples the executor from the full bus interface; the
// engine passes its publish method, tests pass nil or a recorder.
type eventPublisher func(ctx context.Context, key string, event eventbus.Event) error

func NewExecutor(
	p persistence.Persistence,
	sender protocol.EmailSender,
	webhooks protocol.WebhookCaller,
	publisher eventPublisher,
	unsubscribeBaseURL string,
	logger *slog.Logger,
) *Executor {
	return &Executor{
		persistence:        p,
		sender:             sender,
		webhooks:           webhooks,
		publisher:          publisher,
		unsubscribeBaseURL: unsubscribeBaseURL,
		logger:             logger.With("module", "executor"),
		randFloat:          rand.Float64,
	}
}

// ExecuteStep runs one step for one enrollment. A returned error is treated
// as transient by the worker loop unless it is ErrContactUnsubscribed.
func (x *Executor) ExecuteStep(
	ctx context.Context,
	workflow *models.Workflow,
	enrollment *models.Enrollment,
	contact *models.Contact,
	step *models.Step,
	task *models.Task,
) (StepResult, error) {
	switch step.Type {
	case models.StepTypeSendEmail:
		return x.executeSendEmail(ctx, workflow, enrollment, contact, step, task)
	case models.StepTypeWait:
		return StepResult{NextStepID: step.NextStepID, Delay: step.Wait.Delay()}, nil
	case models.StepTypeCondition:
		return x.executeCondition(enrollment, contact, step), nil
	case models.StepTypeAction:
		return x.executeAction(ctx, workflow, enrollment, contact, step, task)
	case models.StepTypeSplit:
		return x.executeSplit(enrollment, step), nil
	default:
		return StepResult{}, fmt.Errorf("unsupported step type %q", step.Type)
	}
}

func (x *Executor) executeSendEmail(
	ctx context.Context,
	workflow *models.Workflow,
	enrollment *models.Enrollment,
	contact *models.Contact,
	step *models.Step,
	task *models.Task,
) (StepResult, error) {
	if contact.Unsubscribed {
		return StepResult{}, ErrContactUnsubscribed
	}

	subject, err := template.RenderForContact(step.Email.Subject, contact, x.unsubscribeBaseURL)
	if err != nil {
		return StepResult{}, fmt.Errorf("failed to render subject: %w", err)
	}

	body, err := template.RenderForContact(step.Email.Body, contact, x.unsubscribeBaseURL)
	if err != nil {
		return StepResult{}, fmt.Errorf("failed to render body: %w", err)
	}

	err = x.sender.Send(ctx, protocol.EmailMessage{
		To:             contact.Email,
		ToName:         contact.FirstName,
		FromEmail:      step.Email.FromEmail,
		FromName:       step.Email.FromName,
		Subject:        subject,
		Body:           body,
		IdempotencyKey: task.ID,
	})
	if err != nil {
		return StepResult{}, fmt.Errorf("email provider failed: %w", err)
	}

	enrollment.AppendJourney(models.JourneyEntry{
		StepID: step.ID,
		TaskID: task.ID,
		Action: models.JourneyActionEmailSent,
		Data:   map[string]any{"subject": subject},
	})

	err = x.persistence.IncrementStats(ctx, workflow.ID, models.WorkflowStats{EmailsSent: 1})
	if err != nil {
		x.logger.ErrorContext(ctx, "Failed to increment email counter",
			"workflow_id", workflow.ID, "error", err)
	}

	if x.publisher != nil {
		event := events.EmailSent{
			BaseEvent:    events.NewBaseEvent(events.EmailSentEvent, workflow.ID),
			EnrollmentID: enrollment.ID,
			ContactID:    contact.ID,
			StepID:       step.ID,
			TaskID:       task.ID,
			Subject:      subject,
		}
		if err := x.publisher(ctx, workflow.ID, event); err != nil {
			x.logger.ErrorContext(ctx, "Failed to publish email sent event", "error", err)
		}
	}

	return StepResult{
		NextStepID: step.NextStepID,
		Output:     map[string]any{"subject": subject},
	}, nil
}

// executeCondition always succeeds: absent data is a valid false.
func (x *Executor) executeCondition(enrollment *models.Enrollment, contact *models.Contact, step *models.Step) StepResult {
	matched := step.Condition.Predicate.Evaluate(enrollment, contact)

	next := step.Condition.FalseStepID
	if matched {
		next = step.Condition.TrueStepID
	}

	return StepResult{
		NextStepID: next,
		Output:     map[string]any{"matched": matched},
	}
}

func (x *Executor) executeAction(
	ctx context.Context,
	workflow *models.Workflow,
	enrollment *models.Enrollment,
	contact *models.Contact,
	step *models.Step,
	task *models.Task,
) (StepResult, error) {
	action := step.Action

	switch action.Kind {
	case models.ActionKindAddTag:
		contact.AddTag(action.Tag)
	case models.ActionKindRemoveTag:
		contact.RemoveTag(action.Tag)
	case models.ActionKindSetField:
		contact.SetField(action.Field, action.Value)
	case models.ActionKindWebhook:
		err := x.webhooks.Call(ctx, protocol.WebhookCall{
			URL: action.WebhookURL,
			Payload: map[string]any{
				"workflow_id":   workflow.ID,
				"enrollment_id": enrollment.ID,
				"contact_id":    contact.ID,
				"email":         contact.Email,
				"step_id":       step.ID,
			},
			IdempotencyKey: task.ID,
		})
		if err != nil {
			return StepResult{}, fmt.Errorf("webhook call failed: %w", err)
		}

		return StepResult{NextStepID: step.NextStepID}, nil
	}

	err := x.persistence.SaveContact(ctx, contact)
	if err != nil {
		return StepResult{}, fmt.Errorf("failed to save contact: %w", err)
	}

	return StepResult{NextStepID: step.NextStepID}, nil
}

// executeSplit reuses a recorded branch so a re-processed task never
// re-rolls against an already-committed decision.
func (x *Executor) executeSplit(enrollment *models.Enrollment, step *models.Step) StepResult {
	if branch, ok := enrollment.SplitDecision(step.ID); ok {
		return StepResult{
			NextStepID: x.branchStep(step, branch),
			Output:     map[string]any{"branch": branch, "reused": true},
		}
	}

	branch := "b"
	if x.randFloat() < step.Split.RatioA {
		branch = "a"
	}

	enrollment.AppendJourney(models.JourneyEntry{
		StepID: step.ID,
		Action: models.JourneyActionSplitDecision,
		Data:   map[string]any{"branch": branch},
	})

	return StepResult{
		NextStepID: x.branchStep(step, branch),
		Output:     map[string]any{"branch": branch},
	}
}

func (x *Executor) branchStep(step *models.Step, branch string) string {
	if branch == "a" {
		return step.Split.StepA
	}

	return step.Split.StepB
}
