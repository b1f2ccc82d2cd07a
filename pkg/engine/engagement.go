package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/dripline/dripline/pkg/events"
	"github.com/dripline/dripline/pkg/models"
)

// registerEngagementHandlers wires the bus events delivery providers report
// back. Opens and clicks land in the enrollment journey, which is what
// condition steps evaluate, and bump the contact's activity timestamp, which
// is what the inactivity trigger reads.
func (e *Engine) registerEngagementHandlers(ctx context.Context) error {
	err := e.eventBus.Handle(ctx, events.EmailOpenedEvent, func(ctx context.Context, event any) error {
		opened, ok := event.(*events.EmailOpened)
		if !ok {
			return fmt.Errorf("unexpected event payload %T", event)
		}

		return e.recordEngagement(ctx, engagement{
			enrollmentID: opened.EnrollmentID,
			contactID:    opened.ContactID,
			stepID:       opened.StepID,
			action:       models.JourneyActionEmailOpened,
			occurredAt:   opened.OccurredAt,
		})
	})
	if err != nil {
		return err
	}

	return e.eventBus.Handle(ctx, events.EmailClickedEvent, func(ctx context.Context, event any) error {
		clicked, ok := event.(*events.EmailClicked)
		if !ok {
			return fmt.Errorf("unexpected event payload %T", event)
		}

		return e.recordEngagement(ctx, engagement{
			enrollmentID: clicked.EnrollmentID,
			contactID:    clicked.ContactID,
			stepID:       clicked.StepID,
			action:       models.JourneyActionEmailClicked,
			occurredAt:   clicked.OccurredAt,
			data:         map[string]any{"url": clicked.URL},
		})
	})
}

type engagement struct {
	enrollmentID string
	contactID    string
	stepID       string
	action       models.JourneyAction
	occurredAt   time.Time
	data         map[string]any
}

func (e *Engine) recordEngagement(ctx context.Context, eng engagement) error {
	logger := e.logger.With(
		"enrollment_id", eng.enrollmentID,
		"contact_id", eng.contactID,
		"action", eng.action,
	)

	if eng.enrollmentID != "" {
		enrollment, err := e.persistence.EnrollmentByID(ctx, eng.enrollmentID)
		if err != nil {
			logger.WarnContext(ctx, "Engagement for unknown enrollment", "error", err)
		} else {
			enrollment.AppendJourney(models.JourneyEntry{
				StepID:    eng.stepID,
				Action:    eng.action,
				Timestamp: eng.occurredAt,
				Data:      eng.data,
			})

			if err := e.persistence.SaveEnrollment(ctx, enrollment); err != nil {
				return fmt.Errorf("failed to record engagement: %w", err)
			}
		}
	}

	if eng.contactID == "" {
		return nil
	}

	contact, err := e.persistence.ContactByID(ctx, eng.contactID)
	if err != nil {
		logger.WarnContext(ctx, "Engagement for unknown contact", "error", err)

		return nil
	}

	occurred := eng.occurredAt
	if occurred.IsZero() {
		occurred = time.Now().UTC()
	}

	if contact.LastActivityAt == nil || contact.LastActivityAt.Before(occurred) {
		contact.LastActivityAt = &occurred

		if err := e.persistence.SaveContact(ctx, contact); err != nil {
			return fmt.Errorf("failed to update contact activity: %w", err)
		}
	}

	logger.DebugContext(ctx, "Engagement recorded")

	return nil
}
