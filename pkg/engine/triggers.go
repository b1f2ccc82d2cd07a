package engine

import (
	"context"
	"errors"
	"time"

	"github.com/dripline/dripline/pkg/models"
)

// ProcessDateTriggers runs the daily date-based sweep: for every active
// date-triggered workflow, enroll owner contacts whose date field matches
// today's month and day. Idempotent per day via the created-today check.
// Per-workflow and per-contact failures are logged and never abort the sweep.
func (e *Engine) ProcessDateTriggers(ctx context.Context) error {
	workflows, err := e.persistence.Workflows(ctx)
	if err != nil {
		return err
	}

	today := time.Now().UTC()
	enrolled := 0

	for _, workflow := range workflows {
		if !workflow.IsActive() || workflow.Trigger.Kind != models.TriggerKindDateBased {
			continue
		}

		logger := e.logger.With("workflow_id", workflow.ID, "trigger", "date_based")

		contacts, err := e.persistence.ContactsByOwner(ctx, workflow.Owner)
		if err != nil {
			logger.ErrorContext(ctx, "Failed to list contacts, skipping workflow", "error", err)

			continue
		}

		for _, contact := range contacts {
			if contact.Unsubscribed || !contact.DateFieldMatches(workflow.Trigger.DateField, today) {
				continue
			}

			already, err := e.enrolledToday(ctx, workflow.ID, contact.ID, today)
			if err != nil {
				logger.ErrorContext(ctx, "Failed to check existing enrollments",
					"contact_id", contact.ID, "error", err)

				continue
			}

			if already {
				continue
			}

			if _, err := e.Enroll(ctx, workflow.ID, contact.ID, "date_based"); err != nil {
				if isAlreadyEnrolled(err) {
					continue
				}

				logger.ErrorContext(ctx, "Failed to enroll contact",
					"contact_id", contact.ID, "error", err)

				continue
			}

			enrolled++
		}
	}

	e.logger.InfoContext(ctx, "Date trigger sweep finished", "enrolled", enrolled)

	return nil
}

// ProcessInactivityTriggers runs the daily inactivity sweep: enroll contacts
// with no recorded activity since the workflow's cutoff. Never-contacted
// contacts fall back to their creation date. A contact with any active or
// completed enrollment for the workflow is skipped, which keeps re-runs
// idempotent and avoids repeat win-back sends.
func (e *Engine) ProcessInactivityTriggers(ctx context.Context) error {
	workflows, err := e.persistence.Workflows(ctx)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	enrolled := 0

	for _, workflow := range workflows {
		if !workflow.IsActive() || workflow.Trigger.Kind != models.TriggerKindNoActivity {
			continue
		}

		logger := e.logger.With("workflow_id", workflow.ID, "trigger", "no_activity")
		cutoff := now.AddDate(0, 0, -workflow.Trigger.InactivityDays)

		contacts, err := e.persistence.ContactsByOwner(ctx, workflow.Owner)
		if err != nil {
			logger.ErrorContext(ctx, "Failed to list contacts, skipping workflow", "error", err)

			continue
		}

		for _, contact := range contacts {
			if contact.Unsubscribed || !contact.LastActivity().Before(cutoff) {
				continue
			}

			already, err := e.everEngaged(ctx, workflow.ID, contact.ID)
			if err != nil {
				logger.ErrorContext(ctx, "Failed to check existing enrollments",
					"contact_id", contact.ID, "error", err)

				continue
			}

			if already {
				continue
			}

			if _, err := e.Enroll(ctx, workflow.ID, contact.ID, "no_activity"); err != nil {
				if isAlreadyEnrolled(err) {
					continue
				}

				logger.ErrorContext(ctx, "Failed to enroll contact",
					"contact_id", contact.ID, "error", err)

				continue
			}

			enrolled++
		}
	}

	e.logger.InfoContext(ctx, "Inactivity trigger sweep finished", "enrolled", enrolled)

	return nil
}

// enrolledToday reports whether an enrollment for the pair was created on
// the given day, regardless of its current status.
func (e *Engine) enrolledToday(ctx context.Context, workflowID, contactID string, day time.Time) (bool, error) {
	enrollments, err := e.persistence.EnrollmentsByContact(ctx, workflowID, contactID)
	if err != nil {
		return false, err
	}

	y, m, d := day.Date()

	for _, enrollment := range enrollments {
		ey, em, ed := enrollment.CreatedAt.UTC().Date()
		if ey == y && em == m && ed == d {
			return true, nil
		}
	}

	return false, nil
}

// everEngaged reports whether the contact has an active or completed
// enrollment for the workflow.
func (e *Engine) everEngaged(ctx context.Context, workflowID, contactID string) (bool, error) {
	enrollments, err := e.persistence.EnrollmentsByContact(ctx, workflowID, contactID)
	if err != nil {
		return false, err
	}

	for _, enrollment := range enrollments {
		switch enrollment.Status {
		case models.EnrollmentStatusActive, models.EnrollmentStatusCompleted:
			return true, nil
		case models.EnrollmentStatusCancelled, models.EnrollmentStatusFailed:
		}
	}

	return false, nil
}

func isAlreadyEnrolled(err error) bool {
	return errors.Is(err, ErrAlreadyEnrolled)
}
