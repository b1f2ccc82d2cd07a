package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dripline/dripline/pkg/models"
	"github.com/dripline/dripline/pkg/persistence"
)

const enrollmentColumns = `
	id
  , workflow_id
  , contact_id
  , current_step_id
  , status
  , journey
  , reason
  , created_at
  , updated_at
  , completed_at
`

// EnrollmentByID returns an enrollment by its ID.
func (p *Persistence) EnrollmentByID(ctx context.Context, id string) (*models.Enrollment, error) {
	query := `SELECT ` + enrollmentColumns + ` FROM enrollments WHERE id = $1`

	enrollment, err := scanEnrollment(p.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrEnrollmentNotFound
		}

		return nil, fmt.Errorf("failed to scan enrollment: %w", err)
	}

	return enrollment, nil
}

// EnrollmentsByContact returns every enrollment of a contact in a workflow,
// newest first.
func (p *Persistence) EnrollmentsByContact(ctx context.Context, workflowID, contactID string) ([]*models.Enrollment, error) {
	query := `
		SELECT ` + enrollmentColumns + `
		FROM enrollments
		WHERE workflow_id = $1 AND contact_id = $2
		ORDER BY created_at DESC
	`

	return p.queryEnrollments(ctx, query, workflowID, contactID)
}

// ActiveEnrollments returns the active enrollments of a workflow.
func (p *Persistence) ActiveEnrollments(ctx context.Context, workflowID string) ([]*models.Enrollment, error) {
	query := `
		SELECT ` + enrollmentColumns + `
		FROM enrollments
		WHERE workflow_id = $1 AND status = $2
		ORDER BY created_at
	`

	return p.queryEnrollments(ctx, query, workflowID, models.EnrollmentStatusActive)
}

// SaveEnrollment upserts an enrollment.
func (p *Persistence) SaveEnrollment(ctx context.Context, enrollment *models.Enrollment) error {
	now := time.Now().UTC()

	if enrollment.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate enrollment ID: %w", err)
		}

		enrollment.ID = id.String()
	}

	if enrollment.CreatedAt.IsZero() {
		enrollment.CreatedAt = now
	}

	enrollment.UpdatedAt = now

	journeyJSON, err := json.Marshal(enrollment.Journey)
	if err != nil {
		return fmt.Errorf("failed to marshal journey: %w", err)
	}

	query := `
		INSERT INTO enrollments (
			id, workflow_id, contact_id, current_step_id, status,
			journey, reason, created_at, updated_at, completed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			current_step_id = EXCLUDED.current_step_id,
			status = EXCLUDED.status,
			journey = EXCLUDED.journey,
			reason = EXCLUDED.reason,
			updated_at = EXCLUDED.updated_at,
			completed_at = EXCLUDED.completed_at
	`

	_, err = p.db.ExecContext(ctx, query,
		enrollment.ID, enrollment.WorkflowID, enrollment.ContactID,
		enrollment.CurrentStepID, enrollment.Status, journeyJSON, enrollment.Reason,
		enrollment.CreatedAt, enrollment.UpdatedAt, enrollment.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save enrollment %s: %w", enrollment.ID, err)
	}

	return nil
}

// PruneJourneys drops journey entries older than the cutoff from terminal
// enrollments and returns how many entries were removed.
func (p *Persistence) PruneJourneys(ctx context.Context, before time.Time) (int, error) {
	query := `
		SELECT ` + enrollmentColumns + `
		FROM enrollments
		WHERE status != $1 AND journey != '[]'::jsonb
	`

	enrollments, err := p.queryEnrollments(ctx, query, models.EnrollmentStatusActive)
	if err != nil {
		return 0, err
	}

	pruned := 0

	for _, enrollment := range enrollments {
		kept := enrollment.Journey[:0]

		for _, entry := range enrollment.Journey {
			if entry.Timestamp.Before(before) {
				pruned++

				continue
			}

			kept = append(kept, entry)
		}

		if len(kept) == len(enrollment.Journey) {
			continue
		}

		enrollment.Journey = kept

		if err := p.SaveEnrollment(ctx, enrollment); err != nil {
			return pruned, err
		}
	}

	return pruned, nil
}

func (p *Persistence) queryEnrollments(ctx context.Context, query string, args ...any) ([]*models.Enrollment, error) {
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query enrollments: %w", err)
	}

	defer p.closeRows(ctx, rows)

	enrollments := make([]*models.Enrollment, 0)

	for rows.Next() {
		enrollment, err := scanEnrollment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan enrollment: %w", err)
		}

		enrollments = append(enrollments, enrollment)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating enrollments: %w", err)
	}

	return enrollments, nil
}

func scanEnrollment(row rowScanner) (*models.Enrollment, error) {
	var (
		enrollment  models.Enrollment
		journeyJSON []byte
	)

	err := row.Scan(
		&enrollment.ID, &enrollment.WorkflowID, &enrollment.ContactID,
		&enrollment.CurrentStepID, &enrollment.Status, &journeyJSON, &enrollment.Reason,
		&enrollment.CreatedAt, &enrollment.UpdatedAt, &enrollment.CompletedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(journeyJSON, &enrollment.Journey); err != nil {
		return nil, fmt.Errorf("failed to unmarshal journey: %w", err)
	}

	return &enrollment, nil
}
