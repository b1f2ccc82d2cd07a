package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dripline/dripline/pkg/models"
	"github.com/dripline/dripline/pkg/persistence"
)

const taskColumns = `
	id
  , workflow_id
  , enrollment_id
  , step_id
  , status
  , scheduled_for
  , attempts
  , max_attempts
  , last_error
  , created_at
  , updated_at
`

// TaskByID returns a task by its ID.
func (p *Persistence) TaskByID(ctx context.Context, id string) (*models.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE id = $1`

	task, err := scanTask(p.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrTaskNotFound
		}

		return nil, fmt.Errorf("failed to scan task: %w", err)
	}

	return task, nil
}

// SaveTask upserts a task.
func (p *Persistence) SaveTask(ctx context.Context, task *models.Task) error {
	now := time.Now().UTC()

	if task.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate task ID: %w", err)
		}

		task.ID = id.String()
	}

	if task.CreatedAt.IsZero() {
		task.CreatedAt = now
	}

	task.UpdatedAt = now

	query := `
		INSERT INTO tasks (
			id, workflow_id, enrollment_id, step_id, status, scheduled_for,
			attempts, max_attempts, last_error, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			scheduled_for = EXCLUDED.scheduled_for,
			attempts = EXCLUDED.attempts,
			last_error = EXCLUDED.last_error,
			updated_at = EXCLUDED.updated_at
	`

	_, err := p.db.ExecContext(ctx, query,
		task.ID, task.WorkflowID, task.EnrollmentID, task.StepID,
		task.Status, task.ScheduledFor, task.Attempts, task.MaxAttempts,
		task.LastError, task.CreatedAt, task.UpdatedAt,
	)
	if err != nil {
		return persistence.NewTaskError("Save", task.ID, err)
	}

	return nil
}

// DueTasks returns up to limit pending tasks due at now, oldest first.
func (p *Persistence) DueTasks(ctx context.Context, now time.Time, limit int) ([]*models.Task, error) {
	query := `
		SELECT ` + taskColumns + `
		FROM tasks
		WHERE status = $1 AND scheduled_for <= $2
		ORDER BY scheduled_for ASC
		LIMIT $3
	`

	rows, err := p.db.QueryContext(ctx, query, models.TaskStatusPending, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query due tasks: %w", err)
	}

	defer p.closeRows(ctx, rows)

	tasks := make([]*models.Task, 0)

	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}

		tasks = append(tasks, task)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating tasks: %w", err)
	}

	return tasks, nil
}

// ClaimTask transitions pending to processing with a single conditional
// UPDATE. Losing the race returns ErrTaskNotClaimable; a second worker can
// never double-claim.
func (p *Persistence) ClaimTask(ctx context.Context, id string) (*models.Task, error) {
	query := `
		UPDATE tasks
		SET status = $2, updated_at = NOW()
		WHERE id = $1 AND status = $3
		RETURNING ` + taskColumns

	task, err := scanTask(p.db.QueryRowContext(ctx, query, id, models.TaskStatusProcessing, models.TaskStatusPending))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			if _, lookupErr := p.TaskByID(ctx, id); lookupErr != nil {
				return nil, lookupErr
			}

			return nil, persistence.NewTaskError("Claim", id, persistence.ErrTaskNotClaimable)
		}

		return nil, persistence.NewTaskError("Claim", id, err)
	}

	return task, nil
}

// OpenTaskForEnrollment returns the pending or processing task of an
// enrollment, or nil when none exists.
func (p *Persistence) OpenTaskForEnrollment(ctx context.Context, enrollmentID string) (*models.Task, error) {
	query := `
		SELECT ` + taskColumns + `
		FROM tasks
		WHERE enrollment_id = $1 AND status IN ($2, $3)
		LIMIT 1
	`

	task, err := scanTask(p.db.QueryRowContext(ctx, query,
		enrollmentID, models.TaskStatusPending, models.TaskStatusProcessing))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to scan task: %w", err)
	}

	return task, nil
}

// DeleteTerminalTasksBefore removes terminal tasks last updated before the
// cutoff and returns the removed count.
func (p *Persistence) DeleteTerminalTasksBefore(ctx context.Context, before time.Time) (int, error) {
	query := `
		DELETE FROM tasks
		WHERE status IN ($1, $2, $3) AND updated_at < $4
	`

	result, err := p.db.ExecContext(ctx, query,
		models.TaskStatusCompleted, models.TaskStatusCancelled, models.TaskStatusFailed, before)
	if err != nil {
		return 0, fmt.Errorf("failed to delete terminal tasks: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read affected rows: %w", err)
	}

	return int(affected), nil
}

func scanTask(row rowScanner) (*models.Task, error) {
	var task models.Task

	err := row.Scan(
		&task.ID, &task.WorkflowID, &task.EnrollmentID, &task.StepID,
		&task.Status, &task.ScheduledFor, &task.Attempts, &task.MaxAttempts,
		&task.LastError, &task.CreatedAt, &task.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	return &task, nil
}
