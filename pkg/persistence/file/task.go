package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/dripline/dripline/pkg/models"
	"github.com/dripline/dripline/pkg/persistence"
)

// TaskByID returns a task by its ID.
func (p *Persistence) TaskByID(_ context.Context, id string) (*models.Task, error) {
	var task models.Task
	if err := p.read(tasksDir, id, &task, persistence.ErrTaskNotFound); err != nil {
		return nil, err
	}

	return &task, nil
}

// SaveTask persists a task.
func (p *Persistence) SaveTask(_ context.Context, task *models.Task) error {
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

	p.mu.Lock()
	defer p.mu.Unlock()

	return p.write(tasksDir, task.ID, task)
}

// DueTasks returns up to limit pending tasks due at now, oldest first.
func (p *Persistence) DueTasks(_ context.Context, now time.Time, limit int) ([]*models.Task, error) {
	due := make([]*models.Task, 0)

	err := p.readEach(tasksDir, func(data []byte) error {
		var task models.Task
		if err := json.Unmarshal(data, &task); err != nil {
			return fmt.Errorf("failed to unmarshal task: %w", err)
		}

		if task.IsDue(now) {
			due = append(due, &task)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(due, func(i, j int) bool {
		return due[i].ScheduledFor.Before(due[j].ScheduledFor)
	})

	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	return due, nil
}

// ClaimTask performs the pending to processing compare-and-set under the
// store lock.
func (p *Persistence) ClaimTask(_ context.Context, id string) (*models.Task, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var task models.Task
	if err := p.read(tasksDir, id, &task, persistence.ErrTaskNotFound); err != nil {
		return nil, err
	}

	if task.Status != models.TaskStatusPending {
		return nil, persistence.NewTaskError("Claim", id, persistence.ErrTaskNotClaimable)
	}

	task.Status = models.TaskStatusProcessing
	task.UpdatedAt = time.Now().UTC()

	if err := p.write(tasksDir, task.ID, &task); err != nil {
		return nil, err
	}

	return &task, nil
}

// OpenTaskForEnrollment returns the pending or processing task of an
// enrollment, or nil when none exists.
func (p *Persistence) OpenTaskForEnrollment(_ context.Context, enrollmentID string) (*models.Task, error) {
	var open *models.Task

	err := p.readEach(tasksDir, func(data []byte) error {
		var task models.Task
		if err := json.Unmarshal(data, &task); err != nil {
			return fmt.Errorf("failed to unmarshal task: %w", err)
		}

		if task.EnrollmentID != enrollmentID || task.IsTerminal() {
			return nil
		}

		open = &task

		return nil
	})
	if err != nil {
		return nil, err
	}

	return open, nil
}

// DeleteTerminalTasksBefore removes terminal tasks last updated before the
// cutoff.
func (p *Persistence) DeleteTerminalTasksBefore(_ context.Context, before time.Time) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	deleted := 0

	err := p.readEach(tasksDir, func(data []byte) error {
		var task models.Task
		if err := json.Unmarshal(data, &task); err != nil {
			return fmt.Errorf("failed to unmarshal task: %w", err)
		}

		if !task.IsTerminal() || !task.UpdatedAt.Before(before) {
			return nil
		}

		if err := os.Remove(p.path(tasksDir, task.ID)); err != nil {
			return fmt.Errorf("failed to delete task %s: %w", task.ID, err)
		}

		deleted++

		return nil
	})
	if err != nil {
		return deleted, err
	}

	return deleted, nil
}
