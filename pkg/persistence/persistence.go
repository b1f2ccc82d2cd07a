// Package persistence provides the data storage abstraction for workflows,
// contacts, enrollments, and scheduled tasks.
package persistence

import (
	"context"
	"time"

	"github.com/dripline/dripline/pkg/models"
)

// WorkflowRepository reads workflow definitions and maintains their
// aggregate counters. The engine never mutates step graphs.
type WorkflowRepository interface {
	Workflows(ctx context.Context) ([]*models.Workflow, error)
	WorkflowByID(ctx context.Context, id string) (*models.Workflow, error)
	SaveWorkflow(ctx context.Context, workflow *models.Workflow) error

	// IncrementStats atomically adds the deltas to a workflow's counters.
	IncrementStats(ctx context.Context, id string, delta models.WorkflowStats) error
}

// ContactRepository is the engine's view of the contact store.
type ContactRepository interface {
	ContactByID(ctx context.Context, id string) (*models.Contact, error)
	ContactsByOwner(ctx context.Context, owner string) ([]*models.Contact, error)
	SaveContact(ctx context.Context, contact *models.Contact) error
}

// EnrollmentRepository stores enrollment progress and journey logs.
type EnrollmentRepository interface {
	EnrollmentByID(ctx context.Context, id string) (*models.Enrollment, error)
	EnrollmentsByContact(ctx context.Context, workflowID, contactID string) ([]*models.Enrollment, error)
	ActiveEnrollments(ctx context.Context, workflowID string) ([]*models.Enrollment, error)
	SaveEnrollment(ctx context.Context, enrollment *models.Enrollment) error

	// PruneJourneys drops journey entries older than the cutoff from
	// terminal enrollments and returns how many entries were removed.
	PruneJourneys(ctx context.Context, before time.Time) (int, error)
}

// TaskRepository stores the durable task queue.
type TaskRepository interface {
	TaskByID(ctx context.Context, id string) (*models.Task, error)
	SaveTask(ctx context.Context, task *models.Task) error

	// DueTasks returns up to limit pending tasks with scheduled_for <= now,
	// oldest due first.
	DueTasks(ctx context.Context, now time.Time, limit int) ([]*models.Task, error)

	// ClaimTask transitions a task from pending to processing with a
	// compare-and-set. It returns ErrTaskNotClaimable when another worker
	// got there first or the task left the pending state.
	ClaimTask(ctx context.Context, id string) (*models.Task, error)

	// OpenTaskForEnrollment returns the pending or processing task for an
	// enrollment, or nil when none exists. At most one may exist.
	OpenTaskForEnrollment(ctx context.Context, enrollmentID string) (*models.Task, error)

	// DeleteTerminalTasksBefore removes completed, cancelled, and failed
	// tasks last updated before the cutoff and returns the removed count.
	DeleteTerminalTasksBefore(ctx context.Context, before time.Time) (int, error)
}

// Persistence aggregates every repository the engine depends on.
type Persistence interface {
	WorkflowRepository
	ContactRepository
	EnrollmentRepository
	TaskRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}
