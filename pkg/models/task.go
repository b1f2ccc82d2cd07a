package models

import "time"

// TaskStatus represents the lifecycle state of a scheduled task.
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusCancelled  TaskStatus = "cancelled"
	TaskStatusFailed     TaskStatus = "failed"
)

// DefaultMaxAttempts bounds transient retries per task.
const DefaultMaxAttempts = 3

// Task is a durable, schedulable unit of work: execute one step for one
// enrollment at or after ScheduledFor. At most one pending or processing
// task exists per enrollment at any time.
type Task struct {
	ID           string     `json:"id"`
	WorkflowID   string     `json:"workflow_id"   validate:"required"`
	EnrollmentID string     `json:"enrollment_id" validate:"required"`
	StepID       string     `json:"step_id"       validate:"required"`
	Status       TaskStatus `json:"status"`
	ScheduledFor time.Time  `json:"scheduled_for"`
	Attempts     int        `json:"attempts"`
	MaxAttempts  int        `json:"max_attempts"`
	LastError    string     `json:"last_error,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// IsDue reports whether the task is pending and due at the given time.
func (t *Task) IsDue(now time.Time) bool {
	return t.Status == TaskStatusPending && !t.ScheduledFor.After(now)
}

// IsTerminal reports whether the task reached a final state.
func (t *Task) IsTerminal() bool {
	switch t.Status {
	case TaskStatusCompleted, TaskStatusCancelled, TaskStatusFailed:
		return true
	default:
		return false
	}
}

// RetryDelay returns the exponential backoff before the next attempt:
// 2^attempts minutes, so successive delays strictly increase.
func (t *Task) RetryDelay() time.Duration {
	return (1 << t.Attempts) * time.Minute
}

// ExhaustedAttempts reports whether the retry budget is spent.
func (t *Task) ExhaustedAttempts() bool {
	return t.Attempts >= t.MaxAttempts
}
