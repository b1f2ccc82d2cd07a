package models

import "time"

// EnrollmentStatus represents the lifecycle state of an enrollment.
type EnrollmentStatus string

const (
	EnrollmentStatusActive    EnrollmentStatus = "active"
	EnrollmentStatusCompleted EnrollmentStatus = "completed"
	EnrollmentStatusCancelled EnrollmentStatus = "cancelled"
	EnrollmentStatusFailed    EnrollmentStatus = "failed"
)

// JourneyAction classifies journey log entries.
type JourneyAction string

const (
	JourneyActionStepCompleted JourneyAction = "step_completed"
	JourneyActionEmailSent     JourneyAction = "email_sent"
	JourneyActionEmailOpened   JourneyAction = "email_opened"
	JourneyActionEmailClicked  JourneyAction = "email_clicked"
	JourneyActionSplitDecision JourneyAction = "split_decision"
	JourneyActionCancelled     JourneyAction = "cancelled"
	JourneyActionFailed        JourneyAction = "failed"
)

// JourneyEntry is one record in the append-only audit trail of an
// enrollment. The journey is the source of truth for condition evaluation.
type JourneyEntry struct {
	StepID    string         `json:"step_id,omitempty"`
	TaskID    string         `json:"task_id,omitempty"`
	Action    JourneyAction  `json:"action"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// Enrollment tracks one contact's progress through one workflow. At most one
// active enrollment exists per (workflow, contact) pair.
type Enrollment struct {
	ID            string           `json:"id"`
	WorkflowID    string           `json:"workflow_id" validate:"required"`
	ContactID     string           `json:"contact_id"  validate:"required"`
	CurrentStepID string           `json:"current_step_id,omitempty"`
	Status        EnrollmentStatus `json:"status"`
	Journey       []JourneyEntry   `json:"journey,omitempty"`
	Reason        string           `json:"reason,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
	CompletedAt   *time.Time       `json:"completed_at,omitempty"`
}

// IsActive reports whether the enrollment is still progressing.
func (e *Enrollment) IsActive() bool {
	return e.Status == EnrollmentStatusActive
}

// AppendJourney adds an entry to the journey log.
func (e *Enrollment) AppendJourney(entry JourneyEntry) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	e.Journey = append(e.Journey, entry)
}

// HasJourneyAction reports whether any journey entry records the action.
// stepID narrows the check to a single step when non-empty.
func (e *Enrollment) HasJourneyAction(action JourneyAction, stepID string) bool {
	for _, entry := range e.Journey {
		if entry.Action == action && (stepID == "" || entry.StepID == stepID) {
			return true
		}
	}

	return false
}

// JourneyEntryForTask returns the completion entry recorded for a task, if
// any. Completion recording is idempotent per task.
func (e *Enrollment) JourneyEntryForTask(taskID string) *JourneyEntry {
	for i := range e.Journey {
		if e.Journey[i].TaskID == taskID && e.Journey[i].Action == JourneyActionStepCompleted {
			return &e.Journey[i]
		}
	}

	return nil
}

// SplitDecision returns the branch recorded for a split step. A recorded
// decision must be reused on re-processing so a retried task never re-rolls.
func (e *Enrollment) SplitDecision(stepID string) (string, bool) {
	for _, entry := range e.Journey {
		if entry.Action == JourneyActionSplitDecision && entry.StepID == stepID {
			if branch, ok := entry.Data["branch"].(string); ok {
				return branch, true
			}
		}
	}

	return "", false
}
