// Package models defines the core domain models for the automation engine.
package models

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// WorkflowStatus represents the lifecycle state of a workflow.
type WorkflowStatus string

const (
	WorkflowStatusDraft    WorkflowStatus = "draft"    // Editable, never scheduled
	WorkflowStatusActive   WorkflowStatus = "active"   // Enrolling and executing
	WorkflowStatusPaused   WorkflowStatus = "paused"   // Kept, tasks cancelled lazily on pickup
	WorkflowStatusArchived WorkflowStatus = "archived" // Historical, never scheduled
)

// TriggerKind identifies how contacts get enrolled into a workflow.
type TriggerKind string

const (
	TriggerKindManual     TriggerKind = "manual"
	TriggerKindDateBased  TriggerKind = "date_based"
	TriggerKindNoActivity TriggerKind = "no_activity"
)

// Trigger configures automatic enrollment for a workflow.
type Trigger struct {
	Kind TriggerKind `json:"kind" validate:"required,oneof=manual date_based no_activity"`

	// DateField names the contact field whose month/day is matched daily.
	// Required for date_based triggers.
	DateField string `json:"date_field,omitempty"`

	// InactivityDays is the number of days without contact activity before
	// enrollment. Required for no_activity triggers.
	InactivityDays int `json:"inactivity_days,omitempty"`
}

// WorkflowStats holds aggregate counters updated incrementally by the engine.
type WorkflowStats struct {
	ActiveEnrollments    int `json:"active_enrollments"`
	CompletedEnrollments int `json:"completed_enrollments"`
	EmailsSent           int `json:"emails_sent"`
}

// Workflow is an ordered step graph owned by a single author. The engine
// treats workflows as read-only; mutation happens through the authoring API.
type Workflow struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"      validate:"required,min=3"`
	Owner     string         `json:"owner"     validate:"required"`
	Status    WorkflowStatus `json:"status"    validate:"required,oneof=draft active paused archived"`
	Trigger   Trigger        `json:"trigger"`
	Steps     []*Step        `json:"steps"`
	Stats     WorkflowStats  `json:"stats"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

var validate = validator.New()

// IsActive reports whether the workflow may be scheduled.
func (w *Workflow) IsActive() bool {
	return w.Status == WorkflowStatusActive
}

// EntryStep returns the first step of the workflow, or nil for empty graphs.
func (w *Workflow) EntryStep() *Step {
	if len(w.Steps) == 0 {
		return nil
	}

	return w.Steps[0]
}

// FindStep resolves a step by ID within the workflow.
func (w *Workflow) FindStep(id string) *Step {
	for _, step := range w.Steps {
		if step.ID == id {
			return step
		}
	}

	return nil
}

// Validate checks struct constraints and that the step graph is closed:
// every referenced step ID must resolve. Dangling references are rejected
// at save time instead of surfacing as execution failures.
func (w *Workflow) Validate() error {
	if err := validate.Struct(w); err != nil {
		return fmt.Errorf("invalid workflow: %w", err)
	}

	switch w.Trigger.Kind {
	case TriggerKindDateBased:
		if w.Trigger.DateField == "" {
			return fmt.Errorf("workflow %s: date_based trigger requires date_field", w.ID)
		}
	case TriggerKindNoActivity:
		if w.Trigger.InactivityDays <= 0 {
			return fmt.Errorf("workflow %s: no_activity trigger requires inactivity_days > 0", w.ID)
		}
	case TriggerKindManual:
	}

	ids := make(map[string]bool, len(w.Steps))

	for _, step := range w.Steps {
		if ids[step.ID] {
			return fmt.Errorf("workflow %s: duplicate step id %s", w.ID, step.ID)
		}

		ids[step.ID] = true
	}

	for _, step := range w.Steps {
		if err := step.Validate(); err != nil {
			return fmt.Errorf("workflow %s: %w", w.ID, err)
		}

		for _, ref := range step.References() {
			if ref != "" && !ids[ref] {
				return fmt.Errorf("workflow %s: step %s references unknown step %s", w.ID, step.ID, ref)
			}
		}
	}

	return nil
}
