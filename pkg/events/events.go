// Package events defines the bus event types exchanged between the engine
// and delivery providers.
package events

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

// Topic carries every engine and engagement event.
const Topic = "dripline.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Enrollment lifecycle events, published by the engine.
	EnrollmentStartedEvent   EventType = "enrollment.started"
	EnrollmentCompletedEvent EventType = "enrollment.completed"
	EnrollmentFailedEvent    EventType = "enrollment.failed"
	EnrollmentCancelledEvent EventType = "enrollment.cancelled"

	// Delivery events. EmailSent is published by the engine; opens and
	// clicks are reported back by delivery providers and consumed by the
	// engine's engagement listener.
	EmailSentEvent    EventType = "email.sent"
	EmailOpenedEvent  EventType = "email.opened"
	EmailClickedEvent EventType = "email.clicked"
)

type BaseEvent struct {
	ID         string         `json:"id"`
	Type       EventType      `json:"type"`
	Timestamp  time.Time      `json:"timestamp"`
	WorkflowID string         `json:"workflow_id"`
	WorkerID   string         `json:"worker_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

type EnrollmentStarted struct {
	BaseEvent

	EnrollmentID string `json:"enrollment_id"`
	ContactID    string `json:"contact_id"`
	Source       string `json:"source"`
}

func (e EnrollmentStarted) GetType() EventType {
	return EnrollmentStartedEvent
}

type EnrollmentCompleted struct {
	BaseEvent

	EnrollmentID string `json:"enrollment_id"`
	ContactID    string `json:"contact_id"`
	DurationMs   int64  `json:"duration_ms"`
}

func (e EnrollmentCompleted) GetType() EventType {
	return EnrollmentCompletedEvent
}

type EnrollmentFailed struct {
	BaseEvent

	EnrollmentID string `json:"enrollment_id"`
	ContactID    string `json:"contact_id"`
	StepID       string `json:"step_id"`
	Error        string `json:"error"`
}

func (e EnrollmentFailed) GetType() EventType {
	return EnrollmentFailedEvent
}

type EnrollmentCancelled struct {
	BaseEvent

	EnrollmentID string `json:"enrollment_id"`
	ContactID    string `json:"contact_id"`
	Reason       string `json:"reason"`
}

func (e EnrollmentCancelled) GetType() EventType {
	return EnrollmentCancelledEvent
}

type EmailSent struct {
	BaseEvent

	EnrollmentID string `json:"enrollment_id"`
	ContactID    string `json:"contact_id"`
	StepID       string `json:"step_id"`
	TaskID       string `json:"task_id"`
	Subject      string `json:"subject"`
}

func (e EmailSent) GetType() EventType {
	return EmailSentEvent
}

type EmailOpened struct {
	BaseEvent

	EnrollmentID string    `json:"enrollment_id"`
	ContactID    string    `json:"contact_id"`
	StepID       string    `json:"step_id"`
	OccurredAt   time.Time `json:"occurred_at"`
}

func (e EmailOpened) GetType() EventType {
	return EmailOpenedEvent
}

type EmailClicked struct {
	BaseEvent

	EnrollmentID string    `json:"enrollment_id"`
	ContactID    string    `json:"contact_id"`
	StepID       string    `json:"step_id"`
	URL          string    `json:"url"`
	OccurredAt   time.Time `json:"occurred_at"`
}

func (e EmailClicked) GetType() EventType {
	return EmailClickedEvent
}

func NewBaseEvent(eventType EventType, workflowID string) BaseEvent {
	return BaseEvent{
		ID:         uuid.New().String(),
		Type:       eventType,
		Timestamp:  time.Now().UTC(),
		WorkflowID: workflowID,
		Metadata:   make(map[string]any),
	}
}
