package models

import (
	"errors"
	"fmt"
	"time"
)

// StepType enumerates the closed set of step kinds the executor understands.
type StepType string

const (
	StepTypeSendEmail StepType = "send_email"
	StepTypeWait      StepType = "wait"
	StepTypeCondition StepType = "condition"
	StepTypeAction    StepType = "action"
	StepTypeSplit     StepType = "split"
)

// Step is one node in a workflow graph. Exactly one of the typed config
// fields must be set, matching Type. NextStepID is the default successor used
// by non-branching steps; an empty value ends the enrollment.
type Step struct {
	ID         string   `json:"id"   validate:"required"`
	Name       string   `json:"name"`
	Type       StepType `json:"type" validate:"required,oneof=send_email wait condition action split"`
	NextStepID string   `json:"next_step_id,omitempty"`

	Email     *EmailStepConfig     `json:"email,omitempty"`
	Wait      *WaitStepConfig      `json:"wait,omitempty"`
	Condition *ConditionStepConfig `json:"condition,omitempty"`
	Action    *ActionStepConfig    `json:"action,omitempty"`
	Split     *SplitStepConfig     `json:"split,omitempty"`
}

// EmailStepConfig describes an email send. Subject and Body are templates
// rendered against the contact before delivery.
type EmailStepConfig struct {
	Subject   string `json:"subject" validate:"required"`
	Body      string `json:"body"    validate:"required"`
	FromName  string `json:"from_name,omitempty"`
	FromEmail string `json:"from_email" validate:"required,email"`
}

// WaitUnit is the unit of a wait step's duration.
type WaitUnit string

const (
	WaitUnitMinutes WaitUnit = "minutes"
	WaitUnitHours   WaitUnit = "hours"
	WaitUnitDays    WaitUnit = "days"
)

// WaitStepConfig defers the follow-on task. The delay is realized purely by
// scheduling; nothing blocks while a wait is in effect.
type WaitStepConfig struct {
	Duration int      `json:"duration" validate:"required,gt=0"`
	Unit     WaitUnit `json:"unit"     validate:"required,oneof=minutes hours days"`
}

// Delay converts the configured duration to a time.Duration.
func (c *WaitStepConfig) Delay() time.Duration {
	switch c.Unit {
	case WaitUnitMinutes:
		return time.Duration(c.Duration) * time.Minute
	case WaitUnitHours:
		return time.Duration(c.Duration) * time.Hour
	case WaitUnitDays:
		return time.Duration(c.Duration) * 24 * time.Hour
	default:
		return 0
	}
}

// ConditionStepConfig branches on a predicate over the enrollment journey or
// the contact's fields and tags.
type ConditionStepConfig struct {
	Predicate   Predicate `json:"predicate"`
	TrueStepID  string    `json:"true_step_id,omitempty"`
	FalseStepID string    `json:"false_step_id,omitempty"`
}

// ActionKind enumerates contact mutations and external side effects an
// action step can perform.
type ActionKind string

const (
	ActionKindAddTag    ActionKind = "add_tag"
	ActionKindRemoveTag ActionKind = "remove_tag"
	ActionKindSetField  ActionKind = "set_field"
	ActionKindWebhook   ActionKind = "webhook"
)

// ActionStepConfig describes an action step. Tag actions and field sets are
// idempotent; webhook calls are at-least-once.
type ActionStepConfig struct {
	Kind       ActionKind `json:"kind" validate:"required,oneof=add_tag remove_tag set_field webhook"`
	Tag        string     `json:"tag,omitempty"`
	Field      string     `json:"field,omitempty"`
	Value      any        `json:"value,omitempty"`
	WebhookURL string     `json:"webhook_url,omitempty"`
}

// SplitStepConfig routes a uniform random share RatioA of enrollments to
// StepA and the remainder to StepB.
type SplitStepConfig struct {
	RatioA float64 `json:"ratio_a" validate:"gte=0,lte=1"`
	StepA  string  `json:"step_a"  validate:"required"`
	StepB  string  `json:"step_b"  validate:"required"`
}

// References returns every step ID this step may branch to, including the
// default successor. Used for graph validation at save time.
func (s *Step) References() []string {
	refs := []string{s.NextStepID}

	if s.Condition != nil {
		refs = append(refs, s.Condition.TrueStepID, s.Condition.FalseStepID)
	}

	if s.Split != nil {
		refs = append(refs, s.Split.StepA, s.Split.StepB)
	}

	return refs
}

// Validate checks that the typed config matching Type is present and valid,
// and that no foreign config is set.
func (s *Step) Validate() error {
	if err := validate.Struct(s); err != nil {
		return fmt.Errorf("invalid step %s: %w", s.ID, err)
	}

	configs := 0
	for _, set := range []bool{s.Email != nil, s.Wait != nil, s.Condition != nil, s.Action != nil, s.Split != nil} {
		if set {
			configs++
		}
	}

	if configs != 1 {
		return fmt.Errorf("step %s: exactly one typed config required, got %d", s.ID, configs)
	}

	var err error

	switch s.Type {
	case StepTypeSendEmail:
		err = requireConfig(s.Email != nil, "email")
	case StepTypeWait:
		err = requireConfig(s.Wait != nil, "wait")
	case StepTypeCondition:
		err = requireConfig(s.Condition != nil, "condition")
	case StepTypeAction:
		err = requireConfig(s.Action != nil, "action")
		if err == nil {
			err = s.Action.validateKind()
		}
	case StepTypeSplit:
		err = requireConfig(s.Split != nil, "split")
	}

	if err != nil {
		return fmt.Errorf("step %s: %w", s.ID, err)
	}

	return nil
}

func requireConfig(present bool, name string) error {
	if !present {
		return fmt.Errorf("missing %s config", name)
	}

	return nil
}

func (c *ActionStepConfig) validateKind() error {
	switch c.Kind {
	case ActionKindAddTag, ActionKindRemoveTag:
		if c.Tag == "" {
			return errors.New("tag action requires tag")
		}
	case ActionKindSetField:
		if c.Field == "" {
			return errors.New("set_field action requires field")
		}
	case ActionKindWebhook:
		if c.WebhookURL == "" {
			return errors.New("webhook action requires webhook_url")
		}
	}

	return nil
}
