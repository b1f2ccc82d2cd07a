package models

import (
	"fmt"
	"strconv"
	"strings"
)

// ConditionSource selects what a predicate inspects.
type ConditionSource string

const (
	// ConditionSourceJourney checks the enrollment journey for an action,
	// e.g. "was the email from step X opened".
	ConditionSourceJourney ConditionSource = "journey"
	// ConditionSourceField compares a contact custom field.
	ConditionSourceField ConditionSource = "field"
	// ConditionSourceTag checks contact tag membership.
	ConditionSourceTag ConditionSource = "tag"
)

// ConditionOperator enumerates supported comparisons.
type ConditionOperator string

const (
	OperatorEquals      ConditionOperator = "equals"
	OperatorNotEquals   ConditionOperator = "not_equals"
	OperatorContains    ConditionOperator = "contains"
	OperatorGreaterThan ConditionOperator = "greater_than"
	OperatorLessThan    ConditionOperator = "less_than"
)

// Predicate is a single comparison evaluated against an enrollment and its
// contact. Evaluation never fails: absent data is a valid false.
type Predicate struct {
	Source ConditionSource `json:"source" validate:"required,oneof=journey field tag"`

	// Key names the journey action, contact field, or tag being inspected.
	Key string `json:"key" validate:"required"`

	// StepID narrows journey checks to entries from one step. Optional.
	StepID string `json:"step_id,omitempty"`

	Operator ConditionOperator `json:"operator" validate:"required,oneof=equals not_equals contains greater_than less_than"`
	Value    any               `json:"value,omitempty"`
}

// Evaluate resolves the predicate to a boolean.
func (p Predicate) Evaluate(enrollment *Enrollment, contact *Contact) bool {
	switch p.Source {
	case ConditionSourceJourney:
		found := enrollment != nil && enrollment.HasJourneyAction(JourneyAction(p.Key), p.StepID)
		if p.Operator == OperatorNotEquals {
			return !found
		}

		return found
	case ConditionSourceTag:
		has := contact != nil && contact.HasTag(p.Key)
		if p.Operator == OperatorNotEquals {
			return !has
		}

		return has
	case ConditionSourceField:
		if contact == nil {
			return false
		}

		value, ok := contact.Field(p.Key)
		if !ok {
			// Missing fields only satisfy not_equals.
			return p.Operator == OperatorNotEquals
		}

		return compare(value, p.Operator, p.Value)
	default:
		return false
	}
}

// compare applies the operator with loose typing: numeric comparison when
// both sides parse as numbers, string comparison otherwise.
func compare(actual any, op ConditionOperator, expected any) bool {
	actualStr := stringify(actual)
	expectedStr := stringify(expected)

	switch op {
	case OperatorEquals:
		return actualStr == expectedStr
	case OperatorNotEquals:
		return actualStr != expectedStr
	case OperatorContains:
		return strings.Contains(actualStr, expectedStr)
	case OperatorGreaterThan, OperatorLessThan:
		actualNum, okA := toFloat(actual)
		expectedNum, okB := toFloat(expected)

		if !okA || !okB {
			return false
		}

		if op == OperatorGreaterThan {
			return actualNum > expectedNum
		}

		return actualNum < expectedNum
	default:
		return false
	}
}

func stringify(value any) string {
	if value == nil {
		return ""
	}

	return fmt.Sprintf("%v", value)
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		parsed, err := strconv.ParseFloat(v, 64)

		return parsed, err == nil
	default:
		return 0, false
	}
}
