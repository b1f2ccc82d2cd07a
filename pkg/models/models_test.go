package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validWorkflow() *Workflow {
	return &Workflow{
		ID:     "wf-1",
		Name:   "Welcome series",
		Owner:  "owner-1",
		Status: WorkflowStatusActive,
		Trigger: Trigger{
			Kind: TriggerKindManual,
		},
		Steps: []*Step{
			{
				ID:         "step-email",
				Type:       StepTypeSendEmail,
				NextStepID: "step-wait",
				Email: &EmailStepConfig{
					Subject:   "Welcome {{.contact.first_name}}",
					Body:      "Hello!",
					FromEmail: "hello@example.com",
				},
			},
			{
				ID:   "step-wait",
				Type: StepTypeWait,
				Wait: &WaitStepConfig{Duration: 2, Unit: WaitUnitDays},
			},
		},
	}
}

func TestWorkflowValidate(t *testing.T) {
	t.Run("valid workflow passes", func(t *testing.T) {
		require.NoError(t, validWorkflow().Validate())
	})

	t.Run("dangling next step reference fails", func(t *testing.T) {
		wf := validWorkflow()
		wf.Steps[1].NextStepID = "missing"

		err := wf.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "references unknown step")
	})

	t.Run("dangling condition branch fails", func(t *testing.T) {
		wf := validWorkflow()
		wf.Steps = append(wf.Steps, &Step{
			ID:   "step-cond",
			Type: StepTypeCondition,
			Condition: &ConditionStepConfig{
				Predicate:  Predicate{Source: ConditionSourceJourney, Key: "email_opened", Operator: OperatorEquals},
				TrueStepID: "nowhere",
			},
		})

		require.Error(t, wf.Validate())
	})

	t.Run("duplicate step ids fail", func(t *testing.T) {
		wf := validWorkflow()
		wf.Steps[1].ID = wf.Steps[0].ID
		wf.Steps[1].NextStepID = ""

		err := wf.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "duplicate step id")
	})

	t.Run("date_based trigger requires date field", func(t *testing.T) {
		wf := validWorkflow()
		wf.Trigger = Trigger{Kind: TriggerKindDateBased}

		require.Error(t, wf.Validate())

		wf.Trigger.DateField = "birthday"
		require.NoError(t, wf.Validate())
	})

	t.Run("no_activity trigger requires positive days", func(t *testing.T) {
		wf := validWorkflow()
		wf.Trigger = Trigger{Kind: TriggerKindNoActivity}

		require.Error(t, wf.Validate())

		wf.Trigger.InactivityDays = 30
		require.NoError(t, wf.Validate())
	})
}

func TestStepValidate_ConfigMatchesType(t *testing.T) {
	step := &Step{
		ID:   "s1",
		Type: StepTypeWait,
		Wait: &WaitStepConfig{Duration: 1, Unit: WaitUnitHours},
	}
	require.NoError(t, step.Validate())

	t.Run("missing config fails", func(t *testing.T) {
		bad := &Step{ID: "s2", Type: StepTypeSendEmail}
		require.Error(t, bad.Validate())
	})

	t.Run("two configs fail", func(t *testing.T) {
		bad := &Step{
			ID:    "s3",
			Type:  StepTypeWait,
			Wait:  &WaitStepConfig{Duration: 1, Unit: WaitUnitHours},
			Split: &SplitStepConfig{RatioA: 0.5, StepA: "a", StepB: "b"},
		}
		require.Error(t, bad.Validate())
	})

	t.Run("tag action without tag fails", func(t *testing.T) {
		bad := &Step{
			ID:     "s4",
			Type:   StepTypeAction,
			Action: &ActionStepConfig{Kind: ActionKindAddTag},
		}
		require.Error(t, bad.Validate())
	})
}

func TestWaitStepConfigDelay(t *testing.T) {
	tests := []struct {
		name     string
		config   WaitStepConfig
		expected time.Duration
	}{
		{"minutes", WaitStepConfig{Duration: 15, Unit: WaitUnitMinutes}, 15 * time.Minute},
		{"hours", WaitStepConfig{Duration: 3, Unit: WaitUnitHours}, 3 * time.Hour},
		{"days", WaitStepConfig{Duration: 2, Unit: WaitUnitDays}, 48 * time.Hour},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.config.Delay())
		})
	}
}

func TestTaskRetryDelayGrows(t *testing.T) {
	task := &Task{MaxAttempts: 3}

	var previous time.Duration

	for attempt := 1; attempt <= 3; attempt++ {
		task.Attempts = attempt
		delay := task.RetryDelay()
		assert.Greater(t, delay, previous, "delay after attempt %d must exceed the previous one", attempt)
		previous = delay
	}

	assert.Equal(t, 2*time.Minute, (&Task{Attempts: 1}).RetryDelay())
	assert.Equal(t, 4*time.Minute, (&Task{Attempts: 2}).RetryDelay())
}

func TestEnrollmentSplitDecision(t *testing.T) {
	enrollment := &Enrollment{Status: EnrollmentStatusActive}

	_, ok := enrollment.SplitDecision("step-split")
	assert.False(t, ok)

	enrollment.AppendJourney(JourneyEntry{
		StepID: "step-split",
		Action: JourneyActionSplitDecision,
		Data:   map[string]any{"branch": "step-a"},
	})

	branch, ok := enrollment.SplitDecision("step-split")
	require.True(t, ok)
	assert.Equal(t, "step-a", branch)
}

func TestEnrollmentJourneyEntryForTask(t *testing.T) {
	enrollment := &Enrollment{}
	enrollment.AppendJourney(JourneyEntry{TaskID: "task-1", StepID: "s1", Action: JourneyActionStepCompleted})
	enrollment.AppendJourney(JourneyEntry{TaskID: "task-1", StepID: "s1", Action: JourneyActionEmailSent})

	entry := enrollment.JourneyEntryForTask("task-1")
	require.NotNil(t, entry)
	assert.Equal(t, JourneyActionStepCompleted, entry.Action)
	assert.Nil(t, enrollment.JourneyEntryForTask("task-2"))
}

func TestPredicateEvaluate(t *testing.T) {
	contact := &Contact{
		ID:    "c1",
		Email: "ana@example.com",
		Tags:  []string{"customer"},
		Fields: map[string]any{
			"plan":  "pro",
			"seats": 12,
		},
	}

	enrollment := &Enrollment{}
	enrollment.AppendJourney(JourneyEntry{StepID: "step-email", Action: JourneyActionEmailOpened})

	tests := []struct {
		name      string
		predicate Predicate
		expected  bool
	}{
		{
			"journey action found",
			Predicate{Source: ConditionSourceJourney, Key: "email_opened", Operator: OperatorEquals},
			true,
		},
		{
			"journey action scoped to wrong step",
			Predicate{Source: ConditionSourceJourney, Key: "email_opened", StepID: "other", Operator: OperatorEquals},
			false,
		},
		{
			"journey action absent satisfies not_equals",
			Predicate{Source: ConditionSourceJourney, Key: "email_clicked", Operator: OperatorNotEquals},
			true,
		},
		{
			"tag membership",
			Predicate{Source: ConditionSourceTag, Key: "customer", Operator: OperatorEquals},
			true,
		},
		{
			"missing tag",
			Predicate{Source: ConditionSourceTag, Key: "vip", Operator: OperatorEquals},
			false,
		},
		{
			"field equals",
			Predicate{Source: ConditionSourceField, Key: "plan", Operator: OperatorEquals, Value: "pro"},
			true,
		},
		{
			"field contains",
			Predicate{Source: ConditionSourceField, Key: "plan", Operator: OperatorContains, Value: "r"},
			true,
		},
		{
			"numeric greater than",
			Predicate{Source: ConditionSourceField, Key: "seats", Operator: OperatorGreaterThan, Value: 10},
			true,
		},
		{
			"numeric less than fails",
			Predicate{Source: ConditionSourceField, Key: "seats", Operator: OperatorLessThan, Value: 10},
			false,
		},
		{
			"missing field is a valid false",
			Predicate{Source: ConditionSourceField, Key: "missing", Operator: OperatorEquals, Value: "x"},
			false,
		},
		{
			"missing field satisfies not_equals",
			Predicate{Source: ConditionSourceField, Key: "missing", Operator: OperatorNotEquals, Value: "x"},
			true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.predicate.Evaluate(enrollment, contact))
		})
	}
}

func TestContactDateFieldMatches(t *testing.T) {
	day := time.Date(2026, time.March, 14, 10, 0, 0, 0, time.UTC)

	contact := &Contact{Fields: map[string]any{
		"birthday":    "1990-03-14",
		"anniversary": "2019-07-02T00:00:00Z",
		"note":        "not a date",
	}}

	assert.True(t, contact.DateFieldMatches("birthday", day))
	assert.False(t, contact.DateFieldMatches("anniversary", day))
	assert.False(t, contact.DateFieldMatches("note", day))
	assert.False(t, contact.DateFieldMatches("missing", day))
}

func TestContactLastActivityFallsBackToCreation(t *testing.T) {
	created := time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)
	contact := &Contact{CreatedAt: created}

	assert.Equal(t, created, contact.LastActivity())

	active := created.Add(48 * time.Hour)
	contact.LastActivityAt = &active
	assert.Equal(t, active, contact.LastActivity())
}

func TestContactTags(t *testing.T) {
	contact := &Contact{}

	contact.AddTag("vip")
	contact.AddTag("vip")
	assert.Equal(t, []string{"vip"}, contact.Tags)

	contact.RemoveTag("vip")
	contact.RemoveTag("vip")
	assert.Empty(t, contact.Tags)
}
