package file

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dripline/dripline/pkg/models"
	"github.com/dripline/dripline/pkg/persistence"
)

func newTestPersistence(t *testing.T) *Persistence {
	t.Helper()

	p, err := NewPersistence(t.TempDir())
	require.NoError(t, err)

	return p
}

func TestWorkflowRoundTrip(t *testing.T) {
	p := newTestPersistence(t)
	ctx := context.Background()

	workflow := &models.Workflow{
		Name:    "Onboarding",
		Owner:   "owner-1",
		Status:  models.WorkflowStatusActive,
		Trigger: models.Trigger{Kind: models.TriggerKindManual},
	}

	require.NoError(t, p.SaveWorkflow(ctx, workflow))
	require.NotEmpty(t, workflow.ID)

	loaded, err := p.WorkflowByID(ctx, workflow.ID)
	require.NoError(t, err)
	assert.Equal(t, "Onboarding", loaded.Name)

	_, err = p.WorkflowByID(ctx, "missing")
	assert.ErrorIs(t, err, persistence.ErrWorkflowNotFound)
}

func TestSaveWorkflowRejectsDanglingReference(t *testing.T) {
	p := newTestPersistence(t)

	workflow := &models.Workflow{
		Name:    "Broken graph",
		Owner:   "owner-1",
		Status:  models.WorkflowStatusDraft,
		Trigger: models.Trigger{Kind: models.TriggerKindManual},
		Steps: []*models.Step{
			{
				ID:         "s1",
				Type:       models.StepTypeWait,
				NextStepID: "missing",
				Wait:       &models.WaitStepConfig{Duration: 1, Unit: models.WaitUnitDays},
			},
		},
	}

	require.Error(t, p.SaveWorkflow(context.Background(), workflow))
}

func TestIncrementStats(t *testing.T) {
	p := newTestPersistence(t)
	ctx := context.Background()

	workflow := &models.Workflow{
		Name:    "Counters",
		Owner:   "owner-1",
		Status:  models.WorkflowStatusActive,
		Trigger: models.Trigger{Kind: models.TriggerKindManual},
	}
	require.NoError(t, p.SaveWorkflow(ctx, workflow))

	require.NoError(t, p.IncrementStats(ctx, workflow.ID, models.WorkflowStats{ActiveEnrollments: 1, EmailsSent: 2}))
	require.NoError(t, p.IncrementStats(ctx, workflow.ID, models.WorkflowStats{ActiveEnrollments: -1, CompletedEnrollments: 1}))

	loaded, err := p.WorkflowByID(ctx, workflow.ID)
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowStats{ActiveEnrollments: 0, CompletedEnrollments: 1, EmailsSent: 2}, loaded.Stats)
}

func TestClaimTaskCompareAndSet(t *testing.T) {
	p := newTestPersistence(t)
	ctx := context.Background()

	task := &models.Task{
		WorkflowID:   "wf-1",
		EnrollmentID: "en-1",
		StepID:       "s1",
		Status:       models.TaskStatusPending,
		ScheduledFor: time.Now().UTC(),
		MaxAttempts:  3,
	}
	require.NoError(t, p.SaveTask(ctx, task))

	claimed, err := p.ClaimTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusProcessing, claimed.Status)

	_, err = p.ClaimTask(ctx, task.ID)
	assert.ErrorIs(t, err, persistence.ErrTaskNotClaimable)
	assert.True(t, persistence.IsTaskNotClaimable(err))
}

func TestDueTasksOrderAndLimit(t *testing.T) {
	p := newTestPersistence(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for i, offset := range []time.Duration{-3 * time.Hour, -1 * time.Hour, -2 * time.Hour, time.Hour} {
		task := &models.Task{
			WorkflowID:   "wf-1",
			EnrollmentID: "en-" + string(rune('a'+i)),
			StepID:       "s1",
			Status:       models.TaskStatusPending,
			ScheduledFor: now.Add(offset),
			MaxAttempts:  3,
		}
		require.NoError(t, p.SaveTask(ctx, task))
	}

	due, err := p.DueTasks(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, due, 3, "future task must not be due")

	for i := 1; i < len(due); i++ {
		assert.False(t, due[i].ScheduledFor.Before(due[i-1].ScheduledFor), "tasks must be ordered oldest-due first")
	}

	limited, err := p.DueTasks(ctx, now, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestOpenTaskForEnrollment(t *testing.T) {
	p := newTestPersistence(t)
	ctx := context.Background()

	done := &models.Task{WorkflowID: "wf", EnrollmentID: "en-1", StepID: "s1", Status: models.TaskStatusCompleted, MaxAttempts: 3}
	require.NoError(t, p.SaveTask(ctx, done))

	open, err := p.OpenTaskForEnrollment(ctx, "en-1")
	require.NoError(t, err)
	assert.Nil(t, open)

	pending := &models.Task{WorkflowID: "wf", EnrollmentID: "en-1", StepID: "s2", Status: models.TaskStatusPending, MaxAttempts: 3}
	require.NoError(t, p.SaveTask(ctx, pending))

	open, err = p.OpenTaskForEnrollment(ctx, "en-1")
	require.NoError(t, err)
	require.NotNil(t, open)
	assert.Equal(t, pending.ID, open.ID)
}

func TestDeleteTerminalTasksBefore(t *testing.T) {
	p := newTestPersistence(t)
	ctx := context.Background()

	oldTask := &models.Task{WorkflowID: "wf", EnrollmentID: "en-1", StepID: "s1", Status: models.TaskStatusCompleted, MaxAttempts: 3}
	require.NoError(t, p.SaveTask(ctx, oldTask))

	pending := &models.Task{WorkflowID: "wf", EnrollmentID: "en-2", StepID: "s1", Status: models.TaskStatusPending, MaxAttempts: 3}
	require.NoError(t, p.SaveTask(ctx, pending))

	deleted, err := p.DeleteTerminalTasksBefore(ctx, time.Now().UTC().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	_, err = p.TaskByID(ctx, oldTask.ID)
	assert.ErrorIs(t, err, persistence.ErrTaskNotFound)

	_, err = p.TaskByID(ctx, pending.ID)
	assert.NoError(t, err, "pending tasks survive retention")
}

func TestEnrollmentsByContactNewestFirst(t *testing.T) {
	p := newTestPersistence(t)
	ctx := context.Background()

	first := &models.Enrollment{
		WorkflowID: "wf-1",
		ContactID:  "c-1",
		Status:     models.EnrollmentStatusCompleted,
		CreatedAt:  time.Now().UTC().Add(-48 * time.Hour),
	}
	require.NoError(t, p.SaveEnrollment(ctx, first))

	second := &models.Enrollment{WorkflowID: "wf-1", ContactID: "c-1", Status: models.EnrollmentStatusActive}
	require.NoError(t, p.SaveEnrollment(ctx, second))

	other := &models.Enrollment{WorkflowID: "wf-2", ContactID: "c-1", Status: models.EnrollmentStatusActive}
	require.NoError(t, p.SaveEnrollment(ctx, other))

	enrollments, err := p.EnrollmentsByContact(ctx, "wf-1", "c-1")
	require.NoError(t, err)
	require.Len(t, enrollments, 2)
	assert.Equal(t, second.ID, enrollments[0].ID)
}

func TestPruneJourneysSkipsActiveEnrollments(t *testing.T) {
	p := newTestPersistence(t)
	ctx := context.Background()
	old := time.Now().UTC().Add(-100 * 24 * time.Hour)

	active := &models.Enrollment{WorkflowID: "wf-1", ContactID: "c-1", Status: models.EnrollmentStatusActive}
	active.AppendJourney(models.JourneyEntry{Action: models.JourneyActionEmailSent, Timestamp: old})
	require.NoError(t, p.SaveEnrollment(ctx, active))

	completed := &models.Enrollment{WorkflowID: "wf-1", ContactID: "c-2", Status: models.EnrollmentStatusCompleted}
	completed.AppendJourney(models.JourneyEntry{Action: models.JourneyActionEmailSent, Timestamp: old})
	completed.AppendJourney(models.JourneyEntry{Action: models.JourneyActionStepCompleted})
	require.NoError(t, p.SaveEnrollment(ctx, completed))

	pruned, err := p.PruneJourneys(ctx, time.Now().UTC().Add(-90*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, pruned)

	loadedActive, err := p.EnrollmentByID(ctx, active.ID)
	require.NoError(t, err)
	assert.Len(t, loadedActive.Journey, 1)

	loadedCompleted, err := p.EnrollmentByID(ctx, completed.ID)
	require.NoError(t, err)
	assert.Len(t, loadedCompleted.Journey, 1)
}
