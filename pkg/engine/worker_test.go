package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dripline/dripline/pkg/models"
)

func TestProcessQueue_FullDrip(t *testing.T) {
	ctx := context.Background()
	engine, p, sender, _ := newTestEngine(t)

	workflow := emailDripWorkflow()
	require.NoError(t, p.SaveWorkflow(ctx, workflow))

	contact := testContact()
	require.NoError(t, p.SaveContact(ctx, contact))

	sender.On("Send", mock.Anything, mock.Anything).Return(nil).Once()

	enrollment, err := engine.Enroll(ctx, workflow.ID, contact.ID, "test")
	require.NoError(t, err)

	// Tick 1: send_email at step a, follow-on for b due immediately.
	require.NoError(t, engine.ProcessQueue(ctx))

	enrollment, err = p.EnrollmentByID(ctx, enrollment.ID)
	require.NoError(t, err)
	assert.True(t, enrollment.IsActive())
	assert.Equal(t, "b", enrollment.CurrentStepID)
	assert.True(t, enrollment.HasJourneyAction(models.JourneyActionEmailSent, "a"))

	// Tick 2: wait step succeeds instantly, follow-on for c lands a day out.
	require.NoError(t, engine.ProcessQueue(ctx))

	task, err := p.OpenTaskForEnrollment(ctx, enrollment.ID)
	require.NoError(t, err)
	require.NotNil(t, task)
	assert.Equal(t, "c", task.StepID)
	assert.Greater(t, time.Until(task.ScheduledFor), 23*time.Hour)

	// The wait delay is realized purely by scheduling; nothing to drain yet.
	require.NoError(t, engine.ProcessQueue(ctx))

	enrollment, err = p.EnrollmentByID(ctx, enrollment.ID)
	require.NoError(t, err)
	assert.Equal(t, "c", enrollment.CurrentStepID)

	// Tick 3, a day later: no open recorded, condition routes to e.
	rewindOpenTask(t, ctx, engine, enrollment.ID)
	require.NoError(t, engine.ProcessQueue(ctx))

	// Tick 4: terminal action e tags the contact and completes the enrollment.
	require.NoError(t, engine.ProcessQueue(ctx))

	enrollment, err = p.EnrollmentByID(ctx, enrollment.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusCompleted, enrollment.Status)
	require.NotNil(t, enrollment.CompletedAt)

	contact, err = p.ContactByID(ctx, contact.ID)
	require.NoError(t, err)
	assert.True(t, contact.HasTag("cold"))
	assert.False(t, contact.HasTag("engaged"))

	task, err = p.OpenTaskForEnrollment(ctx, enrollment.ID)
	require.NoError(t, err)
	assert.Nil(t, task)

	workflow, err = p.WorkflowByID(ctx, workflow.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, workflow.Stats.ActiveEnrollments)
	assert.Equal(t, 1, workflow.Stats.CompletedEnrollments)
	assert.Equal(t, 1, workflow.Stats.EmailsSent)

	sender.AssertExpectations(t)
}

func TestProcessQueue_ConditionTrueBranchAfterOpen(t *testing.T) {
	ctx := context.Background()
	engine, p, sender, _ := newTestEngine(t)

	workflow := emailDripWorkflow()
	require.NoError(t, p.SaveWorkflow(ctx, workflow))

	contact := testContact()
	require.NoError(t, p.SaveContact(ctx, contact))

	sender.On("Send", mock.Anything, mock.Anything).Return(nil)

	enrollment, err := engine.Enroll(ctx, workflow.ID, contact.ID, "test")
	require.NoError(t, err)

	require.NoError(t, engine.ProcessQueue(ctx)) // a: send
	require.NoError(t, engine.ProcessQueue(ctx)) // b: wait

	// The provider reports an open before the condition runs.
	require.NoError(t, engine.recordEngagement(ctx, engagement{
		enrollmentID: enrollment.ID,
		contactID:    contact.ID,
		stepID:       "a",
		action:       models.JourneyActionEmailOpened,
	}))

	rewindOpenTask(t, ctx, engine, enrollment.ID)
	require.NoError(t, engine.ProcessQueue(ctx)) // c: condition -> d
	require.NoError(t, engine.ProcessQueue(ctx)) // d: tag engaged

	contact, err = p.ContactByID(ctx, contact.ID)
	require.NoError(t, err)
	assert.True(t, contact.HasTag("engaged"))
	assert.NotNil(t, contact.LastActivityAt)
}

func TestProcessQueue_RetryThenSucceed(t *testing.T) {
	ctx := context.Background()
	engine, p, sender, _ := newTestEngine(t)

	workflow := emailDripWorkflow()
	require.NoError(t, p.SaveWorkflow(ctx, workflow))

	contact := testContact()
	require.NoError(t, p.SaveContact(ctx, contact))

	sender.On("Send", mock.Anything, mock.Anything).Return(errors.New("smtp timeout")).Twice()
	sender.On("Send", mock.Anything, mock.Anything).Return(nil).Once()

	enrollment, err := engine.Enroll(ctx, workflow.ID, contact.ID, "test")
	require.NoError(t, err)

	var deltas []time.Duration

	for attempt := 1; attempt <= 2; attempt++ {
		require.NoError(t, engine.ProcessQueue(ctx))

		task, err := p.OpenTaskForEnrollment(ctx, enrollment.ID)
		require.NoError(t, err)
		require.NotNil(t, task)
		assert.Equal(t, models.TaskStatusPending, task.Status)
		assert.Equal(t, attempt, task.Attempts)
		assert.Contains(t, task.LastError, "smtp timeout")

		deltas = append(deltas, time.Until(task.ScheduledFor))
		rewindOpenTask(t, ctx, engine, enrollment.ID)
	}

	// Backoff strictly increases across failures.
	assert.Greater(t, deltas[1], deltas[0])

	require.NoError(t, engine.ProcessQueue(ctx))

	enrollment, err = p.EnrollmentByID(ctx, enrollment.ID)
	require.NoError(t, err)
	assert.True(t, enrollment.IsActive())
	assert.True(t, enrollment.HasJourneyAction(models.JourneyActionEmailSent, "a"))

	sender.AssertExpectations(t)
	sender.AssertNumberOfCalls(t, "Send", 3)
}

func TestProcessQueue_RetriesExhausted(t *testing.T) {
	ctx := context.Background()
	engine, p, sender, _ := newTestEngine(t)

	workflow := emailDripWorkflow()
	require.NoError(t, p.SaveWorkflow(ctx, workflow))

	contact := testContact()
	require.NoError(t, p.SaveContact(ctx, contact))

	sender.On("Send", mock.Anything, mock.Anything).Return(errors.New("smtp down"))

	enrollment, err := engine.Enroll(ctx, workflow.ID, contact.ID, "test")
	require.NoError(t, err)

	for range engine.config.MaxAttempts {
		require.NoError(t, engine.ProcessQueue(ctx))

		if task, _ := p.OpenTaskForEnrollment(ctx, enrollment.ID); task != nil {
			rewindOpenTask(t, ctx, engine, enrollment.ID)
		}
	}

	enrollment, err = p.EnrollmentByID(ctx, enrollment.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusFailed, enrollment.Status)
	assert.Contains(t, enrollment.Reason, "smtp down")
	assert.True(t, enrollment.HasJourneyAction(models.JourneyActionFailed, "a"))

	task, err := p.OpenTaskForEnrollment(ctx, enrollment.ID)
	require.NoError(t, err)
	assert.Nil(t, task)

	// Never a maxAttempts+1-th attempt.
	sender.AssertNumberOfCalls(t, "Send", engine.config.MaxAttempts)

	workflow, err = p.WorkflowByID(ctx, workflow.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, workflow.Stats.ActiveEnrollments)
}

func TestProcessQueue_PausedWorkflowCancelsTaskOnly(t *testing.T) {
	ctx := context.Background()
	engine, p, sender, _ := newTestEngine(t)

	workflow := emailDripWorkflow()
	require.NoError(t, p.SaveWorkflow(ctx, workflow))

	contact := testContact()
	require.NoError(t, p.SaveContact(ctx, contact))

	enrollment, err := engine.Enroll(ctx, workflow.ID, contact.ID, "test")
	require.NoError(t, err)

	workflow.Status = models.WorkflowStatusPaused
	require.NoError(t, p.SaveWorkflow(ctx, workflow))

	require.NoError(t, engine.ProcessQueue(ctx))

	// The task is gone but the enrollment stays active for a later resume.
	task, err := p.OpenTaskForEnrollment(ctx, enrollment.ID)
	require.NoError(t, err)
	assert.Nil(t, task)

	enrollment, err = p.EnrollmentByID(ctx, enrollment.ID)
	require.NoError(t, err)
	assert.True(t, enrollment.IsActive())

	sender.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
}

func TestProcessQueue_MissingStepFailsWithoutRetry(t *testing.T) {
	ctx := context.Background()
	engine, p, sender, _ := newTestEngine(t)

	workflow := emailDripWorkflow()
	require.NoError(t, p.SaveWorkflow(ctx, workflow))

	contact := testContact()
	require.NoError(t, p.SaveContact(ctx, contact))

	enrollment, err := engine.Enroll(ctx, workflow.ID, contact.ID, "test")
	require.NoError(t, err)

	task, err := p.OpenTaskForEnrollment(ctx, enrollment.ID)
	require.NoError(t, err)
	task.StepID = "vanished"
	require.NoError(t, p.SaveTask(ctx, task))

	require.NoError(t, engine.ProcessQueue(ctx))

	task, err = p.TaskByID(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusFailed, task.Status)
	assert.Equal(t, "step not found", task.LastError)
	assert.Zero(t, task.Attempts)

	enrollment, err = p.EnrollmentByID(ctx, enrollment.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusFailed, enrollment.Status)
	assert.Equal(t, "step not found", enrollment.Reason)

	sender.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
}

func TestProcessQueue_UnsubscribedContactCancelsEnrollment(t *testing.T) {
	ctx := context.Background()
	engine, p, sender, _ := newTestEngine(t)

	workflow := emailDripWorkflow()
	require.NoError(t, p.SaveWorkflow(ctx, workflow))

	contact := testContact()
	require.NoError(t, p.SaveContact(ctx, contact))

	enrollment, err := engine.Enroll(ctx, workflow.ID, contact.ID, "test")
	require.NoError(t, err)

	contact.Unsubscribed = true
	require.NoError(t, p.SaveContact(ctx, contact))

	require.NoError(t, engine.ProcessQueue(ctx))

	enrollment, err = p.EnrollmentByID(ctx, enrollment.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusCancelled, enrollment.Status)
	assert.Contains(t, enrollment.Reason, "unsubscribed")
	assert.True(t, enrollment.HasJourneyAction(models.JourneyActionCancelled, "a"))

	sender.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
}

func TestEnroll_RejectsSecondActiveEnrollment(t *testing.T) {
	ctx := context.Background()
	engine, p, _, _ := newTestEngine(t)

	workflow := emailDripWorkflow()
	require.NoError(t, p.SaveWorkflow(ctx, workflow))

	contact := testContact()
	require.NoError(t, p.SaveContact(ctx, contact))

	_, err := engine.Enroll(ctx, workflow.ID, contact.ID, "test")
	require.NoError(t, err)

	_, err = engine.Enroll(ctx, workflow.ID, contact.ID, "test")
	assert.ErrorIs(t, err, ErrAlreadyEnrolled)
}

func TestResumeEnrollments(t *testing.T) {
	ctx := context.Background()
	engine, p, _, _ := newTestEngine(t)

	workflow := emailDripWorkflow()
	require.NoError(t, p.SaveWorkflow(ctx, workflow))

	contact := testContact()
	require.NoError(t, p.SaveContact(ctx, contact))

	enrollment, err := engine.Enroll(ctx, workflow.ID, contact.ID, "test")
	require.NoError(t, err)

	workflow.Status = models.WorkflowStatusPaused
	require.NoError(t, p.SaveWorkflow(ctx, workflow))
	require.NoError(t, engine.ProcessQueue(ctx))

	workflow.Status = models.WorkflowStatusActive
	require.NoError(t, p.SaveWorkflow(ctx, workflow))

	resumed, err := engine.ResumeEnrollments(ctx, workflow.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, resumed)

	task, err := p.OpenTaskForEnrollment(ctx, enrollment.ID)
	require.NoError(t, err)
	require.NotNil(t, task)
	assert.Equal(t, "a", task.StepID)

	// A second resume finds the open task and schedules nothing.
	resumed, err = engine.ResumeEnrollments(ctx, workflow.ID)
	require.NoError(t, err)
	assert.Zero(t, resumed)
}
