package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dripline/dripline/pkg/models"
)

func birthdayWorkflow() *models.Workflow {
	workflow := emailDripWorkflow()
	workflow.Name = "Birthday greetings"
	workflow.Trigger = models.Trigger{
		Kind:      models.TriggerKindDateBased,
		DateField: "birthday",
	}

	return workflow
}

func winbackWorkflow(days int) *models.Workflow {
	workflow := emailDripWorkflow()
	workflow.Name = "Win-back campaign"
	workflow.Trigger = models.Trigger{
		Kind:           models.TriggerKindNoActivity,
		InactivityDays: days,
	}

	return workflow
}

func TestProcessDateTriggers(t *testing.T) {
	ctx := context.Background()
	engine, p, _, _ := newTestEngine(t)

	workflow := birthdayWorkflow()
	require.NoError(t, p.SaveWorkflow(ctx, workflow))

	today := time.Now().UTC()

	birthdayContact := testContact()
	birthdayContact.Fields = map[string]any{
		"birthday": time.Date(1990, today.Month(), today.Day(), 0, 0, 0, 0, time.UTC).Format("2006-01-02"),
	}
	require.NoError(t, p.SaveContact(ctx, birthdayContact))

	otherContact := testContact()
	otherContact.Email = "bob@example.com"
	otherContact.Fields = map[string]any{
		"birthday": today.AddDate(0, 1, 0).Format("2006-01-02"),
	}
	require.NoError(t, p.SaveContact(ctx, otherContact))

	require.NoError(t, engine.ProcessDateTriggers(ctx))

	enrollments, err := p.ActiveEnrollments(ctx, workflow.ID)
	require.NoError(t, err)
	require.Len(t, enrollments, 1)
	assert.Equal(t, birthdayContact.ID, enrollments[0].ContactID)
	assert.Equal(t, "a", enrollments[0].CurrentStepID)

	task, err := p.OpenTaskForEnrollment(ctx, enrollments[0].ID)
	require.NoError(t, err)
	require.NotNil(t, task)
	assert.True(t, task.IsDue(time.Now().UTC().Add(time.Second)))
}

func TestProcessDateTriggers_IdempotentPerDay(t *testing.T) {
	ctx := context.Background()
	engine, p, _, _ := newTestEngine(t)

	workflow := birthdayWorkflow()
	require.NoError(t, p.SaveWorkflow(ctx, workflow))

	today := time.Now().UTC()

	contact := testContact()
	contact.Fields = map[string]any{
		"birthday": time.Date(1985, today.Month(), today.Day(), 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, p.SaveContact(ctx, contact))

	require.NoError(t, engine.ProcessDateTriggers(ctx))
	require.NoError(t, engine.ProcessDateTriggers(ctx))

	enrollments, err := p.EnrollmentsByContact(ctx, workflow.ID, contact.ID)
	require.NoError(t, err)
	assert.Len(t, enrollments, 1)
}

func TestProcessInactivityTriggers(t *testing.T) {
	ctx := context.Background()
	engine, p, _, _ := newTestEngine(t)

	workflow := winbackWorkflow(30)
	require.NoError(t, p.SaveWorkflow(ctx, workflow))

	now := time.Now().UTC()
	stale := now.AddDate(0, 0, -45)

	idleContact := testContact()
	idleContact.LastActivityAt = &stale
	require.NoError(t, p.SaveContact(ctx, idleContact))

	activeTime := now.AddDate(0, 0, -3)
	busyContact := testContact()
	busyContact.Email = "bob@example.com"
	busyContact.LastActivityAt = &activeTime
	require.NoError(t, p.SaveContact(ctx, busyContact))

	// Never contacted: falls back to the creation date.
	dormantContact := testContact()
	dormantContact.Email = "carol@example.com"
	dormantContact.CreatedAt = now.AddDate(0, 0, -60)
	require.NoError(t, p.SaveContact(ctx, dormantContact))

	require.NoError(t, engine.ProcessInactivityTriggers(ctx))

	enrollments, err := p.ActiveEnrollments(ctx, workflow.ID)
	require.NoError(t, err)
	require.Len(t, enrollments, 2)

	enrolled := map[string]bool{}
	for _, enrollment := range enrollments {
		enrolled[enrollment.ContactID] = true
	}

	assert.True(t, enrolled[idleContact.ID])
	assert.True(t, enrolled[dormantContact.ID])
	assert.False(t, enrolled[busyContact.ID])

	// A re-run never double-enrolls.
	require.NoError(t, engine.ProcessInactivityTriggers(ctx))

	enrollments, err = p.ActiveEnrollments(ctx, workflow.ID)
	require.NoError(t, err)
	assert.Len(t, enrollments, 2)
}

func TestProcessInactivityTriggers_SkipsCompletedEnrollment(t *testing.T) {
	ctx := context.Background()
	engine, p, _, _ := newTestEngine(t)

	workflow := winbackWorkflow(30)
	require.NoError(t, p.SaveWorkflow(ctx, workflow))

	now := time.Now().UTC()
	stale := now.AddDate(0, 0, -45)

	contact := testContact()
	contact.LastActivityAt = &stale
	require.NoError(t, p.SaveContact(ctx, contact))

	completed := &models.Enrollment{
		WorkflowID: workflow.ID,
		ContactID:  contact.ID,
		Status:     models.EnrollmentStatusCompleted,
	}
	require.NoError(t, p.SaveEnrollment(ctx, completed))

	require.NoError(t, engine.ProcessInactivityTriggers(ctx))

	enrollments, err := p.ActiveEnrollments(ctx, workflow.ID)
	require.NoError(t, err)
	assert.Empty(t, enrollments)
}
