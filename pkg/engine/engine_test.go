package engine

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dripline/dripline/pkg/mocks"
	"github.com/dripline/dripline/pkg/models"
	"github.com/dripline/dripline/pkg/persistence/file"
)

func newTestEngine(t *testing.T) (*Engine, *file.Persistence, *mocks.MockEmailSender, *mocks.MockWebhookCaller) {
	t.Helper()

	p, err := file.NewPersistence(t.TempDir())
	require.NoError(t, err)

	sender := &mocks.MockEmailSender{}
	webhooks := &mocks.MockWebhookCaller{}
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	engine, err := NewEngine("worker-test", Config{}, p, nil, sender, webhooks, logger)
	require.NoError(t, err)

	return engine, p, sender, webhooks
}

// emailDripWorkflow builds the canonical five-step graph:
// a(send_email) -> b(wait 1 day) -> c(condition: opened a -> d, else e),
// d and e are terminal tag actions.
func emailDripWorkflow() *models.Workflow {
	return &models.Workflow{
		Name:   "Welcome drip",
		Owner:  "owner-1",
		Status: models.WorkflowStatusActive,
		Trigger: models.Trigger{
			Kind: models.TriggerKindManual,
		},
		Steps: []*models.Step{
			{
				ID:         "a",
				Name:       "Welcome email",
				Type:       models.StepTypeSendEmail,
				NextStepID: "b",
				Email: &models.EmailStepConfig{
					Subject:   "Hi {{ .first_name }}",
					Body:      "Welcome! {{ .unsubscribe_url }}",
					FromEmail: "hello@example.com",
				},
			},
			{
				ID:         "b",
				Name:       "Cool off",
				Type:       models.StepTypeWait,
				NextStepID: "c",
				Wait: &models.WaitStepConfig{
					Duration: 1,
					Unit:     models.WaitUnitDays,
				},
			},
			{
				ID:   "c",
				Name: "Opened?",
				Type: models.StepTypeCondition,
				Condition: &models.ConditionStepConfig{
					Predicate: models.Predicate{
						Source:   models.ConditionSourceJourney,
						Key:      string(models.JourneyActionEmailOpened),
						StepID:   "a",
						Operator: models.OperatorEquals,
					},
					TrueStepID:  "d",
					FalseStepID: "e",
				},
			},
			{
				ID:   "d",
				Name: "Mark engaged",
				Type: models.StepTypeAction,
				Action: &models.ActionStepConfig{
					Kind: models.ActionKindAddTag,
					Tag:  "engaged",
				},
			},
			{
				ID:   "e",
				Name: "Mark cold",
				Type: models.StepTypeAction,
				Action: &models.ActionStepConfig{
					Kind: models.ActionKindAddTag,
					Tag:  "cold",
				},
			},
		},
	}
}

func testContact() *models.Contact {
	return &models.Contact{
		Owner:     "owner-1",
		Email:     "alice@example.com",
		FirstName: "Alice",
	}
}

// rewindOpenTask makes an enrollment's open task due immediately so tests
// don't wait out real delays.
func rewindOpenTask(t *testing.T, ctx context.Context, e *Engine, enrollmentID string) {
	t.Helper()

	task, err := e.persistence.OpenTaskForEnrollment(ctx, enrollmentID)
	require.NoError(t, err)
	require.NotNil(t, task)

	task.ScheduledFor = time.Now().UTC().Add(-time.Minute)
	require.NoError(t, e.persistence.SaveTask(ctx, task))
}
