package file

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/dripline/dripline/pkg/models"
	"github.com/dripline/dripline/pkg/persistence"
)

// Workflows returns every stored workflow, newest first.
func (p *Persistence) Workflows(_ context.Context) ([]*models.Workflow, error) {
	workflows := make([]*models.Workflow, 0)

	err := p.readEach(workflowsDir, func(data []byte) error {
		var workflow models.Workflow
		if err := json.Unmarshal(data, &workflow); err != nil {
			return fmt.Errorf("failed to unmarshal workflow: %w", err)
		}

		workflows = append(workflows, &workflow)

		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(workflows, func(i, j int) bool {
		return workflows[i].CreatedAt.After(workflows[j].CreatedAt)
	})

	return workflows, nil
}

// WorkflowByID returns a workflow by its ID.
func (p *Persistence) WorkflowByID(_ context.Context, id string) (*models.Workflow, error) {
	var workflow models.Workflow
	if err := p.read(workflowsDir, id, &workflow, persistence.ErrWorkflowNotFound); err != nil {
		return nil, err
	}

	return &workflow, nil
}

// SaveWorkflow validates and persists a workflow.
func (p *Persistence) SaveWorkflow(_ context.Context, workflow *models.Workflow) error {
	now := time.Now().UTC()

	if workflow.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate workflow ID: %w", err)
		}

		workflow.ID = id.String()
	}

	if workflow.CreatedAt.IsZero() {
		workflow.CreatedAt = now
	}

	workflow.UpdatedAt = now

	if err := workflow.Validate(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	return p.write(workflowsDir, workflow.ID, workflow)
}

// IncrementStats adds the deltas to a workflow's counters under the store
// lock, standing in for a database-side atomic increment.
func (p *Persistence) IncrementStats(ctx context.Context, id string, delta models.WorkflowStats) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var workflow models.Workflow
	if err := p.read(workflowsDir, id, &workflow, persistence.ErrWorkflowNotFound); err != nil {
		return err
	}

	workflow.Stats.ActiveEnrollments += delta.ActiveEnrollments
	workflow.Stats.CompletedEnrollments += delta.CompletedEnrollments
	workflow.Stats.EmailsSent += delta.EmailsSent
	workflow.UpdatedAt = time.Now().UTC()

	return p.write(workflowsDir, workflow.ID, &workflow)
}
