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

// EnrollmentByID returns an enrollment by its ID.
func (p *Persistence) EnrollmentByID(_ context.Context, id string) (*models.Enrollment, error) {
	var enrollment models.Enrollment
	if err := p.read(enrollmentsDir, id, &enrollment, persistence.ErrEnrollmentNotFound); err != nil {
		return nil, err
	}

	return &enrollment, nil
}

// EnrollmentsByContact returns every enrollment of a contact in a workflow,
// newest first.
func (p *Persistence) EnrollmentsByContact(_ context.Context, workflowID, contactID string) ([]*models.Enrollment, error) {
	enrollments := make([]*models.Enrollment, 0)

	err := p.readEach(enrollmentsDir, func(data []byte) error {
		var enrollment models.Enrollment
		if err := json.Unmarshal(data, &enrollment); err != nil {
			return fmt.Errorf("failed to unmarshal enrollment: %w", err)
		}

		if enrollment.WorkflowID == workflowID && enrollment.ContactID == contactID {
			enrollments = append(enrollments, &enrollment)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(enrollments, func(i, j int) bool {
		return enrollments[i].CreatedAt.After(enrollments[j].CreatedAt)
	})

	return enrollments, nil
}

// ActiveEnrollments returns the active enrollments of a workflow.
func (p *Persistence) ActiveEnrollments(_ context.Context, workflowID string) ([]*models.Enrollment, error) {
	enrollments := make([]*models.Enrollment, 0)

	err := p.readEach(enrollmentsDir, func(data []byte) error {
		var enrollment models.Enrollment
		if err := json.Unmarshal(data, &enrollment); err != nil {
			return fmt.Errorf("failed to unmarshal enrollment: %w", err)
		}

		if enrollment.WorkflowID == workflowID && enrollment.IsActive() {
			enrollments = append(enrollments, &enrollment)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return enrollments, nil
}

// SaveEnrollment persists an enrollment.
func (p *Persistence) SaveEnrollment(_ context.Context, enrollment *models.Enrollment) error {
	now := time.Now().UTC()

	if enrollment.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate enrollment ID: %w", err)
		}

		enrollment.ID = id.String()
	}

	if enrollment.CreatedAt.IsZero() {
		enrollment.CreatedAt = now
	}

	enrollment.UpdatedAt = now

	p.mu.Lock()
	defer p.mu.Unlock()

	return p.write(enrollmentsDir, enrollment.ID, enrollment)
}

// PruneJourneys drops journey entries older than the cutoff from terminal
// enrollments. Active enrollments keep their full journey: condition steps
// still read it.
func (p *Persistence) PruneJourneys(_ context.Context, before time.Time) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	pruned := 0

	err := p.readEach(enrollmentsDir, func(data []byte) error {
		var enrollment models.Enrollment
		if err := json.Unmarshal(data, &enrollment); err != nil {
			return fmt.Errorf("failed to unmarshal enrollment: %w", err)
		}

		if enrollment.IsActive() {
			return nil
		}

		kept := enrollment.Journey[:0]

		for _, entry := range enrollment.Journey {
			if entry.Timestamp.Before(before) {
				pruned++

				continue
			}

			kept = append(kept, entry)
		}

		if len(kept) == len(enrollment.Journey) {
			return nil
		}

		enrollment.Journey = kept

		return p.write(enrollmentsDir, enrollment.ID, &enrollment)
	})
	if err != nil {
		return pruned, err
	}

	return pruned, nil
}
