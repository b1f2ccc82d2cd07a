package file

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dripline/dripline/pkg/models"
	"github.com/dripline/dripline/pkg/persistence"
)

// ContactByID returns a contact by its ID.
func (p *Persistence) ContactByID(_ context.Context, id string) (*models.Contact, error) {
	var contact models.Contact
	if err := p.read(contactsDir, id, &contact, persistence.ErrContactNotFound); err != nil {
		return nil, err
	}

	return &contact, nil
}

// ContactsByOwner returns every contact belonging to the owner.
func (p *Persistence) ContactsByOwner(_ context.Context, owner string) ([]*models.Contact, error) {
	contacts := make([]*models.Contact, 0)

	err := p.readEach(contactsDir, func(data []byte) error {
		var contact models.Contact
		if err := json.Unmarshal(data, &contact); err != nil {
			return fmt.Errorf("failed to unmarshal contact: %w", err)
		}

		if contact.Owner == owner {
			contacts = append(contacts, &contact)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return contacts, nil
}

// SaveContact persists a contact.
func (p *Persistence) SaveContact(_ context.Context, contact *models.Contact) error {
	now := time.Now().UTC()

	if contact.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate contact ID: %w", err)
		}

		contact.ID = id.String()
	}

	if contact.CreatedAt.IsZero() {
		contact.CreatedAt = now
	}

	contact.UpdatedAt = now

	p.mu.Lock()
	defer p.mu.Unlock()

	return p.write(contactsDir, contact.ID, contact)
}
