package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dripline/dripline/pkg/models"
	"github.com/dripline/dripline/pkg/persistence"
)

const contactColumns = `
	id
  , owner
  , email
  , first_name
  , last_name
  , tags
  , fields
  , unsubscribed
  , last_activity_at
  , created_at
  , updated_at
`

// ContactByID returns a contact by its ID.
func (p *Persistence) ContactByID(ctx context.Context, id string) (*models.Contact, error) {
	query := `SELECT ` + contactColumns + ` FROM contacts WHERE id = $1`

	contact, err := scanContact(p.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrContactNotFound
		}

		return nil, fmt.Errorf("failed to scan contact: %w", err)
	}

	return contact, nil
}

// ContactsByOwner returns every contact belonging to the owner.
func (p *Persistence) ContactsByOwner(ctx context.Context, owner string) ([]*models.Contact, error) {
	query := `SELECT ` + contactColumns + ` FROM contacts WHERE owner = $1 ORDER BY created_at`

	rows, err := p.db.QueryContext(ctx, query, owner)
	if err != nil {
		return nil, fmt.Errorf("failed to query contacts: %w", err)
	}

	defer p.closeRows(ctx, rows)

	contacts := make([]*models.Contact, 0)

	for rows.Next() {
		contact, err := scanContact(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan contact: %w", err)
		}

		contacts = append(contacts, contact)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating contacts: %w", err)
	}

	return contacts, nil
}

// SaveContact upserts a contact.
func (p *Persistence) SaveContact(ctx context.Context, contact *models.Contact) error {
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

	tagsJSON, err := json.Marshal(contact.Tags)
	if err != nil {
		return fmt.Errorf("failed to marshal tags: %w", err)
	}

	fieldsJSON, err := json.Marshal(contact.Fields)
	if err != nil {
		return fmt.Errorf("failed to marshal fields: %w", err)
	}

	query := `
		INSERT INTO contacts (
			id, owner, email, first_name, last_name, tags, fields,
			unsubscribed, last_activity_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			owner = EXCLUDED.owner,
			email = EXCLUDED.email,
			first_name = EXCLUDED.first_name,
			last_name = EXCLUDED.last_name,
			tags = EXCLUDED.tags,
			fields = EXCLUDED.fields,
			unsubscribed = EXCLUDED.unsubscribed,
			last_activity_at = EXCLUDED.last_activity_at,
			updated_at = EXCLUDED.updated_at
	`

	_, err = p.db.ExecContext(ctx, query,
		contact.ID, contact.Owner, contact.Email, contact.FirstName, contact.LastName,
		tagsJSON, fieldsJSON, contact.Unsubscribed, contact.LastActivityAt,
		contact.CreatedAt, contact.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save contact %s: %w", contact.ID, err)
	}

	return nil
}

func scanContact(row rowScanner) (*models.Contact, error) {
	var (
		contact    models.Contact
		tagsJSON   []byte
		fieldsJSON []byte
	)

	err := row.Scan(
		&contact.ID, &contact.Owner, &contact.Email, &contact.FirstName, &contact.LastName,
		&tagsJSON, &fieldsJSON, &contact.Unsubscribed, &contact.LastActivityAt,
		&contact.CreatedAt, &contact.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(tagsJSON, &contact.Tags); err != nil {
		return nil, fmt.Errorf("failed to unmarshal tags: %w", err)
	}

	if err := json.Unmarshal(fieldsJSON, &contact.Fields); err != nil {
		return nil, fmt.Errorf("failed to unmarshal fields: %w", err)
	}

	return &contact, nil
}
