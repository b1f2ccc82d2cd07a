package models

import "time"

// Contact is the engine's read/write view of a contact record. The contact
// CRUD surface lives outside this subsystem; trigger evaluators read
// contacts and action steps mutate tags and custom fields.
type Contact struct {
	ID             string         `json:"id"`
	Owner          string         `json:"owner" validate:"required"`
	Email          string         `json:"email" validate:"required,email"`
	FirstName      string         `json:"first_name,omitempty"`
	LastName       string         `json:"last_name,omitempty"`
	Tags           []string       `json:"tags,omitempty"`
	Fields         map[string]any `json:"fields,omitempty"`
	Unsubscribed   bool           `json:"unsubscribed"`
	LastActivityAt *time.Time     `json:"last_activity_at,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// HasTag reports whether the contact carries the tag.
func (c *Contact) HasTag(tag string) bool {
	for _, t := range c.Tags {
		if t == tag {
			return true
		}
	}

	return false
}

// AddTag appends the tag if absent. Idempotent.
func (c *Contact) AddTag(tag string) {
	if !c.HasTag(tag) {
		c.Tags = append(c.Tags, tag)
	}
}

// RemoveTag deletes the tag if present. Idempotent.
func (c *Contact) RemoveTag(tag string) {
	for i, t := range c.Tags {
		if t == tag {
			c.Tags = append(c.Tags[:i], c.Tags[i+1:]...)

			return
		}
	}
}

// SetField sets a custom field value.
func (c *Contact) SetField(name string, value any) {
	if c.Fields == nil {
		c.Fields = make(map[string]any)
	}

	c.Fields[name] = value
}

// Field returns a custom field value.
func (c *Contact) Field(name string) (any, bool) {
	value, ok := c.Fields[name]

	return value, ok
}

// LastActivity returns the most recent activity timestamp, falling back to
// the creation date for contacts that were never contacted.
func (c *Contact) LastActivity() time.Time {
	if c.LastActivityAt != nil {
		return *c.LastActivityAt
	}

	return c.CreatedAt
}

// DateFieldMatches reports whether the named field holds a date whose month
// and day match the given day. Used by date-based trigger sweeps (birthdays,
// anniversaries).
func (c *Contact) DateFieldMatches(field string, day time.Time) bool {
	value, ok := c.Fields[field]
	if !ok {
		return false
	}

	parsed, ok := parseDateValue(value)
	if !ok {
		return false
	}

	return parsed.Month() == day.Month() && parsed.Day() == day.Day()
}

// parseDateValue accepts the date encodings contact fields arrive in:
// time.Time from in-process callers, RFC 3339 or plain dates from JSON.
func parseDateValue(value any) (time.Time, bool) {
	switch v := value.(type) {
	case time.Time:
		return v, true
	case string:
		for _, layout := range []string{time.RFC3339, "2006-01-02"} {
			if parsed, err := time.Parse(layout, v); err == nil {
				return parsed, true
			}
		}
	}

	return time.Time{}, false
}
