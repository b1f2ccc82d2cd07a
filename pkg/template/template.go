// Package template renders email subjects and bodies with per-contact data.
package template

import (
	"fmt"
	"net/url"
	"strings"
	"text/template"
	"time"

	"github.com/dripline/dripline/pkg/models"
)

// RenderForContact renders a template string against a contact. The data map
// exposes the contact's identity fields, custom fields under .fields, and an
// unsubscribe URL scoped to the contact.
func RenderForContact(input string, contact *models.Contact, unsubscribeBaseURL string) (string, error) {
	data := map[string]any{
		"email":           contact.Email,
		"first_name":      contact.FirstName,
		"last_name":       contact.LastName,
		"fields":          contact.Fields,
		"tags":            contact.Tags,
		"unsubscribe_url": UnsubscribeURL(unsubscribeBaseURL, contact.ID),
	}

	return Render(input, data)
}

// Render parses and executes a template string against arbitrary data.
func Render(templateStr string, data any) (string, error) {
	tmpl, err := template.
		New("render").
		Option("missingkey=zero").
		Funcs(template.FuncMap{
			"now": func() string {
				return time.Now().UTC().Format(time.RFC3339)
			},
			"default": func(fallback, value any) any {
				s, ok := value.(string)
				if value == nil || (ok && s == "") {
					return fallback
				}

				return value
			},
		}).Parse(templateStr)
	if err != nil {
		return "", fmt.Errorf("failed to parse template '%s': %w", templateStr, err)
	}

	var buf strings.Builder

	err = tmpl.Execute(&buf, data)
	if err != nil {
		return "", fmt.Errorf("failed to execute template '%s': %w", templateStr, err)
	}

	return buf.String(), nil
}

// UnsubscribeURL builds the opt-out link for a contact.
func UnsubscribeURL(baseURL, contactID string) string {
	if baseURL == "" {
		return ""
	}

	return strings.TrimRight(baseURL, "/") + "/unsubscribe?contact=" + url.QueryEscape(contactID)
}
