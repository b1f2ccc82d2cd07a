// Package protocol defines the interfaces between the engine and its
// outbound delivery providers.
package protocol

import "context"

// EmailMessage is a fully rendered email ready for delivery.
type EmailMessage struct {
	To             string
	ToName         string
	FromEmail      string
	FromName       string
	Subject        string
	Body           string
	IdempotencyKey string
}

// EmailSender delivers rendered emails. Implementations must treat the
// idempotency key as a dedupe handle: redelivery with the same key must not
// send a second message.
type EmailSender interface {
	Send(ctx context.Context, message EmailMessage) error
}
