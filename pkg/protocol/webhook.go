package protocol

import "context"

// WebhookCall is an outbound notification fired by a webhook action step.
type WebhookCall struct {
	URL            string
	Payload        map[string]any
	IdempotencyKey string
}

// WebhookCaller posts action payloads to external endpoints.
type WebhookCaller interface {
	Call(ctx context.Context, call WebhookCall) error
}
