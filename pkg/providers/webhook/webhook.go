// Package webhook posts action payloads to external HTTP endpoints.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/dripline/dripline/pkg/protocol"
)

const defaultTimeout = 30 * time.Second

// Caller delivers webhook calls over HTTP POST. Requests carry an
// X-Idempotency-Key header so receivers can drop redeliveries.
type Caller struct {
	client *http.Client
	logger *slog.Logger
}

func NewCaller(logger *slog.Logger) *Caller {
	return &Caller{
		client: &http.Client{Timeout: defaultTimeout},
		logger: logger.With("module", "webhook"),
	}
}

func (c *Caller) Call(ctx context.Context, call protocol.WebhookCall) error {
	body, err := json.Marshal(call.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, call.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build webhook request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	if call.IdempotencyKey != "" {
		req.Header.Set("X-Idempotency-Key", call.IdempotencyKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}

	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	c.logger.InfoContext(ctx, "webhook delivered", "url", call.URL, "status", resp.StatusCode)

	return nil
}

var _ protocol.WebhookCaller = (*Caller)(nil)
