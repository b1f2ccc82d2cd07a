// Package email provides the built-in email delivery provider. It logs
// outgoing messages instead of delivering them; production deployments
// plug an ESP-backed implementation of protocol.EmailSender in its place.
package email

import (
	"context"
	"log/slog"

	"github.com/dripline/dripline/pkg/protocol"
)

type LogSender struct {
	logger *slog.Logger
}

func NewLogSender(logger *slog.Logger) *LogSender {
	return &LogSender{
		logger: logger.With("module", "email"),
	}
}

func (s *LogSender) Send(ctx context.Context, message protocol.EmailMessage) error {
	s.logger.InfoContext(ctx, "Email delivered to log",
		"to", message.To,
		"from", message.FromEmail,
		"subject", message.Subject,
		"idempotency_key", message.IdempotencyKey,
	)

	return nil
}
