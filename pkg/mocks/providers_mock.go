// Package mocks provides testify mocks for the engine's collaborators.
package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/dripline/dripline/pkg/protocol"
)

// MockEmailSender is a mock implementation of protocol.EmailSender.
type MockEmailSender struct {
	mock.Mock
}

func (m *MockEmailSender) Send(ctx context.Context, message protocol.EmailMessage) error {
	args := m.Called(ctx, message)

	return args.Error(0)
}

// MockWebhookCaller is a mock implementation of protocol.WebhookCaller.
type MockWebhookCaller struct {
	mock.Mock
}

func (m *MockWebhookCaller) Call(ctx context.Context, call protocol.WebhookCall) error {
	args := m.Called(ctx, call)

	return args.Error(0)
}
