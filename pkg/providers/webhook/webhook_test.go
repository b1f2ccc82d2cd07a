package webhook

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dripline/dripline/pkg/protocol"
)

func TestCaller_Call(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	var (
		gotKey  string
		gotBody map[string]any
	)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-Idempotency-Key")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	caller := NewCaller(logger)

	err := caller.Call(context.Background(), protocol.WebhookCall{
		URL:            server.URL,
		Payload:        map[string]any{"contact_id": "c1"},
		IdempotencyKey: "task-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "task-1", gotKey)
	assert.Equal(t, "c1", gotBody["contact_id"])
}

func TestCaller_Call_ServerError(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	caller := NewCaller(logger)

	err := caller.Call(context.Background(), protocol.WebhookCall{URL: server.URL})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 500")
}
