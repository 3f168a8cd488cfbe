package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatherhq/messaging-api/internal/model"
)

func newTestGateway(t *testing.T, handler http.HandlerFunc) *HTTPGateway {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewHTTPGateway(Config{BaseURL: srv.URL, APIKey: "test-key"})
}

func TestInitializeConnection_Web(t *testing.T) {
	gw := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/sessions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "web", req["kind"])

		_ = json.NewEncoder(w).Encode(map[string]any{
			"sessionId": "sess-123",
			"qrCode":    "data:image/png;base64,abc",
		})
	})

	res, err := gw.InitializeConnection(context.Background(), model.ConnectionKindWeb)
	require.NoError(t, err)
	assert.Equal(t, "sess-123", res.SessionID)
	assert.Equal(t, "data:image/png;base64,abc", res.Handshake)
	assert.False(t, res.Confirmed)
}

func TestInitializeConnection_InvalidKind(t *testing.T) {
	gw := NewHTTPGateway(Config{BaseURL: "http://unused"})

	_, err := gw.InitializeConnection(context.Background(), "fax")
	require.ErrorIs(t, err, ErrInvalidConnectionKind)
}

func TestCheckStatus_UnknownSessionReportsDisconnected(t *testing.T) {
	gw := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	res, err := gw.CheckStatus(context.Background(), "gone")
	require.NoError(t, err)
	assert.Equal(t, model.SessionStatusDisconnected, res.Status)
}

func TestCheckStatus_Connected(t *testing.T) {
	gw := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/sessions/sess-123", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":      "connected",
			"displayName": "Ana",
			"phoneNumber": "+361234567",
		})
	})

	res, err := gw.CheckStatus(context.Background(), "sess-123")
	require.NoError(t, err)
	assert.Equal(t, model.SessionStatusConnected, res.Status)
	assert.Equal(t, "Ana", res.DisplayName)
	assert.Equal(t, "+361234567", res.PhoneNumber)
}

func TestSendMessage_MapsProviderErrors(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		expected error
	}{
		{"session not connected on 409", http.StatusConflict, ErrSessionNotConnected},
		{"session not connected on 412", http.StatusPreconditionFailed, ErrSessionNotConnected},
		{"invalid recipient on 422", http.StatusUnprocessableEntity, ErrInvalidRecipient},
		{"unavailable on 502", http.StatusBadGateway, ErrProviderUnavailable},
		{"unavailable on 503", http.StatusServiceUnavailable, ErrProviderUnavailable},
		{"send error on 500", http.StatusInternalServerError, ErrProviderSend},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			})

			_, err := gw.SendMessage(context.Background(), "sess-123", "+361234567", "hello", "")
			require.ErrorIs(t, err, tt.expected)
		})
	}
}

func TestSendMessage_Accepted(t *testing.T) {
	gw := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"messageId": "pm-42",
			"status":    "queued",
		})
	})

	res, err := gw.SendMessage(context.Background(), "sess-123", "+361234567", "hello", "")
	require.NoError(t, err)
	assert.Equal(t, "pm-42", res.ProviderMessageID)
	assert.Equal(t, "queued", res.Status)
}

func TestSendMessage_RejectsMalformedPhoneLocally(t *testing.T) {
	called := false
	gw := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		called = true
	})

	_, err := gw.SendMessage(context.Background(), "sess-123", "not-a-phone", "hello", "")
	require.ErrorIs(t, err, ErrInvalidRecipient)
	assert.False(t, called, "malformed phone must not reach the provider")
}

func TestDisconnect_IdempotentOnUnknownSession(t *testing.T) {
	gw := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		w.WriteHeader(http.StatusNotFound)
	})

	assert.NoError(t, gw.Disconnect(context.Background(), "gone"))
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(ErrProviderSend))
	assert.True(t, Retryable(ErrProviderUnavailable))
	assert.False(t, Retryable(ErrInvalidRecipient))
	assert.False(t, Retryable(ErrSessionNotConnected))
	assert.False(t, Retryable(nil))
}

func TestValidPhone(t *testing.T) {
	assert.True(t, ValidPhone("+361234567"))
	assert.True(t, ValidPhone("36123456789"))
	assert.False(t, ValidPhone(""))
	assert.False(t, ValidPhone("+36 123"))
	assert.False(t, ValidPhone("123"))
	assert.False(t, ValidPhone("abcdefgh"))
}
