package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gatherhq/messaging-api/internal/model"
)

// Config configures the HTTP gateway client.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// HTTPGateway talks to the channel provider over its REST surface.
type HTTPGateway struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewHTTPGateway(cfg Config) *HTTPGateway {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPGateway{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: timeout},
	}
}

type initRequest struct {
	Kind string `json:"kind"`
}

type initResponse struct {
	SessionID string `json:"sessionId"`
	QRCode    string `json:"qrCode,omitempty"`
	Confirmed bool   `json:"confirmed,omitempty"`
}

func (g *HTTPGateway) InitializeConnection(ctx context.Context, kind model.ConnectionKind) (*ConnectResult, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidConnectionKind, kind)
	}

	var resp initResponse
	if err := g.do(ctx, http.MethodPost, "/v1/sessions", initRequest{Kind: string(kind)}, &resp); err != nil {
		return nil, err
	}
	if resp.SessionID == "" {
		return nil, fmt.Errorf("%w: missing sessionId in handshake response", ErrProviderUnavailable)
	}

	return &ConnectResult{
		SessionID: resp.SessionID,
		Handshake: resp.QRCode,
		Confirmed: resp.Confirmed,
	}, nil
}

type statusResponse struct {
	Status        string     `json:"status"`
	DisplayName   string     `json:"displayName,omitempty"`
	PhoneNumber   string     `json:"phoneNumber,omitempty"`
	LastConnected *time.Time `json:"lastConnected,omitempty"`
}

// CheckStatus never fails for a session the provider does not know about; an
// unknown session reports disconnected.
func (g *HTTPGateway) CheckStatus(ctx context.Context, sessionID string) (*StatusResult, error) {
	var resp statusResponse
	err := g.do(ctx, http.MethodGet, "/v1/sessions/"+sessionID, nil, &resp)
	if err != nil {
		if isNotFound(err) {
			return &StatusResult{Status: model.SessionStatusDisconnected}, nil
		}
		return nil, err
	}

	status := model.SessionStatus(resp.Status)
	switch status {
	case model.SessionStatusConnecting, model.SessionStatusConnected, model.SessionStatusError:
	default:
		status = model.SessionStatusDisconnected
	}

	return &StatusResult{
		Status:        status,
		DisplayName:   resp.DisplayName,
		PhoneNumber:   resp.PhoneNumber,
		LastConnected: resp.LastConnected,
	}, nil
}

type sendRequest struct {
	SessionID string `json:"sessionId"`
	Phone     string `json:"phone"`
	Content   string `json:"content"`
	MediaURL  string `json:"mediaUrl,omitempty"`
}

type sendResponse struct {
	MessageID string `json:"messageId"`
	Status    string `json:"status"`
}

func (g *HTTPGateway) SendMessage(ctx context.Context, sessionID, recipientPhone, content, mediaURL string) (*SendResult, error) {
	if !ValidPhone(recipientPhone) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRecipient, recipientPhone)
	}

	var resp sendResponse
	err := g.do(ctx, http.MethodPost, "/v1/messages", sendRequest{
		SessionID: sessionID,
		Phone:     recipientPhone,
		Content:   content,
		MediaURL:  mediaURL,
	}, &resp)
	if err != nil {
		return nil, err
	}
	if resp.MessageID == "" {
		return nil, fmt.Errorf("%w: missing messageId in response", ErrProviderSend)
	}

	return &SendResult{ProviderMessageID: resp.MessageID, Status: resp.Status}, nil
}

// Disconnect is idempotent; tearing down an already-disconnected session
// succeeds.
func (g *HTTPGateway) Disconnect(ctx context.Context, sessionID string) error {
	err := g.do(ctx, http.MethodDelete, "/v1/sessions/"+sessionID, nil, nil)
	if err != nil && isNotFound(err) {
		return nil
	}
	return err
}

type httpStatusError struct {
	code int
	body string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("provider returned status %d body=%q", e.code, e.body)
}

func isNotFound(err error) bool {
	se, ok := err.(*statusErrorWrapper)
	return ok && se.status.code == http.StatusNotFound
}

// statusErrorWrapper pairs a sentinel with the underlying HTTP detail so
// callers can use errors.Is while logs keep the raw status.
type statusErrorWrapper struct {
	sentinel error
	status   httpStatusError
}

func (e *statusErrorWrapper) Error() string {
	return fmt.Sprintf("%v: %s", e.sentinel, e.status.Error())
}

func (e *statusErrorWrapper) Unwrap() error { return e.sentinel }

func (g *HTTPGateway) do(ctx context.Context, method, path string, reqBody, respBody interface{}) error {
	var body io.Reader
	if reqBody != nil {
		raw, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if g.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.apiKey)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)

	if resp.StatusCode >= 400 {
		status := httpStatusError{code: resp.StatusCode, body: string(raw)}
		switch resp.StatusCode {
		case http.StatusNotFound:
			return &statusErrorWrapper{sentinel: ErrProviderSend, status: status}
		case http.StatusConflict, http.StatusPreconditionFailed:
			return &statusErrorWrapper{sentinel: ErrSessionNotConnected, status: status}
		case http.StatusUnprocessableEntity:
			return &statusErrorWrapper{sentinel: ErrInvalidRecipient, status: status}
		case http.StatusServiceUnavailable, http.StatusBadGateway, http.StatusGatewayTimeout:
			return &statusErrorWrapper{sentinel: ErrProviderUnavailable, status: status}
		default:
			return &statusErrorWrapper{sentinel: ErrProviderSend, status: status}
		}
	}

	if respBody != nil {
		if err := json.Unmarshal(raw, respBody); err != nil {
			return fmt.Errorf("failed to decode response: %w body=%q", err, string(raw))
		}
	}
	return nil
}
