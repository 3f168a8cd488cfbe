// Package gateway is the sole point of contact with the external chat
// provider. It holds no business state; session and queue state live in
// their owning services.
package gateway

import (
	"context"
	"errors"
	"regexp"
	"time"

	"github.com/gatherhq/messaging-api/internal/model"
)

var (
	// ErrProviderUnavailable means the provider could not be reached at all.
	ErrProviderUnavailable = errors.New("channel provider unavailable")
	// ErrInvalidConnectionKind means the requested linkage kind is unsupported.
	ErrInvalidConnectionKind = errors.New("invalid connection kind")
	// ErrSessionNotConnected means a send was attempted on a session that is
	// not in connected state.
	ErrSessionNotConnected = errors.New("session not connected")
	// ErrInvalidRecipient means the recipient phone failed format validation.
	ErrInvalidRecipient = errors.New("invalid recipient phone number")
	// ErrProviderSend is a transport-level send failure; callers may retry.
	ErrProviderSend = errors.New("provider send error")
)

// Retryable reports whether the caller may retry the failed operation.
func Retryable(err error) bool {
	return errors.Is(err, ErrProviderSend) || errors.Is(err, ErrProviderUnavailable)
}

// ConnectResult is the outcome of a connection handshake request. For web
// linkage Handshake carries a scannable artifact; for business API linkage
// Confirmed is set and no artifact is returned.
type ConnectResult struct {
	SessionID string
	Handshake string
	Confirmed bool
}

// StatusResult is an idempotent status snapshot for a session.
type StatusResult struct {
	Status        model.SessionStatus
	DisplayName   string
	PhoneNumber   string
	LastConnected *time.Time
}

// SendResult is the provider acknowledgment of an accepted message.
type SendResult struct {
	ProviderMessageID string
	Status            string
}

// Gateway abstracts the external chat provider. Every call is stateless
// against the provider and bounded by the caller's context.
type Gateway interface {
	InitializeConnection(ctx context.Context, kind model.ConnectionKind) (*ConnectResult, error)
	CheckStatus(ctx context.Context, sessionID string) (*StatusResult, error)
	SendMessage(ctx context.Context, sessionID, recipientPhone, content, mediaURL string) (*SendResult, error)
	Disconnect(ctx context.Context, sessionID string) error
}

var phonePattern = regexp.MustCompile(`^\+?[0-9]{7,15}$`)

// ValidPhone reports whether phone passes E.164-style format validation.
func ValidPhone(phone string) bool {
	return phonePattern.MatchString(phone)
}
