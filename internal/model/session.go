package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

type SessionStatus string

const (
	SessionStatusDisconnected SessionStatus = "disconnected"
	SessionStatusConnecting   SessionStatus = "connecting"
	SessionStatusConnected    SessionStatus = "connected"
	SessionStatusError        SessionStatus = "error"
)

type ConnectionKind string

const (
	ConnectionKindWeb         ConnectionKind = "web"
	ConnectionKindBusinessAPI ConnectionKind = "business_api"
)

func (k ConnectionKind) Valid() bool {
	return k == ConnectionKindWeb || k == ConnectionKindBusinessAPI
}

// Capability names a content type the channel session may send.
type Capability string

const (
	CapabilityText     Capability = "text"
	CapabilityImage    Capability = "image"
	CapabilityVideo    Capability = "video"
	CapabilityAudio    Capability = "audio"
	CapabilityDocument Capability = "document"
	CapabilityTemplate Capability = "template"
)

// Session is a user's linkage to the chat channel. Rows are never hard
// deleted; lifecycle changes are status updates only.
type Session struct {
	ID                 uuid.UUID      `db:"id" json:"id"`
	UserID             uuid.UUID      `db:"user_id" json:"user_id"`
	Kind               ConnectionKind `db:"kind" json:"kind"`
	Status             SessionStatus  `db:"status" json:"status"`
	ProviderPayload    string         `db:"provider_payload" json:"-"`
	HandshakeArtifact  string         `db:"handshake_artifact" json:"handshake_artifact,omitempty"`
	DisplayName        string         `db:"display_name" json:"display_name,omitempty"`
	PhoneNumber        string         `db:"phone_number" json:"phone_number,omitempty"`
	Capabilities       pq.StringArray `db:"capabilities" json:"capabilities"`
	ConnectionAttempts int            `db:"connection_attempts" json:"connection_attempts"`
	LastConnectedAt    *time.Time     `db:"last_connected_at" json:"last_connected_at,omitempty"`
	CreatedAt          time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time      `db:"updated_at" json:"updated_at"`
}

func (s *Session) IsConnected() bool {
	return s.Status == SessionStatusConnected
}
