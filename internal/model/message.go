package model

import (
	"time"

	"github.com/google/uuid"
)

type MessageStatus string

const (
	MessageStatusPending    MessageStatus = "pending"
	MessageStatusProcessing MessageStatus = "processing"
	MessageStatusSent       MessageStatus = "sent"
	MessageStatusFailed     MessageStatus = "failed"
)

func (s MessageStatus) Terminal() bool {
	return s == MessageStatusSent || s == MessageStatusFailed
}

// QueuedMessage is one individual send attempt record, the unit of retry and
// failure tracking. A message that enters processing resolves to sent or
// failed; it never reverts to pending.
type QueuedMessage struct {
	ID                uuid.UUID     `db:"id" json:"id"`
	UserID            uuid.UUID     `db:"user_id" json:"user_id"`
	BroadcastID       *uuid.UUID    `db:"broadcast_id" json:"broadcast_id,omitempty"`
	RecipientPhone    string        `db:"recipient_phone" json:"recipient_phone"`
	Content           string        `db:"content" json:"content"`
	MediaURL          string        `db:"media_url" json:"media_url,omitempty"`
	Status            MessageStatus `db:"status" json:"status"`
	Attempts          int           `db:"attempts" json:"attempts"`
	ErrorMessage      string        `db:"error_message" json:"error_message,omitempty"`
	ProviderMessageID string        `db:"provider_message_id" json:"provider_message_id,omitempty"`
	SentAt            *time.Time    `db:"sent_at" json:"sent_at,omitempty"`
	CreatedAt         time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time     `db:"updated_at" json:"updated_at"`
}

type DeliveryStatusKind string

const (
	DeliveryStatusSent      DeliveryStatusKind = "sent"
	DeliveryStatusDelivered DeliveryStatusKind = "delivered"
	DeliveryStatusRead      DeliveryStatusKind = "read"
	DeliveryStatusFailed    DeliveryStatusKind = "failed"
)

func (k DeliveryStatusKind) Valid() bool {
	switch k {
	case DeliveryStatusSent, DeliveryStatusDelivered, DeliveryStatusRead, DeliveryStatusFailed:
		return true
	}
	return false
}

// DeliveryStatusRecord is an append-only receipt event for a queued message.
// Records are inserted in arrival order, which may not match causal order;
// the latest record defines the externally visible delivery state.
type DeliveryStatusRecord struct {
	ID         uuid.UUID          `db:"id" json:"id"`
	MessageID  uuid.UUID          `db:"message_id" json:"message_id"`
	Kind       DeliveryStatusKind `db:"kind" json:"kind"`
	RawPayload []byte             `db:"raw_payload" json:"raw_payload,omitempty"`
	CreatedAt  time.Time          `db:"created_at" json:"created_at"`
}
