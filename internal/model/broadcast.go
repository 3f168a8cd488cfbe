package model

import (
	"time"

	"github.com/google/uuid"
)

type BroadcastStatus string

const (
	BroadcastStatusDraft      BroadcastStatus = "draft"
	BroadcastStatusScheduled  BroadcastStatus = "scheduled"
	BroadcastStatusPending    BroadcastStatus = "pending"
	BroadcastStatusProcessing BroadcastStatus = "processing"
	BroadcastStatusSent       BroadcastStatus = "sent"
	BroadcastStatusCompleted  BroadcastStatus = "completed"
	BroadcastStatusFailed     BroadcastStatus = "failed"
)

// broadcastStatusRank orders statuses so transitions only ever move forward.
var broadcastStatusRank = map[BroadcastStatus]int{
	BroadcastStatusDraft:      0,
	BroadcastStatusScheduled:  1,
	BroadcastStatusPending:    2,
	BroadcastStatusProcessing: 3,
	BroadcastStatusSent:       4,
	BroadcastStatusCompleted:  5,
	BroadcastStatusFailed:     5,
}

// CanTransitionTo reports whether moving to the given status advances the
// lifecycle. Regressions are never allowed.
func (s BroadcastStatus) CanTransitionTo(next BroadcastStatus) bool {
	cur, ok := broadcastStatusRank[s]
	if !ok {
		return false
	}
	nxt, ok := broadcastStatusRank[next]
	if !ok {
		return false
	}
	return nxt > cur
}

// Broadcast is a named one-to-many send job. The four count fields are a
// denormalized projection of its queued messages, maintained with atomic
// increments; they are never recomputed by scanning on read.
type Broadcast struct {
	ID              uuid.UUID       `db:"id" json:"id"`
	UserID          uuid.UUID       `db:"user_id" json:"user_id"`
	Name            string          `db:"name" json:"name"`
	EventID         *uuid.UUID      `db:"event_id" json:"event_id,omitempty"`
	TemplateID      *uuid.UUID      `db:"template_id" json:"template_id,omitempty"`
	Body            string          `db:"body" json:"body,omitempty"`
	Status          BroadcastStatus `db:"status" json:"status"`
	TotalRecipients int             `db:"total_recipients" json:"total_recipients"`
	SentCount       int             `db:"sent_count" json:"sent_count"`
	DeliveredCount  int             `db:"delivered_count" json:"delivered_count"`
	ReadCount       int             `db:"read_count" json:"read_count"`
	FailedCount     int             `db:"failed_count" json:"failed_count"`
	ScheduledFor    *time.Time      `db:"scheduled_for" json:"scheduled_for,omitempty"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time       `db:"updated_at" json:"updated_at"`
}

// BroadcastProgress is the read model returned to callers polling a job.
type BroadcastProgress struct {
	BroadcastID uuid.UUID       `json:"broadcast_id"`
	Status      BroadcastStatus `json:"status"`
	Total       int             `json:"total"`
	Sent        int             `json:"sent"`
	Delivered   int             `json:"delivered"`
	Read        int             `json:"read"`
	Failed      int             `json:"failed"`
}

// Recipient is one target of a broadcast expansion: a phone number plus the
// field bag used to resolve template placeholders.
type Recipient struct {
	Phone  string            `json:"phone" binding:"required"`
	Fields map[string]string `json:"fields"`
}
