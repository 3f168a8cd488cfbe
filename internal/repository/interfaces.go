package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/gatherhq/messaging-api/internal/model"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("not found")

// All repository interfaces in one file
type (
	// SessionRepository persists channel session lifecycle state. Sessions
	// are never hard-deleted; disconnects are status updates.
	SessionRepository interface {
		Create(ctx context.Context, session *model.Session) error
		Update(ctx context.Context, session *model.Session) error
		Get(ctx context.Context, id uuid.UUID) (*model.Session, error)
		// GetLatestByUser returns the user's most recent session row, or
		// ErrNotFound if the user never connected.
		GetLatestByUser(ctx context.Context, userID uuid.UUID) (*model.Session, error)
		// GetConnected returns the user's session only if it is connected.
		GetConnected(ctx context.Context, userID uuid.UUID) (*model.Session, error)
		ListByStatus(ctx context.Context, status model.SessionStatus, limit int) ([]*model.Session, error)
	}

	TemplateRepository interface {
		Create(ctx context.Context, tmpl *model.Template) error
		Get(ctx context.Context, id uuid.UUID) (*model.Template, error)
		Update(ctx context.Context, tmpl *model.Template) error
		Delete(ctx context.Context, id uuid.UUID) error
		List(ctx context.Context, userID uuid.UUID) ([]*model.Template, error)
	}

	BroadcastRepository interface {
		Create(ctx context.Context, b *model.Broadcast) error
		Get(ctx context.Context, id uuid.UUID) (*model.Broadcast, error)
		List(ctx context.Context, userID uuid.UUID) ([]*model.Broadcast, error)
		// BeginExpansion fixes total_recipients and advances the status in a
		// single statement; it fails if the current status cannot advance.
		BeginExpansion(ctx context.Context, id uuid.UUID, total int, status model.BroadcastStatus, scheduledFor *time.Time) error
		// UpdateStatus advances the broadcast status; regressions are
		// rejected at the SQL level.
		UpdateStatus(ctx context.Context, id uuid.UUID, status model.BroadcastStatus) error
		// The increment methods are atomic and guarded so counters can never
		// exceed total_recipients under concurrent drains.
		IncrementSent(ctx context.Context, id uuid.UUID) error
		IncrementFailed(ctx context.Context, id uuid.UUID) error
		IncrementDelivered(ctx context.Context, id uuid.UUID) error
		IncrementRead(ctx context.Context, id uuid.UUID) error
		ListDueScheduled(ctx context.Context, now time.Time, limit int) ([]*model.Broadcast, error)
		ListProcessing(ctx context.Context, limit int) ([]*model.Broadcast, error)
	}

	MessageRepository interface {
		Create(ctx context.Context, msg *model.QueuedMessage) error
		Get(ctx context.Context, id uuid.UUID) (*model.QueuedMessage, error)
		// GetByProviderMessageID resolves a sent message from the id the
		// provider assigned at send time. Used for delivery receipts.
		GetByProviderMessageID(ctx context.Context, providerMessageID string) (*model.QueuedMessage, error)
		// ClaimPending moves the given pending messages to processing,
		// incrementing attempts, and returns them in enqueue order. Messages
		// already terminal or claimed elsewhere are skipped.
		ClaimPending(ctx context.Context, ids []uuid.UUID) ([]*model.QueuedMessage, error)
		// ClaimPendingBatch claims up to limit drainable pending messages
		// across all users. Messages belonging to scheduled broadcasts that
		// are not yet due are not drainable.
		ClaimPendingBatch(ctx context.Context, limit int) ([]*model.QueuedMessage, error)
		// ReclaimStale re-claims processing messages that have not been
		// touched since cutoff, incrementing attempts. Covers drains that
		// died between claiming and resolving a message; a claimed message
		// never reverts to pending.
		ReclaimStale(ctx context.Context, cutoff time.Time, limit int) ([]*model.QueuedMessage, error)
		// MarkRetry increments attempts for another processing cycle without
		// reverting the message to pending.
		MarkRetry(ctx context.Context, id uuid.UUID) error
		MarkSent(ctx context.Context, id uuid.UUID, providerMessageID string) error
		MarkFailed(ctx context.Context, id uuid.UUID, reason string) error
		CountPending(ctx context.Context) (int, error)
		// CountNonTerminal reports how many of a broadcast's messages have
		// not yet reached sent or failed.
		CountNonTerminal(ctx context.Context, broadcastID uuid.UUID) (int, error)
		AppendDeliveryStatus(ctx context.Context, rec *model.DeliveryStatusRecord) error
		ListDeliveryStatuses(ctx context.Context, messageID uuid.UUID) ([]*model.DeliveryStatusRecord, error)
	}
)
