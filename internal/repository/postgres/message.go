package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/gatherhq/messaging-api/internal/model"
	"github.com/gatherhq/messaging-api/internal/repository"
)

type messageRepository struct {
	db *sqlx.DB
}

func NewMessageRepository(db *sqlx.DB) repository.MessageRepository {
	return &messageRepository{db: db}
}

const messageColumns = `
	id, user_id, broadcast_id, recipient_phone, content, media_url, status,
	attempts, error_message, provider_message_id, sent_at, created_at, updated_at
`

func (r *messageRepository) Create(ctx context.Context, msg *model.QueuedMessage) error {
	query := `
		INSERT INTO queued_messages (
			id, user_id, broadcast_id, recipient_phone, content, media_url,
			status, attempts, error_message, provider_message_id, sent_at,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	msg.CreatedAt = time.Now()
	msg.UpdatedAt = msg.CreatedAt

	_, err := r.db.ExecContext(ctx, query,
		msg.ID, msg.UserID, msg.BroadcastID, msg.RecipientPhone, msg.Content,
		msg.MediaURL, msg.Status, msg.Attempts, msg.ErrorMessage,
		msg.ProviderMessageID, msg.SentAt, msg.CreatedAt, msg.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create queued message: %w", err)
	}
	return nil
}

func (r *messageRepository) Get(ctx context.Context, id uuid.UUID) (*model.QueuedMessage, error) {
	query := `SELECT ` + messageColumns + ` FROM queued_messages WHERE id = $1`

	var msg model.QueuedMessage
	err := r.db.GetContext(ctx, &msg, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get queued message: %w", err)
	}
	return &msg, nil
}

func (r *messageRepository) GetByProviderMessageID(ctx context.Context, providerMessageID string) (*model.QueuedMessage, error) {
	query := `SELECT ` + messageColumns + ` FROM queued_messages WHERE provider_message_id = $1`

	var msg model.QueuedMessage
	err := r.db.GetContext(ctx, &msg, query, providerMessageID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get message by provider id: %w", err)
	}
	return &msg, nil
}

// ClaimPending flips pending rows to processing with an attempt increment in
// one statement, so a message is claimed by exactly one drain even when
// batches run concurrently. Rows already terminal are left untouched.
func (r *messageRepository) ClaimPending(ctx context.Context, ids []uuid.UUID) ([]*model.QueuedMessage, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	query := `
		UPDATE queued_messages
		SET status = 'processing', attempts = attempts + 1, updated_at = now()
		WHERE id = ANY($1) AND status = 'pending'
		RETURNING ` + messageColumns

	var msgs []*model.QueuedMessage
	err := r.db.SelectContext(ctx, &msgs, query, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("failed to claim pending messages: %w", err)
	}

	sortByCreatedAt(msgs)
	return msgs, nil
}

func (r *messageRepository) ClaimPendingBatch(ctx context.Context, limit int) ([]*model.QueuedMessage, error) {
	if limit <= 0 {
		return nil, errors.New("limit must be > 0")
	}

	query := `
		UPDATE queued_messages
		SET status = 'processing', attempts = attempts + 1, updated_at = now()
		WHERE id IN (
			SELECT m.id
			FROM queued_messages m
			LEFT JOIN broadcasts b ON b.id = m.broadcast_id
			WHERE m.status = 'pending'
			AND (m.broadcast_id IS NULL OR b.status NOT IN ('draft', 'scheduled'))
			ORDER BY m.created_at ASC
			FOR UPDATE OF m SKIP LOCKED
			LIMIT $1
		)
		RETURNING ` + messageColumns

	var msgs []*model.QueuedMessage
	err := r.db.SelectContext(ctx, &msgs, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to claim pending batch: %w", err)
	}

	sortByCreatedAt(msgs)
	return msgs, nil
}

func (r *messageRepository) ReclaimStale(ctx context.Context, cutoff time.Time, limit int) ([]*model.QueuedMessage, error) {
	if limit <= 0 {
		return nil, errors.New("limit must be > 0")
	}

	query := `
		UPDATE queued_messages
		SET attempts = attempts + 1, updated_at = now()
		WHERE id IN (
			SELECT id
			FROM queued_messages
			WHERE status = 'processing' AND updated_at <= $1
			ORDER BY created_at ASC
			FOR UPDATE SKIP LOCKED
			LIMIT $2
		)
		RETURNING ` + messageColumns

	var msgs []*model.QueuedMessage
	err := r.db.SelectContext(ctx, &msgs, query, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to reclaim stale messages: %w", err)
	}

	sortByCreatedAt(msgs)
	return msgs, nil
}

// MarkRetry records another delivery attempt on a message that stays in
// processing; reverting processing to pending is not allowed.
func (r *messageRepository) MarkRetry(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE queued_messages
		SET attempts = attempts + 1, updated_at = now()
		WHERE id = $1 AND status = 'processing'
	`
	_, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to mark retry: %w", err)
	}
	return nil
}

func (r *messageRepository) MarkSent(ctx context.Context, id uuid.UUID, providerMessageID string) error {
	query := `
		UPDATE queued_messages
		SET status = 'sent', provider_message_id = $2, sent_at = now(), updated_at = now()
		WHERE id = $1 AND status = 'processing'
	`
	_, err := r.db.ExecContext(ctx, query, id, providerMessageID)
	if err != nil {
		return fmt.Errorf("failed to mark message sent: %w", err)
	}
	return nil
}

func (r *messageRepository) MarkFailed(ctx context.Context, id uuid.UUID, reason string) error {
	query := `
		UPDATE queued_messages
		SET status = 'failed', error_message = $2, updated_at = now()
		WHERE id = $1 AND status = 'processing'
	`
	_, err := r.db.ExecContext(ctx, query, id, reason)
	if err != nil {
		return fmt.Errorf("failed to mark message failed: %w", err)
	}
	return nil
}

func (r *messageRepository) CountPending(ctx context.Context) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM queued_messages WHERE status = 'pending'`)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending messages: %w", err)
	}
	return count, nil
}

func (r *messageRepository) CountNonTerminal(ctx context.Context, broadcastID uuid.UUID) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM queued_messages
		WHERE broadcast_id = $1 AND status NOT IN ('sent', 'failed')
	`
	var count int
	err := r.db.GetContext(ctx, &count, query, broadcastID)
	if err != nil {
		return 0, fmt.Errorf("failed to count non-terminal messages: %w", err)
	}
	return count, nil
}

// AppendDeliveryStatus inserts a receipt row; records are never updated or
// deleted after insert.
func (r *messageRepository) AppendDeliveryStatus(ctx context.Context, rec *model.DeliveryStatusRecord) error {
	query := `
		INSERT INTO delivery_status_records (id, message_id, kind, raw_payload, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	rec.CreatedAt = time.Now()

	_, err := r.db.ExecContext(ctx, query, rec.ID, rec.MessageID, rec.Kind, rec.RawPayload, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to append delivery status: %w", err)
	}
	return nil
}

func (r *messageRepository) ListDeliveryStatuses(ctx context.Context, messageID uuid.UUID) ([]*model.DeliveryStatusRecord, error) {
	query := `
		SELECT id, message_id, kind, raw_payload, created_at
		FROM delivery_status_records
		WHERE message_id = $1
		ORDER BY created_at ASC
	`
	var records []*model.DeliveryStatusRecord
	err := r.db.SelectContext(ctx, &records, query, messageID)
	if err != nil {
		return nil, fmt.Errorf("failed to list delivery statuses: %w", err)
	}
	return records, nil
}

// RETURNING does not guarantee order; drains must attempt in enqueue order.
func sortByCreatedAt(msgs []*model.QueuedMessage) {
	sort.Slice(msgs, func(i, j int) bool {
		return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
	})
}
