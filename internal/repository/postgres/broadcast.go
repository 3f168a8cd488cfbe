package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/gatherhq/messaging-api/internal/model"
	"github.com/gatherhq/messaging-api/internal/repository"
)

type broadcastRepository struct {
	db *sqlx.DB
}

func NewBroadcastRepository(db *sqlx.DB) repository.BroadcastRepository {
	return &broadcastRepository{db: db}
}

const broadcastColumns = `
	id, user_id, name, event_id, template_id, body, status,
	total_recipients, sent_count, delivered_count, read_count, failed_count,
	scheduled_for, created_at, updated_at
`

func (r *broadcastRepository) Create(ctx context.Context, b *model.Broadcast) error {
	query := `
		INSERT INTO broadcasts (
			id, user_id, name, event_id, template_id, body, status,
			total_recipients, sent_count, delivered_count, read_count,
			failed_count, scheduled_for, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	b.CreatedAt = time.Now()
	b.UpdatedAt = b.CreatedAt

	_, err := r.db.ExecContext(ctx, query,
		b.ID, b.UserID, b.Name, b.EventID, b.TemplateID, b.Body, b.Status,
		b.TotalRecipients, b.SentCount, b.DeliveredCount, b.ReadCount,
		b.FailedCount, b.ScheduledFor, b.CreatedAt, b.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create broadcast: %w", err)
	}
	return nil
}

func (r *broadcastRepository) Get(ctx context.Context, id uuid.UUID) (*model.Broadcast, error) {
	query := `SELECT ` + broadcastColumns + ` FROM broadcasts WHERE id = $1`

	var b model.Broadcast
	err := r.db.GetContext(ctx, &b, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get broadcast: %w", err)
	}
	return &b, nil
}

func (r *broadcastRepository) List(ctx context.Context, userID uuid.UUID) ([]*model.Broadcast, error) {
	query := `
		SELECT ` + broadcastColumns + `
		FROM broadcasts
		WHERE user_id = $1
		ORDER BY created_at DESC
	`
	var broadcasts []*model.Broadcast
	err := r.db.SelectContext(ctx, &broadcasts, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list broadcasts: %w", err)
	}
	return broadcasts, nil
}

// BeginExpansion fixes total_recipients once and advances the status. The
// guard on total_recipients = 0 makes re-expansion a no-op failure instead
// of silently resetting totals.
func (r *broadcastRepository) BeginExpansion(ctx context.Context, id uuid.UUID, total int, status model.BroadcastStatus, scheduledFor *time.Time) error {
	query := `
		UPDATE broadcasts
		SET total_recipients = $1, status = $2, scheduled_for = $3, updated_at = now()
		WHERE id = $4
		AND total_recipients = 0
		AND status IN ('draft')
	`
	result, err := r.db.ExecContext(ctx, query, total, status, scheduledFor, id)
	if err != nil {
		return fmt.Errorf("failed to begin expansion: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("broadcast %s cannot be expanded", id)
	}
	return nil
}

// UpdateStatus only ever advances the lifecycle; the rank check mirrors
// model.BroadcastStatus.CanTransitionTo at the SQL level.
func (r *broadcastRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status model.BroadcastStatus) error {
	query := `
		UPDATE broadcasts
		SET status = $1, updated_at = now()
		WHERE id = $2
		AND CASE status
			WHEN 'draft' THEN 0
			WHEN 'scheduled' THEN 1
			WHEN 'pending' THEN 2
			WHEN 'processing' THEN 3
			WHEN 'sent' THEN 4
			ELSE 5
		END < CASE $1
			WHEN 'draft' THEN 0
			WHEN 'scheduled' THEN 1
			WHEN 'pending' THEN 2
			WHEN 'processing' THEN 3
			WHEN 'sent' THEN 4
			ELSE 5
		END
	`
	result, err := r.db.ExecContext(ctx, query, status, id)
	if err != nil {
		return fmt.Errorf("failed to update broadcast status: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("broadcast %s status cannot move to %s", id, status)
	}
	return nil
}

// Counter increments are guarded so sent+failed can never exceed
// total_recipients, even under concurrent drains of the same broadcast.
func (r *broadcastRepository) IncrementSent(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE broadcasts
		SET sent_count = sent_count + 1, updated_at = now()
		WHERE id = $1 AND sent_count + failed_count < total_recipients
	`
	return r.increment(ctx, query, id, "sent_count")
}

func (r *broadcastRepository) IncrementFailed(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE broadcasts
		SET failed_count = failed_count + 1, updated_at = now()
		WHERE id = $1 AND sent_count + failed_count < total_recipients
	`
	return r.increment(ctx, query, id, "failed_count")
}

func (r *broadcastRepository) IncrementDelivered(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE broadcasts
		SET delivered_count = delivered_count + 1, updated_at = now()
		WHERE id = $1 AND delivered_count < total_recipients
	`
	return r.increment(ctx, query, id, "delivered_count")
}

func (r *broadcastRepository) IncrementRead(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE broadcasts
		SET read_count = read_count + 1, updated_at = now()
		WHERE id = $1 AND read_count < total_recipients
	`
	return r.increment(ctx, query, id, "read_count")
}

func (r *broadcastRepository) increment(ctx context.Context, query string, id uuid.UUID, counter string) error {
	_, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to increment %s: %w", counter, err)
	}
	return nil
}

func (r *broadcastRepository) ListDueScheduled(ctx context.Context, now time.Time, limit int) ([]*model.Broadcast, error) {
	query := `
		SELECT ` + broadcastColumns + `
		FROM broadcasts
		WHERE status = 'scheduled' AND scheduled_for <= $1
		ORDER BY scheduled_for ASC
		LIMIT $2
	`
	var broadcasts []*model.Broadcast
	err := r.db.SelectContext(ctx, &broadcasts, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list due scheduled broadcasts: %w", err)
	}
	return broadcasts, nil
}

func (r *broadcastRepository) ListProcessing(ctx context.Context, limit int) ([]*model.Broadcast, error) {
	query := `
		SELECT ` + broadcastColumns + `
		FROM broadcasts
		WHERE status = 'processing'
		ORDER BY updated_at ASC
		LIMIT $1
	`
	var broadcasts []*model.Broadcast
	err := r.db.SelectContext(ctx, &broadcasts, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list processing broadcasts: %w", err)
	}
	return broadcasts, nil
}
