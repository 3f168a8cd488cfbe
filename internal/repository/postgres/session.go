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

type sessionRepository struct {
	db *sqlx.DB
}

func NewSessionRepository(db *sqlx.DB) repository.SessionRepository {
	return &sessionRepository{db: db}
}

const sessionColumns = `
	id, user_id, kind, status, provider_payload, handshake_artifact,
	display_name, phone_number, capabilities, connection_attempts,
	last_connected_at, created_at, updated_at
`

func (r *sessionRepository) Create(ctx context.Context, session *model.Session) error {
	query := `
		INSERT INTO channel_sessions (
			id, user_id, kind, status, provider_payload, handshake_artifact,
			display_name, phone_number, capabilities, connection_attempts,
			last_connected_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	if session.ID == uuid.Nil {
		session.ID = uuid.New()
	}
	session.CreatedAt = time.Now()
	session.UpdatedAt = session.CreatedAt

	_, err := r.db.ExecContext(ctx, query,
		session.ID,
		session.UserID,
		session.Kind,
		session.Status,
		session.ProviderPayload,
		session.HandshakeArtifact,
		session.DisplayName,
		session.PhoneNumber,
		session.Capabilities,
		session.ConnectionAttempts,
		session.LastConnectedAt,
		session.CreatedAt,
		session.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

func (r *sessionRepository) Update(ctx context.Context, session *model.Session) error {
	query := `
		UPDATE channel_sessions
		SET kind = $1, status = $2, provider_payload = $3,
			handshake_artifact = $4, display_name = $5, phone_number = $6,
			capabilities = $7, connection_attempts = $8,
			last_connected_at = $9, updated_at = $10
		WHERE id = $11
	`
	session.UpdatedAt = time.Now()

	result, err := r.db.ExecContext(ctx, query,
		session.Kind,
		session.Status,
		session.ProviderPayload,
		session.HandshakeArtifact,
		session.DisplayName,
		session.PhoneNumber,
		session.Capabilities,
		session.ConnectionAttempts,
		session.LastConnectedAt,
		session.UpdatedAt,
		session.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *sessionRepository) Get(ctx context.Context, id uuid.UUID) (*model.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM channel_sessions WHERE id = $1`

	var session model.Session
	err := r.db.GetContext(ctx, &session, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return &session, nil
}

func (r *sessionRepository) GetLatestByUser(ctx context.Context, userID uuid.UUID) (*model.Session, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM channel_sessions
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`
	var session model.Session
	err := r.db.GetContext(ctx, &session, query, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session for user: %w", err)
	}
	return &session, nil
}

func (r *sessionRepository) GetConnected(ctx context.Context, userID uuid.UUID) (*model.Session, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM channel_sessions
		WHERE user_id = $1 AND status = $2
		ORDER BY created_at DESC
		LIMIT 1
	`
	var session model.Session
	err := r.db.GetContext(ctx, &session, query, userID, model.SessionStatusConnected)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get connected session: %w", err)
	}
	return &session, nil
}

func (r *sessionRepository) ListByStatus(ctx context.Context, status model.SessionStatus, limit int) ([]*model.Session, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM channel_sessions
		WHERE status = $1
		ORDER BY updated_at ASC
		LIMIT $2
	`
	var sessions []*model.Session
	err := r.db.SelectContext(ctx, &sessions, query, status, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return sessions, nil
}
