package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog/log"

	"github.com/gatherhq/messaging-api/internal/gateway"
	"github.com/gatherhq/messaging-api/internal/model"
	"github.com/gatherhq/messaging-api/internal/repository"
	apperrors "github.com/gatherhq/messaging-api/pkg/errors"
	"github.com/gatherhq/messaging-api/pkg/messaging"
)

// statusCacheTTL bounds how often PollOnce actually hits the provider when
// callers poll aggressively.
const statusCacheTTL = 2 * time.Second

// Service owns the connection lifecycle of a user's channel session:
// disconnected -> connecting -> connected, with error and disconnect edges.
// Session rows are mutated here and nowhere else.
type Service struct {
	repo        repository.SessionRepository
	gw          gateway.Gateway
	broker      messaging.Broker
	statusCache *cache.Cache
}

func NewService(repo repository.SessionRepository, gw gateway.Gateway, broker messaging.Broker) *Service {
	return &Service{
		repo:        repo,
		gw:          gw,
		broker:      broker,
		statusCache: cache.New(statusCacheTTL, time.Minute),
	}
}

// StartConnection requests a new linkage with the channel provider. A user
// with a session already in connecting must wait for it to resolve. Provider
// failures surface to the caller without corrupting persisted state.
func (s *Service) StartConnection(ctx context.Context, userID uuid.UUID, kind model.ConnectionKind) (*model.Session, error) {
	if !kind.Valid() {
		return nil, apperrors.BadRequest(fmt.Sprintf("invalid connection kind %q", kind), nil)
	}

	existing, err := s.repo.GetLatestByUser(ctx, userID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	if existing != nil && existing.Status == model.SessionStatusConnecting {
		return nil, apperrors.Precondition("a connection attempt is already in progress", nil)
	}

	res, err := s.gw.InitializeConnection(ctx, kind)
	if err != nil {
		if errors.Is(err, gateway.ErrInvalidConnectionKind) {
			return nil, apperrors.BadRequest("invalid connection kind", err)
		}
		return nil, apperrors.Unavailable("channel provider unreachable", err)
	}

	sess := existing
	if sess == nil {
		sess = &model.Session{
			ID:     uuid.New(),
			UserID: userID,
		}
	}

	sess.Kind = kind
	sess.ProviderPayload = res.SessionID
	sess.HandshakeArtifact = res.Handshake
	sess.ConnectionAttempts++
	sess.Capabilities = defaultCapabilities(kind)

	if res.Confirmed {
		// Pre-authorized linkage connects without a handshake scan.
		now := time.Now()
		sess.Status = model.SessionStatusConnected
		sess.HandshakeArtifact = ""
		sess.LastConnectedAt = &now
	} else {
		sess.Status = model.SessionStatusConnecting
	}

	if existing == nil {
		err = s.repo.Create(ctx, sess)
	} else {
		err = s.repo.Update(ctx, sess)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to persist session: %w", err)
	}

	s.publish(ctx, "session.connection_started", sess)
	return sess, nil
}

// PollOnce reconciles the persisted session against the provider. It is
// idempotent: polling a session that has not changed persists nothing, and
// transient provider errors are logged and treated as no change.
func (s *Service) PollOnce(ctx context.Context, userID uuid.UUID) (*model.Session, error) {
	sess, err := s.repo.GetLatestByUser(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NotFound("session", err)
		}
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	if sess.Status == model.SessionStatusDisconnected || sess.ProviderPayload == "" {
		return sess, nil
	}

	status, err := s.checkStatus(ctx, sess)
	if err != nil {
		log.Warn().Err(err).Str("session_id", sess.ID.String()).Msg("session status poll failed, keeping current state")
		return sess, nil
	}

	return s.applyStatus(ctx, sess, status)
}

func (s *Service) checkStatus(ctx context.Context, sess *model.Session) (*gateway.StatusResult, error) {
	if cached, ok := s.statusCache.Get(sess.ID.String()); ok {
		return cached.(*gateway.StatusResult), nil
	}

	status, err := s.gw.CheckStatus(ctx, sess.ProviderPayload)
	if err != nil {
		return nil, err
	}

	s.statusCache.Set(sess.ID.String(), status, cache.DefaultExpiration)
	return status, nil
}

func (s *Service) applyStatus(ctx context.Context, sess *model.Session, status *gateway.StatusResult) (*model.Session, error) {
	if status.Status == sess.Status {
		return sess, nil
	}

	switch status.Status {
	case model.SessionStatusConnected:
		now := time.Now()
		if status.LastConnected != nil {
			now = *status.LastConnected
		}
		sess.Status = model.SessionStatusConnected
		sess.HandshakeArtifact = ""
		sess.DisplayName = status.DisplayName
		sess.PhoneNumber = status.PhoneNumber
		sess.LastConnectedAt = &now

	case model.SessionStatusError:
		sess.Status = model.SessionStatusError

	case model.SessionStatusDisconnected:
		// The remote side unlinked; only a connected session follows it
		// down. A session still connecting keeps waiting for the scan.
		if sess.Status != model.SessionStatusConnected {
			return sess, nil
		}
		sess.Status = model.SessionStatusDisconnected
		sess.ProviderPayload = ""

	default:
		return sess, nil
	}

	if err := s.repo.Update(ctx, sess); err != nil {
		return nil, fmt.Errorf("failed to persist session transition: %w", err)
	}

	s.publish(ctx, "session.status_changed", sess)
	return sess, nil
}

// Disconnect tears the linkage down. It is idempotent and succeeds even if
// the provider already considers the session gone.
func (s *Service) Disconnect(ctx context.Context, userID uuid.UUID) (*model.Session, error) {
	sess, err := s.repo.GetLatestByUser(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NotFound("session", err)
		}
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	if sess.ProviderPayload != "" {
		if err := s.gw.Disconnect(ctx, sess.ProviderPayload); err != nil {
			log.Warn().Err(err).Str("session_id", sess.ID.String()).Msg("provider disconnect failed, updating local state anyway")
		}
	}

	if sess.Status == model.SessionStatusDisconnected {
		return sess, nil
	}

	sess.Status = model.SessionStatusDisconnected
	sess.ProviderPayload = ""
	sess.HandshakeArtifact = ""
	s.statusCache.Delete(sess.ID.String())

	if err := s.repo.Update(ctx, sess); err != nil {
		return nil, fmt.Errorf("failed to persist disconnect: %w", err)
	}

	s.publish(ctx, "session.disconnected", sess)
	return sess, nil
}

// GetSession returns the user's latest session without touching the provider.
func (s *Service) GetSession(ctx context.Context, userID uuid.UUID) (*model.Session, error) {
	sess, err := s.repo.GetLatestByUser(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NotFound("session", err)
		}
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	return sess, nil
}

// ReconcileConnecting polls every session stuck in connecting and expires
// those older than maxAge to error, bounding the handshake wait. Called by
// the background poller on a fixed interval.
func (s *Service) ReconcileConnecting(ctx context.Context, maxAge time.Duration, limit int) error {
	sessions, err := s.repo.ListByStatus(ctx, model.SessionStatusConnecting, limit)
	if err != nil {
		return fmt.Errorf("failed to list connecting sessions: %w", err)
	}

	for _, sess := range sessions {
		updated, err := s.PollOnce(ctx, sess.UserID)
		if err != nil {
			log.Warn().Err(err).Str("session_id", sess.ID.String()).Msg("reconcile poll failed")
			continue
		}

		if updated.Status == model.SessionStatusConnecting && time.Since(updated.UpdatedAt) > maxAge {
			updated.Status = model.SessionStatusError
			updated.HandshakeArtifact = ""
			if err := s.repo.Update(ctx, updated); err != nil {
				log.Error().Err(err).Str("session_id", updated.ID.String()).Msg("failed to expire stale connection attempt")
				continue
			}
			s.publish(ctx, "session.connect_timeout", updated)
		}
	}
	return nil
}

func (s *Service) publish(ctx context.Context, eventType string, sess *model.Session) {
	if s.broker == nil {
		return
	}
	evt := messaging.Event{Type: eventType, Payload: sess}
	if err := s.broker.Publish(ctx, messaging.ChannelSessionEvents, evt); err != nil {
		log.Warn().Err(err).Str("event", eventType).Msg("failed to publish session event")
	}
}

func defaultCapabilities(kind model.ConnectionKind) []string {
	caps := []string{
		string(model.CapabilityText),
		string(model.CapabilityImage),
		string(model.CapabilityVideo),
		string(model.CapabilityAudio),
		string(model.CapabilityDocument),
	}
	if kind == model.ConnectionKindBusinessAPI {
		caps = append(caps, string(model.CapabilityTemplate))
	}
	return caps
}
