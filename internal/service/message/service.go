package message

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/gatherhq/messaging-api/internal/gateway"
	"github.com/gatherhq/messaging-api/internal/model"
	"github.com/gatherhq/messaging-api/internal/repository"
	apperrors "github.com/gatherhq/messaging-api/pkg/errors"
	"github.com/gatherhq/messaging-api/pkg/messaging"
)

// RetryPolicy controls how many times a transient provider failure is
// retried within a single drain cycle. A message never returns to pending
// once claimed; retries happen in place.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, Backoff: 500 * time.Millisecond}
}

// DrainReport summarizes one drain cycle.
type DrainReport struct {
	Claimed int
	Sent    int
	Failed  int
}

// Service owns the send queue: enqueueing outbound messages, draining them
// through the channel gateway, and recording delivery receipts.
type Service struct {
	messages   repository.MessageRepository
	sessions   repository.SessionRepository
	broadcasts repository.BroadcastRepository
	gw         gateway.Gateway
	broker     messaging.Broker
	retry      RetryPolicy
}

func NewService(
	messages repository.MessageRepository,
	sessions repository.SessionRepository,
	broadcasts repository.BroadcastRepository,
	gw gateway.Gateway,
	broker messaging.Broker,
	retry RetryPolicy,
) *Service {
	if retry.MaxAttempts < 1 {
		retry = DefaultRetryPolicy()
	}
	return &Service{
		messages:   messages,
		sessions:   sessions,
		broadcasts: broadcasts,
		gw:         gw,
		broker:     broker,
		retry:      retry,
	}
}

// Enqueue appends a pending message to the queue. Rendering happens before
// enqueue; the queue stores final content only. Only emptiness is checked
// here; phone format is the gateway's call, and a malformed number fails the
// individual message at send time instead of blocking the enqueue.
func (s *Service) Enqueue(ctx context.Context, userID uuid.UUID, broadcastID *uuid.UUID, recipientPhone, content, mediaURL string) (*model.QueuedMessage, error) {
	if strings.TrimSpace(recipientPhone) == "" {
		return nil, apperrors.BadRequest("recipient phone is required", nil)
	}

	msg := &model.QueuedMessage{
		ID:             uuid.New(),
		UserID:         userID,
		BroadcastID:    broadcastID,
		RecipientPhone: recipientPhone,
		Content:        content,
		MediaURL:       mediaURL,
		Status:         model.MessageStatusPending,
	}
	if err := s.messages.Create(ctx, msg); err != nil {
		return nil, fmt.Errorf("failed to enqueue message: %w", err)
	}
	return msg, nil
}

// GetMessage loads a queued message scoped to its owner.
func (s *Service) GetMessage(ctx context.Context, userID, id uuid.UUID) (*model.QueuedMessage, error) {
	msg, err := s.messages.Get(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NotFound("message", err)
		}
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	if msg.UserID != userID {
		return nil, apperrors.NotFound("message", nil)
	}
	return msg, nil
}

// Drain claims the given pending messages and attempts delivery for each,
// independently. A failure on one message never blocks the rest, and
// messages already terminal or claimed elsewhere are skipped, which makes
// repeated drains of the same ids safe.
func (s *Service) Drain(ctx context.Context, ids []uuid.UUID) (*DrainReport, error) {
	msgs, err := s.messages.ClaimPending(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to claim messages: %w", err)
	}
	return s.drainClaimed(ctx, msgs), nil
}

// DrainBatch claims up to limit drainable messages across all users. Used by
// the background dispatcher.
func (s *Service) DrainBatch(ctx context.Context, limit int) (*DrainReport, error) {
	msgs, err := s.messages.ClaimPendingBatch(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to claim batch: %w", err)
	}
	return s.drainClaimed(ctx, msgs), nil
}

// ReclaimStale re-runs delivery for processing messages abandoned mid-drain,
// for example when the draining process died or a session lookup hit a
// transient store error. Without it such a message would sit in processing
// forever and block its broadcast from finalizing.
func (s *Service) ReclaimStale(ctx context.Context, olderThan time.Duration, limit int) (*DrainReport, error) {
	msgs, err := s.messages.ReclaimStale(ctx, time.Now().Add(-olderThan), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to reclaim stale messages: %w", err)
	}
	return s.drainClaimed(ctx, msgs), nil
}

func (s *Service) drainClaimed(ctx context.Context, msgs []*model.QueuedMessage) *DrainReport {
	report := &DrainReport{Claimed: len(msgs)}

	// One session lookup per user per cycle, not per message.
	sessionByUser := make(map[uuid.UUID]*model.Session)

	for _, msg := range msgs {
		if err := s.sendOne(ctx, msg, sessionByUser); err != nil {
			report.Failed++
			log.Warn().Err(err).
				Str("message_id", msg.ID.String()).
				Str("recipient", msg.RecipientPhone).
				Msg("message delivery failed")
			continue
		}
		report.Sent++
	}
	return report
}

func (s *Service) sendOne(ctx context.Context, msg *model.QueuedMessage, sessionByUser map[uuid.UUID]*model.Session) error {
	sess, ok := sessionByUser[msg.UserID]
	if !ok {
		var err error
		sess, err = s.sessions.GetConnected(ctx, msg.UserID)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			// Leave the message in processing; ReclaimStale picks it up
			// once it has sat untouched long enough.
			return fmt.Errorf("failed to load session: %w", err)
		}
		sessionByUser[msg.UserID] = sess
	}
	if sess == nil {
		return s.fail(ctx, msg, "no connected session")
	}

	res, err := s.sendWithRetry(ctx, msg, sess)
	if err != nil {
		return s.fail(ctx, msg, err.Error())
	}

	if err := s.messages.MarkSent(ctx, msg.ID, res.ProviderMessageID); err != nil {
		return fmt.Errorf("failed to mark sent: %w", err)
	}
	s.appendStatus(ctx, msg.ID, model.DeliveryStatusSent, nil)

	if msg.BroadcastID != nil {
		if err := s.broadcasts.IncrementSent(ctx, *msg.BroadcastID); err != nil {
			log.Error().Err(err).Str("broadcast_id", msg.BroadcastID.String()).Msg("failed to increment sent count")
		}
	}

	s.publish(ctx, "message.sent", msg.ID)
	return nil
}

// sendWithRetry attempts delivery up to the policy's MaxAttempts, retrying
// only errors the gateway marks retryable. The first attempt was already
// counted by the claim; MarkRetry records the rest.
func (s *Service) sendWithRetry(ctx context.Context, msg *model.QueuedMessage, sess *model.Session) (*gateway.SendResult, error) {
	var lastErr error
	for attempt := 1; attempt <= s.retry.MaxAttempts; attempt++ {
		if attempt > 1 {
			if err := s.messages.MarkRetry(ctx, msg.ID); err != nil {
				return nil, fmt.Errorf("failed to record retry: %w", err)
			}
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(s.retry.Backoff):
			}
		}

		res, err := s.gw.SendMessage(ctx, sess.ProviderPayload, msg.RecipientPhone, msg.Content, msg.MediaURL)
		if err == nil {
			return res, nil
		}
		lastErr = err
		if !gateway.Retryable(err) {
			break
		}
	}
	return nil, lastErr
}

func (s *Service) fail(ctx context.Context, msg *model.QueuedMessage, reason string) error {
	if err := s.messages.MarkFailed(ctx, msg.ID, reason); err != nil {
		return fmt.Errorf("failed to mark failed: %w", err)
	}
	s.appendStatus(ctx, msg.ID, model.DeliveryStatusFailed, nil)

	if msg.BroadcastID != nil {
		if err := s.broadcasts.IncrementFailed(ctx, *msg.BroadcastID); err != nil {
			log.Error().Err(err).Str("broadcast_id", msg.BroadcastID.String()).Msg("failed to increment failed count")
		}
	}

	s.publish(ctx, "message.failed", msg.ID)
	return fmt.Errorf("delivery failed: %s", reason)
}

// RecordDeliveryReceipt ingests a provider receipt for a sent message. The
// receipt log is append-only, so out-of-order receipts (a read arriving
// before its delivered) are each recorded as they come.
func (s *Service) RecordDeliveryReceipt(ctx context.Context, providerMessageID string, kind model.DeliveryStatusKind, rawPayload []byte) error {
	if !kind.Valid() {
		return apperrors.BadRequest(fmt.Sprintf("invalid delivery status kind %q", kind), nil)
	}

	msg, err := s.findByProviderMessageID(ctx, providerMessageID)
	if err != nil {
		return err
	}

	s.appendStatus(ctx, msg.ID, kind, rawPayload)

	if msg.BroadcastID != nil {
		switch kind {
		case model.DeliveryStatusDelivered:
			err = s.broadcasts.IncrementDelivered(ctx, *msg.BroadcastID)
		case model.DeliveryStatusRead:
			err = s.broadcasts.IncrementRead(ctx, *msg.BroadcastID)
		}
		if err != nil {
			log.Error().Err(err).Str("broadcast_id", msg.BroadcastID.String()).Msg("failed to increment receipt count")
		}
	}

	s.publish(ctx, "message.receipt."+string(kind), msg.ID)
	return nil
}

// ListDeliveryStatuses returns the append-only receipt history of a message.
func (s *Service) ListDeliveryStatuses(ctx context.Context, userID, messageID uuid.UUID) ([]*model.DeliveryStatusRecord, error) {
	if _, err := s.GetMessage(ctx, userID, messageID); err != nil {
		return nil, err
	}
	return s.messages.ListDeliveryStatuses(ctx, messageID)
}

// QueueDepth reports the pending backlog across all users.
func (s *Service) QueueDepth(ctx context.Context) (int, error) {
	return s.messages.CountPending(ctx)
}

func (s *Service) findByProviderMessageID(ctx context.Context, providerMessageID string) (*model.QueuedMessage, error) {
	if strings.TrimSpace(providerMessageID) == "" {
		return nil, apperrors.BadRequest("provider message id is required", nil)
	}
	msg, err := s.messages.GetByProviderMessageID(ctx, providerMessageID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NotFound("message", err)
		}
		return nil, fmt.Errorf("failed to resolve provider message id: %w", err)
	}
	return msg, nil
}

func (s *Service) appendStatus(ctx context.Context, messageID uuid.UUID, kind model.DeliveryStatusKind, raw []byte) {
	rec := &model.DeliveryStatusRecord{
		ID:         uuid.New(),
		MessageID:  messageID,
		Kind:       kind,
		RawPayload: raw,
	}
	if err := s.messages.AppendDeliveryStatus(ctx, rec); err != nil {
		log.Error().Err(err).Str("message_id", messageID.String()).Str("kind", string(kind)).Msg("failed to append delivery status")
	}
}

func (s *Service) publish(ctx context.Context, eventType string, messageID uuid.UUID) {
	if s.broker == nil {
		return
	}
	evt := messaging.Event{Type: eventType, Payload: map[string]string{"message_id": messageID.String()}}
	if err := s.broker.Publish(ctx, messaging.ChannelMessageEvents, evt); err != nil {
		log.Warn().Err(err).Str("event", eventType).Msg("failed to publish message event")
	}
}
