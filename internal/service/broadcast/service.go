package broadcast

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/gatherhq/messaging-api/internal/email"
	"github.com/gatherhq/messaging-api/internal/model"
	"github.com/gatherhq/messaging-api/internal/repository"
	"github.com/gatherhq/messaging-api/internal/service/message"
	"github.com/gatherhq/messaging-api/internal/service/template"
	apperrors "github.com/gatherhq/messaging-api/pkg/errors"
	"github.com/gatherhq/messaging-api/pkg/messaging"
)

// Service orchestrates one-to-many sends: it expands a broadcast into
// individual queued messages, hands them to the send queue, and finalizes
// the job once every message reaches a terminal state.
type Service struct {
	broadcasts repository.BroadcastRepository
	templates  repository.TemplateRepository
	sessions   repository.SessionRepository
	messages   repository.MessageRepository
	queue      *message.Service
	mailer     email.Sender
	broker     messaging.Broker
}

func NewService(
	broadcasts repository.BroadcastRepository,
	templates repository.TemplateRepository,
	sessions repository.SessionRepository,
	messages repository.MessageRepository,
	queue *message.Service,
	mailer email.Sender,
	broker messaging.Broker,
) *Service {
	if mailer == nil {
		mailer = email.NoopSender{}
	}
	return &Service{
		broadcasts: broadcasts,
		templates:  templates,
		sessions:   sessions,
		messages:   messages,
		queue:      queue,
		mailer:     mailer,
		broker:     broker,
	}
}

// CreateInput carries the fields of a new draft broadcast. Either TemplateID
// or Body must be set; Body is the fallback content when no template is used.
type CreateInput struct {
	Name         string
	EventID      *uuid.UUID
	TemplateID   *uuid.UUID
	Body         string
	ScheduledFor *time.Time
}

// CreateBroadcast persists a draft. Drafts hold no recipients; expansion
// fixes the recipient set later.
func (s *Service) CreateBroadcast(ctx context.Context, userID uuid.UUID, in CreateInput) (*model.Broadcast, error) {
	if strings.TrimSpace(in.Name) == "" {
		return nil, apperrors.BadRequest("broadcast name is required", nil)
	}
	if in.TemplateID == nil && strings.TrimSpace(in.Body) == "" {
		return nil, apperrors.BadRequest("either template_id or body is required", nil)
	}
	if in.ScheduledFor != nil && in.ScheduledFor.Before(time.Now()) {
		return nil, apperrors.BadRequest("scheduled_for must be in the future", nil)
	}
	if in.TemplateID != nil {
		if _, err := s.ownedTemplate(ctx, userID, *in.TemplateID); err != nil {
			return nil, err
		}
	}

	b := &model.Broadcast{
		ID:           uuid.New(),
		UserID:       userID,
		Name:         in.Name,
		EventID:      in.EventID,
		TemplateID:   in.TemplateID,
		Body:         in.Body,
		Status:       model.BroadcastStatusDraft,
		ScheduledFor: in.ScheduledFor,
	}
	if err := s.broadcasts.Create(ctx, b); err != nil {
		return nil, fmt.Errorf("failed to create broadcast: %w", err)
	}
	return b, nil
}

// ExpandAndSend turns a draft into queued messages, one per recipient, and
// drains them immediately unless the broadcast is scheduled for later. The
// connected-session check runs before any message is enqueued, so a user
// without a live session gets a precondition error and an untouched queue.
func (s *Service) ExpandAndSend(ctx context.Context, userID, broadcastID uuid.UUID, recipients []model.Recipient) (*model.Broadcast, error) {
	b, err := s.ownedBroadcast(ctx, userID, broadcastID)
	if err != nil {
		return nil, err
	}
	if len(recipients) == 0 {
		return nil, apperrors.BadRequest("recipient list is empty", nil)
	}
	if b.Status != model.BroadcastStatusDraft {
		return nil, apperrors.Precondition(fmt.Sprintf("broadcast is %s, only drafts can be expanded", b.Status), nil)
	}

	if _, err := s.sessions.GetConnected(ctx, userID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.Precondition("no connected session", err)
		}
		return nil, fmt.Errorf("failed to check session: %w", err)
	}

	content := b.Body
	if b.TemplateID != nil {
		tmpl, err := s.ownedTemplate(ctx, userID, *b.TemplateID)
		if err != nil {
			return nil, err
		}
		content = tmpl.Content
	}

	scheduled := b.ScheduledFor != nil && b.ScheduledFor.After(time.Now())
	target := model.BroadcastStatusPending
	if scheduled {
		target = model.BroadcastStatusScheduled
	}

	if err := s.broadcasts.BeginExpansion(ctx, b.ID, len(recipients), target, b.ScheduledFor); err != nil {
		return nil, apperrors.Precondition("broadcast was already expanded", err)
	}
	b.Status = target
	b.TotalRecipients = len(recipients)

	ids := make([]uuid.UUID, 0, len(recipients))
	for _, rcpt := range recipients {
		rendered := template.Render(content, rcpt.Fields)
		msg, err := s.queue.Enqueue(ctx, userID, &b.ID, rcpt.Phone, rendered, "")
		if err != nil {
			// The recipient still counts against the fixed total, so a row
			// that cannot even be enqueued is recorded as failed.
			log.Warn().Err(err).Str("broadcast_id", b.ID.String()).Str("phone", rcpt.Phone).Msg("recipient rejected at enqueue")
			if incErr := s.broadcasts.IncrementFailed(ctx, b.ID); incErr != nil {
				log.Error().Err(incErr).Str("broadcast_id", b.ID.String()).Msg("failed to increment failed count")
			}
			continue
		}
		ids = append(ids, msg.ID)
	}

	if scheduled {
		s.publish(ctx, "broadcast.scheduled", b)
		return b, nil
	}

	if err := s.broadcasts.UpdateStatus(ctx, b.ID, model.BroadcastStatusProcessing); err != nil {
		return nil, fmt.Errorf("failed to start processing: %w", err)
	}
	b.Status = model.BroadcastStatusProcessing
	s.publish(ctx, "broadcast.processing", b)

	if _, err := s.queue.Drain(ctx, ids); err != nil {
		// The dispatcher picks up whatever this drain could not claim.
		log.Error().Err(err).Str("broadcast_id", b.ID.String()).Msg("inline drain failed")
	}

	return s.FinalizeIfComplete(ctx, b.ID)
}

// GetBroadcast loads a broadcast scoped to its owner.
func (s *Service) GetBroadcast(ctx context.Context, userID, id uuid.UUID) (*model.Broadcast, error) {
	return s.ownedBroadcast(ctx, userID, id)
}

func (s *Service) ListBroadcasts(ctx context.Context, userID uuid.UUID) ([]*model.Broadcast, error) {
	broadcasts, err := s.broadcasts.List(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list broadcasts: %w", err)
	}
	return broadcasts, nil
}

// Progress returns the counter snapshot callers poll while a job runs.
func (s *Service) Progress(ctx context.Context, userID, id uuid.UUID) (*model.BroadcastProgress, error) {
	b, err := s.ownedBroadcast(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	return &model.BroadcastProgress{
		BroadcastID: b.ID,
		Status:      b.Status,
		Total:       b.TotalRecipients,
		Sent:        b.SentCount,
		Delivered:   b.DeliveredCount,
		Read:        b.ReadCount,
		Failed:      b.FailedCount,
	}, nil
}

// FinalizeIfComplete closes the broadcast once every message is terminal:
// completed when at least one message went out, failed when none did. Safe
// to call repeatedly; a broadcast that is already final or still has work in
// flight is returned unchanged.
func (s *Service) FinalizeIfComplete(ctx context.Context, id uuid.UUID) (*model.Broadcast, error) {
	b, err := s.broadcasts.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load broadcast: %w", err)
	}
	if b.Status != model.BroadcastStatusProcessing && b.Status != model.BroadcastStatusSent {
		return b, nil
	}

	remaining, err := s.messages.CountNonTerminal(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to count remaining messages: %w", err)
	}
	if remaining > 0 {
		return b, nil
	}

	// Reload for the counter totals written by the drain.
	b, err = s.broadcasts.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to reload broadcast: %w", err)
	}

	final := model.BroadcastStatusCompleted
	if b.SentCount == 0 {
		final = model.BroadcastStatusFailed
	}
	if err := s.broadcasts.UpdateStatus(ctx, id, final); err != nil {
		return nil, fmt.Errorf("failed to finalize broadcast: %w", err)
	}
	b.Status = final

	if err := s.mailer.SendBroadcastSummary(ctx, b); err != nil {
		log.Warn().Err(err).Str("broadcast_id", b.ID.String()).Msg("failed to send completion summary")
	}
	s.publish(ctx, "broadcast.finished", b)
	return b, nil
}

// ReconcileScheduled releases due scheduled broadcasts into processing so
// the dispatcher can drain their messages. Returns how many were released.
func (s *Service) ReconcileScheduled(ctx context.Context, now time.Time, limit int) (int, error) {
	due, err := s.broadcasts.ListDueScheduled(ctx, now, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to list due broadcasts: %w", err)
	}

	released := 0
	for _, b := range due {
		if err := s.broadcasts.UpdateStatus(ctx, b.ID, model.BroadcastStatusProcessing); err != nil {
			log.Warn().Err(err).Str("broadcast_id", b.ID.String()).Msg("failed to release scheduled broadcast")
			continue
		}
		b.Status = model.BroadcastStatusProcessing
		s.publish(ctx, "broadcast.processing", b)
		released++
	}
	return released, nil
}

// ReconcileProcessing finalizes processing broadcasts whose messages have
// all settled, reporting how many closed as completed and how many as
// failed. Covers drains that crashed between the last send and the finalize
// call.
func (s *Service) ReconcileProcessing(ctx context.Context, limit int) (completed, failed int, err error) {
	active, err := s.broadcasts.ListProcessing(ctx, limit)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to list processing broadcasts: %w", err)
	}
	for _, b := range active {
		final, err := s.FinalizeIfComplete(ctx, b.ID)
		if err != nil {
			log.Warn().Err(err).Str("broadcast_id", b.ID.String()).Msg("reconcile finalize failed")
			continue
		}
		switch final.Status {
		case model.BroadcastStatusCompleted:
			completed++
		case model.BroadcastStatusFailed:
			failed++
		}
	}
	return completed, failed, nil
}

func (s *Service) ownedBroadcast(ctx context.Context, userID, id uuid.UUID) (*model.Broadcast, error) {
	b, err := s.broadcasts.Get(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NotFound("broadcast", err)
		}
		return nil, fmt.Errorf("failed to get broadcast: %w", err)
	}
	if b.UserID != userID {
		return nil, apperrors.NotFound("broadcast", nil)
	}
	return b, nil
}

func (s *Service) ownedTemplate(ctx context.Context, userID, id uuid.UUID) (*model.Template, error) {
	tmpl, err := s.templates.Get(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NotFound("template", err)
		}
		return nil, fmt.Errorf("failed to get template: %w", err)
	}
	if tmpl.UserID != userID {
		return nil, apperrors.NotFound("template", nil)
	}
	return tmpl, nil
}

func (s *Service) publish(ctx context.Context, eventType string, b *model.Broadcast) {
	if s.broker == nil {
		return
	}
	evt := messaging.Event{Type: eventType, Payload: b}
	if err := s.broker.Publish(ctx, messaging.ChannelBroadcastEvents, evt); err != nil {
		log.Warn().Err(err).Str("event", eventType).Msg("failed to publish broadcast event")
	}
}
