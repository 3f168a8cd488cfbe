// Package memory holds in-memory implementations of the repository
// interfaces with the same guard semantics as the postgres versions. Used
// by service tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gatherhq/messaging-api/internal/model"
	"github.com/gatherhq/messaging-api/internal/repository"
)

// Store is the shared backing state for all four repositories.
type Store struct {
	mu         sync.Mutex
	sessions   map[uuid.UUID]*model.Session
	templates  map[uuid.UUID]*model.Template
	broadcasts map[uuid.UUID]*model.Broadcast
	messages   map[uuid.UUID]*model.QueuedMessage
	statuses   []*model.DeliveryStatusRecord
}

func NewStore() *Store {
	return &Store{
		sessions:   make(map[uuid.UUID]*model.Session),
		templates:  make(map[uuid.UUID]*model.Template),
		broadcasts: make(map[uuid.UUID]*model.Broadcast),
		messages:   make(map[uuid.UUID]*model.QueuedMessage),
	}
}

func (s *Store) Sessions() repository.SessionRepository     { return &sessionRepo{s} }
func (s *Store) Templates() repository.TemplateRepository   { return &templateRepo{s} }
func (s *Store) Broadcasts() repository.BroadcastRepository { return &broadcastRepo{s} }
func (s *Store) Messages() repository.MessageRepository     { return &messageRepo{s} }

type sessionRepo struct{ s *Store }

func (r *sessionRepo) Create(_ context.Context, sess *model.Session) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if sess.ID == uuid.Nil {
		sess.ID = uuid.New()
	}
	sess.CreatedAt = time.Now()
	sess.UpdatedAt = sess.CreatedAt
	r.s.sessions[sess.ID] = sess
	return nil
}

func (r *sessionRepo) Update(_ context.Context, sess *model.Session) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.sessions[sess.ID]; !ok {
		return repository.ErrNotFound
	}
	sess.UpdatedAt = time.Now()
	r.s.sessions[sess.ID] = sess
	return nil
}

func (r *sessionRepo) Get(_ context.Context, id uuid.UUID) (*model.Session, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	sess, ok := r.s.sessions[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return sess, nil
}

func (r *sessionRepo) GetLatestByUser(_ context.Context, userID uuid.UUID) (*model.Session, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var latest *model.Session
	for _, sess := range r.s.sessions {
		if sess.UserID != userID {
			continue
		}
		if latest == nil || sess.CreatedAt.After(latest.CreatedAt) {
			latest = sess
		}
	}
	if latest == nil {
		return nil, repository.ErrNotFound
	}
	return latest, nil
}

func (r *sessionRepo) GetConnected(ctx context.Context, userID uuid.UUID) (*model.Session, error) {
	sess, err := r.GetLatestByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !sess.IsConnected() {
		return nil, repository.ErrNotFound
	}
	return sess, nil
}

func (r *sessionRepo) ListByStatus(_ context.Context, status model.SessionStatus, limit int) ([]*model.Session, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*model.Session
	for _, sess := range r.s.sessions {
		if sess.Status == status {
			out = append(out, sess)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type templateRepo struct{ s *Store }

func (r *templateRepo) Create(_ context.Context, tmpl *model.Template) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if tmpl.ID == uuid.Nil {
		tmpl.ID = uuid.New()
	}
	tmpl.CreatedAt = time.Now()
	tmpl.UpdatedAt = tmpl.CreatedAt
	r.s.templates[tmpl.ID] = tmpl
	return nil
}

func (r *templateRepo) Get(_ context.Context, id uuid.UUID) (*model.Template, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	tmpl, ok := r.s.templates[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return tmpl, nil
}

func (r *templateRepo) Update(_ context.Context, tmpl *model.Template) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.templates[tmpl.ID]; !ok {
		return repository.ErrNotFound
	}
	tmpl.UpdatedAt = time.Now()
	r.s.templates[tmpl.ID] = tmpl
	return nil
}

func (r *templateRepo) Delete(_ context.Context, id uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	delete(r.s.templates, id)
	return nil
}

func (r *templateRepo) List(_ context.Context, userID uuid.UUID) ([]*model.Template, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*model.Template
	for _, tmpl := range r.s.templates {
		if tmpl.UserID == userID {
			out = append(out, tmpl)
		}
	}
	return out, nil
}

type broadcastRepo struct{ s *Store }

func (r *broadcastRepo) Create(_ context.Context, b *model.Broadcast) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	b.CreatedAt = time.Now()
	b.UpdatedAt = b.CreatedAt
	r.s.broadcasts[b.ID] = b
	return nil
}

func (r *broadcastRepo) Get(_ context.Context, id uuid.UUID) (*model.Broadcast, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	b, ok := r.s.broadcasts[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copied := *b
	return &copied, nil
}

func (r *broadcastRepo) List(_ context.Context, userID uuid.UUID) ([]*model.Broadcast, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*model.Broadcast
	for _, b := range r.s.broadcasts {
		if b.UserID == userID {
			copied := *b
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (r *broadcastRepo) BeginExpansion(_ context.Context, id uuid.UUID, total int, status model.BroadcastStatus, scheduledFor *time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	b, ok := r.s.broadcasts[id]
	if !ok {
		return repository.ErrNotFound
	}
	if b.TotalRecipients != 0 || b.Status != model.BroadcastStatusDraft {
		return fmt.Errorf("broadcast %s cannot be expanded", id)
	}
	b.TotalRecipients = total
	b.Status = status
	b.ScheduledFor = scheduledFor
	b.UpdatedAt = time.Now()
	return nil
}

func (r *broadcastRepo) UpdateStatus(_ context.Context, id uuid.UUID, status model.BroadcastStatus) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	b, ok := r.s.broadcasts[id]
	if !ok {
		return repository.ErrNotFound
	}
	if !b.Status.CanTransitionTo(status) {
		return fmt.Errorf("broadcast %s status cannot move to %s", id, status)
	}
	b.Status = status
	b.UpdatedAt = time.Now()
	return nil
}

func (r *broadcastRepo) IncrementSent(_ context.Context, id uuid.UUID) error {
	return r.increment(id, func(b *model.Broadcast) bool {
		if b.SentCount+b.FailedCount >= b.TotalRecipients {
			return false
		}
		b.SentCount++
		return true
	})
}

func (r *broadcastRepo) IncrementFailed(_ context.Context, id uuid.UUID) error {
	return r.increment(id, func(b *model.Broadcast) bool {
		if b.SentCount+b.FailedCount >= b.TotalRecipients {
			return false
		}
		b.FailedCount++
		return true
	})
}

func (r *broadcastRepo) IncrementDelivered(_ context.Context, id uuid.UUID) error {
	return r.increment(id, func(b *model.Broadcast) bool {
		if b.DeliveredCount >= b.TotalRecipients {
			return false
		}
		b.DeliveredCount++
		return true
	})
}

func (r *broadcastRepo) IncrementRead(_ context.Context, id uuid.UUID) error {
	return r.increment(id, func(b *model.Broadcast) bool {
		if b.ReadCount >= b.TotalRecipients {
			return false
		}
		b.ReadCount++
		return true
	})
}

func (r *broadcastRepo) increment(id uuid.UUID, apply func(*model.Broadcast) bool) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	b, ok := r.s.broadcasts[id]
	if !ok {
		return repository.ErrNotFound
	}
	if apply(b) {
		b.UpdatedAt = time.Now()
	}
	return nil
}

func (r *broadcastRepo) ListDueScheduled(_ context.Context, now time.Time, limit int) ([]*model.Broadcast, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*model.Broadcast
	for _, b := range r.s.broadcasts {
		if b.Status == model.BroadcastStatusScheduled && b.ScheduledFor != nil && !b.ScheduledFor.After(now) {
			copied := *b
			out = append(out, &copied)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *broadcastRepo) ListProcessing(_ context.Context, limit int) ([]*model.Broadcast, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*model.Broadcast
	for _, b := range r.s.broadcasts {
		if b.Status == model.BroadcastStatusProcessing {
			copied := *b
			out = append(out, &copied)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type messageRepo struct{ s *Store }

func (r *messageRepo) Create(_ context.Context, msg *model.QueuedMessage) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	msg.CreatedAt = time.Now()
	msg.UpdatedAt = msg.CreatedAt
	r.s.messages[msg.ID] = msg
	return nil
}

func (r *messageRepo) Get(_ context.Context, id uuid.UUID) (*model.QueuedMessage, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	msg, ok := r.s.messages[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copied := *msg
	return &copied, nil
}

func (r *messageRepo) GetByProviderMessageID(_ context.Context, providerMessageID string) (*model.QueuedMessage, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, msg := range r.s.messages {
		if msg.ProviderMessageID == providerMessageID && providerMessageID != "" {
			copied := *msg
			return &copied, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *messageRepo) ClaimPending(_ context.Context, ids []uuid.UUID) ([]*model.QueuedMessage, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*model.QueuedMessage
	for _, id := range ids {
		msg, ok := r.s.messages[id]
		if !ok || msg.Status != model.MessageStatusPending {
			continue
		}
		msg.Status = model.MessageStatusProcessing
		msg.Attempts++
		msg.UpdatedAt = time.Now()
		copied := *msg
		out = append(out, &copied)
	}
	sortByCreatedAt(out)
	return out, nil
}

func (r *messageRepo) ClaimPendingBatch(_ context.Context, limit int) ([]*model.QueuedMessage, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var candidates []*model.QueuedMessage
	for _, msg := range r.s.messages {
		if msg.Status != model.MessageStatusPending {
			continue
		}
		if msg.BroadcastID != nil {
			b, ok := r.s.broadcasts[*msg.BroadcastID]
			if ok && (b.Status == model.BroadcastStatusDraft || b.Status == model.BroadcastStatusScheduled) {
				continue
			}
		}
		candidates = append(candidates, msg)
	}
	sortByCreatedAt(candidates)
	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}

	out := make([]*model.QueuedMessage, 0, len(candidates))
	for _, msg := range candidates {
		msg.Status = model.MessageStatusProcessing
		msg.Attempts++
		msg.UpdatedAt = time.Now()
		copied := *msg
		out = append(out, &copied)
	}
	return out, nil
}

func (r *messageRepo) ReclaimStale(_ context.Context, cutoff time.Time, limit int) ([]*model.QueuedMessage, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var candidates []*model.QueuedMessage
	for _, msg := range r.s.messages {
		if msg.Status == model.MessageStatusProcessing && !msg.UpdatedAt.After(cutoff) {
			candidates = append(candidates, msg)
		}
	}
	sortByCreatedAt(candidates)
	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}

	out := make([]*model.QueuedMessage, 0, len(candidates))
	for _, msg := range candidates {
		msg.Attempts++
		msg.UpdatedAt = time.Now()
		copied := *msg
		out = append(out, &copied)
	}
	return out, nil
}

func (r *messageRepo) MarkRetry(_ context.Context, id uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	msg, ok := r.s.messages[id]
	if ok && msg.Status == model.MessageStatusProcessing {
		msg.Attempts++
		msg.UpdatedAt = time.Now()
	}
	return nil
}

func (r *messageRepo) MarkSent(_ context.Context, id uuid.UUID, providerMessageID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	msg, ok := r.s.messages[id]
	if ok && msg.Status == model.MessageStatusProcessing {
		now := time.Now()
		msg.Status = model.MessageStatusSent
		msg.ProviderMessageID = providerMessageID
		msg.SentAt = &now
		msg.UpdatedAt = now
	}
	return nil
}

func (r *messageRepo) MarkFailed(_ context.Context, id uuid.UUID, reason string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	msg, ok := r.s.messages[id]
	if ok && msg.Status == model.MessageStatusProcessing {
		msg.Status = model.MessageStatusFailed
		msg.ErrorMessage = reason
		msg.UpdatedAt = time.Now()
	}
	return nil
}

func (r *messageRepo) CountPending(_ context.Context) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	count := 0
	for _, msg := range r.s.messages {
		if msg.Status == model.MessageStatusPending {
			count++
		}
	}
	return count, nil
}

func (r *messageRepo) CountNonTerminal(_ context.Context, broadcastID uuid.UUID) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	count := 0
	for _, msg := range r.s.messages {
		if msg.BroadcastID != nil && *msg.BroadcastID == broadcastID && !msg.Status.Terminal() {
			count++
		}
	}
	return count, nil
}

func (r *messageRepo) AppendDeliveryStatus(_ context.Context, rec *model.DeliveryStatusRecord) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	rec.CreatedAt = time.Now()
	r.s.statuses = append(r.s.statuses, rec)
	return nil
}

func (r *messageRepo) ListDeliveryStatuses(_ context.Context, messageID uuid.UUID) ([]*model.DeliveryStatusRecord, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*model.DeliveryStatusRecord
	for _, rec := range r.s.statuses {
		if rec.MessageID == messageID {
			out = append(out, rec)
		}
	}
	return out, nil
}

func sortByCreatedAt(msgs []*model.QueuedMessage) {
	sort.Slice(msgs, func(i, j int) bool {
		return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
	})
}
