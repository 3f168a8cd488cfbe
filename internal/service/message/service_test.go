package message

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatherhq/messaging-api/internal/gateway"
	"github.com/gatherhq/messaging-api/internal/model"
	"github.com/gatherhq/messaging-api/internal/repository"
	"github.com/gatherhq/messaging-api/internal/repository/memory"
	apperrors "github.com/gatherhq/messaging-api/pkg/errors"
)

type fakeGateway struct {
	sendFn    func(ctx context.Context, sessionID, phone, content, mediaURL string) (*gateway.SendResult, error)
	sendCalls int
}

func (f *fakeGateway) InitializeConnection(_ context.Context, _ model.ConnectionKind) (*gateway.ConnectResult, error) {
	return &gateway.ConnectResult{SessionID: "provider-session"}, nil
}

func (f *fakeGateway) CheckStatus(_ context.Context, _ string) (*gateway.StatusResult, error) {
	return &gateway.StatusResult{Status: model.SessionStatusConnected}, nil
}

func (f *fakeGateway) SendMessage(ctx context.Context, sessionID, phone, content, mediaURL string) (*gateway.SendResult, error) {
	f.sendCalls++
	if f.sendFn != nil {
		return f.sendFn(ctx, sessionID, phone, content, mediaURL)
	}
	return &gateway.SendResult{ProviderMessageID: fmt.Sprintf("pm-%d", f.sendCalls)}, nil
}

func (f *fakeGateway) Disconnect(_ context.Context, _ string) error { return nil }

func connectUser(t *testing.T, store *memory.Store, userID uuid.UUID) {
	t.Helper()
	err := store.Sessions().Create(context.Background(), &model.Session{
		UserID:          userID,
		Kind:            model.ConnectionKindWeb,
		Status:          model.SessionStatusConnected,
		ProviderPayload: "provider-session",
	})
	require.NoError(t, err)
}

func newTestService(store *memory.Store, gw gateway.Gateway, retry RetryPolicy) *Service {
	return NewService(store.Messages(), store.Sessions(), store.Broadcasts(), gw, nil, retry)
}

func TestEnqueue_RequiresPhone(t *testing.T) {
	store := memory.NewStore()
	svc := newTestService(store, &fakeGateway{}, RetryPolicy{})

	_, err := svc.Enqueue(context.Background(), uuid.New(), nil, "  ", "hello", "")
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrBadRequest, apperrors.CodeOf(err))
}

func TestDrain_SendsAndMarksTerminal(t *testing.T) {
	store := memory.NewStore()
	gw := &fakeGateway{}
	svc := newTestService(store, gw, RetryPolicy{})
	userID := uuid.New()
	connectUser(t, store, userID)

	msg, err := svc.Enqueue(context.Background(), userID, nil, "+361234567", "hello", "")
	require.NoError(t, err)

	report, err := svc.Drain(context.Background(), []uuid.UUID{msg.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Claimed)
	assert.Equal(t, 1, report.Sent)
	assert.Equal(t, 0, report.Failed)

	stored, err := svc.GetMessage(context.Background(), userID, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, model.MessageStatusSent, stored.Status)
	assert.NotEmpty(t, stored.ProviderMessageID)
	assert.NotNil(t, stored.SentAt)
	assert.Equal(t, 1, stored.Attempts)

	statuses, err := store.Messages().ListDeliveryStatuses(context.Background(), msg.ID)
	require.NoError(t, err)
	require.Len(t, statuses, 1)
	assert.Equal(t, model.DeliveryStatusSent, statuses[0].Kind)
}

func TestDrain_IsIdempotentOnTerminalMessages(t *testing.T) {
	store := memory.NewStore()
	gw := &fakeGateway{}
	svc := newTestService(store, gw, RetryPolicy{})
	userID := uuid.New()
	connectUser(t, store, userID)

	msg, err := svc.Enqueue(context.Background(), userID, nil, "+361234567", "hello", "")
	require.NoError(t, err)

	_, err = svc.Drain(context.Background(), []uuid.UUID{msg.ID})
	require.NoError(t, err)
	require.Equal(t, 1, gw.sendCalls)

	report, err := svc.Drain(context.Background(), []uuid.UUID{msg.ID})
	require.NoError(t, err)
	assert.Equal(t, 0, report.Claimed, "terminal message must not be reclaimed")
	assert.Equal(t, 1, gw.sendCalls, "no second provider call")
}

func TestDrain_NoConnectedSessionFailsMessage(t *testing.T) {
	store := memory.NewStore()
	svc := newTestService(store, &fakeGateway{}, RetryPolicy{})
	userID := uuid.New()

	msg, err := svc.Enqueue(context.Background(), userID, nil, "+361234567", "hello", "")
	require.NoError(t, err)

	report, err := svc.Drain(context.Background(), []uuid.UUID{msg.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)

	stored, err := svc.GetMessage(context.Background(), userID, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, model.MessageStatusFailed, stored.Status)
	assert.Contains(t, stored.ErrorMessage, "no connected session")
}

func TestDrain_PerMessageIndependence(t *testing.T) {
	store := memory.NewStore()
	gw := &fakeGateway{
		sendFn: func(_ context.Context, _, phone, _, _ string) (*gateway.SendResult, error) {
			if phone == "+20000000" {
				return nil, gateway.ErrInvalidRecipient
			}
			return &gateway.SendResult{ProviderMessageID: "pm-" + phone}, nil
		},
	}
	svc := newTestService(store, gw, RetryPolicy{})
	userID := uuid.New()
	connectUser(t, store, userID)

	var ids []uuid.UUID
	for _, phone := range []string{"+10000000", "+20000000", "+30000000"} {
		msg, err := svc.Enqueue(context.Background(), userID, nil, phone, "hello", "")
		require.NoError(t, err)
		ids = append(ids, msg.ID)
	}

	report, err := svc.Drain(context.Background(), ids)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Claimed)
	assert.Equal(t, 2, report.Sent)
	assert.Equal(t, 1, report.Failed)
}

func TestDrain_RetriesTransientErrors(t *testing.T) {
	store := memory.NewStore()
	attempts := 0
	gw := &fakeGateway{
		sendFn: func(_ context.Context, _, _, _, _ string) (*gateway.SendResult, error) {
			attempts++
			if attempts < 3 {
				return nil, gateway.ErrProviderSend
			}
			return &gateway.SendResult{ProviderMessageID: "pm-ok"}, nil
		},
	}
	svc := newTestService(store, gw, RetryPolicy{MaxAttempts: 3, Backoff: time.Millisecond})
	userID := uuid.New()
	connectUser(t, store, userID)

	msg, err := svc.Enqueue(context.Background(), userID, nil, "+361234567", "hello", "")
	require.NoError(t, err)

	report, err := svc.Drain(context.Background(), []uuid.UUID{msg.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Sent)
	assert.Equal(t, 3, attempts)

	stored, err := svc.GetMessage(context.Background(), userID, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, model.MessageStatusSent, stored.Status)
	assert.Equal(t, 3, stored.Attempts, "claim plus two retries")
}

func TestDrain_ExhaustedRetriesFailTerminally(t *testing.T) {
	store := memory.NewStore()
	gw := &fakeGateway{
		sendFn: func(_ context.Context, _, _, _, _ string) (*gateway.SendResult, error) {
			return nil, gateway.ErrProviderSend
		},
	}
	svc := newTestService(store, gw, RetryPolicy{MaxAttempts: 2, Backoff: time.Millisecond})
	userID := uuid.New()
	connectUser(t, store, userID)

	msg, err := svc.Enqueue(context.Background(), userID, nil, "+361234567", "hello", "")
	require.NoError(t, err)

	report, err := svc.Drain(context.Background(), []uuid.UUID{msg.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 2, gw.sendCalls)

	stored, err := svc.GetMessage(context.Background(), userID, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, model.MessageStatusFailed, stored.Status)
}

func TestDrain_NonRetryableErrorFailsImmediately(t *testing.T) {
	store := memory.NewStore()
	gw := &fakeGateway{
		sendFn: func(_ context.Context, _, _, _, _ string) (*gateway.SendResult, error) {
			return nil, gateway.ErrInvalidRecipient
		},
	}
	svc := newTestService(store, gw, RetryPolicy{MaxAttempts: 3, Backoff: time.Millisecond})
	userID := uuid.New()
	connectUser(t, store, userID)

	msg, err := svc.Enqueue(context.Background(), userID, nil, "+361234567", "hello", "")
	require.NoError(t, err)

	_, err = svc.Drain(context.Background(), []uuid.UUID{msg.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, gw.sendCalls, "invalid recipient must not be retried")
}

func TestDrainBatch_SkipsScheduledBroadcastMessages(t *testing.T) {
	store := memory.NewStore()
	gw := &fakeGateway{}
	svc := newTestService(store, gw, RetryPolicy{})
	userID := uuid.New()
	connectUser(t, store, userID)

	future := time.Now().Add(time.Hour)
	b := &model.Broadcast{
		UserID:          userID,
		Name:            "later",
		Status:          model.BroadcastStatusScheduled,
		TotalRecipients: 1,
		ScheduledFor:    &future,
	}
	require.NoError(t, store.Broadcasts().Create(context.Background(), b))

	_, err := svc.Enqueue(context.Background(), userID, &b.ID, "+361234567", "hello", "")
	require.NoError(t, err)

	report, err := svc.DrainBatch(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Claimed, "scheduled broadcast messages are not yet drainable")
}

// flakySessionRepo fails GetConnected a fixed number of times before
// delegating, standing in for a transient store outage mid-drain.
type flakySessionRepo struct {
	repository.SessionRepository
	failures int
}

func (r *flakySessionRepo) GetConnected(ctx context.Context, userID uuid.UUID) (*model.Session, error) {
	if r.failures > 0 {
		r.failures--
		return nil, errors.New("connection reset by peer")
	}
	return r.SessionRepository.GetConnected(ctx, userID)
}

func TestReclaimStale_RecoversAbandonedProcessingMessage(t *testing.T) {
	store := memory.NewStore()
	gw := &fakeGateway{}
	sessions := &flakySessionRepo{SessionRepository: store.Sessions(), failures: 1}
	svc := NewService(store.Messages(), sessions, store.Broadcasts(), gw, nil, RetryPolicy{})
	userID := uuid.New()
	connectUser(t, store, userID)

	msg, err := svc.Enqueue(context.Background(), userID, nil, "+361234567", "hello", "")
	require.NoError(t, err)

	// The session lookup blows up after the claim, so the message stays in
	// processing instead of reaching a terminal state.
	report, err := svc.Drain(context.Background(), []uuid.UUID{msg.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Claimed)
	assert.Equal(t, 0, report.Sent)

	stored, err := svc.GetMessage(context.Background(), userID, msg.ID)
	require.NoError(t, err)
	require.Equal(t, model.MessageStatusProcessing, stored.Status)

	// Plain drains only claim pending rows, so neither can touch it.
	report, err = svc.Drain(context.Background(), []uuid.UUID{msg.ID})
	require.NoError(t, err)
	assert.Equal(t, 0, report.Claimed)
	report, err = svc.DrainBatch(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Claimed)

	report, err = svc.ReclaimStale(context.Background(), 0, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Claimed)
	assert.Equal(t, 1, report.Sent)

	stored, err = svc.GetMessage(context.Background(), userID, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, model.MessageStatusSent, stored.Status)
	assert.Equal(t, 2, stored.Attempts, "original claim plus the reclaim")
}

func TestReclaimStale_LeavesFreshProcessingAlone(t *testing.T) {
	store := memory.NewStore()
	gw := &fakeGateway{}
	sessions := &flakySessionRepo{SessionRepository: store.Sessions(), failures: 1}
	svc := NewService(store.Messages(), sessions, store.Broadcasts(), gw, nil, RetryPolicy{})
	userID := uuid.New()
	connectUser(t, store, userID)

	msg, err := svc.Enqueue(context.Background(), userID, nil, "+361234567", "hello", "")
	require.NoError(t, err)
	_, err = svc.Drain(context.Background(), []uuid.UUID{msg.ID})
	require.NoError(t, err)

	// The message was touched moments ago; a generous age must skip it so
	// a concurrent drain is not double-sent.
	report, err := svc.ReclaimStale(context.Background(), time.Hour, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Claimed)
}

func TestRecordDeliveryReceipt_OutOfOrder(t *testing.T) {
	store := memory.NewStore()
	gw := &fakeGateway{}
	svc := newTestService(store, gw, RetryPolicy{})
	userID := uuid.New()
	connectUser(t, store, userID)

	b := &model.Broadcast{
		UserID:          userID,
		Name:            "gala",
		Status:          model.BroadcastStatusProcessing,
		TotalRecipients: 1,
	}
	require.NoError(t, store.Broadcasts().Create(context.Background(), b))

	msg, err := svc.Enqueue(context.Background(), userID, &b.ID, "+361234567", "hello", "")
	require.NoError(t, err)
	_, err = svc.Drain(context.Background(), []uuid.UUID{msg.ID})
	require.NoError(t, err)

	sent, err := svc.GetMessage(context.Background(), userID, msg.ID)
	require.NoError(t, err)
	require.NotEmpty(t, sent.ProviderMessageID)

	// Read receipt arrives before the delivered receipt.
	err = svc.RecordDeliveryReceipt(context.Background(), sent.ProviderMessageID, model.DeliveryStatusRead, []byte(`{"status":"read"}`))
	require.NoError(t, err)
	err = svc.RecordDeliveryReceipt(context.Background(), sent.ProviderMessageID, model.DeliveryStatusDelivered, []byte(`{"status":"delivered"}`))
	require.NoError(t, err)

	statuses, err := store.Messages().ListDeliveryStatuses(context.Background(), msg.ID)
	require.NoError(t, err)
	require.Len(t, statuses, 3, "sent, read, delivered all recorded")
	assert.Equal(t, model.DeliveryStatusSent, statuses[0].Kind)
	assert.Equal(t, model.DeliveryStatusRead, statuses[1].Kind)
	assert.Equal(t, model.DeliveryStatusDelivered, statuses[2].Kind)

	stored, err := store.Broadcasts().Get(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.DeliveredCount)
	assert.Equal(t, 1, stored.ReadCount)
}

func TestRecordDeliveryReceipt_UnknownKind(t *testing.T) {
	store := memory.NewStore()
	svc := newTestService(store, &fakeGateway{}, RetryPolicy{})

	err := svc.RecordDeliveryReceipt(context.Background(), "pm-1", "teleported", nil)
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrBadRequest, apperrors.CodeOf(err))
}
