package broadcast

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatherhq/messaging-api/internal/gateway"
	"github.com/gatherhq/messaging-api/internal/model"
	"github.com/gatherhq/messaging-api/internal/repository/memory"
	messageService "github.com/gatherhq/messaging-api/internal/service/message"
	apperrors "github.com/gatherhq/messaging-api/pkg/errors"
)

type fakeGateway struct {
	sendFn func(ctx context.Context, sessionID, phone, content, mediaURL string) (*gateway.SendResult, error)
	sent   []sentMessage
}

type sentMessage struct {
	phone   string
	content string
}

func (f *fakeGateway) InitializeConnection(_ context.Context, _ model.ConnectionKind) (*gateway.ConnectResult, error) {
	return &gateway.ConnectResult{SessionID: "provider-session"}, nil
}

func (f *fakeGateway) CheckStatus(_ context.Context, _ string) (*gateway.StatusResult, error) {
	return &gateway.StatusResult{Status: model.SessionStatusConnected}, nil
}

func (f *fakeGateway) SendMessage(ctx context.Context, sessionID, phone, content, mediaURL string) (*gateway.SendResult, error) {
	if f.sendFn != nil {
		return f.sendFn(ctx, sessionID, phone, content, mediaURL)
	}
	f.sent = append(f.sent, sentMessage{phone: phone, content: content})
	return &gateway.SendResult{ProviderMessageID: "pm-" + phone}, nil
}

func (f *fakeGateway) Disconnect(_ context.Context, _ string) error { return nil }

type fixture struct {
	store *memory.Store
	gw    *fakeGateway
	svc   *Service
	queue *messageService.Service
}

func newFixture() *fixture {
	store := memory.NewStore()
	gw := &fakeGateway{}
	queue := messageService.NewService(
		store.Messages(), store.Sessions(), store.Broadcasts(), gw, nil,
		messageService.RetryPolicy{MaxAttempts: 1, Backoff: time.Millisecond},
	)
	svc := NewService(
		store.Broadcasts(), store.Templates(), store.Sessions(), store.Messages(),
		queue, nil, nil,
	)
	return &fixture{store: store, gw: gw, svc: svc, queue: queue}
}

func (f *fixture) connectUser(t *testing.T, userID uuid.UUID) {
	t.Helper()
	err := f.store.Sessions().Create(context.Background(), &model.Session{
		UserID:          userID,
		Kind:            model.ConnectionKindWeb,
		Status:          model.SessionStatusConnected,
		ProviderPayload: "provider-session",
	})
	require.NoError(t, err)
}

func (f *fixture) createTemplate(t *testing.T, userID uuid.UUID, content string) *model.Template {
	t.Helper()
	tmpl := &model.Template{UserID: userID, Title: "invite", Content: content}
	require.NoError(t, f.store.Templates().Create(context.Background(), tmpl))
	return tmpl
}

func TestCreateBroadcast_Validation(t *testing.T) {
	f := newFixture()
	userID := uuid.New()

	_, err := f.svc.CreateBroadcast(context.Background(), userID, CreateInput{Name: ""})
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrBadRequest, apperrors.CodeOf(err))

	_, err = f.svc.CreateBroadcast(context.Background(), userID, CreateInput{Name: "gala"})
	require.Error(t, err, "template or body required")

	past := time.Now().Add(-time.Hour)
	_, err = f.svc.CreateBroadcast(context.Background(), userID, CreateInput{Name: "gala", Body: "hi", ScheduledFor: &past})
	require.Error(t, err, "scheduled time must be in the future")

	b, err := f.svc.CreateBroadcast(context.Background(), userID, CreateInput{Name: "gala", Body: "hi"})
	require.NoError(t, err)
	assert.Equal(t, model.BroadcastStatusDraft, b.Status)
	assert.Equal(t, 0, b.TotalRecipients)
}

func TestExpandAndSend_NoConnectedSession(t *testing.T) {
	f := newFixture()
	userID := uuid.New()

	b, err := f.svc.CreateBroadcast(context.Background(), userID, CreateInput{Name: "gala", Body: "hi"})
	require.NoError(t, err)

	_, err = f.svc.ExpandAndSend(context.Background(), userID, b.ID, []model.Recipient{{Phone: "+361234567"}})
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrPrecondition, apperrors.CodeOf(err))

	depth, err := f.queue.QueueDepth(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, depth, "no messages enqueued when the session check fails")

	stored, err := f.store.Broadcasts().Get(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BroadcastStatusDraft, stored.Status, "broadcast stays draft")
}

func TestExpandAndSend_EmptyRecipients(t *testing.T) {
	f := newFixture()
	userID := uuid.New()
	f.connectUser(t, userID)

	b, err := f.svc.CreateBroadcast(context.Background(), userID, CreateInput{Name: "gala", Body: "hi"})
	require.NoError(t, err)

	_, err = f.svc.ExpandAndSend(context.Background(), userID, b.ID, nil)
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrBadRequest, apperrors.CodeOf(err))
}

func TestExpandAndSend_RendersPerRecipient(t *testing.T) {
	f := newFixture()
	userID := uuid.New()
	f.connectUser(t, userID)
	tmpl := f.createTemplate(t, userID, "Hi {{name}}, event is {{event}}")

	b, err := f.svc.CreateBroadcast(context.Background(), userID, CreateInput{Name: "gala", TemplateID: &tmpl.ID})
	require.NoError(t, err)

	result, err := f.svc.ExpandAndSend(context.Background(), userID, b.ID, []model.Recipient{
		{Phone: "+10000000", Fields: map[string]string{"name": "Ana", "event": "Gala"}},
		{Phone: "+20000000", Fields: map[string]string{"name": "Bob", "event": "Gala"}},
	})
	require.NoError(t, err)

	assert.Equal(t, model.BroadcastStatusCompleted, result.Status)
	assert.Equal(t, 2, result.TotalRecipients)
	assert.Equal(t, 2, result.SentCount)
	assert.Equal(t, 0, result.FailedCount)

	require.Len(t, f.gw.sent, 2)
	assert.Equal(t, "Hi Ana, event is Gala", f.gw.sent[0].content)
	assert.Equal(t, "Hi Bob, event is Gala", f.gw.sent[1].content)
}

func TestExpandAndSend_PartialFailureCompletes(t *testing.T) {
	f := newFixture()
	userID := uuid.New()
	f.connectUser(t, userID)
	f.gw.sendFn = func(_ context.Context, _, phone, _, _ string) (*gateway.SendResult, error) {
		if phone == "+20000000" {
			return nil, gateway.ErrInvalidRecipient
		}
		return &gateway.SendResult{ProviderMessageID: "pm-" + phone}, nil
	}

	b, err := f.svc.CreateBroadcast(context.Background(), userID, CreateInput{Name: "gala", Body: "hi"})
	require.NoError(t, err)

	result, err := f.svc.ExpandAndSend(context.Background(), userID, b.ID, []model.Recipient{
		{Phone: "+10000000"},
		{Phone: "+20000000"},
		{Phone: "+30000000"},
	})
	require.NoError(t, err)

	assert.Equal(t, model.BroadcastStatusCompleted, result.Status, "partial failure still completes")
	assert.Equal(t, 2, result.SentCount)
	assert.Equal(t, 1, result.FailedCount)
	assert.LessOrEqual(t, result.SentCount+result.FailedCount, result.TotalRecipients)
}

func TestExpandAndSend_AllFailuresFail(t *testing.T) {
	f := newFixture()
	userID := uuid.New()
	f.connectUser(t, userID)
	f.gw.sendFn = func(_ context.Context, _, _, _, _ string) (*gateway.SendResult, error) {
		return nil, gateway.ErrInvalidRecipient
	}

	b, err := f.svc.CreateBroadcast(context.Background(), userID, CreateInput{Name: "gala", Body: "hi"})
	require.NoError(t, err)

	result, err := f.svc.ExpandAndSend(context.Background(), userID, b.ID, []model.Recipient{
		{Phone: "+10000000"},
		{Phone: "+20000000"},
	})
	require.NoError(t, err)

	assert.Equal(t, model.BroadcastStatusFailed, result.Status)
	assert.Equal(t, 0, result.SentCount)
	assert.Equal(t, 2, result.FailedCount)
}

func TestExpandAndSend_CannotExpandTwice(t *testing.T) {
	f := newFixture()
	userID := uuid.New()
	f.connectUser(t, userID)

	b, err := f.svc.CreateBroadcast(context.Background(), userID, CreateInput{Name: "gala", Body: "hi"})
	require.NoError(t, err)

	_, err = f.svc.ExpandAndSend(context.Background(), userID, b.ID, []model.Recipient{{Phone: "+10000000"}})
	require.NoError(t, err)

	_, err = f.svc.ExpandAndSend(context.Background(), userID, b.ID, []model.Recipient{{Phone: "+20000000"}})
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrPrecondition, apperrors.CodeOf(err))

	stored, err := f.store.Broadcasts().Get(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.TotalRecipients, "totals fixed by the first expansion")
}

func TestExpandAndSend_ScheduledWaitsForRelease(t *testing.T) {
	f := newFixture()
	userID := uuid.New()
	f.connectUser(t, userID)

	future := time.Now().Add(time.Hour)
	b, err := f.svc.CreateBroadcast(context.Background(), userID, CreateInput{Name: "later", Body: "hi", ScheduledFor: &future})
	require.NoError(t, err)

	result, err := f.svc.ExpandAndSend(context.Background(), userID, b.ID, []model.Recipient{{Phone: "+10000000"}})
	require.NoError(t, err)
	assert.Equal(t, model.BroadcastStatusScheduled, result.Status)
	assert.Empty(t, f.gw.sent, "nothing sent before the scheduled time")

	// Not due yet.
	released, err := f.svc.ReconcileScheduled(context.Background(), time.Now(), 10)
	require.NoError(t, err)
	assert.Equal(t, 0, released)

	// Past the scheduled time the broadcast moves to processing and its
	// messages become drainable.
	released, err = f.svc.ReconcileScheduled(context.Background(), future.Add(time.Minute), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, released)

	report, err := f.queue.DrainBatch(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Sent)

	final, err := f.svc.FinalizeIfComplete(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BroadcastStatusCompleted, final.Status)
}

func TestProgress(t *testing.T) {
	f := newFixture()
	userID := uuid.New()
	f.connectUser(t, userID)

	b, err := f.svc.CreateBroadcast(context.Background(), userID, CreateInput{Name: "gala", Body: "hi"})
	require.NoError(t, err)

	_, err = f.svc.ExpandAndSend(context.Background(), userID, b.ID, []model.Recipient{
		{Phone: "+10000000"},
		{Phone: "+20000000"},
	})
	require.NoError(t, err)

	progress, err := f.svc.Progress(context.Background(), userID, b.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, progress.Total)
	assert.Equal(t, 2, progress.Sent)
	assert.Equal(t, model.BroadcastStatusCompleted, progress.Status)
}

func TestOwnershipScoping(t *testing.T) {
	f := newFixture()
	owner := uuid.New()
	stranger := uuid.New()

	b, err := f.svc.CreateBroadcast(context.Background(), owner, CreateInput{Name: "gala", Body: "hi"})
	require.NoError(t, err)

	_, err = f.svc.GetBroadcast(context.Background(), stranger, b.ID)
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrNotFound, apperrors.CodeOf(err), "foreign broadcasts look like they do not exist")
}

func TestFinalizeIfComplete_IsIdempotent(t *testing.T) {
	f := newFixture()
	userID := uuid.New()
	f.connectUser(t, userID)

	b, err := f.svc.CreateBroadcast(context.Background(), userID, CreateInput{Name: "gala", Body: "hi"})
	require.NoError(t, err)
	_, err = f.svc.ExpandAndSend(context.Background(), userID, b.ID, []model.Recipient{{Phone: "+10000000"}})
	require.NoError(t, err)

	first, err := f.svc.FinalizeIfComplete(context.Background(), b.ID)
	require.NoError(t, err)
	second, err := f.svc.FinalizeIfComplete(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Equal(t, first.Status, second.Status)
}

func TestReconcileProcessing_CountsFinalizedBroadcasts(t *testing.T) {
	f := newFixture()
	userID := uuid.New()

	// Broadcasts stuck in processing with all messages settled, as if the
	// drain crashed before its finalize call.
	seed := func(status model.MessageStatus) *model.Broadcast {
		b := &model.Broadcast{
			UserID:          userID,
			Name:            "gala",
			Status:          model.BroadcastStatusProcessing,
			TotalRecipients: 1,
		}
		require.NoError(t, f.store.Broadcasts().Create(context.Background(), b))
		msg := &model.QueuedMessage{
			UserID:         userID,
			BroadcastID:    &b.ID,
			RecipientPhone: "+10000000",
			Content:        "hi",
			Status:         status,
		}
		require.NoError(t, f.store.Messages().Create(context.Background(), msg))
		if status == model.MessageStatusSent {
			require.NoError(t, f.store.Broadcasts().IncrementSent(context.Background(), b.ID))
		} else {
			require.NoError(t, f.store.Broadcasts().IncrementFailed(context.Background(), b.ID))
		}
		return b
	}

	delivered := seed(model.MessageStatusSent)
	dead := seed(model.MessageStatusFailed)

	completed, failed, err := f.svc.ReconcileProcessing(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, completed)
	assert.Equal(t, 1, failed)

	stored, err := f.store.Broadcasts().Get(context.Background(), delivered.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BroadcastStatusCompleted, stored.Status)
	stored, err = f.store.Broadcasts().Get(context.Background(), dead.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BroadcastStatusFailed, stored.Status)

	completed, failed, err = f.svc.ReconcileProcessing(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 0, completed, "already-final broadcasts are not recounted")
	assert.Equal(t, 0, failed)
}
