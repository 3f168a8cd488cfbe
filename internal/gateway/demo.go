package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gatherhq/messaging-api/internal/model"
)

// DemoGateway simulates the channel provider for environments without
// provider credentials. It is selected by an explicit configuration flag;
// the HTTP gateway never falls back to it on error.
type DemoGateway struct {
	// ConnectDelay is how long a web linkage stays in connecting before the
	// simulated scan completes.
	ConnectDelay time.Duration

	mu       sync.Mutex
	sessions map[string]*demoSession
}

type demoSession struct {
	kind      model.ConnectionKind
	createdAt time.Time
	gone      bool
}

func NewDemoGateway(connectDelay time.Duration) *DemoGateway {
	if connectDelay <= 0 {
		connectDelay = 5 * time.Second
	}
	return &DemoGateway{
		ConnectDelay: connectDelay,
		sessions:     make(map[string]*demoSession),
	}
}

func (g *DemoGateway) InitializeConnection(ctx context.Context, kind model.ConnectionKind) (*ConnectResult, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidConnectionKind, kind)
	}

	id := "demo-" + uuid.New().String()

	g.mu.Lock()
	g.sessions[id] = &demoSession{kind: kind, createdAt: time.Now()}
	g.mu.Unlock()

	if kind == model.ConnectionKindBusinessAPI {
		return &ConnectResult{SessionID: id, Confirmed: true}, nil
	}

	payload, _ := json.Marshal(map[string]string{"session": id, "provider": "demo"})
	handshake := "data:image/png;base64," + base64.StdEncoding.EncodeToString(payload)
	return &ConnectResult{SessionID: id, Handshake: handshake}, nil
}

func (g *DemoGateway) CheckStatus(ctx context.Context, sessionID string) (*StatusResult, error) {
	g.mu.Lock()
	s, ok := g.sessions[sessionID]
	g.mu.Unlock()

	if !ok || s.gone {
		return &StatusResult{Status: model.SessionStatusDisconnected}, nil
	}

	if s.kind == model.ConnectionKindWeb && time.Since(s.createdAt) < g.ConnectDelay {
		return &StatusResult{Status: model.SessionStatusConnecting}, nil
	}

	now := time.Now()
	return &StatusResult{
		Status:        model.SessionStatusConnected,
		DisplayName:   "Demo Account",
		PhoneNumber:   "+15550100000",
		LastConnected: &now,
	}, nil
}

func (g *DemoGateway) SendMessage(ctx context.Context, sessionID, recipientPhone, content, mediaURL string) (*SendResult, error) {
	if !ValidPhone(recipientPhone) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRecipient, recipientPhone)
	}

	status, err := g.CheckStatus(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if status.Status != model.SessionStatusConnected {
		return nil, fmt.Errorf("%w: session %s is %s", ErrSessionNotConnected, sessionID, status.Status)
	}

	return &SendResult{
		ProviderMessageID: "demo-msg-" + uuid.New().String(),
		Status:            "sent",
	}, nil
}

func (g *DemoGateway) Disconnect(ctx context.Context, sessionID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if s, ok := g.sessions[sessionID]; ok {
		s.gone = true
	}
	return nil
}
