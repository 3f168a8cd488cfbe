package gateway

import (
	"context"
	"time"

	"github.com/gatherhq/messaging-api/internal/model"
	"github.com/gatherhq/messaging-api/pkg/metrics"
)

// instrumentedGateway records call counts and latency for every provider
// operation. Wraps any Gateway, including the demo one.
type instrumentedGateway struct {
	next Gateway
	m    *metrics.Metrics
}

// WithMetrics wraps gw so every provider call is counted and timed.
func WithMetrics(gw Gateway, m *metrics.Metrics) Gateway {
	if m == nil {
		return gw
	}
	return &instrumentedGateway{next: gw, m: m}
}

func (g *instrumentedGateway) observe(op string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	g.m.GatewayCalls.WithLabelValues(op, outcome).Inc()
	g.m.GatewayLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (g *instrumentedGateway) InitializeConnection(ctx context.Context, kind model.ConnectionKind) (*ConnectResult, error) {
	start := time.Now()
	res, err := g.next.InitializeConnection(ctx, kind)
	g.observe("initialize", start, err)
	return res, err
}

func (g *instrumentedGateway) CheckStatus(ctx context.Context, sessionID string) (*StatusResult, error) {
	start := time.Now()
	res, err := g.next.CheckStatus(ctx, sessionID)
	g.observe("check_status", start, err)
	return res, err
}

func (g *instrumentedGateway) SendMessage(ctx context.Context, sessionID, recipientPhone, content, mediaURL string) (*SendResult, error) {
	start := time.Now()
	res, err := g.next.SendMessage(ctx, sessionID, recipientPhone, content, mediaURL)
	g.observe("send", start, err)
	return res, err
}

func (g *instrumentedGateway) Disconnect(ctx context.Context, sessionID string) error {
	start := time.Now()
	err := g.next.Disconnect(ctx, sessionID)
	g.observe("disconnect", start, err)
	return err
}
