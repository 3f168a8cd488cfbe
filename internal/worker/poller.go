package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/gatherhq/messaging-api/internal/service/broadcast"
	"github.com/gatherhq/messaging-api/internal/service/session"
	"github.com/gatherhq/messaging-api/pkg/metrics"
)

type PollerConfig struct {
	Interval         time.Duration
	MaxConnectingAge time.Duration
	BatchSize        int
}

// Poller reconciles sessions stuck in connecting and releases scheduled
// broadcasts once their send time arrives.
type Poller struct {
	sessions   *session.Service
	broadcasts *broadcast.Service
	metrics    *metrics.Metrics
	cfg        PollerConfig
}

func NewPoller(sessions *session.Service, broadcasts *broadcast.Service, m *metrics.Metrics, cfg PollerConfig) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = 4 * time.Second
	}
	if cfg.MaxConnectingAge <= 0 {
		cfg.MaxConnectingAge = 2 * time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	return &Poller{sessions: sessions, broadcasts: broadcasts, metrics: m, cfg: cfg}
}

// Run blocks until ctx is canceled.
func (p *Poller) Run(ctx context.Context) {
	log.Info().
		Dur("interval", p.cfg.Interval).
		Dur("max_connecting_age", p.cfg.MaxConnectingAge).
		Msg("poller started")

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("poller stopped")
			return
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

func (p *Poller) tick(ctx context.Context) {
	if p.metrics != nil {
		p.metrics.SessionPolls.Inc()
	}

	if err := p.sessions.ReconcileConnecting(ctx, p.cfg.MaxConnectingAge, p.cfg.BatchSize); err != nil {
		log.Error().Err(err).Msg("session reconcile failed")
	}

	released, err := p.broadcasts.ReconcileScheduled(ctx, time.Now(), p.cfg.BatchSize)
	if err != nil {
		log.Error().Err(err).Msg("scheduled broadcast reconcile failed")
		return
	}
	if released > 0 {
		log.Info().Int("released", released).Msg("released scheduled broadcasts")
	}
}
