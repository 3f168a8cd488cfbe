// Package worker holds the background loops that move queued work forward:
// the dispatcher drains the send queue and the poller reconciles sessions
// and broadcast lifecycles.
package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/gatherhq/messaging-api/internal/service/broadcast"
	"github.com/gatherhq/messaging-api/internal/service/message"
	"github.com/gatherhq/messaging-api/pkg/metrics"
)

type DispatcherConfig struct {
	BatchSize    int
	PollInterval time.Duration
	// StaleAge is how long a processing message may sit untouched before it
	// is reclaimed and re-driven to a terminal state.
	StaleAge time.Duration
}

// Dispatcher drains pending messages on a fixed interval. Claims use row
// locks with skip, so multiple dispatcher instances can run side by side.
type Dispatcher struct {
	queue      *message.Service
	broadcasts *broadcast.Service
	metrics    *metrics.Metrics
	cfg        DispatcherConfig
}

func NewDispatcher(queue *message.Service, broadcasts *broadcast.Service, m *metrics.Metrics, cfg DispatcherConfig) *Dispatcher {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.StaleAge <= 0 {
		cfg.StaleAge = 5 * time.Minute
	}
	return &Dispatcher{queue: queue, broadcasts: broadcasts, metrics: m, cfg: cfg}
}

// Run blocks until ctx is canceled.
func (d *Dispatcher) Run(ctx context.Context) {
	log.Info().
		Int("batch_size", d.cfg.BatchSize).
		Dur("poll_interval", d.cfg.PollInterval).
		Msg("dispatcher started")

	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("dispatcher stopped")
			return
		case <-ticker.C:
			d.tick(ctx)
		}
	}
}

func (d *Dispatcher) tick(ctx context.Context) {
	start := time.Now()

	report, err := d.queue.DrainBatch(ctx, d.cfg.BatchSize)
	if err != nil {
		log.Error().Err(err).Msg("drain batch failed")
		return
	}

	reclaimed, err := d.queue.ReclaimStale(ctx, d.cfg.StaleAge, d.cfg.BatchSize)
	if err != nil {
		log.Error().Err(err).Msg("stale reclaim failed")
	} else if reclaimed.Claimed > 0 {
		log.Warn().
			Int("reclaimed", reclaimed.Claimed).
			Int("sent", reclaimed.Sent).
			Int("failed", reclaimed.Failed).
			Msg("reclaimed stale processing messages")
		report.Claimed += reclaimed.Claimed
		report.Sent += reclaimed.Sent
		report.Failed += reclaimed.Failed
	}

	if d.metrics != nil {
		d.metrics.DrainLatency.Observe(time.Since(start).Seconds())
		d.metrics.MessagesSent.Add(float64(report.Sent))
		d.metrics.MessagesFailed.Add(float64(report.Failed))
		d.metrics.MessageAttempts.WithLabelValues("sent").Add(float64(report.Sent))
		d.metrics.MessageAttempts.WithLabelValues("failed").Add(float64(report.Failed))

		if depth, err := d.queue.QueueDepth(ctx); err == nil {
			d.metrics.QueueDepth.Set(float64(depth))
		}
	}

	if report.Claimed > 0 {
		log.Info().
			Int("claimed", report.Claimed).
			Int("sent", report.Sent).
			Int("failed", report.Failed).
			Dur("took", time.Since(start)).
			Msg("drained batch")
	}

	completed, failed, err := d.broadcasts.ReconcileProcessing(ctx, d.cfg.BatchSize)
	if err != nil {
		log.Error().Err(err).Msg("broadcast reconcile failed")
		return
	}
	if d.metrics != nil {
		d.metrics.BroadcastsCompleted.Add(float64(completed))
		d.metrics.BroadcastsFailed.Add(float64(failed))
	}
}
