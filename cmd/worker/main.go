package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/gatherhq/messaging-api/internal/config"
	"github.com/gatherhq/messaging-api/internal/email"
	"github.com/gatherhq/messaging-api/internal/gateway"
	"github.com/gatherhq/messaging-api/internal/repository/postgres"
	broadcastService "github.com/gatherhq/messaging-api/internal/service/broadcast"
	messageService "github.com/gatherhq/messaging-api/internal/service/message"
	sessionService "github.com/gatherhq/messaging-api/internal/service/session"
	"github.com/gatherhq/messaging-api/internal/worker"
	"github.com/gatherhq/messaging-api/pkg/logger"
	"github.com/gatherhq/messaging-api/pkg/messaging/redis"
	"github.com/gatherhq/messaging-api/pkg/metrics"
)

// workerEnv overrides the file config for worker deployments, where tuning
// happens per instance through the environment.
type workerEnv struct {
	BatchSize    int           `envconfig:"WORKER_BATCH_SIZE"`
	PollInterval time.Duration `envconfig:"WORKER_POLL_INTERVAL"`
	HTTPPort     int           `envconfig:"WORKER_HTTP_PORT" default:"9090"`
}

func main() {
	log.Logger = logger.NewLogger(nil).ZL

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	var env workerEnv
	if err := envconfig.Process("", &env); err != nil {
		log.Fatal().Err(err).Msg("failed to parse worker environment")
	}
	if env.BatchSize > 0 {
		cfg.Dispatcher.BatchSize = env.BatchSize
	}
	if env.PollInterval > 0 {
		cfg.Dispatcher.PollInterval = env.PollInterval
	}

	db, err := postgres.NewDB(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	broker, err := redis.NewRedisBroker(cfg.Redis.ToBrokerConfig(), &log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to Redis")
	}
	defer broker.Close()

	sessionRepo := postgres.NewSessionRepository(db)
	templateRepo := postgres.NewTemplateRepository(db)
	broadcastRepo := postgres.NewBroadcastRepository(db)
	messageRepo := postgres.NewMessageRepository(db)

	m := metrics.NewMetrics("messaging", "worker")

	var gw gateway.Gateway
	if cfg.Gateway.DemoMode {
		log.Warn().Msg("gateway running in demo mode, no real messages will be sent")
		gw = gateway.NewDemoGateway(5 * time.Second)
	} else {
		gw = gateway.NewHTTPGateway(gateway.Config{
			BaseURL: cfg.Gateway.BaseURL,
			APIKey:  cfg.Gateway.APIKey,
			Timeout: cfg.Gateway.Timeout,
		})
	}
	gw = gateway.WithMetrics(gw, m)

	var mailer email.Sender = email.NoopSender{}
	if cfg.Email.Enabled {
		mailer = email.NewSMTPSender(email.Config{
			Host:     cfg.Email.Host,
			Port:     cfg.Email.Port,
			Username: cfg.Email.Username,
			Password: cfg.Email.Password,
			From:     cfg.Email.From,
			NotifyTo: cfg.Email.NotifyTo,
		})
	}

	sessionSvc := sessionService.NewService(sessionRepo, gw, broker)
	messageSvc := messageService.NewService(
		messageRepo, sessionRepo, broadcastRepo, gw, broker,
		messageService.RetryPolicy{
			MaxAttempts: cfg.Dispatcher.MaxAttempts,
			Backoff:     cfg.Dispatcher.RetryDelay,
		},
	)
	broadcastSvc := broadcastService.NewService(
		broadcastRepo, templateRepo, sessionRepo, messageRepo,
		messageSvc, mailer, broker,
	)

	dispatcher := worker.NewDispatcher(messageSvc, broadcastSvc, m, worker.DispatcherConfig{
		BatchSize:    cfg.Dispatcher.BatchSize,
		PollInterval: cfg.Dispatcher.PollInterval,
		StaleAge:     cfg.Dispatcher.StaleAge,
	})
	poller := worker.NewPoller(sessionSvc, broadcastSvc, m, worker.PollerConfig{
		Interval:         cfg.Poller.Interval,
		MaxConnectingAge: cfg.Poller.MaxConnectingAge,
	})

	ctx, cancel := context.WithCancel(context.Background())
	go dispatcher.Run(ctx)
	go poller.Run(ctx)

	// Health and metrics listener for orchestrator probes and scraping.
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if err := db.PingContext(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", env.HTTPPort), Handler: mux}
	go func() {
		log.Info().Int("port", env.HTTPPort).Msg("worker http listener started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("worker http listener failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down workers...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("worker http listener forced to shutdown")
	}

	// Give in-flight drains a moment to settle.
	time.Sleep(time.Second)
	log.Info().Msg("workers exited")
}
