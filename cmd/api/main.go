package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/gatherhq/messaging-api/internal/config"
	"github.com/gatherhq/messaging-api/internal/email"
	"github.com/gatherhq/messaging-api/internal/gateway"
	broadcastHandler "github.com/gatherhq/messaging-api/internal/handler/broadcast"
	healthHandler "github.com/gatherhq/messaging-api/internal/handler/health"
	messageHandler "github.com/gatherhq/messaging-api/internal/handler/message"
	sessionHandler "github.com/gatherhq/messaging-api/internal/handler/session"
	templateHandler "github.com/gatherhq/messaging-api/internal/handler/template"
	webhookHandler "github.com/gatherhq/messaging-api/internal/handler/webhook"
	"github.com/gatherhq/messaging-api/internal/middleware"
	"github.com/gatherhq/messaging-api/internal/repository/postgres"
	"github.com/gatherhq/messaging-api/internal/router"
	broadcastService "github.com/gatherhq/messaging-api/internal/service/broadcast"
	messageService "github.com/gatherhq/messaging-api/internal/service/message"
	sessionService "github.com/gatherhq/messaging-api/internal/service/session"
	templateService "github.com/gatherhq/messaging-api/internal/service/template"
	"github.com/gatherhq/messaging-api/internal/worker"
	"github.com/gatherhq/messaging-api/pkg/logger"
	redisBroker "github.com/gatherhq/messaging-api/pkg/messaging/redis"
	"github.com/gatherhq/messaging-api/pkg/metrics"
)

func main() {
	log.Logger = logger.NewLogger(nil).ZL

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	db, err := postgres.NewDB(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	broker, err := redisBroker.NewRedisBroker(cfg.Redis.ToBrokerConfig(), &log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to Redis")
	}
	defer broker.Close()

	sessionRepo := postgres.NewSessionRepository(db)
	templateRepo := postgres.NewTemplateRepository(db)
	broadcastRepo := postgres.NewBroadcastRepository(db)
	messageRepo := postgres.NewMessageRepository(db)

	m := metrics.NewMetrics("messaging", "api")

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
	templateSvc := templateService.NewService(templateRepo)
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

	// The API runs the dispatcher and poller in process; cmd/worker exists
	// for deployments that separate background work from serving.
	dispatcher := worker.NewDispatcher(messageSvc, broadcastSvc, m, worker.DispatcherConfig{
		BatchSize:    cfg.Dispatcher.BatchSize,
		PollInterval: cfg.Dispatcher.PollInterval,
		StaleAge:     cfg.Dispatcher.StaleAge,
	})
	poller := worker.NewPoller(sessionSvc, broadcastSvc, m, worker.PollerConfig{
		Interval:         cfg.Poller.Interval,
		MaxConnectingAge: cfg.Poller.MaxConnectingAge,
	})

	workerCtx, stopWorkers := context.WithCancel(context.Background())
	go dispatcher.Run(workerCtx)
	go poller.Run(workerCtx)

	authMiddleware := middleware.NewAuthMiddleware(cfg.JWT.Secret)

	r := router.NewRouter(
		authMiddleware,
		healthHandler.NewHandler(db),
		sessionHandler.NewHandler(sessionSvc),
		templateHandler.NewHandler(templateSvc),
		broadcastHandler.NewHandler(broadcastSvc),
		messageHandler.NewHandler(messageSvc),
		webhookHandler.NewHandler(messageSvc, cfg.Gateway.WebhookSecret),
		router.Config{
			RateLimitRPS:   cfg.Server.RateLimitRPS,
			RateLimitBurst: cfg.Server.RateLimitBurst,
		},
	)
	r.Setup()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r.Engine(),
		ReadTimeout:  time.Duration(cfg.Server.TimeoutSeconds) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.TimeoutSeconds) * time.Second,
	}

	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server...")
	stopWorkers()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server exited properly")
}
