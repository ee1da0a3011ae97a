package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"paycheck/internal/api"
	"paycheck/internal/api/handlers"
	"paycheck/internal/api/middleware"
	"paycheck/internal/engine/ledger"
	"paycheck/internal/engine/providers"
	"paycheck/internal/engine/receivers"
	"paycheck/internal/engine/verification"
	"paycheck/internal/engine/webhooks"
	"paycheck/internal/pkg/logger"
	"paycheck/internal/platform/audit"
	"paycheck/internal/platform/auth"
	"paycheck/internal/platform/config"
	"paycheck/internal/platform/database"
	"paycheck/internal/platform/events"
	"paycheck/internal/platform/metrics"
	"paycheck/internal/platform/repositories"
	"paycheck/internal/platform/secrets"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	logger.Init(cfg.Logging)
	metrics.Register()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	box, err := secrets.NewBoxFromHex(cfg.Webhooks.SecretKey)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid webhooks.secret_key")
	}
	schedule, _ := cfg.Webhooks.Schedule()

	// Repositories
	webhookRepo := repositories.NewWebhookRepository(db)
	deliveryRepo := repositories.NewDeliveryRepository(db)

	// Services
	dispatcher := webhooks.NewDispatcher(webhookRepo, deliveryRepo, box, &http.Client{}, webhooks.Options{
		WorkerCount: cfg.Webhooks.WorkerCount,
		Timeout:     cfg.Webhooks.Timeout,
		MaxAttempts: cfg.Webhooks.RetryAttempts,
		Schedule:    schedule,
		Lease:       cfg.Webhooks.LeaseDuration,
	})
	dispatcher.Start()
	defer dispatcher.Stop()

	bus := events.Connect(cfg.RabbitMQ.URL, cfg.RabbitMQ.Exchange)
	defer bus.Close()

	receiverSvc := receivers.NewService(receivers.NewRepository(db))
	registry := providers.NewRegistryFromConfig(cfg.Providers, &http.Client{})
	engine := verification.NewEngine(registry, receiverSvc, ledger.NewRepository(db),
		verification.NewFanout(dispatcher, bus), cfg.Verification.IntentTTL)

	tokenSvc := auth.NewTokenService(cfg.JWT)
	auditLogger := audit.NewLogger(db)

	limiter := middleware.NewLimiter(ctx, cfg.Redis.URL, cfg.Redis.Prefix)
	if mem, ok := limiter.(*middleware.MemoryLimiter); ok {
		go mem.Run(ctx)
	}

	// Router
	deps := &api.Dependencies{
		VerificationHandler: handlers.NewVerificationHandler(engine),
		IntentHandler:       handlers.NewIntentHandler(engine, receiverSvc),
		ReceiverHandler:     handlers.NewReceiverHandler(receiverSvc, auditLogger),
		WebhookHandler:      handlers.NewWebhookHandler(webhooks.NewService(dispatcher), auditLogger),
		AuditHandler:        handlers.NewAuditHandler(auditLogger),
		HealthHandler:       handlers.NewHealthHandler(db),
		AuthMiddleware:      middleware.NewAuthMiddleware(tokenSvc),
		Limiter:             limiter,
		VerifyPerMinute:     cfg.RateLimit.VerifyPerMinute,
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      api.NewRouter(deps),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	drained := make(chan struct{})
	go func() {
		defer close(drained)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server shutdown failed")
		}
	}()

	log.Info().Str("addr", srv.Addr).Msg("Server starting")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("Server failed")
	}
	// In-flight handlers may still emit webhooks until Shutdown returns.
	<-drained
	log.Info().Msg("Server stopped")
}
