package main

import (
	"context"
	"flag"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"paycheck/internal/engine/ledger"
	"paycheck/internal/engine/providers"
	"paycheck/internal/engine/receivers"
	"paycheck/internal/engine/verification"
	"paycheck/internal/engine/webhooks"
	"paycheck/internal/pkg/logger"
	"paycheck/internal/platform/config"
	"paycheck/internal/platform/database"
	"paycheck/internal/platform/repositories"
	"paycheck/internal/platform/secrets"
	"paycheck/internal/workers"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	logger.Init(cfg.Logging)

	log.Info().Msg("Starting Paycheck background workers")

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

	dispatcher := webhooks.NewDispatcher(repositories.NewWebhookRepository(db), repositories.NewDeliveryRepository(db), box, &http.Client{}, webhooks.Options{
		WorkerCount: cfg.Webhooks.WorkerCount,
		Timeout:     cfg.Webhooks.Timeout,
		MaxAttempts: cfg.Webhooks.RetryAttempts,
		Schedule:    schedule,
		Lease:       cfg.Webhooks.LeaseDuration,
	})

	// Intent expiry never reaches a provider or a notifier.
	engine := verification.NewEngine(providers.NewRegistry(), receivers.NewService(receivers.NewRepository(db)),
		ledger.NewRepository(db), nil, cfg.Verification.IntentTTL)

	jobs := workers.NewJobs(webhooks.NewRetrier(dispatcher), engine, cfg.Webhooks.BatchSize, 0)
	scheduler := workers.NewScheduler(jobs, cfg.Webhooks.PollInterval, cfg.Verification.ExpirySweep)
	if err := scheduler.Start(); err != nil {
		log.Fatal().Err(err).Msg("Failed to start scheduler")
	}

	<-ctx.Done()
	log.Info().Msg("Stopping workers")
	<-scheduler.Stop().Done()
}
