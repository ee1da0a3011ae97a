package main

import (
	"flag"

	"github.com/rs/zerolog/log"
	"paycheck/internal/pkg/logger"
	"paycheck/internal/platform/config"
	"paycheck/internal/platform/database"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	logger.Init(cfg.Logging)

	db, err := database.Open(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	if err := database.Migrate(db); err != nil {
		log.Fatal().Err(err).Msg("Migration failed")
	}

	log.Info().Str("driver", db.Driver).Msg("Migration completed successfully")
}
