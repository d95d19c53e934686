// Command migrate applies or rolls back the embedded schema.
//
//	migrate [up|down]
package main

import (
	"errors"
	"log/slog"
	"os"

	"civicwatch/internal/platform/config"
	"civicwatch/internal/platform/logger"
	"civicwatch/internal/platform/migrations"
)

func main() {
	direction := "up"
	if len(os.Args) > 1 {
		direction = os.Args[1]
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Log.Level, cfg.Log.Format)

	err = migrations.Run(cfg.Database.URL, direction)
	switch {
	case errors.Is(err, migrations.ErrNoChange):
		log.Info("schema already up to date", "direction", direction)
	case err != nil:
		log.Error("migration failed", "direction", direction, "error", err)
		os.Exit(1)
	default:
		log.Info("migration applied", "direction", direction)
	}
}
