// migrate applies the embedded schema migrations and exits. The server
// applies them on boot as well; this binary exists for pipelines that
// migrate before rolling instances.
package main

import (
	"context"
	"os"
	"time"

	"github.com/joho/godotenv"

	"collate/internal/platform/config"
	"collate/internal/platform/logger"
	"collate/internal/platform/postgres"
)

func main() {
	_ = godotenv.Load()

	cfg := config.FromEnv()
	log := logger.New(cfg.LogLevel)

	db, err := postgres.Open(cfg.DatabaseURL)
	if err != nil {
		log.Error("connect postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	if err := postgres.Migrate(ctx, db); err != nil {
		log.Error("apply migrations", "error", err)
		os.Exit(1)
	}
	log.Info("migrations applied")
}
