// collate-server runs the operational surface of the collation system: the
// embedded migrations, the outbox relay to Kafka, the live transition feed
// and the health/metrics endpoints. Domain operations are invoked through
// the service packages; no public API is routed here.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/twmb/franz-go/pkg/kgo"

	"collate/internal/feed"
	httpapi "collate/internal/http"
	"collate/internal/platform/config"
	"collate/internal/platform/httpserver"
	"collate/internal/platform/logger"
	"collate/internal/platform/postgres"
	platformredis "collate/internal/platform/redis"
	eventstore "collate/pkg/platform/events/store/postgres"
	"collate/pkg/platform/events/worker"
)

func main() {
	_ = godotenv.Load()

	cfg := config.FromEnv()
	log := logger.New(cfg.LogLevel)

	if err := run(cfg, log); err != nil {
		log.Error("collate-server exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := postgres.Open(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := postgres.Migrate(ctx, db); err != nil {
		return err
	}

	// Redis is optional. Without it the progress reads recompute from
	// Postgres on every call.
	redisClient, err := platformredis.New(cfg.Redis)
	if err != nil {
		log.Warn("redis unavailable, progress cache disabled", "error", err)
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	hub := feed.NewHub()
	listener := feed.NewListener(cfg.DatabaseURL, hub, feed.WithListenerLogger(log))
	go func() {
		if err := listener.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("feed listener stopped", "error", err)
		}
	}()

	if len(cfg.Kafka.Brokers) > 0 {
		client, err := kgo.NewClient(kgo.SeedBrokers(cfg.Kafka.Brokers...))
		if err != nil {
			return err
		}
		defer client.Close()
		if err := worker.EnsureTopic(ctx, client, cfg.Kafka.Topic, 3); err != nil {
			return err
		}
		relay := worker.New(eventstore.New(db), client, cfg.Kafka.Topic,
			worker.WithPollInterval(cfg.Kafka.PollInterval),
			worker.WithLogger(log))
		go func() {
			if err := relay.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("outbox relay stopped", "error", err)
			}
		}()
	} else {
		log.Info("kafka brokers not configured, outbox relay disabled")
	}

	opts := []httpapi.Option{httpapi.WithCheck("postgres", db.PingContext)}
	if redisClient != nil {
		opts = append(opts, httpapi.WithCheck("redis", redisClient.Health))
	}
	srv := httpserver.New(cfg.Addr, httpapi.New(opts...).Handler())

	serverErr := make(chan error, 1)
	go func() {
		log.Info("collate-server listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
