// cmd/indexer/main.go
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/javajoker/catalog-metamodel/internal/config"
	"github.com/javajoker/catalog-metamodel/internal/database"
	"github.com/javajoker/catalog-metamodel/internal/errors"
	"github.com/javajoker/catalog-metamodel/internal/events"
	"github.com/javajoker/catalog-metamodel/internal/indexer"
	"github.com/javajoker/catalog-metamodel/internal/logging"
	"github.com/javajoker/catalog-metamodel/internal/services"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration:", err)
	}
	logger := logging.Setup(cfg.Log)

	// Stop gracefully on interrupt
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err = run(ctx, cfg, logger, nil)
	stop()
	if err != nil {
		logger.WithError(err).Fatal("Indexer stopped")
	}
	logger.Info("Indexer exited")
}

// run wires the worker and blocks until ctx is done or the subscription
// fails. ready, when set, is closed once the subscription is live.
func run(ctx context.Context, cfg *config.Config, logger *logrus.Logger, ready chan<- struct{}) error {
	// Initialize database
	db, err := database.Initialize(cfg.Database)
	if err != nil {
		return errors.Wrap(err, "initialize database")
	}
	defer database.Close(db)

	// Run database migrations
	if err := database.RunMigrations(db); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer client.Close()

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	err = client.Ping(pingCtx).Err()
	cancel()
	if err != nil {
		return errors.Wrapf(err, "connect to redis at %s", cfg.Redis.Addr())
	}

	// The worker only reads, so it publishes nowhere.
	engine := services.NewEngine(db, cfg.Engine, events.Discard)
	if err := engine.Registry.Bootstrap(db); err != nil {
		return errors.Wrap(err, "bootstrap primitive models")
	}

	store := indexer.NewRedisStore(client, cfg.Redis.DocPrefix)
	ix := indexer.New(engine, store)
	subscriber := events.NewRedisSubscriber(client, cfg.Redis.Channel, ix.HandleInstanceSaved)

	ctx, stop := context.WithCancel(ctx)
	defer stop()

	if cfg.Indexer.SchemaRefresh > 0 {
		go func() {
			ticker := time.NewTicker(cfg.Indexer.SchemaRefresh)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					engine.Registry.Invalidate()
				}
			}
		}()
	}

	logger.WithField("channel", cfg.Redis.Channel).Info("Indexer listening")
	if err := subscriber.Run(ctx, ready); err != nil {
		return errors.Wrap(err, "subscriber stopped")
	}
	logger.Info("Shutting down indexer...")
	return nil
}
