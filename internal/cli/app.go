// Package cli holds the cobra command tree of the metamodel admin tool.
package cli

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/javajoker/catalog-metamodel/internal/config"
	"github.com/javajoker/catalog-metamodel/internal/database"
	"github.com/javajoker/catalog-metamodel/internal/errors"
	"github.com/javajoker/catalog-metamodel/internal/events"
	"github.com/javajoker/catalog-metamodel/internal/indexer"
	"github.com/javajoker/catalog-metamodel/internal/services"
)

// App carries the resources shared by the commands. Fields left nil are
// opened from Config on first use; an Engine set up front must come with
// the DB it was built on.
type App struct {
	Config *config.Config
	DB     *gorm.DB
	Redis  *redis.Client
	Engine *services.Engine

	store *indexer.RedisStore
}

func NewApp(cfg *config.Config) *App {
	return &App{Config: cfg}
}

func (a *App) database() (*gorm.DB, error) {
	if a.DB != nil {
		return a.DB, nil
	}
	db, err := database.Initialize(a.Config.Database)
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "open database"), errors.ErrConfiguration)
	}
	a.DB = db
	return db, nil
}

func (a *App) redisClient(ctx context.Context) (*redis.Client, error) {
	if a.Redis != nil {
		return a.Redis, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     a.Config.Redis.Addr(),
		Password: a.Config.Redis.Password,
		DB:       a.Config.Redis.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, errors.Mark(errors.Wrapf(err, "connect to redis at %s", a.Config.Redis.Addr()), errors.ErrConfiguration)
	}
	a.Redis = client
	return client, nil
}

// engine opens the database and makes sure the primitive models exist.
// Saves made through it are announced on the Redis channel when Redis is
// reachable.
func (a *App) engine(ctx context.Context) (*services.Engine, error) {
	if a.Engine != nil {
		return a.Engine, nil
	}
	db, err := a.database()
	if err != nil {
		return nil, err
	}

	var publisher events.Publisher = events.Discard
	if client, err := a.redisClient(ctx); err == nil {
		publisher = events.NewRedisPublisher(client, a.Config.Redis.Channel)
	} else {
		logrus.WithError(err).Warn("Redis unavailable, instance saves will not be announced")
	}

	engine := services.NewEngine(db, a.Config.Engine, publisher)
	if err := engine.Registry.Bootstrap(db); err != nil {
		return nil, err
	}
	a.Engine = engine
	return engine, nil
}

func (a *App) documentStore(ctx context.Context) (*indexer.RedisStore, error) {
	if a.store != nil {
		return a.store, nil
	}
	client, err := a.redisClient(ctx)
	if err != nil {
		return nil, err
	}
	a.store = indexer.NewRedisStore(client, a.Config.Redis.DocPrefix)
	return a.store, nil
}

// Close releases whatever the commands opened.
func (a *App) Close() {
	if a.Redis != nil {
		a.Redis.Close()
	}
	if a.DB != nil {
		database.Close(a.DB)
	}
}
