// internal/app/store.go

package app

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"github.com/petervdpas/tuneroom/internal/config"
	"github.com/petervdpas/tuneroom/internal/store"
	"github.com/petervdpas/tuneroom/internal/util"
)

// OpenStore builds the configured backend. baseDir anchors a relative
// data_dir; origin stamps every commit.
func OpenStore(ctx context.Context, cfg config.Config, baseDir, origin string) (store.Store, error) {
	opts := store.Options{
		MaxRetries:   cfg.Store.MaxRetries,
		BaseBackoff:  time.Duration(cfg.Store.BaseBackoffMs) * time.Millisecond,
		HistoryLimit: cfg.Sync.HistoryLimit,
		Origin:       origin,
		Logger:       logrus.WithFields(logrus.Fields{"component": "store", "backend": cfg.Store.Backend}),
	}

	switch cfg.Store.Backend {
	case "memory":
		return store.NewMemoryStore(opts), nil
	case "sqlite":
		return store.OpenSQLite(util.ResolvePath(baseDir, cfg.Store.DataDir), opts)
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Store.RedisAddr,
			Password: cfg.Store.RedisPassword,
			DB:       cfg.Store.RedisDB,
		})
		s, err := store.NewRedisStore(ctx, client, cfg.Store.RedisPrefix, opts)
		if err != nil {
			_ = client.Close()
			return nil, err
		}
		return &ownedRedis{RedisStore: s, client: client}, nil
	}
	return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
}

// ownedRedis closes the client OpenStore created along with the store.
type ownedRedis struct {
	*store.RedisStore
	client *redis.Client
}

func (o *ownedRedis) Close() error {
	err := o.RedisStore.Close()
	if cerr := o.client.Close(); err == nil {
		err = cerr
	}
	return err
}
