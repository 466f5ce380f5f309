package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ironlotus/gymsite/internal/pkg/config"
)

const pingTimeout = 3 * time.Second

// New connects to the Redis-compatible cache (Redis or Dragonfly) and checks
// the connection. The client is closed again when the ping fails.
func New(cfg config.CacheConfig, log *zap.Logger) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       0,
	})

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	pong, err := client.Ping(ctx).Result()
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping cache %s: %w", cfg.Addr(), err)
	}
	log.Info("connected to cache", zap.String("addr", client.Options().Addr), zap.String("reply", pong))
	return client, nil
}
