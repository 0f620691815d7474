package database

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/tech-arch1tect/chowkidar/config"
	"github.com/tech-arch1tect/chowkidar/services/logging"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var RedisModule = fx.Options(
	fx.Provide(ProvideRedis),
)

// ProvideRedis builds the shared Redis client. It is pinged on start and
// closed on stop.
func ProvideRedis(lc fx.Lifecycle, cfg *config.Config, logger *logging.Service) redis.UniversalClient {
	client := NewRedisClient(&cfg.Redis)

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := client.Ping(ctx).Err(); err != nil {
				return fmt.Errorf("failed to connect to redis at %s: %w", cfg.Redis.Addr, err)
			}
			logger.Info("redis connected",
				zap.String("addr", cfg.Redis.Addr),
				zap.Int("db", cfg.Redis.DB),
				zap.String("prefix", cfg.Redis.Prefix))
			return nil
		},
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})

	return client
}

func NewRedisClient(cfg *config.RedisConfig) redis.UniversalClient {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}
