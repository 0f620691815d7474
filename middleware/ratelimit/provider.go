package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/tech-arch1tect/chowkidar/config"
	"github.com/tech-arch1tect/chowkidar/services/logging"
	"go.uber.org/fx"
)

type StoreParams struct {
	fx.In

	LC     fx.Lifecycle
	Config *config.Config
	Redis  redis.UniversalClient `optional:"true"`
}

func ProvideStore(p StoreParams) (Store, error) {
	switch p.Config.RateLimit.Store {
	case "redis":
		if p.Redis == nil {
			return nil, fmt.Errorf("rate limit store %q requires a redis client", p.Config.RateLimit.Store)
		}
		return NewRedisStore(p.Redis, p.Config.Redis.Prefix+":ratelimit"), nil
	case "memory", "":
		store := NewMemoryStore()
		p.LC.Append(fx.Hook{
			OnStop: func(context.Context) error { return store.Close() },
		})
		return store, nil
	default:
		return nil, fmt.Errorf("unknown rate limit store %q", p.Config.RateLimit.Store)
	}
}

// LoginLimiter guards the login endpoint. Failed attempts count per client
// IP and a successful login clears them.
type LoginLimiter echo.MiddlewareFunc

func ProvideLoginLimiter(cfg *config.Config, store Store, logger *logging.Service) LoginLimiter {
	return LoginLimiter(Middleware(&Config{
		Store:          store,
		Rate:           cfg.RateLimit.LoginRate,
		Period:         cfg.RateLimit.LoginPeriod,
		Mode:           config.CountFailures,
		ResetOnSuccess: true,
		Key: func(c echo.Context) string {
			return "login:" + ClientIPKey(c)
		},
		Deny: func(_ echo.Context, retryAfter time.Duration) error {
			return echo.NewHTTPError(http.StatusTooManyRequests,
				fmt.Sprintf("too many failed login attempts, retry in %s", retryAfter.Round(time.Second)))
		},
		Logger: logger.Named("ratelimit"),
	}))
}

var Module = fx.Options(
	fx.Provide(ProvideStore),
	fx.Provide(ProvideLoginLimiter),
)
