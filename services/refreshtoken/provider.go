package refreshtoken

import (
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/tech-arch1tect/chowkidar/config"
	"github.com/tech-arch1tect/chowkidar/services/logging"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type StoreParams struct {
	fx.In

	Config *config.Config
	DB     *gorm.DB              `optional:"true"`
	Redis  redis.UniversalClient `optional:"true"`
	Logger *logging.Service
}

// ProvideStore selects the backend named by REFRESH_TOKEN_STORE.
func ProvideStore(p StoreParams) (Store, error) {
	backend := p.Config.RefreshToken.Store

	switch backend {
	case "redis":
		if p.Redis == nil {
			return nil, fmt.Errorf("refresh token store %q requires a redis client", backend)
		}
		p.Logger.Info("using redis refresh token store",
			zap.String("prefix", p.Config.Redis.Prefix),
			zap.Duration("retention", p.Config.RefreshToken.Retention))
		return NewRedisStore(p.Redis, p.Config.Redis.Prefix, p.Config.JWT.RefreshExpiry, p.Config.RefreshToken.Retention), nil
	case "database":
		if p.DB == nil {
			return nil, fmt.Errorf("refresh token store %q requires a database", backend)
		}
		return NewGormStore(p.DB, p.Logger), nil
	default:
		return nil, fmt.Errorf("unknown refresh token store %q", backend)
	}
}

var Options = fx.Options(
	fx.Provide(ProvideStore),
	fx.Provide(NewService),
)
