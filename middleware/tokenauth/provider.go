package tokenauth

import (
	"github.com/tech-arch1tect/chowkidar/config"
	"github.com/tech-arch1tect/chowkidar/services/auth"
	"github.com/tech-arch1tect/chowkidar/services/fingerprint"
	jwtservice "github.com/tech-arch1tect/chowkidar/services/jwt"
	"github.com/tech-arch1tect/chowkidar/services/logging"
	"github.com/tech-arch1tect/chowkidar/services/refreshtoken"
	"go.uber.org/fx"
)

func ProvideInterceptor(
	cfg *config.Config,
	codec *jwtservice.Codec,
	tokens *refreshtoken.Service,
	fingerprints *fingerprint.Service,
	users *auth.Service,
	logger *logging.Service,
) *Interceptor {
	return NewInterceptor(cfg, codec, tokens, fingerprints, users, logger)
}

var Module = fx.Options(
	fx.Provide(ProvideInterceptor),
)
