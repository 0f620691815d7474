package app

import (
	"errors"
	"fmt"

	"github.com/tech-arch1tect/chowkidar/config"
	"github.com/tech-arch1tect/chowkidar/database"
	"github.com/tech-arch1tect/chowkidar/handlers"
	"github.com/tech-arch1tect/chowkidar/middleware/ratelimit"
	"github.com/tech-arch1tect/chowkidar/middleware/tokenauth"
	"github.com/tech-arch1tect/chowkidar/server"
	"github.com/tech-arch1tect/chowkidar/services/auth"
	"github.com/tech-arch1tect/chowkidar/services/fingerprint"
	jwtservice "github.com/tech-arch1tect/chowkidar/services/jwt"
	"github.com/tech-arch1tect/chowkidar/services/logging"
	"github.com/tech-arch1tect/chowkidar/services/refreshtoken"
	"go.uber.org/fx"
)

type AppBuilder struct {
	config    *config.Config
	models    []any
	fxOptions []fx.Option
	http      bool
	errors    []error
}

// NewApp starts a builder for the full service: database, token services,
// interceptor and the HTTP endpoints.
func NewApp() *AppBuilder {
	return &AppBuilder{
		models:    []any{&auth.User{}, &refreshtoken.RefreshToken{}},
		fxOptions: make([]fx.Option, 0),
		http:      true,
		errors:    make([]error, 0),
	}
}

func (b *AppBuilder) WithConfig(cfg *config.Config) *AppBuilder {
	if cfg == nil {
		b.addError("config cannot be nil")
		return b
	}
	b.config = cfg
	return b
}

// WithAutoConfig loads the configuration from the environment and .env.
func (b *AppBuilder) WithAutoConfig() *AppBuilder {
	cfg := &config.Config{}
	if err := config.LoadConfig(cfg); err != nil {
		b.addError(fmt.Sprintf("failed to load config: %v", err))
		return b
	}
	b.config = cfg
	return b
}

// WithModels adds models migrated alongside users and refresh tokens.
func (b *AppBuilder) WithModels(models ...any) *AppBuilder {
	b.models = append(b.models, models...)
	return b
}

// WithoutHTTP builds the services without registering routes or starting
// the listener. The CLI maintenance commands use it.
func (b *AppBuilder) WithoutHTTP() *AppBuilder {
	b.http = false
	return b
}

func (b *AppBuilder) WithFxOptions(opts ...fx.Option) *AppBuilder {
	b.fxOptions = append(b.fxOptions, opts...)
	return b
}

func (b *AppBuilder) Build() (*App, error) {
	if b.config == nil && len(b.errors) == 0 {
		b.WithAutoConfig()
	}
	if err := b.validate(); err != nil {
		return nil, err
	}

	app := &App{config: b.config}

	options := b.buildFxOptions()
	options = append(options, fx.Populate(&app.logger, &app.db, &app.users, &app.tokens))
	if b.http {
		options = append(options, fx.Populate(&app.server))
	}

	app.fx = fx.New(options...)
	if err := app.fx.Err(); err != nil {
		return nil, fmt.Errorf("failed to build application: %w", err)
	}

	return app, nil
}

func (b *AppBuilder) addError(msg string) {
	b.errors = append(b.errors, errors.New(msg))
}

func (b *AppBuilder) validate() error {
	if len(b.errors) > 0 {
		return fmt.Errorf("configuration errors: %w", errors.Join(b.errors...))
	}
	return b.config.Validate()
}

func (b *AppBuilder) buildFxOptions() []fx.Option {
	options := []fx.Option{
		fx.NopLogger,
		config.NewProvider(b.config),
		fx.Supply(database.WithModels(b.models...)),
		logging.Module,
		database.Module,
	}

	if b.config.UsesRedis() {
		options = append(options, database.RedisModule)
	}

	options = append(options,
		jwtservice.Options,
		fingerprint.Module,
		refreshtoken.Options,
		auth.Module,
		tokenauth.Module,
		ratelimit.Module,
	)

	if b.http {
		options = append(options,
			server.Module,
			handlers.Module,
		)
	}

	options = append(options, b.fxOptions...)

	// Run must be the last invoke so every route is registered before the
	// listener starts.
	if b.http {
		options = append(options, fx.Invoke(server.Run))
	}

	return options
}
