// Package chowkidar authenticates HTTP clients with a short lived JWT access
// cookie and a rotating, fingerprint bound refresh cookie.
package chowkidar

import (
	"github.com/tech-arch1tect/chowkidar/app"
	"github.com/tech-arch1tect/chowkidar/config"
	"github.com/tech-arch1tect/chowkidar/internal/options"
	"go.uber.org/fx"
)

type App = app.App

type Option = options.Option

func New(opts ...Option) (*App, error) {
	return app.New(opts...)
}

func WithConfig(cfg *config.Config) Option {
	return options.WithConfig(cfg)
}

// WithModels adds application models to the automatic migration.
func WithModels(models ...any) Option {
	return options.WithModels(models...)
}

func WithoutHTTP() Option {
	return options.WithoutHTTP()
}

func WithFxOptions(opts ...fx.Option) Option {
	return options.WithFxOptions(opts...)
}
