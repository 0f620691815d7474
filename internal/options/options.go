package options

import (
	"github.com/tech-arch1tect/chowkidar/config"
	"go.uber.org/fx"
)

// Options collects what the root package's New passes to the app builder.
type Options struct {
	Config      *config.Config
	Models      []any
	DisableHTTP bool
	FxOptions   []fx.Option
}

type Option func(*Options)

func Apply(opts ...Option) *Options {
	o := &Options{}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func WithConfig(cfg *config.Config) Option {
	return func(opts *Options) {
		opts.Config = cfg
	}
}

func WithModels(models ...any) Option {
	return func(opts *Options) {
		opts.Models = append(opts.Models, models...)
	}
}

func WithoutHTTP() Option {
	return func(opts *Options) {
		opts.DisableHTTP = true
	}
}

func WithFxOptions(fxOpts ...fx.Option) Option {
	return func(opts *Options) {
		opts.FxOptions = append(opts.FxOptions, fxOpts...)
	}
}
