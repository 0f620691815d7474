package app

import "github.com/tech-arch1tect/chowkidar/internal/options"

// New builds an App from functional options. Without WithConfig the
// configuration is loaded from the environment.
func New(opts ...options.Option) (*App, error) {
	o := options.Apply(opts...)

	b := NewApp()
	if o.Config != nil {
		b.WithConfig(o.Config)
	}
	if len(o.Models) > 0 {
		b.WithModels(o.Models...)
	}
	if o.DisableHTTP {
		b.WithoutHTTP()
	}
	if len(o.FxOptions) > 0 {
		b.WithFxOptions(o.FxOptions...)
	}

	return b.Build()
}
