package server

import (
	"context"

	"go.uber.org/fx"
)

var Module = fx.Options(
	fx.Provide(New),
)

// Run starts srv with the fx lifecycle. It must be invoked after every route
// has been registered.
func Run(lc fx.Lifecycle, shutdowner fx.Shutdowner, srv *Server) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			srv.LogRoutes()
			go func() {
				if err := srv.Start(); err != nil {
					if srv.logger != nil {
						srv.logger.Errorf("%v", err)
					}
					_ = shutdowner.Shutdown(fx.ExitCode(1))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}
