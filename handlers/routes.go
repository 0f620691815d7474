package handlers

import (
	"github.com/labstack/echo/v4"
	"github.com/tech-arch1tect/chowkidar/config"
	"github.com/tech-arch1tect/chowkidar/middleware/csrf"
	"github.com/tech-arch1tect/chowkidar/middleware/ratelimit"
	"github.com/tech-arch1tect/chowkidar/middleware/tokenauth"
	"github.com/tech-arch1tect/chowkidar/openapi"
	"github.com/tech-arch1tect/chowkidar/server"
	"github.com/tech-arch1tect/chowkidar/services/logging"
	"go.uber.org/fx"
)

type RouteParams struct {
	fx.In

	Config      *config.Config
	Server      *server.Server
	Interceptor *tokenauth.Interceptor
	Limiter     ratelimit.LoginLimiter
	Auth        *AuthHandler
	Docs        *openapi.OpenAPI
	Logger      *logging.Service
}

// RegisterRoutes installs the middleware chain and every endpoint on the
// server. The request logger wraps the interceptor so entries carry the
// user the request ended with.
func RegisterRoutes(p RouteParams) {
	srv := p.Server
	srv.SetErrorHandler(ErrorHandler(srv.Echo(), p.Logger))
	srv.Use(logging.RequestLogger(p.Logger, tokenauth.LogFields, "/health"))
	srv.Use(p.Interceptor.Middleware())

	srv.Get("/health", Health)
	srv.Get("/openapi.json", p.Docs.JSONHandler())
	srv.Get("/openapi.yaml", p.Docs.YAMLHandler())

	group := srv.Group("/auth", csrf.Middleware(p.Config))
	group.POST("/login", p.Auth.Login, echo.MiddlewareFunc(p.Limiter))
	group.POST("/logout", p.Auth.Logout, tokenauth.LoginRequired())
	group.GET("/me", p.Auth.Me, tokenauth.ResolveUser(p.Auth.users))
	group.GET("/csrf", p.Auth.CSRF)
	group.POST("/sessions/revoke-others", p.Auth.RevokeOtherSessions, tokenauth.FingerprintRequired())
}
