package csrf

import (
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/tech-arch1tect/chowkidar/config"
)

// Middleware protects unsafe methods on the cookie-authenticated routes.
// The CSRF cookie shares domain, path, secure and SameSite settings with the
// token cookies.
func Middleware(cfg *config.Config) echo.MiddlewareFunc {
	if !cfg.CSRF.Enabled {
		return func(next echo.HandlerFunc) echo.HandlerFunc {
			return next
		}
	}

	return middleware.CSRFWithConfig(middleware.CSRFConfig{
		TokenLength:    cfg.CSRF.TokenLength,
		TokenLookup:    cfg.CSRF.TokenLookup,
		ContextKey:     cfg.CSRF.ContextKey,
		CookieName:     cfg.CSRF.CookieName,
		CookieDomain:   cfg.Cookie.Domain,
		CookiePath:     cfg.Cookie.Path,
		CookieMaxAge:   cfg.CSRF.CookieMaxAge,
		CookieSecure:   cfg.Cookie.Secure,
		CookieHTTPOnly: cfg.CSRF.CookieHTTPOnly,
		CookieSameSite: cfg.Cookie.HTTPSameSite(),
	})
}

// GetToken returns the request's CSRF token, or "" when CSRF is disabled.
func GetToken(c echo.Context, cfg *config.Config) string {
	if token, ok := c.Get(cfg.CSRF.ContextKey).(string); ok {
		return token
	}
	return ""
}
