package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/tech-arch1tect/chowkidar/config"
	"github.com/tech-arch1tect/chowkidar/services/logging"
	"go.uber.org/zap"
)

type Server struct {
	echo   *echo.Echo
	cfg    *config.Config
	logger *logging.Service
}

func New(cfg *config.Config, logger *logging.Service) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	configureTrustedProxies(e, cfg.Server.TrustedProxies, logger)
	e.Use(middleware.Recover())

	return &Server{
		echo:   e,
		cfg:    cfg,
		logger: logger,
	}
}

// configureTrustedProxies makes RealIP honour X-Forwarded-For only from the
// listed proxies. Without any, the client IP is the direct peer address.
func configureTrustedProxies(e *echo.Echo, proxies []string, logger *logging.Service) {
	var options []echo.TrustOption
	for _, proxy := range proxies {
		proxy = strings.TrimSpace(proxy)
		if proxy == "" {
			continue
		}

		if !strings.Contains(proxy, "/") {
			if ip := net.ParseIP(proxy); ip != nil {
				if ip.To4() != nil {
					proxy += "/32"
				} else {
					proxy += "/128"
				}
			}
		}

		_, ipNet, err := net.ParseCIDR(proxy)
		if err != nil {
			if logger != nil {
				logger.Warn("ignoring invalid trusted proxy", zap.String("proxy", proxy), zap.Error(err))
			}
			continue
		}
		options = append(options, echo.TrustIPRange(ipNet))
	}

	if len(options) == 0 {
		e.IPExtractor = echo.ExtractIPDirect()
		return
	}

	// Only the listed ranges are trusted, loopback and private ranges included.
	options = append(options,
		echo.TrustLoopback(false),
		echo.TrustLinkLocal(false),
		echo.TrustPrivateNet(false),
	)
	e.IPExtractor = echo.ExtractIPFromXFFHeader(options...)

	if logger != nil {
		logger.Info("trusted proxies configured", zap.Int("count", len(options)-3))
	}
}

func (s *Server) Addr() string {
	return fmt.Sprintf("%s:%s", s.cfg.Server.Host, s.cfg.Server.Port)
}

func (s *Server) Start() error {
	addr := s.Addr()
	if s.logger != nil {
		s.logger.Info("starting chowkidar server", zap.String("addr", addr))
	}

	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) Use(middleware ...echo.MiddlewareFunc) {
	s.echo.Use(middleware...)
}

func (s *Server) Get(path string, handler echo.HandlerFunc, middleware ...echo.MiddlewareFunc) {
	s.echo.GET(path, handler, middleware...)
}

func (s *Server) Post(path string, handler echo.HandlerFunc, middleware ...echo.MiddlewareFunc) {
	s.echo.POST(path, handler, middleware...)
}

func (s *Server) Group(prefix string, middleware ...echo.MiddlewareFunc) *echo.Group {
	return s.echo.Group(prefix, middleware...)
}

func (s *Server) SetErrorHandler(handler echo.HTTPErrorHandler) {
	s.echo.HTTPErrorHandler = handler
}

func (s *Server) Echo() *echo.Echo {
	return s.echo
}

// shortenHandlerName trims a handler's package path for route logs.
func shortenHandlerName(name string) string {
	if i := strings.Index(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	if len(name) > 80 {
		name = name[:77] + "..."
	}
	return name
}

// LogRoutes writes the registered routes at debug level.
func (s *Server) LogRoutes() {
	if s.logger == nil {
		return
	}
	for _, route := range s.echo.Routes() {
		s.logger.Debug("route registered",
			zap.String("method", route.Method),
			zap.String("path", route.Path),
			zap.String("handler", shortenHandlerName(route.Name)))
	}
}
