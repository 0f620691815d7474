package logging

import (
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
)

// FieldsFunc contributes request-scoped fields, such as the authenticated
// user, to the access log entry. It runs after the handler.
type FieldsFunc func(c echo.Context) []zap.Field

// RequestLogger writes one access log entry per request. Requests whose path
// is in quiet are not logged unless they fail with a server error.
func RequestLogger(logger *Service, extra FieldsFunc, quiet ...string) echo.MiddlewareFunc {
	access := logger.Named("http")
	skip := make(map[string]struct{}, len(quiet))
	for _, path := range quiet {
		skip[path] = struct{}{}
	}

	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRemoteIP:  true,
		LogUserAgent: true,
		LogRequestID: true,
		LogError:     true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			if _, ok := skip[c.Request().URL.Path]; ok && v.Status < 500 {
				return nil
			}

			fields := make([]zap.Field, 0, 10)
			fields = append(fields,
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
				zap.String("remote_ip", v.RemoteIP),
				zap.String("user_agent", v.UserAgent),
			)
			if v.RequestID != "" {
				fields = append(fields, zap.String("request_id", v.RequestID))
			}
			if extra != nil {
				fields = append(fields, extra(c)...)
			}
			if v.Error != nil {
				fields = append(fields, zap.Error(v.Error))
			}

			switch {
			case v.Status >= 500:
				access.Error("request failed", fields...)
			case v.Status >= 400:
				access.Warn("request rejected", fields...)
			default:
				access.Info("request served", fields...)
			}
			return nil
		},
	})
}
