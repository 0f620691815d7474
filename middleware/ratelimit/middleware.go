package ratelimit

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/tech-arch1tect/chowkidar/config"
	"github.com/tech-arch1tect/chowkidar/services/logging"
	"go.uber.org/zap"
)

type Config struct {
	Store  Store
	Rate   int
	Period time.Duration
	Mode   config.CountingMode
	// ResetOnSuccess clears the key's counter when a request succeeds.
	ResetOnSuccess bool
	Key            func(c echo.Context) string
	Deny           func(c echo.Context, retryAfter time.Duration) error
	Now            func() time.Time
	Logger         *logging.Service
}

func (cfg *Config) withDefaults() *Config {
	out := *cfg
	if out.Store == nil {
		out.Store = NewMemoryStore()
	}
	if out.Rate <= 0 {
		out.Rate = 10
	}
	if out.Period <= 0 {
		out.Period = time.Minute
	}
	if out.Mode == "" {
		out.Mode = config.CountAll
	}
	if out.Key == nil {
		out.Key = ClientIPKey
	}
	if out.Deny == nil {
		out.Deny = TooManyRequests
	}
	if out.Now == nil {
		out.Now = time.Now
	}
	return &out
}

// Middleware limits requests per key. In CountAll mode every request counts
// up front; the other modes count after the handler by response status.
// Store failures let the request through.
func Middleware(cfg *Config) echo.MiddlewareFunc {
	l := &limiter{cfg.withDefaults()}
	return l.handle
}

type limiter struct {
	*Config
}

func (l *limiter) handle(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		key := l.Key(c)

		count, resetAt, err := l.Store.Get(ctx, key)
		if err != nil {
			l.storeFailed(key, err)
			return next(c)
		}
		if resetAt.IsZero() {
			resetAt = l.Now().Add(l.Period)
		}

		if count >= l.Rate {
			retryAfter := max(resetAt.Sub(l.Now()), time.Second)
			writeHeaders(c, l.Rate, 0, resetAt)
			c.Response().Header().Set(echo.HeaderRetryAfter, strconv.Itoa(int(retryAfter.Round(time.Second)/time.Second)))
			l.Logger.Info("rate limit reached", zap.String("key", key), zap.Int("count", count))
			return l.Deny(c, retryAfter)
		}

		if l.Mode == config.CountAll {
			if count, err = l.Store.Increment(ctx, key, resetAt); err != nil {
				l.storeFailed(key, err)
			}
		}
		writeHeaders(c, l.Rate, max(l.Rate-count, 0), resetAt)

		err = next(c)
		status := statusOf(c, err)

		switch {
		case l.Mode != config.CountAll && counts(l.Mode, status):
			if _, incErr := l.Store.Increment(ctx, key, resetAt); incErr != nil {
				l.storeFailed(key, incErr)
			}
		case l.ResetOnSuccess && status < http.StatusBadRequest && count > 0:
			if resetErr := l.Store.Reset(ctx, key); resetErr != nil {
				l.storeFailed(key, resetErr)
			}
		}
		return err
	}
}

func (l *limiter) storeFailed(key string, err error) {
	l.Logger.Warn("rate limit store unavailable", zap.String("key", key), zap.Error(err))
}

func writeHeaders(c echo.Context, limit, remaining int, resetAt time.Time) {
	h := c.Response().Header()
	h.Set("X-RateLimit-Limit", strconv.Itoa(limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))
}

func counts(mode config.CountingMode, status int) bool {
	switch mode {
	case config.CountFailures:
		return status >= http.StatusBadRequest
	case config.CountSuccess:
		return status < http.StatusBadRequest
	}
	return false
}

// statusOf is the status the response will carry. A returned error has not
// been written yet.
func statusOf(c echo.Context, err error) int {
	if err == nil || c.Response().Committed {
		return c.Response().Status
	}
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he.Code
	}
	return http.StatusInternalServerError
}

// ClientIPKey keys on the proxy-aware client address.
func ClientIPKey(c echo.Context) string {
	ip := c.RealIP()
	if ip == "" {
		ip = "unknown"
	}
	return "ip:" + ip
}

func TooManyRequests(echo.Context, time.Duration) error {
	return echo.ErrTooManyRequests
}
