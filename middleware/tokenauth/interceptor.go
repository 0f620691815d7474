// Package tokenauth attaches, refreshes, rotates and clears the access and
// refresh cookies on every response.
package tokenauth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/tech-arch1tect/chowkidar/config"
	"github.com/tech-arch1tect/chowkidar/services/fingerprint"
	jwtservice "github.com/tech-arch1tect/chowkidar/services/jwt"
	"github.com/tech-arch1tect/chowkidar/services/logging"
	"github.com/tech-arch1tect/chowkidar/services/refreshtoken"
	"go.uber.org/zap"
)

// UserDirectory is the user store consulted while issuing tokens.
type UserDirectory interface {
	Username(ctx context.Context, userID uint) (string, error)
	RecordLogin(ctx context.Context, userID uint, at time.Time) error
}

// SiblingPolicy reports whether a login should revoke the user's other
// refresh tokens.
type SiblingPolicy func(c echo.Context, userID uint) bool

type Interceptor struct {
	config       *config.Config
	codec        *jwtservice.Codec
	tokens       *refreshtoken.Service
	fingerprints *fingerprint.Service
	users        UserDirectory
	siblings     SiblingPolicy
	logger       *logging.Service
}

func NewInterceptor(
	cfg *config.Config,
	codec *jwtservice.Codec,
	tokens *refreshtoken.Service,
	fingerprints *fingerprint.Service,
	users UserDirectory,
	logger *logging.Service,
) *Interceptor {
	revokeOthers := cfg.Auth.RevokeOtherSessionsOnLogin
	return &Interceptor{
		config:       cfg,
		codec:        codec,
		tokens:       tokens,
		fingerprints: fingerprints,
		users:        users,
		siblings:     func(echo.Context, uint) bool { return revokeOthers },
		logger:       logger,
	}
}

func (i *Interceptor) SetSiblingPolicy(policy SiblingPolicy) {
	i.siblings = policy
}

// Middleware installs the request Context and applies the cookie decision
// once, just before the response header is written.
func (i *Interceptor) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ac := &Context{interceptor: i, echo: c}
			c.Set(ContextKey, ac)

			c.Response().Before(func() {
				if err := i.apply(c, ac); err != nil && i.logger != nil {
					i.logger.Error("failed to apply authentication cookies", zap.Error(err))
				}
			})

			err := next(c)
			if err == nil && !c.Response().Committed {
				if applyErr := i.apply(c, ac); applyErr != nil && i.logger != nil {
					i.logger.Error("failed to apply authentication cookies", zap.Error(applyErr))
				}
			}
			return err
		}
	}
}

// Result is a handler's business result for RespondHandlingAuthentication.
type Result struct {
	Status  int
	Body    any
	Outcome Outcome
	UserID  uint
}

// RefreshExpirySetter is implemented by login bodies that report when the
// new refresh cookie expires.
type RefreshExpirySetter interface {
	SetRefreshExpiresIn(time.Time)
}

// RespondHandlingAuthentication applies the cookie decision for result and
// writes its body as JSON.
func RespondHandlingAuthentication(c echo.Context, result Result) error {
	ac := FromContext(c)
	if ac == nil {
		return ErrMiddlewareMissing
	}

	status := result.Status
	if status == 0 {
		status = http.StatusOK
	}

	switch result.Outcome {
	case OutcomeLogin:
		ac.outcome = OutcomeLogin
		ac.loginUserID = result.UserID
	case OutcomeLogout:
		ac.outcome = OutcomeLogout
	}

	c.Response().Status = status
	if err := ac.interceptor.apply(c, ac); err != nil {
		return err
	}

	if setter, ok := result.Body.(RefreshExpirySetter); ok && !ac.refreshExpiresAt.IsZero() {
		setter.SetRefreshExpiresIn(ac.refreshExpiresAt)
	}

	if result.Body == nil {
		return c.NoContent(status)
	}
	return c.JSON(status, result.Body)
}

func (i *Interceptor) apply(c echo.Context, ac *Context) error {
	if ac.applied {
		return nil
	}
	ac.applied = true

	succeeded := c.Response().Status < http.StatusBadRequest

	switch {
	case ac.outcome == OutcomeLogin && succeeded:
		return i.login(c, ac)
	case ac.outcome == OutcomeLogout && succeeded:
		i.logout(c, ac)
		return nil
	default:
		i.refresh(c, ac)
		return nil
	}
}

func (i *Interceptor) login(c echo.Context, ac *Context) error {
	ctx := c.Request().Context()
	userID := ac.loginUserID

	client, err := ac.Client()
	if err != nil {
		return fmt.Errorf("cannot fingerprint login request: %w", err)
	}

	row, err := i.tokens.Issue(ctx, userID, client)
	if err != nil {
		return err
	}

	cookie, expires, err := i.tokens.EncodeCookie(row)
	if err != nil {
		return err
	}
	i.setCookie(c, i.config.Cookie.RefreshName, cookie, expires)
	ac.refreshExpiresAt = expires
	ac.userID = userID
	ac.resolved = true
	ac.refresh = row
	ac.refreshErr = nil
	ac.refreshReady = true

	if i.config.Auth.UpdateLastLoginOnAuth {
		i.recordLogin(ctx, userID)
	}

	if i.siblings != nil && i.siblings(c, userID) {
		if _, err := i.tokens.RevokeAllExcept(ctx, userID, row.Secret); err != nil && i.logger != nil {
			i.logger.Error("failed to revoke sibling sessions",
				zap.Uint("user_id", userID),
				zap.Error(err))
		}
	}

	if i.config.Auth.IssueAccessOnLogin {
		if err := i.issueAccess(c, row); err != nil {
			return err
		}
	}

	return nil
}

func (i *Interceptor) logout(c echo.Context, ac *Context) {
	if value := readCookie(c, i.config.Cookie.RefreshName); value != "" {
		if err := i.tokens.RevokeByCookie(c.Request().Context(), value); err != nil && i.logger != nil {
			i.logger.Debug("logout without an active refresh token", zap.Error(err))
		}
	}

	i.clearCookies(c)
	ac.userID = 0
	ac.resolved = true
	ac.invalidateRefresh()
}

func (i *Interceptor) refresh(c echo.Context, ac *Context) {
	if readCookie(c, i.config.Cookie.RefreshName) == "" {
		return
	}

	if claims, err := i.accessClaims(c); err == nil && i.codec.Remaining(claims) > i.codec.AccessExpiry()/2 {
		return
	}

	if err := i.reissue(c, ac); err != nil {
		if i.logger != nil {
			i.logger.Debug("refresh failed, clearing authentication cookies", zap.Error(err))
		}
		i.clearCookies(c)
		ac.userID = 0
		ac.resolved = true
		ac.invalidateRefresh()
	}
}

func (i *Interceptor) reissue(c echo.Context, ac *Context) error {
	ctx := c.Request().Context()

	row, err := ac.RefreshToken()
	if err != nil {
		return err
	}

	client, err := ac.Client()
	if err != nil {
		return err
	}

	current := row
	if i.tokens.NeedsRotation(row, client) {
		next, err := i.tokens.Rotate(ctx, row, client)
		if err != nil {
			return err
		}
		cookie, expires, err := i.tokens.EncodeCookie(next)
		if err != nil {
			return err
		}
		i.setCookie(c, i.config.Cookie.RefreshName, cookie, expires)
		current = next
		ac.refresh = next
	}

	if i.config.Auth.UpdateLastLoginOnRefresh {
		i.recordLogin(ctx, row.UserID)
	}

	// origIat stays the issue time of the row this request presented
	if err := i.issueAccessAt(c, current.UserID, row.IssuedAt); err != nil {
		return err
	}

	ac.userID = row.UserID
	ac.resolved = true
	return nil
}

func (i *Interceptor) issueAccess(c echo.Context, row *refreshtoken.RefreshToken) error {
	return i.issueAccessAt(c, row.UserID, row.IssuedAt)
}

func (i *Interceptor) issueAccessAt(c echo.Context, userID uint, origIat time.Time) error {
	username, err := i.users.Username(c.Request().Context(), userID)
	if err != nil {
		return fmt.Errorf("failed to load user for access token: %w", err)
	}

	token, expires, err := i.codec.EncodeAccess(userID, username, origIat)
	if err != nil {
		return err
	}
	i.setCookie(c, i.config.Cookie.AccessName, token, expires)
	return nil
}

func (i *Interceptor) accessClaims(c echo.Context) (*jwtservice.AccessClaims, error) {
	value := readCookie(c, i.config.Cookie.AccessName)
	if value == "" {
		return nil, jwtservice.ErrInvalidToken
	}
	return i.codec.DecodeAccess(value)
}

func (i *Interceptor) recordLogin(ctx context.Context, userID uint) {
	err := i.users.RecordLogin(ctx, userID, i.codec.Now())
	if err != nil && i.logger != nil && !errors.Is(err, context.Canceled) {
		i.logger.Warn("failed to record last login",
			zap.Uint("user_id", userID),
			zap.Error(err))
	}
}
