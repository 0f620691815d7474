package tokenauth

import (
	"errors"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/tech-arch1tect/chowkidar/services/fingerprint"
	"github.com/tech-arch1tect/chowkidar/services/refreshtoken"
	"go.uber.org/zap"
)

const (
	ContextKey = "_tokenauth"
	UserKey    = "_tokenauth_user"
)

var ErrMiddlewareMissing = errors.New("tokenauth middleware is not installed")

// Outcome is what the handler reports about the request's business result.
type Outcome int

const (
	OutcomeNone Outcome = iota
	OutcomeLogin
	OutcomeLogout
)

func (o Outcome) String() string {
	switch o {
	case OutcomeLogin:
		return "login"
	case OutcomeLogout:
		return "logout"
	default:
		return "none"
	}
}

// Context is the per-request authentication state. It is created by the
// interceptor and shared by reference with handlers and guards; every
// lookup it caches runs at most once per request.
type Context struct {
	interceptor *Interceptor
	echo        echo.Context

	client      fingerprint.Client
	clientErr   error
	clientReady bool

	userID   uint
	resolved bool

	refresh      *refreshtoken.RefreshToken
	refreshErr   error
	refreshReady bool

	outcome     Outcome
	loginUserID uint
	applied     bool

	refreshExpiresAt time.Time
}

// FromContext returns the request's Context, or nil outside the middleware.
func FromContext(c echo.Context) *Context {
	ac, _ := c.Get(ContextKey).(*Context)
	return ac
}

// Client is the fingerprint of the current request.
func (ac *Context) Client() (fingerprint.Client, error) {
	if !ac.clientReady {
		ac.client, ac.clientErr = ac.interceptor.fingerprints.FromRequest(ac.echo)
		ac.clientReady = true
	}
	return ac.client, ac.clientErr
}

// UserID is the user resolved so far, or 0. It does not trigger resolution.
func (ac *Context) UserID() uint {
	return ac.userID
}

func (ac *Context) Outcome() Outcome {
	return ac.outcome
}

// RefreshExpiresAt is the expiry of the refresh cookie set by a login.
func (ac *Context) RefreshExpiresAt() time.Time {
	return ac.refreshExpiresAt
}

// RefreshToken verifies the incoming refresh cookie once and caches the result.
func (ac *Context) RefreshToken() (*refreshtoken.RefreshToken, error) {
	if !ac.refreshReady {
		ac.refreshReady = true
		value := readCookie(ac.echo, ac.interceptor.config.Cookie.RefreshName)
		if value == "" {
			ac.refreshErr = refreshtoken.ErrInvalidRefreshToken
		} else {
			ac.refresh, ac.refreshErr = ac.interceptor.tokens.Verify(ac.echo.Request().Context(), value)
		}
	}
	return ac.refresh, ac.refreshErr
}

// ResolveUserID tries the access cookie first, then the refresh cookie.
func (ac *Context) ResolveUserID() uint {
	if ac.resolved {
		return ac.userID
	}
	ac.resolved = true

	if claims, err := ac.interceptor.accessClaims(ac.echo); err == nil && claims.UserID != 0 {
		ac.userID = claims.UserID
		return ac.userID
	}

	if row, err := ac.RefreshToken(); err == nil {
		ac.userID = row.UserID
	}
	return ac.userID
}

func (ac *Context) invalidateRefresh() {
	ac.refresh = nil
	ac.refreshErr = refreshtoken.ErrInvalidRefreshToken
	ac.refreshReady = true
}

// Login records a successful login for userID. It takes effect when the
// response is written with a status below 400.
func Login(c echo.Context, userID uint) error {
	ac := FromContext(c)
	if ac == nil {
		return ErrMiddlewareMissing
	}
	ac.outcome = OutcomeLogin
	ac.loginUserID = userID
	return nil
}

// Logout records a successful logout.
func Logout(c echo.Context) error {
	ac := FromContext(c)
	if ac == nil {
		return ErrMiddlewareMissing
	}
	ac.outcome = OutcomeLogout
	return nil
}

// ResolveUserID returns the authenticated user of the request, or 0.
func ResolveUserID(c echo.Context) uint {
	ac := FromContext(c)
	if ac == nil {
		return 0
	}
	return ac.ResolveUserID()
}

// LogFields is a logging.FieldsFunc reporting the user the request ended
// with and the outcome its handler recorded.
func LogFields(c echo.Context) []zap.Field {
	ac := FromContext(c)
	if ac == nil {
		return nil
	}

	var fields []zap.Field
	if ac.userID != 0 {
		fields = append(fields, zap.Uint("user_id", ac.userID))
	}
	if ac.outcome != OutcomeNone {
		fields = append(fields, zap.Stringer("auth_outcome", ac.outcome))
	}
	return fields
}
