package tokenauth

import (
	"context"

	"github.com/labstack/echo/v4"
	"github.com/tech-arch1tect/chowkidar/services/auth"
	"github.com/tech-arch1tect/chowkidar/services/refreshtoken"
)

// UserLoader loads the full user record for RequireUser.
type UserLoader interface {
	GetUser(ctx context.Context, userID uint) (*auth.User, error)
}

// RequireLogin returns the authenticated user id or auth.ErrPermissionDenied.
func RequireLogin(c echo.Context) (uint, error) {
	userID := ResolveUserID(c)
	if userID == 0 {
		return 0, auth.ErrPermissionDenied
	}
	return userID, nil
}

// RequireFingerprint returns the verified refresh token of the request. A
// request authenticated only by its access cookie does not qualify.
func RequireFingerprint(c echo.Context) (*refreshtoken.RefreshToken, error) {
	ac := FromContext(c)
	if ac == nil {
		return nil, auth.ErrPermissionDenied
	}
	row, err := ac.RefreshToken()
	if err != nil || row == nil {
		return nil, auth.ErrPermissionDenied
	}
	return row, nil
}

func RequireUser(c echo.Context, users UserLoader) (*auth.User, error) {
	userID, err := RequireLogin(c)
	if err != nil {
		return nil, err
	}
	user, err := users.GetUser(c.Request().Context(), userID)
	if err != nil {
		return nil, auth.ErrPermissionDenied
	}
	return user, nil
}

func LoginRequired() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if _, err := RequireLogin(c); err != nil {
				return err
			}
			return next(c)
		}
	}
}

func FingerprintRequired() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if _, err := RequireFingerprint(c); err != nil {
				return err
			}
			return next(c)
		}
	}
}

// ResolveUser loads the authenticated user and stores it under UserKey.
func ResolveUser(users UserLoader) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			user, err := RequireUser(c, users)
			if err != nil {
				return err
			}
			c.Set(UserKey, user)
			return next(c)
		}
	}
}

func CurrentUser(c echo.Context) *auth.User {
	if user, ok := c.Get(UserKey).(*auth.User); ok {
		return user
	}
	return nil
}
