package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/tech-arch1tect/chowkidar/config"
	"github.com/tech-arch1tect/chowkidar/middleware/csrf"
	"github.com/tech-arch1tect/chowkidar/middleware/tokenauth"
	"github.com/tech-arch1tect/chowkidar/services/auth"
	"github.com/tech-arch1tect/chowkidar/services/fingerprint"
	"github.com/tech-arch1tect/chowkidar/services/logging"
	"github.com/tech-arch1tect/chowkidar/services/refreshtoken"
	"go.uber.org/zap"
)

type LoginResponse struct {
	User             *auth.User `json:"user"`
	RefreshExpiresIn int64      `json:"refreshExpiresIn,omitempty" doc:"Unix time at which the refresh cookie expires"`
}

func (r *LoginResponse) SetRefreshExpiresIn(at time.Time) {
	r.RefreshExpiresIn = at.Unix()
}

type MeResponse struct {
	User   *auth.User         `json:"user"`
	Device fingerprint.Device `json:"device"`
}

type CSRFResponse struct {
	Token string `json:"csrfToken"`
}

type RevokeResponse struct {
	Revoked int64 `json:"revoked"`
}

type HealthResponse struct {
	Status string `json:"status" example:"ok"`
}

type AuthHandler struct {
	cfg    *config.Config
	users  *auth.Service
	tokens *refreshtoken.Service
	logger *logging.Service
}

func NewAuthHandler(cfg *config.Config, users *auth.Service, tokens *refreshtoken.Service, logger *logging.Service) *AuthHandler {
	return &AuthHandler{
		cfg:    cfg,
		users:  users,
		tokens: tokens,
		logger: logger,
	}
}

func (h *AuthHandler) Login(c echo.Context) error {
	var creds auth.Credentials
	if err := c.Bind(&creds); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	user, err := h.users.Authenticate(c.Request().Context(), creds)
	if err != nil {
		var authErr *auth.Error
		if errors.As(err, &authErr) {
			return writeError(c, authErr)
		}
		return err
	}

	return tokenauth.RespondHandlingAuthentication(c, tokenauth.Result{
		Status:  http.StatusOK,
		Body:    &LoginResponse{User: user},
		Outcome: tokenauth.OutcomeLogin,
		UserID:  user.ID,
	})
}

// Logout requires tokenauth.LoginRequired in front of it.
func (h *AuthHandler) Logout(c echo.Context) error {
	if err := tokenauth.Logout(c); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// Me requires tokenauth.ResolveUser in front of it.
func (h *AuthHandler) Me(c echo.Context) error {
	user := tokenauth.CurrentUser(c)
	if user == nil {
		return auth.ErrPermissionDenied
	}
	return c.JSON(http.StatusOK, MeResponse{
		User:   user,
		Device: fingerprint.Describe(c.Request().UserAgent()),
	})
}

func (h *AuthHandler) CSRF(c echo.Context) error {
	return c.JSON(http.StatusOK, CSRFResponse{Token: csrf.GetToken(c, h.cfg)})
}

// RevokeOtherSessions revokes every refresh token of the user except the
// one presented with this request.
func (h *AuthHandler) RevokeOtherSessions(c echo.Context) error {
	row, err := tokenauth.RequireFingerprint(c)
	if err != nil {
		return err
	}

	revoked, err := h.tokens.RevokeAllExcept(c.Request().Context(), row.UserID, row.Secret)
	if err != nil {
		return err
	}

	h.logger.Info("revoked other sessions",
		zap.Uint("user_id", row.UserID),
		zap.Int64("revoked", revoked))
	return c.JSON(http.StatusOK, RevokeResponse{Revoked: revoked})
}

func Health(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}
