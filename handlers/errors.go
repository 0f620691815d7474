package handlers

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/tech-arch1tect/chowkidar/services/auth"
	"github.com/tech-arch1tect/chowkidar/services/logging"
	"go.uber.org/zap"
)

type ErrorResponse struct {
	Error *auth.Error `json:"error"`
}

// StatusFor maps an auth error to its HTTP status: malformed input is a 400,
// everything else a 401.
func StatusFor(err *auth.Error) int {
	switch err.Code {
	case auth.CodeInvalidEmail, auth.CodeMissingIdentifier, auth.CodeEmailNotUnique:
		return http.StatusBadRequest
	default:
		return http.StatusUnauthorized
	}
}

func writeError(c echo.Context, err *auth.Error) error {
	return c.JSON(StatusFor(err), ErrorResponse{Error: err})
}

// ErrorHandler renders *auth.Error values as JSON and leaves everything else
// to echo's default handler.
func ErrorHandler(e *echo.Echo, logger *logging.Service) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		var authErr *auth.Error
		if errors.As(err, &authErr) {
			if werr := writeError(c, authErr); werr != nil {
				logger.Error("failed to write error response", zap.Error(werr))
			}
			return
		}

		var httpErr *echo.HTTPError
		if !errors.As(err, &httpErr) || httpErr.Code >= http.StatusInternalServerError {
			logger.Error("request failed",
				zap.String("method", c.Request().Method),
				zap.String("path", c.Path()),
				zap.Error(err))
		}
		e.DefaultHTTPErrorHandler(err, c)
	}
}
