package handlers

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/tech-arch1tect/chowkidar/config"
	"github.com/tech-arch1tect/chowkidar/openapi"
	"github.com/tech-arch1tect/chowkidar/services/auth"
)

const APIVersion = "1.0.0"

const (
	schemeAccess  = "accessCookie"
	schemeRefresh = "refreshCookie"
	schemeCSRF    = "csrfHeader"
)

// NewDocument describes the endpoints installed by RegisterRoutes.
func NewDocument(cfg *config.Config) *openapi.OpenAPI {
	doc := openapi.New("chowkidar", APIVersion).
		Description("Cookie based JWT authentication with rotating refresh tokens.").
		Server("http://"+cfg.Server.Host+":"+cfg.Server.Port, "configured listener").
		Tag("auth", "Login, logout and session state").
		CookieAuth(schemeAccess, cfg.Cookie.AccessName, "Short lived access token").
		CookieAuth(schemeRefresh, cfg.Cookie.RefreshName, "Refresh token bound to the client fingerprint")

	if cfg.CSRF.Enabled {
		doc.HeaderAuth(schemeCSRF, csrfHeader(cfg), "Token from GET /auth/csrf, required on unsafe methods")
	}

	documentAuth(doc, cfg)
	return doc
}

func documentAuth(doc *openapi.OpenAPI, cfg *config.Config) {
	refreshing := "Cookies: " + cfg.Cookie.AccessName + " and " + cfg.Cookie.RefreshName + " are refreshed or cleared"

	doc.Document(http.MethodGet, "/health").
		Summary("Liveness probe").
		OperationID("health").
		Response(http.StatusOK, HealthResponse{}, "Service is up").
		NoSecurity().
		Build()

	login := doc.Document(http.MethodPost, "/auth/login").
		Summary("Log in with username or email").
		Description("Sets a refresh cookie and, when configured, an access cookie. Failed attempts are rate limited per client IP.").
		OperationID("login").
		Tags("auth").
		Body(auth.Credentials{}, "Username or email with password").
		Response(http.StatusOK, LoginResponse{}, "Logged in").
		ResponseHeader(http.StatusOK, "Set-Cookie", "New refresh cookie").
		Response(http.StatusBadRequest, ErrorResponse{}, "Malformed identifier").
		Response(http.StatusUnauthorized, ErrorResponse{}, "Wrong credentials").
		Response(http.StatusTooManyRequests, nil, "Too many failed attempts").
		NoSecurity()
	csrfProtected(login, cfg).Build()

	logout := doc.Document(http.MethodPost, "/auth/logout").
		Summary("Log out").
		Description("Revokes the presented refresh token and clears both cookies. Requires an authenticated session.").
		OperationID("logout").
		Tags("auth").
		Response(http.StatusNoContent, nil, "Logged out").
		ResponseHeader(http.StatusNoContent, "Set-Cookie", "Cleared cookies").
		Response(http.StatusUnauthorized, ErrorResponse{}, "Not authenticated").
		Security(schemeRefresh)
	csrfProtected(logout, cfg).Build()

	doc.Document(http.MethodGet, "/auth/me").
		Summary("Current user").
		OperationID("me").
		Tags("auth").
		Response(http.StatusOK, MeResponse{}, "Authenticated user and device").
		ResponseHeader(http.StatusOK, "Set-Cookie", refreshing).
		Response(http.StatusUnauthorized, ErrorResponse{}, "Not authenticated").
		Security(schemeAccess, schemeRefresh).
		Build()

	doc.Document(http.MethodGet, "/auth/csrf").
		Summary("CSRF token").
		OperationID("csrf").
		Tags("auth").
		Response(http.StatusOK, CSRFResponse{}, "Token to send on unsafe requests").
		NoSecurity().
		Build()

	revoke := doc.Document(http.MethodPost, "/auth/sessions/revoke-others").
		Summary("Revoke other sessions").
		Description("Revokes every refresh token of the user except the presented one.").
		OperationID("revokeOtherSessions").
		Tags("auth").
		Response(http.StatusOK, RevokeResponse{}, "Number of revoked tokens").
		Response(http.StatusUnauthorized, ErrorResponse{}, "No valid refresh cookie").
		Security(schemeRefresh)
	csrfProtected(revoke, cfg).Build()
}

func csrfProtected(rb *openapi.RouteBuilder, cfg *config.Config) *openapi.RouteBuilder {
	if !cfg.CSRF.Enabled {
		return rb
	}
	return rb.HeaderParam(csrfHeader(cfg), "CSRF token", true).
		Response(http.StatusForbidden, nil, "Invalid CSRF token")
}

// csrfHeader is the header name of a "header:<name>" token lookup.
func csrfHeader(cfg *config.Config) string {
	source, name, ok := strings.Cut(cfg.CSRF.TokenLookup, ":")
	if !ok || source != "header" {
		return echo.HeaderXCSRFToken
	}
	return name
}
