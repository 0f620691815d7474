package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tech-arch1tect/chowkidar/config"
	"github.com/tech-arch1tect/chowkidar/services/fingerprint"
	"github.com/tech-arch1tect/chowkidar/testutils"
)

func createTestConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := testutils.GetTestConfig()
	cfg.Database.DSN = filepath.Join(t.TempDir(), "app.db")
	cfg.Server.Port = "0"
	return cfg
}

func startApp(t *testing.T, app *App) {
	t.Helper()
	require.NoError(t, app.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		assert.NoError(t, app.Stop(ctx))
	})
}

func TestApp_ServesAuthEndpoints(t *testing.T) {
	cfg := createTestConfig(t)
	app, err := NewApp().WithConfig(cfg).Build()
	require.NoError(t, err)
	startApp(t, app)

	require.NotNil(t, app.Server())
	assert.Equal(t, cfg, app.Config())
	assert.NotNil(t, app.Logger())
	assert.NotNil(t, app.DB())

	_, err = app.Users().CreateUser(context.Background(), "alice", "alice@example.com", testutils.TestUsers.Alice.Password)
	require.NoError(t, err)

	e := app.Server().Echo()

	req := httptest.NewRequest(http.MethodPost, "/auth/login",
		strings.NewReader(`{"username":"alice","password":"`+testutils.TestUsers.Alice.Password+`"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var refresh *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == cfg.Cookie.RefreshName {
			refresh = c
		}
	}
	require.NotNil(t, refresh)

	req = httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	req.AddCookie(refresh)
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"username":"alice"`)
}

func TestApp_WithoutHTTP(t *testing.T) {
	app, err := NewApp().WithConfig(createTestConfig(t)).WithoutHTTP().Build()
	require.NoError(t, err)
	startApp(t, app)

	assert.Nil(t, app.Server())

	user, err := app.Users().CreateUser(context.Background(), "bob", "bob@example.com", testutils.TestUsers.Bob.Password)
	require.NoError(t, err)

	row, err := app.Tokens().Issue(context.Background(), user.ID, fingerprint.Client{})
	require.NoError(t, err)
	assert.NotZero(t, row.ID)

	purged, err := app.Tokens().Purge(context.Background())
	require.NoError(t, err)
	assert.Zero(t, purged, "active tokens are kept")
}

func TestApp_RedisStores(t *testing.T) {
	_, mr := testutils.SetupTestRedis(t)

	cfg := createTestConfig(t)
	cfg.RefreshToken.Store = "redis"
	cfg.RateLimit.Store = "redis"
	cfg.Redis.Addr = mr.Addr()

	app, err := NewApp().WithConfig(cfg).Build()
	require.NoError(t, err)
	startApp(t, app)

	user, err := app.Users().CreateUser(context.Background(), "alice", "alice@example.com", testutils.TestUsers.Alice.Password)
	require.NoError(t, err)

	row, err := app.Tokens().Issue(context.Background(), user.ID, fingerprint.Client{})
	require.NoError(t, err)
	assert.NotEmpty(t, mr.Keys(), "refresh tokens live in redis")
	assert.NotZero(t, row.ID)
}
