package openapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

type credentials struct {
	Username string `json:"username" doc:"login name" example:"alice"`
	Password string `json:"password"`
	Email    string `json:"email,omitempty"`
	Internal string `json:"-"`
}

type account struct {
	ID        uint       `json:"id"`
	LastLogin *time.Time `json:"last_login"`
	Tags      []string   `json:"tags,omitempty"`
}

type listing struct {
	Accounts []account        `json:"accounts"`
	Owner    *account         `json:"owner"`
	Extra    map[string]int64 `json:"extra,omitempty"`
}

func newDocument() *OpenAPI {
	doc := New("test", "1.0.0").
		Description("test api").
		Server("http://localhost:8080", "local").
		Tag("auth", "authentication").
		CookieAuth("accessCookie", "JWT_TOKEN", "access token").
		HeaderAuth("csrf", "X-CSRF-Token", "csrf token")

	doc.Document("POST", "/auth/login").
		Summary("Log in").
		OperationID("login").
		Tags("auth").
		Body(credentials{}, "credentials").
		Response(http.StatusOK, account{}, "logged in").
		ResponseHeader(http.StatusOK, "Set-Cookie", "token cookies").
		Response(http.StatusUnauthorized, nil, "wrong credentials").
		NoSecurity().
		Build()

	doc.Document("GET", "/accounts/:id").
		HeaderParam("X-Request-ID", "trace id", false).
		CookieParam("JWT_TOKEN", "access token").
		Response(http.StatusOK, listing{}, "accounts").
		Security("accessCookie").
		Build()

	return doc
}

func TestDocument(t *testing.T) {
	spec := newDocument().Spec()

	assert.Equal(t, "test api", spec.Info.Description)
	require.Len(t, spec.Servers, 1)
	require.Len(t, spec.Tags, 1)

	scheme := spec.Components.SecuritySchemes["accessCookie"].Value
	assert.Equal(t, "apiKey", scheme.Type)
	assert.Equal(t, openapi3.ParameterInCookie, scheme.In)
	assert.Equal(t, "JWT_TOKEN", scheme.Name)
	assert.Equal(t, openapi3.ParameterInHeader, spec.Components.SecuritySchemes["csrf"].Value.In)

	t.Run("login operation", func(t *testing.T) {
		login := spec.Paths.Find("/auth/login").Post
		require.NotNil(t, login)
		assert.Equal(t, "login", login.OperationID)
		assert.Equal(t, []string{"auth"}, login.Tags)
		assert.True(t, login.RequestBody.Value.Required)
		require.NotNil(t, login.Security)
		assert.Empty(t, *login.Security)

		ok := login.Responses.Status(http.StatusOK).Value
		assert.Contains(t, ok.Headers, "Set-Cookie")
		assert.Nil(t, login.Responses.Status(http.StatusUnauthorized).Value.Content)
	})

	t.Run("path params", func(t *testing.T) {
		get := spec.Paths.Find("/accounts/{id}").Get
		require.NotNil(t, get)

		byName := map[string]*openapi3.Parameter{}
		for _, p := range get.Parameters {
			byName[p.Value.Name] = p.Value
		}
		require.Contains(t, byName, "id")
		assert.Equal(t, openapi3.ParameterInPath, byName["id"].In)
		assert.True(t, byName["id"].Required)
		assert.False(t, byName["X-Request-ID"].Required)
		assert.Equal(t, openapi3.ParameterInCookie, byName["JWT_TOKEN"].In)

		require.Len(t, *get.Security, 1)
		assert.Contains(t, (*get.Security)[0], "accessCookie")
	})
}

func TestSchemas(t *testing.T) {
	spec := newDocument().Spec()

	creds := spec.Components.Schemas["credentials"].Value
	require.NotNil(t, creds)
	assert.ElementsMatch(t, []string{"username", "password"}, creds.Required)
	assert.NotContains(t, creds.Properties, "Internal")
	assert.Equal(t, "login name", creds.Properties["username"].Value.Description)
	assert.Equal(t, "alice", creds.Properties["username"].Value.Example)

	acct := spec.Components.Schemas["account"].Value
	require.NotNil(t, acct)
	lastLogin := acct.Properties["last_login"].Value
	assert.Equal(t, "date-time", lastLogin.Format)
	assert.True(t, lastLogin.Nullable)
	assert.Equal(t, float64(0), *acct.Properties["id"].Value.Min)

	list := spec.Components.Schemas["listing"].Value
	require.NotNil(t, list)
	assert.Equal(t, "#/components/schemas/account", list.Properties["accounts"].Value.Items.Ref)
	owner := list.Properties["owner"].Value
	assert.True(t, owner.Nullable)
	require.Len(t, owner.AllOf, 1)
	assert.Equal(t, "#/components/schemas/account", owner.AllOf[0].Ref)
	assert.NotNil(t, list.Properties["extra"].Value.AdditionalProperties.Schema)
}

func TestSchemaNameCollision(t *testing.T) {
	type account struct {
		Name string `json:"name"`
	}

	doc := newDocument()
	doc.Document("GET", "/other").Response(http.StatusOK, account{}, "other").Build()

	schemas := doc.Spec().Components.Schemas
	assert.Contains(t, schemas, "account")
	assert.Contains(t, schemas, "account2")
}

func TestHandlers(t *testing.T) {
	doc := newDocument()
	e := echo.New()
	e.GET("/openapi.json", doc.JSONHandler())
	e.GET("/openapi.yaml", doc.YAMLHandler())

	t.Run("json", func(t *testing.T) {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/openapi.json", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Header().Get(echo.HeaderContentType), echo.MIMEApplicationJSON)

		var body map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "3.0.3", body["openapi"])
	})

	t.Run("yaml", func(t *testing.T) {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/openapi.yaml", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "application/yaml", rec.Header().Get(echo.HeaderContentType))

		var body map[string]any
		require.NoError(t, yaml.Unmarshal(rec.Body.Bytes(), &body))
		assert.Contains(t, body, "paths")
	})
}
