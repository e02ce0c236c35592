package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/agentguard/internal/config"
	"github.com/agentguard/internal/models"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testAuthenticator(t *testing.T) *Authenticator {
	t.Helper()
	adminHash, err := models.HashPassword("s3cret")
	require.NoError(t, err)
	viewerHash, err := models.HashPassword("readonly")
	require.NoError(t, err)

	return NewAuthenticator(config.AuthConfig{
		Enabled:   true,
		JWTSecret: "test-secret",
		TokenTTL:  time.Hour,
		Users: []models.User{
			{Username: "ops", PasswordHash: adminHash, Role: models.RoleAdmin},
			{Username: "watcher", PasswordHash: viewerHash, Role: models.RoleViewer},
		},
	})
}

func TestLoginAndParseToken(t *testing.T) {
	a := testAuthenticator(t)

	token, err := a.Login("ops", "s3cret")
	require.NoError(t, err)

	claims, err := a.ParseToken(token)
	require.NoError(t, err)
	assert.Equal(t, "ops", claims.Username)
	assert.Equal(t, models.RoleAdmin, claims.Role)
	assert.Equal(t, "agentguard", claims.Issuer)
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	a := testAuthenticator(t)

	_, err := a.Login("ops", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = a.Login("nobody", "s3cret")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestParseTokenRejects(t *testing.T) {
	a := testAuthenticator(t)

	other := NewAuthenticator(config.AuthConfig{Enabled: true, JWTSecret: "other-secret", TokenTTL: time.Hour})
	forged, err := other.GenerateToken(&models.User{Username: "ops", Role: models.RoleAdmin})
	require.NoError(t, err)

	expired := NewAuthenticator(config.AuthConfig{Enabled: true, JWTSecret: "test-secret", TokenTTL: -time.Minute})
	stale, err := expired.GenerateToken(&models.User{Username: "ops", Role: models.RoleAdmin})
	require.NoError(t, err)

	unknown, err := a.GenerateToken(&models.User{Username: "ghost", Role: models.RoleAdmin})
	require.NoError(t, err)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{Username: "ops", Role: models.RoleAdmin})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := map[string]string{
		"wrong secret": forged,
		"expired":      stale,
		"unknown user": unknown,
		"unsigned":     unsigned,
		"garbage":      "not.a.token",
	}
	for name, token := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := a.ParseToken(token)
			assert.Error(t, err)
		})
	}
}

func newRouter(a *Authenticator) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	group := r.Group("/", a.Middleware())
	group.GET("/view", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"user": c.GetString("username")})
	})
	group.POST("/poll", RequirePermission(models.PermPollSubjects), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	return r
}

func serve(r http.Handler, method, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestMiddleware(t *testing.T) {
	a := testAuthenticator(t)
	r := newRouter(a)

	adminToken, err := a.Login("ops", "s3cret")
	require.NoError(t, err)
	viewerToken, err := a.Login("watcher", "readonly")
	require.NoError(t, err)

	tests := []struct {
		name   string
		method string
		path   string
		token  string
		want   int
	}{
		{name: "no token", method: http.MethodGet, path: "/view", want: http.StatusUnauthorized},
		{name: "bad token", method: http.MethodGet, path: "/view", token: "nope", want: http.StatusUnauthorized},
		{name: "viewer reads", method: http.MethodGet, path: "/view", token: viewerToken, want: http.StatusOK},
		{name: "viewer cannot poll", method: http.MethodPost, path: "/poll", token: viewerToken, want: http.StatusForbidden},
		{name: "admin polls", method: http.MethodPost, path: "/poll", token: adminToken, want: http.StatusNoContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(r, tt.method, tt.path, tt.token)
			assert.Equal(t, tt.want, w.Code, w.Body.String())
		})
	}
}

func TestMiddlewareDisabled(t *testing.T) {
	a := NewAuthenticator(config.AuthConfig{TokenTTL: time.Hour})
	assert.False(t, a.Enabled())

	r := newRouter(a)
	w := serve(r, http.MethodGet, "/view", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"user":"anonymous"}`, w.Body.String())

	assert.Equal(t, http.StatusNoContent, serve(r, http.MethodPost, "/poll", "").Code)
}

func TestRequirePermission(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		role   string
		action string
		want   int
	}{
		{role: "admin", action: models.PermPollSubjects, want: http.StatusNoContent},
		{role: "viewer", action: models.PermViewReports, want: http.StatusNoContent},
		{role: "viewer", action: models.PermPollSubjects, want: http.StatusForbidden},
		{role: "", action: models.PermViewSubjects, want: http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.role+" "+tt.action, func(t *testing.T) {
			r := gin.New()
			r.GET("/", func(c *gin.Context) {
				c.Set("role", tt.role)
				c.Next()
			}, RequirePermission(tt.action), func(c *gin.Context) {
				c.Status(http.StatusNoContent)
			})
			assert.Equal(t, tt.want, serve(r, http.MethodGet, "/", "").Code)
		})
	}
}
