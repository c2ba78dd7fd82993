package security

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/convene/messenger-service/internal/config"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newResolver(mutate func(*config.Config)) *TokenResolver {
	cfg := config.DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	return NewTokenResolver(&cfg)
}

func TestResolveBearerAsUserID(t *testing.T) {
	r := newResolver(nil)

	id, err := r.Resolve(context.Background(), "mia", "", "")
	require.NoError(t, err)
	assert.Equal(t, "mia", id.UserID)
	assert.Empty(t, id.ClientID)
	assert.False(t, id.IsAdmin)
}

func TestResolveAPIKeyClient(t *testing.T) {
	r := newResolver(func(cfg *config.Config) {
		cfg.APIKeys = map[string]string{"secret": "main_app"}
	})

	id, err := r.Resolve(context.Background(), "mia", "secret", "")
	require.NoError(t, err)
	assert.Equal(t, "main_app", id.ClientID)

	id, err = r.Resolve(context.Background(), "mia", "wrong", "")
	require.NoError(t, err)
	assert.Empty(t, id.ClientID)
}

func TestResolveAdminUsers(t *testing.T) {
	r := newResolver(func(cfg *config.Config) {
		cfg.AdminUsers = "root, ops"
	})

	id, err := r.Resolve(context.Background(), "root", "", "")
	require.NoError(t, err)
	assert.True(t, id.IsAdmin)

	id, err = r.Resolve(context.Background(), "mia", "", "")
	require.NoError(t, err)
	assert.False(t, id.IsAdmin)
}

func TestResolveAdminClients(t *testing.T) {
	r := newResolver(func(cfg *config.Config) {
		cfg.APIKeys = map[string]string{"secret": "backfill"}
		cfg.AdminClients = "backfill"
	})

	id, err := r.Resolve(context.Background(), "job", "secret", "")
	require.NoError(t, err)
	assert.True(t, id.IsAdmin)
}

func TestResolveClientIDHeaderOnlyInTestingMode(t *testing.T) {
	prod := newResolver(nil)
	id, err := prod.Resolve(context.Background(), "mia", "", "spoofed")
	require.NoError(t, err)
	assert.Empty(t, id.ClientID)

	relaxed := newResolver(func(cfg *config.Config) {
		cfg.Mode = config.ModeTesting
	})
	id, err = relaxed.Resolve(context.Background(), "mia", "", "dev-client")
	require.NoError(t, err)
	assert.Equal(t, "dev-client", id.ClientID)
}

func TestAuthMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(AuthMiddleware(newResolver(nil)))
	r.GET("/whoami", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"userId": GetUserID(c)})
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Basic abc")
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer mia")
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"userId": "mia"}`, w.Body.String())
}

func TestSplitCSV(t *testing.T) {
	assert.Empty(t, splitCSV(""))
	assert.Equal(t, map[string]bool{"a": true, "b": true}, splitCSV("a, b,"))
}

func TestExtractTokenRoles(t *testing.T) {
	roles := extractTokenRoles(map[string]any{
		"roles":  []any{"admin", "user"},
		"groups": []any{"staff"},
		"scope":  "openid profile",
		"realm_access": map[string]any{
			"roles": []any{"realm-admin"},
		},
	})
	for _, want := range []string{"admin", "user", "staff", "openid", "profile", "realm-admin"} {
		assert.True(t, roles[want], want)
	}
}
