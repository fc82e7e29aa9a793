package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GermaMirn/LineGuard-AI/internal/config"
)

func authAPI(local bool) *API {
	return &API{Config: &config.Config{
		SecretKey:      "test-secret",
		Algorithm:      "HS256",
		BackendLocal:   local,
		AuthServiceURL: "http://auth.internal",
	}}
}

func signToken(t *testing.T, secret string) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "operator",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	raw, err := tok.SignedString([]byte(secret))
	require.NoError(t, err)
	return raw
}

func authProbe(a *API) (http.Handler, *bool) {
	reached := false
	return a.requireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached = true
		w.WriteHeader(http.StatusOK)
	})), &reached
}

func TestRequireAuth_BackendLocalBypasses(t *testing.T) {
	h, reached := authProbe(authAPI(true))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("GET", "/analysis/history", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, *reached)
}

func TestRequireAuth_MissingTokenRejected(t *testing.T) {
	h, reached := authProbe(authAPI(false))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("GET", "/analysis/history", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.False(t, *reached)
	assert.Contains(t, w.Header().Get("WWW-Authenticate"), "auth.internal")
}

func TestRequireAuth_ValidTokenAccepted(t *testing.T) {
	a := authAPI(false)
	h, reached := authProbe(a)
	req := httptest.NewRequest("GET", "/analysis/history", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, a.Config.SecretKey))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, *reached)
}

func TestRequireAuth_WrongKeyRejected(t *testing.T) {
	h, reached := authProbe(authAPI(false))
	req := httptest.NewRequest("GET", "/analysis/history", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, "other-secret"))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.False(t, *reached)
}
