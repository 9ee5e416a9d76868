package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BhavanK18/Whiteboard/internal/middleware"
)

const secret = "test-secret"

func sign(t *testing.T, key string, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(key))
	require.NoError(t, err)
	return token
}

func serve(t *testing.T, handler gin.HandlerFunc, header string) (*httptest.ResponseRecorder, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	var seen string
	r := gin.New()
	r.GET("/", handler, func(c *gin.Context) {
		seen, _ = middleware.UserRef(c)
		c.Status(http.StatusNoContent)
	})
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w, seen
}

func TestOptionalAuth(t *testing.T) {
	exp := time.Now().Add(time.Hour).Unix()
	tests := []struct {
		name       string
		header     string
		wantStatus int
		wantRef    string
	}{
		{name: "no header is anonymous", wantStatus: http.StatusNoContent},
		{name: "sub claim", header: "Bearer " + sign(t, secret, jwt.MapClaims{"sub": "alice", "exp": exp}), wantStatus: http.StatusNoContent, wantRef: "alice"},
		{name: "numeric user_id claim", header: "Bearer " + sign(t, secret, jwt.MapClaims{"user_id": 42, "exp": exp}), wantStatus: http.StatusNoContent, wantRef: "42"},
		{name: "wrong key", header: "Bearer " + sign(t, "other", jwt.MapClaims{"sub": "alice", "exp": exp}), wantStatus: http.StatusUnauthorized},
		{name: "expired", header: "Bearer " + sign(t, secret, jwt.MapClaims{"sub": "alice", "exp": time.Now().Add(-time.Hour).Unix()}), wantStatus: http.StatusUnauthorized},
		{name: "no identity claim", header: "Bearer " + sign(t, secret, jwt.MapClaims{"exp": exp}), wantStatus: http.StatusUnauthorized},
		{name: "malformed header", header: "Token abc", wantStatus: http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, ref := serve(t, middleware.OptionalAuth(secret), tt.header)
			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantRef, ref)
		})
	}
}

func TestOptionalAuth_DisabledWithoutSecret(t *testing.T) {
	token := sign(t, secret, jwt.MapClaims{"sub": "alice"})
	w, ref := serve(t, middleware.OptionalAuth(""), "Bearer "+token)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, ref)
}
