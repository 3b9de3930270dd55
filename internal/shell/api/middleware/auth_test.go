package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Test Helpers
// =============================================================================

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
}

func serve(h http.Handler, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/ports", nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

// =============================================================================
// AuthMiddleware Tests
// =============================================================================

func TestAuthMiddleware_NoToken_Passthrough(t *testing.T) {
	m := NewAuthMiddleware(AuthConfig{})
	assert.False(t, m.Enabled())

	rec := serve(m.Handler(okHandler()), nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestAuthMiddleware_BearerToken(t *testing.T) {
	m := NewAuthMiddleware(AuthConfig{Token: "s3cret"})

	rec := serve(m.Handler(okHandler()), map[string]string{"Authorization": "Bearer s3cret"})
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = serve(m.Handler(okHandler()), map[string]string{"Authorization": "bearer s3cret"})
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestAuthMiddleware_APIKeyHeader(t *testing.T) {
	m := NewAuthMiddleware(AuthConfig{Token: "s3cret"})

	rec := serve(m.Handler(okHandler()), map[string]string{HeaderAPIKey: "s3cret"})
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestAuthMiddleware_Missing(t *testing.T) {
	m := NewAuthMiddleware(AuthConfig{Token: "s3cret"})

	rec := serve(m.Handler(okHandler()), nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "unauthorized", body.Code)
}

func TestAuthMiddleware_Invalid(t *testing.T) {
	m := NewAuthMiddleware(AuthConfig{Token: "s3cret"})

	rec := serve(m.Handler(okHandler()), map[string]string{"Authorization": "Bearer wrong"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "forbidden", body.Code)
}

func TestAuthMiddleware_BasicSchemeIgnored(t *testing.T) {
	m := NewAuthMiddleware(AuthConfig{Token: "s3cret"})

	rec := serve(m.Handler(okHandler()), map[string]string{"Authorization": "Basic s3cret"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

// =============================================================================
// AccessLog Tests
// =============================================================================

func TestAccessLog(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	rec := serve(AccessLog(logger)(okHandler()), nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "request", line["msg"])
	assert.Equal(t, "GET", line["method"])
	assert.Equal(t, "/api/v1/ports", line["path"])
	assert.Equal(t, float64(http.StatusNoContent), line["status"])
}
