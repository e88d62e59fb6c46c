package security

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func serve(t *testing.T, cfg *Config, mutate func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()
	handler := Headers(cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if mutate != nil {
		mutate(req)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHeadersDefaults(t *testing.T) {
	rec := serve(t, DefaultConfig(), nil)

	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "no-referrer", rec.Header().Get("Referrer-Policy"))
	assert.NotEmpty(t, rec.Header().Get("Content-Security-Policy"))
	assert.Empty(t, rec.Header().Get("Strict-Transport-Security"), "no HSTS over plain HTTP")
}

func TestHeadersHSTSOnForwardedTLS(t *testing.T) {
	rec := serve(t, DefaultConfig(), func(r *http.Request) {
		r.Header.Set("X-Forwarded-Proto", "https")
	})
	assert.Equal(t, "max-age=31536000; includeSubDomains", rec.Header().Get("Strict-Transport-Security"))
}

func TestHeadersDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = false
	rec := serve(t, cfg, nil)
	assert.Empty(t, rec.Header().Get("X-Frame-Options"))
}
