package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainscope/txgate/internal/auth/wallet"
	"github.com/chainscope/txgate/internal/observability"
	"github.com/chainscope/txgate/internal/ratelimit"
	"github.com/chainscope/txgate/internal/waf"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, "ok")
	})
}

func TestChainOrder(t *testing.T) {
	var order []string
	tag := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	handler := Chain(okHandler(), tag("first"), tag("second"), tag("third"))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, []string{"first", "second", "third"}, order)
}

func TestRequestID(t *testing.T) {
	t.Run("generates when absent", func(t *testing.T) {
		var seen string
		handler := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen = observability.RequestIDFromContext(r.Context())
		}), RequestID())

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

		assert.NotEmpty(t, seen)
		assert.Equal(t, seen, rec.Header().Get(HeaderXRequestID))
	})

	t.Run("honors incoming header", func(t *testing.T) {
		handler := Chain(okHandler(), RequestID())
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(HeaderXRequestID, "upstream-id")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, "upstream-id", rec.Header().Get(HeaderXRequestID))
	})
}

func TestRecovery(t *testing.T) {
	handler := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}), Recovery(observability.NopLogger()))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, ErrInternalServerError, rec.Body.String())
}

func TestBodyLimit(t *testing.T) {
	handler := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, err := io.ReadAll(r.Body)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusOK)
	}), BodyLimit(16, observability.NopLogger()))

	t.Run("small body passes", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("small"))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("declared oversize rejected with 413", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(strings.Repeat("x", 64)))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	})

	t.Run("undeclared oversize fails during read", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(strings.Repeat("x", 64)))
		req.ContentLength = -1
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestCORS(t *testing.T) {
	cfg := &CORSConfig{
		AllowedOrigins: []string{"https://app.example.com"},
		AllowedMethods: []string{http.MethodGet},
		AllowedHeaders: []string{HeaderContentType},
		MaxAge:         300,
	}
	handler := Chain(okHandler(), CORS(cfg))

	t.Run("allowed origin", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Origin", "https://app.example.com")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("preflight", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/", nil)
		req.Header.Set("Origin", "https://app.example.com")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, "GET", rec.Header().Get("Access-Control-Allow-Methods"))
		assert.Equal(t, "300", rec.Header().Get("Access-Control-Max-Age"))
	})

	t.Run("disallowed origin gets no CORS headers", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Origin", "https://evil.example.com")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	})
}

func newWAFMiddleware(t *testing.T, mutate func(*waf.Config)) Middleware {
	t.Helper()
	cfg := waf.DefaultConfig()
	if mutate != nil {
		mutate(cfg)
	}
	engine, err := waf.NewEngine(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { engine.Close() })
	return WAF(engine, cfg, observability.NopLogger())
}

func TestWAFMiddleware(t *testing.T) {
	handler := Chain(okHandler(), newWAFMiddleware(t, nil))

	t.Run("clean request passes", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/transactions?limit=10", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("injection attempts accumulate to a ban", func(t *testing.T) {
		status := 0
		for i := 0; i < 5; i++ {
			req := httptest.NewRequest(http.MethodGet,
				"/api/v1/transactions?from=1%27%20union%20select%20password", nil)
			req.RemoteAddr = "10.0.0.2:1234"
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			status = rec.Code
			if status == http.StatusForbidden {
				break
			}
		}
		assert.Equal(t, http.StatusForbidden, status)
	})

	t.Run("bypass path skips evaluation", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		req.RemoteAddr = "10.0.0.2:1234" // banned above, still passes on bypass
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestWAFMiddlewareBodyRestored(t *testing.T) {
	var body []byte
	handler := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}), newWAFMiddleware(t, nil))

	payload := strings.Repeat("a", 10000) // longer than the scan prefix
	req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(payload))
	req.RemoteAddr = "10.0.0.3:1234"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, payload, string(body), "handler must see the full body after inspection")
}

func newRateLimitMiddleware(t *testing.T, capacity int) Middleware {
	t.Helper()
	cfg := ratelimit.DefaultConfig()
	cfg.Capacity = capacity
	cfg.RefillRate = 0.001 // effectively no refill within the test
	limiter := ratelimit.NewTokenBucketLimiter(cfg.RefillRate, cfg.Capacity, nil)
	t.Cleanup(func() { limiter.Close() })
	return RateLimit(limiter, cfg, ratelimit.IPKeyFunc, observability.NopLogger())
}

func TestRateLimitMiddleware(t *testing.T) {
	handler := Chain(okHandler(), newRateLimitMiddleware(t, 3))

	send := func(addr, path string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.RemoteAddr = addr
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusOK, send("10.0.0.1:1", "/api").Code)
	}

	rec := send("10.0.0.1:1", "/api")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	retryAfter := rec.Header().Get(HeaderRetryAfter)
	require.NotEmpty(t, retryAfter)
	seconds, err := time.ParseDuration(retryAfter + "s")
	require.NoError(t, err)
	assert.Positive(t, seconds)

	// Another client has its own bucket.
	assert.Equal(t, http.StatusOK, send("10.0.0.2:1", "/api").Code)

	// Bypass paths are never limited.
	assert.Equal(t, http.StatusOK, send("10.0.0.1:1", "/healthz").Code)
}

func newVerifier(t *testing.T) (*wallet.Authenticator, string) {
	t.Helper()
	issuer, err := wallet.NewTokenIssuer([]byte("secret"))
	require.NoError(t, err)
	token, _, err := issuer.Issue("wallet-pubkey", "reader")
	require.NoError(t, err)
	auth := wallet.NewAuthenticator(wallet.NewMemoryNonceStore(), issuer)
	t.Cleanup(func() { _ = auth.Close() })
	return auth, token
}

func TestAuthenticate(t *testing.T) {
	issuer, token := newVerifier(t)
	handler := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, SubjectFromRequest(r))
	}), Authenticate(issuer, nil, nil, observability.NopLogger()))

	t.Run("valid token attaches credential", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(HeaderAuthorization, "Bearer "+token)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "wallet-pubkey", rec.Body.String())
	})

	t.Run("no token passes anonymous", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Empty(t, rec.Body.String())
	})

	t.Run("invalid token rejected", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(HeaderAuthorization, "Bearer garbage")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestRequireAuth(t *testing.T) {
	issuer, token := newVerifier(t)
	handler := Chain(okHandler(),
		Authenticate(issuer, nil, nil, observability.NopLogger()),
		RequireAuth())

	t.Run("anonymous rejected", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("authenticated passes", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(HeaderAuthorization, "Bearer "+token)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestAuthenticateRejectionsSpendRateBudget(t *testing.T) {
	issuer, token := newVerifier(t)
	cfg := ratelimit.DefaultConfig()
	cfg.Capacity = 5
	cfg.RefillRate = 0.001
	limiter := ratelimit.NewTokenBucketLimiter(cfg.RefillRate, cfg.Capacity, nil)
	t.Cleanup(func() { limiter.Close() })

	handler := Chain(okHandler(), Authenticate(issuer, limiter, cfg, observability.NopLogger()))

	send := func(bearer string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/transactions", nil)
		req.RemoteAddr = "203.0.113.9:1234"
		req.Header.Set(HeaderAuthorization, "Bearer "+bearer)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	// The first five rejections drain the per-IP bucket with a 401 each;
	// after that the same client is throttled instead of guessing for free.
	for i := 0; i < 5; i++ {
		assert.Equal(t, http.StatusUnauthorized, send("not-a-real-token").Code)
	}

	rec := send("not-a-real-token")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(HeaderRetryAfter))

	// Another IP still has a full budget.
	req := httptest.NewRequest(http.MethodGet, "/api/v1/transactions", nil)
	req.RemoteAddr = "203.0.113.10:1234"
	req.Header.Set(HeaderAuthorization, "Bearer not-a-real-token")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// A valid credential is unaffected by the rejection accounting.
	req = httptest.NewRequest(http.MethodGet, "/api/v1/transactions", nil)
	req.RemoteAddr = "203.0.113.9:1234"
	req.Header.Set(HeaderAuthorization, "Bearer "+token)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthenticateRejectionsSkipBypassedPaths(t *testing.T) {
	issuer, _ := newVerifier(t)
	cfg := ratelimit.DefaultConfig()
	cfg.Capacity = 1
	cfg.RefillRate = 0.001
	limiter := ratelimit.NewTokenBucketLimiter(cfg.RefillRate, cfg.Capacity, nil)
	t.Cleanup(func() { limiter.Close() })

	handler := Chain(okHandler(), Authenticate(issuer, limiter, cfg, observability.NopLogger()))

	for i := 0; i < 5; i++ {
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		req.RemoteAddr = "203.0.113.11:1234"
		req.Header.Set(HeaderAuthorization, "Bearer not-a-real-token")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	}
}
