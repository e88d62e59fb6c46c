package middleware

import (
	"io"
	"math"
	"net/http"
	"strconv"

	"github.com/chainscope/txgate/internal/observability"
	"github.com/chainscope/txgate/internal/ratelimit"
)

// RateLimit returns a middleware that enforces the token bucket per
// identity. Rejected requests get 429 with a Retry-After hint. A limiter
// failure admits the request; availability wins over strictness there.
func RateLimit(limiter ratelimit.Limiter, cfg *ratelimit.Config,
	keyFunc ratelimit.KeyFunc, logger observability.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !cfg.Enabled || cfg.IsBypassed(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			identity := keyFunc(r)
			result, err := limiter.Allow(r.Context(), identity)
			if err != nil {
				logger.Error("rate limiter failure",
					observability.String("identity", identity),
					observability.Error(err))
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set(HeaderXRateLimitLimit, strconv.Itoa(result.Limit))
			w.Header().Set(HeaderXRateLimitRemaining, strconv.Itoa(result.Remaining))

			if !result.Allowed {
				writeRateLimited(w, result)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// writeRateLimited writes the 429 response with a Retry-After hint, rounded
// up to whole seconds and never below one.
func writeRateLimited(w http.ResponseWriter, result *ratelimit.Result) {
	retryAfter := int(math.Ceil(result.RetryAfter.Seconds()))
	if retryAfter < 1 {
		retryAfter = 1
	}
	w.Header().Set(HeaderRetryAfter, strconv.Itoa(retryAfter))
	w.Header().Set(HeaderContentType, ContentTypeJSON)
	w.WriteHeader(http.StatusTooManyRequests)
	_, _ = io.WriteString(w, ErrRateLimitExceeded)
}
