package middleware

import (
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/chainscope/txgate/internal/auth/wallet"
	"github.com/chainscope/txgate/internal/observability"
	"github.com/chainscope/txgate/internal/ratelimit"
)

type contextKey string

const credentialContextKey contextKey = "credential"

// ContextWithCredential attaches a verified credential to the context.
func ContextWithCredential(ctx context.Context, cred *wallet.Credential) context.Context {
	return context.WithValue(ctx, credentialContextKey, cred)
}

// CredentialFromContext returns the verified credential, or nil when the
// request is anonymous.
func CredentialFromContext(ctx context.Context) *wallet.Credential {
	cred, _ := ctx.Value(credentialContextKey).(*wallet.Credential)
	return cred
}

// SubjectFromRequest returns the authenticated wallet for a request, or ""
// for anonymous requests. Used to key the rate limiter per wallet.
func SubjectFromRequest(r *http.Request) string {
	if cred := CredentialFromContext(r.Context()); cred != nil {
		return cred.Subject
	}
	return ""
}

// CredentialVerifier validates a bearer token.
type CredentialVerifier interface {
	VerifyCredential(raw string) (*wallet.Credential, error)
}

// bearerToken extracts the token from the Authorization header.
func bearerToken(r *http.Request) string {
	header := r.Header.Get(HeaderAuthorization)
	if header == "" {
		return ""
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}

// Authenticate returns a middleware that verifies a bearer credential when
// one is presented and attaches it to the context. Requests without a token
// pass through anonymous; a presented but invalid token is rejected with 401
// rather than silently downgraded.
//
// Rejections still spend rate budget: an invalid token never reaches the
// per-subject limiter downstream, so the failure path charges the client's
// per-IP bucket here. An exhausted bucket turns the rejection into 429,
// which keeps credential stuffing from guessing tokens for free. Pass a nil
// limiter or config to skip the accounting.
func Authenticate(verifier CredentialVerifier, limiter ratelimit.Limiter,
	rlCfg *ratelimit.Config, logger observability.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}

			cred, err := verifier.VerifyCredential(token)
			if err != nil {
				authDecisionsTotal.WithLabelValues(wallet.ErrorKind(err)).Inc()
				logger.Warn("credential rejected",
					observability.String("kind", wallet.ErrorKind(err)),
					observability.String("path", r.URL.Path))

				if chargeRejection(limiter, rlCfg, w, r) {
					return
				}

				w.Header().Set(HeaderContentType, ContentTypeJSON)
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = io.WriteString(w, ErrUnauthorized)
				return
			}

			authDecisionsTotal.WithLabelValues("ok").Inc()
			next.ServeHTTP(w, r.WithContext(ContextWithCredential(r.Context(), cred)))
		})
	}
}

// chargeRejection spends one token from the client's per-IP bucket for a
// rejected credential and reports whether it already wrote a 429. Limiter
// failures admit, matching the data-path limiter.
func chargeRejection(limiter ratelimit.Limiter, rlCfg *ratelimit.Config,
	w http.ResponseWriter, r *http.Request) bool {
	if limiter == nil || rlCfg == nil || !rlCfg.Enabled || rlCfg.IsBypassed(r.URL.Path) {
		return false
	}
	result, err := limiter.Allow(r.Context(), ratelimit.GetClientIP(r))
	if err != nil || result.Allowed {
		return false
	}
	writeRateLimited(w, result)
	return true
}

// RequireAuth returns a middleware that rejects anonymous requests with 401.
// It must run after Authenticate in the chain.
func RequireAuth() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if CredentialFromContext(r.Context()) == nil {
				authDecisionsTotal.WithLabelValues("missing").Inc()
				w.Header().Set(HeaderContentType, ContentTypeJSON)
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = io.WriteString(w, ErrUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
