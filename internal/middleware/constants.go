// Package middleware provides the HTTP admission chain for the gateway.
package middleware

import (
	"net/http"
	"strings"
)

// isWebSocketUpgrade checks if the request is a WebSocket upgrade request.
func isWebSocketUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket") &&
		strings.Contains(strings.ToLower(r.Header.Get("Connection")), "upgrade")
}

// HTTP header constants.
const (
	// HeaderContentType is the Content-Type header name.
	HeaderContentType = "Content-Type"

	// HeaderRetryAfter is the Retry-After header name.
	HeaderRetryAfter = "Retry-After"

	// HeaderAuthorization is the Authorization header name.
	HeaderAuthorization = "Authorization"

	// HeaderXRequestID is the X-Request-ID header name.
	HeaderXRequestID = "X-Request-ID"

	// HeaderXRateLimitLimit reports the bucket capacity.
	HeaderXRateLimitLimit = "X-RateLimit-Limit"

	// HeaderXRateLimitRemaining reports the remaining tokens.
	HeaderXRateLimitRemaining = "X-RateLimit-Remaining"
)

// Content type constants.
const (
	// ContentTypeJSON is the JSON content type.
	ContentTypeJSON = "application/json"
)

// Error response constants.
const (
	// ErrRateLimitExceeded is the error body for rate limit rejections.
	ErrRateLimitExceeded = `{"error":"rate limit exceeded"}`

	// ErrForbidden is the error body for WAF rejections.
	ErrForbidden = `{"error":"forbidden"}`

	// ErrUnauthorized is the error body for failed authentication.
	ErrUnauthorized = `{"error":"unauthorized"}`

	// ErrRequestEntityTooLarge is the error body for oversized requests.
	ErrRequestEntityTooLarge = `{"error":"request entity too large"}`

	// ErrInternalServerError is the error body for recovered panics.
	ErrInternalServerError = `{"error":"internal server error"}`
)
