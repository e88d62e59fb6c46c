package ratelimit

import (
	"net/http"
	"strings"
)

// KeyFunc extracts a rate limit identity from an HTTP request.
type KeyFunc func(r *http.Request) string

// IPKeyFunc uses the client IP as the rate limit identity.
func IPKeyFunc(r *http.Request) string {
	return GetClientIP(r)
}

// SubjectKeyFunc combines the client IP with the authenticated subject when
// one is present, isolating tenants that share an IP. The subject is read
// from the request context by lookup, so unauthenticated traffic falls back
// to per-IP limiting.
func SubjectKeyFunc(lookup func(r *http.Request) string) KeyFunc {
	return func(r *http.Request) string {
		ip := GetClientIP(r)
		if subject := lookup(r); subject != "" {
			return ip + ":" + subject
		}
		return ip
	}
}

// GetClientIP extracts the client IP from the request, preferring the first
// entry of X-Forwarded-For, then X-Real-IP, then RemoteAddr.
func GetClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ips := strings.Split(xff, ",")
		if len(ips) > 0 {
			return strings.TrimSpace(ips[0])
		}
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	ip := r.RemoteAddr
	if idx := strings.LastIndex(ip, ":"); idx != -1 {
		ip = ip[:idx]
	}

	ip = strings.TrimPrefix(ip, "[")
	ip = strings.TrimSuffix(ip, "]")

	return ip
}
