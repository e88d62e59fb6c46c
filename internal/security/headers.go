// Package security adds hardening headers to every response.
package security

import (
	"net/http"
	"strconv"
	"strings"
)

// Config configures the security headers middleware.
type Config struct {
	// Enabled turns the middleware on.
	Enabled bool `yaml:"enabled"`

	// XFrameOptions, XContentTypeOptions and ReferrerPolicy fill the
	// matching headers. Empty values omit the header.
	XFrameOptions       string `yaml:"xFrameOptions"`
	XContentTypeOptions string `yaml:"xContentTypeOptions"`
	ReferrerPolicy      string `yaml:"referrerPolicy"`

	// ContentSecurityPolicy is sent verbatim when set.
	ContentSecurityPolicy string `yaml:"contentSecurityPolicy"`

	// HSTSMaxAge enables Strict-Transport-Security on TLS requests when
	// positive.
	HSTSMaxAge            int  `yaml:"hstsMaxAge"`
	HSTSIncludeSubdomains bool `yaml:"hstsIncludeSubdomains"`

	// RemoveServerHeader strips the Server header from responses.
	RemoveServerHeader bool `yaml:"removeServerHeader"`
}

// DefaultConfig returns the security header defaults.
func DefaultConfig() *Config {
	return &Config{
		Enabled:               true,
		XFrameOptions:         "DENY",
		XContentTypeOptions:   "nosniff",
		ReferrerPolicy:        "no-referrer",
		ContentSecurityPolicy: "default-src 'none'; frame-ancestors 'none'",
		HSTSMaxAge:            31536000,
		HSTSIncludeSubdomains: true,
		RemoveServerHeader:    true,
	}
}

// Headers returns a middleware that sets the configured security headers.
func Headers(cfg *Config) func(http.Handler) http.Handler {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	var hsts string
	if cfg.HSTSMaxAge > 0 {
		var b strings.Builder
		b.WriteString("max-age=")
		b.WriteString(strconv.Itoa(cfg.HSTSMaxAge))
		if cfg.HSTSIncludeSubdomains {
			b.WriteString("; includeSubDomains")
		}
		hsts = b.String()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !cfg.Enabled {
				next.ServeHTTP(w, r)
				return
			}

			h := w.Header()
			if cfg.XFrameOptions != "" {
				h.Set("X-Frame-Options", cfg.XFrameOptions)
			}
			if cfg.XContentTypeOptions != "" {
				h.Set("X-Content-Type-Options", cfg.XContentTypeOptions)
			}
			if cfg.ReferrerPolicy != "" {
				h.Set("Referrer-Policy", cfg.ReferrerPolicy)
			}
			if cfg.ContentSecurityPolicy != "" {
				h.Set("Content-Security-Policy", cfg.ContentSecurityPolicy)
			}
			if hsts != "" && isSecureRequest(r) {
				h.Set("Strict-Transport-Security", hsts)
			}
			if cfg.RemoveServerHeader {
				h.Del("Server")
			}

			next.ServeHTTP(w, r)
		})
	}
}

// isSecureRequest reports whether the request arrived over TLS, directly or
// behind a terminating proxy.
func isSecureRequest(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	return strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
}
