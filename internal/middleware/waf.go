package middleware

import (
	"bytes"
	"io"
	"net/http"
	"net/url"

	"github.com/chainscope/txgate/internal/observability"
	"github.com/chainscope/txgate/internal/ratelimit"
	"github.com/chainscope/txgate/internal/waf"
)

// WAF returns a middleware that evaluates every request against the firewall
// engine. Blocked requests get 403; bypass paths skip evaluation entirely.
func WAF(engine *waf.Engine, cfg *waf.Config, logger observability.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !cfg.Enabled || cfg.IsBypassed(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			// Inspect the decoded query so encoded payloads cannot slip past
			// the patterns.
			query := r.URL.RawQuery
			if decoded, err := url.QueryUnescape(query); err == nil {
				query = decoded
			}

			in := waf.Input{
				ClientIP:   ratelimit.GetClientIP(r),
				Method:     r.Method,
				Path:       r.URL.Path,
				Query:      query,
				UserAgent:  r.UserAgent(),
				BodyPrefix: readBodyPrefix(r, cfg.MaxBodyScanBytes),
			}

			decision := engine.Evaluate(in)
			if decision.Action == waf.ActionBlock {
				logger.Warn("request blocked",
					observability.String("client_ip", in.ClientIP),
					observability.String("category", decision.Category),
					observability.String("rule", decision.Rule),
					observability.Int("score", decision.Score),
					observability.Int("cumulative", decision.Cumulative),
				)

				w.Header().Set(HeaderContentType, ContentTypeJSON)
				w.WriteHeader(http.StatusForbidden)
				_, _ = io.WriteString(w, ErrForbidden)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// readBodyPrefix reads up to maxBytes of the body for inspection and splices
// the consumed bytes back so the handler sees the full body.
func readBodyPrefix(r *http.Request, maxBytes int) []byte {
	if r.Body == nil || maxBytes <= 0 {
		return nil
	}

	prefix := make([]byte, maxBytes)
	n, _ := io.ReadFull(r.Body, prefix)
	if n == 0 {
		return nil
	}
	prefix = prefix[:n]

	r.Body = &spliceReadCloser{
		Reader: io.MultiReader(bytes.NewReader(prefix), r.Body),
		closer: r.Body,
	}
	return prefix
}

// spliceReadCloser rejoins an inspected prefix with the remaining body.
type spliceReadCloser struct {
	io.Reader
	closer io.Closer
}

func (s *spliceReadCloser) Close() error {
	return s.closer.Close()
}
