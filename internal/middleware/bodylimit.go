package middleware

import (
	"errors"
	"io"
	"net/http"

	"github.com/chainscope/txgate/internal/observability"
)

// DefaultMaxBodySize is the request body cap when config does not set one.
const DefaultMaxBodySize = 1 << 20 // 1 MiB

// ErrBodySizeExceeded is returned by the wrapped body reader once the limit
// is crossed.
var ErrBodySizeExceeded = errors.New("request body size exceeded")

// BodyLimit returns a middleware that rejects oversized request bodies with
// 413. Declared lengths are rejected up front; chunked bodies are cut off
// while reading.
func BodyLimit(maxSize int64, logger observability.Logger) Middleware {
	if maxSize <= 0 {
		maxSize = DefaultMaxBodySize
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > maxSize {
				logger.Warn("request body too large",
					observability.Int64("content_length", r.ContentLength),
					observability.Int64("max_size", maxSize),
					observability.String("path", r.URL.Path),
				)

				bodyLimitRejectedTotal.Inc()

				w.Header().Set(HeaderContentType, ContentTypeJSON)
				w.WriteHeader(http.StatusRequestEntityTooLarge)
				_, _ = io.WriteString(w, ErrRequestEntityTooLarge)
				return
			}

			if r.Body != nil {
				r.Body = &limitedReadCloser{ReadCloser: r.Body, remaining: maxSize}
			}

			next.ServeHTTP(w, r)
		})
	}
}

// limitedReadCloser enforces the limit while the handler reads.
type limitedReadCloser struct {
	io.ReadCloser
	remaining int64
}

func (l *limitedReadCloser) Read(p []byte) (int, error) {
	if l.remaining <= 0 {
		return 0, ErrBodySizeExceeded
	}
	if int64(len(p)) > l.remaining {
		p = p[:l.remaining]
	}
	n, err := l.ReadCloser.Read(p)
	l.remaining -= int64(n)
	return n, err
}
