package middleware

import "net/http"

// Middleware is a standard http.Handler wrapper.
type Middleware func(http.Handler) http.Handler

// Chain folds middlewares around a handler. The first middleware is the
// outermost, seeing the request first.
func Chain(handler http.Handler, middlewares ...Middleware) http.Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		handler = middlewares[i](handler)
	}
	return handler
}
