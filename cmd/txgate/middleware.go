package main

import (
	"net/http"

	"github.com/chainscope/txgate/internal/middleware"
	"github.com/chainscope/txgate/internal/ratelimit"
	"github.com/chainscope/txgate/internal/security"
)

// buildMiddlewareChain wraps the router in the admission pipeline. Order
// matters: recovery outermost, then request-id and logging so every request
// is tagged and recorded, CORS and security headers annotate even rejected
// responses, the WAF sees every request before any budget is spent, and
// credential verification runs before rate accounting so authenticated
// traffic is limited per-subject rather than per-IP. Rejected credentials
// never reach the limiter stage, so Authenticate charges those against the
// client's per-IP bucket itself.
func buildMiddlewareChain(handler http.Handler, app *application) http.Handler {
	rlCfg := app.cfg.RateLimit.Runtime()

	chain := []middleware.Middleware{
		middleware.Recovery(app.logger),
		middleware.RequestID(),
		middleware.Logging(app.logger),
		middleware.CORS(&app.cfg.CORS),
		security.Headers(&app.cfg.Security),
		middleware.WAF(app.wafEngine, app.cfg.WAF.Runtime(), app.logger),
	}

	if app.authenticator != nil {
		chain = append(chain, middleware.Authenticate(app.authenticator, app.limiter, rlCfg, app.logger))
	}

	chain = append(chain,
		middleware.RateLimit(app.limiter, rlCfg,
			ratelimit.SubjectKeyFunc(middleware.SubjectFromRequest), app.logger),
		middleware.BodyLimit(app.cfg.Server.MaxBodyBytes, app.logger),
	)

	return middleware.Chain(handler, chain...)
}
