package auth

import (
	"net/http"

	authlib "example.com/flowstate/internal/platform/auth"
)

// Paths served without a bearer token. The GitHub webhook authenticates with its HMAC signature instead.
var publicPaths = map[string]struct{}{
	"/healthz":            {},
	"/metrics":            {},
	"/v1/webhooks/github": {},
}

// Middleware enforces bearer-token authentication on incoming requests.
type Middleware struct {
	inner authlib.Middleware
}

// NewMiddleware constructs Middleware with validation config.
func NewMiddleware(cfg Config) Middleware {
	skipper := func(r *http.Request) bool {
		_, ok := publicPaths[r.URL.Path]
		return ok
	}
	return Middleware{inner: authlib.NewMiddleware(cfg, skipper)}
}

// Wrap attaches authentication handling to an http.Handler.
func (m Middleware) Wrap(next http.Handler) http.Handler {
	return m.inner.Wrap(next)
}
