package httpserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/academy-portal/internal/health"
	"github.com/keithlinneman/academy-portal/internal/log"
)

// DefaultMaxBodyBytes caps request bodies when Options.MaxBodyBytes is 0.
// The largest legitimate body is a login request.
const DefaultMaxBodyBytes = 16 << 10

type Options struct {
	Logger       log.Logger
	Port         int
	UseRecoverMW bool
	// OnPanic is called for each recovered panic
	OnPanic   func()
	MetricsMW func(http.Handler) http.Handler
	Health    health.Probe
	Readiness health.Probe
	// RateLimitMW runs on every request after client identity is resolved,
	// typically the public limiter's Middleware
	RateLimitMW func(http.Handler) http.Handler
	// APIRoutes mounts application routes on the router
	APIRoutes func(chi.Router)
	// MaxBodyBytes caps request bodies, 0 means DefaultMaxBodyBytes and a
	// negative value disables the cap
	MaxBodyBytes int64
}
