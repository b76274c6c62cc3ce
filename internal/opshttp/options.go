package opshttp

import (
	"net/http"

	"github.com/keithlinneman/academy-portal/internal/health"
)

type Options struct {
	Port        int
	Metrics     http.Handler
	EnablePprof bool
	Health      health.Probe
	Readiness   health.Probe
	// AllowPublic disables the private-network guard, for local development only
	AllowPublic  bool
	UseRecoverMW bool
	// OnPanic is called for each recovered panic, e.g. to bump a counter
	OnPanic func()
}
