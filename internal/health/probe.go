package health

import (
	"context"
	"sync/atomic"

	"github.com/keithlinneman/academy-portal/internal/xerrors"
)

// Probe is evaluated at request time. nil means pass, an error is the reason
// for failing.
type Probe interface{ Check(context.Context) error }

// CheckFunc adapts a function into a Probe.
type CheckFunc func(context.Context) error

func (f CheckFunc) Check(ctx context.Context) error { return f(ctx) }

// Fixed always passes, or always fails with reason ("unhealthy" if empty).
func Fixed(ok bool, reason string) CheckFunc {
	if ok {
		return func(context.Context) error { return nil }
	}
	if reason == "" {
		reason = "unhealthy"
	}
	return func(context.Context) error { return xerrors.New(reason) }
}

// All passes only if every non-nil probe passes and returns the first failure.
func All(ps ...Probe) CheckFunc {
	return func(ctx context.Context) error {
		for _, p := range ps {
			if p == nil {
				continue
			}
			if err := p.Check(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}

// NonEmpty fails while count reports zero, e.g. an account directory that
// loaded no accounts cannot authenticate anyone.
func NonEmpty(what string, count func() int) CheckFunc {
	return func(context.Context) error {
		if count == nil || count() == 0 {
			return xerrors.Newf("%s: empty", what)
		}
		return nil
	}
}

// ShutdownGate fails its probe once Set is called, so load balancers stop
// routing new requests while in-flight ones drain.
type ShutdownGate struct {
	draining atomic.Bool
	reason   atomic.Value
}

func (g *ShutdownGate) Set(reason string) {
	g.reason.Store(reason)
	g.draining.Store(true)
}

func (g *ShutdownGate) Clear() {
	g.draining.Store(false)
	g.reason.Store("")
}

func (g *ShutdownGate) Probe() CheckFunc {
	return func(context.Context) error {
		if !g.draining.Load() {
			return nil
		}
		r, _ := g.reason.Load().(string)
		if r == "" {
			r = "draining"
		}
		return xerrors.New(r)
	}
}
