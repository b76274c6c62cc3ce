// Package authz is the route-level authorization gate.
//
// Authenticate resolves the caller from the session token and stores it in the
// request context. Require then decides each request with a single
// rbac.CanAccess lookup for the caller's role, so no handler compares roles
// itself.
package authz

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/keithlinneman/academy-portal/internal/log"
	"github.com/keithlinneman/academy-portal/internal/rbac"
	"github.com/keithlinneman/academy-portal/internal/session"
)

// Denial reasons, used as metric labels.
const (
	ReasonUnauthenticated = "unauthenticated"
	ReasonInvalidToken    = "invalid_token"
	ReasonForbidden       = "forbidden"
)

type principalKey struct{}

// WithPrincipal returns a context carrying p.
func WithPrincipal(ctx context.Context, p session.Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext returns the authenticated caller, if any.
func PrincipalFromContext(ctx context.Context) (session.Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(session.Principal)
	return p, ok
}

// Verifier reads a principal from a request. *session.Manager implements it.
type Verifier interface {
	FromRequest(r *http.Request) (session.Principal, error)
}

// Gate holds the verifier and the denial hook shared by the middleware.
type Gate struct {
	verifier Verifier

	// OnDenied is called for every denied request with the reason and the
	// permission that was required ("" for authentication failures)
	OnDenied func(reason string, perm rbac.Permission)
}

func New(v Verifier) *Gate {
	return &Gate{verifier: v}
}

// Authenticate stores the request's principal in the context when a valid
// token is present. Requests without a token continue anonymously. A token
// that fails verification is treated as absent, and Require later denies the
// request with reason invalid_token.
func (g *Gate) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		p, err := g.verifier.FromRequest(r)
		switch {
		case err == nil:
			ctx = WithPrincipal(ctx, p)
			L := log.FromContext(ctx).With("account.id", p.AccountID, "account.role", p.Role.String())
			ctx = log.WithContext(ctx, L)
			if span := trace.SpanFromContext(ctx); span.IsRecording() {
				span.SetAttributes(
					attribute.String("enduser.id", p.AccountID),
					attribute.String("enduser.role", p.Role.String()),
				)
			}
		case errors.Is(err, session.ErrNoToken):
		default:
			ctx = context.WithValue(ctx, invalidTokenKey{}, true)
			log.FromContext(ctx).Debug(ctx, "session token rejected", "error", err)
		}

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type invalidTokenKey struct{}

// RequireAuth denies anonymous requests with 401.
func (g *Gate) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := PrincipalFromContext(r.Context()); !ok {
			g.deny(w, r, unauthenticatedReason(r.Context()), "")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Require denies requests whose principal lacks perm: 401 without a
// principal, 403 when the role does not hold perm.
func (g *Gate) Require(perm rbac.Permission) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := PrincipalFromContext(r.Context())
			if !ok {
				g.deny(w, r, unauthenticatedReason(r.Context()), perm)
				return
			}
			if !rbac.CanAccess(p.Role, perm) {
				g.deny(w, r, ReasonForbidden, perm)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func unauthenticatedReason(ctx context.Context) string {
	if bad, _ := ctx.Value(invalidTokenKey{}).(bool); bad {
		return ReasonInvalidToken
	}
	return ReasonUnauthenticated
}

type errorResponse struct {
	Error      string `json:"error"`
	Permission string `json:"permission,omitempty"`
}

func (g *Gate) deny(w http.ResponseWriter, r *http.Request, reason string, perm rbac.Permission) {
	ctx := r.Context()

	if g.OnDenied != nil {
		g.OnDenied(reason, perm)
	}

	status := http.StatusUnauthorized
	msg := "authentication required"
	if reason == ReasonForbidden {
		status = http.StatusForbidden
		msg = "forbidden"
	}

	log.FromContext(ctx).Warn(ctx, "request denied",
		"reason", reason,
		"permission", string(perm),
	)

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer realm="academy-portal"`)
	}
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorResponse{Error: msg, Permission: string(perm)})
}
