// Package portalhttp serves the portal's JSON API: login/logout, the caller's
// own session, and read-only views of the role/permission table for auditors.
package portalhttp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/academy-portal/internal/accounts"
	"github.com/keithlinneman/academy-portal/internal/authz"
	"github.com/keithlinneman/academy-portal/internal/httpmw"
	"github.com/keithlinneman/academy-portal/internal/log"
	"github.com/keithlinneman/academy-portal/internal/rbac"
	"github.com/keithlinneman/academy-portal/internal/session"
)

// Login results, used as metric labels.
const (
	LoginSuccess            = "success"
	LoginInvalidRequest     = "invalid_request"
	LoginInvalidCredentials = "invalid_credentials"
	LoginInactive           = "inactive"
	LoginError              = "error"
)

// maxLoginBody bounds the login request body.
const maxLoginBody = 4 << 10

type Options struct {
	Logger        log.Logger
	Sessions      *session.Manager
	Directory     accounts.Directory
	Authenticator *accounts.Authenticator
	Gate          *authz.Gate

	// Per-route-class limiters, nil disables limiting for that class
	AuthLimit func(http.Handler) http.Handler
	APILimit  func(http.Handler) http.Handler

	// OnLogin is called with the result of every login attempt
	OnLogin func(result string)
}

type API struct {
	logger    log.Logger
	sessions  *session.Manager
	dir       accounts.Directory
	auth      *accounts.Authenticator
	gate      *authz.Gate
	authLimit func(http.Handler) http.Handler
	apiLimit  func(http.Handler) http.Handler
	onLogin   func(string)
	validate  *requestValidator
}

func NewAPI(opts Options) *API {
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	if opts.Authenticator == nil && opts.Directory != nil {
		opts.Authenticator = accounts.NewAuthenticator(opts.Directory)
	}
	if opts.Gate == nil {
		opts.Gate = authz.New(opts.Sessions)
	}
	return &API{
		logger:    opts.Logger,
		sessions:  opts.Sessions,
		dir:       opts.Directory,
		auth:      opts.Authenticator,
		gate:      opts.Gate,
		authLimit: opts.AuthLimit,
		apiLimit:  opts.APILimit,
		onLogin:   opts.OnLogin,
		validate:  newRequestValidator(),
	}
}

// RegisterRoutes attaches the API under /api.
func (api *API) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Use(api.gate.Authenticate)

		r.Group(func(r chi.Router) {
			useIf(r, api.authLimit)
			r.With(httpmw.Scope("login")).Post("/auth/login", api.HandleLogin)
			r.With(httpmw.Scope("logout")).Post("/auth/logout", api.HandleLogout)
		})

		r.Group(func(r chi.Router) {
			useIf(r, api.apiLimit)

			r.With(httpmw.Scope("me"), api.gate.RequireAuth).Get("/me", api.HandleMe)

			r.Route("/rbac", func(r chi.Router) {
				r.Use(httpmw.Scope("rbac"), api.gate.Require(rbac.ViewAuditLog))
				r.Get("/roles", api.HandleRoles)
				r.Get("/roles/{role}", api.HandleRole)
				r.Get("/check", api.HandleCheck)
			})
		})
	})
}

func useIf(r chi.Router, mw func(http.Handler) http.Handler) {
	if mw != nil {
		r.Use(mw)
	}
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,notblank,email,max=254"`
	Password string `json:"password" validate:"required,notblank,max=72"`
}

type accountView struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
	Role  string `json:"role"`
}

type loginResponse struct {
	Token       string            `json:"token"`
	ExpiresAt   time.Time         `json:"expires_at"`
	Role        string            `json:"role"`
	Permissions []rbac.Permission `json:"permissions"`
	Account     accountView       `json:"account"`
}

type errorResponse struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

// HandleLogin verifies credentials and issues a session token, returned both in
// the body and as a cookie.
func (api *API) HandleLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req loginRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxLoginBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		api.loginResult(LoginInvalidRequest)
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			api.writeJSON(ctx, w, http.StatusRequestEntityTooLarge, errorResponse{Error: "request body too large"})
			return
		}
		api.writeJSON(ctx, w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body"})
		return
	}

	req.Email = strings.TrimSpace(req.Email)

	fields, err := api.validate.Struct(req)
	if err != nil {
		api.loginResult(LoginError)
		api.logger.Error(ctx, err, "validate login request")
		api.writeJSON(ctx, w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
		return
	}
	if fields != nil {
		api.loginResult(LoginInvalidRequest)
		api.writeJSON(ctx, w, http.StatusBadRequest, errorResponse{Error: "invalid request", Fields: fields})
		return
	}

	acct, err := api.auth.Authenticate(ctx, req.Email, req.Password)
	switch {
	case err == nil:
	case errors.Is(err, accounts.ErrInvalidCredentials):
		api.loginResult(LoginInvalidCredentials)
		log.FromContext(ctx).Info(ctx, "login rejected", "reason", LoginInvalidCredentials)
		api.writeJSON(ctx, w, http.StatusUnauthorized, errorResponse{Error: "invalid email or password"})
		return
	case errors.Is(err, accounts.ErrInactive):
		api.loginResult(LoginInactive)
		log.FromContext(ctx).Info(ctx, "login rejected", "reason", LoginInactive)
		api.writeJSON(ctx, w, http.StatusUnauthorized, errorResponse{Error: "account is inactive"})
		return
	default:
		api.loginResult(LoginError)
		log.FromContext(ctx).Error(ctx, err, "authenticate")
		api.writeJSON(ctx, w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
		return
	}

	token, exp, err := api.sessions.Issue(session.Principal{
		AccountID: acct.ID,
		Email:     acct.Email,
		Role:      acct.Role,
	})
	if err != nil {
		api.loginResult(LoginError)
		log.FromContext(ctx).Error(ctx, err, "issue session", "account.id", acct.ID)
		api.writeJSON(ctx, w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
		return
	}

	api.loginResult(LoginSuccess)
	log.FromContext(ctx).Info(ctx, "login succeeded", "account.id", acct.ID, "account.role", acct.Role.String())

	http.SetCookie(w, api.sessions.Cookie(token, exp))
	api.writeJSON(ctx, w, http.StatusOK, loginResponse{
		Token:       token,
		ExpiresAt:   exp.UTC(),
		Role:        acct.Role.String(),
		Permissions: rbac.PermissionsForRole(acct.Role),
		Account:     viewOf(acct),
	})
}

// HandleLogout clears the session cookie. Tokens are stateless, so a copied
// bearer token stays valid until it expires.
func (api *API) HandleLogout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, api.sessions.ClearCookie())
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusNoContent)
}

type meResponse struct {
	Account     accountView       `json:"account"`
	Permissions []rbac.Permission `json:"permissions"`
	ExpiresAt   time.Time         `json:"expires_at"`
}

// HandleMe returns the caller's account and permissions. A token for an
// account that has since been removed or deactivated is rejected.
func (api *API) HandleMe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	p, _ := authz.PrincipalFromContext(ctx)

	acct, err := api.dir.FindByID(ctx, p.AccountID)
	if err != nil {
		if errors.Is(err, accounts.ErrNotFound) {
			http.SetCookie(w, api.sessions.ClearCookie())
			api.writeJSON(ctx, w, http.StatusUnauthorized, errorResponse{Error: "account no longer exists"})
			return
		}
		log.FromContext(ctx).Error(ctx, err, "find account", "account.id", p.AccountID)
		api.writeJSON(ctx, w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
		return
	}
	if !acct.Active {
		http.SetCookie(w, api.sessions.ClearCookie())
		api.writeJSON(ctx, w, http.StatusUnauthorized, errorResponse{Error: "account is inactive"})
		return
	}

	// the role in the token is authoritative for this session
	view := viewOf(acct)
	view.Role = p.Role.String()

	api.writeJSON(ctx, w, http.StatusOK, meResponse{
		Account:     view,
		Permissions: rbac.PermissionsForRole(p.Role),
		ExpiresAt:   p.ExpiresAt.UTC(),
	})
}

type roleView struct {
	Role        string            `json:"role"`
	Permissions []rbac.Permission `json:"permissions"`
}

type rolesResponse struct {
	Roles []roleView `json:"roles"`
}

// HandleRoles returns the whole role/permission table.
func (api *API) HandleRoles(w http.ResponseWriter, r *http.Request) {
	table := rbac.Table()
	resp := rolesResponse{Roles: make([]roleView, 0, len(table))}
	for _, role := range rbac.Roles() {
		resp.Roles = append(resp.Roles, roleView{Role: role.String(), Permissions: table[role]})
	}
	api.writeJSON(r.Context(), w, http.StatusOK, resp)
}

// HandleRole returns one role's permissions, an empty list for unknown roles.
func (api *API) HandleRole(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "role")
	role, ok := rbac.ParseRole(raw)
	if !ok {
		api.writeJSON(r.Context(), w, http.StatusOK, roleView{Role: raw, Permissions: []rbac.Permission{}})
		return
	}
	api.writeJSON(r.Context(), w, http.StatusOK, roleView{Role: role.String(), Permissions: rbac.PermissionsForRole(role)})
}

type checkQuery struct {
	Role       string `query:"role" validate:"required,notblank,max=64"`
	Permission string `query:"permission" validate:"required,notblank,max=128"`
}

type checkResponse struct {
	Role          string `json:"role"`
	Permission    string `json:"permission"`
	HasPermission bool   `json:"has_permission"`
	CanAccess     bool   `json:"can_access"`
}

// HandleCheck answers whether a role holds a permission. Unknown roles and
// permissions are not an error, they are simply not allowed.
func (api *API) HandleCheck(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()
	req := checkQuery{
		Role:       q.Get("role"),
		Permission: q.Get("permission"),
	}

	fields, err := api.validate.Struct(req)
	if err != nil {
		log.FromContext(ctx).Error(ctx, err, "validate check query")
		api.writeJSON(ctx, w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
		return
	}
	if fields != nil {
		api.writeJSON(ctx, w, http.StatusBadRequest, errorResponse{Error: "invalid request", Fields: fields})
		return
	}

	// unknown role stays as given and matches nothing
	role, ok := rbac.ParseRole(req.Role)
	if !ok {
		role = rbac.Role(strings.TrimSpace(req.Role))
	}
	perm := rbac.Permission(req.Permission)

	api.writeJSON(ctx, w, http.StatusOK, checkResponse{
		Role:          role.String(),
		Permission:    req.Permission,
		HasPermission: rbac.HasPermission(role, perm),
		CanAccess:     rbac.CanAccess(role, perm),
	})
}

func viewOf(a accounts.Account) accountView {
	return accountView{ID: a.ID, Email: a.Email, Name: a.Name, Role: a.Role.String()}
}

func (api *API) loginResult(result string) {
	if api.onLogin != nil {
		api.onLogin(result)
	}
}

func (api *API) writeJSON(ctx context.Context, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		api.logger.Warn(ctx, "failed to encode JSON response", "error", err)
	}
}
