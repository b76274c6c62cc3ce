// Package session issues and verifies signed session tokens.
//
// Tokens are HS256 JWTs carrying the account id, email and role. They are
// delivered as an HttpOnly cookie on login and accepted either from that cookie
// or from an Authorization: Bearer header.
package session

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/keithlinneman/academy-portal/internal/rbac"
	"github.com/keithlinneman/academy-portal/internal/xerrors"
)

// MinSecretLen is the minimum signing secret length in bytes.
const MinSecretLen = 32

var (
	// ErrNoToken means the request carried neither a session cookie nor a bearer token.
	ErrNoToken = errors.New("no session token")
	// ErrInvalidToken covers bad signatures, wrong algorithm, wrong issuer, expiry and unknown roles.
	ErrInvalidToken = errors.New("invalid session token")
)

// Principal is the authenticated caller.
type Principal struct {
	AccountID string
	Email     string
	Role      rbac.Role
	// TokenID is the jti of the token the principal was read from
	TokenID   string
	ExpiresAt time.Time
}

type claims struct {
	Email string `json:"email"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

type Options struct {
	Secret       []byte
	TTL          time.Duration
	Issuer       string
	CookieName   string
	SecureCookie bool
	// Clock replaces time.Now, for tests
	Clock func() time.Time
}

type Manager struct {
	secret       []byte
	ttl          time.Duration
	issuer       string
	cookieName   string
	secureCookie bool
	now          func() time.Time
	parser       *jwt.Parser
}

func NewManager(opts Options) (*Manager, error) {
	if len(opts.Secret) < MinSecretLen {
		return nil, xerrors.Newf("session secret must be at least %d bytes, got %d", MinSecretLen, len(opts.Secret))
	}
	if opts.TTL <= 0 {
		return nil, xerrors.New("session ttl must be > 0")
	}
	if opts.Issuer == "" {
		opts.Issuer = "academy-portal"
	}
	if opts.CookieName == "" {
		opts.CookieName = "academy_session"
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	m := &Manager{
		secret:       append([]byte(nil), opts.Secret...),
		ttl:          opts.TTL,
		issuer:       opts.Issuer,
		cookieName:   opts.CookieName,
		secureCookie: opts.SecureCookie,
		now:          opts.Clock,
	}
	m.parser = jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(m.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(m.now),
	)
	return m, nil
}

// TTL returns the lifetime of issued tokens.
func (m *Manager) TTL() time.Duration { return m.ttl }

// CookieName returns the name of the session cookie.
func (m *Manager) CookieName() string { return m.cookieName }

// Issue signs a token for p. AccountID and a valid Role are required.
func (m *Manager) Issue(p Principal) (string, time.Time, error) {
	if p.AccountID == "" {
		return "", time.Time{}, xerrors.New("issue session: empty account id")
	}
	if !p.Role.Valid() {
		return "", time.Time{}, xerrors.Newf("issue session: unknown role %q", p.Role)
	}

	now := m.now()
	// jwt NumericDate has second precision, truncate so the returned expiry matches the token
	exp := now.Add(m.ttl).Truncate(time.Second)

	c := claims{
		Email: p.Email,
		Role:  p.Role.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   p.AccountID,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}

	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, xerrors.Wrap(err, "sign session token")
	}
	return tok, exp, nil
}

// Verify checks the signature, algorithm, issuer and expiry of raw and returns
// its principal. Every failure is reported as ErrInvalidToken.
func (m *Manager) Verify(raw string) (Principal, error) {
	if raw == "" {
		return Principal{}, ErrNoToken
	}

	var c claims
	tok, err := m.parser.ParseWithClaims(raw, &c, func(t *jwt.Token) (any, error) {
		return m.secret, nil
	})
	if err != nil || !tok.Valid {
		return Principal{}, ErrInvalidToken
	}

	role, ok := rbac.ParseRole(c.Role)
	if !ok || c.Subject == "" {
		return Principal{}, ErrInvalidToken
	}

	p := Principal{
		AccountID: c.Subject,
		Email:     c.Email,
		Role:      role,
		TokenID:   c.ID,
	}
	if c.ExpiresAt != nil {
		p.ExpiresAt = c.ExpiresAt.Time
	}
	return p, nil
}

// TokenFromRequest returns the session token from the cookie, falling back to
// an Authorization: Bearer header.
func (m *Manager) TokenFromRequest(r *http.Request) (string, error) {
	if tok := m.cookieToken(r); tok != "" {
		return tok, nil
	}
	if tok := bearerToken(r); tok != "" {
		return tok, nil
	}
	return "", ErrNoToken
}

// FromRequest extracts and verifies the request's session token. The cookie is
// tried first; when it fails verification a bearer token, if present, is
// verified instead.
func (m *Manager) FromRequest(r *http.Request) (Principal, error) {
	cookie, bearer := m.cookieToken(r), bearerToken(r)
	if cookie == "" && bearer == "" {
		return Principal{}, ErrNoToken
	}
	if cookie != "" {
		p, err := m.Verify(cookie)
		if err == nil || bearer == "" {
			return p, err
		}
	}
	return m.Verify(bearer)
}

func (m *Manager) cookieToken(r *http.Request) string {
	ck, err := r.Cookie(m.cookieName)
	if err != nil {
		return ""
	}
	return ck.Value
}

func bearerToken(r *http.Request) string {
	scheme, tok, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(tok)
}

// Cookie builds the session cookie carrying token.
func (m *Manager) Cookie(token string, expiresAt time.Time) *http.Cookie {
	return &http.Cookie{
		Name:     m.cookieName,
		Value:    token,
		Path:     "/",
		Expires:  expiresAt,
		MaxAge:   int(m.ttl / time.Second),
		HttpOnly: true,
		Secure:   m.secureCookie,
		SameSite: http.SameSiteLaxMode,
	}
}

// ClearCookie builds a cookie that removes the session cookie.
func (m *Manager) ClearCookie() *http.Cookie {
	return &http.Cookie{
		Name:     m.cookieName,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.secureCookie,
		SameSite: http.SameSiteLaxMode,
	}
}
