package session

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/keithlinneman/academy-portal/internal/rbac"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func newTestManager(t *testing.T, now *time.Time) *Manager {
	t.Helper()
	m, err := NewManager(Options{
		Secret: testSecret,
		TTL:    time.Hour,
		Issuer: "test",
		Clock:  func() time.Time { return *now },
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m
}

func TestNewManager_Validation(t *testing.T) {
	tests := []struct {
		name string
		opts Options
	}{
		{"short secret", Options{Secret: []byte("short"), TTL: time.Hour}},
		{"nil secret", Options{TTL: time.Hour}},
		{"zero ttl", Options{Secret: testSecret}},
		{"negative ttl", Options{Secret: testSecret, TTL: -time.Minute}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewManager(tt.opts); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestNewManager_Defaults(t *testing.T) {
	m, err := NewManager(Options{Secret: testSecret, TTL: time.Hour})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	if m.CookieName() != "academy_session" {
		t.Errorf("cookie name = %q", m.CookieName())
	}
	if m.issuer != "academy-portal" {
		t.Errorf("issuer = %q", m.issuer)
	}
}

func TestIssueVerify_RoundTrip(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m := newTestManager(t, &now)

	tok, exp, err := m.Issue(Principal{AccountID: "acc-1", Email: "ada@example.com", Role: rbac.RoleInstructor})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if !exp.Equal(now.Add(time.Hour)) {
		t.Errorf("expiresAt = %v, want %v", exp, now.Add(time.Hour))
	}

	p, err := m.Verify(tok)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if p.AccountID != "acc-1" || p.Email != "ada@example.com" || p.Role != rbac.RoleInstructor {
		t.Errorf("principal = %+v", p)
	}
	if p.TokenID == "" {
		t.Error("token id should be set")
	}
	if !p.ExpiresAt.Equal(exp) {
		t.Errorf("principal ExpiresAt = %v, want %v", p.ExpiresAt, exp)
	}
}

func TestIssue_UniqueTokenIDs(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m := newTestManager(t, &now)

	p := Principal{AccountID: "acc-1", Role: rbac.RoleStudent}
	a, _, _ := m.Issue(p)
	b, _, _ := m.Issue(p)
	pa, _ := m.Verify(a)
	pb, _ := m.Verify(b)
	if pa.TokenID == pb.TokenID {
		t.Fatal("two issued tokens share a token id")
	}
}

func TestIssue_Rejects(t *testing.T) {
	now := time.Now()
	m := newTestManager(t, &now)

	if _, _, err := m.Issue(Principal{Role: rbac.RoleAdmin}); err == nil {
		t.Error("expected error for empty account id")
	}
	if _, _, err := m.Issue(Principal{AccountID: "x", Role: "janitor"}); err == nil {
		t.Error("expected error for unknown role")
	}
}

func TestVerify_Expired(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m := newTestManager(t, &now)

	tok, _, err := m.Issue(Principal{AccountID: "acc-1", Role: rbac.RoleParent})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	now = now.Add(2 * time.Hour)
	if _, err := m.Verify(tok); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("Verify expired = %v, want ErrInvalidToken", err)
	}
}

func TestVerify_Rejects(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m := newTestManager(t, &now)

	good, _, err := m.Issue(Principal{AccountID: "acc-1", Role: rbac.RoleAdmin})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	sign := func(method jwt.SigningMethod, key any, c claims) string {
		s, err := jwt.NewWithClaims(method, c).SignedString(key)
		if err != nil {
			t.Fatalf("sign: %v", err)
		}
		return s
	}
	base := func() claims {
		return claims{
			Role: "admin",
			RegisteredClaims: jwt.RegisteredClaims{
				Issuer:    "test",
				Subject:   "acc-1",
				IssuedAt:  jwt.NewNumericDate(now),
				ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
			},
		}
	}

	otherSecret := []byte("ffffffffffffffffffffffffffffffff")
	wrongIssuer := base()
	wrongIssuer.Issuer = "someone-else"
	unknownRole := base()
	unknownRole.Role = "janitor"
	noSubject := base()
	noSubject.Subject = ""
	noExpiry := base()
	noExpiry.ExpiresAt = nil

	tests := []struct {
		name string
		tok  string
	}{
		{"garbage", "not-a-jwt"},
		{"tampered", tamper(good)},
		{"other secret", sign(jwt.SigningMethodHS256, otherSecret, base())},
		{"hs512", sign(jwt.SigningMethodHS512, testSecret, base())},
		{"none alg", sign(jwt.SigningMethodNone, jwt.UnsafeAllowNoneSignatureType, base())},
		{"wrong issuer", sign(jwt.SigningMethodHS256, testSecret, wrongIssuer)},
		{"unknown role", sign(jwt.SigningMethodHS256, testSecret, unknownRole)},
		{"no subject", sign(jwt.SigningMethodHS256, testSecret, noSubject)},
		{"no expiry", sign(jwt.SigningMethodHS256, testSecret, noExpiry)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := m.Verify(tt.tok); !errors.Is(err, ErrInvalidToken) {
				t.Fatalf("Verify = %v, want ErrInvalidToken", err)
			}
		})
	}
}

// tamper flips the first character of the signature segment. The last
// character only carries padding bits in part, so it is not a reliable target.
func tamper(tok string) string {
	i := strings.LastIndex(tok, ".") + 1
	c := byte('A')
	if tok[i] == 'A' {
		c = 'B'
	}
	return tok[:i] + string(c) + tok[i+1:]
}

func TestVerify_ChildClaimParsesAsStudent(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m := newTestManager(t, &now)

	c := claims{
		Role: "child",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "test",
			Subject:   "acc-9",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(testSecret)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	p, err := m.Verify(tok)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if p.Role != rbac.RoleStudent {
		t.Fatalf("role = %q, want student", p.Role)
	}
}

func TestVerify_Empty(t *testing.T) {
	now := time.Now()
	m := newTestManager(t, &now)
	if _, err := m.Verify(""); !errors.Is(err, ErrNoToken) {
		t.Fatalf("Verify(\"\") = %v, want ErrNoToken", err)
	}
}

func TestTokenFromRequest(t *testing.T) {
	now := time.Now()
	m := newTestManager(t, &now)

	tests := []struct {
		name   string
		cookie string
		auth   string
		want   string
		err    error
	}{
		{name: "cookie", cookie: "from-cookie", want: "from-cookie"},
		{name: "bearer", auth: "Bearer from-header", want: "from-header"},
		{name: "bearer lowercase scheme", auth: "bearer from-header", want: "from-header"},
		{name: "cookie wins", cookie: "from-cookie", auth: "Bearer from-header", want: "from-cookie"},
		{name: "basic auth ignored", auth: "Basic dXNlcjpwYXNz", err: ErrNoToken},
		{name: "bearer without token", auth: "Bearer ", err: ErrNoToken},
		{name: "nothing", err: ErrNoToken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
			if tt.cookie != "" {
				r.AddCookie(&http.Cookie{Name: m.CookieName(), Value: tt.cookie})
			}
			if tt.auth != "" {
				r.Header.Set("Authorization", tt.auth)
			}
			got, err := m.TokenFromRequest(r)
			if tt.err != nil {
				if !errors.Is(err, tt.err) {
					t.Fatalf("err = %v, want %v", err, tt.err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("token = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFromRequest(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m := newTestManager(t, &now)

	issue := func(id string) string {
		t.Helper()
		tok, _, err := m.Issue(Principal{AccountID: id, Role: rbac.RoleStudent})
		if err != nil {
			t.Fatalf("Issue: %v", err)
		}
		return tok
	}
	cookieTok := issue("acc-cookie")
	bearerTok := issue("acc-bearer")

	issuedAt := now
	now = now.Add(-2 * time.Hour)
	stale := issue("acc-stale")
	now = issuedAt

	tests := []struct {
		name   string
		cookie string
		bearer string
		want   string
		err    error
	}{
		{name: "bearer only", bearer: bearerTok, want: "acc-bearer"},
		{name: "cookie only", cookie: cookieTok, want: "acc-cookie"},
		{name: "valid cookie wins", cookie: cookieTok, bearer: bearerTok, want: "acc-cookie"},
		{name: "stale cookie falls back to bearer", cookie: stale, bearer: bearerTok, want: "acc-bearer"},
		{name: "garbage cookie falls back to bearer", cookie: "garbage", bearer: bearerTok, want: "acc-bearer"},
		{name: "valid cookie with garbage bearer", cookie: cookieTok, bearer: "garbage", want: "acc-cookie"},
		{name: "stale cookie alone", cookie: stale, err: ErrInvalidToken},
		{name: "both invalid", cookie: "garbage", bearer: "garbage", err: ErrInvalidToken},
		{name: "nothing", err: ErrNoToken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
			if tt.cookie != "" {
				r.AddCookie(&http.Cookie{Name: m.CookieName(), Value: tt.cookie})
			}
			if tt.bearer != "" {
				r.Header.Set("Authorization", "Bearer "+tt.bearer)
			}
			p, err := m.FromRequest(r)
			if tt.err != nil {
				if !errors.Is(err, tt.err) {
					t.Fatalf("err = %v, want %v", err, tt.err)
				}
				return
			}
			if err != nil {
				t.Fatalf("FromRequest: %v", err)
			}
			if p.AccountID != tt.want {
				t.Fatalf("account = %q, want %q", p.AccountID, tt.want)
			}
		})
	}
}

func TestCookies(t *testing.T) {
	m, err := NewManager(Options{Secret: testSecret, TTL: 30 * time.Minute, SecureCookie: true})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	exp := time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC)
	c := m.Cookie("tok", exp)
	if c.Name != "academy_session" || c.Value != "tok" || c.Path != "/" {
		t.Errorf("cookie = %+v", c)
	}
	if !c.HttpOnly || !c.Secure || c.SameSite != http.SameSiteLaxMode {
		t.Errorf("cookie flags = %+v", c)
	}
	if c.MaxAge != 1800 {
		t.Errorf("MaxAge = %d, want 1800", c.MaxAge)
	}

	cl := m.ClearCookie()
	if cl.MaxAge >= 0 || cl.Value != "" {
		t.Errorf("clear cookie = %+v", cl)
	}
	if !strings.Contains(cl.String(), "Max-Age=0") {
		t.Errorf("clear cookie header = %q", cl.String())
	}
}
