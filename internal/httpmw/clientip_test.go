package httpmw

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClientKey(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		xff        string
		realIP     string
		want       string
	}{
		{
			name:       "single XFF entry",
			remoteAddr: "10.0.0.1:1234",
			xff:        "203.0.113.50",
			want:       "203.0.113.50",
		},
		{
			name:       "multi-hop XFF takes first",
			remoteAddr: "10.0.0.1:1234",
			xff:        "203.0.113.50, 10.0.0.5, 10.0.0.6",
			want:       "203.0.113.50",
		},
		{
			name:       "whitespace trimmed",
			remoteAddr: "10.0.0.1:1234",
			xff:        "   10.0.0.2  ,10.0.0.9",
			want:       "10.0.0.2",
		},
		{
			name:       "empty first XFF entry falls through to X-Real-IP",
			remoteAddr: "10.0.0.1:1234",
			xff:        " , 10.0.0.9",
			realIP:     "198.51.100.7",
			want:       "198.51.100.7",
		},
		{
			name:       "X-Real-IP when no XFF",
			remoteAddr: "10.0.0.1:1234",
			realIP:     " 198.51.100.7 ",
			want:       "198.51.100.7",
		},
		{
			name:       "XFF wins over X-Real-IP",
			remoteAddr: "10.0.0.1:1234",
			xff:        "203.0.113.50",
			realIP:     "198.51.100.7",
			want:       "203.0.113.50",
		},
		{
			name:       "RemoteAddr host when no headers",
			remoteAddr: "203.0.113.1:1234",
			want:       "203.0.113.1",
		},
		{
			name:       "IPv6 RemoteAddr",
			remoteAddr: "[2001:db8::1]:1234",
			want:       "2001:db8::1",
		},
		{
			name:       "RemoteAddr without port used as-is",
			remoteAddr: "203.0.113.1",
			want:       "203.0.113.1",
		},
		{
			name:       "nothing usable is anonymous",
			remoteAddr: "",
			want:       AnonymousClient,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
			r.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				r.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.realIP != "" {
				r.Header.Set("X-Real-IP", tt.realIP)
			}
			if got := ClientKey(r); got != tt.want {
				t.Errorf("ClientKey() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestClientIP_StoresKeyInContext(t *testing.T) {
	var got string
	h := ClientIP(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = ClientIPFromContext(r.Context())
	}))

	r := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	r.Header.Set("X-Forwarded-For", "10.0.0.2, 10.0.0.1")
	h.ServeHTTP(httptest.NewRecorder(), r)

	if got != "10.0.0.2" {
		t.Fatalf("ClientIPFromContext = %q, want 10.0.0.2", got)
	}
}

func TestClientIPFromContext_Empty(t *testing.T) {
	if got := ClientIPFromContext(context.Background()); got != "" {
		t.Fatalf("got %q, want empty", got)
	}
}

func TestWithClientIP_EmptyIsNoop(t *testing.T) {
	ctx := context.Background()
	if WithClientIP(ctx, "") != ctx {
		t.Fatal("WithClientIP with empty ip should return the same context")
	}
}
