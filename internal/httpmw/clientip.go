package httpmw

import (
	"context"
	"net"
	"net/http"
	"strings"
)

type clientIPKey struct{}

// AnonymousClient is the key used when a request carries no usable client
// identity. All such requests share one rate-limit bucket.
const AnonymousClient = "anonymous"

// ClientIP resolves the client identity with ClientKey and stores it in the context.
func ClientIP(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := WithClientIP(r.Context(), ClientKey(r))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ClientKey derives a stable client identifier from the request. Order:
//   - first comma-separated X-Forwarded-For entry (the proxy in front appends, the client is leftmost)
//   - X-Real-IP
//   - host part of RemoteAddr
//   - "anonymous"
//
// Never returns "".
func ClientKey(r *http.Request) string {
	if xf := r.Header.Get("X-Forwarded-For"); xf != "" {
		first, _, _ := strings.Cut(xf, ",")
		if v := strings.TrimSpace(first); v != "" {
			return v
		}
	}
	if v := strings.TrimSpace(r.Header.Get("X-Real-IP")); v != "" {
		return v
	}
	if addr := strings.TrimSpace(r.RemoteAddr); addr != "" {
		if host, _, err := net.SplitHostPort(addr); err == nil {
			if host != "" {
				return host
			}
		} else {
			// no port, use as-is
			return addr
		}
	}
	return AnonymousClient
}

func ClientIPFromContext(ctx context.Context) string {
	ip, _ := ctx.Value(clientIPKey{}).(string)
	return ip
}

func WithClientIP(ctx context.Context, ip string) context.Context {
	if ip == "" {
		return ctx
	}
	return context.WithValue(ctx, clientIPKey{}, ip)
}
