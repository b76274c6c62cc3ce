package opshttp

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/keithlinneman/academy-portal/internal/health"
	"github.com/keithlinneman/academy-portal/internal/log"
)

func serve(h http.Handler, path, remote string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(http.MethodGet, path, http.NoBody)
	r.RemoteAddr = remote
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	return rec
}

func TestNewHandler_Routes(t *testing.T) {
	var gate health.ShutdownGate
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("# HELP academy_fake fake\n"))
	})

	tests := []struct {
		name     string
		opts     *Options
		path     string
		wantCode int
		wantBody string
	}{
		{name: "healthy", opts: &Options{}, path: "/-/healthy", wantCode: 200, wantBody: "ok"},
		{name: "ready", opts: &Options{Readiness: gate.Probe()}, path: "/-/ready", wantCode: 200, wantBody: "ready"},
		{name: "not ready", opts: &Options{Readiness: health.Fixed(false, "accounts: empty")}, path: "/-/ready", wantCode: 503, wantBody: "accounts: empty"},
		{name: "metrics", opts: &Options{Metrics: metrics}, path: "/metrics", wantCode: 200, wantBody: "academy_fake"},
		{name: "metrics unset", opts: &Options{}, path: "/metrics", wantCode: 404},
		{name: "pprof enabled", opts: &Options{EnablePprof: true}, path: "/debug/pprof/", wantCode: 200},
		{name: "pprof disabled", opts: &Options{}, path: "/debug/pprof/", wantCode: 404},
		{name: "pprof disabled subpath", opts: &Options{}, path: "/debug/pprof/heap", wantCode: 404},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(NewHandler(log.Nop(), tt.opts), tt.path, "127.0.0.1:4000")
			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantCode)
			}
			if tt.wantBody != "" && !strings.Contains(rec.Body.String(), tt.wantBody) {
				t.Fatalf("body = %q, want %q", rec.Body.String(), tt.wantBody)
			}
		})
	}
}

func TestNewHandler_DrainFlipsReadiness(t *testing.T) {
	var gate health.ShutdownGate
	h := NewHandler(log.Nop(), &Options{Readiness: gate.Probe()})

	if rec := serve(h, "/-/ready", "127.0.0.1:1"); rec.Code != 200 {
		t.Fatalf("before drain: %d", rec.Code)
	}
	gate.Set("draining")
	if rec := serve(h, "/-/ready", "127.0.0.1:1"); rec.Code != 503 {
		t.Fatalf("after drain: %d", rec.Code)
	}
}

func TestNewHandler_NetworkGuard(t *testing.T) {
	tests := []struct {
		remote string
		allow  bool
	}{
		{remote: "127.0.0.1:1234", allow: true},
		{remote: "[::1]:1234", allow: true},
		{remote: "10.0.0.1:80", allow: true},
		{remote: "172.16.5.4:80", allow: true},
		{remote: "192.168.1.1:80", allow: true},
		{remote: "169.254.1.1:80", allow: true},
		{remote: "[::ffff:10.0.0.1]:80", allow: true},
		{remote: "8.8.8.8:443", allow: false},
		{remote: "203.0.113.1:80", allow: false},
		{remote: "[::ffff:8.8.8.8]:80", allow: false},
		{remote: "not-an-address", allow: false},
		{remote: "999.1.1.1:80", allow: false},
		{remote: "", allow: false},
	}
	h := NewHandler(log.Nop(), &Options{})
	for _, tt := range tests {
		t.Run(tt.remote, func(t *testing.T) {
			rec := serve(h, "/-/healthy", tt.remote)
			want := http.StatusForbidden
			if tt.allow {
				want = http.StatusOK
			}
			if rec.Code != want {
				t.Fatalf("status = %d, want %d", rec.Code, want)
			}
		})
	}
}

func TestNewHandler_AllowPublic(t *testing.T) {
	rec := serve(NewHandler(log.Nop(), &Options{AllowPublic: true}), "/-/healthy", "8.8.8.8:1")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestNewHandler_RecoversPanickingProbe(t *testing.T) {
	panics := 0
	h := NewHandler(log.Nop(), &Options{
		UseRecoverMW: true,
		OnPanic:      func() { panics++ },
		Health:       health.CheckFunc(func(context.Context) error { panic("probe bug") }),
	})
	rec := serve(h, "/-/healthy", "127.0.0.1:1")
	if rec.Code != http.StatusInternalServerError || panics != 1 {
		t.Fatalf("status = %d panics = %d", rec.Code, panics)
	}
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("find free port: %v", err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func TestStart_Lifecycle(t *testing.T) {
	ctx := context.Background()
	port := freePort(t)
	stop, err := Start(ctx, log.Nop(), &Options{Port: port})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/-/healthy", port))
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	if _, err := Start(ctx, log.Nop(), &Options{Port: port}); err == nil {
		t.Fatal("expected error binding an in-use port")
	}

	for i := range 2 {
		if err := stop(ctx); err != nil {
			t.Fatalf("stop #%d: %v", i+1, err)
		}
	}
	if _, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/-/healthy", port)); err == nil {
		t.Fatal("server still accepting connections after stop")
	}
}
