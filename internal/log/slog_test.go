package log

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/trace"

	"github.com/keithlinneman/academy-portal/internal/xerrors"
)

func newJSONLogger(t *testing.T, opts Options) (Logger, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	opts.Writer = &buf
	opts.JsonFormat = true
	l, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return l, &buf
}

func lastRecord(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	var m map[string]any
	if err := json.Unmarshal([]byte(lines[len(lines)-1]), &m); err != nil {
		t.Fatalf("parse %q: %v", lines[len(lines)-1], err)
	}
	return m
}

func TestSlog_BaseAttrsAndSource(t *testing.T) {
	l, buf := newJSONLogger(t, Options{App: "academy-portal", Version: "1.2.3", Commit: "abc"})
	l.Info(context.Background(), "started", "port", 8080)

	rec := lastRecord(t, buf)
	for k, want := range map[string]any{"app": "academy-portal", "version": "1.2.3", "commit": "abc", "msg": "started", "port": float64(8080)} {
		if rec[k] != want {
			t.Errorf("%s = %v, want %v", k, rec[k], want)
		}
	}
	if _, ok := rec["build_id"]; ok {
		t.Error("empty build id should be omitted")
	}
	src, _ := rec["source"].(map[string]any)
	if file, _ := src["file"].(string); !strings.HasSuffix(file, "slog_test.go") {
		t.Errorf("source = %v, want the calling test file", rec["source"])
	}
}

func TestSlog_LevelFiltering(t *testing.T) {
	l, buf := newJSONLogger(t, Options{Level: slog.LevelWarn})
	ctx := context.Background()
	l.Debug(ctx, "d")
	l.Info(ctx, "i")
	if buf.Len() != 0 {
		t.Fatalf("below-level records written: %s", buf.String())
	}
	l.Warn(ctx, "w")
	if lastRecord(t, buf)["level"] != "WARN" {
		t.Fatalf("got %s", buf.String())
	}
}

func TestSlog_WithIsCopyOnWrite(t *testing.T) {
	l, buf := newJSONLogger(t, Options{})
	parent := l.With("request_id", "r1")
	child := parent.With("account.id", "a1", 42, "skipped", "dangling")

	child.Info(context.Background(), "child")
	rec := lastRecord(t, buf)
	if rec["request_id"] != "r1" || rec["account.id"] != "a1" {
		t.Fatalf("child record = %v", rec)
	}
	if _, ok := rec["dangling"]; ok {
		t.Error("dangling key should be dropped")
	}

	parent.Info(context.Background(), "parent")
	if _, ok := lastRecord(t, buf)["account.id"]; ok {
		t.Fatal("child attrs leaked into parent")
	}
}

func TestSlog_Redaction(t *testing.T) {
	l, buf := newJSONLogger(t, Options{})
	l.With("session_secret", "s3cr3t").Info(context.Background(), "login",
		"password", "hunter2",
		"Authorization", "Bearer abc",
		"token", "jwt",
		"email", "a@example.com",
		"session_cookie_name", "academy_session",
	)
	rec := lastRecord(t, buf)
	for _, k := range []string{"session_secret", "password", "Authorization", "token"} {
		if rec[k] != Redacted {
			t.Errorf("%s = %v, want redacted", k, rec[k])
		}
	}
	if rec["email"] != "a@example.com" {
		t.Errorf("email = %v", rec["email"])
	}
	if rec["session_cookie_name"] != "academy_session" {
		t.Errorf("session_cookie_name = %v, want the configured name", rec["session_cookie_name"])
	}
	if strings.Contains(buf.String(), "hunter2") {
		t.Fatal("password leaked into output")
	}
}

func TestIsSensitiveKey(t *testing.T) {
	tests := map[string]bool{
		"password":              true,
		"Set-Cookie":            true,
		"jwt_token":             true,
		"client_secret":         true,
		"authorization":         true,
		"password_hash":         true,
		"session_cookie":        true,
		"x.accessToken":         true,
		"account.id":            false,
		"client.address":        false,
		"session_cookie_name":   false,
		"session_cookie_secure": false,
		"secret_source":         false,
	}
	for k, want := range tests {
		if got := IsSensitiveKey(k); got != want {
			t.Errorf("IsSensitiveKey(%q) = %v, want %v", k, got, want)
		}
	}
}

func TestSlog_ErrorEnrichment(t *testing.T) {
	l, buf := newJSONLogger(t, Options{IncludeErrorLinks: true})
	root := errors.New("connection refused")
	err := xerrors.Wrap(fmt.Errorf("get parameter: %w", root), "resolve session secret")

	l.Error(context.Background(), err, "startup failed")
	rec := lastRecord(t, buf)

	if rec["err"] != "resolve session secret: get parameter: connection refused" {
		t.Errorf("err = %v", rec["err"])
	}
	if rec["error_type"] != "*errors.errorString" || rec["cause_type"] != "*errors.errorString" {
		t.Errorf("types = %v / %v", rec["error_type"], rec["cause_type"])
	}
	chain, _ := rec["error_chain"].([]any)
	if len(chain) != 3 {
		t.Errorf("error_chain = %v", rec["error_chain"])
	}
	links, _ := rec["error_links"].([]any)
	if len(links) == 0 {
		t.Fatal("error_links missing")
	}
	first, _ := links[0].(map[string]any)
	if file, _ := first["file"].(string); !strings.HasSuffix(file, "slog_test.go") {
		t.Errorf("first link should point at the Wrap call site, got %v", first)
	}
	if stack, _ := rec["stack"].(string); stack == "" {
		t.Error("error level should carry a stack")
	}
}

func TestSlog_ErrorLinksDisabledAndNilErr(t *testing.T) {
	l, buf := newJSONLogger(t, Options{})
	l.Error(context.Background(), errors.New("x"), "failed")
	if _, ok := lastRecord(t, buf)["error_links"]; ok {
		t.Error("error_links should be off by default")
	}

	l.Error(context.Background(), nil, "no error")
	rec := lastRecord(t, buf)
	if _, ok := rec["err"]; ok {
		t.Error("nil error should not add err")
	}
}

func TestSlog_StackOnlyAtThreshold(t *testing.T) {
	l, buf := newJSONLogger(t, Options{StacktraceLevel: slog.LevelError})
	l.Warn(context.Background(), "warn")
	if _, ok := lastRecord(t, buf)["stack"]; ok {
		t.Fatal("warn should not carry a stack")
	}
}

func TestSlog_StackAtInfoThreshold(t *testing.T) {
	l, buf := newJSONLogger(t, Options{StacktraceLevel: slog.LevelInfo})
	l.Info(context.Background(), "info")
	if _, ok := lastRecord(t, buf)["stack"]; !ok {
		t.Fatal("info should carry a stack when the threshold is info")
	}
	l.Debug(context.Background(), "debug")
	if strings.Contains(buf.String(), `"msg":"debug"`) {
		t.Fatal("debug should be filtered at the default level")
	}
}

func TestSlog_TraceFields(t *testing.T) {
	l, buf := newJSONLogger(t, Options{})
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16},
		SpanID:     trace.SpanID{1, 2, 3, 4, 5, 6, 7, 8},
		TraceFlags: trace.FlagsSampled,
	})
	l.Info(trace.ContextWithSpanContext(context.Background(), sc), "traced")
	rec := lastRecord(t, buf)
	if rec["trace_id"] != sc.TraceID().String() || rec["span_id"] != sc.SpanID().String() {
		t.Fatalf("trace fields = %v / %v", rec["trace_id"], rec["span_id"])
	}

	l.Info(context.Background(), "untraced")
	if _, ok := lastRecord(t, buf)["trace_id"]; ok {
		t.Fatal("trace_id without a span")
	}
}

func TestSlog_TextFormat(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(Options{App: "academy-portal", Writer: &buf})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	l.Info(context.Background(), "hello", "password", "pw")
	out := buf.String()
	if !strings.Contains(out, "msg=hello") || !strings.Contains(out, "password="+Redacted) {
		t.Fatalf("text output = %q", out)
	}
}

func TestChainLinks_Limit(t *testing.T) {
	err := errors.New("root")
	for i := range 5 {
		err = xerrors.Wrapf(err, "layer %d", i)
	}
	if got := len(chainLinks(err, 3)); got != 3 {
		t.Fatalf("links = %d, want 3", got)
	}
	if got := len(chainLinks(err, 0)); got != 5 {
		t.Fatalf("unbounded links = %d", got)
	}
}
