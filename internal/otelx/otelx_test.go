package otelx

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
)

func TestInit_Disabled(t *testing.T) {
	shutdown, err := Init(context.Background(), Options{Enabled: false, Endpoint: "ignored:4317"})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	for range 2 {
		if err := shutdown(context.Background()); err != nil {
			t.Fatalf("shutdown: %v", err)
		}
	}

	_, span := otel.Tracer("test").Start(context.Background(), "noop")
	defer span.End()
	if span.IsRecording() {
		t.Error("disabled tracing should not record spans")
	}

	fields := map[string]bool{}
	for _, f := range otel.GetTextMapPropagator().Fields() {
		fields[f] = true
	}
	if !fields["traceparent"] || !fields["baggage"] {
		t.Errorf("propagator fields = %v", fields)
	}
}

func TestInit_EnabledRequiresEndpoint(t *testing.T) {
	if _, err := Init(context.Background(), Options{Enabled: true}); err == nil {
		t.Fatal("expected error without endpoint")
	}
}

func TestServiceName(t *testing.T) {
	tests := []struct{ service, component, want string }{
		{"academy-portal", "api", "academy-portal.api"},
		{"academy-portal", "", "academy-portal"},
		{"", "api", "api"},
		{"", "", ""},
	}
	for _, tt := range tests {
		if got := ServiceName(tt.service, tt.component); got != tt.want {
			t.Errorf("ServiceName(%q, %q) = %q, want %q", tt.service, tt.component, got, tt.want)
		}
	}
}

func TestClampSample(t *testing.T) {
	tests := []struct{ in, want float64 }{
		{-0.5, 0}, {0, 0}, {0.25, 0.25}, {1, 1}, {7, 1},
	}
	for _, tt := range tests {
		if got := ClampSample(tt.in); got != tt.want {
			t.Errorf("ClampSample(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestUserAgent(t *testing.T) {
	tests := []struct {
		opts Options
		want string
	}{
		{Options{Service: "academy-portal", Component: "api", Version: "1.4.0"}, "academy-portal.api/1.4.0"},
		{Options{Service: "academy-portal", Component: "api"}, "academy-portal.api"},
	}
	for _, tt := range tests {
		if got := userAgent(tt.opts); got != tt.want {
			t.Errorf("userAgent(%+v) = %q, want %q", tt.opts, got, tt.want)
		}
	}
}
