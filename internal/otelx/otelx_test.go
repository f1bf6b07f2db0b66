package otelx

import (
	"context"
	"strings"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

func TestInit_Disabled(t *testing.T) {
	shutdown, err := Init(context.Background(), Options{Enabled: false, Sample: 99})
	if err != nil {
		t.Fatalf("Init disabled: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("second shutdown: %v", err)
	}

	if _, ok := otel.GetTracerProvider().(*sdktrace.TracerProvider); !ok {
		t.Fatalf("TracerProvider type = %T, want *sdktrace.TracerProvider", otel.GetTracerProvider())
	}

	fields := map[string]bool{}
	for _, f := range otel.GetTextMapPropagator().Fields() {
		fields[f] = true
	}
	if !fields["traceparent"] || !fields["baggage"] {
		t.Fatalf("propagator fields = %v", fields)
	}
}

func TestInit_EnabledRequiresEndpoint(t *testing.T) {
	_, err := Init(context.Background(), Options{Enabled: true})
	if err == nil || !strings.Contains(err.Error(), "endpoint") {
		t.Fatalf("err = %v, want endpoint error", err)
	}
}

func TestInit_Enabled(t *testing.T) {
	// the grpc exporter connects lazily, so an unused port is fine
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	shutdown, err := Init(ctx, Options{
		Enabled:   true,
		Endpoint:  "127.0.0.1:4317",
		Insecure:  true,
		Sample:    1,
		Service:   "chunkplan",
		Component: "server",
		Version:   "test",
	})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}

	_, span := otel.Tracer("test").Start(ctx, "classify")
	if !span.SpanContext().IsSampled() {
		t.Fatal("sample=1 should sample root spans")
	}
	span.End()

	sctx, scancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer scancel()
	_ = shutdown(sctx)
	otel.SetTracerProvider(noop.NewTracerProvider())
}

func TestOptions_Sampler(t *testing.T) {
	tests := []struct {
		sample float64
		want   string
	}{
		{-1, "TraceIDRatioBased{0}"},
		{0.25, "TraceIDRatioBased{0.25}"},
		{7, "AlwaysOnSampler"},
	}
	for _, tt := range tests {
		desc := Options{Sample: tt.sample}.sampler().Description()
		if !strings.Contains(desc, tt.want) {
			t.Errorf("sample %v: sampler = %q, want %q", tt.sample, desc, tt.want)
		}
	}
}

func TestOptions_ServiceName(t *testing.T) {
	if got := (Options{Service: "chunkplan", Component: "server"}).serviceName(); got != "chunkplan.server" {
		t.Fatalf("serviceName = %q", got)
	}
	if got := (Options{Service: "chunkplan"}).serviceName(); got != "chunkplan" {
		t.Fatalf("serviceName = %q", got)
	}
	if n := len((Options{Endpoint: "c:4317", Insecure: true}).exporterOptions()); n != 4 {
		t.Fatalf("exporter options = %d, want 4", n)
	}
}
