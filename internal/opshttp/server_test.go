package opshttp

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/keithlinneman/linnemanlabs-chunkplan/internal/health"
	"github.com/keithlinneman/linnemanlabs-chunkplan/internal/log"
)

func getFreePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp4", ":0")
	if err != nil {
		t.Fatalf("find free port: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()
	return port
}

func startOps(t *testing.T, opts *Options) int {
	t.Helper()
	if opts.Port == 0 {
		opts.Port = getFreePort(t)
	}
	ctx := context.Background()
	stop, err := Start(ctx, log.Nop(), opts)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = stop(ctx) })
	return opts.Port
}

func opsGet(t *testing.T, port int, path string) (int, string) {
	t.Helper()
	addr := fmt.Sprintf("http://127.0.0.1:%d%s", port, path)
	resp, err := http.Get(addr)
	if err != nil {
		t.Fatalf("GET %s: %v", addr, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp.StatusCode, string(body)
}

func TestStart_Endpoints(t *testing.T) {
	metricsHandler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("chunkplan_classifications_total 1\n"))
	})
	port := startOps(t, &Options{
		Metrics:     metricsHandler,
		EnablePprof: true,
		Health:      health.Fixed(true, ""),
		Readiness:   health.Fixed(false, "no rule set loaded"),
	})

	tests := []struct {
		path     string
		wantCode int
		wantBody string
	}{
		{"/-/healthy", http.StatusOK, "ok"},
		{"/-/ready", http.StatusServiceUnavailable, "no rule set loaded"},
		{"/metrics", http.StatusOK, "chunkplan_classifications_total"},
		{"/debug/pprof/", http.StatusOK, ""},
	}
	for _, tt := range tests {
		code, body := opsGet(t, port, tt.path)
		if code != tt.wantCode {
			t.Errorf("%s status = %d, want %d", tt.path, code, tt.wantCode)
		}
		if !strings.Contains(body, tt.wantBody) {
			t.Errorf("%s body = %q, want %q", tt.path, body, tt.wantBody)
		}
	}
}

func TestStart_PprofDisabledAndNoMetrics(t *testing.T) {
	port := startOps(t, &Options{})

	if code, _ := opsGet(t, port, "/debug/pprof/"); code != http.StatusNotFound {
		t.Fatalf("pprof status = %d, want 404", code)
	}
	if code, _ := opsGet(t, port, "/metrics"); code != http.StatusNotFound {
		t.Fatalf("metrics status = %d, want 404", code)
	}
}

func TestStart_StopIdempotentAndCloses(t *testing.T) {
	port := getFreePort(t)
	ctx := context.Background()
	stop, err := Start(ctx, log.Nop(), &Options{Port: port})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := stop(ctx); err != nil {
			t.Fatalf("stop #%d: %v", i+1, err)
		}
	}
	time.Sleep(50 * time.Millisecond)
	if _, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/-/healthy", port)); err == nil {
		t.Fatal("server still accepting connections after shutdown")
	}
}

func TestStart_PortConflict(t *testing.T) {
	port := startOps(t, &Options{})
	if _, err := Start(context.Background(), log.Nop(), &Options{Port: port}); err == nil {
		t.Fatal("expected error for port conflict")
	}
}

func TestRequireNonPublicNetwork(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	h := requireNonPublicNetwork(log.Nop(), inner)

	tests := []struct {
		remote string
		want   int
	}{
		{"127.0.0.1:12345", http.StatusOK},
		{"[::1]:12345", http.StatusOK},
		{"10.0.0.1:8080", http.StatusOK},
		{"172.16.0.1:8080", http.StatusOK},
		{"192.168.1.1:8080", http.StatusOK},
		{"169.254.1.1:8080", http.StatusOK},
		{"[::ffff:10.0.0.1]:12345", http.StatusOK},
		{"8.8.8.8:12345", http.StatusForbidden},
		{"203.0.113.1:80", http.StatusForbidden},
		{"[::ffff:8.8.8.8]:12345", http.StatusForbidden},
		{"not-an-address", http.StatusForbidden},
		{"", http.StatusForbidden},
		{"999.999.999.999:8080", http.StatusForbidden},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/-/healthy", http.NoBody)
		req.RemoteAddr = tt.remote
		h.ServeHTTP(rec, req)
		if rec.Code != tt.want {
			t.Errorf("remote %q: status = %d, want %d", tt.remote, rec.Code, tt.want)
		}
	}
}
