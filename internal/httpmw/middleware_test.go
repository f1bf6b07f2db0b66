package httpmw

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/keithlinneman/linnemanlabs-chunkplan/internal/log"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func TestChain_Order(t *testing.T) {
	var order []string
	mw := func(name string) func(http.Handler) http.Handler {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}
	h := Chain(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { order = append(order, "handler") }),
		mw("a"), nil, mw("b"))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	if got := strings.Join(order, ","); got != "a,b,handler" {
		t.Fatalf("order = %s", got)
	}
}

func TestRequestID(t *testing.T) {
	var seen string
	h := RequestID("")(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))

	tests := []struct {
		name     string
		incoming string
		keep     bool
	}{
		{"generated", "", false},
		{"propagated", "build-42.step:3", true},
		{"rejects spaces", "bad id", false},
		{"rejects newline", "x\ny", false},
		{"rejects long", strings.Repeat("a", 200), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.incoming != "" {
				req.Header.Set(DefaultRequestIDHeader, tt.incoming)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if tt.keep && seen != tt.incoming {
				t.Fatalf("id = %q, want propagated %q", seen, tt.incoming)
			}
			if !tt.keep && (seen == tt.incoming || len(seen) != 32) {
				t.Fatalf("id = %q, want fresh 32-hex id", seen)
			}
			if rec.Header().Get(DefaultRequestIDHeader) != seen {
				t.Fatal("response header should echo the id")
			}
		})
	}

	if RequestIDFromContext(context.Background()) != "" {
		t.Fatal("empty context should have no id")
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name   string
		remote string
		xff    string
		hops   int
		want   string
	}{
		{"peer only", "203.0.113.9:1234", "", 0, "203.0.113.9"},
		{"xff ignored without hops", "10.0.0.5:1234", "198.51.100.1", 0, "10.0.0.5"},
		{"xff ignored from public peer", "203.0.113.9:1234", "198.51.100.1", 1, "203.0.113.9"},
		{"single proxy", "10.0.0.5:1234", "1.2.3.4, 198.51.100.1", 1, "198.51.100.1"},
		{"two proxies", "10.0.0.5:1234", "1.2.3.4, 198.51.100.1, 10.0.0.9", 2, "198.51.100.1"},
		{"too few entries", "10.0.0.5:1234", "198.51.100.1", 3, "10.0.0.5"},
		{"garbage entry", "10.0.0.5:1234", "not-an-ip", 1, "10.0.0.5"},
		{"malformed remote", "garbage", "", 0, unknownClientIP},
		{"ipv6", "[2001:db8::1]:443", "", 0, "2001:db8::1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got string
			var xffAfter string
			h := ClientIPWithOptions(ClientIPOptions{TrustedHops: tt.hops})(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
				got = ClientIPFromContext(r.Context())
				xffAfter = r.Header.Get("X-Forwarded-For")
			}))
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			h.ServeHTTP(httptest.NewRecorder(), req)
			if got != tt.want {
				t.Fatalf("client ip = %q, want %q", got, tt.want)
			}
			if tt.hops == 0 && xffAfter != "" {
				t.Fatal("untrusted X-Forwarded-For should be stripped")
			}
		})
	}
}

func TestWithLoggerAndAccessLog(t *testing.T) {
	spy := newSpyLogger()

	r := chi.NewRouter()
	r.Use(WithLogger(spy), AccessLog())
	r.Post("/api/v1/classify", func(w http.ResponseWriter, r *http.Request) {
		log.FromContext(r.Context()).Debug(r.Context(), "inside handler")
		_, _ = w.Write([]byte(`{"decisions":[]}`))
	})
	r.Get("/-/ready", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })

	req := httptest.NewRequest(http.MethodPost, "/api/v1/classify?secret=1", strings.NewReader(`{"modules":[]}`))
	req = req.WithContext(WithClientIP(WithRequestID(req.Context(), "rid-1"), "198.51.100.7"))
	r.ServeHTTP(httptest.NewRecorder(), req)
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/-/ready", nil))

	entries := spy.all()
	if len(entries) != 2 {
		t.Fatalf("entries = %+v, want handler debug + one access log", entries)
	}
	inner, access := entries[0], entries[1]
	if v, _ := inner.field("request_id"); v != "rid-1" {
		t.Errorf("handler log request_id = %v", v)
	}
	if v, _ := inner.field("client.address"); v != "198.51.100.7" {
		t.Errorf("client.address = %v", v)
	}
	if access.msg != "http request" || access.level != "info" {
		t.Fatalf("access entry = %+v", access)
	}
	if v, _ := access.field("http.route"); v != "/api/v1/classify" {
		t.Errorf("http.route = %v", v)
	}
	if v, _ := access.field("http.response.body.size"); v != int64(len(`{"decisions":[]}`)) {
		t.Errorf("body size = %v", v)
	}
	for _, e := range entries {
		for _, f := range e.kv {
			if s, ok := f.(string); ok && strings.Contains(s, "secret") {
				t.Fatalf("query string leaked into logs: %+v", e)
			}
		}
	}
}

func TestAccessLog_ServerErrorsWarn(t *testing.T) {
	spy := newSpyLogger()
	h := Chain(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}), WithLogger(spy), AccessLog())
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/ruleset", nil))

	e := spy.all()[0]
	if e.level != "warn" {
		t.Fatalf("level = %s, want warn", e.level)
	}
	if v, _ := e.field("http.route"); v != "/api/v1/ruleset" {
		t.Fatalf("route fallback = %v", v)
	}
}

func TestSchemeFromRequest(t *testing.T) {
	tests := []struct {
		name  string
		setup func(*http.Request)
		want  string
	}{
		{"default", func(*http.Request) {}, "http"},
		{"forwarded https", func(r *http.Request) { r.Header.Set("X-Forwarded-Proto", "HTTPS") }, "https"},
		{"forwarded list", func(r *http.Request) { r.Header.Set("X-Forwarded-Proto", "https, http") }, "https"},
		{"forwarded junk", func(r *http.Request) { r.Header.Set("X-Forwarded-Proto", "javascript\n") }, "http"},
		{"url scheme", func(r *http.Request) { r.URL.Scheme = "https" }, "https"},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		tt.setup(req)
		if got := schemeFromRequest(req); got != tt.want {
			t.Errorf("%s: scheme = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestScope(t *testing.T) {
	spy := newSpyLogger()
	h := Chain(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		log.FromContext(r.Context()).Info(r.Context(), "x")
	}), WithLogger(spy), Scope("plan"))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/v1/plan", nil))

	if v, _ := spy.all()[0].field("handler"); v != "plan" {
		t.Fatalf("handler = %v", v)
	}
}

func TestRecover(t *testing.T) {
	tests := []struct {
		name  string
		value any
	}{
		{"string", "something broke"},
		{"error", errors.New("nil map write")},
		{"int", 42},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spy := newSpyLogger()
			panics := 0
			h := Recover(spy, func() { panics++ })(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
				panic(tt.value)
			}))
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/plan", nil))

			if rec.Code != http.StatusInternalServerError {
				t.Fatalf("status = %d", rec.Code)
			}
			if !strings.Contains(rec.Body.String(), "internal server error") {
				t.Fatalf("body = %q", rec.Body.String())
			}
			if panics != 1 {
				t.Fatalf("onPanic calls = %d", panics)
			}
			e := spy.all()[0]
			if e.msg != "httpserver panic recovered" || e.err == nil {
				t.Fatalf("entry = %+v", e)
			}
			if v, _ := e.field("url.path"); v != "/api/v1/plan" {
				t.Fatalf("url.path = %v", v)
			}
		})
	}
}

func TestRecover_NoPanicAndAbort(t *testing.T) {
	spy := newSpyLogger()
	rec := httptest.NewRecorder()
	Recover(spy, nil)(okHandler).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusOK || len(spy.all()) != 0 {
		t.Fatalf("normal flow disturbed: %d %v", rec.Code, spy.all())
	}

	defer func() {
		if r := recover(); r != http.ErrAbortHandler { //nolint:errorlint // sentinel compare
			t.Fatalf("recovered %v, want ErrAbortHandler re-raised", r)
		}
	}()
	Recover(nil, nil)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic(http.ErrAbortHandler)
	})).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
}

func TestMaxBody(t *testing.T) {
	var readErr error
	h := MaxBody(8)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, readErr = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("0123456789")))
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("declared oversize = %d, want 413", rec.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/", io.NopCloser(strings.NewReader("0123456789")))
	req.ContentLength = -1
	h.ServeHTTP(httptest.NewRecorder(), req)
	var mbe *http.MaxBytesError
	if !errors.As(readErr, &mbe) {
		t.Fatalf("streamed oversize read err = %v, want MaxBytesError", readErr)
	}

	readErr = nil
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/", strings.NewReader("small")))
	if readErr != nil {
		t.Fatalf("small body err = %v", readErr)
	}
}

func TestSecurityHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	SecurityHeaders(okHandler).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	for k, want := range map[string]string{
		"X-Content-Type-Options":  "nosniff",
		"X-Frame-Options":         "DENY",
		"Cache-Control":           "no-store",
		"Content-Security-Policy": "default-src 'none'; frame-ancestors 'none'",
	} {
		if got := rec.Header().Get(k); got != want {
			t.Errorf("%s = %q, want %q", k, got, want)
		}
	}
}

type fakeRuleset struct{ v, h string }

func (f fakeRuleset) RulesetVersion() string { return f.v }
func (f fakeRuleset) RulesetHash() string    { return f.h }

func TestRulesetHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	RulesetHeaders(fakeRuleset{"2024.06", "0123456789abcdef0123"})(okHandler).
		ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if got := rec.Header().Get(RulesetVersionHeader); got != "2024.06" {
		t.Errorf("version = %q", got)
	}
	if got := rec.Header().Get(RulesetHashHeader); got != "0123456789ab" {
		t.Errorf("hash = %q", got)
	}

	rec = httptest.NewRecorder()
	RulesetHeaders(fakeRuleset{})(okHandler).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Header().Get(RulesetVersionHeader) != "" || rec.Header().Get(RulesetHashHeader) != "" {
		t.Fatal("empty info should set no headers")
	}

	rec = httptest.NewRecorder()
	RulesetHeaders(nil)(okHandler).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusOK {
		t.Fatal("nil info should pass through")
	}
}

func recordingTracer(t *testing.T) (trace.Tracer, *tracetest.SpanRecorder) {
	t.Helper()
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return tp.Tracer("test"), sr
}

func TestTraceHeadersAndRouteAnnotation(t *testing.T) {
	tracer, sr := recordingTracer(t)

	r := chi.NewRouter()
	r.Use(TraceResponseHeaders("", ""), AnnotateHTTPRoute)
	r.Get("/api/v1/ruleset", okHandler)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/ruleset", nil)
	ctx, span := tracer.Start(req.Context(), "HTTP GET")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req.WithContext(ctx))
	span.End()

	if rec.Header().Get("X-Trace-Id") != span.SpanContext().TraceID().String() {
		t.Fatalf("X-Trace-Id = %q", rec.Header().Get("X-Trace-Id"))
	}
	ended := sr.Ended()
	if len(ended) != 1 || ended[0].Name() != "GET /api/v1/ruleset" {
		t.Fatalf("span name = %v", ended)
	}

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/ruleset", nil))
	if rec.Header().Get("X-Trace-Id") != "" {
		t.Fatal("no span should mean no trace header")
	}
}
