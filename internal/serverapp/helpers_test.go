package serverapp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"nestedgraph/internal/config"
)

func TestWrapHTTPHandler_UsesHTTPRootSpanName(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSampler(sdktrace.AlwaysSample()))
	tp.RegisterSpanProcessor(recorder)
	originalTP := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
		otel.SetTracerProvider(originalTP)
	})

	cfg := &config.Config{
		Observability: config.ObservabilityConfig{
			TracingEnabled: true,
		},
	}
	handler := wrapHTTPHandler(cfg, testLogger(), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodPatch, "/v1/entities/Post/42", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected status %d, got %d", http.StatusNoContent, rec.Code)
	}

	for _, span := range recorder.Ended() {
		if span.Name() == "PATCH /v1/entities/{type}/{id}" {
			return
		}
	}
	t.Fatalf("expected PATCH /v1/entities/{type}/{id} span")
}

func TestNormalizeHTTPSpanRoute(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "health", input: "/healthz", expected: "/healthz"},
		{name: "metrics", input: "/metrics", expected: "/metrics"},
		{name: "collection", input: "/v1/entities/Post", expected: "/v1/entities/{type}"},
		{name: "item", input: "/v1/entities/Post/7", expected: "/v1/entities/{type}/{id}"},
		{name: "validate", input: "/v1/entities/Post/validate", expected: "/v1/entities/{type}/validate"},
		{name: "too deep", input: "/v1/entities/Post/7/extra", expected: "/*"},
		{name: "prefix only", input: "/v1/entities/", expected: "/*"},
		{name: "unknown", input: "/users/123", expected: "/*"},
		{name: "empty", input: "", expected: "/*"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := normalizeHTTPSpanRoute(tt.input)
			if got != tt.expected {
				t.Fatalf("normalizeHTTPSpanRoute(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestSQLDriver(t *testing.T) {
	for _, driver := range []string{config.DriverMySQL, config.DriverPostgres, config.DriverSQLite} {
		name, attr, err := sqlDriver(driver)
		if err != nil {
			t.Fatalf("sqlDriver(%q): %v", driver, err)
		}
		if name == "" || attr.Key != "db.system" {
			t.Fatalf("sqlDriver(%q) = %q, %v", driver, name, attr)
		}
	}
	if _, _, err := sqlDriver(config.DriverMemory); err == nil {
		t.Fatalf("expected memory to have no SQL driver")
	}
}

func TestHealthHandler_MemoryStore(t *testing.T) {
	rec := httptest.NewRecorder()
	healthHandler(nil, 0)(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}
