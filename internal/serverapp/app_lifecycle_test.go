package serverapp

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"nestedgraph/internal/config"
	"nestedgraph/internal/logging"
)

func testLogger() *logging.Logger {
	return logging.NewLogger(logging.Config{Level: "error", Format: "text", Output: io.Discard})
}

const testCatalogYAML = `
entities:
  - name: User
    fields:
      - name: name
        type: string
  - name: Post
    fields:
      - name: title
        type: string
      - name: author
        kind: to_one
        target: User
`

func testConfig(t *testing.T, driver string) *config.Config {
	t.Helper()
	catalogFile := filepath.Join(t.TempDir(), "catalog.yaml")
	if err := os.WriteFile(catalogFile, []byte(testCatalogYAML), 0o600); err != nil {
		t.Fatalf("write catalog: %v", err)
	}
	return &config.Config{
		Database: config.DatabaseConfig{
			Driver: driver,
			Pool: config.PoolConfig{
				MaxOpen:     1,
				MaxIdle:     1,
				MaxLifetime: time.Minute,
			},
		},
		Server: config.ServerConfig{
			Port:               18089,
			MaxBodyBytes:       1 << 16,
			ReadTimeout:        time.Second,
			WriteTimeout:       time.Second,
			IdleTimeout:        time.Second,
			ShutdownTimeout:    time.Second,
			HealthCheckTimeout: time.Second,
		},
		Mutation: config.MutationConfig{
			CatalogFile:   catalogFile,
			MaxDepth:      5,
			NestedDefault: true,
		},
		Observability: config.ObservabilityConfig{
			ServiceName: "nestedgraph",
			Environment: "test",
			Logging:     config.LoggingConfig{Level: "error", Format: "text"},
		},
	}
}

func TestWaitForStop_SignalWins(t *testing.T) {
	app := &App{logger: testLogger()}
	stop := make(chan os.Signal, 1)
	serverErrors := make(chan error, 1)

	stop <- syscall.SIGTERM

	reason, err := app.WaitForStop(stop, serverErrors)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reason != "signal" {
		t.Fatalf("expected reason=signal, got %q", reason)
	}
}

func TestWaitForStop_ServerErrorWins(t *testing.T) {
	app := &App{logger: testLogger()}
	stop := make(chan os.Signal, 1)
	serverErrors := make(chan error, 1)
	serverErrors <- errors.New("boom")

	reason, err := app.WaitForStop(stop, serverErrors)
	if err == nil {
		t.Fatalf("expected error, got nil")
	}
	if reason != "server_error" {
		t.Fatalf("expected reason=server_error, got %q", reason)
	}
}

func TestWaitForStop_NoChannels(t *testing.T) {
	app := &App{logger: testLogger()}
	if _, err := app.WaitForStop(nil, nil); err == nil {
		t.Fatalf("expected error when both channels are nil")
	}
}

func TestShutdown_IdempotentAndCombinesErrors(t *testing.T) {
	app := &App{logger: testLogger()}
	var calls int32
	app.cleanup.push("first", func(context.Context) error {
		atomic.AddInt32(&calls, 1)
		return errors.New("first failed")
	})
	app.cleanup.push("second", func(context.Context) error {
		atomic.AddInt32(&calls, 1)
		return errors.New("second failed")
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	err := app.Shutdown(ctx)
	if err == nil {
		t.Fatalf("expected combined cleanup error")
	}
	if msg := err.Error(); !strings.Contains(msg, "first failed") || !strings.Contains(msg, "second failed") {
		t.Fatalf("expected both cleanup errors, got %q", msg)
	}
	if again := app.Shutdown(ctx); again == nil || again.Error() != err.Error() {
		t.Fatalf("second shutdown should return the first result, got %v", again)
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Fatalf("expected each cleanup to run once, ran %d times", got)
	}
}

func TestStart_BeforeInit_Fails(t *testing.T) {
	app := &App{logger: testLogger()}
	if _, err := app.Start(); err == nil {
		t.Fatalf("expected start to fail before init")
	}
}

func TestStartAndShutdown_HappyPath(t *testing.T) {
	app := &App{
		cfg:        testConfig(t, config.DriverMemory),
		logger:     testLogger(),
		serverAddr: "127.0.0.1:0",
		srv: &http.Server{
			Addr:    "127.0.0.1:0",
			Handler: http.NewServeMux(),
		},
		initialized: true,
	}
	app.cleanup.push("HTTP server", func(ctx context.Context) error {
		return app.srv.Shutdown(ctx)
	})

	if _, err := app.Start(); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := app.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown failed: %v", err)
	}
}

func TestInit_MemoryStoreServesAPI(t *testing.T) {
	app, err := New(testConfig(t, config.DriverMemory), testLogger())
	if err != nil {
		t.Fatalf("new failed: %v", err)
	}
	if err := app.Init(context.Background()); err != nil {
		t.Fatalf("init failed: %v", err)
	}
	t.Cleanup(func() { _ = app.Shutdown(context.Background()) })

	srv := httptest.NewServer(app.Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/v1/entities/Post", "application/json",
		strings.NewReader(`{"title":"Hello","author":{"name":"Ann"}}`))
	if err != nil {
		t.Fatalf("create request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Fatalf("expected a request id header")
	}

	resp, err = http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "memory") {
		t.Fatalf("unexpected health response %d %s", resp.StatusCode, body)
	}

	if app.Engine() == nil {
		t.Fatalf("expected engine after init")
	}
}

func TestInit_SQLiteConnects(t *testing.T) {
	cfg := testConfig(t, config.DriverSQLite)
	cfg.Database.Database = filepath.Join(t.TempDir(), "graph.db")

	app, err := New(cfg, testLogger())
	if err != nil {
		t.Fatalf("new failed: %v", err)
	}
	if err := app.Init(context.Background()); err != nil {
		t.Fatalf("init failed: %v", err)
	}
	t.Cleanup(func() { _ = app.Shutdown(context.Background()) })

	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"database":"ok"`) {
		t.Fatalf("unexpected health response %d %s", rec.Code, rec.Body.String())
	}
}

func TestInitFailure_DoesNotMarkInitialized(t *testing.T) {
	cfg := testConfig(t, config.DriverMemory)
	cfg.Mutation.CatalogFile = filepath.Join(t.TempDir(), "missing.yaml")

	app, err := New(cfg, testLogger())
	if err != nil {
		t.Fatalf("new failed: %v", err)
	}

	if err := app.Init(context.Background()); err == nil {
		t.Fatalf("expected init to fail with a missing catalog")
	}

	app.stateMu.Lock()
	initialized := app.initialized
	app.stateMu.Unlock()
	if initialized {
		t.Fatalf("app should not be marked initialized after failed Init")
	}
}

func TestInitFailure_UnreachableDatabase(t *testing.T) {
	cfg := testConfig(t, config.DriverMySQL)
	cfg.Database.Host = "127.0.0.1"
	cfg.Database.Port = 1
	cfg.Database.User = "root"
	cfg.Database.Database = "test"

	app, err := New(cfg, testLogger())
	if err != nil {
		t.Fatalf("new failed: %v", err)
	}
	if err := app.Init(context.Background()); err == nil {
		t.Fatalf("expected init to fail with unreachable database")
	}
}

func TestRun_StopsWhenContextCanceled(t *testing.T) {
	cfg := testConfig(t, config.DriverMemory)
	cfg.Server.Port = 0

	app, err := New(cfg, testLogger())
	if err != nil {
		t.Fatalf("new failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run returned error: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("run did not return after cancel")
	}
}
