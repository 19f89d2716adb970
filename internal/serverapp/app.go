// Package serverapp wires configuration, storage, the mutation engine and
// the HTTP server into one lifecycle.
package serverapp

import (
	"database/sql"
	"fmt"
	"net/http"
	"sync"

	"nestedgraph/internal/catalog"
	"nestedgraph/internal/config"
	"nestedgraph/internal/logging"
	"nestedgraph/internal/mutation"
	"nestedgraph/internal/observability"
	"nestedgraph/internal/store"
)

// App owns runtime resources for the nestedgraph server lifecycle.
type App struct {
	cfg    *config.Config
	logger *logging.Logger

	loggerProvider *observability.LoggerProvider

	meterProvider   *observability.MeterProvider
	mutationMetrics *observability.MutationMetrics
	tracerProvider  *observability.TracerProvider

	db         *sql.DB
	dbStatsReg interface{ Unregister() error }

	catalog *catalog.Catalog
	store   store.Store
	engine  *mutation.Engine

	apiHandler http.Handler
	mux        *http.ServeMux
	handler    http.Handler

	serverAddr string
	srv        *http.Server

	cleanup cleanupStack

	stateMu      sync.Mutex
	initialized  bool
	started      bool
	serverErrors chan error

	shutdownOnce sync.Once
	shutdownErr  error
}

// New creates an App lifecycle wrapper.
func New(cfg *config.Config, logger *logging.Logger) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	return &App{cfg: cfg, logger: logger}, nil
}

// AttachLoggerProvider registers an optional logger provider for shutdown cleanup.
func (a *App) AttachLoggerProvider(provider *observability.LoggerProvider) {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	a.loggerProvider = provider
}

// Handler returns the fully wrapped HTTP handler. It is nil before Init.
func (a *App) Handler() http.Handler {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	return a.handler
}

// Engine returns the mutation engine. It is nil before Init.
func (a *App) Engine() *mutation.Engine {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	return a.engine
}
