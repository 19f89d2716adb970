package serverapp

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/XSAM/otelsql"
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	_ "modernc.org/sqlite"

	"nestedgraph/internal/cascade"
	"nestedgraph/internal/catalog"
	"nestedgraph/internal/config"
	"nestedgraph/internal/dbexec"
	"nestedgraph/internal/httpapi"
	"nestedgraph/internal/logging"
	"nestedgraph/internal/middleware"
	"nestedgraph/internal/mutation"
	"nestedgraph/internal/observability"
	"nestedgraph/internal/sqlutil"
	"nestedgraph/internal/store"
	"nestedgraph/internal/store/memstore"
	"nestedgraph/internal/store/sqlstore"
)

func InitLogger(cfg *config.Config) (*logging.Logger, *observability.LoggerProvider, error) {
	loggerCfg := logging.Config{
		Level:  cfg.Observability.Logging.Level,
		Format: cfg.Observability.Logging.Format,
	}
	logger := logging.NewLogger(loggerCfg)
	slog.SetDefault(logger.Logger)

	if !cfg.Observability.Logging.ExportsEnabled {
		return logger, nil, nil
	}

	logsConfig := cfg.Observability.GetLogsConfig()
	logger.Info("initializing OpenTelemetry logging",
		slog.String("service_name", cfg.Observability.ServiceName),
		slog.String("otlp_endpoint", logsConfig.Endpoint),
		slog.String("otlp_protocol", logsConfig.Protocol),
		slog.Bool("insecure", logsConfig.Insecure),
	)

	loggerProvider, err := observability.InitLoggerProvider(otelConfig(cfg, logsConfig))
	if err != nil {
		return nil, nil, err
	}

	loggerCfg.LoggerProvider = loggerProvider.Provider()
	logger = logging.NewLogger(loggerCfg)
	slog.SetDefault(logger.Logger)

	return logger, loggerProvider, nil
}

func otelConfig(cfg *config.Config, otlp config.OTLPConfig) observability.Config {
	return observability.Config{
		ServiceName:      cfg.Observability.ServiceName,
		ServiceVersion:   cfg.Observability.ServiceVersion,
		Environment:      cfg.Observability.Environment,
		TraceSampleRatio: cfg.Observability.TraceSampleRatio,
		OTLPConfig: observability.OTLPExporterConfig{
			Endpoint:          otlp.Endpoint,
			Protocol:          otlp.Protocol,
			Insecure:          otlp.Insecure,
			TLSCertFile:       otlp.TLSCertFile,
			TLSClientCertFile: otlp.TLSClientCertFile,
			TLSClientKeyFile:  otlp.TLSClientKeyFile,
			Headers:           otlp.Headers,
			Timeout:           otlp.Timeout,
			Compression:       otlp.Compression,
			RetryEnabled:      otlp.RetryEnabled,
			RetryMaxAttempts:  otlp.RetryMaxAttempts,
		},
	}
}

func initMetrics(cfg *config.Config, logger *logging.Logger) (*observability.MeterProvider, *observability.MutationMetrics, error) {
	if !cfg.Observability.MetricsEnabled {
		return nil, nil, nil
	}

	meterProvider, err := observability.InitMeterProvider(otelConfig(cfg, config.OTLPConfig{}))
	if err != nil {
		return nil, nil, err
	}
	metrics, err := observability.InitMetrics(logger.Logger)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("OpenTelemetry metrics initialized",
		slog.String("service_name", cfg.Observability.ServiceName),
		slog.String("environment", cfg.Observability.Environment),
	)
	return meterProvider, metrics, nil
}

func initTracing(cfg *config.Config, logger *logging.Logger) (*observability.TracerProvider, error) {
	if !cfg.Observability.TracingEnabled {
		return nil, nil
	}

	tracesConfig := cfg.Observability.GetTracesConfig()
	logger.Info("initializing OpenTelemetry tracing",
		slog.String("otlp_endpoint", tracesConfig.Endpoint),
		slog.String("otlp_protocol", tracesConfig.Protocol),
		slog.Float64("sample_ratio", cfg.Observability.TraceSampleRatio),
	)

	tracerProvider, err := observability.InitTracerProvider(otelConfig(cfg, tracesConfig))
	if err != nil {
		return nil, err
	}
	return tracerProvider, nil
}

// loadCatalog reads the entity catalog and folds the configured nested
// default into its settings. Entity and field overrides from the file win.
func loadCatalog(cfg *config.Config, logger *logging.Logger) (*catalog.Catalog, catalog.MutationSettings, error) {
	cat, err := catalog.LoadFile(cfg.Mutation.CatalogFile, catalog.WithLogger(logger.Logger))
	if err != nil {
		return nil, catalog.MutationSettings{}, err
	}
	settings := cat.Settings()
	if !cfg.Mutation.NestedDefault {
		settings.DisableNestedByDefault = true
	}
	logger.Info("entity catalog loaded",
		slog.String("file", cfg.Mutation.CatalogFile),
		slog.Int("entities", len(cat.Entities())),
		slog.Bool("nested_default", !settings.DisableNestedByDefault),
	)
	return cat, settings, nil
}

// sqlDriver maps a configured driver to its database/sql name and the
// OpenTelemetry db.system attribute.
func sqlDriver(driver string) (string, attribute.KeyValue, error) {
	switch driver {
	case config.DriverMySQL:
		return "mysql", semconv.DBSystemMySQL, nil
	case config.DriverPostgres:
		return "postgres", semconv.DBSystemPostgreSQL, nil
	case config.DriverSQLite:
		return "sqlite", semconv.DBSystemSqlite, nil
	default:
		return "", attribute.KeyValue{}, fmt.Errorf("unsupported SQL driver %q", driver)
	}
}

func openStore(ctx context.Context, cfg *config.Config, logger *logging.Logger, cat *catalog.Catalog) (store.Store, *sql.DB, interface{ Unregister() error }, error) {
	if cfg.Database.Driver == config.DriverMemory {
		logger.Warn("using the in-memory store; data is lost on restart")
		return memstore.New(cat), nil, nil, nil
	}

	dialect, err := sqlutil.DialectFor(cfg.Database.Driver)
	if err != nil {
		return nil, nil, nil, err
	}

	logger.Info("connecting to database",
		slog.String("driver", cfg.Database.Driver),
		slog.String("host", cfg.Database.Host),
		slog.Int("port", cfg.Database.Port),
		slog.String("database", cfg.Database.Database),
		slog.Bool("dsn_present", strings.TrimSpace(cfg.Database.ConnectionString) != ""),
	)

	db, dbStatsReg, err := connectDB(cfg, logger)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := configureDatabase(ctx, cfg, logger, db); err != nil {
		if dbStatsReg != nil {
			_ = dbStatsReg.Unregister()
		}
		_ = db.Close()
		return nil, nil, nil, fmt.Errorf("failed to verify database connection: %w", err)
	}

	return sqlstore.New(dbexec.NewStandardExecutor(db), dialect, cat), db, dbStatsReg, nil
}

func connectDB(cfg *config.Config, logger *logging.Logger) (*sql.DB, interface{ Unregister() error }, error) {
	driverName, dbSystem, err := sqlDriver(cfg.Database.Driver)
	if err != nil {
		return nil, nil, err
	}
	dsn := cfg.Database.DSN()

	if !cfg.Observability.MetricsEnabled && !cfg.Observability.TracingEnabled {
		db, err := sql.Open(driverName, dsn)
		if err != nil {
			return nil, nil, err
		}
		return db, nil, nil
	}

	opts := []otelsql.Option{otelsql.WithAttributes(dbSystem)}
	if cfg.Observability.TracingEnabled {
		opts = append(opts, otelsql.WithSpanOptions(otelsql.SpanOptions{
			DisableErrSkip: true,
		}))
	}
	sqlCommenter := cfg.Observability.SQLCommenterEnabled && cfg.Observability.TracingEnabled
	if sqlCommenter {
		opts = append(opts, otelsql.WithSQLCommenter(true))
		logger.Info("SQLCommenter enabled - trace context will be injected into SQL queries")
	}

	db, err := otelsql.Open(driverName, dsn, opts...)
	if err != nil {
		return nil, nil, err
	}

	var dbStatsReg interface{ Unregister() error }
	if cfg.Observability.MetricsEnabled {
		dbStatsReg, err = otelsql.RegisterDBStatsMetrics(db, otelsql.WithAttributes(dbSystem))
		if err != nil {
			logger.Warn("failed to register DB stats metrics", slog.String("error", err.Error()))
		}
	}

	logger.Info("database instrumentation enabled",
		slog.Bool("metrics", cfg.Observability.MetricsEnabled),
		slog.Bool("tracing", cfg.Observability.TracingEnabled),
		slog.Bool("sqlcommenter", sqlCommenter),
	)
	return db, dbStatsReg, nil
}

func configureDatabase(ctx context.Context, cfg *config.Config, logger *logging.Logger, db *sql.DB) error {
	pool := cfg.Database.Pool
	// Every sqlite connection to ":memory:" is its own database.
	if cfg.Database.Driver == config.DriverSQLite {
		pool.MaxOpen = 1
	}
	db.SetMaxOpenConns(pool.MaxOpen)
	db.SetMaxIdleConns(pool.MaxIdle)
	db.SetConnMaxLifetime(pool.MaxLifetime)

	if err := waitForDatabase(ctx, cfg, logger, db); err != nil {
		return err
	}

	logger.Info("connected to database",
		slog.String("driver", cfg.Database.Driver),
		slog.Int("pool_max_open", pool.MaxOpen),
		slog.Int("pool_max_idle", pool.MaxIdle),
		slog.Duration("pool_max_lifetime", pool.MaxLifetime),
	)
	return nil
}

func waitForDatabase(ctx context.Context, cfg *config.Config, logger *logging.Logger, db *sql.DB) error {
	timeout := cfg.Database.ConnectionTimeout
	interval := cfg.Database.ConnectionRetryInterval

	// A zero timeout tries once.
	if timeout == 0 {
		return db.PingContext(ctx)
	}

	deadline := time.Now().Add(timeout)
	attempt := 0

	for {
		attempt++
		err := db.PingContext(ctx)
		if err == nil {
			if attempt > 1 {
				logger.Info("database connection established", slog.Int("attempts", attempt))
			}
			return nil
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("database not available after %v: %w", timeout, err)
		}

		logger.Warn("database not ready, retrying...",
			slog.Int("attempt", attempt),
			slog.Duration("retry_in", interval),
			slog.String("error", err.Error()),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}

		// Exponential backoff, capped at 30s
		interval = min(interval*2, 30*time.Second)
	}
}

func buildEngine(cfg *config.Config, logger *logging.Logger, cat *catalog.Catalog, settings catalog.MutationSettings, st store.Store, metrics *observability.MutationMetrics) (*mutation.Engine, error) {
	engine, err := mutation.New(mutation.Config{
		Catalog:  cat,
		Store:    st,
		Settings: &settings,
		MaxDepth: cfg.Mutation.MaxDepth,
		Logger:   logger.WithFields(slog.String("component", "mutation")),
		Metrics:  metrics,
	})
	if err != nil {
		return nil, err
	}
	engine.Subscribe(mutation.ObserverFunc(func(ctx context.Context, ev mutation.Event) {
		logging.FromContext(ctx).Debug("entity mutated",
			slog.String("entity", ev.EntityType),
			slog.Any("id", ev.ID),
			slog.String("op", string(ev.Op)),
		)
	}))
	return engine, nil
}

func buildAPIHandler(cfg *config.Config, engine *mutation.Engine, cat *catalog.Catalog, metrics *observability.MutationMetrics) (http.Handler, error) {
	return httpapi.NewHandler(httpapi.Options{
		Engine: engine,
		ParseRules: func(raw map[string]string) (cascade.Rules, error) {
			return cascade.ParseRules(cat, raw)
		},
		Metrics:      metrics,
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
	})
}

func buildRouter(cfg *config.Config, logger *logging.Logger, db *sql.DB, apiHandler http.Handler, meterProvider *observability.MeterProvider) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/v1/", apiHandler)
	mux.HandleFunc("/healthz", healthHandler(db, cfg.Server.HealthCheckTimeout))

	if cfg.Observability.MetricsEnabled && meterProvider != nil {
		mux.Handle("/metrics", promhttp.Handler())
		logger.Info("metrics endpoint enabled", slog.String("path", "/metrics"))
	}

	return mux
}

func wrapHTTPHandler(cfg *config.Config, logger *logging.Logger, handler http.Handler) http.Handler {
	handler = middleware.LoggingMiddleware(logger)(handler)

	if cfg.Observability.MetricsEnabled || cfg.Observability.TracingEnabled {
		handler = otelhttp.NewHandler(handler, "http.server",
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				return httpRootSpanName(r)
			}),
		)
		logger.Info("HTTP instrumentation enabled")
	}

	if cfg.Server.CORSEnabled {
		handler = middleware.CORSMiddleware(middleware.CORSConfig{
			Enabled:          cfg.Server.CORSEnabled,
			AllowedOrigins:   cfg.Server.CORSAllowedOrigins,
			AllowedMethods:   cfg.Server.CORSAllowedMethods,
			AllowedHeaders:   cfg.Server.CORSAllowedHeaders,
			AllowCredentials: cfg.Server.CORSAllowCredentials,
			MaxAge:           cfg.Server.CORSMaxAge,
		})(handler)
	}

	return handler
}

func httpRootSpanName(r *http.Request) string {
	if r == nil {
		return "HTTP /*"
	}

	method := strings.TrimSpace(r.Method)
	if method == "" {
		method = "HTTP"
	}

	return method + " " + normalizeHTTPSpanRoute(r.URL.Path)
}

// normalizeHTTPSpanRoute keeps span names low-cardinality: entity ids are
// replaced and unknown paths collapse to "/*".
func normalizeHTTPSpanRoute(rawPath string) string {
	switch rawPath {
	case "/healthz", "/metrics":
		return rawPath
	}
	rest, ok := strings.CutPrefix(rawPath, "/v1/entities/")
	if !ok {
		return "/*"
	}
	parts := strings.Split(rest, "/")
	switch {
	case len(parts) == 1 && parts[0] != "":
		return "/v1/entities/{type}"
	case len(parts) == 2 && parts[1] == "validate":
		return "/v1/entities/{type}/validate"
	case len(parts) == 2 && parts[1] != "":
		return "/v1/entities/{type}/{id}"
	default:
		return "/*"
	}
}

func buildServer(cfg *config.Config, handler http.Handler, serverAddr string) *http.Server {
	return &http.Server{
		Addr:         serverAddr,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
}

func startServer(cfg *config.Config, logger *logging.Logger, srv *http.Server, serverAddr string) chan error {
	serverErrors := make(chan error, 1)
	go func() {
		logAttrs := []any{
			slog.String("address", serverAddr),
			slog.String("api_prefix", "/v1/entities"),
			slog.String("health_endpoint", "/healthz"),
			slog.String("driver", cfg.Database.Driver),
			slog.Int("max_depth", cfg.Mutation.MaxDepth),
			slog.String("log_level", cfg.Observability.Logging.Level),
		}
		if cfg.Observability.MetricsEnabled {
			logAttrs = append(logAttrs, slog.String("metrics_endpoint", "/metrics"))
		}
		logger.Info("server starting", logAttrs...)

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrors <- fmt.Errorf("server failed: %w", err)
		}
	}()
	return serverErrors
}

// healthHandler returns an HTTP handler for health checks. Without a
// database handle the in-memory store is always healthy.
func healthHandler(db *sql.DB, timeout time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reqLogger := logging.FromContext(r.Context())
		w.Header().Set("Content-Type", "application/json")

		if db == nil {
			w.WriteHeader(http.StatusOK)
			_, _ = fmt.Fprint(w, `{"status":"healthy","store":"memory"}`)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()

		if err := db.PingContext(ctx); err != nil {
			reqLogger.Error("health check failed",
				slog.String("error", err.Error()),
				slog.String("check", "database"),
			)
			w.WriteHeader(http.StatusServiceUnavailable)
			// Return generic error message to avoid leaking internal details
			_, _ = fmt.Fprint(w, `{"status":"unhealthy","database":"failed"}`)
			return
		}

		reqLogger.Debug("health check passed")
		w.WriteHeader(http.StatusOK)
		_, _ = fmt.Fprint(w, `{"status":"healthy","database":"ok"}`)
	}
}
