// Package mutation implements nested graph mutations: a payload describing
// an entity and its related entities is classified, resolved and persisted
// in one transaction.
package mutation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/multierr"

	"nestedgraph/internal/cascade"
	"nestedgraph/internal/catalog"
	"nestedgraph/internal/logging"
	"nestedgraph/internal/mutationerr"
	"nestedgraph/internal/observability"
	"nestedgraph/internal/recursion"
	"nestedgraph/internal/store"
	"nestedgraph/internal/validation"
)

// Config configures an Engine.
type Config struct {
	Catalog *catalog.Catalog
	Store   store.Store
	// Settings overrides the catalog's mutation settings when set.
	Settings  *catalog.MutationSettings
	MaxDepth  int
	Logger    *logging.Logger
	Metrics   *observability.MutationMetrics
	Observers []Observer
	// NewID generates string identifiers. Defaults to uuid.NewString.
	NewID func() string
}

// Engine runs nested creates, updates and cascade deletes. It holds no
// per-call state and is safe for concurrent use.
type Engine struct {
	catalog  *catalog.Catalog
	store    store.Store
	settings catalog.MutationSettings
	maxDepth int
	logger   *logging.Logger
	metrics  *observability.MutationMetrics
	planner  *cascade.Planner
	newID    func() string

	mu        sync.RWMutex
	observers []Observer
}

// New builds an engine.
func New(cfg Config) (*Engine, error) {
	if cfg.Catalog == nil {
		return nil, errors.New("mutation engine: catalog is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("mutation engine: store is required")
	}
	e := &Engine{
		catalog:   cfg.Catalog,
		store:     cfg.Store,
		settings:  cfg.Catalog.Settings(),
		maxDepth:  cfg.MaxDepth,
		logger:    cfg.Logger,
		metrics:   cfg.Metrics,
		planner:   cascade.NewPlanner(cfg.Catalog),
		newID:     cfg.NewID,
		observers: append([]Observer(nil), cfg.Observers...),
	}
	if cfg.Settings != nil {
		e.settings = *cfg.Settings
	}
	if e.maxDepth <= 0 {
		e.maxDepth = recursion.DefaultMaxDepth
	}
	if e.logger == nil {
		e.logger = &logging.Logger{Logger: slog.Default()}
	}
	if e.newID == nil {
		e.newID = uuid.NewString
	}
	return e, nil
}

// Subscribe registers an observer for committed writes.
func (e *Engine) Subscribe(o Observer) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.observers = append(e.observers, o)
}

// Catalog returns the catalog the engine was built with.
func (e *Engine) Catalog() *catalog.Catalog {
	return e.catalog
}

// MaxDepth returns the effective nesting limit.
func (e *Engine) MaxDepth() int {
	return e.maxDepth
}

// HandleNestedCreate creates an entity of the named type together with the
// related entities described by payload.
func (e *Engine) HandleNestedCreate(ctx context.Context, entityType string, payload map[string]any) (*store.Entity, error) {
	et, err := e.describe(entityType)
	if err != nil {
		return nil, err
	}
	if err := e.preflight(et, payload, validation.OpCreate); err != nil {
		return nil, err
	}

	var result *store.Entity
	err = e.run(ctx, "create", et, func(ctx context.Context, s *session) error {
		ent, err := s.create(ctx, et, payload, et.Name)
		result = ent
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// HandleNestedUpdate updates the entity identified by id. The identifier is
// never reassigned.
func (e *Engine) HandleNestedUpdate(ctx context.Context, entityType string, payload map[string]any, id any) (*store.Entity, error) {
	et, err := e.describe(entityType)
	if err != nil {
		return nil, err
	}
	if err := e.preflight(et, payload, validation.OpUpdate); err != nil {
		return nil, err
	}

	var result *store.Entity
	err = e.run(ctx, "update", et, func(ctx context.Context, s *session) error {
		ent, err := s.update(ctx, et, id, payload, et.Name)
		result = ent
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// HandleCascadeDelete deletes the entity identified by id and every
// dependent according to rules. It returns the deleted rows in the order
// they were removed.
func (e *Engine) HandleCascadeDelete(ctx context.Context, entityType string, id any, rules cascade.Rules) ([]cascade.DeletedDescriptor, error) {
	et, err := e.describe(entityType)
	if err != nil {
		return nil, err
	}

	var deleted []cascade.DeletedDescriptor
	err = e.run(ctx, "delete", et, func(ctx context.Context, s *session) error {
		root, err := s.lookup(ctx, et, id, et.Name)
		if err != nil {
			return err
		}
		deleted, err = s.deleteCascade(ctx, et, root, rules, et.Name)
		return err
	})
	if err != nil {
		return nil, err
	}
	return deleted, nil
}

// ValidateNestedData checks payload without touching the store. Structural
// problems are reported alone; otherwise every field violation is listed.
func (e *Engine) ValidateNestedData(ctx context.Context, entityType string, payload map[string]any, op validation.Op) mutationerr.List {
	_, span := startSpan(ctx, "mutation.validate", attribute.String("mutation.entity", entityType))
	defer span.End()

	et, err := e.describe(entityType)
	if err == nil {
		err = e.preflight(et, payload, op)
	}
	finishSpan(span, err)
	if err == nil {
		return nil
	}
	if list := mutationerr.Flatten(err); len(list) > 0 {
		return list
	}
	return mutationerr.List{{Kind: mutationerr.KindUnknown, Entity: entityType, Message: err.Error()}}
}

// Fetch reads one entity outside of any mutation.
func (e *Engine) Fetch(ctx context.Context, entityType string, id any) (*store.Entity, error) {
	et, err := e.describe(entityType)
	if err != nil {
		return nil, err
	}
	tx, err := e.store.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	return newSession(e, tx, e.loggerFor(ctx)).lookup(ctx, et, id, et.Name)
}

func (e *Engine) describe(name string) (*catalog.EntityType, error) {
	et, err := e.catalog.Describe(name)
	if err != nil {
		return nil, &mutationerr.Error{
			Kind:    mutationerr.UnresolvedReference,
			Entity:  name,
			Message: "unknown entity type " + name,
			Cause:   err,
		}
	}
	return et, nil
}

func (e *Engine) nestedAllowed(owner *catalog.EntityType, f *catalog.Field) bool {
	return e.settings.NestedAllowed(owner.Name, f.Name)
}

// metricsFor prefers the configured metrics and falls back to the ones a
// transport stored in ctx.
func (e *Engine) metricsFor(ctx context.Context) *observability.MutationMetrics {
	if e.metrics != nil {
		return e.metrics
	}
	return observability.MutationMetricsFromContext(ctx)
}

func (e *Engine) loggerFor(ctx context.Context) *logging.Logger {
	if requestID := logging.GetRequestID(ctx); requestID != "" {
		return e.logger.WithRequestID(requestID)
	}
	return e.logger
}

// run executes fn inside one transaction. Any error rolls the whole
// transaction back; observers only hear about committed work.
func (e *Engine) run(ctx context.Context, operation string, et *catalog.EntityType, fn func(ctx context.Context, s *session) error) (err error) {
	start := time.Now()
	ctx, span := startSpan(ctx, "mutation."+operation, attribute.String("mutation.entity", et.Name))
	metrics := e.metricsFor(ctx)
	metrics.IncrementActiveOperations(ctx)
	defer func() {
		metrics.DecrementActiveOperations(ctx)
		errorKind := ""
		if err != nil {
			errorKind = mutationerr.KindOf(err).String()
		}
		metrics.RecordOperation(ctx, operation, et.Name, time.Since(start), errorKind)
		finishSpan(span, err)
		span.End()
	}()

	logger := e.loggerFor(ctx).WithFields(slog.String("op", operation), slog.String("entity", et.Name))

	tx, err := e.store.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	scope := newTxScope(tx)
	s := newSession(e, tx, logger)
	s.metrics = metrics
	defer func() {
		if r := recover(); r != nil {
			scope.MarkError()
			_, _ = scope.Finalize()
			panic(r)
		}
	}()

	if err = fn(ctx, s); err != nil {
		scope.MarkError()
		if _, rbErr := scope.Finalize(); rbErr != nil {
			err = multierr.Append(err, fmt.Errorf("rollback: %w", rbErr))
		}
		logger.Warn("mutation rolled back",
			slog.String("kind", mutationerr.KindOf(err).String()),
			slog.String("error", err.Error()),
		)
		return err
	}

	committed, err := scope.Finalize()
	if err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	if committed {
		e.publish(ctx, logger, metrics, s.events)
	}
	logger.Info("mutation committed", slog.Int("writes", len(s.events)))
	return nil
}

func (e *Engine) publish(ctx context.Context, logger *logging.Logger, metrics *observability.MutationMetrics, events []Event) {
	e.mu.RLock()
	observers := append([]Observer(nil), e.observers...)
	e.mu.RUnlock()

	for _, ev := range events {
		metrics.RecordEntityWrite(ctx, ev.EntityType, string(ev.Op))
		for _, o := range observers {
			notify(ctx, logger, o, ev)
		}
	}
}

func notify(ctx context.Context, logger *logging.Logger, o Observer, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("observer panicked",
				slog.String("entity", ev.EntityType),
				slog.Any("id", ev.ID),
				slog.Any("panic", r),
			)
		}
	}()
	o.EntityMutated(ctx, ev)
}
