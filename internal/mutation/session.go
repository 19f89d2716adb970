package mutation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"nestedgraph/internal/cascade"
	"nestedgraph/internal/catalog"
	"nestedgraph/internal/logging"
	"nestedgraph/internal/mutationerr"
	"nestedgraph/internal/observability"
	"nestedgraph/internal/recursion"
	"nestedgraph/internal/store"
	"nestedgraph/internal/validation"
)

type memoKey struct {
	entity string
	id     string
}

// session is the state of one top-level call: the transaction, the
// recursion guard, the lookup memo and the pending notifications.
type session struct {
	engine  *Engine
	tx      store.Tx
	guard   *recursion.Guard
	memo    map[memoKey]*store.Entity
	events  []Event
	logger  *logging.Logger
	metrics *observability.MutationMetrics
}

func newSession(e *Engine, tx store.Tx, logger *logging.Logger) *session {
	return &session{
		engine:  e,
		tx:      tx,
		guard:   recursion.NewGuard(e.maxDepth),
		memo:    make(map[memoKey]*store.Entity),
		logger:  logger,
		metrics: e.metrics,
	}
}

func (s *session) enter(ctx context.Context, et *catalog.EntityType, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.guard.Enter(et.Name); err != nil {
		return located(err, path)
	}
	return nil
}

func (s *session) record(entity string, id any, op Op) {
	s.events = append(s.events, Event{EntityType: entity, ID: id, Op: op})
	s.logger.Debug("entity written",
		slog.String("entity", entity),
		slog.String("op", string(op)),
		slog.Any("id", id),
	)
}

func (s *session) remember(ent *store.Entity) {
	s.memo[memoKey{entity: ent.Type, id: validation.IDKey(ent.ID)}] = ent
}

func (s *session) forget(entity string, id any) {
	delete(s.memo, memoKey{entity: entity, id: validation.IDKey(id)})
}

// lookup loads an entity by identifier, once per call.
func (s *session) lookup(ctx context.Context, et *catalog.EntityType, raw any, path string) (*store.Entity, error) {
	id, err := validation.NormalizeID(et, raw)
	if err != nil {
		return nil, mutationerr.New(mutationerr.TypeMismatch, et.Name, et.IDField,
			"invalid %s identifier: %v", et.Name, err).WithPath(path)
	}
	if ent, ok := s.memo[memoKey{entity: et.Name, id: validation.IDKey(id)}]; ok {
		return ent, nil
	}
	ent, err := s.tx.GetByID(ctx, et, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, mutationerr.New(mutationerr.UnresolvedReference, et.Name, "",
			"%s %v not found", et.Name, id).WithPath(path)
	}
	if err != nil {
		return nil, fmt.Errorf("load %s %v: %w", et.Name, id, err)
	}
	s.remember(ent)
	return ent, nil
}

// deleteCascade plans and executes a delete inside the session's
// transaction. Deleted rows leave the memo.
func (s *session) deleteCascade(ctx context.Context, et *catalog.EntityType, root *store.Entity, rules cascade.Rules, path string) ([]cascade.DeletedDescriptor, error) {
	plan, err := s.engine.planner.Plan(ctx, s.tx, et, root, rules)
	if err != nil {
		return nil, s.storeError(err, et, path, "plan delete of")
	}
	s.logger.Debug("cascade planned",
		slog.String("entity", et.Name),
		slog.Any("id", root.ID),
		slog.Int("writes", plan.Len()),
	)
	if err := cascade.Execute(ctx, s.tx, plan); err != nil {
		return nil, s.storeError(err, et, path, "delete")
	}

	reassigned := plan.Reassigned()
	for _, r := range reassigned {
		s.forget(r.EntityType, r.ID)
		s.record(r.EntityType, r.ID, OpUpdated)
	}
	deleted := plan.Deleted()
	for _, d := range deleted {
		s.forget(d.EntityType, d.ID)
		s.record(d.EntityType, d.ID, OpDeleted)
	}
	s.metrics.RecordCascadePlan(ctx, et.Name, len(deleted), len(reassigned))
	return deleted, nil
}

// storeError normalizes a store failure into the error taxonomy.
func (s *session) storeError(err error, et *catalog.EntityType, path, action string) error {
	if _, ok := err.(*mutationerr.Error); ok {
		return located(err, path)
	}
	var ce *store.ConstraintError
	if errors.As(err, &ce) {
		return &mutationerr.Error{
			Kind:    mutationerr.ConstraintViolation,
			Entity:  et.Name,
			Path:    path,
			Message: ce.Error(),
			Cause:   err,
		}
	}
	if errors.Is(err, store.ErrNotFound) {
		return &mutationerr.Error{
			Kind:    mutationerr.UnresolvedReference,
			Entity:  et.Name,
			Path:    path,
			Message: fmt.Sprintf("%s not found", et.Name),
			Cause:   err,
		}
	}
	return fmt.Errorf("%s %s: %w", action, et.Name, err)
}

// located attaches path to a mutation error that has none.
func located(err error, path string) error {
	if me, ok := err.(*mutationerr.Error); ok {
		return me.WithPath(path)
	}
	return err
}

// locateFields points each field violation at path.field.
func locateFields(errs mutationerr.List, path string) mutationerr.List {
	out := make(mutationerr.List, len(errs))
	for i, e := range errs {
		if e.Field != "" {
			out[i] = e.WithPath(fieldPath(path, e.Field))
		} else {
			out[i] = e.WithPath(path)
		}
	}
	return out
}
