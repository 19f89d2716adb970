package mutation

import (
	"context"

	"nestedgraph/internal/catalog"
	"nestedgraph/internal/mutationerr"
	"nestedgraph/internal/store"
	"nestedgraph/internal/validation"
)

// reverseField is a to-many accessor resolved to the dependent type and
// the to-one on it that points back at the owner.
type reverseField struct {
	owner     *catalog.EntityType
	field     *catalog.Field
	dependent *catalog.EntityType
	fk        *catalog.Field
}

func (s *session) reverseField(owner *catalog.EntityType, f *catalog.Field, path string) (*reverseField, error) {
	dep, err := s.engine.describe(f.Target)
	if err != nil {
		return nil, located(err, path)
	}
	fk, ok := dep.Field(f.InverseOf)
	if !ok || fk.Kind != catalog.ToOne {
		return nil, mutationerr.New(mutationerr.TypeMismatch, owner.Name, f.Name,
			"%s.%s has no back-reference on %s", owner.Name, f.Name, dep.Name).WithPath(path)
	}
	return &reverseField{owner: owner, field: f, dependent: dep, fk: fk}, nil
}

// applyReverse writes a reverse relation by assigning the back-reference
// on each dependent. A plain list is a full reconciliation in which
// dependents that are left out get deleted.
func (s *session) applyReverse(ctx context.Context, owner *catalog.EntityType, ent *store.Entity, f *catalog.Field, v any, isCreate bool, path string) ([]*store.Entity, bool, error) {
	base := fieldPath(path, f.Name)
	rf, err := s.reverseField(owner, f, base)
	if err != nil {
		return nil, false, err
	}

	switch shape := shapeOf(v); shape {
	case shapeNull:
		return nil, false, nil
	case shapeList:
		items := asList(v)
		if err := s.checkNested(owner, f, base, items); err != nil {
			return nil, false, err
		}
		members, err := s.reconcile(ctx, rf, ent, items, isCreate, base)
		if err != nil {
			return nil, false, err
		}
		return members, true, nil
	case shapeOps:
		ops := parseOpMap(v.(map[string]any))
		members, err := s.applyReverseOps(ctx, rf, ent, ops, isCreate, base)
		if err != nil {
			return nil, false, err
		}
		return members, true, nil
	default:
		return nil, false, mutationerr.New(mutationerr.TypeMismatch, owner.Name, f.Name,
			"%s expects a list or an operation map, got %s", f.Name, shape).WithPath(base)
	}
}

type reconcileItem struct {
	index  int
	id     any
	object map[string]any
	path   string
}

// reconcile makes items the exact dependent set of ent. The difference
// against the current set is computed before any write, then updates,
// deletes and creates run in that order.
func (s *session) reconcile(ctx context.Context, rf *reverseField, ent *store.Entity, items []any, isCreate bool, base string) ([]*store.Entity, error) {
	var current []*store.Entity
	if !isCreate {
		var err error
		current, err = s.tx.FindBy(ctx, rf.dependent, rf.fk.Name, ent.ID)
		if err != nil {
			return nil, s.storeError(err, rf.dependent, base, "load dependents of")
		}
	}
	members := newMemberSet(current)

	var updates, creates []reconcileItem
	requested := make(map[string]bool, len(items))
	for i, item := range items {
		p := itemPath(base, i)
		ri := reconcileItem{index: i, path: p}
		switch shape := shapeOf(item); shape {
		case shapeIdentifier:
			ri.id = item
		case shapeEmbedded:
			ri.object = item.(map[string]any)
			ri.id, _ = embeddedID(rf.dependent, ri.object)
		default:
			return nil, mutationerr.New(mutationerr.TypeMismatch, rf.owner.Name, rf.field.Name,
				"%s items must be identifiers or embedded %s objects, got %s", rf.field.Name, rf.dependent.Name, shape).WithPath(p)
		}
		if ri.id == nil {
			creates = append(creates, ri)
			continue
		}
		id, err := validation.NormalizeID(rf.dependent, ri.id)
		if err != nil {
			return nil, mutationerr.New(mutationerr.TypeMismatch, rf.dependent.Name, rf.dependent.IDField,
				"invalid %s identifier: %v", rf.dependent.Name, err).WithPath(p)
		}
		key := validation.IDKey(id)
		if requested[key] {
			return nil, mutationerr.New(mutationerr.TypeMismatch, rf.owner.Name, rf.field.Name,
				"%s %v appears more than once in %s", rf.dependent.Name, id, rf.field.Name).WithPath(p)
		}
		requested[key] = true
		ri.id = id
		updates = append(updates, ri)
	}

	resolved := make([]*store.Entity, len(items))
	for _, u := range updates {
		var child *store.Entity
		var err error
		switch {
		case u.object != nil:
			child, err = s.update(ctx, rf.dependent, u.id, injected(u.object, rf.fk.Name, ent.ID), u.path)
		case members.has(u.id):
			child = members.get(u.id)
		default:
			child, err = s.repoint(ctx, rf, u.id, ent.ID, u.path)
		}
		if err != nil {
			return nil, err
		}
		resolved[u.index] = child
	}

	for _, cur := range current {
		if requested[validation.IDKey(cur.ID)] {
			continue
		}
		if _, err := s.deleteCascade(ctx, rf.dependent, cur, nil, base); err != nil {
			return nil, err
		}
	}

	for _, c := range creates {
		child, err := s.create(ctx, rf.dependent, injected(c.object, rf.fk.Name, ent.ID), c.path)
		if err != nil {
			return nil, err
		}
		resolved[c.index] = child
	}

	out := make([]*store.Entity, 0, len(resolved))
	for _, child := range resolved {
		if child != nil {
			out = append(out, child)
		}
	}
	return out, nil
}

func (s *session) applyReverseOps(ctx context.Context, rf *reverseField, ent *store.Entity, ops opMap, isCreate bool, base string) ([]*store.Entity, error) {
	if err := s.checkNested(rf.owner, rf.field, base, ops.Set, ops.Create, ops.Update); err != nil {
		return nil, err
	}

	if ops.HasSet {
		if _, err := s.reconcile(ctx, rf, ent, ops.Set, isCreate, base+"."+opSet); err != nil {
			return nil, err
		}
	}
	for i, item := range ops.Create {
		p := itemPath(base+"."+opCreate, i)
		m, err := createItem(rf.owner, rf.field, rf.dependent, item, p)
		if err != nil {
			return nil, err
		}
		if _, err := s.create(ctx, rf.dependent, injected(m, rf.fk.Name, ent.ID), p); err != nil {
			return nil, err
		}
	}
	for i, item := range ops.Connect {
		p := itemPath(base+"."+opConnect, i)
		ref, err := s.resolveRef(ctx, rf.owner, rf.field, rf.dependent, item, p)
		if err != nil {
			return nil, err
		}
		if _, err := s.repoint(ctx, rf, ref.ID, ent.ID, p); err != nil {
			return nil, err
		}
	}
	for i, item := range ops.Update {
		p := itemPath(base+"."+opUpdate, i)
		m, id, err := updateTarget(rf.owner, rf.field, rf.dependent, item, p)
		if err != nil {
			return nil, err
		}
		child, err := s.lookup(ctx, rf.dependent, id, p)
		if err != nil {
			return nil, err
		}
		if !pointsAt(child, rf.fk, ent.ID) {
			return nil, notMember(rf.owner, rf.field, rf.dependent, child.ID, p)
		}
		if _, err := s.update(ctx, rf.dependent, child.ID, injected(m, rf.fk.Name, ent.ID), p); err != nil {
			return nil, err
		}
	}
	for i, item := range ops.Disconnect {
		p := itemPath(base+"."+opDisconnect, i)
		ref, err := s.resolveRef(ctx, rf.owner, rf.field, rf.dependent, item, p)
		if err != nil {
			return nil, err
		}
		if !pointsAt(ref, rf.fk, ent.ID) {
			continue
		}
		if !rf.fk.Nullable {
			return nil, mutationerr.New(mutationerr.ConstraintViolation, rf.dependent.Name, rf.fk.Name,
				"cannot disconnect %s %v from %s: %s.%s is not nullable", rf.dependent.Name, ref.ID, rf.owner.Name, rf.dependent.Name, rf.fk.Name).
				WithPath(p)
		}
		if _, err := s.assignBackReference(ctx, rf, ref.ID, nil, p); err != nil {
			return nil, err
		}
	}

	return s.dependentsOf(ctx, rf, ent, base)
}

func (s *session) dependentsOf(ctx context.Context, rf *reverseField, ent *store.Entity, base string) ([]*store.Entity, error) {
	rows, err := s.tx.FindBy(ctx, rf.dependent, rf.fk.Name, ent.ID)
	if err != nil {
		return nil, s.storeError(err, rf.dependent, base, "load dependents of")
	}
	return rows, nil
}

// repoint makes the dependent id reference parentID with a single write.
func (s *session) repoint(ctx context.Context, rf *reverseField, id, parentID any, path string) (*store.Entity, error) {
	child, err := s.lookup(ctx, rf.dependent, id, path)
	if err != nil {
		return nil, err
	}
	if pointsAt(child, rf.fk, parentID) {
		return child, nil
	}
	return s.assignBackReference(ctx, rf, child.ID, parentID, path)
}

func (s *session) assignBackReference(ctx context.Context, rf *reverseField, id, value any, path string) (*store.Entity, error) {
	updated, err := s.tx.Update(ctx, rf.dependent, id, map[string]any{rf.fk.Name: value})
	if err != nil {
		return nil, s.storeError(err, rf.dependent, path, "update")
	}
	s.remember(updated)
	s.record(rf.dependent.Name, updated.ID, OpUpdated)
	return updated, nil
}

func pointsAt(child *store.Entity, fk *catalog.Field, parentID any) bool {
	v, ok := child.Values[fk.Name]
	return ok && v != nil && validation.IDKey(v) == validation.IDKey(parentID)
}
