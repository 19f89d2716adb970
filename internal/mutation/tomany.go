package mutation

import (
	"context"

	"nestedgraph/internal/catalog"
	"nestedgraph/internal/mutationerr"
	"nestedgraph/internal/store"
)

// applyManyToMany resolves a many-to-many value and writes the resulting
// association set. Removed rows are only disassociated. touched is false
// when the value was null and nothing changed.
func (s *session) applyManyToMany(ctx context.Context, owner *catalog.EntityType, ent *store.Entity, f *catalog.Field, v any, isCreate bool, path string) (members []*store.Entity, touched bool, err error) {
	target, err := s.engine.describe(f.Target)
	if err != nil {
		return nil, false, located(err, path)
	}
	base := fieldPath(path, f.Name)

	switch shape := shapeOf(v); shape {
	case shapeNull:
		return nil, false, nil
	case shapeList:
		items := asList(v)
		if err := s.checkNested(owner, f, base, items); err != nil {
			return nil, false, err
		}
		set, err := s.resolveItems(ctx, owner, f, target, items, base)
		if err != nil {
			return nil, false, err
		}
		return s.writeMembership(ctx, owner, ent, f, set, base)
	case shapeOps:
		ops := parseOpMap(v.(map[string]any))
		return s.applyManyToManyOps(ctx, owner, ent, f, target, ops, isCreate, base)
	default:
		return nil, false, mutationerr.New(mutationerr.TypeMismatch, owner.Name, f.Name,
			"%s expects a list or an operation map, got %s", f.Name, shape).WithPath(base)
	}
}

func (s *session) applyManyToManyOps(ctx context.Context, owner *catalog.EntityType, ent *store.Entity, f *catalog.Field, target *catalog.EntityType, ops opMap, isCreate bool, base string) ([]*store.Entity, bool, error) {
	if err := s.checkNested(owner, f, base, ops.Set, ops.Create, ops.Update); err != nil {
		return nil, false, err
	}

	set := newMemberSet(nil)
	if !isCreate {
		current, err := s.tx.Members(ctx, owner, ent.ID, f.Name)
		if err != nil {
			return nil, false, s.storeError(err, owner, base, "load members of")
		}
		set = newMemberSet(current)
	}

	if ops.HasSet {
		replaced, err := s.resolveItems(ctx, owner, f, target, ops.Set, base+"."+opSet)
		if err != nil {
			return nil, false, err
		}
		set = replaced
	}
	for i, item := range ops.Create {
		p := itemPath(base+"."+opCreate, i)
		m, err := createItem(owner, f, target, item, p)
		if err != nil {
			return nil, false, err
		}
		created, err := s.create(ctx, target, m, p)
		if err != nil {
			return nil, false, err
		}
		set.add(created)
	}
	for i, item := range ops.Connect {
		ref, err := s.resolveRef(ctx, owner, f, target, item, itemPath(base+"."+opConnect, i))
		if err != nil {
			return nil, false, err
		}
		set.add(ref)
	}
	for i, item := range ops.Update {
		p := itemPath(base+"."+opUpdate, i)
		m, id, err := updateTarget(owner, f, target, item, p)
		if err != nil {
			return nil, false, err
		}
		if !set.has(id) {
			return nil, false, notMember(owner, f, target, id, p)
		}
		updated, err := s.update(ctx, target, id, m, p)
		if err != nil {
			return nil, false, err
		}
		set.add(updated)
	}
	for i, item := range ops.Disconnect {
		ref, err := s.resolveRef(ctx, owner, f, target, item, itemPath(base+"."+opDisconnect, i))
		if err != nil {
			return nil, false, err
		}
		set.remove(ref.ID)
	}
	return s.writeMembership(ctx, owner, ent, f, set, base)
}

// resolveItems resolves a list and deduplicates it by identifier.
func (s *session) resolveItems(ctx context.Context, owner *catalog.EntityType, f *catalog.Field, target *catalog.EntityType, items []any, base string) (*memberSet, error) {
	set := newMemberSet(nil)
	for i, item := range items {
		ent, err := s.resolveItem(ctx, owner, f, target, item, itemPath(base, i))
		if err != nil {
			return nil, err
		}
		set.add(ent)
	}
	return set, nil
}

func (s *session) writeMembership(ctx context.Context, owner *catalog.EntityType, ent *store.Entity, f *catalog.Field, set *memberSet, base string) ([]*store.Entity, bool, error) {
	if err := s.tx.SetMembership(ctx, owner, ent.ID, f.Name, set.ids()); err != nil {
		return nil, false, s.storeError(err, owner, base, "set members of")
	}
	return set.list(), true, nil
}

func notMember(owner *catalog.EntityType, f *catalog.Field, target *catalog.EntityType, id any, path string) error {
	return mutationerr.New(mutationerr.UnresolvedReference, owner.Name, f.Name,
		"%s %v is not related to %s through %s", target.Name, id, owner.Name, f.Name).WithPath(path)
}
