package mutation

import (
	"context"

	"nestedgraph/internal/catalog"
	"nestedgraph/internal/mutationerr"
	"nestedgraph/internal/store"
)

// resolveToOne turns a to-one value into the row it designates. A nil
// entity with a nil error means the relation is being set to null.
func (s *session) resolveToOne(ctx context.Context, owner *catalog.EntityType, f *catalog.Field, v any, path string) (*store.Entity, error) {
	target, err := s.engine.describe(f.Target)
	if err != nil {
		return nil, located(err, path)
	}
	switch shape := shapeOf(v); shape {
	case shapeNull:
		return nil, nil
	case shapeIdentifier:
		return s.lookup(ctx, target, v, path)
	case shapeEmbedded:
		if !s.engine.nestedAllowed(owner, f) {
			return nil, nestedDisabled(owner, f, path)
		}
		return s.resolveEmbedded(ctx, target, v.(map[string]any), path)
	default:
		return nil, mutationerr.New(mutationerr.TypeMismatch, owner.Name, f.Name,
			"%s expects an identifier, an embedded %s or null, got %s", f.Name, target.Name, shape).WithPath(path)
	}
}

// resolveEmbedded updates the object when it carries an identifier and
// creates it otherwise.
func (s *session) resolveEmbedded(ctx context.Context, target *catalog.EntityType, m map[string]any, path string) (*store.Entity, error) {
	if id, ok := embeddedID(target, m); ok {
		return s.update(ctx, target, id, m, path)
	}
	return s.create(ctx, target, m, path)
}

// resolveItem resolves one item of a to-many list by the to-one rules.
// Null items are rejected.
func (s *session) resolveItem(ctx context.Context, owner *catalog.EntityType, f *catalog.Field, target *catalog.EntityType, item any, path string) (*store.Entity, error) {
	switch shape := shapeOf(item); shape {
	case shapeIdentifier:
		return s.lookup(ctx, target, item, path)
	case shapeEmbedded:
		return s.resolveEmbedded(ctx, target, item.(map[string]any), path)
	default:
		return nil, mutationerr.New(mutationerr.TypeMismatch, owner.Name, f.Name,
			"%s items must be identifiers or embedded %s objects, got %s", f.Name, target.Name, shape).WithPath(path)
	}
}

// resolveRef resolves an identifier, or an object carrying one, without
// writing anything.
func (s *session) resolveRef(ctx context.Context, owner *catalog.EntityType, f *catalog.Field, target *catalog.EntityType, item any, path string) (*store.Entity, error) {
	if m, ok := item.(map[string]any); ok {
		id, ok := embeddedID(target, m)
		if !ok {
			return nil, mutationerr.New(mutationerr.TypeMismatch, owner.Name, f.Name,
				"%s reference must carry %s", f.Name, target.IDField).WithPath(path)
		}
		return s.lookup(ctx, target, id, path)
	}
	if shapeOf(item) != shapeIdentifier {
		return nil, mutationerr.New(mutationerr.TypeMismatch, owner.Name, f.Name,
			"%s reference must be an identifier, got %s", f.Name, shapeOf(item)).WithPath(path)
	}
	return s.lookup(ctx, target, item, path)
}

// updateTarget returns the identifier of an update item.
func updateTarget(owner *catalog.EntityType, f *catalog.Field, target *catalog.EntityType, item any, path string) (map[string]any, any, error) {
	m, ok := item.(map[string]any)
	if !ok {
		return nil, nil, mutationerr.New(mutationerr.TypeMismatch, owner.Name, f.Name,
			"%s update items must be embedded %s objects", f.Name, target.Name).WithPath(path)
	}
	id, ok := embeddedID(target, m)
	if !ok {
		return nil, nil, mutationerr.New(mutationerr.TypeMismatch, owner.Name, f.Name,
			"%s update items must carry %s", f.Name, target.IDField).WithPath(path)
	}
	return m, id, nil
}

func createItem(owner *catalog.EntityType, f *catalog.Field, target *catalog.EntityType, item any, path string) (map[string]any, error) {
	m, ok := item.(map[string]any)
	if !ok {
		return nil, mutationerr.New(mutationerr.TypeMismatch, owner.Name, f.Name,
			"%s create items must be embedded %s objects", f.Name, target.Name).WithPath(path)
	}
	return m, nil
}

func nestedDisabled(owner *catalog.EntityType, f *catalog.Field, path string) error {
	return mutationerr.New(mutationerr.NestedDisabled, owner.Name, f.Name,
		"nested objects are disabled for %s.%s; pass an identifier", owner.Name, f.Name).WithPath(path)
}

// checkNested rejects embedded items on fields that only accept identifiers.
func (s *session) checkNested(owner *catalog.EntityType, f *catalog.Field, path string, items ...[]any) error {
	if s.engine.nestedAllowed(owner, f) {
		return nil
	}
	for _, list := range items {
		if hasEmbedded(list) {
			return nestedDisabled(owner, f, path)
		}
	}
	return nil
}
