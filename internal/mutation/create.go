package mutation

import (
	"context"

	"nestedgraph/internal/catalog"
	"nestedgraph/internal/store"
	"nestedgraph/internal/validation"
)

// create runs Classify, ResolveToOne, Validate, Persist and then the
// to-many and reverse relations, which need the new identifier.
func (s *session) create(ctx context.Context, et *catalog.EntityType, payload map[string]any, path string) (*store.Entity, error) {
	if err := s.enter(ctx, et, path); err != nil {
		return nil, err
	}
	defer s.guard.Exit(et.Name)

	c := Classify(et, payload, validation.OpCreate)
	values := make(map[string]any, len(c.Scalars)+len(c.ToOne))
	for k, v := range c.Scalars {
		values[k] = v
	}
	related := make(map[string]any)
	if err := s.resolveToOneFields(ctx, et, c.ToOne, values, related, path); err != nil {
		return nil, err
	}

	normalized, errs := validation.Validate(et, values, validation.OpCreate)
	if len(errs) > 0 {
		return nil, locateFields(errs, path)
	}
	if normalized[et.IDField] == nil && !et.GeneratedID() {
		normalized[et.IDField] = s.engine.newID()
	}

	ent, err := s.tx.Create(ctx, et, normalized)
	if err != nil {
		return nil, s.storeError(err, et, path, "create")
	}
	s.remember(ent)
	s.record(et.Name, ent.ID, OpCreated)

	if _, err := s.resolveCollections(ctx, et, ent, c, true, related, path); err != nil {
		return nil, err
	}
	return result(ent, c, related), nil
}

func (s *session) resolveToOneFields(ctx context.Context, et *catalog.EntityType, toOne map[string]any, values, related map[string]any, path string) error {
	for _, name := range sortedKeys(toOne) {
		f, _ := et.Field(name)
		ref, err := s.resolveToOne(ctx, et, f, toOne[name], fieldPath(path, name))
		if err != nil {
			return err
		}
		if ref == nil {
			values[name] = nil
			related[name] = nil
			continue
		}
		values[name] = ref.ID
		related[name] = ref
	}
	return nil
}

// resolveCollections applies many-to-many fields, then reverse fields. It
// reports whether any of them changed.
func (s *session) resolveCollections(ctx context.Context, et *catalog.EntityType, ent *store.Entity, c Classified, isCreate bool, related map[string]any, path string) (bool, error) {
	changed := false
	for _, name := range sortedKeys(c.ToMany) {
		f, _ := et.Field(name)
		members, touched, err := s.applyManyToMany(ctx, et, ent, f, c.ToMany[name], isCreate, path)
		if err != nil {
			return false, err
		}
		if touched {
			related[name] = members
			changed = true
		}
	}
	for _, name := range sortedKeys(c.Reverse) {
		f, _ := et.Field(name)
		members, touched, err := s.applyReverse(ctx, et, ent, f, c.Reverse[name], isCreate, path)
		if err != nil {
			return false, err
		}
		if touched {
			related[name] = members
			changed = true
		}
	}
	return changed, nil
}

// result is the persisted entity plus the opaque payload keys and the
// related entities resolved for this call.
func result(ent *store.Entity, c Classified, related map[string]any) *store.Entity {
	out := ent.Clone()
	for _, key := range c.Opaque {
		out.Values[key] = c.Scalars[key]
	}
	for name, v := range related {
		out.SetRelation(name, v)
	}
	return out
}
