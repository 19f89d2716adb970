package mutation

import (
	"context"

	"nestedgraph/internal/catalog"
	"nestedgraph/internal/store"
	"nestedgraph/internal/validation"
)

// update applies payload to an existing entity. Only provided fields are
// validated and written.
func (s *session) update(ctx context.Context, et *catalog.EntityType, id any, payload map[string]any, path string) (*store.Entity, error) {
	if err := s.enter(ctx, et, path); err != nil {
		return nil, err
	}
	defer s.guard.Exit(et.Name)

	current, err := s.lookup(ctx, et, id, path)
	if err != nil {
		return nil, err
	}

	c := Classify(et, payload, validation.OpUpdate)
	values := make(map[string]any, len(c.Scalars)+len(c.ToOne))
	for k, v := range c.Scalars {
		values[k] = v
	}
	related := make(map[string]any)
	if err := s.resolveToOneFields(ctx, et, c.ToOne, values, related, path); err != nil {
		return nil, err
	}

	normalized, errs := validation.Validate(et, values, validation.OpUpdate)
	if len(errs) > 0 {
		return nil, locateFields(errs, path)
	}

	ent := current
	wrote := hasStoredValues(et, normalized)
	if wrote {
		ent, err = s.tx.Update(ctx, et, current.ID, normalized)
		if err != nil {
			return nil, s.storeError(err, et, path, "update")
		}
		s.remember(ent)
	}

	changed, err := s.resolveCollections(ctx, et, ent, c, false, related, path)
	if err != nil {
		return nil, err
	}
	if wrote || changed {
		s.record(et.Name, ent.ID, OpUpdated)
	}
	return result(ent, c, related), nil
}

func hasStoredValues(et *catalog.EntityType, values map[string]any) bool {
	for key := range values {
		if key == et.IDField {
			continue
		}
		if f, ok := et.Field(key); ok && f.Stored() {
			return true
		}
	}
	return false
}
