package catalog

// MutationSettings decides whether a relation field accepts embedded objects.
// Lookup order: per-field override, then per-entity override, then the global
// default. The zero value allows nested objects everywhere.
type MutationSettings struct {
	DisableNestedByDefault bool
	Entities               map[string]bool
	Fields                 map[string]map[string]bool
}

// NestedAllowed reports whether entity.field accepts embedded objects.
func (s MutationSettings) NestedAllowed(entity, field string) bool {
	if fields, ok := s.Fields[entity]; ok {
		if allowed, ok := fields[field]; ok {
			return allowed
		}
	}
	if allowed, ok := s.Entities[entity]; ok {
		return allowed
	}
	return !s.DisableNestedByDefault
}

// AllowEntity sets the per-entity override.
func (s *MutationSettings) AllowEntity(entity string, allowed bool) {
	if s.Entities == nil {
		s.Entities = make(map[string]bool)
	}
	s.Entities[entity] = allowed
}

// AllowField sets the per-field override.
func (s *MutationSettings) AllowField(entity, field string, allowed bool) {
	if s.Fields == nil {
		s.Fields = make(map[string]map[string]bool)
	}
	if s.Fields[entity] == nil {
		s.Fields[entity] = make(map[string]bool)
	}
	s.Fields[entity][field] = allowed
}
