package mutation

import (
	"nestedgraph/internal/store"
	"nestedgraph/internal/validation"
)

// memberSet is an insertion-ordered set of entities keyed by identifier.
type memberSet struct {
	order []string
	byKey map[string]*store.Entity
}

func newMemberSet(entities []*store.Entity) *memberSet {
	m := &memberSet{byKey: make(map[string]*store.Entity, len(entities))}
	for _, e := range entities {
		m.add(e)
	}
	return m
}

// add inserts e, or replaces the entry with the same identifier in place.
func (m *memberSet) add(e *store.Entity) {
	key := validation.IDKey(e.ID)
	if _, ok := m.byKey[key]; !ok {
		m.order = append(m.order, key)
	}
	m.byKey[key] = e
}

func (m *memberSet) has(id any) bool {
	_, ok := m.byKey[validation.IDKey(id)]
	return ok
}

func (m *memberSet) get(id any) *store.Entity {
	return m.byKey[validation.IDKey(id)]
}

func (m *memberSet) remove(id any) {
	key := validation.IDKey(id)
	if _, ok := m.byKey[key]; !ok {
		return
	}
	delete(m.byKey, key)
	for i, k := range m.order {
		if k == key {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
}

func (m *memberSet) list() []*store.Entity {
	out := make([]*store.Entity, 0, len(m.order))
	for _, key := range m.order {
		out = append(out, m.byKey[key])
	}
	return out
}

func (m *memberSet) ids() []any {
	out := make([]any, 0, len(m.order))
	for _, key := range m.order {
		out = append(out, m.byKey[key].ID)
	}
	return out
}
