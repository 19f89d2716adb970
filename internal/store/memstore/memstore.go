// Package memstore provides an in-memory transactional store. Transactions
// are serialized and work on a copy of the committed state, so a rollback
// simply discards the copy.
package memstore

import (
	"context"
	"fmt"
	"sort"

	"nestedgraph/internal/catalog"
	"nestedgraph/internal/store"
	"nestedgraph/internal/validation"
)

type link struct {
	first, second any
}

type memoryState struct {
	rows   map[string]map[string]map[string]any // entity → id key → values
	nextID map[string]int64
	links  map[string]map[string]link // junction table → pair key → link
}

func newMemoryState() memoryState {
	return memoryState{
		rows:   map[string]map[string]map[string]any{},
		nextID: map[string]int64{},
		links:  map[string]map[string]link{},
	}
}

func (s memoryState) clone() memoryState {
	out := newMemoryState()
	for entity, rows := range s.rows {
		copied := make(map[string]map[string]any, len(rows))
		for key, values := range rows {
			copied[key] = cloneValues(values)
		}
		out.rows[entity] = copied
	}
	for entity, n := range s.nextID {
		out.nextID[entity] = n
	}
	for table, links := range s.links {
		copied := make(map[string]link, len(links))
		for key, l := range links {
			copied[key] = l
		}
		out.links[table] = copied
	}
	return out
}

func cloneValues(values map[string]any) map[string]any {
	out := make(map[string]any, len(values))
	for k, v := range values {
		out[k] = v
	}
	return out
}

// Store is an in-memory store.Store that enforces referential integrity
// the way a relational database with foreign keys would.
type Store struct {
	catalog *catalog.Catalog
	sem     chan struct{}
	state   memoryState
}

// New creates an empty store for the entity types in cat.
func New(cat *catalog.Catalog) *Store {
	return &Store{
		catalog: cat,
		sem:     make(chan struct{}, 1),
		state:   newMemoryState(),
	}
}

// Begin waits for exclusive access and opens a transaction.
func (s *Store) Begin(ctx context.Context) (store.Tx, error) {
	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return &Tx{store: s, state: s.state.clone()}, nil
}

// Count returns the number of committed rows of an entity type.
func (s *Store) Count(entity string) int {
	s.sem <- struct{}{}
	defer func() { <-s.sem }()
	return len(s.state.rows[entity])
}

// Tx is a memstore transaction.
type Tx struct {
	store *Store
	state memoryState
	done  bool
}

var _ store.Tx = (*Tx)(nil)

func (t *Tx) finish() error {
	if t.done {
		return store.ErrTxDone
	}
	t.done = true
	<-t.store.sem
	return nil
}

// Commit publishes the transaction's state.
func (t *Tx) Commit() error {
	if t.done {
		return store.ErrTxDone
	}
	t.store.state = t.state
	return t.finish()
}

// Rollback discards the transaction's state.
func (t *Tx) Rollback() error {
	return t.finish()
}

func (t *Tx) entity(et *catalog.EntityType, values map[string]any) *store.Entity {
	return &store.Entity{Type: et.Name, ID: values[et.IDField], Values: cloneValues(values)}
}

func (t *Tx) table(entity string) map[string]map[string]any {
	rows, ok := t.state.rows[entity]
	if !ok {
		rows = make(map[string]map[string]any)
		t.state.rows[entity] = rows
	}
	return rows
}

func (t *Tx) exists(entity string, id any) bool {
	_, ok := t.state.rows[entity][validation.IDKey(id)]
	return ok
}

// GetByID returns the entity with the given identifier.
func (t *Tx) GetByID(_ context.Context, et *catalog.EntityType, id any) (*store.Entity, error) {
	if t.done {
		return nil, store.ErrTxDone
	}
	values, ok := t.state.rows[et.Name][validation.IDKey(id)]
	if !ok {
		return nil, store.ErrNotFound
	}
	return t.entity(et, values), nil
}

// FindBy returns the entities whose field equals value.
func (t *Tx) FindBy(_ context.Context, et *catalog.EntityType, field string, value any) ([]*store.Entity, error) {
	if t.done {
		return nil, store.ErrTxDone
	}
	if _, err := store.StoredField(et, field); err != nil {
		return nil, err
	}
	var out []*store.Entity
	for _, values := range t.state.rows[et.Name] {
		if v, ok := values[field]; ok && v != nil && equalValues(v, value) {
			out = append(out, t.entity(et, values))
		}
	}
	sortEntities(out)
	return out, nil
}

// Members returns the entities linked to id through a many-to-many field.
func (t *Tx) Members(_ context.Context, et *catalog.EntityType, id any, field string) ([]*store.Entity, error) {
	if t.done {
		return nil, store.ErrTxDone
	}
	f, err := store.ManyToManyField(et, field)
	if err != nil {
		return nil, err
	}
	target, err := t.store.catalog.Describe(f.Target)
	if err != nil {
		return nil, err
	}
	var out []*store.Entity
	for _, remote := range t.linked(*f.Junction, id) {
		if values, ok := t.state.rows[target.Name][validation.IDKey(remote)]; ok {
			out = append(out, t.entity(target, values))
		}
	}
	sortEntities(out)
	return out, nil
}

// Create inserts a row.
func (t *Tx) Create(_ context.Context, et *catalog.EntityType, values map[string]any) (*store.Entity, error) {
	if t.done {
		return nil, store.ErrTxDone
	}
	row := make(map[string]any)
	for _, f := range et.StoredFields() {
		if v, ok := values[f.Name]; ok {
			row[f.Name] = v
		} else if f.HasDefault {
			row[f.Name] = f.Default
		}
	}

	if row[et.IDField] == nil {
		if !et.GeneratedID() {
			return nil, &store.ConstraintError{Constraint: store.ConstraintNotNull, Entity: et.Name, Message: et.IDField + " is required"}
		}
		t.state.nextID[et.Name]++
		row[et.IDField] = t.state.nextID[et.Name]
	} else if n, ok := row[et.IDField].(int64); ok && n > t.state.nextID[et.Name] {
		t.state.nextID[et.Name] = n
	}

	key := validation.IDKey(row[et.IDField])
	if _, dup := t.state.rows[et.Name][key]; dup {
		return nil, &store.ConstraintError{Constraint: store.ConstraintUnique, Entity: et.Name,
			Message: fmt.Sprintf("duplicate %s %v", et.IDField, row[et.IDField])}
	}
	if err := t.checkRow(et, row); err != nil {
		return nil, err
	}
	t.table(et.Name)[key] = row
	return t.entity(et, row), nil
}

// Update changes the stored fields found in values.
func (t *Tx) Update(_ context.Context, et *catalog.EntityType, id any, values map[string]any) (*store.Entity, error) {
	if t.done {
		return nil, store.ErrTxDone
	}
	existing, ok := t.state.rows[et.Name][validation.IDKey(id)]
	if !ok {
		return nil, store.ErrNotFound
	}
	row := cloneValues(existing)
	for _, f := range et.StoredFields() {
		if f.Name == et.IDField {
			continue
		}
		if v, ok := values[f.Name]; ok {
			row[f.Name] = v
		}
	}
	if err := t.checkRow(et, row); err != nil {
		return nil, err
	}
	t.table(et.Name)[validation.IDKey(id)] = row
	return t.entity(et, row), nil
}

// Delete removes a row. It fails with a foreign key violation while other
// rows or associations still reference it.
func (t *Tx) Delete(_ context.Context, et *catalog.EntityType, id any) error {
	if t.done {
		return store.ErrTxDone
	}
	key := validation.IDKey(id)
	if _, ok := t.state.rows[et.Name][key]; !ok {
		return store.ErrNotFound
	}
	for _, dep := range t.store.catalog.Dependents(et.Name) {
		for _, values := range t.state.rows[dep.Entity.Name] {
			if v := values[dep.Field.Name]; v != nil && validation.IDKey(v) == key {
				return &store.ConstraintError{Constraint: store.ConstraintForeignKey, Entity: et.Name,
					Message: fmt.Sprintf("%s %v is referenced by %s.%s", et.Name, id, dep.Entity.Name, dep.Field.Name)}
			}
		}
	}
	for _, f := range et.FieldsOfKind(catalog.ManyToMany) {
		if len(t.linked(*f.Junction, id)) > 0 {
			return &store.ConstraintError{Constraint: store.ConstraintForeignKey, Entity: et.Name,
				Message: fmt.Sprintf("%s %v is referenced by %s", et.Name, id, f.Junction.Table)}
		}
	}
	delete(t.state.rows[et.Name], key)
	return nil
}

// SetMembership replaces the association set of id through a many-to-many field.
func (t *Tx) SetMembership(_ context.Context, et *catalog.EntityType, id any, field string, related []any) error {
	if t.done {
		return store.ErrTxDone
	}
	f, err := store.ManyToManyField(et, field)
	if err != nil {
		return err
	}
	if !t.exists(et.Name, id) {
		return store.ErrNotFound
	}
	for _, remote := range related {
		if !t.exists(f.Target, remote) {
			return &store.ConstraintError{Constraint: store.ConstraintForeignKey, Entity: f.Junction.Table,
				Message: fmt.Sprintf("%s %v does not exist", f.Target, remote)}
		}
	}

	j := *f.Junction
	links := t.state.links[j.Table]
	if links == nil {
		links = make(map[string]link)
		t.state.links[j.Table] = links
	}
	for key, l := range links {
		if local, _ := orient(j, l); validation.IDKey(local) == validation.IDKey(id) {
			delete(links, key)
		}
	}
	for _, remote := range related {
		l := newLink(j, id, remote)
		links[linkKey(l)] = l
	}
	return nil
}

func (t *Tx) linked(j catalog.Junction, id any) []any {
	var out []any
	for _, l := range t.state.links[j.Table] {
		if local, remote := orient(j, l); validation.IDKey(local) == validation.IDKey(id) {
			out = append(out, remote)
		}
	}
	return out
}

func (t *Tx) checkRow(et *catalog.EntityType, row map[string]any) error {
	for _, f := range et.StoredFields() {
		v := row[f.Name]
		if v == nil {
			if !f.Nullable && f.Name != et.IDField {
				return &store.ConstraintError{Constraint: store.ConstraintNotNull, Entity: et.Name,
					Message: fmt.Sprintf("%s cannot be null", f.Name)}
			}
			continue
		}
		if f.Kind == catalog.ToOne && !t.exists(f.Target, v) {
			return &store.ConstraintError{Constraint: store.ConstraintForeignKey, Entity: et.Name,
				Message: fmt.Sprintf("%s %v referenced by %s does not exist", f.Target, v, f.Name)}
		}
	}
	return nil
}

// Links are stored in a canonical column order so both sides of an
// association share them.
func newLink(j catalog.Junction, local, remote any) link {
	if j.LocalColumn <= j.RemoteColumn {
		return link{first: local, second: remote}
	}
	return link{first: remote, second: local}
}

func orient(j catalog.Junction, l link) (local, remote any) {
	if j.LocalColumn <= j.RemoteColumn {
		return l.first, l.second
	}
	return l.second, l.first
}

func linkKey(l link) string {
	return validation.IDKey(l.first) + "\x00" + validation.IDKey(l.second)
}

func equalValues(a, b any) bool {
	return validation.IDKey(a) == validation.IDKey(b)
}

func sortEntities(entities []*store.Entity) {
	sort.Slice(entities, func(i, j int) bool {
		a, aInt := entities[i].ID.(int64)
		b, bInt := entities[j].ID.(int64)
		if aInt && bInt {
			return a < b
		}
		return validation.IDKey(entities[i].ID) < validation.IDKey(entities[j].ID)
	})
}
