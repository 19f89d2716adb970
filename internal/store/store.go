// Package store defines the transactional persistence contract the mutation
// engine and cascade planner run against.
package store

import (
	"context"
	"errors"
	"fmt"

	"nestedgraph/internal/catalog"
)

// ErrNotFound is returned when an entity does not exist.
var ErrNotFound = errors.New("entity not found")

// ErrTxDone is returned when a finished transaction is used again.
var ErrTxDone = errors.New("transaction already finished")

// Entity is a persisted row keyed by field name.
type Entity struct {
	Type   string
	ID     any
	Values map[string]any
	// Relations holds the related entities resolved during a mutation, keyed
	// by relation field: *Entity for to-one, []*Entity for to-many.
	Relations map[string]any
}

// Get returns a field value.
func (e *Entity) Get(field string) (any, bool) {
	v, ok := e.Values[field]
	return v, ok
}

// Clone returns a copy whose Values map can be modified independently.
func (e *Entity) Clone() *Entity {
	if e == nil {
		return nil
	}
	values := make(map[string]any, len(e.Values))
	for k, v := range e.Values {
		values[k] = v
	}
	out := &Entity{Type: e.Type, ID: e.ID, Values: values}
	if len(e.Relations) > 0 {
		out.Relations = make(map[string]any, len(e.Relations))
		for k, v := range e.Relations {
			out.Relations[k] = v
		}
	}
	return out
}

// SetRelation records a resolved relation on the entity.
func (e *Entity) SetRelation(field string, v any) {
	if e.Relations == nil {
		e.Relations = make(map[string]any)
	}
	e.Relations[field] = v
}

// Constraint names a violated integrity rule.
type Constraint string

const (
	ConstraintUnique     Constraint = "unique"
	ConstraintForeignKey Constraint = "foreign_key"
	ConstraintNotNull    Constraint = "not_null"
	ConstraintCheck      Constraint = "check"
)

// ConstraintError is a normalized integrity violation reported by a store.
type ConstraintError struct {
	Constraint Constraint
	Entity     string
	Message    string
	// Code is the driver-specific error code, when known.
	Code string
	Err  error
}

func (e *ConstraintError) Error() string {
	if e.Entity != "" {
		return fmt.Sprintf("%s violation on %s: %s", e.Constraint, e.Entity, e.Message)
	}
	return fmt.Sprintf("%s violation: %s", e.Constraint, e.Message)
}

func (e *ConstraintError) Unwrap() error {
	return e.Err
}

// Store opens transactions.
type Store interface {
	Begin(ctx context.Context) (Tx, error)
}

// Reader is the read side of a transaction.
type Reader interface {
	GetByID(ctx context.Context, et *catalog.EntityType, id any) (*Entity, error)
	// FindBy returns every entity of et whose stored field equals value,
	// ordered by identifier.
	FindBy(ctx context.Context, et *catalog.EntityType, field string, value any) ([]*Entity, error)
	// Members returns the entities associated with id through a
	// many-to-many field, ordered by identifier.
	Members(ctx context.Context, et *catalog.EntityType, id any, field string) ([]*Entity, error)
}

// Writer is the write side of a transaction.
type Writer interface {
	// Create persists the stored fields found in values. Keys that do not
	// name a stored field are ignored.
	Create(ctx context.Context, et *catalog.EntityType, values map[string]any) (*Entity, error)
	Update(ctx context.Context, et *catalog.EntityType, id any, values map[string]any) (*Entity, error)
	Delete(ctx context.Context, et *catalog.EntityType, id any) error
	// SetMembership makes related the exact association set of id through a
	// many-to-many field.
	SetMembership(ctx context.Context, et *catalog.EntityType, id any, field string, related []any) error
}

// Tx is one all-or-nothing unit of work.
type Tx interface {
	Reader
	Writer
	Commit() error
	Rollback() error
}

// ManyToManyField looks up field on et and checks that it is a many-to-many
// relation with a junction.
func ManyToManyField(et *catalog.EntityType, field string) (*catalog.Field, error) {
	f, ok := et.Field(field)
	if !ok {
		return nil, fmt.Errorf("entity %s has no field %q", et.Name, field)
	}
	if f.Kind != catalog.ManyToMany || f.Junction == nil {
		return nil, fmt.Errorf("field %s.%s is not a many-to-many relation", et.Name, field)
	}
	return f, nil
}

// StoredField looks up a field that maps to a column of et.
func StoredField(et *catalog.EntityType, field string) (*catalog.Field, error) {
	f, ok := et.Field(field)
	if !ok || !f.Stored() {
		return nil, fmt.Errorf("entity %s has no stored field %q", et.Name, field)
	}
	return f, nil
}
