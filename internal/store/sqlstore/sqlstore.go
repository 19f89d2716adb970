// Package sqlstore implements store.Store over database/sql using the
// planner's squirrel-built statements.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"nestedgraph/internal/catalog"
	"nestedgraph/internal/dbexec"
	"nestedgraph/internal/planner"
	"nestedgraph/internal/sqlutil"
	"nestedgraph/internal/store"
	"nestedgraph/internal/validation"
)

// Store is a SQL-backed store.Store.
type Store struct {
	exec    dbexec.TxBeginner
	dialect sqlutil.Dialect
	catalog *catalog.Catalog
}

// New creates a store that opens transactions through exec.
func New(exec dbexec.TxBeginner, dialect sqlutil.Dialect, cat *catalog.Catalog) *Store {
	return &Store{exec: exec, dialect: dialect, catalog: cat}
}

// Begin opens a database transaction.
func (s *Store) Begin(ctx context.Context) (store.Tx, error) {
	tx, err := s.exec.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	return &Tx{store: s, tx: tx, dialect: s.dialect}, nil
}

// Tx is a SQL transaction.
type Tx struct {
	store   *Store
	tx      dbexec.TxExecutor
	dialect sqlutil.Dialect
	done    bool
}

var _ store.Tx = (*Tx)(nil)

// Commit commits the transaction.
func (t *Tx) Commit() error {
	if t.done {
		return store.ErrTxDone
	}
	t.done = true
	return normalizeError("", t.tx.Commit())
}

// Rollback aborts the transaction.
func (t *Tx) Rollback() error {
	if t.done {
		return store.ErrTxDone
	}
	t.done = true
	return t.tx.Rollback()
}

func (t *Tx) query(ctx context.Context, q planner.SQLQuery) (dbexec.Rows, error) {
	if t.done {
		return nil, store.ErrTxDone
	}
	return t.tx.QueryContext(ctx, q.SQL, q.Args...)
}

func (t *Tx) exec(ctx context.Context, q planner.SQLQuery) (sql.Result, error) {
	if t.done {
		return nil, store.ErrTxDone
	}
	return t.tx.ExecContext(ctx, q.SQL, q.Args...)
}

// GetByID loads one row.
func (t *Tx) GetByID(ctx context.Context, et *catalog.EntityType, id any) (*store.Entity, error) {
	q, err := planner.PlanSelectByID(t.dialect, et, id)
	if err != nil {
		return nil, err
	}
	rows, err := t.query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", et.Table, err)
	}
	found, err := t.scanEntities(rows, et)
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, store.ErrNotFound
	}
	return found[0], nil
}

// FindBy loads every row whose stored field equals value.
func (t *Tx) FindBy(ctx context.Context, et *catalog.EntityType, field string, value any) ([]*store.Entity, error) {
	f, err := store.StoredField(et, field)
	if err != nil {
		return nil, err
	}
	q, err := planner.PlanSelectWhere(t.dialect, et, f.Column, value)
	if err != nil {
		return nil, err
	}
	rows, err := t.query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", et.Table, err)
	}
	return t.scanEntities(rows, et)
}

// Members loads the rows associated with id through a many-to-many field.
func (t *Tx) Members(ctx context.Context, et *catalog.EntityType, id any, field string) ([]*store.Entity, error) {
	f, err := store.ManyToManyField(et, field)
	if err != nil {
		return nil, err
	}
	target, err := t.store.catalog.Describe(f.Target)
	if err != nil {
		return nil, err
	}
	q, err := planner.PlanSelectMembers(t.dialect, f, target, id)
	if err != nil {
		return nil, err
	}
	rows, err := t.query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("select %s members: %w", f.Junction.Table, err)
	}
	return t.scanEntities(rows, target)
}

func storedColumns(et *catalog.EntityType, values map[string]any, skipID bool) ([]string, []interface{}) {
	var cols []string
	var vals []interface{}
	for _, f := range et.StoredFields() {
		if skipID && f.Name == et.IDField {
			continue
		}
		v, ok := values[f.Name]
		if !ok {
			continue
		}
		if f.Name == et.IDField && v == nil {
			continue
		}
		cols = append(cols, f.Column)
		vals = append(vals, v)
	}
	return cols, vals
}

// Create inserts a row and reloads it.
func (t *Tx) Create(ctx context.Context, et *catalog.EntityType, values map[string]any) (*store.Entity, error) {
	cols, vals := storedColumns(et, values, false)
	q, err := planner.PlanInsert(t.dialect, et, cols, vals)
	if err != nil {
		return nil, err
	}

	id := values[et.IDField]
	if t.dialect.Returning {
		rows, err := t.query(ctx, q)
		if err != nil {
			return nil, normalizeError(et.Name, err)
		}
		var returned any
		if rows.Next() {
			err = rows.Scan(&returned)
		}
		if err == nil {
			err = rows.Err()
		}
		rows.Close()
		if err != nil {
			return nil, normalizeError(et.Name, err)
		}
		if id == nil {
			id = returned
		}
	} else {
		result, err := t.exec(ctx, q)
		if err != nil {
			return nil, normalizeError(et.Name, err)
		}
		if id == nil {
			lastID, err := result.LastInsertId()
			if err != nil {
				return nil, fmt.Errorf("insert %s: read generated id: %w", et.Table, err)
			}
			id = lastID
		}
	}
	if id == nil {
		return nil, fmt.Errorf("insert %s: no identifier returned", et.Table)
	}
	if normalized, err := validation.NormalizeID(et, id); err == nil {
		id = normalized
	}
	return t.GetByID(ctx, et, id)
}

// Update writes the stored fields found in values and reloads the row.
func (t *Tx) Update(ctx context.Context, et *catalog.EntityType, id any, values map[string]any) (*store.Entity, error) {
	cols, vals := storedColumns(et, values, true)
	if len(cols) > 0 {
		set := make(map[string]interface{}, len(cols))
		for i, col := range cols {
			set[col] = vals[i]
		}
		q, err := planner.PlanUpdate(t.dialect, et, set, id)
		if err != nil {
			return nil, err
		}
		if _, err := t.exec(ctx, q); err != nil {
			return nil, normalizeError(et.Name, err)
		}
	}
	return t.GetByID(ctx, et, id)
}

// Delete removes one row.
func (t *Tx) Delete(ctx context.Context, et *catalog.EntityType, id any) error {
	q, err := planner.PlanDelete(t.dialect, et, id)
	if err != nil {
		return err
	}
	result, err := t.exec(ctx, q)
	if err != nil {
		return normalizeError(et.Name, err)
	}
	affected, err := result.RowsAffected()
	if err == nil && affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// SetMembership diffs the current junction rows of id against related and
// applies only the difference.
func (t *Tx) SetMembership(ctx context.Context, et *catalog.EntityType, id any, field string, related []any) error {
	f, err := store.ManyToManyField(et, field)
	if err != nil {
		return err
	}
	j := *f.Junction

	q, err := planner.PlanSelectJunction(t.dialect, j, id)
	if err != nil {
		return err
	}
	rows, err := t.query(ctx, q)
	if err != nil {
		return fmt.Errorf("select %s: %w", j.Table, err)
	}
	current := make(map[string]any)
	for rows.Next() {
		var remote any
		if err := rows.Scan(&remote); err != nil {
			rows.Close()
			return fmt.Errorf("scan %s: %w", j.Table, err)
		}
		if b, ok := remote.([]byte); ok {
			remote = string(b)
		}
		current[validation.IDKey(remote)] = remote
	}
	if err := errors.Join(rows.Err(), rows.Close()); err != nil {
		return fmt.Errorf("select %s: %w", j.Table, err)
	}

	wanted := make(map[string]bool, len(related))
	var added []any
	for _, remote := range related {
		key := validation.IDKey(remote)
		if wanted[key] {
			continue
		}
		wanted[key] = true
		if _, ok := current[key]; !ok {
			added = append(added, remote)
		}
	}
	var removedKeys []string
	for key := range current {
		if !wanted[key] {
			removedKeys = append(removedKeys, key)
		}
	}
	sort.Strings(removedKeys)
	removed := make([]interface{}, 0, len(removedKeys))
	for _, key := range removedKeys {
		removed = append(removed, current[key])
	}

	if len(removed) > 0 {
		q, err := planner.PlanJunctionDelete(t.dialect, j, id, removed)
		if err != nil {
			return err
		}
		if _, err := t.exec(ctx, q); err != nil {
			return normalizeError(j.Table, err)
		}
	}
	for _, remote := range added {
		q, err := planner.PlanJunctionInsert(t.dialect, j, id, remote)
		if err != nil {
			return err
		}
		if _, err := t.exec(ctx, q); err != nil {
			return normalizeError(j.Table, err)
		}
	}
	return nil
}
