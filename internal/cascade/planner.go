// Package cascade plans and executes deletes that propagate to dependent
// rows according to per-relation actions.
package cascade

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"nestedgraph/internal/catalog"
	"nestedgraph/internal/mutationerr"
	"nestedgraph/internal/store"
	"nestedgraph/internal/validation"
)

// Rules maps a dependent entity name, or "Entity.field" for a single
// relation, to the action applied when the referenced row is deleted.
type Rules map[string]catalog.DeleteAction

// ParseRules validates raw rule text against the catalog.
func ParseRules(cat *catalog.Catalog, raw map[string]string) (Rules, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	rules := make(Rules, len(raw))
	var errs mutationerr.List
	for _, key := range keys {
		entity, field, hasField := strings.Cut(key, ".")
		et, err := cat.Describe(entity)
		if err != nil {
			errs.Add(mutationerr.New(mutationerr.TypeMismatch, entity, field, "cascade rule %q names an unknown entity type", key))
			continue
		}
		if hasField {
			if f, ok := et.Field(field); !ok || f.Kind != catalog.ToOne {
				errs.Add(mutationerr.New(mutationerr.TypeMismatch, entity, field, "cascade rule %q must name a to-one relation", key))
				continue
			}
		}
		action, err := catalog.ParseDeleteAction(raw[key])
		if err != nil || action == "" {
			errs.Add(mutationerr.New(mutationerr.TypeMismatch, entity, field, "cascade rule %q: invalid action %q", key, raw[key]))
			continue
		}
		rules[key] = action
	}
	if err := errs.Err(); err != nil {
		return nil, err
	}
	return rules, nil
}

// ActionFor resolves the action for one dependent relation. Precedence is
// the "Entity.field" rule, then the "Entity" rule, then the relation's
// catalog default, then CASCADE.
func (r Rules) ActionFor(dep catalog.Dependent) catalog.DeleteAction {
	if action, ok := r[dep.Entity.Name+"."+dep.Field.Name]; ok && action != "" {
		return action
	}
	if action, ok := r[dep.Entity.Name]; ok && action != "" {
		return action
	}
	if dep.Field.OnDelete != "" {
		return dep.Field.OnDelete
	}
	return catalog.Cascade
}

// DeletedDescriptor identifies one row removed by a plan.
type DeletedDescriptor struct {
	EntityType string `json:"entityType"`
	ID         any    `json:"id"`
}

// Reassignment is a scheduled SET_NULL or SET_DEFAULT write.
type Reassignment struct {
	EntityType string
	ID         any
	Field      string
	Value      any
	Action     catalog.DeleteAction
}

type stepKind int

const (
	stepReassign stepKind = iota
	stepDetach
	stepDelete
)

type step struct {
	kind   stepKind
	entity *catalog.EntityType
	id     any
	field  string
	value  any
}

// Plan is an ordered, post-order list of writes. Dependents always come
// before the rows they reference.
type Plan struct {
	Root       DeletedDescriptor
	steps      []step
	deleted    []DeletedDescriptor
	reassigned []Reassignment
}

// Deleted returns the removed rows in execution order.
func (p *Plan) Deleted() []DeletedDescriptor {
	return append([]DeletedDescriptor(nil), p.deleted...)
}

// Reassigned returns the null and default assignments in execution order.
func (p *Plan) Reassigned() []Reassignment {
	return append([]Reassignment(nil), p.reassigned...)
}

// Len returns the number of writes Execute will issue.
func (p *Plan) Len() int {
	return len(p.steps)
}

// Planner computes delete plans. It only reads.
type Planner struct {
	catalog *catalog.Catalog
}

// NewPlanner returns a planner for the entity types in cat.
func NewPlanner(cat *catalog.Catalog) *Planner {
	return &Planner{catalog: cat}
}

// Plan walks every to-one relation that targets et, depth first, and
// builds the writes needed to delete entity.
func (p *Planner) Plan(ctx context.Context, reader store.Reader, et *catalog.EntityType, entity *store.Entity, rules Rules) (*Plan, error) {
	w := &walker{
		catalog: p.catalog,
		reader:  reader,
		rules:   rules,
		visited: make(map[string]bool),
		active:  make(map[string]bool),
		plan:    &Plan{Root: DeletedDescriptor{EntityType: et.Name, ID: entity.ID}},
	}
	if err := w.visit(ctx, et, entity); err != nil {
		return nil, err
	}
	return w.plan, nil
}

type walker struct {
	catalog *catalog.Catalog
	reader  store.Reader
	rules   Rules
	visited map[string]bool
	// active holds rows entered but not yet scheduled for deletion.
	active map[string]bool
	plan   *Plan
}

func visitKey(entity string, id any) string {
	return entity + "\x00" + validation.IDKey(id)
}

func (w *walker) visit(ctx context.Context, et *catalog.EntityType, entity *store.Entity) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key := visitKey(et.Name, entity.ID)
	if w.visited[key] {
		return nil
	}
	w.visited[key] = true
	w.active[key] = true
	defer delete(w.active, key)

	for _, dep := range w.catalog.Dependents(et.Name) {
		rows, err := w.reader.FindBy(ctx, dep.Entity, dep.Field.Name, entity.ID)
		if err != nil {
			return fmt.Errorf("load %s.%s dependents: %w", dep.Entity.Name, dep.Field.Name, err)
		}
		action := w.rules.ActionFor(dep)
		for _, row := range rows {
			rowKey := visitKey(dep.Entity.Name, row.ID)
			if w.active[rowKey] {
				// A row on the current path, or entity itself, still points
				// here and is deleted after it.
				if err := w.breakCycle(dep, row, et, entity); err != nil {
					return err
				}
				continue
			}
			// Rows already scheduled for deletion go away regardless.
			if w.visited[rowKey] {
				continue
			}
			if err := w.apply(ctx, dep, action, row, et, entity); err != nil {
				return err
			}
		}
	}

	for _, f := range et.FieldsOfKind(catalog.ManyToMany) {
		w.plan.steps = append(w.plan.steps, step{kind: stepDetach, entity: et, id: entity.ID, field: f.Name})
	}
	w.plan.steps = append(w.plan.steps, step{kind: stepDelete, entity: et, id: entity.ID})
	w.plan.deleted = append(w.plan.deleted, DeletedDescriptor{EntityType: et.Name, ID: entity.ID})
	return nil
}

func (w *walker) apply(ctx context.Context, dep catalog.Dependent, action catalog.DeleteAction, row *store.Entity, target *catalog.EntityType, parent *store.Entity) error {
	qualified := dep.Entity.Name + "." + dep.Field.Name
	switch action {
	case catalog.Cascade:
		return w.visit(ctx, dep.Entity, row)
	case catalog.Protect:
		return mutationerr.New(mutationerr.ProtectedDeletion, target.Name, "",
			"cannot delete %s %v: referenced by %s %v through %s", target.Name, parent.ID, dep.Entity.Name, row.ID, qualified)
	case catalog.SetNull:
		if !dep.Field.Nullable {
			return mutationerr.New(mutationerr.ConstraintViolation, dep.Entity.Name, dep.Field.Name,
				"SET_NULL on %s requires a nullable relation", qualified)
		}
		w.reassign(dep, row, nil, action)
	case catalog.SetDefault:
		if !dep.Field.HasDefault {
			return mutationerr.New(mutationerr.ConstraintViolation, dep.Entity.Name, dep.Field.Name,
				"SET_DEFAULT on %s requires a default value", qualified)
		}
		w.reassign(dep, row, dep.Field.Default, action)
	default:
		return mutationerr.New(mutationerr.TypeMismatch, dep.Entity.Name, dep.Field.Name,
			"unknown delete action %q for %s", action, qualified)
	}
	return nil
}

// breakCycle clears row's reference to parent so that parent can be
// deleted before row. Nothing is recorded as reassigned because row is
// deleted by the same plan.
func (w *walker) breakCycle(dep catalog.Dependent, row *store.Entity, target *catalog.EntityType, parent *store.Entity) error {
	if !dep.Field.Nullable {
		return mutationerr.New(mutationerr.ConstraintViolation, dep.Entity.Name, dep.Field.Name,
			"cannot delete %s %v: %s %v references it back through non-nullable %s.%s",
			target.Name, parent.ID, dep.Entity.Name, row.ID, dep.Entity.Name, dep.Field.Name)
	}
	w.plan.steps = append(w.plan.steps, step{
		kind:   stepReassign,
		entity: dep.Entity,
		id:     row.ID,
		field:  dep.Field.Name,
	})
	return nil
}

func (w *walker) reassign(dep catalog.Dependent, row *store.Entity, value any, action catalog.DeleteAction) {
	w.plan.steps = append(w.plan.steps, step{
		kind:   stepReassign,
		entity: dep.Entity,
		id:     row.ID,
		field:  dep.Field.Name,
		value:  value,
	})
	w.plan.reassigned = append(w.plan.reassigned, Reassignment{
		EntityType: dep.Entity.Name,
		ID:         row.ID,
		Field:      dep.Field.Name,
		Value:      value,
		Action:     action,
	})
}
