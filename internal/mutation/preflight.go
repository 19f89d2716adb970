package mutation

import (
	"nestedgraph/internal/catalog"
	"nestedgraph/internal/mutationerr"
	"nestedgraph/internal/recursion"
	"nestedgraph/internal/validation"
)

// pendingRef stands in for a relation that is only resolved inside the
// transaction. Validation sees it as a present, non-null value.
type pendingRef struct{}

// preflight walks a payload without a store. Cycles, depth, nested-disabled
// and shape errors come back alone; field violations are collected.
type preflight struct {
	engine *Engine
	guard  *recursion.Guard
	errs   mutationerr.List
}

func (e *Engine) preflight(et *catalog.EntityType, payload map[string]any, op validation.Op) error {
	p := &preflight{engine: e, guard: recursion.NewGuard(e.maxDepth)}
	if err := p.walk(et, payload, op, et.Name); err != nil {
		return err
	}
	return p.errs.Err()
}

func (p *preflight) walk(et *catalog.EntityType, payload map[string]any, op validation.Op, path string) error {
	if err := p.guard.Enter(et.Name); err != nil {
		return located(err, path)
	}
	defer p.guard.Exit(et.Name)

	c := Classify(et, payload, op)
	values := make(map[string]any, len(c.Scalars)+len(c.ToOne))
	for k, v := range c.Scalars {
		values[k] = v
	}

	for _, name := range sortedKeys(c.ToOne) {
		f, _ := et.Field(name)
		v := c.ToOne[name]
		fp := fieldPath(path, name)
		if _, ok := v.(pendingRef); ok {
			values[name] = v
			continue
		}
		target, err := p.engine.describe(f.Target)
		if err != nil {
			return located(err, fp)
		}
		switch shape := shapeOf(v); shape {
		case shapeNull:
			values[name] = nil
		case shapeIdentifier:
			if err := checkID(target, v, fp); err != nil {
				return err
			}
			values[name] = pendingRef{}
		case shapeEmbedded:
			if !p.engine.nestedAllowed(et, f) {
				return nestedDisabled(et, f, fp)
			}
			if err := p.embedded(target, v.(map[string]any), nil, fp); err != nil {
				return err
			}
			values[name] = pendingRef{}
		default:
			return mutationerr.New(mutationerr.TypeMismatch, et.Name, f.Name,
				"%s expects an identifier, an embedded %s or null, got %s", f.Name, target.Name, shape).WithPath(fp)
		}
	}

	for _, name := range sortedKeys(c.ToMany) {
		f, _ := et.Field(name)
		if err := p.collection(et, f, c.ToMany[name], nil, fieldPath(path, name)); err != nil {
			return err
		}
	}
	for _, name := range sortedKeys(c.Reverse) {
		f, _ := et.Field(name)
		base := fieldPath(path, name)
		dep, err := p.engine.describe(f.Target)
		if err != nil {
			return located(err, base)
		}
		fk, ok := dep.Field(f.InverseOf)
		if !ok {
			return mutationerr.New(mutationerr.TypeMismatch, et.Name, f.Name,
				"%s.%s has no back-reference on %s", et.Name, f.Name, dep.Name).WithPath(base)
		}
		if err := p.collection(et, f, c.Reverse[name], fk, base); err != nil {
			return err
		}
	}

	_, errs := validation.Validate(et, values, op)
	p.errs.Merge(locateFields(errs, path))
	return nil
}

// collection checks a to-many value. fk is the back-reference injected
// into dependents of a reverse field and nil for many-to-many.
func (p *preflight) collection(owner *catalog.EntityType, f *catalog.Field, v any, fk *catalog.Field, base string) error {
	target, err := p.engine.describe(f.Target)
	if err != nil {
		return located(err, base)
	}
	allowed := p.engine.nestedAllowed(owner, f)

	switch shape := shapeOf(v); shape {
	case shapeNull:
		return nil
	case shapeList:
		items := asList(v)
		if !allowed && hasEmbedded(items) {
			return nestedDisabled(owner, f, base)
		}
		return p.items(owner, f, target, items, fk, base)
	case shapeOps:
		ops := parseOpMap(v.(map[string]any))
		if !allowed && (hasEmbedded(ops.Set) || hasEmbedded(ops.Create) || hasEmbedded(ops.Update)) {
			return nestedDisabled(owner, f, base)
		}
		if err := p.items(owner, f, target, ops.Set, fk, base+"."+opSet); err != nil {
			return err
		}
		for i, item := range ops.Create {
			ip := itemPath(base+"."+opCreate, i)
			m, err := createItem(owner, f, target, item, ip)
			if err != nil {
				return err
			}
			if err := p.walkInjected(target, m, validation.OpCreate, fk, ip); err != nil {
				return err
			}
		}
		for i, item := range ops.Update {
			ip := itemPath(base+"."+opUpdate, i)
			m, id, err := updateTarget(owner, f, target, item, ip)
			if err != nil {
				return err
			}
			if err := checkID(target, id, ip); err != nil {
				return err
			}
			if err := p.walkInjected(target, m, validation.OpUpdate, fk, ip); err != nil {
				return err
			}
		}
		for _, group := range []struct {
			name  string
			items []any
		}{{opConnect, ops.Connect}, {opDisconnect, ops.Disconnect}} {
			for i, item := range group.items {
				if err := checkRef(owner, f, target, item, itemPath(base+"."+group.name, i)); err != nil {
					return err
				}
			}
		}
		return nil
	default:
		return mutationerr.New(mutationerr.TypeMismatch, owner.Name, f.Name,
			"%s expects a list or an operation map, got %s", f.Name, shape).WithPath(base)
	}
}

// items checks a full list. A reverse list (fk set) may name each
// dependent once.
func (p *preflight) items(owner *catalog.EntityType, f *catalog.Field, target *catalog.EntityType, items []any, fk *catalog.Field, base string) error {
	seen := make(map[string]bool)
	for i, item := range items {
		ip := itemPath(base, i)
		var id any
		switch shape := shapeOf(item); shape {
		case shapeIdentifier:
			if err := checkID(target, item, ip); err != nil {
				return err
			}
			id = item
		case shapeEmbedded:
			m := item.(map[string]any)
			if err := p.embedded(target, m, fk, ip); err != nil {
				return err
			}
			id, _ = embeddedID(target, m)
		default:
			return mutationerr.New(mutationerr.TypeMismatch, owner.Name, f.Name,
				"%s items must be identifiers or embedded %s objects, got %s", f.Name, target.Name, shape).WithPath(ip)
		}
		if fk == nil || id == nil {
			continue
		}
		normalized, _ := validation.NormalizeID(target, id)
		key := validation.IDKey(normalized)
		if seen[key] {
			return mutationerr.New(mutationerr.TypeMismatch, owner.Name, f.Name,
				"%s %v appears more than once in %s", target.Name, normalized, f.Name).WithPath(ip)
		}
		seen[key] = true
	}
	return nil
}

func (p *preflight) embedded(target *catalog.EntityType, m map[string]any, fk *catalog.Field, path string) error {
	if id, ok := embeddedID(target, m); ok {
		if err := checkID(target, id, path); err != nil {
			return err
		}
		return p.walkInjected(target, m, validation.OpUpdate, fk, path)
	}
	return p.walkInjected(target, m, validation.OpCreate, fk, path)
}

func (p *preflight) walkInjected(target *catalog.EntityType, m map[string]any, op validation.Op, fk *catalog.Field, path string) error {
	if fk != nil {
		m = injected(m, fk.Name, pendingRef{})
	}
	return p.walk(target, m, op, path)
}

func checkID(et *catalog.EntityType, v any, path string) error {
	if _, err := validation.NormalizeID(et, v); err != nil {
		return mutationerr.New(mutationerr.TypeMismatch, et.Name, et.IDField,
			"invalid %s identifier: %v", et.Name, err).WithPath(path)
	}
	return nil
}

func checkRef(owner *catalog.EntityType, f *catalog.Field, target *catalog.EntityType, item any, path string) error {
	if m, ok := item.(map[string]any); ok {
		id, ok := embeddedID(target, m)
		if !ok {
			return mutationerr.New(mutationerr.TypeMismatch, owner.Name, f.Name,
				"%s reference must carry %s", f.Name, target.IDField).WithPath(path)
		}
		return checkID(target, id, path)
	}
	if shapeOf(item) != shapeIdentifier {
		return mutationerr.New(mutationerr.TypeMismatch, owner.Name, f.Name,
			"%s reference must be an identifier, got %s", f.Name, shapeOf(item)).WithPath(path)
	}
	return checkID(target, item, path)
}
