package sqlstore

import (
	"fmt"
	"strconv"
	"time"

	"nestedgraph/internal/catalog"
	"nestedgraph/internal/dbexec"
	"nestedgraph/internal/store"
)

func (t *Tx) scanEntities(rows dbexec.Rows, et *catalog.EntityType) ([]*store.Entity, error) {
	defer rows.Close()

	fields := et.StoredFields()
	var out []*store.Entity
	for rows.Next() {
		raw := make([]any, len(fields))
		dest := make([]any, len(fields))
		for i := range raw {
			dest[i] = &raw[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan %s: %w", et.Table, err)
		}
		values := make(map[string]any, len(fields))
		for i, f := range fields {
			v, err := t.convertValue(f, raw[i])
			if err != nil {
				return nil, fmt.Errorf("scan %s.%s: %w", et.Table, f.Column, err)
			}
			values[f.Name] = v
		}
		out = append(out, &store.Entity{Type: et.Name, ID: values[et.IDField], Values: values})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// convertValue maps driver values back to the canonical representation of
// the field's type.
func (t *Tx) convertValue(f *catalog.Field, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	typ := f.Type
	if f.Kind == catalog.ToOne {
		target, err := t.store.catalog.Describe(f.Target)
		if err != nil {
			return nil, err
		}
		typ = target.ID().Type
	}

	if b, ok := v.([]byte); ok {
		v = string(b)
	}
	switch typ {
	case catalog.TypeInt:
		switch x := v.(type) {
		case int64:
			return x, nil
		case int32:
			return int64(x), nil
		case int:
			return int64(x), nil
		case uint64:
			return int64(x), nil
		case float64:
			return int64(x), nil
		case string:
			return strconv.ParseInt(x, 10, 64)
		}
	case catalog.TypeFloat:
		switch x := v.(type) {
		case float64:
			return x, nil
		case float32:
			return float64(x), nil
		case int64:
			return float64(x), nil
		case string:
			return strconv.ParseFloat(x, 64)
		}
	case catalog.TypeBool:
		switch x := v.(type) {
		case bool:
			return x, nil
		case int64:
			return x != 0, nil
		case string:
			return strconv.ParseBool(x)
		}
	case catalog.TypeTime:
		switch x := v.(type) {
		case time.Time:
			return x, nil
		case string:
			for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05.999999999-07:00", "2006-01-02 15:04:05"} {
				if parsed, err := time.Parse(layout, x); err == nil {
					return parsed, nil
				}
			}
			return nil, fmt.Errorf("unrecognized timestamp %q", x)
		}
	case catalog.TypeString:
		switch x := v.(type) {
		case string:
			return x, nil
		case time.Time:
			return x.Format(time.RFC3339Nano), nil
		default:
			return fmt.Sprint(x), nil
		}
	default:
		return v, nil
	}
	return nil, fmt.Errorf("cannot convert %T to %s", v, typ)
}
