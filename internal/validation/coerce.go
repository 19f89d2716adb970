package validation

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"

	"nestedgraph/internal/catalog"
)

// Coerce converts v to the canonical Go representation of t:
// string, int64, float64, bool, time.Time, or the value itself for json/any.
func Coerce(t catalog.ScalarType, v any) (any, error) {
	switch t {
	case catalog.TypeString:
		switch x := v.(type) {
		case string:
			return x, nil
		case []byte:
			return string(x), nil
		}
	case catalog.TypeInt:
		return toInt(v)
	case catalog.TypeFloat:
		return toFloat(v)
	case catalog.TypeBool:
		switch x := v.(type) {
		case bool:
			return x, nil
		case int64:
			return x != 0, nil
		}
	case catalog.TypeTime:
		switch x := v.(type) {
		case time.Time:
			return x, nil
		case string:
			parsed, err := time.Parse(time.RFC3339Nano, x)
			if err != nil {
				return nil, fmt.Errorf("expected RFC 3339 timestamp")
			}
			return parsed, nil
		}
	default:
		return v, nil
	}
	return nil, fmt.Errorf("expected %s, got %T", t, v)
}

func toInt(v any) (any, error) {
	switch x := v.(type) {
	case int:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case int64:
		return x, nil
	case uint32:
		return int64(x), nil
	case uint64:
		if x > math.MaxInt64 {
			return nil, fmt.Errorf("integer out of range")
		}
		return int64(x), nil
	case float64:
		if x != math.Trunc(x) || math.IsInf(x, 0) || math.IsNaN(x) {
			return nil, fmt.Errorf("expected int, got fractional number")
		}
		return int64(x), nil
	case json.Number:
		n, err := x.Int64()
		if err != nil {
			return nil, fmt.Errorf("expected int, got %q", x.String())
		}
		return n, nil
	}
	return nil, fmt.Errorf("expected int, got %T", v)
}

func toFloat(v any) (any, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return nil, fmt.Errorf("expected float, got %q", x.String())
		}
		return f, nil
	}
	return nil, fmt.Errorf("expected float, got %T", v)
}

// NormalizeID coerces an identifier to the type of the entity's id field.
// Numeric strings are accepted for integer identifiers.
func NormalizeID(et *catalog.EntityType, v any) (any, error) {
	id := et.ID()
	if id == nil {
		return v, nil
	}
	if id.Type == catalog.TypeInt {
		if s, ok := v.(string); ok {
			n, err := strconv.ParseInt(s, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("expected integer identifier, got %q", s)
			}
			return n, nil
		}
	}
	if id.Type == catalog.TypeString {
		switch x := v.(type) {
		case int64, int, float64, json.Number:
			return fmt.Sprint(x), nil
		}
	}
	return Coerce(id.Type, v)
}

// IDKey renders a normalized identifier as a map key.
func IDKey(v any) string {
	return fmt.Sprint(v)
}
