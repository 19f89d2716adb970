package mutation

import (
	"encoding/json"
	"fmt"

	"nestedgraph/internal/catalog"
)

type valueShape int

const (
	shapeInvalid valueShape = iota
	shapeNull
	shapeIdentifier
	shapeEmbedded
	shapeList
	shapeOps
)

func (s valueShape) String() string {
	switch s {
	case shapeNull:
		return "null"
	case shapeIdentifier:
		return "identifier"
	case shapeEmbedded:
		return "embedded object"
	case shapeList:
		return "list"
	case shapeOps:
		return "operation map"
	default:
		return "unsupported value"
	}
}

const (
	opSet        = "set"
	opCreate     = "create"
	opConnect    = "connect"
	opUpdate     = "update"
	opDisconnect = "disconnect"
)

var opKeys = map[string]bool{
	opSet:        true,
	opCreate:     true,
	opConnect:    true,
	opUpdate:     true,
	opDisconnect: true,
}

func shapeOf(v any) valueShape {
	switch x := v.(type) {
	case nil:
		return shapeNull
	case string, int, int32, int64, uint32, uint64, float64, json.Number:
		return shapeIdentifier
	case map[string]any:
		if isOpMap(x) {
			return shapeOps
		}
		return shapeEmbedded
	case []any, []map[string]any:
		return shapeList
	default:
		return shapeInvalid
	}
}

// isOpMap reports whether every key of m is an operation keyword. A map
// mixing operation keys with fields is an embedded object.
func isOpMap(m map[string]any) bool {
	if len(m) == 0 {
		return false
	}
	for k := range m {
		if !opKeys[k] {
			return false
		}
	}
	return true
}

// asList normalizes a list-shaped value. A single non-list value becomes a
// one-item list and null becomes an empty list.
func asList(v any) []any {
	switch x := v.(type) {
	case nil:
		return nil
	case []any:
		return x
	case []map[string]any:
		out := make([]any, len(x))
		for i, m := range x {
			out[i] = m
		}
		return out
	default:
		return []any{x}
	}
}

// opMap is a parsed operation map.
type opMap struct {
	Set        []any
	HasSet     bool
	Create     []any
	Connect    []any
	Update     []any
	Disconnect []any
}

func parseOpMap(m map[string]any) opMap {
	var ops opMap
	if v, ok := m[opSet]; ok {
		ops.HasSet = true
		ops.Set = asList(v)
	}
	ops.Create = asList(m[opCreate])
	ops.Connect = asList(m[opConnect])
	ops.Update = asList(m[opUpdate])
	ops.Disconnect = asList(m[opDisconnect])
	return ops
}

// embeddedID returns the identifier carried by an embedded object.
func embeddedID(et *catalog.EntityType, m map[string]any) (any, bool) {
	id, ok := m[et.IDField]
	if !ok || id == nil {
		return nil, false
	}
	return id, true
}

// hasEmbedded reports whether any item in items is an object.
func hasEmbedded(items []any) bool {
	for _, item := range items {
		if _, ok := item.(map[string]any); ok {
			return true
		}
	}
	return false
}

// injected copies item with field set to value. The injected value always
// wins over the item's own.
func injected(item map[string]any, field string, value any) map[string]any {
	out := make(map[string]any, len(item)+1)
	for k, v := range item {
		out[k] = v
	}
	out[field] = value
	return out
}

func fieldPath(path, field string) string {
	return path + "." + field
}

func itemPath(base string, i int) string {
	return fmt.Sprintf("%s[%d]", base, i)
}
