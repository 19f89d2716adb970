package mutation

import (
	"sort"

	"nestedgraph/internal/catalog"
	"nestedgraph/internal/validation"
)

// Classified partitions a payload by field kind. Reverse holds to-many
// accessors whose foreign key lives on the dependent; ToMany holds
// many-to-many fields.
type Classified struct {
	Scalars map[string]any
	ToOne   map[string]any
	ToMany  map[string]any
	Reverse map[string]any
	// Opaque lists keys that name no declared field. They stay in Scalars.
	Opaque []string
}

// Classify splits payload against et. Unknown keys are kept as scalars and
// reported in Opaque. On update the identifier is dropped from Scalars.
func Classify(et *catalog.EntityType, payload map[string]any, op validation.Op) Classified {
	c := Classified{
		Scalars: make(map[string]any),
		ToOne:   make(map[string]any),
		ToMany:  make(map[string]any),
		Reverse: make(map[string]any),
	}
	for _, key := range sortedKeys(payload) {
		v := payload[key]
		f, ok := et.Field(key)
		if !ok {
			c.Scalars[key] = v
			c.Opaque = append(c.Opaque, key)
			continue
		}
		switch f.Kind {
		case catalog.ToOne:
			c.ToOne[key] = v
		case catalog.ManyToMany:
			c.ToMany[key] = v
		case catalog.ToMany:
			c.Reverse[key] = v
		default:
			if op == validation.OpUpdate && key == et.IDField {
				continue
			}
			c.Scalars[key] = v
		}
	}
	return c
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
