// Package catalog describes the entity types a nested mutation can touch:
// their scalar fields, their relations, and the reverse accessors computed
// from forward to-one relations.
package catalog

import (
	"fmt"
	"strings"
)

// FieldKind is the structural kind of a field.
type FieldKind int

const (
	Scalar FieldKind = iota
	ToOne
	ToMany
	ManyToMany
)

func (k FieldKind) String() string {
	switch k {
	case Scalar:
		return "scalar"
	case ToOne:
		return "to_one"
	case ToMany:
		return "to_many"
	case ManyToMany:
		return "many_to_many"
	default:
		return fmt.Sprintf("FieldKind(%d)", int(k))
	}
}

// ParseFieldKind parses the textual form used in catalog files.
func ParseFieldKind(s string) (FieldKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "scalar":
		return Scalar, nil
	case "to_one", "belongs_to", "foreign_key":
		return ToOne, nil
	case "to_many", "has_many":
		return ToMany, nil
	case "many_to_many", "m2m":
		return ManyToMany, nil
	default:
		return Scalar, fmt.Errorf("unknown field kind %q", s)
	}
}

// ScalarType is the value type of a scalar field.
type ScalarType int

const (
	TypeAny ScalarType = iota
	TypeString
	TypeInt
	TypeFloat
	TypeBool
	TypeTime
	TypeJSON
)

func (t ScalarType) String() string {
	switch t {
	case TypeString:
		return "string"
	case TypeInt:
		return "int"
	case TypeFloat:
		return "float"
	case TypeBool:
		return "bool"
	case TypeTime:
		return "time"
	case TypeJSON:
		return "json"
	default:
		return "any"
	}
}

// ParseScalarType parses the textual form used in catalog files.
func ParseScalarType(s string) (ScalarType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "any":
		return TypeAny, nil
	case "string", "text", "varchar":
		return TypeString, nil
	case "int", "integer", "bigint":
		return TypeInt, nil
	case "float", "double", "decimal", "number":
		return TypeFloat, nil
	case "bool", "boolean":
		return TypeBool, nil
	case "time", "timestamp", "datetime":
		return TypeTime, nil
	case "json":
		return TypeJSON, nil
	default:
		return TypeAny, fmt.Errorf("unknown scalar type %q", s)
	}
}

// DeleteAction is the behavior applied to dependents when their target is deleted.
type DeleteAction string

const (
	Cascade    DeleteAction = "CASCADE"
	Protect    DeleteAction = "PROTECT"
	SetNull    DeleteAction = "SET_NULL"
	SetDefault DeleteAction = "SET_DEFAULT"
)

// ParseDeleteAction parses CASCADE, PROTECT, SET_NULL or SET_DEFAULT in any case.
// The empty string parses to the empty action, meaning "not configured".
func ParseDeleteAction(s string) (DeleteAction, error) {
	normalized := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), " ", "_"))
	switch DeleteAction(normalized) {
	case "":
		return "", nil
	case Cascade, Protect, SetNull, SetDefault:
		return DeleteAction(normalized), nil
	case "RESTRICT":
		return Protect, nil
	default:
		return "", fmt.Errorf("unknown delete action %q", s)
	}
}

// Junction describes the association table behind a many-to-many field.
// LocalColumn references the entity declaring the field.
type Junction struct {
	Table        string
	LocalColumn  string
	RemoteColumn string
}

// Swapped returns the junction seen from the other side.
func (j Junction) Swapped() Junction {
	return Junction{Table: j.Table, LocalColumn: j.RemoteColumn, RemoteColumn: j.LocalColumn}
}

// Field is one attribute or relation of an entity type.
type Field struct {
	Name   string
	Kind   FieldKind
	Type   ScalarType
	Column string

	// Relation metadata.
	Target   string
	Nullable bool
	Owning   bool
	// InverseOf names the field on Target this field mirrors. Set on reverse
	// accessors (the dependent's to-one) and on mirrored many-to-many fields.
	InverseOf string
	// ReverseName overrides the computed accessor name on Target.
	ReverseName string
	OnDelete    DeleteAction
	Junction    *Junction

	// Constraints.
	Required   bool
	HasDefault bool
	Default    any
	MinLength  int
	MaxLength  int
	Min        *float64
	Max        *float64
	Choices    []string
}

// IsRelation reports whether the field references another entity type.
func (f *Field) IsRelation() bool {
	return f.Kind != Scalar
}

// IsReverse reports whether the field is a computed reverse accessor.
func (f *Field) IsReverse() bool {
	return f.Kind == ToMany && !f.Owning
}

// Stored reports whether the field maps to a column on the entity's own table.
func (f *Field) Stored() bool {
	return f.Kind == Scalar || f.Kind == ToOne
}

// EntityType is a named record type in the catalog.
type EntityType struct {
	Name    string
	Table   string
	IDField string
	Fields  []*Field

	index map[string]*Field
}

// Field returns the field with the given name.
func (e *EntityType) Field(name string) (*Field, bool) {
	if e.index == nil {
		e.reindex()
	}
	f, ok := e.index[name]
	return f, ok
}

// ID returns the identifier field.
func (e *EntityType) ID() *Field {
	f, _ := e.Field(e.IDField)
	return f
}

// GeneratedID reports whether identifiers are assigned by the store.
func (e *EntityType) GeneratedID() bool {
	id := e.ID()
	return id != nil && id.Type == TypeInt
}

// StoredFields returns scalar and to-one fields in declaration order.
func (e *EntityType) StoredFields() []*Field {
	out := make([]*Field, 0, len(e.Fields))
	for _, f := range e.Fields {
		if f.Stored() {
			out = append(out, f)
		}
	}
	return out
}

// FieldsOfKind returns the fields of the given kind in declaration order.
func (e *EntityType) FieldsOfKind(kind FieldKind) []*Field {
	var out []*Field
	for _, f := range e.Fields {
		if f.Kind == kind {
			out = append(out, f)
		}
	}
	return out
}

func (e *EntityType) reindex() {
	e.index = make(map[string]*Field, len(e.Fields))
	for _, f := range e.Fields {
		e.index[f.Name] = f
	}
}

func (e *EntityType) addField(f *Field) {
	e.Fields = append(e.Fields, f)
	if e.index == nil {
		e.reindex()
		return
	}
	e.index[f.Name] = f
}
