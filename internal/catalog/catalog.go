package catalog

import (
	"errors"
	"fmt"
	"log/slog"

	"nestedgraph/internal/naming"
)

// ErrUnknownEntity is returned by Describe for names not in the catalog.
var ErrUnknownEntity = errors.New("unknown entity type")

// Dependent is a to-one relation on another entity type that targets a given type.
type Dependent struct {
	Entity *EntityType
	Field  *Field
}

// Catalog is an immutable, validated set of entity types.
type Catalog struct {
	entities   map[string]*EntityType
	order      []string
	dependents map[string][]Dependent
	settings   MutationSettings
}

// Option configures catalog construction.
type Option func(*buildOptions)

type buildOptions struct {
	namer    *naming.Namer
	logger   *slog.Logger
	settings MutationSettings
}

// WithNamer sets the namer used for derived table, column and accessor names.
func WithNamer(n *naming.Namer) Option {
	return func(o *buildOptions) { o.namer = n }
}

// WithLogger sets the logger used for naming warnings.
func WithLogger(l *slog.Logger) Option {
	return func(o *buildOptions) { o.logger = l }
}

// WithSettings attaches default mutation settings to the catalog.
func WithSettings(s MutationSettings) Option {
	return func(o *buildOptions) { o.settings = s }
}

// New validates the entity definitions, fills in derived names, and computes
// reverse accessors and mirrored many-to-many fields. It takes ownership of
// the definitions.
func New(entities []*EntityType, opts ...Option) (*Catalog, error) {
	o := buildOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.namer == nil {
		o.namer = naming.New(naming.DefaultConfig(), o.logger)
	}

	c := &Catalog{
		entities:   make(map[string]*EntityType, len(entities)),
		dependents: make(map[string][]Dependent),
		settings:   o.settings,
	}
	for _, et := range entities {
		if et == nil || et.Name == "" {
			return nil, errors.New("entity type without a name")
		}
		if _, dup := c.entities[et.Name]; dup {
			return nil, fmt.Errorf("duplicate entity type %q", et.Name)
		}
		c.entities[et.Name] = et
		c.order = append(c.order, et.Name)
	}

	b := &builder{catalog: c, namer: o.namer}
	for _, name := range c.order {
		if err := b.normalize(c.entities[name]); err != nil {
			return nil, err
		}
	}
	for _, name := range c.order {
		if err := b.checkRelations(c.entities[name]); err != nil {
			return nil, err
		}
	}
	for _, name := range c.order {
		if err := b.addReverseAccessors(c.entities[name]); err != nil {
			return nil, err
		}
	}
	for _, name := range c.order {
		if err := b.addManyToManyMirrors(c.entities[name]); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Describe returns the entity type with the given name.
func (c *Catalog) Describe(name string) (*EntityType, error) {
	et, ok := c.entities[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEntity, name)
	}
	return et, nil
}

// Entities returns the entity types in declaration order.
func (c *Catalog) Entities() []*EntityType {
	out := make([]*EntityType, 0, len(c.order))
	for _, name := range c.order {
		out = append(out, c.entities[name])
	}
	return out
}

// Dependents returns every to-one relation targeting the named entity type.
func (c *Catalog) Dependents(name string) []Dependent {
	return c.dependents[name]
}

// Settings returns the mutation settings the catalog was built with.
func (c *Catalog) Settings() MutationSettings {
	return c.settings
}

type builder struct {
	catalog *Catalog
	namer   *naming.Namer
}

func (b *builder) normalize(et *EntityType) error {
	if et.Table == "" {
		et.Table = b.namer.TableName(et.Name)
	}
	if et.IDField == "" {
		et.IDField = "id"
	}
	et.reindex()
	if len(et.index) != len(et.Fields) {
		return fmt.Errorf("entity %s: duplicate field names", et.Name)
	}
	if id, ok := et.index[et.IDField]; ok {
		if id.Kind != Scalar {
			return fmt.Errorf("entity %s: identifier field %q must be a scalar", et.Name, et.IDField)
		}
		if id.Type != TypeString {
			id.Type = TypeInt
		}
	} else {
		et.Fields = append([]*Field{{Name: et.IDField, Kind: Scalar, Type: TypeInt}}, et.Fields...)
		et.reindex()
	}
	id := et.index[et.IDField]
	id.Nullable = false
	id.Required = false

	for _, f := range et.Fields {
		if f.Name == "" {
			return fmt.Errorf("entity %s: field without a name", et.Name)
		}
		b.namer.RegisterDeclaredField(et.Name, f.Name)
		switch f.Kind {
		case Scalar:
			if f.Column == "" {
				f.Column = b.namer.ColumnName(f.Name)
			}
			if f.MinLength > 0 && f.MaxLength > 0 && f.MinLength > f.MaxLength {
				return fmt.Errorf("entity %s: field %s: min_length exceeds max_length", et.Name, f.Name)
			}
			if f.Min != nil && f.Max != nil && *f.Min > *f.Max {
				return fmt.Errorf("entity %s: field %s: min exceeds max", et.Name, f.Name)
			}
		case ToOne:
			f.Owning = true
			if f.Column == "" {
				f.Column = b.namer.ForeignKeyColumn(f.Name)
			}
		case ManyToMany:
			if f.InverseOf == "" {
				f.Owning = true
			}
		}
	}
	return nil
}

func (b *builder) checkRelations(et *EntityType) error {
	for _, f := range et.Fields {
		if !f.IsRelation() {
			continue
		}
		target, ok := b.catalog.entities[f.Target]
		if !ok {
			return fmt.Errorf("entity %s: field %s: %w: %q", et.Name, f.Name, ErrUnknownEntity, f.Target)
		}
		switch f.Kind {
		case ToOne:
			if f.OnDelete == SetNull && !f.Nullable {
				return fmt.Errorf("entity %s: field %s: SET_NULL requires a nullable relation", et.Name, f.Name)
			}
		case ToMany:
			// A declared to-many names the reverse accessor explicitly.
			inverse, ok := target.Field(f.InverseOf)
			if f.InverseOf == "" || !ok || inverse.Kind != ToOne || inverse.Target != et.Name {
				return fmt.Errorf("entity %s: field %s: to-many fields must name a to-one on %s that targets %s",
					et.Name, f.Name, target.Name, et.Name)
			}
			f.Owning = false
			inverse.ReverseName = f.Name
		case ManyToMany:
			if f.Owning {
				if f.Junction == nil {
					f.Junction = b.defaultJunction(et, f, target)
				}
			} else {
				inverse, ok := target.Field(f.InverseOf)
				if !ok || inverse.Kind != ManyToMany || !inverse.Owning || inverse.Target != et.Name {
					return fmt.Errorf("entity %s: field %s: inverse many-to-many %s.%s not found",
						et.Name, f.Name, target.Name, f.InverseOf)
				}
				if inverse.Junction == nil {
					inverse.Junction = b.defaultJunction(target, inverse, et)
				}
				if f.Junction == nil {
					swapped := inverse.Junction.Swapped()
					f.Junction = &swapped
				}
				inverse.ReverseName = f.Name
			}
		}
	}
	return nil
}

func (b *builder) defaultJunction(et *EntityType, f *Field, target *EntityType) *Junction {
	local := naming.ToSnakeCase(et.Name) + "_id"
	remote := naming.ToSnakeCase(target.Name) + "_id"
	if local == remote {
		remote = b.namer.ForeignKeyColumn(b.namer.Singularize(f.Name))
	}
	return &Junction{
		Table:        et.Table + "_" + naming.ToSnakeCase(f.Name),
		LocalColumn:  local,
		RemoteColumn: remote,
	}
}

func (b *builder) addReverseAccessors(dependent *EntityType) error {
	counts := make(map[string]int)
	for _, f := range dependent.Fields {
		if f.Kind == ToOne {
			counts[f.Target]++
		}
	}
	fields := append([]*Field(nil), dependent.Fields...)
	for _, f := range fields {
		if f.Kind != ToOne {
			continue
		}
		target := b.catalog.entities[f.Target]
		b.catalog.dependents[target.Name] = append(b.catalog.dependents[target.Name], Dependent{Entity: dependent, Field: f})

		if existing, ok := target.Field(f.ReverseName); ok {
			if existing.Kind == ToMany && existing.InverseOf == f.Name && existing.Target == dependent.Name {
				continue
			}
			return fmt.Errorf("entity %s: reverse accessor %q for %s.%s collides with an existing field",
				target.Name, f.ReverseName, dependent.Name, f.Name)
		}

		name := f.ReverseName
		if name == "" {
			name = b.namer.ReverseAccessorName(dependent.Name, f.Name, counts[f.Target] == 1)
		}
		name = b.namer.RegisterComputedField(target.Name, name, "reverse:"+dependent.Name+"."+f.Name)
		f.ReverseName = name
		target.addField(&Field{
			Name:      name,
			Kind:      ToMany,
			Target:    dependent.Name,
			Nullable:  true,
			InverseOf: f.Name,
		})
	}
	return nil
}

func (b *builder) addManyToManyMirrors(source *EntityType) error {
	fields := append([]*Field(nil), source.Fields...)
	for _, f := range fields {
		if f.Kind != ManyToMany || !f.Owning {
			continue
		}
		target := b.catalog.entities[f.Target]
		if hasMirror(target, source.Name, f.Name) {
			continue
		}
		name := f.ReverseName
		if name == "" {
			name = b.namer.ManyToManyMirrorName(source.Name)
		} else if b.namer.FieldExists(target.Name, name) {
			return fmt.Errorf("entity %s: mirrored accessor %q for %s.%s collides with an existing field",
				target.Name, name, source.Name, f.Name)
		}
		name = b.namer.RegisterComputedField(target.Name, name, "m2m:"+source.Name+"."+f.Name)
		f.ReverseName = name
		swapped := f.Junction.Swapped()
		target.addField(&Field{
			Name:      name,
			Kind:      ManyToMany,
			Target:    source.Name,
			Nullable:  true,
			InverseOf: f.Name,
			Junction:  &swapped,
		})
	}
	return nil
}

func hasMirror(target *EntityType, source, fieldName string) bool {
	for _, f := range target.Fields {
		if f.Kind == ManyToMany && !f.Owning && f.Target == source && f.InverseOf == fieldName {
			return true
		}
	}
	return false
}
