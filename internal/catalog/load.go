package catalog

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// File is the YAML shape of a catalog definition.
type File struct {
	Defaults struct {
		NestedAllowed *bool `yaml:"nested_allowed"`
	} `yaml:"defaults"`
	Entities []EntityFile `yaml:"entities"`
}

// EntityFile is one entity in a catalog file.
type EntityFile struct {
	Name          string      `yaml:"name"`
	Table         string      `yaml:"table"`
	ID            string      `yaml:"id"`
	IDType        string      `yaml:"id_type"`
	NestedAllowed *bool       `yaml:"nested_allowed"`
	Fields        []FieldFile `yaml:"fields"`
}

// FieldFile is one field in a catalog file.
type FieldFile struct {
	Name          string   `yaml:"name"`
	Kind          string   `yaml:"kind"`
	Type          string   `yaml:"type"`
	Column        string   `yaml:"column"`
	Target        string   `yaml:"target"`
	Nullable      bool     `yaml:"nullable"`
	InverseOf     string   `yaml:"inverse_of"`
	ReverseName   string   `yaml:"reverse_name"`
	OnDelete      string   `yaml:"on_delete"`
	NestedAllowed *bool    `yaml:"nested_allowed"`
	Required      bool     `yaml:"required"`
	Default       any      `yaml:"default"`
	MinLength     int      `yaml:"min_length"`
	MaxLength     int      `yaml:"max_length"`
	Min           *float64 `yaml:"min"`
	Max           *float64 `yaml:"max"`
	Choices       []string `yaml:"choices"`
	Junction      *struct {
		Table        string `yaml:"table"`
		LocalColumn  string `yaml:"local_column"`
		RemoteColumn string `yaml:"remote_column"`
	} `yaml:"junction"`
}

// LoadFile reads and builds a catalog from a YAML file.
func LoadFile(path string, opts ...Option) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog file: %w", err)
	}
	cat, err := Load(bytes.NewReader(data), opts...)
	if err != nil {
		return nil, fmt.Errorf("catalog file %s: %w", path, err)
	}
	return cat, nil
}

// Load decodes and builds a catalog from YAML. Settings declared in the file
// take precedence over a WithSettings option.
func Load(r io.Reader, opts ...Option) (*Catalog, error) {
	var file File
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	entities, settings, err := file.build()
	if err != nil {
		return nil, err
	}
	return New(entities, append(opts, WithSettings(settings))...)
}

func (f File) build() ([]*EntityType, MutationSettings, error) {
	var settings MutationSettings
	if f.Defaults.NestedAllowed != nil {
		settings.DisableNestedByDefault = !*f.Defaults.NestedAllowed
	}

	entities := make([]*EntityType, 0, len(f.Entities))
	for _, ef := range f.Entities {
		et := &EntityType{Name: ef.Name, Table: ef.Table, IDField: ef.ID}
		if ef.NestedAllowed != nil {
			settings.AllowEntity(ef.Name, *ef.NestedAllowed)
		}
		idName := ef.ID
		if idName == "" {
			idName = "id"
		}
		hasID := false
		for _, ff := range ef.Fields {
			field, err := ff.build()
			if err != nil {
				return nil, settings, fmt.Errorf("entity %s: field %s: %w", ef.Name, ff.Name, err)
			}
			if field.Name == idName {
				hasID = true
			}
			if ff.NestedAllowed != nil {
				settings.AllowField(ef.Name, ff.Name, *ff.NestedAllowed)
			}
			et.Fields = append(et.Fields, field)
		}
		if !hasID && ef.IDType != "" {
			idType, err := ParseScalarType(ef.IDType)
			if err != nil {
				return nil, settings, fmt.Errorf("entity %s: id_type: %w", ef.Name, err)
			}
			id := &Field{Name: idName, Kind: Scalar, Type: idType}
			et.Fields = append([]*Field{id}, et.Fields...)
		}
		entities = append(entities, et)
	}
	return entities, settings, nil
}

func (ff FieldFile) build() (*Field, error) {
	kind, err := ParseFieldKind(ff.Kind)
	if err != nil {
		return nil, err
	}
	scalarType, err := ParseScalarType(ff.Type)
	if err != nil {
		return nil, err
	}
	onDelete, err := ParseDeleteAction(ff.OnDelete)
	if err != nil {
		return nil, err
	}
	field := &Field{
		Name:        ff.Name,
		Kind:        kind,
		Type:        scalarType,
		Column:      ff.Column,
		Target:      ff.Target,
		Nullable:    ff.Nullable,
		InverseOf:   ff.InverseOf,
		ReverseName: ff.ReverseName,
		OnDelete:    onDelete,
		Required:    ff.Required,
		HasDefault:  ff.Default != nil,
		Default:     ff.Default,
		MinLength:   ff.MinLength,
		MaxLength:   ff.MaxLength,
		Min:         ff.Min,
		Max:         ff.Max,
		Choices:     ff.Choices,
	}
	if ff.Junction != nil {
		field.Junction = &Junction{
			Table:        ff.Junction.Table,
			LocalColumn:  ff.Junction.LocalColumn,
			RemoteColumn: ff.Junction.RemoteColumn,
		}
	}
	return field, nil
}
