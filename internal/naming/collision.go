package naming

import (
	"fmt"
	"log/slog"
)

// CollisionResolver tracks registered field names per entity type and
// resolves collisions by applying numeric suffixes.
type CollisionResolver struct {
	seenFields map[string]map[string]string // entity name → field name → source
	logger     *slog.Logger
}

// NewCollisionResolver creates a new collision resolver.
func NewCollisionResolver(logger *slog.Logger) *CollisionResolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &CollisionResolver{
		seenFields: make(map[string]map[string]string),
		logger:     logger,
	}
}

// RegisterField registers a field name within an entity type and returns the
// resolved name. If a collision occurs, applies a numeric suffix and logs a warning.
func (c *CollisionResolver) RegisterField(entityName, fieldName, source string) string {
	if c.seenFields[entityName] == nil {
		c.seenFields[entityName] = make(map[string]string)
	}
	seen := c.seenFields[entityName]
	if _, exists := seen[fieldName]; !exists {
		seen[fieldName] = source
		return fieldName
	}

	c.logger.Warn("naming collision detected, applying suffix",
		slog.String("entity", entityName),
		slog.String("name", fieldName),
		slog.String("existing_source", seen[fieldName]),
		slog.String("new_source", source),
	)
	for i := 2; ; i++ {
		suffixed := fmt.Sprintf("%s%d", fieldName, i)
		if _, exists := seen[suffixed]; !exists {
			seen[suffixed] = source
			return suffixed
		}
	}
}

// FieldExists checks if a field name already exists for an entity type.
func (c *CollisionResolver) FieldExists(entityName, fieldName string) bool {
	if fields, ok := c.seenFields[entityName]; ok {
		_, exists := fields[fieldName]
		return exists
	}
	return false
}
