package naming

import (
	"log/slog"
	"strings"
	"unicode"
)

// Namer provides the name transformations used while building a catalog.
type Namer struct {
	config   Config
	logger   *slog.Logger
	resolver *CollisionResolver
}

// New creates a Namer with the given configuration
func New(cfg Config, logger *slog.Logger) *Namer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Namer{
		config:   cfg,
		logger:   logger,
		resolver: NewCollisionResolver(logger),
	}
}

// Default returns a Namer with default configuration
func Default() *Namer {
	return New(DefaultConfig(), nil)
}

// Reset clears the collision resolver state, allowing the namer to be reused
// for a new catalog build.
func (n *Namer) Reset() {
	n.resolver = NewCollisionResolver(n.logger)
}

// TableName derives a table name from an entity name.
// Example: "BlogPost" -> "blog_posts"
func (n *Namer) TableName(entityName string) string {
	return n.Pluralize(ToSnakeCase(entityName))
}

// ColumnName derives a storage column from a scalar field name.
// Example: "createdAt" -> "created_at"
func (n *Namer) ColumnName(fieldName string) string {
	return ToSnakeCase(fieldName)
}

// ForeignKeyColumn derives the storage column of a to-one field.
// Example: "author" -> "author_id"
func (n *Namer) ForeignKeyColumn(fieldName string) string {
	return ToSnakeCase(fieldName) + "_id"
}

// ReverseAccessorName generates the accessor name a target entity exposes for
// dependents pointing at it through a to-one field.
// If isOnlyFK is true (single to-one from source to target), uses the pluralized
// source name. Otherwise, prefixes with the to-one field name for disambiguation.
// Example: isOnlyFK=true: "Comment" -> "comments"
// Example: isOnlyFK=false, fkField="author": "Post" -> "authorPosts"
func (n *Namer) ReverseAccessorName(sourceEntity, fkField string, isOnlyFK bool) string {
	plural := n.Pluralize(lowerFirst(sourceEntity))
	if isOnlyFK {
		return plural
	}
	return fkField + upperFirst(plural)
}

// ManyToManyMirrorName generates the field name of the mirrored side of a
// many-to-many association.
// Example: "Post" -> "posts"
func (n *Namer) ManyToManyMirrorName(sourceEntity string) string {
	return n.Pluralize(lowerFirst(sourceEntity))
}

// RegisterDeclaredField records a field declared in the catalog source.
// Declared fields always win in precedence.
func (n *Namer) RegisterDeclaredField(entityName, fieldName string) string {
	return n.resolver.RegisterField(entityName, fieldName, "declared")
}

// RegisterComputedField registers a computed accessor and returns the resolved
// name. If it collides with an existing field, applies a "Rel" suffix first.
func (n *Namer) RegisterComputedField(entityName, fieldName, source string) string {
	if n.resolver.FieldExists(entityName, fieldName) {
		n.logger.Warn("computed accessor collides with declared field, auto-suffixed",
			slog.String("entity", entityName),
			slog.String("original", fieldName),
			slog.String("renamed", fieldName+"Rel"),
		)
		fieldName += "Rel"
	}
	return n.resolver.RegisterField(entityName, fieldName, source)
}

// FieldExists reports whether a name was registered for the entity.
func (n *Namer) FieldExists(entityName, fieldName string) bool {
	return n.resolver.FieldExists(entityName, fieldName)
}

// ToSnakeCase converts camelCase or PascalCase to snake_case.
// Example: "BlogPost" -> "blog_post", "HTTPStatus" -> "http_status"
func ToSnakeCase(s string) string {
	runes := []rune(s)
	var b strings.Builder
	for i, r := range runes {
		if unicode.IsUpper(r) {
			if i > 0 {
				prev := runes[i-1]
				nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
				if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
					b.WriteByte('_')
				}
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}

func upperFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
