// Package mutationerr defines the tagged error taxonomy returned by nested
// mutations and cascade deletes.
package mutationerr

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a mutation failure.
type Kind int

const (
	KindUnknown Kind = iota
	MissingRequiredField
	TypeMismatch
	ConstraintViolation
	UnresolvedReference
	CircularReference
	DepthExceeded
	NestedDisabled
	ProtectedDeletion
)

var kindNames = map[Kind]string{
	KindUnknown:          "Unknown",
	MissingRequiredField: "MissingRequiredField",
	TypeMismatch:         "TypeMismatch",
	ConstraintViolation:  "ConstraintViolation",
	UnresolvedReference:  "UnresolvedReference",
	CircularReference:    "CircularReference",
	DepthExceeded:        "DepthExceeded",
	NestedDisabled:       "NestedDisabled",
	ProtectedDeletion:    "ProtectedDeletion",
}

var kindCodes = map[Kind]string{
	KindUnknown:          "internal",
	MissingRequiredField: "missing_required_field",
	TypeMismatch:         "type_mismatch",
	ConstraintViolation:  "constraint_violation",
	UnresolvedReference:  "unresolved_reference",
	CircularReference:    "circular_reference",
	DepthExceeded:        "depth_exceeded",
	NestedDisabled:       "nested_disabled",
	ProtectedDeletion:    "protected_deletion",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Code returns the snake_case code used in error payloads and metrics.
func (k Kind) Code() string {
	if code, ok := kindCodes[k]; ok {
		return code
	}
	return kindCodes[KindUnknown]
}

// Structural reports whether failures of this kind abort the operation
// immediately instead of being batched with field validation errors.
func (k Kind) Structural() bool {
	switch k {
	case MissingRequiredField, ConstraintViolation:
		return false
	default:
		return true
	}
}

// Error is a single mutation failure tagged with its kind and location.
type Error struct {
	Kind    Kind
	Entity  string
	Field   string
	Path    string
	Message string
	// Cause is the underlying store error, when there is one.
	Cause error
}

// New builds an Error with a formatted message.
func New(kind Kind, entity, field, format string, args ...any) *Error {
	return &Error{
		Kind:    kind,
		Entity:  entity,
		Field:   field,
		Message: fmt.Sprintf(format, args...),
	}
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if loc := e.Location(); loc != "" {
		b.WriteString(" at ")
		b.WriteString(loc)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	return b.String()
}

// Location returns the path if set, otherwise Entity.Field.
func (e *Error) Location() string {
	if e.Path != "" {
		return e.Path
	}
	switch {
	case e.Entity != "" && e.Field != "":
		return e.Entity + "." + e.Field
	default:
		return e.Entity
	}
}

// Code returns the payload code for the error kind.
func (e *Error) Code() string {
	return e.Kind.Code()
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches another *Error by kind, which makes the sentinel values usable
// with errors.Is.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return other.Entity == "" && other.Field == "" && other.Message == "" && other.Kind == e.Kind
}

// Extensions returns structured details for transport payloads.
func (e *Error) Extensions() map[string]interface{} {
	extensions := map[string]interface{}{
		"code": e.Code(),
		"kind": e.Kind.String(),
	}
	if e.Entity != "" {
		extensions["entity"] = e.Entity
	}
	if e.Field != "" {
		extensions["field"] = e.Field
	}
	if path := e.Location(); path != "" {
		extensions["path"] = path
	}
	return extensions
}

// WithPath returns a copy of e located at path, unless a path is already set.
func (e *Error) WithPath(path string) *Error {
	if e.Path != "" || path == "" {
		return e
	}
	cp := *e
	cp.Path = path
	return &cp
}

// Sentinels for errors.Is checks.
var (
	ErrMissingRequiredField = &Error{Kind: MissingRequiredField}
	ErrTypeMismatch         = &Error{Kind: TypeMismatch}
	ErrConstraintViolation  = &Error{Kind: ConstraintViolation}
	ErrUnresolvedReference  = &Error{Kind: UnresolvedReference}
	ErrCircularReference    = &Error{Kind: CircularReference}
	ErrDepthExceeded        = &Error{Kind: DepthExceeded}
	ErrNestedDisabled       = &Error{Kind: NestedDisabled}
	ErrProtectedDeletion    = &Error{Kind: ProtectedDeletion}
)

// KindOf returns the kind of the first *Error found in err's chain.
func KindOf(err error) Kind {
	var me *Error
	if errors.As(err, &me) {
		return me.Kind
	}
	return KindUnknown
}
