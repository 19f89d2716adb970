package mutationerr

import (
	"errors"
	"strings"
)

// List aggregates validation failures that are reported together.
type List []*Error

// Add appends err, ignoring nil.
func (l *List) Add(err *Error) {
	if err != nil {
		*l = append(*l, err)
	}
}

// Merge appends every entry of other.
func (l *List) Merge(other List) {
	*l = append(*l, other...)
}

// Err returns nil for an empty list and the list itself otherwise.
func (l List) Err() error {
	if len(l) == 0 {
		return nil
	}
	return l
}

func (l List) Error() string {
	switch len(l) {
	case 0:
		return "no errors"
	case 1:
		return l[0].Error()
	}
	parts := make([]string, 0, len(l))
	for _, e := range l {
		parts = append(parts, e.Error())
	}
	return "multiple mutation errors: " + strings.Join(parts, "; ")
}

func (l List) Unwrap() []error {
	out := make([]error, len(l))
	for i, e := range l {
		out[i] = e
	}
	return out
}

// WithPath locates every entry that has no path yet.
func (l List) WithPath(path string) List {
	out := make(List, len(l))
	for i, e := range l {
		out[i] = e.WithPath(path)
	}
	return out
}

// Flatten returns every *Error contained in err: a List, a single *Error, or
// any wrapper around them.
func Flatten(err error) []*Error {
	if err == nil {
		return nil
	}
	var list List
	if errors.As(err, &list) {
		return list
	}
	var me *Error
	if errors.As(err, &me) {
		return []*Error{me}
	}
	return nil
}
