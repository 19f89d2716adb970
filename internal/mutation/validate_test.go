package mutation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nestedgraph/internal/mutationerr"
	"nestedgraph/internal/validation"
)

func TestValidateNestedData(t *testing.T) {
	h := newHarness(t)

	tests := []struct {
		name    string
		entity  string
		payload map[string]any
		op      validation.Op
		kinds   []mutationerr.Kind
		paths   []string
	}{
		{
			name:   "valid nested payload",
			entity: "Post",
			payload: map[string]any{
				"title":  "Fine",
				"author": map[string]any{"name": "ada"},
				"likes":  []any{map[string]any{}},
			},
			op: validation.OpCreate,
		},
		{
			name:    "field violations are collected",
			entity:  "Meetup",
			payload: map[string]any{"startsAt": "yesterday"},
			op:      validation.OpCreate,
			kinds:   []mutationerr.Kind{mutationerr.MissingRequiredField, mutationerr.TypeMismatch},
			paths:   []string{"Meetup.name", "Meetup.startsAt"},
		},
		{
			name:   "structural error is reported alone",
			entity: "Category",
			payload: map[string]any{
				"parent": map[string]any{"parent": map[string]any{}},
			},
			op:    validation.OpCreate,
			kinds: []mutationerr.Kind{mutationerr.CircularReference},
			paths: []string{"Category.parent"},
		},
		{
			name:    "update only checks provided fields",
			entity:  "Post",
			payload: map[string]any{"rating": -1},
			op:      validation.OpUpdate,
			kinds:   []mutationerr.Kind{mutationerr.ConstraintViolation},
			paths:   []string{"Post.rating"},
		},
		{
			name:    "unknown entity",
			entity:  "Ghost",
			payload: map[string]any{},
			op:      validation.OpCreate,
			kinds:   []mutationerr.Kind{mutationerr.UnresolvedReference},
			paths:   []string{""},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := h.engine.ValidateNestedData(context.Background(), tt.entity, tt.payload, tt.op)
			require.Len(t, errs, len(tt.kinds))

			var kinds []mutationerr.Kind
			var paths []string
			for _, e := range errs {
				kinds = append(kinds, e.Kind)
				paths = append(paths, e.Path)
			}
			assert.ElementsMatch(t, tt.kinds, kinds)
			assert.ElementsMatch(t, tt.paths, paths)
		})
	}

	for _, entity := range []string{"Post", "User", "Like", "Meetup", "Category"} {
		assert.Equal(t, 0, h.store.Count(entity))
	}
	assert.Empty(t, h.observed.all())
}

func TestValidateNestedData_InjectedBackReferenceCountsAsPresent(t *testing.T) {
	h := newHarness(t)

	errs := h.engine.ValidateNestedData(context.Background(), "User", map[string]any{
		"name":  "ada",
		"posts": []any{map[string]any{"title": "Mine"}},
	}, validation.OpCreate)
	assert.Empty(t, errs)
}
