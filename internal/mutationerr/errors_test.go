package mutationerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorMessageAndLocation(t *testing.T) {
	err := New(UnresolvedReference, "Post", "category", "Category %v not found", 7)
	assert.Equal(t, "UnresolvedReference at Post.category: Category 7 not found", err.Error())

	located := err.WithPath("Post.comments[1].category")
	assert.Equal(t, "Post.comments[1].category", located.Location())
	assert.Empty(t, err.Path, "WithPath must not mutate the original")

	again := located.WithPath("other")
	assert.Equal(t, "Post.comments[1].category", again.Path)
}

func TestErrorsIsMatchesKindSentinel(t *testing.T) {
	err := fmt.Errorf("create Post: %w", New(CircularReference, "Post", "", "cycle"))

	assert.True(t, errors.Is(err, ErrCircularReference))
	assert.False(t, errors.Is(err, ErrDepthExceeded))
	assert.Equal(t, CircularReference, KindOf(err))
	assert.Equal(t, KindUnknown, KindOf(errors.New("plain")))
}

func TestErrorUnwrapsCause(t *testing.T) {
	cause := errors.New("duplicate entry")
	err := &Error{Kind: ConstraintViolation, Entity: "Tag", Message: "unique", Cause: cause}

	assert.ErrorIs(t, err, cause)
}

func TestExtensions(t *testing.T) {
	err := New(NestedDisabled, "Post", "category", "nested objects are disabled")
	ext := err.WithPath("Post.category").Extensions()

	assert.Equal(t, "nested_disabled", ext["code"])
	assert.Equal(t, "NestedDisabled", ext["kind"])
	assert.Equal(t, "Post", ext["entity"])
	assert.Equal(t, "category", ext["field"])
	assert.Equal(t, "Post.category", ext["path"])

	ext = New(MissingRequiredField, "Post", "title", "title is required").Extensions()
	assert.Equal(t, "Post.title", ext["path"], "path falls back to the field location")

	ext = (&Error{Kind: UnresolvedReference}).Extensions()
	_, hasPath := ext["path"]
	assert.False(t, hasPath)
}

func TestStructuralKinds(t *testing.T) {
	assert.False(t, MissingRequiredField.Structural())
	assert.False(t, ConstraintViolation.Structural())
	for _, k := range []Kind{TypeMismatch, UnresolvedReference, CircularReference, DepthExceeded, NestedDisabled, ProtectedDeletion} {
		assert.True(t, k.Structural(), k.String())
	}
}

func TestList(t *testing.T) {
	var list List
	require.NoError(t, list.Err())

	list.Add(New(MissingRequiredField, "Post", "title", "required"))
	list.Add(nil)
	list.Add(New(MissingRequiredField, "Post", "body", "required"))
	require.Len(t, list, 2)

	err := list.Err()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMissingRequiredField))
	assert.Contains(t, err.Error(), "multiple mutation errors")

	flat := Flatten(fmt.Errorf("wrapped: %w", err))
	assert.Len(t, flat, 2)

	single := Flatten(New(DepthExceeded, "Post", "", "too deep"))
	require.Len(t, single, 1)
	assert.Equal(t, DepthExceeded, single[0].Kind)

	assert.Nil(t, Flatten(errors.New("other")))
}
