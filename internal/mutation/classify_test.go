package mutation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nestedgraph/internal/catalog"
	"nestedgraph/internal/validation"
)

func TestClassify(t *testing.T) {
	cat, err := catalog.New(blogEntities())
	require.NoError(t, err)
	post, err := cat.Describe("Post")
	require.NoError(t, err)

	payload := map[string]any{
		"id":       7,
		"title":    "Hello",
		"author":   1,
		"tags":     []any{1},
		"comments": []any{},
		"zeta":     true,
		"alpha":    "x",
	}

	c := Classify(post, payload, validation.OpCreate)
	assert.Equal(t, map[string]any{"id": 7, "title": "Hello", "zeta": true, "alpha": "x"}, c.Scalars)
	assert.Equal(t, map[string]any{"author": 1}, c.ToOne)
	assert.Equal(t, map[string]any{"tags": []any{1}}, c.ToMany)
	assert.Equal(t, map[string]any{"comments": []any{}}, c.Reverse)
	assert.Equal(t, []string{"alpha", "zeta"}, c.Opaque)

	c = Classify(post, payload, validation.OpUpdate)
	_, hasID := c.Scalars["id"]
	assert.False(t, hasID)
}

func TestShapeOf(t *testing.T) {
	tests := []struct {
		value any
		want  valueShape
	}{
		{nil, shapeNull},
		{int64(3), shapeIdentifier},
		{"abc", shapeIdentifier},
		{map[string]any{"name": "x"}, shapeEmbedded},
		{map[string]any{}, shapeEmbedded},
		{map[string]any{"connect": 1, "disconnect": []any{2}}, shapeOps},
		{map[string]any{"connect": 1, "name": "x"}, shapeEmbedded},
		{[]any{1, 2}, shapeList},
		{[]map[string]any{{"name": "x"}}, shapeList},
		{true, shapeInvalid},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, shapeOf(tt.value), "%#v", tt.value)
	}
}

func TestParseOpMap(t *testing.T) {
	ops := parseOpMap(map[string]any{
		"connect": 4,
		"create":  []any{map[string]any{"label": "a"}},
	})
	assert.False(t, ops.HasSet)
	assert.Equal(t, []any{4}, ops.Connect)
	assert.Len(t, ops.Create, 1)
	assert.Nil(t, ops.Disconnect)

	ops = parseOpMap(map[string]any{"set": nil})
	assert.True(t, ops.HasSet)
	assert.Empty(t, ops.Set)
}

func TestInjectedDoesNotMutateInput(t *testing.T) {
	item := map[string]any{"post": 9, "content": "x"}
	out := injected(item, "post", int64(1))
	assert.Equal(t, int64(1), out["post"])
	assert.Equal(t, 9, item["post"])
}
