package validation

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nestedgraph/internal/catalog"
	"nestedgraph/internal/mutationerr"
)

func ptr(f float64) *float64 { return &f }

func postType(t *testing.T) *catalog.EntityType {
	t.Helper()
	cat, err := catalog.New([]*catalog.EntityType{
		{Name: "Author", Fields: []*catalog.Field{
			{Name: "name", Type: catalog.TypeString},
		}},
		{Name: "Post", Fields: []*catalog.Field{
			{Name: "title", Type: catalog.TypeString, MinLength: 3, MaxLength: 10},
			{Name: "body", Type: catalog.TypeString},
			{Name: "status", Type: catalog.TypeString, Choices: []string{"draft", "published"}, HasDefault: true, Default: "draft"},
			{Name: "rating", Type: catalog.TypeInt, Nullable: true, Min: ptr(1), Max: ptr(5)},
			{Name: "score", Type: catalog.TypeFloat, Nullable: true},
			{Name: "published", Type: catalog.TypeBool, Nullable: true},
			{Name: "publishedAt", Type: catalog.TypeTime, Nullable: true},
			{Name: "author", Kind: catalog.ToOne, Target: "Author"},
			{Name: "editor", Kind: catalog.ToOne, Target: "Author", Nullable: true},
		}},
	})
	require.NoError(t, err)
	et, err := cat.Describe("Post")
	require.NoError(t, err)
	return et
}

func kinds(errs mutationerr.List) map[string]mutationerr.Kind {
	out := make(map[string]mutationerr.Kind, len(errs))
	for _, e := range errs {
		out[e.Field] = e.Kind
	}
	return out
}

func TestValidateCreateAggregatesMissingFields(t *testing.T) {
	et := postType(t)

	_, errs := Validate(et, map[string]any{"rating": int64(3)}, OpCreate)

	require.Len(t, errs, 3)
	assert.Equal(t, map[string]mutationerr.Kind{
		"title":  mutationerr.MissingRequiredField,
		"body":   mutationerr.MissingRequiredField,
		"author": mutationerr.MissingRequiredField,
	}, kinds(errs))
}

func TestValidateCreateAppliesDefaultsAndCoerces(t *testing.T) {
	et := postType(t)

	out, errs := Validate(et, map[string]any{
		"title":       "Hello",
		"body":        "text",
		"author":      int64(1),
		"rating":      json.Number("4"),
		"score":       float64(2),
		"publishedAt": "2024-05-01T10:00:00Z",
		"virtual":     "kept",
	}, OpCreate)

	require.Empty(t, errs)
	assert.Equal(t, "draft", out["status"])
	assert.Equal(t, int64(4), out["rating"])
	assert.Equal(t, 2.0, out["score"])
	assert.Equal(t, time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC), out["publishedAt"])
	assert.Equal(t, "kept", out["virtual"])
	_, hasEditor := out["editor"]
	assert.False(t, hasEditor)
}

func TestValidateConstraints(t *testing.T) {
	et := postType(t)

	tests := []struct {
		name   string
		values map[string]any
		field  string
		kind   mutationerr.Kind
	}{
		{"too short", map[string]any{"title": "Hi"}, "title", mutationerr.ConstraintViolation},
		{"too long", map[string]any{"title": "abcdefghijk"}, "title", mutationerr.ConstraintViolation},
		{"bad choice", map[string]any{"status": "archived"}, "status", mutationerr.ConstraintViolation},
		{"below min", map[string]any{"rating": 0}, "rating", mutationerr.ConstraintViolation},
		{"above max", map[string]any{"rating": 6.0}, "rating", mutationerr.ConstraintViolation},
		{"fractional int", map[string]any{"rating": 2.5}, "rating", mutationerr.TypeMismatch},
		{"string for int", map[string]any{"rating": "three"}, "rating", mutationerr.TypeMismatch},
		{"number for bool", map[string]any{"published": 1.0}, "published", mutationerr.TypeMismatch},
		{"bad timestamp", map[string]any{"publishedAt": "yesterday"}, "publishedAt", mutationerr.TypeMismatch},
		{"null on required", map[string]any{"body": nil}, "body", mutationerr.MissingRequiredField},
		{"null on required relation", map[string]any{"author": nil}, "author", mutationerr.MissingRequiredField},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, errs := Validate(et, tt.values, OpUpdate)
			require.Len(t, errs, 1)
			assert.Equal(t, tt.field, errs[0].Field)
			assert.Equal(t, tt.kind, errs[0].Kind)
			assert.Equal(t, "Post", errs[0].Entity)
		})
	}
}

func TestValidateUpdateOnlyChecksProvidedFields(t *testing.T) {
	et := postType(t)

	out, errs := Validate(et, map[string]any{"title": "Fine", "editor": nil, "rating": nil}, OpUpdate)

	require.Empty(t, errs)
	assert.Equal(t, "Fine", out["title"])
	assert.Nil(t, out["editor"])
	_, hasStatus := out["status"]
	assert.False(t, hasStatus, "defaults apply only on create")
}

func TestValidateCreateRejectsNullOnDefaultedField(t *testing.T) {
	et := postType(t)

	_, errs := Validate(et, map[string]any{
		"title":  "Hello",
		"body":   "text",
		"author": int64(1),
		"status": nil,
	}, OpCreate)

	require.Len(t, errs, 1)
	assert.Equal(t, "status", errs[0].Field)
	assert.Equal(t, mutationerr.MissingRequiredField, errs[0].Kind)
}

func TestValidateConstraintMessages(t *testing.T) {
	et := postType(t)

	tests := []struct {
		name    string
		values  map[string]any
		message string
	}{
		{"min length", map[string]any{"title": "Hi"}, "title must be at least 3 characters"},
		{"max length", map[string]any{"title": "abcdefghijk"}, "title must be at most 10 characters"},
		{"choice", map[string]any{"status": "archived"}, "status must be one of [draft published]"},
		{"minimum", map[string]any{"rating": int64(0)}, "rating must be >= 1"},
		{"maximum", map[string]any{"rating": int64(6)}, "rating must be <= 5"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, errs := Validate(et, tt.values, OpUpdate)
			require.Len(t, errs, 1)
			assert.Equal(t, tt.message, errs[0].Message)
		})
	}
}

func TestValidateReportsEveryViolatedConstraint(t *testing.T) {
	cat, err := catalog.New([]*catalog.EntityType{
		{Name: "Venue", Fields: []*catalog.Field{
			{Name: "kind", Type: catalog.TypeString, MinLength: 4, Choices: []string{"open air", "hall, main", "pub|bar"}},
			{Name: "capacity", Type: catalog.TypeFloat, Min: ptr(0.5), Max: ptr(2.5)},
		}},
	})
	require.NoError(t, err)
	et, err := cat.Describe("Venue")
	require.NoError(t, err)

	_, errs := Validate(et, map[string]any{"kind": "pub"}, OpUpdate)
	require.Len(t, errs, 2)
	assert.Equal(t, mutationerr.ConstraintViolation, errs[0].Kind)
	assert.Equal(t, mutationerr.ConstraintViolation, errs[1].Kind)

	for _, kind := range []string{"open air", "hall, main", "pub|bar"} {
		_, errs = Validate(et, map[string]any{"kind": kind}, OpUpdate)
		assert.Empty(t, errs, kind)
	}

	_, errs = Validate(et, map[string]any{"capacity": 2.5}, OpUpdate)
	assert.Empty(t, errs)
	_, errs = Validate(et, map[string]any{"capacity": 2.75}, OpUpdate)
	require.Len(t, errs, 1)
	assert.Equal(t, "capacity must be <= 2.5", errs[0].Message)
}

func TestValidateLengthCountsRunes(t *testing.T) {
	et := postType(t)

	_, errs := Validate(et, map[string]any{"title": "héllo"}, OpUpdate)
	assert.Empty(t, errs)
}

func TestNormalizeID(t *testing.T) {
	cat, err := catalog.New([]*catalog.EntityType{
		{Name: "Post"},
		{Name: "Token", Fields: []*catalog.Field{{Name: "id", Type: catalog.TypeString}}},
	})
	require.NoError(t, err)
	post, _ := cat.Describe("Post")
	token, _ := cat.Describe("Token")

	id, err := NormalizeID(post, "42")
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)

	id, err = NormalizeID(post, float64(7))
	require.NoError(t, err)
	assert.Equal(t, int64(7), id)

	_, err = NormalizeID(post, "abc")
	assert.Error(t, err)

	id, err = NormalizeID(token, "a1b2")
	require.NoError(t, err)
	assert.Equal(t, "a1b2", id)

	id, err = NormalizeID(token, int64(9))
	require.NoError(t, err)
	assert.Equal(t, "9", id)

	assert.Equal(t, "42", IDKey(int64(42)))
}
