package mutation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nestedgraph/internal/mutationerr"
	"nestedgraph/internal/store"
	"nestedgraph/internal/validation"
)

// postWithComments seeds a post by ada with one comment per content string.
func (h *harness) postWithComments(contents ...string) *store.Entity {
	h.t.Helper()
	ada := h.user("ada")
	comments := make([]any, 0, len(contents))
	for _, c := range contents {
		comments = append(comments, map[string]any{"content": c})
	}
	post := h.create("Post", map[string]any{"title": "Seeded", "author": ada.ID, "comments": comments})
	h.observed.reset()
	return post
}

func TestHandleNestedUpdate_ReverseListReconciles(t *testing.T) {
	h := newHarness(t)
	post := h.postWithComments("one", "two", "three")

	updated, err := h.engine.HandleNestedUpdate(context.Background(), "Post", map[string]any{
		"comments": []any{
			map[string]any{"id": 1, "content": "one, edited"},
			map[string]any{"content": "four"},
		},
	}, post.ID)
	require.NoError(t, err)

	assert.Equal(t, []any{int64(1), int64(4)}, relationIDs(t, updated, "comments"))
	assert.Equal(t, []any{int64(1), int64(4)}, h.dependents("Comment", "post", post.ID))
	assert.Equal(t, "one, edited", h.fetch("Comment", 1).Values["content"])
	assert.False(t, h.exists("Comment", 2))
	assert.False(t, h.exists("Comment", 3))
	assert.Equal(t, 2, h.store.Count("Comment"))

	assert.Equal(t, []Event{
		{EntityType: "Comment", ID: int64(1), Op: OpUpdated},
		{EntityType: "Comment", ID: int64(2), Op: OpDeleted},
		{EntityType: "Comment", ID: int64(3), Op: OpDeleted},
		{EntityType: "Comment", ID: int64(4), Op: OpCreated},
		{EntityType: "Post", ID: post.ID, Op: OpUpdated},
	}, h.observed.all())
}

func TestHandleNestedUpdate_ReconcileRespectsProtect(t *testing.T) {
	h := newHarness(t)
	post := h.postWithComments("one", "two")
	h.create("Reaction", map[string]any{"emoji": "+1", "comment": 2})
	h.observed.reset()

	_, err := h.engine.HandleNestedUpdate(context.Background(), "Post", map[string]any{
		"comments": []any{1},
	}, post.ID)
	require.Error(t, err)
	assert.Equal(t, mutationerr.ProtectedDeletion, mutationerr.KindOf(err))

	assert.Equal(t, []any{int64(1), int64(2)}, h.dependents("Comment", "post", post.ID))
	assert.Empty(t, h.observed.all())
}

func TestHandleNestedUpdate_ManyToManyExactSet(t *testing.T) {
	h := newHarness(t)
	ada := h.user("ada")
	post := h.create("Post", map[string]any{
		"title":  "Tagged",
		"author": ada.ID,
		"tags":   []any{map[string]any{"label": "go"}, map[string]any{"label": "sql"}},
	})

	updated, err := h.engine.HandleNestedUpdate(context.Background(), "Post", map[string]any{
		"tags": []any{int64(1), map[string]any{"label": "new"}},
	}, post.ID)
	require.NoError(t, err)

	assert.Equal(t, []any{int64(1), int64(3)}, relationIDs(t, updated, "tags"))
	assert.Equal(t, []any{int64(1), int64(3)}, h.members("Post", post.ID, "tags"))
	assert.True(t, h.exists("Tag", 2), "removed tags are only disassociated")
	assert.Equal(t, []any{post.ID}, h.members("Tag", 1, "posts"))
}

func TestHandleNestedUpdate_ManyToManyOperations(t *testing.T) {
	h := newHarness(t)
	ada := h.user("ada")
	post := h.create("Post", map[string]any{
		"title":  "Tagged",
		"author": ada.ID,
		"tags":   []any{map[string]any{"label": "a"}, map[string]any{"label": "b"}},
	})
	other := h.create("Tag", map[string]any{"label": "c"})

	_, err := h.engine.HandleNestedUpdate(context.Background(), "Post", map[string]any{
		"tags": map[string]any{
			"connect":    []any{other.ID},
			"update":     []any{map[string]any{"id": 2, "label": "b2"}},
			"disconnect": []any{map[string]any{"id": 1}, 99},
		},
	}, post.ID)
	require.Error(t, err, "disconnecting an unknown tag fails")
	assert.Equal(t, mutationerr.UnresolvedReference, mutationerr.KindOf(err))
	assert.Equal(t, []any{int64(1), int64(2)}, h.members("Post", post.ID, "tags"))

	_, err = h.engine.HandleNestedUpdate(context.Background(), "Post", map[string]any{
		"tags": map[string]any{
			"connect":    []any{other.ID},
			"update":     []any{map[string]any{"id": 2, "label": "b2"}},
			"disconnect": []any{map[string]any{"id": 1}},
		},
	}, post.ID)
	require.NoError(t, err)
	assert.Equal(t, []any{int64(2), int64(3)}, h.members("Post", post.ID, "tags"))
	assert.Equal(t, "b2", h.fetch("Tag", 2).Values["label"])

	_, err = h.engine.HandleNestedUpdate(context.Background(), "Post", map[string]any{
		"tags": map[string]any{"update": []any{map[string]any{"id": 1, "label": "nope"}}},
	}, post.ID)
	require.Error(t, err)

	var me *mutationerr.Error
	require.ErrorAs(t, err, &me)
	assert.Equal(t, mutationerr.UnresolvedReference, me.Kind)
	assert.Equal(t, "Post.tags.update[0]", me.Path)
	assert.Equal(t, "a", h.fetch("Tag", 1).Values["label"])
}

func TestHandleNestedUpdate_ManyToManySetReplaces(t *testing.T) {
	h := newHarness(t)
	ada := h.user("ada")
	post := h.create("Post", map[string]any{
		"title":  "Tagged",
		"author": ada.ID,
		"tags":   []any{map[string]any{"label": "a"}, map[string]any{"label": "b"}},
	})

	_, err := h.engine.HandleNestedUpdate(context.Background(), "Post", map[string]any{
		"tags": map[string]any{"set": []any{}},
	}, post.ID)
	require.NoError(t, err)
	assert.Empty(t, h.members("Post", post.ID, "tags"))
	assert.Equal(t, 2, h.store.Count("Tag"))
}

func TestHandleNestedUpdate_ReverseOperations(t *testing.T) {
	h := newHarness(t)
	post := h.postWithComments("one", "two", "three")
	stray := h.create("Comment", map[string]any{"content": "stray"})
	h.observed.reset()

	updated, err := h.engine.HandleNestedUpdate(context.Background(), "Post", map[string]any{
		"comments": map[string]any{
			"create":     map[string]any{"content": "five"},
			"connect":    stray.ID,
			"update":     []any{map[string]any{"id": 2, "content": "two, edited"}},
			"disconnect": []any{1},
		},
	}, post.ID)
	require.NoError(t, err)

	assert.Equal(t, []any{int64(2), int64(3), int64(4), int64(5)}, relationIDs(t, updated, "comments"))
	assert.Nil(t, h.fetch("Comment", 1).Values["post"], "disconnected comments survive")
	assert.Equal(t, "two, edited", h.fetch("Comment", 2).Values["content"])
	assert.Equal(t, 5, h.store.Count("Comment"))

	_, err = h.engine.HandleNestedUpdate(context.Background(), "Post", map[string]any{
		"comments": map[string]any{"update": []any{map[string]any{"id": 1, "content": "not ours"}}},
	}, post.ID)
	require.Error(t, err)
	assert.Equal(t, mutationerr.UnresolvedReference, mutationerr.KindOf(err))
}

func TestHandleNestedUpdate_DisconnectOfNonMemberIsNoOp(t *testing.T) {
	h := newHarness(t)
	post := h.postWithComments("one")
	stray := h.create("Comment", map[string]any{"content": "stray"})
	h.observed.reset()

	_, err := h.engine.HandleNestedUpdate(context.Background(), "Post", map[string]any{
		"comments": map[string]any{"disconnect": []any{stray.ID}},
	}, post.ID)
	require.NoError(t, err)

	assert.Nil(t, h.fetch("Comment", stray.ID).Values["post"])
	assert.Equal(t, []any{int64(1)}, h.dependents("Comment", "post", post.ID))
	assert.Equal(t, []Event{{EntityType: "Post", ID: post.ID, Op: OpUpdated}}, h.observed.all())
}

func TestHandleNestedUpdate_DisconnectOnRequiredBackReference(t *testing.T) {
	h := newHarness(t)
	ada := h.user("ada")
	post := h.create("Post", map[string]any{"title": "Liked", "author": ada.ID})
	other := h.create("Post", map[string]any{"title": "Other", "author": ada.ID})
	ours := h.create("Like", map[string]any{"post": post.ID})
	theirs := h.create("Like", map[string]any{"post": other.ID})

	_, err := h.engine.HandleNestedUpdate(context.Background(), "Post", map[string]any{
		"likes": map[string]any{"disconnect": []any{theirs.ID}},
	}, post.ID)
	require.NoError(t, err, "likes of another post are not members")

	_, err = h.engine.HandleNestedUpdate(context.Background(), "Post", map[string]any{
		"likes": map[string]any{"disconnect": []any{theirs.ID, ours.ID}},
	}, post.ID)
	require.Error(t, err)

	errs := mutationerr.Flatten(err)
	require.Len(t, errs, 1)
	assert.Equal(t, mutationerr.ConstraintViolation, errs[0].Kind)
	assert.Equal(t, "Post.likes.disconnect[1]", errs[0].Path)
	assert.Equal(t, post.ID, h.fetch("Like", ours.ID).Values["post"])
}

func TestHandleNestedUpdate_DuplicateReverseItemRejected(t *testing.T) {
	h := newHarness(t)
	post := h.postWithComments("one")
	h.observed.reset()

	_, err := h.engine.HandleNestedUpdate(context.Background(), "Post", map[string]any{
		"comments": []any{
			map[string]any{"id": 1, "content": "first"},
			map[string]any{"id": 1, "content": "second"},
		},
	}, post.ID)
	require.Error(t, err)

	errs := mutationerr.Flatten(err)
	require.Len(t, errs, 1)
	assert.Equal(t, mutationerr.TypeMismatch, errs[0].Kind)
	assert.Equal(t, "Post.comments[1]", errs[0].Path)
	assert.Equal(t, "one", h.fetch("Comment", 1).Values["content"])
	assert.Empty(t, h.observed.all())

	errs = h.engine.ValidateNestedData(context.Background(), "Post", map[string]any{
		"comments": []any{1, "1"},
	}, validation.OpUpdate)
	require.Len(t, errs, 1)
	assert.Equal(t, "Post.comments[1]", errs[0].Path)
}

func TestHandleNestedUpdate_ToOneNull(t *testing.T) {
	h := newHarness(t)
	ada := h.user("ada")
	post := h.create("Post", map[string]any{
		"title":    "Filed",
		"author":   ada.ID,
		"category": map[string]any{"name": "news"},
	})
	require.Equal(t, int64(1), post.Values["category"])

	updated, err := h.engine.HandleNestedUpdate(context.Background(), "Post", map[string]any{"category": nil}, post.ID)
	require.NoError(t, err)
	assert.Nil(t, updated.Values["category"])
	assert.True(t, h.exists("Category", 1))

	_, err = h.engine.HandleNestedUpdate(context.Background(), "Post", map[string]any{"author": nil}, post.ID)
	require.Error(t, err)

	errs := mutationerr.Flatten(err)
	require.Len(t, errs, 1)
	assert.Equal(t, mutationerr.MissingRequiredField, errs[0].Kind)
	assert.Equal(t, "Post.author", errs[0].Path)
}

func TestHandleNestedUpdate_IdentifierIsNeverReassigned(t *testing.T) {
	h := newHarness(t)
	ada := h.user("ada")

	updated, err := h.engine.HandleNestedUpdate(context.Background(), "User", map[string]any{
		"id":   int64(42),
		"name": "grace",
	}, ada.ID)
	require.NoError(t, err)

	assert.Equal(t, ada.ID, updated.ID)
	assert.Equal(t, "grace", h.fetch("User", ada.ID).Values["name"])
	assert.False(t, h.exists("User", 42))
}

func TestHandleNestedUpdate_OnlyProvidedFieldsAreValidated(t *testing.T) {
	h := newHarness(t)
	ada := h.user("ada")
	post := h.create("Post", map[string]any{"title": "Partial", "author": ada.ID})

	updated, err := h.engine.HandleNestedUpdate(context.Background(), "Post", map[string]any{"status": "published"}, post.ID)
	require.NoError(t, err)
	assert.Equal(t, "published", updated.Values["status"])
	assert.Equal(t, "Partial", updated.Values["title"])

	_, err = h.engine.HandleNestedUpdate(context.Background(), "Post", map[string]any{"status": "archived"}, post.ID)
	require.Error(t, err)
	assert.Equal(t, mutationerr.ConstraintViolation, mutationerr.KindOf(err))
}

func TestHandleNestedUpdate_EmptyPayloadRecordsNothing(t *testing.T) {
	h := newHarness(t)
	ada := h.user("ada")

	updated, err := h.engine.HandleNestedUpdate(context.Background(), "User", map[string]any{}, ada.ID)
	require.NoError(t, err)
	assert.Equal(t, "ada", updated.Values["name"])
	assert.Empty(t, h.observed.all())
}

func TestHandleNestedUpdate_UnknownRoot(t *testing.T) {
	h := newHarness(t)

	_, err := h.engine.HandleNestedUpdate(context.Background(), "Post", map[string]any{"title": "Missing"}, 404)
	require.Error(t, err)

	var me *mutationerr.Error
	require.ErrorAs(t, err, &me)
	assert.Equal(t, mutationerr.UnresolvedReference, me.Kind)
	assert.Equal(t, "Post", me.Path)
}
