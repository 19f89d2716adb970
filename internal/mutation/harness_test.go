package mutation

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"nestedgraph/internal/catalog"
	"nestedgraph/internal/logging"
	"nestedgraph/internal/store"
	"nestedgraph/internal/store/memstore"
)

func ptr(f float64) *float64 { return &f }

func blogEntities() []*catalog.EntityType {
	return []*catalog.EntityType{
		{Name: "User", Fields: []*catalog.Field{
			{Name: "name", Type: catalog.TypeString},
			{Name: "email", Type: catalog.TypeString, Nullable: true, MaxLength: 40},
		}},
		{Name: "Category", Fields: []*catalog.Field{
			{Name: "name", Type: catalog.TypeString},
			{Name: "parent", Kind: catalog.ToOne, Target: "Category", Nullable: true, ReverseName: "children"},
		}},
		{Name: "Tag", Fields: []*catalog.Field{
			{Name: "label", Type: catalog.TypeString},
		}},
		{Name: "Post", Fields: []*catalog.Field{
			{Name: "title", Type: catalog.TypeString, MinLength: 3},
			{Name: "body", Type: catalog.TypeString, Nullable: true},
			{Name: "status", Type: catalog.TypeString, HasDefault: true, Default: "draft", Choices: []string{"draft", "published"}},
			{Name: "rating", Type: catalog.TypeInt, Nullable: true, Min: ptr(0), Max: ptr(5)},
			{Name: "author", Kind: catalog.ToOne, Target: "User"},
			{Name: "category", Kind: catalog.ToOne, Target: "Category", Nullable: true},
			{Name: "tags", Kind: catalog.ManyToMany, Target: "Tag"},
		}},
		{Name: "Comment", Fields: []*catalog.Field{
			{Name: "content", Type: catalog.TypeString},
			{Name: "post", Kind: catalog.ToOne, Target: "Post", Nullable: true},
			{Name: "author", Kind: catalog.ToOne, Target: "User", Nullable: true},
		}},
		{Name: "Reaction", Fields: []*catalog.Field{
			{Name: "emoji", Type: catalog.TypeString},
			{Name: "comment", Kind: catalog.ToOne, Target: "Comment", OnDelete: catalog.Protect},
		}},
		{Name: "Like", Fields: []*catalog.Field{
			{Name: "post", Kind: catalog.ToOne, Target: "Post"},
		}},
		{Name: "Token", Fields: []*catalog.Field{
			{Name: "id", Type: catalog.TypeString},
			{Name: "user", Kind: catalog.ToOne, Target: "User", Nullable: true},
		}},
		{Name: "Meetup", Fields: []*catalog.Field{
			{Name: "name", Type: catalog.TypeString},
			{Name: "startsAt", Type: catalog.TypeTime},
			{Name: "venue", Type: catalog.TypeString, Nullable: true},
		}},
	}
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) EntityMutated(_ context.Context, ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) all() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

type harness struct {
	t        *testing.T
	catalog  *catalog.Catalog
	store    *memstore.Store
	engine   *Engine
	observed *recorder
}

func newHarness(t *testing.T, configure ...func(*Config)) *harness {
	t.Helper()
	cat, err := catalog.New(blogEntities())
	require.NoError(t, err)

	st := memstore.New(cat)
	rec := &recorder{}
	var ids int
	cfg := Config{
		Catalog:   cat,
		Store:     st,
		Logger:    logging.Discard(),
		Observers: []Observer{rec},
		NewID: func() string {
			ids++
			return fmt.Sprintf("tok-%d", ids)
		},
	}
	for _, fn := range configure {
		fn(&cfg)
	}
	engine, err := New(cfg)
	require.NoError(t, err)
	return &harness{t: t, catalog: cat, store: st, engine: engine, observed: rec}
}

func (h *harness) create(entityType string, payload map[string]any) *store.Entity {
	h.t.Helper()
	ent, err := h.engine.HandleNestedCreate(context.Background(), entityType, payload)
	require.NoError(h.t, err)
	return ent
}

func (h *harness) fetch(entityType string, id any) *store.Entity {
	h.t.Helper()
	ent, err := h.engine.Fetch(context.Background(), entityType, id)
	require.NoError(h.t, err)
	return ent
}

func (h *harness) exists(entityType string, id any) bool {
	h.t.Helper()
	_, err := h.engine.Fetch(context.Background(), entityType, id)
	return err == nil
}

func (h *harness) members(entityType string, id any, field string) []any {
	h.t.Helper()
	ctx := context.Background()
	et, err := h.catalog.Describe(entityType)
	require.NoError(h.t, err)
	tx, err := h.store.Begin(ctx)
	require.NoError(h.t, err)
	defer tx.Rollback()
	rows, err := tx.Members(ctx, et, id, field)
	require.NoError(h.t, err)
	return entityIDs(rows)
}

func (h *harness) dependents(entityType, field string, value any) []any {
	h.t.Helper()
	ctx := context.Background()
	et, err := h.catalog.Describe(entityType)
	require.NoError(h.t, err)
	tx, err := h.store.Begin(ctx)
	require.NoError(h.t, err)
	defer tx.Rollback()
	rows, err := tx.FindBy(ctx, et, field, value)
	require.NoError(h.t, err)
	return entityIDs(rows)
}

// user creates a user and clears the recorded events.
func (h *harness) user(name string) *store.Entity {
	h.t.Helper()
	u := h.create("User", map[string]any{"name": name})
	h.observed.reset()
	return u
}

func entityIDs(rows []*store.Entity) []any {
	out := make([]any, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.ID)
	}
	return out
}

func relationIDs(t *testing.T, ent *store.Entity, field string) []any {
	t.Helper()
	rows, ok := ent.Relations[field].([]*store.Entity)
	require.True(t, ok, "relation %s is not a list", field)
	return entityIDs(rows)
}
