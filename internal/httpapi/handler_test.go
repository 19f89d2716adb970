package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nestedgraph/internal/cascade"
	"nestedgraph/internal/catalog"
	"nestedgraph/internal/logging"
	"nestedgraph/internal/mutation"
	"nestedgraph/internal/mutationerr"
	"nestedgraph/internal/store/memstore"
)

const testCatalog = `
entities:
  - name: User
    fields:
      - name: name
        type: string
  - name: Post
    fields:
      - name: title
        type: string
      - name: author
        kind: to_one
        target: User
  - name: Comment
    fields:
      - name: content
        type: string
      - name: post
        kind: to_one
        target: Post
`

type genericResponse struct {
	Data struct {
		Type      string                     `json:"type"`
		ID        json.Number                `json:"id"`
		Values    map[string]any             `json:"values"`
		Relations map[string]json.RawMessage `json:"relations"`
	} `json:"data"`
	Deleted []cascade.DeletedDescriptor `json:"deleted"`
	Valid   bool                        `json:"valid"`
	Errors  []errorView                 `json:"errors"`
}

func newTestServer(t *testing.T, maxBody int64) *httptest.Server {
	t.Helper()
	cat, err := catalog.Load(strings.NewReader(testCatalog))
	require.NoError(t, err)
	engine, err := mutation.New(mutation.Config{
		Catalog: cat,
		Store:   memstore.New(cat),
		Logger:  logging.Discard(),
	})
	require.NoError(t, err)

	h, err := NewHandler(Options{
		Engine: engine,
		ParseRules: func(raw map[string]string) (cascade.Rules, error) {
			return cascade.ParseRules(cat, raw)
		},
		MaxBodyBytes: maxBody,
	})
	require.NoError(t, err)

	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, srv *httptest.Server, method, path, body string) (int, genericResponse) {
	t.Helper()
	req, err := http.NewRequest(method, srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out genericResponse
	if resp.Header.Get("Content-Type") == "application/json" {
		dec := json.NewDecoder(resp.Body)
		dec.UseNumber()
		require.NoError(t, dec.Decode(&out))
	}
	return resp.StatusCode, out
}

func createPost(t *testing.T, srv *httptest.Server) {
	t.Helper()
	status, resp := do(t, srv, http.MethodPost, "/v1/entities/Post",
		`{"title":"Hello","author":{"name":"Ann"},"comments":[{"content":"first"}]}`)
	require.Equal(t, http.StatusCreated, status, resp.Errors)
	require.Equal(t, "1", resp.Data.ID.String())
}

func TestCreateAndFetch(t *testing.T) {
	srv := newTestServer(t, 0)

	status, resp := do(t, srv, http.MethodPost, "/v1/entities/Post",
		`{"title":"Hello","author":{"name":"Ann"},"comments":[{"content":"first"}]}`)
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, "Post", resp.Data.Type)
	assert.Equal(t, "Hello", resp.Data.Values["title"])

	var author struct {
		Values map[string]any `json:"values"`
	}
	require.NoError(t, json.Unmarshal(resp.Data.Relations["author"], &author))
	assert.Equal(t, "Ann", author.Values["name"])

	var comments []json.RawMessage
	require.NoError(t, json.Unmarshal(resp.Data.Relations["comments"], &comments))
	assert.Len(t, comments, 1)

	status, resp = do(t, srv, http.MethodGet, "/v1/entities/Post/1", "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Hello", resp.Data.Values["title"])
}

func TestUpdate(t *testing.T) {
	srv := newTestServer(t, 0)
	createPost(t, srv)

	status, resp := do(t, srv, http.MethodPatch, "/v1/entities/Post/1", `{"title":"Renamed"}`)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Renamed", resp.Data.Values["title"])

	status, resp = do(t, srv, http.MethodPatch, "/v1/entities/Post/99", `{"title":"Nope"}`)
	assert.Equal(t, http.StatusNotFound, status)
	require.Len(t, resp.Errors, 1)
	assert.Equal(t, "unresolved_reference", resp.Errors[0].Code)
	assert.Equal(t, "Post", resp.Errors[0].Path)
}

func TestCascadeDelete(t *testing.T) {
	srv := newTestServer(t, 0)
	createPost(t, srv)

	status, resp := do(t, srv, http.MethodDelete, "/v1/entities/Post/1", `{"rules":{"Comment.post":"protect"}}`)
	assert.Equal(t, http.StatusConflict, status)
	require.NotEmpty(t, resp.Errors)
	assert.Equal(t, "protected_deletion", resp.Errors[0].Code)

	status, resp = do(t, srv, http.MethodDelete, "/v1/entities/Post/1", `{"rules":{"Comment.nope":"cascade"}}`)
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.NotEmpty(t, resp.Errors)

	status, resp = do(t, srv, http.MethodDelete, "/v1/entities/Post/1", "")
	require.Equal(t, http.StatusOK, status)
	require.Len(t, resp.Deleted, 2)
	assert.Equal(t, "Comment", resp.Deleted[0].EntityType)
	assert.Equal(t, "Post", resp.Deleted[1].EntityType)

	status, _ = do(t, srv, http.MethodGet, "/v1/entities/Post/1", "")
	assert.Equal(t, http.StatusNotFound, status)
	status, _ = do(t, srv, http.MethodGet, "/v1/entities/User/1", "")
	assert.Equal(t, http.StatusOK, status)
}

func TestValidateEndpoint(t *testing.T) {
	srv := newTestServer(t, 0)

	status, resp := do(t, srv, http.MethodPost, "/v1/entities/Post/validate?op=create", `{"author":{"name":"Ann"}}`)
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	require.Len(t, resp.Errors, 1)
	assert.Equal(t, "missing_required_field", resp.Errors[0].Code)
	assert.Equal(t, "Post.title", resp.Errors[0].Path)

	status, resp = do(t, srv, http.MethodPost, "/v1/entities/Post/validate?op=update", `{"title":"ok"}`)
	assert.Equal(t, http.StatusOK, status)
	assert.True(t, resp.Valid)

	status, resp = do(t, srv, http.MethodPost, "/v1/entities/Post/validate?op=upsert", `{}`)
	assert.Equal(t, http.StatusBadRequest, status)
	require.Len(t, resp.Errors, 1)
	assert.Equal(t, "invalid_op", resp.Errors[0].Code)

	status, _ = do(t, srv, http.MethodGet, "/v1/entities/Post/1", "")
	assert.Equal(t, http.StatusNotFound, status, "validation must not write")
}

func TestRequestErrors(t *testing.T) {
	srv := newTestServer(t, 64)

	tests := []struct {
		name       string
		method     string
		path       string
		body       string
		wantStatus int
		wantCode   string
	}{
		{"unknown entity", http.MethodPost, "/v1/entities/Nope", `{}`, http.StatusNotFound, "unresolved_reference"},
		{"malformed json", http.MethodPost, "/v1/entities/Post", `{"title":`, http.StatusBadRequest, "invalid_body"},
		{"missing body", http.MethodPatch, "/v1/entities/Post/1", "", http.StatusBadRequest, "invalid_body"},
		{"trailing data", http.MethodPost, "/v1/entities/Post", `{} {}`, http.StatusBadRequest, "invalid_body"},
		{"body too large", http.MethodPost, "/v1/entities/Post", `{"title":"` + strings.Repeat("x", 100) + `"}`, http.StatusRequestEntityTooLarge, "invalid_body"},
		{"shape mismatch", http.MethodPost, "/v1/entities/Post", `{"title":"t","author":true}`, http.StatusUnprocessableEntity, "type_mismatch"},
		{"dangling reference", http.MethodPost, "/v1/entities/Post", `{"title":"t","author":42}`, http.StatusBadRequest, "unresolved_reference"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, resp := do(t, srv, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.wantStatus, status)
			require.NotEmpty(t, resp.Errors)
			assert.Equal(t, tt.wantCode, resp.Errors[0].Code)
		})
	}
}

func TestMethodNotAllowed(t *testing.T) {
	srv := newTestServer(t, 0)
	status, _ := do(t, srv, http.MethodPut, "/v1/entities/Post/1", `{}`)
	assert.Equal(t, http.StatusMethodNotAllowed, status)
}

func TestNewHandlerRequiresEngine(t *testing.T) {
	_, err := NewHandler(Options{})
	assert.Error(t, err)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name string
		err  *mutationerr.Error
		want int
	}{
		{"missing field", mutationerr.New(mutationerr.MissingRequiredField, "Post", "title", "required"), http.StatusUnprocessableEntity},
		{"constraint", mutationerr.New(mutationerr.ConstraintViolation, "Post", "title", "too short"), http.StatusUnprocessableEntity},
		{"type mismatch", mutationerr.New(mutationerr.TypeMismatch, "Post", "author", "bad shape"), http.StatusUnprocessableEntity},
		{"protected", mutationerr.New(mutationerr.ProtectedDeletion, "Post", "", "protected"), http.StatusConflict},
		{"root not found", mutationerr.New(mutationerr.UnresolvedReference, "Post", "", "missing").WithPath("Post"), http.StatusNotFound},
		{"nested not found", mutationerr.New(mutationerr.UnresolvedReference, "User", "", "missing").WithPath("Post.author"), http.StatusBadRequest},
		{"cycle", mutationerr.New(mutationerr.CircularReference, "Post", "author", "cycle"), http.StatusBadRequest},
		{"unknown", &mutationerr.Error{Kind: mutationerr.KindUnknown, Message: "boom"}, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor("Post", []*mutationerr.Error{tt.err}))
		})
	}
}

func TestNewErrorResponseUsesExtensions(t *testing.T) {
	resp := newErrorResponse(mutationerr.New(mutationerr.MissingRequiredField, "Post", "title", "title is required"))

	require.Len(t, resp.Errors, 1)
	assert.Equal(t, errorView{
		Kind:    "MissingRequiredField",
		Code:    mutationerr.MissingRequiredField.Code(),
		Entity:  "Post",
		Field:   "title",
		Path:    "Post.title",
		Message: "title is required",
	}, resp.Errors[0])
}
