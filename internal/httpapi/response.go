package httpapi

import (
	"nestedgraph/internal/cascade"
	"nestedgraph/internal/mutationerr"
	"nestedgraph/internal/store"
)

type entityView struct {
	Type      string         `json:"type"`
	ID        any            `json:"id"`
	Values    map[string]any `json:"values"`
	Relations map[string]any `json:"relations,omitempty"`
}

// newEntityView renders an entity and the related entities resolved while
// writing it.
func newEntityView(ent *store.Entity) *entityView {
	if ent == nil {
		return nil
	}
	view := &entityView{Type: ent.Type, ID: ent.ID, Values: ent.Values}
	if len(ent.Relations) == 0 {
		return view
	}
	view.Relations = make(map[string]any, len(ent.Relations))
	for field, rel := range ent.Relations {
		switch rel := rel.(type) {
		case *store.Entity:
			view.Relations[field] = newEntityView(rel)
		case []*store.Entity:
			list := make([]*entityView, 0, len(rel))
			for _, item := range rel {
				list = append(list, newEntityView(item))
			}
			view.Relations[field] = list
		default:
			view.Relations[field] = rel
		}
	}
	return view
}

type entityResponse struct {
	Data *entityView `json:"data"`
}

type deleteResponse struct {
	Deleted []cascade.DeletedDescriptor `json:"deleted"`
}

type validateResponse struct {
	Valid bool `json:"valid"`
}

type errorView struct {
	Kind    string `json:"kind"`
	Code    string `json:"code"`
	Entity  string `json:"entity,omitempty"`
	Field   string `json:"field,omitempty"`
	Path    string `json:"path,omitempty"`
	Message string `json:"message"`
}

type errorResponse struct {
	Errors []errorView `json:"errors"`
}

func newErrorResponse(errs ...*mutationerr.Error) errorResponse {
	out := errorResponse{Errors: make([]errorView, 0, len(errs))}
	for _, e := range errs {
		out.Errors = append(out.Errors, newErrorView(e))
	}
	return out
}

func newErrorView(e *mutationerr.Error) errorView {
	ext := e.Extensions()
	str := func(key string) string {
		v, _ := ext[key].(string)
		return v
	}
	return errorView{
		Kind:    str("kind"),
		Code:    str("code"),
		Entity:  str("entity"),
		Field:   str("field"),
		Path:    str("path"),
		Message: e.Message,
	}
}
