// Package httpapi exposes the mutation engine as a JSON HTTP API.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"nestedgraph/internal/cascade"
	"nestedgraph/internal/logging"
	"nestedgraph/internal/middleware"
	"nestedgraph/internal/mutation"
	"nestedgraph/internal/mutationerr"
	"nestedgraph/internal/observability"
	"nestedgraph/internal/store"
	"nestedgraph/internal/validation"
)

// Engine is the subset of *mutation.Engine the handlers call.
type Engine interface {
	HandleNestedCreate(ctx context.Context, entityType string, payload map[string]any) (*store.Entity, error)
	HandleNestedUpdate(ctx context.Context, entityType string, payload map[string]any, id any) (*store.Entity, error)
	HandleCascadeDelete(ctx context.Context, entityType string, id any, rules cascade.Rules) ([]cascade.DeletedDescriptor, error)
	ValidateNestedData(ctx context.Context, entityType string, payload map[string]any, op validation.Op) mutationerr.List
	Fetch(ctx context.Context, entityType string, id any) (*store.Entity, error)
}

var _ Engine = (*mutation.Engine)(nil)

// Options configures the handler.
type Options struct {
	Engine Engine
	// ParseRules turns a delete body's rule strings into cascade rules.
	ParseRules func(map[string]string) (cascade.Rules, error)
	Metrics    *observability.MutationMetrics
	// MaxBodyBytes caps request bodies. Zero disables the limit.
	MaxBodyBytes int64
}

// Handler serves the /v1/entities routes.
type Handler struct {
	engine     Engine
	parseRules func(map[string]string) (cascade.Rules, error)
	mux        *http.ServeMux
}

// NewHandler builds the entity API.
func NewHandler(opts Options) (*Handler, error) {
	if opts.Engine == nil {
		return nil, errors.New("httpapi: engine is required")
	}
	h := &Handler{
		engine:     opts.Engine,
		parseRules: opts.ParseRules,
		mux:        http.NewServeMux(),
	}
	if h.parseRules == nil {
		h.parseRules = func(raw map[string]string) (cascade.Rules, error) {
			if len(raw) > 0 {
				return nil, mutationerr.New(mutationerr.TypeMismatch, "", "rules", "delete rules are not supported")
			}
			return nil, nil
		}
	}

	routes := []struct {
		pattern string
		name    string
		fn      http.HandlerFunc
	}{
		{"POST /v1/entities/{type}", "create", h.create},
		{"POST /v1/entities/{type}/validate", "validate", h.validate},
		{"GET /v1/entities/{type}/{id}", "fetch", h.fetch},
		{"PATCH /v1/entities/{type}/{id}", "update", h.update},
		{"DELETE /v1/entities/{type}/{id}", "delete", h.delete},
	}
	for _, route := range routes {
		var handler http.Handler = route.fn
		handler = middleware.BodyLimitMiddleware(opts.MaxBodyBytes)(handler)
		handler = middleware.MetricsMiddleware(opts.Metrics, route.name)(handler)
		h.mux.Handle(route.pattern, handler)
	}
	return h, nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	entityType := r.PathValue("type")
	payload, ok := decodePayload(w, r)
	if !ok {
		return
	}
	ent, err := h.engine.HandleNestedCreate(r.Context(), entityType, payload)
	if err != nil {
		writeError(w, r, entityType, err)
		return
	}
	writeJSON(w, http.StatusCreated, entityResponse{Data: newEntityView(ent)})
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	entityType := r.PathValue("type")
	payload, ok := decodePayload(w, r)
	if !ok {
		return
	}
	ent, err := h.engine.HandleNestedUpdate(r.Context(), entityType, payload, r.PathValue("id"))
	if err != nil {
		writeError(w, r, entityType, err)
		return
	}
	writeJSON(w, http.StatusOK, entityResponse{Data: newEntityView(ent)})
}

func (h *Handler) fetch(w http.ResponseWriter, r *http.Request) {
	entityType := r.PathValue("type")
	ent, err := h.engine.Fetch(r.Context(), entityType, r.PathValue("id"))
	if err != nil {
		writeError(w, r, entityType, err)
		return
	}
	writeJSON(w, http.StatusOK, entityResponse{Data: newEntityView(ent)})
}

type deleteRequest struct {
	Rules map[string]string `json:"rules"`
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	entityType := r.PathValue("type")

	var req deleteRequest
	if err := decodeBody(r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeDecodeError(w, err)
		return
	}
	rules, err := h.parseRules(req.Rules)
	if err != nil {
		writeError(w, r, entityType, err)
		return
	}

	deleted, err := h.engine.HandleCascadeDelete(r.Context(), entityType, r.PathValue("id"), rules)
	if err != nil {
		writeError(w, r, entityType, err)
		return
	}
	if deleted == nil {
		deleted = []cascade.DeletedDescriptor{}
	}
	writeJSON(w, http.StatusOK, deleteResponse{Deleted: deleted})
}

func (h *Handler) validate(w http.ResponseWriter, r *http.Request) {
	entityType := r.PathValue("type")

	var op validation.Op
	switch r.URL.Query().Get("op") {
	case "", "create":
		op = validation.OpCreate
	case "update":
		op = validation.OpUpdate
	default:
		writeJSON(w, http.StatusBadRequest, errorResponse{Errors: []errorView{{
			Kind:    mutationerr.TypeMismatch.String(),
			Code:    "invalid_op",
			Entity:  entityType,
			Message: fmt.Sprintf("op must be create or update, got %q", r.URL.Query().Get("op")),
		}}})
		return
	}

	payload, ok := decodePayload(w, r)
	if !ok {
		return
	}
	if errs := h.engine.ValidateNestedData(r.Context(), entityType, payload, op); len(errs) > 0 {
		writeError(w, r, entityType, errs)
		return
	}
	writeJSON(w, http.StatusOK, validateResponse{Valid: true})
}

// decodePayload reads a JSON object body, keeping numbers as json.Number so
// identifiers survive without float rounding.
func decodePayload(w http.ResponseWriter, r *http.Request) (map[string]any, bool) {
	var payload map[string]any
	if err := decodeBody(r, &payload); err != nil {
		writeDecodeError(w, err)
		return nil, false
	}
	if payload == nil {
		payload = map[string]any{}
	}
	return payload, true
}

func decodeBody(r *http.Request, dst any) error {
	if r.Body == nil {
		return io.EOF
	}
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("request body must contain a single JSON object")
	}
	return nil
}

func writeDecodeError(w http.ResponseWriter, err error) {
	status := http.StatusBadRequest
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		status = http.StatusRequestEntityTooLarge
	}
	message := "invalid JSON body: " + err.Error()
	if errors.Is(err, io.EOF) {
		message = "request body is required"
	}
	writeJSON(w, status, errorResponse{Errors: []errorView{{
		Kind:    mutationerr.TypeMismatch.String(),
		Code:    "invalid_body",
		Message: message,
	}}})
}

func writeError(w http.ResponseWriter, r *http.Request, entityType string, err error) {
	errs := mutationerr.Flatten(err)
	if len(errs) == 0 {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			writeJSON(w, http.StatusServiceUnavailable, errorResponse{Errors: []errorView{{
				Kind:    mutationerr.KindUnknown.String(),
				Code:    "canceled",
				Entity:  entityType,
				Message: "request canceled",
			}}})
			return
		}
		logging.FromContext(r.Context()).Error("mutation failed",
			slog.String("entity", entityType),
			slog.String("error", err.Error()),
		)
		// Store internals stay out of the response.
		writeJSON(w, http.StatusInternalServerError, errorResponse{Errors: []errorView{{
			Kind:    mutationerr.KindUnknown.String(),
			Code:    mutationerr.KindUnknown.Code(),
			Entity:  entityType,
			Message: "internal error",
		}}})
		return
	}
	writeJSON(w, statusFor(entityType, errs), newErrorResponse(errs...))
}

// statusFor picks the HTTP status for a set of mutation errors. The first
// error decides.
func statusFor(entityType string, errs []*mutationerr.Error) int {
	first := errs[0]
	switch kind := first.Kind; {
	case !kind.Structural(), kind == mutationerr.TypeMismatch:
		return http.StatusUnprocessableEntity
	case kind == mutationerr.ProtectedDeletion:
		return http.StatusConflict
	case kind == mutationerr.UnresolvedReference:
		if first.Path == "" || first.Path == entityType {
			return http.StatusNotFound
		}
		return http.StatusBadRequest
	case kind == mutationerr.KindUnknown:
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
