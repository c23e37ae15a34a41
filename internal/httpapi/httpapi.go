// Package httpapi exposes the query engine over HTTP: a structured
// query endpoint, a flattened GET form, and analysis/validation
// endpoints that never touch the store.
package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"content-query/internal/engine"
	"content-query/internal/logging"
	"content-query/internal/middleware"
	"content-query/internal/qerr"
	"content-query/internal/query"
)

// Handler serves the query API.
type Handler struct {
	engine *engine.Engine
	logger *logging.Logger
}

// NewHandler creates the API handler.
func NewHandler(eng *engine.Engine, logger *logging.Logger) *Handler {
	return &Handler{engine: eng, logger: logger}
}

// Register mounts every API route on the mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/query", h.executeQuery)
	mux.HandleFunc("GET /api/content/{source}", h.queryBySource)
	mux.HandleFunc("POST /api/query/analyze", h.analyzeQuery)
	mux.HandleFunc("POST /api/query/validate", h.validateQuery)
	mux.HandleFunc("POST /api/cache/invalidate", h.invalidateCache)
}

// envelope is the uniform response shape.
type envelope struct {
	Success bool       `json:"success"`
	Data    any        `json:"data,omitempty"`
	Meta    any        `json:"meta,omitempty"`
	Error   *errorBody `json:"error,omitempty"`
}

type errorBody struct {
	Kind    string `json:"kind"`
	Rule    string `json:"rule,omitempty"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

func (h *Handler) executeQuery(w http.ResponseWriter, r *http.Request) {
	var req query.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.serve(w, r, &req)
}

// queryBySource accepts the flattened query-string form, e.g.
// /api/content/post?expand=author&sort=-published_at&limit=10.
func (h *Handler) queryBySource(w http.ResponseWriter, r *http.Request) {
	req, err := query.ParseForm(r.PathValue("source"), r.URL.Query())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.serve(w, r, req)
}

func (h *Handler) serve(w http.ResponseWriter, r *http.Request, req *query.Request) {
	id := middleware.IdentityFromContext(r.Context())
	result, err := h.engine.Execute(r.Context(), req, id.ActorID, id.TenantID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: result.Data, Meta: result.Meta})
}

// analyzeQuery reports complexity and tuning suggestions without
// executing anything.
func (h *Handler) analyzeQuery(w http.ResponseWriter, r *http.Request) {
	var req query.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, err)
		return
	}
	report := h.engine.Analyze(&req)
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: report})
}

// validateQuery runs security validation only. The outcome is always a
// 200: the caller asked whether the query would be accepted.
func (h *Handler) validateQuery(w http.ResponseWriter, r *http.Request) {
	var req query.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, err)
		return
	}
	id := middleware.IdentityFromContext(r.Context())
	if err := h.engine.Validate(&req, id.ActorID, id.TenantID); err != nil {
		writeJSON(w, http.StatusOK, envelope{
			Success: true,
			Data:    map[string]any{"valid": false},
			Error:   toErrorBody(err),
		})
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: map[string]any{"valid": true}})
}

type invalidateRequest struct {
	Source string `json:"source"`
	Tenant string `json:"tenant"`
}

// invalidateCache drops cached results by source or tenant tag.
func (h *Handler) invalidateCache(w http.ResponseWriter, r *http.Request) {
	var req invalidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if req.Source == "" && req.Tenant == "" {
		h.writeError(w, r, qerr.NewValidation("source", "source or tenant is required"))
		return
	}

	invalidated := 0
	if req.Source != "" {
		n, err := h.engine.InvalidateSource(r.Context(), req.Source)
		if err != nil {
			h.writeError(w, r, qerr.NewStore("invalidate source", err))
			return
		}
		invalidated += n
	}
	if req.Tenant != "" {
		n, err := h.engine.InvalidateTenant(r.Context(), req.Tenant)
		if err != nil {
			h.writeError(w, r, qerr.NewStore("invalidate tenant", err))
			return
		}
		invalidated += n
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: map[string]any{"invalidated": invalidated}})
}

// writeError maps the error taxonomy onto HTTP statuses: validation
// errors are 400, security rejections 403 (429 for complexity limits),
// store failures a generic 500 that never leaks internals.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var valErr *qerr.ValidationError
	if errors.As(err, &valErr) {
		writeJSON(w, http.StatusBadRequest, envelope{Success: false, Error: toErrorBody(err)})
		return
	}
	if secErr, ok := qerr.IsSecurity(err); ok {
		status := http.StatusForbidden
		if secErr.Rule == qerr.RuleComplexity {
			status = http.StatusTooManyRequests
		}
		writeJSON(w, status, envelope{Success: false, Error: toErrorBody(err)})
		return
	}

	reqLogger := logging.FromContext(r.Context())
	var storeErr *qerr.StoreError
	if errors.As(err, &storeErr) {
		reqLogger.Error("store failure",
			slog.String("op", storeErr.Op),
			slog.String("error", storeErr.Error()),
		)
		writeJSON(w, http.StatusInternalServerError, envelope{Success: false, Error: &errorBody{
			Kind: "store", Message: "the query could not be executed",
		}})
		return
	}
	reqLogger.Error("unhandled query error", slog.String("error", err.Error()))
	writeJSON(w, http.StatusInternalServerError, envelope{Success: false, Error: &errorBody{
		Kind: "internal", Message: "internal error",
	}})
}

func toErrorBody(err error) *errorBody {
	var valErr *qerr.ValidationError
	if errors.As(err, &valErr) {
		return &errorBody{Kind: "validation", Field: valErr.Field, Message: valErr.Message}
	}
	if secErr, ok := qerr.IsSecurity(err); ok {
		return &errorBody{Kind: "security", Rule: secErr.Rule, Message: secErr.Message}
	}
	return &errorBody{Kind: "internal", Message: err.Error()}
}

func writeJSON(w http.ResponseWriter, status int, body envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
