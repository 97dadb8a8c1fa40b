// Package api exposes the store's contracts over HTTP (chi router, bearer
// auth) and MCP (stdio). Validation failures map to 400, missing reads to
// 404, illegal workflow transitions to 409, and storage-level failures to
// 503 so callers know the operation is retryable.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mnemosyne-ai/memstore/internal/analytics"
	"github.com/mnemosyne-ai/memstore/internal/routing"
	"github.com/mnemosyne-ai/memstore/internal/search"
	"github.com/mnemosyne-ai/memstore/internal/storage"
)

const maxBodySize = 10 << 20 // 10MB

// Deps holds the collaborators the HTTP layer dispatches to.
type Deps struct {
	Store  *storage.Store
	Search search.Engine
	Stats  *analytics.Aggregator
	Router *routing.Router
	Token  string
}

// NewHandler builds the authenticated REST surface.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		// Core entities.
		r.Post("/users", handleCreateUser(deps))
		r.Get("/users/{id}", handleGetUser(deps))
		r.Patch("/users/{id}", handleUpdateUser(deps))
		r.Delete("/users/{id}", handleDeleteUser(deps))
		r.Get("/users/{id}/stats", handleUserStats(deps))
		r.Get("/users/{id}/models", handleUserModels(deps))
		r.Get("/users/{id}/sessions", handleListSessions(deps))

		r.Post("/sessions", handleCreateSession(deps))
		r.Get("/sessions/{id}", handleGetSession(deps))
		r.Patch("/sessions/{id}", handleUpdateSession(deps))
		r.Delete("/sessions/{id}", handleDeleteSession(deps))

		r.Post("/conversations", handleCreateConversation(deps))
		r.Get("/conversations/{id}", handleGetConversation(deps))
		r.Patch("/conversations/{id}", handleUpdateConversation(deps))
		r.Delete("/conversations/{id}", handleDeleteConversation(deps))
		r.Get("/conversations/{id}/messages", handleListMessages(deps))
		r.Post("/messages", handleCreateMessage(deps))

		// Memory namespace.
		r.Post("/memories", handleCreateMemory(deps))
		r.Get("/memories", handleListMemories(deps))
		r.Get("/memories/{id}", handleGetMemory(deps))
		r.Patch("/memories/{id}", handleUpdateMemory(deps))
		r.Delete("/memories/{id}", handleDeleteMemory(deps))
		r.Post("/memories/search", handleSearchMemories(deps))
		r.Post("/memories/{id}/access", handleRecordAccess(deps))

		// Routing analytics.
		r.Post("/route", handleRoute(deps))
		r.Post("/routing-decisions", handleCreateDecision(deps))
		r.Get("/routing-decisions", handleListDecisions(deps))
		r.Get("/routing-decisions/{id}", handleGetDecision(deps))
		r.Patch("/routing-decisions/{id}/outcome", handleUpdateOutcome(deps))

		r.Post("/usage", handleCreateUsage(deps))
		r.Get("/usage", handleListUsage(deps))
		r.Post("/metrics", handleCreateMetric(deps))
		r.Get("/metrics", handleListMetrics(deps))

		// Workflows.
		r.Post("/workflows", handleCreateWorkflow(deps))
		r.Get("/workflows/{id}", handleGetWorkflow(deps))
		r.Patch("/workflows/{id}", handleUpdateWorkflow(deps))
		r.Delete("/workflows/{id}", handleDeleteWorkflow(deps))
		r.Post("/workflows/{id}/executions", handleCreateExecution(deps))
		r.Get("/executions/{id}", handleGetExecution(deps))
		r.Patch("/executions/{id}/status", handleTransitionExecution(deps))
	})

	return r
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

// storeError translates storage sentinels into the error envelope.
func storeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		httpError(w, http.StatusNotFound, "not_found_error", "%v", err)
	case errors.Is(err, storage.ErrInvalidInput), errors.Is(err, storage.ErrDimensionMismatch):
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
	case errors.Is(err, storage.ErrInvalidTransition):
		httpError(w, http.StatusConflict, "invalid_request_error", "%v", err)
	default:
		httpError(w, http.StatusServiceUnavailable, "api_error", "storage unavailable: %v", err)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// decodeBody decodes a JSON request body, enforcing the size cap.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return false
	}
	return true
}
