package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/mnemosyne-ai/memstore/internal/storage"
)

func queryLimit(r *http.Request, def, max int) int {
	limit := def
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > max {
		limit = max
	}
	return limit
}

func marshalMap(w http.ResponseWriter, m map[string]any) (string, bool) {
	if m == nil {
		return "", true
	}
	b, err := json.Marshal(m)
	if err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid metadata: %v", err)
		return "", false
	}
	return string(b), true
}

// --- users ---

type userResponse struct {
	ID          string          `json:"id"`
	Email       string          `json:"email"`
	DisplayName string          `json:"display_name"`
	Preferences json.RawMessage `json:"preferences"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

func userJSON(u storage.User) userResponse {
	return userResponse{
		ID: u.ID, Email: u.Email, DisplayName: u.DisplayName,
		Preferences: json.RawMessage(u.Preferences),
		CreatedAt:   u.CreatedAt, UpdatedAt: u.UpdatedAt,
	}
}

func handleCreateUser(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Email       string         `json:"email"`
			DisplayName string         `json:"display_name"`
			Preferences map[string]any `json:"preferences"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		prefs, ok := marshalMap(w, req.Preferences)
		if !ok {
			return
		}

		u, err := deps.Store.CreateUser(storage.User{
			ID:          uuid.New().String(),
			Email:       req.Email,
			DisplayName: req.DisplayName,
			Preferences: prefs,
		})
		if err != nil {
			storeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, userJSON(u))
	}
}

func handleGetUser(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u, err := deps.Store.GetUser(chi.URLParam(r, "id"))
		if err != nil {
			storeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, userJSON(u))
	}
}

func handleUpdateUser(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			DisplayName *string        `json:"display_name"`
			Preferences map[string]any `json:"preferences"`
		}
		if !decodeBody(w, r, &req) {
			return
		}

		id := chi.URLParam(r, "id")
		if req.DisplayName != nil {
			if err := deps.Store.UpdateUserName(id, *req.DisplayName); err != nil {
				storeError(w, err)
				return
			}
		}
		if len(req.Preferences) > 0 {
			if err := deps.Store.PatchUserPreferences(id, req.Preferences); err != nil {
				storeError(w, err)
				return
			}
		}

		u, err := deps.Store.GetUser(id)
		if err != nil {
			storeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, userJSON(u))
	}
}

func handleDeleteUser(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Store.DeleteUser(chi.URLParam(r, "id")); err != nil {
			storeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleUserStats(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := deps.Stats.GetUserStats(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			storeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, stats)
	}
}

func handleUserModels(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		breakdown, err := deps.Stats.ModelBreakdown(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			storeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, breakdown)
	}
}

// --- sessions ---

type sessionResponse struct {
	ID        string          `json:"id"`
	UserID    string          `json:"user_id"`
	Title     string          `json:"title"`
	Context   json.RawMessage `json:"context"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func sessionJSON(s storage.Session) sessionResponse {
	return sessionResponse{
		ID: s.ID, UserID: s.UserID, Title: s.Title,
		Context:   json.RawMessage(s.Context),
		CreatedAt: s.CreatedAt, UpdatedAt: s.UpdatedAt,
	}
}

func handleCreateSession(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			UserID  string         `json:"user_id"`
			Title   string         `json:"title"`
			Context map[string]any `json:"context"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		contextJSON, ok := marshalMap(w, req.Context)
		if !ok {
			return
		}

		sess, err := deps.Store.CreateSession(storage.Session{
			ID: uuid.New().String(), UserID: req.UserID, Title: req.Title, Context: contextJSON,
		})
		if err != nil {
			storeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, sessionJSON(sess))
	}
}

func handleGetSession(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, err := deps.Store.GetSession(chi.URLParam(r, "id"))
		if err != nil {
			storeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, sessionJSON(sess))
	}
}

func handleListSessions(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessions, err := deps.Store.ListSessions(chi.URLParam(r, "id"), queryLimit(r, 50, 500))
		if err != nil {
			storeError(w, err)
			return
		}
		out := make([]sessionResponse, 0, len(sessions))
		for _, s := range sessions {
			out = append(out, sessionJSON(s))
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func handleUpdateSession(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Title   *string        `json:"title"`
			Context map[string]any `json:"context"`
		}
		if !decodeBody(w, r, &req) {
			return
		}

		id := chi.URLParam(r, "id")
		sess, err := deps.Store.GetSession(id)
		if err != nil {
			storeError(w, err)
			return
		}

		title := sess.Title
		if req.Title != nil {
			title = *req.Title
		}
		contextJSON := sess.Context
		if req.Context != nil {
			if contextJSON, _ = marshalMap(w, req.Context); contextJSON == "" {
				return
			}
		}

		if err := deps.Store.UpdateSession(id, title, contextJSON); err != nil {
			storeError(w, err)
			return
		}
		updated, err := deps.Store.GetSession(id)
		if err != nil {
			storeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, sessionJSON(updated))
	}
}

func handleDeleteSession(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Store.DeleteSession(chi.URLParam(r, "id")); err != nil {
			storeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// --- conversations and messages ---

type conversationResponse struct {
	ID        string          `json:"id"`
	SessionID string          `json:"session_id"`
	UserID    string          `json:"user_id"`
	Metadata  json.RawMessage `json:"metadata"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func conversationJSON(c storage.Conversation) conversationResponse {
	return conversationResponse{
		ID: c.ID, SessionID: c.SessionID, UserID: c.UserID,
		Metadata:  json.RawMessage(c.Metadata),
		CreatedAt: c.CreatedAt, UpdatedAt: c.UpdatedAt,
	}
}

func handleCreateConversation(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			SessionID string         `json:"session_id"`
			UserID    string         `json:"user_id"`
			Metadata  map[string]any `json:"metadata"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		meta, ok := marshalMap(w, req.Metadata)
		if !ok {
			return
		}

		c, err := deps.Store.CreateConversation(storage.Conversation{
			ID: uuid.New().String(), SessionID: req.SessionID, UserID: req.UserID, Metadata: meta,
		})
		if err != nil {
			storeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, conversationJSON(c))
	}
}

func handleGetConversation(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := deps.Store.GetConversation(chi.URLParam(r, "id"))
		if err != nil {
			storeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, conversationJSON(c))
	}
}

func handleUpdateConversation(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Metadata map[string]any `json:"metadata"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		meta, ok := marshalMap(w, req.Metadata)
		if !ok {
			return
		}

		id := chi.URLParam(r, "id")
		if err := deps.Store.UpdateConversationMetadata(id, meta); err != nil {
			storeError(w, err)
			return
		}
		c, err := deps.Store.GetConversation(id)
		if err != nil {
			storeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, conversationJSON(c))
	}
}

func handleDeleteConversation(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Store.DeleteConversation(chi.URLParam(r, "id")); err != nil {
			storeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

type messageResponse struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	Model          string    `json:"model,omitempty"`
	TokensIn       int       `json:"tokens_in"`
	TokensOut      int       `json:"tokens_out"`
	Cost           *float64  `json:"cost,omitempty"`
	LatencyMs      *int64    `json:"latency_ms,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

func messageJSON(m storage.Message) messageResponse {
	return messageResponse{
		ID: m.ID, ConversationID: m.ConversationID, Role: m.Role, Content: m.Content,
		Model: m.Model, TokensIn: m.TokensIn, TokensOut: m.TokensOut,
		Cost: m.Cost, LatencyMs: m.LatencyMs, CreatedAt: m.CreatedAt,
	}
}

func handleCreateMessage(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ConversationID string   `json:"conversation_id"`
			Role           string   `json:"role"`
			Content        string   `json:"content"`
			Model          string   `json:"model"`
			TokensIn       int      `json:"tokens_in"`
			TokensOut      int      `json:"tokens_out"`
			Cost           *float64 `json:"cost"`
			LatencyMs      *int64   `json:"latency_ms"`
		}
		if !decodeBody(w, r, &req) {
			return
		}

		m, err := deps.Store.CreateMessage(storage.Message{
			ID:             uuid.New().String(),
			ConversationID: req.ConversationID,
			Role:           req.Role,
			Content:        req.Content,
			Model:          req.Model,
			TokensIn:       req.TokensIn,
			TokensOut:      req.TokensOut,
			Cost:           req.Cost,
			LatencyMs:      req.LatencyMs,
		})
		if err != nil {
			storeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, messageJSON(m))
	}
}

func handleListMessages(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		messages, err := deps.Store.ListMessages(chi.URLParam(r, "id"), queryLimit(r, 100, 1000))
		if err != nil {
			storeError(w, err)
			return
		}
		out := make([]messageResponse, 0, len(messages))
		for _, m := range messages {
			out = append(out, messageJSON(m))
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// --- workflows ---

type workflowResponse struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Definition  json.RawMessage `json:"definition"`
	Active      bool            `json:"active"`
	CreatedBy   string          `json:"created_by,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

func workflowJSON(wf storage.Workflow) workflowResponse {
	return workflowResponse{
		ID: wf.ID, Name: wf.Name, Description: wf.Description,
		Definition: json.RawMessage(wf.Definition), Active: wf.Active,
		CreatedBy: wf.CreatedBy, CreatedAt: wf.CreatedAt, UpdatedAt: wf.UpdatedAt,
	}
}

func handleCreateWorkflow(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Name        string         `json:"name"`
			Description string         `json:"description"`
			Definition  map[string]any `json:"definition"`
			Active      *bool          `json:"active"`
			CreatedBy   string         `json:"created_by"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		def, ok := marshalMap(w, req.Definition)
		if !ok {
			return
		}
		active := true
		if req.Active != nil {
			active = *req.Active
		}

		wf, err := deps.Store.CreateWorkflow(storage.Workflow{
			ID: uuid.New().String(), Name: req.Name, Description: req.Description,
			Definition: def, Active: active, CreatedBy: req.CreatedBy,
		})
		if err != nil {
			storeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, workflowJSON(wf))
	}
}

func handleGetWorkflow(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		wf, err := deps.Store.GetWorkflow(chi.URLParam(r, "id"))
		if err != nil {
			storeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, workflowJSON(wf))
	}
}

func handleUpdateWorkflow(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Description *string        `json:"description"`
			Definition  map[string]any `json:"definition"`
			Active      *bool          `json:"active"`
		}
		if !decodeBody(w, r, &req) {
			return
		}

		id := chi.URLParam(r, "id")
		wf, err := deps.Store.GetWorkflow(id)
		if err != nil {
			storeError(w, err)
			return
		}

		description := wf.Description
		if req.Description != nil {
			description = *req.Description
		}
		definition := wf.Definition
		if req.Definition != nil {
			if definition, _ = marshalMap(w, req.Definition); definition == "" {
				return
			}
		}
		active := wf.Active
		if req.Active != nil {
			active = *req.Active
		}

		if err := deps.Store.UpdateWorkflow(id, description, definition, active); err != nil {
			storeError(w, err)
			return
		}
		updated, err := deps.Store.GetWorkflow(id)
		if err != nil {
			storeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, workflowJSON(updated))
	}
}

func handleDeleteWorkflow(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Store.DeleteWorkflow(chi.URLParam(r, "id")); err != nil {
			storeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

type executionResponse struct {
	ID          string          `json:"id"`
	WorkflowID  string          `json:"workflow_id"`
	Status      string          `json:"status"`
	Input       json.RawMessage `json:"input"`
	Output      json.RawMessage `json:"output"`
	Error       string          `json:"error,omitempty"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

func executionJSON(e storage.WorkflowExecution) executionResponse {
	return executionResponse{
		ID: e.ID, WorkflowID: e.WorkflowID, Status: e.Status,
		Input: json.RawMessage(e.Input), Output: json.RawMessage(e.Output), Error: e.Error,
		StartedAt: e.StartedAt, CompletedAt: e.CompletedAt, CreatedAt: e.CreatedAt,
	}
}

func handleCreateExecution(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Input map[string]any `json:"input"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		input, ok := marshalMap(w, req.Input)
		if !ok {
			return
		}

		e, err := deps.Store.CreateExecution(storage.WorkflowExecution{
			ID: uuid.New().String(), WorkflowID: chi.URLParam(r, "id"), Input: input,
		})
		if err != nil {
			storeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, executionJSON(e))
	}
}

func handleGetExecution(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		e, err := deps.Store.GetExecution(chi.URLParam(r, "id"))
		if err != nil {
			storeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, executionJSON(e))
	}
}

func handleTransitionExecution(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Status string         `json:"status"`
			Output map[string]any `json:"output"`
			Error  string         `json:"error"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		output, ok := marshalMap(w, req.Output)
		if !ok {
			return
		}

		id := chi.URLParam(r, "id")
		if err := deps.Store.TransitionExecution(id, req.Status, output, req.Error); err != nil {
			storeError(w, err)
			return
		}
		e, err := deps.Store.GetExecution(id)
		if errors.Is(err, storage.ErrNotFound) {
			// Transition on a missing execution is a contractual no-op.
			w.WriteHeader(http.StatusNoContent)
			return
		}
		if err != nil {
			storeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, executionJSON(e))
	}
}
