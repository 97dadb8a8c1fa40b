package api

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/mnemosyne-ai/memstore/internal/ingest"
	"github.com/mnemosyne-ai/memstore/internal/search"
	"github.com/mnemosyne-ai/memstore/internal/storage"
)

type memoryResponse struct {
	ID           string          `json:"id"`
	Scope        string          `json:"scope"`
	OwnerID      string          `json:"owner_id"`
	MemoryType   string          `json:"memory_type"`
	Content      string          `json:"content"`
	HasEmbedding bool            `json:"has_embedding"`
	Metadata     json.RawMessage `json:"metadata"`
	Importance   float64         `json:"importance"`
	AccessCount  int64           `json:"access_count"`
	LastAccessed *time.Time      `json:"last_accessed,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

func memoryJSON(e storage.MemoryEntry) memoryResponse {
	return memoryResponse{
		ID: e.ID, Scope: e.Scope, OwnerID: e.OwnerID, MemoryType: e.MemoryType,
		Content: e.Content, HasEmbedding: e.Embedding != nil,
		Metadata: json.RawMessage(e.Metadata), Importance: e.Importance,
		AccessCount: e.AccessCount, LastAccessed: e.LastAccessed,
		CreatedAt: e.CreatedAt, UpdatedAt: e.UpdatedAt,
	}
}

// extractContent turns the submitted content into plain text. PDF bodies
// arrive base64-encoded; HTML arrives as markup. Anything else is stored
// as-is.
func extractContent(content, contentType string) (string, error) {
	switch contentType {
	case "pdf":
		raw, err := base64.StdEncoding.DecodeString(content)
		if err != nil {
			return "", err
		}
		return ingest.ExtractPDF(raw)
	case "html":
		return ingest.ExtractHTML([]byte(content))
	default:
		return content, nil
	}
}

func handleCreateMemory(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Scope       string         `json:"scope"`
			OwnerID     string         `json:"owner_id"`
			MemoryType  string         `json:"memory_type"`
			Content     string         `json:"content"`
			ContentType string         `json:"content_type"`
			Embedding   []float32      `json:"embedding"`
			Metadata    map[string]any `json:"metadata"`
			Importance  *float64       `json:"importance"`
		}
		if !decodeBody(w, r, &req) {
			return
		}

		content, err := extractContent(req.Content, req.ContentType)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "extracting %s content: %v", req.ContentType, err)
			return
		}
		meta, ok := marshalMap(w, req.Metadata)
		if !ok {
			return
		}

		// Importance 0 is a legal value, so the default applies only when
		// the field is absent.
		importance := 0.5
		if req.Importance != nil {
			importance = *req.Importance
		}

		entry, err := deps.Store.CreateMemoryEntry(storage.MemoryEntry{
			ID:         uuid.New().String(),
			Scope:      req.Scope,
			OwnerID:    req.OwnerID,
			MemoryType: req.MemoryType,
			Content:    content,
			Embedding:  req.Embedding,
			Metadata:   meta,
			Importance: importance,
		})
		if err != nil {
			storeError(w, err)
			return
		}

		// Entries submitted without a vector are embedded asynchronously.
		if entry.Embedding == nil {
			payload, _ := json.Marshal(ingest.EmbedPayload{MemoryEntryID: entry.ID})
			if err := deps.Store.EnqueueJob(storage.Job{
				ID:          uuid.New().String(),
				Type:        ingest.JobEmbedMemory,
				PayloadJSON: string(payload),
			}); err != nil {
				storeError(w, err)
				return
			}
		}

		writeJSON(w, http.StatusCreated, memoryJSON(entry))
	}
}

func handleGetMemory(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entry, err := deps.Store.GetMemoryEntry(chi.URLParam(r, "id"))
		if err != nil {
			storeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, memoryJSON(entry))
	}
}

func handleListMemories(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		scope := r.URL.Query().Get("scope")
		ownerID := r.URL.Query().Get("owner_id")
		if scope == "" || ownerID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "scope and owner_id query parameters are required")
			return
		}

		entries, err := deps.Store.ListMemoryEntries(scope, ownerID, queryLimit(r, 50, 500))
		if err != nil {
			storeError(w, err)
			return
		}
		out := make([]memoryResponse, 0, len(entries))
		for _, e := range entries {
			out = append(out, memoryJSON(e))
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func handleUpdateMemory(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Content    *string        `json:"content"`
			Metadata   map[string]any `json:"metadata"`
			Importance *float64       `json:"importance"`
			Embedding  []float32      `json:"embedding"`
		}
		if !decodeBody(w, r, &req) {
			return
		}

		upd := storage.MemoryUpdate{
			Content:    req.Content,
			Importance: req.Importance,
			Embedding:  req.Embedding,
		}
		if req.Metadata != nil {
			meta, ok := marshalMap(w, req.Metadata)
			if !ok {
				return
			}
			upd.Metadata = &meta
		}

		id := chi.URLParam(r, "id")
		if err := deps.Store.UpdateMemoryEntry(id, upd); err != nil {
			storeError(w, err)
			return
		}
		entry, err := deps.Store.GetMemoryEntry(id)
		if err != nil {
			storeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, memoryJSON(entry))
	}
}

func handleDeleteMemory(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Store.DeleteMemoryEntry(chi.URLParam(r, "id")); err != nil {
			storeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

type searchResult struct {
	Score float32        `json:"score"`
	Entry memoryResponse `json:"entry"`
}

func handleSearchMemories(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Scope     string    `json:"scope"`
			OwnerID   string    `json:"owner_id"`
			Vector    []float32 `json:"vector"`
			Threshold *float64  `json:"threshold"`
			Limit     int       `json:"limit"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		if len(req.Vector) == 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "vector is required")
			return
		}

		results, err := deps.Search.Search(r.Context(), search.Query{
			Scope:     req.Scope,
			OwnerID:   req.OwnerID,
			Vector:    req.Vector,
			Threshold: req.Threshold,
			Limit:     req.Limit,
		})
		if err != nil {
			storeError(w, err)
			return
		}

		out := make([]searchResult, 0, len(results))
		for _, res := range results {
			out = append(out, searchResult{Score: res.Score, Entry: memoryJSON(res.Entry)})
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func handleRecordAccess(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Store.RecordAccess(chi.URLParam(r, "id")); err != nil {
			storeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
