package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mnemosyne-ai/memstore/internal/analytics"
	"github.com/mnemosyne-ai/memstore/internal/ingest"
	"github.com/mnemosyne-ai/memstore/internal/routing"
	"github.com/mnemosyne-ai/memstore/internal/search"
	"github.com/mnemosyne-ai/memstore/internal/storage"
)

const testToken = "test-token"

func newTestHandler(t *testing.T) (http.Handler, *storage.Store) {
	t.Helper()
	s, err := storage.Open(":memory:", 4)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	h := NewHandler(Deps{
		Store:  s,
		Search: search.NewSQLiteEngine(s),
		Stats:  analytics.NewAggregator(s),
		Router: routing.NewRouter(nil),
		Token:  testToken,
	})
	return h, s
}

// do sends an authenticated JSON request and returns the recorder.
func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encoding body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Authorization", "Bearer "+testToken)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decoding response %q: %v", rec.Body.String(), err)
	}
}

func errType(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var envelope struct {
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	decode(t, rec, &envelope)
	return envelope.Error.Type
}

func TestHealthNeedsNoAuth(t *testing.T) {
	h, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("health status = %d, want 200", rec.Code)
	}
}

func TestBearerAuth(t *testing.T) {
	h, _ := newTestHandler(t)

	tests := []struct {
		name, header string
	}{
		{"missing header", ""},
		{"wrong scheme", "Basic dXNlcjpwYXNz"},
		{"wrong token", "Bearer nope"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/users/u1", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want 401", rec.Code)
			}
		})
	}
}

func TestUserLifecycle(t *testing.T) {
	h, _ := newTestHandler(t)

	rec := do(t, h, http.MethodPost, "/users", map[string]any{
		"email":        "dev@example.com",
		"display_name": "Dev",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d: %s", rec.Code, rec.Body.String())
	}
	var created userResponse
	decode(t, rec, &created)
	if created.ID == "" || created.Email != "dev@example.com" {
		t.Fatalf("created user wrong: %+v", created)
	}

	rec = do(t, h, http.MethodGet, "/users/"+created.ID, nil)
	if rec.Code != http.StatusOK {
		t.Errorf("get status = %d", rec.Code)
	}

	rec = do(t, h, http.MethodGet, "/users/ghost", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing user status = %d, want 404", rec.Code)
	}
	if typ := errType(t, rec); typ != "not_found_error" {
		t.Errorf("error type = %q, want not_found_error", typ)
	}

	rec = do(t, h, http.MethodDelete, "/users/"+created.ID, nil)
	if rec.Code != http.StatusNoContent {
		t.Errorf("delete status = %d, want 204", rec.Code)
	}
}

func TestCreateUserRequiresEmail(t *testing.T) {
	h, _ := newTestHandler(t)

	rec := do(t, h, http.MethodPost, "/users", map[string]any{"display_name": "No Email"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
	if typ := errType(t, rec); typ != "invalid_request_error" {
		t.Errorf("error type = %q, want invalid_request_error", typ)
	}
}

func TestCreateMemoryDefaultsAndEnqueuesJob(t *testing.T) {
	h, s := newTestHandler(t)

	rec := do(t, h, http.MethodPost, "/memories", map[string]any{
		"scope":    "agent",
		"owner_id": "planner",
		"content":  "the staging cluster lives in eu-west-1",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d: %s", rec.Code, rec.Body.String())
	}
	var created memoryResponse
	decode(t, rec, &created)
	if created.HasEmbedding {
		t.Error("entry without a vector reported has_embedding = true")
	}
	if created.Importance != 0.5 {
		t.Errorf("default importance = %v, want 0.5", created.Importance)
	}

	// The create queued an embedding job pointing at the new entry.
	job, err := s.ClaimNextJob([]string{ingest.JobEmbedMemory})
	if err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if job == nil {
		t.Fatal("no embed job enqueued")
	}
	var payload ingest.EmbedPayload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &payload); err != nil {
		t.Fatalf("parsing payload: %v", err)
	}
	if payload.MemoryEntryID != created.ID {
		t.Errorf("job targets %q, want %q", payload.MemoryEntryID, created.ID)
	}
}

func TestCreateMemoryWithVectorSkipsQueue(t *testing.T) {
	h, s := newTestHandler(t)

	rec := do(t, h, http.MethodPost, "/memories", map[string]any{
		"scope":      "agent",
		"owner_id":   "planner",
		"content":    "pre-embedded",
		"embedding":  []float32{1, 0, 0, 0},
		"importance": 0,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d: %s", rec.Code, rec.Body.String())
	}
	var created memoryResponse
	decode(t, rec, &created)
	if !created.HasEmbedding {
		t.Error("has_embedding = false for a pre-embedded entry")
	}
	// Importance 0 was given explicitly and must not be replaced by the default.
	if created.Importance != 0 {
		t.Errorf("importance = %v, want 0", created.Importance)
	}

	job, err := s.ClaimNextJob([]string{ingest.JobEmbedMemory})
	if err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if job != nil {
		t.Errorf("unexpected embed job for pre-embedded entry: %+v", job)
	}
}

func TestCreateMemoryValidation(t *testing.T) {
	h, _ := newTestHandler(t)

	tests := []struct {
		name string
		body map[string]any
	}{
		{"bad scope", map[string]any{"scope": "galaxy", "owner_id": "x", "content": "c"}},
		{"wrong dimension", map[string]any{"scope": "agent", "owner_id": "x", "content": "c", "embedding": []float32{1, 2}}},
		{"importance out of range", map[string]any{"scope": "agent", "owner_id": "x", "content": "c", "importance": 3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, "/memories", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400: %s", rec.Code, rec.Body.String())
			}
		})
	}
}

func TestSearchEndpoint(t *testing.T) {
	h, _ := newTestHandler(t)

	vectors := map[string][]float32{
		"near": {1, 0, 0, 0},
		"far":  {0.8, 0.6, 0, 0},
	}
	for content, vec := range vectors {
		rec := do(t, h, http.MethodPost, "/memories", map[string]any{
			"scope": "agent", "owner_id": "planner", "content": content, "embedding": vec,
		})
		if rec.Code != http.StatusCreated {
			t.Fatalf("seeding %s: %d %s", content, rec.Code, rec.Body.String())
		}
	}

	rec := do(t, h, http.MethodPost, "/memories/search", map[string]any{
		"scope": "agent", "owner_id": "planner", "vector": []float32{1, 0, 0, 0},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("search status = %d: %s", rec.Code, rec.Body.String())
	}
	var results []searchResult
	decode(t, rec, &results)
	if len(results) != 2 {
		t.Fatalf("results = %d, want 2: %s", len(results), rec.Body.String())
	}
	if results[0].Entry.Content != "near" {
		t.Errorf("best match = %q, want near", results[0].Entry.Content)
	}
	if results[0].Score <= results[1].Score {
		t.Errorf("scores not descending: %v", results)
	}

	rec = do(t, h, http.MethodPost, "/memories/search", map[string]any{"scope": "agent"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing vector status = %d, want 400", rec.Code)
	}

	rec = do(t, h, http.MethodPost, "/memories/search", map[string]any{"vector": []float32{1, 0}})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("wrong dimension status = %d, want 400", rec.Code)
	}
}

func TestRecordAccessEndpoint(t *testing.T) {
	h, _ := newTestHandler(t)

	rec := do(t, h, http.MethodPost, "/memories", map[string]any{
		"scope": "agent", "owner_id": "planner", "content": "counted",
	})
	var created memoryResponse
	decode(t, rec, &created)

	for i := 0; i < 3; i++ {
		if rec := do(t, h, http.MethodPost, "/memories/"+created.ID+"/access", nil); rec.Code != http.StatusNoContent {
			t.Fatalf("access status = %d, want 204", rec.Code)
		}
	}

	rec = do(t, h, http.MethodGet, "/memories/"+created.ID, nil)
	var got memoryResponse
	decode(t, rec, &got)
	if got.AccessCount != 3 {
		t.Errorf("access count = %d, want 3", got.AccessCount)
	}
	if got.LastAccessed == nil {
		t.Error("last_accessed not set")
	}
}

func TestRouteAndOutcome(t *testing.T) {
	h, _ := newTestHandler(t)

	rec := do(t, h, http.MethodPost, "/route", map[string]any{
		"query": "what is the meaning of life",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("route status = %d: %s", rec.Code, rec.Body.String())
	}
	var routed struct {
		Decision           decisionResponse `json:"decision"`
		EstimatedCost      float64          `json:"estimated_cost"`
		EstimatedLatencyMs int64            `json:"estimated_latency_ms"`
	}
	decode(t, rec, &routed)
	if routed.Decision.ID == "" || routed.Decision.SelectedModel == "" {
		t.Fatalf("decision incomplete: %+v", routed.Decision)
	}
	if routed.Decision.Feedback != nil {
		t.Error("fresh decision already carries feedback")
	}

	// Phase two: report the outcome.
	rec = do(t, h, http.MethodPatch, "/routing-decisions/"+routed.Decision.ID+"/outcome", map[string]any{
		"feedback":          4,
		"actual_cost":       0.001,
		"actual_latency_ms": 230,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("outcome status = %d: %s", rec.Code, rec.Body.String())
	}
	var updated decisionResponse
	decode(t, rec, &updated)
	if updated.Feedback == nil || *updated.Feedback != 4 {
		t.Errorf("feedback = %v, want 4", updated.Feedback)
	}

	// Out-of-range feedback is rejected.
	rec = do(t, h, http.MethodPatch, "/routing-decisions/"+routed.Decision.ID+"/outcome", map[string]any{
		"feedback": 9,
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad feedback status = %d, want 400", rec.Code)
	}

	// Outcomes for unknown decisions are acknowledged without a body.
	rec = do(t, h, http.MethodPatch, "/routing-decisions/ghost/outcome", map[string]any{
		"feedback": 3,
	})
	if rec.Code != http.StatusNoContent {
		t.Errorf("missing decision status = %d, want 204", rec.Code)
	}
}

func TestRouteRequiresQuery(t *testing.T) {
	h, _ := newTestHandler(t)
	rec := do(t, h, http.MethodPost, "/route", map[string]any{})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestCreateExecutionForMissingWorkflow(t *testing.T) {
	h, _ := newTestHandler(t)

	rec := do(t, h, http.MethodPost, "/workflows/ghost/executions", map[string]any{})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400: %s", rec.Code, rec.Body.String())
	}
	if typ := errType(t, rec); typ != "invalid_request_error" {
		t.Errorf("error type = %q, want invalid_request_error", typ)
	}
}

func TestExecutionTransitionConflict(t *testing.T) {
	h, _ := newTestHandler(t)

	rec := do(t, h, http.MethodPost, "/workflows", map[string]any{"name": "nightly sync"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create workflow: %d %s", rec.Code, rec.Body.String())
	}
	var wf workflowResponse
	decode(t, rec, &wf)

	rec = do(t, h, http.MethodPost, "/workflows/"+wf.ID+"/executions", map[string]any{
		"input": map[string]any{"dry_run": true},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create execution: %d %s", rec.Code, rec.Body.String())
	}
	var exec executionResponse
	decode(t, rec, &exec)
	if exec.Status != storage.StatusPending {
		t.Errorf("initial status = %q, want pending", exec.Status)
	}

	rec = do(t, h, http.MethodPatch, "/executions/"+exec.ID+"/status", map[string]any{
		"status": storage.StatusCompleted,
		"output": map[string]any{"synced": 12},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("transition status = %d: %s", rec.Code, rec.Body.String())
	}

	// A second transition off a terminal state is a conflict.
	rec = do(t, h, http.MethodPatch, "/executions/"+exec.ID+"/status", map[string]any{
		"status": storage.StatusRunning,
	})
	if rec.Code != http.StatusConflict {
		t.Errorf("terminal transition status = %d, want 409", rec.Code)
	}

	// Missing executions are a quiet no-op.
	rec = do(t, h, http.MethodPatch, "/executions/ghost/status", map[string]any{
		"status": storage.StatusRunning,
	})
	if rec.Code != http.StatusNoContent {
		t.Errorf("missing execution status = %d, want 204", rec.Code)
	}
}

func TestUserStatsEndpoint(t *testing.T) {
	h, _ := newTestHandler(t)

	rec := do(t, h, http.MethodPost, "/users", map[string]any{"email": "stats@example.com"})
	var u userResponse
	decode(t, rec, &u)

	rec = do(t, h, http.MethodPost, "/sessions", map[string]any{"user_id": u.ID})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create session: %d %s", rec.Code, rec.Body.String())
	}
	var sess sessionResponse
	decode(t, rec, &sess)

	rec = do(t, h, http.MethodPost, "/conversations", map[string]any{
		"session_id": sess.ID, "user_id": u.ID,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create conversation: %d %s", rec.Code, rec.Body.String())
	}
	var conv conversationResponse
	decode(t, rec, &conv)

	for i := 0; i < 2; i++ {
		rec = do(t, h, http.MethodPost, "/messages", map[string]any{
			"conversation_id": conv.ID,
			"role":            "assistant",
			"content":         fmt.Sprintf("reply %d", i),
			"model":           "llama3.1:8b",
			"cost":            0.01,
			"latency_ms":      100,
		})
		if rec.Code != http.StatusCreated {
			t.Fatalf("create message: %d %s", rec.Code, rec.Body.String())
		}
	}

	rec = do(t, h, http.MethodGet, "/users/"+u.ID+"/stats", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("stats status = %d: %s", rec.Code, rec.Body.String())
	}
	var stats storage.UserStats
	decode(t, rec, &stats)
	if stats.TotalMessages != 2 || stats.FavoriteModel != "llama3.1:8b" {
		t.Errorf("stats wrong: %+v", stats)
	}

	rec = do(t, h, http.MethodGet, "/users/"+u.ID+"/models", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("models status = %d: %s", rec.Code, rec.Body.String())
	}
	var breakdown []analytics.ModelUsage
	decode(t, rec, &breakdown)
	if len(breakdown) != 1 || breakdown[0].Messages != 2 {
		t.Errorf("breakdown wrong: %+v", breakdown)
	}
}

func TestMetricsRequireName(t *testing.T) {
	h, _ := newTestHandler(t)
	rec := do(t, h, http.MethodGet, "/metrics", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}
