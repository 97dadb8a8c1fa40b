package api

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/mnemosyne-ai/memstore/internal/analytics"
	"github.com/mnemosyne-ai/memstore/internal/ingest"
	"github.com/mnemosyne-ai/memstore/internal/routing"
	"github.com/mnemosyne-ai/memstore/internal/search"
	"github.com/mnemosyne-ai/memstore/internal/storage"
)

type stubEmbedder struct {
	vec []float32
	err error
}

func (s *stubEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	return s.vec, s.err
}

func newMCPDeps(t *testing.T) (MCPDeps, *storage.Store) {
	t.Helper()
	s, err := storage.Open(":memory:", 4)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	deps := MCPDeps{
		Store:    s,
		Search:   search.NewSQLiteEngine(s),
		Stats:    analytics.NewAggregator(s),
		Router:   routing.NewRouter(nil),
		Embedder: &stubEmbedder{vec: []float32{1, 0, 0, 0}},
	}
	return deps, s
}

func toolReq(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	if len(res.Content) != 1 {
		t.Fatalf("content blocks = %d, want 1", len(res.Content))
	}
	text, ok := res.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("content is %T, want TextContent", res.Content[0])
	}
	return text.Text
}

func TestMCPRememberStoresAndQueues(t *testing.T) {
	deps, s := newMCPDeps(t)
	handler := mcpRemember(deps)

	res, err := handler(context.Background(), toolReq(map[string]any{
		"scope":    "agent",
		"owner_id": "planner",
		"content":  "prod deploys freeze on Fridays",
	}))
	if err != nil {
		t.Fatalf("remember: %v", err)
	}
	if res.IsError {
		t.Fatalf("remember errored: %s", resultText(t, res))
	}

	entries, err := s.ListMemoryEntries(storage.ScopeAgent, "planner", 10)
	if err != nil {
		t.Fatalf("ListMemoryEntries: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	if entries[0].Importance != 0.5 {
		t.Errorf("default importance = %v, want 0.5", entries[0].Importance)
	}

	job, err := s.ClaimNextJob([]string{ingest.JobEmbedMemory})
	if err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if job == nil {
		t.Fatal("no embed job enqueued")
	}
}

func TestMCPRememberMissingArgs(t *testing.T) {
	deps, _ := newMCPDeps(t)
	handler := mcpRemember(deps)

	res, err := handler(context.Background(), toolReq(map[string]any{
		"scope": "agent",
	}))
	if err != nil {
		t.Fatalf("remember: %v", err)
	}
	if !res.IsError {
		t.Error("expected error result for missing owner_id and content")
	}
}

func TestMCPRecall(t *testing.T) {
	deps, s := newMCPDeps(t)

	for i, vec := range [][]float32{{1, 0, 0, 0}, {0, 1, 0, 0}} {
		_, err := s.CreateMemoryEntry(storage.MemoryEntry{
			ID: string(rune('a' + i)), Scope: storage.ScopeAgent, OwnerID: "planner",
			Content: "memory", Embedding: vec,
		})
		if err != nil {
			t.Fatalf("CreateMemoryEntry: %v", err)
		}
	}

	handler := mcpRecall(deps)
	res, err := handler(context.Background(), toolReq(map[string]any{
		"query": "what do I know",
	}))
	if err != nil {
		t.Fatalf("recall: %v", err)
	}
	if res.IsError {
		t.Fatalf("recall errored: %s", resultText(t, res))
	}

	var results []struct {
		ID    string  `json:"id"`
		Score float32 `json:"score"`
	}
	if err := json.Unmarshal([]byte(resultText(t, res)), &results); err != nil {
		t.Fatalf("parsing results: %v", err)
	}
	// The orthogonal entry falls below the similarity floor.
	if len(results) != 1 || results[0].ID != "a" {
		t.Errorf("results = %+v, want just entry a", results)
	}
}

func TestMCPRecallWithoutEmbedder(t *testing.T) {
	deps, _ := newMCPDeps(t)
	deps.Embedder = nil

	res, err := mcpRecall(deps)(context.Background(), toolReq(map[string]any{
		"query": "anything",
	}))
	if err != nil {
		t.Fatalf("recall: %v", err)
	}
	if !res.IsError {
		t.Error("expected error result when no embedder is configured")
	}
}

func TestMCPRouteAndRate(t *testing.T) {
	deps, s := newMCPDeps(t)

	res, err := mcpRouteQuery(deps)(context.Background(), toolReq(map[string]any{
		"query": "summarize this meeting",
	}))
	if err != nil {
		t.Fatalf("route_query: %v", err)
	}
	if res.IsError {
		t.Fatalf("route_query errored: %s", resultText(t, res))
	}

	var routed struct {
		DecisionID string  `json:"decision_id"`
		Model      string  `json:"model"`
		Confidence float64 `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(resultText(t, res)), &routed); err != nil {
		t.Fatalf("parsing decision: %v", err)
	}
	if routed.DecisionID == "" || routed.Model == "" {
		t.Fatalf("decision incomplete: %+v", routed)
	}

	res, err = mcpRateResponse(deps)(context.Background(), toolReq(map[string]any{
		"decision_id": routed.DecisionID,
		"rating":      5,
	}))
	if err != nil {
		t.Fatalf("rate_response: %v", err)
	}
	if res.IsError {
		t.Fatalf("rate_response errored: %s", resultText(t, res))
	}

	d, err := s.GetRoutingDecision(routed.DecisionID)
	if err != nil {
		t.Fatalf("GetRoutingDecision: %v", err)
	}
	if d.Feedback == nil || *d.Feedback != 5 {
		t.Errorf("feedback = %v, want 5", d.Feedback)
	}

	// Out-of-range ratings surface as tool errors.
	res, err = mcpRateResponse(deps)(context.Background(), toolReq(map[string]any{
		"decision_id": routed.DecisionID,
		"rating":      11,
	}))
	if err != nil {
		t.Fatalf("rate_response: %v", err)
	}
	if !res.IsError {
		t.Error("expected error result for rating 11")
	}
}

func TestMCPModelCatalogResource(t *testing.T) {
	deps, _ := newMCPDeps(t)

	var req mcp.ReadResourceRequest
	req.Params.URI = "memstore://models"
	contents, err := mcpResourceModels(deps)(context.Background(), req)
	if err != nil {
		t.Fatalf("reading resource: %v", err)
	}
	if len(contents) != 1 {
		t.Fatalf("contents = %d, want 1", len(contents))
	}
	text, ok := contents[0].(mcp.TextResourceContents)
	if !ok {
		t.Fatalf("contents are %T, want TextResourceContents", contents[0])
	}

	var catalog []routing.ModelInfo
	if err := json.Unmarshal([]byte(text.Text), &catalog); err != nil {
		t.Fatalf("parsing catalog: %v", err)
	}
	if len(catalog) != len(routing.DefaultCatalog()) {
		t.Errorf("catalog size = %d, want %d", len(catalog), len(routing.DefaultCatalog()))
	}
}
