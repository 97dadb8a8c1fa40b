package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/mnemosyne-ai/memstore/internal/analytics"
	"github.com/mnemosyne-ai/memstore/internal/ingest"
	"github.com/mnemosyne-ai/memstore/internal/routing"
	"github.com/mnemosyne-ai/memstore/internal/search"
	"github.com/mnemosyne-ai/memstore/internal/storage"
)

// MCPEmbedder turns recall queries into vectors. Optional: when nil the
// recall tool reports that semantic search is unavailable.
type MCPEmbedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Store    *storage.Store
	Search   search.Engine
	Stats    *analytics.Aggregator
	Router   *routing.Router
	Embedder MCPEmbedder
}

// NewMCPServer creates an MCP server exposing the memory store to agents
// over stdio.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"memstore",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("memstore: persistent memory and routing analytics for agents."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("remember",
			mcp.WithDescription("Store a memory entry. Text without a vector is embedded asynchronously."),
			mcp.WithString("scope", mcp.Description("Owner scope: user, session, or agent"), mcp.Required()),
			mcp.WithString("owner_id", mcp.Description("ID of the owning user/session, or the agent name"), mcp.Required()),
			mcp.WithString("content", mcp.Description("The text to remember"), mcp.Required()),
			mcp.WithString("memory_type", mcp.Description("Free-form category, e.g. fact, preference, episode")),
			mcp.WithNumber("importance", mcp.Description("Retention weight in [0,1] (default 0.5)")),
		),
		mcpRemember(deps),
	)

	s.AddTool(
		mcp.NewTool("recall",
			mcp.WithDescription("Semantically search stored memories and return the most similar entries."),
			mcp.WithString("query", mcp.Description("Search query"), mcp.Required()),
			mcp.WithString("scope", mcp.Description("Restrict to one owner scope")),
			mcp.WithString("owner_id", mcp.Description("Restrict to one owner")),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 10)")),
		),
		mcpRecall(deps),
	)

	s.AddTool(
		mcp.NewTool("record_access",
			mcp.WithDescription("Mark a memory entry as used, bumping its access counter."),
			mcp.WithString("memory_id", mcp.Description("ID of the memory entry"), mcp.Required()),
		),
		mcpRecordAccess(deps),
	)

	s.AddTool(
		mcp.NewTool("route_query",
			mcp.WithDescription("Pick the best model for a query and log the routing decision."),
			mcp.WithString("query", mcp.Description("The query to route"), mcp.Required()),
		),
		mcpRouteQuery(deps),
	)

	s.AddTool(
		mcp.NewTool("rate_response",
			mcp.WithDescription("Attach a 1-5 user rating to a past routing decision."),
			mcp.WithString("decision_id", mcp.Description("ID of the routing decision"), mcp.Required()),
			mcp.WithNumber("rating", mcp.Description("Rating from 1 (bad) to 5 (great)"), mcp.Required()),
		),
		mcpRateResponse(deps),
	)

	s.AddTool(
		mcp.NewTool("user_stats",
			mcp.WithDescription("Aggregate usage statistics for a user: messages, cost, latency, favorite model."),
			mcp.WithString("user_id", mcp.Description("ID of the user"), mcp.Required()),
		),
		mcpUserStats(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"memstore://models",
			"Model Catalog",
			mcp.WithResourceDescription("Routable models with cost, latency, and capability metadata"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceModels(deps),
	)

	return s
}

func mcpRemember(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		scope, err := req.RequireString("scope")
		if err != nil {
			return mcpError("scope is required"), nil
		}
		ownerID, err := req.RequireString("owner_id")
		if err != nil {
			return mcpError("owner_id is required"), nil
		}
		content, err := req.RequireString("content")
		if err != nil {
			return mcpError("content is required"), nil
		}

		entry, err := deps.Store.CreateMemoryEntry(storage.MemoryEntry{
			ID:         uuid.New().String(),
			Scope:      scope,
			OwnerID:    ownerID,
			MemoryType: req.GetString("memory_type", ""),
			Content:    content,
			Importance: req.GetFloat("importance", 0.5),
		})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to store memory: %v", err)), nil
		}

		payload, err := json.Marshal(ingest.EmbedPayload{MemoryEntryID: entry.ID})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal embed payload: %v", err)), nil
		}
		job := storage.Job{
			ID:          uuid.New().String(),
			Type:        ingest.JobEmbedMemory,
			PayloadJSON: string(payload),
		}
		if err := deps.Store.EnqueueJob(job); err != nil {
			return mcpError(fmt.Sprintf("stored memory but failed to queue embedding: %v", err)), nil
		}

		return mcpText(fmt.Sprintf("Stored memory %s", entry.ID)), nil
	}
}

func mcpRecall(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if deps.Embedder == nil {
			return mcpError("recall not available: no embedding service configured"), nil
		}

		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}

		limit := req.GetInt("limit", search.DefaultLimit)
		if limit <= 0 {
			limit = search.DefaultLimit
		}
		if limit > 50 {
			limit = 50
		}

		vec, err := deps.Embedder.Embed(ctx, query)
		if err != nil {
			return mcpError(fmt.Sprintf("embedding query: %v", err)), nil
		}

		results, err := deps.Search.Search(ctx, search.Query{
			Scope:   req.GetString("scope", ""),
			OwnerID: req.GetString("owner_id", ""),
			Vector:  vec,
			Limit:   limit,
		})
		if err != nil {
			return mcpError(fmt.Sprintf("recall failed: %v", err)), nil
		}

		if len(results) == 0 {
			return mcpText("[]"), nil
		}

		type recallResult struct {
			ID         string  `json:"id"`
			Scope      string  `json:"scope"`
			OwnerID    string  `json:"owner_id"`
			MemoryType string  `json:"memory_type,omitempty"`
			Content    string  `json:"content"`
			Importance float64 `json:"importance"`
			Score      float32 `json:"score"`
		}
		out := make([]recallResult, len(results))
		for i, res := range results {
			out[i] = recallResult{
				ID:         res.Entry.ID,
				Scope:      res.Entry.Scope,
				OwnerID:    res.Entry.OwnerID,
				MemoryType: res.Entry.MemoryType,
				Content:    res.Entry.Content,
				Importance: res.Entry.Importance,
				Score:      res.Score,
			}
		}

		b, err := json.Marshal(out)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpRecordAccess(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("memory_id")
		if err != nil {
			return mcpError("memory_id is required"), nil
		}
		if err := deps.Store.RecordAccess(id); err != nil {
			return mcpError(fmt.Sprintf("failed to record access: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Recorded access to %s", id)), nil
	}
}

func mcpRouteQuery(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}

		decision := deps.Router.Route(query, routing.Preferences{})
		alternatives, err := json.Marshal(decision.Alternatives)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal alternatives: %v", err)), nil
		}

		saved, err := deps.Store.SaveRoutingDecision(storage.RoutingDecision{
			ID:               uuid.New().String(),
			QueryFingerprint: routing.Fingerprint(query),
			SelectedModel:    decision.Model,
			Alternatives:     string(alternatives),
			Confidence:       decision.Confidence,
			Reasoning:        decision.Reasoning,
		})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to save routing decision: %v", err)), nil
		}

		b, err := json.Marshal(map[string]any{
			"decision_id":          saved.ID,
			"model":                saved.SelectedModel,
			"confidence":           saved.Confidence,
			"reasoning":            saved.Reasoning,
			"estimated_cost":       decision.EstimatedCost,
			"estimated_latency_ms": decision.EstimatedLatencyMs,
		})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal decision: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpRateResponse(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("decision_id")
		if err != nil {
			return mcpError("decision_id is required"), nil
		}
		rating := req.GetInt("rating", 0)

		err = deps.Store.UpdateRoutingOutcome(id, storage.RoutingOutcome{Feedback: &rating})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to record rating: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Rated decision %s: %d/5", id, rating)), nil
	}
}

func mcpUserStats(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		userID, err := req.RequireString("user_id")
		if err != nil {
			return mcpError("user_id is required"), nil
		}

		stats, err := deps.Stats.GetUserStats(ctx, userID)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to aggregate stats: %v", err)), nil
		}

		b, err := json.Marshal(stats)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal stats: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResourceModels(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		b, err := json.Marshal(deps.Router.Catalog())
		if err != nil {
			return nil, fmt.Errorf("failed to marshal catalog: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
