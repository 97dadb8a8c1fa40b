package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/mnemosyne-ai/memstore/internal/routing"
	"github.com/mnemosyne-ai/memstore/internal/storage"
)

type decisionResponse struct {
	ID               string          `json:"id"`
	QueryFingerprint string          `json:"query_fingerprint"`
	SelectedModel    string          `json:"selected_model"`
	Alternatives     json.RawMessage `json:"alternatives"`
	Confidence       float64         `json:"confidence"`
	Reasoning        string          `json:"reasoning"`
	Feedback         *int            `json:"feedback,omitempty"`
	ActualCost       *float64        `json:"actual_cost,omitempty"`
	ActualLatencyMs  *int64          `json:"actual_latency_ms,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
}

func decisionJSON(d storage.RoutingDecision) decisionResponse {
	return decisionResponse{
		ID: d.ID, QueryFingerprint: d.QueryFingerprint, SelectedModel: d.SelectedModel,
		Alternatives: json.RawMessage(d.Alternatives), Confidence: d.Confidence,
		Reasoning: d.Reasoning, Feedback: d.Feedback, ActualCost: d.ActualCost,
		ActualLatencyMs: d.ActualLatencyMs, CreatedAt: d.CreatedAt,
	}
}

// handleRoute runs the router against a query and persists phase one of
// the decision, returning the decision ID the caller later completes with
// an outcome.
func handleRoute(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Query       string `json:"query"`
			Preferences struct {
				CostPriority    float64 `json:"cost_priority"`
				SpeedPriority   float64 `json:"speed_priority"`
				QualityPriority float64 `json:"quality_priority"`
			} `json:"preferences"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		if req.Query == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "query is required")
			return
		}

		decision := deps.Router.Route(req.Query, routing.Preferences{
			CostPriority:    req.Preferences.CostPriority,
			SpeedPriority:   req.Preferences.SpeedPriority,
			QualityPriority: req.Preferences.QualityPriority,
		})

		alternatives, err := json.Marshal(decision.Alternatives)
		if err != nil {
			storeError(w, err)
			return
		}
		saved, err := deps.Store.SaveRoutingDecision(storage.RoutingDecision{
			ID:               uuid.New().String(),
			QueryFingerprint: routing.Fingerprint(req.Query),
			SelectedModel:    decision.Model,
			Alternatives:     string(alternatives),
			Confidence:       decision.Confidence,
			Reasoning:        decision.Reasoning,
		})
		if err != nil {
			storeError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, map[string]any{
			"decision":             decisionJSON(saved),
			"estimated_cost":       decision.EstimatedCost,
			"estimated_latency_ms": decision.EstimatedLatencyMs,
		})
	}
}

// handleCreateDecision records a decision made outside the built-in
// router, for callers that run their own selection logic.
func handleCreateDecision(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Query            string   `json:"query"`
			QueryFingerprint string   `json:"query_fingerprint"`
			SelectedModel    string   `json:"selected_model"`
			Alternatives     []string `json:"alternatives"`
			Confidence       float64  `json:"confidence"`
			Reasoning        string   `json:"reasoning"`
		}
		if !decodeBody(w, r, &req) {
			return
		}

		fingerprint := req.QueryFingerprint
		if fingerprint == "" && req.Query != "" {
			fingerprint = routing.Fingerprint(req.Query)
		}
		alternatives, err := json.Marshal(req.Alternatives)
		if err != nil {
			storeError(w, err)
			return
		}

		saved, err := deps.Store.SaveRoutingDecision(storage.RoutingDecision{
			ID:               uuid.New().String(),
			QueryFingerprint: fingerprint,
			SelectedModel:    req.SelectedModel,
			Alternatives:     string(alternatives),
			Confidence:       req.Confidence,
			Reasoning:        req.Reasoning,
		})
		if err != nil {
			storeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, decisionJSON(saved))
	}
}

func handleListDecisions(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		decisions, err := deps.Store.ListRoutingDecisions(r.URL.Query().Get("fingerprint"), queryLimit(r, 50, 500))
		if err != nil {
			storeError(w, err)
			return
		}
		out := make([]decisionResponse, 0, len(decisions))
		for _, d := range decisions {
			out = append(out, decisionJSON(d))
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func handleGetDecision(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		d, err := deps.Store.GetRoutingDecision(chi.URLParam(r, "id"))
		if err != nil {
			storeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, decisionJSON(d))
	}
}

func handleUpdateOutcome(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ActualCost      *float64 `json:"actual_cost"`
			ActualLatencyMs *int64   `json:"actual_latency_ms"`
			Feedback        *int     `json:"feedback"`
		}
		if !decodeBody(w, r, &req) {
			return
		}

		id := chi.URLParam(r, "id")
		err := deps.Store.UpdateRoutingOutcome(id, storage.RoutingOutcome{
			ActualCost:      req.ActualCost,
			ActualLatencyMs: req.ActualLatencyMs,
			Feedback:        req.Feedback,
		})
		if err != nil {
			storeError(w, err)
			return
		}

		d, err := deps.Store.GetRoutingDecision(id)
		if errors.Is(err, storage.ErrNotFound) {
			// Outcome writes against missing decisions are a quiet no-op.
			w.WriteHeader(http.StatusNoContent)
			return
		}
		if err != nil {
			storeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, decisionJSON(d))
	}
}

// --- usage and metrics ---

type usageResponse struct {
	ID            string    `json:"id"`
	Model         string    `json:"model"`
	UserID        string    `json:"user_id,omitempty"`
	SessionID     string    `json:"session_id,omitempty"`
	TokensIn      int       `json:"tokens_in"`
	TokensOut     int       `json:"tokens_out"`
	Cost          float64   `json:"cost"`
	LatencyMs     int64     `json:"latency_ms"`
	Success       bool      `json:"success"`
	Error         string    `json:"error,omitempty"`
	RoutingReason string    `json:"routing_reason,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

func usageJSON(rec storage.ModelUsageRecord) usageResponse {
	return usageResponse{
		ID: rec.ID, Model: rec.Model, UserID: rec.UserID, SessionID: rec.SessionID,
		TokensIn: rec.TokensIn, TokensOut: rec.TokensOut, Cost: rec.Cost,
		LatencyMs: rec.LatencyMs, Success: rec.Success, Error: rec.Error,
		RoutingReason: rec.RoutingReason, CreatedAt: rec.CreatedAt,
	}
}

func handleCreateUsage(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Model         string  `json:"model"`
			UserID        string  `json:"user_id"`
			SessionID     string  `json:"session_id"`
			TokensIn      int     `json:"tokens_in"`
			TokensOut     int     `json:"tokens_out"`
			Cost          float64 `json:"cost"`
			LatencyMs     int64   `json:"latency_ms"`
			Success       bool    `json:"success"`
			Error         string  `json:"error"`
			RoutingReason string  `json:"routing_reason"`
		}
		if !decodeBody(w, r, &req) {
			return
		}

		rec, err := deps.Store.SaveUsageRecord(storage.ModelUsageRecord{
			ID: uuid.New().String(), Model: req.Model, UserID: req.UserID, SessionID: req.SessionID,
			TokensIn: req.TokensIn, TokensOut: req.TokensOut, Cost: req.Cost, LatencyMs: req.LatencyMs,
			Success: req.Success, Error: req.Error, RoutingReason: req.RoutingReason,
		})
		if err != nil {
			storeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, usageJSON(rec))
	}
}

func handleListUsage(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		records, err := deps.Store.ListUsageRecords(r.URL.Query().Get("model"), queryLimit(r, 50, 500))
		if err != nil {
			storeError(w, err)
			return
		}
		out := make([]usageResponse, 0, len(records))
		for _, rec := range records {
			out = append(out, usageJSON(rec))
		}
		writeJSON(w, http.StatusOK, out)
	}
}

type metricResponse struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Value     float64         `json:"value"`
	Unit      string          `json:"unit,omitempty"`
	Tags      json.RawMessage `json:"tags"`
	CreatedAt time.Time       `json:"created_at"`
}

func metricJSON(m storage.PerformanceMetric) metricResponse {
	return metricResponse{
		ID: m.ID, Name: m.Name, Value: m.Value, Unit: m.Unit,
		Tags: json.RawMessage(m.Tags), CreatedAt: m.CreatedAt,
	}
}

func handleCreateMetric(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Name  string         `json:"name"`
			Value float64        `json:"value"`
			Unit  string         `json:"unit"`
			Tags  map[string]any `json:"tags"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		tags, ok := marshalMap(w, req.Tags)
		if !ok {
			return
		}

		m, err := deps.Store.SaveMetric(storage.PerformanceMetric{
			ID: uuid.New().String(), Name: req.Name, Value: req.Value, Unit: req.Unit, Tags: tags,
		})
		if err != nil {
			storeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, metricJSON(m))
	}
}

func handleListMetrics(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := r.URL.Query().Get("name")
		if name == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "name query parameter is required")
			return
		}
		metrics, err := deps.Store.ListMetrics(name, queryLimit(r, 50, 500))
		if err != nil {
			storeError(w, err)
			return
		}
		out := make([]metricResponse, 0, len(metrics))
		for _, m := range metrics {
			out = append(out, metricJSON(m))
		}
		writeJSON(w, http.StatusOK, out)
	}
}
