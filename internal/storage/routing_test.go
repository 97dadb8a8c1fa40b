package storage

import (
	"errors"
	"testing"
)

func TestRoutingDecisionTwoPhase(t *testing.T) {
	s := openTestStore(t)

	d, err := s.SaveRoutingDecision(RoutingDecision{
		ID:               "d1",
		QueryFingerprint: "abc123",
		SelectedModel:    "llama3.1:8b",
		Alternatives:     `["gpt-4o-mini"]`,
		Confidence:       0.82,
		Reasoning:        "cheap and fast",
	})
	if err != nil {
		t.Fatalf("SaveRoutingDecision: %v", err)
	}
	if d.Feedback != nil || d.ActualCost != nil || d.ActualLatencyMs != nil {
		t.Error("phase one should leave outcome fields empty")
	}

	cost := 0.0012
	latency := int64(640)
	feedback := 4
	err = s.UpdateRoutingOutcome(d.ID, RoutingOutcome{
		ActualCost:      &cost,
		ActualLatencyMs: &latency,
		Feedback:        &feedback,
	})
	if err != nil {
		t.Fatalf("UpdateRoutingOutcome: %v", err)
	}

	got, err := s.GetRoutingDecision(d.ID)
	if err != nil {
		t.Fatalf("GetRoutingDecision: %v", err)
	}
	if got.ActualCost == nil || *got.ActualCost != cost {
		t.Errorf("actual cost = %v, want %v", got.ActualCost, cost)
	}
	if got.ActualLatencyMs == nil || *got.ActualLatencyMs != latency {
		t.Errorf("actual latency = %v, want %v", got.ActualLatencyMs, latency)
	}
	if got.Feedback == nil || *got.Feedback != feedback {
		t.Errorf("feedback = %v, want %v", got.Feedback, feedback)
	}
	// The decision-time fields are untouched by the outcome write.
	if got.SelectedModel != "llama3.1:8b" || got.Confidence != 0.82 {
		t.Errorf("decision fields mutated: %+v", got)
	}
}

func TestUpdateRoutingOutcomePartial(t *testing.T) {
	s := openTestStore(t)

	d, err := s.SaveRoutingDecision(RoutingDecision{ID: "d1", SelectedModel: "gpt-4o"})
	if err != nil {
		t.Fatalf("SaveRoutingDecision: %v", err)
	}

	// Feedback alone leaves cost and latency NULL.
	feedback := 5
	if err := s.UpdateRoutingOutcome(d.ID, RoutingOutcome{Feedback: &feedback}); err != nil {
		t.Fatalf("UpdateRoutingOutcome: %v", err)
	}

	got, err := s.GetRoutingDecision(d.ID)
	if err != nil {
		t.Fatalf("GetRoutingDecision: %v", err)
	}
	if got.Feedback == nil || *got.Feedback != 5 {
		t.Errorf("feedback = %v, want 5", got.Feedback)
	}
	if got.ActualCost != nil || got.ActualLatencyMs != nil {
		t.Errorf("untouched fields were written: %+v", got)
	}
}

func TestUpdateRoutingOutcomeValidation(t *testing.T) {
	s := openTestStore(t)

	d, err := s.SaveRoutingDecision(RoutingDecision{ID: "d1", SelectedModel: "gpt-4o"})
	if err != nil {
		t.Fatalf("SaveRoutingDecision: %v", err)
	}

	for _, rating := range []int{0, 6, -1} {
		r := rating
		if err := s.UpdateRoutingOutcome(d.ID, RoutingOutcome{Feedback: &r}); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("feedback %d: got %v, want ErrInvalidInput", rating, err)
		}
	}

	// Missing decision IDs are a quiet no-op, never an insert.
	feedback := 3
	if err := s.UpdateRoutingOutcome("ghost", RoutingOutcome{Feedback: &feedback}); err != nil {
		t.Errorf("missing decision: %v", err)
	}
	decisions, err := s.ListRoutingDecisions("", 10)
	if err != nil {
		t.Fatalf("ListRoutingDecisions: %v", err)
	}
	if len(decisions) != 1 {
		t.Errorf("outcome write created a row: %d decisions", len(decisions))
	}
}

func TestSaveRoutingDecisionRequiresModel(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.SaveRoutingDecision(RoutingDecision{ID: "d1"}); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
}

func TestListRoutingDecisionsByFingerprint(t *testing.T) {
	s := openTestStore(t)

	for i, fp := range []string{"fp-a", "fp-a", "fp-b"} {
		_, err := s.SaveRoutingDecision(RoutingDecision{
			ID: string(rune('x' + i)), QueryFingerprint: fp, SelectedModel: "m",
		})
		if err != nil {
			t.Fatalf("SaveRoutingDecision: %v", err)
		}
	}

	matches, err := s.ListRoutingDecisions("fp-a", 10)
	if err != nil {
		t.Fatalf("ListRoutingDecisions: %v", err)
	}
	if len(matches) != 2 {
		t.Errorf("fp-a matches = %d, want 2", len(matches))
	}

	all, err := s.ListRoutingDecisions("", 10)
	if err != nil {
		t.Fatalf("ListRoutingDecisions: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("all decisions = %d, want 3", len(all))
	}
}

func TestUsageAndMetrics(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.SaveUsageRecord(ModelUsageRecord{ID: "r1"}); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("usage without model: got %v, want ErrInvalidInput", err)
	}
	if _, err := s.SaveMetric(PerformanceMetric{ID: "m1"}); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("metric without name: got %v, want ErrInvalidInput", err)
	}

	if _, err := s.SaveUsageRecord(ModelUsageRecord{ID: "r1", Model: "gpt-4o", TokensIn: 100, Cost: 0.01, Success: true}); err != nil {
		t.Fatalf("SaveUsageRecord: %v", err)
	}
	if _, err := s.SaveUsageRecord(ModelUsageRecord{ID: "r2", Model: "llama3.1:8b", Success: true}); err != nil {
		t.Fatalf("SaveUsageRecord: %v", err)
	}

	byModel, err := s.ListUsageRecords("gpt-4o", 10)
	if err != nil {
		t.Fatalf("ListUsageRecords: %v", err)
	}
	if len(byModel) != 1 || byModel[0].ID != "r1" {
		t.Errorf("model filter wrong: %+v", byModel)
	}

	if _, err := s.SaveMetric(PerformanceMetric{ID: "m1", Name: "routing_latency", Value: 12.5, Unit: "ms"}); err != nil {
		t.Fatalf("SaveMetric: %v", err)
	}
	points, err := s.ListMetrics("routing_latency", 10)
	if err != nil {
		t.Fatalf("ListMetrics: %v", err)
	}
	if len(points) != 1 || points[0].Value != 12.5 {
		t.Errorf("metric round trip wrong: %+v", points)
	}
}
