package routing

import (
	"strings"
	"testing"
)

func TestRouteDefaultPrefsFavorsCheapLocal(t *testing.T) {
	r := NewRouter(nil)

	d := r.Route("what is the capital of France", Preferences{})
	if d.Model != "llama3.1:8b" {
		t.Errorf("model = %q, want llama3.1:8b", d.Model)
	}
	if d.EstimatedCost != 0 {
		t.Errorf("local model estimated cost = %v, want 0", d.EstimatedCost)
	}
	if d.Confidence <= 0 {
		t.Errorf("confidence = %v, want > 0", d.Confidence)
	}
}

func TestRouteCodeQueryPicksCodeModel(t *testing.T) {
	r := NewRouter(nil)

	d := r.Route("debug this sorting function for me", Preferences{})
	if d.Model != "codellama:13b" {
		t.Errorf("model = %q, want codellama:13b", d.Model)
	}
}

func TestRouteQualityPrefsPicksCapableModel(t *testing.T) {
	r := NewRouter(nil)

	d := r.Route("describe this image in detail", Preferences{QualityPriority: 1})
	// Both cloud models carry the multimodal capability; the tie resolves
	// to catalog order.
	if d.Model != "gpt-4o-mini" {
		t.Errorf("model = %q, want gpt-4o-mini", d.Model)
	}
	if d.EstimatedCost <= 0 {
		t.Errorf("metered model estimated cost = %v, want > 0", d.EstimatedCost)
	}
	if d.EstimatedLatencyMs != 800 {
		t.Errorf("estimated latency = %d, want 800", d.EstimatedLatencyMs)
	}
}

func TestRouteAlternativesExcludeWinner(t *testing.T) {
	r := NewRouter(nil)

	d := r.Route("hello", Preferences{})
	if len(d.Alternatives) != len(DefaultCatalog())-1 {
		t.Fatalf("alternatives = %d, want %d", len(d.Alternatives), len(DefaultCatalog())-1)
	}
	for _, alt := range d.Alternatives {
		if alt == d.Model {
			t.Errorf("winner %q listed among alternatives", d.Model)
		}
	}
	if d.Reasoning == "" {
		t.Error("reasoning is empty")
	}
}

func TestRouteEstimatedCostScalesWithQueryLength(t *testing.T) {
	r := NewRouter([]ModelInfo{
		{Name: "metered", CostPerToken: 0.001, AvgLatencyMs: 500, Capabilities: []string{"general"}},
	})

	short := r.Route("one two", Preferences{})
	long := r.Route("one two three four five six", Preferences{})
	if short.EstimatedCost >= long.EstimatedCost {
		t.Errorf("cost did not grow with query length: %v vs %v", short.EstimatedCost, long.EstimatedCost)
	}
}

func TestCatalogReturnsCopy(t *testing.T) {
	r := NewRouter(nil)

	c := r.Catalog()
	c[0].Name = "mutated"
	if r.Catalog()[0].Name == "mutated" {
		t.Error("Catalog exposed internal state")
	}
}

func TestFingerprintNormalizes(t *testing.T) {
	base := Fingerprint("what is the weather today")

	same := []string{
		"What Is The Weather Today",
		"  what   is the\tweather today  ",
		"WHAT IS THE WEATHER TODAY",
	}
	for _, q := range same {
		if got := Fingerprint(q); got != base {
			t.Errorf("Fingerprint(%q) = %s, want %s", q, got, base)
		}
	}

	if Fingerprint("a different question") == base {
		t.Error("distinct queries produced the same fingerprint")
	}
	if len(base) != 64 || strings.ToLower(base) != base {
		t.Errorf("fingerprint %q is not lowercase hex sha256", base)
	}
}
