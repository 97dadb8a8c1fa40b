// Package routing selects a model for a query by weighing cost, speed,
// and capability fit, and produces the decision record persisted by the
// storage layer's two-phase routing log.
package routing

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// ModelInfo describes one routable model.
type ModelInfo struct {
	Name         string   `json:"name"`
	CostPerToken float64  `json:"cost_per_token"`
	AvgLatencyMs int64    `json:"avg_latency_ms"`
	Capabilities []string `json:"capabilities"`
	MaxContext   int      `json:"max_context"`
	Local        bool     `json:"local"`
}

// Decision is the router's verdict for one query, recorded before the
// model call executes.
type Decision struct {
	Model              string
	Alternatives       []string
	Confidence         float64
	Reasoning          string
	EstimatedCost      float64
	EstimatedLatencyMs int64
}

// Preferences weight the scoring. Zero values fall back to the defaults
// (cost-heavy: 0.7 cost, 0.2 speed, 0.1 quality).
type Preferences struct {
	CostPriority    float64
	SpeedPriority   float64
	QualityPriority float64
}

func (p Preferences) withDefaults() Preferences {
	if p.CostPriority == 0 && p.SpeedPriority == 0 && p.QualityPriority == 0 {
		return Preferences{CostPriority: 0.7, SpeedPriority: 0.2, QualityPriority: 0.1}
	}
	return p
}

// DefaultCatalog lists the models the platform ships with. Local models
// are free per token; cloud models carry their metered cost.
func DefaultCatalog() []ModelInfo {
	return []ModelInfo{
		{Name: "llama3.1:8b", CostPerToken: 0, AvgLatencyMs: 50, Capabilities: []string{"general", "reasoning"}, MaxContext: 128000, Local: true},
		{Name: "llama3.1:70b", CostPerToken: 0, AvgLatencyMs: 200, Capabilities: []string{"general", "reasoning", "complex"}, MaxContext: 128000, Local: true},
		{Name: "codellama:13b", CostPerToken: 0, AvgLatencyMs: 100, Capabilities: []string{"code", "programming"}, MaxContext: 16000, Local: true},
		{Name: "gpt-4o-mini", CostPerToken: 0.00015, AvgLatencyMs: 800, Capabilities: []string{"general", "reasoning", "complex", "multimodal"}, MaxContext: 128000},
		{Name: "gpt-4o", CostPerToken: 0.005, AvgLatencyMs: 1200, Capabilities: []string{"general", "reasoning", "complex", "multimodal", "advanced"}, MaxContext: 128000},
	}
}

// Router scores the catalog against a query analysis.
type Router struct {
	catalog  []ModelInfo
	fallback string
}

// NewRouter creates a Router over the given catalog. The first local
// model (or the first model at all) is the fallback when nothing scores.
func NewRouter(catalog []ModelInfo) *Router {
	if len(catalog) == 0 {
		catalog = DefaultCatalog()
	}
	fallback := catalog[0].Name
	for _, m := range catalog {
		if m.Local {
			fallback = m.Name
			break
		}
	}
	return &Router{catalog: catalog, fallback: fallback}
}

// Catalog returns a copy of the model catalog.
func (r *Router) Catalog() []ModelInfo {
	out := make([]ModelInfo, len(r.catalog))
	copy(out, r.catalog)
	return out
}

// analysis holds the complexity signals extracted from a query.
type analysis struct {
	general    float64
	code       float64
	multimodal float64
	math       float64
}

var (
	reasoningKeywords  = []string{"analyze", "compare", "evaluate", "explain why", "reasoning", "logic"}
	codeKeywords       = []string{"code", "programming", "function", "algorithm", "debug", "implement"}
	multimodalKeywords = []string{"image", "picture", "visual", "diagram", "chart"}
	mathKeywords       = []string{"calculate", "equation", "formula", "mathematics", "statistics"}
)

func containsAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}

// analyze scores the query on keyword and length signals.
func analyze(query string) analysis {
	lower := strings.ToLower(query)

	var a analysis
	if len(query) > 500 {
		a.general += 0.2
	}
	if containsAny(lower, reasoningKeywords) {
		a.general += 0.3
	}
	if a.general > 1 {
		a.general = 1
	}
	if containsAny(lower, codeKeywords) {
		a.code = 0.7
	}
	if containsAny(lower, multimodalKeywords) {
		a.multimodal = 0.8
	}
	if containsAny(lower, mathKeywords) {
		a.math = 0.4
	}
	return a
}

// Route picks the best model for the query. It never fails: when no model
// scores, the fallback local model is chosen with zeroed confidence.
func (r *Router) Route(query string, prefs Preferences) Decision {
	prefs = prefs.withDefaults()
	a := analyze(query)

	type scored struct {
		model ModelInfo
		score float64
		why   string
	}
	ranked := make([]scored, 0, len(r.catalog))

	for _, m := range r.catalog {
		costScore := 1.0
		if m.CostPerToken > 0 {
			costScore = 1 - m.CostPerToken*1000
			if costScore < 0 {
				costScore = 0
			}
		}
		speedScore := 1 - float64(m.AvgLatencyMs)/2000
		if speedScore < 0 {
			speedScore = 0
		}

		qualityScore := 0.5
		switch {
		case a.code > 0.5 && hasCapability(m, "code"):
			qualityScore += 0.3
		case a.multimodal > 0.5 && hasCapability(m, "multimodal"):
			qualityScore += 0.4
		case a.general > 0.7 && hasCapability(m, "complex"):
			qualityScore += 0.3
		}

		total := costScore*prefs.CostPriority + speedScore*prefs.SpeedPriority + qualityScore*prefs.QualityPriority
		why := fmt.Sprintf("cost score: %.2f; speed score: %.2f; quality score: %.2f; total: %.2f",
			costScore, speedScore, qualityScore, total)
		ranked = append(ranked, scored{model: m, score: total, why: why})
	}

	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	if len(ranked) == 0 {
		return Decision{Model: r.fallback, Reasoning: "fallback to default model"}
	}

	best := ranked[0]
	alternatives := make([]string, 0, len(ranked)-1)
	for _, s := range ranked[1:] {
		alternatives = append(alternatives, s.model.Name)
	}

	return Decision{
		Model:              best.model.Name,
		Alternatives:       alternatives,
		Confidence:         best.score,
		Reasoning:          best.why,
		EstimatedCost:      best.model.CostPerToken * float64(len(strings.Fields(query))),
		EstimatedLatencyMs: best.model.AvgLatencyMs,
	}
}

func hasCapability(m ModelInfo, capability string) bool {
	for _, c := range m.Capabilities {
		if c == capability {
			return true
		}
	}
	return false
}

// Fingerprint returns a stable hash of the query, used to correlate
// routing decisions for the same question across time.
func Fingerprint(query string) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(query)), " ")
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}
