package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrInvalidInput is returned when a write is rejected by validation
// before touching the database (bad enum value, importance out of range,
// feedback rating out of range).
var ErrInvalidInput = errors.New("invalid input")

// ErrInvalidTransition is returned when a workflow execution status write
// would leave the pending -> running -> {completed, failed} machine, or
// would mutate a terminal execution.
var ErrInvalidTransition = errors.New("invalid status transition")

// ErrDimensionMismatch is returned when an embedding does not match the
// platform-wide vector dimension the store was opened with.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Memory entry owner scopes.
const (
	ScopeUser    = "user"
	ScopeSession = "session"
	ScopeAgent   = "agent"
)

// Workflow execution statuses.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

type User struct {
	ID          string
	Email       string
	DisplayName string
	Preferences string // JSON object stored as text
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type Session struct {
	ID        string
	UserID    string
	Title     string
	Context   string // JSON object stored as text
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Conversation struct {
	ID        string
	SessionID string
	UserID    string
	Metadata  string // JSON object stored as text
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Message is immutable after creation: the store exposes no update method
// and the row carries no updated_at column.
type Message struct {
	ID             string
	ConversationID string
	Role           string
	Content        string
	Model          string // empty when no model produced this message
	TokensIn       int
	TokensOut      int
	Cost           *float64 // nil when cost is unknown
	LatencyMs      *int64   // nil when latency is unknown
	CreatedAt      time.Time
}

// MemoryEntry is one stored (content, embedding) pair. Scope selects the
// owner namespace: user and session scopes reference rows in the core
// tables, agent scope owns its lifetime independently by agent name.
type MemoryEntry struct {
	ID           string
	Scope        string
	OwnerID      string
	MemoryType   string
	Content      string
	Embedding    []float32 // nil until the ingest worker embeds the entry
	Metadata     string    // JSON object stored as text
	Importance   float64
	AccessCount  int64
	LastAccessed *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ModelUsageRecord is one model invocation. Append-only.
type ModelUsageRecord struct {
	ID            string
	Model         string
	UserID        string // optional back-reference, not enforced
	SessionID     string // optional back-reference, not enforced
	TokensIn      int
	TokensOut     int
	Cost          float64
	LatencyMs     int64
	Success       bool
	Error         string
	RoutingReason string
	CreatedAt     time.Time
}

// RoutingDecision records which model was chosen for a query. The row is
// written at dispatch time and optionally completed later by an outcome
// update keyed to the same ID.
type RoutingDecision struct {
	ID               string
	QueryFingerprint string
	SelectedModel    string
	Alternatives     string // JSON array stored as text
	Confidence       float64
	Reasoning        string
	Feedback         *int     // 1..5, nil until the user rates the response
	ActualCost       *float64 // nil until execution completes
	ActualLatencyMs  *int64   // nil until execution completes
	CreatedAt        time.Time
}

// RoutingOutcome is the phase-two payload for a routing decision. Nil
// fields leave the corresponding columns untouched.
type RoutingOutcome struct {
	ActualCost      *float64
	ActualLatencyMs *int64
	Feedback        *int
}

// PerformanceMetric is a generic time-series fact. Append-only.
type PerformanceMetric struct {
	ID        string
	Name      string
	Value     float64
	Unit      string
	Tags      string // JSON object stored as text
	CreatedAt time.Time
}

type Workflow struct {
	ID          string
	Name        string
	Description string
	Definition  string // JSON object stored as text
	Active      bool
	CreatedBy   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type WorkflowExecution struct {
	ID          string
	WorkflowID  string
	Status      string
	Input       string // JSON object stored as text
	Output      string // JSON object stored as text
	Error       string
	StartedAt   *time.Time
	CompletedAt *time.Time
	CreatedAt   time.Time
}

type Job struct {
	ID          string
	Type        string
	PayloadJSON string
	Status      string // "pending", "running", "completed", "failed"
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}

// UserStats is the aggregate view computed by the analytics package.
type UserStats struct {
	TotalMessages int64   `json:"total_messages"`
	TotalCost     float64 `json:"total_cost"`
	AvgLatencyMs  float64 `json:"avg_latency_ms"`
	FavoriteModel string  `json:"favorite_model,omitempty"`
	TotalSessions int64   `json:"total_sessions"`
}
