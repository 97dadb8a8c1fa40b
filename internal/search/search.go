package search

import (
	"context"

	"github.com/mnemosyne-ai/memstore/internal/storage"
)

// Default query parameters applied when the caller leaves them unset.
const (
	DefaultThreshold = 0.7
	DefaultLimit     = 10
)

// Query is one similarity search request.
type Query struct {
	// Scope and OwnerID restrict the search to one owner's entries when
	// both are set. Empty values search across all entries.
	Scope   string
	OwnerID string

	// Vector must match the platform embedding dimension.
	Vector []float32

	// Threshold is the exclusive similarity floor: only entries with
	// similarity strictly above it are returned. Nil means
	// DefaultThreshold.
	Threshold *float64

	// Limit caps the result count. Zero means DefaultLimit.
	Limit int
}

// Result is a memory entry with its cosine similarity to the query vector.
type Result struct {
	Entry storage.MemoryEntry
	Score float32
}

// Engine ranks stored memory entries by similarity to a query vector.
//
// The shipped implementation (SQLiteEngine) is an exact linear scan.
// An approximate nearest-neighbor implementation may be substituted for
// large stores, but it can miss entries an exact scan would return; any
// such implementation must document its recall trade-off.
type Engine interface {
	Search(ctx context.Context, q Query) ([]Result, error)
}
