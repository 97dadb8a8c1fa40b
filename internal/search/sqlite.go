package search

import (
	"container/heap"
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/mnemosyne-ai/memstore/internal/storage"
)

// Compile-time check that SQLiteEngine implements Engine.
var _ Engine = (*SQLiteEngine)(nil)

// SQLiteEngine performs brute-force cosine similarity search over the
// memory_entries table. The scan is exact: every entry above the
// threshold is a candidate, so there is no recall loss to document.
//
// Reads are snapshot-consistent per query; a search does not block and
// need not see entries committed after it began.
type SQLiteEngine struct {
	db  *sql.DB
	dim int
}

// NewSQLiteEngine wraps the store's connection for read-only search.
func NewSQLiteEngine(store *storage.Store) *SQLiteEngine {
	return &SQLiteEngine{db: store.DB(), dim: store.EmbeddingDim()}
}

// candidate holds only what the scan phase needs to rank entries; full
// rows are fetched for winners only.
type candidate struct {
	id        string
	score     float32
	createdAt time.Time
}

// worse reports whether a ranks below b: lower similarity first, and on
// equal similarity the later-created entry, so that results stay
// deterministic across repeated queries on unchanged data.
func worse(a, b candidate) bool {
	if a.score != b.score {
		return a.score < b.score
	}
	if !a.createdAt.Equal(b.createdAt) {
		return a.createdAt.After(b.createdAt)
	}
	return a.id > b.id
}

func (e *SQLiteEngine) Search(ctx context.Context, q Query) ([]Result, error) {
	if len(q.Vector) != e.dim {
		return nil, fmt.Errorf("%w: query vector has %d dimensions, store requires %d",
			storage.ErrDimensionMismatch, len(q.Vector), e.dim)
	}

	threshold := DefaultThreshold
	if q.Threshold != nil {
		threshold = *q.Threshold
	}
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}

	queryNorm := norm(q.Vector)
	if queryNorm == 0 {
		return nil, nil
	}

	// Phase 1: scan id + embedding + created_at only.
	scanQuery := `SELECT id, embedding, created_at FROM memory_entries WHERE embedding IS NOT NULL`
	var args []any
	if q.Scope != "" {
		scanQuery += ` AND scope = ?`
		args = append(args, q.Scope)
	}
	if q.OwnerID != "" {
		scanQuery += ` AND owner_id = ?`
		args = append(args, q.OwnerID)
	}

	rows, err := e.db.QueryContext(ctx, scanQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("scanning entries: %w", err)
	}
	defer rows.Close()

	h := &candidateHeap{}
	heap.Init(h)

	// Reusable buffer for decoding embeddings to avoid per-row allocations.
	var buf []float32

	for rows.Next() {
		var id string
		var blob []byte
		var createdStr string
		if err := rows.Scan(&id, &blob, &createdStr); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}

		buf, err = storage.DecodeVectorInto(buf, blob)
		if err != nil {
			return nil, fmt.Errorf("decoding embedding for %s: %w", id, err)
		}

		score := cosine(q.Vector, buf, queryNorm)
		if float64(score) <= threshold {
			continue
		}

		created, err := time.Parse(time.RFC3339, createdStr)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at for %s: %w", id, err)
		}

		c := candidate{id: id, score: score, createdAt: created}
		if h.Len() < limit {
			heap.Push(h, c)
		} else if worse((*h)[0], c) {
			(*h)[0] = c
			heap.Fix(h, 0)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}

	if h.Len() == 0 {
		return nil, nil
	}

	// Phase 2: fetch full entries for the winners.
	scores := make(map[string]float32, h.Len())
	ids := make([]string, 0, h.Len())
	for h.Len() > 0 {
		c := heap.Pop(h).(candidate)
		ids = append(ids, c.id)
		scores[c.id] = c.score
	}

	entries, err := e.fetchEntries(ctx, ids)
	if err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(entries))
	for _, entry := range entries {
		results = append(results, Result{Entry: entry, Score: scores[entry.ID]})
	}

	// Order by similarity descending; ties go to the earlier entry.
	sort.Slice(results, func(i, j int) bool {
		return worse(
			candidate{id: results[j].Entry.ID, score: results[j].Score, createdAt: results[j].Entry.CreatedAt},
			candidate{id: results[i].Entry.ID, score: results[i].Score, createdAt: results[i].Entry.CreatedAt},
		)
	})

	return results, nil
}

func (e *SQLiteEngine) fetchEntries(ctx context.Context, ids []string) ([]storage.MemoryEntry, error) {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	query := `SELECT id, scope, owner_id, memory_type, content, embedding, metadata, importance, access_count, last_accessed, created_at, updated_at
		FROM memory_entries WHERE id IN (?` + strings.Repeat(",?", len(ids)-1) + `)`

	rows, err := e.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("fetching winners: %w", err)
	}
	defer rows.Close()

	var entries []storage.MemoryEntry
	for rows.Next() {
		var entry storage.MemoryEntry
		var blob []byte
		var lastAccessed sql.NullString
		var createdAt, updatedAt string
		if err := rows.Scan(&entry.ID, &entry.Scope, &entry.OwnerID, &entry.MemoryType, &entry.Content,
			&blob, &entry.Metadata, &entry.Importance, &entry.AccessCount, &lastAccessed, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scanning full entry: %w", err)
		}
		if entry.Embedding, err = storage.DecodeVector(blob); err != nil {
			return nil, fmt.Errorf("decoding embedding for %s: %w", entry.ID, err)
		}
		if lastAccessed.Valid && lastAccessed.String != "" {
			t, err := time.Parse(time.RFC3339, lastAccessed.String)
			if err != nil {
				return nil, fmt.Errorf("parsing last_accessed for %s: %w", entry.ID, err)
			}
			entry.LastAccessed = &t
		}
		if entry.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at for %s: %w", entry.ID, err)
		}
		if entry.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
			return nil, fmt.Errorf("parsing updated_at for %s: %w", entry.ID, err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// candidateHeap is a min-heap keeping the current top-K: the root is the
// worst candidate and is evicted first.
type candidateHeap []candidate

func (h candidateHeap) Len() int           { return len(h) }
func (h candidateHeap) Less(i, j int) bool { return worse(h[i], h[j]) }
func (h candidateHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *candidateHeap) Push(x any)        { *h = append(*h, x.(candidate)) }
func (h *candidateHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
