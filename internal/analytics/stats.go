// Package analytics computes derived statistics over the entity store.
// It is stateless and read-only: every call aggregates live rows, so the
// numbers are always current as of read time.
package analytics

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/mnemosyne-ai/memstore/internal/storage"
)

// Aggregator answers dashboard queries from the store's read connection.
type Aggregator struct {
	db *sql.DB
}

func NewAggregator(store *storage.Store) *Aggregator {
	return &Aggregator{db: store.DB()}
}

// GetUserStats scans the messages reachable through the user's
// conversations. Messages with NULL cost or latency are ignored by the
// cost and latency aggregates rather than counted as zero. A user with no
// messages gets all-zero counts and no favorite model.
func (a *Aggregator) GetUserStats(ctx context.Context, userID string) (storage.UserStats, error) {
	var stats storage.UserStats

	err := a.db.QueryRowContext(ctx, `
		SELECT COUNT(m.id),
		       COALESCE(SUM(m.cost), 0),
		       COALESCE(AVG(m.latency_ms), 0)
		FROM messages m
		JOIN conversations c ON c.id = m.conversation_id
		WHERE c.user_id = ?`, userID,
	).Scan(&stats.TotalMessages, &stats.TotalCost, &stats.AvgLatencyMs)
	if err != nil {
		return storage.UserStats{}, fmt.Errorf("aggregating messages: %w", err)
	}

	err = a.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions WHERE user_id = ?`, userID).
		Scan(&stats.TotalSessions)
	if err != nil {
		return storage.UserStats{}, fmt.Errorf("counting sessions: %w", err)
	}

	// Favorite model: most messages wins; a tie goes to the model whose
	// most recent message is newest.
	err = a.db.QueryRowContext(ctx, `
		SELECT m.model
		FROM messages m
		JOIN conversations c ON c.id = m.conversation_id
		WHERE c.user_id = ? AND m.model != ''
		GROUP BY m.model
		ORDER BY COUNT(*) DESC, MAX(m.created_at) DESC, m.model ASC
		LIMIT 1`, userID,
	).Scan(&stats.FavoriteModel)
	if err != nil && err != sql.ErrNoRows {
		return storage.UserStats{}, fmt.Errorf("finding favorite model: %w", err)
	}

	return stats, nil
}

// ModelUsage is one row of the per-model breakdown.
type ModelUsage struct {
	Model     string  `json:"model"`
	Messages  int64   `json:"messages"`
	TotalCost float64 `json:"total_cost"`
}

// ModelBreakdown returns the user's message volume and spend per model,
// busiest model first.
func (a *Aggregator) ModelBreakdown(ctx context.Context, userID string) ([]ModelUsage, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT m.model, COUNT(*), COALESCE(SUM(m.cost), 0)
		FROM messages m
		JOIN conversations c ON c.id = m.conversation_id
		WHERE c.user_id = ? AND m.model != ''
		GROUP BY m.model
		ORDER BY COUNT(*) DESC, m.model ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("querying model breakdown: %w", err)
	}
	defer rows.Close()

	var results []ModelUsage
	for rows.Next() {
		var u ModelUsage
		if err := rows.Scan(&u.Model, &u.Messages, &u.TotalCost); err != nil {
			return nil, err
		}
		results = append(results, u)
	}
	return results, rows.Err()
}
