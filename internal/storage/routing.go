package storage

import (
	"database/sql"
	"fmt"
	"time"
)

// SaveRoutingDecision writes phase one of a routing decision: what was
// chosen and why, recorded at dispatch time before the model call runs.
func (s *Store) SaveRoutingDecision(d RoutingDecision) (RoutingDecision, error) {
	if d.SelectedModel == "" {
		return RoutingDecision{}, fmt.Errorf("%w: selected_model is required", ErrInvalidInput)
	}

	now := time.Now().UTC()
	_, err := s.db.Exec(`
		INSERT INTO routing_decisions (id, query_fingerprint, selected_model, alternatives, confidence, reasoning, feedback, actual_cost, actual_latency_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, NULL, NULL, NULL, ?)`,
		d.ID, d.QueryFingerprint, d.SelectedModel, jsonOrDefault(d.Alternatives, "[]"),
		d.Confidence, d.Reasoning, fmtTime(now),
	)
	if err != nil {
		return RoutingDecision{}, fmt.Errorf("inserting routing decision: %w", err)
	}
	d.Alternatives = jsonOrDefault(d.Alternatives, "[]")
	d.Feedback = nil
	d.ActualCost = nil
	d.ActualLatencyMs = nil
	d.CreatedAt = now
	return d, nil
}

// UpdateRoutingOutcome writes phase two onto the same row: actual cost,
// actual latency, and/or user feedback observed after execution. It is a
// conditional update keyed by ID, never an insert, so retried outcome
// writes cannot duplicate the decision. Nil fields leave their columns
// untouched; a missing ID affects zero rows and is not an error.
func (s *Store) UpdateRoutingOutcome(id string, o RoutingOutcome) error {
	if o.Feedback != nil && (*o.Feedback < 1 || *o.Feedback > 5) {
		return fmt.Errorf("%w: feedback rating %d outside [1,5]", ErrInvalidInput, *o.Feedback)
	}
	if o.ActualCost == nil && o.ActualLatencyMs == nil && o.Feedback == nil {
		return nil
	}

	set := ""
	var args []any
	if o.ActualCost != nil {
		set += "actual_cost = ?, "
		args = append(args, *o.ActualCost)
	}
	if o.ActualLatencyMs != nil {
		set += "actual_latency_ms = ?, "
		args = append(args, *o.ActualLatencyMs)
	}
	if o.Feedback != nil {
		set += "feedback = ?, "
		args = append(args, *o.Feedback)
	}
	set = set[:len(set)-2]
	args = append(args, id)

	_, err := s.db.Exec(`UPDATE routing_decisions SET `+set+` WHERE id = ?`, args...)
	return err
}

func (s *Store) GetRoutingDecision(id string) (RoutingDecision, error) {
	row := s.db.QueryRow(`
		SELECT id, query_fingerprint, selected_model, alternatives, confidence, reasoning, feedback, actual_cost, actual_latency_ms, created_at
		FROM routing_decisions WHERE id = ?`, id)
	d, err := scanRoutingDecision(row.Scan)
	if err == sql.ErrNoRows {
		return RoutingDecision{}, ErrNotFound
	}
	return d, err
}

// ListRoutingDecisions returns recent decisions, newest first. When
// fingerprint is non-empty only decisions for that query are returned,
// which is how the routing layer reads past outcomes for similar queries.
func (s *Store) ListRoutingDecisions(fingerprint string, limit int) ([]RoutingDecision, error) {
	query := `
		SELECT id, query_fingerprint, selected_model, alternatives, confidence, reasoning, feedback, actual_cost, actual_latency_ms, created_at
		FROM routing_decisions`
	var args []any
	if fingerprint != "" {
		query += ` WHERE query_fingerprint = ?`
		args = append(args, fingerprint)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []RoutingDecision
	for rows.Next() {
		d, err := scanRoutingDecision(rows.Scan)
		if err != nil {
			return nil, err
		}
		results = append(results, d)
	}
	return results, rows.Err()
}

func scanRoutingDecision(scan func(...any) error) (RoutingDecision, error) {
	var d RoutingDecision
	var feedback sql.NullInt64
	var actualCost sql.NullFloat64
	var actualLatency sql.NullInt64
	var createdAt string
	err := scan(&d.ID, &d.QueryFingerprint, &d.SelectedModel, &d.Alternatives,
		&d.Confidence, &d.Reasoning, &feedback, &actualCost, &actualLatency, &createdAt)
	if err != nil {
		return RoutingDecision{}, err
	}
	if feedback.Valid {
		f := int(feedback.Int64)
		d.Feedback = &f
	}
	if actualCost.Valid {
		d.ActualCost = &actualCost.Float64
	}
	if actualLatency.Valid {
		d.ActualLatencyMs = &actualLatency.Int64
	}
	if d.CreatedAt, err = parseTime(createdAt); err != nil {
		return RoutingDecision{}, fmt.Errorf("parsing created_at: %w", err)
	}
	return d, nil
}
