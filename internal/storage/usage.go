package storage

import (
	"fmt"
	"time"
)

// SaveUsageRecord appends one model invocation to the usage log.
func (s *Store) SaveUsageRecord(r ModelUsageRecord) (ModelUsageRecord, error) {
	if r.Model == "" {
		return ModelUsageRecord{}, fmt.Errorf("%w: model is required", ErrInvalidInput)
	}
	now := time.Now().UTC()
	_, err := s.db.Exec(`
		INSERT INTO model_usage (id, model, user_id, session_id, tokens_in, tokens_out, cost, latency_ms, success, error, routing_reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Model, r.UserID, r.SessionID, r.TokensIn, r.TokensOut,
		r.Cost, r.LatencyMs, r.Success, r.Error, r.RoutingReason, fmtTime(now),
	)
	if err != nil {
		return ModelUsageRecord{}, fmt.Errorf("inserting usage record: %w", err)
	}
	r.CreatedAt = now
	return r, nil
}

// ListUsageRecords returns recent usage rows, newest first. model filters
// when non-empty.
func (s *Store) ListUsageRecords(model string, limit int) ([]ModelUsageRecord, error) {
	query := `
		SELECT id, model, user_id, session_id, tokens_in, tokens_out, cost, latency_ms, success, error, routing_reason, created_at
		FROM model_usage`
	var args []any
	if model != "" {
		query += ` WHERE model = ?`
		args = append(args, model)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []ModelUsageRecord
	for rows.Next() {
		var r ModelUsageRecord
		var createdAt string
		if err := rows.Scan(&r.ID, &r.Model, &r.UserID, &r.SessionID, &r.TokensIn, &r.TokensOut,
			&r.Cost, &r.LatencyMs, &r.Success, &r.Error, &r.RoutingReason, &createdAt); err != nil {
			return nil, err
		}
		if r.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// SaveMetric appends a performance metric point.
func (s *Store) SaveMetric(m PerformanceMetric) (PerformanceMetric, error) {
	if m.Name == "" {
		return PerformanceMetric{}, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	now := time.Now().UTC()
	_, err := s.db.Exec(`
		INSERT INTO performance_metrics (id, name, value, unit, tags, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		m.ID, m.Name, m.Value, m.Unit, jsonOrDefault(m.Tags, "{}"), fmtTime(now),
	)
	if err != nil {
		return PerformanceMetric{}, fmt.Errorf("inserting metric: %w", err)
	}
	m.Tags = jsonOrDefault(m.Tags, "{}")
	m.CreatedAt = now
	return m, nil
}

// ListMetrics returns recent points for one metric name, newest first.
func (s *Store) ListMetrics(name string, limit int) ([]PerformanceMetric, error) {
	rows, err := s.db.Query(`
		SELECT id, name, value, unit, tags, created_at
		FROM performance_metrics WHERE name = ?
		ORDER BY created_at DESC, id DESC LIMIT ?`, name, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []PerformanceMetric
	for rows.Next() {
		var m PerformanceMetric
		var createdAt string
		if err := rows.Scan(&m.ID, &m.Name, &m.Value, &m.Unit, &m.Tags, &createdAt); err != nil {
			return nil, err
		}
		if m.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		results = append(results, m)
	}
	return results, rows.Err()
}
