package storage

import (
	"database/sql"
	"fmt"
	"time"
)

func validRole(role string) bool {
	return role == RoleUser || role == RoleAssistant || role == RoleSystem
}

// CreateMessage appends a message to a conversation. Messages are
// immutable once written. The role is validated before the row exists.
func (s *Store) CreateMessage(m Message) (Message, error) {
	if !validRole(m.Role) {
		return Message{}, fmt.Errorf("%w: role %q must be one of user, assistant, system", ErrInvalidInput, m.Role)
	}
	var exists int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM conversations WHERE id = ?`, m.ConversationID).Scan(&exists); err != nil {
		return Message{}, fmt.Errorf("checking conversation: %w", err)
	}
	if exists == 0 {
		return Message{}, fmt.Errorf("%w: conversation %q does not exist", ErrInvalidInput, m.ConversationID)
	}

	now := time.Now().UTC()
	_, err := s.db.Exec(`
		INSERT INTO messages (id, conversation_id, role, content, model, tokens_in, tokens_out, cost, latency_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.ConversationID, m.Role, m.Content, m.Model, m.TokensIn, m.TokensOut,
		nullFloat(m.Cost), nullInt64(m.LatencyMs), fmtTime(now),
	)
	if err != nil {
		return Message{}, fmt.Errorf("inserting message: %w", err)
	}
	m.CreatedAt = now
	return m, nil
}

func (s *Store) GetMessage(id string) (Message, error) {
	row := s.db.QueryRow(`
		SELECT id, conversation_id, role, content, model, tokens_in, tokens_out, cost, latency_ms, created_at
		FROM messages WHERE id = ?`, id)
	m, err := scanMessage(row.Scan)
	if err == sql.ErrNoRows {
		return Message{}, ErrNotFound
	}
	return m, err
}

// ListMessages returns a conversation's messages in insertion order.
func (s *Store) ListMessages(conversationID string, limit int) ([]Message, error) {
	rows, err := s.db.Query(`
		SELECT id, conversation_id, role, content, model, tokens_in, tokens_out, cost, latency_ms, created_at
		FROM messages WHERE conversation_id = ? ORDER BY created_at ASC, id ASC LIMIT ?`,
		conversationID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Message
	for rows.Next() {
		m, err := scanMessage(rows.Scan)
		if err != nil {
			return nil, err
		}
		results = append(results, m)
	}
	return results, rows.Err()
}

func scanMessage(scan func(...any) error) (Message, error) {
	var m Message
	var cost sql.NullFloat64
	var latency sql.NullInt64
	var createdAt string
	err := scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &m.Model,
		&m.TokensIn, &m.TokensOut, &cost, &latency, &createdAt)
	if err != nil {
		return Message{}, err
	}
	if cost.Valid {
		m.Cost = &cost.Float64
	}
	if latency.Valid {
		m.LatencyMs = &latency.Int64
	}
	if m.CreatedAt, err = parseTime(createdAt); err != nil {
		return Message{}, fmt.Errorf("parsing created_at: %w", err)
	}
	return m, nil
}
