package storage

import (
	"database/sql"
	"fmt"
	"time"
)

// CreateSession inserts a session owned by an existing user. A reference
// to a nonexistent user is rejected at write time.
func (s *Store) CreateSession(sess Session) (Session, error) {
	var exists int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM users WHERE id = ?`, sess.UserID).Scan(&exists); err != nil {
		return Session{}, fmt.Errorf("checking user: %w", err)
	}
	if exists == 0 {
		return Session{}, fmt.Errorf("%w: user %q does not exist", ErrInvalidInput, sess.UserID)
	}

	now := time.Now().UTC()
	_, err := s.db.Exec(`
		INSERT INTO sessions (id, user_id, title, context, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.UserID, sess.Title, jsonOrDefault(sess.Context, "{}"), fmtTime(now), fmtTime(now),
	)
	if err != nil {
		return Session{}, fmt.Errorf("inserting session: %w", err)
	}
	sess.Context = jsonOrDefault(sess.Context, "{}")
	sess.CreatedAt = now
	sess.UpdatedAt = now
	return sess, nil
}

func (s *Store) GetSession(id string) (Session, error) {
	var sess Session
	var createdAt, updatedAt string
	err := s.db.QueryRow(`
		SELECT id, user_id, title, context, created_at, updated_at
		FROM sessions WHERE id = ?`, id,
	).Scan(&sess.ID, &sess.UserID, &sess.Title, &sess.Context, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return Session{}, ErrNotFound
	}
	if err != nil {
		return Session{}, err
	}
	if sess.CreatedAt, err = parseTime(createdAt); err != nil {
		return Session{}, fmt.Errorf("parsing created_at: %w", err)
	}
	if sess.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return Session{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	return sess, nil
}

// ListSessions returns the user's sessions, most recent first.
func (s *Store) ListSessions(userID string, limit int) ([]Session, error) {
	rows, err := s.db.Query(`
		SELECT id, user_id, title, context, created_at, updated_at
		FROM sessions WHERE user_id = ? ORDER BY created_at DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Session
	for rows.Next() {
		var sess Session
		var createdAt, updatedAt string
		if err := rows.Scan(&sess.ID, &sess.UserID, &sess.Title, &sess.Context, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		if sess.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		if sess.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return nil, fmt.Errorf("parsing updated_at: %w", err)
		}
		results = append(results, sess)
	}
	return results, rows.Err()
}

// UpdateSession sets title and context and bumps updated_at. Missing IDs
// affect zero rows and are not an error.
func (s *Store) UpdateSession(id, title, context string) error {
	_, err := s.db.Exec(`UPDATE sessions SET title = ?, context = ?, updated_at = ? WHERE id = ?`,
		title, jsonOrDefault(context, "{}"), fmtTime(time.Now().UTC()), id)
	return err
}

// DeleteSession removes the session, its conversations and messages, and
// its session-scoped memory entries in one transaction.
func (s *Store) DeleteSession(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning delete transaction: %w", err)
	}
	defer tx.Rollback()

	steps := []struct {
		desc  string
		query string
	}{
		{"messages", `DELETE FROM messages WHERE conversation_id IN
			(SELECT id FROM conversations WHERE session_id = ?)`},
		{"conversations", `DELETE FROM conversations WHERE session_id = ?`},
		{"session memories", `DELETE FROM memory_entries WHERE scope = 'session' AND owner_id = ?`},
		{"session", `DELETE FROM sessions WHERE id = ?`},
	}
	for _, step := range steps {
		if _, err := tx.Exec(step.query, id); err != nil {
			return fmt.Errorf("deleting %s: %w", step.desc, err)
		}
	}

	return tx.Commit()
}
