package storage

import (
	"database/sql"
	"fmt"
	"time"
)

// CreateConversation inserts a conversation belonging to an existing
// session and user.
func (s *Store) CreateConversation(c Conversation) (Conversation, error) {
	var exists int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM sessions WHERE id = ? AND user_id = ?`,
		c.SessionID, c.UserID).Scan(&exists); err != nil {
		return Conversation{}, fmt.Errorf("checking session: %w", err)
	}
	if exists == 0 {
		return Conversation{}, fmt.Errorf("%w: session %q for user %q does not exist", ErrInvalidInput, c.SessionID, c.UserID)
	}

	now := time.Now().UTC()
	_, err := s.db.Exec(`
		INSERT INTO conversations (id, session_id, user_id, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		c.ID, c.SessionID, c.UserID, jsonOrDefault(c.Metadata, "{}"), fmtTime(now), fmtTime(now),
	)
	if err != nil {
		return Conversation{}, fmt.Errorf("inserting conversation: %w", err)
	}
	c.Metadata = jsonOrDefault(c.Metadata, "{}")
	c.CreatedAt = now
	c.UpdatedAt = now
	return c, nil
}

func (s *Store) GetConversation(id string) (Conversation, error) {
	var c Conversation
	var createdAt, updatedAt string
	err := s.db.QueryRow(`
		SELECT id, session_id, user_id, metadata, created_at, updated_at
		FROM conversations WHERE id = ?`, id,
	).Scan(&c.ID, &c.SessionID, &c.UserID, &c.Metadata, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return Conversation{}, ErrNotFound
	}
	if err != nil {
		return Conversation{}, err
	}
	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return Conversation{}, fmt.Errorf("parsing created_at: %w", err)
	}
	if c.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return Conversation{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	return c, nil
}

// UpdateConversationMetadata replaces the metadata map and bumps
// updated_at. Missing IDs affect zero rows and are not an error.
func (s *Store) UpdateConversationMetadata(id, metadata string) error {
	_, err := s.db.Exec(`UPDATE conversations SET metadata = ?, updated_at = ? WHERE id = ?`,
		jsonOrDefault(metadata, "{}"), fmtTime(time.Now().UTC()), id)
	return err
}

// DeleteConversation removes the conversation and its messages in one
// transaction.
func (s *Store) DeleteConversation(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning delete transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM messages WHERE conversation_id = ?`, id); err != nil {
		return fmt.Errorf("deleting messages: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM conversations WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting conversation: %w", err)
	}

	return tx.Commit()
}
