package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// CreateUser inserts a user, or returns the existing row when the email is
// already taken. The duplicate insert is a successful no-op: the first
// registration wins and its display name and preferences are preserved.
func (s *Store) CreateUser(u User) (User, error) {
	if strings.TrimSpace(u.Email) == "" {
		return User{}, fmt.Errorf("%w: email is required", ErrInvalidInput)
	}

	now := time.Now().UTC()
	_, err := s.db.Exec(`
		INSERT INTO users (id, email, display_name, preferences, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(email) DO NOTHING`,
		u.ID, u.Email, u.DisplayName, jsonOrDefault(u.Preferences, "{}"), fmtTime(now), fmtTime(now),
	)
	if err != nil {
		return User{}, fmt.Errorf("inserting user: %w", err)
	}

	return s.GetUserByEmail(u.Email)
}

func (s *Store) GetUser(id string) (User, error) {
	return s.scanUser(s.db.QueryRow(`
		SELECT id, email, display_name, preferences, created_at, updated_at
		FROM users WHERE id = ?`, id))
}

func (s *Store) GetUserByEmail(email string) (User, error) {
	return s.scanUser(s.db.QueryRow(`
		SELECT id, email, display_name, preferences, created_at, updated_at
		FROM users WHERE email = ?`, email))
}

func (s *Store) scanUser(row *sql.Row) (User, error) {
	var u User
	var createdAt, updatedAt string
	err := row.Scan(&u.ID, &u.Email, &u.DisplayName, &u.Preferences, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, err
	}
	if u.CreatedAt, err = parseTime(createdAt); err != nil {
		return User{}, fmt.Errorf("parsing created_at: %w", err)
	}
	if u.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return User{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	return u, nil
}

// UpdateUserName sets the display name and bumps updated_at. Missing IDs
// affect zero rows and are not an error.
func (s *Store) UpdateUserName(id, displayName string) error {
	_, err := s.db.Exec(`UPDATE users SET display_name = ?, updated_at = ? WHERE id = ?`,
		displayName, fmtTime(time.Now().UTC()), id)
	return err
}

// PatchUserPreferences merges the given keys into the user's preferences
// map inside one transaction. Values set to nil are removed.
func (s *Store) PatchUserPreferences(id string, patch map[string]any) error {
	if len(patch) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning preferences transaction: %w", err)
	}
	defer tx.Rollback()

	var raw string
	err = tx.QueryRow(`SELECT preferences FROM users WHERE id = ?`, id).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return err
	}

	prefs := map[string]any{}
	if strings.TrimSpace(raw) != "" {
		if err := json.Unmarshal([]byte(raw), &prefs); err != nil {
			return fmt.Errorf("parsing stored preferences: %w", err)
		}
	}
	for k, v := range patch {
		if v == nil {
			delete(prefs, k)
			continue
		}
		prefs[k] = v
	}

	merged, err := json.Marshal(prefs)
	if err != nil {
		return fmt.Errorf("marshalling preferences: %w", err)
	}

	if _, err := tx.Exec(`UPDATE users SET preferences = ?, updated_at = ? WHERE id = ?`,
		string(merged), fmtTime(time.Now().UTC()), id); err != nil {
		return err
	}
	return tx.Commit()
}

// DeleteUser removes the user and everything that exists only in relation
// to it: sessions, conversations, messages, and user- and session-scoped
// memory entries. The whole subtree goes in one transaction so concurrent
// readers never observe a partial cascade. Append-only analytics rows that
// mention the user are kept.
func (s *Store) DeleteUser(id string) error {
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
			(SELECT id FROM conversations WHERE user_id = ?)`},
		{"conversations", `DELETE FROM conversations WHERE user_id = ?`},
		{"session memories", `DELETE FROM memory_entries WHERE scope = 'session' AND owner_id IN
			(SELECT id FROM sessions WHERE user_id = ?)`},
		{"sessions", `DELETE FROM sessions WHERE user_id = ?`},
		{"user memories", `DELETE FROM memory_entries WHERE scope = 'user' AND owner_id = ?`},
		{"user", `DELETE FROM users WHERE id = ?`},
	}
	for _, step := range steps {
		if _, err := tx.Exec(step.query, id); err != nil {
			return fmt.Errorf("deleting %s: %w", step.desc, err)
		}
	}

	return tx.Commit()
}
