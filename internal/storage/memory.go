package storage

import (
	"database/sql"
	"fmt"
	"time"
)

func validScope(scope string) bool {
	return scope == ScopeUser || scope == ScopeSession || scope == ScopeAgent
}

// validateEmbedding rejects vectors that do not match the platform
// dimension. Mixing dimensions across entries would make cosine scores
// meaningless, so it fails loudly instead of truncating.
func (s *Store) validateEmbedding(vec []float32) error {
	if vec == nil {
		return nil
	}
	if len(vec) != s.dim {
		return fmt.Errorf("%w: got %d, store requires %d", ErrDimensionMismatch, len(vec), s.dim)
	}
	return nil
}

// CreateMemoryEntry inserts a memory entry. The embedding may be nil for
// entries awaiting asynchronous embedding; when present it must match the
// platform dimension. User- and session-scoped entries must reference an
// existing owner.
func (s *Store) CreateMemoryEntry(e MemoryEntry) (MemoryEntry, error) {
	if !validScope(e.Scope) {
		return MemoryEntry{}, fmt.Errorf("%w: scope %q must be one of user, session, agent", ErrInvalidInput, e.Scope)
	}
	if e.OwnerID == "" {
		return MemoryEntry{}, fmt.Errorf("%w: owner_id is required", ErrInvalidInput)
	}
	if e.Importance < 0 || e.Importance > 1 {
		return MemoryEntry{}, fmt.Errorf("%w: importance %v outside [0,1]", ErrInvalidInput, e.Importance)
	}
	if err := s.validateEmbedding(e.Embedding); err != nil {
		return MemoryEntry{}, err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return MemoryEntry{}, fmt.Errorf("beginning insert transaction: %w", err)
	}
	defer tx.Rollback()

	// Agent-scoped entries have no owning row; the other scopes must
	// reference a live owner.
	var ownerTable string
	switch e.Scope {
	case ScopeUser:
		ownerTable = "users"
	case ScopeSession:
		ownerTable = "sessions"
	}
	if ownerTable != "" {
		var exists int
		if err := tx.QueryRow(`SELECT COUNT(*) FROM `+ownerTable+` WHERE id = ?`, e.OwnerID).Scan(&exists); err != nil {
			return MemoryEntry{}, fmt.Errorf("checking owner: %w", err)
		}
		if exists == 0 {
			return MemoryEntry{}, fmt.Errorf("%w: %s owner %q does not exist", ErrInvalidInput, e.Scope, e.OwnerID)
		}
	}

	var blob []byte
	if e.Embedding != nil {
		blob = EncodeVector(e.Embedding)
	}
	now := time.Now().UTC()
	_, err = tx.Exec(`
		INSERT INTO memory_entries (id, scope, owner_id, memory_type, content, embedding, metadata, importance, access_count, last_accessed, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, NULL, ?, ?)`,
		e.ID, e.Scope, e.OwnerID, e.MemoryType, e.Content, blob,
		jsonOrDefault(e.Metadata, "{}"), e.Importance, fmtTime(now), fmtTime(now),
	)
	if err != nil {
		return MemoryEntry{}, fmt.Errorf("inserting memory entry: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return MemoryEntry{}, err
	}

	e.Metadata = jsonOrDefault(e.Metadata, "{}")
	e.AccessCount = 0
	e.LastAccessed = nil
	e.CreatedAt = now
	e.UpdatedAt = now
	return e, nil
}

func (s *Store) GetMemoryEntry(id string) (MemoryEntry, error) {
	row := s.db.QueryRow(`
		SELECT id, scope, owner_id, memory_type, content, embedding, metadata, importance, access_count, last_accessed, created_at, updated_at
		FROM memory_entries WHERE id = ?`, id)
	e, err := scanMemoryEntry(row.Scan)
	if err == sql.ErrNoRows {
		return MemoryEntry{}, ErrNotFound
	}
	return e, err
}

// ListMemoryEntries returns an owner's entries, most recent first.
func (s *Store) ListMemoryEntries(scope, ownerID string, limit int) ([]MemoryEntry, error) {
	rows, err := s.db.Query(`
		SELECT id, scope, owner_id, memory_type, content, embedding, metadata, importance, access_count, last_accessed, created_at, updated_at
		FROM memory_entries WHERE scope = ? AND owner_id = ?
		ORDER BY created_at DESC, id DESC LIMIT ?`, scope, ownerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []MemoryEntry
	for rows.Next() {
		e, err := scanMemoryEntry(rows.Scan)
		if err != nil {
			return nil, err
		}
		results = append(results, e)
	}
	return results, rows.Err()
}

// MemoryUpdate carries the mutable fields of a memory entry. Nil fields
// are left untouched.
type MemoryUpdate struct {
	Content    *string
	Metadata   *string
	Importance *float64
	Embedding  []float32
}

// UpdateMemoryEntry applies the non-nil fields of upd and bumps
// updated_at. Missing IDs affect zero rows and are not an error.
func (s *Store) UpdateMemoryEntry(id string, upd MemoryUpdate) error {
	if upd.Importance != nil && (*upd.Importance < 0 || *upd.Importance > 1) {
		return fmt.Errorf("%w: importance %v outside [0,1]", ErrInvalidInput, *upd.Importance)
	}
	if err := s.validateEmbedding(upd.Embedding); err != nil {
		return err
	}

	set := "updated_at = ?"
	args := []any{fmtTime(time.Now().UTC())}
	if upd.Content != nil {
		set += ", content = ?"
		args = append(args, *upd.Content)
	}
	if upd.Metadata != nil {
		set += ", metadata = ?"
		args = append(args, jsonOrDefault(*upd.Metadata, "{}"))
	}
	if upd.Importance != nil {
		set += ", importance = ?"
		args = append(args, *upd.Importance)
	}
	if upd.Embedding != nil {
		set += ", embedding = ?"
		args = append(args, EncodeVector(upd.Embedding))
	}
	args = append(args, id)

	_, err := s.db.Exec(`UPDATE memory_entries SET `+set+` WHERE id = ?`, args...)
	return err
}

// SetMemoryEmbedding writes the embedding produced by the ingest worker
// onto a pending entry.
func (s *Store) SetMemoryEmbedding(id string, vec []float32) error {
	if vec == nil {
		return fmt.Errorf("%w: embedding is required", ErrInvalidInput)
	}
	if err := s.validateEmbedding(vec); err != nil {
		return err
	}
	_, err := s.db.Exec(`UPDATE memory_entries SET embedding = ?, updated_at = ? WHERE id = ?`,
		EncodeVector(vec), fmtTime(time.Now().UTC()), id)
	return err
}

// DeleteMemoryEntry removes a single entry. Missing IDs are a no-op.
func (s *Store) DeleteMemoryEntry(id string) error {
	_, err := s.db.Exec(`DELETE FROM memory_entries WHERE id = ?`, id)
	return err
}

// RecordAccess increments the access counter by exactly one and stamps
// last_accessed. The single UPDATE is the atomic read-modify-write: N
// concurrent calls against one entry always raise the counter by N.
// Unknown IDs affect zero rows; callers are allowed to race with deletion.
func (s *Store) RecordAccess(id string) error {
	_, err := s.db.Exec(`
		UPDATE memory_entries
		SET access_count = access_count + 1, last_accessed = ?
		WHERE id = ?`,
		fmtTime(time.Now().UTC()), id)
	return err
}

func scanMemoryEntry(scan func(...any) error) (MemoryEntry, error) {
	var e MemoryEntry
	var blob []byte
	var lastAccessed sql.NullString
	var createdAt, updatedAt string
	err := scan(&e.ID, &e.Scope, &e.OwnerID, &e.MemoryType, &e.Content, &blob,
		&e.Metadata, &e.Importance, &e.AccessCount, &lastAccessed, &createdAt, &updatedAt)
	if err != nil {
		return MemoryEntry{}, err
	}
	if blob != nil {
		if e.Embedding, err = DecodeVector(blob); err != nil {
			return MemoryEntry{}, fmt.Errorf("decoding embedding for %s: %w", e.ID, err)
		}
	}
	if e.LastAccessed, err = parseNullTime(lastAccessed); err != nil {
		return MemoryEntry{}, fmt.Errorf("parsing last_accessed: %w", err)
	}
	if e.CreatedAt, err = parseTime(createdAt); err != nil {
		return MemoryEntry{}, fmt.Errorf("parsing created_at: %w", err)
	}
	if e.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return MemoryEntry{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	return e, nil
}
