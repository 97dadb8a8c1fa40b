package storage

import (
	"fmt"
	"testing"
)

const testDim = 4

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:", testDim)
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// mustCreateUser seeds a user with a unique email.
func mustCreateUser(t *testing.T, s *Store, id string) User {
	t.Helper()
	u, err := s.CreateUser(User{ID: id, Email: id + "@example.com", DisplayName: "User " + id})
	if err != nil {
		t.Fatalf("CreateUser(%s): %v", id, err)
	}
	return u
}

func mustCreateSession(t *testing.T, s *Store, id, userID string) Session {
	t.Helper()
	sess, err := s.CreateSession(Session{ID: id, UserID: userID, Title: "session " + id})
	if err != nil {
		t.Fatalf("CreateSession(%s): %v", id, err)
	}
	return sess
}

func mustCreateConversation(t *testing.T, s *Store, id, sessionID, userID string) Conversation {
	t.Helper()
	c, err := s.CreateConversation(Conversation{ID: id, SessionID: sessionID, UserID: userID})
	if err != nil {
		t.Fatalf("CreateConversation(%s): %v", id, err)
	}
	return c
}

func mustCreateMessage(t *testing.T, s *Store, m Message) Message {
	t.Helper()
	created, err := s.CreateMessage(m)
	if err != nil {
		t.Fatalf("CreateMessage(%s): %v", m.ID, err)
	}
	return created
}

// TestMigrationsIdempotent runs Open twice on the same database and
// verifies the migration is not re-applied.
func TestMigrationsIdempotent(t *testing.T) {
	dir := t.TempDir()

	s1, err := Open(dir, testDim)
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}

	v1, err := s1.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	s1.Close()

	s2, err := Open(dir, testDim)
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	defer s2.Close()

	v2, err := s2.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}

	if len(v1) != len(v2) {
		t.Errorf("migration count changed: %d -> %d", len(v1), len(v2))
	}
}

func TestMigrationsOrdered(t *testing.T) {
	s := openTestStore(t)

	versions, err := s.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}

	if len(versions) == 0 {
		t.Fatal("expected at least one applied migration")
	}

	for i := 1; i < len(versions); i++ {
		if versions[i] <= versions[i-1] {
			t.Errorf("migrations not in ascending order: %v", versions)
			break
		}
	}
}

func TestIndexesExist(t *testing.T) {
	s := openTestStore(t)

	indexes := []string{
		"idx_sessions_user",
		"idx_messages_conversation",
		"idx_memory_scope_owner",
		"idx_routing_fingerprint",
		"idx_jobs_status_run_after",
	}
	for _, idx := range indexes {
		var count int
		err := s.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND name=?", idx).Scan(&count)
		if err != nil {
			t.Fatalf("querying index %s: %v", idx, err)
		}
		if count != 1 {
			t.Errorf("index %s not found", idx)
		}
	}
}

func TestDefaultEmbeddingDim(t *testing.T) {
	s, err := Open(":memory:", 0)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	if got := s.EmbeddingDim(); got != DefaultEmbeddingDim {
		t.Errorf("EmbeddingDim() = %d, want %d", got, DefaultEmbeddingDim)
	}
}

func TestVectorRoundTrip(t *testing.T) {
	vec := []float32{0.1, -2.5, 3.75, 0}
	decoded, err := DecodeVector(EncodeVector(vec))
	if err != nil {
		t.Fatalf("DecodeVector: %v", err)
	}
	if len(decoded) != len(vec) {
		t.Fatalf("length mismatch: %d != %d", len(decoded), len(vec))
	}
	for i := range vec {
		if decoded[i] != vec[i] {
			t.Errorf("element %d: %v != %v", i, decoded[i], vec[i])
		}
	}
}

func TestDecodeVectorRejectsTruncatedBlob(t *testing.T) {
	blob := EncodeVector([]float32{1, 2, 3})
	if _, err := DecodeVector(blob[:len(blob)-1]); err == nil {
		t.Error("expected error for truncated blob")
	}
}

// seedMemoryEntries inserts n agent-scoped entries for one owner.
func seedMemoryEntries(t *testing.T, s *Store, owner string, n int) []MemoryEntry {
	t.Helper()
	entries := make([]MemoryEntry, 0, n)
	for i := 0; i < n; i++ {
		e, err := s.CreateMemoryEntry(MemoryEntry{
			ID:         fmt.Sprintf("%s-mem-%03d", owner, i),
			Scope:      ScopeAgent,
			OwnerID:    owner,
			Content:    fmt.Sprintf("note %d", i),
			Importance: 0.5,
		})
		if err != nil {
			t.Fatalf("CreateMemoryEntry(%d): %v", i, err)
		}
		entries = append(entries, e)
	}
	return entries
}
