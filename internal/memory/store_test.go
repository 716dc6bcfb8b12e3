package memory

import (
	"path/filepath"
	"testing"
	"time"

	bolt "go.etcd.io/bbolt"
)

func TestStoreOpenPutAll(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "memory.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	c := Chunk{ID: "a1", Timestamp: time.Now().UTC(), Content: "hello"}
	if err := s.Put(c); err != nil {
		t.Fatalf("Put: %v", err)
	}

	all, err := s.All()
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	if len(all) != 1 || all[0].ID != "a1" {
		t.Fatalf("expected one persisted chunk, got %+v", all)
	}
}

func TestStorePruneOlderThan(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "memory.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	old := Chunk{ID: "old", Timestamp: time.Now().UTC().Add(-48 * time.Hour), Content: "old"}
	recent := Chunk{ID: "new", Timestamp: time.Now().UTC(), Content: "new"}
	s.Put(old)
	s.Put(recent)

	deleted, err := s.PruneOlderThan(time.Now().UTC().Add(-24 * time.Hour))
	if err != nil {
		t.Fatalf("PruneOlderThan: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("expected 1 pruned entry, got %d", deleted)
	}

	all, _ := s.All()
	if len(all) != 1 || all[0].ID != "new" {
		t.Fatalf("expected only the recent chunk to survive, got %+v", all)
	}
}

func TestStoreRejectsSchemaMismatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "memory.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	s.Close()

	// Reopening the same file with a matching schema should succeed.
	s2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen should succeed with matching schema: %v", err)
	}
	if err := s2.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketMeta)).Put([]byte("schema_version"), []byte("2"))
	}); err != nil {
		t.Fatalf("overwrite schema version: %v", err)
	}
	s2.Close()

	// Reopening after the stored schema version changed must fail.
	if s3, err := Open(path); err == nil {
		s3.Close()
		t.Fatal("expected Open to reject a store with a different schema version")
	}
}
