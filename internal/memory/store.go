package memory

// Persistent chunk storage.
//
// Schema (bbolt bucket layout):
//
//	/chunks
//	    key:   RFC3339Nano timestamp + "_" + chunk id  [sortable]
//	    value: JSON-encoded Chunk
//
//	/meta
//	    key:   "schema_version"
//	    value: "1"
//
// Single-process, single-writer; all writes use ACID transactions
// (bbolt.Update), all reads use read-only transactions (bbolt.View).

import (
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

const (
	// DefaultDBPath is the default bbolt file location for chunk storage.
	DefaultDBPath = "/var/lib/dawncore/dawncore.db"

	schemaVersion = "1"

	bucketChunks = "chunks"
	bucketMeta   = "meta"
)

// Store wraps a bbolt database with typed chunk accessors.
type Store struct {
	db *bolt.DB
}

// Open opens (or creates) the bbolt database at path and initializes the
// required buckets and schema version.
func Open(path string) (*Store, error) {
	bdb, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("bolt.Open(%q): %w", path, err)
	}

	s := &Store{db: bdb}

	if err := s.db.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{bucketChunks, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("CreateBucketIfNotExists(%q): %w", name, err)
			}
		}
		meta := tx.Bucket([]byte(bucketMeta))
		if meta.Get([]byte("schema_version")) == nil {
			return meta.Put([]byte("schema_version"), []byte(schemaVersion))
		}
		return nil
	}); err != nil {
		_ = bdb.Close()
		return nil, fmt.Errorf("database initialisation failed: %w", err)
	}

	if err := s.checkSchemaVersion(); err != nil {
		_ = bdb.Close()
		return nil, err
	}

	return s, nil
}

func (s *Store) checkSchemaVersion() error {
	return s.db.View(func(tx *bolt.Tx) error {
		meta := tx.Bucket([]byte(bucketMeta))
		v := meta.Get([]byte("schema_version"))
		if string(v) != schemaVersion {
			return fmt.Errorf("schema version mismatch: store has %q, runtime requires %q", string(v), schemaVersion)
		}
		return nil
	})
}

// Close closes the underlying bbolt file.
func (s *Store) Close() error {
	return s.db.Close()
}

func chunkKey(t time.Time, id string) []byte {
	return []byte(fmt.Sprintf("%s_%s", t.UTC().Format(time.RFC3339Nano), id))
}

// Put writes a chunk using a single ACID write transaction.
func (s *Store) Put(c Chunk) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("Put marshal: %w", err)
	}
	key := chunkKey(c.Timestamp, c.ID)
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketChunks))
		if err := b.Put(key, data); err != nil {
			return fmt.Errorf("Put bolt.Put: %w", err)
		}
		return nil
	})
}

// All returns every persisted chunk in chronological order. Operational
// use only (export_state, inspection) — not called on the hot path.
func (s *Store) All() ([]Chunk, error) {
	var chunks []Chunk
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketChunks))
		return b.ForEach(func(_, v []byte) error {
			var c Chunk
			if err := json.Unmarshal(v, &c); err != nil {
				return err
			}
			chunks = append(chunks, c)
			return nil
		})
	})
	return chunks, err
}

// PruneOlderThan deletes chunks older than cutoff and returns the number
// removed. Used for retention, not called from the router's hot path.
func (s *Store) PruneOlderThan(cutoff time.Time) (int, error) {
	cutoffKey := chunkKey(cutoff, "")
	var deleted int
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketChunks))
		c := b.Cursor()

		var toDelete [][]byte
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			if string(k) >= string(cutoffKey) {
				break
			}
			keyCopy := make([]byte, len(k))
			copy(keyCopy, k)
			toDelete = append(toDelete, keyCopy)
		}
		for _, k := range toDelete {
			if err := b.Delete(k); err != nil {
				return fmt.Errorf("PruneOlderThan delete: %w", err)
			}
			deleted++
		}
		return nil
	})
	return deleted, err
}
