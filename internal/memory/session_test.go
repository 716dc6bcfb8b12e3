package memory

import (
	"bufio"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSessionWriterCheckpointWritesJSONL(t *testing.T) {
	dir := t.TempDir()
	w := NewSessionWriter(dir, "sess-1")

	w.Append(Chunk{ID: "a", Timestamp: time.Now().UTC(), Content: "one"})
	w.Append(Chunk{ID: "b", Timestamp: time.Now().UTC(), Content: "two"})

	if err := w.Checkpoint(); err != nil {
		t.Fatalf("Checkpoint: %v", err)
	}

	f, err := os.Open(filepath.Join(dir, "session-sess-1.jsonl"))
	if err != nil {
		t.Fatalf("open session file: %v", err)
	}
	defer f.Close()

	lines := 0
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		lines++
	}
	if lines != 2 {
		t.Fatalf("expected 2 JSONL lines, got %d", lines)
	}
}

func TestSessionWriterCheckpointAppendsAcrossCalls(t *testing.T) {
	dir := t.TempDir()
	w := NewSessionWriter(dir, "sess-2")

	w.Append(Chunk{ID: "a", Timestamp: time.Now().UTC(), Content: "one"})
	if err := w.Checkpoint(); err != nil {
		t.Fatalf("first Checkpoint: %v", err)
	}
	w.Append(Chunk{ID: "b", Timestamp: time.Now().UTC(), Content: "two"})
	if err := w.Checkpoint(); err != nil {
		t.Fatalf("second Checkpoint: %v", err)
	}

	f, err := os.Open(filepath.Join(dir, "session-sess-2.jsonl"))
	if err != nil {
		t.Fatalf("open session file: %v", err)
	}
	defer f.Close()

	lines := 0
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		lines++
	}
	if lines != 2 {
		t.Fatalf("expected 2 cumulative JSONL lines across checkpoints, got %d", lines)
	}
}

func TestSessionWriterCheckpointNoopWhenEmpty(t *testing.T) {
	dir := t.TempDir()
	w := NewSessionWriter(dir, "sess-3")
	if err := w.Checkpoint(); err != nil {
		t.Fatalf("Checkpoint on empty writer should be a no-op, got error: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "session-sess-3.jsonl")); !os.IsNotExist(err) {
		t.Fatal("expected no file to be created for an empty checkpoint")
	}
}
