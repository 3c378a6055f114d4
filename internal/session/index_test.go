package session

import (
	"os"
	"path/filepath"
	"testing"
)

func TestPathIndexRoundTrip(t *testing.T) {
	idx := newPathIndex(filepath.Join(t.TempDir(), "nested", "sessions.json"))

	if _, ok := idx.Lookup("s1"); ok {
		t.Error("Lookup on missing file returned a hit")
	}
	if err := idx.Record("s1", "/tmp/s1.jsonl"); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	path, ok := idx.Lookup("s1")
	if !ok || path != "/tmp/s1.jsonl" {
		t.Errorf("Lookup(s1) = %q ok=%v, want /tmp/s1.jsonl", path, ok)
	}
}

func TestPathIndexMergePreservesExisting(t *testing.T) {
	file := filepath.Join(t.TempDir(), "sessions.json")
	idx := newPathIndex(file)
	if err := idx.Record("old", "/tmp/old.jsonl"); err != nil {
		t.Fatal(err)
	}

	// A second handle simulating a prior run's entries being merged over.
	other := newPathIndex(file)
	if err := other.Merge(map[string]string{"new": "/tmp/new.jsonl"}); err != nil {
		t.Fatal(err)
	}

	snapshot := idx.Snapshot()
	if snapshot["old"] != "/tmp/old.jsonl" || snapshot["new"] != "/tmp/new.jsonl" {
		t.Errorf("Snapshot = %v, want both entries", snapshot)
	}
}

func TestPathIndexCorruptFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "sessions.json")
	if err := os.WriteFile(file, []byte("{{{ not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	idx := newPathIndex(file)
	if _, ok := idx.Lookup("anything"); ok {
		t.Error("corrupt index produced a hit")
	}
	// Writing through a corrupt file starts clean rather than failing.
	if err := idx.Record("s1", "/tmp/s1.jsonl"); err != nil {
		t.Fatalf("Record() over corrupt file error = %v", err)
	}
	if path, ok := idx.Lookup("s1"); !ok || path != "/tmp/s1.jsonl" {
		t.Errorf("Lookup after recovery = %q ok=%v", path, ok)
	}
}
