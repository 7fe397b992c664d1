package indexer

import (
	"os"
	"path/filepath"
	"testing"

	"teapotnet/blockstore"
	"teapotnet/identity"
)

func newTestStore(t *testing.T) *blockstore.Store {
	t.Helper()
	dir, err := os.MkdirTemp("", "indexer_store_test")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	s, err := blockstore.New(dir, nil, nil)
	if err != nil {
		t.Fatalf("blockstore.New: %v", err)
	}
	return s
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
}

func TestWalkIndexesFilesAndAnnounceMatches(t *testing.T) {
	store := newTestStore(t)
	root, err := os.MkdirTemp("", "indexer_walk_test")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(root) })

	writeFile(t, filepath.Join(root, "readme.txt"), "hello world")
	writeFile(t, filepath.Join(root, "sub", "notes.txt"), "nested file")

	ix := New(store, "/files", nil)
	if err := ix.Walk(root); err != nil {
		t.Fatalf("Walk: %v", err)
	}

	if len(ix.Paths()) != 2 {
		t.Fatalf("expected 2 indexed paths, got %v", ix.Paths())
	}

	digests := ix.Announce(identity.Identifier{}, "/files/readme.txt")
	if len(digests) != 1 {
		t.Fatalf("expected one digest for readme.txt, got %+v", digests)
	}
	wantDigest, ok := ix.Lookup("readme.txt")
	if !ok || wantDigest != digests[0] {
		t.Fatalf("Announce digest mismatch: got %v want %v", digests[0], wantDigest)
	}

	nested := ix.Announce(identity.Identifier{}, "/files/sub/notes.txt")
	if len(nested) != 1 {
		t.Fatalf("expected one digest for nested file, got %+v", nested)
	}

	if got := ix.Announce(identity.Identifier{}, "/files/missing.txt"); got != nil {
		t.Fatalf("expected no digests for unindexed path, got %+v", got)
	}
}

func TestWalkReplacesPreviousIndex(t *testing.T) {
	store := newTestStore(t)
	root, err := os.MkdirTemp("", "indexer_walk_replace_test")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(root) })

	writeFile(t, filepath.Join(root, "a.txt"), "first")
	ix := New(store, "/files", nil)
	if err := ix.Walk(root); err != nil {
		t.Fatalf("Walk: %v", err)
	}
	if len(ix.Paths()) != 1 {
		t.Fatalf("expected 1 path after first walk, got %v", ix.Paths())
	}

	if err := os.Remove(filepath.Join(root, "a.txt")); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	writeFile(t, filepath.Join(root, "b.txt"), "second")
	if err := ix.Walk(root); err != nil {
		t.Fatalf("Walk: %v", err)
	}
	if len(ix.Paths()) != 1 || ix.Paths()[0] != "b.txt" {
		t.Fatalf("expected index replaced with b.txt only, got %v", ix.Paths())
	}
}
