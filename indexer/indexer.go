// Package indexer implements the filesystem indexer spec.md §6.4
// names as an external collaborator: a one-shot walk of a local
// directory that chunks each regular file into the block store and
// answers pub/sub announce queries for it, the same directory-to-peer
// mapping role original_source/src/tracker.cpp plays for addresses,
// carried over to files. No filesystem watching: a later Walk call is
// how a caller picks up changes, matching spec.md §4.10's scope note.
package indexer

import (
	"fmt"
	"io/fs"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"teapotnet/blockstore"
	"teapotnet/identity"
	"teapotnet/resource"
)

// Indexer walks a directory tree and registers each file it finds as
// a resource, answering overlay.Publisher's Announce for the prefix
// it was registered under.
type Indexer struct {
	store  resource.Store
	prefix string
	logger *logrus.Logger

	mu      sync.RWMutex
	entries map[string]blockstore.Digest // relative path -> root digest
}

// New creates an Indexer that will announce files under prefix (the
// path it gets registered at via overlay.PubSub.RegisterPublisher).
func New(store resource.Store, prefix string, logger *logrus.Logger) *Indexer {
	if logger == nil {
		logger = logrus.New()
	}
	return &Indexer{
		store:   store,
		prefix:  strings.TrimSuffix(prefix, "/"),
		logger:  logger,
		entries: make(map[string]blockstore.Digest),
	}
}

// Walk chunks every regular file under root into the store and
// records it under its path relative to root. It replaces any
// previous index built from an earlier Walk.
func (ix *Indexer) Walk(root string) error {
	entries := make(map[string]blockstore.Digest)

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("indexer: open %s: %w", path, err)
		}
		defer f.Close()

		kind := kindFor(path)
		digest, _, err := resource.Chunk(ix.store, filepath.Base(path), kind, f)
		if err != nil {
			return fmt.Errorf("indexer: chunk %s: %w", path, err)
		}
		entries[rel] = digest
		ix.logger.Debugf("indexer: indexed %s as %s under %s", rel, kind, ix.prefix)
		return nil
	})
	if err != nil {
		return err
	}

	ix.mu.Lock()
	ix.entries = entries
	ix.mu.Unlock()
	return nil
}

func kindFor(path string) string {
	if t := mime.TypeByExtension(filepath.Ext(path)); t != "" {
		return t
	}
	return "application/octet-stream"
}

// Announce implements overlay.Publisher: path is matched against the
// indexer's prefix plus each indexed file's relative path, returning
// that file's root digest when it matches exactly.
func (ix *Indexer) Announce(source identity.Identifier, path string) []blockstore.Digest {
	rel := strings.TrimPrefix(path, ix.prefix)
	rel = strings.TrimPrefix(rel, "/")

	ix.mu.RLock()
	defer ix.mu.RUnlock()
	if digest, ok := ix.entries[rel]; ok {
		return []blockstore.Digest{digest}
	}
	return nil
}

// Lookup returns the digest indexed for a relative path, for callers
// that already know the path and don't need the Announce-style prefix
// matching (e.g. building a directory listing to publish).
func (ix *Indexer) Lookup(relPath string) (blockstore.Digest, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	d, ok := ix.entries[relPath]
	return d, ok
}

// Paths returns every indexed relative path, in no particular order.
func (ix *Indexer) Paths() []string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	paths := make([]string, 0, len(ix.entries))
	for p := range ix.entries {
		paths = append(paths, p)
	}
	return paths
}
