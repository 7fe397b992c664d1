// Package blockstore maps content digests to byte ranges of local
// files: the block store described in spec.md §4.1, grounded on the
// teacher's on-disk LRU cache in storage.go (diskLRU.put/get and the
// Pin/Retrieve gateway wrapper), generalized from whole-file blobs to
// (file, offset, size) regions so a block can live inside a larger
// staging file without being copied.
package blockstore

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.uber.org/zap"
)

// Location identifies the on-disk region that holds a block's bytes.
type Location struct {
	File   string
	Offset int64
	Size   int64
}

// Store is the content-addressed block store. All methods acquire a
// single internal lock; long reads use a Location returned by
// GetBlock and perform I/O lock-free, per spec.md §5's
// shared-resource policy for the store.
type Store struct {
	mu      sync.Mutex
	dir     string
	index   map[Digest]Location
	waiters map[Digest][]chan struct{}

	logger *logrus.Logger
	cache  *zap.SugaredLogger // cache-path diagnostics, mirrors storage.go's zap usage

	maxEntries int   // 0 means unbounded
	order      []Digest
}

// Option configures a Store at construction time.
type Option func(*Store)

// WithCapacity bounds the store to maxEntries blocks, evicting the
// oldest-inserted entry first once full — the teacher's diskLRU
// eviction policy, adapted here as an optional bounded mode (spec.md
// §9 leaves block eviction policy as an implementation parameter).
func WithCapacity(maxEntries int) Option {
	return func(s *Store) { s.maxEntries = maxEntries }
}

// New creates a Store rooted at dir, creating it if necessary.
func New(dir string, logger *logrus.Logger, zapLogger *zap.Logger, opts ...Option) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("blockstore: %w", err)
	}
	if logger == nil {
		logger = logrus.New()
	}
	if zapLogger == nil {
		zapLogger = zap.NewNop()
	}
	s := &Store{
		dir:     dir,
		index:   make(map[Digest]Location),
		waiters: make(map[Digest][]chan struct{}),
		logger:  logger,
		cache:   zapLogger.Sugar().With("component", "blockstore"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// NotifyBlock records that the bytes at [offset, offset+size) of file
// hash to digest. It is idempotent and wakes all current waiters for
// digest. The caller is responsible for the hash being correct unless
// Push was used.
func (s *Store) NotifyBlock(digest Digest, file string, offset, size int64) {
	s.mu.Lock()
	if _, exists := s.index[digest]; !exists {
		s.index[digest] = Location{File: file, Offset: offset, Size: size}
		s.order = append(s.order, digest)
		s.evictLocked()
	}
	waiters := s.waiters[digest]
	delete(s.waiters, digest)
	s.mu.Unlock()

	for _, ch := range waiters {
		close(ch)
	}
	s.cache.Debugf("notified block %s (%s@%d+%d)", digest.CID(), file, offset, size)
}

// evictLocked drops the oldest inserted block once the store exceeds
// its configured capacity. Callers must hold s.mu.
func (s *Store) evictLocked() {
	if s.maxEntries <= 0 {
		return
	}
	for len(s.index) > s.maxEntries && len(s.order) > 0 {
		oldest := s.order[0]
		s.order = s.order[1:]
		if loc, ok := s.index[oldest]; ok {
			delete(s.index, oldest)
			_ = os.Remove(loc.File)
		}
	}
}

// Push reads stream fully, writes it to a new staging file, computes
// its digest, and aborts if it does not match the claimed digest.
// Otherwise the staging file is moved into the content-addressed cache
// and NotifyBlock is called. Push is idempotent for a given digest: a
// second Push for an already-present digest still drains stream (so
// the caller's I/O completes) but performs no additional I/O.
func (s *Store) Push(digest Digest, stream io.Reader) (bool, error) {
	data, err := io.ReadAll(stream)
	if err != nil {
		return false, fmt.Errorf("blockstore: push: %w", err)
	}
	actual, err := Sum(data)
	if err != nil {
		return false, err
	}
	if actual != digest {
		s.logger.Warnf("blockstore: digest mismatch, claimed=%s actual=%s", digest, actual)
		return false, nil
	}

	if s.HasBlock(digest) {
		return true, nil
	}

	path := filepath.Join(s.dir, digest.CID())
	staging := path + ".staging"
	if err := os.WriteFile(staging, data, 0o644); err != nil {
		return false, fmt.Errorf("blockstore: stage: %w", err)
	}
	if err := os.Rename(staging, path); err != nil {
		_ = os.Remove(staging)
		return false, fmt.Errorf("blockstore: commit: %w", err)
	}

	s.NotifyBlock(digest, path, 0, int64(len(data)))
	return true, nil
}

// Pull appends the block's bytes to out and returns true if digest is
// locally available. It never blocks.
func (s *Store) Pull(digest Digest, out io.Writer) (bool, error) {
	loc, ok := s.GetBlock(digest)
	if !ok {
		return false, nil
	}
	f, err := os.Open(loc.File)
	if err != nil {
		return false, nil // concurrently evicted; caller observes absence
	}
	defer f.Close()

	if _, err := f.Seek(loc.Offset, io.SeekStart); err != nil {
		return false, nil
	}
	if _, err := io.CopyN(out, f, loc.Size); err != nil {
		return false, nil // short read: concurrent eviction
	}
	return true, nil
}

// GetBlock looks up digest without blocking.
func (s *Store) GetBlock(digest Digest) (Location, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	loc, ok := s.index[digest]
	return loc, ok
}

// HasBlock reports whether digest is locally available.
func (s *Store) HasBlock(digest Digest) bool {
	_, ok := s.GetBlock(digest)
	return ok
}

// WaitBlock blocks until digest becomes locally available or timeout
// elapses, returning whether it is now available.
func (s *Store) WaitBlock(digest Digest, timeout time.Duration) bool {
	s.mu.Lock()
	if _, ok := s.index[digest]; ok {
		s.mu.Unlock()
		return true
	}
	ch := make(chan struct{})
	s.waiters[digest] = append(s.waiters[digest], ch)
	s.mu.Unlock()

	select {
	case <-ch:
		return s.HasBlock(digest)
	case <-time.After(timeout):
		return s.HasBlock(digest)
	}
}

// ForgetFile removes every index entry that references file, per the
// file-erasure notification in spec.md §4.1.
func (s *Store) ForgetFile(file string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for d, loc := range s.index {
		if loc.File == file {
			delete(s.index, d)
		}
	}
	filtered := s.order[:0]
	for _, d := range s.order {
		if _, ok := s.index[d]; ok {
			filtered = append(filtered, d)
		}
	}
	s.order = filtered
}

// Dir returns the store's content-addressed cache root.
func (s *Store) Dir() string { return s.dir }
