package resource

import (
	"bytes"
	"fmt"
	"io"
	"time"

	"github.com/ethereum/go-ethereum/rlp"

	"teapotnet/blockstore"
)

// Reader provides random-access io.ReadSeeker semantics over a chunked
// resource addressed only by its root digest — spec.md §4.2 steps 2-3.
// Block lookups are O(1): the block index is the position divided by
// BlockSize. Seek never touches the store.
type Reader struct {
	store   Store
	index   IndexRecord
	offsets []int64 // offsets[i] is the starting byte offset of block i
	pos     int64
	timeout time.Duration
}

// BlockWaitTimeout bounds how long Read waits for a missing block to
// arrive before giving up, mirroring the store's own WaitBlock timeout
// rather than blocking forever on a peer that never answers.
const BlockWaitTimeout = 30 * time.Second

// Open resolves root to an IndexRecord and returns a Reader over it.
// The index block itself must already be locally available; callers
// wanting to fetch it over the network do so before calling Open.
func Open(store Store, root blockstore.Digest) (*Reader, error) {
	var buf bytes.Buffer
	ok, err := store.Pull(root, &buf)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("resource: index block %s not available", root)
	}
	record, err := DecodeIndexRecord(buf.Bytes())
	if err != nil {
		return nil, fmt.Errorf("resource: decode index: %w", err)
	}

	offsets := make([]int64, len(record.BlockDigests))
	var running int64
	for i := range record.BlockDigests {
		offsets[i] = running
		running += BlockSize
	}

	return &Reader{store: store, index: record, offsets: offsets, timeout: BlockWaitTimeout}, nil
}

// Name returns the resource's declared name.
func (r *Reader) Name() string { return r.index.Name }

// Type returns the resource's declared MIME-ish type string.
func (r *Reader) Type() string { return r.index.Type }

// Size returns the resource's total byte length.
func (r *Reader) Size() int64 { return int64(r.index.Size) }

// blockFor returns the index of the block containing absolute byte
// offset pos, and the offset within that block.
func (r *Reader) blockFor(pos int64) (int, int64) {
	i := int(pos / BlockSize)
	return i, pos % BlockSize
}

// Read implements io.Reader, fetching and waiting on blocks as needed.
func (r *Reader) Read(p []byte) (int, error) {
	if r.pos >= int64(r.index.Size) {
		return 0, io.EOF
	}
	blockIdx, within := r.blockFor(r.pos)
	if blockIdx >= len(r.index.BlockDigests) {
		return 0, io.EOF
	}
	digest := blockstore.Digest(r.index.BlockDigests[blockIdx])

	if !r.store.HasBlock(digest) {
		if !r.store.WaitBlock(digest, r.timeout) {
			return 0, fmt.Errorf("resource: block %s unavailable", digest)
		}
	}

	var buf bytes.Buffer
	ok, err := r.store.Pull(digest, &buf)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("resource: block %s vanished", digest)
	}

	block := buf.Bytes()
	if within >= int64(len(block)) {
		return 0, io.EOF
	}
	n := copy(p, block[within:])
	r.pos += int64(n)
	return n, nil
}

// Seek implements io.Seeker. Because block boundaries are fixed-size
// and precomputed, Seek is an O(1) arithmetic operation with no I/O.
func (r *Reader) Seek(offset int64, whence int) (int64, error) {
	var target int64
	switch whence {
	case io.SeekStart:
		target = offset
	case io.SeekCurrent:
		target = r.pos + offset
	case io.SeekEnd:
		target = int64(r.index.Size) + offset
	default:
		return 0, fmt.Errorf("resource: invalid whence %d", whence)
	}
	if target < 0 {
		return 0, fmt.Errorf("resource: negative seek position %d", target)
	}
	r.pos = target
	return r.pos, nil
}

// ListDirectory decodes a directory-type resource's payload, whose
// bytes are the RLP-concatenated encodings of its DirectoryRecord
// entries — spec.md §4.2 step 4. Concatenated RLP values are
// self-delimiting, so entries are read off an rlp.Stream until EOF
// rather than needing an extra length framing.
func ListDirectory(store Store, root blockstore.Digest) ([]DirectoryRecord, error) {
	reader, err := Open(store, root)
	if err != nil {
		return nil, err
	}
	if reader.Type() != "directory" {
		return nil, fmt.Errorf("resource: %s is not a directory resource", root)
	}

	stream := rlp.NewStream(reader, 0)
	var entries []DirectoryRecord
	for {
		var entry DirectoryRecord
		if err := stream.Decode(&entry); err != nil {
			if err == io.EOF {
				break
			}
			return nil, fmt.Errorf("resource: decode directory entry: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
