package resource

import (
	"io"
	"time"

	"teapotnet/blockstore"
)

// Store is the subset of blockstore.Store the chunker and reader need,
// kept narrow so callers can inject fakes in tests.
type Store interface {
	Push(digest blockstore.Digest, stream io.Reader) (bool, error)
	Pull(digest blockstore.Digest, out io.Writer) (bool, error)
	GetBlock(digest blockstore.Digest) (blockstore.Location, bool)
	HasBlock(digest blockstore.Digest) bool
	WaitBlock(digest blockstore.Digest, timeout time.Duration) bool
}

// Chunk reads stream to EOF, splitting it into BlockSize blocks that
// are handed to store, then serializes and stores an IndexRecord
// listing their digests in order. It returns the resource's root
// digest and total byte size — spec.md §4.2 steps 1-2.
func Chunk(store Store, name, kind string, stream io.Reader) (blockstore.Digest, int64, error) {
	var (
		digests []blockstore.Digest
		total   int64
	)
	buf := make([]byte, BlockSize)
	for {
		n, err := io.ReadFull(stream, buf)
		if n > 0 {
			chunk := append([]byte(nil), buf[:n]...)
			digest, sumErr := blockstore.Sum(chunk)
			if sumErr != nil {
				return blockstore.Digest{}, 0, sumErr
			}
			if _, pushErr := store.Push(digest, newByteReader(chunk)); pushErr != nil {
				return blockstore.Digest{}, 0, pushErr
			}
			digests = append(digests, digest)
			total += int64(n)
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			break
		}
		if err != nil {
			return blockstore.Digest{}, 0, err
		}
	}

	record := IndexRecord{Name: name, Type: kind, Size: uint64(total)}
	record.BlockDigests = make([][blockstore.Size]byte, len(digests))
	for i, d := range digests {
		record.BlockDigests[i] = [blockstore.Size]byte(d)
	}

	encoded, err := EncodeIndexRecord(record)
	if err != nil {
		return blockstore.Digest{}, 0, err
	}
	root, err := blockstore.Sum(encoded)
	if err != nil {
		return blockstore.Digest{}, 0, err
	}
	if _, err := store.Push(root, newByteReader(encoded)); err != nil {
		return blockstore.Digest{}, 0, err
	}
	return root, total, nil
}

func newByteReader(b []byte) io.Reader {
	return &byteReader{b: b}
}

// byteReader avoids pulling in bytes.Reader's wider API just to hand
// Store.Push a one-shot io.Reader.
type byteReader struct {
	b   []byte
	off int
}

func (r *byteReader) Read(p []byte) (int, error) {
	if r.off >= len(r.b) {
		return 0, io.EOF
	}
	n := copy(p, r.b[r.off:])
	r.off += n
	return n, nil
}
