// Package resource chunks arbitrary byte streams into fixed-size
// blocks, builds an index block listing all block digests, and serves
// streamed random-access reads using only a root digest — spec.md §4.2.
//
// Wire encoding of IndexRecord/DirectoryRecord uses RLP
// (github.com/ethereum/go-ethereum/rlp), the same length-prefixed
// binary framing the teacher uses for block/range messages in
// replication.go (blockMsg, rangeBlocksMsg).
package resource

import (
	"github.com/ethereum/go-ethereum/rlp"

	"teapotnet/blockstore"
)

// BlockSize is the fixed chunking unit (spec.md's BLOCK_SIZE), resolved
// as an Open Question in spec.md §9 to 256 KiB.
const BlockSize = 256 * 1024

// IndexRecord is the deserialized payload of a resource's index block:
// spec.md §6.1. Concatenating the payloads of BlockDigests in order
// yields exactly Size bytes.
type IndexRecord struct {
	Name         string
	Type         string
	Size         uint64
	BlockDigests [][blockstore.Size]byte
}

// EncodeIndexRecord serializes r with RLP.
func EncodeIndexRecord(r IndexRecord) ([]byte, error) {
	return rlp.EncodeToBytes(r)
}

// DecodeIndexRecord deserializes an IndexRecord, failing if data is not
// a valid encoding (spec.md §4.2 step 1).
func DecodeIndexRecord(data []byte) (IndexRecord, error) {
	var r IndexRecord
	if err := rlp.DecodeBytes(data, &r); err != nil {
		return IndexRecord{}, err
	}
	return r, nil
}

// Digests returns r's block list as blockstore.Digest values.
func (r IndexRecord) Digests() []blockstore.Digest {
	out := make([]blockstore.Digest, len(r.BlockDigests))
	for i, d := range r.BlockDigests {
		out[i] = blockstore.Digest(d)
	}
	return out
}

// DirectoryRecord describes one entry of a directory-type resource —
// spec.md §6.1. A directory resource's payload is the concatenation of
// its entries' RLP encodings.
type DirectoryRecord struct {
	Name   string
	Type   string
	Size   uint64
	Digest [blockstore.Size]byte
	Time   int64
}

// EncodeDirectoryRecord serializes d with RLP.
func EncodeDirectoryRecord(d DirectoryRecord) ([]byte, error) {
	return rlp.EncodeToBytes(d)
}

// DecodeDirectoryRecord deserializes a DirectoryRecord.
func DecodeDirectoryRecord(data []byte) (DirectoryRecord, error) {
	var d DirectoryRecord
	if err := rlp.DecodeBytes(data, &d); err != nil {
		return DirectoryRecord{}, err
	}
	return d, nil
}
