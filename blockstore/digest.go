package blockstore

import (
	"encoding/hex"
	"errors"
	"io"

	"github.com/ipfs/go-cid"
	mh "github.com/multiformats/go-multihash"
)

// Size is the width in bytes of a Digest: the SHA3-256 hash of a
// block's exact bytes.
const Size = 32

// Digest names a block by the hash of its contents.
type Digest [Size]byte

// String renders the digest as lowercase hex.
func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// IsZero reports whether d is the all-zero digest.
func (d Digest) IsZero() bool {
	return d == Digest{}
}

// Sum computes the SHA3-256 Digest of data via a multihash and keeps
// the raw 32 hash bytes; CID renders it as a CIDv1 raw-codec identifier
// for the store's on-disk cache keys and log lines, mirroring the
// teacher's storage.go Pin path (mh.Sum + cid.NewCidV1).
func Sum(data []byte) (Digest, error) {
	encoded, err := mh.Sum(data, mh.SHA3_256, -1)
	if err != nil {
		return Digest{}, err
	}
	decoded, err := mh.Decode(encoded)
	if err != nil {
		return Digest{}, err
	}
	if len(decoded.Digest) != Size {
		return Digest{}, errors.New("blockstore: unexpected digest width")
	}
	var d Digest
	copy(d[:], decoded.Digest)
	return d, nil
}

// ParseDigest decodes a hex-encoded digest, the form block/pubsub CLI
// commands accept on the command line.
func ParseDigest(s string) (Digest, error) {
	var d Digest
	b, err := hex.DecodeString(s)
	if err != nil {
		return d, err
	}
	if len(b) != Size {
		return d, errors.New("blockstore: wrong digest length")
	}
	copy(d[:], b)
	return d, nil
}

// SumReader computes the Digest of everything read from r.
func SumReader(r io.Reader) (Digest, int64, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Digest{}, 0, err
	}
	d, err := Sum(data)
	return d, int64(len(data)), err
}

// CID returns the CIDv1/raw/SHA3-256 string representation of d, used
// for diagnostics and for the on-disk cache file name.
func (d Digest) CID() string {
	encoded, err := mh.Encode(d[:], mh.SHA3_256)
	if err != nil {
		// mh.Encode only fails on an unknown hash code or length
		// mismatch, neither of which is possible for a fixed Digest.
		panic("blockstore: multihash encode: " + err.Error())
	}
	c := cid.NewCidV1(cid.Raw, encoded)
	return c.String()
}
