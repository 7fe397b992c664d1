// Package identity defines the Identifier type shared by every layer of
// the overlay: the transport (credential verification), the wire format
// (message source/destination), and the router/handler (peer bookkeeping).
package identity

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/hex"
	"errors"

	"golang.org/x/crypto/sha3"
)

// Size is the width in bytes of an Identifier: the SHA3-256 digest of a
// peer's long-term public key.
const Size = 32

// Identifier names a peer by the hash of its long-term public key.
// Equality is byte equality.
type Identifier [Size]byte

// Null is the distinguished "any" identifier used as a broadcast
// destination.
var Null Identifier

// IsNull reports whether id is the all-zero identifier.
func (id Identifier) IsNull() bool {
	return id == Null
}

// String renders the identifier as lowercase hex.
func (id Identifier) String() string {
	return hex.EncodeToString(id[:])
}

// FromPublicKey derives the Identifier of an RSA public key as the
// SHA3-256 digest of its DER-encoded form, per the Certificate
// credential mode's verification rule (digest(pubkey) == identifier).
func FromPublicKey(pub *rsa.PublicKey) Identifier {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		// MarshalPKIXPublicKey only fails for key types it does not
		// recognize; an *rsa.PublicKey always marshals.
		panic("identity: rsa public key failed to marshal: " + err.Error())
	}
	h := sha3.Sum256(der)
	var id Identifier
	copy(id[:], h[:])
	return id
}

// Parse decodes a hex-encoded identifier.
func Parse(s string) (Identifier, error) {
	var id Identifier
	b, err := hex.DecodeString(s)
	if err != nil {
		return id, err
	}
	if len(b) != Size {
		return id, errors.New("identity: wrong identifier length")
	}
	copy(id[:], b)
	return id, nil
}
