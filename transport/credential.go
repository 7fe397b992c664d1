// Package transport provides mutually-authenticated secure channels
// over stream and datagram carriers (spec.md §4.3), generalizing the
// teacher's network.go peer-dialing code from a single bare-TCP
// carrier to a small tagged-variant credential model per spec.md §9's
// re-architecture note ("model as tagged variants with a small
// capability set").
package transport

import (
	"crypto/rsa"

	"teapotnet/identity"
)

// CredentialKind discriminates the three authentication modes a
// SecureTransport handshake may use (spec.md §4.3).
type CredentialKind uint8

const (
	// Anonymous performs key-agreement only, for opportunistic
	// transport upgrades between fully untrusted parties.
	Anonymous CredentialKind = iota
	// PreSharedKey authenticates both sides with a 32-byte secret
	// indexed by a short peering name.
	PreSharedKey
	// Certificate authenticates the remote party's RSA public key
	// against a claimed Identifier.
	Certificate
)

func (k CredentialKind) String() string {
	switch k {
	case Anonymous:
		return "anonymous"
	case PreSharedKey:
		return "psk"
	case Certificate:
		return "certificate"
	default:
		return "unknown"
	}
}

// Credential selects a handshake mode and carries the data that mode
// needs. Exactly one of the mode-specific fields is meaningful,
// matching Kind.
type Credential struct {
	Kind CredentialKind

	// PeeringName indexes a pre-shared secret in the listener
	// registry (PreSharedKey only).
	PeeringName string

	// LocalKey is this side's long-term RSA key pair, required for
	// Certificate mode and optional otherwise.
	LocalKey *rsa.PrivateKey

	// PeerIdentifier is the identifier this side expects the remote
	// party to present (Certificate mode: verified against the
	// handshake's certificate; PreSharedKey/Anonymous: informational).
	PeerIdentifier identity.Identifier
}

// SecretLookup resolves a PreSharedKey credential's peering name to
// its 32-byte secret, implemented by the listener registry (spec.md
// §4.3: "Server looks up the secret by name via a callback into the
// listener registry").
type SecretLookup func(peeringName string) ([]byte, bool)

// CertificateVerifier recomputes an Identifier from a presented RSA
// public key and reports whether it matches the expected identifier
// for that connection, implementing spec.md §4.3's verify_certificate
// contract.
type CertificateVerifier func(pub *rsa.PublicKey) (identity.Identifier, bool)

// NameVerifier is consulted before accepting a user-scoped credential
// (spec.md §4.3 verify_name).
type NameVerifier func(name string) bool
