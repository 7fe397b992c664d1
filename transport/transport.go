package transport

import (
	"io"

	"teapotnet/identity"
)

// SecureTransport is a bidirectional, mutually-authenticated channel
// established over a stream or datagram carrier (spec.md §4.3). After
// Handshake completes, Read/Write carry encrypted, integrity-protected
// bytes; Read/Write on a datagram-mode transport each correspond to
// exactly one record, preserving message boundaries.
type SecureTransport interface {
	io.ReadWriteCloser

	// Handshake performs the credential-specific key exchange. It
	// must be called exactly once before any Read/Write. On failure
	// the transport must be considered destroyed: callers close it
	// and do not retry.
	Handshake() error

	// RemoteIdentifier returns the identifier the handshake
	// authenticated the remote party as. It is only meaningful for
	// PreSharedKey and Certificate credentials; Anonymous transports
	// return the null identifier.
	RemoteIdentifier() RemoteIdentity

	// Datagram reports whether this transport preserves message
	// boundaries (true) or is a plain byte stream (false).
	Datagram() bool
}

// RemoteIdentity is the outcome of a handshake's authentication step.
type RemoteIdentity struct {
	Kind       CredentialKind
	Name       string              // peering name (PreSharedKey) or certificate subject (Certificate)
	Identifier identity.Identifier // populated for Certificate; null otherwise
}
