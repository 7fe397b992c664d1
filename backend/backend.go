// Package backend implements the three connection backends of
// spec.md §4.4 — TCP streams, UDP datagrams, and overlay-carried
// tunnels — behind a single Backend interface, generalized from the
// teacher's bare net.Dialer/net.Listener usage in network.go.
package backend

import (
	"teapotnet/identity"
	"teapotnet/transport"
)

// Address is an opaque carrier-specific dial/listen address (a host:port
// pair for Stream/Datagram, an identifier pair for Tunnel).
type Address string

// Locator selects a destination and the credential it should be
// reached with (spec.md §4.4).
type Locator struct {
	User            string
	TargetIdentifier identity.Identifier
	Addresses       []Address
	PeeringName     string
	PSK             []byte
}

// Backend is the shared contract for StreamBackend, DatagramBackend,
// and TunnelBackend.
type Backend interface {
	// Listen returns a channel of inbound transports as they complete
	// their handshake. The channel is closed when the backend stops.
	Listen() (<-chan transport.SecureTransport, error)

	// Dial establishes an outbound transport to loc's destination.
	Dial(loc Locator) (transport.SecureTransport, error)

	// Addresses returns the set of local addresses this backend is
	// reachable on.
	Addresses() []Address

	// Close stops listening and releases backend resources.
	Close() error
}
