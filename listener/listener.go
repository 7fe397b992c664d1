// Package listener declares the external collaborator interface
// application code registers to observe overlay events — spec.md
// §6.4, out of the core's scope but consumed by it.
package listener

import "teapotnet/identity"

// Notification is an application-level message delivered via a
// reliable or best-effort Notify frame.
type Notification struct {
	Payload []byte
}

// Listener is registered by application code against a peer
// identifier to receive routing and notification events for it
// (spec.md §6.4).
type Listener interface {
	// Seen fires exactly once per no-route-to-has-route transition
	// for the watched identifier.
	Seen(id identity.Identifier)

	// Recv delivers an inbound Notify's payload from id.
	Recv(id identity.Identifier, notification Notification)

	// Auth is consulted during a pre-shared-key handshake to resolve
	// peering to its secret, returned as out. ok is false if peering
	// is unknown.
	Auth(peering string) (out []byte, ok bool)
}
