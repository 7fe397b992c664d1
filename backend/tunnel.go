package backend

import (
	"fmt"
	"net"
	"sync"
	"time"

	"teapotnet/identity"
	"teapotnet/transport"
	"teapotnet/wire"
)

// TunnelBackend synthesizes a datagram carrier out of Tunnel-content
// overlay messages, so two peers can run a full secure-transport
// handshake end to end even when only reachable through intermediate
// relays (spec.md §4.4). Sender is the hook the owning handler/router
// provides for actually emitting a Tunnel envelope toward a
// destination identifier.
type TunnelBackend struct {
	mu       sync.Mutex
	wrappers map[wrapperKey]*tunnelWrapper
	local    identity.Identifier
	sendFunc func(dst identity.Identifier, payload []byte) error

	credential transport.Credential
	lookupPSK  transport.SecretLookup
	verifyCert transport.CertificateVerifier

	out chan transport.SecureTransport
}

type wrapperKey struct {
	local, remote identity.Identifier
}

// NewTunnelBackend constructs a TunnelBackend for the local identifier.
// sendFunc is called whenever the backend needs to emit a Tunnel
// envelope; the caller (overlay.Handler) wires this to its router.
func NewTunnelBackend(local identity.Identifier, sendFunc func(dst identity.Identifier, payload []byte) error, credential transport.Credential, lookupPSK transport.SecretLookup, verifyCert transport.CertificateVerifier) *TunnelBackend {
	return &TunnelBackend{
		wrappers:   make(map[wrapperKey]*tunnelWrapper),
		local:      local,
		sendFunc:   sendFunc,
		credential: credential,
		lookupPSK:  lookupPSK,
		verifyCert: verifyCert,
		out:        make(chan transport.SecureTransport, 16),
	}
}

func (b *TunnelBackend) Listen() (<-chan transport.SecureTransport, error) {
	return b.out, nil
}

// Dial registers a wrapper keyed by (local, remote) and hands back a
// SecureTransport layered over it.
func (b *TunnelBackend) Dial(loc Locator) (transport.SecureTransport, error) {
	key := wrapperKey{local: b.local, remote: loc.TargetIdentifier}
	wrapper := b.wrapperFor(key)

	credential := b.credential
	credential.PeerIdentifier = loc.TargetIdentifier
	st := transport.NewNoiseTransport(wrapper, true, credential, b.lookupPSK, b.verifyCert, nil)
	if err := st.Handshake(); err != nil {
		b.forget(key)
		return nil, fmt.Errorf("backend: tunnel handshake: %w", err)
	}
	return st, nil
}

func (b *TunnelBackend) wrapperFor(key wrapperKey) *tunnelWrapper {
	b.mu.Lock()
	defer b.mu.Unlock()
	if w, ok := b.wrappers[key]; ok {
		return w
	}
	w := newTunnelWrapper(key, b.sendFunc)
	b.wrappers[key] = w
	return w
}

func (b *TunnelBackend) forget(key wrapperKey) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.wrappers, key)
}

// Deliver routes an inbound Tunnel message's payload to the matching
// wrapper, or opens a new inbound session if (dst, src) is unseen —
// spec.md §4.4: "A Tunnel message whose (dst, src) matches an existing
// wrapper is delivered to it; otherwise it opens a new inbound
// session." The overlay Handler calls this from its content dispatch
// for the Tunnel content type.
func (b *TunnelBackend) Deliver(msg wire.Message) {
	key := wrapperKey{local: msg.Destination, remote: msg.Source}
	b.mu.Lock()
	w, ok := b.wrappers[key]
	if !ok {
		w = newTunnelWrapper(key, b.sendFunc)
		b.wrappers[key] = w
		b.mu.Unlock()

		credential := b.credential
		credential.PeerIdentifier = msg.Source
		st := transport.NewNoiseTransport(w, false, credential, b.lookupPSK, b.verifyCert, nil)
		go func() {
			if err := st.Handshake(); err == nil {
				b.out <- st
			} else {
				b.forget(key)
			}
		}()
	} else {
		b.mu.Unlock()
	}
	w.deliver(msg.Payload)
}

func (b *TunnelBackend) Addresses() []Address { return nil }

func (b *TunnelBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for key, w := range b.wrappers {
		w.closeLocal()
		delete(b.wrappers, key)
	}
	return nil
}

// tunnelWrapper presents a net.Conn-shaped Read/Write over the
// overlay's Tunnel content type, used as the carrier underneath
// stream-mode secure transport.
type tunnelWrapper struct {
	key      wrapperKey
	sendFunc func(dst identity.Identifier, payload []byte) error

	mu     sync.Mutex
	inbox  chan []byte
	pending []byte
	closed bool
}

func newTunnelWrapper(key wrapperKey, sendFunc func(dst identity.Identifier, payload []byte) error) *tunnelWrapper {
	return &tunnelWrapper{key: key, sendFunc: sendFunc, inbox: make(chan []byte, 64)}
}

func (w *tunnelWrapper) deliver(payload []byte) {
	w.mu.Lock()
	closed := w.closed
	w.mu.Unlock()
	if closed {
		return
	}
	w.inbox <- payload
}

func (w *tunnelWrapper) Read(p []byte) (int, error) {
	w.mu.Lock()
	if len(w.pending) > 0 {
		n := copy(p, w.pending)
		w.pending = w.pending[n:]
		w.mu.Unlock()
		return n, nil
	}
	w.mu.Unlock()

	payload, ok := <-w.inbox
	if !ok {
		return 0, fmt.Errorf("backend: tunnel wrapper closed")
	}
	n := copy(p, payload)
	if n < len(payload) {
		w.mu.Lock()
		w.pending = append([]byte(nil), payload[n:]...)
		w.mu.Unlock()
	}
	return n, nil
}

func (w *tunnelWrapper) Write(p []byte) (int, error) {
	if err := w.sendFunc(w.key.remote, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (w *tunnelWrapper) Close() error {
	w.closeLocal()
	return nil
}

func (w *tunnelWrapper) closeLocal() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.closed {
		w.closed = true
		close(w.inbox)
	}
}

func (w *tunnelWrapper) LocalAddr() net.Addr  { return tunnelAddr{} }
func (w *tunnelWrapper) RemoteAddr() net.Addr { return tunnelAddr{} }

// SetDeadline and friends are no-ops: the wrapper's Read already
// blocks only on the inbox channel, and timing out a tunnel carrier is
// the overlay handler's responsibility (via Alarm), not the
// transport's.
func (w *tunnelWrapper) SetDeadline(time.Time) error      { return nil }
func (w *tunnelWrapper) SetReadDeadline(time.Time) error  { return nil }
func (w *tunnelWrapper) SetWriteDeadline(time.Time) error { return nil }

type tunnelAddr struct{}

func (tunnelAddr) Network() string { return "overlay-tunnel" }
func (tunnelAddr) String() string  { return "overlay-tunnel" }
