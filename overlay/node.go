package overlay

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"teapotnet/backend"
	"teapotnet/blockstore"
	"teapotnet/identity"
	"teapotnet/listener"
	"teapotnet/transport"
	"teapotnet/wire"
)

func tunnelMessage(src, dst identity.Identifier, payload []byte) wire.Message {
	return wire.Message{
		Type:        wire.TunnelEnvelope,
		Content:     wire.TunnelContent,
		Source:      src,
		Destination: dst,
		Payload:     payload,
	}
}

// Config parameterizes a Node's construction.
type Config struct {
	Local      identity.Identifier
	Credential transport.Credential
	LookupPSK  transport.SecretLookup
	VerifyCert transport.CertificateVerifier
	VerifyName transport.NameVerifier
}

// Node owns the router, the shared pub/sub table, the block store, a
// tunnel backend, and every live per-peer Handler — the process-level
// object spec.md §9 replaces the teacher's/original's singleton
// (`Core::Instance`) with: constructed explicitly and threaded to
// every collaborator rather than reached via a global.
type Node struct {
	cfg    Config
	store  *blockstore.Store
	router *Router
	pubsub *PubSub
	tunnel *backend.TunnelBackend
	logger *logrus.Logger

	mu       sync.Mutex
	handlers map[identity.Identifier]*Handler
}

// NewNode constructs a Node. store must already be opened by the
// caller (blockstore.New); logger may be nil.
func NewNode(cfg Config, store *blockstore.Store, logger *logrus.Logger) *Node {
	if logger == nil {
		logger = logrus.New()
	}
	n := &Node{
		cfg:      cfg,
		store:    store,
		router:   NewRouter(),
		pubsub:   NewPubSub(),
		logger:   logger,
		handlers: make(map[identity.Identifier]*Handler),
	}
	n.tunnel = backend.NewTunnelBackend(cfg.Local, n.sendTunnelEnvelope, cfg.Credential, cfg.LookupPSK, cfg.VerifyCert)
	return n
}

// sendTunnelEnvelope is the TunnelBackend's outbound hook: it routes a
// Tunnel-content message toward dst through the normal router, exactly
// like any other content type (spec.md §4.4's Tunnel carrier rides on
// ordinary overlay messages).
func (n *Node) sendTunnelEnvelope(dst identity.Identifier, payload []byte) error {
	n.router.Route(tunnelMessage(n.cfg.Local, dst, payload), identity.Identifier{})
	return nil
}

// AdoptTransport wraps an already-handshaken transport in a Handler
// and starts its receive loop, registering it with the router. Use
// this for both backend.Listen() arrivals and backend.Dial() results.
func (n *Node) AdoptTransport(t transport.SecureTransport) *Handler {
	h := NewHandler(n.cfg.Local, t, n.store, n.router, n.pubsub, n.tunnel, n.logger)
	n.mu.Lock()
	n.handlers[h.RemoteIdentifier()] = h
	n.mu.Unlock()
	go func() {
		if err := h.Run(); err != nil {
			n.logger.Debugf("overlay: handler for %s stopped: %v", h.RemoteIdentifier(), err)
		}
		n.mu.Lock()
		delete(n.handlers, h.RemoteIdentifier())
		n.mu.Unlock()
	}()
	return h
}

// Serve starts accepting inbound transports from backend b, adopting
// each into a Handler, until b's listen channel closes.
func (n *Node) Serve(b backend.Backend) error {
	inbound, err := b.Listen()
	if err != nil {
		return fmt.Errorf("overlay: serve: %w", err)
	}
	go func() {
		for t := range inbound {
			n.AdoptTransport(t)
		}
	}()
	return nil
}

// Dial opens an outbound connection via backend b to loc, adopting the
// resulting transport into a Handler.
func (n *Node) Dial(b backend.Backend, loc backend.Locator) (*Handler, error) {
	t, err := b.Dial(loc)
	if err != nil {
		return nil, err
	}
	return n.AdoptTransport(t), nil
}

// HandlerFor returns the live handler for a direct neighbor, if any.
func (n *Node) HandlerFor(id identity.Identifier) (*Handler, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	h, ok := n.handlers[id]
	return h, ok
}

// RegisterPublisher exposes the shared PubSub to application code
// (e.g. the filesystem indexer of spec.md §6.4).
func (n *Node) RegisterPublisher(path string, pub Publisher) uuid.UUID {
	return n.pubsub.RegisterPublisher(path, pub)
}

// UnregisterPublisher removes a publisher previously registered via
// RegisterPublisher.
func (n *Node) UnregisterPublisher(path string, id uuid.UUID) {
	n.pubsub.UnregisterPublisher(path, id)
}

// RegisterSubscriber exposes the shared PubSub for local subscriptions.
func (n *Node) RegisterSubscriber(path string, sub Subscriber) uuid.UUID {
	return n.pubsub.RegisterSubscriber(path, sub)
}

// UnregisterSubscriber removes a subscriber previously registered via
// RegisterSubscriber.
func (n *Node) UnregisterSubscriber(path string, id uuid.UUID) {
	n.pubsub.UnregisterSubscriber(path, id)
}

// RegisterListener attaches l to events concerning id on whichever
// handler currently owns that identifier, or queues nothing if none —
// callers typically register before a connection exists and rely on
// Router.Watch-driven reconnection logic (left to application code)
// to re-register once a handler appears.
func (n *Node) RegisterListener(id identity.Identifier, l listener.Listener) {
	if h, ok := n.HandlerFor(id); ok {
		h.RegisterListener(id, l)
	}
}

// Store exposes the node's block store to application code.
func (n *Node) Store() *blockstore.Store { return n.store }

// Router exposes the node's router, e.g. for Watch registrations.
func (n *Node) Router() *Router { return n.router }

// Close shuts down every live handler.
func (n *Node) Close() {
	n.mu.Lock()
	handlers := make([]*Handler, 0, len(n.handlers))
	for _, h := range n.handlers {
		handlers = append(handlers, h)
	}
	n.mu.Unlock()
	for _, h := range handlers {
		_ = h.Close()
	}
}
