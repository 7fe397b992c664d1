package overlay

import (
	"fmt"
	"io"
	"sync"

	"github.com/sirupsen/logrus"

	"teapotnet/blockstore"
	"teapotnet/identity"
	"teapotnet/listener"
	"teapotnet/transport"
	"teapotnet/wire"
)

// BlockStore is the subset of blockstore.Store the handler and its
// Sender need.
type BlockStore interface {
	Push(digest blockstore.Digest, stream io.Reader) (bool, error)
	Pull(digest blockstore.Digest, out io.Writer) (bool, error)
	HasBlock(digest blockstore.Digest) bool
}

// TunnelDeliverer hands an inbound Tunnel-content message to the
// tunnel backend (backend.TunnelBackend.Deliver). The Handler depends
// only on this interface; Node (node.go) is what wires in the concrete
// backend.TunnelBackend.
type TunnelDeliverer interface {
	Deliver(msg wire.Message)
}

// Handler owns a single authenticated transport and implements
// spec.md §4.5: frame I/O, the local subscription table, the
// per-remote sender, and content/envelope dispatch.
type Handler struct {
	local      identity.Identifier
	transport  transport.SecureTransport
	remote     identity.Identifier
	store      BlockStore
	router     *Router
	pubsub     *PubSub
	tunnel     TunnelDeliverer
	logger     *logrus.Logger

	writeMu sync.Mutex

	sender *Sender

	listenersMu sync.Mutex
	listeners   map[identity.Identifier][]listener.Listener

	closeOnce sync.Once
	done      chan struct{}
}

// NewHandler wraps an already-handshaken transport. store, router,
// and pubsub are shared across all of a node's handlers; tunnel may be
// nil if this handler's carrier is not tunnel-capable.
func NewHandler(local identity.Identifier, t transport.SecureTransport, store BlockStore, router *Router, pubsub *PubSub, tunnel TunnelDeliverer, logger *logrus.Logger) *Handler {
	if logger == nil {
		logger = logrus.New()
	}
	h := &Handler{
		local:     local,
		transport: t,
		remote:    t.RemoteIdentifier().Identifier,
		store:     store,
		router:    router,
		pubsub:    pubsub,
		tunnel:    tunnel,
		logger:    logger,
		listeners: make(map[identity.Identifier][]listener.Listener),
		done:      make(chan struct{}),
	}
	h.sender = NewSender(h.remote, h, storeAdapter{store})
	if router != nil {
		router.AddNeighbor(h.remote, h)
	}
	return h
}

// storeAdapter narrows BlockStore down to the Store interface Sender
// expects (Pull+HasBlock), since BlockStore's Pull signature already
// matches structurally — this exists only to satisfy Go's lack of
// structural subtyping across named interface parameter types.
type storeAdapter struct{ store BlockStore }

func (a storeAdapter) Pull(digest blockstore.Digest, out interface {
	Write(p []byte) (int, error)
}) (bool, error) {
	return a.store.Pull(digest, out)
}
func (a storeAdapter) HasBlock(digest blockstore.Digest) bool { return a.store.HasBlock(digest) }

// RegisterListener subscribes listener to events concerning id.
func (h *Handler) RegisterListener(id identity.Identifier, l listener.Listener) {
	h.listenersMu.Lock()
	defer h.listenersMu.Unlock()
	h.listeners[id] = append(h.listeners[id], l)
}

// RemoteIdentifier reports the authenticated remote peer.
func (h *Handler) RemoteIdentifier() identity.Identifier { return h.remote }

// SendMessage writes one message frame, serialized under the
// transport-half write lock (spec.md §4.5: "Read and write paths each
// hold their own exclusive lock on the transport half"). Source is
// only stamped for messages originating here (msg.Source is still
// null); a forwarded message already carries its originator's
// identifier and must reach the next hop unchanged, since the router
// calls SendMessage on the next-hop handler to relay a message that
// did not originate there.
func (h *Handler) SendMessage(msg wire.Message) error {
	msg.Version = wire.ProtocolVersion
	if msg.Source.IsNull() {
		msg.Source = h.local
	}
	encoded, err := msg.Encode()
	if err != nil {
		return fmt.Errorf("overlay: encode message: %w", err)
	}
	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	_, err = h.transport.Write(encoded)
	return err
}

// Run drives the handler's receive loop until the transport closes or
// errors. It is meant to be run in its own goroutine; the sender's
// resend scheduling runs independently via per-notify Alarms rather
// than a second dedicated loop, since Alarm already multiplexes onto
// Go's runtime timers instead of a spec-mandated dedicated thread.
func (h *Handler) Run() error {
	defer h.shutdown()
	for {
		msg, err := wire.ReadMessage(h.transport)
		if err != nil {
			h.logger.Debugf("overlay: handler %s receive loop ended: %v", h.remote, err)
			return fmt.Errorf("overlay: receive loop: %w", err)
		}
		h.dispatchEnvelope(msg)
	}
}

func (h *Handler) shutdown() {
	h.closeOnce.Do(func() {
		close(h.done)
		h.sender.Shutdown()
		if h.router != nil {
			h.router.RemoveNeighbor(h.remote)
		}
		_ = h.transport.Close()
	})
}

// Close tears down the handler: cancels sender tasks, closes the
// transport, and causes Run's receive loop to observe EOF (spec.md §5).
func (h *Handler) Close() error {
	h.shutdown()
	return nil
}

// dispatchEnvelope implements spec.md §4.5's envelope dispatch by type.
func (h *Handler) dispatchEnvelope(msg wire.Message) {
	if h.router != nil {
		h.router.NoteSource(msg.Source, h.remote)
	}

	switch msg.Type {
	case wire.Forward:
		if msg.Destination == h.local || msg.Destination.IsNull() {
			h.dispatchContent(msg)
		} else if h.router != nil {
			h.router.Forward(msg, h.remote)
		}

	case wire.Broadcast:
		h.dispatchContent(msg)
		if h.router != nil {
			h.router.Forward(msg, h.remote)
		}

	case wire.Lookup:
		if msg.Destination == h.local {
			h.dispatchContent(msg)
			return
		}
		if h.answeredLocally(msg) {
			return
		}
		if h.router != nil {
			h.router.Forward(msg, h.remote)
		}

	case wire.TunnelEnvelope:
		if h.tunnel != nil {
			h.tunnel.Deliver(msg)
		}
	}
}

// answeredLocally attempts to answer a Lookup directly (e.g. a local
// Subscribe whose publishers can all answer without forwarding);
// this core has no additional local-answer path beyond normal content
// dispatch, so it always reports false and lets the router fall back.
func (h *Handler) answeredLocally(msg wire.Message) bool {
	return false
}

// dispatchContent implements spec.md §4.5's content dispatch.
func (h *Handler) dispatchContent(msg wire.Message) {
	switch msg.Content {
	case wire.Notify:
		payload, err := wire.DecodeNotifyPayload(msg.Payload)
		if err != nil {
			return
		}
		if payload.Sequence != 0 {
			h.sendAck(msg.Source, payload.Sequence)
		}
		h.deliverToListeners(msg.Source, payload.Body)

	case wire.Ack:
		payload, err := wire.DecodeNotifyPayload(msg.Payload)
		if err != nil {
			return
		}
		h.sender.Ack(payload.Sequence)

	case wire.Call:
		payload, err := wire.DecodeCallPayload(msg.Payload)
		if err != nil {
			return
		}
		h.sender.AddTarget(payload.Digest, payload.Tokens)

	case wire.Cancel:
		payload, err := wire.DecodeCancelPayload(msg.Payload)
		if err != nil {
			return
		}
		h.sender.RemoveTarget(payload.Digest)

	case wire.Data:
		payload, err := wire.DecodeDataPayload(msg.Payload)
		if err != nil {
			return
		}
		ok, err := h.store.Push(payload.Digest, newByteReader(payload.Bytes))
		if err == nil && ok {
			_ = h.SendMessage(wire.Message{
				Type:        wire.Forward,
				Content:     wire.Cancel,
				Destination: msg.Source,
				Payload:     wire.EncodeCancelPayload(wire.CancelPayload{Digest: payload.Digest}),
			})
		}

	case wire.Publish:
		payload, err := wire.DecodePublishPayload(msg.Payload)
		if err != nil || h.pubsub == nil {
			return
		}
		for _, digest := range payload.Digests {
			h.pubsub.Publish(payload.Path, digest)
		}

	case wire.Subscribe:
		payload, err := wire.DecodeSubscribePayload(msg.Payload)
		if err != nil || h.pubsub == nil {
			return
		}
		digests := h.pubsub.Announce(msg.Source, payload.Path)
		_ = h.SendMessage(wire.Message{
			Type:        wire.Forward,
			Content:     wire.Publish,
			Destination: msg.Source,
			Payload:     wire.EncodePublishPayload(wire.PublishPayload{Path: payload.Path, Digests: digests}),
		})
	}
}

func (h *Handler) sendAck(dest identity.Identifier, sequence uint32) {
	_ = h.SendMessage(wire.Message{
		Type:        wire.Forward,
		Content:     wire.Ack,
		Destination: dest,
		Payload:     wire.EncodeNotifyPayload(wire.NotifyPayload{Sequence: sequence}),
	})
}

func (h *Handler) deliverToListeners(source identity.Identifier, body []byte) {
	h.listenersMu.Lock()
	targets := append([]listener.Listener(nil), h.listeners[source]...)
	h.listenersMu.Unlock()
	for _, l := range targets {
		l.Recv(source, listener.Notification{Payload: body})
	}
}

// Sender exposes the handler's Sender for callers wanting to issue
// Notify/Call/Cancel toward this handler's remote peer.
func (h *Handler) Sender() *Sender { return h.sender }

// byteReader adapts a []byte to the minimal Read-only stream Push
// expects, without depending on bytes.Reader's broader API.
type byteReader struct {
	b   []byte
	off int
}

func newByteReader(b []byte) *byteReader { return &byteReader{b: b} }

func (r *byteReader) Read(p []byte) (int, error) {
	if r.off >= len(r.b) {
		return 0, io.EOF
	}
	n := copy(p, r.b[r.off:])
	r.off += n
	return n, nil
}
