package overlay

import (
	"sync"
	"time"

	"teapotnet/blockstore"
	"teapotnet/identity"
	"teapotnet/wire"
)

// notifyBackoff is the fixed resend schedule for reliable notifies
// (spec.md §4.8: "every 500 ms, up to 5 attempts").
var notifyBackoff = 500 * time.Millisecond

// maxNotifyAttempts bounds how many times an unacknowledged notify is
// resent before its entry is dropped.
const maxNotifyAttempts = 5

// MessageSender is the capability Sender needs from its owning
// handler: emit one message toward the handler's remote identifier.
type MessageSender interface {
	SendMessage(msg wire.Message) error
}

// callTarget tracks one outstanding Call's remaining credit.
type callTarget struct {
	tokens uint16
}

// pendingNotify tracks one unacknowledged reliable notify.
type pendingNotify struct {
	payload []byte
	attempt int
	alarm   *Alarm
}

// Sender is the per-(handler, remote identifier) object of spec.md
// §3/§4.8: it tracks outstanding notifications awaiting Ack (by a
// sequence number that never reuses 0) and pending Call targets with
// their remaining credit.
type Sender struct {
	mu     sync.Mutex
	remote identity.Identifier
	out    MessageSender

	nextSeq uint32
	pending map[uint32]*pendingNotify

	targets map[blockstore.Digest]*callTarget

	store Store
}

// Store is the subset of blockstore.Store a Sender needs to serve
// Call targets it has credit for.
type Store interface {
	Pull(digest blockstore.Digest, out interface {
		Write(p []byte) (int, error)
	}) (bool, error)
	HasBlock(digest blockstore.Digest) bool
}

// NewSender creates a Sender for remote, emitting frames via out and
// serving Call targets from store.
func NewSender(remote identity.Identifier, out MessageSender, store Store) *Sender {
	return &Sender{
		remote:  remote,
		out:     out,
		pending: make(map[uint32]*pendingNotify),
		targets: make(map[blockstore.Digest]*callTarget),
		store:   store,
	}
}

// Notify sends payload to the remote identifier. When ack is true, a
// sequence number is assigned (never 0) and the message is resent on
// notifyBackoff until an Ack for that sequence arrives or the retry
// budget is exhausted.
func (s *Sender) Notify(payload []byte, ack bool) {
	var seq uint32
	if ack {
		s.mu.Lock()
		s.nextSeq++
		if s.nextSeq == 0 {
			s.nextSeq = 1
		}
		seq = s.nextSeq
		s.mu.Unlock()
	}

	s.sendNotify(seq, payload)

	if !ack {
		return
	}

	pn := &pendingNotify{payload: payload, attempt: 1}
	pn.alarm = NewAlarm(func() { s.resend(seq) })
	s.mu.Lock()
	s.pending[seq] = pn
	s.mu.Unlock()
	pn.alarm.Schedule(notifyBackoff)
}

func (s *Sender) sendNotify(seq uint32, payload []byte) {
	body := wire.EncodeNotifyPayload(wire.NotifyPayload{Sequence: seq, Body: payload})
	_ = s.out.SendMessage(wire.Message{
		Type:        wire.Forward,
		Content:     wire.Notify,
		Destination: s.remote,
		Payload:     body,
	})
}

func (s *Sender) resend(seq uint32) {
	s.mu.Lock()
	pn, ok := s.pending[seq]
	if !ok {
		s.mu.Unlock()
		return
	}
	if pn.attempt >= maxNotifyAttempts {
		delete(s.pending, seq)
		s.mu.Unlock()
		return
	}
	pn.attempt++
	s.mu.Unlock()

	s.sendNotify(seq, pn.payload)
	pn.alarm.Schedule(notifyBackoff)
}

// Ack records receipt of an Ack frame for sequence, canceling its
// resend task and removing the pending entry.
func (s *Sender) Ack(sequence uint32) {
	s.mu.Lock()
	pn, ok := s.pending[sequence]
	if ok {
		delete(s.pending, sequence)
	}
	s.mu.Unlock()
	if ok {
		pn.alarm.Cancel()
	}
}

// AddTarget records an inbound Call(digest, tokens) and, if the block
// is locally available, sends one Data frame for it and decrements
// credit by one. Remaining credit is not spent until serve runs again
// for the digest (a later AddTarget or ServeAvailable call).
func (s *Sender) AddTarget(digest blockstore.Digest, tokens uint16) {
	s.mu.Lock()
	s.targets[digest] = &callTarget{tokens: tokens}
	s.mu.Unlock()
	s.serve(digest)
}

// RemoveTarget implements Cancel(digest): it unregisters the target so
// no further Data frames are sent for it.
func (s *Sender) RemoveTarget(digest blockstore.Digest) {
	s.mu.Lock()
	delete(s.targets, digest)
	s.mu.Unlock()
}

// serve sends one Data frame for digest if credit remains and the
// block is locally available. It runs from AddTarget and from
// ServeAvailable; block arrival does not trigger it by itself.
func (s *Sender) serve(digest blockstore.Digest) {
	s.mu.Lock()
	target, ok := s.targets[digest]
	if !ok || target.tokens == 0 {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	if s.store == nil || !s.store.HasBlock(digest) {
		return
	}

	var buf writeBuffer
	ok2, err := s.store.Pull(digest, &buf)
	if err != nil || !ok2 {
		return
	}

	s.mu.Lock()
	target, stillTarget := s.targets[digest]
	if !stillTarget || target.tokens == 0 {
		s.mu.Unlock()
		return
	}
	target.tokens--
	s.mu.Unlock()

	body := wire.EncodeDataPayload(wire.DataPayload{Digest: digest, Bytes: buf.bytes})
	_ = s.out.SendMessage(wire.Message{
		Type:        wire.Forward,
		Content:     wire.Data,
		Destination: s.remote,
		Payload:     body,
	})
}

// ServeAvailable gives any outstanding target for digest a chance to
// be served immediately rather than waiting for the next AddTarget.
// Nothing in this package calls it; callers invoke it once digest has
// become locally available.
func (s *Sender) ServeAvailable(digest blockstore.Digest) {
	s.mu.Lock()
	_, ok := s.targets[digest]
	s.mu.Unlock()
	if ok {
		s.serve(digest)
	}
}

// Shutdown cancels every outstanding resend alarm, for handler
// teardown (spec.md §5: "Handler shutdown cancels all sender tasks").
func (s *Sender) Shutdown() {
	s.mu.Lock()
	pending := make([]*pendingNotify, 0, len(s.pending))
	for _, pn := range s.pending {
		pending = append(pending, pn)
	}
	s.pending = make(map[uint32]*pendingNotify)
	s.mu.Unlock()

	for _, pn := range pending {
		pn.alarm.Cancel()
	}
}

// writeBuffer is a minimal io.Writer sink used to pull a block's bytes
// out of the store without pulling in bytes.Buffer's wider API.
type writeBuffer struct {
	bytes []byte
}

func (w *writeBuffer) Write(p []byte) (int, error) {
	w.bytes = append(w.bytes, p...)
	return len(p), nil
}
