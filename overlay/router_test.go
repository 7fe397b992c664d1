package overlay

import (
	"testing"

	"teapotnet/identity"
	"teapotnet/wire"
)

type recordingSender struct {
	id  identity.Identifier
	got []wire.Message
}

func (s *recordingSender) SendMessage(msg wire.Message) error {
	s.got = append(s.got, msg)
	return nil
}
func (s *recordingSender) RemoteIdentifier() identity.Identifier { return s.id }

func TestRouterDirectNeighborTakesPriority(t *testing.T) {
	r := NewRouter()
	var dst identity.Identifier
	dst[0] = 0x01
	direct := &recordingSender{id: dst}
	r.AddNeighbor(dst, direct)

	r.Route(wire.Message{Destination: dst}, identity.Identifier{})

	if len(direct.got) != 1 {
		t.Fatalf("expected message sent directly, got %d sends", len(direct.got))
	}
}

func TestRouterUsesRouteTableNextHop(t *testing.T) {
	r := NewRouter()
	var dst, nextHop identity.Identifier
	dst[0] = 0x02
	nextHop[0] = 0x03
	hop := &recordingSender{id: nextHop}
	r.AddNeighbor(nextHop, hop)
	r.NoteSource(dst, nextHop)

	r.Route(wire.Message{Destination: dst}, identity.Identifier{})

	if len(hop.got) != 1 {
		t.Fatalf("expected message forwarded via next hop, got %d sends", len(hop.got))
	}
}

func TestRouterBroadcastsWhenNoRoute(t *testing.T) {
	r := NewRouter()
	var a, b, incoming identity.Identifier
	a[0], b[0], incoming[0] = 0x01, 0x02, 0x03
	senderA := &recordingSender{id: a}
	senderB := &recordingSender{id: b}
	r.AddNeighbor(a, senderA)
	r.AddNeighbor(b, senderB)

	var unknown identity.Identifier
	unknown[0] = 0xFF
	r.Route(wire.Message{Destination: unknown}, incoming)

	if len(senderA.got) != 1 || len(senderB.got) != 1 {
		t.Fatalf("expected broadcast to both neighbors, got a=%d b=%d", len(senderA.got), len(senderB.got))
	}
}

func TestRouterSplitHorizonExcludesIncoming(t *testing.T) {
	r := NewRouter()
	var a, b identity.Identifier
	a[0], b[0] = 0x01, 0x02
	senderA := &recordingSender{id: a}
	senderB := &recordingSender{id: b}
	r.AddNeighbor(a, senderA)
	r.AddNeighbor(b, senderB)

	var unknown identity.Identifier
	unknown[0] = 0xFF
	r.Route(wire.Message{Destination: unknown}, a)

	if len(senderA.got) != 0 {
		t.Fatalf("expected incoming link excluded from broadcast, got %d sends", len(senderA.got))
	}
	if len(senderB.got) != 1 {
		t.Fatalf("expected broadcast to the other neighbor, got %d sends", len(senderB.got))
	}
}

func TestRouterForwardDropsOverMaxHops(t *testing.T) {
	r := NewRouter()
	var a identity.Identifier
	a[0] = 0x01
	senderA := &recordingSender{id: a}
	r.AddNeighbor(a, senderA)

	var dst identity.Identifier
	dst[0] = 0xFF
	r.Forward(wire.Message{Destination: dst, Hops: MaxHops}, identity.Identifier{})

	if len(senderA.got) != 0 {
		t.Fatalf("expected message at MaxHops to be dropped, got %d sends", len(senderA.got))
	}
}

type seenRecorder struct {
	seen []identity.Identifier
}

func (s *seenRecorder) Seen(id identity.Identifier) { s.seen = append(s.seen, id) }

func TestRouterSeenFiresOnceOnTransition(t *testing.T) {
	r := NewRouter()
	var dst, hop identity.Identifier
	dst[0] = 0x05
	hop[0] = 0x06
	rec := &seenRecorder{}
	r.Watch(dst, rec)

	r.NoteSource(dst, hop)
	r.NoteSource(dst, hop) // second observation: no new transition

	if len(rec.seen) != 1 {
		t.Fatalf("expected exactly one Seen callback, got %d", len(rec.seen))
	}
}
