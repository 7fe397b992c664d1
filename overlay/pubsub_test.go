package overlay

import (
	"testing"

	"teapotnet/blockstore"
	"teapotnet/identity"
)

type fakePublisher struct {
	calls []string
	reply []blockstore.Digest
}

func (p *fakePublisher) Announce(source identity.Identifier, path string) []blockstore.Digest {
	p.calls = append(p.calls, path)
	return p.reply
}

type fakeSubscriber struct {
	paths   []string
	digests []blockstore.Digest
}

func (s *fakeSubscriber) Incoming(path string, digest blockstore.Digest) {
	s.paths = append(s.paths, path)
	s.digests = append(s.digests, digest)
}

func TestPubSubLongestPrefixAnnounce(t *testing.T) {
	ps := NewPubSub()
	pub := &fakePublisher{reply: []blockstore.Digest{{0x01}}}
	ps.RegisterPublisher("/music", pub)

	digests := ps.Announce(identity.Identifier{}, "/music/rock/song.mp3")

	if len(pub.calls) != 1 || pub.calls[0] != "/music/rock/song.mp3" {
		t.Fatalf("expected announce called once with full path, got %+v", pub.calls)
	}
	if len(digests) != 1 || digests[0] != pub.reply[0] {
		t.Fatalf("unexpected digests: %+v", digests)
	}
}

func TestPubSubAggregatesAcrossLevels(t *testing.T) {
	ps := NewPubSub()
	root := &fakePublisher{reply: []blockstore.Digest{{0xAA}}}
	leaf := &fakePublisher{reply: []blockstore.Digest{{0xBB}}}
	ps.RegisterPublisher("/a", root)
	ps.RegisterPublisher("/a/b", leaf)

	digests := ps.Announce(identity.Identifier{}, "/a/b/c")

	if len(digests) != 2 {
		t.Fatalf("expected digests from both matched levels, got %+v", digests)
	}
}

func TestPubSubPublishLongestPrefix(t *testing.T) {
	ps := NewPubSub()
	sub := &fakeSubscriber{}
	ps.RegisterSubscriber("/a/b/c", sub)

	var digest blockstore.Digest
	digest[0] = 0x42
	ps.Publish("/a/b/c", digest)

	if len(sub.paths) != 1 || sub.paths[0] != "/a/b/c" {
		t.Fatalf("expected subscriber to be invoked with full path, got %+v", sub.paths)
	}
	if sub.digests[0] != digest {
		t.Fatalf("digest mismatch: %+v", sub.digests)
	}
}

func TestPubSubPublishDoesNotMatchSiblingPaths(t *testing.T) {
	ps := NewPubSub()
	sub := &fakeSubscriber{}
	ps.RegisterSubscriber("/x/y", sub)

	var digest blockstore.Digest
	ps.Publish("/x/z", digest)

	if len(sub.paths) != 0 {
		t.Fatalf("expected no match for sibling path, got %+v", sub.paths)
	}
}

func TestUnregisterSubscriberStopsDelivery(t *testing.T) {
	ps := NewPubSub()
	sub := &fakeSubscriber{}
	id := ps.RegisterSubscriber("/a/b", sub)

	var digest blockstore.Digest
	digest[0] = 0x01
	ps.Publish("/a/b", digest)
	if len(sub.paths) != 1 {
		t.Fatalf("expected one delivery before unregister, got %d", len(sub.paths))
	}

	ps.UnregisterSubscriber("/a/b", id)
	ps.Publish("/a/b", digest)
	if len(sub.paths) != 1 {
		t.Fatalf("expected no further deliveries after unregister, got %d", len(sub.paths))
	}
}

func TestUnregisterPublisherStopsAnnounce(t *testing.T) {
	ps := NewPubSub()
	pub := &fakePublisher{reply: []blockstore.Digest{{0x01}}}
	id := ps.RegisterPublisher("/music", pub)

	ps.UnregisterPublisher("/music", id)
	digests := ps.Announce(identity.Identifier{}, "/music/song.mp3")
	if len(digests) != 0 {
		t.Fatalf("expected no digests after unregister, got %+v", digests)
	}
}

func TestPrefixesRoot(t *testing.T) {
	got := prefixes("/")
	if len(got) != 1 || got[0] != "/" {
		t.Fatalf("unexpected prefixes for root: %+v", got)
	}
}
