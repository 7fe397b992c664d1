package overlay

import (
	"strings"
	"sync"

	"github.com/google/uuid"

	"teapotnet/blockstore"
	"teapotnet/identity"
)

// Publisher answers announce queries for paths it has registered
// under (spec.md §4.7).
type Publisher interface {
	Announce(source identity.Identifier, path string) []blockstore.Digest
}

// Subscriber receives matched publishes (spec.md §4.7).
type Subscriber interface {
	Incoming(path string, digest blockstore.Digest)
}

type publisherEntry struct {
	id  uuid.UUID
	pub Publisher
}

type subscriberEntry struct {
	id  uuid.UUID
	sub Subscriber
}

// PubSub implements the longest-prefix matching publish/subscribe
// tables of spec.md §4.7. A single PubSub instance is shared by every
// handler on a node, the way Node wires it in.
type PubSub struct {
	mu          sync.Mutex
	publishers  map[string][]publisherEntry
	subscribers map[string][]subscriberEntry
}

// NewPubSub creates an empty PubSub table.
func NewPubSub() *PubSub {
	return &PubSub{
		publishers:  make(map[string][]publisherEntry),
		subscribers: make(map[string][]subscriberEntry),
	}
}

// RegisterPublisher registers pub under path, returning a handle that
// UnregisterPublisher can later use to remove it.
func (ps *PubSub) RegisterPublisher(path string, pub Publisher) uuid.UUID {
	id := uuid.New()
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.publishers[path] = append(ps.publishers[path], publisherEntry{id: id, pub: pub})
	return id
}

// UnregisterPublisher removes the publisher previously registered
// under path with handle id.
func (ps *PubSub) UnregisterPublisher(path string, id uuid.UUID) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	entries := ps.publishers[path]
	for i, e := range entries {
		if e.id == id {
			ps.publishers[path] = append(entries[:i], entries[i+1:]...)
			return
		}
	}
}

// RegisterSubscriber registers sub under path, returning a handle that
// UnregisterSubscriber can later use to remove it.
func (ps *PubSub) RegisterSubscriber(path string, sub Subscriber) uuid.UUID {
	id := uuid.New()
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.subscribers[path] = append(ps.subscribers[path], subscriberEntry{id: id, sub: sub})
	return id
}

// UnregisterSubscriber removes the subscriber previously registered
// under path with handle id.
func (ps *PubSub) UnregisterSubscriber(path string, id uuid.UUID) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	entries := ps.subscribers[path]
	for i, e := range entries {
		if e.id == id {
			ps.subscribers[path] = append(entries[:i], entries[i+1:]...)
			return
		}
	}
}

// prefixes returns path and each of its ancestor prefixes, longest
// first: for "/a/b/c" that is ["/a/b/c", "/a/b", "/a", "/"].
func prefixes(path string) []string {
	if path == "" || path[0] != '/' {
		path = "/" + path
	}
	path = strings.TrimSuffix(path, "/")
	if path == "" {
		path = "/"
	}

	var out []string
	cur := path
	for {
		out = append(out, cur)
		if cur == "/" {
			break
		}
		idx := strings.LastIndexByte(cur, '/')
		if idx <= 0 {
			out = append(out, "/")
			break
		}
		cur = cur[:idx]
	}
	return out
}

// Announce implements the Subscribe side of spec.md §4.7: walk path's
// prefixes longest-first, calling Announce on every registered
// publisher at each matched level, and aggregate all returned digests
// into a single ordered list.
func (ps *PubSub) Announce(source identity.Identifier, path string) []blockstore.Digest {
	ps.mu.Lock()
	var matched []Publisher
	for _, prefix := range prefixes(path) {
		for _, e := range ps.publishers[prefix] {
			matched = append(matched, e.pub)
		}
	}
	ps.mu.Unlock()

	var digests []blockstore.Digest
	for _, pub := range matched {
		digests = append(digests, pub.Announce(source, path)...)
	}
	return digests
}

// Publish implements the inbound-Publish side of spec.md §4.7: the
// same longest-prefix walk against subscribers, invoking each
// subscriber's Incoming with the full advertised path.
func (ps *PubSub) Publish(path string, digest blockstore.Digest) {
	ps.mu.Lock()
	var matched []Subscriber
	for _, prefix := range prefixes(path) {
		for _, e := range ps.subscribers[prefix] {
			matched = append(matched, e.sub)
		}
	}
	ps.mu.Unlock()

	for _, sub := range matched {
		sub.Incoming(path, digest)
	}
}
