package overlay

import (
	"os"
	"testing"

	"teapotnet/blockstore"
	"teapotnet/identity"
	"teapotnet/transport"
)

func TestNodeRegisterPublisherReachesPubSub(t *testing.T) {
	dir, err := os.MkdirTemp("", "overlay_node_test")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	store, err := blockstore.New(dir, nil, nil)
	if err != nil {
		t.Fatalf("blockstore.New: %v", err)
	}

	var local identity.Identifier
	local[0] = 0x01
	n := NewNode(Config{Local: local, Credential: transport.Credential{Kind: transport.Anonymous}}, store, nil)

	pub := &fakePublisher{reply: []blockstore.Digest{{0x9}}}
	n.RegisterPublisher("/shared", pub)

	digests := n.pubsub.Announce(identity.Identifier{}, "/shared/file1")
	if len(digests) != 1 || digests[0] != pub.reply[0] {
		t.Fatalf("expected node's pubsub to route through to the registered publisher, got %+v", digests)
	}
	if n.Store() != store {
		t.Fatal("Store() did not return the store passed to NewNode")
	}
}
