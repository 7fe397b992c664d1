package backend

import (
	"testing"
	"time"

	"teapotnet/identity"
	"teapotnet/transport"
	"teapotnet/wire"
)

func TestTunnelBackendDialAndHandshake(t *testing.T) {
	var aID identity.Identifier
	aID[0] = 0xAA
	var bID identity.Identifier
	bID[0] = 0xBB

	var a, b *TunnelBackend

	sendToB := func(dst identity.Identifier, payload []byte) error {
		b.Deliver(wire.Message{Type: wire.TunnelEnvelope, Content: wire.TunnelContent, Source: aID, Destination: bID, Payload: payload})
		return nil
	}
	sendToA := func(dst identity.Identifier, payload []byte) error {
		a.Deliver(wire.Message{Type: wire.TunnelEnvelope, Content: wire.TunnelContent, Source: bID, Destination: aID, Payload: payload})
		return nil
	}

	a = NewTunnelBackend(aID, sendToB, transport.Credential{Kind: transport.Anonymous}, nil, nil)
	b = NewTunnelBackend(bID, sendToA, transport.Credential{Kind: transport.Anonymous}, nil, nil)

	inbound, err := b.Listen()
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}

	dialErr := make(chan error, 1)
	var client transport.SecureTransport
	go func() {
		st, err := a.Dial(Locator{TargetIdentifier: bID})
		client = st
		dialErr <- err
	}()

	select {
	case st := <-inbound:
		if st.RemoteIdentifier().Kind != transport.Anonymous {
			t.Fatalf("unexpected remote identity: %+v", st.RemoteIdentifier())
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for inbound tunnel transport")
	}

	select {
	case err := <-dialErr:
		if err != nil {
			t.Fatalf("Dial: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for Dial to complete")
	}
	if client == nil {
		t.Fatal("Dial returned a nil transport with no error")
	}
}
