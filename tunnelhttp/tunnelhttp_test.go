package tunnelhttp

import (
	"net"
	"testing"
	"time"

	"teapotnet/transport"
)

func acceptAndServe(t *testing.T, ln net.Listener, s *Server) {
	t.Helper()
	conn, err := ln.Accept()
	if err != nil {
		t.Errorf("Accept: %v", err)
		return
	}
	peek := make([]byte, httpSniffPeek)
	if _, err := conn.Read(peek); err != nil {
		t.Errorf("peek: %v", err)
		return
	}
	if err := s.Serve(conn, peek); err != nil {
		t.Errorf("Serve: %v", err)
	}
}

const httpSniffPeek = 5

func TestServerAndDialHandshakeAndDataExchange(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()

	s := NewServer(transport.Credential{Kind: transport.Anonymous}, nil, nil, nil, nil)
	go acceptAndServe(t, ln, s)

	url := "ws://" + ln.Addr().String() + Path
	clientDone := make(chan transport.SecureTransport, 1)
	clientErr := make(chan error, 1)
	go func() {
		tr, err := Dial(url, transport.Credential{Kind: transport.Anonymous}, nil, nil)
		if err != nil {
			clientErr <- err
			return
		}
		clientDone <- tr
	}()

	var serverTransport transport.SecureTransport
	select {
	case serverTransport = <-s.out:
	case err := <-clientErr:
		t.Fatalf("Dial: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for server-side transport")
	}

	var clientTransport transport.SecureTransport
	select {
	case clientTransport = <-clientDone:
	case err := <-clientErr:
		t.Fatalf("Dial: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for client-side transport")
	}

	msg := []byte("hello over the http tunnel")
	go func() {
		if _, err := clientTransport.Write(msg); err != nil {
			t.Errorf("Write: %v", err)
		}
	}()

	buf := make([]byte, len(msg))
	n, err := serverTransport.Read(buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(buf[:n]) != string(msg) {
		t.Fatalf("data mismatch: got %q want %q", buf[:n], msg)
	}
}
