package backend

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"time"

	"github.com/sirupsen/logrus"

	"teapotnet/transport"
)

// httpSniffLen is the number of leading bytes StreamBackend peeks to
// decide whether an accepted socket is a raw overlay connection or an
// HTTP request destined for the tunnel adapter (spec.md §4.4: "peeks
// the first 5 bytes: if they match 'GET ' or 'POST '").
const httpSniffLen = 5

// TunnelSniffed is handed an accepted connection whose first bytes
// look like an HTTP request, for the external HTTP tunnel adapter
// (spec.md §6.4) to take over.
type TunnelSniffed func(conn net.Conn, peeked []byte)

// StreamBackend listens for and dials plain TCP connections, wrapping
// each in stream-mode secure transport unless its first bytes look
// like an HTTP request, in which case it is handed to OnHTTPSniffed.
type StreamBackend struct {
	listener net.Listener
	dialer   *net.Dialer
	logger   *logrus.Logger

	credential transport.Credential
	lookupPSK  transport.SecretLookup
	verifyCert transport.CertificateVerifier
	verifyName transport.NameVerifier

	OnHTTPSniffed TunnelSniffed

	out chan transport.SecureTransport
}

// NewStreamBackend binds addr and prepares a StreamBackend. Pass a nil
// logger to use a fresh default logrus.Logger.
func NewStreamBackend(addr string, credential transport.Credential, lookupPSK transport.SecretLookup, verifyCert transport.CertificateVerifier, verifyName transport.NameVerifier, logger *logrus.Logger) (*StreamBackend, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("backend: listen tcp %s: %w", addr, err)
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &StreamBackend{
		listener:   ln,
		dialer:     &net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second},
		logger:     logger,
		credential: credential,
		lookupPSK:  lookupPSK,
		verifyCert: verifyCert,
		verifyName: verifyName,
		out:        make(chan transport.SecureTransport, 16),
	}, nil
}

func (b *StreamBackend) Listen() (<-chan transport.SecureTransport, error) {
	go b.acceptLoop()
	return b.out, nil
}

func (b *StreamBackend) acceptLoop() {
	defer close(b.out)
	for {
		conn, err := b.listener.Accept()
		if err != nil {
			b.logger.Debugf("backend: accept loop stopped: %v", err)
			return
		}
		go b.handleAccepted(conn)
	}
}

func (b *StreamBackend) handleAccepted(conn net.Conn) {
	reader := bufio.NewReaderSize(conn, httpSniffLen)
	peek, err := reader.Peek(httpSniffLen)
	if err != nil {
		// Fewer than 5 bytes arrived before the peer closed or the
		// deadline would need to trip; treat as a non-HTTP overlay
		// attempt and let the handshake fail on its own terms.
		peek = nil
	}

	if looksLikeHTTP(peek) {
		if b.OnHTTPSniffed != nil {
			b.OnHTTPSniffed(&peekedConn{Conn: conn, reader: reader}, peek)
		} else {
			conn.Close()
		}
		return
	}

	wrapped := &peekedConn{Conn: conn, reader: reader}
	st := transport.NewNoiseTransport(wrapped, false, b.credential, b.lookupPSK, b.verifyCert, b.verifyName)
	if err := st.Handshake(); err != nil {
		b.logger.Warnf("backend: inbound handshake failed: %v", err)
		conn.Close()
		return
	}
	b.out <- st
}

func looksLikeHTTP(peek []byte) bool {
	if len(peek) < 4 {
		return false
	}
	return string(peek[:4]) == "GET " || (len(peek) >= 5 && string(peek[:5]) == "POST ")
}

func (b *StreamBackend) Dial(loc Locator) (transport.SecureTransport, error) {
	if len(loc.Addresses) == 0 {
		return nil, fmt.Errorf("backend: stream dial requires at least one address")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var lastErr error
	for _, addr := range loc.Addresses {
		conn, err := b.dialer.DialContext(ctx, "tcp", string(addr))
		if err != nil {
			lastErr = err
			continue
		}
		credential := b.credential
		if loc.PeeringName != "" {
			credential.Kind = transport.PreSharedKey
			credential.PeeringName = loc.PeeringName
		}
		credential.PeerIdentifier = loc.TargetIdentifier

		st := transport.NewNoiseTransport(conn, true, credential, b.lookupPSK, b.verifyCert, b.verifyName)
		if err := st.Handshake(); err != nil {
			conn.Close()
			lastErr = err
			continue
		}
		return st, nil
	}
	return nil, fmt.Errorf("backend: dial failed for all addresses: %w", lastErr)
}

func (b *StreamBackend) Addresses() []Address {
	return []Address{Address(b.listener.Addr().String())}
}

func (b *StreamBackend) Close() error {
	return b.listener.Close()
}

// peekedConn re-exposes a bufio.Reader's already-buffered bytes
// through net.Conn's Read, so the sniffed bytes are not lost to
// whichever consumer (noise handshake or HTTP tunnel adapter) takes
// over the connection next.
type peekedConn struct {
	net.Conn
	reader *bufio.Reader
}

func (c *peekedConn) Read(p []byte) (int, error) {
	return c.reader.Read(p)
}
