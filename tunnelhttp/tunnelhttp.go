// Package tunnelhttp implements the HTTP tunnel adapter spec.md §6.4
// names as an external collaborator: when StreamBackend's 5-byte
// sniff (spec.md §4.4) recognizes an accepted socket as an HTTP
// request rather than a raw overlay handshake, that connection is
// handed here, upgraded to a WebSocket, and wrapped as an ordinary
// SecureTransport — giving a browser or HTTP-only peer the same
// carrier every other backend produces. Routing uses go-chi/chi, the
// upgrade itself gorilla/websocket, mirroring the teacher's pairing of
// a lightweight router with a dedicated HTTP helper library rather
// than hand-rolled request parsing.
package tunnelhttp

import (
	"bufio"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"teapotnet/transport"
)

// Path is the single HTTP route the tunnel adapter answers on.
const Path = "/teapotnet/tunnel"

// Server accepts sniffed HTTP sockets, upgrades them to a WebSocket,
// and emits the result as a freshly handshaken SecureTransport.
type Server struct {
	router     chi.Router
	upgrader   websocket.Upgrader
	credential transport.Credential
	lookupPSK  transport.SecretLookup
	verifyCert transport.CertificateVerifier
	verifyName transport.NameVerifier
	logger     *logrus.Logger

	out chan transport.SecureTransport
}

// NewServer builds a tunnel adapter that authenticates each upgraded
// connection with credential, exactly like any other backend.
func NewServer(credential transport.Credential, lookupPSK transport.SecretLookup, verifyCert transport.CertificateVerifier, verifyName transport.NameVerifier, logger *logrus.Logger) *Server {
	if logger == nil {
		logger = logrus.New()
	}
	s := &Server{
		router:     chi.NewRouter(),
		upgrader:   websocket.Upgrader{ReadBufferSize: 4096, WriteBufferSize: 4096},
		credential: credential,
		lookupPSK:  lookupPSK,
		verifyCert: verifyCert,
		verifyName: verifyName,
		logger:     logger,
		out:        make(chan transport.SecureTransport, 16),
	}
	s.router.Get(Path, s.handleTunnel)
	return s
}

// Listen exposes upgraded connections as they complete their secure
// handshake, in backend.Backend's idiom.
func (s *Server) Listen() (<-chan transport.SecureTransport, error) {
	return s.out, nil
}

// Serve drives a single sniffed connection through the HTTP router.
// Serve reads peeked first and then conn, so peeked must hold only
// bytes that conn will no longer yield. The conn StreamBackend hands to
// OnHTTPSniffed still replays the bytes it sniffed, so such a conn is
// served with an empty peeked.
func (s *Server) Serve(conn tunnelConn, peeked []byte) error {
	br := bufio.NewReader(&prefixedReader{prefix: peeked, rest: conn})
	req, err := http.ReadRequest(br)
	if err != nil {
		conn.Close()
		return fmt.Errorf("tunnelhttp: read request: %w", err)
	}
	req.RemoteAddr = conn.RemoteAddr().String()

	hw := &hijackWriter{
		header: make(http.Header),
		conn:   conn,
		rw:     bufio.NewReadWriter(br, bufio.NewWriter(conn)),
	}
	s.router.ServeHTTP(hw, req)
	return nil
}

func (s *Server) handleTunnel(w http.ResponseWriter, r *http.Request) {
	wsConn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debugf("tunnelhttp: upgrade failed: %v", err)
		return
	}
	carrier := newWebsocketConn(wsConn)
	t := transport.NewNoiseTransport(carrier, false, s.credential, s.lookupPSK, s.verifyCert, s.verifyName)
	go func() {
		if err := t.Handshake(); err != nil {
			s.logger.Debugf("tunnelhttp: handshake failed: %v", err)
			carrier.Close()
			return
		}
		s.out <- t
	}()
}

// Dial opens a WebSocket connection to a remote tunnel adapter and
// runs the initiator side of the secure handshake over it.
func Dial(url string, credential transport.Credential, lookupPSK transport.SecretLookup, verifyCert transport.CertificateVerifier) (transport.SecureTransport, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	wsConn, _, err := dialer.Dial(url, nil)
	if err != nil {
		return nil, fmt.Errorf("tunnelhttp: dial: %w", err)
	}
	carrier := newWebsocketConn(wsConn)
	t := transport.NewNoiseTransport(carrier, true, credential, lookupPSK, verifyCert, nil)
	if err := t.Handshake(); err != nil {
		carrier.Close()
		return nil, err
	}
	return t, nil
}

// prefixedReader replays already-sniffed bytes before reading onward
// from the underlying connection.
type prefixedReader struct {
	prefix []byte
	rest   tunnelConn
}

func (p *prefixedReader) Read(b []byte) (int, error) {
	if len(p.prefix) > 0 {
		n := copy(b, p.prefix)
		p.prefix = p.prefix[n:]
		return n, nil
	}
	return p.rest.Read(b)
}
