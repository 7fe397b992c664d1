package backend

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/pion/dtls/v2"
	"github.com/sirupsen/logrus"

	"teapotnet/transport"
)

// DatagramBackend multiplexes a single UDP socket into per-remote-
// address datagram streams, each wrapped in datagram-mode secure
// transport (spec.md §4.4).
type DatagramBackend struct {
	laddr *net.UDPAddr

	credential transport.Credential
	lookupPSK  transport.SecretLookup
	verifyCert transport.CertificateVerifier

	logger *logrus.Logger
	out    chan transport.SecureTransport
	ln     net.Listener
}

// NewDatagramBackend prepares a DatagramBackend for addr. Actual
// binding happens in Listen; StreamBackend, by contrast, binds in its
// constructor.
func NewDatagramBackend(addr string, credential transport.Credential, lookupPSK transport.SecretLookup, verifyCert transport.CertificateVerifier, logger *logrus.Logger) (*DatagramBackend, error) {
	laddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("backend: resolve udp %s: %w", addr, err)
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &DatagramBackend{
		laddr:      laddr,
		credential: credential,
		lookupPSK:  lookupPSK,
		verifyCert: verifyCert,
		logger:     logger,
		out:        make(chan transport.SecureTransport, 16),
	}, nil
}

func (b *DatagramBackend) Listen() (<-chan transport.SecureTransport, error) {
	ln, err := transport.ListenDTLS(b.laddr, b.credential, b.lookupPSK, b.verifyCert)
	if err != nil {
		return nil, fmt.Errorf("backend: listen dtls %s: %w", b.laddr, err)
	}
	b.ln = ln
	go b.acceptLoop()
	return b.out, nil
}

func (b *DatagramBackend) acceptLoop() {
	defer close(b.out)
	for {
		conn, err := b.ln.Accept()
		if err != nil {
			b.logger.Debugf("backend: datagram accept loop stopped: %v", err)
			return
		}
		dtlsConn, ok := conn.(*dtls.Conn)
		if !ok {
			conn.Close()
			continue
		}
		b.out <- transport.AcceptDTLS(dtlsConn, b.credential)
	}
}

func (b *DatagramBackend) Dial(loc Locator) (transport.SecureTransport, error) {
	if len(loc.Addresses) == 0 {
		return nil, fmt.Errorf("backend: datagram dial requires at least one address")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	raddr, err := net.ResolveUDPAddr("udp", string(loc.Addresses[0]))
	if err != nil {
		return nil, fmt.Errorf("backend: resolve remote udp address: %w", err)
	}

	credential := b.credential
	if loc.PeeringName != "" {
		credential.Kind = transport.PreSharedKey
		credential.PeeringName = loc.PeeringName
	}
	credential.PeerIdentifier = loc.TargetIdentifier

	return transport.DialDTLS(ctx, raddr, credential, b.lookupPSK, b.verifyCert)
}

func (b *DatagramBackend) Addresses() []Address {
	return []Address{Address(b.laddr.String())}
}

func (b *DatagramBackend) Close() error {
	if b.ln == nil {
		return nil
	}
	return b.ln.Close()
}
