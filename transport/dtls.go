package transport

import (
	"context"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"net"

	"github.com/pion/dtls/v2"

	"teapotnet/identity"
)

var bigOne = big.NewInt(1)

func subjectFor(id identity.Identifier) pkix.Name {
	return pkix.Name{CommonName: id.String()}
}

// dtlsTransport implements SecureTransport over a datagram carrier
// (UDP) using DTLS, which natively supports the PSK and Certificate
// credential modes spec.md §4.3 requires and preserves datagram
// message boundaries per record, matching §4.3's "Datagram mode
// preserves message boundaries" contract directly rather than needing
// a bespoke framing layer as the stream carrier does.
type dtlsTransport struct {
	conn       *dtls.Conn
	credential Credential
	remote     RemoteIdentity

	// pending holds the tail of a datagram not yet delivered to a
	// caller: one Read on conn returns a whole record, but callers such
	// as wire.ReadMessage read a fixed header before the
	// variable-length payload that follows it in the same datagram.
	pending []byte
}

// DialDTLS opens a datagram-mode secure transport to raddr.
func DialDTLS(ctx context.Context, raddr *net.UDPAddr, credential Credential, lookupPSK SecretLookup, verifyCert CertificateVerifier) (SecureTransport, error) {
	cfg, err := dtlsConfig(credential, lookupPSK, verifyCert, true)
	if err != nil {
		return nil, err
	}
	conn, err := dtls.DialWithContext(ctx, "udp", raddr, cfg)
	if err != nil {
		return nil, fmt.Errorf("transport: dtls dial: %w", err)
	}
	return &dtlsTransport{conn: conn, credential: credential}, nil
}

// AcceptDTLS completes a server-side DTLS handshake over an already
// accepted net.Conn (as produced by a dtls.Listener).
func AcceptDTLS(conn *dtls.Conn, credential Credential) SecureTransport {
	return &dtlsTransport{conn: conn, credential: credential}
}

// ListenDTLS opens a DTLS listener on laddr for the given credential.
func ListenDTLS(laddr *net.UDPAddr, credential Credential, lookupPSK SecretLookup, verifyCert CertificateVerifier) (net.Listener, error) {
	cfg, err := dtlsConfig(credential, lookupPSK, verifyCert, false)
	if err != nil {
		return nil, err
	}
	return dtls.Listen("udp", laddr, cfg)
}

func dtlsConfig(credential Credential, lookupPSK SecretLookup, verifyCert CertificateVerifier, clientSide bool) (*dtls.Config, error) {
	cfg := &dtls.Config{}

	switch credential.Kind {
	case Anonymous:
		cfg.InsecureSkipVerify = true
		cfg.CipherSuites = []dtls.CipherSuiteID{dtls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256}

	case PreSharedKey:
		if lookupPSK == nil {
			return nil, fmt.Errorf("transport: psk credential requires a SecretLookup")
		}
		cfg.PSKIdentityHint = []byte(credential.PeeringName)
		cfg.PSK = func(hint []byte) ([]byte, error) {
			secret, ok := lookupPSK(string(hint))
			if !ok {
				return nil, fmt.Errorf("transport: unknown peering %q", string(hint))
			}
			return secret, nil
		}
		cfg.CipherSuites = []dtls.CipherSuiteID{dtls.TLS_PSK_WITH_AES_128_GCM_SHA256}

	case Certificate:
		if credential.LocalKey == nil {
			return nil, fmt.Errorf("transport: certificate credential requires a local key")
		}
		cert, err := selfSignedCertificate(credential.LocalKey)
		if err != nil {
			return nil, err
		}
		cfg.Certificates = []tls.Certificate{cert}
		cfg.InsecureSkipVerify = true // identifier check happens in VerifyPeerCertificate
		cfg.VerifyPeerCertificate = func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
			if verifyCert == nil {
				return fmt.Errorf("transport: certificate credential requires a CertificateVerifier")
			}
			if len(rawCerts) == 0 {
				return fmt.Errorf("transport: no certificate presented")
			}
			leaf, err := x509.ParseCertificate(rawCerts[0])
			if err != nil {
				return fmt.Errorf("transport: parse certificate: %w", err)
			}
			rsaPub, ok := leaf.PublicKey.(*rsa.PublicKey)
			if !ok {
				return fmt.Errorf("transport: certificate is not RSA")
			}
			id, ok := verifyCert(rsaPub)
			if !ok || id != credential.PeerIdentifier {
				return fmt.Errorf("transport: certificate identifier mismatch")
			}
			return nil
		}
		if clientSide {
			cfg.ClientAuth = dtls.RequireAnyClientCert
		} else {
			cfg.ClientAuth = dtls.RequireAnyClientCert
		}
	}

	return cfg, nil
}

// selfSignedCertificate wraps an RSA key in a minimal self-signed
// X.509 certificate: the DTLS handshake authenticates the key itself
// (via VerifyPeerCertificate's identifier recomputation), so a CA
// chain adds nothing spec.md §4.3 requires.
func selfSignedCertificate(key *rsa.PrivateKey) (tls.Certificate, error) {
	id := identity.FromPublicKey(&key.PublicKey)
	template := &x509.Certificate{
		SerialNumber: bigOne,
		Subject:      subjectFor(id),
	}
	der, err := x509.CreateCertificate(nil, template, template, &key.PublicKey, key)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("transport: self-sign certificate: %w", err)
	}
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key}, nil
}

func (t *dtlsTransport) Handshake() error {
	return nil // dtls.Dial/Listen already complete the handshake
}

// maxDatagramRecord bounds the scratch buffer used to read one whole
// DTLS record when a caller's read is smaller than the record, mirroring
// wire.MaxPayloadSize plus the fixed message header.
const maxDatagramRecord = 65536 + 256

// Read implements io.Reader over the datagram carrier. conn.Read
// returns at most one record per call and silently drops the
// remainder if p is too small, so a whole record is first read into an
// internal buffer and drained across Read calls, letting callers such
// as wire.ReadMessage split one datagram into a header read followed
// by a payload read without losing bytes.
func (t *dtlsTransport) Read(p []byte) (int, error) {
	if len(t.pending) == 0 {
		buf := make([]byte, maxDatagramRecord)
		n, err := t.conn.Read(buf)
		if err != nil {
			return 0, err
		}
		t.pending = buf[:n]
	}
	n := copy(p, t.pending)
	t.pending = t.pending[n:]
	return n, nil
}
func (t *dtlsTransport) Write(p []byte) (int, error) { return t.conn.Write(p) }
func (t *dtlsTransport) Close() error                { return t.conn.Close() }

// RemoteIdentifier reports what the completed DTLS handshake verified:
// the handshake only succeeds when the PSK callback found the secret
// (PreSharedKey) or VerifyPeerCertificate matched the expected peer
// identifier (Certificate), so the credential's values are the
// authenticated ones.
func (t *dtlsTransport) RemoteIdentifier() RemoteIdentity {
	switch t.credential.Kind {
	case PreSharedKey:
		return RemoteIdentity{Kind: PreSharedKey, Name: t.credential.PeeringName}
	case Certificate:
		return RemoteIdentity{Kind: Certificate, Identifier: t.credential.PeerIdentifier}
	default:
		return RemoteIdentity{Kind: Anonymous}
	}
}

func (t *dtlsTransport) Datagram() bool { return true }
