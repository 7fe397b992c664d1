package transport

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/binary"
	"fmt"
	"io"
	"net"

	"github.com/flynn/noise"

	"teapotnet/identity"
)

// maxNoiseMessage bounds a single Noise transport message, mirroring
// the 16-bit length prefix this package uses to frame records over a
// byte stream.
const maxNoiseMessage = 1<<16 - 1

// noiseTransport implements SecureTransport over a byte-stream carrier
// (TCP, or the HTTP tunnel adapter) using the Noise protocol framework
// for all three credential modes: NN for Anonymous, a pre-shared-key
// modified pattern for PreSharedKey, and XX for Certificate (the
// static key there is derived from the RSA identity key, whose
// PKIX-encoded public key is exchanged as handshake payload).
type noiseTransport struct {
	conn       net.Conn
	initiator  bool
	credential Credential
	lookupPSK  SecretLookup
	verifyCert CertificateVerifier
	verifyName NameVerifier

	send *noise.CipherState
	recv *noise.CipherState

	remote RemoteIdentity

	// pending holds plaintext decrypted from a frame but not yet
	// delivered to a caller, since one Read may ask for fewer bytes
	// than one decrypted record contains.
	pending []byte
}

// NewNoiseTransport wraps conn for stream-mode secure transport. The
// caller supplies lookup/verify callbacks appropriate to credential.Kind;
// unused callbacks may be nil.
func NewNoiseTransport(conn net.Conn, initiator bool, credential Credential, lookupPSK SecretLookup, verifyCert CertificateVerifier, verifyName NameVerifier) SecureTransport {
	return &noiseTransport{
		conn:       conn,
		initiator:  initiator,
		credential: credential,
		lookupPSK:  lookupPSK,
		verifyCert: verifyCert,
		verifyName: verifyName,
	}
}

// pattern picks the base Noise handshake pattern for a credential
// kind. PreSharedKey reuses the NN pattern with PresharedKey/
// PresharedKeyPlacement set on the Config (the psk0 modifier mixes the
// secret into the first message rather than requiring a distinct
// pattern), matching how the Noise spec itself layers psk modifiers
// onto an unmodified base pattern.
func (t *noiseTransport) pattern() noise.HandshakePattern {
	switch t.credential.Kind {
	case Certificate:
		return noise.HandshakeXX
	default:
		return noise.HandshakeNN
	}
}

func (t *noiseTransport) Handshake() error {
	suite := noise.NewCipherSuite(noise.DH25519, noise.CipherAESGCM, noise.HashSHA256)

	var staticKeypair noise.DHKey
	if t.credential.Kind == Certificate {
		keypair, err := rsaToNoiseStatic(t.credential.LocalKey)
		if err != nil {
			return fmt.Errorf("transport: derive static key: %w", err)
		}
		staticKeypair = keypair
	}

	cfg := noise.Config{
		CipherSuite:   suite,
		Random:        rand.Reader,
		Pattern:       t.pattern(),
		Initiator:     t.initiator,
		StaticKeypair: staticKeypair,
	}

	if t.credential.Kind == PreSharedKey {
		if t.lookupPSK == nil {
			return fmt.Errorf("transport: psk credential requires a SecretLookup")
		}
		secret, ok := t.lookupPSK(t.credential.PeeringName)
		if !ok {
			return fmt.Errorf("transport: unknown peering %q", t.credential.PeeringName)
		}
		cfg.PresharedKey = secret
		cfg.PresharedKeyPlacement = 0
	}

	hs, err := noise.NewHandshakeState(cfg)
	if err != nil {
		return fmt.Errorf("transport: handshake init: %w", err)
	}

	var payload []byte
	if t.credential.Kind == Certificate && t.credential.LocalKey != nil {
		der, err := x509.MarshalPKIXPublicKey(&t.credential.LocalKey.PublicKey)
		if err != nil {
			return fmt.Errorf("transport: marshal certificate payload: %w", err)
		}
		payload = der
	}

	// Noise handshakes alternate strictly between the two parties;
	// step tracks whose turn it is without relying on library-side
	// bookkeeping.
	step := 0
	for {
		myTurn := (step%2 == 0) == t.initiator
		if myTurn {
			out, cs1, cs2, err := hs.WriteMessage(nil, payload)
			if err != nil {
				return fmt.Errorf("transport: write handshake message: %w", err)
			}
			payload = nil
			if err := t.writeFrame(out); err != nil {
				return err
			}
			step++
			if cs1 != nil {
				return t.finish(cs1, cs2)
			}
		} else {
			in, err := t.readFrame()
			if err != nil {
				return fmt.Errorf("transport: read handshake message: %w", err)
			}
			msgPayload, cs1, cs2, err := hs.ReadMessage(nil, in)
			if err != nil {
				return fmt.Errorf("transport: invalid handshake message: %w", err)
			}
			if t.credential.Kind == Certificate && len(msgPayload) > 0 {
				if err := t.verifyRemoteCertificate(msgPayload); err != nil {
					return err
				}
			}
			step++
			if cs1 != nil {
				return t.finish(cs1, cs2)
			}
		}
	}
}

func (t *noiseTransport) verifyRemoteCertificate(der []byte) error {
	pub, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return fmt.Errorf("transport: parse remote certificate: %w", err)
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return fmt.Errorf("transport: remote certificate is not RSA")
	}
	if t.verifyCert == nil {
		return fmt.Errorf("transport: certificate credential requires a CertificateVerifier")
	}
	id, ok := t.verifyCert(rsaPub)
	if !ok || id != t.credential.PeerIdentifier {
		return fmt.Errorf("transport: certificate identifier mismatch")
	}
	t.remote = RemoteIdentity{Kind: Certificate, Identifier: id}
	return nil
}

func (t *noiseTransport) finish(initiatorSend, initiatorRecv *noise.CipherState) error {
	if t.initiator {
		t.send, t.recv = initiatorSend, initiatorRecv
	} else {
		t.send, t.recv = initiatorRecv, initiatorSend
	}
	if t.credential.Kind == PreSharedKey {
		t.remote = RemoteIdentity{Kind: PreSharedKey, Name: t.credential.PeeringName}
	} else if t.credential.Kind == Anonymous {
		t.remote = RemoteIdentity{Kind: Anonymous}
	}
	return nil
}

func (t *noiseTransport) writeFrame(b []byte) error {
	header := make([]byte, 2)
	binary.BigEndian.PutUint16(header, uint16(len(b)))
	if _, err := t.conn.Write(header); err != nil {
		return err
	}
	_, err := t.conn.Write(b)
	return err
}

func (t *noiseTransport) readFrame() ([]byte, error) {
	header := make([]byte, 2)
	if _, err := io.ReadFull(t.conn, header); err != nil {
		return nil, err
	}
	size := binary.BigEndian.Uint16(header)
	buf := make([]byte, size)
	if _, err := io.ReadFull(t.conn, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// Read implements io.Reader over the encrypted transport record
// framing. A ciphertext frame may decrypt to more plaintext than p can
// hold, and callers such as wire.ReadMessage read a fixed header
// before the variable-length payload, so leftover plaintext is kept in
// pending and drained before the next frame is read.
func (t *noiseTransport) Read(p []byte) (int, error) {
	if len(t.pending) == 0 {
		frame, err := t.readFrame()
		if err != nil {
			return 0, err
		}
		plain, err := t.recv.Decrypt(nil, nil, frame)
		if err != nil {
			return 0, fmt.Errorf("transport: decrypt: %w", err)
		}
		t.pending = plain
	}
	n := copy(p, t.pending)
	t.pending = t.pending[n:]
	return n, nil
}

// Write splits p into Noise messages whose ciphertext (plaintext plus
// the 16-byte authentication tag) fits within maxNoiseMessage.
func (t *noiseTransport) Write(p []byte) (int, error) {
	written := 0
	for written < len(p) {
		chunk := p[written:]
		if len(chunk) > maxNoiseMessage-16 {
			chunk = chunk[:maxNoiseMessage-16]
		}
		cipher := t.send.Encrypt(nil, nil, chunk)
		if err := t.writeFrame(cipher); err != nil {
			return written, err
		}
		written += len(chunk)
	}
	return written, nil
}

func (t *noiseTransport) Close() error { return t.conn.Close() }

func (t *noiseTransport) RemoteIdentifier() RemoteIdentity { return t.remote }

func (t *noiseTransport) Datagram() bool { return false }

// rsaToNoiseStatic derives a Curve25519 keypair deterministically from
// an RSA key's modulus so a single long-term RSA identity drives both
// the certificate subject and the Noise static key used in the XX
// pattern. Production peers may instead provision an independent X25519
// key; this keeps Certificate-mode handshakes self-contained when only
// an identity.Identifier's backing RSA key is available.
func rsaToNoiseStatic(key *rsa.PrivateKey) (noise.DHKey, error) {
	if key == nil {
		return noise.DHKey{}, fmt.Errorf("transport: certificate credential requires a local key")
	}
	seed := identity.FromPublicKey(&key.PublicKey)
	return noise.DH25519.GenerateKeypair(newSeededReader(seed[:]))
}

// seededReader is a deterministic io.Reader used only to derive a
// stable Noise static keypair from an existing RSA identity; it is
// not a general-purpose CSPRNG substitute.
type seededReader struct {
	seed []byte
	pos  int
}

func newSeededReader(seed []byte) io.Reader {
	return &seededReader{seed: seed}
}

func (r *seededReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = r.seed[r.pos%len(r.seed)] ^ byte(r.pos)
		r.pos++
	}
	return len(p), nil
}
