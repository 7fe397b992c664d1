package user

import (
	"crypto/rand"
	"crypto/rsa"
	"testing"
)

func newTestKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	return key
}

func TestRegisterAndAuthenticate(t *testing.T) {
	d := NewDirectory()
	key := newTestKey(t)

	u, err := d.Register("alice", "hunter2", key)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if u.Identifier() != u.Identifier() {
		t.Fatal("Identifier must be stable")
	}

	got, ok := d.Authenticate("alice", "hunter2")
	if !ok || got != u {
		t.Fatalf("expected successful authentication, got ok=%v got=%v", ok, got)
	}

	if _, ok := d.Authenticate("alice", "wrong"); ok {
		t.Fatal("expected authentication to fail with wrong password")
	}
	if _, ok := d.Authenticate("bob", "hunter2"); ok {
		t.Fatal("expected authentication to fail for unknown name")
	}
}

func TestRegisterDuplicateName(t *testing.T) {
	d := NewDirectory()
	key := newTestKey(t)
	if _, err := d.Register("alice", "pw", key); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := d.Register("alice", "other", newTestKey(t)); err != ErrUserExists {
		t.Fatalf("expected ErrUserExists, got %v", err)
	}
}

func TestLookup(t *testing.T) {
	d := NewDirectory()
	key := newTestKey(t)
	u, _ := d.Register("alice", "pw", key)

	got, ok := d.Lookup("alice")
	if !ok || got != u {
		t.Fatalf("Lookup failed: ok=%v got=%v", ok, got)
	}
	if _, ok := d.Lookup("nobody"); ok {
		t.Fatal("expected Lookup to fail for unknown name")
	}
}

func TestVerifyCertificateAndName(t *testing.T) {
	d := NewDirectory()
	key := newTestKey(t)
	u, _ := d.Register("alice", "pw", key)

	id, ok := d.VerifyCertificate(&key.PublicKey)
	if !ok || id != u.Identifier() {
		t.Fatalf("VerifyCertificate failed: ok=%v id=%v", ok, id)
	}

	other := newTestKey(t)
	if _, ok := d.VerifyCertificate(&other.PublicKey); ok {
		t.Fatal("expected VerifyCertificate to fail for an unregistered key")
	}

	if !d.VerifyName("alice") {
		t.Fatal("expected VerifyName to accept a registered name")
	}
	if d.VerifyName("nobody") {
		t.Fatal("expected VerifyName to reject an unknown name")
	}
}

func TestCertificateRoundTrip(t *testing.T) {
	d := NewDirectory()
	key := newTestKey(t)
	u, _ := d.Register("alice", "pw", key)

	cert, err := u.Certificate()
	if err != nil {
		t.Fatalf("Certificate: %v", err)
	}
	if len(cert) == 0 {
		t.Fatal("expected non-empty certificate bytes")
	}
}

func TestNamesAndCount(t *testing.T) {
	d := NewDirectory()
	d.Register("alice", "pw", newTestKey(t))
	d.Register("bob", "pw", newTestKey(t))

	if d.Count() != 2 {
		t.Fatalf("expected Count() == 2, got %d", d.Count())
	}
	names := d.Names()
	if len(names) != 2 {
		t.Fatalf("expected 2 names, got %v", names)
	}
}
