// Package user implements the "User" external collaborator interface
// of spec.md §6.4 — an in-memory account directory supplying the
// identifier, certificate, and name-based authentication/lookup the
// core's transport and listener registry call back into. Grounded on
// the original implementation's User class (tpn/user.h): a named
// account holding a password hash and a long-term key, looked up by
// name or by its authentication hash.
package user

import (
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"errors"
	"sync"

	"teapotnet/identity"
)

// User is one local or known-remote account.
type User struct {
	Name       string
	PublicKey  *rsa.PublicKey
	privateKey *rsa.PrivateKey // nil for remote users the directory only knows by name+key
	authHash   [sha256.Size]byte
}

// Identifier returns the account's peer identifier, the hash of its
// public key (spec.md §3).
func (u *User) Identifier() identity.Identifier {
	return identity.FromPublicKey(u.PublicKey)
}

// Certificate returns the account's public key DER-encoded, the
// minimal "certificate" spec.md §4.3 expects a Certificate-mode
// handshake to present (subject = user name, verified by identifier).
func (u *User) Certificate() ([]byte, error) {
	return x509.MarshalPKIXPublicKey(u.PublicKey)
}

// PrivateKey returns the account's long-term key for local users, or
// nil for directory entries that only describe a remote user's public
// identity.
func (u *User) PrivateKey() *rsa.PrivateKey { return u.privateKey }

func authHashFor(name, password string) [sha256.Size]byte {
	return sha256.Sum256([]byte(name + "\x00" + password))
}

// Directory is an in-memory User registry, supplying the
// Authenticate/Lookup external interface spec.md §6.4 names.
type Directory struct {
	mu       sync.RWMutex
	byName   map[string]*User
	byAuth   map[[sha256.Size]byte]*User
}

// NewDirectory creates an empty Directory.
func NewDirectory() *Directory {
	return &Directory{
		byName: make(map[string]*User),
		byAuth: make(map[[sha256.Size]byte]*User),
	}
}

// ErrUserExists is returned by Register when name is already taken.
var ErrUserExists = errors.New("user: name already registered")

// Register adds a local user with a long-term RSA key and a
// password, indexing it both by name and by its password-derived
// authentication hash.
func (d *Directory) Register(name, password string, key *rsa.PrivateKey) (*User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.byName[name]; exists {
		return nil, ErrUserExists
	}
	u := &User{
		Name:       name,
		PublicKey:  &key.PublicKey,
		privateKey: key,
		authHash:   authHashFor(name, password),
	}
	d.byName[name] = u
	d.byAuth[u.authHash] = u
	return u, nil
}

// RegisterRemote adds a directory entry for a known peer's public
// identity only, with no password or private key.
func (d *Directory) RegisterRemote(name string, pub *rsa.PublicKey) *User {
	d.mu.Lock()
	defer d.mu.Unlock()
	u := &User{Name: name, PublicKey: pub}
	d.byName[name] = u
	return u
}

// Authenticate verifies name/password and returns the matching User.
func (d *Directory) Authenticate(name, password string) (*User, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	u, ok := d.byAuth[authHashFor(name, password)]
	if !ok || u.Name != name {
		return nil, false
	}
	return u, true
}

// Lookup resolves name to a User, implementing spec.md §6.4's
// lookup(name) -> User?.
func (d *Directory) Lookup(name string) (*User, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	u, ok := d.byName[name]
	return u, ok
}

// VerifyCertificate implements transport.CertificateVerifier: given a
// presented public key, find the matching account (by recomputed
// identifier) and confirm it, satisfying spec.md §4.3's
// verify_certificate(pubkey) contract.
func (d *Directory) VerifyCertificate(pub *rsa.PublicKey) (identity.Identifier, bool) {
	want := identity.FromPublicKey(pub)
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, u := range d.byName {
		if u.Identifier() == want {
			return want, true
		}
	}
	return identity.Identifier{}, false
}

// VerifyName implements transport.NameVerifier: reports whether name
// is a known account.
func (d *Directory) VerifyName(name string) bool {
	_, ok := d.Lookup(name)
	return ok
}

// Count reports the number of registered users.
func (d *Directory) Count() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.byName)
}

// Names returns every registered user name.
func (d *Directory) Names() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, 0, len(d.byName))
	for name := range d.byName {
		names = append(names, name)
	}
	return names
}
