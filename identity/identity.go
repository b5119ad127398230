// Package identity defines the signing collaborator the request engine
// depends on: something that can sign request bytes and report the
// DER-encoded public key and sender Principal that go with those
// signatures. The engine never generates or stores key material itself;
// an identity is supplied by the caller.
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/replicanet/agent/principal"
)

// RequestSignDST is the domain separator prepended to a requestId before
// signing: "\x0aic-request".
var RequestSignDST = []byte("\x0aic-request")

// Identity signs request bytes on behalf of a sender. Implementations
// must be safe for concurrent Sign calls; the engine serialises identity
// *replacement* against outstanding signs, not signs against each other.
type Identity interface {
	// Sign signs msg (already including RequestSignDST) and returns a
	// raw signature.
	Sign(msg []byte) ([]byte, error)
	// PublicKeyDER returns the DER-encoded SubjectPublicKeyInfo for this
	// identity's public key.
	PublicKeyDER() []byte
	// Sender returns the self-authenticating principal derived from
	// PublicKeyDER, or the anonymous principal for an anonymous identity.
	Sender() principal.Principal
}

// ed25519DERPrefix is the fixed ASN.1 SubjectPublicKeyInfo prefix for an
// Ed25519 public key (RFC 8410): no length-dependent fields, so wrapping
// is a fixed 12-byte prepend.
var ed25519DERPrefix = []byte{
	0x30, 0x2a, 0x30, 0x05, 0x06, 0x03, 0x2b, 0x65, 0x70, 0x03, 0x21, 0x00,
}

// Ed25519Identity is an in-memory Ed25519 signer, the default concrete
// Identity this module provides. It is a test/demo convenience, not a
// production key-management story — production callers are expected to
// supply their own Identity backed by an HSM, keystore, or hardware
// wallet collaborator.
type Ed25519Identity struct {
	priv ed25519.PrivateKey
	pub  ed25519.PublicKey
	der  []byte
}

// GenerateEd25519Identity creates a fresh random Ed25519 identity.
func GenerateEd25519Identity() (*Ed25519Identity, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("identity: generate ed25519 key: %w", err)
	}
	return newEd25519Identity(pub, priv), nil
}

// NewEd25519IdentityFromSeed constructs a deterministic Ed25519 identity
// from a 32-byte seed, for tests and reproducible tooling.
func NewEd25519IdentityFromSeed(seed []byte) (*Ed25519Identity, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("identity: seed length %d, want %d", len(seed), ed25519.SeedSize)
	}
	priv := ed25519.NewKeyFromSeed(seed)
	pub := priv.Public().(ed25519.PublicKey)
	return newEd25519Identity(pub, priv), nil
}

func newEd25519Identity(pub ed25519.PublicKey, priv ed25519.PrivateKey) *Ed25519Identity {
	der := make([]byte, 0, len(ed25519DERPrefix)+ed25519.PublicKeySize)
	der = append(der, ed25519DERPrefix...)
	der = append(der, pub...)
	return &Ed25519Identity{priv: priv, pub: pub, der: der}
}

// Sign implements Identity.
func (id *Ed25519Identity) Sign(msg []byte) ([]byte, error) {
	if id.priv == nil {
		return nil, errors.New("identity: signing key not initialised")
	}
	return ed25519.Sign(id.priv, msg), nil
}

// PublicKeyDER implements Identity.
func (id *Ed25519Identity) PublicKeyDER() []byte {
	out := make([]byte, len(id.der))
	copy(out, id.der)
	return out
}

// Sender implements Identity.
func (id *Ed25519Identity) Sender() principal.Principal {
	return principal.SelfAuthenticating(id.der)
}

// AnonymousIdentity signs nothing and authenticates as the anonymous
// principal; used for unauthenticated queries.
type AnonymousIdentity struct{}

// Sign implements Identity; an anonymous request carries no signature.
func (AnonymousIdentity) Sign(msg []byte) ([]byte, error) { return nil, nil }

// PublicKeyDER implements Identity; anonymous requests carry no key.
func (AnonymousIdentity) PublicKeyDER() []byte { return nil }

// Sender implements Identity.
func (AnonymousIdentity) Sender() principal.Principal { return principal.Anonymous() }
