package identity

import (
	"bytes"
	"crypto/ed25519"
	"testing"
)

func seed(b byte) []byte {
	s := make([]byte, ed25519.SeedSize)
	for i := range s {
		s[i] = b
	}
	return s
}

func TestEd25519IdentitySignVerifies(t *testing.T) {
	id, err := NewEd25519IdentityFromSeed(seed(0x01))
	if err != nil {
		t.Fatalf("NewEd25519IdentityFromSeed: %v", err)
	}
	msg := append(append([]byte{}, RequestSignDST...), []byte("request-id-bytes")...)
	sig, err := id.Sign(msg)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	pub := id.PublicKeyDER()[len(ed25519DERPrefix):]
	if !ed25519.Verify(pub, msg, sig) {
		t.Fatalf("signature failed to verify")
	}
}

func TestEd25519IdentitySenderIsDeterministic(t *testing.T) {
	id1, _ := NewEd25519IdentityFromSeed(seed(0x02))
	id2, _ := NewEd25519IdentityFromSeed(seed(0x02))
	if !id1.Sender().Equal(id2.Sender()) {
		t.Fatalf("same seed must produce the same sender principal")
	}
	id3, _ := NewEd25519IdentityFromSeed(seed(0x03))
	if id1.Sender().Equal(id3.Sender()) {
		t.Fatalf("different seeds must produce different principals")
	}
}

func TestAnonymousIdentity(t *testing.T) {
	var id AnonymousIdentity
	if !id.Sender().IsAnonymous() {
		t.Fatalf("expected anonymous sender")
	}
	if id.PublicKeyDER() != nil {
		t.Fatalf("expected nil public key for anonymous identity")
	}
	sig, err := id.Sign([]byte("anything"))
	if err != nil || sig != nil {
		t.Fatalf("expected nil signature and no error, got sig=%v err=%v", sig, err)
	}
}

func TestGenerateEd25519IdentityProducesUsableKey(t *testing.T) {
	id, err := GenerateEd25519Identity()
	if err != nil {
		t.Fatalf("GenerateEd25519Identity: %v", err)
	}
	msg := []byte("hello")
	sig, err := id.Sign(msg)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	pub := id.PublicKeyDER()[len(ed25519DERPrefix):]
	if !bytes.Equal(pub, []byte(id.pub)) {
		t.Fatalf("DER-stripped public key must match raw public key")
	}
	if !ed25519.Verify(pub, msg, sig) {
		t.Fatalf("signature failed to verify")
	}
}
