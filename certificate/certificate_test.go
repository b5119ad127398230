package certificate

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/replicanet/agent/blscrypto"
	"github.com/replicanet/agent/hashtree"
	"github.com/replicanet/agent/principal"
	"github.com/replicanet/agent/reqid"
)

// wireNode pairs a node's CBOR wire encoding with the equivalent
// hashtree.Node, so tests can sign a root computed the same way
// certificate.Verify will recompute it after decoding the wire form.
type wireNode struct {
	wire []any
	node *hashtree.Node
}

func wireEmpty() wireNode {
	return wireNode{wire: []any{0}, node: &hashtree.Node{Kind: hashtree.Empty}}
}

func wireLeaf(v []byte) wireNode {
	return wireNode{wire: []any{3, v}, node: &hashtree.Node{Kind: hashtree.Leaf, Value: v}}
}

func wireLabeled(label string, sub wireNode) wireNode {
	return wireNode{
		wire: []any{2, []byte(label), sub.wire},
		node: &hashtree.Node{Kind: hashtree.Labeled, Label: []byte(label), Sub: sub.node},
	}
}

func wireFork(l, r wireNode) wireNode {
	return wireNode{
		wire: []any{1, l.wire, r.wire},
		node: &hashtree.Node{Kind: hashtree.Fork, Left: l.node, Right: r.node},
	}
}

type wireDelegation struct {
	SubnetID    []byte `cbor:"subnet_id"`
	Certificate []byte `cbor:"certificate"`
}

type wireEnvelope struct {
	Tree       cbor.RawMessage `cbor:"tree"`
	Signature  []byte          `cbor:"signature"`
	Delegation *wireDelegation `cbor:"delegation,omitempty"`
}

func marshalEnvelope(t *testing.T, n wireNode, sig [48]byte, del *wireDelegation) []byte {
	t.Helper()
	treeBytes, err := cbor.Marshal(n.wire)
	if err != nil {
		t.Fatalf("marshal tree: %v", err)
	}
	out, err := cbor.Marshal(wireEnvelope{Tree: treeBytes, Signature: sig[:], Delegation: del})
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return out
}

func rangesLeaf(t *testing.T, ranges [][2][]byte) []byte {
	t.Helper()
	out, err := cbor.Marshal(ranges)
	if err != nil {
		t.Fatalf("marshal ranges: %v", err)
	}
	return out
}

// buildSignedCert builds a certificate tree containing /time and
// /canister_ranges/<sid>, signs it with secret, and returns the raw
// bytes plus the canister id used. This is the no-delegation
// (root-signed) case, so the ranges are keyed by the root key's own
// self-authenticating principal, the same subnet identity
// effectiveSigningKey resolves for it.
func buildSignedCert(t *testing.T, secret *big.Int, timeNs uint64, cidStart, cidEnd []byte) ([]byte, principal.Principal) {
	t.Helper()
	cid := principal.FromRaw(cidStart)
	pub := blscrypto.PubkeyFromSecret(secret)
	rootPrincipal := principal.SelfAuthenticating(blscrypto.WrapDERPubkey(pub))
	rangesCBOR := rangesLeaf(t, [][2][]byte{{cidStart, cidEnd}})

	tree := wireFork(
		wireLabeled("time", wireLeaf(reqid.Leb128(timeNs))),
		wireLabeled("canister_ranges", wireLabeled(string(rootPrincipal.Raw()), wireLeaf(rangesCBOR))),
	)

	root := hashtree.Reconstruct(tree.node)
	msg := append(append([]byte{}, stateRootDST...), root[:]...)
	sig, err := blscrypto.Sign(secret, msg)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	return marshalEnvelope(t, tree, sig, nil), cid
}

func testRootSecret() *big.Int {
	return big.NewInt(424242)
}

func TestVerifySuccess(t *testing.T) {
	secret := testRootSecret()
	pub := blscrypto.PubkeyFromSecret(secret)
	now := time.Unix(1_700_000_000, 0)
	cidStart := []byte{0x00}
	cidEnd := []byte{0xFF}
	raw, cid := buildSignedCert(t, secret, uint64(now.UnixNano()), cidStart, cidEnd)

	v, err := Verify(raw, Options{
		RootPublicKey: pub,
		Expected:      Expected{CanisterID: &cid},
		Now:           now,
	})
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	res, val, err := v.LookupPath([][]byte{[]byte("time")})
	if err != nil || res != hashtree.Found {
		t.Fatalf("LookupPath(time): res=%v err=%v", res, err)
	}
	gotNs, n := reqid.DecodeLeb128(val)
	if n == 0 || gotNs != uint64(now.UnixNano()) {
		t.Fatalf("decoded time = %d, want %d", gotNs, now.UnixNano())
	}
}

func TestVerifyRejectsBadSignature(t *testing.T) {
	secret := testRootSecret()
	pub := blscrypto.PubkeyFromSecret(secret)
	now := time.Unix(1_700_000_000, 0)
	raw, cid := buildSignedCert(t, secret, uint64(now.UnixNano()), []byte{0x00}, []byte{0xFF})

	// Flip a byte inside the signature, which lives at the tail of the
	// CBOR-encoded envelope map.
	raw[len(raw)-1] ^= 0xFF

	_, err := Verify(raw, Options{RootPublicKey: pub, Expected: Expected{CanisterID: &cid}, Now: now})
	if err == nil {
		t.Fatalf("expected error for tampered signature")
	}
	var cErr *Error
	if !errors.As(err, &cErr) || cErr.Kind != Trust {
		t.Fatalf("expected Trust-kind error, got %v", err)
	}
}

func TestVerifyRejectsStaleTime(t *testing.T) {
	secret := testRootSecret()
	pub := blscrypto.PubkeyFromSecret(secret)
	certTime := time.Unix(1_700_000_000, 0)
	raw, cid := buildSignedCert(t, secret, uint64(certTime.UnixNano()), []byte{0x00}, []byte{0xFF})

	farFuture := certTime.Add(time.Hour)
	_, err := Verify(raw, Options{RootPublicKey: pub, Expected: Expected{CanisterID: &cid}, Now: farFuture})
	if !errors.Is(err, ErrStale) {
		t.Fatalf("expected ErrStale, got %v", err)
	}
}

func TestVerifyRejectsFromFuture(t *testing.T) {
	secret := testRootSecret()
	pub := blscrypto.PubkeyFromSecret(secret)
	certTime := time.Unix(1_700_003_600, 0)
	raw, cid := buildSignedCert(t, secret, uint64(certTime.UnixNano()), []byte{0x00}, []byte{0xFF})

	farPast := certTime.Add(-time.Hour)
	_, err := Verify(raw, Options{RootPublicKey: pub, Expected: Expected{CanisterID: &cid}, Now: farPast})
	if !errors.Is(err, ErrFromFuture) {
		t.Fatalf("expected ErrFromFuture, got %v", err)
	}
}

func TestVerifyRejectsNotInRange(t *testing.T) {
	secret := testRootSecret()
	pub := blscrypto.PubkeyFromSecret(secret)
	now := time.Unix(1_700_000_000, 0)
	raw, _ := buildSignedCert(t, secret, uint64(now.UnixNano()), []byte{0x10}, []byte{0x20})

	outsider := principal.FromRaw([]byte{0x99})
	_, err := Verify(raw, Options{RootPublicKey: pub, Expected: Expected{CanisterID: &outsider}, Now: now})
	if !errors.Is(err, ErrNotInRanges) {
		t.Fatalf("expected ErrNotInRanges, got %v", err)
	}
}

func TestVerifyDisableTimeVerification(t *testing.T) {
	secret := testRootSecret()
	pub := blscrypto.PubkeyFromSecret(secret)
	certTime := time.Unix(1_700_000_000, 0)
	raw, cid := buildSignedCert(t, secret, uint64(certTime.UnixNano()), []byte{0x00}, []byte{0xFF})

	_, err := Verify(raw, Options{
		RootPublicKey:           pub,
		Expected:                Expected{CanisterID: &cid},
		Now:                     certTime.Add(24 * time.Hour),
		DisableTimeVerification: true,
	})
	if err != nil {
		t.Fatalf("Verify with time check disabled: %v", err)
	}
}

func TestVerifyDelegation(t *testing.T) {
	rootSecret := testRootSecret()
	rootPub := blscrypto.PubkeyFromSecret(rootSecret)
	subnetSecret := big.NewInt(99991)
	subnetPub := blscrypto.PubkeyFromSecret(subnetSecret)
	now := time.Unix(1_700_000_000, 0)
	subnetID := []byte("subnet-a")

	derSubnetPub := make([]byte, 37+96)
	copy(derSubnetPub[37:], subnetPub[:])

	subnetTree := wireFork(
		wireLabeled("time", wireLeaf(reqid.Leb128(uint64(now.UnixNano())))),
		wireLabeled("subnet", wireLabeled(string(subnetID), wireLabeled("public_key", wireLeaf(derSubnetPub)))),
	)
	subnetRoot := hashtree.Reconstruct(subnetTree.node)
	subnetMsg := append(append([]byte{}, stateRootDST...), subnetRoot[:]...)
	subnetSig, err := blscrypto.Sign(rootSecret, subnetMsg)
	if err != nil {
		t.Fatalf("sign subnet cert: %v", err)
	}
	subnetCertRaw := marshalEnvelope(t, subnetTree, subnetSig, nil)

	cidStart, cidEnd := []byte{0x00}, []byte{0xFF}
	rangesCBOR := rangesLeaf(t, [][2][]byte{{cidStart, cidEnd}})
	canisterTree := wireFork(
		wireLabeled("time", wireLeaf(reqid.Leb128(uint64(now.UnixNano())))),
		wireLabeled("canister_ranges", wireLabeled(string(subnetID), wireLeaf(rangesCBOR))),
	)
	canisterRoot := hashtree.Reconstruct(canisterTree.node)
	canisterMsg := append(append([]byte{}, stateRootDST...), canisterRoot[:]...)
	canisterSig, err := blscrypto.Sign(subnetSecret, canisterMsg)
	if err != nil {
		t.Fatalf("sign canister cert: %v", err)
	}
	raw := marshalEnvelope(t, canisterTree, canisterSig, &wireDelegation{SubnetID: subnetID, Certificate: subnetCertRaw})

	cid := principal.FromRaw(cidStart)
	v, err := Verify(raw, Options{RootPublicKey: rootPub, Expected: Expected{CanisterID: &cid}, Now: now})
	if err != nil {
		t.Fatalf("Verify with delegation: %v", err)
	}
	if v.EffectiveSigningKey != subnetPub {
		t.Fatalf("effective signing key mismatch")
	}
}

func TestVerifyRejectsMalformedCbor(t *testing.T) {
	pub := blscrypto.PubkeyFromSecret(testRootSecret())
	_, err := Verify([]byte{0xFF, 0xFF, 0xFF}, Options{RootPublicKey: pub, Now: time.Now()})
	var cErr *Error
	if !errors.As(err, &cErr) || cErr.Kind != Protocol {
		t.Fatalf("expected Protocol-kind error, got %v", err)
	}
}

func TestVerifyRootSubnetCertificateSuccess(t *testing.T) {
	secret := testRootSecret()
	pub := blscrypto.PubkeyFromSecret(secret)
	now := time.Unix(1_700_000_000, 0)

	tree := wireLabeled("time", wireLeaf(reqid.Leb128(uint64(now.UnixNano()))))
	root := hashtree.Reconstruct(tree.node)
	msg := append(append([]byte{}, stateRootDST...), root[:]...)
	sig, err := blscrypto.Sign(secret, msg)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	raw := marshalEnvelope(t, tree, sig, nil)

	rootPrincipal := principal.SelfAuthenticating(blscrypto.WrapDERPubkey(pub))
	_, err = Verify(raw, Options{
		RootPublicKey: pub,
		Expected:      Expected{SubnetID: &rootPrincipal},
		Now:           now,
	})
	if err != nil {
		t.Fatalf("Verify root-subnet certificate: %v", err)
	}
}

func TestVerifyRootSubnetCertificateRejectsWrongSubnet(t *testing.T) {
	secret := testRootSecret()
	pub := blscrypto.PubkeyFromSecret(secret)
	now := time.Unix(1_700_000_000, 0)

	tree := wireLabeled("time", wireLeaf(reqid.Leb128(uint64(now.UnixNano()))))
	root := hashtree.Reconstruct(tree.node)
	msg := append(append([]byte{}, stateRootDST...), root[:]...)
	sig, err := blscrypto.Sign(secret, msg)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	raw := marshalEnvelope(t, tree, sig, nil)

	wrongSubnet := principal.FromRaw([]byte("not-the-root"))
	_, err = Verify(raw, Options{
		RootPublicKey: pub,
		Expected:      Expected{SubnetID: &wrongSubnet},
		Now:           now,
	})
	if !errors.Is(err, ErrWrongRootDelegation) {
		t.Fatalf("expected ErrWrongRootDelegation, got %v", err)
	}
}

func TestCanisterRangeContains(t *testing.T) {
	r := CanisterRange{Start: principal.FromRaw([]byte{0x10}), End: principal.FromRaw([]byte{0x20})}
	in := principal.FromRaw([]byte{0x15})
	below := principal.FromRaw([]byte{0x01})
	above := principal.FromRaw([]byte{0xFF})
	if !r.Contains(in) {
		t.Fatalf("expected %v to be contained", in)
	}
	if r.Contains(below) || r.Contains(above) {
		t.Fatalf("expected out-of-range principals to be rejected")
	}
}
