package certcbor

import (
	"bytes"
	"testing"

	"github.com/fxamacker/cbor/v2"

	"github.com/replicanet/agent/hashtree"
)

// rawTree builds the CBOR array encoding of a HashTree node directly, since
// that is the wire shape DecodeEnvelope expects under the "tree" key.
func rawLeaf(v []byte) []any    { return []any{3, v} }
func rawEmpty() []any           { return []any{0} }
func rawLabeled(l string, sub []any) []any {
	return []any{2, []byte(l), sub}
}
func rawFork(l, r []any) []any { return []any{1, l, r} }
func rawPruned(h [32]byte) []any {
	return []any{4, h[:]}
}

func marshalEnvelope(t *testing.T, tree []any, sig [48]byte, delegation *wireDelegation) []byte {
	t.Helper()
	treeBytes, err := cbor.Marshal(tree)
	if err != nil {
		t.Fatalf("marshal tree: %v", err)
	}
	w := struct {
		Tree       cbor.RawMessage `cbor:"tree"`
		Signature  []byte          `cbor:"signature"`
		Delegation *wireDelegation `cbor:"delegation,omitempty"`
	}{
		Tree:       treeBytes,
		Signature:  sig[:],
		Delegation: delegation,
	}
	out, err := cbor.Marshal(w)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return out
}

func TestDecodeEnvelopeSimpleTree(t *testing.T) {
	tree := rawFork(
		rawLabeled("time", rawLeaf([]byte{0x80, 0x01})),
		rawEmpty(),
	)
	var sig [48]byte
	sig[0] = 0xAB
	raw := marshalEnvelope(t, tree, sig, nil)

	env, err := DecodeEnvelope(raw)
	if err != nil {
		t.Fatalf("DecodeEnvelope: %v", err)
	}
	if env.Signature != sig {
		t.Fatalf("signature mismatch")
	}
	if env.Tree.Kind != hashtree.Fork {
		t.Fatalf("expected root Fork, got %v", env.Tree.Kind)
	}
	res, val, err := hashtree.LookupPath([][]byte{[]byte("time")}, env.Tree)
	if err != nil {
		t.Fatalf("LookupPath: %v", err)
	}
	if res != hashtree.Found || !bytes.Equal(val, []byte{0x80, 0x01}) {
		t.Fatalf("unexpected lookup result: %v %x", res, val)
	}
}

func TestDecodeEnvelopeWithDelegation(t *testing.T) {
	tree := rawEmpty()
	var sig [48]byte
	del := &wireDelegation{SubnetID: []byte("subnet-1"), Certificate: []byte{0x01, 0x02}}
	raw := marshalEnvelope(t, tree, sig, del)

	env, err := DecodeEnvelope(raw)
	if err != nil {
		t.Fatalf("DecodeEnvelope: %v", err)
	}
	if env.Delegation == nil {
		t.Fatalf("expected delegation to be present")
	}
	if !bytes.Equal(env.Delegation.SubnetID, []byte("subnet-1")) {
		t.Fatalf("subnet id mismatch")
	}
}

func TestDecodeEnvelopeRejectsBadSignatureLength(t *testing.T) {
	tree := rawEmpty()
	treeBytes, _ := cbor.Marshal(tree)
	w := struct {
		Tree      cbor.RawMessage `cbor:"tree"`
		Signature []byte          `cbor:"signature"`
	}{Tree: treeBytes, Signature: []byte{1, 2, 3}}
	raw, _ := cbor.Marshal(w)

	if _, err := DecodeEnvelope(raw); err == nil {
		t.Fatalf("expected error for short signature")
	}
}

func TestDecodeTreePrunedPreservesHash(t *testing.T) {
	var h [32]byte
	h[0] = 0x42
	tree := rawPruned(h)
	var sig [48]byte
	raw := marshalEnvelope(t, tree, sig, nil)

	env, err := DecodeEnvelope(raw)
	if err != nil {
		t.Fatalf("DecodeEnvelope: %v", err)
	}
	if env.Tree.Kind != hashtree.Pruned || env.Tree.Hash != h {
		t.Fatalf("pruned node not preserved: %+v", env.Tree)
	}
}

func TestEncodeRequestContentDeterministicKeyOrder(t *testing.T) {
	c := RequestContent{
		RequestType:   "call",
		CanisterID:    []byte{1, 2, 3},
		MethodName:    "greet",
		Arg:           []byte("world"),
		Sender:        []byte{4, 5, 6},
		IngressExpiry: 1_700_000_000_000_000_000,
	}
	out1, err := EncodeRequestContent(c)
	if err != nil {
		t.Fatalf("EncodeRequestContent: %v", err)
	}
	out2, err := EncodeRequestContent(c)
	if err != nil {
		t.Fatalf("EncodeRequestContent: %v", err)
	}
	if !bytes.Equal(out1, out2) {
		t.Fatalf("encoding must be deterministic for identical input")
	}
}
