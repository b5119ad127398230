package hashtree

import (
	"bytes"
	"testing"
)

func leaf(v string) *Node { return &Node{Kind: Leaf, Value: []byte(v)} }

func labeled(l string, sub *Node) *Node {
	return &Node{Kind: Labeled, Label: []byte(l), Sub: sub}
}

func fork(l, r *Node) *Node { return &Node{Kind: Fork, Left: l, Right: r} }

func TestReconstructEmpty(t *testing.T) {
	got := Reconstruct(&Node{Kind: Empty})
	want := Reconstruct(&Node{Kind: Empty})
	if got != want {
		t.Fatalf("Reconstruct(Empty) not deterministic")
	}
}

func TestReconstructForkOrderMatters(t *testing.T) {
	a := labeled("a", leaf("1"))
	b := labeled("b", leaf("2"))
	r1 := Reconstruct(fork(a, b))
	r2 := Reconstruct(fork(b, a))
	if r1 == r2 {
		t.Fatalf("permuting fork children must change the root hash")
	}
}

func TestReconstructPrunedPreservesHash(t *testing.T) {
	full := labeled("a", leaf("1"))
	h := Reconstruct(full)
	pruned := &Node{Kind: Pruned, Hash: h}
	if Reconstruct(pruned) != h {
		t.Fatalf("Reconstruct(Pruned(h)) must equal h")
	}
}

func TestLookupPathFound(t *testing.T) {
	tree := fork(
		labeled("a", leaf("va")),
		labeled("b", leaf("vb")),
	)
	res, val, err := LookupPath([][]byte{[]byte("b")}, tree)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res != Found {
		t.Fatalf("expected Found, got %v", res)
	}
	if !bytes.Equal(val, []byte("vb")) {
		t.Fatalf("expected vb, got %s", val)
	}
}

func TestLookupPathAbsent(t *testing.T) {
	tree := fork(
		labeled("a", leaf("va")),
		labeled("c", leaf("vc")),
	)
	res, _, err := LookupPath([][]byte{[]byte("b")}, tree)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res != Absent {
		t.Fatalf("expected Absent for label between siblings, got %v", res)
	}
}

func TestLookupPathUnknownOnPrunedMidPath(t *testing.T) {
	tree := labeled("a", &Node{Kind: Pruned, Hash: [32]byte{1}})
	res, _, err := LookupPath([][]byte{[]byte("a"), []byte("b")}, tree)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res != Unknown {
		t.Fatalf("expected Unknown when descending into a pruned subtree, got %v", res)
	}
}

func TestLookupPathErrorOnPrunedAtExhaustion(t *testing.T) {
	tree := labeled("a", &Node{Kind: Pruned, Hash: [32]byte{1}})
	_, _, err := LookupPath([][]byte{[]byte("a")}, tree)
	if err != ErrUnexpectedPruned {
		t.Fatalf("expected ErrUnexpectedPruned, got %v", err)
	}
}

func TestLookupPathErrorOnEarlyLeaf(t *testing.T) {
	tree := labeled("a", leaf("va"))
	_, _, err := LookupPath([][]byte{[]byte("a"), []byte("b")}, tree)
	if err != ErrUnexpectedLeaf {
		t.Fatalf("expected ErrUnexpectedLeaf, got %v", err)
	}
}

func TestFlattenForks(t *testing.T) {
	tree := fork(
		labeled("a", leaf("1")),
		fork(labeled("b", leaf("2")), labeled("c", leaf("3"))),
	)
	entries, err := FlattenForks(tree)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 flattened entries, got %d", len(entries))
	}
	labels := []string{string(entries[0].Label), string(entries[1].Label), string(entries[2].Label)}
	if labels[0] != "a" || labels[1] != "b" || labels[2] != "c" {
		t.Fatalf("unexpected label order: %v", labels)
	}
}

func TestValidatePathSegment(t *testing.T) {
	if err := ValidatePathSegment([]byte("time")); err != nil {
		t.Fatalf("unexpected error for valid segment: %v", err)
	}
	if err := ValidatePathSegment([]byte{0xff, 0xfe}); err == nil {
		t.Fatalf("expected error for invalid UTF-8 segment")
	}
}
