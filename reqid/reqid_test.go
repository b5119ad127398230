package reqid

import "testing"

func TestHashIsOrderIndependent(t *testing.T) {
	f1 := []Field{
		{Key: "canister_id", Value: []byte("c1")},
		{Key: "method_name", Value: []byte("greet")},
		{Key: "arg", Value: []byte("world")},
	}
	f2 := []Field{f1[2], f1[0], f1[1]}

	h1 := Hash(f1)
	h2 := Hash(f2)
	if h1 != h2 {
		t.Fatalf("Hash must be independent of field order")
	}
}

func TestHashChangesWithContent(t *testing.T) {
	a := Hash([]Field{{Key: "k", Value: []byte("v1")}})
	b := Hash([]Field{{Key: "k", Value: []byte("v2")}})
	if a == b {
		t.Fatalf("expected different hashes for different values")
	}
}

func TestLeb128RoundTrip(t *testing.T) {
	tests := []uint64{0, 1, 127, 128, 300, 1 << 20, 1 << 40, ^uint64(0)}
	for _, v := range tests {
		enc := Leb128(v)
		got, n := DecodeLeb128(enc)
		if n != len(enc) {
			t.Fatalf("DecodeLeb128 consumed %d bytes, want %d", n, len(enc))
		}
		if got != v {
			t.Fatalf("round trip mismatch: got %d, want %d", got, v)
		}
	}
}

func TestLeb128SmallValuesAreSingleByte(t *testing.T) {
	if len(Leb128(0)) != 1 || len(Leb128(127)) != 1 {
		t.Fatalf("values < 128 must encode to a single byte")
	}
	if len(Leb128(128)) != 2 {
		t.Fatalf("value 128 must encode to two bytes")
	}
}
