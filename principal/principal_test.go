package principal

import "testing"

func TestAnonymous(t *testing.T) {
	a := Anonymous()
	if !a.IsAnonymous() {
		t.Fatalf("Anonymous() must report IsAnonymous")
	}
	if len(a.Raw()) != 1 || a.Raw()[0] != 0x04 {
		t.Fatalf("Anonymous() raw form = %x, want [0x04]", a.Raw())
	}
}

func TestSelfAuthenticatingIsStable(t *testing.T) {
	der := []byte{0x30, 0x2a, 0x30, 0x05, 0x06, 0x03, 0x2b, 0x65, 0x70, 0x03, 0x21, 0x00}
	p1 := SelfAuthenticating(der)
	p2 := SelfAuthenticating(der)
	if !p1.Equal(p2) {
		t.Fatalf("SelfAuthenticating must be deterministic")
	}
	if len(p1.Raw()) != 29 {
		t.Fatalf("SelfAuthenticating raw length = %d, want 29 (28-byte SHA-224 + tag)", len(p1.Raw()))
	}
	if p1.Raw()[28] != 0x02 {
		t.Fatalf("SelfAuthenticating must end with tag 0x02")
	}
}

func TestCompareOrdering(t *testing.T) {
	a := FromRaw([]byte{0x01})
	b := FromRaw([]byte{0x02})
	if a.Compare(b) >= 0 {
		t.Fatalf("expected a < b")
	}
	if b.Compare(a) <= 0 {
		t.Fatalf("expected b > a")
	}
	if a.Compare(a) != 0 {
		t.Fatalf("expected a == a")
	}
}

func TestEqual(t *testing.T) {
	a := FromRaw([]byte{1, 2, 3})
	b := FromRaw([]byte{1, 2, 3})
	c := FromRaw([]byte{1, 2, 4})
	if !a.Equal(b) {
		t.Fatalf("expected equal principals to compare equal")
	}
	if a.Equal(c) {
		t.Fatalf("expected distinct principals to compare unequal")
	}
}
