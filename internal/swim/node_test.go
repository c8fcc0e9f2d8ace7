package swim

import "testing"

func TestNewUIDIsUniquePerCall(t *testing.T) {
	a := NewUID()
	b := NewUID()
	if a == "" || b == "" {
		t.Fatalf("NewUID() returned empty string")
	}
	if a == b {
		t.Fatalf("NewUID() returned the same value twice: %q", a)
	}
}

func TestNodeEqualRequiresUIDMatchWhenEitherSideHasOne(t *testing.T) {
	bootstrap := Node{Addr: "p:7000"}
	withUID := Node{Addr: "p:7000", UID: "u1"}
	otherUID := Node{Addr: "p:7000", UID: "u2"}

	if bootstrap.Equal(withUID) {
		t.Fatalf("a UID-less node must not equal a UID-bearing node at the same address")
	}
	if withUID.Equal(otherUID) {
		t.Fatalf("two different UIDs at the same address must not be equal")
	}
	if !withUID.Equal(withUID) {
		t.Fatalf("a node must equal itself")
	}
}

func TestNodeEqualUIDlessNodesCompareByAddr(t *testing.T) {
	a := Node{Addr: "p:7000"}
	b := Node{Addr: "p:7000"}
	c := Node{Addr: "q:7000"}
	if !a.Equal(b) {
		t.Fatalf("two UID-less nodes at the same address must be equal")
	}
	if a.Equal(c) {
		t.Fatalf("UID-less nodes at different addresses must not be equal")
	}
}

func TestNodeSetDeduplicates(t *testing.T) {
	n := Node{Addr: "a:7000", UID: "a"}
	s := NewNodeSet(n, n, n)
	if s.Len() != 1 {
		t.Fatalf("Len() = %d, want 1 after deduplication", s.Len())
	}
}

func TestNodeSetUnionRespectsMax(t *testing.T) {
	a := Node{Addr: "a:7000", UID: "a"}
	b := Node{Addr: "b:7000", UID: "b"}
	c := Node{Addr: "c:7000", UID: "c"}

	s := NewNodeSet(a)
	merged := s.Union(NewNodeSet(b, c), 2)
	if merged.Len() != 2 {
		t.Fatalf("Len() = %d, want 2 (capped)", merged.Len())
	}
	if !merged.Contains(a) {
		t.Fatalf("union dropped an existing member")
	}
}

func TestNodeSetIsStrictSupersetOf(t *testing.T) {
	a := Node{Addr: "a:7000", UID: "a"}
	b := Node{Addr: "b:7000", UID: "b"}

	big := NewNodeSet(a, b)
	small := NewNodeSet(a)
	if !big.IsStrictSupersetOf(small) {
		t.Fatalf("expected {a,b} to be a strict superset of {a}")
	}
	if small.IsStrictSupersetOf(small) {
		t.Fatalf("a set must not be a strict superset of itself")
	}
	if small.IsStrictSupersetOf(big) {
		t.Fatalf("a smaller set must never be a strict superset of a larger one")
	}
}
