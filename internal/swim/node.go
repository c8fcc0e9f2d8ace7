package swim

import (
	"fmt"
	"hash/fnv"
	"math/rand"
	"os"
	"sort"
	"time"
)

// Node is an addressable cluster member identity: a network endpoint
// plus an optional unique incarnation-of-process UID. A UID-less node
// is a half-known peer, e.g. a user-supplied bootstrap address; on the
// first successful interaction the UID-less entry is replaced by the
// UID-bearing one (see Table.AddMember).
type Node struct {
	Addr string
	UID  string
}

// NewUID generates a unique incarnation-of-process identifier by
// hashing the local hostname together with a random seed, avoiding a
// dependency on a UUID library for something that only needs to be
// unique per process lifetime, not globally unique or parseable.
func NewUID() string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown-host"
	}
	h := fnv.New64a()
	fmt.Fprintf(h, "%s-%d-%d", host, os.Getpid(), rand.New(rand.NewSource(time.Now().UnixNano())).Int63())
	return fmt.Sprintf("%x", h.Sum64())
}

// HasUID reports whether n carries a unique process UID.
func (n Node) HasUID() bool { return n.UID != "" }

// Equal reports whether n and o refer to the same peer. A UID-less
// node is a distinct, half-known identity from any UID-bearing node
// at the same endpoint — that is precisely what lets the first
// successful interaction replace the alias (Table.AddMember) rather
// than merge into it. Equality therefore requires: both sides carry a
// UID and it matches, or neither side carries one and the endpoint
// matches.
func (n Node) Equal(o Node) bool {
	if n.UID != "" || o.UID != "" {
		return n.UID != "" && o.UID != "" && n.UID == o.UID
	}
	return n.Addr == o.Addr
}

// Less provides a total order over nodes, used to make iteration over
// node sets deterministic (NodeSet ordering, mergeSuspicions).
func (n Node) Less(o Node) bool {
	if n.Addr != o.Addr {
		return n.Addr < o.Addr
	}
	return n.UID < o.UID
}

func (n Node) String() string {
	if n.UID == "" {
		return n.Addr
	}
	return n.Addr + "#" + n.UID
}

// NodeSet is an immutable-by-convention, deterministically ordered set
// of nodes. The zero value is an empty set.
type NodeSet struct {
	nodes []Node
}

// NewNodeSet builds a NodeSet from the given nodes, deduplicating by
// Node.Equal.
func NewNodeSet(nodes ...Node) NodeSet {
	var s NodeSet
	for _, n := range nodes {
		s = s.add(n)
	}
	return s
}

func (s NodeSet) add(n Node) NodeSet {
	for _, existing := range s.nodes {
		if existing.Equal(n) {
			return s
		}
	}
	out := make([]Node, len(s.nodes), len(s.nodes)+1)
	copy(out, s.nodes)
	out = append(out, n)
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return NodeSet{nodes: out}
}

// Len returns the number of distinct nodes in the set.
func (s NodeSet) Len() int { return len(s.nodes) }

// Contains reports whether n is a member of the set.
func (s NodeSet) Contains(n Node) bool {
	for _, existing := range s.nodes {
		if existing.Equal(n) {
			return true
		}
	}
	return false
}

// Sorted returns the set's nodes in deterministic (Less) order. The
// returned slice is owned by the caller.
func (s NodeSet) Sorted() []Node {
	out := make([]Node, len(s.nodes))
	copy(out, s.nodes)
	return out
}

// IsStrictSupersetOf reports whether s contains every node in o plus
// at least one more.
func (s NodeSet) IsStrictSupersetOf(o NodeSet) bool {
	if s.Len() <= o.Len() {
		return false
	}
	for _, n := range o.nodes {
		if !s.Contains(n) {
			return false
		}
	}
	return true
}

// Union returns s plus o's members, taken in Less order, until the
// result holds max members. s itself is kept whole even when it
// already holds max or more. Used by mergeSuspicions to bound the
// suspectedBy set.
func (s NodeSet) Union(o NodeSet, max int) NodeSet {
	merged := s
	for _, n := range o.Sorted() {
		if merged.Len() >= max {
			break
		}
		merged = merged.add(n)
	}
	return merged
}
