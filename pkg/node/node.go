package node

import (
	"sync"

	"github.com/ryandielhenn/swimhealth/pkg/kv"
	"github.com/ryandielhenn/swimhealth/pkg/ring"
)

// Node routes KV requests to whichever cluster member owns a key,
// forwarding to the real owner when that isn't itself. Its view of
// "who is a member" is fed entirely from outside (ApplyMembership) —
// this package has no opinion on liveness, that's internal/swim's job.
// It does keep the last-pushed reachability verdict per member ID,
// though, so a member that the last ApplyMembership rebuild marked
// unreachable (swim's Unreachable or Dead) but that AddPeer has since
// put back in the ring is routed around. The verdict changes only on
// ApplyMembership.
type Node struct {
	kv   *kv.Store
	ring *ring.HashRing
	addr string
	rf   int

	mu           sync.RWMutex
	reachability map[string]bool // nodeID -> last ApplyMembership verdict
}

func NewNode(store *kv.Store, r *ring.HashRing, addr string) *Node {
	return NewNodeRF(store, r, addr, 3)
}

func NewNodeRF(store *kv.Store, r *ring.HashRing, addr string, replicationFactor int) *Node {
	return &Node{
		kv:           store,
		ring:         r,
		addr:         addr,
		rf:           replicationFactor,
		reachability: make(map[string]bool),
	}
}

func (n *Node) AddPeer(id string, hostport string) {
	n.ring.Add(id, hostport)
}

func (n *Node) ClearPeers() {
	n.ring.Clear()
}

func (n *Node) Addr() string {
	return n.addr
}

// ApplyMembership rebuilds the ring from a full liveness snapshot:
// alive and suspect members still own keys (a suspect is not yet
// confirmed gone), unreachable and dead ones are excluded. Called from
// swimnode's periodic Instance.Members() poll as a consistency
// backstop; individual MembershipChanged directives reach the ring
// through AddPeer instead.
func (n *Node) ApplyMembership(members map[string]MemberView) {
	n.ring.Clear()
	n.mu.Lock()
	n.reachability = make(map[string]bool, len(members))
	for id, m := range members {
		n.reachability[id] = m.Reachable
		if m.Reachable {
			n.ring.Add(id, m.Addr)
		}
	}
	n.mu.Unlock()
}

// isReachable reports the last reachability verdict ApplyMembership
// recorded for id. An id with no verdict yet (never pushed through
// ApplyMembership, e.g. only ever added via AddPeer) is assumed
// reachable — swim hasn't had an opinion on it yet.
func (n *Node) isReachable(id string) bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	r, ok := n.reachability[id]
	return !ok || r
}

// MemberView is the minimal projection of a swim.Member the ring
// needs: an address to forward to and whether it still owns keys.
type MemberView struct {
	Addr      string
	Reachable bool
}
