package swim

import "sync/atomic"

// RNG is the seedable randomness source the table needs for
// random-insert-on-add and indirect-probe candidate selection.
// *math/rand.Rand satisfies this interface.
type RNG interface {
	Intn(n int) int
}

// AddOutcome is the result tag of Table.AddMember.
type AddOutcome int

const (
	AddOutcomeAdded AddOutcome = iota
	AddOutcomeNewerAlreadyPresent
)

// AddResult reports what AddMember did.
type AddResult struct {
	Outcome  AddOutcome
	Member   Member // the installed member (Outcome == Added)
	Existing Member // the dominant existing record (Outcome == NewerAlreadyPresent)
}

// MarkOutcome is the result tag of Table.Mark.
type MarkOutcome int

const (
	MarkOutcomeApplied MarkOutcome = iota
	MarkOutcomeIgnoredDueToOlderStatus
)

// MarkResult reports what Mark did.
type MarkResult struct {
	Outcome  MarkOutcome
	Previous Status // the status before this call (Outcome == Applied)
	Member   Member // the installed member (Outcome == Applied)
	Current  Member // the dominant existing record (Outcome == IgnoredDueToOlderStatus)
}

// Table is the authoritative membership map plus the round-robin ping
// queue. It owns no clock and no LHM state; callers
// (Instance) supply the current protocol period and clock on every
// call that needs one.
type Table struct {
	myself        Node
	rng           RNG
	records       []*Member // authoritative; order is insertion order, not ping order
	toPing        []Node    // round-robin ping queue
	pingIdx       int
	gossip        *gossipQueue
	estimatedSize atomic.Int64
}

// NewTable creates a table whose only member is myself, alive at
// incarnation 0.
func NewTable(myself Node, rng RNG) *Table {
	t := &Table{myself: myself, rng: rng, gossip: newGossipQueue()}
	t.records = append(t.records, &Member{Peer: myself, Status: Alive{Inc: 0}, ProtocolPeriodStamp: 0})
	t.gossip.add(*t.records[0])
	t.estimatedSize.Store(1)
	return t
}

// EstimatedClusterSize returns the cluster-size estimate the gossip
// retransmit predicate uses. It tracks membership through an atomic
// counter updated on every new-member insert rather than scanning
// records, so a future concurrent shell can read it without taking the
// table's write path.
func (t *Table) EstimatedClusterSize() int { return int(t.estimatedSize.Load()) }

func (t *Table) find(peer Node) (*Member, int) {
	for i, m := range t.records {
		if m.Peer.Equal(peer) {
			return m, i
		}
	}
	return nil, -1
}

// Member looks up the stored record for peer, including Dead ones.
func (t *Table) Member(peer Node) (Member, bool) {
	m, _ := t.find(peer)
	if m == nil {
		return Member{}, false
	}
	return *m, true
}

// Snapshot returns a value copy of every stored member, in no
// particular order.
func (t *Table) Snapshot() []Member {
	out := make([]Member, len(t.records))
	for i, m := range t.records {
		out[i] = m.clone()
	}
	return out
}

// Len returns the number of stored member records. The gossip
// retransmit predicate uses EstimatedClusterSize, not Len.
func (t *Table) Len() int { return len(t.records) }

// AddMember installs peer with the given status if no existing record
// for the same identity supersedes it. protocolPeriod stamps
// the new record.
func (t *Table) AddMember(peer Node, status Status, protocolPeriod uint64, now int64) AddResult {
	if existing, _ := t.find(peer); existing != nil && Supersedes(existing.Status, status) {
		return AddResult{Outcome: AddOutcomeNewerAlreadyPresent, Existing: *existing}
	}

	// Replace any UID-less alias for the same endpoint.
	if peer.HasUID() {
		for i, m := range t.records {
			if !m.Peer.HasUID() && m.Peer.Addr == peer.Addr {
				t.RemoveFromMembersToPing(m.Peer)
				t.records = append(t.records[:i], t.records[i+1:]...)
				break
			}
		}
	}

	isNewNonSelf := !peer.Equal(t.myself)
	if existing, idx := t.find(peer); existing != nil {
		t.records[idx] = &Member{
			Peer:                peer,
			Status:              status,
			ProtocolPeriodStamp: protocolPeriod,
			SuspicionStartedAt:  withSuspicionStart(status, now),
		}
		isNewNonSelf = false
	} else {
		t.records = append(t.records, &Member{
			Peer:                peer,
			Status:              status,
			ProtocolPeriodStamp: protocolPeriod,
			SuspicionStartedAt:  withSuspicionStart(status, now),
		})
	}

	if isNewNonSelf {
		idx := 0
		n := len(t.toPing)
		if n > 0 {
			idx = t.rng.Intn(n + 1)
		}
		t.toPing = append(t.toPing, Node{})
		copy(t.toPing[idx+1:], t.toPing[idx:])
		t.toPing[idx] = peer
		if n > 0 && idx <= t.pingIdx {
			t.pingIdx++
		}
		t.estimatedSize.Add(1)
	}

	installed, _ := t.find(peer)
	t.resetGossipPayloads()
	return AddResult{Outcome: AddOutcomeAdded, Member: *installed}
}

// Mark applies an observed status to peer, honoring suspicion merge,
// the unreachability-extension downgrade, and the Supersedes relation.
func (t *Table) Mark(peer Node, status Status, cfg Config, protocolPeriod uint64, now int64) MarkResult {
	existing, idx := t.find(peer)
	if existing == nil {
		return MarkResult{Outcome: MarkOutcomeIgnoredDueToOlderStatus}
	}

	effective := status
	suspicionStart := existing.SuspicionStartedAt
	stamp := protocolPeriod

	if incomingSuspect, ok := status.(Suspect); ok {
		if existingSuspect, ok := existing.Status.(Suspect); ok && existingSuspect.Inc == incomingSuspect.Inc {
			merged := existingSuspect.SuspectedBy.Union(incomingSuspect.SuspectedBy, cfg.Lifeguard.MaxIndependentSuspicions)
			effective = Suspect{Inc: incomingSuspect.Inc, SuspectedBy: merged}
			stamp = existing.ProtocolPeriodStamp
			// suspicionStart retained as-is
		} else {
			ts := now
			suspicionStart = &ts
			stamp = protocolPeriod
		}
	} else {
		suspicionStart = nil
	}

	if _, ok := effective.(Unreachable); ok && !cfg.ExtensionUnreachability {
		effective = Dead{Inc: effective.Incarnation()}
	}

	if Supersedes(existing.Status, effective) {
		return MarkResult{Outcome: MarkOutcomeIgnoredDueToOlderStatus, Current: *existing}
	}

	previous := existing.Status
	t.records[idx] = &Member{
		Peer:                peer,
		Status:              effective,
		ProtocolPeriodStamp: stamp,
		SuspicionStartedAt:  suspicionStart,
	}

	if _, dead := effective.(Dead); dead {
		t.RemoveFromMembersToPing(peer)
	}

	t.resetGossipPayloads()
	return MarkResult{Outcome: MarkOutcomeApplied, Previous: previous, Member: *t.records[idx]}
}

// NextMemberToPing returns the next round-robin target, advancing the
// cursor, or false if the ping queue is empty.
func (t *Table) NextMemberToPing() (Node, bool) {
	if len(t.toPing) == 0 {
		t.pingIdx = 0
		return Node{}, false
	}
	n := t.toPing[t.pingIdx]
	t.pingIdx = (t.pingIdx + 1) % len(t.toPing)
	return n, true
}

// MembersToPingRequest picks up to k members, excluding target and
// myself, whose status is Alive or Suspect, uniformly at random
// without replacement.
func (t *Table) MembersToPingRequest(target Node, k int) []Node {
	var candidates []Node
	for _, m := range t.records {
		if m.Peer.Equal(target) || m.Peer.Equal(t.myself) {
			continue
		}
		switch m.Status.(type) {
		case Alive, Suspect:
			candidates = append(candidates, m.Peer)
		}
	}
	if k >= len(candidates) {
		return candidates
	}
	out := make([]Node, 0, k)
	pool := append([]Node(nil), candidates...)
	for i := 0; i < k; i++ {
		j := t.rng.Intn(len(pool))
		out = append(out, pool[j])
		pool[j] = pool[len(pool)-1]
		pool = pool[:len(pool)-1]
	}
	return out
}

// RemoveFromMembersToPing removes the queue entry that is Node.Equal to
// peer and keeps pingIdx consistent.
func (t *Table) RemoveFromMembersToPing(peer Node) {
	for i, n := range t.toPing {
		if n.Equal(peer) {
			t.removeFromMembersToPingIndex(i)
			return
		}
	}
}

func (t *Table) removeFromMembersToPingIndex(i int) {
	t.toPing = append(t.toPing[:i], t.toPing[i+1:]...)
	if i < t.pingIdx {
		t.pingIdx--
	}
	if t.pingIdx >= len(t.toPing) {
		t.pingIdx = 0
	}
}
