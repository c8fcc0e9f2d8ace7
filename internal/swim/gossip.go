package swim

// resetGossipPayloads re-adds every current member as a fresh gossip
// entry (counter 0). Called after every AddMember/Mark so that a
// quiescent cluster still hands a full view to new joiners.
func (t *Table) resetGossipPayloads() {
	for _, m := range t.records {
		t.gossip.add(*m)
	}
}

// addToGossip inserts (or refreshes) a single member's gossip entry,
// used when self refutes a suspicion.
func (t *Table) addToGossip(m Member) {
	t.gossip.add(m)
}

// makeGossipPayload builds an outgoing rumor set for the given
// recipient, implementing the Lifeguard buddy system and the
// drain-then-reinsert dissemination rule.
func (t *Table) makeGossipPayload(to *Node, cfg Config) []Member {
	var payload []Member
	var prependedSuspect *Node

	if to != nil {
		if m, idx := t.find(*to); idx >= 0 {
			if _, suspect := m.Status.(Suspect); suspect {
				payload = append(payload, m.clone())
				prependedSuspect = to
			}
		}
	}

	if t.gossip.empty() && prependedSuspect == nil {
		if self, ok := t.Member(t.myself); ok {
			return []Member{self}
		}
		return nil
	}

	predicate := cfg.retransmitPredicate()
	clusterSize := t.EstimatedClusterSize()

	drained := t.gossip.drain(cfg.Gossip.MaxMessagesPerGossip)
	for _, e := range drained {
		if prependedSuspect != nil && e.member.Peer.Equal(*prependedSuspect) {
			// already prepended; still counts toward progression so don't silently drop the increment.
			e.timesGossiped++
			if predicate(e.timesGossiped, clusterSize) {
				t.gossip.reinsert(e)
			}
			continue
		}
		payload = append(payload, e.member.clone())
		e.timesGossiped++
		if predicate(e.timesGossiped, clusterSize) {
			t.gossip.reinsert(e)
		}
	}
	return payload
}
