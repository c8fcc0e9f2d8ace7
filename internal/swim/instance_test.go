package swim

import (
	"math/rand"
	"testing"
	"time"
)

func testConfig() Config {
	c := DefaultConfig()
	c.Lifeguard.SuspicionTimeoutMin = 1 * time.Second
	c.Lifeguard.SuspicionTimeoutMax = 10 * time.Second
	c.Lifeguard.MaxIndependentSuspicions = 3
	return c
}

func newTestInstance(cfg Config, clock Clock, seed int64) *Instance {
	self := Node{Addr: "self:7000", UID: "self-uid"}
	return NewInstance(self, cfg, clock, rand.New(rand.NewSource(seed)))
}

func directivesOfType[T Directive](directives []Directive) []T {
	var out []T
	for _, d := range directives {
		if v, ok := d.(T); ok {
			out = append(out, v)
		}
	}
	return out
}

// Scenario A: fresh instance, empty membership.
func TestFreshInstanceEmptyTick(t *testing.T) {
	clock := NewVirtualClock(0)
	inst := newTestInstance(testConfig(), clock, 1)

	directives := inst.Handle(PeriodicPingTick{})
	if len(directives) != 0 {
		t.Fatalf("expected no directives on an empty ring, got %v", directives)
	}
	if inst.ProtocolPeriod() != 1 {
		t.Fatalf("protocolPeriod = %d, want 1", inst.ProtocolPeriod())
	}
}

// Scenario B: refutation.
func TestRefutationBumpsIncarnationAndLHM(t *testing.T) {
	clock := NewVirtualClock(0)
	inst := newTestInstance(testConfig(), clock, 2)
	inst.incarnation = 5

	payload := []Member{{
		Peer:   inst.myself,
		Status: Suspect{Inc: 5, SuspectedBy: NewNodeSet(Node{Addr: "n1:7000"})},
	}}
	directives := inst.Handle(Ping{Origin: Node{Addr: "n1:7000"}, Payload: payload, Sequence: 1})

	if inst.Incarnation() != 6 {
		t.Fatalf("incarnation = %d, want 6", inst.Incarnation())
	}
	if inst.LHM() != 1 {
		t.Fatalf("LHM = %d, want 1", inst.LHM())
	}

	gp := directivesOfType[GossipProcessed](directives)
	found := false
	for _, g := range gp {
		if g.Outcome == GossipApplied && g.Previous == nil {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a gossipProcessed(applied(previous: None)) directive, got %v", directives)
	}

	self, ok := inst.Member(inst.myself)
	if !ok {
		t.Fatalf("self missing from table")
	}
	if self.Status.Incarnation() != 6 {
		t.Fatalf("self member incarnation = %d, want 6", self.Status.Incarnation())
	}
	if _, alive := self.Status.(Alive); !alive {
		t.Fatalf("self status = %v, want alive", self.Status)
	}
}

// Scenario C: direct probe timeout installs suspicion.
func TestDirectProbeTimeoutInstallsSuspicion(t *testing.T) {
	clock := NewVirtualClock(0)
	inst := newTestInstance(testConfig(), clock, 3)

	p := Node{Addr: "p:7000", UID: "p-uid"}
	inst.table.AddMember(p, Alive{Inc: 3}, 0, 0)

	directives := inst.Handle(PingResponse{Kind: PingResponseTimeout, Target: p, Sequence: 1})

	m, ok := inst.Member(p)
	if !ok {
		t.Fatalf("p missing from table")
	}
	suspect, ok := m.Status.(Suspect)
	if !ok {
		t.Fatalf("p status = %v, want suspect", m.Status)
	}
	if suspect.Inc != 3 {
		t.Fatalf("suspect incarnation = %d, want 3", suspect.Inc)
	}
	if !suspect.SuspectedBy.Contains(inst.myself) {
		t.Fatalf("suspectedBy = %v, want to contain self", suspect.SuspectedBy.Sorted())
	}
	if inst.LHM() != 1 {
		t.Fatalf("LHM = %d, want 1", inst.LHM())
	}

	// No other reachable peers exist, so preparePingRequests should
	// mark suspicion directly without a SendPingRequests directive.
	if len(directivesOfType[SendPingRequests](directives)) != 0 {
		t.Fatalf("expected no SendPingRequests with zero candidates, got %v", directives)
	}
}

func TestDirectProbeTimeoutWithCandidatesRequestsIndirectProbes(t *testing.T) {
	clock := NewVirtualClock(0)
	inst := newTestInstance(testConfig(), clock, 4)

	p := Node{Addr: "p:7000", UID: "p-uid"}
	helper := Node{Addr: "helper:7000", UID: "helper-uid"}
	inst.table.AddMember(p, Alive{Inc: 1}, 0, 0)
	inst.table.AddMember(helper, Alive{Inc: 1}, 0, 0)

	directives := inst.Handle(PingResponse{Kind: PingResponseTimeout, Target: p, Sequence: 7})

	reqs := directivesOfType[SendPingRequests](directives)
	if len(reqs) != 1 {
		t.Fatalf("expected one SendPingRequests directive, got %d", len(reqs))
	}
	if len(reqs[0].Candidates) != 1 || !reqs[0].Candidates[0].Peer.Equal(helper) {
		t.Fatalf("candidates = %v, want [helper]", reqs[0].Candidates)
	}
}

// Scenario D: indirect success relays ack, LHM unchanged.
func TestIndirectAckRelaysAndLeavesLHMUnchanged(t *testing.T) {
	clock := NewVirtualClock(0)
	inst := newTestInstance(testConfig(), clock, 5)

	p := Node{Addr: "p:7000", UID: "p-uid"}
	origin := Node{Addr: "o:7000", UID: "o-uid"}
	inst.table.AddMember(p, Alive{Inc: 1}, 0, 0)

	directives := inst.Handle(PingResponse{
		Kind:              PingResponseAck,
		Target:            p,
		Incarnation:       7,
		Sequence:          42,
		PingRequestOrigin: &origin,
	})

	acks := directivesOfType[SendAck](directives)
	if len(acks) != 1 {
		t.Fatalf("expected one relayed SendAck, got %d", len(acks))
	}
	got := acks[0]
	if !got.To.Equal(origin) || got.Sequence != 42 || !got.AckedTarget.Equal(p) || got.Incarnation != 7 || !got.Relaying {
		t.Fatalf("relayed ack = %+v, want To=origin Sequence=42 AckedTarget=p Incarnation=7 Relaying=true", got)
	}
	if inst.LHM() != 0 {
		t.Fatalf("LHM = %d, want 0 (relay path must not touch successfulProbe LHM)", inst.LHM())
	}
}

func TestDirectAckWithoutOriginAdjustsLHM(t *testing.T) {
	clock := NewVirtualClock(0)
	inst := newTestInstance(testConfig(), clock, 6)
	inst.lhm = 2

	p := Node{Addr: "p:7000", UID: "p-uid"}
	inst.table.AddMember(p, Alive{Inc: 1}, 0, 0)

	inst.Handle(PingResponse{Kind: PingResponseAck, Target: p, Incarnation: 1, Sequence: 1})
	if inst.LHM() != 1 {
		t.Fatalf("LHM = %d, want 1 after a direct successful probe", inst.LHM())
	}
}

// Scenario E: suspicion expiry.
func TestSuspicionExpiryPromotesToDeadWhenExtensionDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.ExtensionUnreachability = false
	clock := NewVirtualClock(0)
	inst := newTestInstance(cfg, clock, 7)

	p := Node{Addr: "p:7000", UID: "p-uid"}
	inst.table.AddMember(p, Alive{Inc: 4}, 0, 0)
	inst.table.Mark(p, Suspect{Inc: 4, SuspectedBy: NewNodeSet(inst.myself)}, cfg, 0, 0)

	clock.Advance(11 * time.Second)
	directives := inst.Handle(PeriodicPingTick{})

	changes := directivesOfType[MembershipChanged](directives)
	found := false
	for _, c := range changes {
		if c.Member.Equal(p) {
			if _, dead := c.Current.(Dead); dead {
				found = true
			}
		}
	}
	if !found {
		t.Fatalf("expected p to transition to dead, directives = %v", directives)
	}

	m, ok := inst.Member(p)
	if !ok || !isDead(m.Status) {
		t.Fatalf("p status = %v, want dead", m.Status)
	}

	// removed from the ping queue
	if next, ok := inst.table.NextMemberToPing(); ok && next.Equal(p) {
		t.Fatalf("dead member p still selectable for ping")
	}
}

func isDead(s Status) bool {
	_, ok := s.(Dead)
	return ok
}

// Scenario F: UID-less alias replacement.
func TestUIDlessAliasReplacement(t *testing.T) {
	clock := NewVirtualClock(0)
	inst := newTestInstance(testConfig(), clock, 8)

	bootstrap := Node{Addr: "e:7000"}
	inst.table.AddMember(bootstrap, Alive{Inc: 0}, 0, 0)

	withUID := Node{Addr: "e:7000", UID: "u"}
	directives := inst.Handle(Ping{
		Origin: Node{Addr: "gossiper:7000", UID: "g"},
		Payload: []Member{{
			Peer:   withUID,
			Status: Alive{Inc: 2},
		}},
		Sequence: 1,
	})

	if _, ok := inst.table.Member(bootstrap); ok {
		t.Fatalf("UID-less alias still present after replacement")
	}
	m, ok := inst.table.Member(withUID)
	if !ok {
		t.Fatalf("UID-bearing node missing after replacement")
	}
	if m.Status.Incarnation() != 2 {
		t.Fatalf("incarnation = %d, want 2", m.Status.Incarnation())
	}

	changes := directivesOfType[MembershipChanged](directives)
	found := false
	for _, c := range changes {
		if c.Member.Equal(withUID) && c.Previous == nil {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected membershipChanged(previous: None) for the replacing identity, got %v", directives)
	}

	if inst.table.Len() != 2 { // self + the one replaced identity
		t.Fatalf("table has %d members, want 2 (no duplicate alias)", inst.table.Len())
	}
}

// Property: incarnation monotonicity.
func TestIncarnationNeverDecreases(t *testing.T) {
	clock := NewVirtualClock(0)
	inst := newTestInstance(testConfig(), clock, 9)

	last := inst.Incarnation()
	for i := uint64(0); i < 20; i++ {
		inst.Handle(Ping{
			Origin: Node{Addr: "x:7000", UID: "x"},
			Payload: []Member{{
				Peer:   inst.myself,
				Status: Suspect{Inc: inst.Incarnation(), SuspectedBy: NewNodeSet(Node{Addr: "x:7000", UID: "x"})},
			}},
			Sequence: i,
		})
		if inst.Incarnation() < last {
			t.Fatalf("incarnation decreased: %d -> %d", last, inst.Incarnation())
		}
		last = inst.Incarnation()
	}
}

// Property: LHM bounds.
func TestLHMStaysWithinBounds(t *testing.T) {
	cfg := testConfig()
	cfg.Lifeguard.MaxLocalHealthMultiplier = 3
	clock := NewVirtualClock(0)
	inst := newTestInstance(cfg, clock, 10)

	for i := 0; i < 10; i++ {
		inst.adjustLHM(lhmFailedProbe)
	}
	if inst.LHM() != 3 {
		t.Fatalf("LHM = %d, want clamped to 3", inst.LHM())
	}
	for i := 0; i < 10; i++ {
		inst.adjustLHM(lhmSuccessfulProbe)
	}
	if inst.LHM() != 0 {
		t.Fatalf("LHM = %d, want clamped to 0", inst.LHM())
	}
}

// Property: dead terminality.
func TestDeadIsTerminal(t *testing.T) {
	cfg := testConfig()
	clock := NewVirtualClock(0)
	inst := newTestInstance(cfg, clock, 11)

	p := Node{Addr: "p:7000", UID: "p-uid"}
	inst.table.AddMember(p, Alive{Inc: 1}, 0, 0)
	inst.table.Mark(p, Dead{Inc: 1}, cfg, 0, 0)

	res := inst.table.Mark(p, Alive{Inc: 99}, cfg, 0, 0)
	if res.Outcome != MarkOutcomeIgnoredDueToOlderStatus {
		t.Fatalf("outcome = %v, want ignoredDueToOlderStatus (dead must be terminal)", res.Outcome)
	}
	m, _ := inst.table.Member(p)
	if !isDead(m.Status) {
		t.Fatalf("status = %v, want dead to remain", m.Status)
	}
}

// Property: suspect set cap.
func TestSuspectedBySetIsCapped(t *testing.T) {
	cfg := testConfig()
	cfg.Lifeguard.MaxIndependentSuspicions = 2
	clock := NewVirtualClock(0)
	inst := newTestInstance(cfg, clock, 12)

	p := Node{Addr: "p:7000", UID: "p-uid"}
	inst.table.AddMember(p, Alive{Inc: 1}, 0, 0)

	by := NewNodeSet()
	for i := 0; i < 5; i++ {
		n := Node{Addr: "suspector", UID: string(rune('a' + i))}
		by = NewNodeSet(n)
		inst.table.Mark(p, Suspect{Inc: 1, SuspectedBy: by}, cfg, 0, 0)
	}
	m, _ := inst.table.Member(p)
	s := m.Status.(Suspect)
	if s.SuspectedBy.Len() > cfg.Lifeguard.MaxIndependentSuspicions {
		t.Fatalf("suspectedBy.Len() = %d, want <= %d", s.SuspectedBy.Len(), cfg.Lifeguard.MaxIndependentSuspicions)
	}
}

// Property: gossip counter progression.
func TestGossipCounterProgressesOrEntryLeavesHeap(t *testing.T) {
	cfg := testConfig()
	cfg.Gossip.MaxMessagesPerGossip = 10
	cfg.Gossip.RetransmitMult = 1
	clock := NewVirtualClock(0)
	inst := newTestInstance(cfg, clock, 13)

	p := Node{Addr: "p:7000", UID: "p-uid"}
	inst.table.AddMember(p, Alive{Inc: 1}, 0, 0)

	for i := 0; i < 5; i++ {
		payload := inst.table.makeGossipPayload(nil, cfg)
		present := false
		for _, m := range payload {
			if m.Peer.Equal(p) {
				present = true
			}
		}
		if !present {
			break // dropped from the heap: satisfies the invariant
		}
	}
}

// Confirming an unknown peer is a no-op.
func TestConfirmDeadUnknownPeerIgnored(t *testing.T) {
	clock := NewVirtualClock(0)
	inst := newTestInstance(testConfig(), clock, 14)

	directives := inst.Handle(ConfirmDead{Peer: Node{Addr: "ghost:7000", UID: "ghost"}})
	results := directivesOfType[ConfirmDeadResult](directives)
	if len(results) != 1 || results[0].Outcome != ConfirmDeadIgnored {
		t.Fatalf("expected ignored confirmDead, got %v", directives)
	}
}

func TestConfirmDeadAppliesOnKnownUnreachable(t *testing.T) {
	clock := NewVirtualClock(0)
	inst := newTestInstance(testConfig(), clock, 15)

	p := Node{Addr: "p:7000", UID: "p-uid"}
	inst.table.AddMember(p, Alive{Inc: 1}, 0, 0)

	directives := inst.Handle(ConfirmDead{Peer: p})
	results := directivesOfType[ConfirmDeadResult](directives)
	if len(results) != 1 || results[0].Outcome != ConfirmDeadApplied {
		t.Fatalf("expected applied confirmDead, got %v", directives)
	}
	m, _ := inst.Member(p)
	if !isDead(m.Status) {
		t.Fatalf("status = %v, want dead", m.Status)
	}
}

// Ping-request targeting self is ignored.
func TestPingRequestTargetingSelfIsIgnored(t *testing.T) {
	clock := NewVirtualClock(0)
	inst := newTestInstance(testConfig(), clock, 16)

	directives := inst.Handle(PingRequest{Target: inst.myself, ReplyTo: Node{Addr: "r:7000", UID: "r"}})
	ignores := directivesOfType[Ignore](directives)
	if len(ignores) != 1 {
		t.Fatalf("expected a single Ignore directive, got %v", directives)
	}
}

// onPingRequestResponse for an unknown pinged member.
func TestPingRequestResponseUnknownMember(t *testing.T) {
	clock := NewVirtualClock(0)
	inst := newTestInstance(testConfig(), clock, 17)

	directives := inst.Handle(PingRequestResponse{Kind: PingResponseTimeout, PingedMember: Node{Addr: "ghost:7000", UID: "ghost"}})
	unk := directivesOfType[UnknownMember](directives)
	if len(unk) != 1 {
		t.Fatalf("expected UnknownMember directive, got %v", directives)
	}
}
