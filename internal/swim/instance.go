package swim

import "time"

// Instance is the SWIM+Lifeguard reducer: a value, not
// an actor. Handle is its only entry point; it is synchronous,
// allocates no goroutines, and performs no I/O.
type Instance struct {
	myself         Node
	cfg            Config
	clock          Clock
	table          *Table
	incarnation    uint64
	protocolPeriod uint64
	sequenceNumber uint64
	lhm            int
}

// NewInstance creates an Instance owning myself, starting at
// incarnation 0 and protocol period 0. rng seeds the table's
// random-insert and indirect-candidate selection.
func NewInstance(myself Node, cfg Config, clock Clock, rng RNG) *Instance {
	return &Instance{
		myself: myself,
		cfg:    cfg,
		clock:  clock,
		table:  NewTable(myself, rng),
	}
}

// Incarnation returns self's current incarnation, for telemetry.
func (inst *Instance) Incarnation() uint64 { return inst.incarnation }

// ProtocolPeriod returns the current protocol period, for telemetry.
func (inst *Instance) ProtocolPeriod() uint64 { return inst.protocolPeriod }

// Member exposes the table's Member lookup.
func (inst *Instance) Member(peer Node) (Member, bool) { return inst.table.Member(peer) }

// Members returns a snapshot of every known member, including Dead
// ones; the shell decides pruning.
func (inst *Instance) Members() []Member { return inst.table.Snapshot() }

// SeedMember installs peer as Alive at incarnation 0 if it isn't
// already known and isn't dominated by an existing record. This is the
// shell's bootstrap hook — e.g. seeding an etcd-discovered peer address
// before the first ping has ever reached it — not a protocol event;
// ordinary liveness transitions only ever happen through Handle.
func (inst *Instance) SeedMember(peer Node) {
	if inst.isSelf(peer) {
		return
	}
	inst.table.AddMember(peer, Alive{Inc: 0}, inst.protocolPeriod, inst.clock.NowNanos())
}

func (inst *Instance) nextSequenceNumber() uint64 {
	inst.sequenceNumber++
	return inst.sequenceNumber
}

func (inst *Instance) isSelf(peer Node) bool { return peer.Equal(inst.myself) }

// Handle reduces a single event into an ordered directive list.
func (inst *Instance) Handle(event Event) []Directive {
	switch e := event.(type) {
	case PeriodicPingTick:
		return inst.onPeriodicPingTick()
	case Ping:
		return inst.onPing(e)
	case PingRequest:
		return inst.onPingRequest(e)
	case PingResponse:
		return inst.onPingResponse(e)
	case EveryPingRequestResponse:
		return inst.onEveryPingRequestResponse(e)
	case PingRequestResponse:
		return inst.onPingRequestResponse(e)
	case ConfirmDead:
		return inst.onConfirmDead(e)
	default:
		return nil
	}
}

// onPeriodicPingTick evaluates suspicion timeouts and issues the next
// round-robin probe.
func (inst *Instance) onPeriodicPingTick() []Directive {
	var out []Directive

	now := inst.clock.NowNanos()
	for _, m := range inst.table.Snapshot() {
		suspect, ok := m.Status.(Suspect)
		if !ok || m.SuspicionStartedAt == nil {
			continue
		}
		t := suspicionTimeout(suspect.SuspectedBy.Len(), inst.cfg.Lifeguard.MaxIndependentSuspicions,
			inst.cfg.Lifeguard.SuspicionTimeoutMin, inst.cfg.Lifeguard.SuspicionTimeoutMax)
		if now < *m.SuspicionStartedAt+int64(t) {
			continue
		}

		var next Status
		if inst.cfg.ExtensionUnreachability {
			next = Unreachable{Inc: suspect.Inc}
		} else {
			next = Dead{Inc: suspect.Inc}
		}
		res := inst.table.Mark(m.Peer, next, inst.cfg, inst.protocolPeriod, now)
		if res.Outcome == MarkOutcomeApplied {
			out = append(out, MembershipChanged{Member: m.Peer, Previous: statusPtr(res.Previous), Current: res.Member.Status})
		}
	}

	if target, ok := inst.table.NextMemberToPing(); ok {
		out = append(out, SendPing{
			Target:   target,
			Timeout:  inst.DynamicPingTimeout(),
			Sequence: inst.nextSequenceNumber(),
			Payload:  inst.table.makeGossipPayload(&target, inst.cfg),
		})
	}

	inst.protocolPeriod++
	return out
}

// onPing folds the piggybacked payload and replies with an ack.
func (inst *Instance) onPing(e Ping) []Directive {
	out := inst.foldGossipPayload(e.Payload)
	out = append(out, SendAck{
		To:          e.Origin,
		Incarnation: inst.incarnation,
		Payload:     inst.table.makeGossipPayload(&e.Origin, inst.cfg),
		Sequence:    e.Sequence,
	})
	return out
}

// onPingRequest relays a direct ping to Target on ReplyTo's behalf.
func (inst *Instance) onPingRequest(e PingRequest) []Directive {
	out := inst.foldGossipPayload(e.Payload)

	if inst.isSelf(e.Target) {
		return append(out, Ignore{Reason: "ping-request targeting self"})
	}

	if _, ok := inst.table.Member(e.Target); !ok {
		inst.table.AddMember(e.Target, Alive{Inc: 0}, inst.protocolPeriod, inst.clock.NowNanos())
	}

	origin := e.ReplyTo
	out = append(out, SendPing{
		Target:            e.Target,
		Timeout:           time.Duration(float64(inst.cfg.PingTimeout) * inst.cfg.IndirectPingTimeoutMultiplier),
		Sequence:          inst.nextSequenceNumber(),
		Payload:           inst.table.makeGossipPayload(&e.Target, inst.cfg),
		PingRequestOrigin: &origin,
	})
	return out
}

// onPingResponse handles the outcome of a direct probe this Instance issued.
func (inst *Instance) onPingResponse(e PingResponse) []Directive {
	switch e.Kind {
	case PingResponseAck:
		out := inst.foldGossipPayload(e.Payload)
		now := inst.clock.NowNanos()
		res := inst.table.Mark(e.Target, Alive{Inc: e.Incarnation}, inst.cfg, inst.protocolPeriod, now)
		if res.Outcome == MarkOutcomeApplied {
			out = append(out, MembershipChanged{Member: e.Target, Previous: statusPtr(res.Previous), Current: res.Member.Status})
		}
		if e.PingRequestOrigin != nil {
			out = append(out, SendAck{
				To:          *e.PingRequestOrigin,
				Incarnation: e.Incarnation,
				Payload:     e.Payload,
				Sequence:    e.Sequence,
				AckedTarget: e.Target,
				Relaying:    true,
			})
		} else {
			inst.adjustLHM(lhmSuccessfulProbe)
		}
		return out

	case PingResponseNack:
		// Deliberate no-op: a direct nack carries no state change. LHM
		// only reacts to a missed nack on an indirect probe
		// (onEveryPingRequestResponse); a directly-received nack has no
		// relay to perform.
		return nil

	case PingResponseTimeout:
		if e.PingRequestOrigin != nil {
			return []Directive{SendNack{To: *e.PingRequestOrigin, Target: e.Target, Sequence: e.Sequence}}
		}
		m, ok := inst.table.Member(e.Target)
		if !ok {
			return nil
		}
		if _, dead := m.Status.(Dead); dead {
			return nil
		}
		now := inst.clock.NowNanos()
		var out []Directive
		res := inst.table.Mark(e.Target, Suspect{Inc: m.Status.Incarnation(), SuspectedBy: NewNodeSet(inst.myself)}, inst.cfg, inst.protocolPeriod, now)
		if res.Outcome == MarkOutcomeApplied {
			out = append(out, MembershipChanged{Member: e.Target, Previous: statusPtr(res.Previous), Current: res.Member.Status})
		}
		inst.adjustLHM(lhmFailedProbe)
		out = append(out, inst.preparePingRequests(e.Target)...)
		return out
	}
	return nil
}

// onEveryPingRequestResponse is called for every reply to an indirect
// probe; only a timeout (missed nack) adjusts LHM.
func (inst *Instance) onEveryPingRequestResponse(e EveryPingRequestResponse) []Directive {
	if e.Kind == PingResponseTimeout {
		inst.adjustLHM(lhmProbeWithMissedNack)
	}
	return nil
}

// onPingRequestResponse handles the outcome of an indirect probe this
// Instance requested through SendPingRequests.
func (inst *Instance) onPingRequestResponse(e PingRequestResponse) []Directive {
	if _, ok := inst.table.Member(e.PingedMember); !ok {
		return []Directive{UnknownMember{Member: e.PingedMember}}
	}
	switch e.Kind {
	case PingResponseAck:
		out := inst.foldGossipPayload(e.Payload)
		now := inst.clock.NowNanos()
		res := inst.table.Mark(e.PingedMember, Alive{Inc: e.Incarnation}, inst.cfg, inst.protocolPeriod, now)
		if res.Outcome == MarkOutcomeApplied {
			out = append(out, MembershipChanged{Member: e.PingedMember, Previous: statusPtr(res.Previous), Current: res.Member.Status})
			out = append(out, PingRequestResponseHandled{Member: e.PingedMember, Outcome: PingRequestResponseAlive, Previous: statusPtr(res.Previous)})
		} else {
			out = append(out, PingRequestResponseHandled{Member: e.PingedMember, Outcome: PingRequestResponseIgnoredDueToOlderStatus, Previous: statusPtr(res.Current.Status)})
		}
		return out

	case PingResponseNack:
		return []Directive{PingRequestResponseHandled{Member: e.PingedMember, Outcome: PingRequestResponseNackReceived}}

	case PingResponseTimeout:
		m, ok := inst.table.Member(e.PingedMember)
		if !ok {
			return []Directive{UnknownMember{Member: e.PingedMember}}
		}
		switch prev := m.Status.(type) {
		case Alive, Suspect:
			now := inst.clock.NowNanos()
			res := inst.table.Mark(e.PingedMember, Suspect{Inc: m.Status.Incarnation(), SuspectedBy: NewNodeSet(inst.myself)}, inst.cfg, inst.protocolPeriod, now)
			var out []Directive
			if res.Outcome == MarkOutcomeApplied {
				out = append(out, MembershipChanged{Member: e.PingedMember, Previous: statusPtr(res.Previous), Current: res.Member.Status})
				out = append(out, PingRequestResponseHandled{Member: e.PingedMember, Outcome: PingRequestResponseNewlySuspect, Previous: statusPtr(res.Previous)})
			} else {
				out = append(out, PingRequestResponseHandled{Member: e.PingedMember, Outcome: PingRequestResponseIgnoredDueToOlderStatus, Previous: statusPtr(res.Current.Status)})
			}
			return out
		case Unreachable:
			_ = prev
			return []Directive{PingRequestResponseHandled{Member: e.PingedMember, Outcome: PingRequestResponseAlreadyUnreachable, Previous: statusPtr(m.Status)}}
		case Dead:
			_ = prev
			return []Directive{PingRequestResponseHandled{Member: e.PingedMember, Outcome: PingRequestResponseAlreadyDead, Previous: statusPtr(m.Status)}}
		}
	}
	return nil
}

// onConfirmDead applies an external command promoting peer straight to Dead.
func (inst *Instance) onConfirmDead(e ConfirmDead) []Directive {
	m, ok := inst.table.Member(e.Peer)
	if !ok {
		return []Directive{ConfirmDeadResult{Member: e.Peer, Outcome: ConfirmDeadIgnored}}
	}
	if _, dead := m.Status.(Dead); dead {
		return []Directive{ConfirmDeadResult{Member: e.Peer, Outcome: ConfirmDeadIgnored}}
	}
	now := inst.clock.NowNanos()
	res := inst.table.Mark(e.Peer, Dead{Inc: m.Status.Incarnation()}, inst.cfg, inst.protocolPeriod, now)
	if res.Outcome != MarkOutcomeApplied {
		return []Directive{ConfirmDeadResult{Member: e.Peer, Outcome: ConfirmDeadIgnored}}
	}
	return []Directive{
		ConfirmDeadResult{Member: e.Peer, Outcome: ConfirmDeadApplied},
		MembershipChanged{Member: e.Peer, Previous: statusPtr(res.Previous), Current: res.Member.Status},
	}
}

// preparePingRequests selects indirect-probe candidates for target and
// builds the SendPingRequests directive.
func (inst *Instance) preparePingRequests(target Node) []Directive {
	candidates := inst.table.MembersToPingRequest(target, inst.cfg.IndirectProbeCount)
	if len(candidates) == 0 {
		m, ok := inst.table.Member(target)
		if !ok {
			return nil
		}
		now := inst.clock.NowNanos()
		res := inst.table.Mark(target, Suspect{Inc: m.Status.Incarnation(), SuspectedBy: NewNodeSet(inst.myself)}, inst.cfg, inst.protocolPeriod, now)
		if res.Outcome == MarkOutcomeApplied {
			return []Directive{MembershipChanged{Member: target, Previous: statusPtr(res.Previous), Current: res.Member.Status}}
		}
		return nil
	}

	reqCandidates := make([]PingRequestCandidate, 0, len(candidates))
	for _, c := range candidates {
		reqCandidates = append(reqCandidates, PingRequestCandidate{
			Peer:     c,
			Payload:  inst.table.makeGossipPayload(&target, inst.cfg),
			Sequence: inst.nextSequenceNumber(),
			Timeout:  inst.DynamicPingTimeout(),
		})
	}
	return []Directive{SendPingRequests{Target: target, Candidates: reqCandidates}}
}

// foldGossipPayload applies every gossiped member record to the table.
func (inst *Instance) foldGossipPayload(payload []Member) []Directive {
	var out []Directive
	now := inst.clock.NowNanos()

	for _, record := range payload {
		if inst.isSelf(record.Peer) {
			out = append(out, inst.foldSelfRecord(record, now)...)
			continue
		}

		if _, ok := inst.table.Member(record.Peer); !ok {
			if !record.Peer.HasUID() {
				continue
			}
			res := inst.table.AddMember(record.Peer, record.Status, inst.protocolPeriod, now)
			out = append(out, GossipProcessed{Member: record.Peer, Outcome: GossipApplied, Previous: nil})
			out = append(out, MembershipChanged{Member: record.Peer, Previous: nil, Current: res.Member.Status})
			continue
		}

		res := inst.table.Mark(record.Peer, record.Status, inst.cfg, inst.protocolPeriod, now)
		if res.Outcome == MarkOutcomeApplied {
			out = append(out, GossipProcessed{Member: record.Peer, Outcome: GossipApplied, Previous: statusPtr(res.Previous)})
			out = append(out, MembershipChanged{Member: record.Peer, Previous: statusPtr(res.Previous), Current: res.Member.Status})
		} else {
			out = append(out, GossipProcessed{Member: record.Peer, Outcome: GossipIgnoredDueToOlderStatus, Previous: statusPtr(res.Current.Status)})
		}
	}
	return out
}

func (inst *Instance) foldSelfRecord(record Member, now int64) []Directive {
	switch s := record.Status.(type) {
	case Alive:
		return nil
	case Suspect:
		return inst.foldSelfAccusation(s.Inc, now)
	case Unreachable:
		if !inst.cfg.ExtensionUnreachability {
			return nil
		}
		return inst.foldSelfAccusation(s.Inc, now)
	case Dead:
		res := inst.table.Mark(inst.myself, Dead{Inc: s.Inc}, inst.cfg, inst.protocolPeriod, now)
		if res.Outcome == MarkOutcomeApplied {
			return []Directive{MembershipChanged{Member: inst.myself, Previous: statusPtr(res.Previous), Current: res.Member.Status}}
		}
	}
	return nil
}

// foldSelfAccusation implements the refutation protocol shared between
// the Suspect and (extension-enabled) Unreachable self-record cases.
func (inst *Instance) foldSelfAccusation(accusedInc uint64, now int64) []Directive {
	switch {
	case accusedInc == inst.incarnation:
		inst.incarnation++
		inst.adjustLHM(lhmRefutingSuspectAboutSelf)
		out := []Directive{GossipProcessed{Member: inst.myself, Outcome: GossipApplied, Previous: nil}}
		res := inst.table.Mark(inst.myself, Alive{Inc: inst.incarnation}, inst.cfg, inst.protocolPeriod, now)
		if res.Outcome == MarkOutcomeApplied {
			out = append(out, MembershipChanged{Member: inst.myself, Previous: statusPtr(res.Previous), Current: res.Member.Status})
		}
		return out
	case accusedInc > inst.incarnation:
		return []Directive{LogEvent{Level: "warn", Message: "received suspicion about self at a future incarnation"}}
	default:
		return nil
	}
}
