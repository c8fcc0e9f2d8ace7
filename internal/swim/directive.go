package swim

import "time"

// Directive is the sum type of instructions returned to the shell. The
// Instance never performs I/O; every externally visible effect travels
// through one of these.
type Directive interface {
	isDirective()
}

// SendPing asks the shell to send a direct ping to Target and arm a
// timeout of Timeout, delivering a PingResponse{Timeout{...}} event if
// nothing arrives in time.
type SendPing struct {
	Target   Node
	Timeout  time.Duration
	Sequence uint64
	Payload  []Member
	// PingRequestOrigin is set when this ping is issued as a relay on
	// behalf of another node's ping-request; nil
	// for an ordinary direct probe.
	PingRequestOrigin *Node
}

// SendAck asks the shell to send an ack, optionally relaying on behalf
// of an indirect-probe origin.
type SendAck struct {
	To          Node
	Incarnation uint64
	Payload     []Member
	Sequence    uint64
	// AckedTarget is set when this ack relays an indirect-probe result
	// (the target being vouched for); zero value otherwise.
	AckedTarget Node
	Relaying    bool
}

// SendNack asks the shell to send a nack, relaying an indirect-probe
// timeout back to its requester.
type SendNack struct {
	To       Node
	Target   Node
	Sequence uint64
}

// SendPingRequests asks the shell to fan out indirect pings to
// Candidates on behalf of Target.
type SendPingRequests struct {
	Target     Node
	Candidates []PingRequestCandidate
}

// PingRequestCandidate pairs one indirect-probe relay with the gossip
// payload and sequence number to use for it.
type PingRequestCandidate struct {
	Peer     Node
	Payload  []Member
	Sequence uint64
	Timeout  time.Duration
}

// GossipOutcome tags what happened when a single gossiped record was
// folded into the table.
type GossipOutcome int

const (
	GossipApplied GossipOutcome = iota
	GossipIgnoredDueToOlderStatus
)

// GossipProcessed reports the outcome of folding one gossiped member
// record into the table.
type GossipProcessed struct {
	Member   Node
	Outcome  GossipOutcome
	Previous *Status // nil when the peer was not yet known, and for self's own refutation
}

// MembershipChanged is published whenever a member's stored status
// actually changes, for the shell to forward to higher layers.
type MembershipChanged struct {
	Member   Node
	Previous *Status // nil for a brand-new member
	Current  Status
}

// Ignore is returned for inputs that are absorbed as no-ops
// (e.g. a ping-request targeting self).
type Ignore struct {
	Reason string
}

// ConfirmDeadOutcome tags the result of a confirmDead call.
type ConfirmDeadOutcome int

const (
	ConfirmDeadApplied ConfirmDeadOutcome = iota
	ConfirmDeadIgnored
)

// ConfirmDeadResult reports the outcome of an external confirm-dead
// command.
type ConfirmDeadResult struct {
	Member  Node
	Outcome ConfirmDeadOutcome
}

// UnknownMember is returned when a ping-request response names a peer
// the Instance has never heard of.
type UnknownMember struct {
	Member Node
}

// LogEvent carries a suspicious-but-harmless anomaly for the shell to
// render through its logger; the core never logs directly.
type LogEvent struct {
	Level   string // "warn" or "info"
	Message string
}

// PingRequestResponseOutcome tags the result of onPingRequestResponse.
type PingRequestResponseOutcome int

const (
	PingRequestResponseAlive PingRequestResponseOutcome = iota
	PingRequestResponseIgnoredDueToOlderStatus
	PingRequestResponseNackReceived
	PingRequestResponseNewlySuspect
	PingRequestResponseAlreadyUnreachable
	PingRequestResponseAlreadyDead
)

// PingRequestResponseHandled reports the outcome of an indirect-probe
// reply.
type PingRequestResponseHandled struct {
	Member   Node
	Outcome  PingRequestResponseOutcome
	Previous *Status
}

func (SendPing) isDirective()                   {}
func (SendAck) isDirective()                    {}
func (SendNack) isDirective()                   {}
func (SendPingRequests) isDirective()           {}
func (GossipProcessed) isDirective()            {}
func (MembershipChanged) isDirective()          {}
func (Ignore) isDirective()                     {}
func (ConfirmDeadResult) isDirective()          {}
func (UnknownMember) isDirective()              {}
func (LogEvent) isDirective()                   {}
func (PingRequestResponseHandled) isDirective() {}

func statusPtr(s Status) *Status { return &s }
