package swimnet

import (
	"bytes"
	"encoding/gob"

	"github.com/ryandielhenn/swimhealth/internal/swim"
)

// wireMsgType tags the on-the-wire envelope. There's no separate
// ping-request-response type: a relay reports the outcome of the
// probe it ran on the asker's behalf with an ordinary wireMsgAck or
// wireMsgNack addressed back to the asker (Target/ReplyTo carry the
// routing the asker needs to tell a relayed reply from a direct one).
type wireMsgType uint8

const (
	wireMsgPing wireMsgType = iota
	wireMsgAck
	wireMsgNack
	wireMsgPingRequest
)

// wireNode is swim.Node flattened for gob: Node itself is already two
// plain strings, but a dedicated wire type keeps the codec independent
// of internal renames.
type wireNode struct {
	Addr string
	UID  string
}

func toWireNode(n swim.Node) wireNode { return wireNode{Addr: n.Addr, UID: n.UID} }
func (n wireNode) toNode() swim.Node  { return swim.Node{Addr: n.Addr, UID: n.UID} }

// wireStatusTag and wireMember flatten Status to a tag plus the fields every
// variant might need, since gob cannot encode an interface field
// without registering every concrete type that ever flows through it.
type wireStatusTag uint8

const (
	wireStatusAlive wireStatusTag = iota
	wireStatusSuspect
	wireStatusUnreachable
	wireStatusDead
)

type wireMember struct {
	Peer        wireNode
	StatusTag   wireStatusTag
	Inc         uint64
	SuspectedBy []wireNode
}

func toWireMember(m swim.Member) wireMember {
	w := wireMember{Peer: toWireNode(m.Peer)}
	switch s := m.Status.(type) {
	case swim.Alive:
		w.StatusTag, w.Inc = wireStatusAlive, s.Inc
	case swim.Suspect:
		w.StatusTag, w.Inc = wireStatusSuspect, s.Inc
		for _, n := range s.SuspectedBy.Sorted() {
			w.SuspectedBy = append(w.SuspectedBy, toWireNode(n))
		}
	case swim.Unreachable:
		w.StatusTag, w.Inc = wireStatusUnreachable, s.Inc
	case swim.Dead:
		w.StatusTag, w.Inc = wireStatusDead, s.Inc
	}
	return w
}

func (w wireMember) toMember() swim.Member {
	var status swim.Status
	switch w.StatusTag {
	case wireStatusAlive:
		status = swim.Alive{Inc: w.Inc}
	case wireStatusSuspect:
		nodes := make([]swim.Node, 0, len(w.SuspectedBy))
		for _, n := range w.SuspectedBy {
			nodes = append(nodes, n.toNode())
		}
		status = swim.Suspect{Inc: w.Inc, SuspectedBy: swim.NewNodeSet(nodes...)}
	case wireStatusUnreachable:
		status = swim.Unreachable{Inc: w.Inc}
	case wireStatusDead:
		status = swim.Dead{Inc: w.Inc}
	default:
		status = swim.Alive{Inc: w.Inc}
	}
	return swim.Member{Peer: w.Peer.toNode(), Status: status}
}

func toWirePayload(payload []swim.Member) []wireMember {
	out := make([]wireMember, 0, len(payload))
	for _, m := range payload {
		out = append(out, toWireMember(m))
	}
	return out
}

func (wp wireMembers) toPayload() []swim.Member {
	out := make([]swim.Member, 0, len(wp))
	for _, m := range wp {
		out = append(out, m.toMember())
	}
	return out
}

type wireMembers []wireMember

// envelope is the single struct that crosses the wire for every SWIM
// message kind: a type tag, a from identity, an optional
// indirect-probe target/origin, a piggybacked delta set, and a
// sequence number to correlate ping/ack/nack.
type envelope struct {
	Type     wireMsgType
	From     wireNode
	Target   *wireNode // ping-request: who to probe; relayed ack/nack: who was probed
	ReplyTo  *wireNode // ping-request: who receives the indirect result
	Payload  wireMembers
	Sequence uint64
	Incarnation uint64
}

func encodeEnvelope(e envelope) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(e); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeEnvelope(b []byte) (envelope, error) {
	var e envelope
	err := gob.NewDecoder(bytes.NewReader(b)).Decode(&e)
	return e, err
}
