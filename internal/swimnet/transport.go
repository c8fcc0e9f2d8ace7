// Package swimnet is the UDP shell around internal/swim: it owns the
// socket, the wire codec, and every timer the pure Instance asks for,
// turning Directive values into datagrams and datagrams back into
// Events.
package swimnet

import (
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ryandielhenn/swimhealth/internal/swim"
	"github.com/ryandielhenn/swimhealth/internal/telemetry"
)

// MembershipObserver is notified of every directive the shell chooses
// to surface to the application layer: membership changes for routing
// decisions, and freeform log lines for the host's logger.
type MembershipObserver interface {
	OnMembershipChanged(swim.MembershipChanged)
	OnLogEvent(swim.LogEvent)
}

// NopObserver discards every callback; useful for tests and for a
// node that only cares about swim's liveness decisions through
// periodic Instance.Members() polling.
type NopObserver struct{}

func (NopObserver) OnMembershipChanged(swim.MembershipChanged) {}
func (NopObserver) OnLogEvent(swim.LogEvent)                   {}

type pendingDirect struct {
	target            swim.Node
	pingRequestOrigin *swim.Node
	timer             *time.Timer
}

// pendingIndirect tracks one asker-side indirect-probe fan-out: every
// candidate the asker sent a ping-request to shares this single entry,
// keyed by the target being probed rather than by sequence number. The
// relay mints its own sequence number for the direct probe it sends on
// the asker's behalf (sequence numbers are scoped per-hop, not
// end-to-end — see DESIGN.md), so the relayed ack/nack the asker
// eventually receives carries the relay's sequence space, not the
// asker's. Target identity is the only thing that survives the hop
// unchanged (it's carried in the envelope's AckedTarget/Target field),
// so it's what correlation must key on.
type pendingIndirect struct {
	pingedMember swim.Node
	timers       []*time.Timer
	remaining    int
}

// Shell drives one swim.Instance over a UDP socket. All Instance
// access is serialized through mu, matching the core's single-writer
// assumption.
type Shell struct {
	inst     *swim.Instance
	self     swim.Node
	cfg      swim.Config
	conn     *net.UDPConn
	observer MembershipObserver
	log      *zap.Logger

	mu              sync.Mutex
	pendingDirect   map[uint64]*pendingDirect
	pendingIndirect map[swim.Node]*pendingIndirect
	tickerStop      chan struct{}
	tickerWG        sync.WaitGroup
}

// NewShell binds addr and wraps inst for production use. self must be
// the same identity inst was constructed with (swim.Instance never
// exposes it directly — the shell needs it only to stamp outgoing
// envelopes). logger may be nil, in which case the shell logs
// nowhere. Call Run to start the receive loop and the periodic tick
// loop.
func NewShell(inst *swim.Instance, self swim.Node, cfg swim.Config, addr string, observer MembershipObserver, logger *zap.Logger) (*Shell, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("swimnet: resolve %q: %w", addr, err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("swimnet: listen %q: %w", addr, err)
	}
	if observer == nil {
		observer = NopObserver{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Shell{
		inst:            inst,
		self:            self,
		cfg:             cfg,
		conn:            conn,
		observer:        observer,
		log:             logger.With(zap.String("component", "swimnet"), zap.String("self", self.String())),
		pendingDirect:   make(map[uint64]*pendingDirect),
		pendingIndirect: make(map[swim.Node]*pendingIndirect),
		tickerStop:      make(chan struct{}),
	}, nil
}

// Close stops the tick loop and releases the socket.
func (s *Shell) Close() error {
	close(s.tickerStop)
	s.tickerWG.Wait()
	return s.conn.Close()
}

// Run starts the receive loop (blocking) and the periodic tick loop
// (background). Call from a dedicated goroutine.
func (s *Shell) Run() {
	s.tickerWG.Add(1)
	go s.tickLoop()
	s.receiveLoop()
}

func (s *Shell) tickLoop() {
	defer s.tickerWG.Done()
	for {
		s.mu.Lock()
		interval := s.inst.DynamicProbeInterval()
		s.mu.Unlock()

		select {
		case <-s.tickerStop:
			return
		case <-time.After(interval):
		}

		s.mu.Lock()
		directives := s.inst.Handle(swim.PeriodicPingTick{})
		s.mu.Unlock()
		telemetry.ProtocolPeriodsTotal.Inc()
		for _, d := range directives {
			ch, ok := d.(swim.MembershipChanged)
			if !ok || ch.Previous == nil {
				continue
			}
			if _, wasSuspect := (*ch.Previous).(swim.Suspect); wasSuspect {
				telemetry.SuspicionTimeoutsTotal.Inc()
			}
		}
		s.execute(directives)
	}
}

func (s *Shell) receiveLoop() {
	buf := make([]byte, 64*1024)
	for {
		n, from, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-s.tickerStop:
				return
			default:
				s.log.Warn("read error", zap.Error(err))
				continue
			}
		}
		env, err := decodeEnvelope(buf[:n])
		if err != nil {
			s.log.Warn("malformed datagram", zap.Stringer("from", from), zap.Error(err))
			continue
		}
		s.handleEnvelope(env, from)
	}
}

func (s *Shell) handleEnvelope(env envelope, from *net.UDPAddr) {
	switch env.Type {
	case wireMsgPing:
		s.mu.Lock()
		directives := s.inst.Handle(swim.Ping{
			Origin:   env.From.toNode(),
			Payload:  env.Payload.toPayload(),
			Sequence: env.Sequence,
		})
		s.mu.Unlock()
		s.execute(directives)

	case wireMsgPingRequest:
		if env.Target == nil || env.ReplyTo == nil {
			return
		}
		s.mu.Lock()
		directives := s.inst.Handle(swim.PingRequest{
			Target:  env.Target.toNode(),
			ReplyTo: env.ReplyTo.toNode(),
			Payload: env.Payload.toPayload(),
		})
		s.mu.Unlock()
		s.execute(directives)

	case wireMsgAck:
		s.deliverAck(env)

	case wireMsgNack:
		s.deliverNack(env)
	}
}

func (s *Shell) deliverAck(env envelope) {
	s.mu.Lock()
	pd, direct := s.pendingDirect[env.Sequence]
	if direct {
		delete(s.pendingDirect, env.Sequence)
	}
	s.mu.Unlock()

	if direct {
		pd.timer.Stop()
		s.mu.Lock()
		directives := s.inst.Handle(swim.PingResponse{
			Kind:              swim.PingResponseAck,
			Target:            pd.target,
			Incarnation:       env.Incarnation,
			Payload:           env.Payload.toPayload(),
			Sequence:          env.Sequence,
			PingRequestOrigin: pd.pingRequestOrigin,
		})
		s.mu.Unlock()
		s.execute(directives)
		return
	}

	// Not a direct probe's sequence: this must be the relayed ack for
	// an outstanding ping-request this shell issued as the original
	// asker. The relay's sequence space is its own (see pendingIndirect's
	// doc comment), so correlation back to our fan-out entry happens by
	// the AckedTarget identity carried in the envelope's Target, not by
	// envelope.Sequence.
	if env.Target == nil {
		return
	}
	target := env.Target.toNode()
	s.mu.Lock()
	pi, ok := s.pendingIndirect[target]
	if ok {
		delete(s.pendingIndirect, target)
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	for _, timer := range pi.timers {
		timer.Stop()
	}

	s.mu.Lock()
	directives := s.inst.Handle(swim.EveryPingRequestResponse{Kind: swim.PingResponseAck})
	directives = append(directives, s.inst.Handle(swim.PingRequestResponse{
		Kind:         swim.PingResponseAck,
		PingedMember: pi.pingedMember,
		Incarnation:  env.Incarnation,
		Payload:      env.Payload.toPayload(),
	})...)
	s.mu.Unlock()
	s.execute(directives)
}

func (s *Shell) deliverNack(env envelope) {
	if env.Target == nil {
		return
	}
	target := env.Target.toNode()
	s.mu.Lock()
	pi, ok := s.pendingIndirect[target]
	if ok {
		delete(s.pendingIndirect, target)
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	for _, timer := range pi.timers {
		timer.Stop()
	}

	s.mu.Lock()
	directives := s.inst.Handle(swim.EveryPingRequestResponse{Kind: swim.PingResponseNack})
	directives = append(directives, s.inst.Handle(swim.PingRequestResponse{
		Kind:         swim.PingResponseNack,
		PingedMember: pi.pingedMember,
	})...)
	s.mu.Unlock()
	s.execute(directives)
}

// execute turns one batch of directives into network sends, armed
// timers, and observer callbacks. It must run without holding mu. Every
// call site feeds it the result of an Instance.Handle call, so this is
// also the one place that keeps the LHM gauge current.
func (s *Shell) execute(directives []swim.Directive) {
	s.mu.Lock()
	lhm := s.inst.LHM()
	s.mu.Unlock()
	telemetry.LocalHealthMultiplier.Set(float64(lhm))

	for _, d := range directives {
		switch v := d.(type) {
		case swim.SendPing:
			s.sendPing(v)
		case swim.SendAck:
			s.sendAck(v)
		case swim.SendNack:
			s.sendNack(v)
		case swim.SendPingRequests:
			s.sendPingRequests(v)
		case swim.MembershipChanged:
			s.observer.OnMembershipChanged(v)
		case swim.LogEvent:
			s.observer.OnLogEvent(v)
		case swim.GossipProcessed:
			telemetry.GossipMessagesTotal.WithLabelValues("received").Inc()
		case swim.ConfirmDeadResult, swim.UnknownMember,
			swim.PingRequestResponseHandled, swim.Ignore:
			// Informational only; the demo application layer polls
			// Instance.Members() for routing decisions rather than
			// reacting to every typed outcome.
		}
	}
}

func (s *Shell) sendPing(v swim.SendPing) {
	udpAddr, err := net.ResolveUDPAddr("udp", v.Target.Addr)
	if err != nil {
		s.log.Warn("resolve ping target", zap.String("target", v.Target.Addr), zap.Error(err))
		return
	}
	env := envelope{
		Type:     wireMsgPing,
		From:     toWireNode(s.myself()),
		Payload:  toWirePayload(v.Payload),
		Sequence: v.Sequence,
	}
	b, err := encodeEnvelope(env)
	if err != nil {
		s.log.Error("encode ping", zap.Error(err))
		return
	}
	if _, err := s.conn.WriteToUDP(b, udpAddr); err != nil {
		s.log.Warn("send ping", zap.String("target", v.Target.Addr), zap.Error(err))
	}
	telemetry.GossipMessagesTotal.WithLabelValues("sent").Add(float64(len(v.Payload)))

	timer := time.AfterFunc(v.Timeout, func() { s.onDirectTimeout(v.Sequence) })
	s.mu.Lock()
	s.pendingDirect[v.Sequence] = &pendingDirect{target: v.Target, pingRequestOrigin: v.PingRequestOrigin, timer: timer}
	s.mu.Unlock()
}

func (s *Shell) onDirectTimeout(seq uint64) {
	s.mu.Lock()
	pd, ok := s.pendingDirect[seq]
	if ok {
		delete(s.pendingDirect, seq)
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	s.mu.Lock()
	directives := s.inst.Handle(swim.PingResponse{
		Kind:              swim.PingResponseTimeout,
		Target:            pd.target,
		Sequence:          seq,
		PingRequestOrigin: pd.pingRequestOrigin,
	})
	s.mu.Unlock()
	s.execute(directives)
}

func (s *Shell) sendAck(v swim.SendAck) {
	udpAddr, err := net.ResolveUDPAddr("udp", v.To.Addr)
	if err != nil {
		s.log.Warn("resolve ack recipient", zap.String("to", v.To.Addr), zap.Error(err))
		return
	}
	env := envelope{
		Type:        wireMsgAck,
		From:        toWireNode(s.myself()),
		Target:      wireNodePtr(v.AckedTarget),
		Payload:     toWirePayload(v.Payload),
		Sequence:    v.Sequence,
		Incarnation: v.Incarnation,
	}
	b, err := encodeEnvelope(env)
	if err != nil {
		s.log.Error("encode ack", zap.Error(err))
		return
	}
	if _, err := s.conn.WriteToUDP(b, udpAddr); err != nil {
		s.log.Warn("send ack", zap.String("to", v.To.Addr), zap.Error(err))
	}
	telemetry.GossipMessagesTotal.WithLabelValues("sent").Add(float64(len(v.Payload)))
}

func (s *Shell) sendNack(v swim.SendNack) {
	udpAddr, err := net.ResolveUDPAddr("udp", v.To.Addr)
	if err != nil {
		s.log.Warn("resolve nack recipient", zap.String("to", v.To.Addr), zap.Error(err))
		return
	}
	env := envelope{
		Type:     wireMsgNack,
		From:     toWireNode(s.myself()),
		Target:   wireNodePtr(v.Target),
		Sequence: v.Sequence,
	}
	b, err := encodeEnvelope(env)
	if err != nil {
		s.log.Error("encode nack", zap.Error(err))
		return
	}
	if _, err := s.conn.WriteToUDP(b, udpAddr); err != nil {
		s.log.Warn("send nack", zap.String("to", v.To.Addr), zap.Error(err))
	}
}

// sendPingRequests fans a single target's indirect probe out to every
// candidate under one shared pendingIndirect entry (keyed by target,
// see its doc comment): whichever candidate's reply arrives first
// resolves the probe and cancels the rest; only once every candidate
// has individually timed out does the asker treat the indirect probe
// itself as timed out.
func (s *Shell) sendPingRequests(v swim.SendPingRequests) {
	pi := &pendingIndirect{pingedMember: v.Target}

	s.mu.Lock()
	if prev, ok := s.pendingIndirect[v.Target]; ok {
		for _, timer := range prev.timers {
			timer.Stop()
		}
	}
	s.pendingIndirect[v.Target] = pi
	s.mu.Unlock()

	self := s.myself()
	for _, c := range v.Candidates {
		udpAddr, err := net.ResolveUDPAddr("udp", c.Peer.Addr)
		if err != nil {
			s.log.Warn("resolve ping-request candidate", zap.String("candidate", c.Peer.Addr), zap.Error(err))
			continue
		}
		env := envelope{
			Type:     wireMsgPingRequest,
			From:     toWireNode(self),
			Target:   wireNodePtr(v.Target),
			ReplyTo:  wireNodePtr(self),
			Payload:  toWirePayload(c.Payload),
			Sequence: c.Sequence,
		}
		b, err := encodeEnvelope(env)
		if err != nil {
			s.log.Error("encode ping-request", zap.Error(err))
			continue
		}
		if _, err := s.conn.WriteToUDP(b, udpAddr); err != nil {
			s.log.Warn("send ping-request", zap.String("candidate", c.Peer.Addr), zap.Error(err))
		}
		telemetry.GossipMessagesTotal.WithLabelValues("sent").Add(float64(len(c.Payload)))

		target := v.Target
		timer := time.AfterFunc(c.Timeout, func() { s.onIndirectTimeout(target) })
		s.mu.Lock()
		pi.timers = append(pi.timers, timer)
		pi.remaining++
		s.mu.Unlock()
	}

	s.mu.Lock()
	if pi.remaining == 0 {
		delete(s.pendingIndirect, v.Target)
	}
	s.mu.Unlock()
}

func (s *Shell) onIndirectTimeout(target swim.Node) {
	s.mu.Lock()
	pi, ok := s.pendingIndirect[target]
	if !ok {
		s.mu.Unlock()
		return
	}
	pi.remaining--
	done := pi.remaining <= 0
	if done {
		delete(s.pendingIndirect, target)
	}
	s.mu.Unlock()

	s.mu.Lock()
	every := s.inst.Handle(swim.EveryPingRequestResponse{Kind: swim.PingResponseTimeout})
	s.mu.Unlock()
	s.execute(every)

	if !done {
		// Other candidates for this target are still outstanding;
		// only the last one to time out reports the probe as failed.
		return
	}

	s.mu.Lock()
	directives := s.inst.Handle(swim.PingRequestResponse{
		Kind:         swim.PingResponseTimeout,
		PingedMember: pi.pingedMember,
	})
	s.mu.Unlock()
	s.execute(directives)
}

func (s *Shell) myself() swim.Node { return s.self }

func wireNodePtr(n swim.Node) *wireNode {
	w := toWireNode(n)
	return &w
}
