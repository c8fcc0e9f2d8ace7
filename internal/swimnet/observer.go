package swimnet

import (
	"go.uber.org/zap"

	"github.com/ryandielhenn/swimhealth/internal/swim"
	"github.com/ryandielhenn/swimhealth/internal/telemetry"
)

// RingObserver is the production MembershipObserver: it keeps a
// node.Node's ring in sync with swim's view of the cluster and feeds
// LogEvent directives into zap and Prometheus. It never makes its own
// liveness decisions — it only mirrors what internal/swim decided.
type RingObserver struct {
	ring ringUpdater
	log  *zap.Logger
}

// ringUpdater is the subset of *node.Node this package depends on,
// kept narrow so internal/swimnet does not import pkg/node directly.
type ringUpdater interface {
	AddPeer(id, hostport string)
	ClearPeers()
}

// NewRingObserver builds an observer that maintains r's membership
// through AddPeer/ClearPeers as swim.MembershipChanged directives
// arrive.
func NewRingObserver(r ringUpdater, logger *zap.Logger) *RingObserver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RingObserver{ring: r, log: logger}
}

// OnMembershipChanged mirrors the member's reachability into the ring:
// Alive or Suspect still own keys, Unreachable and Dead do not. A
// single AddPeer call is cheap and idempotent (pkg/ring.Add no-ops on
// a known nodeID), so no removal bookkeeping is needed here — the next
// full ApplyMembership pass cleans up anything genuinely gone.
func (o *RingObserver) OnMembershipChanged(ch swim.MembershipChanged) {
	id := ch.Member.String()
	telemetry.MembersByStatus.WithLabelValues(ch.Current.String()).Inc()
	if ch.Previous != nil {
		telemetry.MembersByStatus.WithLabelValues((*ch.Previous).String()).Dec()
	}

	switch ch.Current.(type) {
	case swim.Alive, swim.Suspect:
		o.ring.AddPeer(id, ch.Member.Addr)
	default:
		// Unreachable/Dead: leave key ownership to the next periodic
		// ApplyMembership rebuild, which calls ring.Clear first.
	}
	o.log.Info("membership changed",
		zap.String("member", id),
		zap.String("status", ch.Current.String()),
	)
}

// OnLogEvent renders a core LogEvent through zap at the level the
// directive names.
func (o *RingObserver) OnLogEvent(e swim.LogEvent) {
	switch e.Level {
	case "warn":
		o.log.Warn(e.Message)
	default:
		o.log.Info(e.Message)
	}
}
