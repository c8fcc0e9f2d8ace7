package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

var (
	// MembersByStatus tracks the current table size per status label
	// ("alive", "suspect", "unreachable", "dead"). RingObserver
	// increments the new status and decrements the previous one on
	// every MembershipChanged directive.
	MembersByStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "swimhealth",
			Subsystem: "swim",
			Name:      "members",
			Help:      "Current member count by status.",
		},
		[]string{"status"},
	)

	LocalHealthMultiplier = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "swimhealth",
			Subsystem: "swim",
			Name:      "local_health_multiplier",
			Help:      "Current Lifeguard Local Health Multiplier.",
		},
	)

	ProtocolPeriodsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "swimhealth",
			Subsystem: "swim",
			Name:      "protocol_periods_total",
			Help:      "Total periodic ping ticks processed.",
		},
	)

	GossipMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "swimhealth",
			Subsystem: "swim",
			Name:      "gossip_messages_total",
			Help:      "Total gossip records sent or received.",
		},
		[]string{"direction"}, // "sent" | "received"
	)

	SuspicionTimeoutsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "swimhealth",
			Subsystem: "swim",
			Name:      "suspicion_timeouts_total",
			Help:      "Total times a suspicion timer expired without refutation.",
		},
	)
)

func init() {
	Registry.MustRegister(MembersByStatus, LocalHealthMultiplier, ProtocolPeriodsTotal, GossipMessagesTotal, SuspicionTimeoutsTotal)
}

// NewLogger builds the process-wide zap logger. development toggles
// the human-readable console encoder used at the REPL; production
// processes want the default JSON encoder.
func NewLogger(development bool) (*zap.Logger, error) {
	if development {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
