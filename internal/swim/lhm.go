package swim

import "time"

// lhmEvent categorizes the inputs the Local Health Multiplier reacts
// to.
type lhmEvent int

const (
	lhmSuccessfulProbe lhmEvent = iota
	lhmFailedProbe
	lhmRefutingSuspectAboutSelf
	lhmProbeWithMissedNack
)

func lhmDelta(e lhmEvent) int {
	switch e {
	case lhmSuccessfulProbe:
		return -1
	case lhmFailedProbe, lhmRefutingSuspectAboutSelf, lhmProbeWithMissedNack:
		return 1
	default:
		return 0
	}
}

// adjustLHM applies the delta for e and clamps the result to
// [0, maxLHM].
func (inst *Instance) adjustLHM(e lhmEvent) {
	inst.lhm += lhmDelta(e)
	if inst.lhm < 0 {
		inst.lhm = 0
	}
	max := inst.cfg.Lifeguard.MaxLocalHealthMultiplier
	if inst.lhm > max {
		inst.lhm = max
	}
}

// DynamicProbeInterval returns baseProbeInterval * (1 + LHM). The
// shell must reschedule its periodic tick to this value after every
// LHM-modifying event; the Instance itself is passive.
func (inst *Instance) DynamicProbeInterval() time.Duration {
	return inst.cfg.ProbeInterval * time.Duration(1+inst.lhm)
}

// DynamicPingTimeout returns basePingTimeout * (1 + LHM).
func (inst *Instance) DynamicPingTimeout() time.Duration {
	return inst.cfg.PingTimeout * time.Duration(1+inst.lhm)
}

// LHM returns the current Local Health Multiplier, for metrics.
func (inst *Instance) LHM() int { return inst.lhm }
