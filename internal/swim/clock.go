package swim

import "time"

// Clock is a monotonic nanosecond time source, injectable so tests can
// virtualize time.
type Clock interface {
	NowNanos() int64
}

// SystemClock is the production Clock backed by time.Now's monotonic
// reading.
type SystemClock struct{}

// NowNanos returns the current monotonic time in nanoseconds.
func (SystemClock) NowNanos() int64 { return time.Now().UnixNano() }

// VirtualClock is a settable Clock for deterministic tests.
type VirtualClock struct {
	nanos int64
}

// NewVirtualClock returns a VirtualClock starting at the given time.
func NewVirtualClock(startNanos int64) *VirtualClock {
	return &VirtualClock{nanos: startNanos}
}

// NowNanos implements Clock.
func (c *VirtualClock) NowNanos() int64 { return c.nanos }

// Advance moves the clock forward by d.
func (c *VirtualClock) Advance(d time.Duration) { c.nanos += int64(d) }

// Set pins the clock to an absolute nanosecond timestamp.
func (c *VirtualClock) Set(nanos int64) { c.nanos = nanos }
