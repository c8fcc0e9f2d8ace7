// Package swim implements the core of a SWIM-with-Lifeguard failure
// detector and weakly-consistent membership engine.
//
// The package is a transport-agnostic, deterministic state machine:
// given a stream of input events (periodic ticks, incoming pings,
// ping-requests, ping responses, external confirm-dead commands) it
// emits a list of directives describing what the surrounding shell
// must do (send a message, arm a timeout, publish a membership
// change). Instance never performs I/O, never sleeps and never spawns
// goroutines; Handle is a pure, synchronous reducer.
//
// Typical usage:
//
//	inst := swim.NewInstance(self, cfg, swim.SystemClock{}, rand.New(rand.NewSource(seed)))
//	directives := inst.Handle(swim.PeriodicPingTick{})
//
// The caller (the "shell", see internal/swimnet) is responsible for
// transport, wire encoding, timers and peer connection lifecycle.
package swim
