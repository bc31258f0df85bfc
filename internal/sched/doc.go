// Package sched drives each node's single logical thread.
//
// Ownership boundary:
// - Clock: the event loop every handler and timer callback runs on
// - VirtualClock: deterministic discrete-event time for simulation/tests
// - LoopClock: monotonic wall time funnelled through one goroutine
// - Timer: periodic/one-shot timers with generation-based cancellation
// - retry backoff for the fast timer
package sched
