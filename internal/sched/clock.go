package sched

import "time"

// Clock serialises all work for the nodes attached to it. Callbacks never
// run concurrently with each other.
type Clock interface {
	Now() time.Time
	// Schedule runs fn at (or as soon as possible after) at.
	Schedule(at time.Time, fn func())
	// Post runs fn on the loop as soon as possible.
	Post(fn func())
}
