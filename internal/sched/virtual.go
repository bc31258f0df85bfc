package sched

import (
	"container/heap"
	"time"
)

// Epoch0 is the virtual start of time.
var Epoch0 = time.Unix(0, 0).UTC()

type event struct {
	at  time.Time
	seq uint64
	fn  func()
}

type eventHeap []event

func (h eventHeap) Len() int { return len(h) }
func (h eventHeap) Less(i, j int) bool {
	if h[i].at.Equal(h[j].at) {
		return h[i].seq < h[j].seq
	}
	return h[i].at.Before(h[j].at)
}
func (h eventHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *eventHeap) Push(x any)   { *h = append(*h, x.(event)) }
func (h *eventHeap) Pop() any {
	old := *h
	n := len(old)
	ev := old[n-1]
	*h = old[:n-1]
	return ev
}

// VirtualClock is a discrete-event clock. Events at the same instant run in
// scheduling order. Time only moves when the owner steps it.
type VirtualClock struct {
	now    time.Time
	seq    uint64
	events eventHeap
}

func NewVirtualClock() *VirtualClock {
	return &VirtualClock{now: Epoch0}
}

func (c *VirtualClock) Now() time.Time { return c.now }

// Elapsed is virtual time since Epoch0.
func (c *VirtualClock) Elapsed() time.Duration { return c.now.Sub(Epoch0) }

func (c *VirtualClock) Schedule(at time.Time, fn func()) {
	if at.Before(c.now) {
		at = c.now
	}
	c.seq++
	heap.Push(&c.events, event{at: at, seq: c.seq, fn: fn})
}

func (c *VirtualClock) Post(fn func()) {
	c.Schedule(c.now, fn)
}

// Pending is the number of queued events.
func (c *VirtualClock) Pending() int { return len(c.events) }

// Step runs the next event and reports whether there was one.
func (c *VirtualClock) Step() bool {
	if len(c.events) == 0 {
		return false
	}
	ev := heap.Pop(&c.events).(event)
	c.now = ev.at
	ev.fn()
	return true
}

// RunUntil runs every event due at or before t, then sets the clock to t.
func (c *VirtualClock) RunUntil(t time.Time) int {
	ran := 0
	for len(c.events) > 0 && !c.events[0].at.After(t) {
		c.Step()
		ran++
	}
	if t.After(c.now) {
		c.now = t
	}
	return ran
}

// RunFor advances virtual time by d.
func (c *VirtualClock) RunFor(d time.Duration) int {
	return c.RunUntil(c.now.Add(d))
}
