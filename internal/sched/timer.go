package sched

import "time"

// Timer mirrors a mote timer: one callback, either periodic or one-shot.
// Restarting or stopping invalidates callbacks already scheduled.
type Timer struct {
	clock    Clock
	fire     func()
	gen      uint64
	running  bool
	periodic bool
	period   time.Duration
	next     time.Time
}

func NewTimer(clock Clock, fire func()) *Timer {
	return &Timer{clock: clock, fire: fire}
}

// StartPeriodicAt fires first at first, then every period.
func (t *Timer) StartPeriodicAt(first time.Time, period time.Duration) {
	t.gen++
	t.running = true
	t.periodic = true
	t.period = period
	t.arm(first)
}

func (t *Timer) StartOneShot(d time.Duration) {
	t.gen++
	t.running = true
	t.periodic = false
	t.period = 0
	t.arm(t.clock.Now().Add(d))
}

func (t *Timer) Stop() {
	t.gen++
	t.running = false
}

func (t *Timer) Running() bool { return t.running }

// Next is the time of the pending expiry; zero when stopped.
func (t *Timer) Next() time.Time {
	if !t.running {
		return time.Time{}
	}
	return t.next
}

func (t *Timer) arm(at time.Time) {
	gen := t.gen
	t.next = at
	t.clock.Schedule(at, func() {
		if gen != t.gen || !t.running {
			return
		}
		if t.periodic {
			t.arm(at.Add(t.period))
		} else {
			t.running = false
		}
		t.fire()
	})
}
