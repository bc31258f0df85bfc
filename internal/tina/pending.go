package tina

import "time"

// Pending tracks a decision that could not be enqueued yet. It is retried
// unchanged on the fast timer until it succeeds or the next epoch replaces
// it.
type Pending struct {
	Decision      Decision
	Attempts      int
	QueuedAt      time.Time
	LastAttemptAt time.Time
	LastError     string
}

// Retry holds at most one pending decision.
type Retry struct {
	item *Pending
}

// Hold starts tracking d after its first failed attempt.
func (r *Retry) Hold(d Decision, at time.Time, err error) Pending {
	p := Pending{Decision: d, Attempts: 1, QueuedAt: at, LastAttemptAt: at}
	if err != nil {
		p.LastError = err.Error()
	}
	r.item = &p
	return p
}

// MarkAttempt records another failed attempt.
func (r *Retry) MarkAttempt(at time.Time, err error) (Pending, bool) {
	if r.item == nil {
		return Pending{}, false
	}
	r.item.Attempts++
	r.item.LastAttemptAt = at
	if err != nil {
		r.item.LastError = err.Error()
	}
	return *r.item, true
}

func (r *Retry) Get() (Pending, bool) {
	if r.item == nil {
		return Pending{}, false
	}
	return *r.item, true
}

// Clear drops the pending decision and reports whether there was one.
func (r *Retry) Clear() bool {
	had := r.item != nil
	r.item = nil
	return had
}
