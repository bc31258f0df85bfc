// Package queue provides the bounded FIFOs each node sends and receives
// through.
package queue

import (
	"errors"
	"fmt"
	"strings"
)

var ErrQueueFull = errors.New("queue: full")

// Policy decides what a push onto a full queue does.
type Policy int

const (
	// DropOldest evicts the head and admits the new item.
	DropOldest Policy = iota
	// DropNewest rejects the new item with ErrQueueFull.
	DropNewest
)

func (p Policy) String() string {
	switch p {
	case DropOldest:
		return "drop_oldest"
	case DropNewest:
		return "drop_newest"
	default:
		return fmt.Sprintf("policy(%d)", int(p))
	}
}

func ParsePolicy(raw string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "drop_oldest", "oldest":
		return DropOldest, nil
	case "drop_newest", "newest":
		return DropNewest, nil
	default:
		return 0, fmt.Errorf("queue: unknown policy %q", raw)
	}
}

// Queue is a fixed-capacity ring. It is not safe for concurrent use; each
// node touches its queues from a single loop.
type Queue[T any] struct {
	buf    []T
	head   int
	n      int
	policy Policy
	onDrop func(T)
}

// New returns a queue holding at most capacity items. onDrop, if non-nil,
// sees every item lost to the policy.
func New[T any](capacity int, policy Policy, onDrop func(T)) *Queue[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue[T]{
		buf:    make([]T, capacity),
		policy: policy,
		onDrop: onDrop,
	}
}

func (q *Queue[T]) Len() int       { return q.n }
func (q *Queue[T]) Cap() int       { return len(q.buf) }
func (q *Queue[T]) Full() bool     { return q.n == len(q.buf) }
func (q *Queue[T]) Empty() bool    { return q.n == 0 }
func (q *Queue[T]) Policy() Policy { return q.policy }

// Push appends v. On a full queue DropOldest evicts the head and returns
// nil; DropNewest returns ErrQueueFull and leaves the queue unchanged.
func (q *Queue[T]) Push(v T) error {
	if q.Full() {
		if q.policy == DropNewest {
			q.drop(v)
			return ErrQueueFull
		}
		old, _ := q.Pop()
		q.drop(old)
	}
	q.buf[(q.head+q.n)%len(q.buf)] = v
	q.n++
	return nil
}

// PushFront puts v back at the head, used when a dispatch must be retried.
// On a full queue the tail is dropped regardless of policy.
func (q *Queue[T]) PushFront(v T) {
	if q.Full() {
		tail := (q.head + q.n - 1) % len(q.buf)
		q.drop(q.buf[tail])
		var zero T
		q.buf[tail] = zero
		q.n--
	}
	q.head = (q.head - 1 + len(q.buf)) % len(q.buf)
	q.buf[q.head] = v
	q.n++
}

// Pop removes the head. An empty queue returns false.
func (q *Queue[T]) Pop() (T, bool) {
	var zero T
	if q.n == 0 {
		return zero, false
	}
	v := q.buf[q.head]
	q.buf[q.head] = zero
	q.head = (q.head + 1) % len(q.buf)
	q.n--
	return v, true
}

func (q *Queue[T]) Peek() (T, bool) {
	if q.n == 0 {
		var zero T
		return zero, false
	}
	return q.buf[q.head], true
}

// RemoveFunc deletes every item matching fn, keeping order, and returns how
// many were removed. Removed items are not reported to onDrop.
func (q *Queue[T]) RemoveFunc(fn func(T) bool) int {
	kept := make([]T, 0, q.n)
	removed := 0
	for i := 0; i < q.n; i++ {
		v := q.buf[(q.head+i)%len(q.buf)]
		if fn(v) {
			removed++
			continue
		}
		kept = append(kept, v)
	}
	if removed == 0 {
		return 0
	}
	q.Clear()
	for _, v := range kept {
		q.buf[q.n] = v
		q.n++
	}
	return removed
}

// Items returns the queued items head first.
func (q *Queue[T]) Items() []T {
	out := make([]T, 0, q.n)
	for i := 0; i < q.n; i++ {
		out = append(out, q.buf[(q.head+i)%len(q.buf)])
	}
	return out
}

func (q *Queue[T]) Clear() {
	var zero T
	for i := range q.buf {
		q.buf[i] = zero
	}
	q.head = 0
	q.n = 0
}

func (q *Queue[T]) drop(v T) {
	if q.onDrop != nil {
		q.onDrop(v)
	}
}
