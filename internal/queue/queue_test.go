package queue

import (
	"errors"
	"slices"
	"testing"

	"github.com/danmuck/tina/internal/testutil/testlog"
)

func fill(t *testing.T, q *Queue[int], n int) {
	t.Helper()
	for i := 1; i <= n; i++ {
		if err := q.Push(i); err != nil {
			t.Fatalf("push %d: %v", i, err)
		}
	}
}

func TestSendQueueDropOldestKeepsNewest(t *testing.T) {
	testlog.Start(t)
	var dropped []int
	q := New(5, DropOldest, func(v int) { dropped = append(dropped, v) })
	fill(t, q, 5)

	if err := q.Push(6); err != nil {
		t.Fatalf("drop-oldest push should succeed, got %v", err)
	}
	if q.Len() != 5 {
		t.Fatalf("expected 5 items, got %d", q.Len())
	}
	if got := q.Items(); !slices.Equal(got, []int{2, 3, 4, 5, 6}) {
		t.Fatalf("unexpected items %v", got)
	}
	if !slices.Equal(dropped, []int{1}) {
		t.Fatalf("expected oldest dropped, got %v", dropped)
	}
}

func TestReceiveQueueDropNewestFailsExplicitly(t *testing.T) {
	testlog.Start(t)
	var dropped []int
	q := New(3, DropNewest, func(v int) { dropped = append(dropped, v) })
	fill(t, q, 3)

	err := q.Push(4)
	if !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
	if got := q.Items(); !slices.Equal(got, []int{1, 2, 3}) {
		t.Fatalf("queue mutated by rejected push: %v", got)
	}
	if !slices.Equal(dropped, []int{4}) {
		t.Fatalf("expected rejected item reported, got %v", dropped)
	}
}

func TestFiveSlotQueueSixthPushBothPolicies(t *testing.T) {
	testlog.Start(t)
	oldest := New[int](5, DropOldest, nil)
	fill(t, oldest, 5)
	if err := oldest.Push(6); err != nil {
		t.Fatalf("drop-oldest: %v", err)
	}
	head, _ := oldest.Peek()
	if head != 2 || !slices.Contains(oldest.Items(), 6) {
		t.Fatalf("drop-oldest: unexpected items %v", oldest.Items())
	}

	newest := New[int](5, DropNewest, nil)
	fill(t, newest, 5)
	if err := newest.Push(6); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("drop-newest: expected ErrQueueFull, got %v", err)
	}
	if slices.Contains(newest.Items(), 6) {
		t.Fatalf("drop-newest: rejected item present")
	}
}

func TestPopEmptyIsNotAnError(t *testing.T) {
	testlog.Start(t)
	q := New[int](2, DropOldest, nil)
	if _, ok := q.Pop(); ok {
		t.Fatalf("pop on empty queue returned an item")
	}
	if _, ok := q.Peek(); ok {
		t.Fatalf("peek on empty queue returned an item")
	}
}

func TestFIFOOrderAcrossWrap(t *testing.T) {
	testlog.Start(t)
	q := New[int](3, DropOldest, nil)
	fill(t, q, 3)
	q.Pop()
	q.Pop()
	_ = q.Push(4)
	_ = q.Push(5)
	var got []int
	for {
		v, ok := q.Pop()
		if !ok {
			break
		}
		got = append(got, v)
	}
	if !slices.Equal(got, []int{3, 4, 5}) {
		t.Fatalf("unexpected order %v", got)
	}
}

func TestPushFrontRequeuesAtHead(t *testing.T) {
	testlog.Start(t)
	var dropped []int
	q := New(3, DropOldest, func(v int) { dropped = append(dropped, v) })
	fill(t, q, 2)
	q.PushFront(0)
	if got := q.Items(); !slices.Equal(got, []int{0, 1, 2}) {
		t.Fatalf("unexpected items %v", got)
	}
	q.PushFront(-1)
	if got := q.Items(); !slices.Equal(got, []int{-1, 0, 1}) {
		t.Fatalf("unexpected items after full push-front %v", got)
	}
	if !slices.Equal(dropped, []int{2}) {
		t.Fatalf("expected tail dropped, got %v", dropped)
	}
}

func TestRemoveFuncKeepsOrder(t *testing.T) {
	testlog.Start(t)
	q := New[int](5, DropOldest, nil)
	fill(t, q, 5)
	n := q.RemoveFunc(func(v int) bool { return v%2 == 0 })
	if n != 2 {
		t.Fatalf("expected 2 removed, got %d", n)
	}
	if got := q.Items(); !slices.Equal(got, []int{1, 3, 5}) {
		t.Fatalf("unexpected items %v", got)
	}
	if err := q.Push(6); err != nil {
		t.Fatalf("push after remove: %v", err)
	}
	if got := q.Items(); !slices.Equal(got, []int{1, 3, 5, 6}) {
		t.Fatalf("unexpected items after push %v", got)
	}
}

func TestParsePolicy(t *testing.T) {
	testlog.Start(t)
	if p, err := ParsePolicy("drop_newest"); err != nil || p != DropNewest {
		t.Fatalf("parse drop_newest: %v %v", p, err)
	}
	if _, err := ParsePolicy("lifo"); err == nil {
		t.Fatalf("expected error for unknown policy")
	}
}
