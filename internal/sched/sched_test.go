package sched

import (
	"context"
	"math/rand"
	"slices"
	"testing"
	"time"

	"github.com/danmuck/tina/internal/testutil/testlog"
)

func TestVirtualClockOrdersByTimeThenSequence(t *testing.T) {
	testlog.Start(t)
	c := NewVirtualClock()
	var got []string
	c.Schedule(Epoch0.Add(2*time.Second), func() { got = append(got, "b") })
	c.Schedule(Epoch0.Add(time.Second), func() { got = append(got, "a1") })
	c.Schedule(Epoch0.Add(time.Second), func() { got = append(got, "a2") })
	c.Post(func() { got = append(got, "now") })

	c.RunFor(3 * time.Second)
	if !slices.Equal(got, []string{"now", "a1", "a2", "b"}) {
		t.Fatalf("unexpected order %v", got)
	}
	if c.Elapsed() != 3*time.Second {
		t.Fatalf("unexpected elapsed %v", c.Elapsed())
	}
}

func TestVirtualClockPastScheduleRunsNow(t *testing.T) {
	testlog.Start(t)
	c := NewVirtualClock()
	c.RunFor(time.Second)
	ran := false
	c.Schedule(Epoch0, func() { ran = true })
	c.RunFor(0)
	if !ran {
		t.Fatalf("past event did not run")
	}
	if c.Elapsed() != time.Second {
		t.Fatalf("clock moved backwards: %v", c.Elapsed())
	}
}

func TestPeriodicTimerFiresEachPeriod(t *testing.T) {
	testlog.Start(t)
	c := NewVirtualClock()
	var at []time.Duration
	var tm *Timer
	tm = NewTimer(c, func() { at = append(at, c.Elapsed()) })
	tm.StartPeriodicAt(Epoch0.Add(500*time.Millisecond), time.Second)

	c.RunFor(3 * time.Second)
	want := []time.Duration{500 * time.Millisecond, 1500 * time.Millisecond, 2500 * time.Millisecond}
	if !slices.Equal(at, want) {
		t.Fatalf("got %v want %v", at, want)
	}
	if !tm.Running() {
		t.Fatalf("periodic timer stopped")
	}
}

func TestStopCancelsPendingFire(t *testing.T) {
	testlog.Start(t)
	c := NewVirtualClock()
	fired := 0
	tm := NewTimer(c, func() { fired++ })
	tm.StartOneShot(time.Second)
	tm.Stop()
	c.RunFor(2 * time.Second)
	if fired != 0 {
		t.Fatalf("stopped timer fired %d times", fired)
	}
}

func TestRestartOneShotSupersedesEarlierStart(t *testing.T) {
	testlog.Start(t)
	c := NewVirtualClock()
	var at []time.Duration
	tm := NewTimer(c, func() { at = append(at, c.Elapsed()) })
	tm.StartOneShot(time.Second)
	c.RunFor(500 * time.Millisecond)
	tm.StartOneShot(time.Second)
	c.RunFor(5 * time.Second)
	if !slices.Equal(at, []time.Duration{1500 * time.Millisecond}) {
		t.Fatalf("unexpected fires %v", at)
	}
	if tm.Running() {
		t.Fatalf("one-shot still running after fire")
	}
}

func TestRephaseFromInsideCallback(t *testing.T) {
	testlog.Start(t)
	c := NewVirtualClock()
	var at []time.Duration
	var tm *Timer
	tm = NewTimer(c, func() {
		at = append(at, c.Elapsed())
		if len(at) == 1 {
			tm.StartPeriodicAt(c.Now().Add(250*time.Millisecond), time.Second)
		}
	})
	tm.StartPeriodicAt(Epoch0.Add(time.Second), time.Second)
	c.RunFor(3 * time.Second)
	want := []time.Duration{time.Second, 1250 * time.Millisecond, 2250 * time.Millisecond}
	if !slices.Equal(at, want) {
		t.Fatalf("got %v want %v", at, want)
	}
}

func TestLoopClockRunsPostedWorkInOrder(t *testing.T) {
	testlog.Start(t)
	c := NewLoopClock()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var got []int
	done := make(chan struct{})
	c.Post(func() { got = append(got, 1) })
	c.Schedule(time.Now().Add(20*time.Millisecond), func() {
		got = append(got, 2)
		close(done)
	})
	go func() { _ = c.Run(ctx) }()

	select {
	case <-done:
	case <-ctx.Done():
		t.Fatalf("scheduled work never ran")
	}
	finished := make(chan []int, 1)
	c.Post(func() { finished <- slices.Clone(got) })
	if order := <-finished; !slices.Equal(order, []int{1, 2}) {
		t.Fatalf("unexpected order %v", order)
	}
}

func TestLoopClockPostFromCallbackNeverBlocks(t *testing.T) {
	testlog.Start(t)
	c := NewLoopClock()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go func() { _ = c.Run(ctx) }()

	const fanout = 500
	count := 0
	done := make(chan int, 1)
	c.Post(func() {
		for i := 0; i < fanout; i++ {
			c.Post(func() { count++ })
		}
		c.Post(func() { done <- count })
	})
	select {
	case got := <-done:
		if got != fanout {
			t.Fatalf("ran %d of %d posted callbacks", got, fanout)
		}
	case <-ctx.Done():
		t.Fatalf("loop stalled on nested posts")
	}
}

func TestNextBackoffDelayFixedFastPeriod(t *testing.T) {
	testlog.Start(t)
	cfg := FixedFastBackoff(128 * time.Millisecond)
	for attempt := 1; attempt <= 4; attempt++ {
		if d := NextBackoffDelay(cfg, attempt, nil); d != 128*time.Millisecond {
			t.Fatalf("attempt %d: got %v", attempt, d)
		}
	}
}

func TestNextBackoffDelayGrowsAndCaps(t *testing.T) {
	testlog.Start(t)
	cfg := BackoffConfig{InitialDelay: 100 * time.Millisecond, Multiplier: 2, MaxDelay: 350 * time.Millisecond}
	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 350 * time.Millisecond, 350 * time.Millisecond}
	for i, w := range want {
		if d := NextBackoffDelay(cfg, i+1, nil); d != w {
			t.Fatalf("attempt %d: got %v want %v", i+1, d, w)
		}
	}
}

func TestNextBackoffDelayJitterBounded(t *testing.T) {
	testlog.Start(t)
	cfg := BackoffConfig{InitialDelay: 100 * time.Millisecond, Multiplier: 2, MaxDelay: time.Second, Jitter: true}
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 50; i++ {
		d := NextBackoffDelay(cfg, 3, rng)
		if d < 200*time.Millisecond || d > 600*time.Millisecond {
			t.Fatalf("jittered delay out of bounds: %v", d)
		}
	}
}
