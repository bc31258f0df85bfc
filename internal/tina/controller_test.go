package tina

import (
	"errors"
	"testing"
	"time"

	"github.com/danmuck/tina/internal/aggregate"
	"github.com/danmuck/tina/internal/protocol"
	"github.com/danmuck/tina/internal/testutil/testlog"
)

func params(t *testing.T, mode protocol.Mode, tct uint8) protocol.ExecParams {
	t.Helper()
	p, err := protocol.NewExecParams(mode, tct)
	if err != nil {
		t.Fatalf("params: %v", err)
	}
	return p
}

func state(mode protocol.Mode, max, count uint8) aggregate.State {
	return aggregate.State{Mode: mode, CurrentMax: max, CurrentCount: count}
}

func TestMaxCountDecisionTable(t *testing.T) {
	testlog.Start(t)
	p := params(t, protocol.ModeMaxCount, 2)
	cases := []struct {
		name  string
		max   uint8
		count uint8
		want  protocol.Message
	}{
		{"both changed", 20, 5, protocol.DistrFull{Max: 20, Count: 5}},
		{"max only", 25, 5, protocol.DistrSemi{Flag: protocol.ModeMax, Data: 25}},
		{"count only", 25, 8, protocol.DistrSemi{Flag: protocol.ModeCount, Data: 8}},
		{"neither", 26, 9, nil},
	}
	c := NewController()
	c.Commit(Decision{SendMax: true, SendCount: true, Max: 10, Count: 1})
	for _, tc := range cases {
		d := c.Decide(1, p, state(protocol.ModeMaxCount, tc.max, tc.count))
		if d.Msg != tc.want {
			t.Fatalf("%s: got %+v want %+v", tc.name, d.Msg, tc.want)
		}
		c.Commit(d)
	}
}

func TestSingleModes(t *testing.T) {
	testlog.Start(t)
	c := NewController()
	d := c.Decide(1, params(t, protocol.ModeMax, 0), state(protocol.ModeMax, 7, 0))
	if d.Msg != (protocol.DistrSingle{Data: 7}) {
		t.Fatalf("max mode: got %+v", d.Msg)
	}
	c.Commit(d)
	if d := c.Decide(2, params(t, protocol.ModeMax, 0), state(protocol.ModeMax, 7, 0)); !d.Suppressed() {
		t.Fatalf("unchanged max not suppressed: %+v", d.Msg)
	}

	c = NewController()
	d = c.Decide(1, params(t, protocol.ModeCount, 0), state(protocol.ModeCount, 0, 4))
	if d.Msg != (protocol.DistrSingle{Data: 4}) {
		t.Fatalf("count mode: got %+v", d.Msg)
	}
}

func TestZeroThresholdSendsOnEveryChange(t *testing.T) {
	testlog.Start(t)
	c := NewController()
	p := params(t, protocol.ModeMax, 0)
	values := []uint8{5, 6, 6, 5, 9}
	wantSend := []bool{true, true, false, true, true}
	for i, v := range values {
		d := c.Decide(uint32(i+1), p, state(protocol.ModeMax, v, 0))
		if d.Suppressed() == wantSend[i] {
			t.Fatalf("epoch %d value %d: send=%v want %v", i+1, v, !d.Suppressed(), wantSend[i])
		}
		c.Commit(d)
	}
}

func TestSlowDriftSilentUntilThresholdCrossed(t *testing.T) {
	testlog.Start(t)
	c := NewController()
	p := params(t, protocol.ModeMax, 5)
	first := c.Decide(1, p, state(protocol.ModeMax, 100, 0))
	if first.Suppressed() {
		t.Fatalf("first report suppressed")
	}
	c.Commit(first)

	for i, v := range []uint8{101, 102, 103, 104} {
		if d := c.Decide(uint32(i+2), p, state(protocol.ModeMax, v, 0)); !d.Suppressed() {
			t.Fatalf("drift %d reported below threshold", v)
		}
	}
	d := c.Decide(6, p, state(protocol.ModeMax, 105, 0))
	if d.Msg != (protocol.DistrSingle{Data: 105}) {
		t.Fatalf("threshold crossing not reported: %+v", d.Msg)
	}
}

func TestUnsentFieldKeepsStaleLastReported(t *testing.T) {
	testlog.Start(t)
	c := NewController()
	p := params(t, protocol.ModeMaxCount, 2)
	c.Commit(c.Decide(1, p, state(protocol.ModeMaxCount, 10, 1)))

	// count drifts by one each epoch; max jumps once
	d := c.Decide(2, p, state(protocol.ModeMaxCount, 20, 2))
	if d.Msg != (protocol.DistrSemi{Flag: protocol.ModeMax, Data: 20}) {
		t.Fatalf("unexpected %+v", d.Msg)
	}
	c.Commit(d)
	_, _, count, ok := c.LastReported()
	if !ok || count != 1 {
		t.Fatalf("unsent count was updated: %d", count)
	}
	d = c.Decide(3, p, state(protocol.ModeMaxCount, 20, 3))
	if d.Msg != (protocol.DistrSemi{Flag: protocol.ModeCount, Data: 3}) {
		t.Fatalf("cumulative count drift not reported: %+v", d.Msg)
	}
}

func TestInvalidateForcesFullReport(t *testing.T) {
	testlog.Start(t)
	c := NewController()
	p := params(t, protocol.ModeMaxCount, 3)
	c.Commit(c.Decide(1, p, state(protocol.ModeMaxCount, 10, 1)))
	c.Invalidate()
	d := c.Decide(2, p, state(protocol.ModeMaxCount, 10, 1))
	if d.Msg != (protocol.DistrFull{Max: 10, Count: 1}) {
		t.Fatalf("expected full report after invalidate, got %+v", d.Msg)
	}
}

func TestLeafScenarioMaxCountThresholdTwo(t *testing.T) {
	testlog.Start(t)
	c := NewController()
	p := params(t, protocol.ModeMaxCount, 2)
	values := []uint8{10, 10, 11, 15}
	want := []protocol.Message{
		protocol.DistrFull{Max: 10, Count: 1},
		nil,
		nil,
		protocol.DistrSemi{Flag: protocol.ModeMax, Data: 15},
	}
	for i, v := range values {
		d := c.Decide(uint32(i+1), p, state(protocol.ModeMaxCount, v, 1))
		if d.Msg != want[i] {
			t.Fatalf("epoch %d: got %+v want %+v", i+1, d.Msg, want[i])
		}
		c.Commit(d)
	}
}

func TestRetryHoldsOneDecision(t *testing.T) {
	testlog.Start(t)
	var r Retry
	if _, ok := r.Get(); ok {
		t.Fatalf("empty retry returned an item")
	}
	at := time.Unix(10, 0)
	d := Decision{Epoch: 4, Msg: protocol.DistrSingle{Data: 1}}
	r.Hold(d, at, errors.New("queue: full"))
	p, ok := r.MarkAttempt(at.Add(time.Second), nil)
	if !ok || p.Attempts != 2 || p.LastError != "queue: full" || p.Decision.Epoch != 4 {
		t.Fatalf("unexpected pending %+v", p)
	}
	if !r.Clear() || r.Clear() {
		t.Fatalf("clear should report a held item once")
	}
}
