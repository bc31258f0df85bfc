package node

import (
	"testing"
	"time"

	"github.com/danmuck/tina/internal/protocol"
	"github.com/danmuck/tina/internal/protocol/frame"
	"github.com/danmuck/tina/internal/queue"
	"github.com/danmuck/tina/internal/sched"
	"github.com/danmuck/tina/internal/testutil/testlog"
)

const testPeriod = 10 * time.Second

type sentFrame struct {
	dst protocol.NodeID
	msg protocol.Message
}

type fakeRadio struct {
	clock *sched.VirtualClock
	node  *Node
	sent  []sentFrame
	busy  int
	hold  bool
}

func (r *fakeRadio) Send(dst protocol.NodeID, b []byte) error {
	if r.busy > 0 {
		r.busy--
		return ErrRadioBusy
	}
	_, msg, err := frame.Open(b)
	if err != nil {
		return err
	}
	r.sent = append(r.sent, sentFrame{dst: dst, msg: msg})
	if !r.hold {
		r.clock.Post(func() { r.node.SendDone(nil) })
	}
	return nil
}

func (r *fakeRadio) reports() []sentFrame {
	var out []sentFrame
	for _, f := range r.sent {
		if f.msg.Kind().IsDistribution() {
			out = append(out, f)
		}
	}
	return out
}

type scripted struct {
	vals  []uint8
	reads int
}

func (s *scripted) ReadLocalValue() uint8 {
	i := min(s.reads, len(s.vals)-1)
	s.reads++
	return s.vals[i]
}

func testConfig(id protocol.NodeID) Config {
	cfg := DefaultConfig(id)
	cfg.EpochPeriod = testPeriod
	cfg.SendCheckPeriod = time.Second
	cfg.EpochSlot = 0
	cfg.ParentTimeoutEpochs = 0
	return cfg
}

func newTestNode(cfg Config, clock *sched.VirtualClock, radio *fakeRadio, sensor Sensor, rep Reporter) *Node {
	n := New(cfg, clock, radio, sensor, rep)
	radio.clock = clock
	radio.node = n
	return n
}

var maxCount2 = protocol.ExecParams{Mode: protocol.ModeMaxCount, TCT: 2}

func parentAdvert(parent protocol.NodeID, depth uint8) []byte {
	return frame.Seal(parent, protocol.BroadcastID, protocol.RoutingMsg{Depth: depth, Params: maxCount2})
}

func TestLeafReportsOnlyWhenThresholdCrossed(t *testing.T) {
	testlog.Start(t)
	clock := sched.NewVirtualClock()
	radio := &fakeRadio{}
	sensor := &scripted{vals: []uint8{10, 10, 11, 15}}
	n := newTestNode(testConfig(5), clock, radio, sensor, nil)
	n.Start()
	n.Receive(parentAdvert(1, 1))

	clock.RunFor(4*testPeriod + time.Millisecond)

	got := radio.reports()
	if len(got) != 2 {
		t.Fatalf("reports=%+v", got)
	}
	if got[0].dst != 1 || got[0].msg != (protocol.DistrFull{Max: 10, Count: 1}) {
		t.Fatalf("epoch 1 report=%+v", got[0])
	}
	if got[1].msg != (protocol.DistrSemi{Flag: protocol.ModeMax, Data: 15}) {
		t.Fatalf("epoch 4 report=%+v", got[1])
	}
	st := n.Stats()
	if st.Epochs != 4 || st.Suppressed != 2 || st.Reports != 2 {
		t.Fatalf("stats=%+v", st)
	}
	if sensor.reads != 4 {
		t.Fatalf("sensor reads=%d", sensor.reads)
	}
	tree := n.Tree()
	if tree.Depth != 2 || tree.Parent != 1 || !tree.HasParent {
		t.Fatalf("tree=%+v", tree)
	}
}

func TestAdvertsFollowReports(t *testing.T) {
	testlog.Start(t)
	clock := sched.NewVirtualClock()
	radio := &fakeRadio{}
	n := newTestNode(testConfig(5), clock, radio, SensorFunc(func() uint8 { return 4 }), nil)
	n.Start()
	n.Receive(parentAdvert(1, 2))
	clock.RunFor(testPeriod + time.Millisecond)

	if len(radio.sent) != 2 {
		t.Fatalf("sent=%+v", radio.sent)
	}
	adv, ok := radio.sent[1].msg.(protocol.RoutingMsg)
	if !ok || radio.sent[1].dst != protocol.BroadcastID || adv.Depth != 3 || adv.Params != maxCount2 {
		t.Fatalf("advert=%+v", radio.sent[1])
	}
}

func TestSinkReportsEpochAggregate(t *testing.T) {
	testlog.Start(t)
	clock := sched.NewVirtualClock()
	radio := &fakeRadio{}
	var reports []EpochReport
	cfg := testConfig(0)
	cfg.Sink = true
	cfg.Params = protocol.ExecParams{Mode: protocol.ModeMaxCount, TCT: 0}
	n := newTestNode(cfg, clock, radio, SensorFunc(func() uint8 { return 3 }), ReporterFunc(func(r EpochReport) {
		reports = append(reports, r)
	}))
	n.Start()
	n.Receive(frame.Seal(7, protocol.BroadcastID, protocol.RoutingMsg{Depth: 1, Params: cfg.Params}))
	n.Receive(frame.Seal(7, 0, protocol.DistrFull{Max: 20, Count: 4}))
	clock.RunFor(testPeriod + time.Millisecond)

	if len(reports) != 1 {
		t.Fatalf("reports=%+v", reports)
	}
	r := reports[0]
	if r.Max != 20 || r.Count != 5 || !r.HasMax || !r.HasCount || r.Children != 1 || r.Mode != "maxcount" {
		t.Fatalf("report=%+v", r)
	}
	if last, ok := n.LastReport(); !ok || last != r {
		t.Fatalf("last report=%+v,%v", last, ok)
	}

	if err := n.SetExecParams(protocol.ExecParams{Mode: protocol.ModeMax, TCT: 4}); err != nil {
		t.Fatalf("set params: %v", err)
	}
	clock.RunFor(testPeriod)
	r = reports[len(reports)-1]
	if r.Mode != "max" || r.TCT != 4 || r.HasCount || r.Max != 20 {
		t.Fatalf("report after params change=%+v", r)
	}
	adv := radio.sent[len(radio.sent)-1].msg.(protocol.RoutingMsg)
	if adv.Depth != 0 || adv.Params.Mode != protocol.ModeMax {
		t.Fatalf("sink advert=%+v", adv)
	}
}

func TestNonSinkCannotSetParams(t *testing.T) {
	testlog.Start(t)
	clock := sched.NewVirtualClock()
	n := newTestNode(testConfig(5), clock, &fakeRadio{}, SensorFunc(func() uint8 { return 0 }), nil)
	if err := n.SetExecParams(maxCount2); err == nil {
		t.Fatalf("expected error")
	}
}

func TestRadioBusyRetriesOnFastTimer(t *testing.T) {
	testlog.Start(t)
	clock := sched.NewVirtualClock()
	radio := &fakeRadio{busy: 2}
	n := newTestNode(testConfig(5), clock, radio, SensorFunc(func() uint8 { return 9 }), nil)
	n.Start()
	n.Receive(parentAdvert(1, 0))

	clock.RunFor(testPeriod)
	if len(radio.sent) != 0 || n.SendQueueLen() != 2 {
		t.Fatalf("busy radio accepted frames: sent=%d queued=%d", len(radio.sent), n.SendQueueLen())
	}
	clock.RunFor(3 * protocol.FastPeriod)
	if len(radio.sent) != 2 {
		t.Fatalf("sent=%+v", radio.sent)
	}
	if _, ok := radio.sent[0].msg.(protocol.DistrFull); !ok {
		t.Fatalf("report should keep its place at the head: %+v", radio.sent)
	}
}

func TestQueueFullHoldsReportForRetry(t *testing.T) {
	testlog.Start(t)
	clock := sched.NewVirtualClock()
	radio := &fakeRadio{hold: true}
	cfg := testConfig(5)
	cfg.SendQueueSize = 1
	cfg.SendPolicy = queue.DropNewest
	cfg.SendCheckPeriod = time.Hour
	sensor := &scripted{vals: []uint8{10, 30, 50}}
	n := newTestNode(cfg, clock, radio, sensor, nil)
	n.Start()
	n.Receive(parentAdvert(1, 0))

	clock.RunFor(3*testPeriod + 500*time.Millisecond)
	p, ok := n.Pending()
	if !ok {
		t.Fatalf("expected a held report")
	}
	if p.Decision.Msg != (protocol.DistrSemi{Flag: protocol.ModeMax, Data: 50}) || p.Attempts < 2 {
		t.Fatalf("pending=%+v", p)
	}
	if maxVal, _, _, _ := n.LastReported(); maxVal != 30 {
		t.Fatalf("held report must not be committed, last max=%d", maxVal)
	}

	clock.Post(func() { n.SendDone(nil) })
	clock.RunFor(2 * protocol.FastPeriod)
	if _, ok := n.Pending(); ok {
		t.Fatalf("retry should have enqueued the held report")
	}
	if maxVal, hasMax, _, _ := n.LastReported(); !hasMax || maxVal != 50 {
		t.Fatalf("last max=%d,%v", maxVal, hasMax)
	}
}

func TestLinkTimeoutsEscalateToRejoin(t *testing.T) {
	testlog.Start(t)
	clock := sched.NewVirtualClock()
	radio := &fakeRadio{hold: true}
	cfg := testConfig(5)
	cfg.LinkTimeoutLimit = 2
	n := newTestNode(cfg, clock, radio, SensorFunc(func() uint8 { return 1 }), nil)
	n.Start()
	n.Receive(parentAdvert(1, 0))

	clock.RunFor(testPeriod + 3*time.Second)
	if st := n.Stats(); st.LinkTimeouts < 2 {
		t.Fatalf("stats=%+v", st)
	}
	if !n.Tree().HasParent {
		t.Fatalf("rejoin must wait for the epoch boundary")
	}

	clock.RunFor(testPeriod)
	tree := n.Tree()
	if tree.HasParent || tree.State != "unjoined" {
		t.Fatalf("tree=%+v", tree)
	}
	if st := n.Stats(); st.Rejoins != 1 {
		t.Fatalf("rejoins=%d", st.Rejoins)
	}
	if _, ok := n.Pending(); ok {
		t.Fatalf("pending report survived rejoin")
	}
}

func TestInboundFiltering(t *testing.T) {
	testlog.Start(t)
	clock := sched.NewVirtualClock()
	n := newTestNode(testConfig(5), clock, &fakeRadio{}, SensorFunc(func() uint8 { return 0 }), nil)

	n.Receive([]byte{0xEE})
	n.Receive(frame.Seal(7, 9, protocol.DistrFull{Max: 1, Count: 1}))
	n.Receive(frame.Seal(8, 5, protocol.DistrSingle{Data: 2}))
	clock.RunFor(0)

	if st := n.Stats(); st.DecodeErrors != 1 {
		t.Fatalf("decode errors=%d", st.DecodeErrors)
	}
	children := n.Children()
	if len(children) != 1 || children[0].NodeID != 8 {
		t.Fatalf("children=%+v", children)
	}

	n.RemoveChild(8)
	if len(n.Children()) != 0 || len(n.Tree().Children) != 0 {
		t.Fatalf("RemoveChild left state behind")
	}
}

func TestReceiveQueueOverflowCounted(t *testing.T) {
	testlog.Start(t)
	clock := sched.NewVirtualClock()
	n := newTestNode(testConfig(5), clock, &fakeRadio{}, SensorFunc(func() uint8 { return 0 }), nil)
	for i := 0; i < 4; i++ {
		n.Receive(frame.Seal(20, 21, protocol.DistrSingle{Data: 1}))
	}
	for i := 0; i < protocol.ReceiverQueueSize+2; i++ {
		n.Receive(parentAdvert(protocol.NodeID(10+i), 3))
	}
	clock.RunFor(0)
	if st := n.Stats(); st.RecvDrops != 2 {
		t.Fatalf("recv drops=%d", st.RecvDrops)
	}
}

func TestSlotOffsetFiresDeeperNodesFirst(t *testing.T) {
	testlog.Start(t)
	clock := sched.NewVirtualClock()
	cfg := DefaultConfig(0)
	cfg.Sink = true
	sink := newTestNode(cfg, clock, &fakeRadio{}, SensorFunc(func() uint8 { return 0 }), nil)
	leaf := newTestNode(DefaultConfig(4), clock, &fakeRadio{}, SensorFunc(func() uint8 { return 0 }), nil)

	if got := sink.slotOffset(); got != 31*cfg.EpochSlot {
		t.Fatalf("sink offset=%v", got)
	}
	if got := leaf.slotOffset(); got != 0 {
		t.Fatalf("unjoined offset=%v", got)
	}
	cfg.EpochSlot = 0
	flat := newTestNode(cfg, clock, &fakeRadio{}, SensorFunc(func() uint8 { return 0 }), nil)
	if got := flat.slotOffset(); got != 0 {
		t.Fatalf("disabled slot offset=%v", got)
	}
}

func TestStopForgetsVolatileState(t *testing.T) {
	testlog.Start(t)
	clock := sched.NewVirtualClock()
	radio := &fakeRadio{hold: true}
	n := newTestNode(testConfig(5), clock, radio, SensorFunc(func() uint8 { return 6 }), nil)
	n.Start()
	n.Receive(parentAdvert(1, 0))
	n.Receive(frame.Seal(9, 5, protocol.DistrFull{Max: 30, Count: 2}))
	clock.RunFor(testPeriod + time.Millisecond)

	if len(n.Children()) != 1 || n.SendQueueLen() == 0 {
		t.Fatalf("before stop children=%+v queued=%d", n.Children(), n.SendQueueLen())
	}
	if _, hasMax, _, _ := n.LastReported(); !hasMax {
		t.Fatalf("expected committed report before stop")
	}

	n.Stop()
	if len(n.Children()) != 0 || n.SendQueueLen() != 0 {
		t.Fatalf("after stop children=%+v queued=%d", n.Children(), n.SendQueueLen())
	}
	if _, hasMax, _, hasCount := n.LastReported(); hasMax || hasCount {
		t.Fatalf("last reported survived stop")
	}
	if _, ok := n.Pending(); ok {
		t.Fatalf("pending survived stop")
	}
	n.SendDone(nil)
}

func TestSuppressedEpochSupersedesHeldReport(t *testing.T) {
	testlog.Start(t)
	clock := sched.NewVirtualClock()
	radio := &fakeRadio{hold: true}
	cfg := testConfig(5)
	cfg.SendQueueSize = 1
	cfg.SendPolicy = queue.DropNewest
	cfg.SendCheckPeriod = time.Hour
	n := newTestNode(cfg, clock, radio, &scripted{vals: []uint8{10, 50, 60, 50}}, nil)
	n.Start()
	n.Receive(parentAdvert(1, 0))

	// epoch 1 stays on air, epoch 2 queues max=50 behind it and epoch 3
	// finds the single slot taken, so max=60 is held
	clock.RunFor(3*testPeriod + time.Millisecond)
	p, ok := n.Pending()
	if !ok || p.Decision.Msg != (protocol.DistrSemi{Flag: protocol.ModeMax, Data: 60}) {
		t.Fatalf("pending after epoch 3=%+v,%v", p, ok)
	}

	// epoch 4 reads 50 again, matching what was last queued
	clock.RunFor(testPeriod)
	if p, ok := n.Pending(); ok {
		t.Fatalf("suppressed epoch kept a stale held report: %+v", p)
	}

	for i := 0; i < 3; i++ {
		clock.Post(func() { n.SendDone(nil) })
		clock.RunFor(2 * protocol.FastPeriod)
	}
	for _, f := range radio.reports() {
		if f.msg == (protocol.DistrSemi{Flag: protocol.ModeMax, Data: 60}) {
			t.Fatalf("superseded report was sent: %+v", radio.reports())
		}
	}
	if maxVal, hasMax, _, _ := n.LastReported(); !hasMax || maxVal != 50 {
		t.Fatalf("last max=%d,%v", maxVal, hasMax)
	}
}
