// Package node composes the codec, queues, topology, aggregation and
// transmission control into the per-mote state machine. Every handler runs
// on the node's sched.Clock and none of them block.
package node

import (
	"errors"
	"math/rand"
	"time"

	"github.com/danmuck/tina/internal/aggregate"
	"github.com/danmuck/tina/internal/observability"
	"github.com/danmuck/tina/internal/protocol"
	"github.com/danmuck/tina/internal/queue"
	"github.com/danmuck/tina/internal/sched"
	"github.com/danmuck/tina/internal/tina"
	"github.com/danmuck/tina/internal/topology"
	"github.com/rs/zerolog"
)

var (
	ErrLinkTimeout = errors.New("node: link timeout")
	ErrRadioBusy   = errors.New("node: radio busy")
)

// Radio hands one encoded frame to the link layer. Completion is signalled
// by calling Node.SendDone on the node's clock.
type Radio interface {
	Send(dst protocol.NodeID, frame []byte) error
}

type Sensor interface {
	ReadLocalValue() uint8
}

type SensorFunc func() uint8

func (f SensorFunc) ReadLocalValue() uint8 { return f() }

// Reporter receives the sink's network-wide aggregate once per epoch.
type Reporter interface {
	Report(EpochReport)
}

type ReporterFunc func(EpochReport)

func (f ReporterFunc) Report(r EpochReport) { f(r) }

// EpochReport is what the sink computed for one epoch.
type EpochReport struct {
	Sink     protocol.NodeID `json:"sink"`
	Epoch    uint32          `json:"epoch"`
	At       time.Time       `json:"at"`
	Mode     string          `json:"mode"`
	TCT      uint8           `json:"tct"`
	Max      uint8           `json:"max"`
	Count    uint8           `json:"count"`
	HasMax   bool            `json:"has_max"`
	HasCount bool            `json:"has_count"`
	Children int             `json:"children"`
}

// Stats are local counters, mirrored into prometheus.
type Stats struct {
	Epochs       uint64
	FramesSent   uint64
	Reports      uint64
	Suppressed   uint64
	SendDrops    uint64
	RecvDrops    uint64
	DecodeErrors uint64
	LinkTimeouts uint64
	Rejoins      uint64
	Retries      uint64
}

type Config struct {
	ID     protocol.NodeID
	Sink   bool
	Params protocol.ExecParams

	EpochPeriod     time.Duration
	FastPeriod      time.Duration
	SendCheckPeriod time.Duration
	// EpochSlot staggers epoch ticks by depth so deeper nodes fire first.
	// Zero disables slotting.
	EpochSlot  time.Duration
	SlotDepths int

	SendQueueSize int
	SendPolicy    queue.Policy
	RecvQueueSize int
	RecvPolicy    queue.Policy

	LinkTimeoutLimit    int
	ParentTimeoutEpochs int
	Backoff             sched.BackoffConfig
	Seed                int64
}

func DefaultConfig(id protocol.NodeID) Config {
	return Config{
		ID:                  id,
		Params:              protocol.ExecParams{Mode: protocol.ModeMaxCount, TCT: 2},
		EpochPeriod:         protocol.EpochPeriod,
		FastPeriod:          protocol.FastPeriod,
		SendCheckPeriod:     protocol.SendCheckPeriod,
		EpochSlot:           protocol.EpochPeriod / 32,
		SlotDepths:          31,
		SendQueueSize:       protocol.SenderQueueSize,
		SendPolicy:          queue.DropOldest,
		RecvQueueSize:       protocol.ReceiverQueueSize,
		RecvPolicy:          queue.DropNewest,
		LinkTimeoutLimit:    3,
		ParentTimeoutEpochs: 3,
		Backoff:             sched.FixedFastBackoff(protocol.FastPeriod),
		Seed:                int64(id) + 1,
	}
}

type outbound struct {
	seq   uint64
	kind  protocol.Kind
	dst   protocol.NodeID
	frame []byte
	epoch uint32
}

// Node is one mote. Handlers must only be invoked from the node's clock.
type Node struct {
	cfg      Config
	clock    sched.Clock
	radio    Radio
	sensor   Sensor
	reporter Reporter
	log      zerolog.Logger
	label    string

	topo  *topology.Manager
	agg   *aggregate.Engine
	ctl   *tina.Controller
	retry tina.Retry

	sendQ *queue.Queue[outbound]
	recvQ *queue.Queue[[]byte]

	epochTimer *sched.Timer
	fastTimer  *sched.Timer
	watchdog   *sched.Timer

	anchor         time.Time
	epoch          uint32
	inFlight       *outbound
	sendAttempts   int
	linkTimeouts   int
	inboundPosted  bool
	seq            uint64
	pushing        uint64
	started        bool
	rng            *rand.Rand
	stats          Stats
	lastReport     EpochReport
	haveLastReport bool
}

// New builds a node. reporter may be nil for non-sink nodes.
func New(cfg Config, clock sched.Clock, radio Radio, sensor Sensor, reporter Reporter) *Node {
	n := &Node{
		cfg:      cfg,
		clock:    clock,
		radio:    radio,
		sensor:   sensor,
		reporter: reporter,
		label:    cfg.ID.String(),
		agg:      aggregate.NewEngine(),
		ctl:      tina.NewController(),
		rng:      rand.New(rand.NewSource(cfg.Seed)),
	}
	n.log = observability.NodeLogger(n.label, cfg.Sink)
	if cfg.Sink {
		n.topo = topology.NewSink(cfg.ID, cfg.Params)
	} else {
		n.topo = topology.New(cfg.ID, topology.Config{ParentTimeoutEpochs: cfg.ParentTimeoutEpochs})
	}
	n.sendQ = queue.New(cfg.SendQueueSize, cfg.SendPolicy, n.onSendDrop)
	n.recvQ = queue.New(cfg.RecvQueueSize, cfg.RecvPolicy, func([]byte) { n.countRecvDrop() })
	n.epochTimer = sched.NewTimer(clock, n.OnEpoch)
	n.fastTimer = sched.NewTimer(clock, n.OnFastTick)
	n.watchdog = sched.NewTimer(clock, n.OnWatchdog)
	return n
}

// Start arms the epoch timer. The first tick lands one slot offset after
// the current time.
func (n *Node) Start() {
	if n.started {
		return
	}
	n.started = true
	n.anchor = n.clock.Now()
	n.epochTimer.StartPeriodicAt(n.nextEpochAt(), n.cfg.EpochPeriod)
	n.log.Info().
		Str("params", n.topo.Params().String()).
		Dur("epoch", n.cfg.EpochPeriod).
		Msg("node started")
}

// Stop halts the node as a power loss would: timers stop and everything
// held in RAM (children, last-reported values, queued frames) is lost.
func (n *Node) Stop() {
	n.epochTimer.Stop()
	n.fastTimer.Stop()
	n.watchdog.Stop()
	n.started = false
	n.inFlight = nil
	n.sendQ.Clear()
	n.recvQ.Clear()
	n.retry.Clear()
	n.agg.Reset()
	n.ctl.Invalidate()
}

func (n *Node) ID() protocol.NodeID             { return n.cfg.ID }
func (n *Node) IsSink() bool                    { return n.cfg.Sink }
func (n *Node) Epoch() uint32                   { return n.epoch }
func (n *Node) Stats() Stats                    { return n.stats }
func (n *Node) Tree() topology.TreeState        { return n.topo.Snapshot() }
func (n *Node) Aggregate() aggregate.State      { return n.agg.Last() }
func (n *Node) Children() []aggregate.ChildNode { return n.agg.Children() }
func (n *Node) SendQueueLen() int               { return n.sendQ.Len() }

func (n *Node) LastReport() (EpochReport, bool) {
	return n.lastReport, n.haveLastReport
}

// Pending returns the decision waiting for a free send slot, if any.
func (n *Node) Pending() (tina.Pending, bool) { return n.retry.Get() }

// LastReported exposes the transmission controller's committed values.
func (n *Node) LastReported() (maxVal uint8, hasMax bool, countVal uint8, hasCount bool) {
	return n.ctl.LastReported()
}

// SetExecParams changes the execution parameters at the sink; they take
// effect at the next epoch boundary and flood down in adverts.
func (n *Node) SetExecParams(p protocol.ExecParams) error {
	return n.topo.SetParams(p)
}

// RemoveChild is the external unreachable signal for a child.
func (n *Node) RemoveChild(id protocol.NodeID) {
	n.topo.RemoveChild(id)
	n.agg.RemoveChild(id)
}

func (n *Node) nextEpochAt() time.Time {
	base := n.anchor.Add(n.slotOffset())
	now := n.clock.Now()
	if base.After(now) {
		return base
	}
	k := now.Sub(base)/n.cfg.EpochPeriod + 1
	return base.Add(k * n.cfg.EpochPeriod)
}

func (n *Node) slotOffset() time.Duration {
	if n.cfg.EpochSlot <= 0 || n.cfg.SlotDepths <= 0 {
		return 0
	}
	d := int(n.topo.Depth())
	if d > n.cfg.SlotDepths {
		d = n.cfg.SlotDepths
	}
	return time.Duration(n.cfg.SlotDepths-d) * n.cfg.EpochSlot
}

func (n *Node) onSendDrop(o outbound) {
	n.stats.SendDrops++
	observability.RecordQueueDrop(n.label, "send")
	// A report already in the queue was committed when it was pushed; losing
	// it means the parent never hears those values.
	if o.kind.IsDistribution() && o.seq != n.pushing {
		n.ctl.Invalidate()
	}
	n.log.Debug().Str("kind", o.kind.String()).Stringer("dst", o.dst).Msg("send queue evicted frame")
}

func (n *Node) countRecvDrop() {
	n.stats.RecvDrops++
	observability.RecordQueueDrop(n.label, "recv")
}
