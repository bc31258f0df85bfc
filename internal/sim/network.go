// Package sim runs whole networks of nodes in one process over a shared
// clock (virtual by default, or a wall-clock loop) and a lossy broadcast
// medium.
package sim

import (
	"errors"
	"fmt"
	"io"
	"slices"
	"time"

	"github.com/danmuck/tina/internal/node"
	"github.com/danmuck/tina/internal/protocol"
	"github.com/danmuck/tina/internal/sched"
	"github.com/danmuck/tina/internal/topology"
	"github.com/dominikbraun/graph"
	"github.com/rs/zerolog/log"
)

type Config struct {
	Links []Link
	Sink  protocol.NodeID
	// Node is the template for every node; ID, Sink and Seed are filled in
	// per node.
	Node     node.Config
	Medium   MediumConfig
	Sensors  SensorFactory
	Reporter node.Reporter
	// Clock drives every node and the medium. Nil means a fresh
	// VirtualClock. A non-virtual clock must run all of the network's
	// work on one goroutine, as sched.LoopClock does.
	Clock sched.Clock
}

type Network struct {
	cfg     Config
	clock   sched.Clock
	virtual *sched.VirtualClock
	origin  time.Time
	medium  *Medium
	radio  NodeGraph
	nodes  map[protocol.NodeID]*node.Node
	ids    []protocol.NodeID
	failed map[protocol.NodeID]bool
}

func New(cfg Config) (*Network, error) {
	g, err := NeighbourGraph(cfg.Links)
	if err != nil {
		return nil, err
	}
	if err := g.AddVertex(cfg.Sink); err != nil && !errors.Is(err, graph.ErrVertexAlreadyExists) {
		return nil, err
	}
	adj, err := g.AdjacencyMap()
	if err != nil {
		return nil, err
	}
	if cfg.Sensors == nil {
		cfg.Sensors = ConstantByID(100)
	}

	clock := cfg.Clock
	virtual, _ := clock.(*sched.VirtualClock)
	if clock == nil {
		virtual = sched.NewVirtualClock()
		clock = virtual
	}
	neighbours := make(map[protocol.NodeID][]protocol.NodeID, len(adj))
	ids := make([]protocol.NodeID, 0, len(adj))
	for id, out := range adj {
		ids = append(ids, id)
		for nb := range out {
			neighbours[id] = append(neighbours[id], nb)
		}
		slices.Sort(neighbours[id])
	}
	slices.Sort(ids)

	nw := &Network{
		cfg:     cfg,
		clock:   clock,
		virtual: virtual,
		origin:  clock.Now(),
		medium:  NewMedium(clock, neighbours, cfg.Medium),
		radio:  g,
		nodes:  make(map[protocol.NodeID]*node.Node, len(ids)),
		ids:    ids,
		failed: make(map[protocol.NodeID]bool),
	}
	for _, id := range ids {
		nc := cfg.Node
		nc.ID = id
		nc.Sink = id == cfg.Sink
		nc.Seed = cfg.Medium.Seed*7919 + int64(id)
		var rep node.Reporter
		if nc.Sink {
			rep = cfg.Reporter
		}
		n := node.New(nc, clock, nw.medium.Radio(id), cfg.Sensors(id), rep)
		nw.medium.Attach(id, n)
		nw.nodes[id] = n
	}
	log.Info().
		Int("nodes", len(ids)).
		Int("links", len(cfg.Links)).
		Stringer("sink", cfg.Sink).
		Bool("virtual", virtual != nil).
		Msg("simulated network built")
	return nw, nil
}

func (nw *Network) Clock() sched.Clock      { return nw.clock }
func (nw *Network) Medium() *Medium         { return nw.medium }
func (nw *Network) RadioGraph() NodeGraph   { return nw.radio }
func (nw *Network) IDs() []protocol.NodeID  { return slices.Clone(nw.ids) }

// Origin is the clock reading when the network was built; epoch k of a
// run started right away closes near Origin + k*EpochPeriod.
func (nw *Network) Origin() time.Time { return nw.origin }
func (nw *Network) Node(id protocol.NodeID) *node.Node {
	return nw.nodes[id]
}
func (nw *Network) Sink() *node.Node { return nw.nodes[nw.cfg.Sink] }

// Start arms every node at the same virtual instant.
func (nw *Network) Start() {
	for _, id := range nw.ids {
		nw.nodes[id].Start()
	}
}

// RunFor advances a virtual network by d and returns the events run. A
// wall-clock network advances on its own; RunFor returns 0 there.
func (nw *Network) RunFor(d time.Duration) int {
	if nw.virtual == nil {
		return 0
	}
	return nw.virtual.RunFor(d)
}

func (nw *Network) RunEpochs(k int) int {
	return nw.RunFor(time.Duration(k) * nw.cfg.Node.EpochPeriod)
}

// Fail crashes id. Its neighbours get the link layer's unreachable signal
// so they drop it as a child.
func (nw *Network) Fail(id protocol.NodeID) error {
	n, ok := nw.nodes[id]
	if !ok {
		return fmt.Errorf("sim: unknown node %s", id)
	}
	if id == nw.cfg.Sink {
		return fmt.Errorf("sim: cannot fail the sink")
	}
	n.Stop()
	nw.medium.SetDown(id, true)
	nw.failed[id] = true
	for _, other := range nw.ids {
		if other != id && !nw.failed[other] {
			nw.nodes[other].RemoveChild(id)
		}
	}
	log.Warn().Stringer("node", id).Msg("node failed")
	return nil
}

// Trees snapshots every live node.
func (nw *Network) Trees() []topology.TreeState {
	out := make([]topology.TreeState, 0, len(nw.ids))
	for _, id := range nw.ids {
		if nw.failed[id] {
			continue
		}
		out = append(out, nw.nodes[id].Tree())
	}
	return out
}

func (nw *Network) Validate() error {
	return ValidateTree(nw.Trees(), nw.cfg.Sink, nw.radio)
}

// WriteTreeDOT renders the current child -> parent tree.
func (nw *Network) WriteTreeDOT(w io.Writer) error {
	g, err := TreeGraph(nw.Trees())
	if err != nil {
		return err
	}
	return WriteDOT(w, g)
}

// Summary aggregates node counters across the network.
type Summary struct {
	Nodes        int           `json:"nodes"`
	Joined       int           `json:"joined"`
	Elapsed      time.Duration `json:"elapsed"`
	FramesSent   uint64        `json:"frames_sent"`
	Reports      uint64        `json:"reports"`
	Suppressed   uint64        `json:"suppressed"`
	Rejoins      uint64        `json:"rejoins"`
	LinkTimeouts uint64        `json:"link_timeouts"`
	QueueDrops   uint64        `json:"queue_drops"`
	Medium       MediumStats   `json:"medium"`
}

func (nw *Network) Summary() Summary {
	s := Summary{Elapsed: nw.clock.Now().Sub(nw.origin), Medium: nw.medium.Stats()}
	if nw.virtual != nil {
		s.Elapsed = nw.virtual.Elapsed()
	}
	for _, id := range nw.ids {
		if nw.failed[id] {
			continue
		}
		n := nw.nodes[id]
		s.Nodes++
		if n.Tree().State == topology.Joined.String() {
			s.Joined++
		}
		st := n.Stats()
		s.FramesSent += st.FramesSent
		s.Reports += st.Reports
		s.Suppressed += st.Suppressed
		s.Rejoins += st.Rejoins
		s.LinkTimeouts += st.LinkTimeouts
		s.QueueDrops += st.SendDrops + st.RecvDrops
	}
	return s
}
