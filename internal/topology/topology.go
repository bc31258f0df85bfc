// Package topology maintains one node's view of the routing tree: depth,
// parent and children, built from overheard routing adverts.
package topology

import (
	"errors"
	"fmt"
	"slices"

	"github.com/danmuck/tina/internal/protocol"
)

var ErrTopologyInvalid = errors.New("topology: invalid tree state")

// State is the join state machine.
type State int

const (
	Unjoined State = iota
	Joining
	Joined
)

func (s State) String() string {
	switch s {
	case Unjoined:
		return "unjoined"
	case Joining:
		return "joining"
	case Joined:
		return "joined"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Config tunes parent liveness. ParentTimeoutEpochs of zero disables the
// silence check.
type Config struct {
	ParentTimeoutEpochs int
}

func DefaultConfig() Config {
	return Config{ParentTimeoutEpochs: 3}
}

type advert struct {
	from   protocol.NodeID
	depth  uint8
	params protocol.ExecParams
}

// Change summarises what ApplyPending did at an epoch boundary.
type Change struct {
	Joined        bool
	Rejoined      bool
	ParentChanged bool
	DepthChanged  bool
	ParamsChanged bool
	OldParent     protocol.NodeID
	HadParent     bool
	Reason        string
}

// Any reports whether the boundary changed anything the node reports on.
func (c Change) Any() bool {
	return c.Joined || c.Rejoined || c.ParentChanged || c.DepthChanged || c.ParamsChanged
}

// TreeState is a read-only snapshot.
type TreeState struct {
	Node      protocol.NodeID     `json:"node"`
	State     string              `json:"state"`
	Depth     uint8               `json:"depth"`
	Parent    protocol.NodeID     `json:"parent"`
	HasParent bool                `json:"has_parent"`
	Children  []protocol.NodeID   `json:"children"`
	Params    protocol.ExecParams `json:"params"`
}

// Manager is the per-node topology state. Not safe for concurrent use.
type Manager struct {
	self protocol.NodeID
	sink bool
	cfg  Config

	state     State
	depth     uint8
	parent    protocol.NodeID
	hasParent bool
	params    protocol.ExecParams

	children   map[protocol.NodeID]struct{}
	neighbours map[protocol.NodeID]uint8

	candidate     *advert
	pendingSwitch *advert
	pendingDepth  *uint8
	pendingParams *protocol.ExecParams
	parentLost    string
	heardParent   bool
	silentEpochs  int
}

// New returns a non-sink node that has not joined yet.
func New(self protocol.NodeID, cfg Config) *Manager {
	return &Manager{
		self:       self,
		cfg:        cfg,
		state:      Unjoined,
		depth:      protocol.NoDepth,
		children:   make(map[protocol.NodeID]struct{}),
		neighbours: make(map[protocol.NodeID]uint8),
	}
}

// NewSink returns the root: depth 0, no parent, joined for its lifetime.
func NewSink(self protocol.NodeID, params protocol.ExecParams) *Manager {
	m := New(self, Config{})
	m.sink = true
	m.state = Joined
	m.depth = 0
	m.params = params
	return m
}

func (m *Manager) Self() protocol.NodeID       { return m.self }
func (m *Manager) IsSink() bool                { return m.sink }
func (m *Manager) State() State                { return m.state }
func (m *Manager) Depth() uint8                { return m.depth }
func (m *Manager) Params() protocol.ExecParams { return m.params }

func (m *Manager) Parent() (protocol.NodeID, bool) {
	return m.parent, m.hasParent
}

// Joined reports whether the node has a parent (or is the sink) and may
// report aggregates.
func (m *Manager) Joined() bool { return m.state == Joined }

func (m *Manager) IsChild(id protocol.NodeID) bool {
	_, ok := m.children[id]
	return ok
}

func (m *Manager) Children() []protocol.NodeID {
	out := make([]protocol.NodeID, 0, len(m.children))
	for id := range m.children {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// Advert is the routing message this node broadcasts now.
func (m *Manager) Advert() protocol.RoutingMsg {
	if m.state == Unjoined {
		return protocol.RoutingMsg{Depth: protocol.NoDepth, Params: m.params}
	}
	return protocol.RoutingMsg{Depth: m.depth, Params: m.params}
}

// SetParams changes the execution parameters at the sink. Other nodes only
// learn parameters from their parent's adverts.
func (m *Manager) SetParams(p protocol.ExecParams) error {
	if !m.sink {
		return fmt.Errorf("topology: only the sink sets execution parameters")
	}
	if err := p.Validate(); err != nil {
		return err
	}
	m.pendingParams = &p
	return nil
}

// HandleRouting processes an advert overheard from a neighbour. It returns
// true when from was dropped from the children set.
func (m *Manager) HandleRouting(from protocol.NodeID, msg protocol.RoutingMsg) bool {
	if from == m.self {
		return false
	}
	m.neighbours[from] = msg.Depth
	removed := m.checkChild(from, msg.Depth)

	if msg.Withdrawn() {
		m.handleWithdraw(from)
		return removed
	}
	if m.sink || msg.Depth >= protocol.MaxDepth {
		return removed
	}

	a := advert{from: from, depth: msg.Depth, params: msg.Params}
	switch m.state {
	case Unjoined:
		m.candidate = &a
		m.state = Joining
		m.depth = a.depth + 1
		m.params = a.params
	case Joining:
		if a.depth < m.candidate.depth || a.from == m.candidate.from {
			m.candidate = &a
			m.depth = a.depth + 1
			m.params = a.params
		}
	case Joined:
		if m.hasParent && from == m.parent {
			m.heardParent = true
			// A parent at or below our own depth may be our descendant.
			if a.depth >= m.depth {
				m.parentLost = "parent moved deeper"
				return removed
			}
			if a.depth+1 != m.depth {
				d := a.depth + 1
				m.pendingDepth = &d
			} else {
				m.pendingDepth = nil
			}
			if a.params != m.params {
				p := a.params
				m.pendingParams = &p
			} else {
				m.pendingParams = nil
			}
			return removed
		}
		if m.IsChild(from) || int(a.depth)+1 >= int(m.depth) {
			return removed
		}
		if m.pendingSwitch == nil || a.depth < m.pendingSwitch.depth {
			m.pendingSwitch = &a
		}
	}
	return removed
}

// checkChild drops a child whose advertised depth no longer sits below
// ours.
func (m *Manager) checkChild(from protocol.NodeID, depth uint8) bool {
	if !m.IsChild(from) {
		return false
	}
	if depth != protocol.NoDepth && (m.state == Unjoined || depth > m.depth) {
		return false
	}
	delete(m.children, from)
	return true
}

func (m *Manager) handleWithdraw(from protocol.NodeID) {
	if m.hasParent && from == m.parent {
		m.parentLost = "parent withdrew"
	}
	if m.candidate != nil && m.candidate.from == from {
		m.candidate = nil
		if m.state == Joining {
			m.state = Unjoined
			m.depth = protocol.NoDepth
		}
	}
	if m.pendingSwitch != nil && m.pendingSwitch.from == from {
		m.pendingSwitch = nil
	}
}

// HandleReport records that from sent us a distribution report, making it
// a child. Reports from a neighbour advertising a depth at or above ours
// would close a loop and are refused.
func (m *Manager) HandleReport(from protocol.NodeID) bool {
	if from == m.self {
		return false
	}
	if m.state != Unjoined {
		if d, ok := m.neighbours[from]; ok && d != protocol.NoDepth && d <= m.depth {
			return false
		}
	}
	m.children[from] = struct{}{}
	return true
}

// RemoveChild is the external unreachable signal.
func (m *Manager) RemoveChild(id protocol.NodeID) bool {
	if !m.IsChild(id) {
		return false
	}
	delete(m.children, id)
	return true
}

// MarkParentLost schedules a rejoin at the next epoch boundary.
func (m *Manager) MarkParentLost(reason string) {
	if m.sink || !m.hasParent {
		return
	}
	m.parentLost = reason
}

// Rejoin drops the parent and returns to listening for adverts.
func (m *Manager) Rejoin(reason string) Change {
	ch := Change{Rejoined: true, ParentChanged: m.hasParent, OldParent: m.parent, HadParent: m.hasParent, Reason: reason}
	if m.sink {
		return Change{}
	}
	m.state = Unjoined
	m.depth = protocol.NoDepth
	m.parent = 0
	m.hasParent = false
	m.candidate = nil
	m.pendingSwitch = nil
	m.pendingDepth = nil
	m.pendingParams = nil
	m.parentLost = ""
	m.heardParent = false
	m.silentEpochs = 0
	return ch
}

// ApplyPending applies every topology change deferred since the last
// epoch boundary.
func (m *Manager) ApplyPending() Change {
	if m.sink {
		var ch Change
		if m.pendingParams != nil {
			ch.ParamsChanged = *m.pendingParams != m.params
			m.params = *m.pendingParams
			m.pendingParams = nil
		}
		return ch
	}

	if m.state == Joined {
		if m.heardParent {
			m.silentEpochs = 0
		} else {
			m.silentEpochs++
		}
		m.heardParent = false
		if m.cfg.ParentTimeoutEpochs > 0 && m.silentEpochs >= m.cfg.ParentTimeoutEpochs && m.parentLost == "" {
			m.parentLost = "parent silent"
		}
	}
	if m.parentLost != "" {
		return m.Rejoin(m.parentLost)
	}

	var ch Change
	switch m.state {
	case Joining:
		c := m.candidate
		m.parent, m.hasParent = c.from, true
		m.depth = c.depth + 1
		m.params = c.params
		m.state = Joined
		m.candidate = nil
		m.silentEpochs = 0
		ch.Joined = true
		ch.ParentChanged = true
	case Joined:
		if s := m.pendingSwitch; s != nil {
			ch.ParentChanged = true
			ch.OldParent, ch.HadParent = m.parent, true
			ch.Reason = "lower depth parent"
			ch.DepthChanged = s.depth+1 != m.depth
			ch.ParamsChanged = s.params != m.params
			m.parent = s.from
			m.depth = s.depth + 1
			m.params = s.params
			m.silentEpochs = 0
		} else {
			if m.pendingDepth != nil {
				ch.DepthChanged = *m.pendingDepth != m.depth
				m.depth = *m.pendingDepth
			}
			if m.pendingParams != nil {
				ch.ParamsChanged = *m.pendingParams != m.params
				m.params = *m.pendingParams
			}
		}
	}
	m.pendingSwitch = nil
	m.pendingDepth = nil
	m.pendingParams = nil

	if err := m.Validate(); err != nil {
		r := m.Rejoin(err.Error())
		r.Reason = err.Error()
		return r
	}
	if ch.DepthChanged || ch.ParentChanged {
		for id := range m.children {
			if d, ok := m.neighbours[id]; ok && d != protocol.NoDepth && d <= m.depth {
				delete(m.children, id)
			}
		}
	}
	return ch
}

// Validate checks the depth/parent invariant.
func (m *Manager) Validate() error {
	if m.sink {
		if m.depth != 0 || m.hasParent {
			return fmt.Errorf("%w: sink depth=%d has_parent=%v", ErrTopologyInvalid, m.depth, m.hasParent)
		}
		return nil
	}
	switch m.state {
	case Joined:
		if !m.hasParent {
			return fmt.Errorf("%w: joined without parent at depth %d", ErrTopologyInvalid, m.depth)
		}
		if m.depth == 0 || m.depth > protocol.MaxDepth {
			return fmt.Errorf("%w: depth %d", ErrTopologyInvalid, m.depth)
		}
		if m.parent == m.self {
			return fmt.Errorf("%w: self parent", ErrTopologyInvalid)
		}
	case Unjoined:
		if m.hasParent {
			return fmt.Errorf("%w: unjoined with parent", ErrTopologyInvalid)
		}
	}
	return nil
}

// NeighbourDepth is the last depth advertised by id.
func (m *Manager) NeighbourDepth(id protocol.NodeID) (uint8, bool) {
	d, ok := m.neighbours[id]
	return d, ok
}

func (m *Manager) Snapshot() TreeState {
	return TreeState{
		Node:      m.self,
		State:     m.state.String(),
		Depth:     m.depth,
		Parent:    m.parent,
		HasParent: m.hasParent,
		Children:  m.Children(),
		Params:    m.params,
	}
}
