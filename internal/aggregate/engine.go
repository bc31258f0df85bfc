// Package aggregate combines a node's local reading with its children's
// latest contributions.
package aggregate

import (
	"fmt"
	"slices"

	"github.com/danmuck/tina/internal/protocol"
)

// ChildNode is the latest contribution heard from one child. A field that
// was never reported contributes the identity of its aggregate.
type ChildNode struct {
	NodeID   protocol.NodeID
	MaxVal   uint8
	CountVal uint8
	HasMax   bool
	HasCount bool
}

// State is the result of one epoch's computation.
type State struct {
	Mode         protocol.Mode
	CurrentMax   uint8
	CurrentCount uint8
}

func (s State) String() string {
	return fmt.Sprintf("%s max=%d count=%d", s.Mode, s.CurrentMax, s.CurrentCount)
}

// Engine holds the children table. Not safe for concurrent use.
type Engine struct {
	children map[protocol.NodeID]ChildNode
	last     State
}

func NewEngine() *Engine {
	return &Engine{children: make(map[protocol.NodeID]ChildNode)}
}

// UpdateChild applies a distribution report from child under mode. Full
// replaces both fields, Semi the flagged one, Single the active one.
// Re-applying the same report leaves the table unchanged.
func (e *Engine) UpdateChild(child protocol.NodeID, mode protocol.Mode, msg protocol.Message) error {
	c := e.children[child]
	c.NodeID = child
	switch m := msg.(type) {
	case protocol.DistrFull:
		c.MaxVal, c.HasMax = uint8(m.Max), true
		c.CountVal, c.HasCount = m.Count, true
	case protocol.DistrSemi:
		if m.Flag == protocol.ModeMax {
			c.MaxVal, c.HasMax = m.Data, true
		} else {
			c.CountVal, c.HasCount = m.Data, true
		}
	case protocol.DistrSingle:
		switch mode {
		case protocol.ModeMax:
			c.MaxVal, c.HasMax = m.Data, true
		case protocol.ModeCount:
			c.CountVal, c.HasCount = m.Data, true
		default:
			return fmt.Errorf("aggregate: single report under %s from %s", mode, child)
		}
	default:
		return fmt.Errorf("aggregate: %T is not a distribution report", msg)
	}
	e.children[child] = c
	return nil
}

// Compute folds the local reading with every known child.
func (e *Engine) Compute(mode protocol.Mode, local uint8) State {
	s := State{Mode: mode}
	if mode.HasMax() {
		s.CurrentMax = local
		for _, c := range e.children {
			if c.HasMax && c.MaxVal > s.CurrentMax {
				s.CurrentMax = c.MaxVal
			}
		}
	}
	if mode.HasCount() {
		total := 1
		for _, c := range e.children {
			if c.HasCount {
				total += int(c.CountVal)
			}
		}
		s.CurrentCount = uint8(min(total, 0xFF))
	}
	e.last = s
	return s
}

// Last is the most recent Compute result.
func (e *Engine) Last() State { return e.last }

func (e *Engine) HasChild(id protocol.NodeID) bool {
	_, ok := e.children[id]
	return ok
}

func (e *Engine) RemoveChild(id protocol.NodeID) bool {
	if _, ok := e.children[id]; !ok {
		return false
	}
	delete(e.children, id)
	return true
}

// Children returns a snapshot ordered by node id.
func (e *Engine) Children() []ChildNode {
	out := make([]ChildNode, 0, len(e.children))
	for _, c := range e.children {
		out = append(out, c)
	}
	slices.SortFunc(out, func(a, b ChildNode) int { return int(a.NodeID) - int(b.NodeID) })
	return out
}

// Reset forgets every child contribution.
func (e *Engine) Reset() {
	clear(e.children)
	e.last = State{}
}
