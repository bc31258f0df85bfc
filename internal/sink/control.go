package sink

import (
	"errors"
	"sync"

	"github.com/danmuck/tina/internal/node"
	"github.com/danmuck/tina/internal/protocol"
	"github.com/danmuck/tina/internal/topology"
)

// Control is what the HTTP API may do to the sink node. Implementations
// serialise access with the node's loop.
type Control interface {
	Tree() topology.TreeState
	SetParams(protocol.ExecParams) error
}

// LockedControl guards a node driven by a loop that holds Mu while it runs.
type LockedControl struct {
	Mu   sync.Locker
	Node *node.Node
}

func (c LockedControl) Tree() topology.TreeState {
	c.Mu.Lock()
	defer c.Mu.Unlock()
	return c.Node.Tree()
}

func (c LockedControl) SetParams(p protocol.ExecParams) error {
	c.Mu.Lock()
	defer c.Mu.Unlock()
	return c.Node.SetExecParams(p)
}

// ErrLoopStopped is returned once the loop behind a PostedControl is gone.
var ErrLoopStopped = errors.New("sink: node loop stopped")

// PostedControl runs each call on the node's clock via post and waits for
// the result, for nodes driven by a sched.LoopClock.
type PostedControl struct {
	Post func(func())
	// Done is closed when the loop stops running posted work. Nil waits
	// forever.
	Done <-chan struct{}
	Node *node.Node
}

func (c PostedControl) Tree() topology.TreeState {
	t, _ := await(c, func() topology.TreeState { return c.Node.Tree() })
	return t
}

func (c PostedControl) SetParams(p protocol.ExecParams) error {
	err, ok := await(c, func() error { return c.Node.SetExecParams(p) })
	if !ok {
		return ErrLoopStopped
	}
	return err
}

func await[T any](c PostedControl, fn func() T) (T, bool) {
	ch := make(chan T, 1)
	c.Post(func() { ch <- fn() })
	select {
	case v := <-ch:
		return v, true
	case <-c.Done:
		select {
		case v := <-ch:
			return v, true
		default:
			var zero T
			return zero, false
		}
	}
}
