package node

import (
	"fmt"

	"github.com/danmuck/tina/internal/observability"
	"github.com/danmuck/tina/internal/protocol/frame"
	"github.com/danmuck/tina/internal/sched"
	"github.com/danmuck/tina/internal/tina"
	"github.com/danmuck/tina/internal/topology"
)

func (n *Node) enqueue(o outbound) error {
	n.seq++
	o.seq = n.seq
	n.pushing = o.seq
	defer func() { n.pushing = 0 }()
	return n.sendQ.Push(o)
}

// enqueueReport queues d for the current parent and commits it as the last
// reported value once it is in the queue.
func (n *Node) enqueueReport(d tina.Decision) error {
	parent, ok := n.topo.Parent()
	if !ok {
		return fmt.Errorf("%w: no parent for report", topology.ErrTopologyInvalid)
	}
	o := outbound{
		kind:  d.Msg.Kind(),
		dst:   parent,
		frame: frame.Seal(n.cfg.ID, parent, d.Msg),
		epoch: d.Epoch,
	}
	if err := n.enqueue(o); err != nil {
		return err
	}
	n.ctl.Commit(d)
	n.stats.Reports++
	return nil
}

// trySend hands the queue head to the radio when nothing is in flight.
func (n *Node) trySend() {
	if n.inFlight != nil {
		return
	}
	o, ok := n.sendQ.Pop()
	if !ok {
		return
	}
	if err := n.radio.Send(o.dst, o.frame); err != nil {
		n.sendQ.PushFront(o)
		n.sendAttempts++
		n.armFast(n.sendAttempts)
		n.log.Debug().Err(err).Str("kind", o.kind.String()).Int("attempt", n.sendAttempts).Msg("radio refused frame")
		return
	}
	n.sendAttempts = 0
	n.inFlight = &o
	n.watchdog.StartOneShot(n.cfg.SendCheckPeriod)
	n.stats.FramesSent++
	observability.RecordFrameSent(n.label, o.kind.String())
}

// SendDone is the radio's completion signal for the in-flight frame.
func (n *Node) SendDone(err error) {
	if n.inFlight == nil {
		return
	}
	o := n.inFlight
	n.inFlight = nil
	n.watchdog.Stop()
	if err != nil {
		n.log.Debug().Err(err).Str("kind", o.kind.String()).Stringer("dst", o.dst).Msg("send failed")
	} else {
		n.linkTimeouts = 0
	}
	n.trySend()
}

// OnWatchdog fires when SendDone did not arrive within SendCheckPeriod.
func (n *Node) OnWatchdog() {
	if n.inFlight == nil {
		return
	}
	o := *n.inFlight
	n.inFlight = nil
	n.linkTimeouts++
	n.stats.LinkTimeouts++
	observability.RecordLinkTimeout(n.label)
	n.log.Warn().
		Err(ErrLinkTimeout).
		Str("kind", o.kind.String()).
		Stringer("dst", o.dst).
		Int("consecutive", n.linkTimeouts).
		Msg("send watchdog expired")

	if n.cfg.LinkTimeoutLimit > 0 && n.linkTimeouts >= n.cfg.LinkTimeoutLimit {
		n.linkTimeouts = 0
		n.topo.MarkParentLost("link timeout")
		n.trySend()
		return
	}
	n.sendQ.PushFront(o)
	n.sendAttempts++
	n.armFast(n.sendAttempts)
}

// OnFastTick retries a held report and restarts the send pipeline.
func (n *Node) OnFastTick() {
	if p, ok := n.retry.Get(); ok {
		if !n.topo.Joined() {
			n.retry.Clear()
		} else if err := n.enqueueReport(p.Decision); err != nil {
			p, _ = n.retry.MarkAttempt(n.clock.Now(), err)
			n.stats.Retries++
			n.armFast(p.Attempts)
		} else {
			n.retry.Clear()
		}
	}
	n.trySend()
}

func (n *Node) armFast(attempt int) {
	n.fastTimer.StartOneShot(sched.NextBackoffDelay(n.cfg.Backoff, attempt, n.rng))
}
