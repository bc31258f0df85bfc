package node

import (
	"github.com/danmuck/tina/internal/aggregate"
	"github.com/danmuck/tina/internal/observability"
	"github.com/danmuck/tina/internal/protocol"
	"github.com/danmuck/tina/internal/protocol/frame"
	"github.com/danmuck/tina/internal/topology"
)

// OnEpoch is the epoch timer handler: apply deferred topology changes,
// recompute the aggregate, decide what to report and queue it.
func (n *Node) OnEpoch() {
	n.epoch++
	n.stats.Epochs++
	observability.RecordEpoch(n.label)

	n.applyChange(n.topo.ApplyPending())
	n.syncChildren()

	if !n.topo.Joined() {
		n.log.Debug().
			Uint32("epoch", n.epoch).
			Str("state", n.topo.State().String()).
			Msg("epoch while not joined")
		n.trySend()
		return
	}

	params := n.topo.Params()
	state := n.agg.Compute(params.Mode, n.sensor.ReadLocalValue())
	if n.cfg.Sink {
		n.report(params, state)
	} else {
		n.decide(params, state)
	}
	n.enqueueAdvert()
	n.trySend()
}

func (n *Node) applyChange(ch topology.Change) {
	if !ch.Any() {
		return
	}
	if ch.Rejoined {
		n.stats.Rejoins++
		observability.RecordRejoin(n.label, ch.Reason)
		n.log.Warn().
			Str("reason", ch.Reason).
			Stringer("old_parent", ch.OldParent).
			Msg("rejoining tree")
		if ch.HadParent {
			n.enqueueRouting(protocol.RoutingMsg{Depth: protocol.NoDepth, Params: n.topo.Params()})
		}
	}
	if ch.ParentChanged && ch.HadParent {
		if dropped := n.cancelReportsTo(ch.OldParent); dropped > 0 {
			n.log.Debug().Int("dropped", dropped).Stringer("old_parent", ch.OldParent).Msg("cancelled stale reports")
		}
	}
	if ch.Rejoined || ch.ParentChanged {
		n.retry.Clear()
		n.linkTimeouts = 0
	}
	n.ctl.Invalidate()

	if parent, ok := n.topo.Parent(); ok && (ch.Joined || ch.ParentChanged) {
		n.log.Info().
			Stringer("parent", parent).
			Uint8("depth", n.topo.Depth()).
			Str("params", n.topo.Params().String()).
			Msg("joined tree")
	}
	if ch.ParamsChanged {
		n.log.Info().Str("params", n.topo.Params().String()).Msg("execution parameters changed")
	}
	if n.started && (ch.Joined || ch.Rejoined || ch.ParentChanged || ch.DepthChanged) {
		n.epochTimer.StartPeriodicAt(n.nextEpochAt(), n.cfg.EpochPeriod)
	}
}

func (n *Node) syncChildren() {
	for _, c := range n.agg.Children() {
		if !n.topo.IsChild(c.NodeID) {
			n.agg.RemoveChild(c.NodeID)
		}
	}
}

func (n *Node) cancelReportsTo(parent protocol.NodeID) int {
	return n.sendQ.RemoveFunc(func(o outbound) bool {
		return o.kind.IsDistribution() && o.dst == parent
	})
}

// decide supersedes any report still held from an earlier epoch, whether
// or not this epoch sends.
func (n *Node) decide(params protocol.ExecParams, state aggregate.State) {
	if n.retry.Clear() {
		n.log.Debug().Uint32("epoch", n.epoch).Msg("held report superseded")
	}
	d := n.ctl.Decide(n.epoch, params, state)
	if d.Suppressed() {
		n.stats.Suppressed++
		observability.RecordSuppressed(n.label)
		n.log.Trace().Uint32("epoch", n.epoch).Str("state", state.String()).Msg("report suppressed")
		return
	}
	if err := n.enqueueReport(d); err != nil {
		p := n.retry.Hold(d, n.clock.Now(), err)
		n.armFast(p.Attempts)
		n.log.Debug().Err(err).Str("decision", d.String()).Msg("report held for retry")
	}
}

func (n *Node) report(params protocol.ExecParams, state aggregate.State) {
	r := EpochReport{
		Sink:     n.cfg.ID,
		Epoch:    n.epoch,
		At:       n.clock.Now(),
		Mode:     params.Mode.String(),
		TCT:      params.TCT,
		Max:      state.CurrentMax,
		Count:    state.CurrentCount,
		HasMax:   params.Mode.HasMax(),
		HasCount: params.Mode.HasCount(),
		Children: len(n.agg.Children()),
	}
	n.lastReport, n.haveLastReport = r, true
	observability.RecordSinkAggregate(n.label, r.Max, r.HasMax, r.Count, r.HasCount)
	n.log.Info().
		Uint32("epoch", r.Epoch).
		Str("mode", r.Mode).
		Uint8("max", r.Max).
		Uint8("count", r.Count).
		Int("children", r.Children).
		Msg("epoch aggregate")
	if n.reporter != nil {
		n.reporter.Report(r)
	}
}

func (n *Node) enqueueAdvert() {
	n.enqueueRouting(n.topo.Advert())
}

func (n *Node) enqueueRouting(msg protocol.RoutingMsg) {
	o := outbound{
		kind:  protocol.KindRouting,
		dst:   protocol.BroadcastID,
		frame: frame.Seal(n.cfg.ID, protocol.BroadcastID, msg),
		epoch: n.epoch,
	}
	if err := n.enqueue(o); err != nil {
		n.log.Debug().Err(err).Msg("advert dropped")
	}
}
