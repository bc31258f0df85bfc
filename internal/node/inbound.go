package node

import (
	"github.com/danmuck/tina/internal/observability"
	"github.com/danmuck/tina/internal/protocol"
	"github.com/danmuck/tina/internal/protocol/frame"
)

// Receive queues a frame delivered by the radio and posts the inbound task.
// Unicast frames for other nodes are filtered on the header alone and never
// take a receive slot; frames too short for a header are queued so decoding
// counts them.
func (n *Node) Receive(b []byte) {
	if h, ok := frame.PeekHeader(b); ok && h.Dst != protocol.BroadcastID && h.Dst != n.cfg.ID {
		return
	}
	if err := n.recvQ.Push(b); err != nil {
		n.log.Trace().Err(err).Msg("receive queue full")
		return
	}
	if !n.inboundPosted {
		n.inboundPosted = true
		n.clock.Post(n.ProcessInbound)
	}
}

// ProcessInbound drains the receive queue.
func (n *Node) ProcessInbound() {
	n.inboundPosted = false
	for {
		b, ok := n.recvQ.Pop()
		if !ok {
			return
		}
		n.handleFrame(b)
	}
}

func (n *Node) handleFrame(b []byte) {
	f, msg, err := frame.Open(b)
	if err != nil {
		n.stats.DecodeErrors++
		observability.RecordDecodeError(n.label)
		n.log.Debug().Err(err).Int("len", len(b)).Msg("discarding frame")
		return
	}
	switch m := msg.(type) {
	case protocol.RoutingMsg:
		if n.topo.HandleRouting(f.Src, m) {
			n.agg.RemoveChild(f.Src)
			n.log.Debug().Stringer("child", f.Src).Uint8("advert_depth", m.Depth).Msg("child removed")
		}
	case protocol.DistrFull, protocol.DistrSemi, protocol.DistrSingle:
		if !n.topo.HandleReport(f.Src) {
			d, _ := n.topo.NeighbourDepth(f.Src)
			n.log.Debug().Stringer("from", f.Src).Uint8("advert_depth", d).Msg("report from non-descendant refused")
			return
		}
		if err := n.agg.UpdateChild(f.Src, n.topo.Params().Mode, msg); err != nil {
			n.log.Debug().Err(err).Msg("report not applied")
		}
	case protocol.BufferMsg:
		n.log.Trace().Stringer("from", f.Src).Uint8("data", m.Data).Msg("buffer message ignored")
	}
}
