package sim

import (
	"errors"
	"fmt"
	"io"
	"slices"
	"strconv"

	"github.com/danmuck/tina/internal/protocol"
	"github.com/danmuck/tina/internal/topology"
	"github.com/dominikbraun/graph"
	"github.com/dominikbraun/graph/draw"
)

var ErrTreeInvalid = errors.New("sim: routing tree invalid")

// NodeGraph is keyed and valued by node id.
type NodeGraph = graph.Graph[protocol.NodeID, protocol.NodeID]

func nodeHash(id protocol.NodeID) protocol.NodeID { return id }

// NeighbourGraph builds the directed radio graph. Duplicate links keep the
// first gain seen.
func NeighbourGraph(links []Link) (NodeGraph, error) {
	g := graph.New(nodeHash, graph.Directed())
	for _, l := range links {
		for _, id := range []protocol.NodeID{l.Src, l.Dst} {
			if err := g.AddVertex(id); err != nil && !errors.Is(err, graph.ErrVertexAlreadyExists) {
				return nil, err
			}
		}
		err := g.AddEdge(l.Src, l.Dst, graph.EdgeAttribute("gain", strconv.FormatFloat(l.GainDB, 'f', 1, 64)))
		if err != nil && !errors.Is(err, graph.ErrEdgeAlreadyExists) {
			return nil, err
		}
	}
	return g, nil
}

// TreeGraph builds the child -> parent graph from node snapshots, refusing
// any edge that would close a cycle. Edges to parents missing from trees
// are left out.
func TreeGraph(trees []topology.TreeState) (NodeGraph, error) {
	g := graph.New(nodeHash, graph.Directed())
	known := make(map[protocol.NodeID]bool, len(trees))
	for _, t := range trees {
		if err := g.AddVertex(t.Node, graph.VertexAttribute("label", fmt.Sprintf("%s d=%d", t.Node, t.Depth))); err != nil {
			return nil, err
		}
		known[t.Node] = true
	}
	for _, t := range trees {
		if !t.HasParent || !known[t.Parent] {
			continue
		}
		cyclic, err := graph.CreatesCycle(g, t.Node, t.Parent)
		if err != nil {
			return nil, fmt.Errorf("%w: %s -> %s: %v", ErrTreeInvalid, t.Node, t.Parent, err)
		}
		if cyclic {
			return nil, fmt.Errorf("%w: %s -> %s closes a cycle", ErrTreeInvalid, t.Node, t.Parent)
		}
		if err := g.AddEdge(t.Node, t.Parent); err != nil {
			return nil, fmt.Errorf("%w: %s -> %s: %v", ErrTreeInvalid, t.Node, t.Parent, err)
		}
	}
	return g, nil
}

// ValidateTree checks every joined node: it has a parent it can hear, the
// parent sits strictly shallower, and following parents reaches the sink.
func ValidateTree(trees []topology.TreeState, sink protocol.NodeID, radio NodeGraph) error {
	g, err := TreeGraph(trees)
	if err != nil {
		return err
	}
	byID := make(map[protocol.NodeID]topology.TreeState, len(trees))
	for _, t := range trees {
		byID[t.Node] = t
	}
	for _, t := range trees {
		if t.Node == sink {
			if t.HasParent || t.Depth != 0 {
				return fmt.Errorf("%w: sink %s depth=%d has_parent=%v", ErrTreeInvalid, t.Node, t.Depth, t.HasParent)
			}
			continue
		}
		if t.State != topology.Joined.String() {
			continue
		}
		p, ok := byID[t.Parent]
		if !t.HasParent || !ok {
			return fmt.Errorf("%w: %s has no known parent", ErrTreeInvalid, t.Node)
		}
		if p.Depth >= t.Depth {
			return fmt.Errorf("%w: %s depth %d under %s depth %d", ErrTreeInvalid, t.Node, t.Depth, p.Node, p.Depth)
		}
		if radio != nil {
			if _, err := radio.Edge(t.Parent, t.Node); err != nil {
				return fmt.Errorf("%w: %s cannot hear parent %s", ErrTreeInvalid, t.Node, t.Parent)
			}
		}
		path, err := graph.ShortestPath(g, t.Node, sink)
		if err != nil || len(path) == 0 {
			return fmt.Errorf("%w: %s does not reach sink %s", ErrTreeInvalid, t.Node, sink)
		}
	}
	return nil
}

// Neighbours lists the nodes that hear id, in id order.
func Neighbours(g NodeGraph, id protocol.NodeID) ([]protocol.NodeID, error) {
	adj, err := g.AdjacencyMap()
	if err != nil {
		return nil, err
	}
	out := make([]protocol.NodeID, 0, len(adj[id]))
	for nb := range adj[id] {
		out = append(out, nb)
	}
	slices.Sort(out)
	return out, nil
}

// WriteDOT renders g in Graphviz DOT.
func WriteDOT(w io.Writer, g NodeGraph) error {
	return draw.DOT(g, w)
}
