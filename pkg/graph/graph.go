// Package graph builds and publishes immutable snapshots of the asset
// exchange graph: a directed multigraph of (chain, asset) nodes whose
// edges are venue traversals.
package graph

import (
	"sort"
	"time"

	"github.com/substratelabs/asset-exchange/pkg/types"
)

// nodeSet is a set of asset nodes.
type nodeSet map[types.AssetNode]struct{}

// ReachabilityIndex is the precomputed transitive closure of the graph:
// for every node, which nodes it can reach and which can reach it.
type ReachabilityIndex struct {
	out map[types.AssetNode]nodeSet
	in  map[types.AssetNode]nodeSet
}

// AssetsOut returns every node reachable from the given node via one or
// more edges, sorted for determinism.
func (r *ReachabilityIndex) AssetsOut(node types.AssetNode) []types.AssetNode {
	return sortedNodes(r.out[node])
}

// AssetsIn returns every node from which the given node is reachable.
func (r *ReachabilityIndex) AssetsIn(node types.AssetNode) []types.AssetNode {
	return sortedNodes(r.in[node])
}

// Reaches reports whether dest is reachable from origin.
func (r *ReachabilityIndex) Reaches(origin, dest types.AssetNode) bool {
	_, ok := r.out[origin][dest]
	return ok
}

// AllAssetsOut returns every node with at least one reachable
// destination. Used to populate "pay with" asset pickers.
func (r *ReachabilityIndex) AllAssetsOut() []types.AssetNode {
	nodes := make(nodeSet, len(r.out))
	for node, reachable := range r.out {
		if len(reachable) > 0 {
			nodes[node] = struct{}{}
		}
	}
	return sortedNodes(nodes)
}

// AllAssetsIn returns every node reachable from at least one other
// node. Used to populate "receive" asset pickers.
func (r *ReachabilityIndex) AllAssetsIn() []types.AssetNode {
	nodes := make(nodeSet, len(r.in))
	for node, sources := range r.in {
		if len(sources) > 0 {
			nodes[node] = struct{}{}
		}
	}
	return sortedNodes(nodes)
}

func sortedNodes(set nodeSet) []types.AssetNode {
	nodes := make([]types.AssetNode, 0, len(set))
	for node := range set {
		nodes = append(nodes, node)
	}
	sort.Slice(nodes, func(i, j int) bool {
		return nodes[i].String() < nodes[j].String()
	})
	return nodes
}

// Snapshot is an immutable published graph. Consumers always see a
// coherent adjacency multimap and reachability index pair; superseded
// snapshots are simply dropped.
type Snapshot struct {
	version   uint64
	builtAt   time.Time
	adjacency map[types.AssetNode][]types.ExchangeEdge
	reverse   map[types.AssetNode][]types.ExchangeEdge
	reach     *ReachabilityIndex
	edgeCount int
}

// NewSnapshot builds a snapshot from the given edge set, computing the
// reachability closure with a BFS per node.
func NewSnapshot(version uint64, edges []types.ExchangeEdge) *Snapshot {
	s := &Snapshot{
		version:   version,
		builtAt:   time.Now(),
		adjacency: make(map[types.AssetNode][]types.ExchangeEdge),
		reverse:   make(map[types.AssetNode][]types.ExchangeEdge),
		edgeCount: len(edges),
	}

	for _, edge := range edges {
		s.adjacency[edge.Origin] = append(s.adjacency[edge.Origin], edge)
		s.reverse[edge.Destination] = append(s.reverse[edge.Destination], edge)
		// Ensure isolated endpoints still appear as vertices.
		if _, ok := s.adjacency[edge.Destination]; !ok {
			s.adjacency[edge.Destination] = nil
		}
		if _, ok := s.reverse[edge.Origin]; !ok {
			s.reverse[edge.Origin] = nil
		}
	}

	s.reach = s.computeReachability()
	return s
}

// Version is the snapshot's publish sequence number; snapshots are
// totally ordered by it.
func (s *Snapshot) Version() uint64 { return s.version }

// BuiltAt returns when the snapshot was constructed.
func (s *Snapshot) BuiltAt() time.Time { return s.builtAt }

// EdgeCount returns the number of edges in the snapshot.
func (s *Snapshot) EdgeCount() int { return s.edgeCount }

// NodeCount returns the number of vertices in the snapshot.
func (s *Snapshot) NodeCount() int { return len(s.adjacency) }

// EdgesFrom returns the outgoing edges of a node.
func (s *Snapshot) EdgesFrom(node types.AssetNode) []types.ExchangeEdge {
	return s.adjacency[node]
}

// Reachability returns the snapshot's reachability index.
func (s *Snapshot) Reachability() *ReachabilityIndex { return s.reach }

func (s *Snapshot) computeReachability() *ReachabilityIndex {
	index := &ReachabilityIndex{
		out: make(map[types.AssetNode]nodeSet, len(s.adjacency)),
		in:  make(map[types.AssetNode]nodeSet, len(s.adjacency)),
	}

	for node := range s.adjacency {
		index.out[node] = make(nodeSet)
		index.in[node] = make(nodeSet)
	}

	// Forward BFS from every node; the reverse index is its mirror.
	for start := range s.adjacency {
		queue := []types.AssetNode{start}
		visited := nodeSet{start: {}}

		for len(queue) > 0 {
			current := queue[0]
			queue = queue[1:]

			for _, edge := range s.adjacency[current] {
				next := edge.Destination
				if _, seen := visited[next]; seen {
					continue
				}
				visited[next] = struct{}{}
				index.out[start][next] = struct{}{}
				index.in[next][start] = struct{}{}
				queue = append(queue, next)
			}
		}
	}

	return index
}
