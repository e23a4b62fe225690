package graph

import (
	"github.com/substratelabs/asset-exchange/pkg/types"
)

// DefaultMaxHops bounds path enumeration depth. Routes longer than this
// are too expensive to execute to be worth quoting.
const DefaultMaxHops = 4

// Path is an ordered edge sequence from one node to another.
type Path []types.ExchangeEdge

// Paths enumerates simple paths (no repeated node) from origin to dest
// up to maxHops edges, using a reachability-pruned DFS. Ranking and
// truncation to the top candidates is the planner's job; enumeration
// here is exhaustive within the hop bound.
func (s *Snapshot) Paths(origin, dest types.AssetNode, maxHops int) []Path {
	if maxHops <= 0 {
		maxHops = DefaultMaxHops
	}
	if origin == dest {
		return nil
	}
	// Cheap rejection before any traversal.
	if !s.reach.Reaches(origin, dest) {
		return nil
	}

	var found []Path
	visited := nodeSet{origin: {}}
	var current Path

	var dfs func(node types.AssetNode)
	dfs = func(node types.AssetNode) {
		for _, edge := range s.adjacency[node] {
			next := edge.Destination

			if next == dest {
				path := make(Path, len(current)+1)
				copy(path, current)
				path[len(current)] = edge
				found = append(found, path)
				continue
			}

			if _, seen := visited[next]; seen {
				continue
			}
			if len(current)+1 >= maxHops {
				continue
			}
			// Prune branches that cannot reach the destination.
			if !s.reach.Reaches(next, dest) {
				continue
			}

			visited[next] = struct{}{}
			current = append(current, edge)
			dfs(next)
			current = current[:len(current)-1]
			delete(visited, next)
		}
	}

	dfs(origin)
	return found
}
