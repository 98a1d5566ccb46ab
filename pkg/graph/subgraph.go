package graph

import (
	"strings"

	"github.com/osintlab/threatgraph/pkg/logger"
)

// DefaultMaxHops caps breadth-first traversal depth so extraction
// terminates even on cyclic graphs.
const DefaultMaxHops = 10

// RootByPKey matches exactly one node by canonical id.
func RootByPKey(pkey string) func(string) bool {
	return func(candidate string) bool {
		return candidate == pkey
	}
}

// RootContains matches every node whose canonical id contains the given
// substring, case-insensitive. Canonical ids embed the normalized entity
// name, so this doubles as a crude name search.
func RootContains(substr string) func(string) bool {
	needle := strings.ToLower(substr)
	return func(candidate string) bool {
		return strings.Contains(strings.ToLower(candidate), needle)
	}
}

// ExtractReachable performs a bounded breadth-first traversal over the
// simple graph, starting from every node whose pkey satisfies the root
// predicate. The traversal is directed: only outgoing edges are followed.
//
// Reaching the hop cap is not an error; the traversal logs the truncation
// and returns what it has visited so far. The result is the induced
// subgraph over the visited nodes: every edge whose both endpoints were
// visited is included, whether or not the traversal walked it.
func ExtractReachable(
	sg *SimpleGraph,
	rootPredicate func(pkey string) bool,
	maxHops int,
) *SimpleGraph {
	if maxHops <= 0 {
		maxHops = DefaultMaxHops
	}

	// Outgoing adjacency over pkeys.
	adjacency := make(map[string][]string)
	for edge := range sg.Edges {
		adjacency[edge.PKey] = append(adjacency[edge.PKey], edge.SKey)
	}

	nodesByPKey := make(map[string][]NodeKey)
	for node := range sg.Nodes {
		nodesByPKey[node.PKey] = append(nodesByPKey[node.PKey], node)
	}

	visited := make(map[string]bool)
	frontier := make([]string, 0)
	for node := range sg.Nodes {
		if rootPredicate(node.PKey) && !visited[node.PKey] {
			visited[node.PKey] = true
			frontier = append(frontier, node.PKey)
		}
	}

	roots := len(frontier)
	hops := 0
	for len(frontier) > 0 && hops < maxHops {
		next := make([]string, 0)
		for _, pkey := range frontier {
			for _, target := range adjacency[pkey] {
				if visited[target] {
					continue
				}
				// Edges may point at pkeys without a node entry; those
				// targets are not part of the graph and are not visited.
				if _, ok := nodesByPKey[target]; !ok {
					continue
				}
				visited[target] = true
				next = append(next, target)
			}
		}
		frontier = next
		hops++
	}

	if len(frontier) > 0 {
		logger.Warn("[Subgraph] Traversal truncated at hop cap",
			"maxHops", maxHops, "pending", len(frontier), "visited", len(visited))
	}

	out := NewSimpleGraph()
	for node, count := range sg.Nodes {
		if visited[node.PKey] {
			out.Nodes[node] = count
		}
	}
	for edge, count := range sg.Edges {
		if visited[edge.PKey] && visited[edge.SKey] {
			out.Edges[edge] = count
		}
	}

	logger.Debug("[Subgraph] Extraction finished",
		"roots", roots, "nodes", len(out.Nodes), "edges", len(out.Edges), "hops", hops)
	return out
}
