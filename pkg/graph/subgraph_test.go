package graph

import "testing"

// chainGraph builds a directed chain n0 -> n1 -> ... -> n(length-1) plus a
// back edge from the last node to the first, so the graph is cyclic.
func chainGraph(length int) *SimpleGraph {
	sg := NewSimpleGraph()
	pkey := func(i int) string {
		return "node--" + string(rune('a'+i))
	}
	for i := range length {
		sg.Nodes[NodeKey{PKey: pkey(i), Label: pkey(i), EntityType: "Tool"}] = 1
	}
	for i := range length - 1 {
		sg.Edges[EdgeKey{PKey: pkey(i), SKey: pkey(i + 1), Label: "USE"}] = 1
	}
	sg.Edges[EdgeKey{PKey: pkey(length - 1), SKey: pkey(0), Label: "USE"}] = 1
	return sg
}

func TestExtractReachableClosure(t *testing.T) {
	sg := chainGraph(5)

	sub := ExtractReachable(sg, RootByPKey("node--a"), 10)

	pkeys := make(map[string]bool)
	for node := range sub.Nodes {
		pkeys[node.PKey] = true
	}
	for edge := range sub.Edges {
		if !pkeys[edge.PKey] || !pkeys[edge.SKey] {
			t.Errorf("edge %+v has an endpoint outside the node set", edge)
		}
	}

	// The whole cycle is reachable within 10 hops.
	if len(sub.Nodes) != 5 {
		t.Errorf("nodes = %d, want all 5 reachable", len(sub.Nodes))
	}
	if len(sub.Edges) != 5 {
		t.Errorf("edges = %d, want the full induced cycle", len(sub.Edges))
	}
}

func TestExtractReachableOutgoingOnly(t *testing.T) {
	sg := NewSimpleGraph()
	sg.Nodes[NodeKey{PKey: "a", Label: "a", EntityType: "Tool"}] = 1
	sg.Nodes[NodeKey{PKey: "b", Label: "b", EntityType: "Tool"}] = 1
	sg.Nodes[NodeKey{PKey: "c", Label: "c", EntityType: "Tool"}] = 1
	sg.Edges[EdgeKey{PKey: "a", SKey: "b", Label: "USE"}] = 1
	sg.Edges[EdgeKey{PKey: "c", SKey: "a", Label: "USE"}] = 1

	sub := ExtractReachable(sg, RootByPKey("a"), 10)

	if len(sub.Nodes) != 2 {
		t.Fatalf("nodes = %d, want 2: traversal must not follow edges in reverse", len(sub.Nodes))
	}
	for node := range sub.Nodes {
		if node.PKey == "c" {
			t.Error("node c visited via incoming edge")
		}
	}
}

func TestExtractReachableHopCap(t *testing.T) {
	sg := chainGraph(8)

	sub := ExtractReachable(sg, RootByPKey("node--a"), 3)

	// Root plus three hops.
	if len(sub.Nodes) != 4 {
		t.Errorf("nodes = %d, want 4 within 3 hops", len(sub.Nodes))
	}
}

func TestExtractReachableMonotonicInMaxHops(t *testing.T) {
	sg := chainGraph(8)

	var prev map[string]bool
	for hops := 1; hops <= 8; hops++ {
		sub := ExtractReachable(sg, RootByPKey("node--a"), hops)
		current := make(map[string]bool)
		for node := range sub.Nodes {
			current[node.PKey] = true
		}
		for pkey := range prev {
			if !current[pkey] {
				t.Errorf("maxHops=%d lost node %q visited at a lower cap", hops, pkey)
			}
		}
		prev = current
	}
}

func TestExtractReachableDefaultMaxHops(t *testing.T) {
	// A chain longer than the default cap: hops 0 means "use the default",
	// which visits the root plus DefaultMaxHops more nodes.
	sg := chainGraph(15)

	sub := ExtractReachable(sg, RootByPKey("node--a"), 0)
	if len(sub.Nodes) != DefaultMaxHops+1 {
		t.Errorf("nodes = %d, want %d with default hop cap", len(sub.Nodes), DefaultMaxHops+1)
	}
}

func TestExtractReachableMultipleRoots(t *testing.T) {
	sg := NewSimpleGraph()
	for _, pkey := range []string{"tool--ssh", "tool--sshkeygen", "malware--emotet"} {
		sg.Nodes[NodeKey{PKey: pkey, Label: pkey, EntityType: "Tool"}] = 1
	}
	sg.Edges[EdgeKey{PKey: "tool--ssh", SKey: "malware--emotet", Label: "DROP"}] = 1

	sub := ExtractReachable(sg, RootContains("ssh"), 10)

	if len(sub.Nodes) != 3 {
		t.Errorf("nodes = %d, want both ssh roots plus the reachable target", len(sub.Nodes))
	}
}

func TestExtractReachableNoRoots(t *testing.T) {
	sg := chainGraph(3)

	sub := ExtractReachable(sg, RootByPKey("does-not-exist"), 10)
	if len(sub.Nodes) != 0 || len(sub.Edges) != 0 {
		t.Errorf("got %d nodes, %d edges, want empty subgraph", len(sub.Nodes), len(sub.Edges))
	}
}
