package graph

import (
	"encoding/json"
	"testing"

	"github.com/osintlab/threatgraph/pkg/common"
)

func testCanonicalEntities() []common.CanonicalEntity {
	return []common.CanonicalEntity{
		{ID: "threatorganization--apt28", Name: "APT28", Type: "ThreatOrganization", MergeCount: 2},
		{ID: "tool--secureshell", Name: "Secure Shell", Type: "Tool", MergeCount: 3},
		{ID: "malware--emotet", Name: "Emotet", Type: "Malware"},
	}
}

func testResolvedRelationships() []common.Relationship {
	return []common.Relationship{
		{Type: "USE", Source: "threatorganization--apt28", Target: "tool--secureshell", Confidence: 0.9},
		{Type: "USE", Source: "threatorganization--apt28", Target: "tool--secureshell", Confidence: 0.8},
		{Type: "DEPLOY", Source: "threatorganization--apt28", Target: "malware--emotet", Confidence: 0.7},
	}
}

func TestBuildSimpleCounts(t *testing.T) {
	sg := BuildSimple(testCanonicalEntities(), testResolvedRelationships())

	if len(sg.Nodes) != 3 {
		t.Fatalf("nodes = %d, want 3", len(sg.Nodes))
	}

	sshKey := NodeKey{PKey: "tool--secureshell", Label: "Secure Shell", EntityType: "Tool"}
	if sg.Nodes[sshKey] != 3 {
		t.Errorf("node count = %d, want merge count 3", sg.Nodes[sshKey])
	}
	emotetKey := NodeKey{PKey: "malware--emotet", Label: "Emotet", EntityType: "Malware"}
	if sg.Nodes[emotetKey] != 1 {
		t.Errorf("node count = %d, want default 1 for zero merge count", sg.Nodes[emotetKey])
	}

	// Duplicate USE relationships collapse onto one edge key and accumulate.
	useKey := EdgeKey{PKey: "threatorganization--apt28", SKey: "tool--secureshell", Label: "USE"}
	if sg.Edges[useKey] != 2 {
		t.Errorf("edge count = %d, want 2 aggregated instances", sg.Edges[useKey])
	}
	if len(sg.Edges) != 2 {
		t.Errorf("edges = %d, want 2 distinct keys", len(sg.Edges))
	}
}

func TestBuildSimpleReferentialIntegrity(t *testing.T) {
	sg := BuildSimple(testCanonicalEntities(), testResolvedRelationships())

	pkeys := make(map[string]bool)
	for node := range sg.Nodes {
		pkeys[node.PKey] = true
	}
	for edge := range sg.Edges {
		if !pkeys[edge.PKey] || !pkeys[edge.SKey] {
			t.Errorf("edge %+v references a pkey outside the node set", edge)
		}
	}
}

func TestBuildFullIsPure(t *testing.T) {
	entities := testCanonicalEntities()
	rels := testResolvedRelationships()

	full := BuildFull(entities, rels)
	full.Entities[0].Name = "mutated"
	full.Relationships[0].Type = "mutated"

	if entities[0].Name == "mutated" || rels[0].Type == "mutated" {
		t.Error("BuildFull shares backing arrays with its inputs")
	}
}

func TestNodeKeyEncodeDeterministic(t *testing.T) {
	key := NodeKey{PKey: "tool--secureshell", Label: "Secure Shell", EntityType: "Tool"}

	encoded := key.Encode()
	want := `{"entity_type":"Tool","label":"Secure Shell","pkey":"tool--secureshell"}`
	if encoded != want {
		t.Errorf("Encode() = %s, want sorted-key JSON %s", encoded, want)
	}

	decoded, err := DecodeNodeKey(encoded)
	if err != nil {
		t.Fatalf("DecodeNodeKey: %v", err)
	}
	if decoded != key {
		t.Errorf("round trip = %+v, want %+v", decoded, key)
	}
}

func TestEdgeKeyEncodeOmitsZeroFields(t *testing.T) {
	plain := EdgeKey{PKey: "a", SKey: "b", Label: "USE"}
	if got := plain.Encode(); got != `{"label":"USE","pkey":"a","skey":"b"}` {
		t.Errorf("Encode() = %s, want confidence and source omitted", got)
	}

	enhanced := EdgeKey{PKey: "a", SKey: "b", Label: "HAS", Confidence: 0.9, Source: EnhancementSource}
	decoded, err := DecodeEdgeKey(enhanced.Encode())
	if err != nil {
		t.Fatalf("DecodeEdgeKey: %v", err)
	}
	if decoded != enhanced {
		t.Errorf("round trip = %+v, want %+v", decoded, enhanced)
	}
}

func TestSimpleGraphUnmarshalUnknownKeys(t *testing.T) {
	data := []byte(`{
		"nodes": {
			"{\"entity_type\":\"Tool\",\"label\":\"SSH\",\"pkey\":\"tool--ssh\"}": 2,
			"not json at all": 1,
			"{\"label\":\"no pkey\"}": 1
		},
		"edges": {
			"{\"label\":\"USE\",\"pkey\":\"a\",\"skey\":\"b\"}": 1,
			"broken": 4
		}
	}`)

	var sg SimpleGraph
	if err := json.Unmarshal(data, &sg); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	if len(sg.Nodes) != 1 || sg.UnknownNodes != 2 {
		t.Errorf("nodes = %d, unknown = %d, want 1 and 2", len(sg.Nodes), sg.UnknownNodes)
	}
	if len(sg.Edges) != 1 || sg.UnknownEdges != 1 {
		t.Errorf("edges = %d, unknown = %d, want 1 and 1", len(sg.Edges), sg.UnknownEdges)
	}

	stats := sg.Stats()
	if stats.NodesByType["Unknown"] != 2 {
		t.Errorf("unknown bucket = %d, want 2", stats.NodesByType["Unknown"])
	}
	if stats.NodesByType["Tool"] != 1 {
		t.Errorf("tool bucket = %d, want 1", stats.NodesByType["Tool"])
	}
}

func TestSimpleGraphJSONRoundTrip(t *testing.T) {
	sg := BuildSimple(testCanonicalEntities(), testResolvedRelationships())

	data, err := json.Marshal(sg)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var restored SimpleGraph
	if err := json.Unmarshal(data, &restored); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if restored.UnknownNodes != 0 || restored.UnknownEdges != 0 {
		t.Errorf("round trip produced unknown keys: %d nodes, %d edges", restored.UnknownNodes, restored.UnknownEdges)
	}
	if len(restored.Nodes) != len(sg.Nodes) || len(restored.Edges) != len(sg.Edges) {
		t.Errorf("round trip sizes = %d/%d, want %d/%d",
			len(restored.Nodes), len(restored.Edges), len(sg.Nodes), len(sg.Edges))
	}
	for k, v := range sg.Nodes {
		if restored.Nodes[k] != v {
			t.Errorf("node %+v count = %d, want %d", k, restored.Nodes[k], v)
		}
	}
}
