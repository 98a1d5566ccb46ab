package graph

import (
	"encoding/json"
	"fmt"

	"github.com/osintlab/threatgraph/pkg/common"
	"github.com/osintlab/threatgraph/pkg/logger"
)

// NodeKey identifies a node in the simple graph. It is a comparable value
// type so it can be used directly as a map key; JSON string encoding only
// happens at the serialization boundary.
type NodeKey struct {
	PKey       string `json:"pkey"`
	Label      string `json:"label"`
	EntityType string `json:"entity_type"`
	Source     string `json:"source,omitempty"`
}

// EdgeKey identifies a directed edge in the simple graph. Confidence and
// Source are only set on enhancement edges; regular edges leave them zero so
// duplicate relationships across chunks collapse onto one key.
type EdgeKey struct {
	PKey       string  `json:"pkey"`
	SKey       string  `json:"skey"`
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence,omitempty"`
	Source     string  `json:"source,omitempty"`
}

// Encode serializes the node key deterministically: JSON with sorted keys.
func (k NodeKey) Encode() string {
	m := map[string]any{
		"pkey":        k.PKey,
		"label":       k.Label,
		"entity_type": k.EntityType,
	}
	if k.Source != "" {
		m["source"] = k.Source
	}
	b, _ := json.Marshal(m)
	return string(b)
}

// Encode serializes the edge key deterministically: JSON with sorted keys.
func (k EdgeKey) Encode() string {
	m := map[string]any{
		"pkey":  k.PKey,
		"skey":  k.SKey,
		"label": k.Label,
	}
	if k.Confidence != 0 {
		m["confidence"] = k.Confidence
	}
	if k.Source != "" {
		m["source"] = k.Source
	}
	b, _ := json.Marshal(m)
	return string(b)
}

// DecodeNodeKey parses an encoded node key.
func DecodeNodeKey(s string) (NodeKey, error) {
	var k NodeKey
	if err := json.Unmarshal([]byte(s), &k); err != nil {
		return NodeKey{}, fmt.Errorf("decode node key: %w", err)
	}
	if k.PKey == "" {
		return NodeKey{}, fmt.Errorf("decode node key: missing pkey")
	}
	return k, nil
}

// DecodeEdgeKey parses an encoded edge key.
func DecodeEdgeKey(s string) (EdgeKey, error) {
	var k EdgeKey
	if err := json.Unmarshal([]byte(s), &k); err != nil {
		return EdgeKey{}, fmt.Errorf("decode edge key: %w", err)
	}
	if k.PKey == "" || k.SKey == "" {
		return EdgeKey{}, fmt.Errorf("decode edge key: missing pkey or skey")
	}
	return k, nil
}

// SimpleGraph is the compact keyed-count graph representation used for
// statistics, traversal and enhancement. Node counts carry merge counts,
// edge counts carry the number of raw relationship instances aggregated
// onto the edge.
//
// UnknownNodes and UnknownEdges count keys that failed to decode during
// deserialization. They are excluded from the maps (and so from traversal)
// but still surface in Stats under the Unknown bucket.
type SimpleGraph struct {
	Nodes map[NodeKey]int
	Edges map[EdgeKey]int

	UnknownNodes int
	UnknownEdges int
}

// NewSimpleGraph creates an empty SimpleGraph.
func NewSimpleGraph() *SimpleGraph {
	return &SimpleGraph{
		Nodes: make(map[NodeKey]int),
		Edges: make(map[EdgeKey]int),
	}
}

// Clone returns a deep copy of the graph.
func (sg *SimpleGraph) Clone() *SimpleGraph {
	out := &SimpleGraph{
		Nodes:        make(map[NodeKey]int, len(sg.Nodes)),
		Edges:        make(map[EdgeKey]int, len(sg.Edges)),
		UnknownNodes: sg.UnknownNodes,
		UnknownEdges: sg.UnknownEdges,
	}
	for k, v := range sg.Nodes {
		out.Nodes[k] = v
	}
	for k, v := range sg.Edges {
		out.Edges[k] = v
	}
	return out
}

type simpleGraphJSON struct {
	Nodes map[string]int `json:"nodes"`
	Edges map[string]int `json:"edges"`
}

// MarshalJSON encodes the graph with string-serialized keys. Go sorts map
// keys when marshaling, so the output is deterministic.
func (sg *SimpleGraph) MarshalJSON() ([]byte, error) {
	out := simpleGraphJSON{
		Nodes: make(map[string]int, len(sg.Nodes)),
		Edges: make(map[string]int, len(sg.Edges)),
	}
	for k, v := range sg.Nodes {
		out.Nodes[k.Encode()] = v
	}
	for k, v := range sg.Edges {
		out.Edges[k.Encode()] = v
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes a serialized graph. Keys that fail to decode are
// counted as unknown and excluded, never fatal.
func (sg *SimpleGraph) UnmarshalJSON(data []byte) error {
	var in simpleGraphJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}

	sg.Nodes = make(map[NodeKey]int, len(in.Nodes))
	sg.Edges = make(map[EdgeKey]int, len(in.Edges))
	sg.UnknownNodes = 0
	sg.UnknownEdges = 0

	for raw, count := range in.Nodes {
		key, err := DecodeNodeKey(raw)
		if err != nil {
			sg.UnknownNodes++
			logger.Debug("[Graph] Unknown node key", "key", raw, "error", err)
			continue
		}
		sg.Nodes[key] += count
	}
	for raw, count := range in.Edges {
		key, err := DecodeEdgeKey(raw)
		if err != nil {
			sg.UnknownEdges++
			logger.Debug("[Graph] Unknown edge key", "key", raw, "error", err)
			continue
		}
		sg.Edges[key] += count
	}
	return nil
}

// GraphStats summarizes a SimpleGraph for operators. Keys that failed to
// decode are bucketed under "Unknown" so data-quality issues stay visible
// without failing the run.
type GraphStats struct {
	NodeCount    int            `json:"node_count"`
	EdgeCount    int            `json:"edge_count"`
	NodesByType  map[string]int `json:"nodes_by_type"`
	EdgesByLabel map[string]int `json:"edges_by_label"`
}

// Stats computes summary statistics over the graph.
func (sg *SimpleGraph) Stats() GraphStats {
	stats := GraphStats{
		NodeCount:    len(sg.Nodes),
		EdgeCount:    len(sg.Edges),
		NodesByType:  make(map[string]int),
		EdgesByLabel: make(map[string]int),
	}
	for k := range sg.Nodes {
		stats.NodesByType[k.EntityType]++
	}
	for k := range sg.Edges {
		stats.EdgesByLabel[k.Label]++
	}
	if sg.UnknownNodes > 0 {
		stats.NodesByType["Unknown"] = sg.UnknownNodes
	}
	if sg.UnknownEdges > 0 {
		stats.EdgesByLabel["Unknown"] = sg.UnknownEdges
	}
	return stats
}

// FullGraph is the attribute- and provenance-rich graph representation used
// for audit and debugging, not for traversal.
type FullGraph struct {
	Entities      []common.CanonicalEntity `json:"entities"`
	Relationships []common.Relationship    `json:"relationships"`
}

// BuildFull assembles the full graph view. Pure function of its inputs.
func BuildFull(
	entities []common.CanonicalEntity,
	relationships []common.Relationship,
) *FullGraph {
	full := &FullGraph{
		Entities:      make([]common.CanonicalEntity, len(entities)),
		Relationships: make([]common.Relationship, len(relationships)),
	}
	copy(full.Entities, entities)
	copy(full.Relationships, relationships)
	return full
}

// BuildSimple assembles the compact graph view. Node counts carry the
// entity's merge count; relationship instances that collapse onto the same
// edge key accumulate. Pure function of its inputs.
func BuildSimple(
	entities []common.CanonicalEntity,
	relationships []common.Relationship,
) *SimpleGraph {
	sg := NewSimpleGraph()

	for _, e := range entities {
		count := e.MergeCount
		if count <= 0 {
			count = 1
		}
		key := NodeKey{
			PKey:       e.ID,
			Label:      e.Name,
			EntityType: e.Type,
		}
		sg.Nodes[key] += count
	}

	for _, rel := range relationships {
		key := EdgeKey{
			PKey:  rel.Source,
			SKey:  rel.Target,
			Label: rel.Type,
		}
		sg.Edges[key]++
	}

	return sg
}
