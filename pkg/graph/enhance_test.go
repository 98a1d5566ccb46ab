package graph

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/osintlab/threatgraph/pkg/common"
	"github.com/osintlab/threatgraph/pkg/search"
)

type stubSearcher struct {
	mu      sync.Mutex
	records []search.TTPRecord
	err     error
	calls   int
	queries []string
}

func (s *stubSearcher) SearchSimilar(
	_ context.Context,
	query string,
	_ int,
) ([]search.TTPRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.queries = append(s.queries, query)
	if s.err != nil {
		return nil, s.err
	}
	return s.records, nil
}

func procedureGraph() (*SimpleGraph, []common.CanonicalEntity, NodeKey) {
	bridge := NodeKey{
		PKey:       "procedure--spearphishingattachment",
		Label:      "Spearphishing Attachment",
		EntityType: "Procedure",
	}
	sg := NewSimpleGraph()
	sg.Nodes[bridge] = 1
	sg.Nodes[NodeKey{PKey: "tool--ssh", Label: "SSH", EntityType: "Tool"}] = 1

	entities := []common.CanonicalEntity{
		{
			ID:          bridge.PKey,
			Name:        bridge.Label,
			Description: "Adversaries send spearphishing emails with a malicious attachment.",
			Type:        "Procedure",
		},
	}
	return sg, entities, bridge
}

func newTestEnhancer(t *testing.T, searcher search.Searcher) *Enhancer {
	t.Helper()
	e, err := NewEnhancer(NewEnhancerParams{Searcher: searcher})
	if err != nil {
		t.Fatalf("NewEnhancer: %v", err)
	}
	return e
}

func TestEnhanceAddsTacticAndTechnique(t *testing.T) {
	sg, entities, bridge := procedureGraph()
	searcher := &stubSearcher{records: []search.TTPRecord{
		{Score: 0.92, Tactic: "Initial Access", Technique: "Phishing", Procedure: "Spearphishing Attachment"},
	}}

	enhanced, stats, err := newTestEnhancer(t, searcher).Enhance(context.Background(), sg, entities)
	if err != nil {
		t.Fatalf("Enhance: %v", err)
	}

	if stats.BridgeNodes != 1 || stats.QueriesIssued != 1 || stats.Matches != 1 {
		t.Errorf("stats = %+v, want 1 bridge, 1 query, 1 match", stats)
	}
	if stats.NodesAdded != 2 || stats.EdgesAdded != 2 {
		t.Errorf("stats = %+v, want 2 nodes and 2 edges added", stats)
	}
	if stats.Enhanced != 1 {
		t.Errorf("enhanced = %d, want 1", stats.Enhanced)
	}

	// The original bridge node is corroborated, not replaced.
	if enhanced.Nodes[bridge] != 2 {
		t.Errorf("bridge count = %d, want incremented to 2", enhanced.Nodes[bridge])
	}

	tactic := NodeKey{PKey: "tactic--initialaccess", Label: "Initial Access", EntityType: "tactic", Source: EnhancementSource}
	technique := NodeKey{PKey: "technique--phishing", Label: "Phishing", EntityType: "technique", Source: EnhancementSource}
	if enhanced.Nodes[tactic] != 1 {
		t.Errorf("tactic node missing: %+v", enhanced.Nodes)
	}
	if enhanced.Nodes[technique] != 1 {
		t.Errorf("technique node missing: %+v", enhanced.Nodes)
	}

	hasEdge := EdgeKey{PKey: tactic.PKey, SKey: technique.PKey, Label: "HAS", Confidence: 0.92, Source: EnhancementSource}
	launchEdge := EdgeKey{PKey: technique.PKey, SKey: bridge.PKey, Label: "LAUNCH", Confidence: 0.92, Source: EnhancementSource}
	if enhanced.Edges[hasEdge] != 1 {
		t.Error("HAS edge missing or wrong key")
	}
	if enhanced.Edges[launchEdge] != 1 {
		t.Error("LAUNCH edge missing or wrong key")
	}

	// The input graph is untouched.
	if sg.Nodes[bridge] != 1 || len(sg.Nodes) != 2 {
		t.Error("Enhance mutated its input graph")
	}

	// The description is long enough to be preferred over the label.
	if searcher.queries[0] == bridge.Label {
		t.Error("query used the label although a usable description exists")
	}
}

func TestEnhanceEnhancedCountDedupedAcrossCalls(t *testing.T) {
	sg, entities, _ := procedureGraph()
	searcher := &stubSearcher{records: []search.TTPRecord{
		{Score: 0.9, Tactic: "Initial Access", Technique: "Phishing"},
	}}
	e := newTestEnhancer(t, searcher)

	_, first, err := e.Enhance(context.Background(), sg, entities)
	if err != nil {
		t.Fatalf("first Enhance: %v", err)
	}
	_, second, err := e.Enhance(context.Background(), sg, entities)
	if err != nil {
		t.Fatalf("second Enhance: %v", err)
	}

	if first.Enhanced != 1 {
		t.Errorf("first enhanced = %d, want 1", first.Enhanced)
	}
	if second.Enhanced != 0 {
		t.Errorf("second enhanced = %d, want 0: the node was already counted", second.Enhanced)
	}
	if got := first.Enhanced + second.Enhanced; got != 1 {
		t.Errorf("summed enhanced = %d, want 1 distinct bridge node", got)
	}
}

func TestEnhanceMinScoreFilter(t *testing.T) {
	sg, entities, bridge := procedureGraph()
	searcher := &stubSearcher{records: []search.TTPRecord{
		{Score: 0.5, Tactic: "Initial Access", Technique: "Phishing"},
	}}

	enhanced, stats, err := newTestEnhancer(t, searcher).Enhance(context.Background(), sg, entities)
	if err != nil {
		t.Fatalf("Enhance: %v", err)
	}

	if stats.Matches != 0 || stats.Enhanced != 0 || stats.NodesAdded != 0 {
		t.Errorf("stats = %+v, want below-threshold match ignored", stats)
	}
	if enhanced.Nodes[bridge] != 1 {
		t.Errorf("bridge count = %d, want unchanged", enhanced.Nodes[bridge])
	}
}

func TestEnhanceMaxMatchesPerNode(t *testing.T) {
	sg, entities, bridge := procedureGraph()
	searcher := &stubSearcher{records: []search.TTPRecord{
		{Score: 0.95, Tactic: "Initial Access", Technique: "Phishing"},
		{Score: 0.9, Tactic: "Execution", Technique: "User Execution"},
		{Score: 0.85, Tactic: "Persistence", Technique: "Scheduled Task"},
	}}

	enhanced, stats, err := newTestEnhancer(t, searcher).Enhance(context.Background(), sg, entities)
	if err != nil {
		t.Fatalf("Enhance: %v", err)
	}

	if stats.Matches != 3 {
		t.Errorf("matches = %d, want all qualifying counted", stats.Matches)
	}
	// Default cap is 2 matches per node: two tactic/technique pairs.
	if stats.NodesAdded != 4 {
		t.Errorf("nodes added = %d, want 4 (cap of 2 matches applied)", stats.NodesAdded)
	}
	if enhanced.Nodes[bridge] != 3 {
		t.Errorf("bridge count = %d, want 1 + 2 corroborations", enhanced.Nodes[bridge])
	}
}

func TestEnhanceSearchErrorTolerated(t *testing.T) {
	sg, entities, bridge := procedureGraph()
	searcher := &stubSearcher{err: errors.New("index unavailable")}

	enhanced, stats, err := newTestEnhancer(t, searcher).Enhance(context.Background(), sg, entities)
	if err != nil {
		t.Fatalf("Enhance: %v, want degraded success", err)
	}
	if stats.Enhanced != 0 || stats.NodesAdded != 0 {
		t.Errorf("stats = %+v, want nothing enhanced", stats)
	}
	if enhanced.Nodes[bridge] != 1 || len(enhanced.Nodes) != len(sg.Nodes) {
		t.Error("failed search modified the graph")
	}
}

func TestEnhanceSkipsNonBridgeAndShortQueries(t *testing.T) {
	sg := NewSimpleGraph()
	sg.Nodes[NodeKey{PKey: "tool--ssh", Label: "SSH", EntityType: "Tool"}] = 1
	sg.Nodes[NodeKey{PKey: "procedure--x", Label: "x", EntityType: "Procedure"}] = 1
	searcher := &stubSearcher{}

	_, stats, err := newTestEnhancer(t, searcher).Enhance(context.Background(), sg, nil)
	if err != nil {
		t.Fatalf("Enhance: %v", err)
	}

	if stats.BridgeNodes != 1 {
		t.Errorf("bridge nodes = %d, want only the procedure", stats.BridgeNodes)
	}
	// The lone bridge node has a one-character label and no description.
	if stats.QueriesIssued != 0 || searcher.calls != 0 {
		t.Errorf("queries = %d, calls = %d, want short query skipped", stats.QueriesIssued, searcher.calls)
	}
}

func TestEnhanceReusesExistingNodes(t *testing.T) {
	sg, entities, _ := procedureGraph()
	existing := NodeKey{PKey: "tactic--initialaccess", Label: "Initial Access", EntityType: "tactic", Source: EnhancementSource}
	sg.Nodes[existing] = 4

	searcher := &stubSearcher{records: []search.TTPRecord{
		{Score: 0.9, Tactic: "initial access", Technique: "Phishing"},
	}}

	enhanced, stats, err := newTestEnhancer(t, searcher).Enhance(context.Background(), sg, entities)
	if err != nil {
		t.Fatalf("Enhance: %v", err)
	}

	// Dedup key is (entity_type, lowercased label): the existing node is
	// referenced, not re-added.
	if stats.NodesAdded != 1 {
		t.Errorf("nodes added = %d, want only the technique", stats.NodesAdded)
	}
	if enhanced.Nodes[existing] != 4 {
		t.Errorf("existing tactic count = %d, want untouched 4", enhanced.Nodes[existing])
	}

	hasEdge := EdgeKey{PKey: existing.PKey, SKey: "technique--phishing", Label: "HAS", Confidence: 0.9, Source: EnhancementSource}
	if enhanced.Edges[hasEdge] != 1 {
		t.Error("HAS edge must reference the existing tactic node")
	}
}
