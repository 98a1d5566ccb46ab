package graph

import (
	"context"
	"testing"

	"github.com/osintlab/threatgraph/pkg/common"
	"github.com/osintlab/threatgraph/pkg/search"
)

func TestConsolidateEndToEnd(t *testing.T) {
	results := []common.ExtractionResult{
		{
			Entities: []common.Entity{
				{ID: "tool--ssh", Name: "SSH", Type: "Tool", Chunks: []common.ChunkRef{{ChunkID: "c1"}}},
				{ID: "threatorganization--apt28", Name: "APT28", Type: "ThreatOrganization"},
			},
			Relationships: []common.Relationship{
				{Type: "USE", Source: "threatorganization--apt28", Target: "tool--ssh", Confidence: 0.9},
			},
		},
		{
			Entities: []common.Entity{
				{ID: "tool--secure-shell", Name: "Secure Shell", Type: "Tool", Chunks: []common.ChunkRef{{ChunkID: "c2"}}},
				{
					ID: "procedure--spearphishing", Name: "Spearphishing", Type: "Procedure",
					Description: "Adversaries send spearphishing emails with malicious attachments.",
				},
			},
			Relationships: []common.Relationship{
				// Same logical edge through the other chunk's raw id.
				{Type: "USE", Source: "THREATORGANIZATION--APT28", Target: "tool--secure-shell"},
				// Dangling target, must be dropped and counted.
				{Type: "USE", Source: "tool--ssh", Target: "tool--unknown-999"},
			},
		},
	}

	clusterer := &stubClusterer{groups: [][]int{{0, 1}}}
	searcher := &stubSearcher{records: []search.TTPRecord{
		{Score: 0.9, Tactic: "Initial Access", Technique: "Phishing"},
	}}
	enhancer := newTestEnhancer(t, searcher)

	res, err := testClient(t).Consolidate(context.Background(), results, clusterer, enhancer)
	if err != nil {
		t.Fatalf("Consolidate: %v", err)
	}

	if res.Stats.RawEntities != 4 || res.Stats.RawRelationships != 3 {
		t.Errorf("raw stats = %+v, want 4 entities, 3 relationships", res.Stats)
	}
	// SSH and Secure Shell merge; APT28 and the procedure pass through.
	if res.Stats.CanonicalEntities != 3 {
		t.Fatalf("canonical entities = %d, want 3", res.Stats.CanonicalEntities)
	}
	if res.Stats.SkippedRelationships != 1 {
		t.Errorf("skipped = %d, want the dangling edge counted", res.Stats.SkippedRelationships)
	}
	if res.Stats.ResolvedRelationships != 2 {
		t.Errorf("resolved = %d, want 2", res.Stats.ResolvedRelationships)
	}

	// Referential integrity over the resolved output.
	ids := make(map[string]bool)
	for _, e := range res.Entities {
		ids[e.ID] = true
	}
	for _, rel := range res.Relationships {
		if !ids[rel.Source] || !ids[rel.Target] {
			t.Errorf("relationship %+v references an id outside the entity set", rel)
		}
	}

	// The default confidence fills in the missing value of the second edge.
	for _, rel := range res.Relationships {
		if rel.Confidence <= 0 || rel.Confidence > 1 {
			t.Errorf("relationship confidence %v out of range", rel.Confidence)
		}
	}

	// Both USE edges collapse onto one simple-graph edge.
	useKey := EdgeKey{PKey: "threatorganization--apt28", SKey: "tool--secureshell", Label: "USE"}
	if res.Simple.Edges[useKey] != 2 {
		t.Errorf("edge count = %d, want both chunk instances aggregated", res.Simple.Edges[useKey])
	}

	if res.Enhanced == nil || res.Stats.Enhance == nil {
		t.Fatal("enhanced graph missing")
	}
	if res.Stats.Enhance.Enhanced != 1 {
		t.Errorf("enhanced = %d, want the procedure node", res.Stats.Enhance.Enhanced)
	}
	if len(res.Enhanced.Nodes) != len(res.Simple.Nodes)+2 {
		t.Errorf("enhanced nodes = %d, want tactic and technique added to %d",
			len(res.Enhanced.Nodes), len(res.Simple.Nodes))
	}
}

func TestConsolidateWithoutEnhancer(t *testing.T) {
	results := []common.ExtractionResult{
		{
			Entities: []common.Entity{
				{ID: "tool--ssh", Name: "SSH", Type: "Tool"},
			},
		},
	}

	res, err := testClient(t).Consolidate(context.Background(), results, nil, nil)
	if err != nil {
		t.Fatalf("Consolidate: %v", err)
	}
	if res.Enhanced != nil || res.Stats.Enhance != nil {
		t.Error("enhancement output present without an enhancer")
	}
	if len(res.Full.Entities) != 1 || len(res.Simple.Nodes) != 1 {
		t.Errorf("graphs = %d full entities, %d simple nodes, want 1 and 1",
			len(res.Full.Entities), len(res.Simple.Nodes))
	}
}

func TestConsolidateEmptyInput(t *testing.T) {
	res, err := testClient(t).Consolidate(context.Background(), nil, nil, nil)
	if err != nil {
		t.Fatalf("Consolidate: %v", err)
	}
	if len(res.Entities) != 0 || len(res.Simple.Nodes) != 0 {
		t.Errorf("got %d entities, %d nodes, want empty result", len(res.Entities), len(res.Simple.Nodes))
	}
}
