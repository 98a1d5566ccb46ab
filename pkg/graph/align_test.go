package graph

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/osintlab/threatgraph/pkg/common"
)

type stubClusterer struct {
	groups [][]int
	err    error
	calls  int
}

func (s *stubClusterer) ClusterEntities(
	_ context.Context,
	_ string,
	_ []common.Entity,
) ([][]int, error) {
	s.calls++
	return s.groups, s.err
}

func testClient(t *testing.T) *GraphClient {
	t.Helper()
	g, err := NewGraphClient(NewGraphClientParams{})
	if err != nil {
		t.Fatalf("NewGraphClient: %v", err)
	}
	return g
}

func toolEntity(id, name, description string) common.Entity {
	return common.Entity{
		ID:          id,
		Name:        name,
		Description: description,
		Type:        "Tool",
		Chunks:      []common.ChunkRef{{ChunkID: "chunk-" + id}},
	}
}

func TestAlignEntitiesClusteredMerge(t *testing.T) {
	entities := []common.Entity{
		toolEntity("tool--ssh-1", "SSH", "remote access tool"),
		toolEntity("tool--secure-shell", "Secure Shell", "encrypted remote shell protocol"),
		toolEntity("tool--ssh-2", "ssh", ""),
	}
	clusterer := &stubClusterer{groups: [][]int{{0, 1, 2}}}

	res, err := testClient(t).AlignEntities(context.Background(), entities, clusterer)
	if err != nil {
		t.Fatalf("AlignEntities: %v", err)
	}

	if len(res.Entities) != 1 {
		t.Fatalf("got %d canonical entities, want 1", len(res.Entities))
	}
	merged := res.Entities[0]
	if merged.Name != "Secure Shell" {
		t.Errorf("merged name = %q, want longest name %q", merged.Name, "Secure Shell")
	}
	if merged.ID != "tool--secureshell" {
		t.Errorf("merged id = %q, want %q", merged.ID, "tool--secureshell")
	}
	if merged.MergeCount != 3 {
		t.Errorf("merge count = %d, want 3", merged.MergeCount)
	}
	if len(merged.OriginalNames) != 3 {
		t.Errorf("original names = %v, want 3 distinct names", merged.OriginalNames)
	}
	if len(merged.Chunks) != 3 {
		t.Errorf("chunks = %d, want union of 3", len(merged.Chunks))
	}

	for _, raw := range []string{"tool--ssh-1", "tool--secure-shell", "tool--ssh-2"} {
		got, ok := res.IDMap.Resolve(raw)
		if !ok || got != merged.ID {
			t.Errorf("Resolve(%q) = %q, %v, want %q", raw, got, ok, merged.ID)
		}
	}
	if res.NameMap["ssh"] != "Secure Shell" {
		t.Errorf("NameMap[ssh] = %q, want %q", res.NameMap["ssh"], "Secure Shell")
	}
}

func TestAlignEntitiesFallbackOnClusterError(t *testing.T) {
	entities := []common.Entity{
		toolEntity("tool--ssh-1", "SSH", ""),
		toolEntity("tool--secure-shell", "Secure Shell", ""),
		toolEntity("tool--ssh-2", "ssh", ""),
	}
	clusterer := &stubClusterer{err: errors.New("model unavailable")}

	g := testClient(t)
	res, err := g.AlignEntities(context.Background(), entities, clusterer)
	if err != nil {
		t.Fatalf("AlignEntities: %v", err)
	}
	if clusterer.calls == 0 {
		t.Fatal("clusterer was never tried")
	}
	if len(res.Entities) == 0 {
		t.Fatal("fallback produced empty output")
	}

	// Rule-based grouping merges SSH and ssh by case-insensitive equality;
	// Secure Shell stays separate.
	if len(res.Entities) != 2 {
		t.Fatalf("got %d canonical entities, want 2 from rule-based fallback", len(res.Entities))
	}
	counts := map[string]int{}
	for _, e := range res.Entities {
		counts[e.Name] = e.MergeCount
	}
	if counts["SSH"] != 2 {
		t.Errorf("SSH merge count = %d, want 2", counts["SSH"])
	}
	if counts["Secure Shell"] != 1 {
		t.Errorf("Secure Shell merge count = %d, want 1", counts["Secure Shell"])
	}

	// Fallback output must equal rule-based alignment of the same input.
	want, err := g.AlignEntities(context.Background(), entities, nil)
	if err != nil {
		t.Fatalf("rule-based AlignEntities: %v", err)
	}
	if !reflect.DeepEqual(res.Entities, want.Entities) {
		t.Errorf("fallback entities differ from rule-based alignment:\n got %+v\nwant %+v", res.Entities, want.Entities)
	}
}

func TestAlignEntitiesPartitionProperty(t *testing.T) {
	entities := []common.Entity{
		toolEntity("tool--a", "Alpha", ""),
		toolEntity("tool--b", "Beta", ""),
		toolEntity("tool--c", "Gamma", ""),
		{ID: "malware--emotet", Name: "Emotet", Type: "Malware"},
		{ID: "threatorganization--apt28", Name: "APT28", Type: "ThreatOrganization"},
	}
	// Response covers only part of the Tool group; the rest must come back
	// as singletons, and the other types pass through.
	clusterer := &stubClusterer{groups: [][]int{{0, 1}}}

	res, err := testClient(t).AlignEntities(context.Background(), entities, clusterer)
	if err != nil {
		t.Fatalf("AlignEntities: %v", err)
	}

	total := 0
	for _, e := range res.Entities {
		total += e.MergeCount
	}
	if total != len(entities) {
		t.Errorf("merge counts sum to %d, want every input assigned exactly once (%d)", total, len(entities))
	}

	for _, e := range entities {
		if _, ok := res.IDMap.Resolve(e.ID); !ok {
			t.Errorf("raw id %q has no identity mapping", e.ID)
		}
	}
}

func TestAlignEntitiesSingletonTypePassThrough(t *testing.T) {
	entities := []common.Entity{
		{ID: "Malware--Emotet", Name: "Emotet", Description: "banking trojan", Type: "Malware"},
	}

	res, err := testClient(t).AlignEntities(context.Background(), entities, &stubClusterer{})
	if err != nil {
		t.Fatalf("AlignEntities: %v", err)
	}
	if len(res.Entities) != 1 {
		t.Fatalf("got %d entities, want 1", len(res.Entities))
	}
	if res.Entities[0].ID != "Malware--Emotet" {
		t.Errorf("singleton id = %q, want original id kept", res.Entities[0].ID)
	}
	if got, ok := res.IDMap.Resolve("malware--emotet"); !ok || got != "Malware--Emotet" {
		t.Errorf("variant resolve = %q, %v, want self-mapping", got, ok)
	}
}

func TestValidateMergeGroups(t *testing.T) {
	tests := []struct {
		name   string
		groups [][]int
		n      int
		want   [][]int
	}{
		{
			name:   "valid disjoint groups",
			groups: [][]int{{0, 1}, {2, 3}},
			n:      4,
			want:   [][]int{{0, 1}, {2, 3}},
		},
		{
			name:   "out of range indices dropped individually",
			groups: [][]int{{0, 1, 99}, {-1, 2, 3}},
			n:      4,
			want:   [][]int{{0, 1}, {2, 3}},
		},
		{
			name:   "duplicate group skipped entirely, first wins",
			groups: [][]int{{0, 1}, {1, 2, 3}},
			n:      4,
			want:   [][]int{{0, 1}},
		},
		{
			name:   "group collapsing to one index dropped",
			groups: [][]int{{0, 7}},
			n:      4,
			want:   [][]int{},
		},
		{
			name:   "empty response",
			groups: [][]int{},
			n:      4,
			want:   [][]int{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := validateMergeGroups(tt.groups, tt.n)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("validateMergeGroups = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNamesSimilar(t *testing.T) {
	g := testClient(t)

	tests := []struct {
		name string
		a    string
		b    string
		want bool
	}{
		{"case insensitive equal", "SSH", "ssh", true},
		{"substring containment", "Cobalt Strike", "Cobalt Strike Beacon", true},
		{"acronym", "NSA", "National Security Agency", true},
		{"jaccard above threshold", "CobaltStrike", "Cobalt Strike", true},
		{"unrelated names", "Emotet", "Mimikatz", false},
		{"short name not contained", "SSH", "Secure Shell", false},
		{"empty name never matches", "", "Emotet", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := g.namesSimilar(tt.a, tt.b); got != tt.want {
				t.Errorf("namesSimilar(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestMergeEntityGroupDescriptionsAndChunks(t *testing.T) {
	members := []common.Entity{
		{
			ID: "a", Name: "SSH", Description: "remote shell", Type: "Tool",
			Chunks: []common.ChunkRef{{ChunkID: "c1"}, {ChunkID: "c2"}},
		},
		{
			ID: "b", Name: "ssh", Description: "remote shell", Type: "Tool",
			Chunks: []common.ChunkRef{{ChunkID: "c2"}},
		},
		{
			ID: "c", Name: "SSH", Description: "port 22", Type: "Tool",
			Chunks: []common.ChunkRef{{ChunkID: "c3"}},
		},
	}

	merged := mergeEntityGroup("Tool", members, []int{0, 1, 2})

	if merged.Description != "remote shell; port 22" {
		t.Errorf("description = %q, want distinct descriptions joined", merged.Description)
	}
	if len(merged.Chunks) != 3 {
		t.Errorf("chunks = %d, want dedup by chunk id to 3", len(merged.Chunks))
	}
	if !reflect.DeepEqual(merged.OriginalNames, []string{"SSH", "ssh"}) {
		t.Errorf("original names = %v, want distinct names in first-seen order", merged.OriginalNames)
	}
	if merged.MergeCount != 3 {
		t.Errorf("merge count = %d, want 3", merged.MergeCount)
	}
}

func TestNormalizeName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Secure Shell", "secureshell"},
		{"Cobalt-Strike", "cobaltstrike"},
		{"APT 28", "apt28"},
		{"", ""},
	}

	for _, tt := range tests {
		if got := NormalizeName(tt.in); got != tt.want {
			t.Errorf("NormalizeName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
