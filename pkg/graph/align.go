package graph

import (
	"context"
	"strings"

	"github.com/osintlab/threatgraph/pkg/ai"
	"github.com/osintlab/threatgraph/pkg/common"
	"github.com/osintlab/threatgraph/pkg/logger"

	"golang.org/x/sync/errgroup"
)

// EntityClusterer decides which same-type entities refer to the same
// real-world entity. The returned groups reference entities by their index
// in the input slice. Implementations may call out to an AI model; errors
// and unusable responses make the aligner fall back to rule-based grouping.
type EntityClusterer interface {
	ClusterEntities(ctx context.Context, entityType string, entities []common.Entity) ([][]int, error)
}

// AIClusterer implements EntityClusterer on top of an AI chat model with
// structured output.
type AIClusterer struct {
	Client     ai.GraphAIClient
	MaxRetries int
}

// ClusterEntities asks the model for merge groups over the given entities.
func (a *AIClusterer) ClusterEntities(
	ctx context.Context,
	entityType string,
	entities []common.Entity,
) ([][]int, error) {
	res, err := ai.CallClusterAI(ctx, entityType, entities, a.Client, a.MaxRetries)
	if err != nil {
		return nil, err
	}
	return res.MergeGroups, nil
}

// AlignResult is the output of entity alignment: the merged canonical
// entities plus the mappings needed to rewrite relationships onto them.
type AlignResult struct {
	Entities []common.CanonicalEntity
	NameMap  map[string]string
	IDMap    *IdentityMap
}

// AlignEntities deduplicates the given raw entities into canonical entities.
//
// Entities are partitioned by declared type. Types with a single member pass
// through unchanged. Types with multiple members are grouped by the
// clusterer; if the clusterer is nil, fails, or returns no usable groups,
// the rule-based name-similarity fallback groups them instead. Alignment
// never aborts on external failures.
//
// Type groups are clustered concurrently; merge application is sequential so
// the IdentityMap and name map are built without shared mutable state.
func (g *GraphClient) AlignEntities(
	ctx context.Context,
	entities []common.Entity,
	clusterer EntityClusterer,
) (*AlignResult, error) {
	result := &AlignResult{
		Entities: make([]common.CanonicalEntity, 0, len(entities)),
		NameMap:  make(map[string]string),
		IDMap:    NewIdentityMap(),
	}
	if len(entities) == 0 {
		return result, nil
	}

	partitions := partitionByType(entities)
	logger.Debug("[Align] Aligning entities", "count", len(entities), "types", len(partitions))

	groupsByType := make([][][]int, len(partitions))

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(g.parallelAiRequests)
	for i, part := range partitions {
		if len(part.members) < 2 {
			continue
		}
		eg.Go(func() error {
			groupsByType[i] = g.groupEntities(egCtx, part.entityType, part.members, clusterer)
			return nil
		})
	}
	// Workers never return errors; failures degrade to rule-based groups.
	_ = eg.Wait()

	for i, part := range partitions {
		if len(part.members) < 2 {
			e := part.members[0]
			result.Entities = append(result.Entities, common.CanonicalEntity{
				ID:          e.ID,
				Name:        e.Name,
				Description: e.Description,
				Type:        e.Type,
				MergeCount:  1,
				Chunks:      dedupeChunks(e.Chunks),
			})
			result.IDMap.Register(e.ID, e.ID)
			result.NameMap[e.Name] = e.Name
			continue
		}

		for _, group := range groupsByType[i] {
			merged := mergeEntityGroup(part.entityType, part.members, group)
			result.Entities = append(result.Entities, merged)
			result.IDMap.Register(merged.ID, merged.ID)
			for _, idx := range group {
				member := part.members[idx]
				result.IDMap.Register(member.ID, merged.ID)
				result.NameMap[member.Name] = merged.Name
			}
		}
	}

	logger.Debug("[Align] Alignment finished", "merged", len(result.Entities), "idVariants", result.IDMap.Len())
	return result, nil
}

type typePartition struct {
	entityType string
	members    []common.Entity
}

// partitionByType splits entities by declared type, preserving first-seen
// order of types and of members within a type.
func partitionByType(entities []common.Entity) []typePartition {
	index := make(map[string]int)
	partitions := make([]typePartition, 0)
	for _, e := range entities {
		i, ok := index[e.Type]
		if !ok {
			i = len(partitions)
			index[e.Type] = i
			partitions = append(partitions, typePartition{entityType: e.Type})
		}
		partitions[i].members = append(partitions[i].members, e)
	}
	return partitions
}

// groupEntities produces a complete partition of [0, len(members)) into
// merge groups. The clusterer is tried first, in batches; anything it cannot
// group falls back to rule-based similarity grouping.
func (g *GraphClient) groupEntities(
	ctx context.Context,
	entityType string,
	members []common.Entity,
	clusterer EntityClusterer,
) [][]int {
	if clusterer == nil {
		return g.ruleBasedGroups(members)
	}

	groups := make([][]int, 0)
	usable := false
	for start := 0; start < len(members); start += ai.ClusterBatchSize {
		end := min(start+ai.ClusterBatchSize, len(members))
		batch := members[start:end]
		if len(batch) < 2 {
			break
		}

		raw, err := clusterer.ClusterEntities(ctx, entityType, batch)
		if err != nil {
			logger.Warn("[Align] Clustering call failed, falling back to rules", "type", entityType, "error", err)
			return g.ruleBasedGroups(members)
		}

		valid := validateMergeGroups(raw, len(batch))
		if len(valid) > 0 {
			usable = true
		}
		for _, group := range valid {
			shifted := make([]int, len(group))
			for j, idx := range group {
				shifted[j] = idx + start
			}
			groups = append(groups, shifted)
		}
	}

	if !usable {
		logger.Debug("[Align] Clustering returned no usable groups, falling back to rules", "type", entityType)
		return g.ruleBasedGroups(members)
	}

	return withSingletons(groups, len(members))
}

// validateMergeGroups filters a clustering response down to usable groups.
// Out-of-range indices are dropped individually. A group that reuses an
// index already consumed by an earlier group is skipped entirely, first
// group wins. Groups left with fewer than two indices carry no merge
// information and are dropped.
func validateMergeGroups(groups [][]int, n int) [][]int {
	used := make(map[int]bool)
	valid := make([][]int, 0, len(groups))

	for _, group := range groups {
		inRange := make([]int, 0, len(group))
		duplicate := false
		seen := make(map[int]bool)
		for _, idx := range group {
			if idx < 0 || idx >= n {
				logger.Debug("[Align] Dropping out-of-range merge index", "index", idx, "size", n)
				continue
			}
			if used[idx] || seen[idx] {
				duplicate = true
				break
			}
			seen[idx] = true
			inRange = append(inRange, idx)
		}
		if duplicate {
			logger.Debug("[Align] Skipping merge group with already-used index")
			continue
		}
		if len(inRange) < 2 {
			continue
		}
		for _, idx := range inRange {
			used[idx] = true
		}
		valid = append(valid, inRange)
	}

	return valid
}

// withSingletons completes a partial partition: every index not covered by
// an existing group becomes its own singleton group, in index order.
func withSingletons(groups [][]int, n int) [][]int {
	assigned := make(map[int]bool)
	for _, group := range groups {
		for _, idx := range group {
			assigned[idx] = true
		}
	}
	out := make([][]int, 0, len(groups))
	out = append(out, groups...)
	for i := range n {
		if !assigned[i] {
			out = append(out, []int{i})
		}
	}
	return out
}

// ruleBasedGroups is the clustering fallback. It makes a single greedy pass:
// each unprocessed entity collects all later same-type entities whose names
// it is similar to.
func (g *GraphClient) ruleBasedGroups(members []common.Entity) [][]int {
	processed := make(map[string]bool)
	groups := make([][]int, 0)

	for i, e := range members {
		if processed[e.Name] {
			continue
		}
		group := []int{i}
		processed[e.Name] = true

		for j := i + 1; j < len(members); j++ {
			other := members[j]
			if processed[other.Name] {
				continue
			}
			if g.namesSimilar(e.Name, other.Name) {
				group = append(group, j)
				processed[other.Name] = true
			}
		}

		groups = append(groups, group)
	}

	return groups
}

// namesSimilar reports whether two entity names likely refer to the same
// entity: case-insensitive equality, substring containment, acronym match,
// or Jaccard character-set similarity above the configured threshold.
func (g *GraphClient) namesSimilar(a, b string) bool {
	la := strings.ToLower(strings.TrimSpace(a))
	lb := strings.ToLower(strings.TrimSpace(b))
	if la == "" || lb == "" {
		return false
	}
	if la == lb {
		return true
	}
	if strings.Contains(la, lb) || strings.Contains(lb, la) {
		return true
	}
	if isAcronym(la, lb) || isAcronym(lb, la) {
		return true
	}
	return jaccardChars(la, lb) >= g.similarityThreshold
}

// isAcronym reports whether short is the first-letter acronym of the
// multi-word name long.
func isAcronym(short, long string) bool {
	words := strings.Fields(long)
	if len(words) < 2 || strings.ContainsRune(short, ' ') {
		return false
	}
	var acronym strings.Builder
	for _, w := range words {
		acronym.WriteByte(w[0])
	}
	return acronym.String() == short
}

// jaccardChars computes Jaccard similarity over the character sets of the
// two strings.
func jaccardChars(a, b string) float64 {
	setA := make(map[rune]bool)
	for _, r := range a {
		setA[r] = true
	}
	setB := make(map[rune]bool)
	for _, r := range b {
		setB[r] = true
	}

	intersection := 0
	for r := range setA {
		if setB[r] {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

// mergeEntityGroup folds the group's members into one canonical entity. The
// longest name wins; the canonical id is derived from the type and the
// normalized winning name so the same real-world entity always maps onto the
// same id.
func mergeEntityGroup(entityType string, members []common.Entity, group []int) common.CanonicalEntity {
	bestName := members[group[0]].Name
	for _, idx := range group[1:] {
		if len(members[idx].Name) > len(bestName) {
			bestName = members[idx].Name
		}
	}

	descriptions := make([]string, 0, len(group))
	seenDesc := make(map[string]bool)
	names := make([]string, 0, len(group))
	seenName := make(map[string]bool)
	chunks := make([]common.ChunkRef, 0)
	seenChunk := make(map[string]bool)

	for _, idx := range group {
		member := members[idx]
		if member.Description != "" && !seenDesc[member.Description] {
			seenDesc[member.Description] = true
			descriptions = append(descriptions, member.Description)
		}
		if !seenName[member.Name] {
			seenName[member.Name] = true
			names = append(names, member.Name)
		}
		for _, chunk := range member.Chunks {
			if !seenChunk[chunk.ChunkID] {
				seenChunk[chunk.ChunkID] = true
				chunks = append(chunks, chunk)
			}
		}
	}

	merged := common.CanonicalEntity{
		ID:          strings.ToLower(entityType) + "--" + NormalizeName(bestName),
		Name:        bestName,
		Description: strings.Join(descriptions, "; "),
		Type:        entityType,
		MergeCount:  len(group),
		Chunks:      chunks,
	}
	if len(names) > 1 {
		merged.OriginalNames = names
	}
	return merged
}

// NormalizeName lowercases a name and strips whitespace and hyphens, the
// form used inside canonical ids.
func NormalizeName(name string) string {
	name = strings.ToLower(name)
	name = strings.ReplaceAll(name, " ", "")
	name = strings.ReplaceAll(name, "-", "")
	return name
}

func dedupeChunks(chunks []common.ChunkRef) []common.ChunkRef {
	seen := make(map[string]bool, len(chunks))
	out := make([]common.ChunkRef, 0, len(chunks))
	for _, chunk := range chunks {
		if seen[chunk.ChunkID] {
			continue
		}
		seen[chunk.ChunkID] = true
		out = append(out, chunk)
	}
	return out
}
