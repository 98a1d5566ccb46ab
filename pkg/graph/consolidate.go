package graph

import (
	"context"
	"time"

	"github.com/osintlab/threatgraph/pkg/common"
	"github.com/osintlab/threatgraph/pkg/logger"
)

// ConsolidationStats summarizes a consolidation run for operators. Dropped
// and unresolved counts are always reported so data quality can be assessed
// without failing the run.
type ConsolidationStats struct {
	RawEntities           int           `json:"raw_entities"`
	RawRelationships      int           `json:"raw_relationships"`
	CanonicalEntities     int           `json:"canonical_entities"`
	ResolvedRelationships int           `json:"resolved_relationships"`
	SkippedRelationships  int           `json:"skipped_relationships"`
	Enhance               *EnhanceStats `json:"enhance,omitempty"`
	ProcessingTimeMs      int64         `json:"processing_time_ms"`
}

// ConsolidationResult is the immutable output of one consolidation run.
type ConsolidationResult struct {
	Entities      []common.CanonicalEntity `json:"entities"`
	Relationships []common.Relationship    `json:"relationships"`
	Full          *FullGraph               `json:"full_graph"`
	Simple        *SimpleGraph             `json:"simple_graph"`
	Enhanced      *SimpleGraph             `json:"enhanced_graph,omitempty"`
	Stats         ConsolidationStats       `json:"stats"`
}

// Consolidate runs the full pipeline over per-chunk extraction results:
// alignment, relationship resolution, graph building and, when an enhancer
// is provided, the enhancement pass. External failures degrade per stage;
// the pipeline itself does not abort on data-quality issues.
func (g *GraphClient) Consolidate(
	ctx context.Context,
	results []common.ExtractionResult,
	clusterer EntityClusterer,
	enhancer *Enhancer,
) (*ConsolidationResult, error) {
	start := time.Now()

	entities := make([]common.Entity, 0)
	relationships := make([]common.Relationship, 0)
	for _, res := range results {
		entities = append(entities, res.Entities...)
		relationships = append(relationships, res.Relationships...)
	}
	logger.Info("[Consolidate] Starting consolidation",
		"chunks", len(results), "entities", len(entities), "relationships", len(relationships))

	aligned, err := g.AlignEntities(ctx, entities, clusterer)
	if err != nil {
		return nil, err
	}

	resolved, resolveStats := ResolveRelationships(relationships, aligned.IDMap)

	result := &ConsolidationResult{
		Entities:      aligned.Entities,
		Relationships: resolved,
		Full:          BuildFull(aligned.Entities, resolved),
		Simple:        BuildSimple(aligned.Entities, resolved),
		Stats: ConsolidationStats{
			RawEntities:           len(entities),
			RawRelationships:      len(relationships),
			CanonicalEntities:     len(aligned.Entities),
			ResolvedRelationships: resolveStats.Resolved,
			SkippedRelationships:  resolveStats.Skipped,
		},
	}

	if enhancer != nil {
		enhanced, enhanceStats, err := enhancer.Enhance(ctx, result.Simple, aligned.Entities)
		if err != nil {
			return nil, err
		}
		result.Enhanced = enhanced
		result.Stats.Enhance = enhanceStats
	}

	result.Stats.ProcessingTimeMs = time.Since(start).Milliseconds()
	logger.Info("[Consolidate] Consolidation finished",
		"canonicalEntities", result.Stats.CanonicalEntities,
		"resolvedRelationships", result.Stats.ResolvedRelationships,
		"skippedRelationships", result.Stats.SkippedRelationships,
		"durationMs", result.Stats.ProcessingTimeMs)
	return result, nil
}
