package graph

import (
	"github.com/osintlab/threatgraph/pkg/common"
	"github.com/osintlab/threatgraph/pkg/logger"
)

// DefaultConfidence replaces missing or out-of-range relationship
// confidence values.
const DefaultConfidence = 0.7

// ResolveStats reports how relationship resolution went. Skipped counts
// relationships dropped because an endpoint had no canonical identity.
type ResolveStats struct {
	Resolved int `json:"resolved"`
	Skipped  int `json:"skipped"`
}

// ResolveRelationships rewrites relationship endpoints onto canonical ids.
//
// A relationship whose source or target does not resolve through the
// IdentityMap is dropped and counted, never raised: unresolvable references
// are expected data-quality noise, not pipeline failures. Confidence values
// outside (0, 1] are replaced with DefaultConfidence; a zero value also
// means the field was absent from the extraction output.
func ResolveRelationships(
	relationships []common.Relationship,
	idMap *IdentityMap,
) ([]common.Relationship, ResolveStats) {
	resolved := make([]common.Relationship, 0, len(relationships))
	var stats ResolveStats

	for _, rel := range relationships {
		source, okSource := idMap.Resolve(rel.Source)
		target, okTarget := idMap.Resolve(rel.Target)
		if !okSource || !okTarget {
			stats.Skipped++
			logger.Debug("[Resolve] Dropping relationship with unresolvable endpoint",
				"type", rel.Type, "source", rel.Source, "target", rel.Target,
				"sourceResolved", okSource, "targetResolved", okTarget)
			continue
		}

		rel.Source = source
		rel.Target = target
		if rel.Confidence <= 0 || rel.Confidence > 1 {
			rel.Confidence = DefaultConfidence
		}
		rel.Chunks = dedupeChunks(rel.Chunks)

		resolved = append(resolved, rel)
		stats.Resolved++
	}

	if stats.Skipped > 0 {
		logger.Info("[Resolve] Skipped relationships with unknown endpoints",
			"skipped", stats.Skipped, "resolved", stats.Resolved)
	}
	return resolved, stats
}
