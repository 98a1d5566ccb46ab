package graph

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/osintlab/threatgraph/pkg/common"
	"github.com/osintlab/threatgraph/pkg/logger"
	"github.com/osintlab/threatgraph/pkg/search"

	"golang.org/x/sync/errgroup"
)

// EnhancementSource marks nodes and edges added by the enhancement pass, so
// they stay distinguishable from extracted graph content.
const EnhancementSource = "external_enhancement"

const (
	defaultEnhanceTopK        = 3
	defaultEnhanceMinScore    = 0.8
	defaultEnhanceMinQueryLen = 5
	defaultEnhanceMaxPerNode  = 2
	defaultEnhanceParallel    = 5

	// Below this length a description carries less signal than the label.
	minDescriptionQueryLen = 10
)

// Enhancer augments simple graphs with tactic/technique context from an
// external similarity index. Bridge nodes (procedures by default) are
// queried against the index; qualifying matches add tactic and technique
// nodes wired to the bridge node.
//
// The enhanced-node set is kept across Enhance calls, so a bridge node that
// shows up in several per-chunk graphs is only counted as enhanced once.
type Enhancer struct {
	searcher    search.Searcher
	bridgeTypes map[string]bool
	topK        int
	minScore    float64
	minQueryLen int
	maxPerNode  int
	parallel    int

	mu       sync.Mutex
	enhanced map[NodeKey]bool
}

// NewEnhancerParams defines the configuration parameters for creating a new
// Enhancer.
type NewEnhancerParams struct {
	Searcher          search.Searcher
	BridgeTypes       []string
	TopK              int
	MinScore          float64
	MinQueryLen       int
	MaxMatchesPerNode int
	ParallelQueries   int
}

// NewEnhancer creates a new Enhancer with the provided configuration.
func NewEnhancer(params NewEnhancerParams) (*Enhancer, error) {
	if params.Searcher == nil {
		return nil, errors.New("searcher is required")
	}

	bridgeTypes := params.BridgeTypes
	if len(bridgeTypes) == 0 {
		bridgeTypes = []string{"procedure", "procedures"}
	}
	bridgeSet := make(map[string]bool, len(bridgeTypes))
	for _, t := range bridgeTypes {
		bridgeSet[strings.ToLower(t)] = true
	}

	e := &Enhancer{
		searcher:    params.Searcher,
		bridgeTypes: bridgeSet,
		topK:        params.TopK,
		minScore:    params.MinScore,
		minQueryLen: params.MinQueryLen,
		maxPerNode:  params.MaxMatchesPerNode,
		parallel:    params.ParallelQueries,
		enhanced:    make(map[NodeKey]bool),
	}
	if e.topK <= 0 {
		e.topK = defaultEnhanceTopK
	}
	if e.minScore <= 0 || e.minScore > 1 {
		e.minScore = defaultEnhanceMinScore
	}
	if e.minQueryLen <= 0 {
		e.minQueryLen = defaultEnhanceMinQueryLen
	}
	if e.maxPerNode <= 0 {
		e.maxPerNode = defaultEnhanceMaxPerNode
	}
	if e.parallel <= 0 {
		e.parallel = defaultEnhanceParallel
	}

	return e, nil
}

// EnhanceStats reports what the enhancement pass did. Enhanced is
// deduplicated across all Enhance calls on the same Enhancer, so summing
// per-call stats never double counts a bridge node.
type EnhanceStats struct {
	BridgeNodes      int   `json:"bridge_nodes"`
	QueriesIssued    int   `json:"queries_issued"`
	Matches          int   `json:"matches"`
	NodesAdded       int   `json:"nodes_added"`
	EdgesAdded       int   `json:"edges_added"`
	Enhanced         int   `json:"enhanced"`
	ProcessingTimeMs int64 `json:"processing_time_ms"`
}

// Enhance queries the similarity index for every bridge node in the graph
// and merges qualifying matches into a copy of the graph. The entities
// slice supplies descriptions for query building; nodes without a usable
// description are queried by label.
//
// Search failures and empty results leave the affected node un-enhanced and
// never abort the pass.
func (e *Enhancer) Enhance(
	ctx context.Context,
	sg *SimpleGraph,
	entities []common.CanonicalEntity,
) (*SimpleGraph, *EnhanceStats, error) {
	start := time.Now()
	result := sg.Clone()
	stats := &EnhanceStats{}

	descriptions := make(map[string]string, len(entities))
	for _, entity := range entities {
		descriptions[entity.ID] = entity.Description
	}

	bridges := make([]NodeKey, 0)
	for node := range sg.Nodes {
		if e.bridgeTypes[strings.ToLower(node.EntityType)] {
			bridges = append(bridges, node)
		}
	}
	stats.BridgeNodes = len(bridges)
	if len(bridges) == 0 {
		stats.ProcessingTimeMs = time.Since(start).Milliseconds()
		return result, stats, nil
	}

	// Existing nodes seed the dedup index so an external tactic that is
	// already in the graph is referenced instead of re-added.
	dedup := make(map[[2]string]NodeKey, len(result.Nodes))
	for node := range result.Nodes {
		dedup[nodeDedupKey(node.EntityType, node.Label)] = node
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(e.parallel)

	for _, bridge := range bridges {
		query := descriptions[bridge.PKey]
		if len(strings.TrimSpace(query)) <= minDescriptionQueryLen {
			query = bridge.Label
		}
		query = strings.TrimSpace(query)
		if len(query) < e.minQueryLen {
			logger.Debug("[Enhance] Skipping bridge node with short query", "pkey", bridge.PKey)
			continue
		}

		e.mu.Lock()
		stats.QueriesIssued++
		e.mu.Unlock()

		eg.Go(func() error {
			records, err := e.searcher.SearchSimilar(egCtx, query, e.topK)
			if err != nil {
				logger.Warn("[Enhance] Similarity search failed", "pkey", bridge.PKey, "error", err)
				return nil
			}

			qualifying := make([]search.TTPRecord, 0, len(records))
			for _, rec := range records {
				if rec.Score < e.minScore || rec.Tactic == "" || rec.Technique == "" {
					continue
				}
				qualifying = append(qualifying, rec)
			}
			if len(qualifying) == 0 {
				return nil
			}

			e.mu.Lock()
			defer e.mu.Unlock()
			stats.Matches += len(qualifying)
			if len(qualifying) > e.maxPerNode {
				qualifying = qualifying[:e.maxPerNode]
			}
			e.applyMatches(result, dedup, bridge, qualifying, stats)
			return nil
		})
	}

	// Workers swallow their own errors; failures degrade per node.
	_ = eg.Wait()

	stats.ProcessingTimeMs = time.Since(start).Milliseconds()
	logger.Info("[Enhance] Enhancement pass finished",
		"bridgeNodes", stats.BridgeNodes, "queries", stats.QueriesIssued,
		"matches", stats.Matches, "enhanced", stats.Enhanced)
	return result, stats, nil
}

// applyMatches merges the qualifying records for one bridge node into the
// result graph. Caller holds e.mu.
func (e *Enhancer) applyMatches(
	result *SimpleGraph,
	dedup map[[2]string]NodeKey,
	bridge NodeKey,
	records []search.TTPRecord,
	stats *EnhanceStats,
) {
	for _, rec := range records {
		// The bridge node is corroborated, not replaced.
		result.Nodes[bridge]++

		tactic := e.ensureNode(result, dedup, "tactic", rec.Tactic, stats)
		technique := e.ensureNode(result, dedup, "technique", rec.Technique, stats)

		hasEdge := EdgeKey{
			PKey:       tactic.PKey,
			SKey:       technique.PKey,
			Label:      "HAS",
			Confidence: rec.Score,
			Source:     EnhancementSource,
		}
		if _, exists := result.Edges[hasEdge]; !exists {
			result.Edges[hasEdge] = 1
			stats.EdgesAdded++
		}

		launchEdge := EdgeKey{
			PKey:       technique.PKey,
			SKey:       bridge.PKey,
			Label:      "LAUNCH",
			Confidence: rec.Score,
			Source:     EnhancementSource,
		}
		if _, exists := result.Edges[launchEdge]; !exists {
			result.Edges[launchEdge] = 1
			stats.EdgesAdded++
		}
	}

	if !e.enhanced[bridge] {
		e.enhanced[bridge] = true
		stats.Enhanced++
	}
}

// ensureNode returns the graph node for the given type/label pair, creating
// it if no node with that dedup key exists yet. Caller holds e.mu.
func (e *Enhancer) ensureNode(
	result *SimpleGraph,
	dedup map[[2]string]NodeKey,
	entityType string,
	label string,
	stats *EnhanceStats,
) NodeKey {
	key := nodeDedupKey(entityType, label)
	if existing, ok := dedup[key]; ok {
		return existing
	}

	node := NodeKey{
		PKey:       entityType + "--" + NormalizeName(label),
		Label:      label,
		EntityType: entityType,
		Source:     EnhancementSource,
	}
	result.Nodes[node] = 1
	dedup[key] = node
	stats.NodesAdded++
	return node
}

func nodeDedupKey(entityType, label string) [2]string {
	return [2]string{strings.ToLower(entityType), strings.ToLower(label)}
}
