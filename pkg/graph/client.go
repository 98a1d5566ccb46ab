package graph

// GraphClient is the main client for consolidating per-chunk extraction
// results into a single deduplicated knowledge graph. It controls the
// similarity threshold of the rule-based alignment fallback and the number
// of concurrent clustering requests.
//
// A GraphClient should be created using NewGraphClient.
type GraphClient struct {
	similarityThreshold float64
	parallelAiRequests  int
}

// NewGraphClientParams defines the configuration parameters for creating
// a new GraphClient.
//
// SimilarityThreshold is the Jaccard character-set threshold used by the
// rule-based alignment fallback. ParallelAiRequests controls how many
// clustering requests can be in flight concurrently across type groups.
type NewGraphClientParams struct {
	SimilarityThreshold float64
	ParallelAiRequests  int
}

// NewGraphClient creates and returns a new GraphClient configured with
// the provided parameters.
//
// Example:
//
//	params := graph.NewGraphClientParams{
//		SimilarityThreshold: 0.75,
//		ParallelAiRequests:  10,
//	}
//	client, err := graph.NewGraphClient(params)
//	if err != nil {
//		log.Fatal(err)
//	}
//
// Returns a pointer to GraphClient and an error if initialization fails.
func NewGraphClient(params NewGraphClientParams) (*GraphClient, error) {
	threshold := params.SimilarityThreshold
	if threshold <= 0 || threshold > 1 {
		threshold = 0.75
	}
	parallel := params.ParallelAiRequests
	if parallel <= 0 {
		parallel = 10
	}

	g := &GraphClient{
		similarityThreshold: threshold,
		parallelAiRequests:  parallel,
	}

	return g, nil
}
