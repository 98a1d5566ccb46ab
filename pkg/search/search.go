// Package search defines the similarity-search boundary used by graph
// enhancement. The production implementation runs vector kNN over a TTP
// knowledge base in Postgres; tests substitute in-memory fakes.
package search

import "context"

// TTPRecord is one similarity match from the knowledge base: a
// tactic/technique/procedure triple with the match score.
type TTPRecord struct {
	Score     float64 `json:"score"`
	Tactic    string  `json:"tactic"`
	Technique string  `json:"technique"`
	Procedure string  `json:"procedure"`
}

// Searcher answers similarity queries against the external knowledge base.
type Searcher interface {
	SearchSimilar(ctx context.Context, query string, topK int) ([]TTPRecord, error)
}
