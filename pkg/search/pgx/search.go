package pgx

import (
	"context"
	"fmt"

	"github.com/osintlab/threatgraph/internal/util"
	"github.com/osintlab/threatgraph/pkg/ai"
	"github.com/osintlab/threatgraph/pkg/search"

	pgxv5 "github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pgvector/pgvector-go"
)

type pgxIConn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, optionsAndArgs ...any) (pgxv5.Rows, error)
	QueryRow(ctx context.Context, sql string, optionsAndArgs ...any) pgxv5.Row
	Begin(ctx context.Context) (pgxv5.Tx, error)
}

// GraphDBSearcher implements the search.Searcher interface with pgvector
// kNN over the ttp_records table. Query embeddings come from the AI client.
type GraphDBSearcher struct {
	conn     pgxIConn
	aiClient ai.GraphAIClient
}

// NewGraphDBSearcher creates a new searcher using an existing database
// connection or pool.
func NewGraphDBSearcher(conn pgxIConn, aiClient ai.GraphAIClient) (*GraphDBSearcher, error) {
	if conn == nil {
		return nil, fmt.Errorf("db connection is required")
	}
	if aiClient == nil {
		return nil, fmt.Errorf("ai client is required")
	}
	return &GraphDBSearcher{conn: conn, aiClient: aiClient}, nil
}

// SearchSimilar embeds the query and returns the topK nearest TTP records
// by cosine similarity. Scores are in [0, 1], higher is closer.
func (s *GraphDBSearcher) SearchSimilar(
	ctx context.Context,
	query string,
	topK int,
) ([]search.TTPRecord, error) {
	if topK <= 0 {
		topK = 3
	}

	embedding, err := s.aiClient.GenerateEmbedding(ctx, []byte(util.SanitizePostgresText(query)))
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	vec := pgvector.NewVector(embedding)

	rows, err := s.conn.Query(ctx, `
		SELECT tactic, technique, procedure, 1 - (embedding <=> $1) AS score
		FROM ttp_records
		WHERE embedding IS NOT NULL
		ORDER BY embedding <=> $1
		LIMIT $2`,
		vec, topK,
	)
	if err != nil {
		return nil, fmt.Errorf("search ttp records: %w", err)
	}
	defer rows.Close()

	records := make([]search.TTPRecord, 0, topK)
	for rows.Next() {
		var rec search.TTPRecord
		if err := rows.Scan(&rec.Tactic, &rec.Technique, &rec.Procedure, &rec.Score); err != nil {
			return nil, fmt.Errorf("scan ttp record: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
