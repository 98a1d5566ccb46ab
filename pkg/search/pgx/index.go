package pgx

import (
	"context"
	"fmt"

	"github.com/osintlab/threatgraph/internal/util"
	"github.com/osintlab/threatgraph/pkg/logger"
	"github.com/osintlab/threatgraph/pkg/search"

	"github.com/pgvector/pgvector-go"
	"golang.org/x/sync/errgroup"
)

const (
	indexBatchSize        = 100
	parallelEmbedRequests = 10
)

// IndexRecords embeds and stores TTP knowledge-base records. Records are
// embedded by their procedure text in bounded-concurrency batches and
// inserted transactionally per batch, so a failed batch leaves earlier
// batches committed.
func (s *GraphDBSearcher) IndexRecords(
	ctx context.Context,
	records []search.TTPRecord,
) (int, error) {
	indexed := 0
	for start := 0; start < len(records); start += indexBatchSize {
		end := min(start+indexBatchSize, len(records))
		if err := s.indexBatch(ctx, records[start:end]); err != nil {
			return indexed, fmt.Errorf("index batch %d: %w", start/indexBatchSize+1, err)
		}
		indexed += end - start
	}

	logger.Info("[Search] Indexed TTP records", "count", indexed)
	return indexed, nil
}

func (s *GraphDBSearcher) indexBatch(ctx context.Context, batch []search.TTPRecord) error {
	embeddings := make([][]float32, len(batch))

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(parallelEmbedRequests)
	for i, rec := range batch {
		eg.Go(func() error {
			emb, err := s.aiClient.GenerateEmbedding(egCtx, []byte(util.SanitizePostgresText(rec.Procedure)))
			if err != nil {
				return err
			}
			embeddings[i] = emb
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return fmt.Errorf("embed records: %w", err)
	}

	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	for i, rec := range batch {
		if _, err := tx.Exec(ctx, `
			INSERT INTO ttp_records (tactic, technique, procedure, embedding)
			VALUES ($1, $2, $3, $4)`,
			util.SanitizePostgresText(rec.Tactic),
			util.SanitizePostgresText(rec.Technique),
			util.SanitizePostgresText(rec.Procedure),
			pgvector.NewVector(embeddings[i]),
		); err != nil {
			return fmt.Errorf("insert record: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// CountRecords returns the size of the TTP knowledge base.
func (s *GraphDBSearcher) CountRecords(ctx context.Context) (int64, error) {
	var count int64
	if err := s.conn.QueryRow(ctx, `SELECT count(*) FROM ttp_records`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count ttp records: %w", err)
	}
	return count, nil
}
