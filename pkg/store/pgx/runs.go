package pgx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/osintlab/threatgraph/internal/util"
	"github.com/osintlab/threatgraph/pkg/graph"
	"github.com/osintlab/threatgraph/pkg/store"

	pgxv5 "github.com/jackc/pgx/v5"
)

// CreateRun inserts a new run in pending state.
func (s *GraphDBStore) CreateRun(ctx context.Context, run *store.Run) error {
	if run.Status == "" {
		run.Status = store.RunStatusPending
	}
	row := s.conn.QueryRow(ctx, `
		INSERT INTO runs (id, artifact_key, status, enhance)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at, updated_at`,
		run.ID, run.ArtifactKey, run.Status, run.Enhance,
	)
	if err := row.Scan(&run.CreatedAt, &run.UpdatedAt); err != nil {
		return fmt.Errorf("create run: %w", err)
	}
	return nil
}

// GetRun loads a run by id.
func (s *GraphDBStore) GetRun(ctx context.Context, id string) (*store.Run, error) {
	var run store.Run
	row := s.conn.QueryRow(ctx, `
		SELECT id, artifact_key, status, enhance, error, created_at, updated_at
		FROM runs WHERE id = $1`,
		id,
	)
	err := row.Scan(&run.ID, &run.ArtifactKey, &run.Status, &run.Enhance,
		&run.Error, &run.CreatedAt, &run.UpdatedAt)
	if errors.Is(err, pgxv5.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return &run, nil
}

// UpdateRunStatus transitions a run and records its error message, if any.
func (s *GraphDBStore) UpdateRunStatus(
	ctx context.Context,
	id string,
	status string,
	errMsg string,
) error {
	tag, err := s.conn.Exec(ctx, `
		UPDATE runs SET status = $2, error = $3, updated_at = now()
		WHERE id = $1`,
		id, status, util.SanitizePostgresText(errMsg),
	)
	if err != nil {
		return fmt.Errorf("update run status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// SaveResult persists all graph views and the statistics of a finished
// consolidation in one transaction.
func (s *GraphDBStore) SaveResult(
	ctx context.Context,
	runID string,
	result *graph.ConsolidationResult,
) error {
	stats, err := json.Marshal(result.Stats)
	if err != nil {
		return fmt.Errorf("marshal stats: %w", err)
	}

	views := map[store.GraphView]any{
		store.GraphViewFull:   result.Full,
		store.GraphViewSimple: result.Simple,
	}
	if result.Enhanced != nil {
		views[store.GraphViewEnhanced] = result.Enhanced
	}

	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		UPDATE runs SET stats = $2, updated_at = now() WHERE id = $1`,
		runID, stats,
	); err != nil {
		return fmt.Errorf("save stats: %w", err)
	}

	for view, payload := range views {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal %s graph: %w", view, err)
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO run_graphs (run_id, view, graph)
			VALUES ($1, $2, $3)
			ON CONFLICT (run_id, view) DO UPDATE SET graph = EXCLUDED.graph`,
			runID, string(view), data,
		); err != nil {
			return fmt.Errorf("save %s graph: %w", view, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// GetGraph loads one persisted graph view as raw JSON.
func (s *GraphDBStore) GetGraph(
	ctx context.Context,
	runID string,
	view store.GraphView,
) (json.RawMessage, error) {
	var data []byte
	row := s.conn.QueryRow(ctx, `
		SELECT graph FROM run_graphs WHERE run_id = $1 AND view = $2`,
		runID, string(view),
	)
	err := row.Scan(&data)
	if errors.Is(err, pgxv5.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get graph: %w", err)
	}
	return json.RawMessage(data), nil
}

// GetStats loads the statistics of a finished run as raw JSON.
func (s *GraphDBStore) GetStats(ctx context.Context, runID string) (json.RawMessage, error) {
	var data []byte
	row := s.conn.QueryRow(ctx, `SELECT stats FROM runs WHERE id = $1`, runID)
	err := row.Scan(&data)
	if errors.Is(err, pgxv5.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get stats: %w", err)
	}
	if len(data) == 0 {
		return nil, store.ErrNotFound
	}
	return json.RawMessage(data), nil
}
