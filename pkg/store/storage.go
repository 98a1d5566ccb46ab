package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/osintlab/threatgraph/pkg/graph"
)

// ErrNotFound is returned when a run or graph view does not exist.
var ErrNotFound = errors.New("not found")

// Run states as stored in the database.
const (
	RunStatusPending    = "pending"
	RunStatusProcessing = "processing"
	RunStatusCompleted  = "completed"
	RunStatusFailed     = "failed"
)

// GraphView selects which persisted graph representation to load.
type GraphView string

const (
	GraphViewFull     GraphView = "full"
	GraphViewSimple   GraphView = "simple"
	GraphViewEnhanced GraphView = "enhanced"
)

// ValidView reports whether v names a persisted graph view.
func ValidView(v GraphView) bool {
	switch v {
	case GraphViewFull, GraphViewSimple, GraphViewEnhanced:
		return true
	}
	return false
}

// Run is one consolidation job: which extraction artifact to consume and
// whether to run the enhancement pass.
type Run struct {
	ID          string    `json:"id"`
	ArtifactKey string    `json:"artifact_key"`
	Status      string    `json:"status"`
	Enhance     bool      `json:"enhance"`
	Error       string    `json:"error,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// GraphStore defines the interface for persisting consolidation runs and
// their graph outputs. Graph payloads are stored and served as opaque JSON;
// the store never interprets graph semantics.
type GraphStore interface {
	CreateRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, id string) (*Run, error)
	UpdateRunStatus(ctx context.Context, id string, status string, errMsg string) error

	SaveResult(ctx context.Context, runID string, result *graph.ConsolidationResult) error
	GetGraph(ctx context.Context, runID string, view GraphView) (json.RawMessage, error)
	GetStats(ctx context.Context, runID string) (json.RawMessage, error)
}
