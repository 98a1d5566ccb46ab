package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/osintlab/threatgraph/internal/storage"
	"github.com/osintlab/threatgraph/internal/util"
	"github.com/osintlab/threatgraph/pkg/ai"
	"github.com/osintlab/threatgraph/pkg/common"
	"github.com/osintlab/threatgraph/pkg/graph"
	"github.com/osintlab/threatgraph/pkg/logger"
	"github.com/osintlab/threatgraph/pkg/search"
	"github.com/osintlab/threatgraph/pkg/store"

	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rabbitmq/amqp091-go"
)

// ConsolidateMessage is the payload of consolidate_queue messages. The
// artifact key points at an S3 object holding the per-chunk extraction
// results for the run.
type ConsolidateMessage struct {
	RunID       string `json:"run_id"`
	ArtifactKey string `json:"artifact_key"`
	Enhance     bool   `json:"enhance"`
}

// RunCompletedMessage is published on the pubsub exchange once a run has
// been persisted.
type RunCompletedMessage struct {
	RunID  string `json:"run_id"`
	Status string `json:"status"`
}

// ProcessConsolidateMessage runs one consolidation job end to end: fetch
// the extraction artifact, consolidate it into graphs, persist the result
// and export the graph artifacts next to the input. Errors are reflected in
// the run status and returned so the caller can retry or dead-letter.
func ProcessConsolidateMessage(
	ctx context.Context,
	s3Client *awss3.Client,
	aiClient ai.GraphAIClient,
	ch *amqp091.Channel,
	graphStore store.GraphStore,
	searcher search.Searcher,
	msg string,
) (err error) {
	data := new(ConsolidateMessage)
	if err = json.Unmarshal([]byte(msg), &data); err != nil {
		return err
	}
	if data.RunID == "" || data.ArtifactKey == "" {
		return fmt.Errorf("invalid consolidate message: run_id and artifact_key are required")
	}

	defer func() {
		if err == nil {
			return
		}
		updateCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if updateErr := graphStore.UpdateRunStatus(updateCtx, data.RunID, store.RunStatusFailed, err.Error()); updateErr != nil {
			logger.Warn("[Queue] Failed to mark run as failed", "run_id", data.RunID, "err", updateErr)
		}
	}()

	if err = graphStore.UpdateRunStatus(ctx, data.RunID, store.RunStatusProcessing, ""); err != nil {
		return err
	}

	raw, err := storage.GetFile(ctx, s3Client, data.ArtifactKey)
	if err != nil {
		return fmt.Errorf("failed to fetch extraction artifact: %w", err)
	}

	results := make([]common.ExtractionResult, 0)
	if err = json.Unmarshal(raw, &results); err != nil {
		return fmt.Errorf("failed to parse extraction artifact: %w", err)
	}

	graphClient, err := graph.NewGraphClient(graph.NewGraphClientParams{
		SimilarityThreshold: util.GetEnvNumeric("GRAPH_SIMILARITY_THRESHOLD", 0),
		ParallelAiRequests:  int(util.GetEnvNumeric("AI_PARALLEL_REQ", 10)),
	})
	if err != nil {
		return err
	}

	clusterer := &graph.AIClusterer{Client: aiClient, MaxRetries: 3}

	var enhancer *graph.Enhancer
	if data.Enhance {
		if searcher == nil {
			return fmt.Errorf("enhancement requested but no searcher is configured")
		}
		enhancer, err = graph.NewEnhancer(graph.NewEnhancerParams{Searcher: searcher})
		if err != nil {
			return err
		}
	}

	start := time.Now()
	logger.Info("[Queue] Starting consolidation run", "run_id", data.RunID, "chunks", len(results), "enhance", data.Enhance)

	result, err := graphClient.Consolidate(ctx, results, clusterer, enhancer)
	if err != nil {
		return err
	}

	if err = graphStore.SaveResult(ctx, data.RunID, result); err != nil {
		return err
	}

	if err = exportRunArtifacts(ctx, s3Client, data.RunID, result); err != nil {
		return err
	}

	if err = graphStore.UpdateRunStatus(ctx, data.RunID, store.RunStatusCompleted, ""); err != nil {
		return err
	}

	completed, _ := json.Marshal(RunCompletedMessage{RunID: data.RunID, Status: store.RunStatusCompleted})
	if pubErr := PublishTopic(ch, fmt.Sprintf("runs.%s.completed", data.RunID), completed); pubErr != nil {
		logger.Warn("[Queue] Failed to publish run completion", "run_id", data.RunID, "err", pubErr)
	}

	logger.Info("[Queue] Consolidation run finished", "run_id", data.RunID, "duration_ms", time.Since(start).Milliseconds())
	return nil
}

func exportRunArtifacts(
	ctx context.Context,
	s3Client *awss3.Client,
	runID string,
	result *graph.ConsolidationResult,
) error {
	artifacts := []struct {
		name string
		data any
	}{
		{"06_full_graph.json", result.Full},
		{"07_simple_graph.json", result.Simple},
	}
	if result.Enhanced != nil {
		artifacts = append(artifacts, struct {
			name string
			data any
		}{"08_enhanced_graph.json", result.Enhanced})
	}
	artifacts = append(artifacts, struct {
		name string
		data any
	}{"09_stats.json", result.Stats})

	for _, artifact := range artifacts {
		payload, err := json.Marshal(artifact.data)
		if err != nil {
			return fmt.Errorf("failed to marshal %s: %w", artifact.name, err)
		}
		key := fmt.Sprintf("runs/%s/%s", runID, artifact.name)
		if err := storage.PutJSON(ctx, s3Client, key, payload); err != nil {
			return err
		}
	}
	return nil
}
