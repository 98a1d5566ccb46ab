package ai

import (
	"context"
	"fmt"
	"strings"
	"time"

	gUtil "github.com/osintlab/threatgraph/internal/util"
	"github.com/osintlab/threatgraph/pkg/common"

	"github.com/pkoukk/tiktoken-go"
)

const (
	ClusterBatchSize = 300

	// Descriptions are trimmed before they are put into the prompt. Entity
	// names carry most of the signal; descriptions only disambiguate.
	maxClusterDescriptionLen = 100
)

// MergeGroupsResponse is the response from the AI clustering call. Each group
// lists the zero-based indices of entities that refer to the same real-world
// entity.
type MergeGroupsResponse struct {
	MergeGroups [][]int `json:"merge_groups" jsonschema_description:"Groups of entity indices that refer to the same real-world entity. Each group must contain at least two indices."`
}

// CallClusterAI asks the model which of the given same-type entities are
// duplicates of each other. The response references entities by their index
// in the input slice.
//
// The caller is responsible for validating the returned groups against the
// input; the model may hallucinate indices.
func CallClusterAI(
	ctx context.Context,
	entityType string,
	entities []common.Entity,
	aiClient GraphAIClient,
	maxRetries int,
) (*MergeGroupsResponse, error) {
	if maxRetries < 1 {
		maxRetries = 1
	}
	if aiClient == nil {
		return nil, fmt.Errorf("ai client is nil")
	}
	if len(entities) < 2 {
		return &MergeGroupsResponse{MergeGroups: [][]int{}}, nil
	}
	if len(entities) > ClusterBatchSize {
		return nil, fmt.Errorf("cluster batch size exceeded: %d > %d", len(entities), ClusterBatchSize)
	}

	var entityData strings.Builder
	fmt.Fprintf(&entityData, "Entity type: %s\nEntities:\n", NormalizeClusterValue(entityType))
	for i, e := range entities {
		name := NormalizeClusterValue(e.Name)
		desc := NormalizeClusterValue(e.Description)
		if len(desc) > maxClusterDescriptionLen {
			desc = desc[:maxClusterDescriptionLen]
		}
		if desc == "" {
			fmt.Fprintf(&entityData, "%d. %s\n", i, name)
		} else {
			fmt.Fprintf(&entityData, "%d. %s: %s\n", i, name, desc)
		}
	}
	prompt := fmt.Sprintf(ClusterPrompt, entityData.String())

	if tokens, err := countPromptTokens(prompt); err == nil && tokens > maxClusterPromptTokens {
		return nil, fmt.Errorf("cluster prompt too large: %d tokens", tokens)
	}

	res, err := gUtil.RetryWithBackoff(ctx, maxRetries, ClusterRetryBaseDelay, func(ctx context.Context) (*MergeGroupsResponse, error) {
		var out MergeGroupsResponse
		if err := aiClient.GenerateCompletionWithFormat(
			ctx, "merge_groups", "Group duplicate entities by index.", prompt, &out,
		); err != nil {
			return nil, err
		}
		return &out, nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

const maxClusterPromptTokens = 100_000

func countPromptTokens(prompt string) (int, error) {
	enc, err := tiktoken.GetEncoding("o200k_base")
	if err != nil {
		return 0, err
	}
	return len(enc.Encode(prompt, nil, nil)), nil
}

// NormalizeClusterValue standardizes names for clustering prompts.
func NormalizeClusterValue(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	value = strings.ReplaceAll(value, "\n", " ")
	value = strings.ReplaceAll(value, "\r", " ")
	value = strings.Join(strings.Fields(value), " ")
	return value
}

// ClusterRetryBaseDelay is the initial backoff delay for repeated clustering
// attempts against an overloaded endpoint.
const ClusterRetryBaseDelay = 2 * time.Second
