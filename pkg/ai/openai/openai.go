package openai

import (
	"sync"

	"github.com/osintlab/threatgraph/pkg/ai"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"golang.org/x/sync/semaphore"
)

// GraphOpenAIClient implements ai.GraphAIClient against any OpenAI-compatible
// endpoint. It manages separate clients for embeddings and chat/completion
// tasks.
//
// A GraphOpenAIClient should be created using NewGraphOpenAIClient.
type GraphOpenAIClient struct {
	embeddingModel string
	clusterModel   string

	embeddingURL string
	embeddingKey string
	chatURL      string
	chatKey      string

	timeoutMin    int
	embeddingLock *semaphore.Weighted

	metricsLock sync.Mutex
	metrics     ai.ModelMetrics

	ChatClient      *openai.Client
	EmbeddingClient *openai.Client
}

// NewGraphOpenAIClientParams defines the configuration parameters for
// creating a new GraphOpenAIClient.
//
// EmbeddingModel specifies the model used for embeddings.
// ClusterModel specifies the model used for entity clustering.
// EmbeddingURL and EmbeddingKey configure the embedding API endpoint.
// ChatURL and ChatKey configure the chat/completion API endpoint.
type NewGraphOpenAIClientParams struct {
	EmbeddingModel string
	ClusterModel   string

	EmbeddingURL string
	EmbeddingKey string
	ChatURL      string
	ChatKey      string

	TimeoutMin            int
	MaxConcurrentRequests int64
}

// NewGraphOpenAIClient creates and returns a new GraphOpenAIClient configured
// with the provided parameters.
//
// Example:
//
//	params := openai.NewGraphOpenAIClientParams{
//		EmbeddingModel: "text-embedding-3-small",
//		ClusterModel:   "gpt-4o-mini",
//		EmbeddingURL:   "https://api.openai.com/v1",
//		EmbeddingKey:   os.Getenv("OPENAI_API_KEY"),
//		ChatURL:        "https://api.openai.com/v1",
//		ChatKey:        os.Getenv("OPENAI_API_KEY"),
//	}
//	client := openai.NewGraphOpenAIClient(params)
func NewGraphOpenAIClient(
	params NewGraphOpenAIClientParams,
) *GraphOpenAIClient {
	chatClient := newOpenaiClient(params.ChatURL, params.ChatKey)
	embedClient := newOpenaiClient(params.EmbeddingURL, params.EmbeddingKey)

	timeoutMin := params.TimeoutMin
	if timeoutMin <= 0 {
		timeoutMin = 5
	}
	maxReq := params.MaxConcurrentRequests
	if maxReq <= 0 {
		maxReq = 15
	}

	return &GraphOpenAIClient{
		embeddingModel: params.EmbeddingModel,
		clusterModel:   params.ClusterModel,

		chatURL:      params.ChatURL,
		chatKey:      params.ChatKey,
		embeddingURL: params.EmbeddingURL,
		embeddingKey: params.EmbeddingKey,

		timeoutMin:    timeoutMin,
		embeddingLock: semaphore.NewWeighted(maxReq),

		metricsLock: sync.Mutex{},
		metrics: ai.ModelMetrics{
			InputTokens:  0,
			OutputTokens: 0,
			TotalTokens:  0,
			DurationMs:   0,
		},

		ChatClient:      chatClient,
		EmbeddingClient: embedClient,
	}
}

func newOpenaiClient(
	baseURL string,
	apiKey string,
) *openai.Client {
	if apiKey == "" {
		return nil
	}
	options := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}

	if baseURL != "" {
		options = append(options, option.WithBaseURL(baseURL))
	}

	client := openai.NewClient(options...)

	return &client
}
