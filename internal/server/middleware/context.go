package middleware

import (
	"github.com/osintlab/threatgraph/internal/util"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/rabbitmq/amqp091-go"

	"github.com/osintlab/threatgraph/pkg/ai"
	oai "github.com/osintlab/threatgraph/pkg/ai/ollama"
	gai "github.com/osintlab/threatgraph/pkg/ai/openai"
	"github.com/osintlab/threatgraph/pkg/logger"
	"github.com/osintlab/threatgraph/pkg/search"
	searchpgx "github.com/osintlab/threatgraph/pkg/search/pgx"
	"github.com/osintlab/threatgraph/pkg/store"
	storepgx "github.com/osintlab/threatgraph/pkg/store/pgx"
)

type App struct {
	DBConn   *pgxpool.Pool
	Queue    *amqp091.Channel
	S3       *s3.Client
	AiClient ai.GraphAIClient
	Store    store.GraphStore
	Searcher search.Searcher
}

type AppContext struct {
	echo.Context
	App *App
}

func AppContextMiddleware(
	db *pgxpool.Pool,
	queue *amqp091.Channel,
	s3 *s3.Client,
) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			adapter := util.GetEnv("AI_ADAPTER")
			var aiClient ai.GraphAIClient

			switch adapter {
			case "ollama":
				client, err := oai.NewGraphOllamaClient(oai.NewGraphOllamaClientParams{
					EmbeddingModel: util.GetEnv("AI_EMBED_MODEL"),
					ClusterModel:   util.GetEnv("AI_CHAT_CLUSTER_MODEL"),

					BaseURL: util.GetEnv("AI_CHAT_URL"),
					ApiKey:  util.GetEnv("AI_CHAT_KEY"),

					MaxConcurrentRequests: int64(util.GetEnvNumeric("AI_PARALLEL_REQ", 15)),
				})
				if err != nil {
					logger.Fatal("Failed to create Ollama client", "err", err)
				}
				aiClient = client
			default:
				aiClient = gai.NewGraphOpenAIClient(gai.NewGraphOpenAIClientParams{
					EmbeddingModel: util.GetEnv("AI_EMBED_MODEL"),
					ClusterModel:   util.GetEnv("AI_CHAT_CLUSTER_MODEL"),

					EmbeddingURL: util.GetEnv("AI_EMBED_URL"),
					EmbeddingKey: util.GetEnv("AI_EMBED_KEY"),
					ChatURL:      util.GetEnv("AI_CHAT_URL"),
					ChatKey:      util.GetEnv("AI_CHAT_KEY"),

					MaxConcurrentRequests: int64(util.GetEnvNumeric("AI_PARALLEL_REQ", 15)),
				})
			}

			graphStore := storepgx.NewGraphDBStore(db)
			searcher, err := searchpgx.NewGraphDBSearcher(db, aiClient)
			if err != nil {
				logger.Fatal("Failed to create searcher", "err", err)
			}

			app := &App{
				DBConn:   db,
				Queue:    queue,
				S3:       s3,
				AiClient: aiClient,
				Store:    graphStore,
				Searcher: searcher,
			}
			cc := &AppContext{c, app}
			return next(cc)
		}
	}
}
