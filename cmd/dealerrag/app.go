package main

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/redis/go-redis/v9"

	"dealerrag/internal/agent"
	"dealerrag/internal/breaker"
	"dealerrag/internal/config"
	"dealerrag/internal/dms"
	"dealerrag/internal/embedding"
	"dealerrag/internal/generate"
	"dealerrag/internal/ingest"
	"dealerrag/internal/intent"
	"dealerrag/internal/lexical"
	"dealerrag/internal/logging"
	"dealerrag/internal/rerank"
	"dealerrag/internal/retrieval"
	"dealerrag/internal/server"
	"dealerrag/internal/vector"
)

// app holds the fully wired engine and its dependencies.
type app struct {
	cfg      *config.Config
	engine   *agent.Engine
	breakers *breaker.Registry
	redis    *redis.Client
	embedder *embedding.Client
	vector   *vector.Store
	lexical  *lexical.Client
	dms      dms.Adapter
	checks   map[string]server.HealthChecker
}

// buildApp constructs every component from the configuration.
func buildApp(ctx context.Context, cfg *config.Config) (*app, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// Circuit breakers, one per external provider
	registry := breaker.NewRegistry()
	newBreaker := func(name string, bc config.BreakerConfig) *breaker.Breaker {
		b := breaker.New(breaker.Config{
			Name:             name,
			FailureThreshold: bc.FailureThreshold,
			RecoveryTimeout:  bc.GetRecoveryTimeout(),
			HalfOpenMax:      bc.HalfOpenMax,
			Adaptive:         cfg.Breakers.Adaptive,
		})
		registry.Register(b)
		return b
	}
	vectorBrk := newBreaker("vector", cfg.Breakers.Vector)
	lexicalBrk := newBreaker("lexical", cfg.Breakers.Vector)
	chatBrk := newBreaker("chat", cfg.Breakers.Chat)
	embeddingBrk := newBreaker("embedding", cfg.Breakers.Embedding)
	dmsBrk := newBreaker("dms", cfg.Breakers.DMS)

	// Redis backs the embedding cache, answer cache and conversations
	redisOpts, err := redis.ParseURL(cfg.Stores.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("redis url: %w", err)
	}
	redisClient := redis.NewClient(redisOpts)

	embedder := embedding.NewClient(embedding.Config{
		Model:     cfg.LLM.EmbeddingModel,
		BaseURL:   cfg.LLM.EmbeddingBaseURL,
		APIKey:    cfg.LLM.EmbeddingAPIKey,
		Dimension: cfg.LLM.EmbeddingDimension,
		BatchSize: cfg.LLM.EmbeddingBatchSize,
	}, embedding.NewCache(redisClient, cfg.LLM.GetEmbeddingCacheTTL()), embeddingBrk)

	vectorStore, err := vector.NewStore(ctx, vector.Config{
		Host:       cfg.Stores.QdrantHost,
		Port:       cfg.Stores.QdrantPort,
		APIKey:     cfg.Stores.QdrantAPIKey,
		UseTLS:     cfg.Stores.QdrantUseTLS,
		Collection: cfg.Stores.QdrantCollection,
		Dimension:  cfg.LLM.EmbeddingDimension,
	}, vectorBrk)
	if err != nil {
		return nil, fmt.Errorf("vector store: %w", err)
	}

	lexicalClient := lexical.NewClient(lexical.Config{
		BaseURL:     cfg.Stores.OpenSearchURL,
		Username:    cfg.Stores.OpenSearchUsername,
		Password:    cfg.Stores.OpenSearchPassword,
		IndexPrefix: cfg.Stores.IndexPrefix,
	}, lexicalBrk)

	var reranker retrieval.Reranker
	if rc := rerank.NewClient(rerank.Config{
		URL:    cfg.LLM.RerankURL,
		Model:  cfg.LLM.RerankModel,
		APIKey: cfg.LLM.RerankAPIKey,
	}); rc != nil {
		reranker = rc
	}

	retriever := retrieval.NewRetriever(embedder, vectorStore, lexicalClient, reranker, retrieval.Options{
		RRFK:          cfg.Retrieval.RRFK,
		DenseWeight:   cfg.Retrieval.VectorWeight,
		LexicalWeight: cfg.Retrieval.KeywordWeight,
		TopKRetrieval: cfg.Retrieval.TopKRetrieval,
		RerankEnabled: cfg.Retrieval.RerankEnabled,
		RerankTopN:    cfg.Retrieval.RerankTopN,
	})

	anthropicClient := anthropic.NewClient(option.WithAPIKey(cfg.LLM.ChatAPIKey))
	classifier := intent.NewClassifier(&anthropicClient, cfg.LLM.ChatModel)
	generator := generate.NewGenerator(&anthropicClient, cfg.LLM.ChatModel, chatBrk)

	dmsAdapter, err := dms.New(cfg.DMS, dmsBrk)
	if err != nil {
		return nil, err
	}

	pipeline := ingest.NewPipeline(embedder, vectorStore, lexicalClient,
		cfg.Ingestion.ChunkSize, cfg.Ingestion.ChunkOverlap)

	engine := agent.NewEngine(
		classifier, retriever, generator, pipeline, dmsAdapter,
		agent.NewConversationStore(redisClient, cfg.Retrieval.GetConversationTTL(),
			cfg.Retrieval.HistoryStored, cfg.Retrieval.HistoryInPrompt),
		agent.NewAnswerCache(redisClient, cfg.Retrieval.GetAnswerCacheTTL()),
		vectorStore, lexicalClient,
		agent.Options{
			DefaultTopK:  cfg.Retrieval.DefaultTopK,
			MaxTopK:      cfg.Retrieval.MaxTopK,
			DMSTimeout:   cfg.DMS.GetTimeout(),
			SyncPageSize: cfg.DMS.SyncPageSize,
		})

	checks := map[string]server.HealthChecker{
		"redis": func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		},
		"qdrant": vectorStore.Health,
		"opensearch": func(ctx context.Context) error {
			status, err := lexicalClient.Health(ctx)
			if err != nil {
				return err
			}
			if status == "red" {
				return fmt.Errorf("cluster status red")
			}
			return nil
		},
		"dms": dmsAdapter.HealthCheck,
	}

	logging.Boot("engine wired: dms=%s environment=%s", dmsAdapter.Name(), cfg.Environment)
	return &app{
		cfg:      cfg,
		engine:   engine,
		breakers: registry,
		redis:    redisClient,
		embedder: embedder,
		vector:   vectorStore,
		lexical:  lexicalClient,
		dms:      dmsAdapter,
		checks:   checks,
	}, nil
}

func (a *app) close() {
	if a.redis != nil {
		a.redis.Close()
	}
}
