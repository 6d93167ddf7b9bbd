package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/hunterwarburton/ragstore/internal/cache"
	"github.com/hunterwarburton/ragstore/internal/chunker"
	"github.com/hunterwarburton/ragstore/internal/core"
	"github.com/hunterwarburton/ragstore/internal/embed"
	"github.com/hunterwarburton/ragstore/internal/engine"
	"github.com/hunterwarburton/ragstore/internal/ingest"
	"github.com/hunterwarburton/ragstore/internal/logger"
	"github.com/hunterwarburton/ragstore/internal/metastore"
	"github.com/hunterwarburton/ragstore/internal/vectorstore"
)

// Config represents the application configuration.
type Config struct {
	EmbeddingBaseURL   string
	EmbeddingAPIKey    string
	EmbeddingModel     string
	EmbeddingDim       int
	EmbeddingBatchSize int

	ChunkTargetSize int
	ChunkOverlap    int
	ChunkMinSize    int

	CacheMaxEntries int
	CacheLocalTTL   time.Duration
	CacheRemoteTTL  time.Duration
	QueryCacheTTL   time.Duration

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	VectorBackend    string
	MilvusHost       string
	MilvusPort       string
	MilvusCollection string

	SQLitePath string

	RerankBaseWeight    float64
	RerankContextWeight float64
	SimilarityThreshold float64
	DefaultLimit        int
}

// loadConfig loads configuration from environment variables.
func loadConfig() *Config {
	return &Config{
		EmbeddingBaseURL:   getEnvWithDefault("EMBEDDING_BASE_URL", "http://localhost:11434/v1"),
		EmbeddingAPIKey:    os.Getenv("EMBEDDING_API_KEY"),
		EmbeddingModel:     getEnvWithDefault("EMBEDDING_MODEL", "all-minilm"),
		EmbeddingDim:       getEnvInt("EMBEDDING_DIM", vectorstore.DefaultDimension),
		EmbeddingBatchSize: getEnvInt("EMBEDDING_BATCH_SIZE", 64),

		ChunkTargetSize: getEnvInt("CHUNK_TARGET_SIZE", 1000),
		ChunkOverlap:    getEnvInt("CHUNK_OVERLAP", 200),
		ChunkMinSize:    getEnvInt("CHUNK_MIN_SIZE", 100),

		CacheMaxEntries: getEnvInt("CACHE_MAX_ENTRIES", cache.DefaultLRUMaxEntries),
		CacheLocalTTL:   getEnvDuration("CACHE_LOCAL_TTL", cache.DefaultLRUTTL),
		CacheRemoteTTL:  getEnvDuration("CACHE_REMOTE_TTL", cache.DefaultRedisTTL),
		QueryCacheTTL:   getEnvDuration("QUERY_CACHE_TTL", 15*time.Minute),

		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		VectorBackend:    getEnvWithDefault("VECTOR_BACKEND", "milvus"),
		MilvusHost:       getEnvWithDefault("MILVUS_HOST", "milvus"),
		MilvusPort:       getEnvWithDefault("MILVUS_PORT", "19530"),
		MilvusCollection: getEnvWithDefault("MILVUS_COLLECTION", vectorstore.DefaultCollection),

		SQLitePath: os.Getenv("SQLITE_PATH"),

		RerankBaseWeight:    getEnvFloat("RERANK_BASE_WEIGHT", engine.DefaultBaseWeight),
		RerankContextWeight: getEnvFloat("RERANK_CONTEXT_WEIGHT", engine.DefaultContextWeight),
		SimilarityThreshold: getEnvFloat("SIMILARITY_THRESHOLD", 0),
		DefaultLimit:        getEnvInt("QUERY_DEFAULT_LIMIT", engine.DefaultLimit),
	}
}

// getEnvWithDefault gets an environment variable or returns a default value.
func getEnvWithDefault(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		logger.Warn("Invalid integer for %s: %q, using %d", key, value, defaultValue)
		return defaultValue
	}
	return n
}

func getEnvFloat(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		logger.Warn("Invalid float for %s: %q, using %g", key, value, defaultValue)
		return defaultValue
	}
	return f
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		logger.Warn("Invalid duration for %s: %q, using %s", key, value, defaultValue)
		return defaultValue
	}
	return d
}

func main() {
	debug := flag.Bool("debug", false, "Enable debug logging")
	ingestPath := flag.String("ingest", "", "Ingest the file at this path and exit")
	docID := flag.String("doc-id", "", "Document id for -ingest (default: random UUID)")
	docType := flag.String("doc-type", "", "Document type payload field for -ingest")
	source := flag.String("source", "", "Source payload field for -ingest")
	deleteID := flag.String("delete", "", "Delete the document with this id and exit")
	queryText := flag.String("query", "", "Run this query and exit")
	queryContext := flag.String("context", "", "Conversation context for -query re-ranking")
	queryLimit := flag.Int("limit", 0, "Result limit for -query (default: QUERY_DEFAULT_LIMIT)")
	rerank := flag.Bool("rerank", false, "Enable context re-ranking for -query")
	flag.Parse()

	logger.Init(*debug)
	logger.Info("Starting ragstore...")

	if err := godotenv.Load(); err != nil {
		logger.Info("Warning: No .env file found or error loading it")
	}

	config := loadConfig()

	if logger.IsDebugEnabled() {
		logger.Debug("Configuration loaded: EmbeddingModel=%s, EmbeddingDim=%d, VectorBackend=%s, MilvusHost=%s, RedisAddr=%q, SQLitePath=%q",
			config.EmbeddingModel, config.EmbeddingDim, config.VectorBackend, config.MilvusHost, config.RedisAddr, config.SQLitePath)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger.Info("Initializing services...")

	// Cache: tier 1 always, tier 2 only when Redis is configured.
	local := cache.NewLRU(config.CacheMaxEntries, config.CacheLocalTTL)
	var remote cache.RemoteStore
	if config.RedisAddr != "" {
		redisStore := cache.NewRedis(config.RedisAddr, config.RedisPassword, config.RedisDB, cache.DefaultRedisPrefix)
		if err := redisStore.Ping(ctx); err != nil {
			logger.Warn("Redis unreachable at %s, continuing on tier-1 only: %v", config.RedisAddr, err)
		} else {
			remote = redisStore
			logger.Info("Redis tier-2 cache connected at %s", config.RedisAddr)
		}
	}
	tieredCache := cache.NewTwoTier(local, remote, config.CacheLocalTTL, config.CacheRemoteTTL)

	// Embedding: HTTP client with the deterministic fallback behind it.
	client := embed.NewClient(embed.ClientConfig{
		BaseURL:   config.EmbeddingBaseURL,
		APIKey:    config.EmbeddingAPIKey,
		Model:     config.EmbeddingModel,
		Dimension: config.EmbeddingDim,
		BatchSize: config.EmbeddingBatchSize,
	})
	embedder := embed.NewEmbedder(client, embed.NewFallback(config.EmbeddingDim), tieredCache, config.EmbeddingModel)

	// Vector store: Milvus in production, in-memory for local dev.
	var store core.VectorStore
	if config.VectorBackend == "memory" {
		logger.Info("Using in-memory vector store (dev mode)")
		store = vectorstore.NewMemory()
	} else {
		milvus, err := vectorstore.NewMilvus(ctx, vectorstore.MilvusConfig{
			Address:    config.MilvusHost + ":" + config.MilvusPort,
			Collection: config.MilvusCollection,
			Dimension:  config.EmbeddingDim,
		})
		if err != nil {
			logger.Error("Failed to connect to Milvus: %v", err)
			os.Exit(1)
		}
		store = milvus
	}

	if err := store.EnsureCollection(ctx); err != nil {
		logger.Error("Failed to bootstrap collection: %v", err)
		os.Exit(1)
	}

	var meta core.MetadataStore
	if config.SQLitePath != "" {
		sqliteStore, err := metastore.NewStore(config.SQLitePath)
		if err != nil {
			logger.Error("Failed to open metadata store at %s: %v", config.SQLitePath, err)
			os.Exit(1)
		}
		meta = sqliteStore
		logger.Info("Metadata store opened at %s", config.SQLitePath)
	}

	splitter := chunker.New(config.ChunkTargetSize, config.ChunkOverlap, config.ChunkMinSize)
	pipeline := ingest.New(splitter, embedder, store, meta, tieredCache)
	queryEngine := engine.New(embedder, store, tieredCache, engine.Config{
		BaseWeight:          config.RerankBaseWeight,
		ContextWeight:       config.RerankContextWeight,
		SimilarityThreshold: config.SimilarityThreshold,
		DefaultLimit:        config.DefaultLimit,
		CacheTTL:            config.QueryCacheTTL,
	})
	exitCode := 0
	switch {
	case *ingestPath != "":
		exitCode = runIngest(ctx, pipeline, *ingestPath, *docID, *docType, *source)
	case *deleteID != "":
		exitCode = runDelete(ctx, pipeline, *deleteID)
	case *queryText != "":
		exitCode = runQuery(ctx, queryEngine, core.QueryRequest{
			Query:           *queryText,
			Limit:           *queryLimit,
			Context:         *queryContext,
			EnableReranking: *rerank,
		})
	default:
		logger.Error("Nothing to do: pass -ingest, -delete, or -query")
		flag.Usage()
		exitCode = 2
	}

	if err := store.Close(); err != nil {
		logger.Warn("Closing vector store: %v", err)
	}
	if meta != nil {
		if err := meta.Close(); err != nil {
			logger.Warn("Closing metadata store: %v", err)
		}
	}
	if remote != nil {
		if err := remote.Close(); err != nil {
			logger.Warn("Closing Redis: %v", err)
		}
	}

	os.Exit(exitCode)
}

func runIngest(ctx context.Context, pipeline *ingest.Pipeline, path, docID, docType, source string) int {
	content, err := os.ReadFile(path)
	if err != nil {
		logger.Error("Failed to read %s: %v", path, err)
		return 1
	}

	metadata := map[string]interface{}{"source": source}
	if source == "" {
		metadata["source"] = path
	}
	if docID != "" {
		metadata["document_id"] = docID
	}
	if docType != "" {
		metadata["document_type"] = docType
	}

	result, err := pipeline.Ingest(ctx, string(content), metadata)
	if err != nil {
		logger.Error("Ingest failed: %v", err)
		return 1
	}
	printJSON(result)
	return 0
}

func runDelete(ctx context.Context, pipeline *ingest.Pipeline, docID string) int {
	if err := pipeline.Delete(ctx, docID); err != nil {
		logger.Error("Delete failed: %v", err)
		return 1
	}
	logger.Info("Deleted document %s", docID)
	return 0
}

func runQuery(ctx context.Context, queryEngine *engine.Engine, req core.QueryRequest) int {
	resp, err := queryEngine.Query(ctx, req)
	if err != nil {
		logger.Error("Query failed: %v", err)
		return 1
	}
	printJSON(resp)
	return 0
}

func printJSON(v interface{}) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		logger.Error("Failed to encode output: %v", err)
		return
	}
	os.Stdout.Write(append(data, '\n'))
}
