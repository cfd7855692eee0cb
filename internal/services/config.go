package services

import (
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/Lllllllleong/cropsense-rag/internal/chunker"
	"github.com/Lllllllleong/cropsense-rag/internal/gcp"
	"github.com/Lllllllleong/cropsense-rag/internal/ratelimit"
	"github.com/Lllllllleong/cropsense-rag/internal/retry"
	"github.com/Lllllllleong/cropsense-rag/internal/store"
	"github.com/joho/godotenv"
)

var supportedDimensions = []int{256, 512, 768, 1024}

// Config holds all configuration shared by the pipeline functions.
type Config struct {
	ProjectID         string
	VertexAIRegion    string
	FirestoreDatabase string
	Collections       store.Collections

	EmbeddingModel     string
	EmbeddingDimension int
	EmbeddingBatchSize int
	EmbeddingQPS       float64
	GenerationModel    string

	Chunking            chunker.Config
	TopK                int
	MaxContextLength    int
	SimilarityThreshold float64
	FallbackThreshold   float64

	Quotas ratelimit.Quotas

	CacheTTL        time.Duration
	CacheMaxEntries int
	RedisAddr       string
	RedisPassword   string
	RedisDB         int

	WatchPrefix            string
	ProcessingStaleAfter   time.Duration
	BatchIngestConcurrency int
	ExtractedTextBucket    string

	LimitRecordTTL  time.Duration
	FailedStatusTTL time.Duration

	Retry retry.Policy
}

// LoadConfig reads the environment, after loading a local .env file if one exists, and
// validates the result.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	projectID := gcp.GetEnv("PROJECT_ID", "")
	if projectID == "" {
		projectID = os.Getenv("GOOGLE_CLOUD_PROJECT")
	}
	if projectID == "" {
		return nil, fmt.Errorf("PROJECT_ID or GOOGLE_CLOUD_PROJECT environment variable must be set")
	}

	cols := store.DefaultCollections()
	cols.Status = gcp.GetEnv("STATUS_COLLECTION", cols.Status)
	cols.Chunks = gcp.GetEnv("VECTOR_COLLECTION", cols.Chunks)
	cols.Limits = gcp.GetEnv("LIMITS_COLLECTION", cols.Limits)
	cols.Conversations = gcp.GetEnv("CONVERSATIONS_COLLECTION", cols.Conversations)

	defaults := retry.DefaultPolicy()
	cfg := &Config{
		ProjectID:         projectID,
		VertexAIRegion:    gcp.GetEnv("VERTEX_AI_REGION", "us-central1"),
		FirestoreDatabase: gcp.GetEnv("FIRESTORE_DATABASE", ""),
		Collections:       cols,

		EmbeddingModel:     gcp.GetEnv("EMBEDDING_MODEL", "text-embedding-005"),
		EmbeddingDimension: gcp.GetEnvInt("EMBEDDING_DIMENSION", 768),
		EmbeddingBatchSize: gcp.GetEnvInt("EMBEDDING_BATCH_SIZE", 20),
		EmbeddingQPS:       gcp.GetEnvFloat("EMBEDDING_QPS", 0),
		GenerationModel:    gcp.GetEnv("GENERATION_MODEL", "gemini-1.5-flash"),

		Chunking: chunker.Config{
			MaxChars: gcp.GetEnvInt("CHUNK_SIZE", 512),
			Overlap:  gcp.GetEnvInt("CHUNK_OVERLAP", 50),
		},
		TopK:                gcp.GetEnvInt("TOP_K_RESULTS", 5),
		MaxContextLength:    gcp.GetEnvInt("MAX_CONTEXT_LENGTH", 8000),
		SimilarityThreshold: gcp.GetEnvFloat("SIMILARITY_THRESHOLD", 0.6),
		FallbackThreshold:   gcp.GetEnvFloat("GEMINI_FALLBACK_THRESHOLD", 0.5),

		Quotas: ratelimit.Quotas{
			MaxConversationsPerDay: gcp.GetEnvInt("MAX_CONVERSATIONS_PER_DAY", 20),
			MaxMessagesPerHour:     gcp.GetEnvInt("MAX_MESSAGES_PER_HOUR", 100),
			MaxRequestsPerHour:     gcp.GetEnvInt("GEMINI_MAX_REQUESTS_PER_HOUR", 60),
		},

		CacheTTL:        gcp.GetEnvDuration("GEMINI_CACHE_TTL", 24*time.Hour),
		CacheMaxEntries: gcp.GetEnvInt("CACHE_MAX_ENTRIES", 1000),
		RedisAddr:       gcp.GetEnv("REDIS_ADDR", ""),
		RedisPassword:   gcp.GetEnv("REDIS_PASSWORD", ""),
		RedisDB:         gcp.GetEnvInt("REDIS_DB", 0),

		WatchPrefix:            gcp.GetEnv("WATCH_PREFIX", "documents/"),
		ProcessingStaleAfter:   gcp.GetEnvDuration("PROCESSING_STALE_AFTER", 30*time.Minute),
		BatchIngestConcurrency: gcp.GetEnvInt("BATCH_INGEST_CONCURRENCY", 4),
		ExtractedTextBucket:    gcp.GetEnv("EXTRACTED_TEXT_BUCKET", ""),

		LimitRecordTTL:  gcp.GetEnvDuration("LIMIT_RECORD_TTL", 7*24*time.Hour),
		FailedStatusTTL: gcp.GetEnvDuration("FAILED_STATUS_TTL", 30*24*time.Hour),

		Retry: retry.Policy{
			MaxAttempts:    gcp.GetEnvInt("RETRY_MAX_ATTEMPTS", defaults.MaxAttempts),
			BaseDelay:      gcp.GetEnvDuration("RETRY_BASE_DELAY", defaults.BaseDelay),
			Multiplier:     gcp.GetEnvFloat("RETRY_MULTIPLIER", defaults.Multiplier),
			MaxDelay:       gcp.GetEnvDuration("RETRY_MAX_DELAY", defaults.MaxDelay),
			AttemptTimeout: gcp.GetEnvDuration("ATTEMPT_TIMEOUT", 60*time.Second),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	var problems []string
	if err := c.Chunking.Validate(); err != nil {
		problems = append(problems, err.Error())
	}
	if !slices.Contains(supportedDimensions, c.EmbeddingDimension) {
		problems = append(problems, fmt.Sprintf("EMBEDDING_DIMENSION must be one of %v, got %d", supportedDimensions, c.EmbeddingDimension))
	}
	if c.TopK < 1 || c.TopK > 50 {
		problems = append(problems, fmt.Sprintf("TOP_K_RESULTS must be between 1 and 50, got %d", c.TopK))
	}
	if c.SimilarityThreshold < 0 || c.SimilarityThreshold > 1 {
		problems = append(problems, fmt.Sprintf("SIMILARITY_THRESHOLD must be between 0 and 1, got %g", c.SimilarityThreshold))
	}
	if c.FallbackThreshold < 0 || c.FallbackThreshold > 1 {
		problems = append(problems, fmt.Sprintf("GEMINI_FALLBACK_THRESHOLD must be between 0 and 1, got %g", c.FallbackThreshold))
	}
	if c.EmbeddingBatchSize < 1 || c.EmbeddingBatchSize > 250 {
		problems = append(problems, fmt.Sprintf("EMBEDDING_BATCH_SIZE must be between 1 and 250, got %d", c.EmbeddingBatchSize))
	}
	if c.MaxContextLength < 1 {
		problems = append(problems, "MAX_CONTEXT_LENGTH must be positive")
	}
	if c.Retry.MaxAttempts < 1 {
		problems = append(problems, "RETRY_MAX_ATTEMPTS must be at least 1")
	}
	if c.BatchIngestConcurrency < 1 {
		problems = append(problems, "BATCH_INGEST_CONCURRENCY must be at least 1")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// LogLevel maps LOG_LEVEL to a slog level; unknown values mean info.
func LogLevel() slog.Level {
	switch strings.ToLower(gcp.GetEnv("LOG_LEVEL", "info")) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
