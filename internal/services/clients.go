package services

import (
	"context"
	"fmt"
	"log/slog"

	"cloud.google.com/go/storage"
	"github.com/Lllllllleong/cropsense-rag/internal/cache"
	"github.com/Lllllllleong/cropsense-rag/internal/embedding"
	"github.com/Lllllllleong/cropsense-rag/internal/gcp"
	"github.com/Lllllllleong/cropsense-rag/internal/models"
	"github.com/Lllllllleong/cropsense-rag/internal/store"
)

// ObjectStore is the blob-store surface ingestion needs. gcp.BlobStore satisfies it.
type ObjectStore interface {
	Download(ctx context.Context, bucket, name string) (*gcp.Object, error)
	List(ctx context.Context, bucket, prefix string) ([]string, error)
	SaveAtomically(ctx context.Context, bucket, name, content string) error
}

// Embedder produces document and query vectors. embedding.BatchClient satisfies it.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, query string) ([]float32, error)
	Dimension() int
}

// Generator sends one prompt to the generative model. gcp.VertexClient satisfies it.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// RequestLimiter admits generative requests. ratelimit.Limiter satisfies it.
type RequestLimiter interface {
	Allow(ctx context.Context, userID string) error
}

var (
	_ ObjectStore = (*gcp.BlobStore)(nil)
	_ Embedder    = (*embedding.BatchClient)(nil)
	_ Generator   = (*gcp.VertexClient)(nil)
)

func newFirestoreStore(ctx context.Context, cfg *Config) (*store.FirestoreStore, error) {
	client, err := gcp.NewFirestoreClient(ctx, cfg.ProjectID, cfg.FirestoreDatabase)
	if err != nil {
		return nil, err
	}
	return store.NewFirestoreStore(client, cfg.Collections), nil
}

func newBlobStore(ctx context.Context) (*gcp.BlobStore, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	return gcp.NewBlobStore(client), nil
}

func newEmbedder(ctx context.Context, cfg *Config) (*embedding.BatchClient, error) {
	svc, err := gcp.NewEmbeddingClient(ctx, cfg.ProjectID, cfg.VertexAIRegion, cfg.EmbeddingModel, cfg.EmbeddingDimension)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding client: %w", err)
	}
	return embedding.NewBatchClient(svc, cfg.EmbeddingBatchSize, cfg.EmbeddingDimension, cfg.Retry,
		embedding.WithQPS(cfg.EmbeddingQPS)), nil
}

// newCache prefers Redis when REDIS_ADDR is set and reachable, and otherwise falls back to
// a per-instance cache.
func newCache(ctx context.Context, cfg *Config) cache.Cache {
	if cfg.RedisAddr != "" {
		client, err := cache.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err == nil {
			slog.Info("Using redis answer cache", "addr", cfg.RedisAddr, "ttl", cfg.CacheTTL.String())
			return cache.NewRedis(client, cfg.CacheTTL, cache.DefaultKeyPrefix)
		}
		slog.Warn("Redis unavailable, using in-memory answer cache", "error", err)
	}
	return cache.NewMemory(cfg.CacheTTL, cfg.CacheMaxEntries)
}

// sourceTitle is the human-readable label of a chunk's source document.
func sourceTitle(c models.Chunk) string {
	if c.Metadata.Source != "" {
		return c.Metadata.Source
	}
	return c.DocumentID
}
