// Package embedding batches texts through an embedding service under the retry policy.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Lllllllleong/cropsense-rag/internal/gcp"
	"github.com/Lllllllleong/cropsense-rag/internal/models"
	"github.com/Lllllllleong/cropsense-rag/internal/retry"
	"golang.org/x/time/rate"
)

// Service is the raw embedding call. gcp.EmbeddingClient satisfies it.
type Service interface {
	Embed(ctx context.Context, texts []string, taskType string) ([][]float32, error)
}

// BatchClient splits input into fixed-size batches and preserves input order.
type BatchClient struct {
	svc       Service
	batchSize int
	dimension int
	policy    retry.Policy
	limiter   *rate.Limiter
}

// Option configures a BatchClient.
type Option func(*BatchClient)

// WithQPS throttles outbound batch calls. Zero or negative disables throttling.
func WithQPS(qps float64) Option {
	return func(c *BatchClient) {
		if qps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(qps), 1)
		}
	}
}

// NewBatchClient returns a client expecting vectors of exactly dimension floats.
func NewBatchClient(svc Service, batchSize, dimension int, policy retry.Policy, opts ...Option) *BatchClient {
	if batchSize <= 0 {
		batchSize = 20
	}
	c := &BatchClient{
		svc:       svc,
		batchSize: batchSize,
		dimension: dimension,
		policy:    policy,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Dimension is the vector length every result has.
func (c *BatchClient) Dimension() int {
	return c.dimension
}

// EmbedDocuments returns one vector per text; vector i belongs to texts[i]. Any batch that
// still fails after retries fails the whole call.
func (c *BatchClient) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += c.batchSize {
		end := min(start+c.batchSize, len(texts))
		vectors, err := c.embedBatch(ctx, texts[start:end], gcp.TaskRetrievalDocument)
		if err != nil {
			return nil, fmt.Errorf("%w: batch %d-%d: %w", models.ErrEmbeddingService, start, end-1, err)
		}
		out = append(out, vectors...)
		slog.Debug("Embedded batch", "from", start, "to", end-1, "total", len(texts))
	}
	return out, nil
}

// EmbedQuery embeds a single search query.
func (c *BatchClient) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	vectors, err := c.embedBatch(ctx, []string{query}, gcp.TaskRetrievalQuery)
	if err != nil {
		return nil, fmt.Errorf("%w: query: %w", models.ErrEmbeddingService, err)
	}
	return vectors[0], nil
}

func (c *BatchClient) embedBatch(ctx context.Context, batch []string, taskType string) ([][]float32, error) {
	return retry.Do(ctx, c.policy, "embed", func(ctx context.Context) ([][]float32, error) {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				if errors.Is(err, context.Canceled) {
					return nil, err
				}
				// Also covers a wait that would run past the deadline.
				return nil, fmt.Errorf("%w: throttled: %w", models.ErrTimeout, err)
			}
		}
		vectors, err := c.svc.Embed(ctx, batch, taskType)
		if err != nil {
			return nil, err
		}
		if len(vectors) != len(batch) {
			return nil, fmt.Errorf("service returned %d vectors for %d texts", len(vectors), len(batch))
		}
		for i, v := range vectors {
			if c.dimension > 0 && len(v) != c.dimension {
				return nil, fmt.Errorf("vector %d has dimension %d, want %d", i, len(v), c.dimension)
			}
		}
		return vectors, nil
	})
}
