package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Lllllllleong/cropsense-rag/internal/models"
)

// MaxRetrieveLimit caps the limit a caller may request.
const MaxRetrieveLimit = 50

// RetrieveFunction serves the retrieval-only HTTP function.
type RetrieveFunction struct {
	retriever *Retriever
	config    Config
}

// NewRetrieve builds the retrieve function from the environment.
func NewRetrieve(ctx context.Context) (*RetrieveFunction, error) {
	config, err := LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	fsStore, err := newFirestoreStore(ctx, config)
	if err != nil {
		return nil, err
	}
	embedder, err := newEmbedder(ctx, config)
	if err != nil {
		return nil, err
	}
	slog.Info("Retrieve function initialized.", "topK", config.TopK, "minScore", config.SimilarityThreshold)
	return NewRetrieveFunction(NewRetriever(fsStore, fsStore, embedder), *config), nil
}

func NewRetrieveFunction(retriever *Retriever, config Config) *RetrieveFunction {
	return &RetrieveFunction{retriever: retriever, config: config}
}

// Process runs one retrieval. A zero limit means TOP_K_RESULTS and a zero minScore means
// SIMILARITY_THRESHOLD.
func (f *RetrieveFunction) Process(ctx context.Context, req *models.RetrieveRequest) (*models.RetrieveResponse, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, fmt.Errorf("%w: query must not be empty", ErrInvalidRequest)
	}
	if req.Limit < 0 || req.MinScore < 0 || req.MinScore > 1 {
		return nil, fmt.Errorf("%w: limit must be non-negative and minScore within [0,1]", ErrInvalidRequest)
	}

	limit := req.Limit
	if limit == 0 {
		limit = f.config.TopK
	}
	limit = min(limit, MaxRetrieveLimit)
	minScore := req.MinScore
	if minScore == 0 {
		minScore = f.config.SimilarityThreshold
	}

	results, err := f.retriever.Retrieve(ctx, query, limit, req.Filters, minScore)
	if err != nil {
		slog.Error("Retrieval failed.", "error", err)
		return nil, fmt.Errorf("retrieval failed: %w", err)
	}

	docs := make([]models.RetrievedDoc, len(results))
	for i, r := range results {
		docs[i] = models.RetrievedDoc{
			ChunkID:    r.Chunk.ID,
			DocumentID: r.Chunk.DocumentID,
			Title:      sourceTitle(r.Chunk),
			Content:    r.Chunk.Content,
			Score:      r.Score,
			PageNumber: pageOf(r.Chunk),
			Metadata:   r.Chunk.Metadata,
		}
	}
	slog.Info("Retrieval complete.", "results", len(docs), "limit", limit, "minScore", minScore)
	return &models.RetrieveResponse{
		Documents:  docs,
		TotalCount: len(docs),
		Query:      query,
		Context:    BuildContext(results, f.config.MaxContextLength),
	}, nil
}
