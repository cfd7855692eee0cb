package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/Lllllllleong/cropsense-rag/internal/gcp"
	"github.com/Lllllllleong/cropsense-rag/internal/models"
	"github.com/Lllllllleong/cropsense-rag/internal/retry"
	"golang.org/x/sync/errgroup"
)

// BatchIngestFunction ingests every supported object under a bucket prefix.
type BatchIngestFunction struct {
	ingestion *IngestionFunction
}

// NewBatchIngest builds the batch function on top of a regular ingestion function.
func NewBatchIngest(ctx context.Context) (*BatchIngestFunction, error) {
	ingestion, err := NewIngestion(ctx)
	if err != nil {
		return nil, err
	}
	return NewBatchIngestFunction(ingestion), nil
}

func NewBatchIngestFunction(ingestion *IngestionFunction) *BatchIngestFunction {
	return &BatchIngestFunction{ingestion: ingestion}
}

// Process lists the prefix and ingests objects with bounded concurrency. Completed
// documents are skipped by the status gate; failed ones are reset first when RetryFailed is
// set.
func (f *BatchIngestFunction) Process(ctx context.Context, req *models.BatchIngestRequest) (*models.BatchIngestResponse, error) {
	if req.Bucket == "" {
		return nil, fmt.Errorf("%w: bucket must be set", ErrInvalidRequest)
	}
	cfg := f.ingestion.config
	prefix := req.Prefix
	if prefix == "" {
		prefix = cfg.WatchPrefix
	}
	logCtx := slog.With("gcsBucket", req.Bucket, "prefix", prefix)

	names, err := retry.Do(ctx, cfg.Retry, "list", func(ctx context.Context) ([]string, error) {
		return f.ingestion.blobs.List(ctx, req.Bucket, prefix)
	})
	if err != nil {
		logCtx.Error("Failed to list objects", "error", err)
		return nil, fmt.Errorf("failed to list gs://%s/%s: %w", req.Bucket, prefix, err)
	}

	resp := &models.BatchIngestResponse{}
	var mu sync.Mutex
	record := func(name string, outcome Outcome) {
		mu.Lock()
		defer mu.Unlock()
		switch outcome {
		case OutcomeIngested:
			resp.Ingested++
		case OutcomeSkipped:
			resp.Skipped++
		default:
			resp.Failed++
			resp.FailedPaths = append(resp.FailedPaths, gcp.Object{Bucket: req.Bucket, Name: name}.URI())
		}
	}

	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(max(cfg.BatchIngestConcurrency, 1))
	for _, name := range names {
		if !IsWatched(name, prefix) {
			continue
		}
		resp.Listed++

		eg.Go(func() error {
			if req.RetryFailed {
				if err := f.resetIfFailed(gctx, DocumentID(name)); err != nil {
					logCtx.Warn("Could not reset failed document", "gcsObject", name, "error", err)
				}
			}
			outcome, err := f.ingestion.IngestObject(gctx, req.Bucket, name, nil)
			if err != nil && gctx.Err() != nil {
				return gctx.Err()
			}
			record(name, outcome)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		logCtx.Error("Batch ingestion interrupted", "error", err)
		return nil, err
	}

	sort.Strings(resp.FailedPaths)
	logCtx.Info("Batch ingestion finished.",
		"listed", resp.Listed,
		"ingested", resp.Ingested,
		"skipped", resp.Skipped,
		"failed", resp.Failed,
	)
	return resp, nil
}

func (f *BatchIngestFunction) resetIfFailed(ctx context.Context, documentID string) error {
	st, err := f.ingestion.store.GetStatus(ctx, documentID)
	if errors.Is(err, models.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if st.Status != models.StatusFailed {
		return nil
	}
	_, err = f.ingestion.tracker.Reset(ctx, documentID)
	return err
}
