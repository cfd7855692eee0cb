package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Lllllllleong/cropsense-rag/internal/models"
	"github.com/Lllllllleong/cropsense-rag/internal/store"
)

// DocumentsFunction is the admin surface over ingested documents.
type DocumentsFunction struct {
	store   store.Store
	tracker *StatusTracker
}

// NewDocuments builds the documents function from the environment.
func NewDocuments(ctx context.Context) (*DocumentsFunction, error) {
	config, err := LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	fsStore, err := newFirestoreStore(ctx, config)
	if err != nil {
		return nil, err
	}
	return NewDocumentsFunction(fsStore, config.ProcessingStaleAfter), nil
}

func NewDocumentsFunction(s store.Store, staleAfter time.Duration) *DocumentsFunction {
	return &DocumentsFunction{store: s, tracker: NewStatusTracker(s, staleAfter)}
}

// List returns status records, optionally only those in one state.
func (f *DocumentsFunction) List(ctx context.Context, status models.Status) ([]models.DocumentStatus, error) {
	switch status {
	case models.StatusAbsent, models.StatusPending, models.StatusProcessing, models.StatusCompleted, models.StatusFailed:
	default:
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidRequest, status)
	}
	docs, err := f.store.ListStatuses(ctx, status)
	if err != nil {
		return nil, fmt.Errorf("failed to list statuses: %w", err)
	}
	if docs == nil {
		docs = []models.DocumentStatus{}
	}
	return docs, nil
}

// Stats returns a document's status and the number of chunks actually stored for it.
func (f *DocumentsFunction) Stats(ctx context.Context, documentID string) (*models.DocumentStats, error) {
	st, err := f.store.GetStatus(ctx, documentID)
	if err != nil {
		return nil, err
	}
	n, err := f.store.CountChunks(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to count chunks of %s: %w", documentID, err)
	}
	return &models.DocumentStats{Status: *st, ChunkCount: n}, nil
}

// Reset returns a document to pending and deletes its chunks so the next upload event or
// batch run ingests it from scratch. A document a live worker is processing is refused with
// ErrDocumentBusy and left untouched.
func (f *DocumentsFunction) Reset(ctx context.Context, req *models.DocumentResetRequest) (*models.DocumentStats, error) {
	if req.DocumentID == "" {
		return nil, fmt.Errorf("%w: documentId must be set", ErrInvalidRequest)
	}
	logCtx := slog.With("documentId", req.DocumentID)

	st, err := f.tracker.Reset(ctx, req.DocumentID)
	if err != nil {
		logCtx.Error("Failed to reset status", "error", err)
		return nil, err
	}
	deleted, err := f.store.DeleteChunks(ctx, req.DocumentID)
	if err != nil {
		logCtx.Error("Failed to delete chunks", "error", err)
		return nil, fmt.Errorf("failed to delete chunks of %s: %w", req.DocumentID, err)
	}
	logCtx.Info("Document reset.", "chunksDeleted", deleted)
	return &models.DocumentStats{Status: *st}, nil
}
