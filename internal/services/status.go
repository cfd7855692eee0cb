package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Lllllllleong/cropsense-rag/internal/models"
	"github.com/Lllllllleong/cropsense-rag/internal/store"
)

// ErrInvalidTransition is returned when a terminal update finds the document in a state
// that does not allow it, for example after an external reset.
var ErrInvalidTransition = errors.New("invalid status transition")

// ErrDocumentBusy is returned by Reset while a live worker owns the document.
var ErrDocumentBusy = errors.New("document is being processed")

// Decision is the outcome of BeginIngestion.
type Decision int

const (
	Proceed Decision = iota
	SkipCompleted
	SkipInFlight
	SkipFailed
)

func (d Decision) String() string {
	switch d {
	case Proceed:
		return "proceed"
	case SkipCompleted:
		return "skip-completed"
	case SkipInFlight:
		return "skip-in-flight"
	case SkipFailed:
		return "skip-failed"
	default:
		return "unknown"
	}
}

// StatusTracker drives the per-document state machine
// absent -> pending -> processing -> {completed, failed}.
type StatusTracker struct {
	store      store.StatusStore
	staleAfter time.Duration
	now        func() time.Time
}

// NewStatusTracker returns a tracker that reclaims processing records older than
// staleAfter. Zero disables reclaiming.
func NewStatusTracker(s store.StatusStore, staleAfter time.Duration) *StatusTracker {
	return &StatusTracker{store: s, staleAfter: staleAfter, now: time.Now}
}

// MarkPending records a newly seen document. Existing records are left alone.
func (t *StatusTracker) MarkPending(ctx context.Context, documentID, sourcePath, format string) error {
	_, err := t.store.UpdateStatus(ctx, documentID, func(cur *models.DocumentStatus) (*models.DocumentStatus, error) {
		if cur != nil {
			return nil, nil
		}
		now := t.now()
		return &models.DocumentStatus{
			DocumentID: documentID,
			Status:     models.StatusPending,
			SourcePath: sourcePath,
			Format:     format,
			CreatedAt:  now,
			UpdatedAt:  now,
		}, nil
	})
	return err
}

// BeginIngestion moves the document to processing under runID in one transaction, unless
// it is completed, failed, or being processed by a live worker.
func (t *StatusTracker) BeginIngestion(ctx context.Context, documentID, sourcePath, format, runID string) (Decision, error) {
	decision := Proceed
	_, err := t.store.UpdateStatus(ctx, documentID, func(cur *models.DocumentStatus) (*models.DocumentStatus, error) {
		now := t.now()
		decision = Proceed
		if cur == nil {
			cur = &models.DocumentStatus{DocumentID: documentID, CreatedAt: now}
		}

		switch cur.Status {
		case models.StatusCompleted:
			decision = SkipCompleted
			return nil, nil
		case models.StatusFailed:
			decision = SkipFailed
			return nil, nil
		case models.StatusProcessing:
			if !t.isStale(cur, now) {
				decision = SkipInFlight
				return nil, nil
			}
			slog.Warn("Reclaiming stale processing record",
				"documentId", documentID,
				"staleRunId", cur.IngestRunID,
				"processingStartedAt", cur.ProcessingStartedAt,
				"staleAfter", t.staleAfter.String(),
			)
		}

		cur.Status = models.StatusProcessing
		cur.IngestRunID = runID
		cur.SourcePath = sourcePath
		cur.Format = format
		cur.ErrorMessage = ""
		cur.ProcessingStartedAt = now
		cur.UpdatedAt = now
		return cur, nil
	})
	if err != nil {
		return decision, fmt.Errorf("failed to begin ingestion of %s: %w", documentID, err)
	}
	return decision, nil
}

// Complete records a successful run and commits its chunk generation. It fails with
// ErrInvalidTransition when another run has taken the record over.
func (t *StatusTracker) Complete(ctx context.Context, documentID string, summary models.IngestionSummary) error {
	_, err := t.store.UpdateStatus(ctx, documentID, func(cur *models.DocumentStatus) (*models.DocumentStatus, error) {
		if err := checkOwner(cur, summary.RunID, models.StatusCompleted); err != nil {
			return nil, err
		}
		now := t.now()
		cur.Status = models.StatusCompleted
		cur.SourcePath = summary.SourcePath
		cur.Format = summary.Format
		cur.FileHash = summary.FileHash
		cur.ChunkCount = summary.ChunkCount
		cur.PageCount = summary.PageCount
		cur.ErrorMessage = ""
		cur.CompletedAt = now
		cur.UpdatedAt = now
		return cur, nil
	})
	return err
}

// Fail records a failed run with its error message.
func (t *StatusTracker) Fail(ctx context.Context, documentID, runID, message string) error {
	_, err := t.store.UpdateStatus(ctx, documentID, func(cur *models.DocumentStatus) (*models.DocumentStatus, error) {
		if err := checkOwner(cur, runID, models.StatusFailed); err != nil {
			return nil, err
		}
		cur.Status = models.StatusFailed
		cur.ErrorMessage = message
		cur.UpdatedAt = t.now()
		return cur, nil
	})
	return err
}

// Reset is the explicit external reset: the record goes back to pending. A document that a
// live worker is still processing is refused with ErrDocumentBusy.
func (t *StatusTracker) Reset(ctx context.Context, documentID string) (*models.DocumentStatus, error) {
	rec, err := t.store.UpdateStatus(ctx, documentID, func(cur *models.DocumentStatus) (*models.DocumentStatus, error) {
		if cur == nil {
			return nil, fmt.Errorf("status %s: %w", documentID, models.ErrNotFound)
		}
		if cur.Status == models.StatusProcessing && !t.isStale(cur, t.now()) {
			return nil, fmt.Errorf("%w: %s is processing run %s", ErrDocumentBusy, documentID, cur.IngestRunID)
		}
		cur.Status = models.StatusPending
		cur.IngestRunID = ""
		cur.ErrorMessage = ""
		cur.ChunkCount = 0
		cur.ProcessingStartedAt = time.Time{}
		cur.CompletedAt = time.Time{}
		cur.UpdatedAt = t.now()
		return cur, nil
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// isStale reports whether a processing record has outlived staleAfter. Zero staleAfter
// never reclaims.
func (t *StatusTracker) isStale(cur *models.DocumentStatus, now time.Time) bool {
	return t.staleAfter > 0 && now.Sub(cur.ProcessingStartedAt) >= t.staleAfter
}

func checkOwner(cur *models.DocumentStatus, runID string, next models.Status) error {
	if cur == nil || !cur.Status.CanTransition(next) {
		return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, statusOf(cur), next)
	}
	if cur.IngestRunID != runID {
		return fmt.Errorf("%w: run %s no longer owns the record, %s does", ErrInvalidTransition, runID, cur.IngestRunID)
	}
	return nil
}

func statusOf(s *models.DocumentStatus) models.Status {
	if s == nil {
		return models.StatusAbsent
	}
	return s.Status
}
