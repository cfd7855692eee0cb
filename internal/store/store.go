// Package store persists document status, chunks, user limits and conversation counters.
// Every read-modify-write goes through a mutation callback that the implementation runs
// inside a serializable transaction.
package store

import (
	"context"
	"time"

	"github.com/Lllllllleong/cropsense-rag/internal/models"
)

// MaxChunksPerWrite is the largest number of chunk writes committed as one atomic batch.
// Larger chunk sets are split across several batches.
const MaxChunksPerWrite = 500

// StatusMutation receives the current record, or nil when absent, and returns the record
// to write. Returning nil leaves the record untouched. It may run more than once if the
// transaction is retried, so it must not have side effects.
type StatusMutation func(current *models.DocumentStatus) (*models.DocumentStatus, error)

// LimitMutation is the UserLimit counterpart of StatusMutation.
type LimitMutation func(current *models.UserLimit) (*models.UserLimit, error)

type StatusStore interface {
	// GetStatus returns models.ErrNotFound when the document has no status record.
	GetStatus(ctx context.Context, documentID string) (*models.DocumentStatus, error)
	// UpdateStatus applies mutate atomically and returns the resulting record, which is
	// nil when the record was absent and mutate declined to write.
	UpdateStatus(ctx context.Context, documentID string, mutate StatusMutation) (*models.DocumentStatus, error)
	// ListStatuses returns all records, or only those with the given status when non-empty.
	ListStatuses(ctx context.Context, status models.Status) ([]models.DocumentStatus, error)
	DeleteStatusesBefore(ctx context.Context, status models.Status, cutoff time.Time) (int, error)
}

type ChunkStore interface {
	// WriteChunks upserts chunks in atomic batches of at most MaxChunksPerWrite. A failure
	// can leave earlier batches written; readers only trust chunks whose IngestRunID is
	// committed by a completed status record.
	WriteChunks(ctx context.Context, chunks []models.Chunk) error
	// DeleteStaleChunks removes chunks of documentID written by any run other than runID.
	DeleteStaleChunks(ctx context.Context, documentID, runID string) (int, error)
	// DeleteRunChunks removes the chunks of documentID written by runID.
	DeleteRunChunks(ctx context.Context, documentID, runID string) (int, error)
	DeleteChunks(ctx context.Context, documentID string) (int, error)
	// ListChunks returns matching chunks in insertion order.
	ListChunks(ctx context.Context, filter models.ChunkFilter) ([]models.Chunk, error)
	CountChunks(ctx context.Context, documentID string) (int, error)
}

type LimitStore interface {
	UpdateLimit(ctx context.Context, userID string, mutate LimitMutation) (*models.UserLimit, error)
	DeleteLimitsBefore(ctx context.Context, cutoff time.Time) (int, error)
}

type ConversationStore interface {
	// GetConversation returns models.ErrNotFound for unknown ids.
	GetConversation(ctx context.Context, conversationID string) (*models.Conversation, error)
	// RecordMessage applies mutate to userID's limit record and adds one message to the
	// conversation, stamping updatedAt, in a single transaction. Either both writes land or
	// neither does. A missing conversation returns models.ErrNotFound.
	RecordMessage(ctx context.Context, conversationID, userID string, at time.Time, mutate LimitMutation) (*models.UserLimit, error)
}

// Store bundles every collection the pipeline touches.
type Store interface {
	StatusStore
	ChunkStore
	LimitStore
	ConversationStore
	Close() error
}

func cloneStatus(s *models.DocumentStatus) *models.DocumentStatus {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}

func cloneLimit(l *models.UserLimit) *models.UserLimit {
	if l == nil {
		return nil
	}
	c := *l
	return &c
}
