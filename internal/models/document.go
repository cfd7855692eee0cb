package models

import "time"

// Status is the ingestion state of a single document.
type Status string

const (
	StatusAbsent     Status = ""
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether s is completed or failed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransition reports whether moving from s to next keeps the state machine monotone.
// Leaving a terminal state is only possible through an explicit reset, which does not go
// through this check.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusAbsent:
		return next == StatusPending || next == StatusProcessing
	case StatusPending:
		return next == StatusProcessing || next == StatusFailed
	case StatusProcessing:
		return next == StatusCompleted || next == StatusFailed
	default:
		return false
	}
}

// DocumentStatus is the per-document record in Firestore that gates ingestion.
// It is keyed by DocumentID. IngestRunID names the run that owns the record; once the
// status is completed it also names the chunk generation readers may use.
type DocumentStatus struct {
	DocumentID          string    `firestore:"documentId" json:"documentId"`
	Status              Status    `firestore:"status" json:"status"`
	SourcePath          string    `firestore:"sourcePath,omitempty" json:"sourcePath,omitempty"`
	Format              string    `firestore:"format,omitempty" json:"format,omitempty"`
	FileHash            string    `firestore:"fileHash,omitempty" json:"fileHash,omitempty"`
	ChunkCount          int       `firestore:"chunkCount" json:"chunkCount"`
	PageCount           int       `firestore:"pageCount,omitempty" json:"pageCount,omitempty"`
	ErrorMessage        string    `firestore:"errorMessage,omitempty" json:"errorMessage,omitempty"`
	IngestRunID         string    `firestore:"ingestRunId,omitempty" json:"ingestRunId,omitempty"`
	CreatedAt           time.Time `firestore:"createdAt" json:"createdAt"`
	UpdatedAt           time.Time `firestore:"updatedAt" json:"updatedAt"`
	ProcessingStartedAt time.Time `firestore:"processingStartedAt,omitempty" json:"processingStartedAt,omitempty"`
	CompletedAt         time.Time `firestore:"completedAt,omitempty" json:"completedAt,omitempty"`
}

// IngestionSummary is recorded alongside a completed status.
type IngestionSummary struct {
	RunID      string
	SourcePath string
	Format     string
	FileHash   string
	ChunkCount int
	PageCount  int
}
