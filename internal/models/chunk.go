package models

import (
	"fmt"
	"slices"
	"time"
)

// ChunkMetadata is the typed metadata stored with every chunk.
type ChunkMetadata struct {
	DocumentID   string   `firestore:"documentId" json:"documentId"`
	Source       string   `firestore:"source" json:"source"`
	PageNumber   int      `firestore:"pageNumber,omitempty" json:"pageNumber,omitempty"`
	ChunkIndex   int      `firestore:"chunkIndex" json:"chunkIndex"`
	DocumentType string   `firestore:"documentType,omitempty" json:"documentType,omitempty"`
	FileType     string   `firestore:"fileType,omitempty" json:"fileType,omitempty"`
	GCSPath      string   `firestore:"gcsPath,omitempty" json:"gcsPath,omitempty"`
	Crops        []string `firestore:"crops,omitempty" json:"crops,omitempty"`
	Region       string   `firestore:"region,omitempty" json:"region,omitempty"`
}

// Chunk is one persisted, embedded span of a document. Chunks are immutable once written.
type Chunk struct {
	ID            string        `firestore:"id" json:"id"`
	DocumentID    string        `firestore:"documentId" json:"documentId"`
	Content       string        `firestore:"content" json:"content"`
	Embedding     []float32     `firestore:"embedding" json:"-"`
	EmbeddingDim  int           `firestore:"embeddingDim" json:"embeddingDim"`
	ChunkIndex    int           `firestore:"chunkIndex" json:"chunkIndex"`
	PageNumber    int           `firestore:"pageNumber,omitempty" json:"pageNumber,omitempty"`
	TokenEstimate int           `firestore:"tokenEstimate" json:"tokenEstimate"`
	Metadata      ChunkMetadata `firestore:"metadata" json:"metadata"`
	IngestRunID   string        `firestore:"ingestRunId,omitempty" json:"ingestRunId,omitempty"`
	CreatedAt     time.Time     `firestore:"createdAt,serverTimestamp" json:"createdAt"`
}

// ChunkID returns the deterministic identifier of the chunk at index within a document.
func ChunkID(documentID string, index int) string {
	return fmt.Sprintf("%s_chunk_%04d", documentID, index)
}

// ChunkFilter narrows a chunk scan. Empty fields match everything.
type ChunkFilter struct {
	DocumentID   string `json:"documentId,omitempty"`
	Crop         string `json:"crop,omitempty"`
	Region       string `json:"region,omitempty"`
	DocumentType string `json:"documentType,omitempty"`
}

// Matches reports whether c passes the filter.
func (f ChunkFilter) Matches(c Chunk) bool {
	if f.DocumentID != "" && c.DocumentID != f.DocumentID {
		return false
	}
	if f.Crop != "" && !slices.Contains(c.Metadata.Crops, f.Crop) {
		return false
	}
	if f.Region != "" && c.Metadata.Region != f.Region {
		return false
	}
	if f.DocumentType != "" && c.Metadata.DocumentType != f.DocumentType {
		return false
	}
	return true
}

// ScoredChunk is a retrieval hit.
type ScoredChunk struct {
	Chunk Chunk
	Score float64
}
