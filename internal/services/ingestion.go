package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"path"
	"slices"
	"strings"

	"github.com/Lllllllleong/cropsense-rag/internal/chunker"
	"github.com/Lllllllleong/cropsense-rag/internal/extract"
	"github.com/Lllllllleong/cropsense-rag/internal/gcp"
	"github.com/Lllllllleong/cropsense-rag/internal/models"
	"github.com/Lllllllleong/cropsense-rag/internal/retry"
	"github.com/Lllllllleong/cropsense-rag/internal/store"
	"github.com/oklog/ulid/v2"
)

// watchedExtensions are the upload types the trigger reacts to. Legacy .doc files are
// accepted and then fail extraction as an unsupported format.
var watchedExtensions = []string{"pdf", "docx", "doc", "txt"}

// Outcome is what happened to one object.
type Outcome int

const (
	OutcomeIngested Outcome = iota
	OutcomeSkipped
	OutcomeFailed
)

// IngestionFunction turns an uploaded object into embedded chunks.
type IngestionFunction struct {
	blobs    ObjectStore
	store    store.Store
	embedder Embedder
	tracker  *StatusTracker
	config   Config
}

// NewIngestion builds the ingestion function from the environment.
func NewIngestion(ctx context.Context) (*IngestionFunction, error) {
	config, err := LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	fsStore, err := newFirestoreStore(ctx, config)
	if err != nil {
		return nil, err
	}
	blobs, err := newBlobStore(ctx)
	if err != nil {
		return nil, err
	}
	embedder, err := newEmbedder(ctx, config)
	if err != nil {
		return nil, err
	}

	slog.Info("Ingestion logic initialized.",
		"watchPrefix", config.WatchPrefix,
		"embeddingModel", config.EmbeddingModel,
		"embeddingDimension", config.EmbeddingDimension,
	)
	return NewIngestionFunction(blobs, fsStore, embedder, *config), nil
}

func NewIngestionFunction(blobs ObjectStore, s store.Store, embedder Embedder, config Config) *IngestionFunction {
	return &IngestionFunction{
		blobs:    blobs,
		store:    s,
		embedder: embedder,
		tracker:  NewStatusTracker(s, config.ProcessingStaleAfter),
		config:   config,
	}
}

// IsWatched reports whether an object name is under prefix with a supported extension.
func IsWatched(name, prefix string) bool {
	if !strings.HasPrefix(name, prefix) || strings.HasSuffix(name, "/") {
		return false
	}
	return slices.Contains(watchedExtensions, extract.FormatFromName(name))
}

// DocumentID is the object's file name without directory or extension.
func DocumentID(name string) string {
	base := path.Base(name)
	return strings.TrimSuffix(base, path.Ext(base))
}

// Process handles one "object finalized" event. Objects outside the watched prefix are
// ignored. Pipeline failures are recorded on the document and not returned.
func (f *IngestionFunction) Process(ctx context.Context, e models.GCSEvent) error {
	if !IsWatched(e.Name, f.config.WatchPrefix) {
		slog.Debug("Ignoring object outside watched prefix.", "gcsBucket", e.Bucket, "gcsObject", e.Name)
		return nil
	}
	_, err := f.IngestObject(ctx, e.Bucket, e.Name, e.Metadata)
	return err
}

// IngestObject runs the full pipeline for one object. The error is non-nil only when the
// status store itself could not be updated.
func (f *IngestionFunction) IngestObject(ctx context.Context, bucket, name string, metadata map[string]string) (Outcome, error) {
	documentID := DocumentID(name)
	format := extract.FormatFromName(name)
	sourcePath := fmt.Sprintf("gs://%s/%s", bucket, name)
	runID := ulid.Make().String()
	logCtx := slog.With("documentId", documentID, "ingestRunId", runID, "gcsBucket", bucket, "gcsObject", name)
	logCtx.Info("Processing new GCS object.")

	if err := f.tracker.MarkPending(ctx, documentID, sourcePath, format); err != nil {
		logCtx.Error("Failed to record pending status", "error", err)
		return OutcomeFailed, err
	}
	decision, err := f.tracker.BeginIngestion(ctx, documentID, sourcePath, format, runID)
	if err != nil {
		logCtx.Error("Failed to begin ingestion", "error", err)
		return OutcomeFailed, err
	}
	if decision != Proceed {
		logCtx.Info("Skipping document.", "decision", decision.String())
		return OutcomeSkipped, nil
	}

	summary, err := f.run(ctx, logCtx, documentID, runID, bucket, name, format, metadata)
	if err != nil {
		if recordErr := f.handleError(ctx, logCtx, documentID, runID, err); recordErr != nil {
			return OutcomeFailed, recordErr
		}
		return OutcomeFailed, nil
	}

	if err := f.tracker.Complete(ctx, documentID, *summary); err != nil {
		logCtx.Error("CRITICAL: Failed to record completed status.", "error", err)
		return OutcomeFailed, err
	}
	if n, err := f.store.DeleteStaleChunks(ctx, documentID, runID); err != nil {
		logCtx.Warn("Failed to prune chunks of earlier runs.", "error", err)
	} else if n > 0 {
		logCtx.Info("Pruned chunks of earlier runs.", "deleted", n)
	}
	logCtx.Info("Ingestion complete.", "chunkCount", summary.ChunkCount, "pageCount", summary.PageCount)
	return OutcomeIngested, nil
}

func (f *IngestionFunction) run(ctx context.Context, logCtx *slog.Logger, documentID, runID, bucket, name, format string, eventMeta map[string]string) (*models.IngestionSummary, error) {
	obj, err := retry.Do(ctx, f.config.Retry, "download", func(ctx context.Context) (*gcp.Object, error) {
		return f.blobs.Download(ctx, bucket, name)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to download source: %w", err)
	}
	sum := sha256.Sum256(obj.Data)
	fileHash := hex.EncodeToString(sum[:])
	logCtx = logCtx.With("fileHash", fileHash)

	res, err := extract.Extract(obj.Data, format)
	if err != nil {
		return nil, fmt.Errorf("failed to extract text: %w", err)
	}
	logCtx.Info("Text extracted.", "format", res.Format, "pageCount", res.PageCount)

	pages := make([]chunker.PageText, len(res.Pages))
	for i, p := range res.Pages {
		pages[i] = chunker.PageText{Number: p.Number, Text: p.Text}
	}
	pieces := chunker.SplitPages(pages, f.config.Chunking)
	if len(pieces) == 0 {
		return nil, fmt.Errorf("%w: no chunks produced", models.ErrExtraction)
	}

	texts := make([]string, len(pieces))
	for i, p := range pieces {
		texts[i] = p.Text
	}
	vectors, err := f.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("failed to embed chunks: %w", err)
	}
	logCtx.Info("Chunks embedded.", "chunkCount", len(vectors))

	meta := mergeMetadata(obj.Metadata, eventMeta)
	base := models.ChunkMetadata{
		DocumentID:   documentID,
		Source:       path.Base(name),
		DocumentType: firstNonEmpty(meta["documentType"], meta["document_type"]),
		FileType:     res.Format,
		GCSPath:      obj.URI(),
		Crops:        parseCrops(firstNonEmpty(meta["crops"], meta["crop"])),
		Region:       meta["region"],
	}
	records := make([]models.Chunk, len(pieces))
	for i, p := range pieces {
		md := base
		md.PageNumber = p.Page
		md.ChunkIndex = p.Index
		records[i] = models.Chunk{
			ID:            models.ChunkID(documentID, p.Index),
			DocumentID:    documentID,
			Content:       p.Text,
			Embedding:     vectors[i],
			EmbeddingDim:  len(vectors[i]),
			ChunkIndex:    p.Index,
			PageNumber:    p.Page,
			TokenEstimate: p.TokenEstimate,
			Metadata:      md,
			IngestRunID:   runID,
		}
	}
	if err := f.store.WriteChunks(ctx, records); err != nil {
		if _, delErr := f.store.DeleteRunChunks(ctx, documentID, runID); delErr != nil {
			logCtx.Warn("Failed to remove partially written chunks.", "error", delErr)
		}
		return nil, fmt.Errorf("failed to write chunks: %w", err)
	}

	if f.config.ExtractedTextBucket != "" {
		objectName := documentID + ".txt"
		if err := f.blobs.SaveAtomically(ctx, f.config.ExtractedTextBucket, objectName, res.Text()); err != nil {
			logCtx.Warn("Failed to archive extracted text.", "bucket", f.config.ExtractedTextBucket, "error", err)
		}
	}

	return &models.IngestionSummary{
		RunID:      runID,
		SourcePath: obj.URI(),
		Format:     res.Format,
		FileHash:   fileHash,
		ChunkCount: len(records),
		PageCount:  res.PageCount,
	}, nil
}

// handleError logs a pipeline failure and records it on the document. It returns an error
// only when the failure could not be recorded.
func (f *IngestionFunction) handleError(ctx context.Context, logCtx *slog.Logger, documentID, runID string, originalErr error) error {
	logCtx.Error("Ingestion failed.", "error", originalErr)
	if err := f.tracker.Fail(ctx, documentID, runID, originalErr.Error()); err != nil {
		logCtx.Error("CRITICAL: Failed to update status to failed after a processing error.", "updateError", err)
		return err
	}
	return nil
}

func mergeMetadata(objectMeta, eventMeta map[string]string) map[string]string {
	out := make(map[string]string, len(objectMeta)+len(eventMeta))
	for k, v := range objectMeta {
		out[k] = v
	}
	for k, v := range eventMeta {
		out[k] = v
	}
	return out
}

func parseCrops(raw string) []string {
	var crops []string
	for _, c := range strings.Split(raw, ",") {
		if c = strings.ToLower(strings.TrimSpace(c)); c != "" && !slices.Contains(crops, c) {
			crops = append(crops, c)
		}
	}
	return crops
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
