package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/firestore/apiv1/firestorepb"
	"github.com/Lllllllleong/cropsense-rag/internal/models"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Collections names the Firestore collections used by FirestoreStore.
type Collections struct {
	Status        string
	Chunks        string
	Limits        string
	Conversations string
}

// DefaultCollections matches the layout the web client expects.
func DefaultCollections() Collections {
	return Collections{
		Status:        "document_status",
		Chunks:        "vectorChunks",
		Limits:        "user_limits",
		Conversations: "conversations",
	}
}

// FirestoreStore implements Store on Cloud Firestore.
type FirestoreStore struct {
	client *firestore.Client
	cols   Collections
}

func NewFirestoreStore(client *firestore.Client, cols Collections) *FirestoreStore {
	return &FirestoreStore{client: client, cols: cols}
}

func (s *FirestoreStore) Close() error {
	return s.client.Close()
}

// chunkDoc is the stored shape of a chunk; the embedding is a native Firestore vector.
type chunkDoc struct {
	ID            string               `firestore:"id"`
	DocumentID    string               `firestore:"documentId"`
	Content       string               `firestore:"content"`
	Embedding     firestore.Vector32   `firestore:"embedding"`
	EmbeddingDim  int                  `firestore:"embeddingDim"`
	ChunkIndex    int                  `firestore:"chunkIndex"`
	PageNumber    int                  `firestore:"pageNumber,omitempty"`
	TokenEstimate int                  `firestore:"tokenEstimate"`
	Metadata      models.ChunkMetadata `firestore:"metadata"`
	IngestRunID   string               `firestore:"ingestRunId,omitempty"`
	CreatedAt     time.Time            `firestore:"createdAt,serverTimestamp"`
}

func toChunkDoc(c models.Chunk) chunkDoc {
	return chunkDoc{
		ID:            c.ID,
		DocumentID:    c.DocumentID,
		Content:       c.Content,
		Embedding:     firestore.Vector32(c.Embedding),
		EmbeddingDim:  c.EmbeddingDim,
		ChunkIndex:    c.ChunkIndex,
		PageNumber:    c.PageNumber,
		TokenEstimate: c.TokenEstimate,
		Metadata:      c.Metadata,
		IngestRunID:   c.IngestRunID,
	}
}

func (d chunkDoc) toChunk() models.Chunk {
	return models.Chunk{
		ID:            d.ID,
		DocumentID:    d.DocumentID,
		Content:       d.Content,
		Embedding:     []float32(d.Embedding),
		EmbeddingDim:  d.EmbeddingDim,
		ChunkIndex:    d.ChunkIndex,
		PageNumber:    d.PageNumber,
		TokenEstimate: d.TokenEstimate,
		Metadata:      d.Metadata,
		IngestRunID:   d.IngestRunID,
		CreatedAt:     d.CreatedAt,
	}
}

// --- Status ---

func (s *FirestoreStore) GetStatus(ctx context.Context, documentID string) (*models.DocumentStatus, error) {
	snap, err := s.client.Collection(s.cols.Status).Doc(documentID).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, fmt.Errorf("status %s: %w", documentID, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read status %s: %w", documentID, err)
	}
	var st models.DocumentStatus
	if err := snap.DataTo(&st); err != nil {
		return nil, fmt.Errorf("failed to decode status %s: %w", documentID, err)
	}
	return &st, nil
}

func (s *FirestoreStore) UpdateStatus(ctx context.Context, documentID string, mutate StatusMutation) (*models.DocumentStatus, error) {
	ref := s.client.Collection(s.cols.Status).Doc(documentID)
	var result *models.DocumentStatus

	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		var current *models.DocumentStatus
		snap, err := tx.Get(ref)
		switch {
		case status.Code(err) == codes.NotFound:
		case err != nil:
			return err
		default:
			current = &models.DocumentStatus{}
			if err := snap.DataTo(current); err != nil {
				return fmt.Errorf("decode status: %w", err)
			}
		}

		next, err := mutate(cloneStatus(current))
		if err != nil {
			return err
		}
		if next == nil {
			result = current
			return nil
		}
		result = next
		return tx.Set(ref, next)
	})
	if err != nil {
		return nil, fmt.Errorf("status transaction for %s: %w", documentID, err)
	}
	return result, nil
}

func (s *FirestoreStore) ListStatuses(ctx context.Context, st models.Status) ([]models.DocumentStatus, error) {
	q := s.client.Collection(s.cols.Status).Query
	if st != models.StatusAbsent {
		q = q.Where("status", "==", string(st))
	}

	var out []models.DocumentStatus
	iter := q.Documents(ctx)
	defer iter.Stop()
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list statuses: %w", err)
		}
		var rec models.DocumentStatus
		if err := snap.DataTo(&rec); err != nil {
			return nil, fmt.Errorf("failed to decode status %s: %w", snap.Ref.ID, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *FirestoreStore) DeleteStatusesBefore(ctx context.Context, st models.Status, cutoff time.Time) (int, error) {
	q := s.client.Collection(s.cols.Status).
		Where("status", "==", string(st)).
		Where("updatedAt", "<", cutoff)
	return s.bulkDelete(ctx, q)
}

// --- Chunks ---

func (s *FirestoreStore) WriteChunks(ctx context.Context, chunks []models.Chunk) error {
	col := s.client.Collection(s.cols.Chunks)
	for start := 0; start < len(chunks); start += MaxChunksPerWrite {
		batch := chunks[start:min(start+MaxChunksPerWrite, len(chunks))]
		err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
			for _, c := range batch {
				if err := tx.Set(col.Doc(c.ID), toChunkDoc(c)); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("%w: batch at chunk %d of %s: %w", models.ErrVectorWrite, start, batch[0].DocumentID, err)
		}
	}
	return nil
}

func (s *FirestoreStore) DeleteStaleChunks(ctx context.Context, documentID, runID string) (int, error) {
	snaps, err := s.client.Collection(s.cols.Chunks).
		Where("documentId", "==", documentID).
		Select("ingestRunId").
		Documents(ctx).GetAll()
	if err != nil {
		return 0, fmt.Errorf("failed to query chunks of %s: %w", documentID, err)
	}
	var stale []*firestore.DocumentRef
	for _, snap := range snaps {
		// Chunks written before run ids existed have no ingestRunId field.
		run, _ := snap.DataAt("ingestRunId")
		if r, _ := run.(string); r != runID {
			stale = append(stale, snap.Ref)
		}
	}
	return s.deleteRefs(ctx, stale)
}

func (s *FirestoreStore) DeleteRunChunks(ctx context.Context, documentID, runID string) (int, error) {
	q := s.client.Collection(s.cols.Chunks).
		Where("documentId", "==", documentID).
		Where("ingestRunId", "==", runID)
	return s.bulkDelete(ctx, q)
}

func (s *FirestoreStore) DeleteChunks(ctx context.Context, documentID string) (int, error) {
	return s.bulkDelete(ctx, s.client.Collection(s.cols.Chunks).Where("documentId", "==", documentID))
}

func (s *FirestoreStore) ListChunks(ctx context.Context, filter models.ChunkFilter) ([]models.Chunk, error) {
	q := s.client.Collection(s.cols.Chunks).Query
	if filter.DocumentID != "" {
		q = q.Where("documentId", "==", filter.DocumentID)
	}
	if filter.Crop != "" {
		q = q.Where("metadata.crops", "array-contains", filter.Crop)
	}
	if filter.Region != "" {
		q = q.Where("metadata.region", "==", filter.Region)
	}
	if filter.DocumentType != "" {
		q = q.Where("metadata.documentType", "==", filter.DocumentType)
	}

	var out []models.Chunk
	iter := q.Documents(ctx)
	defer iter.Stop()
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to scan chunks: %w", err)
		}
		var doc chunkDoc
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode chunk %s: %w", snap.Ref.ID, err)
		}
		out = append(out, doc.toChunk())
	}

	// All chunks of one document share a commit timestamp; ids order them by index.
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *FirestoreStore) CountChunks(ctx context.Context, documentID string) (int, error) {
	q := s.client.Collection(s.cols.Chunks).Where("documentId", "==", documentID)
	res, err := q.NewAggregationQuery().WithCount("count").Get(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to count chunks of %s: %w", documentID, err)
	}
	v, ok := res["count"].(*firestorepb.Value)
	if !ok {
		return 0, fmt.Errorf("unexpected count result %T", res["count"])
	}
	return int(v.GetIntegerValue()), nil
}

// --- Limits ---

func (s *FirestoreStore) UpdateLimit(ctx context.Context, userID string, mutate LimitMutation) (*models.UserLimit, error) {
	ref := s.client.Collection(s.cols.Limits).Doc(userID)
	var result *models.UserLimit

	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		var current *models.UserLimit
		snap, err := tx.Get(ref)
		switch {
		case status.Code(err) == codes.NotFound:
		case err != nil:
			return err
		default:
			current = &models.UserLimit{}
			if err := snap.DataTo(current); err != nil {
				return fmt.Errorf("decode limit: %w", err)
			}
		}

		next, err := mutate(cloneLimit(current))
		if err != nil {
			return err
		}
		if next == nil {
			result = current
			return nil
		}
		result = next
		return tx.Set(ref, next)
	})
	if err != nil {
		return nil, fmt.Errorf("limit transaction for %s: %w", userID, err)
	}
	return result, nil
}

func (s *FirestoreStore) DeleteLimitsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	return s.bulkDelete(ctx, s.client.Collection(s.cols.Limits).Where("updatedAt", "<", cutoff))
}

// --- Conversations ---

func (s *FirestoreStore) GetConversation(ctx context.Context, conversationID string) (*models.Conversation, error) {
	snap, err := s.client.Collection(s.cols.Conversations).Doc(conversationID).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, fmt.Errorf("conversation %s: %w", conversationID, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read conversation %s: %w", conversationID, err)
	}
	var conv models.Conversation
	if err := snap.DataTo(&conv); err != nil {
		return nil, fmt.Errorf("failed to decode conversation %s: %w", conversationID, err)
	}
	conv.ID = snap.Ref.ID
	return &conv, nil
}

func (s *FirestoreStore) RecordMessage(ctx context.Context, conversationID, userID string, at time.Time, mutate LimitMutation) (*models.UserLimit, error) {
	convRef := s.client.Collection(s.cols.Conversations).Doc(conversationID)
	limitRef := s.client.Collection(s.cols.Limits).Doc(userID)
	var result *models.UserLimit

	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		if _, err := tx.Get(convRef); err != nil {
			if status.Code(err) == codes.NotFound {
				return fmt.Errorf("conversation %s: %w", conversationID, models.ErrNotFound)
			}
			return err
		}

		var current *models.UserLimit
		snap, err := tx.Get(limitRef)
		switch {
		case status.Code(err) == codes.NotFound:
		case err != nil:
			return err
		default:
			current = &models.UserLimit{}
			if err := snap.DataTo(current); err != nil {
				return fmt.Errorf("decode limit: %w", err)
			}
		}

		next, err := mutate(cloneLimit(current))
		if err != nil {
			return err
		}
		result = current
		if next != nil {
			result = next
			if err := tx.Set(limitRef, next); err != nil {
				return err
			}
		}
		return tx.Update(convRef, []firestore.Update{
			{Path: "messageCount", Value: firestore.Increment(1)},
			{Path: "updatedAt", Value: at},
		})
	})
	if err != nil {
		return nil, fmt.Errorf("message transaction for %s: %w", conversationID, err)
	}
	return result, nil
}

// bulkDelete removes every document matched by q and returns how many were deleted.
func (s *FirestoreStore) bulkDelete(ctx context.Context, q firestore.Query) (int, error) {
	snaps, err := q.Select().Documents(ctx).GetAll()
	if err != nil {
		return 0, fmt.Errorf("failed to query documents for deletion: %w", err)
	}
	refs := make([]*firestore.DocumentRef, len(snaps))
	for i, snap := range snaps {
		refs[i] = snap.Ref
	}
	return s.deleteRefs(ctx, refs)
}

func (s *FirestoreStore) deleteRefs(ctx context.Context, refs []*firestore.DocumentRef) (int, error) {
	if len(refs) == 0 {
		return 0, nil
	}

	bw := s.client.BulkWriter(ctx)
	jobs := make([]*firestore.BulkWriterJob, 0, len(refs))
	for _, ref := range refs {
		job, err := bw.Delete(ref)
		if err != nil {
			bw.End()
			return 0, fmt.Errorf("failed to queue delete of %s: %w", ref.ID, err)
		}
		jobs = append(jobs, job)
	}
	bw.End()

	deleted := 0
	var errs []error
	for _, job := range jobs {
		if _, err := job.Results(); err != nil {
			errs = append(errs, err)
			continue
		}
		deleted++
	}
	return deleted, errors.Join(errs...)
}
