package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Lllllllleong/cropsense-rag/internal/models"
)

// MemoryStore implements Store in process. A single mutex serializes every operation,
// which gives mutations the same isolation a Firestore transaction does.
type MemoryStore struct {
	mu            sync.Mutex
	now           func() time.Time
	seq           int64
	statuses      map[string]models.DocumentStatus
	chunks        map[string]memoryChunk
	limits        map[string]models.UserLimit
	conversations map[string]models.Conversation
}

type memoryChunk struct {
	seq   int64
	chunk models.Chunk
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		now:           time.Now,
		statuses:      make(map[string]models.DocumentStatus),
		chunks:        make(map[string]memoryChunk),
		limits:        make(map[string]models.UserLimit),
		conversations: make(map[string]models.Conversation),
	}
}

func (s *MemoryStore) Close() error { return nil }

// PutConversation seeds a conversation as the web client would create it.
func (s *MemoryStore) PutConversation(conv models.Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations[conv.ID] = conv
}

func (s *MemoryStore) GetStatus(_ context.Context, documentID string) (*models.DocumentStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.statuses[documentID]
	if !ok {
		return nil, fmt.Errorf("status %s: %w", documentID, models.ErrNotFound)
	}
	return &st, nil
}

func (s *MemoryStore) UpdateStatus(ctx context.Context, documentID string, mutate StatusMutation) (*models.DocumentStatus, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var current *models.DocumentStatus
	if st, ok := s.statuses[documentID]; ok {
		current = &st
	}
	next, err := mutate(cloneStatus(current))
	if err != nil {
		return nil, fmt.Errorf("status transaction for %s: %w", documentID, err)
	}
	if next == nil {
		return current, nil
	}
	s.statuses[documentID] = *next
	return cloneStatus(next), nil
}

func (s *MemoryStore) ListStatuses(_ context.Context, st models.Status) ([]models.DocumentStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.DocumentStatus
	for _, rec := range s.statuses {
		if st == models.StatusAbsent || rec.Status == st {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DocumentID < out[j].DocumentID })
	return out, nil
}

func (s *MemoryStore) DeleteStatusesBefore(_ context.Context, st models.Status, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	deleted := 0
	for id, rec := range s.statuses {
		if rec.Status == st && rec.UpdatedAt.Before(cutoff) {
			delete(s.statuses, id)
			deleted++
		}
	}
	return deleted, nil
}

func (s *MemoryStore) WriteChunks(ctx context.Context, chunks []models.Chunk) error {
	for start := 0; start < len(chunks); start += MaxChunksPerWrite {
		batch := chunks[start:min(start+MaxChunksPerWrite, len(chunks))]
		if err := s.writeBatch(ctx, batch); err != nil {
			return fmt.Errorf("%w: batch at chunk %d of %s: %w", models.ErrVectorWrite, start, batch[0].DocumentID, err)
		}
	}
	return nil
}

func (s *MemoryStore) writeBatch(ctx context.Context, batch []models.Chunk) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	createdAt := s.now()
	for _, c := range batch {
		s.seq++
		c.CreatedAt = createdAt
		c.Embedding = append([]float32(nil), c.Embedding...)
		s.chunks[c.ID] = memoryChunk{seq: s.seq, chunk: c}
	}
	return nil
}

func (s *MemoryStore) DeleteStaleChunks(_ context.Context, documentID, runID string) (int, error) {
	return s.deleteChunksWhere(func(c models.Chunk) bool {
		return c.DocumentID == documentID && c.IngestRunID != runID
	}), nil
}

func (s *MemoryStore) DeleteRunChunks(_ context.Context, documentID, runID string) (int, error) {
	return s.deleteChunksWhere(func(c models.Chunk) bool {
		return c.DocumentID == documentID && c.IngestRunID == runID
	}), nil
}

func (s *MemoryStore) deleteChunksWhere(match func(models.Chunk) bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	deleted := 0
	for id, mc := range s.chunks {
		if match(mc.chunk) {
			delete(s.chunks, id)
			deleted++
		}
	}
	return deleted
}

func (s *MemoryStore) DeleteChunks(_ context.Context, documentID string) (int, error) {
	return s.deleteChunksWhere(func(c models.Chunk) bool { return c.DocumentID == documentID }), nil
}

func (s *MemoryStore) ListChunks(_ context.Context, filter models.ChunkFilter) ([]models.Chunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	matched := make([]memoryChunk, 0, len(s.chunks))
	for _, mc := range s.chunks {
		if filter.Matches(mc.chunk) {
			matched = append(matched, mc)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].seq < matched[j].seq })

	out := make([]models.Chunk, len(matched))
	for i, mc := range matched {
		out[i] = mc.chunk
	}
	return out, nil
}

func (s *MemoryStore) CountChunks(_ context.Context, documentID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, mc := range s.chunks {
		if mc.chunk.DocumentID == documentID {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) UpdateLimit(ctx context.Context, userID string, mutate LimitMutation) (*models.UserLimit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var current *models.UserLimit
	if l, ok := s.limits[userID]; ok {
		current = &l
	}
	next, err := mutate(cloneLimit(current))
	if err != nil {
		return nil, fmt.Errorf("limit transaction for %s: %w", userID, err)
	}
	if next == nil {
		return current, nil
	}
	s.limits[userID] = *next
	return cloneLimit(next), nil
}

func (s *MemoryStore) DeleteLimitsBefore(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	deleted := 0
	for id, l := range s.limits {
		if l.UpdatedAt.Before(cutoff) {
			delete(s.limits, id)
			deleted++
		}
	}
	return deleted, nil
}

func (s *MemoryStore) GetConversation(_ context.Context, conversationID string) (*models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[conversationID]
	if !ok {
		return nil, fmt.Errorf("conversation %s: %w", conversationID, models.ErrNotFound)
	}
	return &conv, nil
}

func (s *MemoryStore) RecordMessage(ctx context.Context, conversationID, userID string, at time.Time, mutate LimitMutation) (*models.UserLimit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[conversationID]
	if !ok {
		return nil, fmt.Errorf("message transaction for %s: conversation %s: %w", conversationID, conversationID, models.ErrNotFound)
	}
	var current *models.UserLimit
	if l, ok := s.limits[userID]; ok {
		current = &l
	}
	next, err := mutate(cloneLimit(current))
	if err != nil {
		return nil, fmt.Errorf("message transaction for %s: %w", conversationID, err)
	}

	result := current
	if next != nil {
		s.limits[userID] = *next
		result = cloneLimit(next)
	}
	conv.MessageCount++
	conv.UpdatedAt = at
	s.conversations[conversationID] = conv
	return result, nil
}

var _ Store = (*MemoryStore)(nil)
var _ Store = (*FirestoreStore)(nil)
