package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Lllllllleong/cropsense-rag/internal/models"
	"github.com/Lllllllleong/cropsense-rag/internal/ratelimit"
	"github.com/Lllllllleong/cropsense-rag/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSubject(t *testing.T) {
	cid, mid, err := ParseSubject("documents/conversations/c1/messages/m9", "conversations")
	require.NoError(t, err)
	assert.Equal(t, "c1", cid)
	assert.Equal(t, "m9", mid)

	cid, mid, err = ParseSubject("documents/conversations/c2", "conversations")
	require.NoError(t, err)
	assert.Equal(t, "c2", cid)
	assert.Empty(t, mid)

	_, _, err = ParseSubject("documents/users/u1", "conversations")
	assert.ErrorIs(t, err, ErrInvalidRequest)
	_, _, err = ParseSubject("", "conversations")
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func newHooksFixture(now func() time.Time) (*HooksFunction, *store.MemoryStore) {
	s := store.NewMemoryStore()
	limiter := ratelimit.New(s, s, ratelimit.Quotas{}, ratelimit.WithClock(now))
	return NewHooksFunction(s, limiter, testConfig()), s
}

func TestMessageHookCountsPerHour(t *testing.T) {
	ctx := context.Background()
	var mu sync.Mutex
	now := time.Date(2024, 6, 3, 9, 10, 0, 0, time.UTC)
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	fn, s := newHooksFixture(clock)
	s.PutConversation(models.Conversation{ID: "c1", UserID: "farmer"})

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, fn.OnMessageCreate(ctx, "documents/conversations/c1/messages/m"))
		}()
	}
	wg.Wait()

	rec, err := s.UpdateLimit(ctx, "farmer", func(*models.UserLimit) (*models.UserLimit, error) { return nil, nil })
	require.NoError(t, err)
	assert.Equal(t, 5, rec.MessagesThisHour)

	conv, err := s.GetConversation(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, 5, conv.MessageCount)

	mu.Lock()
	now = now.Add(time.Hour)
	mu.Unlock()
	require.NoError(t, fn.OnMessageCreate(ctx, "documents/conversations/c1/messages/m6"))

	rec, err = s.UpdateLimit(ctx, "farmer", func(*models.UserLimit) (*models.UserLimit, error) { return nil, nil })
	require.NoError(t, err)
	assert.Equal(t, 1, rec.MessagesThisHour)
}

func TestConversationHook(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 6, 3, 23, 50, 0, 0, time.UTC)
	fn, s := newHooksFixture(func() time.Time { return now })
	s.PutConversation(models.Conversation{ID: "c1", UserID: "farmer"})
	s.PutConversation(models.Conversation{ID: "c2", UserID: "farmer"})

	require.NoError(t, fn.OnConversationCreate(ctx, "documents/conversations/c1"))
	require.NoError(t, fn.OnConversationCreate(ctx, "documents/conversations/c2"))

	rec, err := s.UpdateLimit(ctx, "farmer", func(*models.UserLimit) (*models.UserLimit, error) { return nil, nil })
	require.NoError(t, err)
	assert.Equal(t, 2, rec.ConversationsToday)

	assert.ErrorIs(t, fn.OnConversationCreate(ctx, "documents/conversations/missing"), models.ErrNotFound)
}
