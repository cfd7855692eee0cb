package services

import (
	"context"
	"testing"
	"time"

	"github.com/Lllllllleong/cropsense-rag/internal/models"
	"github.com/Lllllllleong/cropsense-rag/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedStatus(t *testing.T, s *store.MemoryStore, id string, st models.Status, updated time.Time) {
	t.Helper()
	_, err := s.UpdateStatus(context.Background(), id, func(*models.DocumentStatus) (*models.DocumentStatus, error) {
		return &models.DocumentStatus{DocumentID: id, Status: st, UpdatedAt: updated}, nil
	})
	require.NoError(t, err)
}

func seedLimit(t *testing.T, s *store.MemoryStore, userID string, updated time.Time) {
	t.Helper()
	_, err := s.UpdateLimit(context.Background(), userID, func(*models.UserLimit) (*models.UserLimit, error) {
		return &models.UserLimit{UserID: userID, UpdatedAt: updated}, nil
	})
	require.NoError(t, err)
}

func TestCleanupDeletesStaleRecords(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)
	s := store.NewMemoryStore()

	seedLimit(t, s, "idle", now.Add(-8*24*time.Hour))
	seedLimit(t, s, "active", now.Add(-time.Hour))
	seedStatus(t, s, "old-failure", models.StatusFailed, now.Add(-31*24*time.Hour))
	seedStatus(t, s, "recent-failure", models.StatusFailed, now.Add(-24*time.Hour))
	seedStatus(t, s, "old-success", models.StatusCompleted, now.Add(-90*24*time.Hour))

	fn := NewCleanupFunction(s, testConfig())
	fn.now = func() time.Time { return now }

	resp, err := fn.Process(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, resp.LimitRecordsDeleted)
	assert.Equal(t, 1, resp.StatusRecordsDeleted)

	_, err = s.GetStatus(ctx, "old-failure")
	assert.ErrorIs(t, err, models.ErrNotFound)
	_, err = s.GetStatus(ctx, "old-success")
	assert.NoError(t, err)
	_, err = s.GetStatus(ctx, "recent-failure")
	assert.NoError(t, err)
}
