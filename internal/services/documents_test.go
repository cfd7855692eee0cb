package services

import (
	"context"
	"testing"
	"time"

	"github.com/Lllllllleong/cropsense-rag/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDocumentsListStatsReset(t *testing.T) {
	f := newIngestionFixture(t, nil)
	ctx := context.Background()
	f.blobs.Put(testBucket, "documents/corn.txt", []byte(paragraphs(3, 400, "corn")), nil)
	f.blobs.Put(testBucket, "documents/blank.txt", []byte(" "), nil)
	for _, name := range []string{"documents/corn.txt", "documents/blank.txt"} {
		_, err := f.fn.IngestObject(ctx, testBucket, name, nil)
		require.NoError(t, err)
	}

	docs := NewDocumentsFunction(f.store, 30*time.Minute)

	all, err := docs.List(ctx, models.StatusAbsent)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	failed, err := docs.List(ctx, models.StatusFailed)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "blank", failed[0].DocumentID)

	_, err = docs.List(ctx, models.Status("archived"))
	assert.ErrorIs(t, err, ErrInvalidRequest)

	stats, err := docs.Stats(ctx, "corn")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, stats.Status.Status)
	assert.Equal(t, stats.Status.ChunkCount, stats.ChunkCount)
	assert.Positive(t, stats.ChunkCount)

	reset, err := docs.Reset(ctx, &models.DocumentResetRequest{DocumentID: "corn"})
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, reset.Status.Status)

	stats, err = docs.Stats(ctx, "corn")
	require.NoError(t, err)
	assert.Zero(t, stats.ChunkCount)

	_, err = docs.Stats(ctx, "missing")
	assert.ErrorIs(t, err, models.ErrNotFound)
	_, err = docs.Reset(ctx, &models.DocumentResetRequest{})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestDocumentsResetRefusesLiveRun(t *testing.T) {
	f := newIngestionFixture(t, nil)
	ctx := context.Background()
	docs := NewDocumentsFunction(f.store, 30*time.Minute)

	started := time.Now()
	_, err := f.store.UpdateStatus(ctx, "corn", func(*models.DocumentStatus) (*models.DocumentStatus, error) {
		return &models.DocumentStatus{DocumentID: "corn", Status: models.StatusProcessing, IngestRunID: "run-1", ProcessingStartedAt: started}, nil
	})
	require.NoError(t, err)
	require.NoError(t, f.store.WriteChunks(ctx, []models.Chunk{{ID: models.ChunkID("corn", 0), DocumentID: "corn", IngestRunID: "run-1"}}))

	_, err = docs.Reset(ctx, &models.DocumentResetRequest{DocumentID: "corn"})
	assert.ErrorIs(t, err, ErrDocumentBusy)

	stats, err := docs.Stats(ctx, "corn")
	require.NoError(t, err)
	assert.Equal(t, models.StatusProcessing, stats.Status.Status)
	assert.Equal(t, 1, stats.ChunkCount)

	docs.tracker.now = func() time.Time { return started.Add(time.Hour) }
	reset, err := docs.Reset(ctx, &models.DocumentResetRequest{DocumentID: "corn"})
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, reset.Status.Status)
}

func TestDocumentsListEmpty(t *testing.T) {
	f := newIngestionFixture(t, nil)
	docs := NewDocumentsFunction(f.store, 0)
	all, err := docs.List(context.Background(), models.StatusAbsent)
	require.NoError(t, err)
	assert.NotNil(t, all)
	assert.Empty(t, all)
}
