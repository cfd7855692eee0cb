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

func newTracker(staleAfter time.Duration) (*StatusTracker, *store.MemoryStore, *time.Time) {
	s := store.NewMemoryStore()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	tr := NewStatusTracker(s, staleAfter)
	tr.now = func() time.Time { return now }
	return tr, s, &now
}

func TestBeginIngestionFromAbsent(t *testing.T) {
	ctx := context.Background()
	tr, s, _ := newTracker(time.Hour)

	require.NoError(t, tr.MarkPending(ctx, "guide", "gs://b/documents/guide.pdf", "pdf"))
	st, err := s.GetStatus(ctx, "guide")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, st.Status)

	d, err := tr.BeginIngestion(ctx, "guide", "gs://b/documents/guide.pdf", "pdf", "run-1")
	require.NoError(t, err)
	assert.Equal(t, Proceed, d)

	st, err = s.GetStatus(ctx, "guide")
	require.NoError(t, err)
	assert.Equal(t, models.StatusProcessing, st.Status)
	assert.False(t, st.ProcessingStartedAt.IsZero())
}

func TestMarkPendingLeavesExistingRecord(t *testing.T) {
	ctx := context.Background()
	tr, s, _ := newTracker(time.Hour)

	_, err := tr.BeginIngestion(ctx, "guide", "gs://b/guide.pdf", "pdf", "run-1")
	require.NoError(t, err)
	require.NoError(t, tr.MarkPending(ctx, "guide", "gs://b/guide.pdf", "pdf"))

	st, err := s.GetStatus(ctx, "guide")
	require.NoError(t, err)
	assert.Equal(t, models.StatusProcessing, st.Status)
}

func TestCompletedIsNeverReprocessed(t *testing.T) {
	ctx := context.Background()
	tr, s, _ := newTracker(time.Hour)

	_, err := tr.BeginIngestion(ctx, "guide", "gs://b/guide.txt", "txt", "run-1")
	require.NoError(t, err)
	require.NoError(t, tr.Complete(ctx, "guide", models.IngestionSummary{RunID: "run-1", SourcePath: "gs://b/guide.txt", Format: "txt", ChunkCount: 3}))
	before, err := s.GetStatus(ctx, "guide")
	require.NoError(t, err)

	d, err := tr.BeginIngestion(ctx, "guide", "gs://b/guide.txt", "txt", "run-1")
	require.NoError(t, err)
	assert.Equal(t, SkipCompleted, d)

	after, err := s.GetStatus(ctx, "guide")
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Equal(t, 3, after.ChunkCount)
}

func TestFailedNeedsExplicitReset(t *testing.T) {
	ctx := context.Background()
	tr, s, _ := newTracker(time.Hour)

	_, err := tr.BeginIngestion(ctx, "guide", "gs://b/guide.txt", "txt", "run-1")
	require.NoError(t, err)
	require.NoError(t, tr.Fail(ctx, "guide", "run-1", "extraction produced no text"))

	d, err := tr.BeginIngestion(ctx, "guide", "gs://b/guide.txt", "txt", "run-1")
	require.NoError(t, err)
	assert.Equal(t, SkipFailed, d)

	st, err := tr.Reset(ctx, "guide")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, st.Status)
	assert.Empty(t, st.ErrorMessage)

	d, err = tr.BeginIngestion(ctx, "guide", "gs://b/guide.txt", "txt", "run-1")
	require.NoError(t, err)
	assert.Equal(t, Proceed, d)

	st, err = s.GetStatus(ctx, "guide")
	require.NoError(t, err)
	assert.Equal(t, models.StatusProcessing, st.Status)
}

func TestInFlightProcessingIsSkippedUntilStale(t *testing.T) {
	ctx := context.Background()
	tr, _, now := newTracker(30 * time.Minute)

	d, err := tr.BeginIngestion(ctx, "guide", "gs://b/guide.txt", "txt", "run-1")
	require.NoError(t, err)
	require.Equal(t, Proceed, d)

	*now = now.Add(10 * time.Minute)
	d, err = tr.BeginIngestion(ctx, "guide", "gs://b/guide.txt", "txt", "run-1")
	require.NoError(t, err)
	assert.Equal(t, SkipInFlight, d)

	*now = now.Add(30 * time.Minute)
	d, err = tr.BeginIngestion(ctx, "guide", "gs://b/guide.txt", "txt", "run-2")
	require.NoError(t, err)
	assert.Equal(t, Proceed, d)
}

func TestReclaimedRunCannotFinish(t *testing.T) {
	ctx := context.Background()
	tr, s, now := newTracker(30 * time.Minute)

	_, err := tr.BeginIngestion(ctx, "guide", "gs://b/guide.txt", "txt", "run-1")
	require.NoError(t, err)
	*now = now.Add(time.Hour)
	d, err := tr.BeginIngestion(ctx, "guide", "gs://b/guide.txt", "txt", "run-2")
	require.NoError(t, err)
	require.Equal(t, Proceed, d)

	assert.ErrorIs(t, tr.Complete(ctx, "guide", models.IngestionSummary{RunID: "run-1"}), ErrInvalidTransition)
	assert.ErrorIs(t, tr.Fail(ctx, "guide", "run-1", "late"), ErrInvalidTransition)

	require.NoError(t, tr.Complete(ctx, "guide", models.IngestionSummary{RunID: "run-2", ChunkCount: 2}))
	st, err := s.GetStatus(ctx, "guide")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, st.Status)
	assert.Equal(t, "run-2", st.IngestRunID)
}

func TestResetRefusesLiveProcessing(t *testing.T) {
	ctx := context.Background()
	tr, s, now := newTracker(30 * time.Minute)

	_, err := tr.BeginIngestion(ctx, "guide", "gs://b/guide.txt", "txt", "run-1")
	require.NoError(t, err)

	_, err = tr.Reset(ctx, "guide")
	assert.ErrorIs(t, err, ErrDocumentBusy)
	st, err := s.GetStatus(ctx, "guide")
	require.NoError(t, err)
	assert.Equal(t, models.StatusProcessing, st.Status)

	*now = now.Add(time.Hour)
	st, err = tr.Reset(ctx, "guide")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, st.Status)
	assert.Empty(t, st.IngestRunID)
}

func TestReclaimDisabled(t *testing.T) {
	ctx := context.Background()
	tr, _, now := newTracker(0)

	_, err := tr.BeginIngestion(ctx, "guide", "gs://b/guide.txt", "txt", "run-1")
	require.NoError(t, err)
	*now = now.Add(240 * time.Hour)

	d, err := tr.BeginIngestion(ctx, "guide", "gs://b/guide.txt", "txt", "run-1")
	require.NoError(t, err)
	assert.Equal(t, SkipInFlight, d)
}

func TestTerminalUpdatesRejectInvalidTransitions(t *testing.T) {
	ctx := context.Background()
	tr, _, _ := newTracker(time.Hour)

	err := tr.Complete(ctx, "missing", models.IngestionSummary{})
	assert.ErrorIs(t, err, ErrInvalidTransition)

	require.NoError(t, tr.MarkPending(ctx, "guide", "gs://b/guide.txt", "txt"))
	err = tr.Complete(ctx, "guide", models.IngestionSummary{RunID: "run-1"})
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = tr.BeginIngestion(ctx, "guide", "gs://b/guide.txt", "txt", "run-1")
	require.NoError(t, err)
	require.NoError(t, tr.Complete(ctx, "guide", models.IngestionSummary{RunID: "run-1", ChunkCount: 1}))
	assert.ErrorIs(t, tr.Fail(ctx, "guide", "run-1", "late failure"), ErrInvalidTransition)
}

func TestResetUnknownDocument(t *testing.T) {
	tr, _, _ := newTracker(time.Hour)
	_, err := tr.Reset(context.Background(), "nope")
	assert.ErrorIs(t, err, models.ErrNotFound)
}
