package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Lllllllleong/cropsense-rag/internal/models"
	"github.com/Lllllllleong/cropsense-rag/internal/store"
)

// CleanupFunction deletes stale rate-limit and failed-status records. It is invoked by an
// external scheduler, never on the request path.
type CleanupFunction struct {
	store  store.Store
	config Config
	now    func() time.Time
}

// NewCleanup builds the cleanup function from the environment.
func NewCleanup(ctx context.Context) (*CleanupFunction, error) {
	config, err := LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	fsStore, err := newFirestoreStore(ctx, config)
	if err != nil {
		return nil, err
	}
	return NewCleanupFunction(fsStore, *config), nil
}

func NewCleanupFunction(s store.Store, config Config) *CleanupFunction {
	return &CleanupFunction{store: s, config: config, now: time.Now}
}

func (f *CleanupFunction) Process(ctx context.Context) (*models.CleanupResponse, error) {
	now := f.now()
	resp := &models.CleanupResponse{}

	limitCutoff := now.Add(-f.config.LimitRecordTTL)
	n, err := f.store.DeleteLimitsBefore(ctx, limitCutoff)
	if err != nil {
		slog.Error("Failed to delete stale limit records", "cutoff", limitCutoff, "error", err)
		return nil, fmt.Errorf("failed to delete stale limit records: %w", err)
	}
	resp.LimitRecordsDeleted = n

	statusCutoff := now.Add(-f.config.FailedStatusTTL)
	n, err = f.store.DeleteStatusesBefore(ctx, models.StatusFailed, statusCutoff)
	if err != nil {
		slog.Error("Failed to delete stale failed statuses", "cutoff", statusCutoff, "error", err)
		return nil, fmt.Errorf("failed to delete stale failed statuses: %w", err)
	}
	resp.StatusRecordsDeleted = n

	slog.Info("Cleanup finished.",
		"limitRecordsDeleted", resp.LimitRecordsDeleted,
		"statusRecordsDeleted", resp.StatusRecordsDeleted,
	)
	return resp, nil
}
