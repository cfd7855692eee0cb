package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	"github.com/Lllllllleong/cropsense-rag/internal/models"
	"github.com/Lllllllleong/cropsense-rag/internal/services"
	cloudevents "github.com/cloudevents/sdk-go/v2"
)

var (
	ingestionInstance *services.IngestionFunction
	once              sync.Once
	initErr           error
)

func init() {
	// --- Set up structured logging ---
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: services.LogLevel()}))
	slog.SetDefault(logger)

	// Triggered by google.cloud.storage.object.v1.finalized on the upload bucket.
	functions.CloudEvent("IngestDocument", ingestDocument)
}

// main is required by the Go Functions Framework.
func main() {}

func ingestDocument(ctx context.Context, e cloudevents.Event) error {
	once.Do(func() {
		ingestionInstance, initErr = services.NewIngestion(context.Background())
	})
	if initErr != nil {
		slog.Error("Critical error during function initialization", "error", initErr)
		return initErr
	}

	var gcsEvent models.GCSEvent
	if err := json.Unmarshal(e.Data(), &gcsEvent); err != nil {
		slog.Error("Failed to unmarshal event data", "error", err, "data", string(e.Data()))
		return fmt.Errorf("json.Unmarshal: %w", err)
	}

	// Recorded pipeline failures come back as nil so the event is not redelivered.
	return ingestionInstance.Process(ctx, gcsEvent)
}
