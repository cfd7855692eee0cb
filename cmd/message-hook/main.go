package main

import (
	"context"
	"log/slog"
	"os"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	"github.com/Lllllllleong/cropsense-rag/internal/services"
	cloudevents "github.com/cloudevents/sdk-go/v2"
)

var (
	hooksInstance *services.HooksFunction
	once          sync.Once
	initErr       error
)

func init() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: services.LogLevel()}))
	slog.SetDefault(logger)

	// Triggered by google.cloud.firestore.document.v1.created on
	// conversations/{conversationId}/messages/{messageId}.
	functions.CloudEvent("OnMessageCreate", onMessageCreate)
}

// main is required by the Go Functions Framework.
func main() {}

func onMessageCreate(ctx context.Context, e cloudevents.Event) error {
	once.Do(func() {
		hooksInstance, initErr = services.NewHooks(context.Background())
	})
	if initErr != nil {
		slog.Error("Critical error during function initialization", "error", initErr)
		return initErr
	}
	return hooksInstance.OnMessageCreate(ctx, e.Subject())
}
