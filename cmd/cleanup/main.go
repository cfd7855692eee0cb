package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	"github.com/Lllllllleong/cropsense-rag/internal/services"
)

var (
	cleanupInstance *services.CleanupFunction
	once            sync.Once
	initErr         error
)

func init() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: services.LogLevel()}))
	slog.SetDefault(logger)

	// Invoked by Cloud Scheduler.
	functions.HTTP("Cleanup", handleCleanup)
}

// main is required by the Go Functions Framework.
func main() {}

func handleCleanup(w http.ResponseWriter, r *http.Request) {
	once.Do(func() {
		cleanupInstance, initErr = services.NewCleanup(context.Background())
	})
	if initErr != nil {
		slog.Error("CRITICAL: Cleanup initialization failed", "error", initErr)
		http.Error(w, "Internal Server Error: failed to initialize service", http.StatusInternalServerError)
		return
	}

	res, err := cleanupInstance.Process(r.Context())
	if err != nil {
		http.Error(w, "Internal Server Error: cleanup failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(res); err != nil {
		slog.Error("Failed to write response", "error", err)
	}
}
