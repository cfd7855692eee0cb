package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	"github.com/Lllllllleong/cropsense-rag/internal/models"
	"github.com/Lllllllleong/cropsense-rag/internal/services"
)

var (
	retrieveInstance *services.RetrieveFunction
	once             sync.Once
	initErr          error
)

func init() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: services.LogLevel()}))
	slog.SetDefault(logger)

	functions.HTTP("Retrieve", handleRetrieve)
}

// main is required by the Go Functions Framework.
func main() {}

func handleRetrieve(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	once.Do(func() {
		retrieveInstance, initErr = services.NewRetrieve(context.Background())
	})
	if initErr != nil {
		slog.Error("CRITICAL: Retrieve initialization failed", "error", initErr)
		http.Error(w, "Internal Server Error: failed to initialize service", http.StatusInternalServerError)
		return
	}

	var req models.RetrieveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Error("Could not decode request body", "error", err)
		http.Error(w, "Bad Request: could not parse JSON", http.StatusBadRequest)
		return
	}

	res, err := retrieveInstance.Process(r.Context(), &req)
	switch {
	case errors.Is(err, services.ErrInvalidRequest):
		http.Error(w, "Bad Request: "+err.Error(), http.StatusBadRequest)
		return
	case err != nil:
		http.Error(w, "Internal Server Error: retrieval failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(res); err != nil {
		slog.Error("Failed to write response", "error", err)
	}
}
