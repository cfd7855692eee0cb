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
	answerInstance *services.AnswerFunction
	once           sync.Once
	initErr        error
)

func init() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: services.LogLevel()}))
	slog.SetDefault(logger)

	functions.HTTP("Answer", handleAnswer)
}

// main is required by the Go Functions Framework.
func main() {}

// handleAnswer is the HTTP handler. Pipeline failures are already folded into the answer,
// so only initialization and malformed requests produce error statuses.
func handleAnswer(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	once.Do(func() {
		answerInstance, initErr = services.NewAnswer(context.Background())
	})
	if initErr != nil {
		slog.Error("CRITICAL: Answer initialization failed", "error", initErr)
		http.Error(w, "Internal Server Error: failed to initialize service", http.StatusInternalServerError)
		return
	}

	var req models.AnswerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Error("Could not decode request body", "error", err)
		http.Error(w, "Bad Request: could not parse JSON", http.StatusBadRequest)
		return
	}

	res, err := answerInstance.Process(r.Context(), &req)
	if errors.Is(err, services.ErrInvalidRequest) {
		http.Error(w, "Bad Request: "+err.Error(), http.StatusBadRequest)
		return
	}
	if err != nil {
		http.Error(w, "Internal Server Error: processing failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(res); err != nil {
		slog.Error("Failed to write response", "error", err)
	}
}
