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
	documentsInstance *services.DocumentsFunction
	once              sync.Once
	initErr           error
)

func init() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: services.LogLevel()}))
	slog.SetDefault(logger)

	functions.HTTP("Documents", handleDocuments)
}

// main is required by the Go Functions Framework.
func main() {}

// handleDocuments serves
//
//	GET  ?status=failed    list status records
//	GET  ?documentId=guide status and stored chunk count
//	POST {"documentId"}    reset to pending and drop chunks
func handleDocuments(w http.ResponseWriter, r *http.Request) {
	once.Do(func() {
		documentsInstance, initErr = services.NewDocuments(context.Background())
	})
	if initErr != nil {
		slog.Error("CRITICAL: Documents initialization failed", "error", initErr)
		http.Error(w, "Internal Server Error: failed to initialize service", http.StatusInternalServerError)
		return
	}

	var (
		res any
		err error
	)
	switch r.Method {
	case http.MethodGet:
		if id := r.URL.Query().Get("documentId"); id != "" {
			res, err = documentsInstance.Stats(r.Context(), id)
		} else {
			res, err = documentsInstance.List(r.Context(), models.Status(r.URL.Query().Get("status")))
		}
	case http.MethodPost:
		var req models.DocumentResetRequest
		if decodeErr := json.NewDecoder(r.Body).Decode(&req); decodeErr != nil {
			slog.Error("Could not decode request body", "error", decodeErr)
			http.Error(w, "Bad Request: could not parse JSON", http.StatusBadRequest)
			return
		}
		res, err = documentsInstance.Reset(r.Context(), &req)
	default:
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	switch {
	case errors.Is(err, services.ErrInvalidRequest):
		http.Error(w, "Bad Request: "+err.Error(), http.StatusBadRequest)
		return
	case errors.Is(err, models.ErrNotFound):
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	case errors.Is(err, services.ErrDocumentBusy):
		http.Error(w, "Conflict: "+err.Error(), http.StatusConflict)
		return
	case err != nil:
		slog.Error("Documents request failed", "method", r.Method, "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(res); err != nil {
		slog.Error("Failed to write response", "error", err)
	}
}
