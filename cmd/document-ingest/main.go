package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	"github.com/Lllllllleong/tenantocrflow/internal/config"
	"github.com/Lllllllleong/tenantocrflow/internal/handlers"
	"github.com/Lllllllleong/tenantocrflow/internal/metrics"
	"github.com/Lllllllleong/tenantocrflow/internal/services"
	"github.com/google/uuid"
)

var (
	submitHandler http.HandlerFunc
	once          sync.Once
	initErr       error
	exporter      *metrics.Exporter
	instanceID    = uuid.NewString()
)

func init() {
	// --- Set up structured logging ---
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	functions.HTTP("SubmitDocument", submitDocument)
}

func main() {}

// submitDocument is the HTTP entry point for POST /documents.
func submitDocument(w http.ResponseWriter, r *http.Request) {
	once.Do(func() {
		cfg, err := config.Load()
		if err != nil {
			initErr = err
			return
		}
		var m *metrics.Pipeline
		m, exporter = metrics.ForFunction(cfg.MetricsPushURL, "document-ingest", instanceID, cfg.CallTimeout)

		var ingestion *services.IngestionFunction
		ingestion, initErr = services.OpenIngestion(context.Background(), cfg, services.WithMetrics(m))
		if initErr == nil {
			submitHandler = handlers.SubmitDocument(ingestion)
		}
	})
	if initErr != nil {
		slog.Error("Critical: Ingestion initialization failed", "error", initErr)
		http.Error(w, "Internal Server Error: failed to initialize service", http.StatusInternalServerError)
		return
	}
	submitHandler(w, r)

	if err := exporter.Flush(r.Context()); err != nil {
		slog.Warn("Could not export metrics", "error", err)
	}
}
