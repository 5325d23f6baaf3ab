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
	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"
)

var (
	consumer   *services.ResultConsumer
	once       sync.Once
	initErr    error
	exporter   *metrics.Exporter
	instanceID = uuid.NewString()
)

func init() {
	// --- Set up structured logging ---
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	functions.HTTP("ProcessResultBatch", processResultBatch)
	functions.CloudEvent("ProcessResultEvent", processResultEvent)
}

func main() {}

func initConsumer() error {
	once.Do(func() {
		cfg, err := config.Load()
		if err != nil {
			initErr = err
			return
		}
		var m *metrics.Pipeline
		m, exporter = metrics.ForFunction(cfg.MetricsPushURL, "result-consumer", instanceID, cfg.CallTimeout)
		consumer, initErr = services.OpenResultConsumer(context.Background(), cfg, services.WithMetrics(m))
	})
	if initErr != nil {
		slog.Error("Critical: Result consumer initialization failed", "error", initErr)
	}
	return initErr
}

// processResultBatch takes a batch of completion messages and reports the failed ones.
func processResultBatch(w http.ResponseWriter, r *http.Request) {
	if err := initConsumer(); err != nil {
		http.Error(w, "Internal Server Error: failed to initialize service", http.StatusInternalServerError)
		return
	}
	handlers.ProcessResultBatch(consumer)(w, r)

	if err := exporter.Flush(r.Context()); err != nil {
		slog.Warn("Could not export metrics", "error", err)
	}
}

// processResultEvent takes one completion pushed by a Pub/Sub subscription.
func processResultEvent(ctx context.Context, e cloudevents.Event) error {
	if err := initConsumer(); err != nil {
		return err
	}
	err := handlers.ProcessResultEvent(consumer)(ctx, e)
	if ferr := exporter.Flush(ctx); ferr != nil {
		slog.Warn("Could not export metrics", "error", ferr)
	}
	return err
}
