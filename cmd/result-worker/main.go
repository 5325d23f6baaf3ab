// Command result-worker drains the output subscription with streaming pull and applies
// completions in batches. It is the long-running alternative to the push-driven functions.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Lllllllleong/tenantocrflow/internal/config"
	"github.com/Lllllllleong/tenantocrflow/internal/gcp"
	"github.com/Lllllllleong/tenantocrflow/internal/services"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		slog.Error("Result worker stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.Require(config.FieldOutputSubscription); err != nil {
		return err
	}

	consumer, err := services.OpenResultConsumer(ctx, cfg)
	if err != nil {
		return err
	}
	pubsubClient, err := gcp.NewPubSubClient(ctx, cfg.ProjectID)
	if err != nil {
		return err
	}
	defer pubsubClient.Close()

	receiver := gcp.NewBatchReceiver(pubsubClient.Subscription(cfg.OutputSubscription), cfg.BatchSize, cfg.BatchWindow)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	srv := &http.Server{Addr: cfg.WorkerHTTPAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	eg, gctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		slog.Info("Serving metrics.", "addr", cfg.WorkerHTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	eg.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	eg.Go(func() error {
		slog.Info("Receiving completions.", "subscription", cfg.OutputSubscription, "batchSize", cfg.BatchSize)
		return receiver.Run(gctx, consumer.ProcessBatch)
	})
	return eg.Wait()
}
