package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Lllllllleong/tenantocrflow/internal/config"
	"github.com/Lllllllleong/tenantocrflow/internal/gcp"
	"github.com/Lllllllleong/tenantocrflow/internal/metrics"
	"github.com/Lllllllleong/tenantocrflow/internal/models"
)

// QueryFunction reads state records.
type QueryFunction struct {
	config *config.Config
	state  StateStore
	opts   options
}

// OpenQuery creates the Firestore client and returns a ready QueryFunction.
func OpenQuery(ctx context.Context, cfg *config.Config, opts ...Option) (*QueryFunction, error) {
	if err := cfg.Require(config.FieldProjectID, config.FieldTableTemplate); err != nil {
		return nil, err
	}
	firestoreClient, err := gcp.NewFirestoreClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create firestore client: %w", err)
	}
	policy := gcp.NewCallPolicy(cfg.CallTimeout, cfg.CallMaxAttempts)
	slog.Info("Query logic initialized.")
	return NewQuery(cfg, gcp.NewStateStore(firestoreClient, policy), opts...)
}

// NewQuery wires a QueryFunction over the given state store.
func NewQuery(cfg *config.Config, state StateStore, opts ...Option) (*QueryFunction, error) {
	if cfg == nil || state == nil {
		return nil, fmt.Errorf("NewQuery: config and state store must not be nil")
	}
	return &QueryFunction{config: cfg, state: state, opts: buildOptions(opts)}, nil
}

// Query returns the state record of a request. A PROCESSING record has no QueueResult;
// callers must look at Status to know whether the request completed.
func (f *QueryFunction) Query(ctx context.Context, tenantID, requestID string) (*models.ProcessingRequest, error) {
	if err := validateIdentity(tenantID, requestID); err != nil {
		f.opts.metrics.Queries.WithLabelValues(metrics.OutcomeInvalid).Inc()
		return nil, err
	}
	logCtx := f.opts.logger.With("tenantId", tenantID, "requestId", requestID)

	key := models.StateKey{TenantID: tenantID, RequestID: requestID}
	rec, err := f.state.Get(ctx, f.config.TableName(tenantID), key)
	if err != nil {
		if errors.Is(err, gcp.ErrRecordNotFound) {
			f.opts.metrics.Queries.WithLabelValues(metrics.OutcomeNotFound).Inc()
			logCtx.Info("No state record found.")
			return nil, fmt.Errorf("%w: tenant %q request %q", ErrNotFound, tenantID, requestID)
		}
		f.opts.metrics.Queries.WithLabelValues(metrics.OutcomeFailed).Inc()
		logCtx.Error("State lookup failed", "error", err)
		return nil, fmt.Errorf("%w: %w", ErrQuery, err)
	}

	f.opts.metrics.Queries.WithLabelValues(metrics.OutcomeOK).Inc()
	logCtx.Info("State record found.", "status", rec.Status)
	return rec, nil
}
