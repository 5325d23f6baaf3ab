package services

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"cloud.google.com/go/storage"
	"github.com/Lllllllleong/tenantocrflow/internal/config"
	"github.com/Lllllllleong/tenantocrflow/internal/gcp"
	"github.com/Lllllllleong/tenantocrflow/internal/metrics"
	"github.com/Lllllllleong/tenantocrflow/internal/models"
)

// SubmitInput is one document submission.
type SubmitInput struct {
	TenantID       string
	RequestID      string
	DocumentType   string
	CorrelationID  string
	DocumentBase64 string
}

// IngestionFunction stores a document, enrolls its state record and enqueues the work item.
type IngestionFunction struct {
	config *config.Config
	blobs  BlobStore
	state  StateStore
	queue  Publisher
	opts   options
}

// OpenIngestion creates the GCP clients and returns a ready IngestionFunction.
func OpenIngestion(ctx context.Context, cfg *config.Config, opts ...Option) (*IngestionFunction, error) {
	if err := cfg.Require(config.FieldProjectID, config.FieldTableTemplate, config.FieldBucketTemplate,
		config.FieldInputQueue, config.FieldOutputQueue); err != nil {
		return nil, err
	}
	policy := gcp.NewCallPolicy(cfg.CallTimeout, cfg.CallMaxAttempts)

	firestoreClient, err := gcp.NewFirestoreClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create firestore client: %w", err)
	}
	storageClient, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create Storage client: %w", err)
	}
	pubsubClient, err := gcp.NewPubSubClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create Pub/Sub client: %w", err)
	}

	ledger := gcp.NewDedupLedger(firestoreClient, cfg.DedupCollection, cfg.DedupWindow, policy)
	f, err := NewIngestion(cfg,
		gcp.NewBlobStore(storageClient, policy),
		gcp.NewStateStore(firestoreClient, policy),
		gcp.NewPublisher(pubsubClient, ledger),
		opts...,
	)
	if err != nil {
		return nil, err
	}
	slog.Info("Ingestion logic initialized.", "inputQueueTemplate", cfg.InputQueueTemplate)
	return f, nil
}

// NewIngestion wires an IngestionFunction over the given collaborators.
func NewIngestion(cfg *config.Config, blobs BlobStore, state StateStore, queue Publisher, opts ...Option) (*IngestionFunction, error) {
	if cfg == nil || blobs == nil || state == nil || queue == nil {
		return nil, fmt.Errorf("NewIngestion: config and collaborators must not be nil")
	}
	return &IngestionFunction{
		config: cfg,
		blobs:  blobs,
		state:  state,
		queue:  queue,
		opts:   buildOptions(opts),
	}, nil
}

// Submit ingests one document. The blob is written first, then the state record, then the
// work item is published, so a worker never sees a request that has no state record.
// A failure after the first write leaves the earlier writes in place.
func (f *IngestionFunction) Submit(ctx context.Context, in SubmitInput) (*models.SubmitDocumentResponse, error) {
	res, err := f.submit(ctx, in)
	switch {
	case err == nil:
	case errors.Is(err, ErrValidation), errors.Is(err, ErrDecode):
		f.opts.metrics.Submissions.WithLabelValues(metrics.OutcomeInvalid).Inc()
	default:
		f.opts.metrics.Submissions.WithLabelValues(metrics.OutcomeFailed).Inc()
	}
	return res, err
}

func (f *IngestionFunction) submit(ctx context.Context, in SubmitInput) (*models.SubmitDocumentResponse, error) {
	if in.TenantID == "" {
		return nil, fmt.Errorf("%w: missing tenant id", ErrValidation)
	}
	requestID := EnsureRequestID(in.RequestID, f.opts.newID)
	if err := validateIdentity(in.TenantID, requestID); err != nil {
		return nil, err
	}
	if in.DocumentBase64 == "" {
		return nil, fmt.Errorf("%w: missing document", ErrValidation)
	}
	data, err := base64.StdEncoding.DecodeString(in.DocumentBase64)
	if err != nil {
		return nil, fmt.Errorf("%w: document is not valid base64: %w", ErrDecode, err)
	}

	tenantID := in.TenantID
	logCtx := f.opts.logger.With("tenantId", tenantID, "requestId", requestID, "correlationId", in.CorrelationID)
	logCtx.Info("Processing document.", "documentType", in.DocumentType, "sizeBytes", len(data))

	now := f.opts.now()
	bucketName := f.config.BucketName(tenantID)
	bucketKey := models.BlobKey(tenantID, requestID)
	outputQueue := f.config.OutputQueue(tenantID)

	// --- 1. Persist the document bytes ---
	metadata := map[string]string{"tenant-id": tenantID, "request-id": requestID}
	if err := f.blobs.Put(ctx, bucketName, bucketKey, data, metadata); err != nil {
		return nil, f.fail(logCtx, "failed to save document", err)
	}

	// --- 2. Enroll the state record before anything is visible to workers ---
	rec := &models.ProcessingRequest{
		TenantID:       tenantID,
		RequestID:      requestID,
		CorrelationID:  in.CorrelationID,
		DocumentType:   in.DocumentType,
		BucketName:     bucketName,
		BucketKey:      bucketKey,
		OutputQueueURL: outputQueue,
		Status:         models.StatusProcessing,
		PageCount:      inspectPageCount(logCtx, data),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	table := f.config.TableName(tenantID)
	if err := f.state.Create(ctx, table, rec); err != nil {
		if !errors.Is(err, gcp.ErrRecordExists) {
			return nil, f.fail(logCtx, "failed to save state", err)
		}
		// A retried submission keeps the original record, whatever its status.
		existing, err := f.state.Get(ctx, table, rec.Key())
		if err != nil {
			return nil, f.fail(logCtx, "failed to read existing state", err)
		}
		logCtx.Info("State record already exists; keeping it.", "status", existing.Status)
		rec = existing
	} else {
		logCtx.Info("State saved with status PROCESSING.")
	}

	// --- 3. Hand off to the tenant's input queue ---
	if rec.Status == models.StatusProcessed {
		// The document already has its result; sending it again would repeat the OCR work.
		f.opts.metrics.Submissions.WithLabelValues(metrics.OutcomeDuplicate).Inc()
		logCtx.Info("Request already PROCESSED; work item not enqueued.")
	} else if err := f.enqueue(ctx, logCtx, rec, now); err != nil {
		return nil, err
	}

	return &models.SubmitDocumentResponse{
		TenantID:  rec.TenantID,
		RequestID: rec.RequestID,
		Status:    rec.Status,
		CreatedAt: models.FormatTime(rec.CreatedAt),
		UpdatedAt: models.FormatTime(rec.UpdatedAt),
	}, nil
}

func (f *IngestionFunction) enqueue(ctx context.Context, logCtx *slog.Logger, rec *models.ProcessingRequest, now time.Time) error {
	tenantID, requestID := rec.TenantID, rec.RequestID
	item := models.WorkItem{
		TenantID:       tenantID,
		RequestID:      requestID,
		CorrelationID:  rec.CorrelationID,
		DocumentType:   rec.DocumentType,
		BucketName:     rec.BucketName,
		BucketKey:      rec.BucketKey,
		OutputQueueURL: rec.OutputQueueURL,
		Timestamp:      models.FormatTime(now),
	}
	body, err := json.Marshal(item)
	if err != nil {
		return f.fail(logCtx, "failed to marshal work item", err)
	}
	published, err := f.queue.Publish(ctx, f.config.InputQueue(tenantID), models.QueueMessage{
		GroupID:         tenantID,
		DeduplicationID: requestID,
		Body:            body,
		Attributes:      map[string]string{"tenantId": tenantID, "requestId": requestID},
	})
	if err != nil {
		return f.fail(logCtx, "failed to enqueue work item", err)
	}

	if published.Duplicate {
		f.opts.metrics.Submissions.WithLabelValues(metrics.OutcomeDuplicate).Inc()
		logCtx.Info("Work item already enqueued within the deduplication window.")
	} else {
		f.opts.metrics.Submissions.WithLabelValues(metrics.OutcomeOK).Inc()
		logCtx.Info("Message sent to input queue.", "group", tenantID, "messageId", published.MessageID)
	}
	return nil
}

func (f *IngestionFunction) fail(logCtx *slog.Logger, message string, err error) error {
	logCtx.Error(message, "error", err, "retryable", gcp.IsRetryable(err))
	return fmt.Errorf("%w: %s: %w", ErrIngestion, message, err)
}
