package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Lllllllleong/tenantocrflow/internal/gcp"
	"github.com/Lllllllleong/tenantocrflow/internal/metrics"
	"github.com/Lllllllleong/tenantocrflow/internal/models"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// BlobStore persists document bytes.
type BlobStore interface {
	Put(ctx context.Context, bucket, key string, data []byte, metadata map[string]string) error
}

// StateStore persists ProcessingRequest records. Implementations return
// gcp.ErrRecordExists, gcp.ErrRecordNotFound and gcp.ErrPreconditionFailed.
type StateStore interface {
	Create(ctx context.Context, collection string, rec *models.ProcessingRequest) error
	Get(ctx context.Context, collection string, key models.StateKey) (*models.ProcessingRequest, error)
	MarkProcessed(ctx context.Context, collection string, key models.StateKey, queueResult string, at time.Time, requireProcessing bool) error
}

// Publisher enqueues messages on a work queue.
type Publisher interface {
	Publish(ctx context.Context, queue string, msg models.QueueMessage) (gcp.PublishResult, error)
}

// IDGenerator manufactures request ids.
type IDGenerator func() string

// NewUUID is the default IDGenerator.
func NewUUID() string {
	return uuid.NewString()
}

// EnsureRequestID returns requestID, or a fresh id from gen when it is empty.
func EnsureRequestID(requestID string, gen IDGenerator) string {
	if requestID != "" {
		return requestID
	}
	return gen()
}

// Clock returns the current time.
type Clock func() time.Time

// Firestore stores microseconds, so timestamps are cut there before they are stored or echoed.
func utcNow() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

// Identifier rules shared by every entry point. Tenant and request ids are embedded in
// blob keys and state keys, so '/' and '#' are rejected.
var validate = validator.New(validator.WithRequiredStructEnabled())

type requestIdentity struct {
	TenantID  string `validate:"required,max=128,excludesall=/#"`
	RequestID string `validate:"required,max=128,excludesall=/#"`
}

func validateIdentity(tenantID, requestID string) error {
	if err := validate.Struct(requestIdentity{TenantID: tenantID, RequestID: requestID}); err != nil {
		return fmt.Errorf("%w: %s", ErrValidation, describeValidation(err))
	}
	return nil
}

func describeValidation(err error) string {
	if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
		fe := verrs[0]
		return fmt.Sprintf("%s failed on '%s'", fe.Field(), fe.Tag())
	}
	return err.Error()
}

// Option customizes a service.
type Option func(*options)

type options struct {
	newID   IDGenerator
	now     Clock
	metrics *metrics.Pipeline
	logger  *slog.Logger
}

// WithIDGenerator replaces the request id generator.
func WithIDGenerator(gen IDGenerator) Option {
	return func(o *options) { o.newID = gen }
}

// WithClock replaces the time source.
func WithClock(now Clock) Option {
	return func(o *options) { o.now = now }
}

// WithMetrics records counters into m instead of the default registry.
func WithMetrics(m *metrics.Pipeline) Option {
	return func(o *options) { o.metrics = m }
}

// WithLogger replaces the default structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

func buildOptions(opts []Option) options {
	o := options{
		newID:  NewUUID,
		now:    utcNow,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.metrics == nil {
		o.metrics = metrics.Default()
	}
	clock := o.now
	o.now = func() time.Time { return clock().Truncate(time.Microsecond) }
	return o
}
