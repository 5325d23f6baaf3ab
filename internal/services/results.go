package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Lllllllleong/tenantocrflow/internal/config"
	"github.com/Lllllllleong/tenantocrflow/internal/gcp"
	"github.com/Lllllllleong/tenantocrflow/internal/metrics"
	"github.com/Lllllllleong/tenantocrflow/internal/models"
	"golang.org/x/sync/errgroup"
)

// ResultConsumer applies completion messages from the output queues to the state records.
type ResultConsumer struct {
	config      *config.Config
	state       StateStore
	strict      bool
	concurrency int
	opts        options
}

// OpenResultConsumer creates the Firestore client and returns a ready ResultConsumer.
func OpenResultConsumer(ctx context.Context, cfg *config.Config, opts ...Option) (*ResultConsumer, error) {
	if err := cfg.Require(config.FieldProjectID, config.FieldTableTemplate); err != nil {
		return nil, err
	}
	firestoreClient, err := gcp.NewFirestoreClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create firestore client: %w", err)
	}
	policy := gcp.NewCallPolicy(cfg.CallTimeout, cfg.CallMaxAttempts)

	c, err := NewResultConsumer(cfg, gcp.NewStateStore(firestoreClient, policy), opts...)
	if err != nil {
		return nil, err
	}
	slog.Info("Result consumer initialized.", "strictStatusTransition", cfg.StrictStatusTransition, "concurrency", c.concurrency)
	return c, nil
}

// NewResultConsumer wires a ResultConsumer over the given state store.
func NewResultConsumer(cfg *config.Config, state StateStore, opts ...Option) (*ResultConsumer, error) {
	if cfg == nil || state == nil {
		return nil, fmt.Errorf("NewResultConsumer: config and state store must not be nil")
	}
	concurrency := cfg.ConsumerConcurrency
	if concurrency < 1 {
		concurrency = 1
	}
	return &ResultConsumer{
		config:      cfg,
		state:       state,
		strict:      cfg.StrictStatusTransition,
		concurrency: concurrency,
		opts:        buildOptions(opts),
	}, nil
}

// ProcessBatch applies every message of the batch independently and returns the ids of
// the messages that failed, in batch order. One bad message never fails its batch-mates.
func (c *ResultConsumer) ProcessBatch(ctx context.Context, batch []models.CompletionMessage) models.BatchResponse {
	c.opts.logger.Info("Received completion batch.", "batchSize", len(batch))

	errs := make([]error, len(batch))
	var eg errgroup.Group
	eg.SetLimit(c.concurrency)
	for i := range batch {
		eg.Go(func() error {
			errs[i] = c.processMessage(ctx, batch[i])
			return nil
		})
	}
	_ = eg.Wait()

	resp := models.BatchResponse{BatchItemFailures: []models.BatchItemFailure{}}
	for i, err := range errs {
		if err == nil {
			continue
		}
		c.opts.metrics.Completions.WithLabelValues(metrics.OutcomeFailed).Inc()
		c.opts.logger.Error("Failed to process completion message", "messageId", batch[i].MessageID, "error", err)
		resp.BatchItemFailures = append(resp.BatchItemFailures, models.BatchItemFailure{ItemIdentifier: batch[i].MessageID})
	}
	return resp
}

func (c *ResultConsumer) processMessage(ctx context.Context, msg models.CompletionMessage) error {
	completion, err := parseCompletion(msg)
	if err != nil {
		return err
	}
	logCtx := c.opts.logger.With("messageId", msg.MessageID, "tenantId", completion.key.TenantID, "requestId", completion.key.RequestID)

	table := c.config.TableName(completion.key.TenantID)
	err = c.state.MarkProcessed(ctx, table, completion.key, completion.queueResult, c.opts.now(), c.strict)
	switch {
	case err == nil:
		c.opts.metrics.Completions.WithLabelValues(metrics.OutcomeOK).Inc()
		logCtx.Info("State updated with status PROCESSED.")
		return nil
	case errors.Is(err, gcp.ErrPreconditionFailed):
		// Redelivery of a completion that was already applied.
		c.opts.metrics.Completions.WithLabelValues(metrics.OutcomeDuplicate).Inc()
		logCtx.Info("Request already PROCESSED; completion ignored.")
		return nil
	case errors.Is(err, gcp.ErrRecordNotFound):
		return fmt.Errorf("%w: no state record for tenant %q request %q: %w",
			ErrConditionalUpdate, completion.key.TenantID, completion.key.RequestID, err)
	default:
		return fmt.Errorf("failed to update state: %w", err)
	}
}

type completion struct {
	key         models.StateKey
	queueResult string
}

// completionEnvelope is what gets stored as queueResult.
type completionEnvelope struct {
	MessageID         string            `json:"messageId"`
	ReceiptHandle     string            `json:"receiptHandle,omitempty"`
	Body              json.RawMessage   `json:"body"`
	Attributes        map[string]string `json:"attributes"`
	MessageAttributes map[string]string `json:"messageAttributes"`
}

func parseCompletion(msg models.CompletionMessage) (*completion, error) {
	var body map[string]any
	if err := json.Unmarshal([]byte(msg.Body), &body); err != nil {
		return nil, fmt.Errorf("%w: body is not a JSON object: %w", ErrParse, err)
	}
	if body == nil {
		return nil, fmt.Errorf("%w: body is null", ErrParse)
	}

	sources := []fieldSource{
		attributeSource(msg.MessageAttributes),
		bodySource(body),
	}
	tenantID, err := lookupField("tenantId", sources)
	if err != nil {
		return nil, err
	}
	requestID, err := lookupField("requestId", sources)
	if err != nil {
		return nil, err
	}
	if err := validateIdentity(tenantID, requestID); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrParse, err)
	}

	envelope, err := json.Marshal(completionEnvelope{
		MessageID:         msg.MessageID,
		ReceiptHandle:     msg.ReceiptHandle,
		Body:              json.RawMessage(msg.Body),
		Attributes:        msg.Attributes,
		MessageAttributes: msg.MessageAttributes,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to serialize envelope: %w", ErrParse, err)
	}

	return &completion{
		key:         models.StateKey{TenantID: tenantID, RequestID: requestID},
		queueResult: string(envelope),
	}, nil
}

// fieldSource looks up a named string field. found is false when the source lacks it.
type fieldSource func(name string) (value string, found bool, err error)

func attributeSource(attrs map[string]string) fieldSource {
	return func(name string) (string, bool, error) {
		v, ok := attrs[name]
		return v, ok && v != "", nil
	}
}

func bodySource(body map[string]any) fieldSource {
	return func(name string) (string, bool, error) {
		raw, ok := body[name]
		if !ok || raw == nil {
			return "", false, nil
		}
		s, ok := raw.(string)
		if !ok {
			return "", false, fmt.Errorf("%w: body field %s is not a string", ErrParse, name)
		}
		return s, s != "", nil
	}
}

// lookupField returns the value from the first source that has the field.
func lookupField(name string, sources []fieldSource) (string, error) {
	for _, source := range sources {
		v, found, err := source(name)
		if err != nil {
			return "", err
		}
		if found {
			return v, nil
		}
	}
	return "", fmt.Errorf("%w: missing %s", ErrParse, name)
}
