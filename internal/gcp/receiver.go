package gcp

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/Lllllllleong/tenantocrflow/internal/models"
	"golang.org/x/sync/errgroup"
)

// BatchHandler processes a batch and reports the messages that failed.
type BatchHandler func(ctx context.Context, batch []models.CompletionMessage) models.BatchResponse

// BatchReceiver pulls completion messages from a subscription and hands them to a
// BatchHandler in batches. Messages reported as failed are nacked for redelivery,
// the rest are acked.
type BatchReceiver struct {
	sub    *pubsub.Subscription
	size   int
	window time.Duration
}

// NewBatchReceiver groups up to size messages, flushing a partial batch after window.
func NewBatchReceiver(sub *pubsub.Subscription, size int, window time.Duration) *BatchReceiver {
	if size < 1 {
		size = 1
	}
	if window <= 0 {
		window = time.Second
	}
	if sub.ReceiveSettings.MaxOutstandingMessages < size {
		sub.ReceiveSettings.MaxOutstandingMessages = size
	}
	return &BatchReceiver{sub: sub, size: size, window: window}
}

// Run receives until ctx is done. Messages already received are still processed.
func (r *BatchReceiver) Run(ctx context.Context, handle BatchHandler) error {
	pending := make(chan *pubsub.Message)
	eg, gctx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		defer close(pending)
		return r.sub.Receive(gctx, func(_ context.Context, m *pubsub.Message) {
			select {
			case pending <- m:
			case <-gctx.Done():
				m.Nack()
			}
		})
	})
	eg.Go(func() error {
		r.batchLoop(context.WithoutCancel(ctx), pending, handle)
		return nil
	})
	return eg.Wait()
}

func (r *BatchReceiver) batchLoop(ctx context.Context, in <-chan *pubsub.Message, handle BatchHandler) {
	var batch []*pubsub.Message
	timer := time.NewTimer(r.window)
	timer.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		r.dispatch(ctx, batch, handle)
		batch = nil
	}

	for {
		select {
		case m, ok := <-in:
			if !ok {
				timer.Stop()
				flush()
				return
			}
			if len(batch) == 0 {
				timer.Reset(r.window)
			}
			batch = append(batch, m)
			if len(batch) >= r.size {
				timer.Stop()
				flush()
			}
		case <-timer.C:
			flush()
		}
	}
}

func (r *BatchReceiver) dispatch(ctx context.Context, batch []*pubsub.Message, handle BatchHandler) {
	msgs := make([]models.CompletionMessage, len(batch))
	for i, m := range batch {
		msgs[i] = CompletionFromPubSub(m)
	}

	resp := handle(ctx, msgs)
	failed := make(map[string]bool, len(resp.BatchItemFailures))
	for _, f := range resp.BatchItemFailures {
		failed[f.ItemIdentifier] = true
	}

	for _, m := range batch {
		if failed[m.ID] {
			m.Nack()
			continue
		}
		m.Ack()
	}
	slog.Info("Batch settled.", "batchSize", len(batch), "failed", len(failed))
}

// CompletionFromPubSub converts a pulled Pub/Sub message. Publisher-set attributes become
// message attributes; delivery metadata becomes system attributes.
func CompletionFromPubSub(m *pubsub.Message) models.CompletionMessage {
	attrs := map[string]string{
		"publishTime": models.FormatTime(m.PublishTime),
	}
	if m.OrderingKey != "" {
		attrs["orderingKey"] = m.OrderingKey
	}
	if m.DeliveryAttempt != nil {
		attrs["deliveryAttempt"] = strconv.Itoa(*m.DeliveryAttempt)
	}
	return models.CompletionMessage{
		MessageID:         m.ID,
		Body:              string(m.Data),
		Attributes:        attrs,
		MessageAttributes: m.Attributes,
	}
}
