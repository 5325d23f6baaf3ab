package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/Lllllllleong/tenantocrflow/internal/models"
	cloudevents "github.com/cloudevents/sdk-go/v2"
)

// BatchProcessor applies a batch of completion messages.
type BatchProcessor interface {
	ProcessBatch(ctx context.Context, batch []models.CompletionMessage) models.BatchResponse
}

// ProcessResultBatch handles a POSTed batch of completion messages and reports the failed ones.
func ProcessResultBatch(svc BatchProcessor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var batch models.CompletionBatch
		if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
			slog.Warn("Could not decode completion batch", "error", err)
			http.Error(w, "Bad Request: could not parse JSON", http.StatusBadRequest)
			return
		}
		writeJSON(w, svc.ProcessBatch(r.Context(), batch.Records))
	}
}

// PushMessage is the message carried by a Pub/Sub messagePublished CloudEvent.
type PushMessage struct {
	Data        []byte            `json:"data"`
	Attributes  map[string]string `json:"attributes"`
	MessageID   string            `json:"messageId"`
	PublishTime time.Time         `json:"publishTime"`
	OrderingKey string            `json:"orderingKey"`
}

// PushPayload is the data of a Pub/Sub messagePublished CloudEvent.
type PushPayload struct {
	Message      PushMessage `json:"message"`
	Subscription string      `json:"subscription"`
}

// ProcessResultEvent handles one push-delivered completion. Returning an error makes
// Pub/Sub redeliver the message.
func ProcessResultEvent(svc BatchProcessor) func(ctx context.Context, e cloudevents.Event) error {
	return func(ctx context.Context, e cloudevents.Event) error {
		var payload PushPayload
		if err := e.DataAs(&payload); err != nil {
			slog.Error("Failed to unmarshal event data", "error", err, "eventId", e.ID())
			return fmt.Errorf("event.DataAs: %w", err)
		}

		msg := completionFromPush(payload)
		resp := svc.ProcessBatch(ctx, []models.CompletionMessage{msg})
		if len(resp.BatchItemFailures) > 0 {
			return fmt.Errorf("completion message %s was not applied", msg.MessageID)
		}
		return nil
	}
}

func completionFromPush(p PushPayload) models.CompletionMessage {
	attrs := map[string]string{"subscription": p.Subscription}
	if !p.Message.PublishTime.IsZero() {
		attrs["publishTime"] = models.FormatTime(p.Message.PublishTime)
	}
	if p.Message.OrderingKey != "" {
		attrs["orderingKey"] = p.Message.OrderingKey
	}
	return models.CompletionMessage{
		MessageID:         p.Message.MessageID,
		Body:              string(p.Message.Data),
		Attributes:        attrs,
		MessageAttributes: p.Message.Attributes,
	}
}
