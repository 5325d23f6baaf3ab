package gcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"cloud.google.com/go/pubsub"
	"github.com/Lllllllleong/tenantocrflow/internal/models"
)

// Message attribute names set on every published work item.
const (
	AttrMessageGroupID  = "messageGroupId"
	AttrDeduplicationID = "deduplicationId"
)

// NewPubSubClient creates and returns a new Pub/Sub client for the given project ID.
func NewPubSubClient(ctx context.Context, projectID string) (*pubsub.Client, error) {
	if projectID == "" {
		return nil, fmt.Errorf("projectID must be provided to create a pubsub client")
	}

	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create Pub/Sub client: %w", err)
	}
	return client, nil
}

// ParseTopicName splits a queue address into project and topic. The address is either a
// bare topic ID, resolved against defaultProject, or a resource name of the form
// "projects/{project}/topics/{topic}", optionally behind an API URL prefix.
func ParseTopicName(queue, defaultProject string) (project, topic string, err error) {
	i := strings.Index(queue, "projects/")
	if i < 0 {
		if queue == "" || strings.Contains(queue, "/") {
			return "", "", fmt.Errorf("invalid topic name: %q", queue)
		}
		return defaultProject, queue, nil
	}

	parts := strings.Split(queue[i:], "/")
	if len(parts) != 4 || parts[2] != "topics" || parts[1] == "" || parts[3] == "" {
		return "", "", fmt.Errorf("invalid topic name: %q", queue)
	}
	return parts[1], parts[3], nil
}

// Deduplicator claims deduplication ids for a queue.
type Deduplicator interface {
	Claim(ctx context.Context, queue, dedupID string) (bool, error)
	Release(ctx context.Context, queue, dedupID string) error
}

// PublishResult reports the outcome of a publish.
type PublishResult struct {
	MessageID string
	// Duplicate is set when the deduplication id was already claimed and nothing was sent.
	Duplicate bool
}

// Publisher sends messages to Pub/Sub topics with ordering keys. The message group
// becomes the ordering key, so one group is delivered in publish order.
// Each message is handed to the Pub/Sub client once; the client owns retries of the publish RPC.
type Publisher struct {
	client *pubsub.Client
	dedup  Deduplicator

	mu     sync.Mutex
	topics map[string]*pubsub.Topic
}

// NewPublisher creates a Publisher. dedup may be nil to disable deduplication.
func NewPublisher(client *pubsub.Client, dedup Deduplicator) *Publisher {
	return &Publisher{
		client: client,
		dedup:  dedup,
		topics: make(map[string]*pubsub.Topic),
	}
}

func (p *Publisher) topic(queue string) (*pubsub.Topic, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if t, ok := p.topics[queue]; ok {
		return t, nil
	}
	project, id, err := ParseTopicName(queue, p.client.Project())
	if err != nil {
		return nil, err
	}
	t := p.client.TopicInProject(id, project)
	t.EnableMessageOrdering = true
	p.topics[queue] = t
	return t, nil
}

// Publish sends msg to queue unless its deduplication id was already claimed.
//
// When the publish is rejected the claim is released so the caller can retry. When the
// outcome is unknown (deadline, cancellation, transient transport failure) the message may
// still be delivered, so the claim is kept and a retry inside the window is a duplicate.
func (p *Publisher) Publish(ctx context.Context, queue string, msg models.QueueMessage) (PublishResult, error) {
	t, err := p.topic(queue)
	if err != nil {
		return PublishResult{}, err
	}

	dedup := p.dedup != nil && msg.DeduplicationID != ""
	if dedup {
		claimed, err := p.dedup.Claim(ctx, queue, msg.DeduplicationID)
		if err != nil {
			return PublishResult{}, fmt.Errorf("failed to claim deduplication id: %w", err)
		}
		if !claimed {
			slog.Info("Duplicate message suppressed.", "queue", queue, "deduplicationId", msg.DeduplicationID)
			return PublishResult{Duplicate: true}, nil
		}
	}

	attrs := make(map[string]string, len(msg.Attributes)+2)
	for k, v := range msg.Attributes {
		attrs[k] = v
	}
	attrs[AttrMessageGroupID] = msg.GroupID
	attrs[AttrDeduplicationID] = msg.DeduplicationID

	res := t.Publish(ctx, &pubsub.Message{
		Data:        msg.Body,
		Attributes:  attrs,
		OrderingKey: msg.GroupID,
	})
	id, err := res.Get(ctx)
	if err == nil {
		return PublishResult{MessageID: id}, nil
	}

	if outcomeUnknown(ctx, err) {
		slog.Warn("Publish outcome unknown; keeping deduplication claim.", "queue", queue, "deduplicationId", msg.DeduplicationID, "error", err)
		return PublishResult{}, fmt.Errorf("publish to %s: %w", queue, err)
	}

	// A failed publish pauses its ordering key until resumed.
	t.ResumePublish(msg.GroupID)
	if dedup {
		if rerr := p.dedup.Release(context.WithoutCancel(ctx), queue, msg.DeduplicationID); rerr != nil {
			slog.Error("Failed to release deduplication id after publish error.", "queue", queue, "deduplicationId", msg.DeduplicationID, "error", rerr)
		}
	}
	return PublishResult{}, fmt.Errorf("publish to %s: %w", queue, err)
}

// outcomeUnknown reports whether a publish error leaves open that the message was stored.
func outcomeUnknown(ctx context.Context, err error) bool {
	if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var paused pubsub.ErrPublishingPaused
	if errors.As(err, &paused) {
		return false
	}
	return IsRetryable(err)
}

// Close flushes and stops every topic opened by the publisher.
func (p *Publisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, t := range p.topics {
		t.Stop()
	}
}
