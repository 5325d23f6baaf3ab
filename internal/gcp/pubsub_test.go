package gcp

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/Lllllllleong/tenantocrflow/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

func openTestPubSub(t *testing.T, opts ...pstest.ServerReactorOption) (*pstest.Server, *pubsub.Client) {
	t.Helper()
	srv := pstest.NewServer(opts...)
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	client, err := pubsub.NewClient(context.Background(), "test-project", option.WithGRPCConn(conn))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return srv, client
}

type memoryDedup struct {
	mu       sync.Mutex
	claimed  map[string]bool
	released []string
}

func (d *memoryDedup) Claim(_ context.Context, queue, id string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.claimed == nil {
		d.claimed = map[string]bool{}
	}
	if d.claimed[queue+"|"+id] {
		return false, nil
	}
	d.claimed[queue+"|"+id] = true
	return true, nil
}

func (d *memoryDedup) Release(_ context.Context, queue, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.claimed, queue+"|"+id)
	d.released = append(d.released, id)
	return nil
}

func TestParseTopicName(t *testing.T) {
	cases := []struct {
		in, project, topic string
		wantErr            bool
	}{
		{in: "ocr-input-T1", project: "default", topic: "ocr-input-T1"},
		{in: "projects/p1/topics/ocr-input-T1", project: "p1", topic: "ocr-input-T1"},
		{in: "https://pubsub.googleapis.com/v1/projects/p1/topics/t", project: "p1", topic: "t"},
		{in: "", wantErr: true},
		{in: "projects/p1/subscriptions/s", wantErr: true},
		{in: "a/b", wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			project, topic, err := ParseTopicName(tc.in, "default")
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.project, project)
			assert.Equal(t, tc.topic, topic)
		})
	}
}

func TestPublisherSetsOrderingKeyAndAttributes(t *testing.T) {
	srv, client := openTestPubSub(t)
	ctx := context.Background()
	_, err := client.CreateTopic(ctx, "ocr-input-T1")
	require.NoError(t, err)

	pub := NewPublisher(client, &memoryDedup{})
	defer pub.Close()

	res, err := pub.Publish(ctx, "ocr-input-T1", models.QueueMessage{
		GroupID:         "T1",
		DeduplicationID: "r1",
		Body:            []byte(`{"requestId":"r1"}`),
		Attributes:      map[string]string{"tenantId": "T1"},
	})
	require.NoError(t, err)
	assert.False(t, res.Duplicate)
	require.NotEmpty(t, res.MessageID)

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "T1", msgs[0].OrderingKey)
	assert.Equal(t, `{"requestId":"r1"}`, string(msgs[0].Data))
	assert.Equal(t, "T1", msgs[0].Attributes[AttrMessageGroupID])
	assert.Equal(t, "r1", msgs[0].Attributes[AttrDeduplicationID])
	assert.Equal(t, "T1", msgs[0].Attributes["tenantId"])
}

func TestPublisherSuppressesDuplicates(t *testing.T) {
	srv, client := openTestPubSub(t)
	ctx := context.Background()
	_, err := client.CreateTopic(ctx, "ocr-input-T1")
	require.NoError(t, err)

	pub := NewPublisher(client, &memoryDedup{})
	defer pub.Close()

	msg := models.QueueMessage{GroupID: "T1", DeduplicationID: "r1", Body: []byte("{}")}
	first, err := pub.Publish(ctx, "ocr-input-T1", msg)
	require.NoError(t, err)
	second, err := pub.Publish(ctx, "ocr-input-T1", msg)
	require.NoError(t, err)

	assert.False(t, first.Duplicate)
	assert.True(t, second.Duplicate)
	assert.Len(t, srv.Messages(), 1)
}

func TestPublisherPreservesGroupOrder(t *testing.T) {
	srv, client := openTestPubSub(t)
	ctx := context.Background()
	_, err := client.CreateTopic(ctx, "ocr-input-T1")
	require.NoError(t, err)

	pub := NewPublisher(client, nil)
	defer pub.Close()

	for _, id := range []string{"A", "B", "C"} {
		_, err := pub.Publish(ctx, "ocr-input-T1", models.QueueMessage{GroupID: "T1", DeduplicationID: id, Body: []byte(id)})
		require.NoError(t, err)
	}

	msgs := srv.Messages()
	require.Len(t, msgs, 3)
	for i, want := range []string{"A", "B", "C"} {
		assert.Equal(t, want, string(msgs[i].Data))
	}
}

func TestPublisherReleasesClaimOnFailure(t *testing.T) {
	_, client := openTestPubSub(t)
	dedup := &memoryDedup{}
	pub := NewPublisher(client, dedup)
	defer pub.Close()

	// The topic was never created, so the publish fails.
	_, err := pub.Publish(context.Background(), "missing-topic", models.QueueMessage{GroupID: "T1", DeduplicationID: "r1", Body: []byte("{}")})
	require.Error(t, err)
	assert.Equal(t, []string{"r1"}, dedup.released)
}

// slowPublish delays every Publish RPC and then lets the server handle it.
type slowPublish struct {
	delay time.Duration
}

func (r slowPublish) React(_ interface{}) (bool, interface{}, error) {
	time.Sleep(r.delay)
	return false, nil, nil
}

func TestPublisherKeepsClaimWhenOutcomeUnknown(t *testing.T) {
	srv, client := openTestPubSub(t, pstest.ServerReactorOption{
		FuncName: "Publish",
		Reactor:  slowPublish{delay: 300 * time.Millisecond},
	})
	_, err := client.CreateTopic(context.Background(), "ocr-input-T1")
	require.NoError(t, err)

	dedup := &memoryDedup{}
	pub := NewPublisher(client, dedup)
	defer pub.Close()
	msg := models.QueueMessage{GroupID: "T1", DeduplicationID: "r1", Body: []byte("{}")}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err = pub.Publish(ctx, "ocr-input-T1", msg)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Empty(t, dedup.released)

	// The abandoned publish still lands, once.
	require.Eventually(t, func() bool { return len(srv.Messages()) == 1 }, 5*time.Second, 20*time.Millisecond)

	// The caller's retry is suppressed by the kept claim.
	res, err := pub.Publish(context.Background(), "ocr-input-T1", msg)
	require.NoError(t, err)
	assert.True(t, res.Duplicate)

	assert.Never(t, func() bool { return len(srv.Messages()) > 1 }, time.Second, 50*time.Millisecond)
}

func TestBatchReceiverAcksSuccessesAndNacksFailures(t *testing.T) {
	srv, client := openTestPubSub(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	topic, err := client.CreateTopic(ctx, "ocr-output-T1")
	require.NoError(t, err)
	sub, err := client.CreateSubscription(ctx, "ocr-output-T1-sub", pubsub.SubscriptionConfig{
		Topic:       topic,
		AckDeadline: 10 * time.Second,
	})
	require.NoError(t, err)

	good1 := srv.Publish("projects/test-project/topics/ocr-output-T1", []byte(`{"n":1}`), map[string]string{"tenantId": "T1"})
	bad := srv.Publish("projects/test-project/topics/ocr-output-T1", []byte(`not json`), nil)
	good2 := srv.Publish("projects/test-project/topics/ocr-output-T1", []byte(`{"n":2}`), nil)

	handler := func(_ context.Context, batch []models.CompletionMessage) models.BatchResponse {
		var resp models.BatchResponse
		for _, m := range batch {
			if m.Body == "not json" {
				resp.BatchItemFailures = append(resp.BatchItemFailures, models.BatchItemFailure{ItemIdentifier: m.MessageID})
			}
		}
		return resp
	}

	receiver := NewBatchReceiver(sub, 3, 20*time.Millisecond)
	done := make(chan error, 1)
	go func() { done <- receiver.Run(ctx, handler) }()

	require.Eventually(t, func() bool {
		return srv.Message(good1).Acks > 0 && srv.Message(good2).Acks > 0
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			t.Fatalf("receiver: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("receiver did not stop")
	}
	assert.Equal(t, 0, srv.Message(bad).Acks)
}

func TestCompletionFromPubSub(t *testing.T) {
	attempt := 2
	published := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	msg := CompletionFromPubSub(&pubsub.Message{
		ID:              "m-1",
		Data:            []byte(`{"tenantId":"T1"}`),
		Attributes:      map[string]string{"requestId": "r1"},
		PublishTime:     published,
		DeliveryAttempt: &attempt,
		OrderingKey:     "T1",
	})

	assert.Equal(t, "m-1", msg.MessageID)
	assert.Equal(t, `{"tenantId":"T1"}`, msg.Body)
	assert.Equal(t, "r1", msg.MessageAttributes["requestId"])
	assert.Equal(t, "2", msg.Attributes["deliveryAttempt"])
	assert.Equal(t, "T1", msg.Attributes["orderingKey"])
	assert.Equal(t, "2025-01-02T03:04:05Z", msg.Attributes["publishTime"])
}
