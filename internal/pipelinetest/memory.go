// Package pipelinetest provides in-memory stand-ins for the storage, state and queue adapters.
package pipelinetest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Lllllllleong/tenantocrflow/internal/gcp"
	"github.com/Lllllllleong/tenantocrflow/internal/models"
)

// Blob is one stored object.
type Blob struct {
	Data     []byte
	Metadata map[string]string
}

// BlobStore keeps objects in memory, keyed by bucket and key.
type BlobStore struct {
	mu    sync.Mutex
	blobs map[string]Blob
	// Err, when set, fails every Put.
	Err error
}

func NewBlobStore() *BlobStore {
	return &BlobStore{blobs: make(map[string]Blob)}
}

func (b *BlobStore) Put(_ context.Context, bucket, key string, data []byte, metadata map[string]string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.Err != nil {
		return b.Err
	}
	b.blobs[bucket+"/"+key] = Blob{Data: append([]byte(nil), data...), Metadata: metadata}
	return nil
}

// Get returns a stored object.
func (b *BlobStore) Get(bucket, key string) (Blob, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	blob, ok := b.blobs[bucket+"/"+key]
	return blob, ok
}

// Len returns the number of stored objects.
func (b *BlobStore) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.blobs)
}

// StateStore keeps records in memory with the same error contract as gcp.StateStore.
type StateStore struct {
	mu      sync.Mutex
	records map[string]models.ProcessingRequest
	// Err, when set, fails every call.
	Err error
}

func NewStateStore() *StateStore {
	return &StateStore{records: make(map[string]models.ProcessingRequest)}
}

func stateKey(collection string, key models.StateKey) string {
	return collection + "/" + key.DocumentID()
}

func (s *StateStore) Create(_ context.Context, collection string, rec *models.ProcessingRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	k := stateKey(collection, rec.Key())
	if _, ok := s.records[k]; ok {
		return fmt.Errorf("%s: %w", k, gcp.ErrRecordExists)
	}
	stored := *rec
	stored.PK = rec.Key().PartitionKey()
	stored.SK = rec.Key().SortKey()
	s.records[k] = stored
	return nil
}

func (s *StateStore) Get(_ context.Context, collection string, key models.StateKey) (*models.ProcessingRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	rec, ok := s.records[stateKey(collection, key)]
	if !ok {
		return nil, fmt.Errorf("%s: %w", key.DocumentID(), gcp.ErrRecordNotFound)
	}
	return &rec, nil
}

func (s *StateStore) MarkProcessed(_ context.Context, collection string, key models.StateKey, queueResult string, at time.Time, requireProcessing bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	k := stateKey(collection, key)
	rec, ok := s.records[k]
	if !ok {
		return fmt.Errorf("%s: %w", key.DocumentID(), gcp.ErrRecordNotFound)
	}
	if requireProcessing && rec.Status != models.StatusProcessing {
		return fmt.Errorf("%s has status %s: %w", key.DocumentID(), rec.Status, gcp.ErrPreconditionFailed)
	}
	rec.Status = models.StatusProcessed
	rec.QueueResult = queueResult
	if at.After(rec.UpdatedAt) {
		rec.UpdatedAt = at
	}
	s.records[k] = rec
	return nil
}

// Len returns the number of records across all collections.
func (s *StateStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// Publisher records published messages per queue and suppresses repeated deduplication ids.
type Publisher struct {
	mu       sync.Mutex
	messages map[string][]models.QueueMessage
	seen     map[string]bool
	next     int
	// Err, when set, fails every Publish.
	Err error
}

func NewPublisher() *Publisher {
	return &Publisher{
		messages: make(map[string][]models.QueueMessage),
		seen:     make(map[string]bool),
	}
}

func (p *Publisher) Publish(_ context.Context, queue string, msg models.QueueMessage) (gcp.PublishResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return gcp.PublishResult{}, p.Err
	}
	if msg.DeduplicationID != "" {
		id := queue + "\x00" + msg.DeduplicationID
		if p.seen[id] {
			return gcp.PublishResult{Duplicate: true}, nil
		}
		p.seen[id] = true
	}
	p.next++
	p.messages[queue] = append(p.messages[queue], msg)
	return gcp.PublishResult{MessageID: fmt.Sprintf("m-%d", p.next)}, nil
}

// Messages returns the messages delivered to queue, in publish order.
func (p *Publisher) Messages(queue string) []models.QueueMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]models.QueueMessage(nil), p.messages[queue]...)
}

// Len returns the number of delivered messages across all queues.
func (p *Publisher) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, msgs := range p.messages {
		n += len(msgs)
	}
	return n
}
