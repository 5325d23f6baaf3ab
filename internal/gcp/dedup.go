package gcp

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// dedupEntry is one claimed deduplication id.
type dedupEntry struct {
	Queue           string    `firestore:"queue"`
	DeduplicationID string    `firestore:"deduplicationId"`
	ClaimedAt       time.Time `firestore:"claimedAt"`
	ExpiresAt       time.Time `firestore:"expiresAt"`
	Owner           string    `firestore:"owner"`
}

// DedupLedger gives Pub/Sub topics producer-side deduplication: a deduplication id
// can be claimed once per queue within the window.
type DedupLedger struct {
	client     *firestore.Client
	collection string
	window     time.Duration
	policy     CallPolicy
	now        func() time.Time
}

// NewDedupLedger stores claims in the given Firestore collection.
func NewDedupLedger(client *firestore.Client, collection string, window time.Duration, policy CallPolicy) *DedupLedger {
	return &DedupLedger{
		client:     client,
		collection: collection,
		window:     window,
		policy:     policy,
		now:        time.Now,
	}
}

func (l *DedupLedger) ref(queue, dedupID string) *firestore.DocumentRef {
	sum := sha256.Sum256([]byte(queue + "\x00" + dedupID))
	return l.client.Collection(l.collection).Doc(hex.EncodeToString(sum[:]))
}

// Claim records dedupID for queue. It returns false when the id was already
// claimed and the claim has not expired.
func (l *DedupLedger) Claim(ctx context.Context, queue, dedupID string) (bool, error) {
	ref := l.ref(queue, dedupID)
	// A retried attempt may find the claim its own timed-out attempt committed.
	owner := uuid.NewString()

	var claimed bool
	err := l.policy.Do(ctx, "claim deduplication id "+dedupID, func(ctx context.Context) error {
		return l.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
			now := l.now()
			entry := dedupEntry{
				Queue:           queue,
				DeduplicationID: dedupID,
				ClaimedAt:       now,
				ExpiresAt:       now.Add(l.window),
				Owner:           owner,
			}

			snap, err := tx.Get(ref)
			if status.Code(err) == codes.NotFound {
				claimed = true
				return tx.Create(ref, entry)
			}
			if err != nil {
				return err
			}

			var existing dedupEntry
			if err := snap.DataTo(&existing); err != nil {
				return err
			}
			if existing.Owner == owner {
				claimed = true
				return nil
			}
			if now.Before(existing.ExpiresAt) {
				claimed = false
				return nil
			}
			claimed = true
			return tx.Set(ref, entry)
		})
	})
	return claimed, err
}

// Release drops a claim so a failed publish can be retried with the same id.
func (l *DedupLedger) Release(ctx context.Context, queue, dedupID string) error {
	ref := l.ref(queue, dedupID)
	return l.policy.Do(ctx, "release deduplication id "+dedupID, func(ctx context.Context) error {
		_, err := ref.Delete(ctx)
		return err
	})
}
