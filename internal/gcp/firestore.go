package gcp

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/Lllllllleong/tenantocrflow/internal/models"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// NewFirestoreClient creates and returns a new Firestore client for the given project ID.
// It centralizes client creation for all services.
func NewFirestoreClient(ctx context.Context, projectID string) (*firestore.Client, error) {
	if projectID == "" {
		return nil, fmt.Errorf("projectID must be provided to create a firestore client")
	}

	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}

	return client, nil
}

// StateStore keeps ProcessingRequest records, one Firestore collection per tenant.
type StateStore struct {
	client *firestore.Client
	policy CallPolicy
}

// NewStateStore wraps a Firestore client with the given call policy.
func NewStateStore(client *firestore.Client, policy CallPolicy) *StateStore {
	return &StateStore{client: client, policy: policy}
}

func (s *StateStore) ref(collection string, key models.StateKey) *firestore.DocumentRef {
	return s.client.Collection(collection).Doc(key.DocumentID())
}

// Create writes a new record. It returns ErrRecordExists if the key is already taken.
func (s *StateStore) Create(ctx context.Context, collection string, rec *models.ProcessingRequest) error {
	key := rec.Key()
	rec.PK, rec.SK = key.PartitionKey(), key.SortKey()
	ref := s.ref(collection, key)

	return s.policy.Do(ctx, "create state record "+ref.Path, func(ctx context.Context) error {
		if _, err := ref.Create(ctx, rec); err != nil {
			if status.Code(err) == codes.AlreadyExists {
				return ErrRecordExists
			}
			return err
		}
		return nil
	})
}

// Get reads a record. It returns ErrRecordNotFound if there is none.
func (s *StateStore) Get(ctx context.Context, collection string, key models.StateKey) (*models.ProcessingRequest, error) {
	ref := s.ref(collection, key)

	var rec models.ProcessingRequest
	err := s.policy.Do(ctx, "get state record "+ref.Path, func(ctx context.Context) error {
		snap, err := ref.Get(ctx)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return ErrRecordNotFound
			}
			return err
		}
		return snap.DataTo(&rec)
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// MarkProcessed completes a record. The record must already exist; a missing record
// yields ErrRecordNotFound and nothing is created. With requireProcessing the update also
// requires status PROCESSING and yields ErrPreconditionFailed otherwise.
func (s *StateStore) MarkProcessed(ctx context.Context, collection string, key models.StateKey, queueResult string, at time.Time, requireProcessing bool) error {
	ref := s.ref(collection, key)
	op := "mark processed " + ref.Path

	if !requireProcessing {
		return s.policy.Do(ctx, op, func(ctx context.Context) error {
			// Update carries an implicit exists precondition.
			_, err := ref.Update(ctx, processedUpdates(queueResult, at))
			if status.Code(err) == codes.NotFound {
				return ErrRecordNotFound
			}
			return err
		})
	}

	return s.policy.Do(ctx, op, func(ctx context.Context) error {
		return s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
			snap, err := tx.Get(ref)
			if err != nil {
				if status.Code(err) == codes.NotFound {
					return ErrRecordNotFound
				}
				return err
			}
			var current models.ProcessingRequest
			if err := snap.DataTo(&current); err != nil {
				return err
			}
			if current.Status != models.StatusProcessing {
				return fmt.Errorf("%w: status is %s", ErrPreconditionFailed, current.Status)
			}
			if at.Before(current.UpdatedAt) {
				at = current.UpdatedAt
			}
			return tx.Update(ref, processedUpdates(queueResult, at))
		})
	})
}

func processedUpdates(queueResult string, at time.Time) []firestore.Update {
	return []firestore.Update{
		{Path: "status", Value: string(models.StatusProcessed)},
		{Path: "queueResult", Value: queueResult},
		{Path: "updatedAt", Value: at},
	}
}
