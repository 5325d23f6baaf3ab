package gcp

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
)

// BlobStore writes document bytes into per-tenant Cloud Storage buckets.
type BlobStore struct {
	client *storage.Client
	policy CallPolicy
}

// NewBlobStore wraps a storage client with the given call policy.
func NewBlobStore(client *storage.Client, policy CallPolicy) *BlobStore {
	return &BlobStore{client: client, policy: policy}
}

// Put writes data to bucket/key, replacing any existing object.
// A retried submission rewrites the same bytes under the same key.
func (b *BlobStore) Put(ctx context.Context, bucket, key string, data []byte, metadata map[string]string) error {
	op := fmt.Sprintf("put gs://%s/%s", bucket, key)
	return b.policy.Do(ctx, op, func(ctx context.Context) error {
		writer := b.client.Bucket(bucket).Object(key).NewWriter(ctx)
		writer.ContentType = "application/octet-stream"
		writer.Metadata = metadata

		if _, err := io.Copy(writer, bytes.NewReader(data)); err != nil {
			_ = writer.Close()
			return fmt.Errorf("failed to write to GCS: %w", err)
		}
		if err := writer.Close(); err != nil {
			return fmt.Errorf("failed to finalize GCS write: %w", err)
		}
		return nil
	})
}
