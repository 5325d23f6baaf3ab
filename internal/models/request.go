package models

import (
	"fmt"
	"time"
)

// Status is the processing state of a request. Values are stored verbatim.
type Status string

const (
	StatusProcessing Status = "PROCESSING"
	StatusProcessed  Status = "PROCESSED"
)

// ProcessingRequest is the state record for one document of one tenant in Firestore.
// It is created by ingestion, completed once by the result consumer and only read afterwards.
type ProcessingRequest struct {
	PK             string    `firestore:"pk" json:"-"`
	SK             string    `firestore:"sk" json:"-"`
	TenantID       string    `firestore:"tenantId" json:"tenantId"`
	RequestID      string    `firestore:"requestId" json:"requestId"`
	CorrelationID  string    `firestore:"correlationId" json:"correlationId"`
	DocumentType   string    `firestore:"documentType" json:"documentType"`
	BucketName     string    `firestore:"bucketName" json:"bucketName"`
	BucketKey      string    `firestore:"bucketKey" json:"bucketKey"`
	OutputQueueURL string    `firestore:"outputQueueUrl" json:"outputQueueUrl"`
	Status         Status    `firestore:"status" json:"status"`
	PageCount      int       `firestore:"pageCount,omitempty" json:"pageCount,omitempty"`
	CreatedAt      time.Time `firestore:"createdAt" json:"createdAt"`
	UpdatedAt      time.Time `firestore:"updatedAt" json:"updatedAt"`
	QueueResult    string    `firestore:"queueResult,omitempty" json:"queueResult,omitempty"`
}

// StateKey addresses a ProcessingRequest.
type StateKey struct {
	TenantID  string
	RequestID string
}

// PartitionKey is the tenant half of the composite key.
func (k StateKey) PartitionKey() string {
	return "TENANT_ID#" + k.TenantID
}

// SortKey is the request half of the composite key.
func (k StateKey) SortKey() string {
	return "REQUEST_ID#" + k.RequestID
}

// DocumentID flattens the composite key into a single Firestore document ID.
// Tenant and request ids never contain '/', so the result is a valid ID.
func (k StateKey) DocumentID() string {
	return k.PartitionKey() + "|" + k.SortKey()
}

// Key returns the state key of the record.
func (r *ProcessingRequest) Key() StateKey {
	return StateKey{TenantID: r.TenantID, RequestID: r.RequestID}
}

// BlobKey is the object key of a request's document inside the tenant bucket.
func BlobKey(tenantID, requestID string) string {
	return fmt.Sprintf("tenants/%s/requests/%s", tenantID, requestID)
}

// FormatTime renders a timestamp the way every API response does: RFC 3339, UTC.
func FormatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
