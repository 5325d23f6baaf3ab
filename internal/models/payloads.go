package models

// These structs define the JSON payloads exchanged with clients and with the queues.

// SubmitDocumentRequest is the body of POST /documents.
type SubmitDocumentRequest struct {
	DocumentType  string `json:"tipoDocumento"`
	CorrelationID string `json:"correlationId"`
	Document      string `json:"documento"`
}

// SubmitDocumentResponse is the body returned by POST /documents.
type SubmitDocumentResponse struct {
	TenantID  string `json:"tenantId"`
	RequestID string `json:"requestId"`
	Status    Status `json:"status"`
	CreatedAt string `json:"createdAt"`
	UpdatedAt string `json:"updatedAt"`
}

// RequestStatusResponse is returned by GET /documents while a request has no result yet.
type RequestStatusResponse SubmitDocumentResponse

// WorkItem is the message placed on a tenant's input queue for the OCR worker.
type WorkItem struct {
	TenantID       string `json:"tenantId"`
	RequestID      string `json:"requestId"`
	CorrelationID  string `json:"correlationId"`
	DocumentType   string `json:"documentType"`
	BucketName     string `json:"bucketName"`
	BucketKey      string `json:"bucketKey"`
	OutputQueueURL string `json:"outputQueueUrl"`
	Timestamp      string `json:"timestamp"`
}

// QueueMessage is a message to publish on a work queue.
type QueueMessage struct {
	GroupID         string
	DeduplicationID string
	Body            []byte
	Attributes      map[string]string
}

// CompletionMessage is one message drained from an output queue.
type CompletionMessage struct {
	MessageID         string            `json:"messageId"`
	ReceiptHandle     string            `json:"receiptHandle,omitempty"`
	Body              string            `json:"body"`
	Attributes        map[string]string `json:"attributes,omitempty"`
	MessageAttributes map[string]string `json:"messageAttributes,omitempty"`
}

// CompletionBatch is the body of the HTTP batch entry point.
type CompletionBatch struct {
	Records []CompletionMessage `json:"records"`
}

// BatchItemFailure identifies one message of a batch that must be redelivered.
type BatchItemFailure struct {
	ItemIdentifier string `json:"itemIdentifier"`
}

// BatchResponse lists the failed messages of a batch. Messages not listed were processed.
type BatchResponse struct {
	BatchItemFailures []BatchItemFailure `json:"batchItemFailures"`
}

// TokenRequest is the body of POST /auth/token.
type TokenRequest struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
}

// TokenResponse is the body returned by POST /auth/token.
type TokenResponse struct {
	Token string `json:"token"`
}
