package services

import "errors"

var (
	// ErrValidation is returned when a required input is missing or malformed.
	ErrValidation = errors.New("validation error")

	// ErrDecode is returned when the submitted document is not valid base64.
	ErrDecode = errors.New("decode error")

	// ErrAuth is returned when the identity provider rejects a credentials exchange.
	ErrAuth = errors.New("auth error")

	// ErrUnavailable is returned when the identity provider cannot be reached or does not answer in time.
	ErrUnavailable = errors.New("identity provider unavailable")

	// ErrIngestion is returned when writing the blob, the state record or the work item fails.
	ErrIngestion = errors.New("ingestion error")

	// ErrConditionalUpdate is returned when a completion targets a record that does not exist
	// or is no longer PROCESSING.
	ErrConditionalUpdate = errors.New("conditional update failed")

	// ErrParse is returned when a completion message body is malformed.
	ErrParse = errors.New("parse error")

	// ErrQuery is returned when the state store lookup fails.
	ErrQuery = errors.New("query error")

	// ErrNotFound is returned when no state record matches a tenant and request.
	ErrNotFound = errors.New("not found")
)
