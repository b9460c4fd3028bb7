package extraction

import (
	"errors"
	"fmt"
	"net/http"
)

// TransportError means the service could not be reached or did not answer in time
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("extraction transport: %v", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ServiceError means the service answered with a non-success status
type ServiceError struct {
	StatusCode int
	Message    string
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("extraction service rejected request (status %d): %s", e.StatusCode, e.Message)
}

// Retryable reports whether the status is worth retrying: 429 and 5xx
func (e *ServiceError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// PayloadError means the service reply could not be decoded into a receipt.
// It is never repaired or defaulted.
type PayloadError struct {
	Detail  string
	Content string // offending content, truncated
	Err     error
}

// maxContentSnippet bounds the content kept for diagnostics
const maxContentSnippet = 512

func newPayloadError(detail, content string, err error) *PayloadError {
	if len(content) > maxContentSnippet {
		content = content[:maxContentSnippet] + "…"
	}
	return &PayloadError{Detail: detail, Content: content, Err: err}
}

func (e *PayloadError) Error() string {
	msg := "malformed extraction payload: " + e.Detail
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Content != "" {
		msg += fmt.Sprintf(" (content: %q)", e.Content)
	}
	return msg
}

func (e *PayloadError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether err is a transient failure a caller may retry:
// transport failures and 429/5xx service responses
func IsRetryable(err error) bool {
	var transportErr *TransportError
	if errors.As(err, &transportErr) {
		return true
	}
	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		return serviceErr.Retryable()
	}
	return false
}

// serviceMessage returns the message of a service error envelope
// ({"error":{"message":...}} or {"error":"..."}) or a generic message
func serviceMessage(status int, body []byte) string {
	if msg := errorEnvelopeMessage(body); msg != "" {
		return msg
	}
	return fmt.Sprintf("service returned status %d", status)
}
