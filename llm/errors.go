package llm

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Error represents a provider-neutral LLM error.
type Error struct {
	Type        ErrorType      `json:"type"`
	Message     string         `json:"message"`
	Retryable   bool           `json:"retryable"`
	RetryAfter  *time.Duration `json:"retry_after,omitempty"`
	StatusCode  int            `json:"status_code,omitempty"`
	ProviderErr error          `json:"-"` // Original transport or decode error
}

// ErrorType represents the category of error.
type ErrorType string

const (
	ErrorTypeConfig           ErrorType = "config"
	ErrorTypeNetwork          ErrorType = "network"
	ErrorTypeTimeout          ErrorType = "timeout"
	ErrorTypeAuth             ErrorType = "auth"
	ErrorTypeModelNotFound    ErrorType = "model_not_found"
	ErrorTypeRateLimit        ErrorType = "rate_limit"
	ErrorTypeUpstream         ErrorType = "upstream"
	ErrorTypeInvalidRequest   ErrorType = "invalid_request"
	ErrorTypeProviderPayload  ErrorType = "provider_payload"
	ErrorTypePromptBlocked    ErrorType = "prompt_blocked"
	ErrorTypeEmptyContent     ErrorType = "empty_content"
	ErrorTypeParse            ErrorType = "parse"
	ErrorTypeSchemaValidation ErrorType = "schema_validation"
	ErrorTypeUnknown          ErrorType = "unknown"
)

// Error implements the error interface.
func (e *Error) Error() string {
	if e.ProviderErr != nil {
		return e.Message + ": " + e.ProviderErr.Error()
	}
	return e.Message
}

// Unwrap returns the underlying provider error.
func (e *Error) Unwrap() error {
	return e.ProviderErr
}

// IsRateLimitError checks if an error is a rate limit error.
func IsRateLimitError(err error) bool {
	return hasType(err, ErrorTypeRateLimit)
}

// IsConfigError checks if an error is a configuration error.
func IsConfigError(err error) bool {
	return hasType(err, ErrorTypeConfig)
}

// IsRetryableError checks if an error is retryable.
func IsRetryableError(err error) bool {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.Retryable
	}
	return false
}

// ExtractRetryAfter extracts the retry-after duration from an error.
func ExtractRetryAfter(err error) *time.Duration {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.RetryAfter
	}
	return nil
}

func hasType(err error, t ErrorType) bool {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.Type == t
	}
	return false
}

// NewConfigError creates a configuration error. These short-circuit a call
// before any network traffic.
func NewConfigError(message string) *Error {
	return &Error{
		Type:    ErrorTypeConfig,
		Message: message,
	}
}

// NewTransportError wraps a connection or timeout failure.
func NewTransportError(err error, timedOut bool) *Error {
	t := ErrorTypeNetwork
	if timedOut {
		t = ErrorTypeTimeout
	}
	return &Error{
		Type:      t,
		Message:   fmt.Sprintf("Request failed: %v", err),
		Retryable: true,
	}
}

// NewRateLimitError creates a new rate limit error.
func NewRateLimitError(message string, retryAfter *time.Duration, providerErr error) *Error {
	return &Error{
		Type:        ErrorTypeRateLimit,
		Message:     message,
		Retryable:   true,
		RetryAfter:  retryAfter,
		StatusCode:  http.StatusTooManyRequests,
		ProviderErr: providerErr,
	}
}

// NewProviderPayloadError reports an error object embedded in a response body.
func NewProviderPayloadError(message string, status int) *Error {
	return &Error{
		Type:       ErrorTypeProviderPayload,
		Message:    message,
		StatusCode: status,
	}
}

// NewPromptBlockedError reports a safety block.
func NewPromptBlockedError(reason string) *Error {
	return &Error{
		Type:    ErrorTypePromptBlocked,
		Message: "prompt blocked: " + reason,
	}
}

// ClassifyHTTPStatus builds the error for a non-2xx response. detail is the
// provider-declared message, or empty when the body carried none.
func ClassifyHTTPStatus(status int, detail string, retryAfter *time.Duration) *Error {
	if detail == "" {
		detail = fmt.Sprintf("HTTP %d", status)
	}
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &Error{Type: ErrorTypeAuth, Message: "auth failed: " + detail, StatusCode: status}
	case status == http.StatusNotFound:
		return &Error{Type: ErrorTypeModelNotFound, Message: "model not found: " + detail, StatusCode: status}
	case status == http.StatusTooManyRequests:
		return NewRateLimitError("rate limited: "+detail, retryAfter, nil)
	case status >= 500:
		return &Error{Type: ErrorTypeUpstream, Message: "upstream failure: " + detail, Retryable: true, StatusCode: status}
	default:
		return &Error{Type: ErrorTypeInvalidRequest, Message: detail, StatusCode: status}
	}
}
