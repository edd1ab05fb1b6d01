package llm

import (
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"
)

func TestIsRateLimitError(t *testing.T) {
	err := NewRateLimitError("rate limit exceeded", nil, nil)
	if !IsRateLimitError(err) {
		t.Error("Expected IsRateLimitError to return true for rate limit error")
	}

	regularErr := NewProviderPayloadError("some error", 200)
	if IsRateLimitError(regularErr) {
		t.Error("Expected IsRateLimitError to return false for non-rate-limit error")
	}
}

func TestIsConfigError(t *testing.T) {
	if !IsConfigError(NewConfigError("missing api key")) {
		t.Error("Expected IsConfigError to return true for config error")
	}
	if IsConfigError(errors.New("plain")) {
		t.Error("Expected IsConfigError to return false for plain error")
	}
}

func TestIsRetryableError(t *testing.T) {
	retryableErr := NewRateLimitError("rate limit", nil, nil)
	if !IsRetryableError(retryableErr) {
		t.Error("Expected IsRetryableError to return true for retryable error")
	}

	nonRetryableErr := NewPromptBlockedError("SAFETY")
	if IsRetryableError(nonRetryableErr) {
		t.Error("Expected IsRetryableError to return false for non-retryable error")
	}
}

func TestExtractRetryAfter(t *testing.T) {
	retryAfter := 5 * time.Minute
	err := NewRateLimitError("rate limit", &retryAfter, nil)
	extracted := ExtractRetryAfter(err)
	if extracted == nil {
		t.Fatal("Expected non-nil retry after")
	}
	if *extracted != retryAfter {
		t.Errorf("Expected retry after %v, got %v", retryAfter, *extracted)
	}

	if ExtractRetryAfter(NewConfigError("x")) != nil {
		t.Error("Expected nil retry after for non-rate-limit error")
	}
}

func TestErrorUnwrap(t *testing.T) {
	originalErr := errors.New("original error")
	wrappedErr := NewRateLimitError("wrapped", nil, originalErr)
	if !errors.Is(wrappedErr, originalErr) {
		t.Error("Expected error to unwrap to original error")
	}
}

func TestTransportErrorMessage(t *testing.T) {
	err := NewTransportError(errors.New("dial tcp: connection refused"), false)
	if err.Error() != "Request failed: dial tcp: connection refused" {
		t.Errorf("unexpected message %q", err.Error())
	}
	if err.Type != ErrorTypeNetwork {
		t.Errorf("expected network type, got %s", err.Type)
	}
	if NewTransportError(errors.New("deadline"), true).Type != ErrorTypeTimeout {
		t.Error("expected timeout type")
	}
}

func TestClassifyHTTPStatus(t *testing.T) {
	tests := []struct {
		status  int
		detail  string
		want    ErrorType
		message string
	}{
		{http.StatusUnauthorized, "", ErrorTypeAuth, "auth failed: HTTP 401"},
		{http.StatusForbidden, "key revoked", ErrorTypeAuth, "auth failed: key revoked"},
		{http.StatusNotFound, "", ErrorTypeModelNotFound, "model not found: HTTP 404"},
		{http.StatusTooManyRequests, "", ErrorTypeRateLimit, "rate limited: HTTP 429"},
		{http.StatusBadGateway, "", ErrorTypeUpstream, "upstream failure: HTTP 502"},
		{http.StatusBadRequest, "bad field", ErrorTypeInvalidRequest, "bad field"},
	}
	for _, tt := range tests {
		err := ClassifyHTTPStatus(tt.status, tt.detail, nil)
		if err.Type != tt.want {
			t.Errorf("status %d: expected type %s, got %s", tt.status, tt.want, err.Type)
		}
		if err.Error() != tt.message {
			t.Errorf("status %d: expected %q, got %q", tt.status, tt.message, err.Error())
		}
		if err.StatusCode != tt.status {
			t.Errorf("status %d: status code not recorded (%d)", tt.status, err.StatusCode)
		}
	}
	if !strings.Contains(ClassifyHTTPStatus(429, "", nil).Error(), "rate") {
		t.Error("expected rate-limit wording")
	}
}
