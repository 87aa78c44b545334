package llm

import (
	"errors"
	"net/http"
	"testing"
)

func TestClassifyError_RateLimitIsRetryable(t *testing.T) {
	ce := ClassifyError(errors.New("boom"), ProviderOpenRouter, "m", http.StatusTooManyRequests)
	if !ce.Retryable {
		t.Fatalf("expected 429 to be retryable")
	}
	if !errors.Is(ce.Err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", ce.Err)
	}
}

func TestClassifyError_UnauthorizedIsNotRetryable(t *testing.T) {
	ce := ClassifyError(errors.New("boom"), ProviderOpenAI, "m", http.StatusUnauthorized)
	if ce.Retryable {
		t.Fatalf("expected 401 to not be retryable")
	}
	if !errors.Is(ce.Err, ErrInvalidAPIKey) {
		t.Fatalf("expected ErrInvalidAPIKey, got %v", ce.Err)
	}
}

func TestClassifyError_ServerErrorIsRetryable(t *testing.T) {
	ce := ClassifyError(errors.New("boom"), ProviderAnthropic, "m", http.StatusServiceUnavailable)
	if !ce.Retryable {
		t.Fatalf("expected 503 to be retryable")
	}
}

func TestClassifyError_TransportTimeoutIsRetryable(t *testing.T) {
	ce := ClassifyError(errors.New("context deadline exceeded"), ProviderOpenRouter, "m", 0)
	if !ce.Retryable {
		t.Fatalf("expected a timeout transport error to be retryable")
	}
}

func TestIsRetryable_WrapsCallError(t *testing.T) {
	err := ClassifyError(errors.New("x"), "p", "m", http.StatusTooManyRequests)
	if !IsRetryable(err) {
		t.Fatalf("expected IsRetryable to see through the *CallError")
	}
	if IsRetryable(errors.New("plain error")) {
		t.Fatalf("expected a plain error to not be retryable")
	}
}
