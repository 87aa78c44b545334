package llm

import (
	"errors"
	"net/http"
	"strings"
)

// Error categories a call to a provider can fail with.
var (
	ErrRateLimited     = errors.New("rate limited")
	ErrProviderOutage  = errors.New("provider unavailable")
	ErrInvalidAPIKey   = errors.New("invalid API key")
	ErrInvalidResponse = errors.New("response was not valid JSON")
	ErrProviderError   = errors.New("provider error")

	// ErrLLMFailure is returned once the router has exhausted the primary
	// model's retry and the fallback model's single attempt (spec §4.6).
	ErrLLMFailure = errors.New("LLMFailure")

	// ErrSpendCapExhausted is returned when every candidate model for a task
	// is over its monthly spend cap (spec §4.6, §7).
	ErrSpendCapExhausted = errors.New("SpendCapExhausted")
)

// CallError represents one failed call to a provider, classified so the
// router can decide whether to retry, fall back, or give up.
type CallError struct {
	Err        error
	StatusCode int
	Provider   string
	Model      string
	Retryable  bool
}

func (e *CallError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return "unknown LLM error"
}

func (e *CallError) Unwrap() error { return e.Err }

// ClassifyError turns a raw transport error (or a non-2xx status with no
// transport error) into a CallError. A call with statusCode 0 and non-nil
// err is a transport-level failure (timeout, connection refused, ...).
func ClassifyError(err error, provider, model string, statusCode int) *CallError {
	ce := &CallError{Err: err, StatusCode: statusCode, Provider: provider, Model: model}

	switch {
	case statusCode == http.StatusTooManyRequests:
		ce.Err = ErrRateLimited
		ce.Retryable = true
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		ce.Err = ErrInvalidAPIKey
		ce.Retryable = false
	case statusCode >= http.StatusInternalServerError:
		ce.Err = ErrProviderOutage
		ce.Retryable = true
	case statusCode >= http.StatusBadRequest:
		ce.Err = ErrProviderError
		ce.Retryable = false
	case statusCode == 0 && err != nil:
		ce.Retryable = isRetryableTransportError(err)
	}
	return ce
}

func isRetryableTransportError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded") || strings.Contains(msg, "connection refused") || strings.Contains(msg, "eof")
}

// IsRetryable reports whether err (or a wrapped *CallError) should be
// retried with the same model.
func IsRetryable(err error) bool {
	var ce *CallError
	if errors.As(err, &ce) {
		return ce.Retryable
	}
	return false
}
