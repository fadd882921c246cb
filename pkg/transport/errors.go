package transport

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
)

var (
	// ErrCancelled reports that the caller went away. It is never retried.
	ErrCancelled = errors.New("request cancelled")

	// ErrStartupTimeout reports that the provider stayed silent past the
	// start-up budget.
	ErrStartupTimeout = errors.New("provider start-up timeout")

	// ErrRateLimited reports an explicit quota or rate-limit signal.
	ErrRateLimited = errors.New("provider rate limited")
)

// ProviderError is a non-success response or a malformed stream.
type ProviderError struct {
	Provider   string
	StatusCode int
	Message    string

	rateLimited bool
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: status %d: %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

// Unwrap exposes ErrRateLimited for quota failures.
func (e *ProviderError) Unwrap() error {
	if e.rateLimited {
		return ErrRateLimited
	}
	return nil
}

// NewProviderError builds a ProviderError from a status and a raw response body.
func NewProviderError(provider string, status int, body []byte) *ProviderError {
	return statusError(provider, status, errorMessage(body))
}

func streamError(provider, format string, args ...interface{}) *ProviderError {
	msg := fmt.Sprintf(format, args...)
	return &ProviderError{Provider: provider, Message: msg, rateLimited: isQuotaMessage(msg)}
}

// errorMessage extracts a best-effort human message from an error body.
func errorMessage(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	for _, path := range []string{"error.message", "message", "0.error.message", "error"} {
		if val := gjson.GetBytes(body, path); val.Exists() && val.Type == gjson.String {
			return val.String()
		}
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 300 {
		msg = msg[:300]
	}
	return msg
}

func isQuotaMessage(msg string) bool {
	lower := strings.ToLower(msg)
	for _, marker := range []string{"resource_exhausted", "rate limit", "rate_limit", "quota", "too many requests"} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

func statusError(provider string, status int, msg string) *ProviderError {
	if msg == "" {
		msg = http.StatusText(status)
	}
	return &ProviderError{
		Provider:    provider,
		StatusCode:  status,
		Message:     msg,
		rateLimited: status == http.StatusTooManyRequests || isQuotaMessage(msg),
	}
}
