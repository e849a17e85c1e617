// Package ai holds the error classification shared by the speech and language
// providers. Providers mark failures as recoverable or fatal so callers can
// tell a transient outage from a misconfiguration without inspecting strings.
package ai

import (
	"errors"
	"fmt"
)

var (
	// ErrRecoverable marks a temporary failure such as a timeout, rate limit or
	// dropped connection.
	ErrRecoverable = errors.New("recoverable AI provider error")

	// ErrFatal marks a permanent failure such as an invalid API key, unknown
	// model or malformed request.
	ErrFatal = errors.New("fatal AI provider error")

	// ErrMissingAPIKey is returned by provider factories when no credential is
	// configured.
	ErrMissingAPIKey = errors.New("api key is required")
)

// IsRecoverable reports whether err was classified as recoverable.
func IsRecoverable(err error) bool {
	return errors.Is(err, ErrRecoverable)
}

// IsFatal reports whether err was classified as fatal.
func IsFatal(err error) bool {
	return errors.Is(err, ErrFatal)
}

// ProviderError wraps a provider failure with its classification.
type ProviderError struct {
	Provider   string
	Underlying error
	Retryable  bool
	Message    string
}

func (e *ProviderError) Error() string {
	msg := e.Message
	if msg == "" && e.Underlying != nil {
		msg = e.Underlying.Error()
	} else if e.Underlying != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Underlying)
	}
	if e.Provider != "" {
		return e.Provider + ": " + msg
	}
	return msg
}

// Unwrap exposes both the classification sentinel and the cause.
func (e *ProviderError) Unwrap() []error {
	class := ErrFatal
	if e.Retryable {
		class = ErrRecoverable
	}
	if e.Underlying == nil {
		return []error{class}
	}
	return []error{class, e.Underlying}
}

// NewRecoverableError creates a recoverable error with context.
func NewRecoverableError(provider string, underlying error, message string) error {
	return &ProviderError{Provider: provider, Underlying: underlying, Retryable: true, Message: message}
}

// NewFatalError creates a fatal error with context.
func NewFatalError(provider string, underlying error, message string) error {
	return &ProviderError{Provider: provider, Underlying: underlying, Retryable: false, Message: message}
}

// ClassifyHTTPStatus maps an upstream HTTP status to a classified error.
// Auth and request errors are fatal; throttling and server errors are recoverable.
func ClassifyHTTPStatus(provider string, status int, body string) error {
	err := fmt.Errorf("HTTP %d: %s", status, body)
	switch {
	case status == 429 || status >= 500:
		return NewRecoverableError(provider, err, "upstream unavailable")
	default:
		return NewFatalError(provider, err, "request rejected")
	}
}
