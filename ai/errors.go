package ai

import (
	"errors"
	"fmt"
)

// ErrorKind classifies provider failures for handling.
type ErrorKind string

const (
	// ErrMissingCredential means a required credential is not configured.
	// Fatal to the attempted call, not to the session.
	ErrMissingCredential ErrorKind = "missing_credential"
	// ErrTransport covers network failures and non-2xx responses.
	ErrTransport ErrorKind = "transport"
	// ErrInvalidResponse means the provider payload was malformed or empty.
	ErrInvalidResponse ErrorKind = "invalid_response"
	// ErrNoModelsAvailable means the local provider has zero installed models.
	ErrNoModelsAvailable ErrorKind = "no_models_available"
)

// ProviderError is the error type returned by both provider clients.
type ProviderError struct {
	Kind    ErrorKind
	Message string
	Cause   error
}

func (e *ProviderError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *ProviderError) Unwrap() error {
	return e.Cause
}

func newError(kind ErrorKind, format string, args ...any) *ProviderError {
	return &ProviderError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func wrapError(kind ErrorKind, cause error, format string, args ...any) *ProviderError {
	return &ProviderError{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// IsKind reports whether err is, or wraps, a *ProviderError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var pe *ProviderError
	if !errors.As(err, &pe) {
		return false
	}
	return pe.Kind == kind
}
