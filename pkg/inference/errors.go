package inference

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for common conditions.
var (
	// ErrInferenceUnavailable is returned on transport failure or when the
	// service reports a server-side error.
	ErrInferenceUnavailable = errors.New("inference: unavailable")

	// ErrInvalidFrame is returned for empty or rejected input frames.
	ErrInvalidFrame = errors.New("inference: invalid frame")

	// ErrBusy is returned when a call of the same kind is already in flight.
	ErrBusy = errors.New("inference: busy")

	// ErrNoFace is returned when an embedding was requested but the image
	// contains no face.
	ErrNoFace = errors.New("inference: no face found")

	// ErrNoEmbedding is returned by Swap without a source embedding.
	ErrNoEmbedding = errors.New("inference: no source embedding")

	// ErrNotSupported is returned for calls outside a provider's
	// capabilities.
	ErrNotSupported = errors.New("inference: not supported by provider")

	// ErrProviderUnavailable is returned when no providers are available.
	ErrProviderUnavailable = errors.New("inference: provider unavailable")
)

// APIError is a non-2xx response from the inference service.
type APIError struct {
	// StatusCode is the HTTP status code.
	StatusCode int

	// Message is the error detail from the service.
	Message string

	// Kind is the call that failed.
	Kind Kind

	// Provider identifies which provider returned the error.
	Provider string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("inference [%s] %s: API error %d: %s",
		e.Provider, e.Kind, e.StatusCode, e.Message)
}

// IsRateLimited returns true for HTTP 429.
func (e *APIError) IsRateLimited() bool {
	return e.StatusCode == http.StatusTooManyRequests
}

// IsServerError returns true for HTTP 5xx.
func (e *APIError) IsServerError() bool {
	return e.StatusCode >= 500 && e.StatusCode < 600
}

// IsRetryable returns true if the request may be retried.
func (e *APIError) IsRetryable() bool {
	return e.IsRateLimited() || e.IsServerError()
}

// Unwrap maps the status onto the sentinel taxonomy: 4xx (other than 429)
// means the input was rejected, everything else means the service is
// unavailable.
func (e *APIError) Unwrap() error {
	if e.StatusCode >= 400 && e.StatusCode < 500 && !e.IsRateLimited() {
		return ErrInvalidFrame
	}
	return ErrInferenceUnavailable
}

// CallError wraps an error with the provider and call kind.
type CallError struct {
	Provider string
	Kind     Kind
	Err      error
}

// Error implements the error interface.
func (e *CallError) Error() string {
	return fmt.Sprintf("inference [%s] %s: %v", e.Provider, e.Kind, e.Err)
}

// Unwrap returns the underlying error.
func (e *CallError) Unwrap() error {
	return e.Err
}

// WrapError wraps err with provider and kind context.
func WrapError(provider string, kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &CallError{Provider: provider, Kind: kind, Err: err}
}

// ChainError aggregates errors from all providers in a chain.
type ChainError struct {
	Errors []error
}

// Error implements the error interface.
func (e *ChainError) Error() string {
	if len(e.Errors) == 0 {
		return "inference chain: no errors recorded"
	}
	if len(e.Errors) == 1 {
		return fmt.Sprintf("inference chain: %v", e.Errors[0])
	}
	return fmt.Sprintf("inference chain: all %d providers failed, last error: %v",
		len(e.Errors), e.Errors[len(e.Errors)-1])
}

// Unwrap returns the last error in the chain.
func (e *ChainError) Unwrap() error {
	if len(e.Errors) == 0 {
		return nil
	}
	return e.Errors[len(e.Errors)-1]
}
