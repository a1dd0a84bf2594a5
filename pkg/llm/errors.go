package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/krishamaze/arin-bot-v2/pkg/models"
)

// ProviderError is a classified backend failure. Retryable errors are retried
// on the same model; everything else moves the orchestrator to the next model.
type ProviderError struct {
	Provider   models.ProviderType
	Model      string
	StatusCode int
	Retryable  bool
	Message    string
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s: status %d: %s", e.Provider, e.Model, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s %s: %s", e.Provider, e.Model, e.Message)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// RetryableStatus reports whether an HTTP status is transient:
// rate limiting, internal errors and unavailable or timed out gateways.
func RetryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// NewStatusError builds a ProviderError from an HTTP status returned by a backend.
func NewStatusError(p models.ProviderType, model string, status int, msg string, err error) *ProviderError {
	if msg == "" {
		msg = http.StatusText(status)
	}
	return &ProviderError{
		Provider:   p,
		Model:      model,
		StatusCode: status,
		Retryable:  RetryableStatus(status),
		Message:    msg,
		Err:        err,
	}
}

// classify converts a transport-level failure into a ProviderError. Deadline
// expiry and network timeouts count as a 504; anything unrecognised is fatal.
func classify(p models.ProviderType, model string, err error) error {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return NewStatusError(p, model, http.StatusGatewayTimeout, "request timed out", err)
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return NewStatusError(p, model, http.StatusGatewayTimeout, "request timed out", err)
	}
	return &ProviderError{Provider: p, Model: model, Message: err.Error(), Err: err}
}

// AsProviderError unwraps err into a ProviderError.
func AsProviderError(err error) (*ProviderError, bool) {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}
