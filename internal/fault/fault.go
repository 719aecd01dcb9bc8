// Package fault provides the structured error types shared across the engine.
// Validation failures (InvalidArgument) are returned synchronously before any
// run exists; transport failures surface as a run's terminal error event. The
// two must stay distinguishable so callers can tell "you asked for something
// impossible" from "the backend fell over".
package fault

import (
	"errors"
	"fmt"
)

// InvalidArgumentError reports a request that failed validation before any
// side effect took place. Field names the offending input when known.
type InvalidArgumentError struct {
	Field  string
	Reason string
}

// Error implements the error interface.
func (e *InvalidArgumentError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid argument: %s", e.Reason)
	}
	return fmt.Sprintf("invalid argument %q: %s", e.Field, e.Reason)
}

// InvalidArgument constructs an InvalidArgumentError for the given field.
func InvalidArgument(field, format string, args ...interface{}) error {
	return &InvalidArgumentError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// IsInvalidArgument reports whether err is (or wraps) an InvalidArgumentError.
func IsInvalidArgument(err error) bool {
	var ia *InvalidArgumentError
	return errors.As(err, &ia)
}

// TransportError reports a failure inside a streaming backend: network error,
// provider-side error, local model crash, or inactivity timeout. It is always
// delivered as a run's terminal error event, never thrown across the registry
// boundary.
type TransportError struct {
	Provider string // "remote", "gemini", "local"
	Op       string // "connect", "stream", "decode"
	Timeout  bool   // true when caused by the inactivity timer
	Err      error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("%s transport %s: inactivity timeout: %v", e.Provider, e.Op, e.Err)
	}
	return fmt.Sprintf("%s transport %s: %v", e.Provider, e.Op, e.Err)
}

// Unwrap returns the underlying error to support errors.Is/As.
func (e *TransportError) Unwrap() error { return e.Err }

// Transport constructs a TransportError.
func Transport(provider, op string, err error) error {
	return &TransportError{Provider: provider, Op: op, Err: err}
}

// TransportTimeout constructs a TransportError caused by the inactivity timer.
// Timeouts are transport errors, not cancellations: UIs distinguish "gave up"
// from "you stopped it".
func TransportTimeout(provider string, err error) error {
	return &TransportError{Provider: provider, Op: "stream", Timeout: true, Err: err}
}

// IsTransport reports whether err is (or wraps) a TransportError.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
