package errors

import (
	sterrors "errors"
	"fmt"
)

var (
	ErrConfigRequired     = sterrors.New("apilog: config is required")
	ErrLoggerRequired     = sterrors.New("apilog: logger is required")
	ErrSubscriberRequired = sterrors.New("apilog: subscriber is required")
	ErrPublisherRequired  = sterrors.New("apilog: publisher is required")
	ErrPersisterRequired  = sterrors.New("apilog: persister is required")
	ErrMetricsRequired    = sterrors.New("apilog: metrics registry is required")
	ErrTopicRequired      = sterrors.New("apilog: at least one topic is required")
	ErrUnrecognizedEvent  = sterrors.New("apilog: unrecognized event kind")
	ErrInvalidEvent       = sterrors.New("apilog: invalid event")
	ErrSubscriptionClosed = sterrors.New("apilog: subscription closed")
	ErrUnsupportedDriver  = sterrors.New("apilog: unsupported store driver")
	ErrBreakerOpen        = sterrors.New("apilog: store circuit breaker open")
	ErrQueueFull          = sterrors.New("apilog: job queue is full")
	ErrPoolClosed         = sterrors.New("apilog: worker pool is closed")
)

// TransportError reports a bus-side failure for a topic. The consumer logs it
// and keeps polling.
type TransportError struct {
	Topic string
	Err   error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error on topic %q: %v", e.Topic, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// DecodeError reports a payload that is not valid JSON.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode payload: %v", e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// ClassificationError reports a decoded payload that does not map onto a
// known event variant. Err is ErrUnrecognizedEvent or wraps ErrInvalidEvent.
type ClassificationError struct {
	Event string
	Err   error
}

func (e *ClassificationError) Error() string {
	if e.Event == "" {
		return fmt.Sprintf("classify event: %v", e.Err)
	}
	return fmt.Sprintf("classify event %q: %v", e.Event, e.Err)
}

func (e *ClassificationError) Unwrap() error { return e.Err }

// PersistenceError reports a failed write of a single log record. Record
// holds the row that was lost so callers can log it.
type PersistenceError struct {
	Record any
	Err    error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist log record: %v", e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// ConfigValidationError wraps the joined problems found while validating a
// configuration.
type ConfigValidationError struct {
	Err error
}

func (e ConfigValidationError) Error() string {
	return fmt.Sprintf("apilog: invalid configuration: %v", e.Err)
}

func (e ConfigValidationError) Unwrap() error { return e.Err }

// NewConfigValidationError returns nil when err is nil.
func NewConfigValidationError(err error) error {
	if err == nil {
		return nil
	}
	return ConfigValidationError{Err: err}
}
