package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"

	"github.com/drblury/apilog/internal/runtime/events"
	errs "github.com/drblury/apilog/internal/runtime/errors"
	"github.com/drblury/apilog/internal/runtime/logging"
)

// BreakerSettings tunes the circuit breaker around a persister.
type BreakerSettings struct {
	Name string
	// MaxFailures consecutive failures open the breaker.
	MaxFailures uint32
	// OpenTimeout is how long the breaker stays open before letting one
	// trial write through.
	OpenTimeout time.Duration
}

// Breaker fails writes fast while the wrapped store keeps failing. An open
// breaker is still a persistence failure for the caller; nothing is queued
// or retried.
type Breaker struct {
	next Persister
	cb   *gobreaker.CircuitBreaker
}

func NewBreaker(next Persister, settings BreakerSettings, logger logging.ServiceLogger) *Breaker {
	if logger == nil {
		logger = logging.NopServiceLogger()
	}
	maxFailures := settings.MaxFailures
	if maxFailures == 0 {
		maxFailures = 5
	}
	timeout := settings.OpenTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Breaker{
		next: next,
		cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        settings.Name,
			MaxRequests: 1,
			Timeout:     timeout,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= maxFailures
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Info("Store circuit breaker changed state", logging.LogFields{
					"breaker": name,
					"from":    from.String(),
					"to":      to.String(),
				})
			},
		}),
	}
}

func (b *Breaker) Persist(ctx context.Context, rec events.LogRecord) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, b.next.Persist(ctx, rec)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return persistenceError(rec, fmt.Errorf("%w: %v", errs.ErrBreakerOpen, err))
	}
	return err
}

// State reports the breaker state, mainly for tests and diagnostics.
func (b *Breaker) State() gobreaker.State { return b.cb.State() }

func (b *Breaker) Close() error { return b.next.Close() }
