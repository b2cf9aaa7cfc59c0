// Package store persists LogRecords. Every backend performs exactly one
// independent write per record with no batching, retry or buffering; a
// failure is returned as a *errors.PersistenceError carrying the lost row.
package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/drblury/apilog/internal/runtime/events"
	errs "github.com/drblury/apilog/internal/runtime/errors"
	"github.com/drblury/apilog/internal/runtime/logging"
)

// Persister writes one log record per call.
type Persister interface {
	Persist(ctx context.Context, rec events.LogRecord) error
	Close() error
}

// SchemaCreator is implemented by backends that can create their log table.
type SchemaCreator interface {
	EnsureSchema(ctx context.Context) error
}

// Config selects and tunes a backend.
type Config struct {
	Driver           string
	DSN              string
	Table            string
	AutoCreateSchema bool

	BreakerEnabled     bool
	BreakerMaxFailures uint32
	BreakerOpenTimeout time.Duration
}

// Open builds the persister for cfg.Driver, verifies connectivity and
// optionally creates the schema. Any failure here is a startup failure.
func Open(ctx context.Context, cfg Config, logger logging.ServiceLogger) (Persister, error) {
	if logger == nil {
		logger = logging.NopServiceLogger()
	}
	logger = logger.With(logging.LogFields{"component": "store", "driver": cfg.Driver})

	var (
		p   Persister
		err error
	)
	switch driver := strings.ToLower(cfg.Driver); driver {
	case DriverPostgres, DriverPgx, DriverMySQL, DriverSQLite:
		p, err = OpenSQL(ctx, driver, cfg.DSN, cfg.Table)
	case DriverClickHouse:
		p, err = OpenClickHouse(ctx, cfg.DSN, cfg.Table)
	case DriverRedis:
		p, err = OpenRedis(ctx, cfg.DSN, cfg.Table)
	case DriverNone:
		p = NewDiscard(logger)
	default:
		return nil, fmt.Errorf("%w: %q", errs.ErrUnsupportedDriver, cfg.Driver)
	}
	if err != nil {
		return nil, err
	}

	if cfg.AutoCreateSchema {
		if sc, ok := p.(SchemaCreator); ok {
			if err := sc.EnsureSchema(ctx); err != nil {
				_ = p.Close()
				return nil, fmt.Errorf("create log schema: %w", err)
			}
			logger.Info("Log schema ensured", logging.LogFields{"table": cfg.Table})
		}
	}

	if cfg.BreakerEnabled {
		p = NewBreaker(p, BreakerSettings{
			Name:        "store-" + cfg.Driver,
			MaxFailures: cfg.BreakerMaxFailures,
			OpenTimeout: cfg.BreakerOpenTimeout,
		}, logger)
	}

	logger.Info("Log store ready", logging.LogFields{"table": cfg.Table, "breaker": cfg.BreakerEnabled})
	return p, nil
}

func persistenceError(rec events.LogRecord, err error) error {
	return &errs.PersistenceError{Record: rec, Err: err}
}

// Discard drops every record. It backs the "none" driver for metrics-only
// deployments.
type Discard struct {
	logger logging.ServiceLogger
}

func NewDiscard(logger logging.ServiceLogger) *Discard {
	if logger == nil {
		logger = logging.NopServiceLogger()
	}
	return &Discard{logger: logger}
}

func (d *Discard) Persist(_ context.Context, rec events.LogRecord) error {
	d.logger.Debug("Discarding log record", logging.LogFields{
		"endpoint":  rec.Endpoint,
		"log_level": string(rec.LogLevel),
	})
	return nil
}

func (d *Discard) Close() error { return nil }
