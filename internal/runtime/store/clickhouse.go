package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/ClickHouse/clickhouse-go/v2"

	"github.com/drblury/apilog/internal/runtime/events"
)

// ClickHouseConn is the subset of clickhouse.Conn the store uses.
type ClickHouseConn interface {
	Exec(ctx context.Context, query string, args ...any) error
	Ping(ctx context.Context) error
	Close() error
}

// ClickHouseFactory opens the native connection. Tests override it.
var ClickHouseFactory = func(opts *clickhouse.Options) (ClickHouseConn, error) {
	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

const clickHouseSchema = "CREATE TABLE IF NOT EXISTS %s (\n" +
	"\tendpoint String,\n" +
	"\tmethod LowCardinality(String),\n" +
	"\tstatus_code Int32,\n" +
	"\tresponse UInt8,\n" +
	"\tresponse_time Float64,\n" +
	"\terror Nullable(String),\n" +
	"\tlog_level LowCardinality(String),\n" +
	"\tmetadata Nullable(String),\n" +
	"\t`timestamp` DateTime64(6, 'UTC')\n" +
	") ENGINE = MergeTree ORDER BY (`timestamp`, endpoint)"

// ClickHouseStore issues one INSERT per record.
type ClickHouseStore struct {
	conn   ClickHouseConn
	table  string
	insert string
}

// OpenClickHouse parses a clickhouse:// DSN, connects and pings.
func OpenClickHouse(ctx context.Context, dsn, table string) (*ClickHouseStore, error) {
	opts, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse clickhouse dsn: %w", err)
	}
	conn, err := ClickHouseFactory(opts)
	if err != nil {
		return nil, fmt.Errorf("open clickhouse store: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping clickhouse store: %w", err)
	}
	return NewClickHouseStore(conn, table), nil
}

func NewClickHouseStore(conn ClickHouseConn, table string) *ClickHouseStore {
	cols := make([]string, len(logColumns))
	marks := make([]string, len(logColumns))
	for i, c := range logColumns {
		cols[i] = backtick(c)
		marks[i] = "?"
	}
	return &ClickHouseStore{
		conn:  conn,
		table: table,
		insert: fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
			backtick(table), strings.Join(cols, ", "), strings.Join(marks, ", ")),
	}
}

func (s *ClickHouseStore) Persist(ctx context.Context, rec events.LogRecord) error {
	args := recordArgs(rec)
	args[2] = int32(rec.StatusCode)
	args[3] = uint8(rec.ResponseFlag)
	if err := s.conn.Exec(ctx, s.insert, args...); err != nil {
		return persistenceError(rec, err)
	}
	return nil
}

func (s *ClickHouseStore) EnsureSchema(ctx context.Context) error {
	return s.conn.Exec(ctx, fmt.Sprintf(clickHouseSchema, backtick(s.table)))
}

func (s *ClickHouseStore) Close() error { return s.conn.Close() }
