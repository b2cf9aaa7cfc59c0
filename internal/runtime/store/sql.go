package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/drblury/apilog/internal/runtime/events"
)

// Driver names accepted by Open.
const (
	DriverPostgres   = "postgres"
	DriverPgx        = "pgx"
	DriverMySQL      = "mysql"
	DriverSQLite     = "sqlite3"
	DriverClickHouse = "clickhouse"
	DriverRedis      = "redis"
	DriverNone       = "none"
)

// logColumns is the persisted column order. "response" holds the response
// flag and "timestamp" the ingestion time.
var logColumns = []string{
	"endpoint", "method", "status_code", "response", "response_time",
	"error", "log_level", "metadata", "timestamp",
}

type dialect struct {
	driverName  string
	quote       func(string) string
	placeholder func(n int) string
	createTable string
}

func doubleQuote(s string) string { return `"` + s + `"` }
func backtick(s string) string    { return "`" + s + "`" }
func question(int) string         { return "?" }
func dollar(n int) string         { return fmt.Sprintf("$%d", n) }

const postgresSchema = `CREATE TABLE IF NOT EXISTS %s (
	id BIGSERIAL PRIMARY KEY,
	endpoint TEXT NOT NULL,
	method TEXT NOT NULL,
	status_code INTEGER NOT NULL,
	response SMALLINT NOT NULL,
	response_time DOUBLE PRECISION NOT NULL,
	error TEXT NULL,
	log_level TEXT NOT NULL,
	metadata TEXT NULL,
	"timestamp" TIMESTAMPTZ NOT NULL
)`

var dialects = map[string]dialect{
	DriverPostgres: {driverName: "postgres", quote: doubleQuote, placeholder: dollar, createTable: postgresSchema},
	DriverPgx:      {driverName: "pgx", quote: doubleQuote, placeholder: dollar, createTable: postgresSchema},
	DriverMySQL: {driverName: "mysql", quote: backtick, placeholder: question, createTable: "CREATE TABLE IF NOT EXISTS %s (\n" +
		"\tid BIGINT AUTO_INCREMENT PRIMARY KEY,\n" +
		"\tendpoint VARCHAR(255) NOT NULL,\n" +
		"\tmethod VARCHAR(16) NOT NULL,\n" +
		"\tstatus_code INT NOT NULL,\n" +
		"\tresponse TINYINT NOT NULL,\n" +
		"\tresponse_time DOUBLE NOT NULL,\n" +
		"\terror TEXT NULL,\n" +
		"\tlog_level VARCHAR(16) NOT NULL,\n" +
		"\tmetadata JSON NULL,\n" +
		"\t`timestamp` DATETIME(6) NOT NULL\n" +
		")"},
	DriverSQLite: {driverName: "sqlite3", quote: doubleQuote, placeholder: question, createTable: `CREATE TABLE IF NOT EXISTS %s (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	endpoint TEXT NOT NULL,
	method TEXT NOT NULL,
	status_code INTEGER NOT NULL,
	response INTEGER NOT NULL,
	response_time REAL NOT NULL,
	error TEXT NULL,
	log_level TEXT NOT NULL,
	metadata TEXT NULL,
	"timestamp" DATETIME NOT NULL
)`},
}

// SQLOpenFactory opens the database handle. Tests override it.
var SQLOpenFactory = sql.Open

// SQLStore writes one row per record through database/sql.
type SQLStore struct {
	db      *sql.DB
	dialect dialect
	table   string
	insert  string
}

// OpenSQL opens and pings a SQL backend. driver is one of DriverPostgres,
// DriverPgx, DriverMySQL or DriverSQLite.
func OpenSQL(ctx context.Context, driver, dsn, table string) (*SQLStore, error) {
	d, ok := dialects[driver]
	if !ok {
		return nil, fmt.Errorf("sql store: unknown dialect %q", driver)
	}
	db, err := SQLOpenFactory(d.driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", driver, err)
	}
	if driver == DriverSQLite {
		// one connection keeps :memory: databases shared and serialises writers
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s store: %w", driver, err)
	}
	return NewSQLStore(db, driver, table)
}

// NewSQLStore wraps an already opened handle.
func NewSQLStore(db *sql.DB, driver, table string) (*SQLStore, error) {
	d, ok := dialects[driver]
	if !ok {
		return nil, fmt.Errorf("sql store: unknown dialect %q", driver)
	}
	return &SQLStore{
		db:      db,
		dialect: d,
		table:   table,
		insert:  buildInsert(d, table),
	}, nil
}

func buildInsert(d dialect, table string) string {
	cols := make([]string, len(logColumns))
	marks := make([]string, len(logColumns))
	for i, c := range logColumns {
		cols[i] = d.quote(c)
		marks[i] = d.placeholder(i + 1)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		d.quote(table), strings.Join(cols, ", "), strings.Join(marks, ", "))
}

func recordArgs(rec events.LogRecord) []any {
	return []any{
		rec.Endpoint,
		rec.Method,
		rec.StatusCode,
		rec.ResponseFlag,
		rec.ResponseTime,
		rec.Error,
		string(rec.LogLevel),
		rec.Metadata,
		rec.IngestionTimestamp.UTC(),
	}
}

func (s *SQLStore) Persist(ctx context.Context, rec events.LogRecord) error {
	if _, err := s.db.ExecContext(ctx, s.insert, recordArgs(rec)...); err != nil {
		return persistenceError(rec, err)
	}
	return nil
}

// EnsureSchema creates the log table when it does not exist.
func (s *SQLStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(s.dialect.createTable, s.dialect.quote(s.table)))
	return err
}

// DB exposes the handle for read-side tooling and tests.
func (s *SQLStore) DB() *sql.DB { return s.db }

func (s *SQLStore) Close() error { return s.db.Close() }
