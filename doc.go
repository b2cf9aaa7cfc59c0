// Package apilog ingests API lifecycle events from a message bus. Producers
// publish request, response and error events as JSON; the consumer classifies
// each payload, updates Prometheus counters and a response time summary, and
// writes one row per event to a log store. A separate HTTP exporter serves the
// metrics for scraping.
//
// Config selects the bus (Kafka, RabbitMQ, AWS SNS/SQS, NATS, HTTP or Go
// channels) and the store (PostgreSQL, MySQL, SQLite, ClickHouse, Redis
// streams or none). A minimal setup fills Config, creates a Service and calls
// Start; cmd/apilog does exactly that from flags, a config file and APILOG_*
// environment variables.
//
// # Events
//
// Every payload is a JSON object with an "event" discriminator:
//   - api_request: endpoint and method
//   - api_response: endpoint, status_code and response.response_time
//   - api_error: endpoint, optional status_code (500 when absent) and error
//
// Payloads that are not JSON objects or carry an unknown discriminator are
// logged, counted under apilog_consumer_messages_total and acknowledged.
//
// # Delivery
//
// Messages are acknowledged after the metrics were updated and the store
// write was attempted, whatever its result. Transports with at-least-once
// delivery may therefore redeliver an event after a crash, and a redelivered
// event is counted and persisted again.
//
// # Transports
//
// Transports live under transport/ and register themselves on import:
//
//	import _ "github.com/drblury/apilog/transport/transports"
//
// or import a single one, e.g. transport/kafka.
package apilog
