/*
Package runtime wires the ingestion pipeline together.

# Architecture Overview

A Service owns one bus transport, one metrics registry, one log store and the
consumer loop that connects them. Producers publish JSON events through
PublishEvent; the consumer reads them back, updates the metrics and persists
a LogRecord per event. The metrics exporter runs next to the consumer on its
own listener.

# Package Structure

## Core Service (service.go)

NewService builds, in order:
  - the metrics registry (metrics/)
  - the log store selected by store_driver (store/)
  - the transport selected by pubsub_system (transport/ at the module root)
  - the consumer loop (consumer/) and the exporter

Anything opened before a failing step is closed again. Start serves metrics,
runs the consumer until the context ends and then closes the outputs.

## Publishing (publisher.go)

NewEventMessage encodes an events.Event and tags it with the event_kind
header. PublishEvent sends it to the topic of its kind: api_requests,
api_responses or api_errors.

## Supporting packages

  - config/: viper backed configuration with validation
  - events/: wire format, classification and the persisted LogRecord
  - errors/: sentinel errors and typed failures
  - logging/: ServiceLogger over slog and Watermill
  - jsoncodec/: sonic based JSON
  - metadata/: event headers
  - ids/: ULID message identifiers
*/
package runtime
