// Package consumer runs the ingestion loop: it polls the bus, classifies each
// payload, updates the metrics and persists one log record per event.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	errs "github.com/drblury/apilog/internal/runtime/errors"
	"github.com/drblury/apilog/internal/runtime/events"
	"github.com/drblury/apilog/internal/runtime/logging"
	"github.com/drblury/apilog/internal/runtime/metadata"
	"github.com/drblury/apilog/internal/runtime/metrics"
	"github.com/drblury/apilog/internal/runtime/store"
	"github.com/drblury/apilog/transport"
)

// DefaultPollTimeout bounds one poll wait.
const DefaultPollTimeout = time.Second

const tracerName = "apilog/consumer"

// Recorder is the part of the metrics registry the loop writes to.
type Recorder interface {
	RecordRequest(endpoint, method string)
	RecordResponse(endpoint string, statusCode int, responseTimeSeconds float64)
	RecordError(endpoint, errorLabel string)
	RecordOutcome(outcome metrics.Outcome)
	RecordTransportError(topic string)
}

// Loop consumes every configured topic and dispatches messages one at a time.
type Loop struct {
	subscriber  message.Subscriber
	topics      []string
	recorder    Recorder
	persister   store.Persister
	logger      logging.ServiceLogger
	pollTimeout time.Duration
	now         func() time.Time
	tracer      trace.Tracer
}

// Option customises a Loop.
type Option func(*Loop)

// WithPollTimeout sets how long a poll waits before the loop idles around.
func WithPollTimeout(d time.Duration) Option {
	return func(l *Loop) {
		if d > 0 {
			l.pollTimeout = d
		}
	}
}

// WithClock overrides the source of ingestion timestamps.
func WithClock(now func() time.Time) Option {
	return func(l *Loop) {
		if now != nil {
			l.now = now
		}
	}
}

// WithTracerProvider overrides the global OpenTelemetry tracer provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(l *Loop) {
		if tp != nil {
			l.tracer = tp.Tracer(tracerName)
		}
	}
}

// New builds a Loop. The recorder and persister are shared with the rest of
// the process and are not closed by the loop.
func New(subscriber message.Subscriber, topics []string, recorder Recorder, persister store.Persister, logger logging.ServiceLogger, opts ...Option) (*Loop, error) {
	switch {
	case subscriber == nil:
		return nil, errs.ErrSubscriberRequired
	case len(topics) == 0:
		return nil, errs.ErrTopicRequired
	case recorder == nil:
		return nil, errs.ErrMetricsRequired
	case persister == nil:
		return nil, errs.ErrPersisterRequired
	case logger == nil:
		return nil, errs.ErrLoggerRequired
	}

	l := &Loop{
		subscriber:  subscriber,
		topics:      append([]string(nil), topics...),
		recorder:    recorder,
		persister:   persister,
		logger:      logger.With(logging.LogFields{"component": "consumer"}),
		pollTimeout: DefaultPollTimeout,
		now:         time.Now,
		tracer:      otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

type delivery struct {
	topic string
	msg   *message.Message
}

// Run subscribes to every topic and dispatches until ctx is cancelled. A
// failed initial subscription is returned; once running, bus errors are
// logged and the affected topic is resubscribed. On cancellation the
// in-flight message completes, the subscriber is closed and Run returns nil.
func (l *Loop) Run(ctx context.Context) error {
	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	deliveries := make(chan delivery)
	done := make(chan struct{})
	pending := 0
	finished := make(chan struct{}, len(l.topics))
	stop := func() {
		close(done)
		cancel()
		l.closeSubscriber()
		for ; pending > 0; pending-- {
			<-finished
		}
	}

	for _, topic := range l.topics {
		ch, err := l.subscriber.Subscribe(subCtx, topic)
		if err != nil {
			stop()
			return &errs.TransportError{Topic: topic, Err: err}
		}
		pending++
		go func(topic string, ch <-chan *message.Message) {
			defer func() { finished <- struct{}{} }()
			l.forward(subCtx, done, topic, ch, deliveries)
		}(topic, ch)
	}

	if starter, ok := l.subscriber.(transport.Starter); ok {
		if err := starter.Start(subCtx); err != nil {
			stop()
			return fmt.Errorf("start subscriber: %w", err)
		}
	}

	l.logger.Info("Consumer started", logging.LogFields{
		"topics":       l.topics,
		"poll_timeout": l.pollTimeout.String(),
	})

	for running := true; running; {
		select {
		case <-ctx.Done():
			running = false
		case d := <-deliveries:
			l.ProcessMessage(ctx, d.topic, d.msg)
		case <-time.After(l.pollTimeout):
			l.logger.Trace("No message within poll timeout", nil)
		}
	}

	l.logger.Info("Consumer stopping", nil)
	stop()
	l.logger.Info("Consumer stopped", nil)
	return nil
}

func (l *Loop) closeSubscriber() {
	if err := l.subscriber.Close(); err != nil {
		l.logger.Error("Failed to close subscriber", err, nil)
	}
}

// forward moves one topic's deliveries into the shared channel. The send
// blocks until the loop takes the message, and subscribers hold back the
// next message of a partition until the previous one is acked.
func (l *Loop) forward(ctx context.Context, done <-chan struct{}, topic string, ch <-chan *message.Message, out chan<- delivery) {
	for {
		var msg *message.Message
		var ok bool
		select {
		case <-done:
			return
		case msg, ok = <-ch:
		}

		if ok {
			select {
			case out <- delivery{topic: topic, msg: msg}:
			case <-done:
				msg.Nack()
				return
			}
			continue
		}

		if ctx.Err() != nil {
			return
		}
		terr := &errs.TransportError{Topic: topic, Err: errs.ErrSubscriptionClosed}
		l.logger.Error("Subscription closed unexpectedly", terr, logging.LogFields{"topic": topic})
		l.recorder.RecordTransportError(topic)

		if ch = l.resubscribe(ctx, topic); ch == nil {
			return
		}
	}
}

func (l *Loop) resubscribe(ctx context.Context, topic string) <-chan *message.Message {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(l.pollTimeout):
		}

		ch, err := l.subscriber.Subscribe(ctx, topic)
		if err == nil {
			l.logger.Info("Resubscribed to topic", logging.LogFields{"topic": topic})
			return ch
		}
		terr := &errs.TransportError{Topic: topic, Err: err}
		l.logger.Error("Failed to resubscribe", terr, logging.LogFields{"topic": topic})
		l.recorder.RecordTransportError(topic)
	}
}

// ProcessMessage decodes, classifies and dispatches one message, then acks
// it whatever the outcome. Metrics are updated before the record is
// persisted, so a store failure never loses the aggregate.
func (l *Loop) ProcessMessage(ctx context.Context, topic string, msg *message.Message) (outcome metrics.Outcome) {
	ctx, span := l.tracer.Start(ctx, "ProcessMessage",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.destination.name", topic),
			attribute.String("message.uuid", msg.UUID),
		),
	)
	defer span.End()
	defer msg.Ack()

	fields := logging.LogFields(metadata.LogFields(msg.Metadata))
	fields["topic"] = topic
	fields["message_uuid"] = msg.UUID

	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic: %v", r)
			l.logger.Error("Recovered from panic while processing message", err, fields)
			span.RecordError(err)
			span.SetStatus(codes.Error, "panic")
			outcome = metrics.OutcomePanicked
			l.recorder.RecordOutcome(outcome)
		}
	}()

	outcome = l.dispatch(ctx, msg.Payload, fields)
	span.SetAttributes(attribute.String("apilog.outcome", string(outcome)))
	if outcome != metrics.OutcomeProcessed {
		span.SetStatus(codes.Error, string(outcome))
	}
	l.recorder.RecordOutcome(outcome)
	return outcome
}

func (l *Loop) dispatch(ctx context.Context, payload []byte, fields logging.LogFields) metrics.Outcome {
	ev, err := events.Parse(payload)
	if err != nil {
		var decodeErr *errs.DecodeError
		if errors.As(err, &decodeErr) {
			l.logger.Error("Dropping undecodable message", err, fields)
			return metrics.OutcomeDecodeError
		}
		l.logger.Error("Dropping unrecognized event", err, fields)
		return metrics.OutcomeUnrecognized
	}

	switch ev.Kind {
	case events.KindRequest:
		l.recorder.RecordRequest(ev.Endpoint, ev.Method)
	case events.KindResponse:
		l.recorder.RecordResponse(ev.Endpoint, ev.StatusCode, ev.ResponseTime)
	case events.KindError:
		l.recorder.RecordError(ev.Endpoint, ev.ErrorLabel())
	}

	rec := ev.LogRecord(l.now())
	if err := l.persister.Persist(context.WithoutCancel(ctx), rec); err != nil {
		l.logger.Error("Failed to persist log record", err, recordFields(fields, rec))
		return metrics.OutcomePersistFailed
	}

	l.logger.Debug("Processed event", recordFields(fields, rec))
	return metrics.OutcomeProcessed
}

func recordFields(base logging.LogFields, rec events.LogRecord) logging.LogFields {
	out := make(logging.LogFields, len(base)+6)
	for k, v := range base {
		out[k] = v
	}
	out["endpoint"] = rec.Endpoint
	out["method"] = rec.Method
	out["status_code"] = rec.StatusCode
	out["response_time"] = rec.ResponseTime
	out["log_level"] = string(rec.LogLevel)
	if rec.Error != nil {
		out["error_message"] = *rec.Error
	}
	return out
}
