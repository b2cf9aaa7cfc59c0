// Package events holds the producer/consumer contract for API lifecycle
// events: the three wire variants, their classification from a decoded
// payload, and the LogRecord each one maps to.
package events

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	errs "github.com/drblury/apilog/internal/runtime/errors"
	"github.com/drblury/apilog/internal/runtime/jsoncodec"
)

// Discriminator values carried in the "event" field.
const (
	EventRequest  = "API Request"
	EventResponse = "API Response"
	EventError    = "API Error"
)

// Wire keys.
const (
	FieldEvent        = "event"
	FieldEndpoint     = "endpoint"
	FieldMethod       = "method"
	FieldStatusCode   = "status_code"
	FieldResponse     = "response"
	FieldResponseTime = "response_time"
	FieldError        = "error"
	FieldTimestamp    = "timestamp"
	FieldData         = "data"
)

const (
	// MethodNotApplicable is stored for Response and Error rows and for
	// Request events that omit their method.
	MethodNotApplicable = "N/A"
	// DefaultErrorStatus applies to Error events without a status code.
	DefaultErrorStatus = 500
)

// Kind identifies the event variant.
type Kind int

const (
	KindUnrecognized Kind = iota
	KindRequest
	KindResponse
	KindError
)

func (k Kind) String() string {
	switch k {
	case KindRequest:
		return "request"
	case KindResponse:
		return "response"
	case KindError:
		return "error"
	default:
		return "unrecognized"
	}
}

// LogLevel is the persisted log_level column.
type LogLevel string

const (
	LogLevelRequest  LogLevel = "Request"
	LogLevelResponse LogLevel = "Response"
	LogLevelError    LogLevel = "Error"
)

// Event is a classified API lifecycle event. Which fields are meaningful
// depends on Kind: Method for requests, StatusCode and ResponseTime for
// responses, StatusCode and ErrorMessage for errors.
type Event struct {
	Kind         Kind
	Endpoint     string
	Method       string
	StatusCode   int
	ResponseTime float64
	// ErrorMessage is nil when the producer sent no error text.
	ErrorMessage *string
	// Timestamp is the producer's own time, zero when absent or unparseable.
	// It is informational only and never used for ingestion_timestamp.
	Timestamp time.Time
	// Body carries the request data or the response body. It is written on
	// the wire but not persisted.
	Body map[string]any
}

// ErrorLabel is the value used for the error metric label, "" when no
// message was sent.
func (e Event) ErrorLabel() string {
	if e.ErrorMessage == nil {
		return ""
	}
	return *e.ErrorMessage
}

// LogRecord is one row of the append-only log.
type LogRecord struct {
	Endpoint           string    `json:"endpoint"`
	Method             string    `json:"method"`
	StatusCode         int       `json:"status_code"`
	ResponseFlag       int       `json:"response"`
	ResponseTime       float64   `json:"response_time"`
	Error              *string   `json:"error"`
	LogLevel           LogLevel  `json:"log_level"`
	Metadata           *string   `json:"metadata"`
	IngestionTimestamp time.Time `json:"timestamp"`
}

// LogRecord maps the event onto its persisted row. now is the processing
// time assigned by the consumer.
func (e Event) LogRecord(now time.Time) LogRecord {
	rec := LogRecord{
		Endpoint:           e.Endpoint,
		IngestionTimestamp: now,
	}
	switch e.Kind {
	case KindRequest:
		rec.Method = e.Method
		if rec.Method == "" {
			rec.Method = MethodNotApplicable
		}
		rec.LogLevel = LogLevelRequest
	case KindResponse:
		rec.Method = MethodNotApplicable
		rec.StatusCode = e.StatusCode
		rec.ResponseFlag = 1
		rec.ResponseTime = e.ResponseTime
		rec.LogLevel = LogLevelResponse
	case KindError:
		rec.Method = MethodNotApplicable
		rec.StatusCode = e.StatusCode
		rec.Error = e.ErrorMessage
		rec.LogLevel = LogLevelError
	}
	return rec
}

// Decode parses a raw bus payload into its field map. Anything other than a
// JSON object is a *DecodeError.
func Decode(payload []byte) (map[string]any, error) {
	fields, err := jsoncodec.UnmarshalObject(payload)
	if err != nil {
		return nil, &errs.DecodeError{Err: err}
	}
	return fields, nil
}

// Classify maps a decoded payload onto an Event. On failure the returned
// event has KindUnrecognized and err is a *ClassificationError wrapping
// ErrUnrecognizedEvent or ErrInvalidEvent.
func Classify(fields map[string]any) (Event, error) {
	raw, ok := fields[FieldEvent]
	if !ok {
		return unrecognized("", errs.ErrUnrecognizedEvent)
	}
	name, ok := raw.(string)
	if !ok {
		return unrecognized(fmt.Sprint(raw), errs.ErrUnrecognizedEvent)
	}

	var kind Kind
	switch name {
	case EventRequest:
		kind = KindRequest
	case EventResponse:
		kind = KindResponse
	case EventError:
		kind = KindError
	default:
		return unrecognized(name, errs.ErrUnrecognizedEvent)
	}

	endpoint, _ := fields[FieldEndpoint].(string)
	if strings.TrimSpace(endpoint) == "" {
		return unrecognized(name, invalid("endpoint is missing or empty"))
	}

	ev := Event{
		Kind:      kind,
		Endpoint:  endpoint,
		Timestamp: parseTimestamp(fields[FieldTimestamp]),
	}

	switch kind {
	case KindRequest:
		ev.Method = MethodNotApplicable
		if method, ok := fields[FieldMethod].(string); ok && method != "" {
			ev.Method = method
		}
		ev.Body, _ = fields[FieldData].(map[string]any)

	case KindResponse:
		raw, present := fields[FieldStatusCode]
		if !present || raw == nil {
			return unrecognized(name, invalid("response without status_code"))
		}
		code, err := toStatusCode(raw)
		if err != nil {
			return unrecognized(name, err)
		}
		ev.StatusCode = code

		body, _ := fields[FieldResponse].(map[string]any)
		ev.Body = body
		rt, err := responseTime(body, fields)
		if err != nil {
			return unrecognized(name, err)
		}
		ev.ResponseTime = rt

	case KindError:
		ev.StatusCode = DefaultErrorStatus
		if raw, present := fields[FieldStatusCode]; present && raw != nil {
			code, err := toStatusCode(raw)
			if err != nil {
				return unrecognized(name, err)
			}
			ev.StatusCode = code
		}
		ev.ErrorMessage = errorMessage(fields[FieldError])
	}

	return ev, nil
}

// Parse is Decode followed by Classify.
func Parse(payload []byte) (Event, error) {
	fields, err := Decode(payload)
	if err != nil {
		return Event{Kind: KindUnrecognized}, err
	}
	return Classify(fields)
}

func unrecognized(name string, err error) (Event, error) {
	return Event{Kind: KindUnrecognized}, &errs.ClassificationError{Event: name, Err: err}
}

func invalid(reason string) error {
	return fmt.Errorf("%w: %s", errs.ErrInvalidEvent, reason)
}

func toStatusCode(raw any) (int, error) {
	var f float64
	switch v := raw.(type) {
	case float64:
		f = v
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0, invalid(fmt.Sprintf("status_code %q is not numeric", v))
		}
		return n, nil
	default:
		return 0, invalid(fmt.Sprintf("status_code has type %T", raw))
	}
	if f != math.Trunc(f) || math.IsInf(f, 0) {
		return 0, invalid(fmt.Sprintf("status_code %v is not an integer", f))
	}
	return int(f), nil
}

// responseTime prefers the nested response object and falls back to a top
// level response_time. Absent means 0 and negative values are clamped to 0.
func responseTime(body, fields map[string]any) (float64, error) {
	raw, ok := body[FieldResponseTime]
	if !ok {
		raw, ok = fields[FieldResponseTime]
	}
	if !ok || raw == nil {
		return 0, nil
	}
	var f float64
	switch v := raw.(type) {
	case float64:
		f = v
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, invalid(fmt.Sprintf("response_time %q is not a number", v))
		}
		f = parsed
	default:
		return 0, invalid(fmt.Sprintf("response_time has type %T", raw))
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, invalid(fmt.Sprintf("response_time %v is not finite", f))
	}
	return math.Max(f, 0), nil
}

func errorMessage(raw any) *string {
	switch v := raw.(type) {
	case nil:
		return nil
	case string:
		return &v
	default:
		// Structured error bodies are kept as their JSON text.
		data, err := jsoncodec.Marshal(v)
		if err != nil {
			s := fmt.Sprint(v)
			return &s
		}
		s := string(data)
		return &s
	}
}

func parseTimestamp(raw any) time.Time {
	switch v := raw.(type) {
	case string:
		if ts, err := time.Parse(time.RFC3339Nano, v); err == nil {
			return ts
		}
		if secs, err := strconv.ParseFloat(v, 64); err == nil {
			return epoch(secs)
		}
	case float64:
		return epoch(v)
	}
	return time.Time{}
}

func epoch(secs float64) time.Time {
	whole, frac := math.Modf(secs)
	return time.Unix(int64(whole), int64(frac*1e9)).UTC()
}
