package events

import (
	"fmt"
	"time"

	"github.com/drblury/apilog/internal/runtime/jsoncodec"
)

// NewRequest builds a Request event stamped with the current time.
func NewRequest(endpoint, method string, data map[string]any) Event {
	return Event{Kind: KindRequest, Endpoint: endpoint, Method: method, Body: data, Timestamp: time.Now().UTC()}
}

// NewResponse builds a Response event. body is sent alongside
// response_time inside the nested response object.
func NewResponse(endpoint string, statusCode int, responseTime float64, body map[string]any) Event {
	return Event{Kind: KindResponse, Endpoint: endpoint, StatusCode: statusCode, ResponseTime: responseTime, Body: body, Timestamp: time.Now().UTC()}
}

// NewError builds an Error event.
func NewError(endpoint string, statusCode int, message string) Event {
	return Event{Kind: KindError, Endpoint: endpoint, StatusCode: statusCode, ErrorMessage: &message, Timestamp: time.Now().UTC()}
}

// Topic returns the default topic producers publish the event kind to.
func (k Kind) Topic() string {
	switch k {
	case KindRequest:
		return "api_requests"
	case KindResponse:
		return "api_responses"
	case KindError:
		return "api_errors"
	default:
		return ""
	}
}

// Marshal encodes the event in its wire form.
func Marshal(ev Event) ([]byte, error) {
	wire := map[string]any{FieldEndpoint: ev.Endpoint}
	if !ev.Timestamp.IsZero() {
		wire[FieldTimestamp] = ev.Timestamp.Format(time.RFC3339Nano)
	}

	switch ev.Kind {
	case KindRequest:
		wire[FieldEvent] = EventRequest
		wire[FieldMethod] = ev.Method
		if ev.Body != nil {
			wire[FieldData] = ev.Body
		}
	case KindResponse:
		wire[FieldEvent] = EventResponse
		wire[FieldStatusCode] = ev.StatusCode
		response := make(map[string]any, len(ev.Body)+1)
		for k, v := range ev.Body {
			response[k] = v
		}
		response[FieldResponseTime] = ev.ResponseTime
		wire[FieldResponse] = response
	case KindError:
		wire[FieldEvent] = EventError
		wire[FieldStatusCode] = ev.StatusCode
		if ev.ErrorMessage != nil {
			wire[FieldError] = *ev.ErrorMessage
		} else {
			wire[FieldError] = nil
		}
	default:
		return nil, fmt.Errorf("marshal event: unsupported kind %s", ev.Kind)
	}

	return jsoncodec.Marshal(wire)
}
