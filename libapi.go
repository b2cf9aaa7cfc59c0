package apilog

import (
	configpkg "github.com/drblury/apilog/internal/runtime/config"
	consumerpkg "github.com/drblury/apilog/internal/runtime/consumer"
	errspkg "github.com/drblury/apilog/internal/runtime/errors"
	eventspkg "github.com/drblury/apilog/internal/runtime/events"
	idspkg "github.com/drblury/apilog/internal/runtime/ids"
	jsoncodec "github.com/drblury/apilog/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/apilog/internal/runtime/logging"
	metadatapkg "github.com/drblury/apilog/internal/runtime/metadata"
	metricspkg "github.com/drblury/apilog/internal/runtime/metrics"
	storepkg "github.com/drblury/apilog/internal/runtime/store"

	runtimepkg "github.com/drblury/apilog/internal/runtime"
	transportpkg "github.com/drblury/apilog/transport"
)

type (
	Config              = configpkg.Config
	Service             = runtimepkg.Service
	ServiceDependencies = runtimepkg.ServiceDependencies
	Producer            = runtimepkg.Producer
	EventPublisher      = runtimepkg.EventPublisher

	Event     = eventspkg.Event
	EventKind = eventspkg.Kind
	LogRecord = eventspkg.LogRecord
	LogLevel  = eventspkg.LogLevel

	Persister       = storepkg.Persister
	StoreConfig     = storepkg.Config
	MetricsOutcome  = metricspkg.Outcome
	Metrics         = metricspkg.Registry
	MetricsSnapshot = metricspkg.Snapshot
	Recorder        = consumerpkg.Recorder
	ConsumerLoop    = consumerpkg.Loop

	Metadata = metadatapkg.Metadata

	LogFields     = loggingpkg.LogFields
	ServiceLogger = loggingpkg.ServiceLogger

	TransportError        = errspkg.TransportError
	DecodeError           = errspkg.DecodeError
	ClassificationError   = errspkg.ClassificationError
	PersistenceError      = errspkg.PersistenceError
	ConfigValidationError = errspkg.ConfigValidationError

	// Modular transport types
	Transport             = transportpkg.Transport
	TransportBuilder      = transportpkg.Builder
	TransportConfig       = transportpkg.Config
	TransportRegistry     = transportpkg.Registry
	TransportCapabilities = transportpkg.Capabilities
)

var (
	NewService     = runtimepkg.NewService
	ValidateConfig = configpkg.ValidateConfig
	DefaultConfig  = configpkg.Default
	LoadConfig     = configpkg.Load

	PublishEvent    = runtimepkg.PublishEvent
	NewEventMessage = runtimepkg.NewEventMessage

	NewRequestEvent  = eventspkg.NewRequest
	NewResponseEvent = eventspkg.NewResponse
	NewErrorEvent    = eventspkg.NewError
	ParseEvent       = eventspkg.Parse

	NewConsumer = consumerpkg.New
	NewMetrics  = metricspkg.New
	OpenStore   = storepkg.Open

	// Import individual transports via: _ "github.com/drblury/apilog/transport/kafka"
	DefaultTransportRegistry = transportpkg.DefaultRegistry
	RegisterTransport        = transportpkg.Register
	BuildTransport           = transportpkg.Build
	GetCapabilities          = transportpkg.GetCapabilities

	Marshal   = jsoncodec.Marshal
	Unmarshal = jsoncodec.Unmarshal
	Encode    = jsoncodec.Encode

	ErrPublisherRequired  = errspkg.ErrPublisherRequired
	ErrSubscriberRequired = errspkg.ErrSubscriberRequired
	ErrPersisterRequired  = errspkg.ErrPersisterRequired
	ErrMetricsRequired    = errspkg.ErrMetricsRequired
	ErrTopicRequired      = errspkg.ErrTopicRequired
	ErrConfigRequired     = errspkg.ErrConfigRequired
	ErrLoggerRequired     = errspkg.ErrLoggerRequired
	ErrUnrecognizedEvent  = errspkg.ErrUnrecognizedEvent
	ErrInvalidEvent       = errspkg.ErrInvalidEvent
	ErrUnsupportedDriver  = errspkg.ErrUnsupportedDriver

	NewSlogServiceLogger = loggingpkg.NewSlogServiceLogger
	NopServiceLogger     = loggingpkg.NopServiceLogger

	NewMetadata = metadatapkg.New

	CreateULID = idspkg.CreateULID
)

// Event kinds.
const (
	KindUnrecognized = eventspkg.KindUnrecognized
	KindRequest      = eventspkg.KindRequest
	KindResponse     = eventspkg.KindResponse
	KindError        = eventspkg.KindError
)

// Metadata keys set by producers.
const (
	MetadataKeyEventKind     = metadatapkg.KeyEventKind
	MetadataKeyCorrelationID = metadatapkg.KeyCorrelationID
	MetadataKeyProducer      = metadatapkg.KeyProducer
)

// Consumer outcomes as counted by apilog_consumer_messages_total.
const (
	OutcomeProcessed     = metricspkg.OutcomeProcessed
	OutcomeDecodeError   = metricspkg.OutcomeDecodeError
	OutcomeUnrecognized  = metricspkg.OutcomeUnrecognized
	OutcomePersistFailed = metricspkg.OutcomePersistFailed
	OutcomePanicked      = metricspkg.OutcomePanicked
)
