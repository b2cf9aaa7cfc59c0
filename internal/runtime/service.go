package runtime

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	configpkg "github.com/drblury/apilog/internal/runtime/config"
	"github.com/drblury/apilog/internal/runtime/consumer"
	errspkg "github.com/drblury/apilog/internal/runtime/errors"
	"github.com/drblury/apilog/internal/runtime/events"
	loggingpkg "github.com/drblury/apilog/internal/runtime/logging"
	metadatapkg "github.com/drblury/apilog/internal/runtime/metadata"
	metricspkg "github.com/drblury/apilog/internal/runtime/metrics"
	storepkg "github.com/drblury/apilog/internal/runtime/store"
	"github.com/drblury/apilog/transport"
)

const exporterShutdownTimeout = 5 * time.Second

// ServiceDependencies holds the optional collaborators that the Service can use.
// Leave fields nil to build them from the configuration.
type ServiceDependencies struct {
	// TransportRegistry resolves pubsub_system. Defaults to transport.DefaultRegistry.
	TransportRegistry *transport.Registry
	// Persister replaces the store selected by store_driver.
	Persister storepkg.Persister
	// Metrics replaces the registry built from the metrics_* settings.
	Metrics *metricspkg.Registry
	// Clock supplies ingestion timestamps.
	Clock func() time.Time
}

// Service wires the bus transport, metrics registry, log store, consumer loop
// and metrics exporter for one ingestion process.
type Service struct {
	Conf   *configpkg.Config
	Logger loggingpkg.ServiceLogger

	transport transport.Transport
	metrics   *metricspkg.Registry
	persister storepkg.Persister
	consumer  *consumer.Loop
	exporter  *metricspkg.Exporter
}

// NewService validates the configuration and builds every component. Any
// failure here is a startup failure; resources opened before it are closed.
func NewService(ctx context.Context, conf *configpkg.Config, log loggingpkg.ServiceLogger, deps ServiceDependencies) (svc *Service, err error) {
	if conf == nil {
		return nil, errspkg.ErrConfigRequired
	}
	if log == nil {
		return nil, errspkg.ErrLoggerRequired
	}
	if err := conf.Validate(); err != nil {
		return nil, err
	}

	log.Info("Creating ingestion service", loggingpkg.LogFields{
		"pubsub_system": conf.PubSubSystem,
		"store_driver":  conf.StoreDriver,
		"config":        conf.String(),
	})

	s := &Service{Conf: conf, Logger: log}
	defer func() {
		if err != nil {
			s.release()
		}
	}()

	s.metrics = deps.Metrics
	if s.metrics == nil {
		s.metrics, err = metricspkg.New(metricspkg.WithRuntimeCollectors(conf.MetricsRuntimeCollectors))
		if err != nil {
			return nil, fmt.Errorf("create metrics registry: %w", err)
		}
	}

	s.persister = deps.Persister
	if s.persister == nil {
		s.persister, err = storepkg.Open(ctx, storeConfig(conf), log)
		if err != nil {
			return nil, fmt.Errorf("open log store: %w", err)
		}
	}

	registry := deps.TransportRegistry
	if registry == nil {
		registry = transport.DefaultRegistry
	}
	s.transport, err = registry.Build(ctx, conf, loggingpkg.NewWatermillAdapter(log))
	if err != nil {
		return nil, err
	}
	if caps := registry.GetCapabilities(conf.PubSubSystem); !caps.SupportsAtLeastOnce() {
		log.Info("Transport does not redeliver unacked messages; events in flight during a crash are lost", loggingpkg.LogFields{
			"pubsub_system": conf.PubSubSystem,
		})
	}

	opts := []consumer.Option{consumer.WithPollTimeout(conf.PollTimeout)}
	if deps.Clock != nil {
		opts = append(opts, consumer.WithClock(deps.Clock))
	}
	s.consumer, err = consumer.New(s.transport.Subscriber, conf.Topics, s.metrics, s.persister, log, opts...)
	if err != nil {
		return nil, err
	}

	s.exporter = metricspkg.NewExporter(s.metrics, conf.MetricsAddress, conf.MetricsPath, log)
	return s, nil
}

func storeConfig(conf *configpkg.Config) storepkg.Config {
	return storepkg.Config{
		Driver:             conf.StoreDriver,
		DSN:                conf.StoreDSN,
		Table:              conf.StoreTable,
		AutoCreateSchema:   conf.StoreAutoCreateSchema,
		BreakerEnabled:     conf.StoreBreakerEnabled,
		BreakerMaxFailures: conf.StoreBreakerMaxFailures,
		BreakerOpenTimeout: conf.StoreBreakerOpenTimeout,
	}
}

// Start binds the metrics exporter and runs the consumer until ctx is
// cancelled. A bind or initial subscribe failure is returned immediately.
// On return the subscription, publisher and store are closed.
func (s *Service) Start(ctx context.Context) error {
	if err := s.exporter.Start(ctx); err != nil {
		s.release()
		return fmt.Errorf("start metrics exporter: %w", err)
	}

	runErr := s.consumer.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), exporterShutdownTimeout)
	defer cancel()
	if err := s.exporter.Shutdown(shutdownCtx); err != nil {
		s.Logger.Error("Failed to stop metrics exporter", err, nil)
	}
	if err := s.closeOutputs(); err != nil {
		s.Logger.Error("Failed to release resources", err, nil)
	}
	return runErr
}

// release closes everything the service owns, including the subscriber. It
// is used when the consumer never ran.
func (s *Service) release() {
	if s.transport.Subscriber != nil {
		if err := s.transport.Subscriber.Close(); err != nil {
			s.Logger.Error("Failed to close subscriber", err, nil)
		}
	}
	if err := s.closeOutputs(); err != nil {
		s.Logger.Error("Failed to release resources", err, nil)
	}
}

func (s *Service) closeOutputs() error {
	var errs []error
	if err := s.transport.ClosePublisher(); err != nil {
		errs = append(errs, fmt.Errorf("close publisher: %w", err))
	}
	if s.persister != nil {
		if err := s.persister.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close log store: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Metrics returns the registry shared by the consumer and the exporter.
func (s *Service) Metrics() *metricspkg.Registry {
	return s.metrics
}

// Publisher returns the transport's publisher, nil for subscribe-only transports.
func (s *Service) Publisher() message.Publisher {
	return s.transport.Publisher
}

// ExporterAddr reports the exporter's bound address once Start has bound it.
func (s *Service) ExporterAddr() string {
	return s.exporter.Addr()
}

// PublishEvent emits an event through the service's own transport. It is
// meant for in-process producers such as the channel transport demo.
func (s *Service) PublishEvent(ctx context.Context, event events.Event, metadata metadatapkg.Metadata) error {
	if s == nil {
		return errors.New("ingestion service is nil")
	}
	return PublishEvent(ctx, s.transport.Publisher, event, metadata)
}
