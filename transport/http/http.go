// Package http provides an HTTP transport. Producers POST each message to
// <publisher_url><topic>; the consumer serves one route per topic.
package http

import (
	"context"
	"errors"
	"fmt"
	"net"
	nethttp "net/http"
	"strings"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-http/v2/pkg/http"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/apilog/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "http"

// StartTimeout bounds how long Start waits for the listener to bind.
var StartTimeout = 5 * time.Second

const bindPollInterval = 10 * time.Millisecond

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(config http.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return http.NewPublisher(config, logger)
}

// ServerSubscriber is the part of the watermill HTTP subscriber the
// transport drives.
type ServerSubscriber interface {
	message.Subscriber
	StartHTTPServer() error
	Addr() net.Addr
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(addr string, config http.SubscriberConfig, logger watermill.LoggerAdapter) (ServerSubscriber, error) {
	sub, err := http.NewSubscriber(addr, config, logger)
	if err != nil {
		return nil, err
	}
	return sub, nil
}

func init() {
	Register()
}

// Register adds the HTTP transport to the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.HTTPCapabilities)
}

// Build creates a new HTTP transport. The listener starts when the consumer
// calls Start after subscribing its topics.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	publisherURL := cfg.GetHTTPPublisherURL()

	publisher, err := PublisherFactory(
		http.PublisherConfig{
			MarshalMessageFunc: func(topic string, msg *message.Message) (*nethttp.Request, error) {
				return http.DefaultMarshalMessageFunc(publisherURL+strings.TrimPrefix(topic, "/"), msg)
			},
		},
		logger,
	)
	if err != nil {
		return transport.Transport{}, err
	}

	inner, err := SubscriberFactory(
		cfg.GetHTTPServerAddress(),
		http.SubscriberConfig{
			UnmarshalMessageFunc: http.DefaultUnmarshalMessageFunc,
		},
		logger,
	)
	if err != nil {
		_ = publisher.Close()
		return transport.Transport{}, err
	}

	return transport.Transport{
		Publisher:  publisher,
		Subscriber: &Subscriber{inner: inner, logger: logger, addr: cfg.GetHTTPServerAddress()},
	}, nil
}

// Subscriber routes each topic to "/<topic>" on the embedded HTTP server.
type Subscriber struct {
	inner  ServerSubscriber
	logger watermill.LoggerAdapter
	addr   string

	once     sync.Once
	startErr error
}

// Subscribe registers the route for topic. It must be called before Start.
func (s *Subscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	return s.inner.Subscribe(ctx, "/"+strings.TrimPrefix(topic, "/"))
}

// Start launches the HTTP server and returns once it listens, or with the
// error that kept it from binding. Later calls return the first result.
func (s *Subscriber) Start(ctx context.Context) error {
	s.once.Do(func() { s.startErr = s.start(ctx) })
	return s.startErr
}

func (s *Subscriber) start(ctx context.Context) error {
	served := make(chan error, 1)
	go func() {
		err := s.inner.StartHTTPServer()
		if err != nil && !errors.Is(err, nethttp.ErrServerClosed) && s.inner.Addr() != nil {
			s.logger.Error("HTTP subscriber server stopped", err, nil)
		}
		served <- err
	}()

	ticker := time.NewTicker(bindPollInterval)
	defer ticker.Stop()
	deadline := time.NewTimer(StartTimeout)
	defer deadline.Stop()

	for {
		if addr := s.inner.Addr(); addr != nil {
			s.logger.Info("HTTP subscriber listening", watermill.LogFields{"address": addr.String()})
			return nil
		}
		select {
		case err := <-served:
			if err == nil {
				err = nethttp.ErrServerClosed
			}
			return fmt.Errorf("listen on %q: %w", s.addr, err)
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return fmt.Errorf("listen on %q: not bound after %s", s.addr, StartTimeout)
		case <-ticker.C:
		}
	}
}

// Addr returns the bound listener address, or nil before Start succeeds.
func (s *Subscriber) Addr() net.Addr {
	return s.inner.Addr()
}

func (s *Subscriber) Close() error {
	return s.inner.Close()
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.HTTPCapabilities
}
