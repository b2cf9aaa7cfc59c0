package http

import (
	"context"
	"errors"
	"io"
	"net"
	nethttp "net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	watermillhttp "github.com/ThreeDotsLabs/watermill-http/v2/pkg/http"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/apilog/transport"
	"github.com/drblury/apilog/transport/transporttest"
)

type fakeServerSubscriber struct {
	transporttest.Subscriber

	mu        sync.Mutex
	topics    []string
	addr      net.Addr
	listenErr error
	started   chan struct{}
	stop      chan struct{}
	stopOnce  sync.Once
}

func newFakeServerSubscriber() *fakeServerSubscriber {
	return &fakeServerSubscriber{
		started: make(chan struct{}, 4),
		stop:    make(chan struct{}),
	}
}

func (f *fakeServerSubscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	f.mu.Lock()
	f.topics = append(f.topics, topic)
	f.mu.Unlock()
	return f.Subscriber.Subscribe(ctx, topic)
}

func (f *fakeServerSubscriber) StartHTTPServer() error {
	f.started <- struct{}{}
	if f.listenErr != nil {
		return f.listenErr
	}
	f.mu.Lock()
	f.addr = &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 8080}
	f.mu.Unlock()
	<-f.stop
	return nethttp.ErrServerClosed
}

func (f *fakeServerSubscriber) Addr() net.Addr {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.addr
}

func (f *fakeServerSubscriber) Close() error {
	f.stopOnce.Do(func() { close(f.stop) })
	return f.Subscriber.Close()
}

func TestRegister(t *testing.T) {
	original := transport.DefaultRegistry
	defer func() { transport.DefaultRegistry = original }()
	transport.DefaultRegistry = transport.NewRegistry()

	Register()

	caps := transport.GetCapabilities(TransportName)
	assert.Equal(t, "http", caps.Name)
	assert.False(t, caps.SupportsAtLeastOnce())
	assert.True(t, caps.SupportsTracing)
	assert.Equal(t, transport.HTTPCapabilities, Capabilities())
}

func TestBuild(t *testing.T) {
	t.Run("routes topics and starts the server once", func(t *testing.T) {
		originalPubFactory := PublisherFactory
		originalSubFactory := SubscriberFactory
		defer func() {
			PublisherFactory = originalPubFactory
			SubscriberFactory = originalSubFactory
		}()

		mockPub := &transporttest.Publisher{}
		inner := newFakeServerSubscriber()
		var gotAddr string

		PublisherFactory = func(config watermillhttp.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
			return mockPub, nil
		}
		SubscriberFactory = func(addr string, config watermillhttp.SubscriberConfig, logger watermill.LoggerAdapter) (ServerSubscriber, error) {
			gotAddr = addr
			return inner, nil
		}

		cfg := &transporttest.Config{HTTPServerAddress: ":8080", HTTPPublisherURL: "http://localhost:8080/"}
		tr, err := Build(context.Background(), cfg, watermill.NopLogger{})
		require.NoError(t, err)
		assert.Equal(t, ":8080", gotAddr)
		assert.Equal(t, mockPub, tr.Publisher)

		_, err = tr.Subscriber.Subscribe(context.Background(), "api_requests")
		require.NoError(t, err)
		assert.Equal(t, []string{"/api_requests"}, inner.topics)

		starter, ok := tr.Subscriber.(transport.Starter)
		require.True(t, ok)
		require.NoError(t, starter.Start(context.Background()))
		require.NoError(t, starter.Start(context.Background()))

		select {
		case <-inner.started:
		case <-time.After(time.Second):
			t.Fatal("server was not started")
		}
		select {
		case <-inner.started:
			t.Fatal("server started twice")
		case <-time.After(50 * time.Millisecond):
		}

		require.NoError(t, tr.Close())
		assert.Equal(t, 1, inner.Closed)
	})

	t.Run("start reports a listener that cannot bind", func(t *testing.T) {
		originalPubFactory := PublisherFactory
		originalSubFactory := SubscriberFactory
		defer func() {
			PublisherFactory = originalPubFactory
			SubscriberFactory = originalSubFactory
		}()

		inner := newFakeServerSubscriber()
		inner.listenErr = errors.New("bind: address already in use")
		PublisherFactory = func(config watermillhttp.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
			return &transporttest.Publisher{}, nil
		}
		SubscriberFactory = func(addr string, config watermillhttp.SubscriberConfig, logger watermill.LoggerAdapter) (ServerSubscriber, error) {
			return inner, nil
		}

		tr, err := Build(context.Background(), &transporttest.Config{HTTPServerAddress: ":8080"}, watermill.NopLogger{})
		require.NoError(t, err)
		defer tr.Close()

		starter := tr.Subscriber.(transport.Starter)
		err = starter.Start(context.Background())
		assert.ErrorContains(t, err, "address already in use")
		assert.Equal(t, err, starter.Start(context.Background()))
	})

	t.Run("start gives up when the context ends first", func(t *testing.T) {
		originalPubFactory := PublisherFactory
		originalSubFactory := SubscriberFactory
		defer func() {
			PublisherFactory = originalPubFactory
			SubscriberFactory = originalSubFactory
		}()

		PublisherFactory = func(config watermillhttp.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
			return &transporttest.Publisher{}, nil
		}
		SubscriberFactory = func(addr string, config watermillhttp.SubscriberConfig, logger watermill.LoggerAdapter) (ServerSubscriber, error) {
			return &neverBinds{release: make(chan struct{})}, nil
		}

		tr, err := Build(context.Background(), &transporttest.Config{}, watermill.NopLogger{})
		require.NoError(t, err)
		defer tr.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
		defer cancel()
		assert.ErrorIs(t, tr.Subscriber.(transport.Starter).Start(ctx), context.DeadlineExceeded)
	})

	t.Run("publisher posts to the topic url", func(t *testing.T) {
		originalPubFactory := PublisherFactory
		originalSubFactory := SubscriberFactory
		defer func() {
			PublisherFactory = originalPubFactory
			SubscriberFactory = originalSubFactory
		}()

		var captured watermillhttp.PublisherConfig
		PublisherFactory = func(config watermillhttp.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
			captured = config
			return &transporttest.Publisher{}, nil
		}
		SubscriberFactory = func(addr string, config watermillhttp.SubscriberConfig, logger watermill.LoggerAdapter) (ServerSubscriber, error) {
			return newFakeServerSubscriber(), nil
		}

		_, err := Build(context.Background(), &transporttest.Config{HTTPPublisherURL: "http://collector:8080/"}, watermill.NopLogger{})
		require.NoError(t, err)

		req, err := captured.MarshalMessageFunc("api_errors", message.NewMessage("id-1", []byte(`{"event":"Error"}`)))
		require.NoError(t, err)
		assert.Equal(t, "http://collector:8080/api_errors", req.URL.String())
		body, err := io.ReadAll(req.Body)
		require.NoError(t, err)
		assert.JSONEq(t, `{"event":"Error"}`, string(body))
	})

	t.Run("returns error when publisher factory fails", func(t *testing.T) {
		originalPubFactory := PublisherFactory
		defer func() { PublisherFactory = originalPubFactory }()

		PublisherFactory = func(config watermillhttp.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
			return nil, errors.New("publisher error")
		}

		_, err := Build(context.Background(), &transporttest.Config{}, watermill.NopLogger{})
		assert.ErrorContains(t, err, "publisher error")
	})

	t.Run("closes the publisher when the subscriber fails", func(t *testing.T) {
		originalPubFactory := PublisherFactory
		originalSubFactory := SubscriberFactory
		defer func() {
			PublisherFactory = originalPubFactory
			SubscriberFactory = originalSubFactory
		}()

		pub := &transporttest.Publisher{}
		PublisherFactory = func(config watermillhttp.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
			return pub, nil
		}
		SubscriberFactory = func(addr string, config watermillhttp.SubscriberConfig, logger watermill.LoggerAdapter) (ServerSubscriber, error) {
			return nil, errors.New("subscriber error")
		}

		_, err := Build(context.Background(), &transporttest.Config{}, watermill.NopLogger{})
		assert.ErrorContains(t, err, "subscriber error")
		assert.Equal(t, 1, pub.Closed)
	})
}

type neverBinds struct {
	transporttest.Subscriber
	release chan struct{}
	once    sync.Once
}

func (n *neverBinds) StartHTTPServer() error {
	<-n.release
	return nethttp.ErrServerClosed
}

func (n *neverBinds) Addr() net.Addr { return nil }

func (n *neverBinds) Close() error {
	n.once.Do(func() { close(n.release) })
	return n.Subscriber.Close()
}

func TestStartFailsWhenPortIsTaken(t *testing.T) {
	taken, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer taken.Close()

	tr, err := Build(context.Background(), &transporttest.Config{
		HTTPServerAddress: taken.Addr().String(),
		HTTPPublisherURL:  "http://" + taken.Addr().String() + "/",
	}, watermill.NopLogger{})
	require.NoError(t, err)
	defer tr.Close()

	_, err = tr.Subscriber.Subscribe(context.Background(), "api_requests")
	require.NoError(t, err)

	err = tr.Subscriber.(transport.Starter).Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), taken.Addr().String())
}

func TestStartServesSubscribedTopics(t *testing.T) {
	tr, err := Build(context.Background(), &transporttest.Config{HTTPServerAddress: "127.0.0.1:0"}, watermill.NopLogger{})
	require.NoError(t, err)
	defer tr.Close()

	messages, err := tr.Subscriber.Subscribe(context.Background(), "api_requests")
	require.NoError(t, err)
	require.NoError(t, tr.Subscriber.(transport.Starter).Start(context.Background()))

	addr := tr.Subscriber.(*Subscriber).Addr()
	require.NotNil(t, addr)

	go func() {
		msg := <-messages
		msg.Ack()
	}()

	resp, err := nethttp.Post("http://"+addr.String()+"/api_requests", "application/json",
		strings.NewReader(`{"event":"Request","endpoint":"/orders","method":"GET"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, nethttp.StatusOK, resp.StatusCode)
}
