package transport

import (
	"context"
	"errors"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errs "github.com/drblury/apilog/internal/runtime/errors"
	"github.com/drblury/apilog/transport/transporttest"
)

func fakeBuilder(pub *transporttest.Publisher, sub *transporttest.Subscriber) Builder {
	return func(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error) {
		var t Transport
		if pub != nil {
			t.Publisher = pub
		}
		if sub != nil {
			t.Subscriber = sub
		}
		return t, nil
	}
}

func TestNewRegistry(t *testing.T) {
	reg := NewRegistry()
	assert.NotNil(t, reg)
	assert.Empty(t, reg.Names())
}

func TestRegistryRegister(t *testing.T) {
	reg := NewRegistry()
	reg.Register("Custom", fakeBuilder(nil, &transporttest.Subscriber{}))

	assert.True(t, reg.Has("custom"))
	assert.True(t, reg.Has(" CUSTOM "))
	assert.False(t, reg.Has("other"))
	assert.Equal(t, Capabilities{Name: "custom"}, reg.GetCapabilities("custom"))
}

func TestRegistryRegisterWithCapabilities(t *testing.T) {
	reg := NewRegistry()
	reg.RegisterWithCapabilities("kafka", fakeBuilder(nil, &transporttest.Subscriber{}), KafkaCapabilities)

	assert.Equal(t, KafkaCapabilities, reg.GetCapabilities("Kafka"))
	assert.Equal(t, Capabilities{Name: "unknown"}, reg.GetCapabilities("unknown"))
}

func TestRegistryBuild(t *testing.T) {
	t.Run("builds the configured transport", func(t *testing.T) {
		reg := NewRegistry()
		pub := &transporttest.Publisher{}
		sub := &transporttest.Subscriber{}
		reg.Register("channel", fakeBuilder(pub, sub))

		tr, err := reg.Build(context.Background(), &transporttest.Config{PubSubSystem: "Channel"}, nil)
		require.NoError(t, err)
		assert.Same(t, pub, tr.Publisher)
		assert.Same(t, sub, tr.Subscriber)
	})

	t.Run("nil config", func(t *testing.T) {
		_, err := NewRegistry().Build(context.Background(), nil, watermill.NopLogger{})
		assert.ErrorIs(t, err, errs.ErrConfigRequired)
	})

	t.Run("unknown transport lists registered names", func(t *testing.T) {
		reg := NewRegistry()
		reg.Register("nats", fakeBuilder(nil, nil))
		reg.Register("kafka", fakeBuilder(nil, nil))

		_, err := reg.Build(context.Background(), &transporttest.Config{PubSubSystem: "smoke-signals"}, watermill.NopLogger{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), `unknown transport "smoke-signals"`)
		assert.Contains(t, err.Error(), "kafka, nats")
	})

	t.Run("wraps builder errors", func(t *testing.T) {
		reg := NewRegistry()
		boom := errors.New("dial failed")
		reg.Register("kafka", func(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error) {
			return Transport{}, boom
		})

		_, err := reg.Build(context.Background(), &transporttest.Config{PubSubSystem: "kafka"}, watermill.NopLogger{})
		assert.ErrorIs(t, err, boom)
		assert.Contains(t, err.Error(), "build kafka transport")
	})

	t.Run("requires a subscriber", func(t *testing.T) {
		reg := NewRegistry()
		pub := &transporttest.Publisher{}
		reg.Register("pubonly", fakeBuilder(pub, nil))

		_, err := reg.Build(context.Background(), &transporttest.Config{PubSubSystem: "pubonly"}, watermill.NopLogger{})
		assert.ErrorIs(t, err, errs.ErrSubscriberRequired)
		assert.Equal(t, 1, pub.Closed)
	})
}

func TestRegistryNamesSorted(t *testing.T) {
	reg := NewRegistry()
	for _, name := range []string{"rabbitmq", "aws", "kafka"} {
		reg.Register(name, fakeBuilder(nil, nil))
	}
	assert.Equal(t, []string{"aws", "kafka", "rabbitmq"}, reg.Names())
}

func TestDefaultRegistryHelpers(t *testing.T) {
	original := DefaultRegistry
	defer func() { DefaultRegistry = original }()
	DefaultRegistry = NewRegistry()

	sub := &transporttest.Subscriber{}
	RegisterWithCapabilities("channel", fakeBuilder(nil, sub), ChannelCapabilities)
	Register("plain", fakeBuilder(nil, sub))

	assert.Equal(t, ChannelCapabilities, GetCapabilities("channel"))
	assert.Equal(t, "plain", GetCapabilities("plain").Name)

	tr, err := Build(context.Background(), &transporttest.Config{PubSubSystem: "channel"}, watermill.NopLogger{})
	require.NoError(t, err)
	assert.Same(t, sub, tr.Subscriber)
}
