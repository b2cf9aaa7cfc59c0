package transport

import (
	"context"
	"errors"
	"testing"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"

	"github.com/drblury/apilog/transport/transporttest"
)

type pubSub struct {
	transporttest.Subscriber
	publishes int
}

func (p *pubSub) Publish(string, ...*message.Message) error {
	p.publishes++
	return nil
}

type failingSubscriber struct{ transporttest.Subscriber }

func (f *failingSubscriber) Close() error { return errors.New("close failed") }

func TestTransportCloseClosesBothSides(t *testing.T) {
	pub := &transporttest.Publisher{}
	sub := &transporttest.Subscriber{}

	err := Transport{Publisher: pub, Subscriber: sub}.Close()

	assert.NoError(t, err)
	assert.Equal(t, 1, pub.Closed)
	assert.Equal(t, 1, sub.Closed)
}

func TestTransportCloseSharedInstanceOnce(t *testing.T) {
	shared := &pubSub{}

	err := Transport{Publisher: shared, Subscriber: shared}.Close()

	assert.NoError(t, err)
	assert.Equal(t, 1, shared.Closed)
}

func TestTransportCloseReportsFirstError(t *testing.T) {
	pub := &transporttest.Publisher{}
	sub := &failingSubscriber{}

	err := Transport{Publisher: pub, Subscriber: sub}.Close()

	assert.EqualError(t, err, "close failed")
	assert.Equal(t, 1, pub.Closed)
}

func TestTransportCloseEmpty(t *testing.T) {
	assert.NoError(t, Transport{}.Close())
}

func TestTransportSatisfiesWatermillInterfaces(t *testing.T) {
	var _ message.Subscriber = &transporttest.Subscriber{}
	var _ message.Publisher = &transporttest.Publisher{}

	sub := &transporttest.Subscriber{}
	ch, err := sub.Subscribe(context.Background(), "api_requests")
	assert.NoError(t, err)
	again, _ := sub.Subscribe(context.Background(), "api_requests")
	assert.Equal(t, ch, again)
}

func TestTransportClosePublisher(t *testing.T) {
	pub := &transporttest.Publisher{}
	sub := &transporttest.Subscriber{}
	assert.NoError(t, Transport{Publisher: pub, Subscriber: sub}.ClosePublisher())
	assert.Equal(t, 1, pub.Closed)
	assert.Equal(t, 0, sub.Closed)

	shared := &pubSub{}
	assert.NoError(t, Transport{Publisher: shared, Subscriber: shared}.ClosePublisher())
	assert.Equal(t, 0, shared.Closed)
}
