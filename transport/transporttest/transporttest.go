// Package transporttest holds fakes shared by the transport tests.
package transporttest

import (
	"context"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"
)

// Config is a settable transport.Config.
type Config struct {
	PubSubSystem       string
	ConsumerGroup      string
	ClientID           string
	KafkaBrokers       []string
	KafkaInitialOffset string
	RabbitMQURL        string
	NATSURL            string
	HTTPServerAddress  string
	HTTPPublisherURL   string
	AWSRegion          string
	AWSAccountID       string
	AWSAccessKeyID     string
	AWSSecretAccessKey string
	AWSEndpoint        string
}

func (c *Config) GetPubSubSystem() string       { return c.PubSubSystem }
func (c *Config) GetConsumerGroup() string      { return c.ConsumerGroup }
func (c *Config) GetClientID() string           { return c.ClientID }
func (c *Config) GetKafkaBrokers() []string     { return c.KafkaBrokers }
func (c *Config) GetKafkaInitialOffset() string { return c.KafkaInitialOffset }
func (c *Config) GetRabbitMQURL() string        { return c.RabbitMQURL }
func (c *Config) GetNATSURL() string            { return c.NATSURL }
func (c *Config) GetHTTPServerAddress() string  { return c.HTTPServerAddress }
func (c *Config) GetHTTPPublisherURL() string   { return c.HTTPPublisherURL }
func (c *Config) GetAWSRegion() string          { return c.AWSRegion }
func (c *Config) GetAWSAccountID() string       { return c.AWSAccountID }
func (c *Config) GetAWSAccessKeyID() string     { return c.AWSAccessKeyID }
func (c *Config) GetAWSSecretAccessKey() string { return c.AWSSecretAccessKey }
func (c *Config) GetAWSEndpoint() string        { return c.AWSEndpoint }

// Publisher records publishes and Close calls.
type Publisher struct {
	mu        sync.Mutex
	Published map[string][]*message.Message
	Closed    int
	Err       error
}

func (p *Publisher) Publish(topic string, messages ...*message.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return p.Err
	}
	if p.Published == nil {
		p.Published = make(map[string][]*message.Message)
	}
	p.Published[topic] = append(p.Published[topic], messages...)
	return nil
}

func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Closed++
	return nil
}

// Subscriber hands out channels the test controls.
type Subscriber struct {
	mu       sync.Mutex
	Channels map[string]chan *message.Message
	Closed   int
	Err      error
}

func (s *Subscriber) Subscribe(_ context.Context, topic string) (<-chan *message.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	if s.Channels == nil {
		s.Channels = make(map[string]chan *message.Message)
	}
	ch, ok := s.Channels[topic]
	if !ok {
		ch = make(chan *message.Message)
		s.Channels[topic] = ch
	}
	return ch, nil
}

func (s *Subscriber) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Closed++
	return nil
}

// Channel returns the channel handed out for topic, or nil before the first
// Subscribe.
func (s *Subscriber) Channel(topic string) chan *message.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Channels[topic]
}

// Reset forgets topic so the next Subscribe hands out a fresh channel.
func (s *Subscriber) Reset(topic string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.Channels, topic)
}

// CloseCount returns the number of Close calls.
func (s *Subscriber) CloseCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Closed
}
