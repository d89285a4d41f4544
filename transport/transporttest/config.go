// Package transporttest provides a transport.Config and inert broker halves
// for broker tests.
package transporttest

import (
	"context"

	"github.com/ThreeDotsLabs/watermill/message"
)

// Config is a plain transport.Config. Zero values read as unset.
type Config struct {
	PubSubSystem       string
	ProviderName       string
	KafkaBrokers       []string
	KafkaClientID      string
	KafkaConsumerGroup string
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
func (c *Config) GetProviderName() string       { return c.ProviderName }
func (c *Config) GetKafkaBrokers() []string     { return c.KafkaBrokers }
func (c *Config) GetKafkaClientID() string      { return c.KafkaClientID }
func (c *Config) GetKafkaConsumerGroup() string { return c.KafkaConsumerGroup }
func (c *Config) GetRabbitMQURL() string        { return c.RabbitMQURL }
func (c *Config) GetNATSURL() string            { return c.NATSURL }
func (c *Config) GetHTTPServerAddress() string  { return c.HTTPServerAddress }
func (c *Config) GetHTTPPublisherURL() string   { return c.HTTPPublisherURL }
func (c *Config) GetAWSRegion() string          { return c.AWSRegion }
func (c *Config) GetAWSAccountID() string       { return c.AWSAccountID }
func (c *Config) GetAWSAccessKeyID() string     { return c.AWSAccessKeyID }
func (c *Config) GetAWSSecretAccessKey() string { return c.AWSSecretAccessKey }
func (c *Config) GetAWSEndpoint() string        { return c.AWSEndpoint }

// Publisher and Subscriber are inert broker halves that count Close calls.
type Publisher struct{ Closed int }

func (p *Publisher) Publish(string, ...*message.Message) error { return nil }
func (p *Publisher) Close() error                                { p.Closed++; return nil }

type Subscriber struct{ Closed int }

func (s *Subscriber) Subscribe(context.Context, string) (<-chan *message.Message, error) {
	ch := make(chan *message.Message)
	close(ch)
	return ch, nil
}
func (s *Subscriber) Close() error { s.Closed++; return nil }

// PubSub is one object serving as both halves, like a Go channel broker.
type PubSub struct {
	Publisher
	Subscriber
	closed int
}

func (ps *PubSub) Close() error { ps.closed++; return nil }

// Closed reports how many times Close was called.
func (ps *PubSub) Closed() int { return ps.closed }
