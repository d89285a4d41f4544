// Package rabbitmq provides a RabbitMQ broker for the queue hub. Every
// instance of a provider consumes from one durable queue per topic, named
// with the provider as suffix, so tasks are shared out between instances.
package rabbitmq

import (
	"context"
	"errors"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-amqp/v3/pkg/amqp"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/hubprovider/transport"
)

const TransportName = "rabbitmq"

// Factories for the connection and broker halves; tests replace them.
var ConnectionFactory = func(cfg amqp.ConnectionConfig, logger watermill.LoggerAdapter) (*amqp.ConnectionWrapper, error) {
	return amqp.NewConnection(cfg, logger)
}

var PublisherFactory = func(cfg amqp.Config, logger watermill.LoggerAdapter, conn *amqp.ConnectionWrapper) (message.Publisher, error) {
	return amqp.NewPublisherWithConnection(cfg, logger, conn)
}

var SubscriberFactory = func(cfg amqp.Config, logger watermill.LoggerAdapter, conn *amqp.ConnectionWrapper) (message.Subscriber, error) {
	return amqp.NewSubscriberWithConnection(cfg, logger, conn)
}

var closeConnection = (*amqp.ConnectionWrapper).Close

func init() { Register() }

// Register adds the RabbitMQ broker to the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.RabbitMQCapabilities)
}

// Build opens one reconnecting connection shared by both halves. Closing the
// returned publisher also closes the connection.
func Build(_ context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	url := cfg.GetRabbitMQURL()
	if url == "" {
		return transport.Transport{}, errors.New("rabbitmq: url is required")
	}

	amqpConfig := Config(url, cfg.GetProviderName())

	conn, err := ConnectionFactory(amqp.ConnectionConfig{
		AmqpURI:   url,
		Reconnect: amqp.DefaultReconnectConfig(),
	}, logger)
	if err != nil {
		return transport.Transport{}, fmt.Errorf("rabbitmq connect: %w", err)
	}

	publisher, err := PublisherFactory(amqpConfig, logger, conn)
	if err != nil {
		_ = closeConnection(conn)
		return transport.Transport{}, fmt.Errorf("rabbitmq publisher: %w", err)
	}
	owned := &connPublisher{Publisher: publisher, conn: conn}

	subscriber, err := SubscriberFactory(amqpConfig, logger, conn)
	if err != nil {
		_ = owned.Close()
		return transport.Transport{}, fmt.Errorf("rabbitmq subscriber: %w", err)
	}

	return transport.Transport{Publisher: owned, Subscriber: subscriber}, nil
}

// Config is the durable pub/sub config with a provider-scoped queue name and
// a prefetch of one so a busy instance does not hold tasks others could run.
func Config(url, provider string) amqp.Config {
	generate := amqp.GenerateQueueNameTopicName
	if provider != "" {
		generate = amqp.GenerateQueueNameTopicNameWithSuffix(provider)
	}
	cfg := amqp.NewDurablePubSubConfig(url, generate)
	cfg.Consume.Qos.PrefetchCount = 1
	return cfg
}

type connPublisher struct {
	message.Publisher
	conn *amqp.ConnectionWrapper
}

func (p *connPublisher) Close() error {
	return errors.Join(p.Publisher.Close(), closeConnection(p.conn))
}

func Capabilities() transport.Capabilities {
	return transport.RabbitMQCapabilities
}
