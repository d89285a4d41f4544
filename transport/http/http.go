// Package http provides an HTTP broker for the queue hub. The hub pushes
// tasks to this provider's listener and results are POSTed to the hub under
// HTTPPublisherURL joined with the topic.
package http

import (
	"context"
	"errors"
	"fmt"
	nethttp "net/http"
	"net/url"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-http/v2/pkg/http"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/hubprovider/transport"
)

const TransportName = "http"

// PublisherFactory and SubscriberFactory create the broker halves; tests replace them.
var PublisherFactory = func(config http.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return http.NewPublisher(config, logger)
}

var SubscriberFactory = func(addr string, config http.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return http.NewSubscriber(addr, config, logger)
}

// StartServer serves the subscriber's routes. It blocks until the server stops.
var StartServer = func(sub message.Subscriber) error {
	s, ok := sub.(*http.Subscriber)
	if !ok {
		return nil
	}
	return s.StartHTTPServer()
}

func init() { Register() }

// Register adds the HTTP broker to the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.HTTPCapabilities)
}

// Build creates the publisher and the push listener. The listener starts on
// the first Subscribe so its route exists before requests arrive.
func Build(_ context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	base := cfg.GetHTTPPublisherURL()
	if base == "" {
		return transport.Transport{}, errors.New("http: publisher url is required")
	}
	if _, err := url.Parse(base); err != nil {
		return transport.Transport{}, fmt.Errorf("http: publisher url: %w", err)
	}

	publisher, err := PublisherFactory(http.PublisherConfig{
		MarshalMessageFunc: func(topic string, msg *message.Message) (*nethttp.Request, error) {
			target, err := TopicURL(base, topic)
			if err != nil {
				return nil, err
			}
			return http.DefaultMarshalMessageFunc(target, msg)
		},
	}, logger)
	if err != nil {
		return transport.Transport{}, fmt.Errorf("http publisher: %w", err)
	}

	subscriber, err := SubscriberFactory(cfg.GetHTTPServerAddress(), http.SubscriberConfig{
		UnmarshalMessageFunc: http.DefaultUnmarshalMessageFunc,
	}, logger)
	if err != nil {
		_ = publisher.Close()
		return transport.Transport{}, fmt.Errorf("http subscriber: %w", err)
	}

	return transport.Transport{
		Publisher:  publisher,
		Subscriber: &serverSubscriber{Subscriber: subscriber, logger: logger},
	}, nil
}

// TopicURL joins the publisher base URL and a topic.
func TopicURL(base, topic string) (string, error) {
	return url.JoinPath(base, topic)
}

type serverSubscriber struct {
	message.Subscriber
	logger watermill.LoggerAdapter
	once   sync.Once
}

func (s *serverSubscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	msgs, err := s.Subscriber.Subscribe(ctx, topic)
	if err != nil {
		return nil, err
	}
	s.once.Do(func() {
		go func() {
			if err := StartServer(s.Subscriber); err != nil && !errors.Is(err, nethttp.ErrServerClosed) {
				s.logger.Error("HTTP subscriber server stopped", err, nil)
			}
		}()
	})
	return msgs, nil
}

func Capabilities() transport.Capabilities {
	return transport.HTTPCapabilities
}
