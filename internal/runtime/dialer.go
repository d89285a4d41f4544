package runtime

import (
	"context"
	"fmt"

	configpkg "github.com/drblury/hubprovider/internal/runtime/config"
	"github.com/drblury/hubprovider/internal/runtime/hub"
	"github.com/drblury/hubprovider/internal/runtime/hub/grpchub"
	"github.com/drblury/hubprovider/internal/runtime/hub/natshub"
	"github.com/drblury/hubprovider/internal/runtime/hub/queuehub"
	loggingpkg "github.com/drblury/hubprovider/internal/runtime/logging"
	transportpkg "github.com/drblury/hubprovider/transport"
)

// NewHubDialer builds the dialer named by cfg.HubTransport. For the queue
// transport, broker is used when non-nil; otherwise the broker is built from
// cfg.PubSubSystem with the default transport registry, so the matching
// transport package must be imported.
func NewHubDialer(ctx context.Context, cfg *configpkg.Config, log loggingpkg.ServiceLogger, broker *transportpkg.Transport) (hub.Dialer, error) {
	switch cfg.Transport() {
	case configpkg.HubTransportGRPC:
		return grpchub.NewDialer(cfg.HubAddress), nil
	case configpkg.HubTransportNATS:
		return &natshub.Dialer{URL: cfg.HubAddress, SubjectPrefix: cfg.HubSubject}, nil
	case configpkg.HubTransportQueue:
		if broker == nil {
			built, err := transportpkg.Build(ctx, cfg, loggingpkg.NewWatermillAdapter(log))
			if err != nil {
				return nil, fmt.Errorf("build %s broker: %w", cfg.PubSubSystem, err)
			}
			broker = &built
		}
		caps := transportpkg.GetCapabilities(cfg.PubSubSystem)
		log.Info("Using queue hub", loggingpkg.LogFields{
			"pubsub_system":      cfg.PubSubSystem,
			"task_topic":         cfg.TaskTopic,
			"result_topic":       cfg.ResultTopic,
			"shared_consumption": caps.SharedConsumption,
			"reliable_delivery":  caps.SupportsReliableDelivery(),
		})
		if !caps.SharedConsumption {
			log.Info("Broker does not share tasks between instances; run a single provider instance", loggingpkg.LogFields{
				"pubsub_system": cfg.PubSubSystem,
			})
		}
		return queuehub.NewDialer(broker.Publisher, broker.Subscriber, queuehub.Config{
			TaskTopic:   cfg.TaskTopic,
			ResultTopic: cfg.ResultTopic,
			PollWait:    cfg.PollInterval,
		}), nil
	default:
		return nil, fmt.Errorf("hubprovider: unknown hub transport %q", cfg.HubTransport)
	}
}
