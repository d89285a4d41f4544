// Package transports registers every built-in queue hub broker. Import it for
// its side effect when HubTransport is "queue".
package transports

import (
	_ "github.com/drblury/hubprovider/transport/aws"
	_ "github.com/drblury/hubprovider/transport/channel"
	_ "github.com/drblury/hubprovider/transport/http"
	_ "github.com/drblury/hubprovider/transport/kafka"
	_ "github.com/drblury/hubprovider/transport/nats"
	_ "github.com/drblury/hubprovider/transport/rabbitmq"
)
