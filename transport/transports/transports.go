// Package transports imports all built-in transports for auto-registration.
// Import this package to have every transport registered with the default registry.
package transports

import (
	// Import all transports for side-effect registration
	_ "github.com/drblury/apilog/transport/aws"
	_ "github.com/drblury/apilog/transport/channel"
	_ "github.com/drblury/apilog/transport/http"
	_ "github.com/drblury/apilog/transport/kafka"
	_ "github.com/drblury/apilog/transport/nats"
	_ "github.com/drblury/apilog/transport/rabbitmq"
)
