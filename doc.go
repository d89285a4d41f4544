// Package hubprovider runs worker "providers" for a central task hub. A
// provider registers named actions, connects to the hub with its name and
// auth token, and loops: poll a task, validate its payload and account
// against the action's schemas, run the handler under an execution timeout
// and a rate limit, wrap the outcome in an Envelope and submit it back.
//
// A minimal provider fills Config, calls NewProvider, registers actions with
// RegisterAction and calls Run. Run keeps going through hub outages with
// exponential backoff and returns once its context is cancelled or Stop is
// called; the task in flight finishes first.
//
// # Hubs
//
// Config.HubTransport selects how the provider reaches the hub:
//   - grpc: unary GetTask / SubmitTaskResult calls (default)
//   - nats: request/reply on a subject prefix
//   - queue: a Watermill broker carrying task and result topics
//
// The queue hub builds its broker from the transport registry. Import
// transport/transports, or a single broker package, to register them:
// channel, kafka, rabbitmq, nats, http and aws (SNS/SQS).
//
// # Actions
//
// Handlers receive an ActionContext bound to the parameters they declare.
// Typed wraps a handler that wants decoded structs instead of maps. Schemas
// are built with the *Schema helpers or parsed from a nested map with
// ParseSchema.
//
// # Rate limiting
//
// Every action may carry its own RateLimitMonitor, checked before the
// provider-wide one from Config.RateLimit. Monitors are fixed delay,
// threshold bucket, sliding window or shared. Shared monitors keep their
// usage in memory, SQLite or PostgreSQL so several processes split one
// budget. A limit is reported to the hub as an envelope with status "limit",
// not as a failure.
//
// # Middleware and hooks
//
// Action middleware wraps the handler call (logging and tracing by default);
// TaskHooks observe every task start, success and failure. Prometheus
// metrics and a JSON status API are served when enabled in Config.
package hubprovider
