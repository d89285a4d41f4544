/*
Package runtime implements the provider: a worker that pulls tasks from a hub,
executes registered actions and reports a normalised envelope for each one.

# Task flow

Run connects to the hub through a hub.Dialer and loops:

	connect -> poll -> dispatch -> submit -> (pipelined task | poll)

Connection and poll failures are retried with exponential backoff that never
gives up. A broken channel closes the client and re-enters the connecting
state. A hub rate limit signal, either as a poll answer or as a rate_limited
pseudo task returned on submit, makes the loop wait before polling again.

Dispatch resolves the action, validates payload and account against their
schemas, consults the action-level and provider-level rate limit monitors,
binds the declared parameters into a handlers.ActionContext and runs the
handler through the middleware chain under the execution timeout. Every
outcome, including unknown actions, panics and timeouts, becomes an
envelope.Envelope; Dispatch never fails.

# Files

  - provider.go: Provider construction and dependencies
  - registration.go: action registration
  - dispatch.go: validation, rate limiting, supervision and envelopes
  - loop.go: the connect/poll/submit state machine
  - middleware.go, hooks.go: extension points around handler calls
  - models.go, resources.go: per-action statistics
  - metrics.go: Prometheus collectors
  - statusapi.go: HTTP status endpoints
  - dialer.go: hub dialers built from configuration

# Sub-packages

  - config/: provider configuration with validation and viper loading
  - envelope/: the response envelope
  - errors/: sentinel errors and error types
  - handlers/: action context, parameter binding and typed handlers
  - hub/: the hub client contract, an in-memory hub and the gRPC, NATS and queue adapters
  - ids/: ULID generation for execution ids
  - jsoncodec/: JSON encoding
  - logging/: logger interface and adapters
  - metadata/: message metadata for the queue hub
  - ratelimit/: rate limit monitors and their stores
  - schema/: payload schema declaration and validation
*/
package runtime
