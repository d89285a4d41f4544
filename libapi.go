package hubprovider

import (
	runtimepkg "github.com/drblury/hubprovider/internal/runtime"
	configpkg "github.com/drblury/hubprovider/internal/runtime/config"
	"github.com/drblury/hubprovider/internal/runtime/envelope"
	errspkg "github.com/drblury/hubprovider/internal/runtime/errors"
	handlerpkg "github.com/drblury/hubprovider/internal/runtime/handlers"
	"github.com/drblury/hubprovider/internal/runtime/hub"
	"github.com/drblury/hubprovider/internal/runtime/hub/grpchub"
	idspkg "github.com/drblury/hubprovider/internal/runtime/ids"
	"github.com/drblury/hubprovider/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/hubprovider/internal/runtime/logging"
	metadatapkg "github.com/drblury/hubprovider/internal/runtime/metadata"
	"github.com/drblury/hubprovider/internal/runtime/ratelimit"
	"github.com/drblury/hubprovider/internal/runtime/schema"
	transportpkg "github.com/drblury/hubprovider/transport"
)

type (
	Config               = configpkg.Config
	Provider             = runtimepkg.Provider
	ProviderDependencies = runtimepkg.ProviderDependencies
	ProviderStats        = runtimepkg.ProviderStats
	LoopState            = runtimepkg.LoopState
	BackoffPolicy        = runtimepkg.BackoffPolicy
	Metrics              = runtimepkg.Metrics

	ActionRegistration = runtimepkg.ActionRegistration
	ActionInfo         = runtimepkg.ActionInfo
	ActionStats        = runtimepkg.ActionStats

	Handler       = handlerpkg.Handler
	ActionContext = handlerpkg.ActionContext
	ProviderInfo  = handlerpkg.ProviderInfo
	Param         = handlerpkg.Param

	TypedContext[P any, A any]        = handlerpkg.TypedContext[P, A]
	TypedHandler[P any, A any, R any] = handlerpkg.TypedHandler[P, A, R]

	ActionFunc             = runtimepkg.ActionFunc
	ActionMiddleware       = runtimepkg.ActionMiddleware
	Invocation             = runtimepkg.Invocation
	MiddlewareBuilder      = runtimepkg.MiddlewareBuilder
	MiddlewareRegistration = runtimepkg.MiddlewareRegistration

	TaskContext = runtimepkg.TaskContext
	TaskHooks   = runtimepkg.TaskHooks

	ErrorClassifier = runtimepkg.ErrorClassifier
	ErrorCategory   = runtimepkg.ErrorCategory

	SchemaNode = schema.Node
	SchemaType = schema.Type

	Envelope       = envelope.Envelope
	EnvelopeData   = envelope.Data
	EnvelopeStatus = envelope.Status

	Task          = hub.Task
	Identity      = hub.Identity
	RateLimitInfo = hub.RateLimitInfo
	HubClient     = hub.Client
	HubDialer     = hub.Dialer
	HubDialerFunc = hub.DialerFunc
	MemoryHub     = hub.MemoryHub
	HubBackend    = grpchub.Backend

	RateLimitConfig   = ratelimit.Config
	RateLimitMonitor  = ratelimit.Monitor
	RateLimitDecision = ratelimit.Decision
	RateLimitStore    = ratelimit.Store
	ThresholdConfig   = ratelimit.ThresholdConfig
	LimitedError      = ratelimit.LimitedError

	Metadata = metadatapkg.Metadata

	LogFields                 = loggingpkg.LogFields
	ServiceLogger             = loggingpkg.ServiceLogger
	EntryLogger               = loggingpkg.EntryLogger
	EntryLoggerAdapter[T any] = loggingpkg.EntryLoggerAdapter[T]

	ConfigValidationError = errspkg.ConfigValidationError
	DuplicateActionError  = errspkg.DuplicateActionError
	ActionNotFoundError   = errspkg.ActionNotFoundError
	InvalidPayloadError   = errspkg.InvalidPayloadError
	InvalidAccountError   = errspkg.InvalidAccountError
	TimeoutError          = errspkg.TimeoutError
	ConnectionError       = errspkg.ConnectionError
	AuthenticationError   = errspkg.AuthenticationError

	Transport             = transportpkg.Transport
	TransportBuilder      = transportpkg.Builder
	TransportConfig       = transportpkg.Config
	TransportRegistry     = transportpkg.Registry
	TransportCapabilities = transportpkg.Capabilities
)

var (
	NewProvider     = runtimepkg.NewProvider
	NewHubDialer    = runtimepkg.NewHubDialer
	NewMetrics      = runtimepkg.NewMetrics
	ValidateConfig  = configpkg.ValidateConfig
	LoadConfig      = configpkg.Load
	NewConfigViper  = configpkg.NewViper
	ConfigFromViper = configpkg.FromViper

	BackoffPolicyFromConfig = runtimepkg.BackoffPolicyFromConfig

	DefaultMiddlewares   = runtimepkg.DefaultMiddlewares
	LogActionsMiddleware = runtimepkg.LogActionsMiddleware
	TracerMiddleware     = runtimepkg.TracerMiddleware

	LoggingHooks  = runtimepkg.LoggingHooks
	MetricsHooks  = runtimepkg.MetricsHooks
	AlertingHooks = runtimepkg.AlertingHooks

	ToMap = handlerpkg.ToMap

	AnySchema       = schema.Any
	PrimitiveSchema = schema.Primitive
	FieldsSchema    = schema.Fields
	ListSchema      = schema.ListOf
	OptionalSchema  = schema.Optional
	ParseSchema     = schema.Parse
	MustParseSchema = schema.MustParse
	ValidateValue   = schema.Validate

	NewRateLimiter        = ratelimit.New
	NewNoLimit            = ratelimit.NewNoLimit
	NewFixedDelay         = ratelimit.NewFixedDelay
	NewThresholdBucket    = ratelimit.NewThresholdBucket
	NewSlidingWindow      = ratelimit.NewSlidingWindow
	NewSharedRateLimiter  = ratelimit.NewShared
	NewMemoryRateStore    = ratelimit.NewMemoryStore
	OpenSQLRateStore      = ratelimit.OpenSQLStore
	NewReconfigurableRate = ratelimit.NewReconfigurable
	AsLimited             = ratelimit.AsLimited

	NewMemoryHub     = hub.NewMemoryHub
	SignalTask       = hub.SignalTask
	NewGRPCHubServer = grpchub.NewServer

	UnmarshalEnvelope = envelope.Unmarshal

	DefaultTransportRegistry = transportpkg.DefaultRegistry
	RegisterTransport        = transportpkg.Register
	BuildTransport           = transportpkg.Build
	GetCapabilities          = transportpkg.GetCapabilities

	Marshal       = jsoncodec.Marshal
	MarshalIndent = jsoncodec.MarshalIndent
	Unmarshal     = jsoncodec.Unmarshal
	Encode        = jsoncodec.Encode
	Decode        = jsoncodec.Decode

	ErrProviderRequired    = errspkg.ErrProviderRequired
	ErrHandlerRequired     = errspkg.ErrHandlerRequired
	ErrActionNameRequired  = errspkg.ErrActionNameRequired
	ErrConfigRequired      = errspkg.ErrConfigRequired
	ErrLoggerRequired      = errspkg.ErrLoggerRequired
	ErrDialerRequired      = errspkg.ErrDialerRequired
	ErrRegistrationClosed  = errspkg.ErrRegistrationClosed
	ErrAlreadyRunning      = errspkg.ErrAlreadyRunning
	ErrChannelClosed       = errspkg.ErrChannelClosed
	ErrUnknownRateStrategy = errspkg.ErrUnknownRateStrategy
	IsBrokenChannel        = errspkg.IsBrokenChannel

	NewZapServiceLogger  = loggingpkg.NewZapServiceLogger
	NewSlogServiceLogger = loggingpkg.NewSlogServiceLogger
	NopLogger            = loggingpkg.NopLogger

	NewMetadata = metadatapkg.New

	CreateULID  = idspkg.CreateULID
	ExecutionID = idspkg.ExecutionID
)

// Envelope statuses.
const (
	StatusSuccess = envelope.StatusSuccess
	StatusError   = envelope.StatusError
	StatusLimit   = envelope.StatusLimit
)

// Handler parameters an action can declare.
const (
	ParamPayload  = handlerpkg.ParamPayload
	ParamAccount  = handlerpkg.ParamAccount
	ParamLogger   = handlerpkg.ParamLogger
	ParamProvider = handlerpkg.ParamProvider
	ParamTask     = handlerpkg.ParamTask
)

// Primitive schema types.
const (
	TypeString  = schema.String
	TypeInteger = schema.Integer
	TypeNumber  = schema.Number
	TypeBoolean = schema.Boolean
	TypeObject  = schema.Object
	TypeList    = schema.List
	TypeNull    = schema.Null
)

const (
	StrategyNone          = ratelimit.StrategyNone
	StrategyFixedDelay    = ratelimit.StrategyFixedDelay
	StrategyThreshold     = ratelimit.StrategyThreshold
	StrategySlidingWindow = ratelimit.StrategySlidingWindow
	StrategyShared        = ratelimit.StrategyShared
)

const (
	StateDisconnected = runtimepkg.StateDisconnected
	StateConnecting   = runtimepkg.StateConnecting
	StatePolling      = runtimepkg.StatePolling
	StateExecuting    = runtimepkg.StateExecuting
	StateSubmitting   = runtimepkg.StateSubmitting
	StateStopping     = runtimepkg.StateStopping
	StateStopped      = runtimepkg.StateStopped
)

const (
	HubTransportGRPC  = configpkg.HubTransportGRPC
	HubTransportNATS  = configpkg.HubTransportNATS
	HubTransportQueue = configpkg.HubTransportQueue
)

// Error category constants for ErrorClassifier.
const (
	ErrorCategoryNone       = runtimepkg.ErrorCategoryNone
	ErrorCategoryValidation = runtimepkg.ErrorCategoryValidation
	ErrorCategoryTimeout    = runtimepkg.ErrorCategoryTimeout
	ErrorCategoryHandler    = runtimepkg.ErrorCategoryHandler
	ErrorCategoryOther      = runtimepkg.ErrorCategoryOther
)

// Typed adapts a handler working on decoded structs into a Handler.
func Typed[P any, A any, R any](h TypedHandler[P, A, R]) Handler {
	return handlerpkg.Typed(h)
}

func NewEntryServiceLogger[T EntryLoggerAdapter[T]](entry T) ServiceLogger {
	return loggingpkg.NewEntryServiceLogger(entry)
}
