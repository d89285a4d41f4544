package logging

import "maps"

// LogFields represents structured logging key/value pairs.
type LogFields map[string]any

// With returns a copy of the fields extended with extra. Neither input is mutated.
func (f LogFields) With(extra LogFields) LogFields {
	if len(extra) == 0 {
		return f
	}
	merged := make(LogFields, len(f)+len(extra))
	maps.Copy(merged, f)
	maps.Copy(merged, extra)
	return merged
}

// ServiceLogger is the logging contract used throughout the provider runtime.
// It maps onto Watermill's LoggerAdapter so the same logger can be handed to
// broker transports, and adapters exist for slog, zap and entry-style loggers.
type ServiceLogger interface {
	With(fields LogFields) ServiceLogger
	Debug(msg string, fields LogFields)
	Info(msg string, fields LogFields)
	Error(msg string, err error, fields LogFields)
	Trace(msg string, fields LogFields)
}

// NopLogger returns a ServiceLogger that discards everything.
func NopLogger() ServiceLogger {
	return nopLogger{}
}

type nopLogger struct{}

func (n nopLogger) With(LogFields) ServiceLogger  { return n }
func (nopLogger) Debug(string, LogFields)        {}
func (nopLogger) Info(string, LogFields)         {}
func (nopLogger) Error(string, error, LogFields) {}
func (nopLogger) Trace(string, LogFields)        {}
