package log

// Discard drops every message.
var Discard Logger = NoopLogger{}

// NoopLogger implements Logger by discarding all log messages.
type NoopLogger struct{}

// NewNoopLogger returns a logger that discards everything.
func NewNoopLogger() *NoopLogger {
	return &NoopLogger{}
}

func (NoopLogger) Debug(string, ...Field) {}
func (NoopLogger) Info(string, ...Field)  {}
func (NoopLogger) Warn(string, ...Field)  {}
func (NoopLogger) Error(string, ...Field) {}
