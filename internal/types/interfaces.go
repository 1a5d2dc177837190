package types

// Logger defines the structured logging interface used throughout the platform.
// It is satisfied by the slog adapter in the cmd entrypoints and by recording
// fakes in tests.
type Logger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
	With(args ...any) Logger
}

// NopLogger is a Logger that discards everything. Useful as a default when a
// component is constructed without an explicit logger.
type NopLogger struct{}

func (NopLogger) Info(string, ...any) {}

func (NopLogger) Error(string, ...any) {}

func (NopLogger) Warn(string, ...any) {}

func (n NopLogger) With(...any) Logger { return n }
