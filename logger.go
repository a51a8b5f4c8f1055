package hotswap

// Logger defines the interface for structured logging with key-value
// pairs. The registry and the self-healing manager log every mutating
// operation through this interface, so embedding applications can route
// the output wherever they like.
//
// The variadic arguments are alternating keys and values:
//
//	logger.Info("module swapped", "slot", id, "module", m.Name())
//
// This shape is directly compatible with slog, zap's sugared logger,
// logrus, and similar libraries. A no-op logger is used when none is set.
type Logger interface {
	// Info logs normal operational events: loads, swaps, recoveries.
	Info(msg string, args ...any)

	// Error logs failures that abort an operation.
	Error(msg string, args ...any)

	// Warn logs degraded but tolerated conditions, such as a failed
	// best-effort state migration.
	Warn(msg string, args ...any)

	// Debug logs detailed diagnostic information.
	Debug(msg string, args ...any)
}

// noopLogger discards all log output.
type noopLogger struct{}

func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Debug(string, ...any) {}
