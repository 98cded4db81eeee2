package tds

// Logger defines the logging interface for the manager.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Diagnostics receives protocol trace events from connections opened
// with the debug option.
type Diagnostics interface {
	Trace(ev Event)
}

// DiagnosticsFunc adapts a function to the Diagnostics interface.
type DiagnosticsFunc func(ev Event)

// Trace calls f(ev).
func (f DiagnosticsFunc) Trace(ev Event) { f(ev) }

// logDiagnostics writes trace events at debug level.
type logDiagnostics struct {
	logger Logger
}

func (d logDiagnostics) Trace(ev Event) {
	d.logger.Debug("tds trace", "conn_id", ev.ConnID, "message", ev.Message)
}
