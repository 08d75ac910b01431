package log

// Logger receives capture events from the daemon's sessions, manager,
// and IPC server. Implementations must be safe for concurrent use and
// should return quickly; a slow sink stalls the goroutine that
// produced the event.
type Logger interface {
	Log(Event)
}

// NoopLogger drops every event. The zero value is ready to use and
// stands in wherever capture is switched off.
type NoopLogger struct{}

// Log does nothing.
func (NoopLogger) Log(Event) {}

var _ Logger = NoopLogger{}
