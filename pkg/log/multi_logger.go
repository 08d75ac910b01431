package log

// MultiLogger fans one event stream out to several sinks, typically a
// capture file plus the application log.
type MultiLogger struct {
	sinks []Logger
}

// NewMultiLogger returns a logger that hands every event to each of
// the given loggers in order.
func NewMultiLogger(loggers ...Logger) *MultiLogger {
	return &MultiLogger{sinks: loggers}
}

// Log forwards the event to every sink.
func (m *MultiLogger) Log(event Event) {
	for _, s := range m.sinks {
		s.Log(event)
	}
}

var _ Logger = (*MultiLogger)(nil)
