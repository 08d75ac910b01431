// Package log records device traffic as a structured capture stream.
//
// A capture is an ordered sequence of Events taken at several layers of
// the daemon: raw HID reports on the transport, decoded commands, acks
// and telemetry in the protocol, and lifecycle transitions in the
// session. Capture is distinct from operational logging via slog; it
// produces a machine-readable trace of everything exchanged with a
// device, meant for replay and offline analysis.
//
// # Choosing a Logger
//
// The daemon accepts any Logger implementation:
//
//	// Console, through the application slog handler.
//	cfg.EventLog = log.NewSlogAdapter(slog.Default())
//
//	// Binary capture file.
//	cfg.EventLog, _ = log.NewFileLogger("/var/log/mixdeck/daemon.events")
//
//	// Fan out to both at once.
//	fl, _ := log.NewFileLogger("/var/log/mixdeck/daemon.events")
//	cfg.EventLog = log.NewMultiLogger(log.NewSlogAdapter(slog.Default()), fl)
//
// # Event Payloads
//
// Each Event carries exactly one payload matching its Category:
//   - ReportEvent holds raw report bytes from the transport layer
//   - CommandEvent, AckEvent and TelemetryEvent hold decoded protocol
//     traffic
//   - StateChangeEvent holds session, device and client transitions
//   - ErrorEvent holds a failure from any layer
//
// # File Format
//
// Captures use CBOR encoding and the .events extension. The mixdeck-log
// CLI reads them back for inspection and export.
package log
