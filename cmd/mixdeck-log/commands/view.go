// Package commands implements the mixdeck-log CLI commands.
package commands

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/mixdeck-audio/mixdeck-go/pkg/log"
)

// ViewFilter narrows which events the view command prints. Zero
// fields match everything.
type ViewFilter struct {
	Serial    string
	Layer     *log.Layer
	Direction *log.Direction
	Category  *log.Category
}

// RunView prints every matching event from the capture at path in a
// human-readable form.
func RunView(path string, filter ViewFilter, output io.Writer) error {
	reader, err := log.NewFilteredReader(path, log.Filter{
		Serial:    filter.Serial,
		Layer:     filter.Layer,
		Direction: filter.Direction,
		Category:  filter.Category,
	})
	if err != nil {
		return fmt.Errorf("failed to open capture: %w", err)
	}
	defer reader.Close()

	return eachEvent(reader, func(event log.Event) error {
		formatEvent(output, event)
		return nil
	})
}

// formatEvent writes one event as a header line followed by indented
// detail lines and a trailing blank.
func formatEvent(w io.Writer, event log.Event) {
	serial := event.Serial
	if serial == "" {
		serial = "-"
	}
	fmt.Fprintf(w, "%s [%s] %-3s %s %s\n",
		event.Timestamp.UTC().Format("2006-01-02T15:04:05.000000Z"),
		serial, event.Direction.String(), event.Layer.String(), eventLabel(event))

	if event.Client != "" {
		fmt.Fprintf(w, "  Client: %s\n", event.Client)
	}

	switch {
	case event.Report != nil:
		writeReport(w, event.Report)
	case event.Command != nil:
		writeCommand(w, event.Command)
	case event.Ack != nil:
		writeAck(w, event.Ack)
	case event.Telemetry != nil:
		writeTelemetry(w, event.Telemetry)
	case event.StateChange != nil:
		writeStateChange(w, event.StateChange)
	case event.Error != nil:
		writeError(w, event.Error)
	}

	fmt.Fprintln(w)
}

// eventLabel names the payload kind for the header line.
func eventLabel(event log.Event) string {
	switch {
	case event.Report != nil:
		return "Report"
	case event.Command != nil:
		return "Command"
	case event.Ack != nil:
		return "Ack"
	case event.Telemetry != nil:
		return "Telemetry"
	case event.StateChange != nil:
		return "State"
	case event.Error != nil:
		return "Error"
	}
	return "Unknown"
}

func writeReport(w io.Writer, report *log.ReportEvent) {
	fmt.Fprintf(w, "  Size: %d bytes\n", report.Size)
	if len(report.Data) > 0 {
		fmt.Fprintf(w, "  Data: %s", hex.EncodeToString(report.Data))
		if report.Truncated {
			fmt.Fprintf(w, " (truncated)")
		}
		fmt.Fprintln(w)
	}
}

func writeCommand(w io.Writer, cmd *log.CommandEvent) {
	fmt.Fprintf(w, "  Seq: %d  Opcode: %s\n", cmd.Seq, cmd.Opcode.String())
	if cmd.Field != "" {
		fmt.Fprintf(w, "  Field: %s = %s\n", cmd.Field, renderValue(cmd.Value))
	}
	if cmd.Attempt > 0 {
		fmt.Fprintf(w, "  Attempt: %d (resend)\n", cmd.Attempt)
	}
}

func writeAck(w io.Writer, ack *log.AckEvent) {
	fmt.Fprintf(w, "  Seq: %d  Opcode: %s\n", ack.Seq, ack.Opcode.String())
	fmt.Fprintf(w, "  Status: %s (%d)\n", ack.Status.String(), ack.Status)
	if ack.RoundTrip != nil {
		fmt.Fprintf(w, "  RoundTrip: %s\n", humanDuration(*ack.RoundTrip))
	}
}

func writeTelemetry(w io.Writer, tel *log.TelemetryEvent) {
	kind := "delta"
	if tel.Full {
		kind = "full"
	}
	fmt.Fprintf(w, "  Kind: %s  Fields: %d\n", kind, tel.Fields)
}

func writeStateChange(w io.Writer, sc *log.StateChangeEvent) {
	fmt.Fprintf(w, "  Entity: %s\n", sc.Entity.String())
	if sc.OldState != "" {
		fmt.Fprintf(w, "  %s -> %s\n", sc.OldState, sc.NewState)
	} else {
		fmt.Fprintf(w, "  -> %s\n", sc.NewState)
	}
	if sc.Reason != "" {
		fmt.Fprintf(w, "  Reason: %s\n", sc.Reason)
	}
}

func writeError(w io.Writer, e *log.ErrorEvent) {
	fmt.Fprintf(w, "  Layer: %s\n", e.Layer.String())
	fmt.Fprintf(w, "  Message: %s\n", e.Message)
	if e.Context != "" {
		fmt.Fprintf(w, "  Context: %s\n", e.Context)
	}
}

// renderValue shows a mutation value. JSON keeps strings quoted so
// "1" and 1 stay distinguishable.
func renderValue(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}

// humanDuration picks the first unit that gives a sub-thousand figure.
func humanDuration(d time.Duration) string {
	switch {
	case d < time.Millisecond:
		return fmt.Sprintf("%.3fus", float64(d.Nanoseconds())/1000)
	case d < time.Second:
		return fmt.Sprintf("%.3fms", float64(d.Microseconds())/1000)
	}
	return fmt.Sprintf("%.3fs", d.Seconds())
}

var layerNames = map[string]log.Layer{
	"transport": log.LayerTransport,
	"protocol":  log.LayerProtocol,
	"session":   log.LayerSession,
	"ipc":       log.LayerIPC,
}

// ParseLayer resolves a case-insensitive layer name from a flag.
func ParseLayer(s string) (log.Layer, error) {
	l, ok := layerNames[strings.ToLower(s)]
	if !ok {
		return 0, fmt.Errorf("unknown layer %q (transport, protocol, session, ipc)", s)
	}
	return l, nil
}

var directionNames = map[string]log.Direction{
	"in":  log.DirectionIn,
	"out": log.DirectionOut,
}

// ParseDirection resolves a case-insensitive direction name from a flag.
func ParseDirection(s string) (log.Direction, error) {
	d, ok := directionNames[strings.ToLower(s)]
	if !ok {
		return 0, fmt.Errorf("unknown direction %q (in, out)", s)
	}
	return d, nil
}

var categoryNames = map[string]log.Category{
	"command":   log.CategoryCommand,
	"ack":       log.CategoryAck,
	"telemetry": log.CategoryTelemetry,
	"state":     log.CategoryState,
	"error":     log.CategoryError,
}

// ParseCategory resolves a case-insensitive category name from a flag.
func ParseCategory(s string) (log.Category, error) {
	c, ok := categoryNames[strings.ToLower(s)]
	if !ok {
		return 0, fmt.Errorf("unknown category %q (command, ack, telemetry, state, error)", s)
	}
	return c, nil
}
