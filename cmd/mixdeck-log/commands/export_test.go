package commands

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mixdeck-audio/mixdeck-go/pkg/log"
	"github.com/mixdeck-audio/mixdeck-go/pkg/protocol"
)

// writeCaptureFixture writes events to a fresh capture file and
// returns its path.
func writeCaptureFixture(t *testing.T, events []log.Event) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fixture.events")

	logger, err := log.NewFileLogger(path)
	if err != nil {
		t.Fatalf("NewFileLogger: %v", err)
	}
	for _, e := range events {
		logger.Log(e)
	}
	logger.Close()
	return path
}

// exportToFile runs RunExport into a temp file and returns the output.
func exportToFile(t *testing.T, capture, format string) string {
	t.Helper()
	outPath := filepath.Join(t.TempDir(), "out."+format)
	if err := RunExport(capture, format, outPath); err != nil {
		t.Fatalf("RunExport(%s): %v", format, err)
	}
	data, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatalf("read export: %v", err)
	}
	return string(data)
}

func TestExportJSONL(t *testing.T) {
	ts := time.Date(2026, 2, 3, 9, 30, 12, 123456000, time.UTC)
	events := []log.Event{
		{
			Timestamp: ts,
			Serial:    "S201D7HX",
			Direction: log.DirectionOut,
			Layer:     log.LayerProtocol,
			Category:  log.CategoryCommand,
			Command: &log.CommandEvent{
				Seq:    42,
				Opcode: protocol.OpSetVolume,
				Field:  "channel.game.volume",
				Value:  128,
			},
		},
		{
			Timestamp: ts.Add(time.Second),
			Serial:    "S201D7HX",
			Direction: log.DirectionIn,
			Layer:     log.LayerProtocol,
			Category:  log.CategoryAck,
			Ack: &log.AckEvent{
				Seq:    42,
				Opcode: protocol.OpSetVolume.Ack(),
				Status: protocol.AckOK,
			},
		},
	}

	output := exportToFile(t, writeCaptureFixture(t, events), "jsonl")

	lines := strings.Split(strings.TrimSpace(output), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}

	var first map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("line 1 is not JSON: %v", err)
	}
	if first["Serial"] != "S201D7HX" {
		t.Errorf("Serial = %v, want S201D7HX", first["Serial"])
	}
}

func TestExportCSVHeader(t *testing.T) {
	events := []log.Event{
		{
			Timestamp: time.Date(2026, 2, 3, 9, 30, 12, 0, time.UTC),
			Serial:    "S201D7HX",
			Direction: log.DirectionIn,
			Layer:     log.LayerTransport,
			Category:  log.CategoryTelemetry,
			Report:    &log.ReportEvent{Size: 64, Data: []byte{0x4d, 0x58}},
		},
	}

	output := exportToFile(t, writeCaptureFixture(t, events), "csv")

	if !strings.HasPrefix(output, "timestamp,serial,direction,layer,category") {
		t.Errorf("expected CSV header, got: %.50s", output)
	}
	if lines := strings.Split(output, "\n"); len(lines) < 2 {
		t.Errorf("CSV output has %d lines, want header plus a row", len(lines))
	}
}

func TestExportCSVColumns(t *testing.T) {
	events := []log.Event{
		{
			Timestamp: time.Date(2026, 2, 3, 9, 30, 12, 0, time.UTC),
			Serial:    "S201D7HX",
			Direction: log.DirectionOut,
			Layer:     log.LayerProtocol,
			Category:  log.CategoryCommand,
			Command: &log.CommandEvent{
				Seq:    7,
				Opcode: protocol.OpSetMute,
				Field:  "channel.mic.mute",
				Value:  true,
			},
		},
	}

	output := exportToFile(t, writeCaptureFixture(t, events), "csv")

	for _, want := range []string{"command", "SetMute", "channel.mic.mute"} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %q in output, got:\n%s", want, output)
		}
	}
}

func TestExportStdout(t *testing.T) {
	events := []log.Event{
		{
			Timestamp: time.Date(2026, 2, 3, 9, 30, 12, 0, time.UTC),
			Serial:    "S201D7HX",
			Direction: log.DirectionIn,
			Layer:     log.LayerTransport,
			Category:  log.CategoryTelemetry,
			Report:    &log.ReportEvent{Size: 64},
		},
	}
	path := writeCaptureFixture(t, events)

	// An empty output path routes the export to stdout.
	saved := os.Stdout
	r, w, _ := os.Pipe()
	os.Stdout = w

	err := RunExport(path, "jsonl", "")

	w.Close()
	os.Stdout = saved

	if err != nil {
		t.Fatalf("RunExport: %v", err)
	}

	var buf bytes.Buffer
	buf.ReadFrom(r)
	if buf.Len() == 0 {
		t.Error("expected output on stdout")
	}
}

func TestExportUnknownFormat(t *testing.T) {
	path := writeCaptureFixture(t, []log.Event{
		{Timestamp: time.Date(2026, 2, 3, 9, 30, 12, 0, time.UTC), Serial: "S201D7HX", Report: &log.ReportEvent{Size: 64}},
	})

	err := RunExport(path, "xml", filepath.Join(t.TempDir(), "out.xml"))
	if err == nil {
		t.Fatal("expected error for unknown format")
	}
	if !strings.Contains(err.Error(), "unknown format") {
		t.Errorf("RunExport error = %v, want unknown format", err)
	}
}
