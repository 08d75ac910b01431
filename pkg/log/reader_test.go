package log

import (
	"errors"
	"io"
	"path/filepath"
	"testing"
	"time"
)

// writeTestLog writes a fixed sequence of events and returns the path.
func writeTestLog(t *testing.T) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "capture.events")
	logger, err := NewFileLogger(path)
	if err != nil {
		t.Fatalf("NewFileLogger failed: %v", err)
	}

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	events := []Event{
		{
			Timestamp: base,
			Serial:    "MD-0001",
			Direction: DirectionOut,
			Layer:     LayerProtocol,
			Category:  CategoryCommand,
			Command:   &CommandEvent{Seq: 1, Field: "fader.a"},
		},
		{
			Timestamp: base.Add(time.Second),
			Serial:    "MD-0001",
			Direction: DirectionIn,
			Layer:     LayerProtocol,
			Category:  CategoryAck,
			Ack:       &AckEvent{Seq: 1},
		},
		{
			Timestamp: base.Add(2 * time.Second),
			Serial:    "MD-0002",
			Direction: DirectionIn,
			Layer:     LayerProtocol,
			Category:  CategoryTelemetry,
			Telemetry: &TelemetryEvent{Full: false, Fields: 1},
		},
		{
			Timestamp: base.Add(3 * time.Second),
			Serial:    "MD-0001",
			Direction: DirectionIn,
			Layer:     LayerSession,
			Category:  CategoryState,
			StateChange: &StateChangeEvent{
				Entity:   StateEntitySession,
				NewState: "ready",
			},
		},
	}
	for _, e := range events {
		logger.Log(e)
	}
	logger.Close()

	return path
}

func readAll(t *testing.T, r *Reader) []Event {
	t.Helper()

	var events []Event
	for {
		event, err := r.Next()
		if errors.Is(err, io.EOF) {
			return events
		}
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		events = append(events, event)
	}
}

func TestReaderReadsAllEvents(t *testing.T) {
	path := writeTestLog(t)

	r, err := NewReader(path)
	if err != nil {
		t.Fatalf("NewReader failed: %v", err)
	}
	defer r.Close()

	events := readAll(t, r)
	if len(events) != 4 {
		t.Fatalf("expected 4 events, got %d", len(events))
	}
	if events[0].Command == nil || events[0].Command.Field != "fader.a" {
		t.Errorf("first event not the expected command: %+v", events[0])
	}
}

func TestReaderFilterBySerial(t *testing.T) {
	path := writeTestLog(t)

	r, err := NewFilteredReader(path, Filter{Serial: "MD-0002"})
	if err != nil {
		t.Fatalf("NewFilteredReader failed: %v", err)
	}
	defer r.Close()

	events := readAll(t, r)
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].Telemetry == nil {
		t.Error("expected the telemetry event")
	}
}

func TestReaderFilterByCategory(t *testing.T) {
	path := writeTestLog(t)

	category := CategoryAck
	r, err := NewFilteredReader(path, Filter{Category: &category})
	if err != nil {
		t.Fatalf("NewFilteredReader failed: %v", err)
	}
	defer r.Close()

	events := readAll(t, r)
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].Ack == nil || events[0].Ack.Seq != 1 {
		t.Errorf("expected the ack for seq 1, got %+v", events[0])
	}
}

func TestReaderFilterByDirection(t *testing.T) {
	path := writeTestLog(t)

	direction := DirectionIn
	r, err := NewFilteredReader(path, Filter{Direction: &direction})
	if err != nil {
		t.Fatalf("NewFilteredReader failed: %v", err)
	}
	defer r.Close()

	events := readAll(t, r)
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
}

func TestReaderFilterByTimeWindow(t *testing.T) {
	path := writeTestLog(t)

	start := time.Date(2025, 6, 1, 12, 0, 1, 0, time.UTC)
	end := time.Date(2025, 6, 1, 12, 0, 3, 0, time.UTC)
	r, err := NewFilteredReader(path, Filter{TimeStart: &start, TimeEnd: &end})
	if err != nil {
		t.Fatalf("NewFilteredReader failed: %v", err)
	}
	defer r.Close()

	events := readAll(t, r)
	if len(events) != 2 {
		t.Fatalf("expected 2 events in window, got %d", len(events))
	}
}

func TestReaderCombinedFilter(t *testing.T) {
	path := writeTestLog(t)

	layer := LayerSession
	r, err := NewFilteredReader(path, Filter{Serial: "MD-0001", Layer: &layer})
	if err != nil {
		t.Fatalf("NewFilteredReader failed: %v", err)
	}
	defer r.Close()

	events := readAll(t, r)
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].StateChange == nil || events[0].StateChange.NewState != "ready" {
		t.Errorf("expected the session state change, got %+v", events[0])
	}
}

func TestReaderMissingFile(t *testing.T) {
	_, err := NewReader(filepath.Join(t.TempDir(), "absent.events"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}
