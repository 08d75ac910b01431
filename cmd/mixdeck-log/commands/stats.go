package commands

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/mixdeck-audio/mixdeck-go/pkg/log"
	"github.com/mixdeck-audio/mixdeck-go/pkg/protocol"
)

// Stats aggregates a whole capture file.
type Stats struct {
	TotalEvents       int
	EventsByLayer     map[log.Layer]int
	EventsByCategory  map[log.Category]int
	EventsByDirection map[log.Direction]int
	Devices           map[string]*DeviceStats
	Errors            int
	TimeRange         struct {
		Start time.Time
		End   time.Time
	}
}

// DeviceStats aggregates the traffic of one device.
type DeviceStats struct {
	FirstSeen time.Time
	LastSeen  time.Time
	Events    int
	Product   string
	Commands  int
	Resends   int
	Acks      int
	Rejected  int
	Busy      int
	Errors    int

	RTTCount int
	RTTTotal time.Duration
	RTTMax   time.Duration
}

// RunStats aggregates the capture at path and prints a summary.
func RunStats(path string, w io.Writer) error {
	reader, err := log.NewReader(path)
	if err != nil {
		return fmt.Errorf("failed to open capture: %w", err)
	}
	defer reader.Close()

	stats := &Stats{
		EventsByLayer:     make(map[log.Layer]int),
		EventsByCategory:  make(map[log.Category]int),
		EventsByDirection: make(map[log.Direction]int),
		Devices:           make(map[string]*DeviceStats),
	}
	if err := eachEvent(reader, func(event log.Event) error {
		stats.observe(event)
		return nil
	}); err != nil {
		return err
	}

	printStats(w, stats)
	return nil
}

// observe folds one event into the totals.
func (s *Stats) observe(event log.Event) {
	s.TotalEvents++
	s.EventsByLayer[event.Layer]++
	s.EventsByCategory[event.Category]++
	s.EventsByDirection[event.Direction]++

	if s.TimeRange.Start.IsZero() || event.Timestamp.Before(s.TimeRange.Start) {
		s.TimeRange.Start = event.Timestamp
	}
	if event.Timestamp.After(s.TimeRange.End) {
		s.TimeRange.End = event.Timestamp
	}
	if event.Error != nil {
		s.Errors++
	}

	// Daemon-level events carry no serial and get no device bucket.
	if event.Serial != "" {
		s.device(event.Serial, event.Timestamp).observe(event)
	}
}

// device returns the per-device bucket, creating it on first sight.
func (s *Stats) device(serial string, seen time.Time) *DeviceStats {
	dev, ok := s.Devices[serial]
	if !ok {
		dev = &DeviceStats{FirstSeen: seen, LastSeen: seen}
		s.Devices[serial] = dev
	}
	return dev
}

// observe folds one event into the device's counters.
func (d *DeviceStats) observe(event log.Event) {
	d.Events++
	if event.Timestamp.After(d.LastSeen) {
		d.LastSeen = event.Timestamp
	}
	if event.Product != "" && d.Product == "" {
		d.Product = event.Product
	}

	switch {
	case event.Command != nil:
		d.Commands++
		if event.Command.Attempt > 0 {
			d.Resends++
		}
	case event.Ack != nil:
		d.Acks++
		switch event.Ack.Status {
		case protocol.AckRejected:
			d.Rejected++
		case protocol.AckBusy:
			d.Busy++
		}
		if rtt := event.Ack.RoundTrip; rtt != nil {
			d.RTTCount++
			d.RTTTotal += *rtt
			if *rtt > d.RTTMax {
				d.RTTMax = *rtt
			}
		}
	case event.Error != nil:
		d.Errors++
	}
}

type breakdown struct {
	label string
	count int
}

// printBreakdown writes a titled count table, skipping zero rows.
func printBreakdown(w io.Writer, title string, rows []breakdown) {
	fmt.Fprintln(w, title)
	for _, row := range rows {
		if row.count > 0 {
			fmt.Fprintf(w, "  %-12s %d\n", row.label+":", row.count)
		}
	}
	fmt.Fprintln(w)
}

func printStats(w io.Writer, stats *Stats) {
	fmt.Fprintln(w, "=== MixDeck Capture Statistics ===")
	fmt.Fprintln(w)

	if stats.TotalEvents > 0 {
		fmt.Fprintf(w, "Time Range: %s to %s\n",
			stats.TimeRange.Start.Format(time.RFC3339),
			stats.TimeRange.End.Format(time.RFC3339))
		fmt.Fprintf(w, "Duration:   %s\n", stats.TimeRange.End.Sub(stats.TimeRange.Start).Round(time.Second))
		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "Total Events: %d\n", stats.TotalEvents)
	fmt.Fprintln(w)

	printBreakdown(w, "Events by Layer:", []breakdown{
		{log.LayerTransport.String(), stats.EventsByLayer[log.LayerTransport]},
		{log.LayerProtocol.String(), stats.EventsByLayer[log.LayerProtocol]},
		{log.LayerSession.String(), stats.EventsByLayer[log.LayerSession]},
		{log.LayerIPC.String(), stats.EventsByLayer[log.LayerIPC]},
	})
	printBreakdown(w, "Events by Category:", []breakdown{
		{log.CategoryCommand.String(), stats.EventsByCategory[log.CategoryCommand]},
		{log.CategoryAck.String(), stats.EventsByCategory[log.CategoryAck]},
		{log.CategoryTelemetry.String(), stats.EventsByCategory[log.CategoryTelemetry]},
		{log.CategoryState.String(), stats.EventsByCategory[log.CategoryState]},
		{log.CategoryError.String(), stats.EventsByCategory[log.CategoryError]},
	})
	printBreakdown(w, "Events by Direction:", []breakdown{
		{log.DirectionIn.String(), stats.EventsByDirection[log.DirectionIn]},
		{log.DirectionOut.String(), stats.EventsByDirection[log.DirectionOut]},
	})

	printDevices(w, stats.Devices)

	if stats.Errors > 0 {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "Errors: %d\n", stats.Errors)
	}
}

func printDevices(w io.Writer, devices map[string]*DeviceStats) {
	fmt.Fprintf(w, "Devices: %d\n", len(devices))
	if len(devices) == 0 {
		return
	}

	serials := make([]string, 0, len(devices))
	for serial := range devices {
		serials = append(serials, serial)
	}
	sort.Strings(serials)

	fmt.Fprintln(w, "")
	for _, serial := range serials {
		dev := devices[serial]
		duration := dev.LastSeen.Sub(dev.FirstSeen).Round(time.Millisecond)
		fmt.Fprintf(w, "  [%s] %d events, duration %s\n", serial, dev.Events, duration)
		if dev.Product != "" {
			fmt.Fprintf(w, "           Product: %s\n", dev.Product)
		}
		if dev.Commands > 0 {
			fmt.Fprintf(w, "           Commands: %d (%d resends)\n", dev.Commands, dev.Resends)
		}
		if dev.Acks > 0 {
			line := fmt.Sprintf("           Acks: %d", dev.Acks)
			if dev.Rejected > 0 {
				line += fmt.Sprintf(", %d rejected", dev.Rejected)
			}
			if dev.Busy > 0 {
				line += fmt.Sprintf(", %d busy", dev.Busy)
			}
			fmt.Fprintln(w, line)
		}
		if dev.RTTCount > 0 {
			avg := dev.RTTTotal / time.Duration(dev.RTTCount)
			fmt.Fprintf(w, "           RoundTrip: avg %s, max %s\n", humanDuration(avg), humanDuration(dev.RTTMax))
		}
		if dev.Errors > 0 {
			fmt.Fprintf(w, "           Errors: %d\n", dev.Errors)
		}
	}
}
