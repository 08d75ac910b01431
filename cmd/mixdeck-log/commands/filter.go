package commands

import (
	"fmt"
	"time"

	"github.com/mixdeck-audio/mixdeck-go/pkg/log"
)

// FilterOptions selects which events the filter command keeps.
type FilterOptions struct {
	Output    string
	Serial    string
	TimeStart string
	TimeEnd   string
	Layer     string
	Direction string
	Category  string
}

// criteria translates the flag strings into a capture filter.
func (o FilterOptions) criteria() (log.Filter, error) {
	f := log.Filter{Serial: o.Serial}

	if o.TimeStart != "" {
		t, err := time.Parse(time.RFC3339, o.TimeStart)
		if err != nil {
			return f, fmt.Errorf("invalid time-start format: %w", err)
		}
		f.TimeStart = &t
	}
	if o.TimeEnd != "" {
		t, err := time.Parse(time.RFC3339, o.TimeEnd)
		if err != nil {
			return f, fmt.Errorf("invalid time-end format: %w", err)
		}
		f.TimeEnd = &t
	}
	if o.Layer != "" {
		l, err := ParseLayer(o.Layer)
		if err != nil {
			return f, err
		}
		f.Layer = &l
	}
	if o.Direction != "" {
		d, err := ParseDirection(o.Direction)
		if err != nil {
			return f, err
		}
		f.Direction = &d
	}
	if o.Category != "" {
		c, err := ParseCategory(o.Category)
		if err != nil {
			return f, err
		}
		f.Category = &c
	}
	return f, nil
}

// RunFilter copies the events matching the options into a new capture
// file, keeping their original order.
func RunFilter(path string, opts FilterOptions) error {
	criteria, err := opts.criteria()
	if err != nil {
		return err
	}

	reader, err := log.NewFilteredReader(path, criteria)
	if err != nil {
		return fmt.Errorf("failed to open capture: %w", err)
	}
	defer reader.Close()

	out, err := log.NewFileLogger(opts.Output)
	if err != nil {
		return fmt.Errorf("failed to create output capture: %w", err)
	}
	defer out.Close()

	kept := 0
	if err := eachEvent(reader, func(event log.Event) error {
		out.Log(event)
		kept++
		return nil
	}); err != nil {
		return err
	}

	fmt.Printf("Wrote %d events to %s\n", kept, opts.Output)
	return nil
}
