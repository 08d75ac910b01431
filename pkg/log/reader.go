package log

import (
	"os"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// Filter selects capture events. The zero value selects everything;
// each set field narrows the match.
type Filter struct {
	// Serial keeps only events for this device serial.
	Serial string

	// Direction keeps only inbound or only outbound events.
	Direction *Direction

	// Layer keeps only events from one capture layer.
	Layer *Layer

	// Category keeps only one event category.
	Category *Category

	// TimeStart drops events before this instant.
	TimeStart *time.Time

	// TimeEnd drops events at or after this instant.
	TimeEnd *time.Time
}

// accepts reports whether the event passes every set criterion.
func (f *Filter) accepts(ev Event) bool {
	switch {
	case f.Serial != "" && ev.Serial != f.Serial:
		return false
	case f.Direction != nil && ev.Direction != *f.Direction:
		return false
	case f.Layer != nil && ev.Layer != *f.Layer:
		return false
	case f.Category != nil && ev.Category != *f.Category:
		return false
	case f.TimeStart != nil && ev.Timestamp.Before(*f.TimeStart):
		return false
	case f.TimeEnd != nil && !ev.Timestamp.Before(*f.TimeEnd):
		return false
	}
	return true
}

// Reader streams events out of a capture file one at a time, so large
// captures never need to fit in memory.
type Reader struct {
	src  *os.File
	dec  *cbor.Decoder
	keep Filter
}

// NewReader opens a capture file for reading every event in order.
func NewReader(path string) (*Reader, error) {
	return NewFilteredReader(path, Filter{})
}

// NewFilteredReader opens a capture file and yields only the events
// the filter accepts.
func NewFilteredReader(path string, filter Filter) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return &Reader{src: f, dec: NewDecoder(f), keep: filter}, nil
}

// Next returns the next accepted event. It returns io.EOF once the
// file is exhausted and any other decode error as-is.
func (r *Reader) Next() (Event, error) {
	for {
		// Fresh value each pass: decoded maps omit absent fields, so
		// reusing the struct would leak payloads across events.
		var ev Event
		if err := r.dec.Decode(&ev); err != nil {
			return Event{}, err
		}
		if r.keep.accepts(ev) {
			return ev, nil
		}
	}
}

// Close closes the underlying file.
func (r *Reader) Close() error {
	return r.src.Close()
}
