package log

import (
	"os"
	"sync"

	"github.com/fxamacker/cbor/v2"
)

// FileLogger appends capture events to a file as a CBOR stream.
// The conventional extension is ".events"; Reader and the mixdeck-log
// tool read the format back. Safe for concurrent use.
type FileLogger struct {
	mu   sync.Mutex
	f    *os.File
	enc  *cbor.Encoder
	done bool
}

// NewFileLogger opens path for appending, creating it with mode 0644
// when absent. Events already in the file are kept, so a restarted
// daemon extends its previous capture.
func NewFileLogger(path string) (*FileLogger, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	return &FileLogger{f: f, enc: NewEncoder(f)}, nil
}

// Log appends one event. Write errors are dropped: capture is a
// diagnostic aid and must never disturb the traffic it records.
func (l *FileLogger) Log(event Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.done {
		return
	}
	_ = l.enc.Encode(event)
}

// Close closes the underlying file. Later Log calls become no-ops, and
// calling Close again returns nil.
func (l *FileLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.done {
		return nil
	}
	l.done = true
	return l.f.Close()
}

var _ Logger = (*FileLogger)(nil)
