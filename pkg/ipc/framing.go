package ipc

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
)

const (
	// LengthPrefixSize is the number of bytes in the frame header.
	LengthPrefixSize = 4

	// DefaultMaxFrame is the default maximum frame payload (1 MiB). A
	// full snapshot of the largest device fits with a wide margin.
	DefaultMaxFrame = 1 << 20
)

// Errors returned by the framing layer.
var (
	// ErrFrameTooLarge means a payload exceeds the frame limit.
	ErrFrameTooLarge = errors.New("frame too large")

	// ErrFrameEmpty means a frame carried no payload.
	ErrFrameEmpty = errors.New("frame is empty")

	// ErrFrameTruncated means the stream ended inside a frame.
	ErrFrameTruncated = errors.New("frame truncated")
)

// FrameWriter emits length-prefixed frames on a byte stream: a 4-byte
// big-endian payload count followed by the payload. Safe for
// concurrent use.
type FrameWriter struct {
	mu  sync.Mutex
	dst io.Writer
	max uint32
}

// NewFrameWriter returns a writer enforcing the default frame limit.
func NewFrameWriter(w io.Writer) *FrameWriter {
	return NewFrameWriterWithMaxSize(w, DefaultMaxFrame)
}

// NewFrameWriterWithMaxSize returns a writer enforcing a caller-chosen
// frame limit.
func NewFrameWriterWithMaxSize(w io.Writer, maxSize uint32) *FrameWriter {
	return &FrameWriter{dst: w, max: maxSize}
}

// WriteFrame sends one frame. Header and payload go out in a single
// Write call.
func (w *FrameWriter) WriteFrame(payload []byte) error {
	if len(payload) == 0 {
		return ErrFrameEmpty
	}
	if uint32(len(payload)) > w.max {
		return fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, len(payload), w.max)
	}

	frame := make([]byte, LengthPrefixSize+len(payload))
	binary.BigEndian.PutUint32(frame, uint32(len(payload)))
	copy(frame[LengthPrefixSize:], payload)

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.dst.Write(frame); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// FrameReader extracts length-prefixed frames from a byte stream. Each
// connection owns one reader; it is not safe for concurrent use.
type FrameReader struct {
	src  io.Reader
	max  uint32
	head [LengthPrefixSize]byte
}

// NewFrameReader returns a reader enforcing the default frame limit.
func NewFrameReader(r io.Reader) *FrameReader {
	return NewFrameReaderWithMaxSize(r, DefaultMaxFrame)
}

// NewFrameReaderWithMaxSize returns a reader enforcing a caller-chosen
// frame limit.
func NewFrameReaderWithMaxSize(r io.Reader, maxSize uint32) *FrameReader {
	return &FrameReader{src: r, max: maxSize}
}

// ReadFrame returns the next payload. io.EOF passes through untouched
// at a frame boundary; a stream that ends inside a frame yields
// ErrFrameTruncated instead.
func (r *FrameReader) ReadFrame() ([]byte, error) {
	if _, err := io.ReadFull(r.src, r.head[:]); err != nil {
		switch {
		case err == io.EOF:
			return nil, io.EOF
		case errors.Is(err, io.ErrUnexpectedEOF):
			return nil, ErrFrameTruncated
		default:
			return nil, fmt.Errorf("read frame header: %w", err)
		}
	}

	n := binary.BigEndian.Uint32(r.head[:])
	switch {
	case n == 0:
		return nil, ErrFrameEmpty
	case n > r.max:
		return nil, fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, n, r.max)
	}

	payload := make([]byte, n)
	if _, err := io.ReadFull(r.src, payload); err != nil {
		if err == io.EOF || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrFrameTruncated
		}
		return nil, fmt.Errorf("read frame payload: %w", err)
	}
	return payload, nil
}
