package ipc

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"
)

func TestFrameWriterReader(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
	}{
		{name: "small frame", payload: []byte("hello")},
		{name: "single byte", payload: []byte{0x42}},
		{name: "binary data", payload: []byte{0x00, 0xFF, 0x7F, 0x80}},
		{name: "kilobyte frame", payload: bytes.Repeat([]byte("x"), 1024)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := new(bytes.Buffer)

			writer := NewFrameWriter(buf)
			if err := writer.WriteFrame(tt.payload); err != nil {
				t.Fatalf("WriteFrame failed: %v", err)
			}

			if buf.Len() != LengthPrefixSize+len(tt.payload) {
				t.Errorf("frame size = %d, want %d", buf.Len(), LengthPrefixSize+len(tt.payload))
			}

			reader := NewFrameReader(buf)
			got, err := reader.ReadFrame()
			if err != nil {
				t.Fatalf("ReadFrame failed: %v", err)
			}
			if !bytes.Equal(got, tt.payload) {
				t.Errorf("payload mismatch: got %d bytes, want %d bytes", len(got), len(tt.payload))
			}
		})
	}
}

func TestFrameWriterEmpty(t *testing.T) {
	writer := NewFrameWriter(new(bytes.Buffer))

	if err := writer.WriteFrame(nil); !errors.Is(err, ErrFrameEmpty) {
		t.Errorf("expected ErrFrameEmpty for nil, got %v", err)
	}
	if err := writer.WriteFrame([]byte{}); !errors.Is(err, ErrFrameEmpty) {
		t.Errorf("expected ErrFrameEmpty, got %v", err)
	}
}

func TestFrameWriterTooLarge(t *testing.T) {
	writer := NewFrameWriterWithMaxSize(new(bytes.Buffer), 100)

	err := writer.WriteFrame(bytes.Repeat([]byte("x"), 101))
	if !errors.Is(err, ErrFrameTooLarge) {
		t.Errorf("expected ErrFrameTooLarge, got %v", err)
	}
}

func TestFrameReaderTooLarge(t *testing.T) {
	buf := new(bytes.Buffer)

	var lengthBuf [LengthPrefixSize]byte
	binary.BigEndian.PutUint32(lengthBuf[:], 1000)
	buf.Write(lengthBuf[:])
	buf.Write(bytes.Repeat([]byte("x"), 1000))

	reader := NewFrameReaderWithMaxSize(buf, 100)
	if _, err := reader.ReadFrame(); !errors.Is(err, ErrFrameTooLarge) {
		t.Errorf("expected ErrFrameTooLarge, got %v", err)
	}
}

func TestFrameReaderZeroLength(t *testing.T) {
	buf := new(bytes.Buffer)

	var lengthBuf [LengthPrefixSize]byte
	buf.Write(lengthBuf[:])

	reader := NewFrameReader(buf)
	if _, err := reader.ReadFrame(); !errors.Is(err, ErrFrameEmpty) {
		t.Errorf("expected ErrFrameEmpty, got %v", err)
	}
}

func TestFrameReaderTruncated(t *testing.T) {
	t.Run("length prefix", func(t *testing.T) {
		reader := NewFrameReader(bytes.NewReader([]byte{0x00, 0x01}))
		if _, err := reader.ReadFrame(); !errors.Is(err, ErrFrameTruncated) {
			t.Errorf("expected ErrFrameTruncated, got %v", err)
		}
	})

	t.Run("payload", func(t *testing.T) {
		buf := new(bytes.Buffer)
		var lengthBuf [LengthPrefixSize]byte
		binary.BigEndian.PutUint32(lengthBuf[:], 100)
		buf.Write(lengthBuf[:])
		buf.Write(bytes.Repeat([]byte("x"), 50))

		reader := NewFrameReader(buf)
		if _, err := reader.ReadFrame(); !errors.Is(err, ErrFrameTruncated) {
			t.Errorf("expected ErrFrameTruncated, got %v", err)
		}
	})
}

func TestFrameReaderEOF(t *testing.T) {
	reader := NewFrameReader(new(bytes.Buffer))
	if _, err := reader.ReadFrame(); err != io.EOF {
		t.Errorf("expected io.EOF, got %v", err)
	}
}

func TestMultipleFrames(t *testing.T) {
	buf := new(bytes.Buffer)
	writer := NewFrameWriter(buf)

	frames := [][]byte{
		[]byte("first"),
		[]byte("second"),
		[]byte("third"),
	}
	for _, f := range frames {
		if err := writer.WriteFrame(f); err != nil {
			t.Fatalf("WriteFrame failed: %v", err)
		}
	}

	reader := NewFrameReader(buf)
	for i, want := range frames {
		got, err := reader.ReadFrame()
		if err != nil {
			t.Fatalf("ReadFrame %d failed: %v", i, err)
		}
		if !bytes.Equal(got, want) {
			t.Errorf("frame %d mismatch: got %q, want %q", i, got, want)
		}
	}

	if _, err := reader.ReadFrame(); err != io.EOF {
		t.Errorf("expected EOF after all frames, got %v", err)
	}
}
