package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// Frame geometry.
const (
	// ReportSize is the fixed size of every USB report.
	ReportSize = 1024

	// HeaderSize is the frame header length.
	HeaderSize = 9

	// MaxPayload is the largest payload a report can carry.
	MaxPayload = ReportSize - HeaderSize
)

// Magic identifies MixDeck frames.
var Magic = [4]byte{'M', 'X', 'D', 'K'}

// ErrProtocol is the root of all malformed-frame errors. Every decode
// failure in this package matches it with errors.Is.
var ErrProtocol = errors.New("protocol error")

// Decode errors.
var (
	ErrFrameTooShort = fmt.Errorf("%w: frame shorter than header", ErrProtocol)
	ErrBadMagic      = fmt.Errorf("%w: bad magic", ErrProtocol)
	ErrPayloadLength = fmt.Errorf("%w: payload length exceeds frame", ErrProtocol)
	ErrUnknownOpcode = fmt.Errorf("%w: unknown opcode", ErrProtocol)
	ErrPayloadSize   = fmt.Errorf("%w: wrong payload size for opcode", ErrProtocol)
	ErrBadIndex      = fmt.Errorf("%w: index out of range", ErrProtocol)
	ErrBlobTruncated = fmt.Errorf("%w: state blob truncated", ErrProtocol)
)

// ErrPayloadTooLarge indicates an encode-side payload overflow.
var ErrPayloadTooLarge = errors.New("payload too large for report")

// Opcode identifies a frame's type on the wire.
type Opcode uint8

// Command opcodes (host to device).
const (
	OpGetStatus      Opcode = 0x01
	OpSetFader       Opcode = 0x02
	OpSetVolume      Opcode = 0x03
	OpSetMute        Opcode = 0x04
	OpSetRoute       Opcode = 0x05
	OpSetButton      Opcode = 0x06
	OpSetLightEffect Opcode = 0x07
	OpSetLightColor  Opcode = 0x08
	OpSetEffect      Opcode = 0x09
)

// AckFlag marks acknowledgement opcodes.
const AckFlag Opcode = 0x80

// Telemetry opcodes (device to host, unsolicited).
const (
	OpTelemetryFull  Opcode = 0xE0
	OpTelemetryDelta Opcode = 0xE1

	telemetryLow  Opcode = 0xE0
	telemetryHigh Opcode = 0xEF
)

// IsTelemetry reports whether the opcode is in the reserved
// unsolicited-telemetry range.
func (o Opcode) IsTelemetry() bool {
	return o >= telemetryLow && o <= telemetryHigh
}

// IsAck reports whether the opcode is a command acknowledgement.
// Telemetry opcodes also have the high bit set, so the range check
// comes first.
func (o Opcode) IsAck() bool {
	return !o.IsTelemetry() && o&AckFlag != 0
}

// IsCommand reports whether the opcode is a host-to-device command.
func (o Opcode) IsCommand() bool {
	return o >= OpGetStatus && o <= OpSetEffect
}

// CommandOpcode strips the ack flag, returning the acknowledged
// command's opcode.
func (o Opcode) CommandOpcode() Opcode {
	return o &^ AckFlag
}

// Ack returns the acknowledgement opcode for a command.
func (o Opcode) Ack() Opcode {
	return o | AckFlag
}

// String returns the opcode name.
func (o Opcode) String() string {
	if o.IsAck() {
		return o.CommandOpcode().String() + "Ack"
	}
	switch o {
	case OpGetStatus:
		return "GetStatus"
	case OpSetFader:
		return "SetFader"
	case OpSetVolume:
		return "SetVolume"
	case OpSetMute:
		return "SetMute"
	case OpSetRoute:
		return "SetRoute"
	case OpSetButton:
		return "SetButton"
	case OpSetLightEffect:
		return "SetLightEffect"
	case OpSetLightColor:
		return "SetLightColor"
	case OpSetEffect:
		return "SetEffect"
	case OpTelemetryFull:
		return "TelemetryFull"
	case OpTelemetryDelta:
		return "TelemetryDelta"
	default:
		return fmt.Sprintf("Opcode(0x%02X)", uint8(o))
	}
}

// encodeFrame builds a full zero-padded report.
func encodeFrame(opcode Opcode, seq uint16, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayload {
		return nil, fmt.Errorf("%w: %d > %d", ErrPayloadTooLarge, len(payload), MaxPayload)
	}
	report := make([]byte, ReportSize)
	copy(report[0:4], Magic[:])
	binary.LittleEndian.PutUint16(report[4:6], seq)
	report[6] = byte(opcode)
	binary.LittleEndian.PutUint16(report[7:9], uint16(len(payload)))
	copy(report[HeaderSize:], payload)
	return report, nil
}

// parseFrame validates the header and returns the frame parts. The
// payload aliases the input.
func parseFrame(report []byte) (opcode Opcode, seq uint16, payload []byte, err error) {
	if len(report) < HeaderSize {
		return 0, 0, nil, fmt.Errorf("%w: %d bytes", ErrFrameTooShort, len(report))
	}
	if !bytes.Equal(report[0:4], Magic[:]) {
		return 0, 0, nil, fmt.Errorf("%w: % X", ErrBadMagic, report[0:4])
	}
	seq = binary.LittleEndian.Uint16(report[4:6])
	opcode = Opcode(report[6])
	length := int(binary.LittleEndian.Uint16(report[7:9]))
	if length > len(report)-HeaderSize {
		return 0, 0, nil, fmt.Errorf("%w: %d > %d", ErrPayloadLength, length, len(report)-HeaderSize)
	}
	return opcode, seq, report[HeaderSize : HeaderSize+length], nil
}
