package protocol

import "fmt"

// AckStatus is the status byte of a command acknowledgement.
type AckStatus uint8

const (
	// AckOK indicates the device accepted and applied the command.
	AckOK AckStatus = 0

	// AckRejected indicates the device refused the command value.
	AckRejected AckStatus = 1

	// AckBusy indicates the device could not service the command.
	AckBusy AckStatus = 2
)

// String returns the status name.
func (s AckStatus) String() string {
	switch s {
	case AckOK:
		return "OK"
	case AckRejected:
		return "REJECTED"
	case AckBusy:
		return "BUSY"
	default:
		return fmt.Sprintf("AckStatus(%d)", uint8(s))
	}
}

// Inbound is one decoded device-to-host report. The set is closed:
// *Ack and *Telemetry are the only implementations.
type Inbound interface {
	isInbound()
}

// Ack acknowledges one command, matched by sequence number.
type Ack struct {
	// Seq echoes the command's sequence number.
	Seq uint16

	// Command is the acknowledged command's opcode.
	Command Opcode

	// Status reports whether the device applied the command.
	Status AckStatus

	// Blob carries state attached to the acknowledgement. GetStatus
	// acknowledgements always carry a full blob; others carry none.
	Blob *Blob
}

// Telemetry is an unsolicited state report.
type Telemetry struct {
	// Full distinguishes a complete snapshot from a delta.
	Full bool

	// Blob holds the reported state sections.
	Blob *Blob
}

func (*Ack) isInbound()       {}
func (*Telemetry) isInbound() {}

// Decode parses a device-to-host report into its tagged variant.
// Command opcodes are not valid inbound and fail like any other
// malformed frame.
func Decode(report []byte) (Inbound, error) {
	opcode, seq, payload, err := parseFrame(report)
	if err != nil {
		return nil, err
	}

	switch {
	case opcode.IsTelemetry():
		if opcode != OpTelemetryFull && opcode != OpTelemetryDelta {
			return nil, fmt.Errorf("%w: telemetry 0x%02X", ErrUnknownOpcode, uint8(opcode))
		}
		blob, err := DecodeBlob(payload)
		if err != nil {
			return nil, err
		}
		return &Telemetry{Full: opcode == OpTelemetryFull, Blob: blob}, nil

	case opcode.IsAck():
		cmd := opcode.CommandOpcode()
		if !cmd.IsCommand() {
			return nil, fmt.Errorf("%w: ack for 0x%02X", ErrUnknownOpcode, uint8(cmd))
		}
		if len(payload) < 1 {
			return nil, fmt.Errorf("%w: ack without status byte", ErrPayloadSize)
		}
		ack := &Ack{Seq: seq, Command: cmd, Status: AckStatus(payload[0])}
		if len(payload) > 1 {
			blob, err := DecodeBlob(payload[1:])
			if err != nil {
				return nil, err
			}
			ack.Blob = blob
		}
		return ack, nil

	default:
		return nil, fmt.Errorf("%w: 0x%02X is not valid inbound", ErrUnknownOpcode, uint8(opcode))
	}
}

// EncodeAck renders a command acknowledgement. blob may be nil. This
// is the device side of the codec, used by the simulator.
func EncodeAck(cmd Opcode, seq uint16, status AckStatus, blob *Blob) ([]byte, error) {
	payload := []byte{byte(status)}
	if blob != nil {
		body, err := EncodeBlob(blob)
		if err != nil {
			return nil, err
		}
		payload = append(payload, body...)
	}
	return encodeFrame(cmd.Ack(), seq, payload)
}

// EncodeTelemetry renders an unsolicited state report with sequence
// zero. This is the device side of the codec, used by the simulator.
func EncodeTelemetry(full bool, blob *Blob) ([]byte, error) {
	opcode := OpTelemetryDelta
	if full {
		opcode = OpTelemetryFull
	}
	body, err := EncodeBlob(blob)
	if err != nil {
		return nil, err
	}
	return encodeFrame(opcode, 0, body)
}
