package log

import (
	"time"

	"github.com/mixdeck-audio/mixdeck-go/pkg/protocol"
)

// Event is a single record in a capture stream. Every layer of the
// daemon emits events through a Logger; integer CBOR keys keep the
// on-disk form compact.
type Event struct {
	// Timestamp is the wall-clock time the event was recorded.
	Timestamp time.Time `cbor:"1,keyasint"`

	// Serial identifies the device the event belongs to.
	Serial string `cbor:"2,keyasint"`

	// Direction indicates report flow relative to the daemon.
	Direction Direction `cbor:"3,keyasint"`

	// Layer is the stack level that produced the event.
	Layer Layer `cbor:"4,keyasint"`

	// Category is the coarse event kind, and says which payload
	// field below is set.
	Category Category `cbor:"5,keyasint"`

	// Product is the descriptor product string, when known.
	Product string `cbor:"6,keyasint,omitempty"`

	// Client identifies the IPC connection for client lifecycle events.
	Client string `cbor:"7,keyasint,omitempty"`

	// Exactly one payload is set, matching Category.
	Report      *ReportEvent      `cbor:"10,keyasint,omitempty"` // Transport layer
	Command     *CommandEvent     `cbor:"11,keyasint,omitempty"` // Protocol layer (outbound)
	Ack         *AckEvent         `cbor:"12,keyasint,omitempty"` // Protocol layer (inbound)
	Telemetry   *TelemetryEvent   `cbor:"13,keyasint,omitempty"` // Protocol layer (unsolicited)
	StateChange *StateChangeEvent `cbor:"14,keyasint,omitempty"` // Session lifecycle
	Error       *ErrorEvent       `cbor:"15,keyasint,omitempty"` // Faults at any layer
}

// Direction indicates the direction of report flow.
type Direction uint8

const (
	// DirectionIn indicates a report received from the device.
	DirectionIn Direction = 0
	// DirectionOut indicates a report sent to the device.
	DirectionOut Direction = 1
)

// String returns "IN" or "OUT".
func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "IN"
	case DirectionOut:
		return "OUT"
	default:
		return "UNKNOWN"
	}
}

// Layer indicates which layer captured the event.
type Layer uint8

const (
	// LayerTransport is the report layer (raw bytes).
	LayerTransport Layer = 0
	// LayerProtocol is the codec layer (decoded frames).
	LayerProtocol Layer = 1
	// LayerSession is the device session layer.
	LayerSession Layer = 2
	// LayerIPC is the local client server layer.
	LayerIPC Layer = 3
)

// String returns the display label.
func (l Layer) String() string {
	switch l {
	case LayerTransport:
		return "TRANSPORT"
	case LayerProtocol:
		return "PROTOCOL"
	case LayerSession:
		return "SESSION"
	case LayerIPC:
		return "IPC"
	default:
		return "UNKNOWN"
	}
}

// Category is the coarse kind of a capture event.
type Category uint8

const (
	// CategoryCommand indicates an outbound command frame.
	CategoryCommand Category = 0
	// CategoryAck indicates an inbound acknowledgement frame.
	CategoryAck Category = 1
	// CategoryTelemetry indicates an unsolicited telemetry frame.
	CategoryTelemetry Category = 2
	// CategoryState indicates a lifecycle state change.
	CategoryState Category = 3
	// CategoryError indicates a captured failure.
	CategoryError Category = 4
)

// String returns the display label.
func (c Category) String() string {
	switch c {
	case CategoryCommand:
		return "COMMAND"
	case CategoryAck:
		return "ACK"
	case CategoryTelemetry:
		return "TELEMETRY"
	case CategoryState:
		return "STATE"
	case CategoryError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ReportEvent captures raw report bytes at the transport layer.
type ReportEvent struct {
	// Size is the report size in bytes.
	Size int `cbor:"1,keyasint"`

	// Data is the raw report (may be truncated for large reports).
	Data []byte `cbor:"2,keyasint,omitempty"`

	// Truncated reports whether Data was cut at the capture limit.
	Truncated bool `cbor:"3,keyasint,omitempty"`
}

// CommandEvent captures a decoded outbound command.
type CommandEvent struct {
	// Seq is the sequence number carried by the frame.
	Seq uint16 `cbor:"1,keyasint"`

	// Opcode identifies the command.
	Opcode protocol.Opcode `cbor:"2,keyasint"`

	// Field is the state path the command mutates, empty for reads.
	Field string `cbor:"3,keyasint,omitempty"`

	// Value is the mutation value, when applicable.
	Value any `cbor:"4,keyasint,omitempty"`

	// Attempt counts retransmissions (0 for the first send).
	Attempt int `cbor:"5,keyasint,omitempty"`
}

// AckEvent captures a decoded inbound acknowledgement.
type AckEvent struct {
	// Seq is the sequence number the ack echoes.
	Seq uint16 `cbor:"1,keyasint"`

	// Opcode is the command opcode being acknowledged.
	Opcode protocol.Opcode `cbor:"2,keyasint"`

	// Status is the device's verdict.
	Status protocol.AckStatus `cbor:"3,keyasint"`

	// RoundTrip is measured from command send to ack receipt. On
	// the wire it is an integer nanosecond count.
	RoundTrip *time.Duration `cbor:"4,keyasint,omitempty"`
}

// TelemetryEvent captures an unsolicited state report from the device.
type TelemetryEvent struct {
	// Full indicates a full snapshot rather than a delta.
	Full bool `cbor:"1,keyasint"`

	// Fields is the number of state fields the report carried.
	Fields int `cbor:"2,keyasint"`
}

// StateChangeEvent captures session and device lifecycle events.
type StateChangeEvent struct {
	// Entity says whether a session, device, or client changed.
	Entity StateEntity `cbor:"1,keyasint"`

	// OldState is empty when the entity is first seen.
	OldState string `cbor:"2,keyasint,omitempty"`

	// NewState is the state entered.
	NewState string `cbor:"3,keyasint"`

	// Reason carries the trigger, such as an error string on
	// disconnect.
	Reason string `cbor:"4,keyasint,omitempty"`
}

// StateEntity is the subject of a StateChangeEvent.
type StateEntity uint8

const (
	// StateEntitySession indicates a session phase change.
	StateEntitySession StateEntity = 0
	// StateEntityDevice indicates a device attach or detach.
	StateEntityDevice StateEntity = 1
	// StateEntityClient indicates an IPC client connect or disconnect.
	StateEntityClient StateEntity = 2
)

// String returns the display label.
func (s StateEntity) String() string {
	switch s {
	case StateEntitySession:
		return "SESSION"
	case StateEntityDevice:
		return "DEVICE"
	case StateEntityClient:
		return "CLIENT"
	default:
		return "UNKNOWN"
	}
}

// ErrorEvent records a failure along with where it happened.
type ErrorEvent struct {
	// Layer is where the failure happened.
	Layer Layer `cbor:"1,keyasint"`

	// Message is the error text.
	Message string `cbor:"2,keyasint"`

	// Context names the operation that failed, when known.
	Context string `cbor:"3,keyasint,omitempty"`
}
