package ipc

import (
	"errors"
	"fmt"
)

// DefaultSocketPath is where the daemon listens when not configured
// otherwise.
const DefaultSocketPath = "/tmp/mixdeckd.sock"

// Client-visible request failures, one per wire status.
var (
	ErrNotFound    = errors.New("not found")
	ErrRejected    = errors.New("rejected")
	ErrBusy        = errors.New("device busy")
	ErrUnavailable = errors.New("device unavailable")
	ErrBadRequest  = errors.New("bad request")
	ErrInternal    = errors.New("internal error")
)

// Op identifies a request operation.
type Op uint8

const (
	OpListDevices Op = 1
	OpGetSnapshot Op = 2
	OpSetField    Op = 3
	OpSubscribe   Op = 4
	OpUnsubscribe Op = 5
	OpPing        Op = 6
	OpDaemonInfo  Op = 7
)

// String returns the operation name.
func (o Op) String() string {
	switch o {
	case OpListDevices:
		return "list-devices"
	case OpGetSnapshot:
		return "get-snapshot"
	case OpSetField:
		return "set-field"
	case OpSubscribe:
		return "subscribe"
	case OpUnsubscribe:
		return "unsubscribe"
	case OpPing:
		return "ping"
	case OpDaemonInfo:
		return "daemon-info"
	default:
		return fmt.Sprintf("Op(%d)", uint8(o))
	}
}

// IsValid reports whether the operation is part of the protocol.
func (o Op) IsValid() bool {
	return o >= OpListDevices && o <= OpDaemonInfo
}

// Status is the server's verdict on a request.
type Status uint8

const (
	StatusOK          Status = 0
	StatusNotFound    Status = 1
	StatusRejected    Status = 2
	StatusBusy        Status = 3
	StatusUnavailable Status = 4
	StatusBadRequest  Status = 5
	StatusInternal    Status = 6
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusNotFound:
		return "not-found"
	case StatusRejected:
		return "rejected"
	case StatusBusy:
		return "busy"
	case StatusUnavailable:
		return "unavailable"
	case StatusBadRequest:
		return "bad-request"
	case StatusInternal:
		return "internal"
	default:
		return fmt.Sprintf("Status(%d)", uint8(s))
	}
}

// Err returns the sentinel error for a non-OK status, nil for OK.
func (s Status) Err() error {
	switch s {
	case StatusOK:
		return nil
	case StatusNotFound:
		return ErrNotFound
	case StatusRejected:
		return ErrRejected
	case StatusBusy:
		return ErrBusy
	case StatusUnavailable:
		return ErrUnavailable
	case StatusBadRequest:
		return ErrBadRequest
	default:
		return ErrInternal
	}
}

// Reason explains why a subscription stream ended. ReasonNone marks a
// regular delta notification.
type Reason uint8

const (
	ReasonNone           Reason = 0
	ReasonDeviceRemoved  Reason = 1
	ReasonServerShutdown Reason = 2
	ReasonUnsubscribed   Reason = 3
)

// String returns the reason name.
func (r Reason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonDeviceRemoved:
		return "device-removed"
	case ReasonServerShutdown:
		return "server-shutdown"
	case ReasonUnsubscribed:
		return "unsubscribed"
	default:
		return fmt.Sprintf("Reason(%d)", uint8(r))
	}
}

// NotificationID is the message ID reserved for notifications.
const NotificationID uint32 = 0

// Request is a client message.
//
// CBOR encoding:
//
//	{
//	  1: id,       // uint32, nonzero, echoed by the response
//	  2: op,       // uint8
//	  3: device,   // text, device serial or path
//	  4: path,     // text, field path for set-field
//	  5: value,    // set-field value
//	  6: sub       // uint32, subscription id for unsubscribe
//	}
type Request struct {
	ID     uint32 `cbor:"1,keyasint"`
	Op     Op     `cbor:"2,keyasint"`
	Device string `cbor:"3,keyasint,omitempty"`
	Path   string `cbor:"4,keyasint,omitempty"`
	Value  any    `cbor:"5,keyasint,omitempty"`
	Sub    uint32 `cbor:"6,keyasint,omitempty"`
}

// Validate checks the request envelope.
func (r *Request) Validate() error {
	if r.ID == NotificationID {
		return fmt.Errorf("message id 0 is reserved for notifications")
	}
	if !r.Op.IsValid() {
		return fmt.Errorf("invalid operation: %d", r.Op)
	}
	return nil
}

// Response is the server's answer to one request.
//
// CBOR encoding:
//
//	{
//	  1: id,        // uint32, matches the request
//	  2: status,    // uint8
//	  3: error,     // text, optional detail for non-OK statuses
//	  4: devices,   // list-devices payload
//	  5: snapshot,  // get-snapshot payload, also primes subscribe
//	  6: sub,       // uint32, subscription id from subscribe
//	  7: info       // daemon-info payload
//	}
type Response struct {
	ID       uint32          `cbor:"1,keyasint"`
	Status   Status          `cbor:"2,keyasint"`
	Error    string          `cbor:"3,keyasint,omitempty"`
	Devices  []DeviceSummary `cbor:"4,keyasint,omitempty"`
	Snapshot *Snapshot       `cbor:"5,keyasint,omitempty"`
	Sub      uint32          `cbor:"6,keyasint,omitempty"`
	Info     *DaemonInfo     `cbor:"7,keyasint,omitempty"`
}

// Err converts a non-OK response into an error carrying the server's
// detail text.
func (r *Response) Err() error {
	base := r.Status.Err()
	if base == nil {
		return nil
	}
	if r.Error != "" {
		return fmt.Errorf("%w: %s", base, r.Error)
	}
	return base
}

// Notification is a subscription stream message. A zero Done carries a
// delta; a nonzero Done terminates the stream.
//
// CBOR encoding:
//
//	{
//	  1: 0,        // message id 0 marks a notification
//	  2: sub,      // uint32
//	  3: device,   // text
//	  4: version,  // uint64, model version after the delta
//	  5: fields,   // map of changed path -> value
//	  6: done      // uint8, terminal reason
//	}
type Notification struct {
	Sub     uint32         `cbor:"2,keyasint"`
	Device  string         `cbor:"3,keyasint,omitempty"`
	Version uint64         `cbor:"4,keyasint,omitempty"`
	Fields  map[string]any `cbor:"5,keyasint,omitempty"`
	Done    Reason         `cbor:"6,keyasint,omitempty"`
}

// DeviceSummary describes one tracked device in a list-devices
// response.
type DeviceSummary struct {
	// Device is the identifier clients pass to the other operations.
	Device   string `cbor:"1,keyasint"`
	Product  string `cbor:"2,keyasint,omitempty"`
	Kind     string `cbor:"3,keyasint,omitempty"`
	Phase    string `cbor:"4,keyasint"`
	Retained bool   `cbor:"5,keyasint,omitempty"`
	Version  uint64 `cbor:"6,keyasint,omitempty"`
}

// Snapshot is a full device state image.
type Snapshot struct {
	Device  string         `cbor:"1,keyasint"`
	Version uint64         `cbor:"2,keyasint"`
	Kind    string         `cbor:"3,keyasint,omitempty"`
	Fields  map[string]any `cbor:"4,keyasint"`
}

// DaemonInfo identifies the daemon build behind the socket.
type DaemonInfo struct {
	Name     string `cbor:"1,keyasint"`
	Version  string `cbor:"2,keyasint"`
	Protocol string `cbor:"3,keyasint"`
}
