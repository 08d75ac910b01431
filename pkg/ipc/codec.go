package ipc

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

var (
	// encMode encodes deterministically with integer keys.
	encMode = mustEncMode()

	// decMode is lenient for forward compatibility and converts
	// integers to int64 so decoded field values match the state
	// registry's normalized form.
	decMode = mustDecMode()
)

func mustEncMode() cbor.EncMode {
	em, err := cbor.EncOptions{
		Sort:          cbor.SortCanonical,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
		Time:          cbor.TimeUnix,
	}.EncMode()
	if err != nil {
		panic(fmt.Sprintf("ipc: encoder mode: %v", err))
	}
	return em
}

func mustDecMode() cbor.DecMode {
	dm, err := cbor.DecOptions{
		DupMapKey:         cbor.DupMapKeyQuiet,
		IndefLength:       cbor.IndefLengthAllowed,
		IntDec:            cbor.IntDecConvertSigned,
		ExtraReturnErrors: cbor.ExtraDecErrorNone,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("ipc: decoder mode: %v", err))
	}
	return dm
}

// Marshal encodes v with the package's canonical encoder.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes data into v with the package's lenient decoder.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// EncodeRequest encodes a request message.
func EncodeRequest(req *Request) ([]byte, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}
	return Marshal(req)
}

// DecodeRequest decodes and validates a request message.
func DecodeRequest(data []byte) (*Request, error) {
	var req Request
	if err := Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("decode request: %w", err)
	}
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}
	return &req, nil
}

// EncodeResponse encodes a response message.
func EncodeResponse(resp *Response) ([]byte, error) {
	if resp.ID == NotificationID {
		return nil, fmt.Errorf("response id 0 is reserved for notifications")
	}
	return Marshal(resp)
}

// DecodeResponse decodes a response message.
func DecodeResponse(data []byte) (*Response, error) {
	var resp Response
	if err := Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &resp, nil
}

// notificationWire is the on-wire shape of a push notification. The
// ID slot always carries the reserved zero, which is how subscribers
// tell pushes apart from responses on a shared connection.
type notificationWire struct {
	ID      uint32         `cbor:"1,keyasint"`
	Sub     uint32         `cbor:"2,keyasint"`
	Device  string         `cbor:"3,keyasint,omitempty"`
	Version uint64         `cbor:"4,keyasint,omitempty"`
	Fields  map[string]any `cbor:"5,keyasint,omitempty"`
	Done    Reason         `cbor:"6,keyasint,omitempty"`
}

// EncodeNotification encodes a notification with the reserved zero
// message ID.
func EncodeNotification(n *Notification) ([]byte, error) {
	return Marshal(notificationWire{
		ID:      NotificationID,
		Sub:     n.Sub,
		Device:  n.Device,
		Version: n.Version,
		Fields:  n.Fields,
		Done:    n.Done,
	})
}

// DecodeNotification decodes a notification message.
func DecodeNotification(data []byte) (*Notification, error) {
	var nw notificationWire
	if err := Unmarshal(data, &nw); err != nil {
		return nil, fmt.Errorf("decode notification: %w", err)
	}
	if nw.ID != NotificationID {
		return nil, fmt.Errorf("not a notification: message id %d", nw.ID)
	}
	return &Notification{
		Sub:     nw.Sub,
		Device:  nw.Device,
		Version: nw.Version,
		Fields:  nw.Fields,
		Done:    nw.Done,
	}, nil
}

// IsNotification reports whether the frame carries the reserved zero
// message ID, without fully decoding it.
func IsNotification(data []byte) bool {
	var peek struct {
		ID uint32 `cbor:"1,keyasint"`
	}
	if err := Unmarshal(data, &peek); err != nil {
		return false
	}
	return peek.ID == NotificationID
}
