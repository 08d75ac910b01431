package transport

import (
	"errors"
	"fmt"
	"time"

	"github.com/mixdeck-audio/mixdeck-go/pkg/state"
)

// USB identity of MixDeck hardware.
const (
	// VendorID is the MixDeck USB vendor ID.
	VendorID uint16 = 0x2BD4

	// ProductStudio is the product ID of the Studio console.
	ProductStudio uint16 = 0x0D01

	// ProductCompact is the product ID of the Compact console.
	ProductCompact uint16 = 0x0D02
)

// KindForProduct maps a USB product ID to the hardware kind.
func KindForProduct(pid uint16) state.Kind {
	switch pid {
	case ProductStudio:
		return state.KindStudio
	case ProductCompact:
		return state.KindCompact
	default:
		return state.KindUnknown
	}
}

// Transport errors.
var (
	// ErrNotFound indicates the identity matches no attached device.
	ErrNotFound = errors.New("device not found")

	// ErrPermissionDenied indicates the OS refused access to the
	// device node.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrBusy indicates the device is already claimed.
	ErrBusy = errors.New("device busy")

	// ErrTimeout indicates no report arrived within the receive
	// timeout.
	ErrTimeout = errors.New("receive timeout")

	// ErrDisconnected indicates the device is gone; the transport is
	// unusable and every call fails with this error.
	ErrDisconnected = errors.New("device disconnected")

	// ErrReportTooLarge indicates a send exceeding the report size.
	ErrReportTooLarge = errors.New("report too large")
)

// Identity names one physical unit across reconnects: the serial
// number when the descriptor carries one, otherwise the platform
// device path.
type Identity struct {
	// Serial is the USB serial number, possibly empty.
	Serial string

	// Path is the platform path of the HID node, the positional
	// fallback when Serial is empty.
	Path string
}

// String returns the stable identity key.
func (id Identity) String() string {
	if id.Serial != "" {
		return id.Serial
	}
	return id.Path
}

// DeviceInfo describes one enumerated device.
type DeviceInfo struct {
	// Identity names the physical unit.
	Identity Identity

	// VendorID and ProductID come from the USB descriptor.
	VendorID  uint16
	ProductID uint16

	// Product is the descriptor's product string.
	Product string
}

// Kind returns the hardware kind implied by the product ID.
func (d DeviceInfo) Kind() state.Kind {
	return KindForProduct(d.ProductID)
}

// String renders the device for logs.
func (d DeviceInfo) String() string {
	return fmt.Sprintf("%s (%04x:%04x %s)", d.Identity, d.VendorID, d.ProductID, d.Product)
}

// Transport moves fixed-size reports to and from one device. A
// transport is owned by exactly one device session and is not shared.
type Transport interface {
	// Info describes the device this transport is attached to.
	Info() DeviceInfo

	// Send writes one report.
	Send(report []byte) error

	// Receive blocks up to timeout for one report.
	Receive(timeout time.Duration) ([]byte, error)

	// Close releases the claim. Idempotent.
	Close() error
}

// Opener opens a transport to an enumerated device.
type Opener interface {
	Open(info DeviceInfo) (Transport, error)
}

// Enumerator lists the currently attached MixDeck devices.
type Enumerator interface {
	Enumerate() ([]DeviceInfo, error)
}

// Compile-time interface satisfaction checks.
var (
	_ Transport  = (*HIDTransport)(nil)
	_ Transport  = (*Pipe)(nil)
	_ Opener     = (*HID)(nil)
	_ Enumerator = (*HID)(nil)
)
