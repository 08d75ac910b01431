package transport

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sstallion/go-hid"

	"github.com/mixdeck-audio/mixdeck-go/pkg/protocol"
)

// HID enumerates and opens MixDeck consoles through the hidapi
// bindings. One HID value tracks every claim held by this process, so
// a second open of a unit that is already attached to a session fails
// with ErrBusy before the device node is touched.
type HID struct {
	mu     sync.Mutex
	claims map[string]bool
}

// NewHID initializes the hidapi library and returns an opener.
func NewHID() (*HID, error) {
	if err := hid.Init(); err != nil {
		return nil, fmt.Errorf("hid init: %w", err)
	}
	return &HID{claims: make(map[string]bool)}, nil
}

// Close releases the hidapi library. Transports opened through this
// value must be closed first.
func (h *HID) Close() error {
	return hid.Exit()
}

// Enumerate lists the attached MixDeck consoles, both models.
func (h *HID) Enumerate() ([]DeviceInfo, error) {
	var devices []DeviceInfo
	err := hid.Enumerate(VendorID, hid.ProductIDAny, func(info *hid.DeviceInfo) error {
		if info.ProductID != ProductStudio && info.ProductID != ProductCompact {
			return nil
		}
		devices = append(devices, DeviceInfo{
			Identity: Identity{
				Serial: info.SerialNbr,
				Path:   info.Path,
			},
			VendorID:  info.VendorID,
			ProductID: info.ProductID,
			Product:   info.ProductStr,
		})
		return nil
	})
	if err != nil {
		// hid_enumerate reports an empty match set the same way it
		// reports failure. No collected devices means no devices.
		if len(devices) == 0 {
			return nil, nil
		}
		return nil, fmt.Errorf("hid enumerate: %w", err)
	}
	return devices, nil
}

// Open claims the device and returns a transport attached to it.
func (h *HID) Open(info DeviceInfo) (Transport, error) {
	key := info.Identity.String()

	h.mu.Lock()
	if h.claims[key] {
		h.mu.Unlock()
		return nil, fmt.Errorf("open %s: %w", info.Identity, ErrBusy)
	}
	h.claims[key] = true
	h.mu.Unlock()

	dev, err := hid.OpenPath(info.Identity.Path)
	if err != nil {
		h.release(key)
		return nil, h.openError(info, err)
	}

	return &HIDTransport{info: info, dev: dev, owner: h, key: key}, nil
}

func (h *HID) release(key string) {
	h.mu.Lock()
	delete(h.claims, key)
	h.mu.Unlock()
}

// openError classifies an open failure. hidapi surfaces a bare
// message, so classification leans on the message text and on whether
// the unit is still enumerable.
func (h *HID) openError(info DeviceInfo, err error) error {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "permission") || strings.Contains(msg, "access") {
		return fmt.Errorf("open %s: %w", info.Identity, ErrPermissionDenied)
	}

	if devices, enumErr := h.Enumerate(); enumErr == nil {
		present := false
		for _, d := range devices {
			if d.Identity.String() == info.Identity.String() {
				present = true
				break
			}
		}
		if !present {
			return fmt.Errorf("open %s: %w", info.Identity, ErrNotFound)
		}
	}

	// Still attached but unopenable: another process holds it.
	return fmt.Errorf("open %s (%s): %w", info.Identity, err, ErrBusy)
}

// HIDTransport is a Transport over one open hidapi handle. Send and
// Receive may run concurrently; hidapi serializes access per handle.
type HIDTransport struct {
	info  DeviceInfo
	owner *HID
	key   string
	dev   *hid.Device

	mu           sync.Mutex
	closed       bool
	disconnected bool
}

func (t *HIDTransport) Info() DeviceInfo {
	return t.info
}

func (t *HIDTransport) Send(report []byte) error {
	if len(report) > protocol.ReportSize {
		return fmt.Errorf("%w: %d bytes", ErrReportTooLarge, len(report))
	}
	if err := t.usable(); err != nil {
		return err
	}

	if _, err := t.dev.Write(report); err != nil {
		t.markDisconnected()
		return fmt.Errorf("send %s: %w", t.info.Identity, ErrDisconnected)
	}
	return nil
}

func (t *HIDTransport) Receive(timeout time.Duration) ([]byte, error) {
	if err := t.usable(); err != nil {
		return nil, err
	}

	buf := make([]byte, protocol.ReportSize)
	n, err := t.dev.ReadWithTimeout(buf, timeout)
	if err != nil {
		t.markDisconnected()
		return nil, fmt.Errorf("receive %s: %w", t.info.Identity, ErrDisconnected)
	}
	if n == 0 {
		return nil, ErrTimeout
	}
	return buf[:n], nil
}

func (t *HIDTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	t.owner.release(t.key)
	if err := t.dev.Close(); err != nil {
		return fmt.Errorf("close %s: %w", t.info.Identity, err)
	}
	return nil
}

func (t *HIDTransport) usable() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.disconnected || t.closed {
		return ErrDisconnected
	}
	return nil
}

func (t *HIDTransport) markDisconnected() {
	t.mu.Lock()
	t.disconnected = true
	t.mu.Unlock()
}
