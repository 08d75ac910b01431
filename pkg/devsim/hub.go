package devsim

import (
	"fmt"
	"sort"
	"sync"

	"github.com/mixdeck-audio/mixdeck-go/pkg/state"
	"github.com/mixdeck-audio/mixdeck-go/pkg/transport"
)

// Hub is a virtual USB bus of simulated devices. It implements the
// transport Opener and Enumerator, so everything above the transport
// runs against it unchanged.
type Hub struct {
	mu      sync.Mutex
	devices map[string]*Device
	plugged map[string]bool
	claimed map[string]bool
}

// Compile-time interface satisfaction checks.
var (
	_ transport.Opener     = (*Hub)(nil)
	_ transport.Enumerator = (*Hub)(nil)
	_ transport.Transport  = (*hubTransport)(nil)
)

// NewHub returns an empty bus.
func NewHub() *Hub {
	return &Hub{
		devices: make(map[string]*Device),
		plugged: make(map[string]bool),
		claimed: make(map[string]bool),
	}
}

// Plug attaches a device to the bus. Re-plugging a known serial
// returns the existing device with its register file intact.
func (h *Hub) Plug(cfg Config) *Device {
	h.mu.Lock()
	defer h.mu.Unlock()

	d, ok := h.devices[cfg.Serial]
	if !ok {
		d = NewDevice(cfg)
		h.devices[cfg.Serial] = d
	}
	h.plugged[cfg.Serial] = true
	return d
}

// Unplug cuts the device's transport mid-flight and removes it from
// enumeration. Its state survives for the next Plug.
func (h *Hub) Unplug(serial string) {
	h.mu.Lock()
	d := h.devices[serial]
	delete(h.plugged, serial)
	delete(h.claimed, serial)
	h.mu.Unlock()

	if d != nil {
		d.stop()
	}
}

// Device returns the simulated device for a serial.
func (h *Hub) Device(serial string) (*Device, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	d, ok := h.devices[serial]
	return d, ok
}

// Enumerate lists the plugged devices, ordered by serial.
func (h *Hub) Enumerate() ([]transport.DeviceInfo, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var out []transport.DeviceInfo
	for serial := range h.plugged {
		out = append(out, deviceInfo(h.devices[serial]))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Identity.Serial < out[j].Identity.Serial
	})
	return out, nil
}

// Open claims a device and wires it to a fresh pipe pair.
func (h *Hub) Open(info transport.DeviceInfo) (transport.Transport, error) {
	key := info.Identity.Serial

	h.mu.Lock()
	d, ok := h.devices[key]
	if !ok || !h.plugged[key] {
		h.mu.Unlock()
		return nil, fmt.Errorf("open %s: %w", info.Identity, transport.ErrNotFound)
	}
	if h.claimed[key] {
		h.mu.Unlock()
		return nil, fmt.Errorf("open %s: %w", info.Identity, transport.ErrBusy)
	}
	h.claimed[key] = true
	h.mu.Unlock()

	host, device := transport.NewPipe(deviceInfo(d))
	d.start(device)
	return &hubTransport{Pipe: host, hub: h, key: key}, nil
}

func (h *Hub) release(key string) {
	h.mu.Lock()
	delete(h.claimed, key)
	h.mu.Unlock()
}

// hubTransport releases the hub claim when the host side closes.
type hubTransport struct {
	*transport.Pipe
	hub  *Hub
	key  string
	once sync.Once
}

func (t *hubTransport) Close() error {
	t.once.Do(func() { t.hub.release(t.key) })
	return t.Pipe.Close()
}

func deviceInfo(d *Device) transport.DeviceInfo {
	pid := transport.ProductStudio
	product := "MixDeck Studio"
	if d.kind == state.KindCompact {
		pid = transport.ProductCompact
		product = "MixDeck Compact"
	}
	return transport.DeviceInfo{
		Identity:  transport.Identity{Serial: d.serial, Path: "sim:" + d.serial},
		VendorID:  transport.VendorID,
		ProductID: pid,
		Product:   product,
	}
}
