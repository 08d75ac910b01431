package mqtt

import (
	"encoding/json"
	"time"

	"github.com/mixdeck-audio/mixdeck-go/pkg/manager"
	"github.com/mixdeck-audio/mixdeck-go/pkg/state"
)

// syncDevices reconciles the bridge against the manager's device list:
// every tracked device gets a feed and a presence topic, departed
// devices get a removed presence. Runs only on the bridge goroutine.
func (b *Bridge) syncDevices() {
	resync := b.resync.Swap(false)

	current := make(map[string]manager.DeviceStatus)
	for _, st := range b.svc.Devices() {
		current[st.Info.Identity.Serial] = st
	}

	b.mu.Lock()
	var stopped []*feed
	for serial, f := range b.feeds {
		if _, ok := current[serial]; !ok {
			f.stop()
			stopped = append(stopped, f)
			delete(b.feeds, serial)
		}
	}
	var started []*feed
	for serial := range current {
		if _, ok := b.feeds[serial]; ok {
			continue
		}
		f := b.newFeed(serial)
		b.feeds[serial] = f
		started = append(started, f)
	}
	b.mu.Unlock()

	for _, f := range started {
		b.wg.Add(1)
		go b.runFeed(f)
	}

	for serial, st := range current {
		b.publishPresence(serial, st, resync)
	}
	for _, f := range stopped {
		b.publishRemoved(f.device)
	}

	if resync {
		for serial := range current {
			if snap, err := b.svc.Snapshot(serial); err == nil {
				b.publishFields(serial, snap.Fields)
			}
		}
	}
}

// publishPresence publishes the device presence topic when the status
// changed since the last publish, or unconditionally on a resync.
func (b *Bridge) publishPresence(serial string, st manager.DeviceStatus, force bool) {
	status := presenceOf(st)

	b.mu.Lock()
	if last, ok := b.presence[serial]; ok && last == status && !force {
		b.mu.Unlock()
		return
	}
	b.presence[serial] = status
	b.mu.Unlock()

	topic := b.topics.deviceStatus(serial)
	if err := b.publishRetained(topic, presencePayload(status, st)); err != nil {
		b.logger.Warn("presence publish failed", "device", serial, "error", err)
		return
	}
	b.logger.Debug("presence published", "device", serial, "status", status)
}

func (b *Bridge) publishRemoved(serial string) {
	b.mu.Lock()
	delete(b.presence, serial)
	b.mu.Unlock()

	topic := b.topics.deviceStatus(serial)
	if err := b.publishRetained(topic, removedPayload()); err != nil {
		b.logger.Warn("presence publish failed", "device", serial, "error", err)
		return
	}
	b.logger.Debug("presence published", "device", serial, "status", "removed")
}

// presenceOf maps a device status to the presence string. A lost
// device within its retention grace shows as retained rather than
// closed.
func presenceOf(st manager.DeviceStatus) string {
	if st.Retained {
		return "retained"
	}
	return st.Phase.String()
}

// presencePayload is the JSON body for a device presence topic.
func presencePayload(status string, st manager.DeviceStatus) []byte {
	body := struct {
		Status    string `json:"status"`
		Kind      string `json:"kind,omitempty"`
		Product   string `json:"product,omitempty"`
		Timestamp string `json:"timestamp"`
	}{
		Status:    status,
		Product:   st.Info.Product,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if st.Kind != state.KindUnknown {
		body.Kind = st.Kind.String()
	}
	data, _ := json.Marshal(body)
	return data
}

func removedPayload() []byte {
	body := struct {
		Status    string `json:"status"`
		Timestamp string `json:"timestamp"`
	}{
		Status:    "removed",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	data, _ := json.Marshal(body)
	return data
}
