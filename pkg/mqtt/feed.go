package mqtt

import (
	"context"
	"encoding/json"

	"github.com/mixdeck-audio/mixdeck-go/pkg/state"
)

// feed pumps one device's state changes onto its retained state
// topics.
type feed struct {
	device string
	ctx    context.Context
	cancel context.CancelFunc
}

func (b *Bridge) newFeed(device string) *feed {
	ctx, cancel := context.WithCancel(b.ctx)
	return &feed{device: device, ctx: ctx, cancel: cancel}
}

func (f *feed) stop() { f.cancel() }

// runFeed publishes the current snapshot and then follows the device's
// watcher until the device goes away or the bridge shuts down.
func (b *Bridge) runFeed(f *feed) {
	defer b.wg.Done()
	defer b.removeFeed(f)

	w, err := b.svc.Watch(f.device)
	if err != nil {
		b.logger.Warn("watch failed", "device", f.device, "error", err)
		return
	}
	defer w.Close()

	// Snapshot after Watch so changes landing in between buffer in the
	// watcher instead of getting lost. A change covered by both just
	// republishes the same retained value.
	if snap, err := b.svc.Snapshot(f.device); err == nil {
		b.publishFields(f.device, snap.Fields)
	}

	for {
		change, err := w.Next(f.ctx)
		if err != nil {
			return
		}
		b.publishFields(f.device, change.Fields)
	}
}

// removeFeed drops the feed's registration and pokes the sync so a
// device whose watcher died while still listed gets a fresh feed.
func (b *Bridge) removeFeed(f *feed) {
	b.mu.Lock()
	if b.feeds[f.device] == f {
		delete(b.feeds, f.device)
	}
	b.mu.Unlock()
	b.requestSync()
}

// publishFields publishes one retained JSON value per field path.
// Failures are dropped: the resync after the next reconnect repairs
// the retained topics.
func (b *Bridge) publishFields(device string, fields map[state.Field]any) {
	for path, value := range fields {
		payload, err := json.Marshal(value)
		if err != nil {
			b.logger.Warn("unencodable field", "device", device, "path", string(path), "error", err)
			continue
		}
		topic := b.topics.deviceState(device, string(path))
		if err := b.publishRetained(topic, payload); err != nil {
			b.logger.Debug("state publish failed", "device", device, "path", string(path), "error", err)
		}
	}
}
