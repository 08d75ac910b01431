package mixdeck_test

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/mixdeck-audio/mixdeck-go/pkg/devsim"
	"github.com/mixdeck-audio/mixdeck-go/pkg/ipc"
	"github.com/mixdeck-audio/mixdeck-go/pkg/log"
	"github.com/mixdeck-audio/mixdeck-go/pkg/manager"
	"github.com/mixdeck-audio/mixdeck-go/pkg/profile"
	"github.com/mixdeck-audio/mixdeck-go/pkg/protocol"
	"github.com/mixdeck-audio/mixdeck-go/pkg/state"
)

// stack is a complete daemon for end-to-end tests: a simulated hub, a
// device manager, and an IPC server on a per-test socket. It mirrors
// the wiring cmd/mixdeck-daemon performs.
type stack struct {
	hub  *devsim.Hub
	mgr  *manager.Manager
	srv  *ipc.Server
	sock string
}

// startStack assembles and starts a daemon around cfg. Manager and
// server are shut down on test cleanup; closing them earlier via
// close() is also safe.
func startStack(t *testing.T, cfg manager.Config) *stack {
	t.Helper()

	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))

	s := &stack{
		hub:  devsim.NewHub(),
		sock: filepath.Join(t.TempDir(), "mixdeckd.sock"),
	}
	if cfg.RescanInterval == 0 {
		cfg.RescanInterval = 20 * time.Millisecond
	}
	cfg.Logger = quiet
	s.mgr = manager.New(s.hub, cfg)
	t.Cleanup(func() { s.mgr.Close() })
	s.mgr.Start()

	s.srv = ipc.NewServer(s.mgr, ipc.ServerConfig{
		SocketPath: s.sock,
		Logger:     quiet,
		EventLog:   cfg.EventLog,
	})
	if err := s.srv.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	t.Cleanup(func() { s.srv.Close() })
	return s
}

// close shuts the stack down in daemon order: server first so clients
// see a clean shutdown, then the manager so profiles fold.
func (s *stack) close() {
	s.srv.Close()
	s.mgr.Close()
}

func (s *stack) dial(t *testing.T) *ipc.Client {
	t.Helper()
	c, err := ipc.DialConfig(ipc.ClientConfig{
		SocketPath: s.sock,
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("Failed to dial daemon: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func studioCfg(serial string) devsim.Config {
	return devsim.Config{Serial: serial, Kind: state.KindStudio, Firmware: [3]uint8{1, 0, 0}}
}

// waitPhase polls list-devices until the device reports a phase.
func waitPhase(t *testing.T, c *ipc.Client, device, phase string) ipc.DeviceSummary {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		devices, err := c.ListDevices(context.Background())
		if err != nil {
			t.Fatalf("Failed to list devices: %v", err)
		}
		for _, d := range devices {
			if d.Device == device && d.Phase == phase {
				return d
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("device %s never reached phase %s", device, phase)
	return ipc.DeviceSummary{}
}

// waitRetained polls list-devices until the device is lost but held
// within its grace period.
func waitRetained(t *testing.T, c *ipc.Client, device string) ipc.DeviceSummary {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		devices, err := c.ListDevices(context.Background())
		if err != nil {
			t.Fatalf("Failed to list devices: %v", err)
		}
		for _, d := range devices {
			if d.Device == device && d.Retained {
				return d
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("device %s never became retained", device)
	return ipc.DeviceSummary{}
}

// waitDeviceVolume polls the simulated hardware until a channel fader
// lands on the wanted value.
func waitDeviceVolume(t *testing.T, dev *devsim.Device, channel string, want uint8) {
	t.Helper()
	ci, ok := state.ChannelIndex(channel)
	if !ok {
		t.Fatalf("unknown channel %q", channel)
	}
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if dev.State().Volumes[ci] == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("device volume %s never became %d, got %d", channel, want, dev.State().Volumes[ci])
}

// waitSnapshotValue polls get-snapshot until a field reports a value.
func waitSnapshotValue(t *testing.T, c *ipc.Client, device, path string, want int64) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	var got any
	for time.Now().Before(deadline) {
		snap, err := c.GetSnapshot(context.Background(), device)
		if err == nil {
			got = snap.Fields[path]
			if got == want {
				return
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("snapshot %s of %s never became %d, got %v", path, device, want, got)
}

// TestE2E_LifecycleOverSocket tests that a device stays usable over the
// socket through plug, a hardware-side change, unplug, and replug.
func TestE2E_LifecycleOverSocket(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s := startStack(t, manager.Config{GracePeriod: 10 * time.Second})
	dev := s.hub.Plug(studioCfg("SIM001"))
	c := s.dial(t)

	got := waitPhase(t, c, "SIM001", "ready")
	if got.Product != "MixDeck Studio" {
		t.Errorf("product = %q, want MixDeck Studio", got.Product)
	}
	if got.Kind != "studio" {
		t.Errorf("kind = %q, want studio", got.Kind)
	}

	// A knob turned on the hardware flows back out as a change stream.
	sub, err := c.Subscribe(ctx, "SIM001")
	if err != nil {
		t.Fatalf("Failed to subscribe: %v", err)
	}
	if sub.Snapshot().Fields["info.serial"] != "SIM001" {
		t.Errorf("priming snapshot serial = %v, want SIM001", sub.Snapshot().Fields["info.serial"])
	}

	if err := dev.LocalVolume("music", 80); err != nil {
		t.Fatalf("Failed to turn simulated knob: %v", err)
	}
	for {
		u, err := sub.Next(ctx)
		if err != nil {
			t.Fatalf("Failed to read update: %v", err)
		}
		if v, ok := u.Fields["channel.music.volume"]; ok {
			if v != int64(80) {
				t.Fatalf("music volume update = %v, want 80", v)
			}
			break
		}
	}

	// Unplug: the device is held under grace and stays readable.
	s.hub.Unplug("SIM001")
	st := waitRetained(t, c, "SIM001")
	if st.Phase != "closed" {
		t.Errorf("retained phase = %q, want closed", st.Phase)
	}

	snap, err := c.GetSnapshot(ctx, "SIM001")
	if err != nil {
		t.Fatalf("Failed to snapshot retained device: %v", err)
	}
	if snap.Fields["channel.music.volume"] != int64(80) {
		t.Errorf("retained music volume = %v, want 80", snap.Fields["channel.music.volume"])
	}

	// Replug: the same identity reattaches, versions keep growing, and
	// the folded profile leaves the hardware state alone.
	s.hub.Plug(studioCfg("SIM001"))
	got = waitPhase(t, c, "SIM001", "ready")
	if got.Retained {
		t.Error("reattached device still marked retained")
	}
	if got.Version < snap.Version {
		t.Errorf("version went backwards across replug: %d < %d", got.Version, snap.Version)
	}
	waitSnapshotValue(t, c, "SIM001", "channel.music.volume", 80)
}

// TestE2E_ProfileSurvivesDaemonRestart tests that a profile written by
// one daemon run is pushed back onto a factory-fresh device by the
// next run.
func TestE2E_ProfileSurvivesDaemonRestart(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	store := profile.NewStore(t.TempDir())

	// First run: adjust a fader, then shut down.
	s1 := startStack(t, manager.Config{Store: store})
	dev1 := s1.hub.Plug(studioCfg("SIM001"))
	c1 := s1.dial(t)
	waitPhase(t, c1, "SIM001", "ready")

	if err := c1.SetField(ctx, "SIM001", "channel.game.volume", 90); err != nil {
		t.Fatalf("Failed to set field: %v", err)
	}
	waitDeviceVolume(t, dev1, "game", 90)

	c1.Close()
	s1.close()

	if p, err := store.Load("SIM001"); err != nil || p == nil {
		t.Fatalf("stored profile missing after shutdown: %v", err)
	}

	// Second run: a fresh hub, so the replacement device wakes up with
	// factory defaults. Convergence must restore the saved fader.
	s2 := startStack(t, manager.Config{Store: store})
	dev2 := s2.hub.Plug(studioCfg("SIM001"))
	c2 := s2.dial(t)
	waitPhase(t, c2, "SIM001", "ready")

	waitDeviceVolume(t, dev2, "game", 90)
	waitSnapshotValue(t, c2, "SIM001", "channel.game.volume", 90)
}

// TestE2E_EventLogCapture tests that the capture file written by a
// daemon run replays the traffic that produced it.
func TestE2E_EventLogCapture(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	capture := filepath.Join(t.TempDir(), "daemon.events")
	flog, err := log.NewFileLogger(capture)
	if err != nil {
		t.Fatalf("Failed to create capture logger: %v", err)
	}

	s := startStack(t, manager.Config{EventLog: flog})
	dev := s.hub.Plug(studioCfg("SIM001"))
	c := s.dial(t)
	waitPhase(t, c, "SIM001", "ready")

	if err := c.SetField(ctx, "SIM001", "channel.chat.volume", 42); err != nil {
		t.Fatalf("Failed to set field: %v", err)
	}
	waitDeviceVolume(t, dev, "chat", 42)

	c.Close()
	s.close()
	flog.Close()

	reader, err := log.NewReader(capture)
	if err != nil {
		t.Fatalf("Failed to open capture: %v", err)
	}
	defer reader.Close()

	var sawAttach, sawClient, sawCommand, sawAck bool
	for {
		event, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Failed to read capture event: %v", err)
		}
		switch {
		case event.StateChange != nil &&
			event.StateChange.Entity == log.StateEntityDevice &&
			event.StateChange.NewState == "attached":
			sawAttach = true
		case event.StateChange != nil &&
			event.StateChange.Entity == log.StateEntityClient &&
			event.StateChange.NewState == "connected":
			sawClient = true
		case event.Command != nil && event.Command.Field == "channel.chat.volume":
			if event.Serial != "SIM001" {
				t.Errorf("command serial = %q, want SIM001", event.Serial)
			}
			if event.Direction != log.DirectionOut || event.Layer != log.LayerProtocol {
				t.Errorf("command logged as %s %s, want OUT PROTOCOL",
					event.Direction, event.Layer)
			}
			sawCommand = true
		case event.Ack != nil && event.Ack.Opcode == protocol.OpSetVolume:
			if event.Ack.Status != protocol.AckOK {
				t.Errorf("set-volume ack status = %s, want OK", event.Ack.Status)
			}
			sawAck = true
		}
	}

	if !sawAttach {
		t.Error("capture has no device attach event")
	}
	if !sawClient {
		t.Error("capture has no client connect event")
	}
	if !sawCommand {
		t.Error("capture has no set-field command event")
	}
	if !sawAck {
		t.Error("capture has no set-volume ack event")
	}
}
