package devsim

import (
	"errors"
	"testing"
	"time"

	"github.com/mixdeck-audio/mixdeck-go/pkg/protocol"
	"github.com/mixdeck-audio/mixdeck-go/pkg/state"
	"github.com/mixdeck-audio/mixdeck-go/pkg/transport"
)

func studioCfg(serial string) Config {
	return Config{Serial: serial, Kind: state.KindStudio, Firmware: [3]uint8{1, 4, 2}}
}

// openDevice plugs cfg into the hub and opens its transport.
func openDevice(t *testing.T, hub *Hub, cfg Config) (*Device, transport.Transport) {
	t.Helper()

	dev := hub.Plug(cfg)
	infos, err := hub.Enumerate()
	if err != nil {
		t.Fatalf("Enumerate: %v", err)
	}
	for _, info := range infos {
		if info.Identity.Serial != cfg.Serial {
			continue
		}
		tr, err := hub.Open(info)
		if err != nil {
			t.Fatalf("Open(%s): %v", info, err)
		}
		t.Cleanup(func() { tr.Close() })
		return dev, tr
	}
	t.Fatalf("device %s not enumerated", cfg.Serial)
	return nil, nil
}

// exchange sends one command and returns its acknowledgement.
func exchange(t *testing.T, tr transport.Transport, cmd protocol.Command, seq uint16) *protocol.Ack {
	t.Helper()

	report, err := protocol.Encode(cmd, seq)
	if err != nil {
		t.Fatalf("Encode(%v): %v", cmd.Opcode(), err)
	}
	if err := tr.Send(report); err != nil {
		t.Fatalf("Send: %v", err)
	}
	in, err := tr.Receive(time.Second)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	msg, err := protocol.Decode(in)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	ack, ok := msg.(*protocol.Ack)
	if !ok {
		t.Fatalf("inbound = %T, want *protocol.Ack", msg)
	}
	if ack.Seq != seq {
		t.Fatalf("ack seq = %d, want %d", ack.Seq, seq)
	}
	return ack
}

func TestGetStatusReturnsFactoryState(t *testing.T) {
	hub := NewHub()
	_, tr := openDevice(t, hub, studioCfg("SIM001"))

	ack := exchange(t, tr, protocol.GetStatus{}, 7)
	if ack.Status != protocol.AckOK {
		t.Fatalf("status = %v, want %v", ack.Status, protocol.AckOK)
	}
	if ack.Blob == nil {
		t.Fatal("status ack carries no blob")
	}
	if ack.Blob.Info == nil {
		t.Fatal("blob carries no info section")
	}
	if ack.Blob.Info.Serial != "SIM001" || ack.Blob.Info.Kind != state.KindStudio {
		t.Errorf("info = %+v", ack.Blob.Info)
	}
	if got := ack.Blob.Info.FirmwareString(); got != "1.4.2" {
		t.Errorf("firmware = %q, want %q", got, "1.4.2")
	}
	if ack.Blob.Faders == nil || *ack.Blob.Faders != [4]uint8{0, 1, 2, 3} {
		t.Errorf("faders = %v", ack.Blob.Faders)
	}
	if ack.Blob.Volumes == nil || ack.Blob.Volumes[0] != 128 {
		t.Errorf("volumes = %v, want all 128", ack.Blob.Volumes)
	}
	if ack.Blob.Effects == nil {
		t.Error("studio blob has no effects section")
	}
}

func TestCompactBlobHasNoEffects(t *testing.T) {
	hub := NewHub()
	_, tr := openDevice(t, hub, Config{Serial: "SIMC01", Kind: state.KindCompact})

	ack := exchange(t, tr, protocol.GetStatus{}, 1)
	if ack.Status != protocol.AckOK || ack.Blob == nil {
		t.Fatalf("status = %v, blob = %v", ack.Status, ack.Blob)
	}
	if ack.Blob.Effects != nil {
		t.Errorf("compact blob carries effects: %v", ack.Blob.Effects)
	}
	if ack.Blob.Info.Kind != state.KindCompact {
		t.Errorf("info kind = %v, want %v", ack.Blob.Info.Kind, state.KindCompact)
	}
}

func TestSetCommandsApply(t *testing.T) {
	hub := NewHub()
	dev, tr := openDevice(t, hub, studioCfg("SIM001"))

	ack := exchange(t, tr, protocol.SetVolume{Channel: "music", Volume: 200}, 1)
	if ack.Status != protocol.AckOK {
		t.Fatalf("set volume status = %v", ack.Status)
	}
	if ack.Blob != nil {
		t.Error("set ack carries a blob")
	}

	exchange(t, tr, protocol.SetMute{Channel: "mic", Muted: true}, 2)
	exchange(t, tr, protocol.SetRoute{Channel: "music", Output: "stream", Enabled: true}, 3)
	exchange(t, tr, protocol.SetFader{Fader: "a", Channel: "game"}, 4)
	exchange(t, tr, protocol.SetButton{Button: 3, Action: "swap-profile"}, 5)
	exchange(t, tr, protocol.SetLightColor{Zone: "logo", R: 0x00, G: 0xFF, B: 0x80}, 6)
	exchange(t, tr, protocol.SetEffect{Effect: "reverb", Value: 40}, 7)

	blob := dev.State()

	music, _ := state.ChannelIndex("music")
	if blob.Volumes[music] != 200 {
		t.Errorf("music volume = %d, want 200", blob.Volumes[music])
	}
	mic, _ := state.ChannelIndex("mic")
	if *blob.Mutes&(1<<mic) == 0 {
		t.Error("mic mute bit not set")
	}
	stream, _ := state.OutputIndex("stream")
	if blob.Routes[music]&(1<<stream) == 0 {
		t.Error("music->stream route bit not set")
	}
	game, _ := state.ChannelIndex("game")
	if blob.Faders[0] != game {
		t.Errorf("fader a = %d, want %d", blob.Faders[0], game)
	}
	swap, _ := state.ActionIndex("swap-profile")
	if blob.Buttons[2].Action != swap {
		t.Errorf("button 3 action = %d, want %d", blob.Buttons[2].Action, swap)
	}
	logo, _ := state.ZoneIndex("logo")
	light := blob.Lights[logo]
	if light.R != 0x00 || light.G != 0xFF || light.B != 0x80 {
		t.Errorf("logo color = %02X%02X%02X, want 00FF80", light.R, light.G, light.B)
	}
	reverb, _ := state.EffectIndex("reverb")
	if blob.Effects[reverb].Value != 40 {
		t.Errorf("reverb = %d, want 40", blob.Effects[reverb].Value)
	}
}

func TestCompactGatesStudioFeatures(t *testing.T) {
	hub := NewHub()
	_, tr := openDevice(t, hub, Config{Serial: "SIMC01", Kind: state.KindCompact})

	tests := []struct {
		name string
		cmd  protocol.Command
		want protocol.AckStatus
	}{
		{"effect", protocol.SetEffect{Effect: "reverb", Value: 40}, protocol.AckRejected},
		{"sampler button", protocol.SetButton{Button: 2, Action: "sample-play-1"}, protocol.AckRejected},
		{"plain button", protocol.SetButton{Button: 2, Action: "mute-self"}, protocol.AckOK},
		{"volume", protocol.SetVolume{Channel: "mic", Volume: 90}, protocol.AckOK},
	}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ack := exchange(t, tr, tt.cmd, uint16(i+1))
			if ack.Status != tt.want {
				t.Errorf("status = %v, want %v", ack.Status, tt.want)
			}
		})
	}
}

func TestDropResponsesTimesOut(t *testing.T) {
	hub := NewHub()
	dev, tr := openDevice(t, hub, studioCfg("SIM001"))
	dev.DropResponses(1)

	report, err := protocol.Encode(protocol.SetMute{Channel: "mic", Muted: true}, 3)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if err := tr.Send(report); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if _, err := tr.Receive(100 * time.Millisecond); !errors.Is(err, transport.ErrTimeout) {
		t.Fatalf("Receive after drop = %v, want %v", err, transport.ErrTimeout)
	}

	// A dropped command is not applied.
	mic, _ := state.ChannelIndex("mic")
	if *dev.State().Mutes&(1<<mic) != 0 {
		t.Error("dropped command mutated state")
	}

	// The retry is answered.
	ack := exchange(t, tr, protocol.SetMute{Channel: "mic", Muted: true}, 3)
	if ack.Status != protocol.AckOK {
		t.Fatalf("retry status = %v", ack.Status)
	}
}

func TestRejectAndBusyInjection(t *testing.T) {
	hub := NewHub()
	dev, tr := openDevice(t, hub, studioCfg("SIM001"))

	dev.RejectNext(1)
	ack := exchange(t, tr, protocol.SetVolume{Channel: "mic", Volume: 10}, 1)
	if ack.Status != protocol.AckRejected {
		t.Fatalf("status = %v, want %v", ack.Status, protocol.AckRejected)
	}
	mic, _ := state.ChannelIndex("mic")
	if dev.State().Volumes[mic] != 128 {
		t.Error("rejected command mutated state")
	}

	dev.BusyNext(1)
	ack = exchange(t, tr, protocol.SetVolume{Channel: "mic", Volume: 10}, 2)
	if ack.Status != protocol.AckBusy {
		t.Fatalf("status = %v, want %v", ack.Status, protocol.AckBusy)
	}

	ack = exchange(t, tr, protocol.SetVolume{Channel: "mic", Volume: 10}, 3)
	if ack.Status != protocol.AckOK {
		t.Fatalf("status after injections = %v", ack.Status)
	}
	if dev.State().Volumes[mic] != 10 {
		t.Errorf("mic volume = %d, want 10", dev.State().Volumes[mic])
	}
}

func TestLocalChangeSendsDelta(t *testing.T) {
	hub := NewHub()
	dev, tr := openDevice(t, hub, studioCfg("SIM001"))

	if err := dev.LocalVolume("chat", 42); err != nil {
		t.Fatalf("LocalVolume: %v", err)
	}

	in, err := tr.Receive(time.Second)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	msg, err := protocol.Decode(in)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	tel, ok := msg.(*protocol.Telemetry)
	if !ok {
		t.Fatalf("inbound = %T, want *protocol.Telemetry", msg)
	}
	if tel.Full {
		t.Error("local change sent full telemetry, want delta")
	}
	if tel.Blob.Volumes == nil {
		t.Fatal("delta carries no volumes section")
	}
	chat, _ := state.ChannelIndex("chat")
	if tel.Blob.Volumes[chat] != 42 {
		t.Errorf("chat volume = %d, want 42", tel.Blob.Volumes[chat])
	}
	if tel.Blob.Info != nil || tel.Blob.Mutes != nil {
		t.Error("delta carries sections beyond volumes")
	}
}

func TestFullTelemetry(t *testing.T) {
	hub := NewHub()
	dev, tr := openDevice(t, hub, studioCfg("SIM001"))

	if err := dev.SendFullTelemetry(); err != nil {
		t.Fatalf("SendFullTelemetry: %v", err)
	}
	in, err := tr.Receive(time.Second)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	msg, err := protocol.Decode(in)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	tel, ok := msg.(*protocol.Telemetry)
	if !ok || !tel.Full {
		t.Fatalf("inbound = %#v, want full telemetry", msg)
	}
	if tel.Blob.Info == nil || tel.Blob.Info.Serial != "SIM001" {
		t.Errorf("full telemetry info = %+v", tel.Blob.Info)
	}
}

func TestUnplugDisconnects(t *testing.T) {
	hub := NewHub()
	_, tr := openDevice(t, hub, studioCfg("SIM001"))

	hub.Unplug("SIM001")

	if _, err := tr.Receive(50 * time.Millisecond); !errors.Is(err, transport.ErrDisconnected) {
		t.Fatalf("Receive after unplug = %v, want %v", err, transport.ErrDisconnected)
	}
	if err := tr.Send(make([]byte, 16)); !errors.Is(err, transport.ErrDisconnected) {
		t.Fatalf("Send after unplug = %v, want %v", err, transport.ErrDisconnected)
	}

	infos, err := hub.Enumerate()
	if err != nil {
		t.Fatalf("Enumerate: %v", err)
	}
	if len(infos) != 0 {
		t.Fatalf("unplugged device still enumerated: %v", infos)
	}
}

func TestReplugKeepsState(t *testing.T) {
	hub := NewHub()
	cfg := studioCfg("SIM001")
	_, tr := openDevice(t, hub, cfg)

	ack := exchange(t, tr, protocol.SetVolume{Channel: "music", Volume: 200}, 1)
	if ack.Status != protocol.AckOK {
		t.Fatalf("set status = %v", ack.Status)
	}

	hub.Unplug("SIM001")
	tr.Close()

	_, tr2 := openDevice(t, hub, cfg)
	ack = exchange(t, tr2, protocol.GetStatus{}, 2)
	if ack.Status != protocol.AckOK || ack.Blob == nil {
		t.Fatalf("status after replug = %v", ack.Status)
	}
	music, _ := state.ChannelIndex("music")
	if ack.Blob.Volumes[music] != 200 {
		t.Errorf("music volume after replug = %d, want 200", ack.Blob.Volumes[music])
	}
}

func TestOpenClaims(t *testing.T) {
	hub := NewHub()
	hub.Plug(studioCfg("SIM001"))
	infos, err := hub.Enumerate()
	if err != nil || len(infos) != 1 {
		t.Fatalf("Enumerate = %v, %v", infos, err)
	}

	tr, err := hub.Open(infos[0])
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := hub.Open(infos[0]); !errors.Is(err, transport.ErrBusy) {
		t.Fatalf("second Open = %v, want %v", err, transport.ErrBusy)
	}

	if err := tr.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	tr2, err := hub.Open(infos[0])
	if err != nil {
		t.Fatalf("Open after Close: %v", err)
	}
	tr2.Close()
}

func TestOpenUnknownDevice(t *testing.T) {
	hub := NewHub()
	info := transport.DeviceInfo{
		Identity:  transport.Identity{Serial: "NOPE", Path: "sim:NOPE"},
		VendorID:  transport.VendorID,
		ProductID: transport.ProductStudio,
	}
	if _, err := hub.Open(info); !errors.Is(err, transport.ErrNotFound) {
		t.Fatalf("Open = %v, want %v", err, transport.ErrNotFound)
	}
}

func TestEnumerateOrdersBySerial(t *testing.T) {
	hub := NewHub()
	hub.Plug(Config{Serial: "SIMB02", Kind: state.KindCompact})
	hub.Plug(studioCfg("SIMA01"))

	infos, err := hub.Enumerate()
	if err != nil {
		t.Fatalf("Enumerate: %v", err)
	}
	if len(infos) != 2 {
		t.Fatalf("enumerated %d devices, want 2", len(infos))
	}
	if infos[0].Identity.Serial != "SIMA01" || infos[1].Identity.Serial != "SIMB02" {
		t.Errorf("order = %s, %s", infos[0].Identity.Serial, infos[1].Identity.Serial)
	}
	if infos[0].ProductID != transport.ProductStudio || infos[0].Kind() != state.KindStudio {
		t.Errorf("studio info = %+v", infos[0])
	}
	if infos[1].ProductID != transport.ProductCompact || infos[1].Kind() != state.KindCompact {
		t.Errorf("compact info = %+v", infos[1])
	}
	if infos[0].Identity.Path != "sim:SIMA01" {
		t.Errorf("path = %q", infos[0].Identity.Path)
	}
	if infos[0].Product != "MixDeck Studio" || infos[1].Product != "MixDeck Compact" {
		t.Errorf("products = %q, %q", infos[0].Product, infos[1].Product)
	}
}
