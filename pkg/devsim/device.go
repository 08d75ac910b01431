package devsim

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/mixdeck-audio/mixdeck-go/pkg/protocol"
	"github.com/mixdeck-audio/mixdeck-go/pkg/state"
	"github.com/mixdeck-audio/mixdeck-go/pkg/transport"
)

// Config describes one simulated unit.
type Config struct {
	Serial   string
	Kind     state.Kind
	Firmware [3]uint8
}

// Device is a simulated MixDeck console. Its register file lives as a
// protocol.Blob; commands mutate it exactly as firmware would.
type Device struct {
	serial string
	kind   state.Kind

	mu    sync.Mutex
	blob  protocol.Blob
	tr    *transport.Pipe
	drop  int
	rejct int
	busy  int
	delay time.Duration
}

// NewDevice builds a device with factory defaults: faders on the
// first four channels, all volumes at 128, nothing muted, every
// channel routed to headphones.
func NewDevice(cfg Config) *Device {
	d := &Device{serial: cfg.Serial, kind: cfg.Kind}

	faders := [4]uint8{0, 1, 2, 3}
	var volumes [8]uint8
	for i := range volumes {
		volumes[i] = 128
	}
	mutes := uint8(0)
	var routes [8]uint8
	for i := range routes {
		routes[i] = 0x01 // headphones
	}

	buttons := make([]protocol.ButtonEntry, state.ButtonCount)
	for i := range buttons {
		buttons[i] = protocol.ButtonEntry{Button: uint8(i), Action: 0}
	}
	lights := make([]protocol.LightEntry, len(state.ZoneNames))
	for i := range lights {
		lights[i] = protocol.LightEntry{Zone: uint8(i)}
	}

	d.blob = protocol.Blob{
		Info: &protocol.DeviceInfo{
			Kind:     cfg.Kind,
			Firmware: cfg.Firmware,
			Serial:   cfg.Serial,
		},
		Faders:  &faders,
		Volumes: &volumes,
		Mutes:   &mutes,
		Routes:  &routes,
		Buttons: buttons,
		Lights:  lights,
	}

	if cfg.Kind == state.KindStudio {
		effects := make([]protocol.EffectEntry, len(state.EffectNames))
		for i := range effects {
			effects[i] = protocol.EffectEntry{Effect: uint8(i)}
		}
		d.blob.Effects = effects
	}

	return d
}

// Serial returns the device serial.
func (d *Device) Serial() string { return d.serial }

// Kind returns the hardware kind.
func (d *Device) Kind() state.Kind { return d.kind }

// start attaches the device to the device end of a pipe and begins
// answering commands. A previous attachment is cut first.
func (d *Device) start(tr *transport.Pipe) {
	d.mu.Lock()
	if d.tr != nil {
		d.tr.Close()
	}
	d.tr = tr
	d.mu.Unlock()

	go d.run(tr)
}

// stop cuts the current attachment, as if the cable were pulled.
func (d *Device) stop() {
	d.mu.Lock()
	tr := d.tr
	d.tr = nil
	d.mu.Unlock()

	if tr != nil {
		tr.Close()
	}
}

func (d *Device) run(tr *transport.Pipe) {
	for {
		report, err := tr.Receive(time.Second)
		if errors.Is(err, transport.ErrTimeout) {
			continue
		}
		if err != nil {
			return
		}
		d.handle(tr, report)
	}
}

func (d *Device) handle(tr *transport.Pipe, report []byte) {
	cmd, seq, err := protocol.DecodeCommand(report)
	if err != nil {
		// Hardware stays silent on frames it cannot parse.
		return
	}

	d.mu.Lock()
	if d.drop > 0 {
		d.drop--
		d.mu.Unlock()
		return
	}

	var status protocol.AckStatus
	switch {
	case d.rejct > 0:
		d.rejct--
		status = protocol.AckRejected
	case d.busy > 0:
		d.busy--
		status = protocol.AckBusy
	default:
		status = d.apply(cmd)
	}

	var blob *protocol.Blob
	if _, isGet := cmd.(protocol.GetStatus); isGet && status == protocol.AckOK {
		b := cloneBlob(d.blob)
		blob = &b
	}
	delay := d.delay
	d.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	ack, err := protocol.EncodeAck(cmd.Opcode(), seq, status, blob)
	if err != nil {
		return
	}
	_ = tr.Send(ack)
}

// apply mutates the register file. Caller holds the lock.
func (d *Device) apply(cmd protocol.Command) protocol.AckStatus {
	switch c := cmd.(type) {
	case protocol.GetStatus:

	case protocol.SetFader:
		fi, _ := state.FaderIndex(c.Fader)
		ci, _ := state.ChannelIndex(c.Channel)
		d.blob.Faders[fi] = ci

	case protocol.SetVolume:
		ci, _ := state.ChannelIndex(c.Channel)
		d.blob.Volumes[ci] = uint8(c.Volume)

	case protocol.SetMute:
		ci, _ := state.ChannelIndex(c.Channel)
		if c.Muted {
			*d.blob.Mutes |= 1 << ci
		} else {
			*d.blob.Mutes &^= 1 << ci
		}

	case protocol.SetRoute:
		ci, _ := state.ChannelIndex(c.Channel)
		oi, _ := state.OutputIndex(c.Output)
		if c.Enabled {
			d.blob.Routes[ci] |= 1 << oi
		} else {
			d.blob.Routes[ci] &^= 1 << oi
		}

	case protocol.SetButton:
		if d.kind == state.KindCompact && strings.HasPrefix(c.Action, "sample-") {
			return protocol.AckRejected
		}
		ai, _ := state.ActionIndex(c.Action)
		d.blob.Buttons[c.Button-1].Action = ai

	case protocol.SetLightEffect:
		zi, _ := state.ZoneIndex(c.Zone)
		ei, _ := state.LightEffectIndex(c.Effect)
		d.blob.Lights[zi].Effect = ei

	case protocol.SetLightColor:
		zi, _ := state.ZoneIndex(c.Zone)
		d.blob.Lights[zi].R = c.R
		d.blob.Lights[zi].G = c.G
		d.blob.Lights[zi].B = c.B

	case protocol.SetEffect:
		if d.kind == state.KindCompact {
			return protocol.AckRejected
		}
		ei, _ := state.EffectIndex(c.Effect)
		for i := range d.blob.Effects {
			if d.blob.Effects[i].Effect == ei {
				d.blob.Effects[i].Value = uint8(c.Value)
			}
		}
	}
	return protocol.AckOK
}

// State returns a copy of the register file.
func (d *Device) State() protocol.Blob {
	d.mu.Lock()
	defer d.mu.Unlock()
	return cloneBlob(d.blob)
}

// DropResponses makes the device swallow the next n commands without
// acknowledging them.
func (d *Device) DropResponses(n int) {
	d.mu.Lock()
	d.drop = n
	d.mu.Unlock()
}

// RejectNext makes the device answer the next n commands with a
// Rejected status.
func (d *Device) RejectNext(n int) {
	d.mu.Lock()
	d.rejct = n
	d.mu.Unlock()
}

// BusyNext makes the device answer the next n commands with a Busy
// status.
func (d *Device) BusyNext(n int) {
	d.mu.Lock()
	d.busy = n
	d.mu.Unlock()
}

// SetAckDelay delays every acknowledgement by dur.
func (d *Device) SetAckDelay(dur time.Duration) {
	d.mu.Lock()
	d.delay = dur
	d.mu.Unlock()
}

// LocalVolume simulates a knob turned on the unit: the register file
// changes and a delta telemetry report announces it.
func (d *Device) LocalVolume(channel string, volume uint8) error {
	ci, ok := state.ChannelIndex(channel)
	if !ok {
		return protocol.ErrBadIndex
	}

	d.mu.Lock()
	d.blob.Volumes[ci] = volume
	vols := *d.blob.Volumes
	tr := d.tr
	d.mu.Unlock()

	return sendDelta(tr, &protocol.Blob{Volumes: &vols})
}

// LocalMute simulates a mute button pressed on the unit.
func (d *Device) LocalMute(channel string, muted bool) error {
	ci, ok := state.ChannelIndex(channel)
	if !ok {
		return protocol.ErrBadIndex
	}

	d.mu.Lock()
	if muted {
		*d.blob.Mutes |= 1 << ci
	} else {
		*d.blob.Mutes &^= 1 << ci
	}
	mutes := *d.blob.Mutes
	tr := d.tr
	d.mu.Unlock()

	return sendDelta(tr, &protocol.Blob{Mutes: &mutes})
}

// SendFullTelemetry pushes the whole register file unsolicited.
func (d *Device) SendFullTelemetry() error {
	d.mu.Lock()
	blob := cloneBlob(d.blob)
	tr := d.tr
	d.mu.Unlock()

	if tr == nil {
		return transport.ErrDisconnected
	}
	report, err := protocol.EncodeTelemetry(true, &blob)
	if err != nil {
		return err
	}
	return tr.Send(report)
}

func sendDelta(tr *transport.Pipe, blob *protocol.Blob) error {
	if tr == nil {
		return transport.ErrDisconnected
	}
	report, err := protocol.EncodeTelemetry(false, blob)
	if err != nil {
		return err
	}
	return tr.Send(report)
}

// cloneBlob deep-copies a register file.
func cloneBlob(b protocol.Blob) protocol.Blob {
	out := protocol.Blob{}
	if b.Info != nil {
		info := *b.Info
		out.Info = &info
	}
	if b.Faders != nil {
		faders := *b.Faders
		out.Faders = &faders
	}
	if b.Volumes != nil {
		volumes := *b.Volumes
		out.Volumes = &volumes
	}
	if b.Mutes != nil {
		mutes := *b.Mutes
		out.Mutes = &mutes
	}
	if b.Routes != nil {
		routes := *b.Routes
		out.Routes = &routes
	}
	if b.Buttons != nil {
		out.Buttons = append([]protocol.ButtonEntry(nil), b.Buttons...)
	}
	if b.Lights != nil {
		out.Lights = append([]protocol.LightEntry(nil), b.Lights...)
	}
	if b.Effects != nil {
		out.Effects = append([]protocol.EffectEntry(nil), b.Effects...)
	}
	return out
}
