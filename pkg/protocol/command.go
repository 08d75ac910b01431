package protocol

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/mixdeck-audio/mixdeck-go/pkg/state"
)

// ErrUnsupportedField indicates a field path that has no wire
// command. It only occurs for values that bypassed registry
// validation.
var ErrUnsupportedField = errors.New("field has no wire command")

// Command is one encodable device command. The set is closed: every
// implementation lives in this package, one per command opcode.
type Command interface {
	// Opcode returns the command's wire opcode.
	Opcode() Opcode

	// Field returns the state mutation the command performs once
	// acknowledged. ok is false for GetStatus, whose acknowledgement
	// carries a full state blob instead.
	Field() (field state.Field, value any, ok bool)

	// payload renders the opcode-specific body.
	payload() ([]byte, error)
}

// GetStatus requests a full state blob.
type GetStatus struct{}

// SetFader assigns a channel to a physical fader.
type SetFader struct {
	Fader   string
	Channel string
}

// SetVolume sets a channel volume (0-255).
type SetVolume struct {
	Channel string
	Volume  int64
}

// SetMute mutes or unmutes a channel.
type SetMute struct {
	Channel string
	Muted   bool
}

// SetRoute enables or disables one routing-matrix cell.
type SetRoute struct {
	Channel string
	Output  string
	Enabled bool
}

// SetButton binds an action to a button (1-based).
type SetButton struct {
	Button int
	Action string
}

// SetLightEffect sets a lighting zone's animation style.
type SetLightEffect struct {
	Zone   string
	Effect string
}

// SetLightColor sets a lighting zone's color.
type SetLightColor struct {
	Zone    string
	R, G, B uint8
}

// SetEffect sets an effect engine parameter (0-100, Studio only).
type SetEffect struct {
	Effect string
	Value  int64
}

func (GetStatus) Opcode() Opcode { return OpGetStatus }

func (SetFader) Opcode() Opcode { return OpSetFader }

func (SetVolume) Opcode() Opcode { return OpSetVolume }

func (SetMute) Opcode() Opcode { return OpSetMute }

func (SetRoute) Opcode() Opcode { return OpSetRoute }

func (SetButton) Opcode() Opcode { return OpSetButton }

func (SetLightEffect) Opcode() Opcode { return OpSetLightEffect }

func (SetLightColor) Opcode() Opcode { return OpSetLightColor }

func (SetEffect) Opcode() Opcode { return OpSetEffect }

func (GetStatus) Field() (state.Field, any, bool) { return "", nil, false }

func (c SetFader) Field() (state.Field, any, bool) {
	return state.FaderField(c.Fader), c.Channel, true
}

func (c SetVolume) Field() (state.Field, any, bool) {
	return state.VolumeField(c.Channel), c.Volume, true
}

func (c SetMute) Field() (state.Field, any, bool) {
	return state.MuteField(c.Channel), c.Muted, true
}

func (c SetRoute) Field() (state.Field, any, bool) {
	return state.RouteField(c.Channel, c.Output), c.Enabled, true
}

func (c SetButton) Field() (state.Field, any, bool) {
	return state.ButtonField(c.Button), c.Action, true
}

func (c SetLightEffect) Field() (state.Field, any, bool) {
	return state.LightEffectField(c.Zone), c.Effect, true
}

func (c SetLightColor) Field() (state.Field, any, bool) {
	return state.LightColorField(c.Zone), state.FormatColor(c.R, c.G, c.B), true
}

func (c SetEffect) Field() (state.Field, any, bool) {
	return state.EffectField(c.Effect), c.Value, true
}

func (GetStatus) payload() ([]byte, error) { return nil, nil }

func (c SetFader) payload() ([]byte, error) {
	f, ok := state.FaderIndex(c.Fader)
	if !ok {
		return nil, fmt.Errorf("%w: fader %q", ErrUnsupportedField, c.Fader)
	}
	ch, ok := state.ChannelIndex(c.Channel)
	if !ok {
		return nil, fmt.Errorf("%w: channel %q", ErrUnsupportedField, c.Channel)
	}
	return []byte{f, ch}, nil
}

func (c SetVolume) payload() ([]byte, error) {
	ch, ok := state.ChannelIndex(c.Channel)
	if !ok {
		return nil, fmt.Errorf("%w: channel %q", ErrUnsupportedField, c.Channel)
	}
	if c.Volume < 0 || c.Volume > 255 {
		return nil, fmt.Errorf("%w: volume %d", ErrUnsupportedField, c.Volume)
	}
	return []byte{ch, uint8(c.Volume)}, nil
}

func (c SetMute) payload() ([]byte, error) {
	ch, ok := state.ChannelIndex(c.Channel)
	if !ok {
		return nil, fmt.Errorf("%w: channel %q", ErrUnsupportedField, c.Channel)
	}
	return []byte{ch, boolByte(c.Muted)}, nil
}

func (c SetRoute) payload() ([]byte, error) {
	ch, ok := state.ChannelIndex(c.Channel)
	if !ok {
		return nil, fmt.Errorf("%w: channel %q", ErrUnsupportedField, c.Channel)
	}
	out, ok := state.OutputIndex(c.Output)
	if !ok {
		return nil, fmt.Errorf("%w: output %q", ErrUnsupportedField, c.Output)
	}
	return []byte{ch, out, boolByte(c.Enabled)}, nil
}

func (c SetButton) payload() ([]byte, error) {
	if c.Button < 1 || c.Button > state.ButtonCount {
		return nil, fmt.Errorf("%w: button %d", ErrUnsupportedField, c.Button)
	}
	a, ok := state.ActionIndex(c.Action)
	if !ok {
		return nil, fmt.Errorf("%w: action %q", ErrUnsupportedField, c.Action)
	}
	return []byte{uint8(c.Button - 1), a}, nil
}

func (c SetLightEffect) payload() ([]byte, error) {
	z, ok := state.ZoneIndex(c.Zone)
	if !ok {
		return nil, fmt.Errorf("%w: zone %q", ErrUnsupportedField, c.Zone)
	}
	e, ok := state.LightEffectIndex(c.Effect)
	if !ok {
		return nil, fmt.Errorf("%w: light effect %q", ErrUnsupportedField, c.Effect)
	}
	return []byte{z, e}, nil
}

func (c SetLightColor) payload() ([]byte, error) {
	z, ok := state.ZoneIndex(c.Zone)
	if !ok {
		return nil, fmt.Errorf("%w: zone %q", ErrUnsupportedField, c.Zone)
	}
	return []byte{z, c.R, c.G, c.B}, nil
}

func (c SetEffect) payload() ([]byte, error) {
	e, ok := state.EffectIndex(c.Effect)
	if !ok {
		return nil, fmt.Errorf("%w: effect %q", ErrUnsupportedField, c.Effect)
	}
	if c.Value < 0 || c.Value > 100 {
		return nil, fmt.Errorf("%w: effect value %d", ErrUnsupportedField, c.Value)
	}
	return []byte{e, uint8(c.Value)}, nil
}

func boolByte(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}

// Encode renders a command and sequence number as a full report.
func Encode(cmd Command, seq uint16) ([]byte, error) {
	body, err := cmd.payload()
	if err != nil {
		return nil, err
	}
	return encodeFrame(cmd.Opcode(), seq, body)
}

// CommandForField builds the wire command that sets one field to a
// normalized value. The value must already have passed registry
// validation.
func CommandForField(field state.Field, value any) (Command, error) {
	parts := splitField(field)
	switch {
	case len(parts) == 2 && parts[0] == "fader":
		ch, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("%w: %s wants channel name", ErrUnsupportedField, field)
		}
		return SetFader{Fader: parts[1], Channel: ch}, nil

	case len(parts) == 3 && parts[0] == "channel" && parts[2] == "volume":
		v, ok := asInt64(value)
		if !ok {
			return nil, fmt.Errorf("%w: %s wants integer", ErrUnsupportedField, field)
		}
		return SetVolume{Channel: parts[1], Volume: v}, nil

	case len(parts) == 3 && parts[0] == "channel" && parts[2] == "mute":
		b, ok := value.(bool)
		if !ok {
			return nil, fmt.Errorf("%w: %s wants bool", ErrUnsupportedField, field)
		}
		return SetMute{Channel: parts[1], Muted: b}, nil

	case len(parts) == 3 && parts[0] == "route":
		b, ok := value.(bool)
		if !ok {
			return nil, fmt.Errorf("%w: %s wants bool", ErrUnsupportedField, field)
		}
		return SetRoute{Channel: parts[1], Output: parts[2], Enabled: b}, nil

	case len(parts) == 3 && parts[0] == "button" && parts[2] == "action":
		a, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("%w: %s wants action name", ErrUnsupportedField, field)
		}
		n, err := strconv.Atoi(parts[1])
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrUnsupportedField, field)
		}
		return SetButton{Button: n, Action: a}, nil

	case len(parts) == 3 && parts[0] == "light" && parts[2] == "effect":
		e, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("%w: %s wants style name", ErrUnsupportedField, field)
		}
		return SetLightEffect{Zone: parts[1], Effect: e}, nil

	case len(parts) == 3 && parts[0] == "light" && parts[2] == "color":
		s, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("%w: %s wants #RRGGBB", ErrUnsupportedField, field)
		}
		r, g, b, err := state.ParseColor(s)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnsupportedField, err)
		}
		return SetLightColor{Zone: parts[1], R: r, G: g, B: b}, nil

	case len(parts) == 2 && parts[0] == "effect":
		v, ok := asInt64(value)
		if !ok {
			return nil, fmt.Errorf("%w: %s wants integer", ErrUnsupportedField, field)
		}
		return SetEffect{Effect: parts[1], Value: v}, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedField, field)
}

// DecodeCommand parses a command frame. This is the device side of
// the codec, used by the simulator.
func DecodeCommand(report []byte) (Command, uint16, error) {
	opcode, seq, body, err := parseFrame(report)
	if err != nil {
		return nil, 0, err
	}
	if !opcode.IsCommand() {
		return nil, 0, fmt.Errorf("%w: 0x%02X is not a command", ErrUnknownOpcode, uint8(opcode))
	}

	cmd, err := decodeCommandBody(opcode, body)
	if err != nil {
		return nil, 0, err
	}
	return cmd, seq, nil
}

func decodeCommandBody(opcode Opcode, body []byte) (Command, error) {
	switch opcode {
	case OpGetStatus:
		if len(body) != 0 {
			return nil, fmt.Errorf("%w: GetStatus with %d payload bytes", ErrPayloadSize, len(body))
		}
		return GetStatus{}, nil

	case OpSetFader:
		if len(body) != 2 {
			return nil, payloadSizeErr(opcode, len(body))
		}
		f, err := faderName(body[0])
		if err != nil {
			return nil, err
		}
		ch, err := channelName(body[1])
		if err != nil {
			return nil, err
		}
		return SetFader{Fader: f, Channel: ch}, nil

	case OpSetVolume:
		if len(body) != 2 {
			return nil, payloadSizeErr(opcode, len(body))
		}
		ch, err := channelName(body[0])
		if err != nil {
			return nil, err
		}
		return SetVolume{Channel: ch, Volume: int64(body[1])}, nil

	case OpSetMute:
		if len(body) != 2 {
			return nil, payloadSizeErr(opcode, len(body))
		}
		ch, err := channelName(body[0])
		if err != nil {
			return nil, err
		}
		return SetMute{Channel: ch, Muted: body[1] != 0}, nil

	case OpSetRoute:
		if len(body) != 3 {
			return nil, payloadSizeErr(opcode, len(body))
		}
		ch, err := channelName(body[0])
		if err != nil {
			return nil, err
		}
		out, err := outputName(body[1])
		if err != nil {
			return nil, err
		}
		return SetRoute{Channel: ch, Output: out, Enabled: body[2] != 0}, nil

	case OpSetButton:
		if len(body) != 2 {
			return nil, payloadSizeErr(opcode, len(body))
		}
		if int(body[0]) >= state.ButtonCount {
			return nil, fmt.Errorf("%w: button %d", ErrBadIndex, body[0])
		}
		a, err := actionName(body[1])
		if err != nil {
			return nil, err
		}
		return SetButton{Button: int(body[0]) + 1, Action: a}, nil

	case OpSetLightEffect:
		if len(body) != 2 {
			return nil, payloadSizeErr(opcode, len(body))
		}
		z, err := zoneName(body[0])
		if err != nil {
			return nil, err
		}
		e, err := lightEffectName(body[1])
		if err != nil {
			return nil, err
		}
		return SetLightEffect{Zone: z, Effect: e}, nil

	case OpSetLightColor:
		if len(body) != 4 {
			return nil, payloadSizeErr(opcode, len(body))
		}
		z, err := zoneName(body[0])
		if err != nil {
			return nil, err
		}
		return SetLightColor{Zone: z, R: body[1], G: body[2], B: body[3]}, nil

	case OpSetEffect:
		if len(body) != 2 {
			return nil, payloadSizeErr(opcode, len(body))
		}
		e, err := effectName(body[0])
		if err != nil {
			return nil, err
		}
		return SetEffect{Effect: e, Value: int64(body[1])}, nil
	}
	return nil, fmt.Errorf("%w: 0x%02X", ErrUnknownOpcode, uint8(opcode))
}

func payloadSizeErr(opcode Opcode, n int) error {
	return fmt.Errorf("%w: %s with %d payload bytes", ErrPayloadSize, opcode, n)
}

// Name lookups with range checks for decoded wire indexes.

func channelName(i uint8) (string, error) {
	if int(i) >= len(state.ChannelNames) {
		return "", fmt.Errorf("%w: channel %d", ErrBadIndex, i)
	}
	return state.ChannelNames[i], nil
}

func outputName(i uint8) (string, error) {
	if int(i) >= len(state.OutputNames) {
		return "", fmt.Errorf("%w: output %d", ErrBadIndex, i)
	}
	return state.OutputNames[i], nil
}

func faderName(i uint8) (string, error) {
	if int(i) >= len(state.FaderNames) {
		return "", fmt.Errorf("%w: fader %d", ErrBadIndex, i)
	}
	return state.FaderNames[i], nil
}

func zoneName(i uint8) (string, error) {
	if int(i) >= len(state.ZoneNames) {
		return "", fmt.Errorf("%w: zone %d", ErrBadIndex, i)
	}
	return state.ZoneNames[i], nil
}

func actionName(i uint8) (string, error) {
	if int(i) >= len(state.ActionNames) {
		return "", fmt.Errorf("%w: action %d", ErrBadIndex, i)
	}
	return state.ActionNames[i], nil
}

func effectName(i uint8) (string, error) {
	if int(i) >= len(state.EffectNames) {
		return "", fmt.Errorf("%w: effect %d", ErrBadIndex, i)
	}
	return state.EffectNames[i], nil
}

func lightEffectName(i uint8) (string, error) {
	if int(i) >= len(state.LightEffectNames) {
		return "", fmt.Errorf("%w: light effect %d", ErrBadIndex, i)
	}
	return state.LightEffectNames[i], nil
}

func splitField(f state.Field) []string {
	var parts []string
	s := string(f)
	for len(s) > 0 {
		i := 0
		for i < len(s) && s[i] != '.' {
			i++
		}
		parts = append(parts, s[:i])
		if i == len(s) {
			break
		}
		s = s[i+1:]
	}
	return parts
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case uint64:
		return int64(n), true
	case float64:
		if n == float64(int64(n)) {
			return int64(n), true
		}
	}
	return 0, false
}
