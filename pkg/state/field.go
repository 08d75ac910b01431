package state

import (
	"fmt"
	"strings"
)

// Field is a dotted path addressing one configurable value on the
// device, for example "channel.mic.volume" or "route.mic.stream".
type Field string

// Kind identifies the hardware variant of a MixDeck unit.
type Kind uint8

const (
	// KindUnknown is the zero value, used before the first poll.
	KindUnknown Kind = iota

	// KindStudio is the full console with sampler and effect engine.
	KindStudio

	// KindCompact lacks the sampler bank and effect engine.
	KindCompact
)

// String returns the kind name as used in info.kind values.
func (k Kind) String() string {
	switch k {
	case KindStudio:
		return "studio"
	case KindCompact:
		return "compact"
	default:
		return "unknown"
	}
}

// ParseKind converts an info.kind value back to a Kind.
func ParseKind(s string) Kind {
	switch s {
	case "studio":
		return KindStudio
	case "compact":
		return KindCompact
	default:
		return KindUnknown
	}
}

// Canonical name tables. Order is load-bearing: the wire protocol
// addresses channels, outputs, faders, zones, actions, and effects by
// their index in these slices.
var (
	// ChannelNames lists the mix channels.
	ChannelNames = []string{"mic", "chat", "music", "game", "console", "linein", "system", "sample"}

	// OutputNames lists the routing destinations.
	OutputNames = []string{"headphones", "stream", "lineout", "chatmic", "sampler"}

	// FaderNames lists the physical faders.
	FaderNames = []string{"a", "b", "c", "d"}

	// ZoneNames lists the lighting zones.
	ZoneNames = []string{
		"fader-a", "fader-b", "fader-c", "fader-d",
		"button-1", "button-2", "button-3", "button-4",
		"button-5", "button-6", "button-7", "button-8",
		"logo",
	}

	// ActionNames lists the button actions. Sampler actions are
	// Studio-only.
	ActionNames = []string{
		"mute-self", "mute-chat", "swap-profile",
		"sample-play-1", "sample-play-2", "sample-play-3", "sample-play-4",
	}

	// EffectNames lists the effect engine parameters (Studio only).
	EffectNames = []string{"reverb", "echo", "pitch", "gender", "megaphone", "hardtune"}

	// LightEffectNames lists the lighting animation styles.
	LightEffectNames = []string{"steady", "pulse", "gradient"}
)

// ButtonCount is the number of mappable buttons.
const ButtonCount = 8

// indexOf returns the position of name in names, or -1.
func indexOf(names []string, name string) int {
	for i, n := range names {
		if n == name {
			return i
		}
	}
	return -1
}

// ChannelIndex returns the wire index of a channel name.
func ChannelIndex(name string) (uint8, bool) {
	i := indexOf(ChannelNames, name)
	return uint8(i), i >= 0
}

// OutputIndex returns the wire index of an output name.
func OutputIndex(name string) (uint8, bool) {
	i := indexOf(OutputNames, name)
	return uint8(i), i >= 0
}

// FaderIndex returns the wire index of a fader name.
func FaderIndex(name string) (uint8, bool) {
	i := indexOf(FaderNames, name)
	return uint8(i), i >= 0
}

// ZoneIndex returns the wire index of a lighting zone name.
func ZoneIndex(name string) (uint8, bool) {
	i := indexOf(ZoneNames, name)
	return uint8(i), i >= 0
}

// ActionIndex returns the wire index of a button action name.
func ActionIndex(name string) (uint8, bool) {
	i := indexOf(ActionNames, name)
	return uint8(i), i >= 0
}

// EffectIndex returns the wire index of an effect parameter name.
func EffectIndex(name string) (uint8, bool) {
	i := indexOf(EffectNames, name)
	return uint8(i), i >= 0
}

// LightEffectIndex returns the wire index of a lighting style name.
func LightEffectIndex(name string) (uint8, bool) {
	i := indexOf(LightEffectNames, name)
	return uint8(i), i >= 0
}

// Field path constructors.

// FaderField returns the assignment path for a fader.
func FaderField(fader string) Field { return Field("fader." + fader) }

// VolumeField returns the volume path for a channel.
func VolumeField(channel string) Field { return Field("channel." + channel + ".volume") }

// MuteField returns the mute path for a channel.
func MuteField(channel string) Field { return Field("channel." + channel + ".mute") }

// RouteField returns the routing-matrix cell path for a channel/output pair.
func RouteField(channel, output string) Field { return Field("route." + channel + "." + output) }

// ButtonField returns the action path for a button number (1-based).
func ButtonField(button int) Field { return Field(fmt.Sprintf("button.%d.action", button)) }

// LightEffectField returns the animation style path for a lighting zone.
func LightEffectField(zone string) Field { return Field("light." + zone + ".effect") }

// LightColorField returns the color path for a lighting zone.
func LightColorField(zone string) Field { return Field("light." + zone + ".color") }

// EffectField returns the path for an effect engine parameter.
func EffectField(name string) Field { return Field("effect." + name) }

// Read-only identity fields populated from device info.
const (
	FieldKind     Field = "info.kind"
	FieldFirmware Field = "info.firmware"
	FieldSerial   Field = "info.serial"
)

// Section returns the first path component ("fader", "route", ...).
func (f Field) Section() string {
	s := string(f)
	if i := strings.IndexByte(s, '.'); i >= 0 {
		return s[:i]
	}
	return s
}

// parts splits the path into its dot-separated components.
func (f Field) parts() []string {
	return strings.Split(string(f), ".")
}

// IsRoute reports whether the field is a routing-matrix cell.
func (f Field) IsRoute() bool {
	return f.Section() == "route"
}

// RouteCell returns the channel and output of a routing field.
func (f Field) RouteCell() (channel, output string, ok bool) {
	p := f.parts()
	if len(p) != 3 || p[0] != "route" {
		return "", "", false
	}
	return p[1], p[2], true
}

// Channel returns the channel a field refers to, if any. Routing
// cells report their source channel, volume/mute fields their
// channel, and fader assignments report no channel (the referenced
// channel is the field's value, not part of its path).
func (f Field) Channel() (string, bool) {
	p := f.parts()
	switch {
	case len(p) == 3 && p[0] == "channel":
		return p[1], true
	case len(p) == 3 && p[0] == "route":
		return p[1], true
	default:
		return "", false
	}
}

func (f Field) String() string { return string(f) }
