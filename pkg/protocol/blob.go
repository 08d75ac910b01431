package protocol

import (
	"encoding/binary"
	"fmt"

	"github.com/mixdeck-audio/mixdeck-go/pkg/state"
)

// State blob section tags.
const (
	tagInfo    uint8 = 0x01
	tagFaders  uint8 = 0x02
	tagVolumes uint8 = 0x03
	tagMutes   uint8 = 0x04
	tagRoutes  uint8 = 0x05
	tagButtons uint8 = 0x06
	tagLights  uint8 = 0x07
	tagEffects uint8 = 0x08
)

// DeviceInfo is the identity section of a state blob.
type DeviceInfo struct {
	Kind     state.Kind
	Firmware [3]uint8
	Serial   string
}

// FirmwareString renders the firmware version as "maj.min.patch".
func (d DeviceInfo) FirmwareString() string {
	return fmt.Sprintf("%d.%d.%d", d.Firmware[0], d.Firmware[1], d.Firmware[2])
}

// ButtonEntry is one button binding in a blob (wire indexes).
type ButtonEntry struct {
	Button uint8 // 0-based
	Action uint8
}

// LightEntry is one lighting zone in a blob (wire indexes).
type LightEntry struct {
	Zone    uint8
	Effect  uint8
	R, G, B uint8
}

// EffectEntry is one effect parameter in a blob (wire indexes).
type EffectEntry struct {
	Effect uint8
	Value  uint8
}

// Blob is a decoded device state blob. Nil sections were absent,
// which a delta blob uses to carry only the changed groups.
type Blob struct {
	Info    *DeviceInfo
	Faders  *[4]uint8
	Volumes *[8]uint8
	Mutes   *uint8
	Routes  *[8]uint8
	Buttons []ButtonEntry
	Lights  []LightEntry
	Effects []EffectEntry
}

// EncodeBlob renders the present sections as TLV bytes.
func EncodeBlob(b *Blob) ([]byte, error) {
	var out []byte
	section := func(tag uint8, value []byte) {
		out = append(out, tag)
		out = binary.LittleEndian.AppendUint16(out, uint16(len(value)))
		out = append(out, value...)
	}

	if b.Info != nil {
		if len(b.Info.Serial) > 64 {
			return nil, fmt.Errorf("%w: serial %d bytes", ErrPayloadTooLarge, len(b.Info.Serial))
		}
		v := make([]byte, 0, 4+len(b.Info.Serial))
		v = append(v, uint8(b.Info.Kind))
		v = append(v, b.Info.Firmware[:]...)
		v = append(v, b.Info.Serial...)
		section(tagInfo, v)
	}
	if b.Faders != nil {
		section(tagFaders, b.Faders[:])
	}
	if b.Volumes != nil {
		section(tagVolumes, b.Volumes[:])
	}
	if b.Mutes != nil {
		section(tagMutes, []byte{*b.Mutes})
	}
	if b.Routes != nil {
		section(tagRoutes, b.Routes[:])
	}
	if b.Buttons != nil {
		v := make([]byte, 0, len(b.Buttons)*2)
		for _, e := range b.Buttons {
			v = append(v, e.Button, e.Action)
		}
		section(tagButtons, v)
	}
	if b.Lights != nil {
		v := make([]byte, 0, len(b.Lights)*5)
		for _, e := range b.Lights {
			v = append(v, e.Zone, e.Effect, e.R, e.G, e.B)
		}
		section(tagLights, v)
	}
	if b.Effects != nil {
		v := make([]byte, 0, len(b.Effects)*2)
		for _, e := range b.Effects {
			v = append(v, e.Effect, e.Value)
		}
		section(tagEffects, v)
	}
	return out, nil
}

// DecodeBlob parses TLV bytes. Unknown tags are skipped; short
// sections fail the whole blob.
func DecodeBlob(data []byte) (*Blob, error) {
	b := &Blob{}
	for len(data) > 0 {
		if len(data) < 3 {
			return nil, fmt.Errorf("%w: %d trailing bytes", ErrBlobTruncated, len(data))
		}
		tag := data[0]
		length := int(binary.LittleEndian.Uint16(data[1:3]))
		data = data[3:]
		if length > len(data) {
			return nil, fmt.Errorf("%w: section 0x%02X wants %d of %d bytes", ErrBlobTruncated, tag, length, len(data))
		}
		value := data[:length]
		data = data[length:]

		if err := b.decodeSection(tag, value); err != nil {
			return nil, err
		}
	}
	return b, nil
}

func (b *Blob) decodeSection(tag uint8, value []byte) error {
	badSize := func() error {
		return fmt.Errorf("%w: section 0x%02X with %d bytes", ErrPayloadSize, tag, len(value))
	}

	switch tag {
	case tagInfo:
		if len(value) < 4 {
			return badSize()
		}
		info := &DeviceInfo{Kind: state.Kind(value[0]), Serial: string(value[4:])}
		copy(info.Firmware[:], value[1:4])
		b.Info = info

	case tagFaders:
		if len(value) != 4 {
			return badSize()
		}
		var faders [4]uint8
		copy(faders[:], value)
		b.Faders = &faders

	case tagVolumes:
		if len(value) != 8 {
			return badSize()
		}
		var vols [8]uint8
		copy(vols[:], value)
		b.Volumes = &vols

	case tagMutes:
		if len(value) != 1 {
			return badSize()
		}
		m := value[0]
		b.Mutes = &m

	case tagRoutes:
		if len(value) != 8 {
			return badSize()
		}
		var routes [8]uint8
		copy(routes[:], value)
		b.Routes = &routes

	case tagButtons:
		if len(value)%2 != 0 {
			return badSize()
		}
		entries := make([]ButtonEntry, 0, len(value)/2)
		for i := 0; i < len(value); i += 2 {
			entries = append(entries, ButtonEntry{Button: value[i], Action: value[i+1]})
		}
		b.Buttons = entries

	case tagLights:
		if len(value)%5 != 0 {
			return badSize()
		}
		entries := make([]LightEntry, 0, len(value)/5)
		for i := 0; i < len(value); i += 5 {
			entries = append(entries, LightEntry{
				Zone: value[i], Effect: value[i+1],
				R: value[i+2], G: value[i+3], B: value[i+4],
			})
		}
		b.Lights = entries

	case tagEffects:
		if len(value)%2 != 0 {
			return badSize()
		}
		entries := make([]EffectEntry, 0, len(value)/2)
		for i := 0; i < len(value); i += 2 {
			entries = append(entries, EffectEntry{Effect: value[i], Value: value[i+1]})
		}
		b.Effects = entries

	default:
		// Skip unknown sections so newer firmware stays readable.
	}
	return nil
}

// Fields converts the blob's sections to a state delta. Index values
// outside the known name tables fail with ErrBadIndex so a corrupt
// blob never reaches the model.
func (b *Blob) Fields() (state.Delta, error) {
	d := make(state.Delta)

	if b.Info != nil {
		if b.Info.Kind != state.KindStudio && b.Info.Kind != state.KindCompact {
			return nil, fmt.Errorf("%w: kind %d", ErrBadIndex, b.Info.Kind)
		}
		d[state.FieldKind] = b.Info.Kind.String()
		d[state.FieldFirmware] = b.Info.FirmwareString()
		d[state.FieldSerial] = b.Info.Serial
	}
	if b.Faders != nil {
		for i, ch := range b.Faders {
			name, err := channelName(ch)
			if err != nil {
				return nil, err
			}
			d[state.FaderField(state.FaderNames[i])] = name
		}
	}
	if b.Volumes != nil {
		for i, v := range b.Volumes {
			d[state.VolumeField(state.ChannelNames[i])] = int64(v)
		}
	}
	if b.Mutes != nil {
		for i, ch := range state.ChannelNames {
			d[state.MuteField(ch)] = *b.Mutes&(1<<uint(i)) != 0
		}
	}
	if b.Routes != nil {
		for i, mask := range b.Routes {
			for j, out := range state.OutputNames {
				d[state.RouteField(state.ChannelNames[i], out)] = mask&(1<<uint(j)) != 0
			}
		}
	}
	for _, e := range b.Buttons {
		if int(e.Button) >= state.ButtonCount {
			return nil, fmt.Errorf("%w: button %d", ErrBadIndex, e.Button)
		}
		action, err := actionName(e.Action)
		if err != nil {
			return nil, err
		}
		d[state.ButtonField(int(e.Button)+1)] = action
	}
	for _, e := range b.Lights {
		zone, err := zoneName(e.Zone)
		if err != nil {
			return nil, err
		}
		effect, err := lightEffectName(e.Effect)
		if err != nil {
			return nil, err
		}
		d[state.LightEffectField(zone)] = effect
		d[state.LightColorField(zone)] = state.FormatColor(e.R, e.G, e.B)
	}
	for _, e := range b.Effects {
		name, err := effectName(e.Effect)
		if err != nil {
			return nil, err
		}
		d[state.EffectField(name)] = int64(e.Value)
	}
	return d, nil
}
