package profile

import (
	"errors"
	"reflect"
	"testing"

	"github.com/mixdeck-audio/mixdeck-go/pkg/state"
)

const sampleDoc = `name: streaming
fader:
  a: mic
  b: music
channel:
  mic:
    volume: 192
    mute: false
  music:
    volume: 128
route:
  mic:
    headphones: true
    stream: true
button:
  1: mute-self
  3: sample-play-1
light:
  fader-a:
    effect: gradient
    color: "#00ff80"
effect:
  reverb: 40
`

func TestParseFullDocument(t *testing.T) {
	p, err := Parse([]byte(sampleDoc))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if p.Name != "streaming" {
		t.Errorf("Name = %q, want %q", p.Name, "streaming")
	}
	if p.Len() != 12 {
		t.Errorf("Len() = %d, want 12", p.Len())
	}

	tests := []struct {
		field state.Field
		want  any
	}{
		{state.FaderField("a"), "mic"},
		{state.FaderField("b"), "music"},
		{state.VolumeField("mic"), int64(192)},
		{state.MuteField("mic"), false},
		{state.VolumeField("music"), int64(128)},
		{state.RouteField("mic", "headphones"), true},
		{state.RouteField("mic", "stream"), true},
		{state.ButtonField(1), "mute-self"},
		{state.ButtonField(3), "sample-play-1"},
		{state.LightEffectField("fader-a"), "gradient"},
		{state.LightColorField("fader-a"), "#00FF80"}, // normalized to upper case
		{state.EffectField("reverb"), int64(40)},
	}

	for _, tt := range tests {
		got, ok := p.Get(tt.field)
		if !ok {
			t.Errorf("Get(%s): missing", tt.field)
			continue
		}
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("Get(%s) = %v (%T), want %v (%T)", tt.field, got, got, tt.want, tt.want)
		}
	}
}

func TestParsePreservesDeclarationOrder(t *testing.T) {
	p, err := Parse([]byte(sampleDoc))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	want := []state.Field{
		state.FaderField("a"),
		state.FaderField("b"),
		state.VolumeField("mic"),
		state.MuteField("mic"),
		state.VolumeField("music"),
		state.RouteField("mic", "headphones"),
		state.RouteField("mic", "stream"),
		state.ButtonField(1),
		state.ButtonField(3),
		state.LightEffectField("fader-a"),
		state.LightColorField("fader-a"),
	}

	entries := p.Entries()
	if len(entries) != len(want)+1 {
		t.Fatalf("got %d entries, want %d", len(entries), len(want)+1)
	}
	for i, f := range want {
		if entries[i].Field != f {
			t.Errorf("entry %d = %s, want %s", i, entries[i].Field, f)
		}
	}
	if last := entries[len(entries)-1].Field; last != state.EffectField("reverb") {
		t.Errorf("last entry = %s, want effect.reverb", last)
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"NotYAML", "fader: [unclosed"},
		{"TopLevelSequence", "- a\n- b\n"},
		{"UnknownSection", "mixer:\n  gain: 3\n"},
		{"UnknownChannel", "channel:\n  vocals:\n    volume: 10\n"},
		{"UnknownChannelLeaf", "channel:\n  mic:\n    gain: 10\n"},
		{"UnknownLightLeaf", "light:\n  logo:\n    brightness: 7\n"},
		{"VolumeOutOfRange", "channel:\n  mic:\n    volume: 300\n"},
		{"VolumeWrongType", "channel:\n  mic:\n    volume: loud\n"},
		{"BadColor", "light:\n  logo:\n    color: \"red\"\n"},
		{"BadButtonKey", "button:\n  first: mute-self\n"},
		{"ButtonOutOfRange", "button:\n  9: mute-self\n"},
		{"UnknownAction", "button:\n  1: explode\n"},
		{"ScalarSection", "fader: mic\n"},
		{"ScalarSubsection", "route:\n  mic: yes\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			if !errors.Is(err, ErrInvalid) {
				t.Fatalf("Parse() error = %v, want ErrInvalid", err)
			}
		})
	}
}

func TestParseEmptyDocument(t *testing.T) {
	p, err := Parse(nil)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if p.Len() != 0 {
		t.Errorf("Len() = %d, want 0", p.Len())
	}
}

func TestSetUpdatesInPlace(t *testing.T) {
	p := New()
	if err := p.Set(state.VolumeField("mic"), 100); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := p.Set(state.MuteField("mic"), true); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := p.Set(state.VolumeField("mic"), 200); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	entries := p.Entries()
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[0].Field != state.VolumeField("mic") || entries[0].Value != int64(200) {
		t.Errorf("entry 0 = %+v, want mic volume 200 in original position", entries[0])
	}
}

func TestSetRejectsInvalid(t *testing.T) {
	p := New()

	if err := p.Set(state.Field("tone.bass"), 1); !errors.Is(err, state.ErrUnknownField) {
		t.Errorf("unknown field error = %v, want ErrUnknownField", err)
	}
	if err := p.Set(state.FieldSerial, "X"); !errors.Is(err, state.ErrFieldReadOnly) {
		t.Errorf("read-only error = %v, want ErrFieldReadOnly", err)
	}
	if err := p.Set(state.VolumeField("mic"), "up"); !errors.Is(err, state.ErrValueType) {
		t.Errorf("type error = %v, want ErrValueType", err)
	}
}

func TestDelete(t *testing.T) {
	p := New()
	p.Set(state.VolumeField("mic"), 10)
	p.Set(state.VolumeField("chat"), 20)
	p.Set(state.VolumeField("music"), 30)

	p.Delete(state.VolumeField("chat"))

	if p.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", p.Len())
	}
	if _, ok := p.Get(state.VolumeField("chat")); ok {
		t.Error("deleted field still present")
	}
	if v, _ := p.Get(state.VolumeField("music")); v != int64(30) {
		t.Errorf("music volume = %v, want 30 (index must be rebuilt)", v)
	}

	// Deleting an absent field is a no-op
	p.Delete(state.VolumeField("chat"))
}

func TestEncodeRoundTrip(t *testing.T) {
	p, err := Parse([]byte(sampleDoc))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	data, err := p.Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	back, err := Parse(data)
	if err != nil {
		t.Fatalf("reparse failed: %v\n%s", err, data)
	}

	if back.Name != p.Name {
		t.Errorf("Name = %q, want %q", back.Name, p.Name)
	}
	if !reflect.DeepEqual(back.Entries(), p.Entries()) {
		t.Errorf("entries changed across round trip:\nbefore: %+v\nafter:  %+v", p.Entries(), back.Entries())
	}
}

func TestFromSnapshot(t *testing.T) {
	snap := state.Snapshot{
		Version: 3,
		Kind:    state.KindStudio,
		Fields: map[state.Field]any{
			state.FieldKind:             "studio",
			state.FieldSerial:           "MD-0001",
			state.FaderField("a"):       "mic",
			state.VolumeField("mic"):    int64(192),
			state.MuteField("mic"):      false,
			state.EffectField("reverb"): int64(40),
		},
	}

	p := FromSnapshot(snap)

	if p.Len() != 4 {
		t.Fatalf("Len() = %d, want 4 (read-only info fields excluded)", p.Len())
	}
	if _, ok := p.Get(state.FieldSerial); ok {
		t.Error("read-only field adopted into profile")
	}
	if v, _ := p.Get(state.VolumeField("mic")); v != int64(192) {
		t.Errorf("mic volume = %v, want 192", v)
	}
}

func TestClone(t *testing.T) {
	p := New()
	p.Name = "base"
	p.Set(state.VolumeField("mic"), 100)

	c := p.Clone()
	c.Set(state.VolumeField("mic"), 200)
	c.Set(state.MuteField("mic"), true)

	if v, _ := p.Get(state.VolumeField("mic")); v != int64(100) {
		t.Errorf("original changed by clone mutation: %v", v)
	}
	if p.Len() != 1 {
		t.Errorf("original gained entries: %d", p.Len())
	}
}
