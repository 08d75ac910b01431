package profile

import (
	"testing"

	"github.com/mixdeck-audio/mixdeck-go/pkg/state"
)

func TestDefaultProfile(t *testing.T) {
	p := Default()

	if p.Name != "default" {
		t.Errorf("Name = %q, want default", p.Name)
	}
	for _, ch := range state.ChannelNames {
		if v, ok := p.Get(state.VolumeField(ch)); !ok || v != int64(128) {
			t.Errorf("%s volume = %v, want 128", ch, v)
		}
		if v, ok := p.Get(state.MuteField(ch)); !ok || v != false {
			t.Errorf("%s mute = %v, want false", ch, v)
		}
		if v, ok := p.Get(state.RouteField(ch, "headphones")); !ok || v != true {
			t.Errorf("%s headphones route = %v, want true", ch, v)
		}
	}
	if v, _ := p.Get(state.FaderField("a")); v != "mic" {
		t.Errorf("fader a = %v, want mic", v)
	}
	if _, ok := p.Get(state.EffectField("reverb")); ok {
		t.Error("default profile pins effect parameters")
	}
}

func TestStreamingProfile(t *testing.T) {
	p := Streaming()

	if p.Name != "streaming" {
		t.Errorf("Name = %q, want streaming", p.Name)
	}
	// Music must stay off the stream bus while voice and game are on it.
	if v, ok := p.Get(state.RouteField("music", "stream")); !ok || v != false {
		t.Errorf("music stream route = %v, want pinned false", v)
	}
	if v, _ := p.Get(state.RouteField("mic", "stream")); v != true {
		t.Errorf("mic stream route = %v, want true", v)
	}
	if v, _ := p.Get(state.RouteField("game", "stream")); v != true {
		t.Errorf("game stream route = %v, want true", v)
	}
	if v, _ := p.Get(state.MuteField("linein")); v != true {
		t.Errorf("linein mute = %v, want true", v)
	}
	if v, _ := p.Get(state.ButtonField(4)); v != "sample-play-1" {
		t.Errorf("button 4 = %v, want sample-play-1", v)
	}
	if v, _ := p.Get(state.EffectField("reverb")); v != int64(20) {
		t.Errorf("reverb = %v, want 20", v)
	}
}

// TestBuiltinsRoundTrip encodes each built-in and parses it back: the
// templates the CLI prints must survive the same path user files take.
func TestBuiltinsRoundTrip(t *testing.T) {
	for _, p := range []*Profile{Default(), Streaming()} {
		t.Run(p.Name, func(t *testing.T) {
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
			if back.Len() != p.Len() {
				t.Fatalf("Len() = %d, want %d", back.Len(), p.Len())
			}
			for _, e := range p.Entries() {
				got, ok := back.Get(e.Field)
				if !ok {
					t.Errorf("%s missing after round trip", e.Field)
					continue
				}
				if !state.ValuesEqual(got, e.Value) {
					t.Errorf("%s = %v, want %v", e.Field, got, e.Value)
				}
			}
		})
	}
}
