package profile

import (
	"fmt"

	"github.com/mixdeck-audio/mixdeck-go/pkg/state"
)

// Built-in profiles. They serve as starting points for hand-edited
// profile files (mixdeck-cli template) and as realistic fixtures in
// tests.

// Default returns the factory baseline: every channel at half volume
// routed to the headphones, nothing muted, steady white lighting, and
// the first three buttons on the non-sampler actions.
func Default() *Profile {
	entries := []Entry{
		{state.FaderField("a"), "mic"},
		{state.FaderField("b"), "music"},
		{state.FaderField("c"), "game"},
		{state.FaderField("d"), "system"},
	}
	for _, ch := range state.ChannelNames {
		entries = append(entries,
			Entry{state.VolumeField(ch), 128},
			Entry{state.MuteField(ch), false},
		)
	}
	for _, ch := range state.ChannelNames {
		entries = append(entries, Entry{state.RouteField(ch, "headphones"), true})
	}
	entries = append(entries,
		Entry{state.ButtonField(1), "mute-self"},
		Entry{state.ButtonField(2), "mute-chat"},
		Entry{state.ButtonField(3), "swap-profile"},
	)
	for _, z := range []string{"fader-a", "fader-b", "fader-c", "fader-d", "logo"} {
		entries = append(entries,
			Entry{state.LightEffectField(z), "steady"},
			Entry{state.LightColorField(z), "#FFFFFF"},
		)
	}
	return built("default", entries)
}

// Streaming returns a profile tuned for single-PC streaming: voice and
// game on the stream bus, music kept out of it so recordings stay
// clean, unused line-in muted, and a sampler button mapped for Studio
// hardware.
func Streaming() *Profile {
	entries := []Entry{
		{state.FaderField("a"), "mic"},
		{state.FaderField("b"), "game"},
		{state.FaderField("c"), "music"},
		{state.FaderField("d"), "chat"},

		{state.VolumeField("mic"), 200},
		{state.VolumeField("game"), 160},
		{state.VolumeField("music"), 120},
		{state.VolumeField("chat"), 180},
		{state.VolumeField("system"), 140},

		{state.MuteField("linein"), true},

		{state.RouteField("mic", "headphones"), true},
		{state.RouteField("mic", "stream"), true},
		{state.RouteField("game", "headphones"), true},
		{state.RouteField("game", "stream"), true},
		{state.RouteField("chat", "headphones"), true},
		{state.RouteField("chat", "stream"), true},
		{state.RouteField("music", "headphones"), true},
		{state.RouteField("music", "stream"), false},
		{state.RouteField("system", "headphones"), true},

		{state.ButtonField(1), "mute-self"},
		{state.ButtonField(2), "mute-chat"},
		{state.ButtonField(3), "swap-profile"},
		{state.ButtonField(4), "sample-play-1"},

		{state.LightEffectField("fader-a"), "steady"},
		{state.LightColorField("fader-a"), "#FF4655"},
		{state.LightEffectField("logo"), "pulse"},
		{state.LightColorField("logo"), "#8A2BE2"},

		{state.EffectField("reverb"), 20},
		{state.EffectField("echo"), 10},
	}
	return built("streaming", entries)
}

// built assembles a profile from literal entries. The entry lists are
// fixed at compile time, so a validation failure is a programming
// error, not an input error.
func built(name string, entries []Entry) *Profile {
	p := New()
	p.Name = name
	for _, e := range entries {
		if err := p.Set(e.Field, e.Value); err != nil {
			panic(fmt.Sprintf("profile: built-in %q: %v", name, err))
		}
	}
	return p
}
