package state

import (
	"errors"
	"testing"
)

func TestRegistryValidate(t *testing.T) {
	reg := NewRegistry()

	tests := []struct {
		name    string
		field   Field
		value   any
		kind    Kind
		want    any
		wantErr error
	}{
		{"Volume", VolumeField("mic"), 80, KindStudio, int64(80), nil},
		{"VolumeFromUint", VolumeField("mic"), uint64(255), KindStudio, int64(255), nil},
		{"VolumeFromJSONFloat", VolumeField("mic"), float64(80), KindStudio, int64(80), nil},
		{"VolumeTooHigh", VolumeField("mic"), 256, KindStudio, nil, ErrValueRange},
		{"VolumeNegative", VolumeField("mic"), -1, KindStudio, nil, ErrValueRange},
		{"VolumeWrongType", VolumeField("mic"), "loud", KindStudio, nil, ErrValueType},
		{"Mute", MuteField("chat"), true, KindCompact, true, nil},
		{"MuteWrongType", MuteField("chat"), 1, KindCompact, nil, ErrValueType},
		{"Route", RouteField("mic", "stream"), true, KindCompact, true, nil},
		{"FaderAssign", FaderField("a"), "music", KindStudio, "music", nil},
		{"FaderBadChannel", FaderField("a"), "tape", KindStudio, nil, ErrValueRange},
		{"Color", LightColorField("logo"), "#ff00aa", KindCompact, "#FF00AA", nil},
		{"ColorBad", LightColorField("logo"), "red", KindCompact, nil, ErrValueRange},
		{"Effect", EffectField("reverb"), 40, KindStudio, int64(40), nil},
		{"EffectOnCompact", EffectField("reverb"), 40, KindCompact, nil, ErrKindUnsupported},
		{"EffectKindUnknown", EffectField("reverb"), 40, KindUnknown, int64(40), nil},
		{"SamplerActionOnCompact", ButtonField(1), "sample-play-1", KindCompact, nil, ErrKindUnsupported},
		{"SamplerActionOnStudio", ButtonField(1), "sample-play-1", KindStudio, "sample-play-1", nil},
		{"PlainActionOnCompact", ButtonField(1), "mute-self", KindCompact, "mute-self", nil},
		{"ReadOnly", FieldFirmware, "1.2.3", KindStudio, nil, ErrFieldReadOnly},
		{"UnknownPath", Field("mixer.gain"), 1, KindStudio, nil, ErrUnknownField},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := reg.Validate(tt.field, tt.value, tt.kind)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Validate() error = %v, want %v", err, tt.wantErr)
				}
				if !IsRejected(err) {
					t.Errorf("IsRejected(%v) = false", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Validate() failed: %v", err)
			}
			if !ValuesEqual(got, tt.want) {
				t.Errorf("Validate() = %v (%T), want %v (%T)", got, got, tt.want, tt.want)
			}
		})
	}
}

func TestRegistryFields(t *testing.T) {
	reg := NewRegistry()
	fields := reg.Fields()

	// 4 faders + 8 channels x (volume, mute) + 8x5 routes + 8 buttons
	// + 13 zones x (effect, color) + 6 effects + 3 info fields.
	want := 4 + 16 + 40 + 8 + 26 + 6 + 3
	if len(fields) != want {
		t.Errorf("registry has %d fields, want %d", len(fields), want)
	}

	for _, f := range fields {
		if _, ok := reg.Lookup(f); !ok {
			t.Errorf("Fields() returned unregistered path %s", f)
		}
	}
}

func TestIsRejectedExcludesOtherErrors(t *testing.T) {
	if IsRejected(errors.New("i/o failure")) {
		t.Error("IsRejected matched an unrelated error")
	}
	if IsRejected(nil) {
		t.Error("IsRejected matched nil")
	}
}
