package state

import (
	"errors"
	"fmt"
)

// Field validation errors. All of them mean the mutation is rejected
// before any command reaches the device; IsRejected matches the whole
// family.
var (
	ErrUnknownField    = errors.New("unknown field path")
	ErrFieldReadOnly   = errors.New("field is read-only")
	ErrValueType       = errors.New("invalid value type for field")
	ErrValueRange      = errors.New("value out of range")
	ErrKindUnsupported = errors.New("field not supported by this hardware kind")
)

// IsRejected reports whether err is a field validation failure, as
// opposed to an I/O or device error.
func IsRejected(err error) bool {
	return errors.Is(err, ErrUnknownField) ||
		errors.Is(err, ErrFieldReadOnly) ||
		errors.Is(err, ErrValueType) ||
		errors.Is(err, ErrValueRange) ||
		errors.Is(err, ErrKindUnsupported)
}

// Access flags for fields.
type Access uint8

const (
	// AccessRead allows reading the field.
	AccessRead Access = 1 << iota

	// AccessWrite allows writing the field.
	AccessWrite

	// AccessReadOnly marks fields populated from device info.
	AccessReadOnly = AccessRead

	// AccessReadWrite marks configurable fields.
	AccessReadWrite = AccessRead | AccessWrite
)

// CanWrite returns true if writing is allowed.
func (a Access) CanWrite() bool { return a&AccessWrite != 0 }

// DataType is the value type of a field.
type DataType uint8

const (
	DataTypeBool DataType = iota
	DataTypeInt
	DataTypeString
	DataTypeColor
)

// String returns the data type name.
func (d DataType) String() string {
	switch d {
	case DataTypeBool:
		return "bool"
	case DataTypeInt:
		return "int"
	case DataTypeString:
		return "string"
	case DataTypeColor:
		return "color"
	default:
		return "unknown"
	}
}

// FieldSpec describes one field's type, constraints, and access.
type FieldSpec struct {
	// Path is the field's address.
	Path Field

	// Type is the value type.
	Type DataType

	// Access defines the allowed operations.
	Access Access

	// Min and Max bound integer values (inclusive).
	Min, Max int64

	// Enum lists the valid string values (nil for free-form).
	Enum []string

	// StudioOnly marks fields absent on Compact hardware.
	StudioOnly bool
}

// Registry is the closed set of valid field paths with their specs.
type Registry struct {
	specs map[Field]*FieldSpec
	order []Field
}

// defaultRegistry is the shared instance. A Registry is immutable
// after construction and safe for concurrent use.
var defaultRegistry = NewRegistry()

// DefaultRegistry returns the process-wide field registry.
func DefaultRegistry() *Registry {
	return defaultRegistry
}

// NewRegistry builds the full MixDeck field registry.
func NewRegistry() *Registry {
	r := &Registry{specs: make(map[Field]*FieldSpec)}

	for _, f := range FaderNames {
		r.add(&FieldSpec{Path: FaderField(f), Type: DataTypeString, Access: AccessReadWrite, Enum: ChannelNames})
	}
	for _, ch := range ChannelNames {
		r.add(&FieldSpec{Path: VolumeField(ch), Type: DataTypeInt, Access: AccessReadWrite, Min: 0, Max: 255})
		r.add(&FieldSpec{Path: MuteField(ch), Type: DataTypeBool, Access: AccessReadWrite})
	}
	for _, ch := range ChannelNames {
		for _, out := range OutputNames {
			r.add(&FieldSpec{Path: RouteField(ch, out), Type: DataTypeBool, Access: AccessReadWrite})
		}
	}
	for b := 1; b <= ButtonCount; b++ {
		r.add(&FieldSpec{Path: ButtonField(b), Type: DataTypeString, Access: AccessReadWrite, Enum: ActionNames})
	}
	for _, z := range ZoneNames {
		r.add(&FieldSpec{Path: LightEffectField(z), Type: DataTypeString, Access: AccessReadWrite, Enum: LightEffectNames})
		r.add(&FieldSpec{Path: LightColorField(z), Type: DataTypeColor, Access: AccessReadWrite})
	}
	for _, e := range EffectNames {
		r.add(&FieldSpec{Path: EffectField(e), Type: DataTypeInt, Access: AccessReadWrite, Min: 0, Max: 100, StudioOnly: true})
	}
	r.add(&FieldSpec{Path: FieldKind, Type: DataTypeString, Access: AccessReadOnly})
	r.add(&FieldSpec{Path: FieldFirmware, Type: DataTypeString, Access: AccessReadOnly})
	r.add(&FieldSpec{Path: FieldSerial, Type: DataTypeString, Access: AccessReadOnly})

	return r
}

func (r *Registry) add(spec *FieldSpec) {
	r.specs[spec.Path] = spec
	r.order = append(r.order, spec.Path)
}

// Lookup returns the FieldSpec for a path.
func (r *Registry) Lookup(f Field) (*FieldSpec, bool) {
	spec, ok := r.specs[f]
	return spec, ok
}

// Fields returns all registered paths in registration order.
func (r *Registry) Fields() []Field {
	out := make([]Field, len(r.order))
	copy(out, r.order)
	return out
}

// Validate checks a write against the registry and returns the
// normalized value to store. kind gates Studio-only fields; pass
// KindUnknown to skip the gate (profile load time, before the
// hardware kind is known).
func (r *Registry) Validate(f Field, value any, kind Kind) (any, error) {
	spec, ok := r.specs[f]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownField, f)
	}
	if !spec.Access.CanWrite() {
		return nil, fmt.Errorf("%w: %s", ErrFieldReadOnly, f)
	}
	if spec.StudioOnly && kind == KindCompact {
		return nil, fmt.Errorf("%w: %s", ErrKindUnsupported, f)
	}
	v, err := spec.normalize(value)
	if err != nil {
		return nil, err
	}
	// Sampler actions exist on Studio hardware only.
	if spec.Path.Section() == "button" && kind == KindCompact {
		if s, _ := v.(string); isSamplerAction(s) {
			return nil, fmt.Errorf("%w: action %q", ErrKindUnsupported, s)
		}
	}
	return v, nil
}

// normalize checks type and constraints and returns the canonical
// stored representation.
func (spec *FieldSpec) normalize(value any) (any, error) {
	switch spec.Type {
	case DataTypeBool:
		b, ok := value.(bool)
		if !ok {
			return nil, fmt.Errorf("%w: %s expects bool", ErrValueType, spec.Path)
		}
		return b, nil

	case DataTypeInt:
		n, ok := normalizeInt(value)
		if !ok {
			return nil, fmt.Errorf("%w: %s expects integer", ErrValueType, spec.Path)
		}
		if n < spec.Min || n > spec.Max {
			return nil, fmt.Errorf("%w: %s value %d not in [%d, %d]", ErrValueRange, spec.Path, n, spec.Min, spec.Max)
		}
		return n, nil

	case DataTypeString:
		s, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("%w: %s expects string", ErrValueType, spec.Path)
		}
		if spec.Enum != nil && indexOf(spec.Enum, s) < 0 {
			return nil, fmt.Errorf("%w: %s value %q not one of %v", ErrValueRange, spec.Path, s, spec.Enum)
		}
		return s, nil

	case DataTypeColor:
		s, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("%w: %s expects #RRGGBB string", ErrValueType, spec.Path)
		}
		c, err := normalizeColor(s)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrValueRange, spec.Path, err)
		}
		return c, nil

	default:
		return nil, fmt.Errorf("%w: %s has unknown type", ErrValueType, spec.Path)
	}
}

func isSamplerAction(s string) bool {
	return len(s) > 7 && s[:7] == "sample-"
}
