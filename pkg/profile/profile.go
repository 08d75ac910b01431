package profile

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mixdeck-audio/mixdeck-go/pkg/state"
)

// ErrInvalid indicates a profile document that cannot be parsed or
// contains fields the registry rejects.
var ErrInvalid = errors.New("invalid profile")

var registry = state.DefaultRegistry()

// Entry is one desired field value.
type Entry struct {
	Field state.Field
	Value any
}

// Profile is the desired state for one device: an ordered set of
// field/value entries. Profiles are not safe for concurrent use;
// callers serialize access.
type Profile struct {
	// Name is an optional human-readable label.
	Name string

	entries []Entry
	index   map[state.Field]int
}

// New returns an empty profile.
func New() *Profile {
	return &Profile{index: make(map[state.Field]int)}
}

// FromSnapshot builds a profile that pins every writable field the
// snapshot knows, in registry order. Used to adopt a device's current
// state as its desired state.
func FromSnapshot(snap state.Snapshot) *Profile {
	p := New()
	for _, f := range registry.Fields() {
		spec, _ := registry.Lookup(f)
		if !spec.Access.CanWrite() {
			continue
		}
		if v, ok := snap.Lookup(f); ok {
			// Values coming out of a snapshot were validated on the
			// way in.
			p.index[f] = len(p.entries)
			p.entries = append(p.entries, Entry{Field: f, Value: v})
		}
	}
	return p
}

// Set validates and stores a desired value. Existing entries keep
// their position; new fields append.
func (p *Profile) Set(f state.Field, value any) error {
	v, err := registry.Validate(f, value, state.KindUnknown)
	if err != nil {
		return err
	}
	if i, ok := p.index[f]; ok {
		p.entries[i].Value = v
		return nil
	}
	p.index[f] = len(p.entries)
	p.entries = append(p.entries, Entry{Field: f, Value: v})
	return nil
}

// Get returns the desired value for a field.
func (p *Profile) Get(f state.Field) (any, bool) {
	i, ok := p.index[f]
	if !ok {
		return nil, false
	}
	return p.entries[i].Value, true
}

// Delete removes a field from the profile.
func (p *Profile) Delete(f state.Field) {
	i, ok := p.index[f]
	if !ok {
		return
	}
	p.entries = append(p.entries[:i], p.entries[i+1:]...)
	delete(p.index, f)
	for j := i; j < len(p.entries); j++ {
		p.index[p.entries[j].Field] = j
	}
}

// Entries returns the entries in declaration order.
func (p *Profile) Entries() []Entry {
	out := make([]Entry, len(p.entries))
	copy(out, p.entries)
	return out
}

// Len returns the number of entries.
func (p *Profile) Len() int {
	return len(p.entries)
}

// Clone returns a deep copy.
func (p *Profile) Clone() *Profile {
	c := New()
	c.Name = p.Name
	c.entries = make([]Entry, len(p.entries))
	copy(c.entries, p.entries)
	for f, i := range p.index {
		c.index[f] = i
	}
	return c
}

// Parse reads a YAML profile document. Mapping order becomes entry
// order. Unknown sections, unknown fields, and out-of-range values
// are rejected.
func Parse(data []byte) (*Profile, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	p := New()
	if doc.Kind == 0 || len(doc.Content) == 0 {
		return p, nil
	}

	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("%w: top level must be a mapping", ErrInvalid)
	}

	for i := 0; i+1 < len(root.Content); i += 2 {
		key, val := root.Content[i], root.Content[i+1]
		var err error
		switch key.Value {
		case "name":
			p.Name = val.Value
		case "fader":
			err = p.parseFlat(val, func(k string) state.Field { return state.FaderField(k) })
		case "channel":
			err = p.parseNested(val, func(ch, leaf string) state.Field {
				if leaf == "mute" {
					return state.MuteField(ch)
				}
				return state.VolumeField(ch)
			})
		case "route":
			err = p.parseNested(val, state.RouteField)
		case "button":
			err = p.parseButtons(val)
		case "light":
			err = p.parseNested(val, func(zone, leaf string) state.Field {
				if leaf == "color" {
					return state.LightColorField(zone)
				}
				return state.LightEffectField(zone)
			})
		case "effect":
			err = p.parseFlat(val, func(k string) state.Field { return state.EffectField(k) })
		default:
			err = fmt.Errorf("%w: line %d: unknown section %q", ErrInvalid, key.Line, key.Value)
		}
		if err != nil {
			return nil, err
		}
	}
	return p, nil
}

// parseFlat handles single-level sections (fader, effect).
func (p *Profile) parseFlat(node *yaml.Node, field func(string) state.Field) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("%w: line %d: expected a mapping", ErrInvalid, node.Line)
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, val := node.Content[i], node.Content[i+1]
		if err := p.setScalar(field(key.Value), val); err != nil {
			return err
		}
	}
	return nil
}

// parseNested handles two-level sections (channel, route, light). The
// channel and light sections pick the field by leaf name; the leaf
// itself is validated through the registry.
func (p *Profile) parseNested(node *yaml.Node, field func(sub, leaf string) state.Field) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("%w: line %d: expected a mapping", ErrInvalid, node.Line)
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		sub, inner := node.Content[i], node.Content[i+1]
		if inner.Kind != yaml.MappingNode {
			return fmt.Errorf("%w: line %d: expected a mapping under %q", ErrInvalid, inner.Line, sub.Value)
		}
		for j := 0; j+1 < len(inner.Content); j += 2 {
			leaf, val := inner.Content[j], inner.Content[j+1]
			f := field(sub.Value, leaf.Value)
			// Reject leaves the constructor cannot express, like
			// channel.mic.gain falling back to the volume field.
			if !strings.HasSuffix(string(f), "."+leaf.Value) {
				return fmt.Errorf("%w: line %d: unknown key %q", ErrInvalid, leaf.Line, leaf.Value)
			}
			if err := p.setScalar(f, val); err != nil {
				return err
			}
		}
	}
	return nil
}

// parseButtons handles the button section, where the YAML key is the
// button number and the value is the action.
func (p *Profile) parseButtons(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("%w: line %d: expected a mapping", ErrInvalid, node.Line)
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, val := node.Content[i], node.Content[i+1]
		n, err := strconv.Atoi(key.Value)
		if err != nil {
			return fmt.Errorf("%w: line %d: button key %q is not a number", ErrInvalid, key.Line, key.Value)
		}
		if err := p.setScalar(state.ButtonField(n), val); err != nil {
			return err
		}
	}
	return nil
}

func (p *Profile) setScalar(f state.Field, node *yaml.Node) error {
	var v any
	if err := node.Decode(&v); err != nil {
		return fmt.Errorf("%w: line %d: %v", ErrInvalid, node.Line, err)
	}
	if err := p.Set(f, v); err != nil {
		return fmt.Errorf("%w: line %d: %v", ErrInvalid, node.Line, err)
	}
	return nil
}

// Encode renders the profile as YAML, sections and keys in entry
// declaration order.
func (p *Profile) Encode() ([]byte, error) {
	root := &yaml.Node{Kind: yaml.MappingNode}

	if p.Name != "" {
		if err := appendKV(root, "name", p.Name); err != nil {
			return nil, err
		}
	}

	for _, e := range p.entries {
		parts := strings.Split(string(e.Field), ".")
		sec := ensureMapping(root, parts[0])
		var err error
		switch parts[0] {
		case "fader", "effect":
			err = appendKV(sec, parts[1], e.Value)
		case "button":
			err = appendKV(sec, parts[1], e.Value)
		case "channel", "route", "light":
			err = appendKV(ensureMapping(sec, parts[1]), parts[2], e.Value)
		default:
			err = fmt.Errorf("%w: field %s has no section", ErrInvalid, e.Field)
		}
		if err != nil {
			return nil, err
		}
	}

	return yaml.Marshal(root)
}

// ensureMapping returns the mapping under key, creating it if absent.
func ensureMapping(parent *yaml.Node, key string) *yaml.Node {
	for i := 0; i+1 < len(parent.Content); i += 2 {
		if parent.Content[i].Value == key {
			return parent.Content[i+1]
		}
	}
	k := &yaml.Node{Kind: yaml.ScalarNode, Value: key}
	v := &yaml.Node{Kind: yaml.MappingNode}
	parent.Content = append(parent.Content, k, v)
	return v
}

// appendKV appends a scalar key/value pair to a mapping node.
func appendKV(parent *yaml.Node, key string, value any) error {
	k := &yaml.Node{Kind: yaml.ScalarNode, Value: key}
	v := &yaml.Node{}
	if err := v.Encode(value); err != nil {
		return err
	}
	parent.Content = append(parent.Content, k, v)
	return nil
}
