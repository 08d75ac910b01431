package reconcile

import (
	"github.com/mixdeck-audio/mixdeck-go/pkg/profile"
	"github.com/mixdeck-audio/mixdeck-go/pkg/state"
)

var registry = state.DefaultRegistry()

// Diff returns the ordered commands that move the snapshot to the
// profile's desired values. Fields the snapshot does not know yet are
// always asserted. Fields the hardware kind cannot express are
// skipped, so a Studio profile on Compact hardware converges instead
// of rejecting forever.
func Diff(p *profile.Profile, snap state.Snapshot) []state.Command {
	changed := make([]state.Command, 0)

	for _, e := range p.Entries() {
		if skipForKind(e, snap.Kind) {
			continue
		}
		if observed, ok := snap.Lookup(e.Field); ok && state.ValuesEqual(e.Value, observed) {
			continue
		}
		changed = append(changed, state.Command{Path: e.Field, Value: e.Value})
	}

	return orderCommands(changed)
}

// skipForKind filters fields Compact hardware does not have.
func skipForKind(e profile.Entry, kind state.Kind) bool {
	if kind != state.KindCompact {
		return false
	}
	if spec, ok := registry.Lookup(e.Field); ok && spec.StudioOnly {
		return true
	}
	if e.Field.Section() == "button" {
		if _, err := registry.Validate(e.Field, e.Value, kind); err != nil {
			return true
		}
	}
	return false
}

// orderCommands keeps declaration order but hoists routing changes
// above commands that depend on the same channel.
func orderCommands(changed []state.Command) []state.Command {
	out := make([]state.Command, 0, len(changed))
	emitted := make([]bool, len(changed))

	for i, c := range changed {
		if emitted[i] {
			continue
		}
		if ch, ok := dependsOnChannel(c); ok {
			for j := i + 1; j < len(changed); j++ {
				if emitted[j] {
					continue
				}
				if rch, ok := routeChannel(changed[j]); ok && rch == ch {
					out = append(out, changed[j])
					emitted[j] = true
				}
			}
		}
		out = append(out, c)
		emitted[i] = true
	}

	return out
}

// dependsOnChannel returns the channel a command's effect is audible
// through. Fader assignments reference the channel in their value.
func dependsOnChannel(c state.Command) (string, bool) {
	if c.Path.Section() == "fader" {
		ch, ok := c.Value.(string)
		return ch, ok
	}
	if c.Path.IsRoute() {
		return "", false
	}
	return c.Path.Channel()
}

// routeChannel returns the source channel of a routing command.
func routeChannel(c state.Command) (string, bool) {
	ch, _, ok := c.Path.RouteCell()
	return ch, ok
}
