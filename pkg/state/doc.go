// Package state implements the canonical in-memory model of one
// MixDeck device's configuration and telemetry.
//
// # Field Paths
//
// Every configurable value on the device is addressed by a dotted
// field path. The full path space is finite and enumerated by the
// Registry:
//
//	fader.<a-d>            assigned channel name
//	channel.<name>.volume  0-255
//	channel.<name>.mute    bool
//	route.<channel>.<out>  bool
//	button.<1-8>.action    action name
//	light.<zone>.effect    steady | pulse | gradient
//	light.<zone>.color     #RRGGBB
//	effect.<name>          0-100 (Studio only)
//	info.*                 read-only device identity
//
// # Versioned Snapshots
//
// A Model is a single-writer store: only the device session that owns
// it may call Apply. Every accepted mutation bumps a monotonically
// increasing version counter exactly once, and Snapshot returns an
// immutable copy tagged with that version, so two snapshots are always
// totally ordered.
//
// Fields are absent from the model until the first poll or telemetry
// report establishes their value. Readers distinguish "unknown" from
// any valid value through that absence; the model never invents
// defaults.
//
// # Watchers
//
// Watch returns a Watcher that observes applied deltas. Deltas are
// coalesced per watcher: a consumer that falls behind receives one
// merged delta (union of changed paths, newest values, latest version)
// rather than an unbounded backlog, and a slow consumer never blocks
// the writer.
package state
