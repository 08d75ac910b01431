// Package reconcile computes the commands that bring a device in line
// with its profile.
//
// Diff is a pure function over a profile and a state snapshot. It
// emits one command per divergent field, in profile declaration order,
// with one exception: routing changes for a channel are hoisted above
// any fader assignment, volume, or mute command that references the
// same channel. Audio reaches its destinations before it is made
// audible.
//
// Diff is idempotent: once every emitted command has been acknowledged
// and applied to the model, a second Diff returns nothing.
package reconcile
