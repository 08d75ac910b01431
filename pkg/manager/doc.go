// Package manager tracks attached devices and owns their sessions.
// A rescan loop enumerates the bus, opens transports for new
// identities, and starts a session per device. When a device
// disappears its state model is retained for a grace period so a fast
// reconnect resumes with monotonic versions; after expiry the model
// is purged.
//
// The manager also keeps each device's profile: it loads the stored
// profile on attach (adopting the device's own state when none is
// stored), converges the device toward it, and routes SetField
// intents through validation, the profile, the reconciler, and the
// session.
package manager
