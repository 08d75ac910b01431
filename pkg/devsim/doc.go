// Package devsim simulates MixDeck hardware over in-memory transports.
//
// A Device answers the wire protocol the way the real console does:
// commands mutate its register file and are acknowledged, GetStatus
// returns a full state blob, and local changes (a knob turned on the
// unit itself) surface as unsolicited telemetry. Compact devices
// reject effect and sampler commands.
//
// The Hub groups simulated devices behind the transport Opener and
// Enumerator interfaces, so the device manager and the daemon's
// simulate mode run against it unchanged. Unplugging a device through
// the hub closes its transport mid-flight; plugging it back in
// preserves its state, like real hardware that keeps settings in
// NVRAM.
//
// Devices also inject faults for tests: dropped acknowledgements,
// rejections, busy answers, and delayed replies.
package devsim
