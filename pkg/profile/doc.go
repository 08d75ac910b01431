// Package profile holds the desired state for MixDeck devices.
//
// A Profile is an ordered set of field/value entries parsed from a
// YAML document. Declaration order is preserved: it breaks ties when
// the reconciler orders the commands that bring a device in line with
// the profile.
//
// # File Format
//
// Sections mirror the field path heads:
//
//	name: streaming
//	fader:
//	  a: mic
//	channel:
//	  mic:
//	    volume: 192
//	    mute: false
//	route:
//	  mic:
//	    headphones: true
//	    stream: true
//	button:
//	  1: mute-self
//	light:
//	  fader-a:
//	    effect: steady
//	    color: "#00FF80"
//	effect:
//	  reverb: 40
//
// The Store persists one profile per device serial under a directory.
// Files are written atomically so a crash never leaves a torn profile.
package profile
