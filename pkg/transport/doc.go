// Package transport provides report-level I/O with one MixDeck
// device.
//
// A Transport owns the exclusive claim on one USB HID interface and
// moves fixed-size reports in both directions. It knows nothing about
// frame contents; the protocol package interprets the bytes.
//
// Two implementations exist:
//
//   - HID, backed by the hidapi bindings, with process-level claim
//     tracking so a second open of the same unit fails with ErrBusy.
//   - Pipe, an in-memory pair used by tests and the device simulator.
//
// Disconnection is sticky: after any I/O failure (or Close), every
// later call fails fast with ErrDisconnected until the owning session
// tears the transport down.
package transport
