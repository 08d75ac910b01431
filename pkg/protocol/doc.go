// Package protocol implements the MixDeck USB report codec.
//
// The codec is a pure transformation between structured commands or
// device reports and fixed-size binary frames. It performs no I/O and
// holds no mutable state, so it can be tested byte-for-byte against
// captured fixtures.
//
// # Frame Layout
//
// Every report is exactly 1024 bytes, zero padded after the payload.
// Multi-byte header fields are little-endian:
//
//	┌─────────┬─────────┬─────────┬─────────┬──────────────┐
//	│ magic   │ seq     │ opcode  │ length  │ payload      │
//	│ 4 bytes │ 2 bytes │ 1 byte  │ 2 bytes │ length bytes │
//	└─────────┴─────────┴─────────┴─────────┴──────────────┘
//
// The magic is "MXDK". Sequence numbers correlate commands with their
// acknowledgements; telemetry reports carry sequence 0.
//
// # Opcode Space
//
// The opcode space is closed:
//
//	0x01-0x09  commands (host to device)
//	0x81-0x89  acknowledgements (command opcode | 0x80)
//	0xE0-0xEF  unsolicited telemetry (0xE0 full state, 0xE1 delta)
//
// Acknowledgements echo the command's sequence number and carry a
// status byte; GetStatus acknowledgements append a full state blob.
//
// # State Blobs
//
// Device state travels as TLV sections ({tag u8, length u16, value}).
// Unknown tags are skipped for forward compatibility; a truncated
// section fails the whole blob. Decoded blobs convert to state.Delta
// field maps via Blob.Fields.
package protocol
