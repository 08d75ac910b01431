// Package ipc implements the local control channel between the daemon
// and its clients.
//
// Messages are CBOR maps with integer keys, carried over a unix socket
// in 4-byte big-endian length-prefixed frames. Requests carry a
// client-chosen correlation ID echoed by the response; a message ID of
// zero marks a subscription notification. Subscribe answers with a
// priming snapshot and a subscription ID, then streams version-tagged
// deltas until a terminal notification names why the stream ended.
//
// The server runs one read loop per connection, so requests on a
// connection are handled in order; each subscription has its own
// sender goroutine fed by a state watcher.
package ipc
