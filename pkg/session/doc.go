// Package session drives one attached device. A Session owns the
// device's transport and state model: a run-loop goroutine serializes
// polling and command dispatch, and a receive pump decodes inbound
// reports, resolving acknowledgements by sequence number and queueing
// telemetry for the run loop.
//
// Sessions move through the phases connecting, ready, degraded, and
// closed. Commands that time out are resent with the same sequence
// number a bounded number of times; exhaustion degrades the session
// and a later successful poll restores it. Closed is terminal: the
// transport is released and every pending exchange fails with
// transport.ErrDisconnected.
package session
