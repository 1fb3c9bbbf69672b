// Streaming telemetry protocol for carrotview dashboard clients.
//
// Server side flow for every inbound connection:
// - server sends auth_required with a one-time challenge
// - client replies with token derived from the challenge
// - server sends auth_success and adds connection to Registry
// - from now on the broadcast loop writes one snapshot frame per tick
//
// Frame on the wire: uint32 big-endian length, flag byte, payload.
// Length counts the flag byte. Flag 0 is raw JSON, nonzero means
// compressed payload which this package only passes through.
//
// Authentication here is a compatibility check, not access control.
// Challenge is time-derived and token is a fixed function of it.
package telenet
