// Package coordinator runs the pairing state machine as a single actor.
//
// Transports translate inbound frames into typed commands and Submit them;
// one goroutine (Run) applies commands one at a time to the matchmaking state
// and fans the resulting events out to per-connection sinks. Sinks must never
// block: a connection that cannot keep up is kicked and later reported back as
// a Disconnect.
package coordinator
