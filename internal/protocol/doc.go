// Package protocol defines the duplex event channel spoken between pairing
// clients and the coordinator: the closed set of event names, one payload type
// per event, and the JSON envelope that carries them over WebSocket text
// frames.
//
// Decoding is strict. Unknown events, unknown fields and trailing data are
// rejected here so that nothing malformed reaches matchmaking.
package protocol
