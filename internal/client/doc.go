// Package client speaks the duplex event channel from the participant side.
// Conn carries typed protocol events over a WebSocket; Chat layers the
// queue, room and negotiation lifecycle on top of it. Each room's negotiation
// session runs on its own worker so the event loop never waits on media or
// SDP work.
package client
