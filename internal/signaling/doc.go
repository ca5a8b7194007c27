// Package signaling is the WebSocket face of the coordinator. Each accepted
// connection decodes client frames into coordinator commands and drains the
// coordinator's outbound events back onto the socket.
package signaling
