// Package negotiation drives one side of a peer-to-peer media link for a
// matched room. A Session owns the pion PeerConnection, the local media
// handle, the remote tracks and a FIFO of remote candidates that arrived
// before the remote description could be applied.
//
// Offers, answers and candidates travel through a Signaler, which in
// practice is the duplex event channel to the pairing coordinator. Local
// candidates always follow the description they belong to.
package negotiation
