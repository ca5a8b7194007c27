// Package matchmaking holds the pairing state: the waiting queue, per-user
// partner history, the pairing policy and the room registry.
//
// None of these types are safe for concurrent use. They are owned by a single
// coordinator goroutine, which is what keeps a connection from ever being both
// queued and in a room.
package matchmaking
