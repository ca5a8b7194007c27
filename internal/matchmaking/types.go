package matchmaking

import "time"

// ConnID identifies one live duplex connection.
type ConnID string

// UserID is the stable identity of a participant; it may outlive a connection.
type UserID string

// RoomID identifies one two-party room.
type RoomID string

// Participant is a queued connection waiting for a partner.
type Participant struct {
	Conn      ConnID
	User      UserID
	Interests []string
	JoinedAt  time.Time
}

// SharedInterests counts tags present in both lists. Both lists are expected
// to be normalized and duplicate free.
func SharedInterests(a, b []string) int {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	n := 0
	for _, x := range a {
		for _, y := range b {
			if x == y {
				n++
				break
			}
		}
	}
	return n
}
