package coordinator

import (
	"time"

	"github.com/wilsonzlin/aero/proxy/webrtc-pairing/internal/protocol"
)

// RoomView is the read-only listing shape of one room.
type RoomView struct {
	ID        string   `json:"id"`
	Users     []string `json:"users"`
	CreatedAt int64    `json:"createdAt"`
	Duration  int64    `json:"duration"`
}

// Snapshot is a point-in-time read of the coordinator state.
type Snapshot struct {
	Stats protocol.Stats
	Rooms []RoomView
	Queue int
	At    time.Time
}

func (c *Coordinator) snapshot() Snapshot {
	now := c.now()
	rooms := c.mm.Rooms()
	views := make([]RoomView, 0, len(rooms))
	for _, r := range rooms {
		views = append(views, RoomView{
			ID:        string(r.ID),
			Users:     []string{string(r.Members[0]), string(r.Members[1])},
			CreatedAt: r.CreatedAt.UnixMilli(),
			Duration:  now.Sub(r.CreatedAt).Milliseconds(),
		})
	}
	return Snapshot{
		Stats: c.stats(),
		Rooms: views,
		Queue: c.mm.Waiting(),
		At:    now,
	}
}
