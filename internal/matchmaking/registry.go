package matchmaking

import (
	"errors"
	"sort"
	"time"
)

var (
	ErrAlreadyInRoom  = errors.New("matchmaking: connection already in a room")
	ErrSameConnection = errors.New("matchmaking: room members must be distinct")
)

// Room is a live two-party session.
type Room struct {
	ID        RoomID
	Members   [2]ConnID
	CreatedAt time.Time
}

// Other returns the member that is not conn.
func (r Room) Other(conn ConnID) (ConnID, bool) {
	switch conn {
	case r.Members[0]:
		return r.Members[1], true
	case r.Members[1]:
		return r.Members[0], true
	default:
		return "", false
	}
}

// Registry maps rooms to their members and each member back to its room.
type Registry struct {
	rooms  map[RoomID]Room
	byConn map[ConnID]RoomID
}

func NewRegistry() *Registry {
	return &Registry{
		rooms:  make(map[RoomID]Room),
		byConn: make(map[ConnID]RoomID),
	}
}

// Create registers a new room for a and b. Neither may already be in a room.
func (r *Registry) Create(id RoomID, a, b ConnID, now time.Time) (Room, error) {
	if a == b {
		return Room{}, ErrSameConnection
	}
	if _, ok := r.byConn[a]; ok {
		return Room{}, ErrAlreadyInRoom
	}
	if _, ok := r.byConn[b]; ok {
		return Room{}, ErrAlreadyInRoom
	}
	room := Room{ID: id, Members: [2]ConnID{a, b}, CreatedAt: now}
	r.rooms[id] = room
	r.byConn[a] = id
	r.byConn[b] = id
	return room, nil
}

// Terminate removes conn's room, if any, and returns it together with the
// other member. Unknown connections are a no-op.
func (r *Registry) Terminate(conn ConnID) (room Room, partner ConnID, ok bool) {
	id, ok := r.byConn[conn]
	if !ok {
		return Room{}, "", false
	}
	room = r.rooms[id]
	delete(r.rooms, id)
	delete(r.byConn, room.Members[0])
	delete(r.byConn, room.Members[1])
	partner, _ = room.Other(conn)
	return room, partner, true
}

// Partner returns the other member of room id, or false if the room is gone
// or conn is not in it.
func (r *Registry) Partner(id RoomID, conn ConnID) (ConnID, bool) {
	room, ok := r.rooms[id]
	if !ok {
		return "", false
	}
	return room.Other(conn)
}

func (r *Registry) IsMember(id RoomID, conn ConnID) bool {
	_, ok := r.Partner(id, conn)
	return ok
}

// RoomOf returns the room conn currently belongs to.
func (r *Registry) RoomOf(conn ConnID) (Room, bool) {
	id, ok := r.byConn[conn]
	if !ok {
		return Room{}, false
	}
	return r.rooms[id], true
}

func (r *Registry) Len() int { return len(r.rooms) }

// Rooms returns every live room, oldest first.
func (r *Registry) Rooms() []Room {
	out := make([]Room, 0, len(r.rooms))
	for _, room := range r.rooms {
		out = append(out, room)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}
