package matchmaking

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Config struct {
	HistoryCapacity int
	HistoryMaxUsers int

	// Now and NewRoomID are overridable for tests.
	Now       func() time.Time
	NewRoomID func() RoomID
}

// Matchmaker combines the queue, partner history and room registry and keeps
// them consistent: every operation leaves each connection either queued, in
// exactly one room, or neither.
type Matchmaker struct {
	queue   *Queue
	history *History
	rooms   *Registry

	now       func() time.Time
	newRoomID func() RoomID
}

// Match is the outcome of a successful pairing. Self is the participant whose
// join triggered it.
type Match struct {
	Room    Room
	Self    Participant
	Partner Participant
}

// Termination describes a room that was just torn down.
type Termination struct {
	Room    Room
	Partner ConnID
}

// JoinResult reports what a join did. Ended is set when the connection's
// previous room was terminated first. Exactly one of Match and Position is
// meaningful: Position is the 1-based queue place when no partner was found.
type JoinResult struct {
	Ended    *Termination
	Match    *Match
	Position int
}

func New(cfg Config) *Matchmaker {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewRoomID == nil {
		cfg.NewRoomID = func() RoomID { return RoomID(uuid.NewString()) }
	}
	return &Matchmaker{
		queue:     NewQueue(),
		history:   NewHistory(cfg.HistoryCapacity, cfg.HistoryMaxUsers),
		rooms:     NewRegistry(),
		now:       cfg.Now,
		newRoomID: cfg.NewRoomID,
	}
}

// Join queues p and immediately tries to pair it.
func (m *Matchmaker) Join(p Participant) (JoinResult, error) {
	var res JoinResult
	if term, ok := m.Terminate(p.Conn); ok {
		res.Ended = &term
	}
	if p.JoinedAt.IsZero() {
		p.JoinedAt = m.now()
	}
	m.queue.Put(p)

	match, ok, err := m.AttemptMatch(p.Conn)
	if err != nil {
		return res, err
	}
	if ok {
		res.Match = &match
		return res, nil
	}
	res.Position = m.queue.Position(p.Conn)
	return res, nil
}

// AttemptMatch pairs the queued connection conn with the best available
// candidate, if any.
func (m *Matchmaker) AttemptMatch(conn ConnID) (Match, bool, error) {
	self, ok := m.queue.Get(conn)
	if !ok {
		return Match{}, false, nil
	}
	partner, ok := SelectPartner(self, m.queue, m.history)
	if !ok {
		return Match{}, false, nil
	}

	room, err := m.rooms.Create(m.newRoomID(), self.Conn, partner.Conn, m.now())
	if err != nil {
		return Match{}, false, fmt.Errorf("pair %s with %s: %w", self.Conn, partner.Conn, err)
	}
	m.history.Record(self.User, partner.User)
	m.queue.Remove(self.Conn)
	m.queue.Remove(partner.Conn)
	return Match{Room: room, Self: self, Partner: partner}, true, nil
}

// Leave removes conn from the queue; it reports whether it was queued.
func (m *Matchmaker) Leave(conn ConnID) bool {
	return m.queue.Remove(conn)
}

// Terminate ends conn's room, whichever it is.
func (m *Matchmaker) Terminate(conn ConnID) (Termination, bool) {
	room, partner, ok := m.rooms.Terminate(conn)
	if !ok {
		return Termination{}, false
	}
	return Termination{Room: room, Partner: partner}, true
}

// TerminateRoom ends room id only if conn is currently one of its members.
func (m *Matchmaker) TerminateRoom(id RoomID, conn ConnID) (Termination, bool) {
	if !m.rooms.IsMember(id, conn) {
		return Termination{}, false
	}
	return m.Terminate(conn)
}

// Disconnect forgets conn entirely: it leaves the queue and its room.
func (m *Matchmaker) Disconnect(conn ConnID) (wasQueued bool, term Termination, ended bool) {
	wasQueued = m.queue.Remove(conn)
	term, ended = m.Terminate(conn)
	return wasQueued, term, ended
}

// Partner returns the other member of room id when conn is a member.
func (m *Matchmaker) Partner(id RoomID, conn ConnID) (ConnID, bool) {
	return m.rooms.Partner(id, conn)
}

func (m *Matchmaker) IsMember(id RoomID, conn ConnID) bool {
	return m.rooms.IsMember(id, conn)
}

func (m *Matchmaker) RoomOf(conn ConnID) (Room, bool) {
	return m.rooms.RoomOf(conn)
}

func (m *Matchmaker) IsQueued(conn ConnID) bool {
	return m.queue.Contains(conn)
}

func (m *Matchmaker) Waiting() int { return m.queue.Len() }

func (m *Matchmaker) RoomCount() int { return m.rooms.Len() }

func (m *Matchmaker) Rooms() []Room { return m.rooms.Rooms() }

func (m *Matchmaker) History() *History { return m.history }
