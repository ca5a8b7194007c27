package matchmaking

import "container/list"

const (
	DefaultHistoryCapacity = 15
	DefaultHistoryMaxUsers = 100_000
)

// History remembers, per user, the most recent partners in insertion order.
// Each user's set holds at most Capacity entries and evicts its oldest entry
// first. The number of users tracked is bounded too; the user whose history
// was touched least recently is forgotten first.
type History struct {
	capacity int
	maxUsers int

	users map[UserID]*list.Element
	lru   *list.List
}

type partnerSet struct {
	user    UserID
	order   []UserID
	members map[UserID]struct{}
}

func NewHistory(capacity, maxUsers int) *History {
	if capacity <= 0 {
		capacity = DefaultHistoryCapacity
	}
	if maxUsers <= 0 {
		maxUsers = DefaultHistoryMaxUsers
	}
	return &History{
		capacity: capacity,
		maxUsers: maxUsers,
		users:    make(map[UserID]*list.Element),
		lru:      list.New(),
	}
}

// Record notes that a and b were paired, in both directions.
func (h *History) Record(a, b UserID) {
	if a == b {
		return
	}
	h.add(a, b)
	h.add(b, a)
}

// Contains reports whether other is in user's recent partners.
func (h *History) Contains(user, other UserID) bool {
	elem, ok := h.users[user]
	if !ok {
		return false
	}
	_, ok = elem.Value.(*partnerSet).members[other]
	return ok
}

// Partners returns user's recent partners, oldest first.
func (h *History) Partners(user UserID) []UserID {
	elem, ok := h.users[user]
	if !ok {
		return nil
	}
	set := elem.Value.(*partnerSet)
	return append([]UserID(nil), set.order...)
}

func (h *History) Capacity() int { return h.capacity }

func (h *History) Users() int { return len(h.users) }

func (h *History) add(user, partner UserID) {
	elem, ok := h.users[user]
	if !ok {
		for len(h.users) >= h.maxUsers {
			back := h.lru.Back()
			h.lru.Remove(back)
			delete(h.users, back.Value.(*partnerSet).user)
		}
		elem = h.lru.PushFront(&partnerSet{user: user, members: make(map[UserID]struct{}, h.capacity)})
		h.users[user] = elem
	} else {
		h.lru.MoveToFront(elem)
	}

	set := elem.Value.(*partnerSet)
	if _, dup := set.members[partner]; dup {
		return
	}
	if len(set.order) >= h.capacity {
		oldest := set.order[0]
		set.order = set.order[1:]
		delete(set.members, oldest)
	}
	set.order = append(set.order, partner)
	set.members[partner] = struct{}{}
}
