package matchmaking

import "container/list"

// Queue keeps waiting participants in join order.
type Queue struct {
	order  *list.List
	byConn map[ConnID]*list.Element
}

func NewQueue() *Queue {
	return &Queue{
		order:  list.New(),
		byConn: make(map[ConnID]*list.Element),
	}
}

// Put appends p, replacing any earlier entry for the same connection. A
// replaced entry loses its place and goes to the back.
func (q *Queue) Put(p Participant) {
	q.Remove(p.Conn)
	q.byConn[p.Conn] = q.order.PushBack(p)
}

// Remove deletes conn from the queue and reports whether it was present.
func (q *Queue) Remove(conn ConnID) bool {
	elem, ok := q.byConn[conn]
	if !ok {
		return false
	}
	q.order.Remove(elem)
	delete(q.byConn, conn)
	return true
}

func (q *Queue) Get(conn ConnID) (Participant, bool) {
	elem, ok := q.byConn[conn]
	if !ok {
		return Participant{}, false
	}
	return elem.Value.(Participant), true
}

func (q *Queue) Contains(conn ConnID) bool {
	_, ok := q.byConn[conn]
	return ok
}

// Position returns the 1-based place of conn in join order, or 0 when absent.
func (q *Queue) Position(conn ConnID) int {
	if !q.Contains(conn) {
		return 0
	}
	pos := 1
	for e := q.order.Front(); e != nil; e = e.Next() {
		if e.Value.(Participant).Conn == conn {
			return pos
		}
		pos++
	}
	return 0
}

func (q *Queue) Len() int { return len(q.byConn) }

// Each visits participants in join order until fn returns false.
func (q *Queue) Each(fn func(Participant) bool) {
	for e := q.order.Front(); e != nil; e = e.Next() {
		if !fn(e.Value.(Participant)) {
			return
		}
	}
}
