package negotiation

import "github.com/pion/webrtc/v4"

// DefaultMaxPendingCandidates bounds the candidate FIFO of a Session.
const DefaultMaxPendingCandidates = 256

// candidateQueue holds remote candidates in arrival order until the remote
// description is applied. It belongs to exactly one Session.
type candidateQueue struct {
	max   int
	items []webrtc.ICECandidateInit
}

func newCandidateQueue(max int) *candidateQueue {
	if max <= 0 {
		max = DefaultMaxPendingCandidates
	}
	return &candidateQueue{max: max}
}

// push appends c, evicting the oldest entry when full. It reports whether an
// entry was evicted.
func (q *candidateQueue) push(c webrtc.ICECandidateInit) (evicted bool) {
	if len(q.items) >= q.max {
		copy(q.items, q.items[1:])
		q.items = q.items[:len(q.items)-1]
		evicted = true
	}
	q.items = append(q.items, c)
	return evicted
}

// drain returns the buffered candidates in arrival order and empties the queue.
func (q *candidateQueue) drain() []webrtc.ICECandidateInit {
	out := q.items
	q.items = nil
	return out
}

func (q *candidateQueue) reset() { q.items = nil }

func (q *candidateQueue) len() int { return len(q.items) }
