package matchmaking

// SelectPartner picks a partner for self from q.
//
// Candidates self has recently been paired with, and other connections of
// the same user, are skipped on the first pass, which takes the highest interest overlap and breaks ties by join
// order. When every other candidate is a recent partner the earliest joined
// one is taken anyway, so nobody starves just because the queue is small.
func SelectPartner(self Participant, q *Queue, h *History) (Participant, bool) {
	var (
		best      Participant
		bestScore = -1
		earliest  Participant
		found     bool
	)
	q.Each(func(c Participant) bool {
		if c.Conn == self.Conn {
			return true
		}
		if !found {
			earliest = c
			found = true
		}
		if self.User != "" && c.User == self.User {
			return true
		}
		if h != nil && h.Contains(self.User, c.User) {
			return true
		}
		// Strictly greater keeps the earliest joined among equal scores.
		if score := SharedInterests(self.Interests, c.Interests); score > bestScore {
			best, bestScore = c, score
		}
		return true
	})
	if bestScore >= 0 {
		return best, true
	}
	if found {
		return earliest, true
	}
	return Participant{}, false
}
