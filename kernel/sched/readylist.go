package sched

// readySet holds one FIFO queue of runnable tasks per priority level.
// Rotation to the tail on quantum expiry or yield produces round robin
// within a level; selection always takes the head of the highest
// non-empty level.
type readySet struct {
	queues [][]*tcb
}

func newReadySet(levels int) *readySet {
	return &readySet{queues: make([][]*tcb, levels)}
}

func (rs *readySet) pushBack(t *tcb) {
	rs.queues[t.effPrio] = append(rs.queues[t.effPrio], t)
}

// pushFront re-inserts a preempted task at the head of its level so it is
// the next to run there.
func (rs *readySet) pushFront(t *tcb) {
	q := rs.queues[t.effPrio]
	q = append(q, nil)
	copy(q[1:], q)
	q[0] = t
	rs.queues[t.effPrio] = q
}

// popHighest removes and returns the head of the highest non-empty level,
// or nil if no task is ready.
func (rs *readySet) popHighest() *tcb {
	for level := len(rs.queues) - 1; level >= 0; level-- {
		q := rs.queues[level]
		if len(q) == 0 {
			continue
		}
		t := q[0]
		copy(q, q[1:])
		q[len(q)-1] = nil
		rs.queues[level] = q[:len(q)-1]
		return t
	}
	return nil
}

// highestPriority returns the top non-empty level, or -1 when empty.
func (rs *readySet) highestPriority() Priority {
	for level := len(rs.queues) - 1; level >= 0; level-- {
		if len(rs.queues[level]) > 0 {
			return Priority(level)
		}
	}
	return -1
}

// hasAt reports whether any task is queued at the level.
func (rs *readySet) hasAt(level Priority) bool {
	return level >= 0 && int(level) < len(rs.queues) && len(rs.queues[level]) > 0
}

// remove takes t out of its level, wherever it sits. Returns false when t is
// not queued.
func (rs *readySet) remove(t *tcb) bool {
	q := rs.queues[t.effPrio]
	for i, cand := range q {
		if cand == t {
			copy(q[i:], q[i+1:])
			q[len(q)-1] = nil
			rs.queues[t.effPrio] = q[:len(q)-1]
			return true
		}
	}
	return false
}
