package sched

// timerList orders tasks by absolute wake tick. Ties keep insertion order so
// equal deadlines wake in FIFO order. Kernel lock guards all access.
type timerList struct {
	entries []*tcb
}

func (tl *timerList) insert(t *tcb) {
	pos := len(tl.entries)
	for i, e := range tl.entries {
		if e.wakeTick > t.wakeTick {
			pos = i
			break
		}
	}
	tl.entries = append(tl.entries, nil)
	copy(tl.entries[pos+1:], tl.entries[pos:])
	tl.entries[pos] = t
}

func (tl *timerList) remove(t *tcb) {
	for i, e := range tl.entries {
		if e == t {
			copy(tl.entries[i:], tl.entries[i+1:])
			tl.entries[len(tl.entries)-1] = nil
			tl.entries = tl.entries[:len(tl.entries)-1]
			return
		}
	}
}

// popDue removes and returns the next task whose deadline is at or before
// now, or nil.
func (tl *timerList) popDue(now Ticks) *tcb {
	if len(tl.entries) == 0 || tl.entries[0].wakeTick > now {
		return nil
	}
	t := tl.entries[0]
	copy(tl.entries, tl.entries[1:])
	tl.entries[len(tl.entries)-1] = nil
	tl.entries = tl.entries[:len(tl.entries)-1]
	return t
}
