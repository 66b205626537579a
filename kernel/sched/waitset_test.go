package sched

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func waiterNames(ws *WaitSet) []string {
	names := make([]string, 0, len(ws.waiters))
	for _, w := range ws.waiters {
		names = append(names, w.name)
	}
	return names
}

func TestWaitSet_WakeDiscipline(t *testing.T) {
	ws := &WaitSet{}

	mk := func(name string, prio Priority, seq uint64) *tcb {
		return &tcb{name: name, effPrio: prio, blockSeq: seq}
	}

	// Arrival order deliberately shuffled.
	ws.insert(mk("low-early", 1, 1))
	ws.insert(mk("high-late", 3, 4))
	ws.insert(mk("mid", 2, 2))
	ws.insert(mk("high-early", 3, 3))

	// Highest priority first, FIFO among equals.
	assert.Equal(t, []string{"high-early", "high-late", "mid", "low-early"}, waiterNames(ws))
}

func TestWaitSet_Reposition(t *testing.T) {
	ws := &WaitSet{}

	a := &tcb{name: "a", effPrio: 1, blockSeq: 1}
	b := &tcb{name: "b", effPrio: 1, blockSeq: 2}
	c := &tcb{name: "c", effPrio: 3, blockSeq: 3}
	ws.insert(a)
	ws.insert(b)
	ws.insert(c)
	assert.Equal(t, []string{"c", "a", "b"}, waiterNames(ws))

	// Boosting b re-sorts it ahead of c: equal priority now, but b blocked
	// earlier.
	b.effPrio = 3
	ws.reposition(b)
	assert.Equal(t, []string{"b", "c", "a"}, waiterNames(ws))

	// Dropping c sends it to the back of its new level.
	c.effPrio = 1
	ws.reposition(c)
	assert.Equal(t, []string{"b", "a", "c"}, waiterNames(ws))

	assert.True(t, ws.removeLocked(a))
	assert.False(t, ws.removeLocked(a), "already removed")
	assert.Equal(t, []string{"b", "c"}, waiterNames(ws))
	assert.Equal(t, 2, ws.Len())
}
