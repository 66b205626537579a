package sched

// Task control block. All fields are guarded by the scheduler's kernel lock
// unless noted otherwise.
type tcb struct {
	index uint32
	gen   uint32
	name  string
	entry Runner

	basePrio    Priority
	effPrio     Priority
	quantum     Ticks
	quantumLeft Ticks

	state TaskState

	// gate resumes the task's goroutine. Buffered so a dispatcher never
	// blocks handing the processor over.
	gate chan struct{}

	stack    []byte
	stackOff uint32

	runTicks Ticks

	// Blocking bookkeeping.
	waitQ       *WaitSet
	wakeReason  WakeReason
	delivered   interface{}
	attached    interface{}
	wakeTick    Ticks
	hasDeadline bool
	blockSeq    uint64 // monotonic, orders FIFO among equal-priority waiters

	held []*Mutex

	rotate bool // quantum expired while running; rotate at next kernel entry
	doomed bool // deleted while running; unwind at next kernel entry
	reaped bool // slot already freed; goroutine must exit without re-entering
}

func (t *tcb) handle() Handle {
	return Handle{index: t.index, gen: t.gen}
}

// stackFillPattern marks unused stack bytes so the high-water mark can be
// measured by scanning for the first overwritten byte from the top.
const stackFillPattern = 0xA5

func fillStack(stack []byte) {
	for i := range stack {
		stack[i] = stackFillPattern
	}
}

func stackHighWaterMark(stack []byte) uint32 {
	for i := len(stack) - 1; i >= 0; i-- {
		if stack[i] != stackFillPattern {
			return uint32(i + 1)
		}
	}
	return 0
}

// tcbStore is an arena of task slots with generation counting: a slot's
// generation is bumped on free, so stale handles fail lookup in O(1).
type tcbStore struct {
	slots []tcbSlot
	free  []uint32
	live  int
}

type tcbSlot struct {
	gen  uint32
	task *tcb
}

func newTCBStore(capacity int) *tcbStore {
	st := &tcbStore{
		slots: make([]tcbSlot, capacity),
		free:  make([]uint32, 0, capacity),
	}
	for i := capacity - 1; i >= 0; i-- {
		st.slots[i].gen = 1
		st.free = append(st.free, uint32(i))
	}
	return st
}

// alloc claims a slot for t and stamps its identity. Returns false when the
// table is full.
func (st *tcbStore) alloc(t *tcb) bool {
	if len(st.free) == 0 {
		return false
	}
	idx := st.free[len(st.free)-1]
	st.free = st.free[:len(st.free)-1]

	t.index = idx
	t.gen = st.slots[idx].gen
	st.slots[idx].task = t
	st.live++
	return true
}

// release frees t's slot and invalidates all outstanding handles to it.
func (st *tcbStore) release(t *tcb) {
	slot := &st.slots[t.index]
	slot.task = nil
	slot.gen++
	if slot.gen == 0 {
		slot.gen = 1
	}
	st.free = append(st.free, t.index)
	st.live--
}

// lookup resolves a handle, failing on stale generations.
func (st *tcbStore) lookup(h Handle) *tcb {
	if h.index >= uint32(len(st.slots)) {
		return nil
	}
	slot := st.slots[h.index]
	if slot.task == nil || slot.gen != h.gen {
		return nil
	}
	return slot.task
}

// forEach visits all live tasks in slot order.
func (st *tcbStore) forEach(fn func(*tcb)) {
	for i := range st.slots {
		if t := st.slots[i].task; t != nil {
			fn(t)
		}
	}
}
