package sched

// WaitSet is an ordered collection of blocked tasks. Waiters are kept in wake
// order: highest effective priority first, earliest blocked first among equal
// priorities. A task sits in at most one wait set and never in a ready list
// at the same time.
//
// WaitSet is the building block for every blocking primitive in the kernel:
// the event queue's producer/consumer sides and the task-aware mutex all
// park tasks here.
type WaitSet struct {
	s       *Scheduler
	waiters []*tcb
	owner   *Mutex // set when this wait set belongs to a mutex (for PI chains)
}

// NewWaitSet creates a wait set bound to the scheduler.
func (s *Scheduler) NewWaitSet() *WaitSet {
	return &WaitSet{s: s}
}

// insert places t according to the wake discipline. Kernel lock held.
func (ws *WaitSet) insert(t *tcb) {
	pos := len(ws.waiters)
	for i, w := range ws.waiters {
		if w.effPrio < t.effPrio || (w.effPrio == t.effPrio && w.blockSeq > t.blockSeq) {
			pos = i
			break
		}
	}
	ws.waiters = append(ws.waiters, nil)
	copy(ws.waiters[pos+1:], ws.waiters[pos:])
	ws.waiters[pos] = t
	t.waitQ = ws
}

// removeLocked takes t out of the set. Kernel lock held.
func (ws *WaitSet) removeLocked(t *tcb) bool {
	for i, w := range ws.waiters {
		if w == t {
			copy(ws.waiters[i:], ws.waiters[i+1:])
			ws.waiters[len(ws.waiters)-1] = nil
			ws.waiters = ws.waiters[:len(ws.waiters)-1]
			t.waitQ = nil
			return true
		}
	}
	return false
}

// reposition re-sorts t after its effective priority changed. Kernel lock held.
func (ws *WaitSet) reposition(t *tcb) {
	if ws.removeLocked(t) {
		ws.insert(t)
	}
}

// Len reports the number of waiters. Call inside Atomic.
func (ws *WaitSet) Len() int {
	return len(ws.waiters)
}

// Wait blocks the calling task on the wait set.
//
// ready is evaluated under the kernel lock; if it returns true the call
// completes immediately with WakeSatisfied and no park happens. ready may
// mutate primitive state and wake other wait sets. With timeout 0 the call
// never parks: it returns WakeTimeout when ready fails. attach is an
// optional payload a waker can collect via WakeOne.
//
// Must be called outside Atomic, from task context.
func (ws *WaitSet) Wait(tc *TaskContext, timeout Ticks, attach interface{}, ready func() bool) WakeReason {
	s := ws.s
	s.mu.Lock()
	self := tc.t

	if self.doomed {
		s.unwindLocked(self)
	}

	if ready != nil && ready() {
		s.mu.Unlock()
		s.maybeResched(tc)
		return WakeSatisfied
	}
	if timeout == 0 {
		s.mu.Unlock()
		return WakeTimeout
	}

	self.attached = attach
	self.blockSeq = s.nextBlockSeq()
	self.state = StateBlocked
	ws.insert(self)
	if timeout != Forever {
		self.wakeTick = s.tickCount + timeout
		self.hasDeadline = true
		s.timers.insert(self)
	}

	s.switchFrom(self) // releases the kernel lock
	s.parkSelf(self)

	reason := self.wakeReason
	self.attached = nil
	return reason
}

// WakeOne releases the first waiter per the wake discipline, handing it
// deliver as a direct payload when reason is WakeDelivered. It returns the
// waiter's attached payload. Call inside Atomic (kernel lock held).
func (ws *WaitSet) WakeOne(reason WakeReason, deliver interface{}) (interface{}, bool) {
	if len(ws.waiters) == 0 {
		return nil, false
	}
	t := ws.waiters[0]
	copy(ws.waiters, ws.waiters[1:])
	ws.waiters[len(ws.waiters)-1] = nil
	ws.waiters = ws.waiters[:len(ws.waiters)-1]
	t.waitQ = nil

	attached := t.attached
	ws.s.wakeLocked(t, reason, deliver)
	return attached, true
}

// WakeAll releases every waiter with the given reason and returns how many
// were woken. Call inside Atomic (kernel lock held).
func (ws *WaitSet) WakeAll(reason WakeReason) int {
	n := len(ws.waiters)
	for len(ws.waiters) > 0 {
		ws.WakeOne(reason, nil)
	}
	return n
}
