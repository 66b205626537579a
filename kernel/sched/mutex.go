package sched

import "github.com/nmxmxh/kron_v1/kernel/utils"

// Mutex is a task-aware lock. Contended acquires park the task in a wait set
// ordered by effective priority (FIFO among equals); release hands ownership
// directly to the first waiter, so the lock can never be stolen by a late
// arrival. With priority inheritance enabled, a holder is boosted to the
// priority of its highest waiter and the boost propagates through chains of
// nested locks.
//
// Deleting a task that holds a Mutex force-releases it and wakes the next
// waiter, so a dying holder cannot strand the lock.
type Mutex struct {
	s         *Scheduler
	waiters   *WaitSet
	holder    *tcb
	pi        bool
	destroyed bool
}

// NewMutex creates a mutex on the scheduler. pi enables priority inheritance.
func (s *Scheduler) NewMutex(pi bool) *Mutex {
	m := &Mutex{s: s, pi: pi}
	m.waiters = s.NewWaitSet()
	m.waiters.owner = m
	return m
}

// Acquire takes the lock, blocking until it is available. Acquire is not
// recursive; a holder re-acquiring fails with ErrInvalidState.
func (m *Mutex) Acquire(tc *TaskContext) error {
	s := m.s
	s.mu.Lock()
	self := tc.t
	if self.doomed {
		s.unwindLocked(self)
	}
	if m.destroyed {
		s.mu.Unlock()
		return ErrInvalidHandle
	}
	if m.holder == nil {
		m.grantLocked(self)
		s.mu.Unlock()
		return nil
	}
	if m.holder == self {
		s.mu.Unlock()
		return utils.WrapError(ErrInvalidState, "recursive acquire")
	}

	self.blockSeq = s.nextBlockSeq()
	self.state = StateBlocked
	m.waiters.insert(self)
	if m.pi {
		s.raiseEffLocked(m.holder, self.effPrio)
	}

	s.switchFrom(self) // releases the kernel lock
	s.parkSelf(self)

	if self.wakeReason == WakeDestroyed {
		return utils.WrapError(ErrInvalidHandle, "mutex destroyed while waiting")
	}
	// Ownership was transferred by the releaser before the wake.
	return nil
}

// TryAcquire takes the lock if it is free, without blocking.
func (m *Mutex) TryAcquire(tc *TaskContext) (bool, error) {
	s := m.s
	s.mu.Lock()
	self := tc.t
	if self.doomed {
		s.unwindLocked(self)
	}
	if m.destroyed {
		s.mu.Unlock()
		return false, ErrInvalidHandle
	}
	if m.holder != nil {
		s.mu.Unlock()
		return false, nil
	}
	m.grantLocked(self)
	s.mu.Unlock()
	return true, nil
}

// Release gives the lock up. Only the holder may release; anything else is a
// usage error reported as ErrNotHolder. If the holder was boosted, its
// priority drops back once the lock (and its waiters) are gone, which may
// dispatch a task that was waiting behind the boost.
func (m *Mutex) Release(tc *TaskContext) error {
	s := m.s
	s.mu.Lock()
	self := tc.t
	if self.doomed {
		s.unwindLocked(self)
	}
	if m.holder != self {
		s.mu.Unlock()
		return ErrNotHolder
	}
	s.releaseMutexLocked(m, self)
	s.mu.Unlock()

	s.maybeResched(tc)
	return nil
}

// Busy reports whether any task holds the lock. Call inside Atomic (kernel
// lock held).
func (m *Mutex) Busy() bool {
	return m.holder != nil
}

// Holder reports whether the calling task holds the lock.
func (m *Mutex) Holder(tc *TaskContext) bool {
	s := m.s
	s.mu.Lock()
	defer s.mu.Unlock()
	return m.holder == tc.t
}

// Destroy invalidates the mutex. Waiters are released with an error; the
// current holder, if any, keeps running but every later operation fails with
// ErrInvalidHandle.
func (m *Mutex) Destroy(tc *TaskContext) error {
	s := m.s
	s.mu.Lock()
	if m.destroyed {
		s.mu.Unlock()
		return ErrInvalidHandle
	}
	m.destroyed = true
	n := m.waiters.WakeAll(WakeDestroyed)
	if m.holder != nil && m.pi {
		s.applyPrioLocked(m.holder)
	}
	s.mu.Unlock()

	if n > 0 {
		s.log.Warn("mutex destroyed with blocked tasks", utils.Int("released", n))
	}
	if tc != nil {
		s.maybeResched(tc)
	}
	return nil
}

// grantLocked records ownership. Kernel lock held.
func (m *Mutex) grantLocked(t *tcb) {
	m.holder = t
	t.held = append(t.held, m)
}

// releaseMutexLocked transfers m from t to its first waiter, or leaves it
// free. Also used when reaping a task that dies holding locks. Kernel lock
// held.
func (s *Scheduler) releaseMutexLocked(m *Mutex, t *tcb) {
	for i, hm := range t.held {
		if hm == m {
			t.held = append(t.held[:i], t.held[i+1:]...)
			break
		}
	}

	if len(m.waiters.waiters) > 0 {
		w := m.waiters.waiters[0]
		m.waiters.removeLocked(w)
		m.grantLocked(w)
		s.wakeLocked(w, WakeSignaled, nil)
	} else {
		m.holder = nil
	}

	if m.pi {
		s.applyPrioLocked(t)
	}
}
