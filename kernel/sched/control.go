package sched

import "github.com/nmxmxh/kron_v1/kernel/utils"

// SetPriority changes a task's base priority at run time. The effective
// priority is recomputed (inheritance boosts survive the change) and the task
// is repositioned in its ready level or wait set. Calls made from outside
// task context take scheduling effect at the running task's next kernel
// entry; use TaskContext.SetPriority from tasks for immediate preemption.
func (s *Scheduler) SetPriority(h Handle, prio Priority) error {
	if prio < 0 || int(prio) >= s.cfg.PriorityLevels {
		return utils.WrapError(ErrRange, "priority outside configured levels")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.store.lookup(h)
	if t == nil {
		return ErrInvalidHandle
	}
	t.basePrio = prio
	s.applyPrioLocked(t)
	return nil
}

// SetQuantum changes a task's round-robin quantum. A running task's remaining
// budget is clamped down immediately, so a shortened quantum cannot outlive
// the call.
func (s *Scheduler) SetQuantum(h Handle, quantum Ticks) error {
	if quantum == 0 || quantum == Forever {
		return utils.WrapError(ErrRange, "quantum must be a positive tick count")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.store.lookup(h)
	if t == nil {
		return ErrInvalidHandle
	}
	t.quantum = quantum
	if t == s.running && t.quantumLeft > quantum {
		t.quantumLeft = quantum
	}
	return nil
}

// Suspend takes a ready task off the ready lists. Running or blocked tasks
// cannot be suspended from outside; a running task suspends itself via
// TaskContext.Suspend.
func (s *Scheduler) Suspend(h Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.store.lookup(h)
	if t == nil {
		return ErrInvalidHandle
	}
	switch t.state {
	case StateSuspended:
		return nil
	case StateReady:
		s.ready.remove(t)
		t.state = StateSuspended
		return nil
	default:
		return utils.WrapError(ErrInvalidState, "only ready tasks can be suspended externally")
	}
}

// Resume makes a suspended task ready again.
func (s *Scheduler) Resume(h Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.store.lookup(h)
	if t == nil {
		return ErrInvalidHandle
	}
	if t.state != StateSuspended {
		return utils.WrapError(ErrInvalidState, "task is not suspended")
	}
	t.wakeReason = WakeSignaled
	s.makeReadyLocked(t)
	return nil
}

// applyPrioLocked recomputes t's effective priority from its base and any
// inheritance boost, then repositions t wherever it is queued.
func (s *Scheduler) applyPrioLocked(t *tcb) {
	eff := t.basePrio
	for _, m := range t.held {
		if m.pi && m.waiters.Len() > 0 && m.waiters.waiters[0].effPrio > eff {
			eff = m.waiters.waiters[0].effPrio
		}
	}
	if eff == t.effPrio {
		return
	}

	switch t.state {
	case StateReady:
		s.ready.remove(t)
		t.effPrio = eff
		s.ready.pushBack(t)
	case StateBlocked:
		t.effPrio = eff
		if t.waitQ != nil {
			t.waitQ.reposition(t)
			if o := t.waitQ.owner; o != nil && o.pi && o.holder != nil {
				s.raiseEffLocked(o.holder, eff)
			}
		}
	default:
		t.effPrio = eff
	}
}

// raiseEffLocked boosts t's effective priority to at least prio, following
// the chain of mutex holders so a boosted waiter propagates through nested
// inheritance.
func (s *Scheduler) raiseEffLocked(t *tcb, prio Priority) {
	for t != nil && t.effPrio < prio {
		switch t.state {
		case StateReady:
			s.ready.remove(t)
			t.effPrio = prio
			s.ready.pushBack(t)
			t = nil
		case StateBlocked:
			t.effPrio = prio
			if t.waitQ != nil {
				t.waitQ.reposition(t)
				if o := t.waitQ.owner; o != nil && o.pi {
					t = o.holder
					continue
				}
			}
			t = nil
		default:
			t.effPrio = prio
			t = nil
		}
	}
}
