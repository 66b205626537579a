package sched

// TaskContext is the calling task's view of the kernel. Every entry point on
// it is a preemption point: pending quantum rotation, priority preemption and
// deferred deletion all take effect here. A TaskContext is valid only on the
// goroutine of the task it was issued to.
type TaskContext struct {
	s *Scheduler
	t *tcb
}

// Scheduler returns the owning scheduler.
func (tc *TaskContext) Scheduler() *Scheduler { return tc.s }

// Handle returns the calling task's handle.
func (tc *TaskContext) Handle() Handle { return tc.t.handle() }

// Name returns the calling task's name.
func (tc *TaskContext) Name() string { return tc.t.name }

// Stack exposes the task's arena stack region as scratch memory. The region
// is pattern-filled at creation; the monitoring snapshot reports how much of
// it was ever overwritten.
func (tc *TaskContext) Stack() []byte { return tc.t.stack }

// Delivered returns the payload handed over by the waker when the last wait
// ended with WakeDelivered, and clears it.
func (tc *TaskContext) Delivered() interface{} {
	d := tc.t.delivered
	tc.t.delivered = nil
	return d
}

// Yield moves the calling task to the tail of its priority level and
// dispatches the next ready task. With no competition the call returns
// immediately.
func (tc *TaskContext) Yield() {
	s := tc.s
	s.mu.Lock()
	self := tc.t
	if self.doomed {
		s.unwindLocked(self)
	}
	self.rotate = false
	self.state = StateReady
	s.ready.pushBack(self)
	if s.switchFrom(self) {
		s.parkSelf(self)
	}
}

// Delay blocks the calling task for the given number of ticks. Delay(0)
// returns immediately.
func (tc *TaskContext) Delay(ticks Ticks) {
	if ticks == 0 {
		return
	}
	s := tc.s
	s.mu.Lock()
	self := tc.t
	if self.doomed {
		s.unwindLocked(self)
	}
	self.state = StateBlocked
	if ticks != Forever {
		self.wakeTick = s.tickCount + ticks
		self.hasDeadline = true
		s.timers.insert(self)
	}
	s.switchFrom(self) // releases the kernel lock
	s.parkSelf(self)
}

// Exit terminates the calling task. Never returns.
func (tc *TaskContext) Exit() {
	s := tc.s
	s.mu.Lock()
	s.unwindLocked(tc.t)
}

// Suspend takes the calling task off the ready lists until another task
// resumes it.
func (tc *TaskContext) Suspend() {
	s := tc.s
	s.mu.Lock()
	self := tc.t
	if self.doomed {
		s.unwindLocked(self)
	}
	self.state = StateSuspended
	s.switchFrom(self) // releases the kernel lock
	s.parkSelf(self)
}

// CreateTask spawns a task from task context. A created task with higher
// priority than the caller preempts it before this call returns.
func (tc *TaskContext) CreateTask(entry Runner, name string, stackSize uint32, prio Priority, quantum Ticks) (Handle, error) {
	h, err := tc.s.CreateTask(entry, name, stackSize, prio, quantum)
	tc.s.maybeResched(tc)
	return h, err
}

// DeleteTask destroys another task, or the caller itself (equivalent to Exit).
func (tc *TaskContext) DeleteTask(h Handle) error {
	if h == tc.t.handle() {
		tc.Exit()
	}
	err := tc.s.DeleteTask(h)
	tc.s.maybeResched(tc)
	return err
}

// SetPriority changes a task's base priority. Raising another task above the
// caller preempts the caller before this call returns; lowering the caller
// below a ready task dispatches that task.
func (tc *TaskContext) SetPriority(h Handle, prio Priority) error {
	err := tc.s.SetPriority(h, prio)
	tc.s.maybeResched(tc)
	return err
}

// SetQuantum changes a task's round-robin quantum.
func (tc *TaskContext) SetQuantum(h Handle, quantum Ticks) error {
	err := tc.s.SetQuantum(h, quantum)
	tc.s.maybeResched(tc)
	return err
}

// Resume makes a suspended task ready again.
func (tc *TaskContext) Resume(h Handle) error {
	err := tc.s.Resume(h)
	tc.s.maybeResched(tc)
	return err
}
