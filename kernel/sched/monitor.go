package sched

// Snapshot reports every live task's name, state, priorities, stack
// high-water mark and accumulated run ticks. The result slice is allocated
// before the kernel lock is taken, so the critical section is a bounded copy
// of per-task fields.
func (s *Scheduler) Snapshot() []TaskStatus {
	out := make([]TaskStatus, 0, s.cfg.MaxTasks)

	s.mu.Lock()
	s.store.forEach(func(t *tcb) {
		out = append(out, TaskStatus{
			Name:               t.name,
			State:              t.state,
			Priority:           t.effPrio,
			BasePriority:       t.basePrio,
			StackHighWaterMark: stackHighWaterMark(t.stack),
			StackSize:          uint32(len(t.stack)),
			RunTicks:           t.runTicks,
		})
	})
	s.mu.Unlock()

	return out
}

// TaskInfo reports a single task's status.
func (s *Scheduler) TaskInfo(h Handle) (TaskStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.store.lookup(h)
	if t == nil {
		return TaskStatus{}, ErrInvalidHandle
	}
	return TaskStatus{
		Name:               t.name,
		State:              t.state,
		Priority:           t.effPrio,
		BasePriority:       t.basePrio,
		StackHighWaterMark: stackHighWaterMark(t.stack),
		StackSize:          uint32(len(t.stack)),
		RunTicks:           t.runTicks,
	}, nil
}
