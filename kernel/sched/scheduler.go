package sched

import (
	"runtime"
	"sync"

	"github.com/nmxmxh/kron_v1/kernel/arena"
	"github.com/nmxmxh/kron_v1/kernel/utils"
)

// Scheduler is a priority-preemptive, round-robin-within-priority task kernel.
//
// Exactly one task goroutine executes at a time; the processor is handed off
// through per-task gates, so task code runs under the same single-context
// model as a real cooperative/preemptive kernel. The tick handler and other
// external entry points never interrupt a task mid-flight: they record state
// and the switch happens at the running task's next kernel entry, or
// immediately when the wake originates on the running task's own call path.
type Scheduler struct {
	cfg   Config
	log   *utils.Logger
	alloc *arena.Allocator

	// mu is the kernel lock guarding the TCB store, ready lists, wait sets
	// and timers. IPC object state is mutated only inside Atomic sections
	// under this same lock, which fixes the acquisition order.
	mu sync.Mutex

	store   *tcbStore
	ready   *readySet
	timers  timerList
	running *tcb
	idle    *tcb

	tickCount Ticks
	blockSeq  uint64

	started  bool
	stopping bool

	stats SchedulerStats

	wg sync.WaitGroup
}

// New constructs a scheduler. The configuration is validated eagerly:
// a scheduler that cannot satisfy its invariants is refused here, not
// patched up at run time.
func New(cfg Config) (*Scheduler, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	alloc, err := arena.New(cfg.ArenaSize)
	if err != nil {
		return nil, utils.WrapError(ErrConfiguration, err.Error())
	}

	s := &Scheduler{
		cfg:   cfg,
		log:   cfg.Logger,
		alloc: alloc,
		store: newTCBStore(cfg.MaxTasks),
		ready: newReadySet(cfg.PriorityLevels),
	}

	s.log.Debug("scheduler created",
		utils.Int("priorityLevels", cfg.PriorityLevels),
		utils.Int("maxTasks", cfg.MaxTasks),
		utils.String("policy", cfg.Policy.String()),
	)
	return s, nil
}

// Arena exposes the allocator backing task stacks and IPC buffers.
func (s *Scheduler) Arena() *arena.Allocator { return s.alloc }

// FreeMemoryRemaining reports unallocated arena bytes.
func (s *Scheduler) FreeMemoryRemaining() uint32 { return s.alloc.FreeBytes() }

// Now returns the current tick count.
func (s *Scheduler) Now() Ticks {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tickCount
}

// Stats returns a copy of the activity counters.
func (s *Scheduler) Stats() SchedulerStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// CreateTask registers a task and makes it ready. The task does not run
// before Start. Quantum 0 selects the configured default; stackSize 0
// selects the default stack size.
func (s *Scheduler) CreateTask(entry Runner, name string, stackSize uint32, prio Priority, quantum Ticks) (Handle, error) {
	if entry == nil {
		return Handle{}, utils.WrapError(ErrRange, "nil task entry")
	}
	if prio < 0 || int(prio) >= s.cfg.PriorityLevels {
		return Handle{}, utils.WrapError(ErrRange, "priority outside configured levels")
	}
	if quantum == 0 {
		quantum = s.cfg.DefaultQuantum
	}
	if quantum == Forever {
		return Handle{}, utils.WrapError(ErrRange, "quantum too large")
	}
	if stackSize == 0 {
		stackSize = DefaultStackSize
	}
	if len(name) > MaxNameLen {
		name = name[:MaxNameLen]
	}

	stack, stackOff, err := s.alloc.Allocate(stackSize)
	if err != nil {
		return Handle{}, utils.WrapError(ErrAllocation, err.Error())
	}
	fillStack(stack)

	s.mu.Lock()
	h, err := s.createTaskLocked(entry, name, stack, stackOff, prio, quantum)
	s.mu.Unlock()
	if err != nil {
		s.alloc.Free(stackOff)
		return Handle{}, err
	}

	s.log.Debug("task created",
		utils.String("name", name),
		utils.Int("prio", int(prio)),
		utils.Uint64("quantum", uint64(quantum)),
	)
	return h, nil
}

func (s *Scheduler) createTaskLocked(entry Runner, name string, stack []byte, stackOff uint32, prio Priority, quantum Ticks) (Handle, error) {
	if s.stopping {
		return Handle{}, utils.WrapError(ErrConfiguration, "scheduler stopped")
	}

	t := &tcb{
		name:     name,
		entry:    entry,
		basePrio: prio,
		effPrio:  prio,
		quantum:  quantum,
		gate:     make(chan struct{}, 1),
		stack:    stack,
		stackOff: stackOff,
	}
	if !s.store.alloc(t) {
		return Handle{}, utils.WrapError(ErrAllocation, "task table full")
	}

	s.makeReadyLocked(t)
	s.stats.TasksCreated++
	s.wg.Add(1)
	go s.trampoline(t)

	return t.handle(), nil
}

// DeleteTask destroys a task. A blocked task is removed from its wait set
// atomically with the destroy; a ready task never runs again. Deleting the
// running task from outside marks it and the unwind happens at its next
// kernel entry; a task deleting itself should use TaskContext.Exit.
func (s *Scheduler) DeleteTask(h Handle) error {
	s.mu.Lock()
	t := s.store.lookup(h)
	if t == nil {
		s.mu.Unlock()
		return ErrInvalidHandle
	}

	if t == s.running {
		t.doomed = true
		s.mu.Unlock()
		return nil
	}

	s.terminateLocked(t)
	s.mu.Unlock()

	// Unblock the parked goroutine so it can unwind.
	t.gate <- struct{}{}

	s.log.Debug("task deleted", utils.String("name", t.name))
	return nil
}

// Start enforces the idle invariant and dispatches the first task.
// At least one task at priority 0 must exist; by default the scheduler
// provides its own idle task running the configured IdleHook.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return utils.WrapError(ErrConfiguration, "already started")
	}
	if s.stopping {
		s.mu.Unlock()
		return utils.WrapError(ErrConfiguration, "scheduler stopped")
	}

	if !s.cfg.DisableIdleTask {
		stack, stackOff, err := s.alloc.Allocate(s.cfg.IdleStackSize)
		if err != nil {
			s.mu.Unlock()
			return utils.WrapError(ErrAllocation, err.Error())
		}
		fillStack(stack)
		h, err := s.createTaskLocked(TaskFunc(s.idleLoop), "idle", stack, stackOff, 0, 1)
		if err != nil {
			s.mu.Unlock()
			s.alloc.Free(stackOff)
			return err
		}
		s.idle = s.store.lookup(h)
	}

	idleReady := false
	s.store.forEach(func(t *tcb) {
		if t.basePrio == 0 {
			idleReady = true
		}
	})
	if !idleReady {
		s.mu.Unlock()
		return utils.WrapError(ErrConfiguration, "no idle-priority task registered")
	}

	s.started = true
	s.log.Info("scheduler started", utils.String("policy", s.cfg.Policy.String()))
	s.switchFrom(nil) // releases the kernel lock
	return nil
}

// Stop terminates every task and joins their goroutines. Must be called
// from outside task context. The running task unwinds at its next kernel
// entry, so tasks are expected to reach one (the built-in idle task always
// does).
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopping {
		s.mu.Unlock()
		return
	}
	s.stopping = true

	var parked []*tcb
	s.store.forEach(func(t *tcb) {
		if t != s.running {
			parked = append(parked, t)
		}
	})
	for _, t := range parked {
		s.terminateLocked(t)
	}
	if r := s.running; r != nil {
		r.doomed = true
	}
	s.mu.Unlock()

	for _, t := range parked {
		t.gate <- struct{}{}
	}
	s.wg.Wait()

	s.log.Info("scheduler stopped",
		utils.Uint64("ticks", uint64(s.tickCount)),
		utils.Uint64("dispatches", s.stats.Dispatches),
	)
}

// Tick is the tick handler. Call it from the external tick source at a fixed
// period; it is safe from any goroutine. It advances time, wakes expired
// delays and timeouts, and charges the running task's quantum. Quantum
// expiry marks the task for rotation at its next kernel entry.
func (s *Scheduler) Tick() {
	s.mu.Lock()
	if !s.started || s.stopping {
		s.mu.Unlock()
		return
	}

	s.tickCount++
	now := s.tickCount
	s.stats.Ticks = now

	for t := s.timers.popDue(now); t != nil; t = s.timers.popDue(now) {
		t.hasDeadline = false
		if t.waitQ != nil {
			t.waitQ.removeLocked(t)
			s.wakeLocked(t, WakeTimeout, nil)
		} else {
			s.wakeLocked(t, WakeSignaled, nil)
		}
	}

	if r := s.running; r != nil {
		r.runTicks++
		if s.cfg.Policy == PolicyPreemptive {
			if r.quantumLeft > 0 {
				r.quantumLeft--
			}
			if r.quantumLeft == 0 {
				r.rotate = true
			}
		}
	}

	hook := s.cfg.TickHook
	s.mu.Unlock()

	if hook != nil {
		hook.OnTick(now)
	}
}

// Atomic runs fn under the kernel lock. IPC primitives use it for their
// bounded critical sections; wait-set wakes performed inside fn take effect
// (including immediate preemption) when Atomic returns. Pass the calling
// task's context, or nil from outside task context.
func (s *Scheduler) Atomic(tc *TaskContext, fn func()) {
	s.mu.Lock()
	fn()
	s.mu.Unlock()
	if tc != nil {
		s.maybeResched(tc)
	}
}

// --- internal machinery -------------------------------------------------

func (s *Scheduler) idleLoop(tc *TaskContext) {
	hook := s.cfg.IdleHook
	for {
		hook.OnIdle()
		tc.Yield()
	}
}

func (s *Scheduler) nextBlockSeq() uint64 {
	s.blockSeq++
	return s.blockSeq
}

// makeReadyLocked queues t at the tail of its level.
func (s *Scheduler) makeReadyLocked(t *tcb) {
	t.state = StateReady
	s.ready.pushBack(t)
}

// wakeLocked moves a blocked task to the ready state with the given reason.
// Any pending deadline is cancelled; the wake wins over the timeout.
func (s *Scheduler) wakeLocked(t *tcb, reason WakeReason, deliver interface{}) {
	if t.hasDeadline {
		s.timers.remove(t)
		t.hasDeadline = false
	}
	t.wakeReason = reason
	if reason == WakeDelivered {
		t.delivered = deliver
	}
	s.makeReadyLocked(t)
}

// switchFrom selects and dispatches the next task. The kernel lock must be
// held; it is released before the gate signal. prev is the outgoing task
// (already queued, blocked or terminated), or nil at Start.
//
// Returns true when prev lost the processor and must park or exit; false
// when prev was re-selected and simply continues.
func (s *Scheduler) switchFrom(prev *tcb) bool {
	next := s.ready.popHighest()
	if next == nil {
		// Only reachable while stopping, when every task has been reaped.
		s.running = nil
		s.mu.Unlock()
		return true
	}

	s.running = next
	next.state = StateRunning
	next.quantumLeft = next.quantum
	next.rotate = false
	s.stats.Dispatches++
	s.mu.Unlock()

	if next == prev {
		return false
	}
	next.gate <- struct{}{}
	return true
}

// parkSelf waits for the next dispatch of self. If the task was reaped while
// parked its goroutine unwinds here.
func (s *Scheduler) parkSelf(self *tcb) {
	<-self.gate
	if self.reaped {
		runtime.Goexit()
	}
}

// maybeResched is the preemption point at the end of every kernel entry made
// from task context. It honors pending quantum rotation and preempts the
// caller when a higher-priority task became ready on this call path.
func (s *Scheduler) maybeResched(tc *TaskContext) {
	s.mu.Lock()
	self := tc.t
	if self.doomed {
		s.unwindLocked(self)
	}

	preempt := s.cfg.Policy == PolicyPreemptive && s.ready.highestPriority() > self.effPrio
	rotate := self.rotate && s.ready.hasAt(self.effPrio)

	if !preempt && !rotate {
		if self.rotate {
			// Quantum expired but the level is otherwise empty: start a
			// fresh quantum without a context switch.
			self.rotate = false
			self.quantumLeft = self.quantum
		}
		s.mu.Unlock()
		return
	}

	self.rotate = false
	self.state = StateReady
	if rotate {
		s.ready.pushBack(self)
		s.stats.Rotations++
	} else {
		// Preempted: keep the head position and the turn.
		s.ready.pushFront(self)
		s.stats.Preemptions++
	}

	if s.switchFrom(self) {
		s.parkSelf(self)
	}
}

// terminateLocked reaps t: releases held mutexes (waking successors),
// cancels waits and deadlines, frees the stack and invalidates handles.
func (s *Scheduler) terminateLocked(t *tcb) {
	for len(t.held) > 0 {
		s.releaseMutexLocked(t.held[len(t.held)-1], t)
	}
	if t.hasDeadline {
		s.timers.remove(t)
		t.hasDeadline = false
	}
	if t.waitQ != nil {
		t.waitQ.removeLocked(t)
	}
	if t.state == StateReady {
		s.ready.remove(t)
	}
	if t.stack != nil {
		s.alloc.Free(t.stackOff)
		t.stack = nil
	}
	t.state = StateTerminated
	t.reaped = true
	s.store.release(t)
	s.stats.TasksDestroyed++
}

// unwindLocked terminates the calling task in place. Never returns.
func (s *Scheduler) unwindLocked(self *tcb) {
	if !self.reaped {
		s.terminateLocked(self)
	}
	if s.running == self {
		s.switchFrom(self)
	} else {
		s.mu.Unlock()
	}
	runtime.Goexit()
}

// trampoline hosts a task goroutine: park until first dispatch, run the
// entry, and reap on return by any path.
func (s *Scheduler) trampoline(t *tcb) {
	defer s.wg.Done()
	defer s.finalize(t)

	<-t.gate
	if t.reaped {
		return
	}

	tc := &TaskContext{s: s, t: t}
	t.entry.Run(tc)
}

// finalize reaps a task whose entry returned normally. Tasks unwound through
// Goexit were already reaped on their way out.
func (s *Scheduler) finalize(t *tcb) {
	s.mu.Lock()
	if t.reaped {
		s.mu.Unlock()
		return
	}
	s.terminateLocked(t)
	if s.running == t {
		s.switchFrom(t) // releases the kernel lock
	} else {
		s.mu.Unlock()
	}
}
