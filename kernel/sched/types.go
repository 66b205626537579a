package sched

// Ticks counts scheduler time. All quanta, delays and timeouts are measured
// in ticks of the external tick source.
type Ticks uint64

// Forever makes a blocking call wait indefinitely.
const Forever Ticks = ^Ticks(0)

// Priority is a task priority level. 0 is the lowest (idle) level.
type Priority int

// TaskState enumerates the lifecycle states of a task.
type TaskState uint8

const (
	StateReady TaskState = iota
	StateRunning
	StateBlocked
	StateSuspended
	StateTerminated
)

func (ts TaskState) String() string {
	switch ts {
	case StateReady:
		return "ready"
	case StateRunning:
		return "running"
	case StateBlocked:
		return "blocked"
	case StateSuspended:
		return "suspended"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Policy selects the scheduling discipline at construction time.
type Policy uint8

const (
	// PolicyPreemptive forces a reschedule whenever a higher-priority task
	// becomes ready and rotates tasks on quantum expiry.
	PolicyPreemptive Policy = iota
	// PolicyCooperative switches only at voluntary yield, delay or blocking
	// calls. Priority still decides who runs next at those points.
	PolicyCooperative
)

func (p Policy) String() string {
	switch p {
	case PolicyPreemptive:
		return "preemptive"
	case PolicyCooperative:
		return "cooperative"
	default:
		return "unknown"
	}
}

// WakeReason reports why a blocking wait returned.
type WakeReason uint8

const (
	// WakeSatisfied means the wait condition held immediately, no park happened.
	WakeSatisfied WakeReason = iota
	// WakeSignaled means another task released this waiter.
	WakeSignaled
	// WakeDelivered means the waker handed a payload over directly;
	// retrieve it with TaskContext.Delivered.
	WakeDelivered
	// WakeTimeout means the deadline expired before a wake arrived.
	WakeTimeout
	// WakeDestroyed means the primitive the task waited on was destroyed.
	WakeDestroyed
)

// Runner is a task body. Run is invoked exactly once on the task's own
// goroutine; returning terminates the task.
type Runner interface {
	Run(*TaskContext)
}

// TaskFunc adapts a plain function to the Runner interface.
type TaskFunc func(*TaskContext)

// Run implements Runner.
func (f TaskFunc) Run(tc *TaskContext) { f(tc) }

// IdleHook runs inside the built-in idle task whenever no other task is ready.
// It must not block.
type IdleHook interface {
	OnIdle()
}

// IdleFunc adapts a plain function to the IdleHook interface.
type IdleFunc func()

// OnIdle implements IdleHook.
func (f IdleFunc) OnIdle() { f() }

// TickHook is invoked after every processed tick with the new tick count.
type TickHook interface {
	OnTick(now Ticks)
}

// TickFunc adapts a plain function to the TickHook interface.
type TickFunc func(now Ticks)

// OnTick implements TickHook.
func (f TickFunc) OnTick(now Ticks) { f(now) }

// Handle identifies a task. Handles are generation-counted indices into the
// task table: using a handle after its task was deleted fails with
// ErrInvalidHandle instead of touching a recycled slot.
type Handle struct {
	index uint32
	gen   uint32
}

// Valid reports whether the handle was ever issued by a scheduler.
func (h Handle) Valid() bool { return h.gen != 0 }

// TaskStatus is one row of a monitoring snapshot.
type TaskStatus struct {
	Name               string
	State              TaskState
	Priority           Priority
	BasePriority       Priority
	StackHighWaterMark uint32
	StackSize          uint32
	RunTicks           Ticks
}

// SchedulerStats tracks scheduler activity counters.
type SchedulerStats struct {
	Ticks          Ticks
	Dispatches     uint64
	Preemptions    uint64
	Rotations      uint64
	TasksCreated   uint64
	TasksDestroyed uint64
}
