package sched

import (
	"runtime"

	"github.com/nmxmxh/kron_v1/kernel/utils"
)

// Defaults used when Config fields are zero.
const (
	DefaultPriorityLevels = 8
	DefaultMaxTasks       = 64
	DefaultArenaSize      = 512 * 1024
	DefaultStackSize      = 1024
	MaxPriorityLevels     = 256
	MaxNameLen            = 32
)

// Config configures a scheduler instance.
type Config struct {
	// PriorityLevels is the number of priority levels; valid priorities are
	// [0, PriorityLevels). Level 0 is reserved for idle-priority tasks.
	PriorityLevels int

	// MaxTasks bounds the task table.
	MaxTasks int

	// ArenaSize is the heap backing task stacks and IPC buffers, in bytes.
	ArenaSize uint32

	// DefaultQuantum is used when CreateTask is called with quantum 0.
	// Defaults to 1 (one tick period).
	DefaultQuantum Ticks

	// Policy selects the scheduling discipline.
	Policy Policy

	// IdleHook runs in the built-in idle task. Defaults to yielding the
	// host processor.
	IdleHook IdleHook

	// TickHook, if set, is invoked after every processed tick.
	TickHook TickHook

	// DisableIdleTask suppresses the built-in idle task. The caller must
	// then register its own never-blocking task at priority 0 before Start,
	// or Start fails with ErrConfiguration.
	DisableIdleTask bool

	// IdleStackSize sizes the built-in idle task's stack region.
	IdleStackSize uint32

	Logger *utils.Logger
}

func (c Config) withDefaults() Config {
	if c.PriorityLevels == 0 {
		c.PriorityLevels = DefaultPriorityLevels
	}
	if c.MaxTasks == 0 {
		c.MaxTasks = DefaultMaxTasks
	}
	if c.ArenaSize == 0 {
		c.ArenaSize = DefaultArenaSize
	}
	if c.DefaultQuantum == 0 {
		c.DefaultQuantum = 1
	}
	if c.IdleHook == nil {
		c.IdleHook = IdleFunc(runtime.Gosched)
	}
	if c.IdleStackSize == 0 {
		c.IdleStackSize = DefaultStackSize
	}
	if c.Logger == nil {
		c.Logger = utils.DefaultLogger("sched")
	}
	return c
}

func (c Config) validate() error {
	if c.PriorityLevels < 2 || c.PriorityLevels > MaxPriorityLevels {
		return utils.WrapError(ErrConfiguration, "priority levels must be in [2, 256]")
	}
	if c.MaxTasks < 2 {
		return utils.WrapError(ErrConfiguration, "need room for at least an idle task and one user task")
	}
	if c.Policy != PolicyPreemptive && c.Policy != PolicyCooperative {
		return utils.WrapError(ErrConfiguration, "unknown scheduling policy")
	}
	return nil
}
