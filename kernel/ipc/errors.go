package ipc

import "github.com/nmxmxh/kron_v1/kernel/sched"

// The IPC layer reports failures with the kernel's sentinel errors so callers
// match with errors.Is across both packages.
var (
	// ErrInvalidHandle covers operations on a destroyed or unknown object.
	ErrInvalidHandle = sched.ErrInvalidHandle

	// ErrTimeout covers expired deadlines and zero-timeout calls that would
	// have blocked.
	ErrTimeout = sched.ErrTimeout

	// ErrDestroyed is returned to waiters released by a Destroy.
	ErrDestroyed = sched.ErrDestroyed

	// ErrRange covers out-of-bounds sizes and capacities.
	ErrRange = sched.ErrRange

	// ErrAllocation means the arena could not back the object.
	ErrAllocation = sched.ErrAllocation
)
