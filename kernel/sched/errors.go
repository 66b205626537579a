package sched

import "errors"

var (
	// ErrAllocation means a stack or table slot could not be obtained.
	// Fatal for the requested resource, not for the scheduler.
	ErrAllocation = errors.New("allocation failed")

	// ErrRange means a priority or quantum is outside the configured bounds.
	// The call performs no partial mutation.
	ErrRange = errors.New("parameter out of range")

	// ErrInvalidHandle means the operation targeted a deleted or unknown task.
	ErrInvalidHandle = errors.New("invalid handle")

	// ErrConfiguration means the scheduler cannot start or was constructed
	// with an unsatisfiable configuration.
	ErrConfiguration = errors.New("invalid configuration")

	// ErrInvalidState means the operation does not apply to the task's
	// current state (e.g. resuming a task that is not suspended).
	ErrInvalidState = errors.New("invalid task state")

	// ErrNotHolder means a mutex release was attempted by a task that does
	// not hold it.
	ErrNotHolder = errors.New("not the lock holder")

	// ErrDestroyed means the primitive a task blocked on was destroyed
	// underneath it.
	ErrDestroyed = errors.New("owner destroyed")

	// ErrTimeout means a blocking call's deadline expired, or a zero-timeout
	// call would have blocked.
	ErrTimeout = errors.New("timed out")
)
