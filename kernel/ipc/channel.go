package ipc

import (
	"github.com/nmxmxh/kron_v1/kernel/sched"
	"github.com/nmxmxh/kron_v1/kernel/utils"
)

// SharedChannel is a mutex-guarded buffer in the scheduler arena. Tasks
// acquire the channel, read or write the buffer through the returned Region,
// and release it; the lock serializes all access so the buffer never holds a
// torn write. Contended acquires block by priority with optional priority
// inheritance on the guard.
type SharedChannel struct {
	s    *sched.Scheduler
	log  *utils.Logger
	name string

	buf  []byte
	off  uint32
	lock *sched.Mutex

	destroyed bool
}

// Region is exclusive access to a channel's buffer, held between Acquire and
// Release. Using a Region after releasing it is a bug; Bytes returns nil then.
type Region struct {
	ch  *SharedChannel
	buf []byte
}

// Bytes returns the guarded buffer, or nil after release.
func (r *Region) Bytes() []byte { return r.buf }

// Release gives the buffer up and wakes the next acquirer.
func (r *Region) Release(tc *sched.TaskContext) error {
	if r.ch == nil {
		return sched.ErrNotHolder
	}
	ch := r.ch
	r.ch = nil
	r.buf = nil
	return ch.lock.Release(tc)
}

// NewSharedChannel allocates a channel of size bytes from the scheduler
// arena. pi enables priority inheritance on the guard lock.
func NewSharedChannel(s *sched.Scheduler, name string, size uint32, pi bool) (*SharedChannel, error) {
	if size == 0 {
		return nil, utils.WrapError(ErrRange, "size must be positive")
	}
	buf, off, err := s.Arena().Allocate(size)
	if err != nil {
		return nil, utils.WrapError(ErrAllocation, err.Error())
	}
	return &SharedChannel{
		s:    s,
		log:  utils.DefaultLogger("ipc"),
		name: name,
		buf:  buf,
		off:  off,
		lock: s.NewMutex(pi),
	}, nil
}

// Name returns the channel's name.
func (c *SharedChannel) Name() string { return c.name }

// Size returns the buffer size in bytes.
func (c *SharedChannel) Size() uint32 { return uint32(len(c.buf)) }

// Acquire blocks until the calling task owns the buffer.
func (c *SharedChannel) Acquire(tc *sched.TaskContext) (*Region, error) {
	if err := c.lock.Acquire(tc); err != nil {
		return nil, err
	}
	var gone bool
	c.s.Atomic(tc, func() { gone = c.destroyed })
	if gone {
		c.lock.Release(tc)
		return nil, utils.WrapError(ErrInvalidHandle, "channel destroyed")
	}
	return &Region{ch: c, buf: c.buf}, nil
}

// TryAcquire takes the buffer if it is free, without blocking.
func (c *SharedChannel) TryAcquire(tc *sched.TaskContext) (*Region, bool, error) {
	ok, err := c.lock.TryAcquire(tc)
	if err != nil || !ok {
		return nil, false, err
	}
	var gone bool
	c.s.Atomic(tc, func() { gone = c.destroyed })
	if gone {
		c.lock.Release(tc)
		return nil, false, utils.WrapError(ErrInvalidHandle, "channel destroyed")
	}
	return &Region{ch: c, buf: c.buf}, true, nil
}

// Destroy invalidates the channel and returns the buffer to the arena. The
// buffer belongs to the channel for its whole lifetime: while any task holds
// a Region the memory cannot be recycled, so Destroy fails with
// ErrInvalidState until the guard is free. A free guard also has no blocked
// acquirers, so nothing is left parked.
func (c *SharedChannel) Destroy(tc *sched.TaskContext) error {
	var err error
	c.s.Atomic(tc, func() {
		if c.destroyed {
			err = utils.WrapError(ErrInvalidHandle, "channel destroyed")
			return
		}
		if c.lock.Busy() {
			err = utils.WrapError(sched.ErrInvalidState, "channel buffer is held")
			return
		}
		c.destroyed = true
	})
	if err != nil {
		return err
	}
	// Late acquirers take the guard, observe the destroyed mark and back out,
	// so the buffer is unreachable from here on.
	if derr := c.lock.Destroy(tc); derr != nil {
		return derr
	}
	c.s.Arena().Free(c.off)
	return nil
}
