package ipc

import (
	"encoding/binary"

	"github.com/nmxmxh/kron_v1/kernel/arena"
	"github.com/nmxmxh/kron_v1/kernel/sched"
	"github.com/nmxmxh/kron_v1/kernel/utils"
)

// EventQueue is a bounded FIFO of events with blocking semantics on both
// sides. Senders park when the queue is full, receivers when it is empty,
// each in a wait set ordered by effective priority (FIFO among equals).
//
// Delivery order is strict FIFO regardless of sender priority: priority
// decides who gets to enqueue or dequeue next, never the order of events
// already in the ring. When a receiver is already parked, a send hands the
// event over directly without touching the ring; when a sender is parked,
// a receive pops the head and appends the sender's pending event, so a
// non-empty sender wait set implies a full ring and a non-empty receiver
// wait set implies an empty one.
//
// The ring lives in the scheduler arena; events are copied in and out as
// fixed-size records.
type EventQueue struct {
	s    *sched.Scheduler
	log  *utils.Logger
	name string

	capacity int
	buf      []byte
	off      uint32

	head  int
	count int

	sendWait *sched.WaitSet
	recvWait *sched.WaitSet

	destroyed bool
	stats     QueueStats
}

// QueueStats counts queue activity. HighWater is the deepest the ring ever
// got; direct handoffs never touch the ring and are counted separately.
type QueueStats struct {
	Sent         uint64
	Received     uint64
	Handoffs     uint64
	SendTimeouts uint64
	RecvTimeouts uint64
	HighWater    int
}

// NewEventQueue creates a queue holding up to capacity events, backed by the
// scheduler arena. Capacity is bounded by the largest arena block.
func NewEventQueue(s *sched.Scheduler, name string, capacity int) (*EventQueue, error) {
	if capacity <= 0 || capacity > arena.MaxBlockSize/eventRecordSize {
		return nil, utils.WrapError(ErrRange, "capacity out of range")
	}

	buf, off, err := s.Arena().Allocate(uint32(capacity * eventRecordSize))
	if err != nil {
		return nil, utils.WrapError(ErrAllocation, err.Error())
	}

	q := &EventQueue{
		s:        s,
		log:      utils.DefaultLogger("ipc"),
		name:     name,
		capacity: capacity,
		buf:      buf,
		off:      off,
		sendWait: s.NewWaitSet(),
		recvWait: s.NewWaitSet(),
	}
	return q, nil
}

// Name returns the queue's name.
func (q *EventQueue) Name() string { return q.name }

// Capacity returns the ring capacity in events.
func (q *EventQueue) Capacity() int { return q.capacity }

// Len reports the current ring depth.
func (q *EventQueue) Len() int {
	var n int
	q.s.Atomic(nil, func() { n = q.count })
	return n
}

// Stats returns a copy of the activity counters.
func (q *EventQueue) Stats() QueueStats {
	var st QueueStats
	q.s.Atomic(nil, func() { st = q.stats })
	return st
}

// Send enqueues ev, blocking up to timeout ticks while the queue is full.
// Timeout 0 never blocks; Forever waits indefinitely. If a receiver is
// already waiting the event bypasses the ring and is handed to it directly.
func (q *EventQueue) Send(tc *sched.TaskContext, ev Event, timeout sched.Ticks) error {
	var err error
	pending := ev

	reason := q.sendWait.Wait(tc, timeout, &pending, func() bool {
		if q.destroyed {
			err = utils.WrapError(ErrInvalidHandle, "queue destroyed")
			return true
		}
		if _, ok := q.recvWait.WakeOne(sched.WakeDelivered, pending); ok {
			q.stats.Sent++
			q.stats.Handoffs++
			return true
		}
		if q.count < q.capacity {
			q.put(pending)
			q.stats.Sent++
			return true
		}
		return false
	})

	switch reason {
	case sched.WakeSatisfied:
		return err
	case sched.WakeSignaled:
		// A receiver consumed the head and appended our pending event.
		return nil
	case sched.WakeTimeout:
		q.s.Atomic(tc, func() { q.stats.SendTimeouts++ })
		return utils.WrapError(ErrTimeout, "queue full")
	case sched.WakeDestroyed:
		return utils.WrapError(ErrDestroyed, "queue destroyed while sending")
	default:
		return utils.WrapError(ErrInvalidHandle, "unexpected wake")
	}
}

// Receive dequeues the oldest event, blocking up to timeout ticks while the
// queue is empty. Timeout 0 never blocks; Forever waits indefinitely.
func (q *EventQueue) Receive(tc *sched.TaskContext, timeout sched.Ticks) (Event, error) {
	var out Event
	var err error

	reason := q.recvWait.Wait(tc, timeout, nil, func() bool {
		if q.destroyed {
			err = utils.WrapError(ErrInvalidHandle, "queue destroyed")
			return true
		}
		if q.count == 0 {
			return false
		}
		out = q.take()
		q.stats.Received++
		// The freed slot goes to the longest-waiting highest-priority
		// sender, keeping its event's FIFO position.
		if att, ok := q.sendWait.WakeOne(sched.WakeSignaled, nil); ok {
			q.put(*att.(*Event))
		}
		return true
	})

	switch reason {
	case sched.WakeSatisfied:
		return out, err
	case sched.WakeDelivered:
		ev, _ := tc.Delivered().(Event)
		q.s.Atomic(tc, func() { q.stats.Received++ })
		return ev, nil
	case sched.WakeTimeout:
		q.s.Atomic(tc, func() { q.stats.RecvTimeouts++ })
		return Event{}, utils.WrapError(ErrTimeout, "queue empty")
	case sched.WakeDestroyed:
		return Event{}, utils.WrapError(ErrDestroyed, "queue destroyed while receiving")
	default:
		return Event{}, utils.WrapError(ErrInvalidHandle, "unexpected wake")
	}
}

// TrySend enqueues without blocking, for callers outside task context (a
// tick hook or host goroutine feeding the kernel). Fails with ErrTimeout
// when the queue is full and no receiver is parked.
func (q *EventQueue) TrySend(ev Event) error {
	var err error
	q.s.Atomic(nil, func() {
		if q.destroyed {
			err = utils.WrapError(ErrInvalidHandle, "queue destroyed")
			return
		}
		if _, ok := q.recvWait.WakeOne(sched.WakeDelivered, ev); ok {
			q.stats.Sent++
			q.stats.Handoffs++
			return
		}
		if q.count < q.capacity {
			q.put(ev)
			q.stats.Sent++
			return
		}
		err = utils.WrapError(ErrTimeout, "queue full")
	})
	return err
}

// Destroy invalidates the queue, releases all blocked tasks with an error
// and returns the ring to the arena. In-flight events are discarded.
func (q *EventQueue) Destroy(tc *sched.TaskContext) error {
	var err error
	released := 0
	q.s.Atomic(tc, func() {
		if q.destroyed {
			err = utils.WrapError(ErrInvalidHandle, "queue destroyed")
			return
		}
		q.destroyed = true
		released += q.sendWait.WakeAll(sched.WakeDestroyed)
		released += q.recvWait.WakeAll(sched.WakeDestroyed)
		q.count = 0
		q.buf = nil
		q.s.Arena().Free(q.off)
	})
	if err == nil && released > 0 {
		q.log.Warn("queue destroyed with blocked tasks",
			utils.String("queue", q.name),
			utils.Int("released", released),
		)
	}
	return err
}

// put appends ev to the ring. Kernel lock held; caller checked capacity.
func (q *EventQueue) put(ev Event) {
	slot := (q.head + q.count) % q.capacity
	rec := q.buf[slot*eventRecordSize : (slot+1)*eventRecordSize]
	binary.LittleEndian.PutUint32(rec[0:4], ev.Kind)
	binary.LittleEndian.PutUint32(rec[4:8], ev.Len)
	copy(rec[8:], ev.Data[:])
	q.count++
	if q.count > q.stats.HighWater {
		q.stats.HighWater = q.count
	}
}

// take pops the oldest event. Kernel lock held; caller checked count.
func (q *EventQueue) take() Event {
	rec := q.buf[q.head*eventRecordSize : (q.head+1)*eventRecordSize]
	var ev Event
	ev.Kind = binary.LittleEndian.Uint32(rec[0:4])
	ev.Len = binary.LittleEndian.Uint32(rec[4:8])
	copy(ev.Data[:], rec[8:])
	q.head = (q.head + 1) % q.capacity
	q.count--
	return ev
}
