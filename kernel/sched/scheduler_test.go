package sched

import (
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nmxmxh/kron_v1/kernel/utils"
)

func newTestScheduler(t *testing.T, mutate ...func(*Config)) *Scheduler {
	t.Helper()
	cfg := Config{Logger: utils.Discard()}
	for _, m := range mutate {
		m(&cfg)
	}
	s, err := New(cfg)
	require.NoError(t, err)
	return s
}

func waitDone(t *testing.T, done chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("tasks did not finish")
	}
}

func TestScheduler_PriorityOrder(t *testing.T) {
	s := newTestScheduler(t)

	var order []string
	done := make(chan struct{})

	add := func(name string, prio Priority) {
		_, err := s.CreateTask(TaskFunc(func(tc *TaskContext) {
			order = append(order, name)
			if name == "low" {
				close(done)
			}
		}), name, 0, prio, 0)
		require.NoError(t, err)
	}
	add("low", 1)
	add("high", 3)
	add("mid", 2)

	require.NoError(t, s.Start())
	waitDone(t, done)
	s.Stop()

	assert.Equal(t, []string{"high", "mid", "low"}, order)
}

func TestScheduler_RoundRobinOnYield(t *testing.T) {
	s := newTestScheduler(t)

	var order []string
	var remaining int32 = 3
	done := make(chan struct{})

	for _, tag := range []string{"A", "B", "C"} {
		tag := tag
		_, err := s.CreateTask(TaskFunc(func(tc *TaskContext) {
			for i := 0; i < 3; i++ {
				order = append(order, tag)
				tc.Yield()
			}
			if atomic.AddInt32(&remaining, -1) == 0 {
				close(done)
			}
		}), tag, 0, 2, 0)
		require.NoError(t, err)
	}

	require.NoError(t, s.Start())
	waitDone(t, done)
	s.Stop()

	assert.Equal(t, []string{"A", "B", "C", "A", "B", "C", "A", "B", "C"}, order)
}

func TestScheduler_CreateTaskPreempts(t *testing.T) {
	s := newTestScheduler(t)

	var order []string
	done := make(chan struct{})

	_, err := s.CreateTask(TaskFunc(func(tc *TaskContext) {
		order = append(order, "parent-before")
		_, err := tc.CreateTask(TaskFunc(func(*TaskContext) {
			order = append(order, "child")
		}), "child", 0, 3, 0)
		require.NoError(t, err)
		order = append(order, "parent-after")
		close(done)
	}), "parent", 0, 1, 0)
	require.NoError(t, err)

	require.NoError(t, s.Start())
	waitDone(t, done)
	s.Stop()

	assert.Equal(t, []string{"parent-before", "child", "parent-after"}, order)
	assert.GreaterOrEqual(t, s.Stats().Preemptions, uint64(1))
}

func TestScheduler_CooperativeNeverPreempts(t *testing.T) {
	s := newTestScheduler(t, func(c *Config) { c.Policy = PolicyCooperative })

	var order []string
	done := make(chan struct{})

	_, err := s.CreateTask(TaskFunc(func(tc *TaskContext) {
		order = append(order, "L1")
		_, err := tc.CreateTask(TaskFunc(func(*TaskContext) {
			order = append(order, "H")
		}), "H", 0, 3, 0)
		require.NoError(t, err)
		order = append(order, "L2")
		tc.Yield()
		close(done)
	}), "L", 0, 1, 0)
	require.NoError(t, err)

	require.NoError(t, s.Start())
	waitDone(t, done)
	s.Stop()

	// The higher-priority task runs only once L yields.
	assert.Equal(t, []string{"L1", "L2", "H"}, order)
	assert.Zero(t, s.Stats().Preemptions)
}

func TestScheduler_SetPriorityPreempts(t *testing.T) {
	s := newTestScheduler(t)

	var order []string
	done := make(chan struct{})

	hB, err := s.CreateTask(TaskFunc(func(*TaskContext) {
		order = append(order, "B")
	}), "B", 0, 1, 0)
	require.NoError(t, err)

	_, err = s.CreateTask(TaskFunc(func(tc *TaskContext) {
		order = append(order, "A-before")
		require.NoError(t, tc.SetPriority(hB, 3))
		order = append(order, "A-after")
		close(done)
	}), "A", 0, 2, 0)
	require.NoError(t, err)

	require.NoError(t, s.Start())
	waitDone(t, done)
	s.Stop()

	// Raising B above the caller dispatches B before SetPriority returns.
	assert.Equal(t, []string{"A-before", "B", "A-after"}, order)
}

func TestScheduler_QuantumRotationOnTick(t *testing.T) {
	s := newTestScheduler(t)

	var stop int32
	counts := make([]int64, 2)
	var remaining int32 = 2
	done := make(chan struct{})

	for i := 0; i < 2; i++ {
		i := i
		_, err := s.CreateTask(TaskFunc(func(tc *TaskContext) {
			for atomic.LoadInt32(&stop) == 0 {
				atomic.AddInt64(&counts[i], 1)
				// Kernel entry so pending rotation takes effect.
				_ = tc.SetQuantum(tc.Handle(), 2)
			}
			if atomic.AddInt32(&remaining, -1) == 0 {
				close(done)
			}
		}), "worker", 0, 2, 2)
		require.NoError(t, err)
	}

	require.NoError(t, s.Start())

	// Neither worker ever yields; only quantum expiry can move the processor
	// between them.
	require.Eventually(t, func() bool {
		s.Tick()
		return atomic.LoadInt64(&counts[0]) > 0 && atomic.LoadInt64(&counts[1]) > 0
	}, 2*time.Second, time.Millisecond)

	atomic.StoreInt32(&stop, 1)
	waitDone(t, done)
	s.Stop()

	assert.GreaterOrEqual(t, s.Stats().Rotations, uint64(1))
}

func remainingQuantum(s *Scheduler, h Handle) Ticks {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.lookup(h).quantumLeft
}

func TestScheduler_SetQuantumClampsRunningTask(t *testing.T) {
	s := newTestScheduler(t)

	var stop int32
	done := make(chan struct{})

	h, err := s.CreateTask(TaskFunc(func(tc *TaskContext) {
		for atomic.LoadInt32(&stop) == 0 {
			// Kernel entry without quantum side effects.
			s.Atomic(tc, func() {})
		}
		close(done)
	}), "spin", 0, 2, 5)
	require.NoError(t, err)

	require.NoError(t, s.Start())
	require.Eventually(t, func() bool {
		st, err := s.TaskInfo(h)
		return err == nil && st.State == StateRunning
	}, 2*time.Second, time.Millisecond)

	// Two ticks charge the running task's budget of 5 down to 3.
	s.Tick()
	s.Tick()
	assert.Equal(t, Ticks(3), remainingQuantum(s, h))

	// Lowering the quantum below the remaining budget clamps it immediately,
	// so the task gets at most one more tick this turn.
	require.NoError(t, s.SetQuantum(h, 1))
	assert.Equal(t, Ticks(1), remainingQuantum(s, h))

	// Raising it never refills the turn in progress.
	require.NoError(t, s.SetQuantum(h, 10))
	assert.Equal(t, Ticks(1), remainingQuantum(s, h))

	atomic.StoreInt32(&stop, 1)
	waitDone(t, done)
	s.Stop()
}

func TestScheduler_EqualPriorityTickShare(t *testing.T) {
	s := newTestScheduler(t)

	const workers = 3
	const totalTicks = 120

	var stop int32
	var remaining int32 = workers
	done := make(chan struct{})
	handles := make([]Handle, workers)

	for i := 0; i < workers; i++ {
		h, err := s.CreateTask(TaskFunc(func(tc *TaskContext) {
			for atomic.LoadInt32(&stop) == 0 {
				s.Atomic(tc, func() {})
			}
			if atomic.AddInt32(&remaining, -1) == 0 {
				close(done)
			}
		}), "worker", 0, 2, 1)
		require.NoError(t, err)
		handles[i] = h
	}

	require.NoError(t, s.Start())
	for i := 0; i < totalTicks; i++ {
		s.Tick()
		time.Sleep(time.Millisecond)
	}

	// With quantum 1 every tick rotates the level, so each worker gets
	// roughly a third of the processor time. Half the fair share is a
	// generous floor against scheduling jitter.
	for _, h := range handles {
		st, err := s.TaskInfo(h)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, st.RunTicks, Ticks(totalTicks/(workers*2)),
			"each equal-priority task gets a fair share of ticks")
	}

	atomic.StoreInt32(&stop, 1)
	waitDone(t, done)
	s.Stop()
}

func TestScheduler_Delay(t *testing.T) {
	s := newTestScheduler(t)

	var elapsed Ticks
	done := make(chan struct{})

	_, err := s.CreateTask(TaskFunc(func(tc *TaskContext) {
		tc.Delay(0) // no-op
		start := s.Now()
		tc.Delay(3)
		elapsed = s.Now() - start
		close(done)
	}), "sleeper", 0, 2, 0)
	require.NoError(t, err)

	require.NoError(t, s.Start())
	require.Eventually(t, func() bool {
		s.Tick()
		select {
		case <-done:
			return true
		default:
			return false
		}
	}, 2*time.Second, time.Millisecond)
	s.Stop()

	assert.GreaterOrEqual(t, elapsed, Ticks(3))
}

func TestScheduler_ParameterValidation(t *testing.T) {
	s := newTestScheduler(t)

	h, err := s.CreateTask(TaskFunc(func(tc *TaskContext) { tc.Delay(Forever) }), "target", 0, 2, 0)
	require.NoError(t, err)

	assert.ErrorIs(t, s.SetQuantum(h, 0), ErrRange)
	assert.ErrorIs(t, s.SetPriority(h, -1), ErrRange)
	assert.ErrorIs(t, s.SetPriority(h, 99), ErrRange)
	assert.NoError(t, s.SetQuantum(h, 5))
	assert.NoError(t, s.SetPriority(h, 3))

	_, err = s.CreateTask(nil, "nil", 0, 2, 0)
	assert.ErrorIs(t, err, ErrRange)
	_, err = s.CreateTask(TaskFunc(func(*TaskContext) {}), "bad", 0, 99, 0)
	assert.ErrorIs(t, err, ErrRange)

	assert.ErrorIs(t, s.SetQuantum(Handle{}, 1), ErrInvalidHandle)
	assert.ErrorIs(t, s.SetPriority(Handle{}, 1), ErrInvalidHandle)

	s.Stop()
}

func TestScheduler_ConfigValidation(t *testing.T) {
	_, err := New(Config{PriorityLevels: 1, Logger: utils.Discard()})
	assert.ErrorIs(t, err, ErrConfiguration)

	_, err = New(Config{MaxTasks: 1, Logger: utils.Discard()})
	assert.ErrorIs(t, err, ErrConfiguration)

	_, err = New(Config{Policy: Policy(9), Logger: utils.Discard()})
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestScheduler_StartRequiresIdlePriorityTask(t *testing.T) {
	s := newTestScheduler(t, func(c *Config) { c.DisableIdleTask = true })

	_, err := s.CreateTask(TaskFunc(func(tc *TaskContext) { tc.Delay(Forever) }), "user", 0, 2, 0)
	require.NoError(t, err)

	assert.ErrorIs(t, s.Start(), ErrConfiguration)
	s.Stop()

	// With a caller-supplied idle-priority task, Start succeeds.
	s2 := newTestScheduler(t, func(c *Config) { c.DisableIdleTask = true })
	_, err = s2.CreateTask(TaskFunc(func(tc *TaskContext) {
		for {
			tc.Yield()
		}
	}), "custom-idle", 0, 0, 0)
	require.NoError(t, err)
	require.NoError(t, s2.Start())
	s2.Stop()
}

func TestScheduler_Snapshot(t *testing.T) {
	s := newTestScheduler(t)

	longName := strings.Repeat("x", 50)
	_, err := s.CreateTask(TaskFunc(func(tc *TaskContext) {}), longName, 0, 2, 0)
	require.NoError(t, err)
	_, err = s.CreateTask(TaskFunc(func(tc *TaskContext) {}), "second", 512, 3, 0)
	require.NoError(t, err)

	snap := s.Snapshot()
	require.Len(t, snap, 2)

	byName := map[string]TaskStatus{}
	for _, st := range snap {
		byName[st.Name] = st
	}
	trunc := longName[:MaxNameLen]
	require.Contains(t, byName, trunc)
	assert.Equal(t, StateReady, byName[trunc].State)
	assert.Equal(t, Priority(2), byName[trunc].Priority)
	assert.Equal(t, uint32(DefaultStackSize), byName[trunc].StackSize)
	assert.Equal(t, Priority(3), byName["second"].BasePriority)

	s.Stop()
}

func TestScheduler_StackHighWaterMark(t *testing.T) {
	s := newTestScheduler(t)

	h, err := s.CreateTask(TaskFunc(func(tc *TaskContext) {
		stack := tc.Stack()
		for i := 0; i < 100; i++ {
			stack[i] = byte(i)
		}
		tc.Delay(Forever)
	}), "writer", 0, 2, 0)
	require.NoError(t, err)

	require.NoError(t, s.Start())
	require.Eventually(t, func() bool {
		st, err := s.TaskInfo(h)
		return err == nil && st.State == StateBlocked
	}, 2*time.Second, time.Millisecond)

	st, err := s.TaskInfo(h)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, st.StackHighWaterMark, uint32(100))
	assert.Less(t, st.StackHighWaterMark, st.StackSize)

	s.Stop()
}

func TestScheduler_DeleteBlockedTask(t *testing.T) {
	s := newTestScheduler(t)

	h, err := s.CreateTask(TaskFunc(func(tc *TaskContext) {
		tc.Delay(Forever)
	}), "victim", 0, 2, 0)
	require.NoError(t, err)

	require.NoError(t, s.Start())
	require.Eventually(t, func() bool {
		st, err := s.TaskInfo(h)
		return err == nil && st.State == StateBlocked
	}, 2*time.Second, time.Millisecond)

	require.NoError(t, s.DeleteTask(h))

	_, err = s.TaskInfo(h)
	assert.ErrorIs(t, err, ErrInvalidHandle)
	assert.ErrorIs(t, s.DeleteTask(h), ErrInvalidHandle)
	assert.GreaterOrEqual(t, s.Stats().TasksDestroyed, uint64(1))

	s.Stop()
}

func TestScheduler_TaskReturnReapsSlot(t *testing.T) {
	s := newTestScheduler(t, func(c *Config) { c.DisableIdleTask = true })

	_, err := s.CreateTask(TaskFunc(func(tc *TaskContext) {
		for {
			tc.Yield()
		}
	}), "custom-idle", 0, 0, 0)
	require.NoError(t, err)

	h, err := s.CreateTask(TaskFunc(func(*TaskContext) {}), "oneshot", 0, 2, 0)
	require.NoError(t, err)

	free := s.FreeMemoryRemaining()
	require.NoError(t, s.Start())

	require.Eventually(t, func() bool {
		_, err := s.TaskInfo(h)
		return err != nil
	}, 2*time.Second, time.Millisecond)

	// The stack went back to the arena.
	assert.Greater(t, s.FreeMemoryRemaining(), free)
	s.Stop()
}

func TestScheduler_SuspendResume(t *testing.T) {
	s := newTestScheduler(t)

	var order []string
	done := make(chan struct{})

	hB, err := s.CreateTask(TaskFunc(func(tc *TaskContext) {
		order = append(order, "B")
	}), "B", 0, 2, 0)
	require.NoError(t, err)

	// Suspending a ready task before Start keeps it off the processor.
	require.NoError(t, s.Suspend(hB))

	_, err = s.CreateTask(TaskFunc(func(tc *TaskContext) {
		order = append(order, "A")
		require.NoError(t, tc.Resume(hB))
		order = append(order, "A-resumed-B")
		tc.Yield()
		close(done)
	}), "A", 0, 2, 0)
	require.NoError(t, err)

	require.NoError(t, s.Start())
	waitDone(t, done)
	s.Stop()

	assert.Equal(t, []string{"A", "A-resumed-B", "B"}, order)
}

func TestScheduler_TickBeforeStart(t *testing.T) {
	s := newTestScheduler(t)
	s.Tick()
	assert.Equal(t, Ticks(0), s.Now())
	s.Stop()
}
