package main

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nmxmxh/kron_v1/kernel/ipc"
	"github.com/nmxmxh/kron_v1/kernel/sched"
	"github.com/nmxmxh/kron_v1/kernel/utils"
)

var (
	flagTickPeriod time.Duration
	flagDuration   time.Duration
	flagLevels     int
	flagArenaSize  uint32
	flagCooperate  bool
)

func main() {
	root := &cobra.Command{
		Use:   "kron-node",
		Short: "Run a demo workload on the kron task kernel",
		RunE:  runNode,
	}
	root.Flags().DurationVar(&flagTickPeriod, "tick", 5*time.Millisecond, "tick period")
	root.Flags().DurationVar(&flagDuration, "duration", 2*time.Second, "how long to run")
	root.Flags().IntVar(&flagLevels, "levels", 8, "priority levels")
	root.Flags().Uint32Var(&flagArenaSize, "arena", 512*1024, "arena size in bytes")
	root.Flags().BoolVar(&flagCooperate, "cooperative", false, "disable preemption and quantum rotation")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runNode(cmd *cobra.Command, args []string) error {
	log := utils.DefaultLogger("node")
	nodeID := utils.GenerateID()
	log.Info("node starting", utils.String("id", nodeID))

	policy := sched.PolicyPreemptive
	if flagCooperate {
		policy = sched.PolicyCooperative
	}

	s, err := sched.New(sched.Config{
		PriorityLevels: flagLevels,
		ArenaSize:      flagArenaSize,
		Policy:         policy,
		Logger:         utils.DefaultLogger("sched"),
	})
	if err != nil {
		return err
	}

	queue, err := ipc.NewEventQueue(s, "samples", 16)
	if err != nil {
		return err
	}
	channel, err := ipc.NewSharedChannel(s, "totals", 64, true)
	if err != nil {
		return err
	}

	// Producer: samples a counter every few ticks and pushes it through the
	// queue. Runs above the consumer so a full queue throttles it.
	_, err = s.CreateTask(sched.TaskFunc(func(tc *sched.TaskContext) {
		var n uint64
		for {
			tc.Delay(2)
			payload := make([]byte, 8)
			binary.LittleEndian.PutUint64(payload, n)
			ev, _ := ipc.MakeEvent(1, payload)
			if err := queue.Send(tc, ev, sched.Forever); err != nil {
				return
			}
			n++
		}
	}), "producer", 0, 3, 2)
	if err != nil {
		return err
	}

	// Consumer: drains the queue and accumulates into the shared buffer.
	_, err = s.CreateTask(sched.TaskFunc(func(tc *sched.TaskContext) {
		for {
			ev, err := queue.Receive(tc, sched.Forever)
			if err != nil {
				return
			}
			region, err := channel.Acquire(tc)
			if err != nil {
				return
			}
			buf := region.Bytes()
			total := binary.LittleEndian.Uint64(buf[:8])
			total += binary.LittleEndian.Uint64(ev.Payload())
			binary.LittleEndian.PutUint64(buf[:8], total)
			region.Release(tc)
		}
	}), "consumer", 0, 2, 2)
	if err != nil {
		return err
	}

	// Reporter: low priority, wakes rarely, prints a monitoring snapshot.
	_, err = s.CreateTask(sched.TaskFunc(func(tc *sched.TaskContext) {
		for {
			tc.Delay(50)
			for _, st := range s.Snapshot() {
				log.Info("task",
					utils.String("name", st.Name),
					utils.String("state", st.State.String()),
					utils.Int("prio", int(st.Priority)),
					utils.Uint64("runTicks", uint64(st.RunTicks)),
					utils.Uint32("stackHWM", st.StackHighWaterMark),
				)
			}
		}
	}), "reporter", 0, 1, 1)
	if err != nil {
		return err
	}

	if err := s.Start(); err != nil {
		return err
	}

	driver := sched.NewTickDriver(s, flagTickPeriod)
	driver.Run()

	shutdown := utils.NewGracefulShutdown(5*time.Second, log)
	shutdown.Register(func() error {
		driver.Stop()
		s.Stop()
		return nil
	})

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-time.After(flagDuration):
	case <-sig:
		log.Info("interrupted")
	}

	if err := shutdown.Shutdown(context.Background()); err != nil {
		return err
	}

	stats := s.Stats()
	qstats := queue.Stats()
	fmt.Printf("ticks=%d dispatches=%d preemptions=%d rotations=%d sent=%d received=%d handoffs=%d arenaFree=%d\n",
		stats.Ticks, stats.Dispatches, stats.Preemptions, stats.Rotations,
		qstats.Sent, qstats.Received, qstats.Handoffs, s.FreeMemoryRemaining())
	return nil
}
