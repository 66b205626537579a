package sched

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"
)

func TestTickDriver_MockClock(t *testing.T) {
	s := newTestScheduler(t)
	require.NoError(t, s.Start())
	defer s.Stop()

	mock := clock.NewMock()
	d := NewTickDriverClock(s, 10*time.Millisecond, mock)
	d.Run()
	defer d.Stop()

	mock.Add(35 * time.Millisecond)

	require.Eventually(t, func() bool {
		return s.Stats().Ticks >= 3
	}, 2*time.Second, time.Millisecond)
}

func TestTickDriver_StopIdempotent(t *testing.T) {
	s := newTestScheduler(t)
	d := NewTickDriverClock(s, time.Millisecond, clock.NewMock())
	d.Run()
	d.Run() // second Run is a no-op
	d.Stop()
	d.Stop()
}
