package reactor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimer_FiresInDueOrder(t *testing.T) {
	l := newTestLoop(t)
	var order []int
	var timers []Handle
	for _, ms := range []int{30, 10, 20, 10} {
		timer, err := l.NewTimer()
		require.NoError(t, err)
		ms := ms
		require.NoError(t, timer.Start(time.Duration(ms)*time.Millisecond, 0, func(*Timer) {
			order = append(order, ms)
		}))
		timers = append(timers, timer)
	}

	alive, err := l.Run(RunDefault)
	require.NoError(t, err)
	assert.False(t, alive)
	assert.Equal(t, []int{10, 10, 20, 30}, order)

	shutdownLoop(t, l, timers...)
}

func TestTimer_Repeat(t *testing.T) {
	l := newTestLoop(t)
	timer, err := l.NewTimer()
	require.NoError(t, err)

	var count int
	require.NoError(t, timer.Start(time.Millisecond, 2*time.Millisecond, func(timer *Timer) {
		count++
		if count == 3 {
			require.NoError(t, timer.Stop())
		}
	}))
	assert.Equal(t, 2*time.Millisecond, timer.Repeat())
	assert.False(t, timer.Due().IsZero())

	alive, err := l.Run(RunDefault)
	require.NoError(t, err)
	assert.False(t, alive)
	assert.Equal(t, 3, count)
	assert.False(t, timer.IsActive())
	assert.True(t, timer.Due().IsZero())

	shutdownLoop(t, l, timer)
}

func TestTimer_RestartReschedules(t *testing.T) {
	l := newTestLoop(t)
	timer, err := l.NewTimer()
	require.NoError(t, err)

	var fired []string
	require.NoError(t, timer.Start(time.Hour, 0, func(*Timer) { fired = append(fired, "first") }))
	require.NoError(t, timer.Start(0, 0, func(*Timer) { fired = append(fired, "second") }))
	assert.Len(t, l.timers, 1)

	_, err = l.Run(RunDefault)
	require.NoError(t, err)
	assert.Equal(t, []string{"second"}, fired)

	shutdownLoop(t, l, timer)
}

func TestTimer_Again(t *testing.T) {
	l := newTestLoop(t)
	timer, err := l.NewTimer()
	require.NoError(t, err)

	assert.Error(t, timer.Again())

	require.NoError(t, timer.Start(time.Hour, 0, func(*Timer) {}))
	due := timer.Due()
	// no repeat interval, no effect
	require.NoError(t, timer.Again())
	assert.Equal(t, due, timer.Due())

	timer.SetRepeat(time.Millisecond)
	require.NoError(t, timer.Again())
	assert.True(t, timer.Due().Before(due))

	shutdownLoop(t, l, timer)
}

func TestTimer_StopInactiveIsNoop(t *testing.T) {
	l := newTestLoop(t)
	timer, err := l.NewTimer()
	require.NoError(t, err)
	require.NoError(t, timer.Stop())
	assert.False(t, timer.IsActive())
	assert.Error(t, timer.Start(0, 0, nil))
	shutdownLoop(t, l, timer)
}

func TestTimer_CloseUnschedules(t *testing.T) {
	l := newTestLoop(t)
	timer, err := l.NewTimer()
	require.NoError(t, err)
	require.NoError(t, timer.Start(0, 0, func(*Timer) { t.Error("closed timer fired") }))

	var closed bool
	timer.Close(func() { closed = true })
	assert.False(t, timer.IsActive())
	assert.Empty(t, l.timers)

	alive, err := l.Run(RunDefault)
	require.NoError(t, err)
	assert.False(t, alive)
	assert.True(t, closed)
	require.NoError(t, l.Close())
}
