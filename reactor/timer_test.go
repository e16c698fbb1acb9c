//go:build unix

// File: reactor/timer_test.go
// Author: momentics <momentics@gmail.com>

package reactor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTimerOrdering(t *testing.T) {
	r := newTestReactor(t, Config{})

	var fired []int
	var t10, t20, t30 Timer
	r.StartTimer(&t10, 10, func(arg any) { fired = append(fired, arg.(int)) }, 10)
	r.StartTimer(&t30, 30, func(arg any) { fired = append(fired, arg.(int)) }, 30)
	r.StartTimer(&t20, 20, func(arg any) {
		fired = append(fired, arg.(int))
	}, 20)

	var done Timer
	r.StartTimer(&done, 50, func(any) { r.Cancel() }, nil)

	require.NoError(t, r.Run(nil))
	require.Equal(t, []int{10, 20, 30}, fired)
}

func TestTimerZeroDelayFiresNextPass(t *testing.T) {
	r := newTestReactor(t, Config{})

	start := time.Now()
	var tm Timer
	r.StartTimer(&tm, 0, func(any) { r.Cancel() }, nil)
	require.NoError(t, r.Run(nil))
	require.Less(t, time.Since(start), time.Second)
}

func TestTimerCancel(t *testing.T) {
	r := newTestReactor(t, Config{})

	var fired bool
	var victim, done Timer
	r.StartTimer(&victim, 10, func(any) { fired = true }, nil)
	r.StartTimer(&done, 30, func(any) { r.Cancel() }, nil)
	r.CancelTimer(&victim)
	require.False(t, victim.Armed())

	require.NoError(t, r.Run(nil))
	require.False(t, fired)
}

func TestTimerHandlersMayReschedule(t *testing.T) {
	r := newTestReactor(t, Config{})

	count := 0
	var tick Timer
	var fire func(any)
	fire = func(any) {
		count++
		if count == 3 {
			r.Cancel()
			return
		}
		r.StartTimer(&tick, 5, fire, nil)
	}
	r.StartTimer(&tick, 5, fire, nil)

	require.NoError(t, r.Run(nil))
	require.Equal(t, 3, count)
}

func TestNextTimeout(t *testing.T) {
	var tl timerList
	tl.init()

	_, ok := tl.nextTimeout(100)
	require.False(t, ok, "empty list waits indefinitely")

	tm := &Timer{deadline: 150}
	tl.insert(tm)
	to, ok := tl.nextTimeout(100)
	require.True(t, ok)
	require.Equal(t, uint64(50), to)

	to, ok = tl.nextTimeout(200)
	require.True(t, ok)
	require.Equal(t, uint64(0), to, "expired timer must not block")
}
