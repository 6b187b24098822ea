package clock_test

import (
	"testing"
	"time"

	"github.com/jrsteele09/go-auth-client/internal/clock"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestFakeClock_FiresInDeadlineOrder(t *testing.T) {
	c := clock.Fake(epoch)
	var order []string
	c.AfterFunc(2*time.Second, func() { order = append(order, "b") })
	c.AfterFunc(1*time.Second, func() { order = append(order, "a") })
	c.AfterFunc(5*time.Second, func() { order = append(order, "c") })

	c.Advance(3 * time.Second)
	require.Equal(t, []string{"a", "b"}, order)
	require.Equal(t, 1, c.Pending())
	require.Equal(t, epoch.Add(3*time.Second), c.Now())
}

func TestFakeClock_StopPreventsFiring(t *testing.T) {
	c := clock.Fake(epoch)
	fired := false
	timer := c.AfterFunc(time.Second, func() { fired = true })

	require.True(t, timer.Stop())
	require.False(t, timer.Stop())
	c.Advance(time.Minute)
	require.False(t, fired)
}

func TestFakeClock_CallbackCanReschedule(t *testing.T) {
	c := clock.Fake(epoch)
	count := 0
	var tick func()
	tick = func() {
		count++
		if count < 3 {
			c.AfterFunc(time.Second, tick)
		}
	}
	c.AfterFunc(time.Second, tick)

	c.Advance(10 * time.Second)
	require.Equal(t, 3, count)
	require.Zero(t, c.Pending())
}

func TestFakeClock_ZeroDelayFiresOnNextAdvance(t *testing.T) {
	c := clock.Fake(epoch)
	fired := false
	c.AfterFunc(0, func() { fired = true })
	require.False(t, fired)

	c.Advance(0)
	require.True(t, fired)
}
