package schedule

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDebouncer_CoalescesBurst(t *testing.T) {
	clock := clockwork.NewFakeClock()
	var fired atomic.Int32
	d := NewDebouncer(clock, 300*time.Millisecond, func() { fired.Add(1) })

	d.Trigger()
	clock.Advance(200 * time.Millisecond)
	d.Trigger()
	clock.Advance(200 * time.Millisecond)
	d.Trigger()

	assert.Equal(t, int32(0), fired.Load())
	clock.Advance(300 * time.Millisecond)

	require.Eventually(t, func() bool { return fired.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.False(t, d.Pending())
}

func TestDebouncer_FlushRunsImmediately(t *testing.T) {
	clock := clockwork.NewFakeClock()
	var fired atomic.Int32
	d := NewDebouncer(clock, time.Second, func() { fired.Add(1) })

	d.Flush()
	assert.Equal(t, int32(0), fired.Load(), "flush without pending work is a no-op")

	d.Trigger()
	d.Flush()
	assert.Equal(t, int32(1), fired.Load())

	clock.Advance(2 * time.Second)
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, int32(1), fired.Load(), "flushed timer must not fire again")
}

func TestDebouncer_StopCancels(t *testing.T) {
	clock := clockwork.NewFakeClock()
	var fired atomic.Int32
	d := NewDebouncer(clock, time.Second, func() { fired.Add(1) })

	d.Trigger()
	d.Stop()
	d.Trigger()
	clock.Advance(5 * time.Second)
	time.Sleep(10 * time.Millisecond)

	assert.Equal(t, int32(0), fired.Load())
	assert.False(t, d.Pending())
}

// blockingRun starts fn's first run and holds it until release is closed.
func blockingRun(t *testing.T) (d *Debouncer, clock *clockwork.FakeClock, started, release chan struct{}, finished *atomic.Bool) {
	t.Helper()
	clock = clockwork.NewFakeClock()
	started = make(chan struct{})
	release = make(chan struct{})
	finished = &atomic.Bool{}
	d = NewDebouncer(clock, time.Second, func() {
		close(started)
		<-release
		finished.Store(true)
	})

	d.Trigger()
	clock.Advance(time.Second)
	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("fire never started")
	}
	return d, clock, started, release, finished
}

func TestDebouncer_StopWaitsForRunningFire(t *testing.T) {
	d, _, _, release, finished := blockingRun(t)

	stopped := make(chan struct{})
	go func() {
		d.Stop()
		close(stopped)
	}()

	assert.Never(t, func() bool {
		select {
		case <-stopped:
			return true
		default:
			return false
		}
	}, 50*time.Millisecond, 5*time.Millisecond)

	close(release)
	require.Eventually(t, func() bool {
		select {
		case <-stopped:
			return true
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)
	assert.True(t, finished.Load(), "Stop returned before the running fire finished")
}

func TestDebouncer_FlushWaitsForRunningFire(t *testing.T) {
	d, _, _, release, finished := blockingRun(t)

	flushed := make(chan bool, 1)
	go func() {
		d.Flush()
		flushed <- finished.Load()
	}()

	time.Sleep(20 * time.Millisecond)
	close(release)

	select {
	case done := <-flushed:
		assert.True(t, done, "Flush returned before the running fire finished")
	case <-time.After(time.Second):
		t.Fatal("Flush never returned")
	}
}
