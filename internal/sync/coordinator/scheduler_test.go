package coordinator

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	clocktesting "k8s.io/utils/clock/testing"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// tickCounter is a trigger that counts calls and signals each one
type tickCounter struct {
	calls atomic.Int32
	fired chan struct{}
}

func newTickCounter() *tickCounter {
	return &tickCounter{fired: make(chan struct{}, 16)}
}

func (c *tickCounter) trigger(context.Context) {
	c.calls.Add(1)
	c.fired <- struct{}{}
}

func (c *tickCounter) waitFired(t *testing.T) {
	t.Helper()
	select {
	case <-c.fired:
	case <-time.After(5 * time.Second):
		t.Fatal("trigger was not called")
	}
}

// step advances the fake clock once the ticker is registered
func step(t *testing.T, clk *clocktesting.FakeClock, d time.Duration) {
	t.Helper()
	require.Eventually(t, clk.HasWaiters, 5*time.Second, time.Millisecond)
	clk.Step(d)
}

func TestScheduler_TicksAtInterval(t *testing.T) {
	t.Parallel()

	clk := clocktesting.NewFakeClock(time.Now())
	counter := newTickCounter()
	sched := New("dashboard", counter.trigger, WithClock(clk))

	require.NoError(t, sched.Start(30*time.Second))
	assert.True(t, sched.Running())
	assert.Equal(t, 30*time.Second, sched.Interval())

	// no tick before the interval elapses
	clk.Step(29 * time.Second)
	assert.Zero(t, counter.calls.Load())

	clk.Step(time.Second)
	counter.waitFired(t)

	step(t, clk, 30*time.Second)
	counter.waitFired(t)

	require.NoError(t, sched.Stop())
	assert.Equal(t, int32(2), counter.calls.Load())
}

func TestScheduler_StartIsIdempotent(t *testing.T) {
	t.Parallel()

	clk := clocktesting.NewFakeClock(time.Now())
	counter := newTickCounter()
	sched := New("stocks", counter.trigger, WithClock(clk))

	require.NoError(t, sched.Start(time.Minute))
	require.NoError(t, sched.Start(time.Second))

	// the second Start neither re-armed nor changed the interval
	assert.Equal(t, time.Minute, sched.Interval())

	step(t, clk, time.Minute)
	counter.waitFired(t)

	require.NoError(t, sched.Stop())
	assert.Equal(t, int32(1), counter.calls.Load())
}

func TestScheduler_StopPreventsFurtherTicks(t *testing.T) {
	t.Parallel()

	clk := clocktesting.NewFakeClock(time.Now())
	counter := newTickCounter()
	sched := New("alerts", counter.trigger, WithClock(clk))

	require.NoError(t, sched.Start(10*time.Second))
	step(t, clk, 10*time.Second)
	counter.waitFired(t)

	require.NoError(t, sched.Stop())
	assert.False(t, sched.Running())
	assert.Zero(t, sched.Interval())
	assert.False(t, clk.HasWaiters(), "ticker must be released on stop")

	clk.Step(time.Hour)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), counter.calls.Load())

	// stopping again is harmless
	require.NoError(t, sched.Stop())
}

func TestScheduler_Restart(t *testing.T) {
	t.Parallel()

	clk := clocktesting.NewFakeClock(time.Now())
	counter := newTickCounter()
	sched := New("pipelines", counter.trigger, WithClock(clk))

	require.NoError(t, sched.Start(time.Minute))
	require.NoError(t, sched.Stop())
	require.NoError(t, sched.Start(15*time.Second))
	assert.Equal(t, 15*time.Second, sched.Interval())

	step(t, clk, 15*time.Second)
	counter.waitFired(t)
	require.NoError(t, sched.Stop())
}

func TestScheduler_SlowTriggerDoesNotBlockTicker(t *testing.T) {
	t.Parallel()

	clk := clocktesting.NewFakeClock(time.Now())
	release := make(chan struct{})
	var calls atomic.Int32
	entered := make(chan struct{}, 4)

	sched := New("ticker", func(context.Context) {
		calls.Add(1)
		entered <- struct{}{}
		<-release
	}, WithClock(clk))

	require.NoError(t, sched.Start(time.Second))
	step(t, clk, time.Second)
	<-entered
	step(t, clk, time.Second)
	<-entered

	assert.Equal(t, int32(2), calls.Load())

	// Stop returns without waiting for triggers
	require.NoError(t, sched.Stop())
	close(release)
}

func TestScheduler_RejectsNonPositiveInterval(t *testing.T) {
	t.Parallel()

	sched := New("x", func(context.Context) {})
	assert.Error(t, sched.Start(0))
	assert.Error(t, sched.Start(-time.Second))
	assert.False(t, sched.Running())
}
