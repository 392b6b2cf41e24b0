// Package view runs the refresh lifecycle of one mounted view.
//
// A Controller ties together the tracker that owns the view state, the
// aggregator that reads the sources and the scheduler that polls. It is the
// one reusable controller every view uses; views differ only by their
// source descriptors.
package view

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"k8s.io/utils/clock"

	"github.com/sentinelmarket/sentinel-sync/internal/registry"
	"github.com/sentinelmarket/sentinel-sync/internal/status"
	datasync "github.com/sentinelmarket/sentinel-sync/internal/sync"
	"github.com/sentinelmarket/sentinel-sync/internal/sync/coordinator"
	"github.com/sentinelmarket/sentinel-sync/internal/telemetry"
)

var (
	// ErrCycleInFlight is returned when a trigger arrives while a cycle runs
	ErrCycleInFlight = errors.New("refresh cycle already in flight")
	// ErrClosed is returned by operations on a closed controller
	ErrClosed = errors.New("view controller is closed")

	errPollingStopped = errors.New("polling stopped")
)

const (
	// TriggerTick labels cycles started by the scheduler
	TriggerTick = "tick"
	// TriggerManual labels cycles started by a user action
	TriggerManual = "manual"
)

// Option configures a Controller
type Option func(*Controller)

// WithClock sets the clock used by the tracker and the scheduler
func WithClock(c clock.WithTicker) Option {
	return func(ctl *Controller) {
		ctl.clock = c
	}
}

// WithTrackerOptions passes options through to the status tracker
func WithTrackerOptions(opts ...status.Option) Option {
	return func(ctl *Controller) {
		ctl.trackerOpts = append(ctl.trackerOpts, opts...)
	}
}

// WithMetrics sets the metrics used to count skipped cycles
func WithMetrics(m *telemetry.SyncMetrics) Option {
	return func(ctl *Controller) {
		ctl.metrics = m
	}
}

// Controller owns one mounted view
type Controller struct {
	view    registry.View
	agg     *datasync.Aggregator
	tracker *status.Tracker
	sched   coordinator.Scheduler
	metrics *telemetry.SyncMetrics

	clock       clock.WithTicker
	trackerOpts []status.Option

	// mu guards closed, the cycles wait group registration and scheduler
	// arming. Holding it across Stop orders every tick after StopPolling
	// behind the cancelled scheduler context.
	mu     sync.Mutex
	closed bool
	cycles sync.WaitGroup
}

// New creates a controller for view. The state starts from the view seeds and
// polling is off until StartPolling is called.
func New(view registry.View, agg *datasync.Aggregator, opts ...Option) *Controller {
	ctl := &Controller{
		view:  view,
		agg:   agg,
		clock: clock.RealClock{},
	}
	for _, opt := range opts {
		opt(ctl)
	}

	trackerOpts := append([]status.Option{status.WithClock(ctl.clock)}, ctl.trackerOpts...)
	ctl.tracker = status.NewTracker(view, trackerOpts...)
	ctl.sched = coordinator.New(view.ID, ctl.onTick, coordinator.WithClock(ctl.clock))
	return ctl
}

// View returns the view this controller runs
func (c *Controller) View() registry.View {
	return c.view
}

// StartPolling arms the scheduler. A zero interval uses the view interval.
// Calling it with a different interval while polling re-arms the ticker.
func (c *Controller) StartPolling(interval time.Duration) error {
	if interval == 0 {
		interval = c.view.Interval
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}

	if c.sched.Running() {
		if c.sched.Interval() == interval {
			return nil
		}
		if err := c.sched.Stop(); err != nil {
			return fmt.Errorf("failed to re-arm scheduler: %w", err)
		}
	}
	return c.sched.Start(interval)
}

// StopPolling disarms the scheduler. A cycle in flight runs to completion and
// no tick starts a cycle once StopPolling has returned.
func (c *Controller) StopPolling() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sched.Stop()
}

// Polling reports whether the scheduler is armed and its interval
func (c *Controller) Polling() (bool, time.Duration) {
	return c.sched.Running(), c.sched.Interval()
}

// TriggerNow runs one refresh cycle unless one is already in flight, in which
// case it returns ErrCycleInFlight without queueing anything. The cycle runs
// on a context detached from ctx cancellation so a started cycle always
// settles every source.
func (c *Controller) TriggerNow(ctx context.Context) (*datasync.Cycle, error) {
	return c.trigger(ctx, TriggerManual)
}

// onTick runs with the scheduler context, which is cancelled by Stop
func (c *Controller) onTick(ctx context.Context) {
	if _, err := c.trigger(ctx, TriggerTick); err != nil && !errors.Is(err, ErrCycleInFlight) {
		slog.Debug("Tick ignored", "view", c.view.ID, "error", err)
	}
}

func (c *Controller) trigger(ctx context.Context, kind string) (*datasync.Cycle, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	if kind == TriggerTick && ctx.Err() != nil {
		c.mu.Unlock()
		return nil, errPollingStopped
	}
	if !c.tracker.TryBegin() {
		c.mu.Unlock()
		c.metrics.RecordSkippedCycle(ctx, c.view.ID, kind)
		slog.Debug("Refresh cycle in flight, trigger dropped", "view", c.view.ID, "trigger", kind)
		return nil, ErrCycleInFlight
	}
	c.cycles.Add(1)
	c.mu.Unlock()
	defer c.cycles.Done()

	cycle := c.agg.RunCycle(context.WithoutCancel(ctx), c.view, c.tracker)
	live := c.tracker.Finish()

	slog.Debug("View refreshed",
		"view", c.view.ID,
		"trigger", kind,
		"cycle_live", live,
		"failed", cycle.Failed(),
	)
	return cycle, nil
}

// State returns a snapshot of the view state
func (c *Controller) State() status.ViewState {
	return c.tracker.Snapshot()
}

// Dismiss removes a notification. It returns false for unknown IDs.
func (c *Controller) Dismiss(notificationID string) bool {
	return c.tracker.Dismiss(notificationID)
}

// Close stops polling and waits for any cycle in flight to finish. Later
// triggers return ErrClosed.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	err := c.sched.Stop()
	c.cycles.Wait()
	return err
}
