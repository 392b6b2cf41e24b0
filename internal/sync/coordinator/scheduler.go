package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"k8s.io/utils/clock"
)

// TriggerFunc is called on every tick
type TriggerFunc func(ctx context.Context)

//go:generate mockgen -destination=mocks/mock_scheduler.go -package=mocks -source=scheduler.go Scheduler

// Scheduler fires a trigger at a fixed interval
type Scheduler interface {
	// Start arms the ticker. Calling Start on a running scheduler is a no-op.
	Start(interval time.Duration) error

	// Stop disarms the ticker and waits for the ticker loop to exit.
	// In-flight triggers are not cancelled. Stopping twice is a no-op.
	Stop() error

	// Running reports whether the ticker is armed
	Running() bool

	// Interval returns the interval of the running ticker, or zero
	Interval() time.Duration
}

// tickerScheduler is the default implementation of Scheduler
type tickerScheduler struct {
	name    string
	trigger TriggerFunc
	clock   clock.WithTicker

	mu       sync.Mutex
	interval time.Duration
	cancel   context.CancelFunc
	done     chan struct{}
}

var _ Scheduler = (*tickerScheduler)(nil)

// Option is a function that configures the scheduler
type Option func(*tickerScheduler)

// WithClock sets the clock providing tickers
func WithClock(c clock.WithTicker) Option {
	return func(s *tickerScheduler) {
		s.clock = c
	}
}

// New creates a stopped scheduler. name is only used for logging.
func New(name string, trigger TriggerFunc, opts ...Option) Scheduler {
	s := &tickerScheduler{
		name:    name,
		trigger: trigger,
		clock:   clock.RealClock{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start arms the ticker
func (s *tickerScheduler) Start(interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("interval must be positive, got %s", interval)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	ticker := s.clock.NewTicker(interval)

	s.interval = interval
	s.cancel = cancel
	s.done = done

	slog.Info("Starting refresh scheduler", "view", s.name, "interval", interval.String())
	go s.loop(ctx, ticker, done)
	return nil
}

func (s *tickerScheduler) loop(ctx context.Context, ticker clock.Ticker, done chan struct{}) {
	defer close(done)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C():
			go func() {
				// a tick racing with Stop must not start a cycle
				if ctx.Err() != nil {
					return
				}
				s.trigger(ctx)
			}()
		case <-ctx.Done():
			slog.Debug("Refresh scheduler loop exiting", "view", s.name)
			return
		}
	}
}

// Stop disarms the ticker
func (s *tickerScheduler) Stop() error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done, s.interval = nil, nil, 0
	s.mu.Unlock()

	if cancel == nil {
		return nil
	}

	slog.Info("Stopping refresh scheduler", "view", s.name)
	cancel()
	<-done
	return nil
}

// Running reports whether the ticker is armed
func (s *tickerScheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

// Interval returns the current interval
func (s *tickerScheduler) Interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interval
}
