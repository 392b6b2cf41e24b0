package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"k8s.io/utils/clock"

	"github.com/sentinelmarket/sentinel-sync/internal/otel"
	"github.com/sentinelmarket/sentinel-sync/internal/registry"
	"github.com/sentinelmarket/sentinel-sync/internal/retry"
	"github.com/sentinelmarket/sentinel-sync/internal/sources"
	"github.com/sentinelmarket/sentinel-sync/internal/telemetry"
)

// TracerName is the name used for the aggregator tracer
const TracerName = "github.com/sentinelmarket/sentinel-sync/sync"

// Reconciler receives settled source reads
type Reconciler interface {
	// ApplySource stores the payload of a succeeded source
	ApplySource(sourceID string, data json.RawMessage)

	// RejectSource records a source whose retries were exhausted
	RejectSource(sourceID string, err error)
}

// Outcome is the settled result of one source in a cycle
type Outcome struct {
	SourceID string
	Data     json.RawMessage
	Err      error
	Attempts int
	Duration time.Duration
}

// Succeeded reports whether the source delivered data
func (o Outcome) Succeeded() bool {
	return o.Err == nil
}

// Cycle is the record of one refresh cycle. It is not persisted.
type Cycle struct {
	View       string
	StartedAt  time.Time
	FinishedAt time.Time
	Outcomes   map[string]Outcome

	required []string
}

// Live reports whether every required source succeeded in this cycle
func (c *Cycle) Live() bool {
	for _, id := range c.required {
		if o, ok := c.Outcomes[id]; !ok || !o.Succeeded() {
			return false
		}
	}
	return true
}

// Failed returns the IDs of the sources that failed, sorted
func (c *Cycle) Failed() []string {
	var failed []string
	for id, o := range c.Outcomes {
		if !o.Succeeded() {
			failed = append(failed, id)
		}
	}
	sort.Strings(failed)
	return failed
}

// Duration returns how long the cycle took
func (c *Cycle) Duration() time.Duration {
	return c.FinishedAt.Sub(c.StartedAt)
}

// Option configures an Aggregator
type Option func(*Aggregator)

// WithRetryPolicy sets the retry policy applied to every source read
func WithRetryPolicy(policy retry.Policy) Option {
	return func(a *Aggregator) {
		a.policy = policy
	}
}

// WithClock sets the clock used for cycle timestamps
func WithClock(c clock.PassiveClock) Option {
	return func(a *Aggregator) {
		a.clock = c
	}
}

// WithMetrics sets the sync metrics. A nil value disables metrics.
func WithMetrics(m *telemetry.SyncMetrics) Option {
	return func(a *Aggregator) {
		a.metrics = m
	}
}

// WithTracer sets the tracer used for cycle and source spans
func WithTracer(tracer trace.Tracer) Option {
	return func(a *Aggregator) {
		a.tracer = tracer
	}
}

// Aggregator runs refresh cycles. It holds no per-view state and can be
// shared by any number of views.
type Aggregator struct {
	policy  retry.Policy
	clock   clock.PassiveClock
	metrics *telemetry.SyncMetrics
	tracer  trace.Tracer
}

// NewAggregator creates an aggregator using the default retry policy unless
// configured otherwise
func NewAggregator(opts ...Option) *Aggregator {
	a := &Aggregator{
		policy: retry.DefaultPolicy(),
		clock:  clock.RealClock{},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Policy returns the retry policy applied to source reads
func (a *Aggregator) Policy() retry.Policy {
	return a.policy
}

// RunCycle reads every source of view concurrently and reconciles each as
// it settles. It returns after all sources have settled.
func (a *Aggregator) RunCycle(ctx context.Context, view registry.View, rec Reconciler) *Cycle {
	ctx, span := otel.StartSpan(ctx, a.tracer, "sync.RunCycle",
		trace.WithAttributes(
			otel.AttrViewID.String(view.ID),
			otel.AttrSourceCount.Int(len(view.Sources)),
		),
	)
	defer span.End()

	cycle := &Cycle{
		View:      view.ID,
		StartedAt: a.clock.Now(),
		Outcomes:  make(map[string]Outcome, len(view.Sources)),
		required:  view.RequiredIDs(),
	}

	// Goroutines never return an error so no read cancels its siblings
	var g errgroup.Group
	results := make([]Outcome, len(view.Sources))
	for i, src := range view.Sources {
		g.Go(func() error {
			outcome := a.runSource(ctx, view.ID, src)
			if outcome.Succeeded() {
				rec.ApplySource(src.ID, outcome.Data)
			} else {
				rec.RejectSource(src.ID, outcome.Err)
			}
			results[i] = outcome
			return nil
		})
	}
	_ = g.Wait()

	for _, outcome := range results {
		cycle.Outcomes[outcome.SourceID] = outcome
	}
	cycle.FinishedAt = a.clock.Now()

	live := cycle.Live()
	span.SetAttributes(otel.AttrCycleLive.Bool(live))
	a.metrics.RecordCycleDuration(ctx, view.ID, cycle.Duration(), live)

	slog.Debug("Refresh cycle finished",
		"view", view.ID,
		"live", live,
		"failed", cycle.Failed(),
		"duration", cycle.Duration().String(),
	)

	return cycle
}

func (a *Aggregator) runSource(ctx context.Context, viewID string, src sources.Descriptor) Outcome {
	ctx, span := otel.StartSpan(ctx, a.tracer, "sync.ReadSource",
		trace.WithAttributes(
			otel.AttrViewID.String(viewID),
			otel.AttrSourceID.String(src.ID),
		),
	)
	defer span.End()

	start := a.clock.Now()
	attempts := 0
	data, err := retry.Do(ctx, a.policy,
		func(ctx context.Context) (json.RawMessage, error) {
			attempts++
			return safeRead(ctx, src.Read)
		},
		retry.WithNotify(func(at retry.Attempt) {
			a.metrics.RecordFailedAttempt(ctx, viewID, src.ID, at.Number)
			slog.Debug("Source read attempt failed",
				"view", viewID,
				"source", src.ID,
				"attempt", at.Number,
				"retry_in", at.DelayBeforeNext.String(),
				"error", at.Err,
			)
		}),
	)

	span.SetAttributes(otel.AttrAttempts.Int(attempts))
	a.metrics.RecordSourceOutcome(ctx, viewID, src.ID, err == nil)

	if err != nil {
		otel.RecordError(span, err)
		slog.Warn("Source refresh failed",
			"view", viewID,
			"source", src.ID,
			"required", src.Required,
			"attempts", attempts,
			"error", err,
		)
	}

	return Outcome{
		SourceID: src.ID,
		Data:     data,
		Err:      err,
		Attempts: attempts,
		Duration: a.clock.Since(start),
	}
}

// safeRead turns a panicking read into a failed read
func safeRead(ctx context.Context, read sources.ReadFunc) (data json.RawMessage, err error) {
	defer func() {
		if r := recover(); r != nil {
			data = nil
			err = fmt.Errorf("source read panicked: %v", r)
		}
	}()
	return read(ctx)
}
