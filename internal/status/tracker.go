package status

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"k8s.io/utils/clock"

	"github.com/sentinelmarket/sentinel-sync/internal/config"
	"github.com/sentinelmarket/sentinel-sync/internal/registry"
)

// Option configures a Tracker
type Option func(*Tracker)

// WithClock sets the clock used for timestamps and notification expiry
func WithClock(c clock.PassiveClock) Option {
	return func(t *Tracker) {
		t.clock = c
	}
}

// WithNotificationTTL sets how long a notification stays visible
func WithNotificationTTL(ttl time.Duration) Option {
	return func(t *Tracker) {
		t.notificationTTL = ttl
	}
}

// WithMaxNotifications caps the number of visible notifications
func WithMaxNotifications(n int) Option {
	return func(t *Tracker) {
		t.maxNotifications = n
	}
}

// Tracker owns the state of one mounted view. It is the only writer of that
// state; readers take snapshots.
type Tracker struct {
	viewID   string
	liveness string
	required []string
	order    []string

	clock            clock.PassiveClock
	notificationTTL  time.Duration
	maxNotifications int

	// refreshing is the single in-flight guard
	refreshing atomic.Bool

	mu            sync.Mutex
	data          map[string]json.RawMessage
	sources       map[string]*SourceStatus
	notifications []Notification
	isLive        bool
	phase         Phase
	lastRefresh   *time.Time
	lastSuccess   *time.Time
	lastError     string
	// succeeded records the sources refreshed in the current cycle
	succeeded map[string]bool
	failures  map[string]error
}

// NewTracker creates a tracker whose data is the seed of every source of view
func NewTracker(view registry.View, opts ...Option) *Tracker {
	t := &Tracker{
		viewID:           view.ID,
		liveness:         view.Liveness,
		required:         view.RequiredIDs(),
		clock:            clock.RealClock{},
		notificationTTL:  config.DefaultNotificationTTL,
		maxNotifications: config.DefaultMaxNotifications,
		data:             view.Seeds(),
		sources:          make(map[string]*SourceStatus, len(view.Sources)),
		phase:            PhaseSeeded,
	}
	for _, src := range view.Sources {
		t.order = append(t.order, src.ID)
		t.sources[src.ID] = &SourceStatus{Required: src.Required}
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.liveness == "" {
		t.liveness = config.LivenessSticky
	}
	return t
}

// ViewID returns the ID of the tracked view
func (t *Tracker) ViewID() string {
	return t.viewID
}

// IsRefreshing reports whether a cycle is in flight
func (t *Tracker) IsRefreshing() bool {
	return t.refreshing.Load()
}

// TryBegin marks the start of a cycle. It returns false, changing nothing,
// when a cycle is already in flight.
func (t *Tracker) TryBegin() bool {
	if !t.refreshing.CompareAndSwap(false, true) {
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.phase = PhaseRefreshing
	t.succeeded = make(map[string]bool, len(t.order))
	t.failures = make(map[string]error)
	return true
}

// ApplySource stores a successful payload for one source. Sibling sources
// are untouched.
func (t *Tracker) ApplySource(sourceID string, data json.RawMessage) {
	t.mu.Lock()
	defer t.mu.Unlock()

	st, ok := t.sources[sourceID]
	if !ok {
		return
	}
	now := t.clock.Now()
	t.data[sourceID] = bytes.Clone(data)
	st.LastSuccess = &now
	st.LastError = ""
	st.ConsecutiveFailures = 0
	if t.succeeded != nil {
		t.succeeded[sourceID] = true
	}
}

// RejectSource records a failed source. Its previous data is kept.
func (t *Tracker) RejectSource(sourceID string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	st, ok := t.sources[sourceID]
	if !ok {
		return
	}
	if err != nil {
		st.LastError = err.Error()
	}
	st.ConsecutiveFailures++
	if t.failures != nil {
		t.failures[sourceID] = err
	}
}

// Finish ends the cycle started by TryBegin once every source has settled.
// It returns whether every required source succeeded in this cycle.
func (t *Tracker) Finish() bool {
	defer t.refreshing.Store(false)

	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock.Now()
	t.lastRefresh = &now

	qualified := true
	var failed []string
	for _, id := range t.required {
		if !t.succeeded[id] {
			qualified = false
			failed = append(failed, id)
		}
	}

	switch {
	case qualified:
		t.isLive = true
		t.lastSuccess = &now
		t.lastError = ""
		t.phase = PhaseLive
	default:
		if t.liveness == config.LivenessStrict {
			t.isLive = false
		}
		t.phase = PhaseLive
		if !t.isLive {
			t.phase = PhaseDegraded
		}
		for _, id := range failed {
			msg := t.failureMessage(id)
			t.lastError = msg
			t.notify(id, msg, now)
		}
	}

	t.succeeded = nil
	t.failures = nil
	return qualified
}

func (t *Tracker) failureMessage(sourceID string) string {
	if err := t.failures[sourceID]; err != nil {
		return fmt.Sprintf("failed to refresh %s: %v", sourceID, err)
	}
	return fmt.Sprintf("failed to refresh %s", sourceID)
}

// notify must be called with mu held
func (t *Tracker) notify(sourceID, msg string, now time.Time) {
	t.pruneLocked(now)
	t.notifications = append(t.notifications, Notification{
		ID:        uuid.NewString(),
		SourceID:  sourceID,
		Message:   msg,
		CreatedAt: now,
	})
	if t.maxNotifications > 0 && len(t.notifications) > t.maxNotifications {
		t.notifications = t.notifications[len(t.notifications)-t.maxNotifications:]
	}
}

func (t *Tracker) pruneLocked(now time.Time) {
	if t.notificationTTL <= 0 {
		return
	}
	kept := t.notifications[:0]
	for _, n := range t.notifications {
		if now.Sub(n.CreatedAt) < t.notificationTTL {
			kept = append(kept, n)
		}
	}
	t.notifications = kept
}

// Dismiss removes a notification. It returns false when no visible
// notification has that ID.
func (t *Tracker) Dismiss(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.pruneLocked(t.clock.Now())
	for i, n := range t.notifications {
		if n.ID == id {
			t.notifications = append(t.notifications[:i], t.notifications[i+1:]...)
			return true
		}
	}
	return false
}

// Snapshot returns a copy of the current view state
func (t *Tracker) Snapshot() ViewState {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.pruneLocked(t.clock.Now())

	state := ViewState{
		View:          t.viewID,
		Phase:         t.phase,
		IsLive:        t.isLive,
		IsRefreshing:  t.refreshing.Load(),
		LastRefresh:   copyTime(t.lastRefresh),
		LastSuccess:   copyTime(t.lastSuccess),
		LastError:     t.lastError,
		Data:          make(map[string]json.RawMessage, len(t.data)),
		Sources:       make(map[string]SourceStatus, len(t.sources)),
		Notifications: append([]Notification{}, t.notifications...),
	}
	state.Label = LabelDemo
	if t.isLive {
		state.Label = LabelLive
	}
	for id, payload := range t.data {
		state.Data[id] = bytes.Clone(payload)
	}
	for id, st := range t.sources {
		cp := *st
		cp.LastSuccess = copyTime(st.LastSuccess)
		state.Sources[id] = cp
	}
	return state
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	cp := *t
	return &cp
}
