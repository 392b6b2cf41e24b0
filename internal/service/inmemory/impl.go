// Package inmemory provides an in-memory implementation of the DashboardService interface.
// Sessions live only as long as the process; nothing is persisted.
package inmemory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel/trace"
	"k8s.io/utils/clock"

	"github.com/sentinelmarket/sentinel-sync/internal/httpclient"
	"github.com/sentinelmarket/sentinel-sync/internal/otel"
	"github.com/sentinelmarket/sentinel-sync/internal/registry"
	"github.com/sentinelmarket/sentinel-sync/internal/retry"
	"github.com/sentinelmarket/sentinel-sync/internal/service"
	"github.com/sentinelmarket/sentinel-sync/internal/sources"
	"github.com/sentinelmarket/sentinel-sync/internal/status"
	datasync "github.com/sentinelmarket/sentinel-sync/internal/sync"
	"github.com/sentinelmarket/sentinel-sync/internal/sync/coordinator"
	"github.com/sentinelmarket/sentinel-sync/internal/telemetry"
	"github.com/sentinelmarket/sentinel-sync/internal/versions"
	"github.com/sentinelmarket/sentinel-sync/internal/view"
)

const (
	// ServiceTracerName is the name used for the dashboard service tracer
	ServiceTracerName = "github.com/sentinelmarket/sentinel-sync/service/inmemory"

	// PipelineSourcePrefix marks sources that show pipeline data. Sessions with
	// such a source are refreshed after a pipeline run.
	PipelineSourcePrefix = "pipeline_"

	pipelineRunPath = "/api/pipeline/run/"

	// minJanitorInterval bounds how often idle sessions are checked
	minJanitorInterval = time.Second
)

// session is one mounted view
type session struct {
	id         string
	ctl        *view.Controller
	createdAt  time.Time
	lastAccess time.Time
}

// dashboardSvc implements the DashboardService interface
type dashboardSvc struct {
	registry *registry.Registry
	agg      *datasync.Aggregator
	client   httpclient.Client
	baseURL  string
	policy   retry.Policy

	minAPIVersion string

	clock          clock.WithTicker
	idleTimeout    time.Duration
	trackerOpts    []status.Option
	syncMetrics    *telemetry.SyncMetrics
	sessionMetrics *telemetry.SessionMetrics
	tracer         trace.Tracer

	mu       sync.RWMutex // Protects sessions, closed
	sessions map[string]*session
	closed   bool

	janitor coordinator.Scheduler
	// background tracks initial and post-pipeline refreshes
	background sync.WaitGroup
}

var _ service.DashboardService = (*dashboardSvc)(nil)

// Option is a functional option for configuring the dashboardSvc
type Option func(*dashboardSvc)

// WithClock sets the clock for session timestamps, pollers and the janitor
func WithClock(c clock.WithTicker) Option {
	return func(s *dashboardSvc) {
		s.clock = c
	}
}

// WithIdleTimeout sets how long an untouched session survives. Zero disables expiry.
func WithIdleTimeout(d time.Duration) Option {
	return func(s *dashboardSvc) {
		s.idleTimeout = d
	}
}

// WithTrackerOptions passes options to the tracker of every session
func WithTrackerOptions(opts ...status.Option) Option {
	return func(s *dashboardSvc) {
		s.trackerOpts = append(s.trackerOpts, opts...)
	}
}

// WithSyncMetrics sets the metrics passed to every view controller
func WithSyncMetrics(m *telemetry.SyncMetrics) Option {
	return func(s *dashboardSvc) {
		s.syncMetrics = m
	}
}

// WithSessionMetrics sets the active session gauge
func WithSessionMetrics(m *telemetry.SessionMetrics) Option {
	return func(s *dashboardSvc) {
		s.sessionMetrics = m
	}
}

// WithTracer sets the tracer for service spans
func WithTracer(tracer trace.Tracer) Option {
	return func(s *dashboardSvc) {
		s.tracer = tracer
	}
}

// WithBackend sets the backend used to run pipelines and check the API version
// version. Without it RunPipeline fails and Upstream reports unreachable.
func WithBackend(baseURL string, client httpclient.Client) Option {
	return func(s *dashboardSvc) {
		s.baseURL = baseURL
		s.client = client
	}
}

// WithMinAPIVersion sets the oldest backend version Upstream reports as supported
func WithMinAPIVersion(version string) Option {
	return func(s *dashboardSvc) {
		s.minAPIVersion = version
	}
}

// New creates a dashboard service over the views of reg. Every session uses agg
// for its refresh cycles.
func New(reg *registry.Registry, agg *datasync.Aggregator, opts ...Option) (service.DashboardService, error) {
	if reg == nil {
		return nil, fmt.Errorf("view registry is required")
	}
	if agg == nil {
		return nil, fmt.Errorf("aggregator is required")
	}

	s := &dashboardSvc{
		registry: reg,
		agg:      agg,
		policy:   agg.Policy(),
		clock:    clock.RealClock{},
		sessions: make(map[string]*session),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.idleTimeout > 0 {
		s.janitor = coordinator.New("session-janitor", s.reapIdle, coordinator.WithClock(s.clock))
		if err := s.janitor.Start(janitorInterval(s.idleTimeout)); err != nil {
			return nil, fmt.Errorf("failed to start session janitor: %w", err)
		}
	}

	return s, nil
}

func janitorInterval(idle time.Duration) time.Duration {
	return max(idle/2, minJanitorInterval)
}

// CheckReadiness implements DashboardService.CheckReadiness
func (s *dashboardSvc) CheckReadiness(_ context.Context) error {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()

	if closed {
		return service.ErrServiceClosed
	}
	if len(s.registry.IDs()) == 0 {
		return fmt.Errorf("no views registered")
	}
	return nil
}

// ListViews implements DashboardService.ListViews
func (s *dashboardSvc) ListViews(_ context.Context) []service.ViewInfo {
	views := s.registry.Views()
	infos := make([]service.ViewInfo, 0, len(views))
	for _, v := range views {
		info := service.ViewInfo{
			ID:       v.ID,
			Title:    v.Title,
			Interval: v.Interval.String(),
			Liveness: v.Liveness,
			Sources:  make([]service.SourceInfo, 0, len(v.Sources)),
		}
		for _, p := range v.Params {
			info.Params = append(info.Params, service.ParamInfo{
				Name:     p.Name,
				Default:  p.Default,
				Required: p.Default == "",
			})
		}
		for _, src := range v.Sources {
			info.Sources = append(info.Sources, service.SourceInfo{ID: src.ID, Required: src.Required})
		}
		infos = append(infos, info)
	}
	return infos
}

// Mount implements DashboardService.Mount
func (s *dashboardSvc) Mount(
	ctx context.Context,
	viewID string,
	opts ...service.Option[service.MountOptions],
) (*service.Session, error) {
	ctx, span := otel.StartSpan(ctx, s.tracer, "service.Mount",
		trace.WithAttributes(otel.AttrViewID.String(viewID)),
	)
	defer span.End()

	options, err := service.ApplyOptions(opts...)
	if err != nil {
		otel.RecordError(span, err)
		return nil, err
	}

	v, ok := s.registry.View(viewID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", service.ErrViewNotFound, viewID)
	}
	v, err = v.Bind(options.Params)
	if err != nil {
		otel.RecordError(span, err)
		if errors.Is(err, registry.ErrInvalidParams) {
			return nil, fmt.Errorf("%w: %w", service.ErrInvalidOption, err)
		}
		return nil, err
	}

	ctl := view.New(v, s.agg,
		view.WithClock(s.clock),
		view.WithMetrics(s.syncMetrics),
		view.WithTrackerOptions(s.trackerOpts...),
	)
	now := s.clock.Now()
	sess := &session{
		id:         uuid.NewString(),
		ctl:        ctl,
		createdAt:  now,
		lastAccess: now,
	}

	if options.Polling == nil || *options.Polling {
		if err := ctl.StartPolling(options.Interval); err != nil {
			_ = ctl.Close()
			otel.RecordError(span, err)
			return nil, fmt.Errorf("failed to start polling: %w", err)
		}
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = ctl.Close()
		return nil, service.ErrServiceClosed
	}
	s.sessions[sess.id] = sess
	// the initial refresh is registered under the lock so Close waits for it
	s.background.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.background.Done()
		s.refreshInBackground(ctx, sess)
	}()

	span.SetAttributes(otel.AttrSessionID.String(sess.id))
	s.sessionMetrics.AddActiveSessions(ctx, viewID, 1)
	slog.Info("View mounted", "view", viewID, "session", sess.id, "params", v.Args)

	return s.toSession(sess), nil
}

func (s *dashboardSvc) refreshInBackground(ctx context.Context, sess *session) {
	_, err := sess.ctl.TriggerNow(context.WithoutCancel(ctx))
	if err != nil && !errors.Is(err, view.ErrCycleInFlight) && !errors.Is(err, view.ErrClosed) {
		slog.Warn("Background refresh failed", "session", sess.id, "error", err)
	}
}

// Session implements DashboardService.Session
func (s *dashboardSvc) Session(_ context.Context, sessionID string) (*service.Session, error) {
	sess, err := s.touch(sessionID)
	if err != nil {
		return nil, err
	}
	return s.toSession(sess), nil
}

// Unmount implements DashboardService.Unmount
func (s *dashboardSvc) Unmount(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	if ok {
		delete(s.sessions, sessionID)
	}
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", service.ErrSessionNotFound, sessionID)
	}

	s.sessionMetrics.AddActiveSessions(ctx, sess.ctl.View().ID, -1)
	slog.Info("View unmounted", "view", sess.ctl.View().ID, "session", sessionID)
	return sess.ctl.Close()
}

// Refresh implements DashboardService.Refresh
func (s *dashboardSvc) Refresh(ctx context.Context, sessionID string) (*service.Session, error) {
	ctx, span := otel.StartSpan(ctx, s.tracer, "service.Refresh",
		trace.WithAttributes(otel.AttrSessionID.String(sessionID)),
	)
	defer span.End()

	sess, err := s.touch(sessionID)
	if err != nil {
		return nil, err
	}

	if _, err := sess.ctl.TriggerNow(ctx); err != nil {
		if errors.Is(err, view.ErrClosed) {
			return nil, fmt.Errorf("%w: %s", service.ErrSessionNotFound, sessionID)
		}
		return nil, fmt.Errorf("failed to refresh session %s: %w", sessionID, err)
	}
	return s.toSession(sess), nil
}

// SetPolling implements DashboardService.SetPolling
func (s *dashboardSvc) SetPolling(
	_ context.Context,
	sessionID string,
	opts ...service.Option[service.PollingOptions],
) (*service.Session, error) {
	options, err := service.ApplyOptions(opts...)
	if err != nil {
		return nil, err
	}

	sess, err := s.touch(sessionID)
	if err != nil {
		return nil, err
	}

	if options.Enabled {
		err = sess.ctl.StartPolling(options.Interval)
	} else {
		err = sess.ctl.StopPolling()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update polling: %w", err)
	}
	return s.toSession(sess), nil
}

// Dismiss implements DashboardService.Dismiss
func (s *dashboardSvc) Dismiss(_ context.Context, sessionID, notificationID string) error {
	sess, err := s.touch(sessionID)
	if err != nil {
		return err
	}
	if !sess.ctl.Dismiss(notificationID) {
		return fmt.Errorf("%w: %s", service.ErrNotificationNotFound, notificationID)
	}
	return nil
}

// RunPipeline implements DashboardService.RunPipeline
func (s *dashboardSvc) RunPipeline(ctx context.Context, name string) (json.RawMessage, error) {
	ctx, span := otel.StartSpan(ctx, s.tracer, "service.RunPipeline",
		trace.WithAttributes(otel.AttrPipelineName.String(name)),
	)
	defer span.End()

	if name == "" || strings.ContainsAny(name, "/?#") {
		return nil, fmt.Errorf("%w: %q", service.ErrInvalidPipelineName, name)
	}
	if s.client == nil {
		return nil, fmt.Errorf("pipeline runner is not configured")
	}

	endpoint, err := sources.EndpointURL(s.baseURL, pipelineRunPath+url.PathEscape(name), nil, nil)
	if err != nil {
		otel.RecordError(span, err)
		return nil, err
	}

	body, err := retry.Do(ctx, s.policy, func(ctx context.Context) ([]byte, error) {
		return s.client.Post(ctx, endpoint, nil)
	})
	if err != nil {
		otel.RecordError(span, err)
		return nil, fmt.Errorf("failed to run pipeline %s: %w", name, err)
	}

	s.refreshPipelineSessions(ctx)
	slog.Info("Pipeline run requested", "pipeline", name)

	if len(body) == 0 {
		return json.RawMessage(`{}`), nil
	}
	return json.RawMessage(body), nil
}

// Upstream implements DashboardService.Upstream
func (s *dashboardSvc) Upstream(ctx context.Context) service.UpstreamStatus {
	st := service.UpstreamStatus{
		BaseURL:    s.baseURL,
		MinVersion: s.minAPIVersion,
	}
	if s.client == nil {
		st.Error = "backend is not configured"
		return st
	}

	endpoint, err := sources.EndpointURL(s.baseURL, "/", nil, nil)
	if err != nil {
		st.Error = err.Error()
		return st
	}
	body, err := s.client.Get(ctx, endpoint)
	if err != nil {
		st.Error = err.Error()
		return st
	}

	st.Reachable = true
	st.Version = gjson.GetBytes(body, "version").String()
	st.Supported = versions.AtLeast(st.Version, s.minAPIVersion)
	return st
}

// refreshPipelineSessions starts a refresh of every session showing pipeline data
func (s *dashboardSvc) refreshPipelineSessions(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	for _, sess := range s.sessions {
		if !hasPipelineSource(sess.ctl.View()) {
			continue
		}
		s.background.Add(1)
		go func() {
			defer s.background.Done()
			s.refreshInBackground(ctx, sess)
		}()
	}
}

func hasPipelineSource(v registry.View) bool {
	for _, src := range v.Sources {
		if strings.HasPrefix(src.ID, PipelineSourcePrefix) {
			return true
		}
	}
	return false
}

// reapIdle unmounts sessions nobody read within the idle timeout
func (s *dashboardSvc) reapIdle(ctx context.Context) {
	now := s.clock.Now()

	s.mu.Lock()
	var expired []*session
	for id, sess := range s.sessions {
		if now.Sub(sess.lastAccess) >= s.idleTimeout {
			expired = append(expired, sess)
			delete(s.sessions, id)
		}
	}
	s.mu.Unlock()

	for _, sess := range expired {
		viewID := sess.ctl.View().ID
		slog.Info("Unmounting idle session", "view", viewID, "session", sess.id)
		s.sessionMetrics.AddActiveSessions(ctx, viewID, -1)
		if err := sess.ctl.Close(); err != nil {
			slog.Warn("Failed to close idle session", "session", sess.id, "error", err)
		}
	}
}

// touch looks up a session and records the access
func (s *dashboardSvc) touch(sessionID string) (*session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", service.ErrSessionNotFound, sessionID)
	}
	sess.lastAccess = s.clock.Now()
	return sess, nil
}

func (s *dashboardSvc) toSession(sess *session) *service.Session {
	s.mu.RLock()
	lastAccess := sess.lastAccess
	s.mu.RUnlock()

	polling, interval := sess.ctl.Polling()
	out := &service.Session{
		ID:         sess.id,
		View:       sess.ctl.View().ID,
		Params:     maps.Clone(sess.ctl.View().Args),
		CreatedAt:  sess.createdAt,
		LastAccess: lastAccess,
		Polling:    polling,
		State:      sess.ctl.State(),
	}
	if polling {
		out.Interval = interval.String()
	}
	return out
}

// Close implements DashboardService.Close
func (s *dashboardSvc) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	sessions := s.sessions
	s.sessions = make(map[string]*session)
	s.mu.Unlock()

	var errs []error
	if s.janitor != nil {
		errs = append(errs, s.janitor.Stop())
	}
	for _, sess := range sessions {
		errs = append(errs, sess.ctl.Close())
	}
	s.background.Wait()

	slog.Info("Dashboard service closed", "sessions", len(sessions))
	return errors.Join(errs...)
}
