package app

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"k8s.io/utils/clock"

	"github.com/sentinelmarket/sentinel-sync/internal/api"
	"github.com/sentinelmarket/sentinel-sync/internal/config"
	"github.com/sentinelmarket/sentinel-sync/internal/httpclient"
	"github.com/sentinelmarket/sentinel-sync/internal/registry"
	"github.com/sentinelmarket/sentinel-sync/internal/retry"
	"github.com/sentinelmarket/sentinel-sync/internal/service"
	"github.com/sentinelmarket/sentinel-sync/internal/service/inmemory"
	"github.com/sentinelmarket/sentinel-sync/internal/sources"
	"github.com/sentinelmarket/sentinel-sync/internal/status"
	datasync "github.com/sentinelmarket/sentinel-sync/internal/sync"
	"github.com/sentinelmarket/sentinel-sync/internal/telemetry"
)

const (
	defaultHTTPAddress    = ":8080"
	defaultRequestTimeout = 10 * time.Second
	defaultReadTimeout    = 10 * time.Second
	// must exceed the request timeout so the timeout middleware can answer
	defaultWriteTimeout = 15 * time.Second
	defaultIdleTimeout  = 60 * time.Second
)

// SyncAppOptions is a function that configures the sync app builder
type SyncAppOptions func(*syncAppConfig) error

// syncAppConfig collects the builder inputs. Components left nil are built
// from config; tests inject their own.
type syncAppConfig struct {
	config *config.Config

	clock         clock.WithTicker
	httpClient    httpclient.Client
	readerFactory sources.ReaderFactory
	service       service.DashboardService

	// HTTP server options
	address        string
	middlewares    []func(http.Handler) http.Handler
	requestTimeout time.Duration
	readTimeout    time.Duration
	writeTimeout   time.Duration
	idleTimeout    time.Duration

	// Telemetry components
	meterProvider  metric.MeterProvider
	tracerProvider trace.TracerProvider
	metricsHandler http.Handler
	syncMetrics    *telemetry.SyncMetrics
}

func baseConfig(opts ...SyncAppOptions) (*syncAppConfig, error) {
	cfg := &syncAppConfig{
		clock:          clock.RealClock{},
		address:        defaultHTTPAddress,
		requestTimeout: defaultRequestTimeout,
		readTimeout:    defaultReadTimeout,
		writeTimeout:   defaultWriteTimeout,
		idleTimeout:    defaultIdleTimeout,
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// NewSyncApp builds the view registry, aggregator, dashboard service and HTTP
// server described by the configuration.
func NewSyncApp(
	ctx context.Context,
	opts ...SyncAppOptions,
) (*SyncApp, error) {
	cfg, err := baseConfig(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to build base configuration: %w", err)
	}
	if cfg.config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	components, err := buildSyncComponents(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to build sync components: %w", err)
	}

	if cfg.service == nil {
		cfg.service, err = buildServiceComponents(ctx, cfg, components)
		if err != nil {
			return nil, fmt.Errorf("failed to build service components: %w", err)
		}
	}
	components.Service = cfg.service

	httpServer, err := buildHTTPServer(ctx, cfg, cfg.service)
	if err != nil {
		_ = cfg.service.Close()
		return nil, fmt.Errorf("failed to build HTTP server: %w", err)
	}

	return &SyncApp{
		config:     cfg.config,
		components: components,
		httpServer: httpServer,
	}, nil
}

// WithConfig sets the configuration
func WithConfig(c *config.Config) SyncAppOptions {
	return func(cfg *syncAppConfig) error {
		cfg.config = c
		return nil
	}
}

// WithAddress sets the HTTP server address
func WithAddress(addr string) SyncAppOptions {
	return func(cfg *syncAppConfig) error {
		if addr == "" {
			return fmt.Errorf("address cannot be empty")
		}

		host, port, err := net.SplitHostPort(addr)
		if err != nil {
			return fmt.Errorf("address is not a valid host:port: %w", err)
		}
		if port == "" {
			return fmt.Errorf("address is not a valid port: %s", addr)
		}
		switch host {
		case "localhost":
			host = "127.0.0.1"
		case "":
			host = "0.0.0.0"
		}

		if _, err := netip.ParseAddrPort(net.JoinHostPort(host, port)); err != nil {
			return fmt.Errorf("address is not a valid port: %w", err)
		}

		cfg.address = addr
		return nil
	}
}

// WithMiddlewares sets custom HTTP middlewares
func WithMiddlewares(mw ...func(http.Handler) http.Handler) SyncAppOptions {
	return func(cfg *syncAppConfig) error {
		cfg.middlewares = mw
		return nil
	}
}

// WithClock sets the clock driving polling, expiry and the session janitor (for testing)
func WithClock(c clock.WithTicker) SyncAppOptions {
	return func(cfg *syncAppConfig) error {
		if c == nil {
			return fmt.Errorf("clock cannot be nil")
		}
		cfg.clock = c
		return nil
	}
}

// WithHTTPClient sets the client used to reach the analytics API
func WithHTTPClient(c httpclient.Client) SyncAppOptions {
	return func(cfg *syncAppConfig) error {
		cfg.httpClient = c
		return nil
	}
}

// WithReaderFactory allows injecting a custom source reader factory (for testing)
func WithReaderFactory(f sources.ReaderFactory) SyncAppOptions {
	return func(cfg *syncAppConfig) error {
		cfg.readerFactory = f
		return nil
	}
}

// WithDashboardService allows injecting a custom dashboard service (for testing)
func WithDashboardService(svc service.DashboardService) SyncAppOptions {
	return func(cfg *syncAppConfig) error {
		cfg.service = svc
		return nil
	}
}

// WithMeterProvider sets the OpenTelemetry meter provider for sync, session and HTTP metrics
func WithMeterProvider(mp metric.MeterProvider) SyncAppOptions {
	return func(cfg *syncAppConfig) error {
		cfg.meterProvider = mp
		return nil
	}
}

// WithTracerProvider sets the OpenTelemetry tracer provider
func WithTracerProvider(tp trace.TracerProvider) SyncAppOptions {
	return func(cfg *syncAppConfig) error {
		cfg.tracerProvider = tp
		return nil
	}
}

// WithMetricsHandler exposes h on /metrics
func WithMetricsHandler(h http.Handler) SyncAppOptions {
	return func(cfg *syncAppConfig) error {
		cfg.metricsHandler = h
		return nil
	}
}

// buildSyncComponents builds the view registry and the aggregator
func buildSyncComponents(
	_ context.Context,
	b *syncAppConfig,
) (*AppComponents, error) {
	slog.Info("Initializing sync components")

	if b.httpClient == nil {
		b.httpClient = httpclient.NewDefaultClient(b.config.GetRequestTimeout())
	}
	if b.readerFactory == nil {
		b.readerFactory = sources.NewReaderFactory(b.config.GetBaseURL(), b.httpClient)
	}

	reg, err := registry.NewFromConfig(b.config, b.readerFactory)
	if err != nil {
		return nil, fmt.Errorf("failed to build view registry: %w", err)
	}

	aggOpts := []datasync.Option{
		datasync.WithRetryPolicy(retry.Policy{
			MaxAttempts: b.config.GetMaxAttempts(),
			BaseDelay:   b.config.GetBaseDelay(),
		}),
		datasync.WithClock(b.clock),
	}
	if b.meterProvider != nil {
		syncMetrics, err := telemetry.NewSyncMetrics(b.meterProvider)
		if err != nil {
			return nil, fmt.Errorf("failed to create sync metrics: %w", err)
		}
		b.syncMetrics = syncMetrics
		aggOpts = append(aggOpts, datasync.WithMetrics(syncMetrics))
		slog.Info("Sync metrics enabled")
	}
	if b.tracerProvider != nil {
		aggOpts = append(aggOpts, datasync.WithTracer(b.tracerProvider.Tracer(datasync.TracerName)))
	}

	slog.Info("Sync components initialized successfully", "views", reg.IDs())

	return &AppComponents{
		Registry:   reg,
		Aggregator: datasync.NewAggregator(aggOpts...),
	}, nil
}

// buildServiceComponents builds the dashboard service on top of the sync components
func buildServiceComponents(
	_ context.Context,
	b *syncAppConfig,
	c *AppComponents,
) (service.DashboardService, error) {
	slog.Info("Initializing service components")

	svcOpts := []inmemory.Option{
		inmemory.WithClock(b.clock),
		inmemory.WithIdleTimeout(b.config.GetIdleTimeout()),
		inmemory.WithTrackerOptions(
			status.WithNotificationTTL(b.config.GetNotificationTTL()),
			status.WithMaxNotifications(b.config.GetMaxNotifications()),
		),
		inmemory.WithBackend(b.config.GetBaseURL(), b.httpClient),
		inmemory.WithMinAPIVersion(b.config.GetMinAPIVersion()),
	}
	if b.meterProvider != nil {
		sessionMetrics, err := telemetry.NewSessionMetrics(b.meterProvider)
		if err != nil {
			return nil, fmt.Errorf("failed to create session metrics: %w", err)
		}
		svcOpts = append(svcOpts,
			inmemory.WithSyncMetrics(b.syncMetrics),
			inmemory.WithSessionMetrics(sessionMetrics),
		)
	}
	if b.tracerProvider != nil {
		svcOpts = append(svcOpts, inmemory.WithTracer(b.tracerProvider.Tracer(inmemory.ServiceTracerName)))
	}

	svc, err := inmemory.New(c.Registry, c.Aggregator, svcOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create dashboard service: %w", err)
	}

	slog.Info("Service components initialized successfully")
	return svc, nil
}

// buildHTTPServer builds the HTTP server with router and middleware
//
//nolint:unparam // we prefer having a similar interface
func buildHTTPServer(
	_ context.Context,
	b *syncAppConfig,
	svc service.DashboardService,
) (*http.Server, error) {
	slog.Info("Initializing HTTP server")

	if b.middlewares == nil {
		b.middlewares = []func(http.Handler) http.Handler{
			middleware.RequestID,
			middleware.RealIP,
			middleware.Recoverer,
			middleware.Timeout(b.requestTimeout),
			api.LoggingMiddleware,
		}
	}

	// Metrics and tracing go first so they also see requests that fail early
	var observers []func(http.Handler) http.Handler
	if b.meterProvider != nil || b.tracerProvider != nil {
		httpTelemetry, err := telemetry.HTTPMiddleware(b.tracerProvider, b.meterProvider)
		if err != nil {
			return nil, fmt.Errorf("failed to create HTTP telemetry middleware: %w", err)
		}
		observers = append(observers, httpTelemetry)
		slog.Info("HTTP telemetry middleware enabled")
	}
	b.middlewares = append(observers, b.middlewares...)

	router := api.NewServer(svc,
		api.WithMiddlewares(b.middlewares...),
		api.WithMetricsHandler(b.metricsHandler),
	)

	server := &http.Server{
		Addr:         b.address,
		Handler:      router,
		ReadTimeout:  b.readTimeout,
		WriteTimeout: b.writeTimeout,
		IdleTimeout:  b.idleTimeout,
	}

	slog.Info("HTTP server configured", "address", b.address)
	return server, nil
}
